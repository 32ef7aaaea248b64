package midjourney_api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"recipe_image_bot/entities"

	"github.com/bwmarrin/discordgo"
)

// Midjourney's bot user ID, the author of every completion message.
const midjourneyBotUserID = "936929561302675456"

const (
	imagineCommandPrefix = "/imagine prompt: "
	responseTimeout      = 10 * time.Minute
)

type clientImpl struct {
	config     entities.RendererConfig
	outputDir  string
	session    *discordgo.Session
	httpClient *http.Client
}

type Config struct {
	RendererConfig entities.RendererConfig
	OutputDir      string
}

func NewClient(cfg Config) (Client, error) {
	if !cfg.RendererConfig.Enabled() {
		return nil, errors.New("missing user token or channel ID")
	}

	if cfg.OutputDir == "" {
		return nil, errors.New("missing output directory")
	}

	return &clientImpl{
		config:     cfg.RendererConfig,
		outputDir:  cfg.OutputDir,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

func (c *clientImpl) Initialize() error {
	if c.session != nil {
		return nil
	}

	session, err := discordgo.New(c.config.UserToken)
	if err != nil {
		return err
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages

	err = session.Open()
	if err != nil {
		return err
	}

	c.session = session

	return nil
}

func (c *clientImpl) Close() error {
	if c.session == nil {
		return nil
	}

	err := c.session.Close()
	c.session = nil

	return err
}

// CreateImage sends the imagine command and waits for the completion message
// carrying the grid attachment. The attachment is downloaded into the shared
// output directory; when the download fails the remote URL is returned and
// resolution falls to the filesystem reconciler.
func (c *clientImpl) CreateImage(ctx context.Context, prompt string, params string, upscaleIndex *int) (*ImageResult, error) {
	if upscaleIndex != nil {
		return nil, errors.New("upscale selection is not supported on this channel")
	}

	err := c.Initialize()
	if err != nil {
		return nil, err
	}

	resultCh := make(chan *discordgo.Message, 1)

	promptKey := completionKey(prompt)

	removeHandler := c.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.ChannelID != c.config.ChannelID || m.Author == nil || m.Author.ID != midjourneyBotUserID {
			return
		}

		if len(m.Attachments) == 0 || !strings.Contains(m.Content, promptKey) {
			return
		}

		select {
		case resultCh <- m.Message:
		default:
		}
	})
	defer removeHandler()

	content := imagineCommandPrefix + prompt
	if params != "" {
		content += " " + params
	}

	_, err = c.session.ChannelMessageSend(c.config.ChannelID, content)
	if err != nil {
		return nil, fmt.Errorf("sending imagine command: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(responseTimeout):
		return nil, errors.New("timed out waiting for renderer response")
	case message := <-resultCh:
		return c.resultFromMessage(message)
	}
}

func (c *clientImpl) resultFromMessage(message *discordgo.Message) (*ImageResult, error) {
	attachment := message.Attachments[0]

	localPath, err := c.downloadAttachment(attachment.URL)
	if err != nil {
		log.Printf("Error downloading grid attachment, returning remote URL: %v", err)

		return &ImageResult{
			Kind:      ResultKindGrid,
			GridInfo:  &GridInfo{GridURL: attachment.URL},
			MessageID: message.ID,
		}, nil
	}

	return &ImageResult{
		Kind:             ResultKindUpscaledPhoto,
		UpscaledPhotoURL: localPath,
		MessageID:        message.ID,
	}, nil
}

func (c *clientImpl) downloadAttachment(url string) (string, error) {
	resp, err := c.httpClient.Get(url)
	if err != nil {
		return "", err
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d fetching attachment", resp.StatusCode)
	}

	err = os.MkdirAll(c.outputDir, 0o755)
	if err != nil {
		return "", err
	}

	filename := fmt.Sprintf("grid_%d%s", time.Now().UnixMilli(), attachmentExtension(url))
	outputPath := filepath.Join(c.outputDir, filename)

	file, err := os.Create(outputPath)
	if err != nil {
		return "", err
	}

	_, err = io.Copy(file, resp.Body)

	closeErr := file.Close()

	if err != nil {
		return "", err
	}

	if closeErr != nil {
		return "", closeErr
	}

	return outputPath, nil
}

func attachmentExtension(url string) string {
	if idx := strings.Index(url, "?"); idx >= 0 {
		url = url[:idx]
	}

	ext := filepath.Ext(url)
	if ext == "" {
		return ".png"
	}

	return ext
}

// completionKey is the prompt fragment Midjourney echoes back in its
// completion message, used to pair responses with requests.
func completionKey(prompt string) string {
	prompt = strings.TrimSpace(prompt)

	const keyLength = 48

	if len(prompt) <= keyLength {
		return prompt
	}

	return prompt[:keyLength]
}
