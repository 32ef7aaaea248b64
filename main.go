package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"recipe_image_bot/databases/sqlite"
	"recipe_image_bot/entities"
	"recipe_image_bot/health_monitor"
	"recipe_image_bot/image_reconciler"
	"recipe_image_bot/imagine_queue"
	"recipe_image_bot/midjourney_api"
	"recipe_image_bot/prompt_filter"
	"recipe_image_bot/repositories/generation_records"
	"recipe_image_bot/repositories/queue_jobs"
	"recipe_image_bot/repositories/recipes"
	"recipe_image_bot/web_api"

	"github.com/joho/godotenv"
)

// Service parameters, each overridable via the matching environment variable.
var (
	listenAddr   = flag.String("listen", envOr("LISTEN_ADDR", ":8080"), "HTTP listen address")
	dbFile       = flag.String("db", envOr("DB_FILE", "recipe_image_bot.sqlite"), "Path to the sqlite database file")
	outputDir    = flag.String("output", envOr("OUTPUT_DIR", "recipe_images"), "Shared renderer output directory")
	userToken    = flag.String("token", os.Getenv("RENDERER_USER_TOKEN"), "Renderer user token")
	guildID      = flag.String("guild", os.Getenv("RENDERER_GUILD_ID"), "Renderer guild ID")
	channelID    = flag.String("channel", os.Getenv("RENDERER_CHANNEL_ID"), "Renderer channel ID")
	renderParams = flag.String("params", envOr("RENDER_PARAMS", "--v 6.0 --style raw"), "Extra renderer parameters appended to every prompt")
)

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return fallback
}

func main() {
	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		log.Printf("Error loading .env file: %v", err)
	}

	flag.Parse()

	if userToken == nil || *userToken == "" {
		log.Fatalf("Renderer user token flag is required")
	}

	if channelID == nil || *channelID == "" {
		log.Fatalf("Renderer channel ID flag is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sqliteDB, err := sqlite.New(ctx, *dbFile)
	if err != nil {
		log.Fatalf("Failed to create sqlite database: %v", err)
	}

	defer sqliteDB.Close()

	generationRepo, err := generation_records.NewRepository(&generation_records.Config{DB: sqliteDB})
	if err != nil {
		log.Fatalf("Failed to create generation record repository: %v", err)
	}

	queueRepo, err := queue_jobs.NewRepository(&queue_jobs.Config{DB: sqliteDB})
	if err != nil {
		log.Fatalf("Failed to create queue job repository: %v", err)
	}

	recipeRepo, err := recipes.NewRepository(&recipes.Config{DB: sqliteDB})
	if err != nil {
		log.Fatalf("Failed to create recipe repository: %v", err)
	}

	promptFilter, err := prompt_filter.New(prompt_filter.Config{})
	if err != nil {
		log.Fatalf("Failed to create prompt filter: %v", err)
	}

	rendererFactory, err := midjourney_api.NewFactory(midjourney_api.FactoryConfig{OutputDir: *outputDir})
	if err != nil {
		log.Fatalf("Failed to create renderer factory: %v", err)
	}

	reconciler, err := image_reconciler.New(image_reconciler.Config{})
	if err != nil {
		log.Fatalf("Failed to create image reconciler: %v", err)
	}

	rendererConfig := entities.RendererConfig{
		UserToken:    *userToken,
		GuildID:      *guildID,
		ChannelID:    *channelID,
		RenderParams: *renderParams,
	}

	queue, err := imagine_queue.New(imagine_queue.Config{
		GenerationRepo:      generationRepo,
		QueueRepo:           queueRepo,
		RecipeRepo:          recipeRepo,
		PromptFilter:        promptFilter,
		RendererFactory:     rendererFactory,
		Reconciler:          reconciler,
		OutputDir:           *outputDir,
		PreDispatchDelayMin: 2 * time.Second,
		PreDispatchDelayMax: 5 * time.Second,
	})
	if err != nil {
		log.Fatalf("Failed to create imagine queue: %v", err)
	}

	monitor, err := health_monitor.New(health_monitor.Config{QueueRepo: queueRepo})
	if err != nil {
		log.Fatalf("Failed to create health monitor: %v", err)
	}

	apiHandler, err := web_api.New(web_api.Config{
		Queue:          queue,
		GenerationRepo: generationRepo,
		HealthMonitor:  monitor,
		RendererConfig: rendererConfig,
	})
	if err != nil {
		log.Fatalf("Failed to create web API: %v", err)
	}

	go queue.StartPolling(ctx)

	srv := &http.Server{
		Addr:    *listenAddr,
		Handler: apiHandler,
	}

	errCh := make(chan error, 1)

	go func() {
		log.Printf("Listening on %s\n", *listenAddr)

		serveErr := srv.ListenAndServe()
		if serveErr != nil && serveErr != http.ErrServerClosed {
			errCh <- serveErr
		}

		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = srv.Shutdown(shutdownCtx)
	if err != nil {
		log.Printf("Error shutting down server: %v", err)
	}

	log.Println("Gracefully shutting down.")
}
