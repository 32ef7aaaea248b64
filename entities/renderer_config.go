package entities

// RendererConfig is captured at enqueue time and stored with the job, so
// settings edits never retroactively change already-queued jobs.
type RendererConfig struct {
	UserToken    string `json:"user_token"`
	GuildID      string `json:"guild_id"`
	ChannelID    string `json:"channel_id"`
	RenderParams string `json:"render_params"`
}

func (c RendererConfig) Enabled() bool {
	return c.UserToken != "" && c.ChannelID != ""
}
