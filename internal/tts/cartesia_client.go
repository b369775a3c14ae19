package tts

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const cartesiaAPIURL = "https://api.cartesia.ai"

// cartesiaVersion pins the API revision the request shape follows
const cartesiaVersion = "2024-06-10"

// CartesiaConfig configures the Cartesia client
type CartesiaConfig struct {
	APIKey  string
	VoiceID string
	ModelID string
	BaseURL string
	Timeout time.Duration
}

// CartesiaClient synthesizes speech with Cartesia's bytes endpoint
type CartesiaClient struct {
	config CartesiaConfig
	http   *resty.Client
	logger zerolog.Logger
}

// CartesiaRequest represents the request payload for Cartesia TTS API
type CartesiaRequest struct {
	ModelID      string         `json:"model_id"`
	Transcript   string         `json:"transcript"`
	Voice        CartesiaVoice  `json:"voice"`
	OutputFormat CartesiaFormat `json:"output_format"`
}

// CartesiaVoice selects the voice by id
type CartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

// CartesiaFormat describes the encoded audio returned to the client
type CartesiaFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// NewCartesiaClient creates a new Cartesia TTS client
func NewCartesiaClient(cfg CartesiaConfig, logger zerolog.Logger) *CartesiaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = cartesiaAPIURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("X-API-Key", cfg.APIKey).
		SetHeader("Cartesia-Version", cartesiaVersion)

	return &CartesiaClient{
		config: cfg,
		http:   client,
		logger: logger.With().Str("component", "cartesia").Logger(),
	}
}

// Synthesize returns a WAV clip of text
func (c *CartesiaClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(CartesiaRequest{
			ModelID:    c.config.ModelID,
			Transcript: text,
			Voice:      CartesiaVoice{Mode: "id", ID: c.config.VoiceID},
			OutputFormat: CartesiaFormat{
				Container:  "wav",
				Encoding:   "pcm_s16le",
				SampleRate: 24000,
			},
		}).
		Post("/tts/bytes")
	if err != nil {
		return nil, fmt.Errorf("failed to call Cartesia: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("cartesia API returned status %d", resp.StatusCode())
	}

	data := resp.Body()
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}

	c.logger.Debug().
		Int("bytes", len(data)).
		Dur("latency", time.Since(start)).
		Msg("Synthesized question audio")
	return data, nil
}

// Ping checks that the API key is accepted
func (c *CartesiaClient) Ping(ctx context.Context) (bool, error) {
	resp, err := c.http.R().SetContext(ctx).Get("/voices")
	if err != nil {
		return false, err
	}
	return !resp.IsError(), nil
}
