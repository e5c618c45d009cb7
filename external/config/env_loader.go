package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/gPlorovg/sayo-captions/internal/config"
)

type envConfig struct {
	Env                        string        `env:"ENV" envDefault:"production"`
	TranscribeBackend          string        `env:"TRANSCRIBE_BACKEND" envDefault:"sayo"`
	ServerAddress              string        `env:"SAYO_SERVER_ADDRESS" envDefault:"localhost"`
	ServerPort                 int           `env:"SAYO_SERVER_PORT" envDefault:"50051"`
	TargetSampleRate           int           `env:"TARGET_SAMPLE_RATE" envDefault:"16000"`
	ChunkDurationMs            int           `env:"CHUNK_DURATION_MS" envDefault:"100"`
	WarmupBlocks               int           `env:"WARMUP_BLOCKS" envDefault:"5"`
	SilenceCheckFrames         int           `env:"SILENCE_CHECK_FRAMES" envDefault:"1024"`
	QueueCapacity              int           `env:"QUEUE_CAPACITY" envDefault:"600"`
	PingTimeout                time.Duration `env:"PING_TIMEOUT" envDefault:"5600ms"`
	PingAttempts               int           `env:"PING_ATTEMPTS" envDefault:"3"`
	PingRetryDelay             time.Duration `env:"PING_RETRY_DELAY" envDefault:"5s"`
	AutoReconnect              bool          `env:"AUTO_RECONNECT" envDefault:"true"`
	ReconnectMaxRetries        int           `env:"RECONNECT_MAX_RETRIES" envDefault:"5"`
	MaxLines                   int           `env:"MAX_LINES" envDefault:"2"`
	MaxCharsPerLine            int           `env:"MAX_CHARS_PER_LINE" envDefault:"60"`
	AudioSource                string        `env:"AUDIO_SOURCE" envDefault:"-"`
	AudioSampleRate            int           `env:"AUDIO_SAMPLE_RATE" envDefault:"48000"`
	AudioChannels              int           `env:"AUDIO_CHANNELS" envDefault:"2"`
	AudioFramesPerBlock        int           `env:"AUDIO_FRAMES_PER_BLOCK" envDefault:"1024"`
	TickInterval               time.Duration `env:"TICK_INTERVAL" envDefault:"33ms"`
	HTTPAddress                string        `env:"HTTP_ADDRESS" envDefault:":8080"`
	DatabaseURL                string        `env:"DATABASE_URL"`
	TranscriptWebhookURL       string        `env:"TRANSCRIPT_WEBHOOK_URL"`
	TranscriptTimezone         string        `env:"TRANSCRIPT_TIMEZONE" envDefault:"UTC"`
	DiscordToken               string        `env:"DISCORD_TOKEN"`
	DiscordGuildID             string        `env:"DISCORD_GUILD_ID"`
	DiscordCaptionChannelID    string        `env:"DISCORD_CAPTION_CHANNEL_ID"`
	GoogleCloudProjectID       string        `env:"GOOGLE_CLOUD_PROJECT_ID"`
	GoogleCloudCredentialsJSON string        `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	GoogleCloudSpeechLocation  string        `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"global"`
	GoogleCloudSpeechModel     string        `env:"GOOGLE_CLOUD_SPEECH_MODEL" envDefault:"latest_short"`
	GoogleCloudSpeechLanguage  string        `env:"GOOGLE_CLOUD_SPEECH_LANGUAGE" envDefault:"en-US"`
}

func Load() (*internalconfig.Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                        raw.Env,
		TranscribeBackend:          raw.TranscribeBackend,
		ServerAddress:              raw.ServerAddress,
		ServerPort:                 raw.ServerPort,
		TargetSampleRate:           raw.TargetSampleRate,
		ChunkDurationMs:            raw.ChunkDurationMs,
		WarmupBlocks:               raw.WarmupBlocks,
		SilenceCheckFrames:         raw.SilenceCheckFrames,
		QueueCapacity:              raw.QueueCapacity,
		PingTimeout:                raw.PingTimeout,
		PingAttempts:               raw.PingAttempts,
		PingRetryDelay:             raw.PingRetryDelay,
		AutoReconnect:              raw.AutoReconnect,
		ReconnectMaxRetries:        raw.ReconnectMaxRetries,
		MaxLines:                   raw.MaxLines,
		MaxCharsPerLine:            raw.MaxCharsPerLine,
		AudioSource:                raw.AudioSource,
		AudioSampleRate:            raw.AudioSampleRate,
		AudioChannels:              raw.AudioChannels,
		AudioFramesPerBlock:        raw.AudioFramesPerBlock,
		TickInterval:               raw.TickInterval,
		HTTPAddress:                raw.HTTPAddress,
		DatabaseURL:                raw.DatabaseURL,
		TranscriptWebhookURL:       raw.TranscriptWebhookURL,
		TranscriptTimezone:         raw.TranscriptTimezone,
		DiscordToken:               raw.DiscordToken,
		DiscordGuildID:             raw.DiscordGuildID,
		DiscordCaptionChannelID:    raw.DiscordCaptionChannelID,
		GoogleCloudProjectID:       raw.GoogleCloudProjectID,
		GoogleCloudCredentialsJSON: raw.GoogleCloudCredentialsJSON,
		GoogleCloudSpeechLocation:  raw.GoogleCloudSpeechLocation,
		GoogleCloudSpeechModel:     raw.GoogleCloudSpeechModel,
		GoogleCloudSpeechLanguage:  raw.GoogleCloudSpeechLanguage,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
