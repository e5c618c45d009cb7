package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

var ErrInvalidConfig = errors.New("invalid configuration")

const (
	BackendSayo        = "sayo"
	BackendCloudSpeech = "cloud_speech"
)

type Config struct {
	Env string

	TranscribeBackend string
	ServerAddress     string
	ServerPort        int

	TargetSampleRate   int
	ChunkDurationMs    int
	WarmupBlocks       int
	SilenceCheckFrames int
	QueueCapacity      int

	PingTimeout         time.Duration
	PingAttempts        int
	PingRetryDelay      time.Duration
	AutoReconnect       bool
	ReconnectMaxRetries int

	MaxLines        int
	MaxCharsPerLine int

	AudioSource         string
	AudioSampleRate     int
	AudioChannels       int
	AudioFramesPerBlock int
	TickInterval        time.Duration

	HTTPAddress string

	DatabaseURL          string
	TranscriptWebhookURL string
	TranscriptTimezone   string

	DiscordToken            string
	DiscordGuildID          string
	DiscordCaptionChannelID string

	GoogleCloudProjectID       string
	GoogleCloudCredentialsJSON string
	GoogleCloudSpeechLocation  string
	GoogleCloudSpeechModel     string
	GoogleCloudSpeechLanguage  string
}

// Validate covers startup settings only; ValidateServer runs on each connect.
func (c *Config) Validate() error {
	if c.TranscribeBackend != BackendSayo && c.TranscribeBackend != BackendCloudSpeech {
		return fmt.Errorf("%w: unknown TRANSCRIBE_BACKEND %q", ErrInvalidConfig, c.TranscribeBackend)
	}
	positives := []positiveField{
		{name: "TARGET_SAMPLE_RATE", value: c.TargetSampleRate},
		{name: "CHUNK_DURATION_MS", value: c.ChunkDurationMs},
		{name: "QUEUE_CAPACITY", value: c.QueueCapacity},
		{name: "PING_ATTEMPTS", value: c.PingAttempts},
		{name: "MAX_LINES", value: c.MaxLines},
		{name: "MAX_CHARS_PER_LINE", value: c.MaxCharsPerLine},
		{name: "AUDIO_SAMPLE_RATE", value: c.AudioSampleRate},
		{name: "AUDIO_CHANNELS", value: c.AudioChannels},
		{name: "AUDIO_FRAMES_PER_BLOCK", value: c.AudioFramesPerBlock},
	}
	for _, f := range positives {
		if f.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, f.name, f.value)
		}
	}
	if c.WarmupBlocks < 0 {
		return fmt.Errorf("%w: WARMUP_BLOCKS must not be negative, got %d", ErrInvalidConfig, c.WarmupBlocks)
	}
	if c.PingTimeout <= 0 {
		return fmt.Errorf("%w: PING_TIMEOUT must be positive", ErrInvalidConfig)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("%w: TICK_INTERVAL must be positive", ErrInvalidConfig)
	}
	if c.TranscriptTimezone != "" {
		if _, err := time.LoadLocation(c.TranscriptTimezone); err != nil {
			return fmt.Errorf("%w: TRANSCRIPT_TIMEZONE is invalid: %w", ErrInvalidConfig, err)
		}
	}
	if c.DiscordToken != "" && c.DiscordGuildID == "" {
		return fmt.Errorf("%w: DISCORD_GUILD_ID is required when DISCORD_TOKEN is set", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) ValidateServer() error {
	switch c.TranscribeBackend {
	case BackendSayo:
		if c.ServerAddress == "" {
			return fmt.Errorf("%w: SAYO_SERVER_ADDRESS is required", ErrInvalidConfig)
		}
		if c.ServerPort <= 0 || c.ServerPort > 65535 {
			return fmt.Errorf("%w: SAYO_SERVER_PORT must be in 1..65535, got %d", ErrInvalidConfig, c.ServerPort)
		}
	case BackendCloudSpeech:
		for _, req := range c.cloudSpeechFieldChecks() {
			if req.value == "" {
				return fmt.Errorf("%w: %s is required", ErrInvalidConfig, req.name)
			}
		}
	default:
		return fmt.Errorf("%w: unknown TRANSCRIBE_BACKEND %q", ErrInvalidConfig, c.TranscribeBackend)
	}
	return nil
}

func (c *Config) ServerTarget() string {
	return net.JoinHostPort(c.ServerAddress, strconv.Itoa(c.ServerPort))
}

func (c *Config) ChunkSize() int {
	return c.TargetSampleRate / 1000 * c.ChunkDurationMs * 4
}

type positiveField struct {
	name  string
	value int
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) cloudSpeechFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "GOOGLE_CLOUD_PROJECT_ID", value: c.GoogleCloudProjectID},
		{name: "GOOGLE_CLOUD_CREDENTIALS_JSON", value: c.GoogleCloudCredentialsJSON},
		{name: "GOOGLE_CLOUD_SPEECH_LANGUAGE", value: c.GoogleCloudSpeechLanguage},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) Location() *time.Location {
	if c.TranscriptTimezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.TranscriptTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
