package config

import (
	"errors"
	"testing"
	"time"

	internalconfig "github.com/gPlorovg/sayo-captions/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SAYO_SERVER_ADDRESS", "asr.internal")
	t.Setenv("SAYO_SERVER_PORT", "6000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ServerTarget() != "asr.internal:6000" {
		t.Fatalf("unexpected target %q", cfg.ServerTarget())
	}
	if cfg.PingTimeout != 5600*time.Millisecond {
		t.Fatalf("unexpected ping timeout %v", cfg.PingTimeout)
	}
	if cfg.WarmupBlocks != 5 || cfg.MaxLines != 2 || cfg.MaxCharsPerLine != 60 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !cfg.AutoReconnect {
		t.Fatal("expected auto reconnect by default")
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	t.Setenv("SAYO_SERVER_PORT", "not-a-number")
	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	t.Setenv("MAX_LINES", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoad_EmptyServerDefersToConnect(t *testing.T) {
	t.Setenv("SAYO_SERVER_ADDRESS", "")
	t.Setenv("SAYO_SERVER_PORT", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected load to succeed, got %v", err)
	}
	if err := cfg.ValidateServer(); !errors.Is(err, internalconfig.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig from ValidateServer, got %v", err)
	}
}
