package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RuntimeName != "murmur-runtime" {
		t.Fatalf("expected default runtime name, got %q", cfg.RuntimeName)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.FrameLength != 512 {
		t.Fatalf("unexpected audio defaults: %+v", cfg.Audio)
	}
	if cfg.Audio.InputDevice != -1 {
		t.Fatalf("expected auto input device (-1), got %d", cfg.Audio.InputDevice)
	}
	if cfg.Wake.OverflowWindowSec != 60 || cfg.Wake.OverflowThreshold != 5 {
		t.Fatalf("unexpected overflow defaults: window=%d threshold=%d",
			cfg.Wake.OverflowWindowSec, cfg.Wake.OverflowThreshold)
	}
	if got := cfg.Session.StopPhrases; len(got) != 3 || got[0] != "goodbye" || got[1] != "exit" || got[2] != "stop" {
		t.Fatalf("unexpected default stop phrases: %v", got)
	}
	if !cfg.Session.EndOnStop || cfg.Session.Continuous {
		t.Fatalf("unexpected session defaults: %+v", cfg.Session)
	}
	if cfg.TTS.Voice != "en-US-Wavenet-D" || cfg.TTS.SampleRate != 24000 {
		t.Fatalf("unexpected tts defaults: voice=%q rate=%d", cfg.TTS.Voice, cfg.TTS.SampleRate)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "murmur.yaml")
	body := []byte(`
runtime_name: bench-runtime
audio:
  input_device: 3
  frame_length: 256
wake:
  keywords: [bumblebee]
  sensitivities: [0.7]
session:
  stop_phrases: [goodbye]
  continuous: true
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RuntimeName != "bench-runtime" {
		t.Fatalf("expected runtime name override, got %q", cfg.RuntimeName)
	}
	if cfg.Audio.InputDevice != 3 || cfg.Audio.FrameLength != 256 {
		t.Fatalf("audio overrides not applied: %+v", cfg.Audio)
	}
	if len(cfg.Wake.Keywords) != 1 || cfg.Wake.Keywords[0] != "bumblebee" {
		t.Fatalf("wake keyword override not applied: %v", cfg.Wake.Keywords)
	}
	if !cfg.Session.Continuous {
		t.Fatal("expected continuous session override")
	}
	if cfg.STT.CaptureTimeoutMS != 10000 {
		t.Fatalf("expected untouched sections to keep defaults, got capture timeout %d", cfg.STT.CaptureTimeoutMS)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MURMUR_RUNTIME_NAME", "env-runtime")
	t.Setenv("MURMUR_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("MURMUR_AUDIO_INPUT_DEVICE", "2")
	t.Setenv("MURMUR_WAKE_KEYWORDS", "bumblebee, terminator")
	t.Setenv("MURMUR_SESSION_END_ON_STOP", "false")
	t.Setenv("MURMUR_LLM_TEMPERATURE", "0.2")
	t.Setenv("MURMUR_STT_CAPTURE_TIMEOUT_MS", "4000")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RuntimeName != "env-runtime" {
		t.Fatalf("expected env runtime name, got %q", cfg.RuntimeName)
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Audio.InputDevice != 2 {
		t.Fatalf("expected input device 2, got %d", cfg.Audio.InputDevice)
	}
	if len(cfg.Wake.Keywords) != 2 || cfg.Wake.Keywords[1] != "terminator" {
		t.Fatalf("keyword list override not applied: %v", cfg.Wake.Keywords)
	}
	if cfg.Session.EndOnStop {
		t.Fatal("expected end_on_stop=false from environment")
	}
	if cfg.LLM.Temperature != 0.2 {
		t.Fatalf("expected temperature 0.2, got %v", cfg.LLM.Temperature)
	}
	if cfg.STT.CaptureTimeoutMS != 4000 {
		t.Fatalf("expected capture timeout 4000, got %d", cfg.STT.CaptureTimeoutMS)
	}
}

func TestGoogleAPIKeyFallback(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "shared-key")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.APIKey != "shared-key" || cfg.TTS.APIKey != "shared-key" {
		t.Fatalf("GOOGLE_API_KEY fallback not applied: llm=%q tts=%q", cfg.LLM.APIKey, cfg.TTS.APIKey)
	}

	// A mode-specific key wins over the shared one.
	t.Setenv("MURMUR_TTS_API_KEY", "tts-key")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TTS.APIKey != "tts-key" {
		t.Fatalf("expected MURMUR_TTS_API_KEY to win, got %q", cfg.TTS.APIKey)
	}
	if cfg.LLM.APIKey != "shared-key" {
		t.Fatalf("expected llm key to keep shared fallback, got %q", cfg.LLM.APIKey)
	}
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty runtime name", func(c *Config) { c.RuntimeName = "" }},
		{"bad http port", func(c *Config) { c.HTTP.Port = 0 }},
		{"no servers external bus", func(c *Config) { c.Bus.Embedded = false; c.Bus.Servers = nil }},
		{"zero sample rate", func(c *Config) { c.Audio.SampleRate = 0 }},
		{"invalid input device", func(c *Config) { c.Audio.InputDevice = -2 }},
		{"zero queue capacity", func(c *Config) { c.Audio.QueueCapacity = 0 }},
		{"unknown wake mode", func(c *Config) { c.Wake.Mode = "porcupine" }},
		{"vosk wake without model", func(c *Config) { c.Wake.Mode = "vosk"; c.Wake.ModelPath = "" }},
		{"no wake keywords", func(c *Config) { c.Wake.Keywords = nil }},
		{"sensitivity count mismatch", func(c *Config) {
			c.Wake.Keywords = []string{"a", "b"}
			c.Wake.Sensitivities = []float64{0.5}
		}},
		{"sensitivity out of range", func(c *Config) { c.Wake.Sensitivities = []float64{1.5} }},
		{"zero overflow threshold", func(c *Config) { c.Wake.OverflowThreshold = 0 }},
		{"vosk stt without model", func(c *Config) { c.STT.Mode = "vosk"; c.STT.ModelPath = "" }},
		{"zero capture timeout", func(c *Config) { c.STT.CaptureTimeoutMS = 0 }},
		{"unknown llm mode", func(c *Config) { c.LLM.Mode = "openai" }},
		{"gemini without key", func(c *Config) { c.LLM.Mode = "gemini"; c.LLM.APIKey = "" }},
		{"exec llm without command", func(c *Config) { c.LLM.Mode = "exec"; c.LLM.Command = "" }},
		{"google tts without key", func(c *Config) { c.TTS.Mode = "google"; c.TTS.APIKey = "" }},
		{"zero speaking rate", func(c *Config) { c.TTS.SpeakingRate = 0 }},
		{"no stop phrases", func(c *Config) { c.Session.StopPhrases = nil }},
		{"negative retry pause", func(c *Config) { c.Session.RetryPauseMS = -1 }},
		{"bad retention mode", func(c *Config) { c.EventStore.RetentionMode = "forever" }},
		{"feed enabled without subjects", func(c *Config) { c.Feed.Enabled = true; c.Feed.Subjects = nil }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatalf("expected validation error for %s", tc.name)
			}
		})
	}
}
