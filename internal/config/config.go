package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Node        NodeConfig       `yaml:"node"`
	Audio       AudioConfig      `yaml:"audio"`
	Wake        WakeConfig       `yaml:"wake"`
	STT         STTConfig        `yaml:"stt"`
	LLM         LLMConfig        `yaml:"llm"`
	TTS         TTSConfig        `yaml:"tts"`
	Session     SessionConfig    `yaml:"session"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Feed        FeedConfig       `yaml:"feed"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string `yaml:"id"`
	Role              string `yaml:"role"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

// AudioConfig describes the shared input stream and the playback output.
// Device indexes of -1 select the first usable device.
type AudioConfig struct {
	InputDevice   int `yaml:"input_device"`
	OutputDevice  int `yaml:"output_device"`
	SampleRate    int `yaml:"sample_rate"`
	FrameLength   int `yaml:"frame_length"`
	QueueCapacity int `yaml:"queue_capacity"`
	LatencyMS     int `yaml:"latency_ms"`
}

type WakeConfig struct {
	Mode              string    `yaml:"mode"` // mock, vosk
	ModelPath         string    `yaml:"model_path"`
	Keywords          []string  `yaml:"keywords"`
	Sensitivities     []float64 `yaml:"sensitivities"`
	OverflowWindowSec int       `yaml:"overflow_window_secs"`
	OverflowThreshold int       `yaml:"overflow_threshold"`
}

type STTConfig struct {
	Mode             string `yaml:"mode"` // mock, vosk
	ModelPath        string `yaml:"model_path"`
	CaptureTimeoutMS int    `yaml:"capture_timeout_ms"`
	PublishInterim   bool   `yaml:"publish_interim"`
}

type LLMConfig struct {
	Mode         string  `yaml:"mode"` // mock, ollama, gemini, exec
	Endpoint     string  `yaml:"endpoint"`
	APIKey       string  `yaml:"api_key"`
	Command      string  `yaml:"command"`
	Model        string  `yaml:"model"`
	SystemPrompt string  `yaml:"system_prompt"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
	TimeoutMS    int     `yaml:"timeout_ms"`
}

type TTSConfig struct {
	Mode         string  `yaml:"mode"` // mock, google, exec
	APIKey       string  `yaml:"api_key"`
	Command      string  `yaml:"command"`
	LanguageCode string  `yaml:"language_code"`
	Voice        string  `yaml:"voice"`
	SpeakingRate float64 `yaml:"speaking_rate"`
	SampleRate   int     `yaml:"sample_rate"`
	Channels     int     `yaml:"channels"`
}

type SessionConfig struct {
	StopPhrases     []string `yaml:"stop_phrases"`
	EndOnStop       bool     `yaml:"end_on_stop"`
	Continuous      bool     `yaml:"continuous"`
	RetryPauseMS    int      `yaml:"retry_pause_ms"`
	HistoryMaxTurns int      `yaml:"history_max_turns"`
	Farewell        string   `yaml:"farewell"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type FeedConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Subjects []string `yaml:"subjects"`
}

func Default() Config {
	return Config{
		RuntimeName: "murmur-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "murmur-node-1",
			Role:              "runtime",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		Audio: AudioConfig{
			InputDevice:   -1,
			OutputDevice:  -1,
			SampleRate:    16000,
			FrameLength:   512,
			QueueCapacity: 64,
			LatencyMS:     100,
		},
		Wake: WakeConfig{
			Mode:              "mock",
			Keywords:          []string{"murmur"},
			OverflowWindowSec: 60,
			OverflowThreshold: 5,
		},
		STT: STTConfig{
			Mode:             "mock",
			CaptureTimeoutMS: 10000,
			PublishInterim:   true,
		},
		LLM: LLMConfig{
			Mode:         "mock",
			Endpoint:     "http://localhost:11434",
			SystemPrompt: "You are a helpful voice assistant. Answer briefly; your replies are spoken aloud.",
			MaxTokens:    256,
			Temperature:  0.7,
			TimeoutMS:    60000,
		},
		TTS: TTSConfig{
			Mode:         "mock",
			LanguageCode: "en-US",
			Voice:        "en-US-Wavenet-D",
			SpeakingRate: 1.0,
			SampleRate:   24000,
			Channels:     1,
		},
		Session: SessionConfig{
			StopPhrases:     []string{"goodbye", "exit", "stop"},
			EndOnStop:       true,
			Continuous:      false,
			RetryPauseMS:    500,
			HistoryMaxTurns: 64,
			Farewell:        "Goodbye!",
		},
		EventStore: EventStoreConfig{
			Path:          "./data/murmur-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Feed: FeedConfig{
			Enabled:  true,
			Subjects: []string{"session.>", "wake.>", "stt.>", "llm.>", "tts.>"},
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "MURMUR_RUNTIME_NAME")
	overrideString(&cfg.Environment, "MURMUR_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "MURMUR_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "MURMUR_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "MURMUR_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "MURMUR_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "MURMUR_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "MURMUR_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "MURMUR_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "MURMUR_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "MURMUR_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "MURMUR_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "MURMUR_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "MURMUR_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "MURMUR_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "MURMUR_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "MURMUR_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "MURMUR_NODE_ID")
	overrideString(&cfg.Node.Role, "MURMUR_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "MURMUR_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "MURMUR_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideInt(&cfg.Audio.InputDevice, "MURMUR_AUDIO_INPUT_DEVICE")
	overrideInt(&cfg.Audio.OutputDevice, "MURMUR_AUDIO_OUTPUT_DEVICE")
	overrideInt(&cfg.Audio.SampleRate, "MURMUR_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.FrameLength, "MURMUR_AUDIO_FRAME_LENGTH")
	overrideInt(&cfg.Audio.QueueCapacity, "MURMUR_AUDIO_QUEUE_CAPACITY")
	overrideInt(&cfg.Audio.LatencyMS, "MURMUR_AUDIO_LATENCY_MS")
	overrideString(&cfg.Wake.Mode, "MURMUR_WAKE_MODE")
	overrideString(&cfg.Wake.ModelPath, "MURMUR_WAKE_MODEL_PATH")
	overrideStringSlice(&cfg.Wake.Keywords, "MURMUR_WAKE_KEYWORDS")
	overrideInt(&cfg.Wake.OverflowWindowSec, "MURMUR_WAKE_OVERFLOW_WINDOW_SECS")
	overrideInt(&cfg.Wake.OverflowThreshold, "MURMUR_WAKE_OVERFLOW_THRESHOLD")
	overrideString(&cfg.STT.Mode, "MURMUR_STT_MODE")
	overrideString(&cfg.STT.ModelPath, "MURMUR_STT_MODEL_PATH")
	overrideInt(&cfg.STT.CaptureTimeoutMS, "MURMUR_STT_CAPTURE_TIMEOUT_MS")
	overrideBool(&cfg.STT.PublishInterim, "MURMUR_STT_PUBLISH_INTERIM")
	overrideString(&cfg.LLM.Mode, "MURMUR_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "MURMUR_LLM_ENDPOINT")
	overrideString(&cfg.LLM.APIKey, "GOOGLE_API_KEY")
	overrideString(&cfg.LLM.APIKey, "MURMUR_LLM_API_KEY")
	overrideString(&cfg.LLM.Command, "MURMUR_LLM_COMMAND")
	overrideString(&cfg.LLM.Model, "MURMUR_LLM_MODEL")
	overrideString(&cfg.LLM.SystemPrompt, "MURMUR_LLM_SYSTEM_PROMPT")
	overrideInt(&cfg.LLM.MaxTokens, "MURMUR_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "MURMUR_LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.TimeoutMS, "MURMUR_LLM_TIMEOUT_MS")
	overrideString(&cfg.TTS.Mode, "MURMUR_TTS_MODE")
	overrideString(&cfg.TTS.APIKey, "GOOGLE_API_KEY")
	overrideString(&cfg.TTS.APIKey, "MURMUR_TTS_API_KEY")
	overrideString(&cfg.TTS.Command, "MURMUR_TTS_COMMAND")
	overrideString(&cfg.TTS.LanguageCode, "MURMUR_TTS_LANGUAGE_CODE")
	overrideString(&cfg.TTS.Voice, "MURMUR_TTS_VOICE")
	overrideFloat(&cfg.TTS.SpeakingRate, "MURMUR_TTS_SPEAKING_RATE")
	overrideInt(&cfg.TTS.SampleRate, "MURMUR_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "MURMUR_TTS_CHANNELS")
	overrideStringSlice(&cfg.Session.StopPhrases, "MURMUR_SESSION_STOP_PHRASES")
	overrideBool(&cfg.Session.EndOnStop, "MURMUR_SESSION_END_ON_STOP")
	overrideBool(&cfg.Session.Continuous, "MURMUR_SESSION_CONTINUOUS")
	overrideInt(&cfg.Session.RetryPauseMS, "MURMUR_SESSION_RETRY_PAUSE_MS")
	overrideInt(&cfg.Session.HistoryMaxTurns, "MURMUR_SESSION_HISTORY_MAX_TURNS")
	overrideString(&cfg.Session.Farewell, "MURMUR_SESSION_FAREWELL")
	overrideString(&cfg.EventStore.Path, "MURMUR_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "MURMUR_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "MURMUR_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "MURMUR_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "MURMUR_EVENT_STORE_VACUUM_ON_START")
	overrideBool(&cfg.Feed.Enabled, "MURMUR_FEED_ENABLED")
	overrideStringSlice(&cfg.Feed.Subjects, "MURMUR_FEED_SUBJECTS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Node.ID == "" {
		return errors.New("node.id must not be empty")
	}
	if cfg.Node.HeartbeatInterval <= 0 {
		return errors.New("node.heartbeat_interval_ms must be positive")
	}
	if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
		return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
	}
	if cfg.Audio.InputDevice < -1 {
		return errors.New("audio.input_device must be -1 (auto) or a device index")
	}
	if cfg.Audio.OutputDevice < -1 {
		return errors.New("audio.output_device must be -1 (auto) or a device index")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.FrameLength <= 0 {
		return errors.New("audio.frame_length must be positive")
	}
	if cfg.Audio.QueueCapacity <= 0 {
		return errors.New("audio.queue_capacity must be positive")
	}
	if cfg.Audio.LatencyMS < 0 {
		return errors.New("audio.latency_ms must be >= 0")
	}
	switch cfg.Wake.Mode {
	case "mock", "vosk":
	default:
		return errors.New("wake.mode must be one of mock|vosk")
	}
	if cfg.Wake.Mode == "vosk" && cfg.Wake.ModelPath == "" {
		return errors.New("wake.model_path must be set when mode=vosk")
	}
	if len(cfg.Wake.Keywords) == 0 {
		return errors.New("wake.keywords must contain at least one keyword")
	}
	for _, kw := range cfg.Wake.Keywords {
		if strings.TrimSpace(kw) == "" {
			return errors.New("wake.keywords must not contain empty entries")
		}
	}
	if len(cfg.Wake.Sensitivities) > 0 && len(cfg.Wake.Sensitivities) != len(cfg.Wake.Keywords) {
		return errors.New("wake.sensitivities must be empty or match wake.keywords in length")
	}
	for _, s := range cfg.Wake.Sensitivities {
		if s < 0 || s > 1 {
			return errors.New("wake.sensitivities entries must be within [0,1]")
		}
	}
	if cfg.Wake.OverflowWindowSec <= 0 {
		return errors.New("wake.overflow_window_secs must be positive")
	}
	if cfg.Wake.OverflowThreshold <= 0 {
		return errors.New("wake.overflow_threshold must be positive")
	}
	switch cfg.STT.Mode {
	case "mock", "vosk":
	default:
		return errors.New("stt.mode must be one of mock|vosk")
	}
	if cfg.STT.Mode == "vosk" && cfg.STT.ModelPath == "" {
		return errors.New("stt.model_path must be set when mode=vosk")
	}
	if cfg.STT.CaptureTimeoutMS <= 0 {
		return errors.New("stt.capture_timeout_ms must be positive")
	}
	switch cfg.LLM.Mode {
	case "mock", "ollama", "gemini", "exec":
	default:
		return errors.New("llm.mode must be one of mock|ollama|gemini|exec")
	}
	if cfg.LLM.Mode == "ollama" && cfg.LLM.Endpoint == "" {
		return errors.New("llm.endpoint must be set when mode=ollama")
	}
	if cfg.LLM.Mode == "gemini" && cfg.LLM.APIKey == "" {
		return errors.New("llm.api_key must be set when mode=gemini (MURMUR_LLM_API_KEY or GOOGLE_API_KEY)")
	}
	if cfg.LLM.Mode == "exec" && cfg.LLM.Command == "" {
		return errors.New("llm.command must be set when mode=exec")
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}
	if cfg.LLM.TimeoutMS <= 0 {
		return errors.New("llm.timeout_ms must be positive")
	}
	switch cfg.TTS.Mode {
	case "mock", "google", "exec":
	default:
		return errors.New("tts.mode must be one of mock|google|exec")
	}
	if cfg.TTS.Mode == "google" && cfg.TTS.APIKey == "" {
		return errors.New("tts.api_key must be set when mode=google (MURMUR_TTS_API_KEY or GOOGLE_API_KEY)")
	}
	if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
		return errors.New("tts.command must be set when mode=exec")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.Channels <= 0 {
		return errors.New("tts.channels must be positive")
	}
	if cfg.TTS.SpeakingRate <= 0 {
		return errors.New("tts.speaking_rate must be positive")
	}
	if len(cfg.Session.StopPhrases) == 0 {
		return errors.New("session.stop_phrases must contain at least one phrase")
	}
	if cfg.Session.RetryPauseMS < 0 {
		return errors.New("session.retry_pause_ms must be >= 0")
	}
	if cfg.Session.HistoryMaxTurns < 0 {
		return errors.New("session.history_max_turns must be >= 0")
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Feed.Enabled && len(cfg.Feed.Subjects) == 0 {
		return errors.New("feed.subjects must not be empty when the feed is enabled")
	}
	return nil
}
