package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/murmurlabs/murmur-core/internal/audio"
	"github.com/murmurlabs/murmur-core/internal/config"
	"github.com/murmurlabs/murmur-core/internal/runtime"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		showVersion bool
		listDevices bool
		keywords    string
		device      int
		latency     float64
		modelPath   string
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file (optional)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.BoolVar(&listDevices, "list-devices", false, "List audio devices and exit")
	flag.StringVar(&keywords, "keyword", "", "Comma separated wake keywords (overrides config)")
	flag.IntVar(&device, "device", -1, "Input device index (overrides config)")
	flag.Float64Var(&latency, "latency", 0, "Audio latency in seconds (overrides config)")
	flag.StringVar(&modelPath, "model", "", "Speech model path (overrides config)")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	if listDevices {
		if err := audio.Initialize(); err != nil {
			fmt.Fprintln(os.Stderr, "audio init:", err)
			os.Exit(1)
		}
		err := audio.FormatDevices(os.Stdout)
		_ = audio.Terminate()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	// A .env file is optional; real environment variables win.
	_ = godotenv.Load()

	// Explicit flags override both the config file and the environment.
	// They ride the environment override path so validation sees the
	// final values.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "keyword":
			os.Setenv("MURMUR_WAKE_KEYWORDS", keywords)
		case "device":
			os.Setenv("MURMUR_AUDIO_INPUT_DEVICE", strconv.Itoa(device))
		case "latency":
			os.Setenv("MURMUR_AUDIO_LATENCY_MS", strconv.Itoa(int(math.Round(latency*1000))))
		case "model":
			os.Setenv("MURMUR_STT_MODEL_PATH", modelPath)
		}
	})

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if lvl := logLevel(cfg.Telemetry.LogLevel); lvl != slog.LevelInfo {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	}

	rt := runtime.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		time.Sleep(1 * time.Second)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

func logLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
