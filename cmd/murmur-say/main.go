package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/murmurlabs/murmur-core/internal/audio"
	"github.com/murmurlabs/murmur-core/internal/config"
	"github.com/murmurlabs/murmur-core/internal/tts"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		outPath     string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file (optional)")
	flag.StringVar(&outPath, "out", "", "Write a WAV file instead of playing")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	text := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if text == "" {
		fmt.Fprintln(os.Stderr, "usage: murmur-say [flags] <text to speak>")
		os.Exit(2)
	}

	_ = godotenv.Load()

	if err := run(configPath, outPath, text); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, outPath, text string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	synth, err := tts.New(cfg.TTS)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pcm, err := synth.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}

	if outPath != "" {
		if err := audio.WriteWAVFile(outPath, pcm, cfg.TTS.SampleRate, cfg.TTS.Channels); err != nil {
			return err
		}
		fmt.Printf("wrote %s (%d samples)\n", outPath, len(pcm))
		return nil
	}

	if err := audio.Initialize(); err != nil {
		return err
	}
	defer audio.Terminate()

	player, err := audio.OpenPlayer(
		cfg.Audio.OutputDevice,
		cfg.TTS.SampleRate,
		cfg.TTS.Channels,
		cfg.Audio.FrameLength,
		time.Duration(cfg.Audio.LatencyMS)*time.Millisecond,
	)
	if err != nil {
		return err
	}
	defer player.Close()

	if err := player.Play(pcm); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}
