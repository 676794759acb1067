package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"ChatStream/internal/chatbot"
	"ChatStream/internal/config"
	"ChatStream/internal/search"
	"ChatStream/internal/server"
	"ChatStream/internal/storage"
	"ChatStream/internal/store"
	"ChatStream/internal/stream"
	"ChatStream/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		mode        string
		addr        string
		debug       bool
		backend     string
		storagePath string
		split       string
	)

	flag.StringVar(&configPath, "config", "", "Path to a TOML config file")
	flag.StringVar(&mode, "mode", "", "Run mode (repl|serve)")
	flag.StringVar(&addr, "addr", "", "Listen address in serve mode")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.StringVar(&backend, "storage", "", "Storage backend (sqlite|file|memory)")
	flag.StringVar(&storagePath, "storage-path", "", "Database file or directory for the storage backend")
	flag.StringVar(&split, "split", "", "Reveal unit (runes|words)")
	flag.Parse()

	// .env is optional
	envErr := godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Flags win over file and environment
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Mode = mode
		case "addr":
			cfg.Server.Addr = addr
		case "debug":
			cfg.Debug = debug
		case "storage":
			cfg.Storage.Backend = backend
		case "storage-path":
			cfg.Storage.Location = storagePath
		case "split":
			cfg.Stream.Split = split
		}
	})

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, closeLog, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer closeLog()

	if envErr != nil {
		logger.Debug("No .env file found")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, meter := telemetry.Noop()
	if cfg.Telemetry {
		t, m, cleanup, err := telemetry.InitTelemetry(ctx, cfg.LogDir)
		if err != nil {
			logger.Warn("telemetry disabled", "error", err)
		} else {
			defer cleanup()
			tracer, meter = t, m
		}
	}

	scope, err := storage.Open(cfg.Storage.Backend, cfg.Storage.Location)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer scope.Close()

	st := store.New(
		storage.NewAdapter(scope, cfg.Storage.Key, logger),
		store.WithLogger(logger),
		store.WithTracer(tracer),
		store.WithMeter(meter),
	)
	defer st.Close()
	st.Load(ctx)

	splitter, _ := stream.SplitterByName(cfg.Stream.Split)
	sim := stream.New(
		stream.WithPacing(stream.Timed(cfg.Stream.InitialDelay, cfg.Stream.StepDelay)),
		stream.WithSplitter(splitter),
		stream.WithLogger(logger),
		stream.WithTracer(tracer),
		stream.WithMeter(meter),
	)

	svc := search.NewService(search.NewDirectory(cfg.Search.People), cfg.Search.PeopleTTL, cfg.Search.SuggestionsTTL, logger)

	cb := chatbot.NewChatBot(st, sim, svc, logger)
	defer cb.Close()

	logger.Info("chatstream starting",
		"mode", cfg.Mode,
		"storage", cfg.Storage.Backend,
		"sessions", len(st.Sessions()),
	)

	switch cfg.Mode {
	case config.ModeServe:
		srv := server.New(ctx, cb, cfg.Server.AllowedOrigins, logger)
		defer srv.Close()
		fmt.Fprintf(os.Stderr, "Listening on %s\n", cfg.Server.Addr)
		return srv.Run(ctx, cfg.Server.Addr)
	default:
		err := chatbot.NewREPL(cb, os.Stdin, os.Stdout).Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}
