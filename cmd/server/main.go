package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"os"

	"github.com/franckalain/nutriscan/internal/config"
	"github.com/franckalain/nutriscan/internal/ml"
	"github.com/franckalain/nutriscan/internal/server"
	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", config.GetConfigPath(), "path to configuration file")
	modelConfigPath := flag.String("model-config", "", "path to the model backend configuration file")
	flag.Parse()

	// Seed the environment from .env when present
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fatal("failed to load configuration", err)
	}

	level := slog.LevelInfo
	if cfg.Server.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	logger.Debug("debug logging enabled")

	if *modelConfigPath == "" {
		*modelConfigPath = cfg.ML.Config
	}

	// Initialize ML service
	model, err := ml.NewModel(cfg.ML.Type, *modelConfigPath)
	if err != nil {
		fatal("failed to create ML model", err)
	}
	defer model.Close()

	if err := model.Load(context.Background()); err != nil {
		fatal("failed to load ML model", err)
	}

	opts := []ml.AnalyzerOption{ml.WithLogger(logger)}
	if timeout := cfg.Timeout(); timeout > 0 {
		opts = append(opts, ml.WithTimeout(timeout))
	}
	analyzer, err := ml.NewAnalyzer(model, opts...)
	if err != nil {
		fatal("failed to create analyzer", err)
	}

	// Initialize and start server
	srv := server.New(analyzer, cfg.MaxUploadBytes(), logger)
	if err := srv.Start(cfg.Server.Port, cfg.Server.StaticDir); err != nil {
		model.Close()
		fatal("server stopped", err)
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
