package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	cli "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/trafficwatch/sos-assistant/backend/internal/config"
	"github.com/trafficwatch/sos-assistant/backend/internal/handler"
	middlewarePkg "github.com/trafficwatch/sos-assistant/backend/internal/middleware"
	speechModel "github.com/trafficwatch/sos-assistant/backend/internal/model/speech"
	"github.com/trafficwatch/sos-assistant/backend/internal/ratelimit"
	"github.com/trafficwatch/sos-assistant/backend/internal/service/ai"
	"github.com/trafficwatch/sos-assistant/backend/internal/service/assistant"
	"github.com/trafficwatch/sos-assistant/backend/internal/service/sos"
	"github.com/trafficwatch/sos-assistant/backend/internal/service/speech"
)

var logLevelMap = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	logLevel := cli.StringP("log", "l", "", "Log level (overrides LOG_LEVEL)")
	cli.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envErr := godotenv.Load(*envFile)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = strings.ToLower(*logLevel)
	}
	setupLogger(cfg.Log)

	if envErr != nil {
		slog.Warn("env file not loaded, continuing with system environment variables only", "path", *envFile, "error", envErr)
	}

	// Initialize language model backend
	var backend ai.Backend
	if cfg.AI.Enabled() {
		backend, err = ai.NewBackend(ctx, cfg.AI)
		if err != nil {
			slog.Warn("failed to initialize language model backend, continuing without chat", "provider", cfg.AI.Provider, "error", err)
			backend = nil
		} else {
			slog.Info("language model backend initialized", "provider", cfg.AI.Provider)
		}
	} else {
		slog.Info("no language model configured, chat replies disabled")
	}

	// Initialize speech service
	var speechService *speech.Service
	if cfg.Speech.Enabled {
		speechService = speech.NewService(&speechModel.SpeechConfig{
			APIKey:    cfg.Speech.APIKey,
			BaseURL:   cfg.Speech.BaseURL,
			STTModel:  cfg.Speech.STTModel,
			TTSModel:  cfg.Speech.TTSModel,
			TTSVoice:  cfg.Speech.TTSVoice,
			TTSFormat: cfg.Speech.TTSFormat,
			Rate:      cfg.Speech.Rate,
			Pitch:     cfg.Speech.Pitch,
			Volume:    cfg.Speech.Volume,
			Timeout:   cfg.Speech.Timeout,
		})
		slog.Info("speech service initialized", "stt", cfg.Speech.STTModel, "tts", cfg.Speech.TTSModel)
	} else {
		slog.Info("speech credentials not configured, recognition and synthesis disabled")
	}

	registryCfg := assistant.RegistryConfig{
		Backend: backend,
		Chat:    cfg.Chat,
		SOS:     cfg.SOS,
	}
	if speechService != nil {
		registryCfg.Transcriber = speechService
		registryCfg.Voice = speechService
	}
	if cfg.SOS.StorageDir != "" {
		store, err := sos.NewLocalStore(cfg.SOS.StorageDir)
		if err != nil {
			slog.Error("failed to prepare sos storage", "dir", cfg.SOS.StorageDir, "error", err)
			os.Exit(1)
		}
		registryCfg.Store = store
		slog.Info("sos artifacts mirrored to disk", "dir", cfg.SOS.StorageDir)
	}
	registry := assistant.NewRegistry(registryCfg)
	defer registry.CloseAll()

	var limiter middlewarePkg.Limiter
	if cfg.RateLimit.Enabled() {
		// Emergency chat must stay reachable while Redis is down.
		fixedWindow, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RateLimit.RedisAddr, cfg.RateLimit.RedisPassword, cfg.RateLimit.Prefix, cfg.RateLimit.Limit, cfg.RateLimit.Window, ratelimit.WithFailOpen())
		if err != nil {
			slog.Error("failed to create rate limiter", "error", err)
			os.Exit(1)
		}
		defer fixedWindow.Close()
		if err := fixedWindow.Ping(ctx); err != nil {
			slog.Warn("redis unreachable, chat requests are not rate limited until it recovers", "addr", cfg.RateLimit.RedisAddr, "error", err)
		}
		limiter = fixedWindow
		slog.Info("chat rate limit enabled", "limit", cfg.RateLimit.Limit, "window", cfg.RateLimit.Window)
	}

	router := handler.NewRouter(backend, registry, speechService, limiter)

	if err := run(ctx, cfg, router, registry); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	level, ok := logLevelMap[cfg.Level]
	if !ok {
		level = slog.LevelInfo
	}

	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		h = tint.NewHandler(os.Stdout, &tint.Options{Level: level, TimeFormat: time.DateTime})
	}
	slog.SetDefault(slog.New(h))
}

func run(ctx context.Context, cfg *config.Config, router http.Handler, registry *assistant.Registry) error {
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("sos assistant backend listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return registry.RunReaper(gctx, cfg.Chat.ReapInterval, cfg.Chat.SessionIdleTTL)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
