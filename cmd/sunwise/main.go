package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"

	"github.com/sunwise/sunwise/pkg/energy"
	"github.com/sunwise/sunwise/pkg/forecast"
	"github.com/sunwise/sunwise/pkg/integration"
	"github.com/sunwise/sunwise/pkg/log"
	"github.com/sunwise/sunwise/pkg/notify"
	"github.com/sunwise/sunwise/pkg/server"
	"github.com/sunwise/sunwise/pkg/sizing"
	"github.com/sunwise/sunwise/pkg/solar"
	"github.com/sunwise/sunwise/pkg/storage"
	"github.com/sunwise/sunwise/pkg/telemetry"
)

func main() {
	// a local .env can provide PORT, FIRESTORE_EMULATOR_HOST and friends
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(fmt.Errorf("failed to load .env: %w", err))
	}

	// init packages
	solarCfg := solar.Configured()
	fc := forecast.Configured()
	tel := telemetry.Configured(solarCfg)
	s := storage.Configured()
	reg := integration.Configured(s, tel)
	engine := energy.Configured(solarCfg, reg, tel, fc)
	sizer := sizing.Configured(solarCfg)
	pub := notify.Configured()

	// init server
	srv := server.Configured(engine, sizer, reg, s, pub)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}
	log.SetDefaultLogLevel(level)
	slog.SetDefault(log.Ctx(context.Background()))
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer func() {
		if err := pub.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close quote publisher", slog.Any("error", err))
		}
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()

	// Run blocks until the context is canceled or the server fails
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
