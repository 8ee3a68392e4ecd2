package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/kaustavdm/audio-transcript-webrtc/internal/adapters/http"
	signalws "github.com/kaustavdm/audio-transcript-webrtc/internal/adapters/signal"
	"github.com/kaustavdm/audio-transcript-webrtc/internal/app"
	"github.com/kaustavdm/audio-transcript-webrtc/internal/config"
	"github.com/kaustavdm/audio-transcript-webrtc/internal/media"
	"github.com/kaustavdm/audio-transcript-webrtc/internal/pipeline"
	"github.com/kaustavdm/audio-transcript-webrtc/internal/recognize"
	"github.com/kaustavdm/audio-transcript-webrtc/internal/transcode"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	engine, err := media.NewEngine(cfg.STUNServers, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build media engine")
	}

	recognizer, err := recognize.NewGoogle(ctx, recognize.Config{
		SampleRate:     cfg.SampleRate,
		Language:       cfg.Language,
		InterimResults: cfg.InterimResults,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create speech client")
	}
	defer recognizer.Close()

	transcoder := transcode.NewOpener(transcode.Config{
		Path:       cfg.FFmpegPath,
		SampleRate: cfg.SampleRate,
	})

	reg := app.NewRegistry()
	orch := &app.Orchestrator{
		Registry: reg,
		Engine:   engine,
		Streams:  recognizer,
		Transcoder: func(ctx context.Context) (pipeline.Transcoder, error) {
			return transcoder.Open(ctx)
		},
		Broadcaster: app.NewBroadcaster(reg),
		PipelineCfg: pipeline.Config{RotationInterval: cfg.RotationInterval},
	}

	monitor := app.NewMonitor(reg, cfg.PingInterval)
	go monitor.Run(ctx)

	ctrl := signalws.NewController(orch, cfg)
	r := router.SetupRouter(ctx, cfg, ctrl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("conference server started")
		var err error
		if cfg.SSLCert != "" && cfg.SSLKey != "" {
			err = srv.ListenAndServeTLS(cfg.SSLCert, cfg.SSLKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
