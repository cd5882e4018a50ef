package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prappser/splatfetch/internal"
	"github.com/prappser/splatfetch/internal/assets"
	"github.com/prappser/splatfetch/internal/cache"
	"github.com/prappser/splatfetch/internal/downloader"
	"github.com/prappser/splatfetch/internal/health"
	"github.com/prappser/splatfetch/internal/prune"
	"github.com/prappser/splatfetch/internal/remote"
	"github.com/prappser/splatfetch/internal/session"
	"github.com/prappser/splatfetch/internal/status"
	"github.com/prappser/splatfetch/internal/viewer"
	"github.com/prappser/splatfetch/internal/websocket"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/valyala/fasthttp"
)

const version = "0.3.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

// run wires the pipeline and returns the process exit code. Deferred
// cleanup has finished by the time it returns.
func run(args []string) int {
	flags := pflag.NewFlagSet("splatfetch", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to config file (default files/config.yaml)")
	stdinPicker := flags.Bool("stdin-picker", false, "read image paths for /import/dialog from stdin")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		log.Error().Err(err).Msg("Error loading config")
		return 1
	}
	logCloser := internal.SetupLogger(config.Log)
	defer logCloser.Close()

	fs := afero.NewOsFs()

	plyCache, err := cache.New(fs, config.Cache)
	if err != nil {
		log.Error().Err(err).Msg("Error initializing cache")
		return 1
	}
	stats := plyCache.Stats()
	log.Info().
		Str("dir", plyCache.Dir()).
		Int("files", stats.FileCount).
		Float64("sizeMB", stats.TotalSizeMB()).
		Msg("Cache ready")

	cleanup := cache.NewCleanupScheduler(plyCache, config.Cache.SweepInterval)
	cleanup.RunNow()

	client := remote.NewClient(config.Server)
	fetcher := downloader.New(client, config.Download)
	sess := session.New(fs, client, fetcher, prune.New(config.Prune), config.Session)
	stager := assets.NewStager(fs, config.Assets)

	hub := websocket.NewHub()
	go hub.Run()

	controller := viewer.NewController(fs, sess, plyCache, stager, viewer.LogRenderer{}, hub)

	log.Info().
		Str("server", client.BaseURL()).
		Bool("pruning", config.Prune.Enabled()).
		Int("maxInFlight", config.Download.MaxInFlight).
		Msg("Pipeline configured")

	if rest := flags.Args(); len(rest) > 0 {
		defer hub.Stop()
		return importOnce(controller, sess, rest[0], config.TickInterval)
	}

	cleanup.Start()
	defer cleanup.Stop()

	var picker viewer.Picker
	if *stdinPicker {
		picker = viewer.NewReaderPicker(os.Stdin)
	}

	requestHandler := internal.NewRequestHandler(
		config,
		health.NewEndpoints(version, sess, plyCache, client.BaseURL()),
		status.NewEndpoints(sess),
		viewer.NewEndpoints(controller, picker),
		cache.NewEndpoints(plyCache),
		websocket.NewHandler(hub, sess),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go tickLoop(ctx, controller, config.TickInterval)

	server := &fasthttp.Server{
		Handler: requestHandler,
		Name:    "splatfetch",
	}
	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down")
		_ = server.Shutdown()
	}()

	log.Info().Str("listen", config.Listen).Msg("Control surface listening")
	if err := server.ListenAndServe(config.Listen); err != nil {
		log.Error().Err(err).Msg("Error starting server")
		return 1
	}
	sess.Wait()
	return 0
}

func tickLoop(ctx context.Context, controller *viewer.Controller, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			controller.Tick()
		case <-ctx.Done():
			return
		}
	}
}

// importOnce runs a single import to completion and returns the exit code.
func importOnce(controller *viewer.Controller, sess *session.Session, path string, interval time.Duration) int {
	outcome, err := controller.Import(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Import failed")
		return 1
	}
	if outcome == viewer.OutcomeCacheHit {
		return 0
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		current := sess.Status()
		controller.Tick()
		switch st := current.(type) {
		case status.Completed:
			return 0
		case status.Failed:
			log.Error().Str("reason", st.Message).Msg("Import failed")
			return 1
		}
	}
	return 1
}
