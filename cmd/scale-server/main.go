package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/scale-server/scale-server-pro/internal/acquisition"
	"github.com/scale-server/scale-server-pro/internal/api"
	"github.com/scale-server/scale-server-pro/internal/config"
	"github.com/scale-server/scale-server-pro/internal/integration"
	"github.com/scale-server/scale-server-pro/internal/models"
	"github.com/scale-server/scale-server-pro/internal/station"
	"github.com/scale-server/scale-server-pro/internal/storage"
	"github.com/scale-server/scale-server-pro/internal/transport"
	"github.com/scale-server/scale-server-pro/pkg/crypto"
)

func main() {
	// Command line flags
	var (
		configFile   string
		validateOnly bool
		showConfig   bool
		hashPassword string
		autoConnect  bool
	)
	flag.StringVar(&configFile, "config", "config/scale-server.yml", "Configuration file path")
	flag.BoolVar(&validateOnly, "validate", false, "Validate configuration and exit")
	flag.BoolVar(&showConfig, "show-config", false, "Print configuration summary and exit")
	flag.StringVar(&hashPassword, "hash-password", "", "Print a bcrypt hash for the given password and exit")
	flag.BoolVar(&autoConnect, "connect", true, "Connect to the base station at startup")
	flag.Parse()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if hashPassword != "" {
		hash, err := crypto.HashPassword(hashPassword)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to hash password")
		}
		fmt.Println(hash)
		return
	}

	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if validateOnly {
		fmt.Println("configuration OK")
		return
	}
	if showConfig {
		cfg.PrintConfigSummary()
		return
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Log.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	// Connect to database (optional; events are dropped without one)
	var store storage.Store
	if cfg.Database.DSN != "" {
		pgStore, err := storage.NewPostgresStore(cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		store = pgStore
		log.Info().Msg("Connected to database")
	} else {
		store = storage.NewNopStore()
		log.Info().Msg("No database configured, events will not be persisted")
	}
	defer store.Close()

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional: connect to NATS
	var pub acquisition.Publisher
	var natsPub *integration.NATSPublisher
	if cfg.NATS.URL != "" {
		natsPub, err = integration.NewNATSPublisher(cfg.NATS)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without publication")
		} else {
			defer natsPub.Close()
			pub = natsPub
		}
	} else {
		log.Info().Msg("NATS not configured, running in standalone mode")
	}

	// Base-station transport and acquisition pipeline
	tr, err := transport.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create transport")
	}
	mgr := station.NewManager(cfg, tr)
	loop := acquisition.New(cfg, mgr, store, pub)

	// WaitGroup for services
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		loop.Run(ctx)
	}()

	if autoConnect {
		if err := loop.Send(models.Command{Type: models.CommandConnect}); err != nil {
			log.Error().Err(err).Msg("Failed to queue initial connect")
		}
	}

	// Integration forwarder (needs the bus)
	if natsPub != nil && (cfg.MQTT.Enabled || cfg.Webhook.Enabled) {
		forwarder := integration.NewForwarderService(natsPub.Conn(), cfg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := forwarder.Start(ctx); err != nil {
				log.Error().Err(err).Msg("Integration forwarder stopped")
			}
		}()
	}

	// Start REST API server
	apiServer := api.NewRESTServer(cfg, loop, store)
	wg.Add(1)
	go func() {
		defer wg.Done()
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		if err := apiServer.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("REST API server failed")
		}
	}()

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	// Cancel context; the loop disconnects the station on its way out
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown API server gracefully")
	}

	wg.Wait()

	log.Info().Msg("Scale server stopped")
}
