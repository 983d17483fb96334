package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/hanzong05/farm2go-sub002/blobstore"
	"github.com/hanzong05/farm2go-sub002/connmon"
	"github.com/hanzong05/farm2go-sub002/identity"
	"github.com/hanzong05/farm2go-sub002/internal/config"
	"github.com/hanzong05/farm2go-sub002/internal/metrics"
	"github.com/hanzong05/farm2go-sub002/navigation"
	"github.com/hanzong05/farm2go-sub002/notify"
	"github.com/hanzong05/farm2go-sub002/profiles"
	"github.com/hanzong05/farm2go-sub002/realtime"
	"github.com/hanzong05/farm2go-sub002/session"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error running client: %s\n", err)
	}
	log.Printf("Client stopped\n")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	displayAppname(c.GetAppName())

	logger := newLogger(c)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	blobs, err := blobstore.NewFile(c.GetDataFolder())
	if err != nil {
		return fmt.Errorf("blobstore.NewFile: %w", err)
	}

	services, err := buildServices(c, logger, collector, blobs)
	if err != nil {
		return err
	}

	ctx := context.Background()
	services.facade.Initialize(ctx)
	services.store.Start()
	services.monitor.Start()
	services.guard.Start()
	services.guard.SetRouterReady(true)

	// Keep the notification channel aligned with the session owner.
	unsubscribe := services.store.Subscribe(func(state session.State) {
		if state.IsAuthenticated {
			userID := state.User.ID
			if err := services.channel.Subscribe(ctx, userID, func(msg realtime.Message) {
				logger.Info().Str("event", msg.Event).Msg("notification received")
			}); err != nil {
				logger.Warn().Err(err).Msg("notification subscribe failed")
			}
			return
		}
		services.channel.Unsubscribe()
	})
	defer unsubscribe()

	metricsServer := &http.Server{Addr: c.GetMetricsPort(), Handler: metricsMux(registry)}
	go listenAndServe(metricsServer, logger)

	waitForStopSignal()

	services.guard.Stop()
	services.channel.Unsubscribe()
	services.monitor.Stop()
	services.store.Close()
	return shutdown(metricsServer)
}

type services struct {
	store   *session.Store
	facade  *session.Facade
	monitor *connmon.Monitor
	channel *notify.Channel
	guard   *navigation.Guard
}

func buildServices(c config.Config, logger zerolog.Logger, collector *metrics.Collector, blobs blobstore.Store) (*services, error) {
	// The data-provider clients read the access token through the store, and
	// the store reads rows through the clients. Late-bind the token lookup to
	// break the construction cycle.
	var store *session.Store
	accessToken := func() string {
		if store == nil {
			return ""
		}
		return store.AccessToken()
	}

	provider, profClient, rtClient, err := buildProviders(c, logger, accessToken)
	if err != nil {
		return nil, err
	}

	store, err = session.New(session.Deps{
		Provider: provider,
		Profiles: profClient,
		Blobs:    blobs,
	}, logger,
		session.WithInactivityTimeout(c.GetInactivityTimeout()),
		session.WithMetrics(collector),
	)
	if err != nil {
		return nil, fmt.Errorf("session.New: %w", err)
	}

	facade, err := session.NewFacade(store, provider, c, logger,
		session.WithWatchdogTimeout(c.GetStartupWatchdog()),
	)
	if err != nil {
		return nil, fmt.Errorf("session.NewFacade: %w", err)
	}

	monitor, err := connmon.New(profClient, provider, logger, connmon.WithMetrics(collector))
	if err != nil {
		return nil, fmt.Errorf("connmon.New: %w", err)
	}

	channel, err := notify.New(rtClient, logger, notify.WithMetrics(collector))
	if err != nil {
		return nil, fmt.Errorf("notify.New: %w", err)
	}

	guard, err := navigation.NewGuard(store, newLogRouter(logger), logger)
	if err != nil {
		return nil, fmt.Errorf("navigation.NewGuard: %w", err)
	}

	return &services{
		store:   store,
		facade:  facade,
		monitor: monitor,
		channel: channel,
		guard:   guard,
	}, nil
}

// buildProviders constructs the identity, profile, and realtime clients.
// With a placeholder backend configuration the clients are still built (the
// facade never lets them touch the network) against an unroutable base URL.
func buildProviders(c config.Config, logger zerolog.Logger, accessToken func() string) (identity.Provider, *profiles.Client, realtime.Client, error) {
	baseURL := c.GetSupabaseURL()
	apiKey := c.GetSupabaseAnonKey()
	realtimeURL := c.GetRealtimeURL()
	if !c.IsConfigured() {
		baseURL = "https://demo.invalid"
		apiKey = "demo"
		realtimeURL = "wss://demo.invalid/realtime/v1/websocket"
	}

	provider, err := identity.NewHTTPProvider(baseURL, apiKey, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("identity.NewHTTPProvider: %w", err)
	}

	profClient, err := profiles.NewClient(baseURL, apiKey, accessToken, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("profiles.NewClient: %w", err)
	}

	rtClient, err := realtime.NewWSClient(realtimeURL, apiKey, accessToken, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("realtime.NewWSClient: %w", err)
	}

	return provider, profClient, rtClient, nil
}

// logRouter is the headless Router used when no UI shell is attached: it
// records where the app would navigate.
type logRouter struct {
	log  zerolog.Logger
	path string
}

func newLogRouter(log zerolog.Logger) *logRouter {
	return &logRouter{log: log, path: navigation.RouteHome}
}

func (r *logRouter) Navigate(path string) error {
	r.path = path
	r.log.Info().Str("path", path).Msg("navigate")
	return nil
}

func (r *logRouter) CurrentPath() string {
	return r.path
}

func newLogger(c config.Config) zerolog.Logger {
	level := zerolog.InfoLevel
	if c.GetEnv() == "DEV" {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

func metricsMux(registry *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(registry))
	return mux
}

func listenAndServe(server *http.Server, logger zerolog.Logger) {
	logger.Info().Str("addr", server.Addr).Msg("metrics listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server failed")
	}
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
