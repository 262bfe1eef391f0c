package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gobwas/glob"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/flockdb/flock/admin"
	"github.com/flockdb/flock/cfg"
	"github.com/flockdb/flock/notifier"
	"github.com/flockdb/flock/publisher"
	_ "github.com/flockdb/flock/publisher/sink"
	"github.com/flockdb/flock/session"
	"github.com/flockdb/flock/telemetry"
)

func main() {
	flag.Parse()

	if err := cfg.Load(*cfg.ConfigPathFlag); err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("client_id", cfg.Config.ClientID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("Flock - Fleet Database Watcher")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()
	telemetry.Serve()

	filter, err := newWatchFilter(cfg.Config.Watch)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid watch patterns")
		return
	}

	transport, err := newTransport()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize transport")
		return
	}

	var registry *publisher.Registry
	if cfg.Config.Publisher.Enabled {
		registry, err = publisher.NewRegistry(publisher.RegistryConfig{
			DataDir:  cfg.Config.DataDir,
			ClientID: cfg.Config.ClientID,
			Sinks:    cfg.Config.Publisher.Sinks,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize publisher")
			return
		}
		if err := registry.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start publisher")
			return
		}
		defer registry.Stop()
	}

	target := &watchTarget{filter: filter, registry: registry}
	n, err := notifier.New(target, transport, notifier.Options{
		RootDir:       cfg.Config.DataDir,
		ServerBaseURL: cfg.Config.ServerBaseURL,
		AccessToken:   cfg.Config.AccessToken,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize notifier")
		return
	}

	if err := n.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start notifier")
		return
	}

	if cfg.Config.AdminAPI.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.Config.AdminAPI.Address, cfg.Config.AdminAPI.Port)
		go func() {
			if err := admin.Serve(addr, n); err != nil {
				log.Error().Err(err).Msg("Status API stopped")
			}
		}()
	}

	log.Info().
		Str("server_url", cfg.Config.ServerBaseURL).
		Str("data_dir", cfg.Config.DataDir).
		Msg("Watching fleet")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	// Notifier first so no notification reaches a stopped publisher
	if err := n.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close notifier")
	}
}

func newTransport() (session.Transport, error) {
	switch cfg.Config.Transport.Kind {
	case cfg.TransportNATS:
		return session.NewNATSTransport(cfg.Config.Transport.NatsURL)
	case cfg.TransportPoll:
		interval := time.Duration(cfg.Config.Transport.PollIntervalMS) * time.Millisecond
		return session.NewPollTransport(interval), nil
	default:
		return nil, fmt.Errorf("unknown transport kind: %s", cfg.Config.Transport.Kind)
	}
}

// watchFilter applies the configured include/exclude globs to realm virtual
// paths. No include patterns means include everything.
type watchFilter struct {
	include []glob.Glob
	exclude []glob.Glob
}

func newWatchFilter(config cfg.WatchConfiguration) (*watchFilter, error) {
	f := &watchFilter{}
	for _, pattern := range config.Include {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid include pattern %q: %w", pattern, err)
		}
		f.include = append(f.include, g)
	}
	for _, pattern := range config.Exclude {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
		f.exclude = append(f.exclude, g)
	}
	return f, nil
}

func (f *watchFilter) match(virtualPath string) bool {
	for _, g := range f.exclude {
		if g.Match(virtualPath) {
			return false
		}
	}
	if len(f.include) == 0 {
		return true
	}
	for _, g := range f.include {
		if g.Match(virtualPath) {
			return true
		}
	}
	return false
}

// watchTarget is the process-level notification consumer: it logs every
// delivery and forwards it to the publisher when one is configured.
type watchTarget struct {
	filter   *watchFilter
	registry *publisher.Registry
}

func (t *watchTarget) Filter(virtualPath string) (bool, error) {
	accepted := t.filter.match(virtualPath)
	log.Debug().Str("realm", virtualPath).Bool("accepted", accepted).Msg("Filtered realm")
	return accepted, nil
}

func (t *watchTarget) RealmChanged(change notifier.Change) {
	event := log.Info().
		Int64("listen_id", int64(change.ListenID)).
		Str("realm", change.VirtualPath).
		Uint64("version", change.NewVersion)
	if change.Old == nil {
		event.Msg("Realm discovered")
	} else {
		event.Int("tables", len(change.Changes)).Msg("Realm changed")
	}

	if t.registry != nil {
		if err := t.registry.Publish(change); err != nil {
			log.Warn().Err(err).Str("realm", change.VirtualPath).Msg("Failed to enqueue notification")
		}
	}
}
