package publisher

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/flockdb/flock/cfg"
	"github.com/flockdb/flock/notifier"
)

// RegistryConfig configures the forwarding registry
type RegistryConfig struct {
	DataDir  string // Event log lives at {DataDir}/events
	ClientID uint64 // Stamped on every event
	Sinks    []cfg.SinkConfiguration
}

// Registry owns the event log and one worker per configured sink. Wire its
// Publish method as the notification callback (or call it from one) to
// forward every delivered change downstream.
type Registry struct {
	log      *Log
	workers  []*Worker
	clientID uint64
	running  atomic.Bool
	mu       sync.Mutex
}

// NewRegistry opens the event log and builds a worker for every sink.
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}

	eventLog, err := OpenLog(filepath.Join(config.DataDir, "events"))
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}

	registry := &Registry{
		log:      eventLog,
		workers:  make([]*Worker, 0, len(config.Sinks)),
		clientID: config.ClientID,
	}

	for _, sinkCfg := range config.Sinks {
		if err := registry.AddSink(sinkCfg); err != nil {
			for _, worker := range registry.workers {
				worker.config.Sink.Close()
			}
			eventLog.Close()
			return nil, fmt.Errorf("failed to add sink %q: %w", sinkCfg.Name, err)
		}
	}

	log.Info().
		Int("workers", len(registry.workers)).
		Msg("Publisher registry initialized")

	return registry, nil
}

// AddSink creates a worker for the given sink configuration.
func (r *Registry) AddSink(config cfg.SinkConfiguration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snk, err := createSink(config)
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}

	enc, err := createEncoder(config.Format)
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create encoder: %w", err)
	}

	filter, err := NewGlobFilter(config.FilterRealms, config.FilterTables)
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create filter: %w", err)
	}

	worker, err := NewWorker(WorkerConfig{
		Name:            config.Name,
		Log:             r.log,
		Sink:            snk,
		Encoder:         enc,
		Filter:          filter,
		TopicPrefix:     config.TopicPrefix,
		BatchSize:       config.BatchSize,
		PollInterval:    time.Duration(config.PollIntervalMS) * time.Millisecond,
		RetryInitial:    time.Duration(config.RetryInitialMS) * time.Millisecond,
		RetryMax:        time.Duration(config.RetryMaxMS) * time.Millisecond,
		RetryMultiplier: config.RetryMultiplier,
	})
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create worker: %w", err)
	}

	r.workers = append(r.workers, worker)

	log.Info().
		Str("sink", config.Name).
		Str("type", config.Type).
		Str("format", config.Format).
		Msg("Added sink")

	return nil
}

// Start starts all workers.
func (r *Registry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return fmt.Errorf("registry already running")
	}

	for _, worker := range r.workers {
		worker.Start()
	}
	r.running.Store(true)

	log.Info().Int("workers", len(r.workers)).Msg("Publisher registry started")
	return nil
}

// Stop stops all workers and closes the event log.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running.Swap(false) {
		return
	}

	for _, worker := range r.workers {
		worker.Stop()
		worker.config.Sink.Close()
	}

	if err := r.log.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close event log")
	}

	log.Info().Msg("Publisher registry stopped")
}

// Publish appends a delivered notification to the event log. Safe to call
// from the notification callback; the append is synchronous but sink
// delivery happens on the workers.
func (r *Registry) Publish(change notifier.Change) error {
	if !r.running.Load() {
		return fmt.Errorf("registry not running")
	}
	events := FromChange(change, r.clientID)
	if len(events) == 0 {
		return nil
	}
	return r.log.Append(events)
}

// SinkFactory creates a Sink from its configuration
type SinkFactory func(cfg.SinkConfiguration) (Sink, error)

// EncoderFactory creates an Encoder
type EncoderFactory func() Encoder

var (
	sinkFactories    = make(map[string]SinkFactory)
	encoderFactories = make(map[string]EncoderFactory)
	factoryMu        sync.RWMutex
)

// RegisterSink registers a sink factory for a type name.
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

// RegisterEncoder registers an encoder factory for a format name.
func RegisterEncoder(format string, factory EncoderFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	encoderFactories[format] = factory
}

func createSink(config cfg.SinkConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, exists := sinkFactories[config.Type]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown sink type: %s", config.Type)
	}
	return factory(config)
}

func createEncoder(format string) (Encoder, error) {
	factoryMu.RLock()
	factory, exists := encoderFactories[format]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown format: %s", format)
	}
	return factory(), nil
}
