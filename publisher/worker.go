package publisher

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/flockdb/flock/telemetry"
)

const (
	DefaultBatchSize    = 100
	DefaultPollInterval = 100 * time.Millisecond
	// Initial retry delay for failed publish operations
	DefaultRetryInitial = 100 * time.Millisecond
	// Maximum retry delay (exponential backoff cap)
	DefaultRetryMax = 30 * time.Second
	// Exponential backoff multiplier
	DefaultRetryMultiplier = 2.0
	// Retry attempts before giving up on one event
	DefaultMaxRetries = 100
)

// WorkerConfig configures one sink worker
type WorkerConfig struct {
	Name            string // Sink name, also the cursor key
	Log             *Log
	Sink            Sink
	Encoder         Encoder
	Filter          Filter
	TopicPrefix     string // e.g. "flock.events"
	BatchSize       int
	PollInterval    time.Duration
	RetryInitial    time.Duration
	RetryMax        time.Duration
	RetryMultiplier float64
	MaxRetries      int
}

// Worker polls the event log from its sink's cursor and publishes every
// matching event, in order, with at-least-once delivery.
type Worker struct {
	config      WorkerConfig
	cursor      uint64
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     atomic.Bool
	lifecycleMu sync.Mutex
}

// NewWorker validates the config, applies defaults, and positions the
// worker at its sink's last recorded cursor.
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("worker name is required")
	}
	if config.Log == nil {
		return nil, fmt.Errorf("event log is required")
	}
	if config.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if config.Encoder == nil {
		return nil, fmt.Errorf("encoder is required")
	}
	if config.Filter == nil {
		return nil, fmt.Errorf("filter is required")
	}

	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.RetryInitial <= 0 {
		config.RetryInitial = DefaultRetryInitial
	}
	if config.RetryMax <= 0 {
		config.RetryMax = DefaultRetryMax
	}
	if config.RetryMultiplier <= 0 {
		config.RetryMultiplier = DefaultRetryMultiplier
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}

	cursor, err := config.Log.Cursor(config.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}
	if cursor == 0 {
		// New sink: skip anything already reclaimed from the tail
		earliest, err := earliestSeq(config.Log)
		if err != nil {
			return nil, fmt.Errorf("failed to find earliest entry: %w", err)
		}
		cursor = earliest
	}

	return &Worker{
		config: config,
		cursor: cursor,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// earliestSeq returns the cursor just before the oldest retained event, or
// 0 when the log is empty.
func earliestSeq(eventLog *Log) (uint64, error) {
	events, err := eventLog.ReadFrom(0, 1)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}
	return events[0].SeqNum - 1, nil
}

// Start launches the poll loop.
func (w *Worker) Start() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.running.Load() {
		return
	}
	w.running.Store(true)
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	log.Info().
		Str("worker", w.config.Name).
		Uint64("cursor", w.cursor).
		Msg("Starting sink worker")

	go w.pollLoop()
}

// Stop stops the worker and waits for the loop to exit.
func (w *Worker) Stop() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if !w.running.Load() {
		return
	}

	close(w.stopCh)
	<-w.doneCh
	w.running.Store(false)

	log.Info().Str("worker", w.config.Name).Msg("Sink worker stopped")
}

func (w *Worker) pollLoop() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		default:
			events, err := w.config.Log.ReadFrom(w.cursor, w.config.BatchSize)
			if err != nil {
				log.Error().
					Err(err).
					Str("worker", w.config.Name).
					Uint64("cursor", w.cursor).
					Msg("Failed to read from event log")
				w.sleep(w.config.PollInterval)
				continue
			}

			if len(events) == 0 {
				w.sleep(w.config.PollInterval)
				continue
			}

			for _, event := range events {
				if err := w.processEvent(event); err != nil {
					log.Error().
						Err(err).
						Str("worker", w.config.Name).
						Uint64("seq", event.SeqNum).
						Msg("Failed to process event")
					return
				}
				w.cursor = event.SeqNum
			}
		}
	}
}

// processEvent publishes one event. Events are published before the cursor
// advances, so a crash between the two redelivers the event on restart.
// Filtered events only advance the cursor.
func (w *Worker) processEvent(event Event) error {
	if !w.config.Filter.Match(event.Realm, event.Table) {
		if err := w.config.Log.AdvanceCursor(w.config.Name, event.SeqNum); err != nil {
			log.Warn().
				Err(err).
				Str("worker", w.config.Name).
				Uint64("seq", event.SeqNum).
				Msg("Failed to advance cursor for filtered event")
		}
		return nil
	}

	data, err := w.config.Encoder.Encode(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	topic := w.buildTopic(event)
	if err := w.publishWithRetry(topic, event.Realm, data); err != nil {
		return err
	}

	if err := w.config.Log.AdvanceCursor(w.config.Name, event.SeqNum); err != nil {
		log.Warn().
			Err(err).
			Str("worker", w.config.Name).
			Uint64("seq", event.SeqNum).
			Msg("Failed to advance cursor after publish, event may be redelivered")
	}
	return nil
}

// buildTopic derives the topic from the realm's virtual path and table,
// e.g. prefix "flock.events" + realm "/app/todos" + table "items" gives
// "flock.events.app.todos.items".
func (w *Worker) buildTopic(event Event) string {
	segment := strings.ReplaceAll(strings.Trim(event.Realm, "/"), "/", ".")
	if event.Table != "" {
		segment = segment + "." + event.Table
	}
	if w.config.TopicPrefix == "" {
		return segment
	}
	return w.config.TopicPrefix + "." + segment
}

func (w *Worker) publishWithRetry(topic, key string, data []byte) error {
	delay := w.config.RetryInitial
	attempts := 0

	for {
		err := w.config.Sink.Publish(topic, key, data)
		if err == nil {
			telemetry.PublishTotal.With(w.config.Name).Inc()
			return nil
		}

		telemetry.PublishFailuresTotal.With(w.config.Name).Inc()
		attempts++
		if w.config.MaxRetries > 0 && attempts >= w.config.MaxRetries {
			return fmt.Errorf("exhausted max retries (%d) for topic %s: %w", w.config.MaxRetries, topic, err)
		}

		log.Warn().
			Err(err).
			Str("worker", w.config.Name).
			Str("topic", topic).
			Int("attempt", attempts).
			Dur("retry_delay", delay).
			Msg("Failed to publish event, retrying")

		if !w.sleep(delay) {
			return fmt.Errorf("worker stopped during retry")
		}

		delay = time.Duration(float64(delay) * w.config.RetryMultiplier)
		if delay > w.config.RetryMax {
			delay = w.config.RetryMax
		}
	}
}

// sleep waits for d, returning false if the worker was stopped first.
func (w *Worker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-w.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
