package broadcast

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

var (
	// ErrSaturated is returned when an event's shard stayed full for the whole handoff window.
	ErrSaturated = errors.New("event dispatcher is saturated")
	// ErrClosed is returned by Publish after Close.
	ErrClosed = errors.New("event dispatcher is closed")
)

// AsyncConfig tunes an Async dispatcher. Zero values take defaults.
type AsyncConfig struct {
	Workers      int
	Buffer       int
	Handoff      time.Duration
	Timeout      time.Duration
	MaxAttempts  int
	RetryInitial time.Duration
	RetryMax     time.Duration
}

func (c AsyncConfig) withDefaults() AsyncConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 250 * time.Millisecond
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 5 * time.Second
	}
	return c
}

// Async moves delivery to a slow target off the caller's path. Events are
// sharded by project onto worker queues, so one project's events are
// delivered in publish order.
type Async struct {
	target Publisher
	cfg    AsyncConfig
	logger *log.Logger
	shards []chan domain.Event
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewAsync starts the workers of an Async dispatcher in front of target.
func NewAsync(target Publisher, cfg AsyncConfig, logger *log.Logger) *Async {
	if target == nil {
		panic("broadcast.NewAsync: target is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	cfg = cfg.withDefaults()
	a := &Async{target: target, cfg: cfg, logger: logger, shards: make([]chan domain.Event, cfg.Workers)}
	perShard := cfg.Buffer / cfg.Workers
	if perShard < 1 {
		perShard = 1
	}
	for i := range a.shards {
		a.shards[i] = make(chan domain.Event, perShard)
		a.wg.Add(1)
		go a.worker(i, a.shards[i])
	}
	logger.Infof("event dispatcher started, workers: %d, buffer: %d, handoff: %v", cfg.Workers, cfg.Buffer, cfg.Handoff)
	return a
}

// Publish queues ev. It waits at most the handoff timeout for buffer space
// and returns ErrSaturated when none frees up.
func (a *Async) Publish(ctx context.Context, ev domain.Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	ch := a.shards[a.shardFor(ev.ProjectID)]

	select {
	case ch <- ev:
		return nil
	default:
	}
	if a.cfg.Handoff <= 0 {
		return ErrSaturated
	}

	timer := time.NewTimer(a.cfg.Handoff)
	defer timer.Stop()
	select {
	case ch <- ev:
		return nil
	case <-timer.C:
		return ErrSaturated
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (a *Async) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	for _, ch := range a.shards {
		close(ch)
	}
	a.mu.Unlock()
	a.wg.Wait()
}

func (a *Async) shardFor(projectID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(projectID))
	return int(h.Sum32() % uint32(len(a.shards)))
}

func (a *Async) worker(id int, ch <-chan domain.Event) {
	defer a.wg.Done()
	for ev := range ch {
		a.deliver(id, ev)
	}
}

func (a *Async) deliver(workerID int, ev domain.Event) {
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Timeout)
		err := a.target.Publish(ctx, ev)
		cancel()
		if err == nil {
			return
		}
		entry := a.logger.WithError(err).WithFields(log.Fields{
			"worker":  workerID,
			"project": ev.ProjectID,
			"type":    ev.Type,
			"attempt": attempt,
		})
		if attempt >= a.cfg.MaxAttempts {
			entry.Error("event delivery failed, dropping")
			return
		}
		entry.Warn("event delivery failed, retrying")
		time.Sleep(exponentialBackoff(attempt, a.cfg.RetryInitial, a.cfg.RetryMax))
	}
}

func exponentialBackoff(attempt int, initial, max time.Duration) time.Duration {
	if attempt <= 0 {
		return initial
	}
	backoff := float64(initial) * math.Pow(2, float64(attempt-1))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	jitter := 0.2 * backoff
	return time.Duration(backoff + (rand.Float64()-0.5)*2*jitter)
}
