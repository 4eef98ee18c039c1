package inject

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"gonetcut/internal/queue"
)

var (
	ErrRunning  = errors.New("injector is running")
	ErrNoHandle = errors.New("injector has no send handle")
)

// Sender writes one raw link-layer frame. *pcap.Handle satisfies it.
type Sender interface {
	WritePacketData(data []byte) error
}

type Config struct {
	// Workers is the size of the worker pool. Defaults to 2.
	Workers int
	// Delay throttles every worker after each write. Zero disables it.
	Delay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.Delay < 0 {
		c.Delay = 0
	}
	return c
}

// Stats are cumulative counters since the injector was created.
type Stats struct {
	Sent    uint64
	Failed  uint64
	Dropped uint64
}

// Injector owns the outbound frame queue and a pool of workers writing
// its contents through one send handle. The handle is not safe for
// concurrent writes, so every write is serialized by sendMu.
type Injector struct {
	logger zerolog.Logger
	handle Sender
	cfg    Config
	queue  *queue.Queue[[]byte]

	sendMu sync.Mutex

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex

	// mu guards the lifecycle fields. Push holds it for reading so that
	// no frame can slip in behind the sentinels pushed by Stop.
	mu      sync.RWMutex
	enabled bool
	running bool
	active  int
	wg      sync.WaitGroup

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

func New(logger zerolog.Logger, handle Sender, cfg Config) *Injector {
	return &Injector{
		logger:  logger,
		handle:  handle,
		cfg:     cfg.withDefaults(),
		queue:   queue.New[[]byte](),
		enabled: handle != nil,
	}
}

// Configure replaces the pool settings. It is only valid while stopped.
func (inj *Injector) Configure(cfg Config) error {
	inj.mu.Lock()
	defer inj.mu.Unlock()

	if inj.running {
		return ErrRunning
	}
	inj.cfg = cfg.withDefaults()
	return nil
}

// SetEnabled toggles whether Push accepts frames at all. A disabled
// injector never starts.
func (inj *Injector) SetEnabled(enabled bool) {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	inj.enabled = enabled && inj.handle != nil
}

func (inj *Injector) Start() error {
	inj.lifecycle.Lock()
	defer inj.lifecycle.Unlock()
	inj.mu.Lock()
	defer inj.mu.Unlock()

	if inj.running {
		return nil
	}
	if inj.handle == nil {
		return ErrNoHandle
	}
	if !inj.enabled {
		inj.logger.Info().Msg("injector disabled, not starting")
		return nil
	}

	inj.active = inj.cfg.Workers
	for id := range inj.active {
		inj.wg.Add(1)
		go inj.worker(id, inj.cfg.Delay)
	}
	inj.running = true

	inj.logger.Info().
		Int("workers", inj.active).
		Dur("delay", inj.cfg.Delay).
		Msg("injector started")
	return nil
}

// Stop pushes one sentinel per worker and waits for all of them. Frames
// queued before Stop are still written. It is a no-op when not running.
func (inj *Injector) Stop() {
	inj.lifecycle.Lock()
	defer inj.lifecycle.Unlock()

	inj.mu.Lock()
	if !inj.running {
		inj.mu.Unlock()
		return
	}
	inj.running = false
	for range inj.active {
		inj.queue.Put(nil)
	}
	inj.mu.Unlock()

	inj.wg.Wait()

	inj.logger.Info().
		Uint64("sent", inj.sent.Load()).
		Uint64("failed", inj.failed.Load()).
		Msg("injector stopped")
}

// Push queues frame for transmission. Outside the running and enabled
// window the frame is silently dropped. Push never blocks on the wire.
func (inj *Injector) Push(frame []byte) {
	if len(frame) == 0 {
		return
	}

	inj.mu.RLock()
	defer inj.mu.RUnlock()

	if !inj.running || !inj.enabled {
		inj.dropped.Add(1)
		return
	}
	inj.queue.Put(frame)
}

func (inj *Injector) Running() bool {
	inj.mu.RLock()
	defer inj.mu.RUnlock()
	return inj.running
}

func (inj *Injector) Stats() Stats {
	return Stats{
		Sent:    inj.sent.Load(),
		Failed:  inj.failed.Load(),
		Dropped: inj.dropped.Load(),
	}
}

func (inj *Injector) worker(id int, delay time.Duration) {
	defer inj.wg.Done()

	var limiter *rate.Limiter
	if delay > 0 {
		limiter = rate.NewLimiter(rate.Every(delay), 1)
	}

	for {
		frame := inj.queue.Get()
		if frame == nil {
			inj.logger.Debug().Int("worker", id).Msg("worker done")
			return
		}

		if limiter != nil {
			_ = limiter.Wait(context.Background())
		}
		inj.send(id, frame)
	}
}

func (inj *Injector) send(id int, frame []byte) {
	inj.sendMu.Lock()
	err := inj.handle.WritePacketData(frame)
	inj.sendMu.Unlock()

	if err != nil {
		inj.failed.Add(1)
		inj.logger.Warn().Err(err).Int("worker", id).Int("len", len(frame)).Msg("failed to inject frame")
		return
	}
	inj.sent.Add(1)
	inj.logger.Trace().Int("worker", id).Int("len", len(frame)).Msg("frame injected")
}
