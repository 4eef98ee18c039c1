// Package sniff reads frames from a live interface or a capture file into
// the queue consumed by the interception pipeline.
package sniff

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/gopacket/pcapgo"
	"github.com/rs/zerolog"

	"gonetcut/internal/models"
	"gonetcut/internal/platform"
	"gonetcut/internal/queue"
)

var ErrRunning = errors.New("sniffer is running")

type Config struct {
	// Replayed marks every frame as read from a file.
	Replayed bool
	// DumpPath, when set, receives a pcap copy of everything sniffed.
	DumpPath string
	Snaplen  uint32
}

// Sniffer pushes every frame read from its capture into out. When the
// capture ends, or on Stop, exactly one nil is pushed.
type Sniffer struct {
	logger  zerolog.Logger
	capture platform.Capture
	out     *queue.Queue[*models.Frame]
	cfg     Config

	mu       sync.Mutex
	running  bool
	stopping atomic.Bool
	done     chan struct{}

	captured atomic.Uint64
	dumped   atomic.Uint64
}

func New(logger zerolog.Logger, capture platform.Capture, out *queue.Queue[*models.Frame], cfg Config) *Sniffer {
	if cfg.Snaplen == 0 {
		cfg.Snaplen = 65535
	}
	done := make(chan struct{})
	close(done)
	return &Sniffer{
		logger:  logger,
		capture: capture,
		out:     out,
		cfg:     cfg,
		done:    done,
	}
}

func (s *Sniffer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	var dump *dumper
	if s.cfg.DumpPath != "" {
		d, err := newDumper(s.cfg.DumpPath, s.cfg.Snaplen, s.capture)
		if err != nil {
			return err
		}
		dump = d
	}

	s.stopping.Store(false)
	s.done = make(chan struct{})
	s.running = true
	go s.loop(dump, s.done)

	s.logger.Info().
		Bool("replay", s.cfg.Replayed).
		Str("dump", s.cfg.DumpPath).
		Msg("sniffer started")
	return nil
}

// Stop ends the capture loop and waits for it. A loop that already hit
// the end of its file has pushed its nil and is not signalled again.
func (s *Sniffer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.stopping.Store(true)
	<-s.done
	s.running = false
	s.logger.Info().
		Uint64("captured", s.captured.Load()).
		Uint64("dumped", s.dumped.Load()).
		Msg("sniffer stopped")
}

// Done is closed when the capture loop has returned.
func (s *Sniffer) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Sniffer) Captured() uint64 {
	return s.captured.Load()
}

func (s *Sniffer) loop(dump *dumper, done chan struct{}) {
	defer close(done)
	defer s.out.Put(nil)
	if dump != nil {
		defer func() {
			if err := dump.Close(); err != nil {
				s.logger.Warn().Err(err).Msg("could not close the dump file")
			}
		}()
	}

	for !s.stopping.Load() {
		data, ci, err := s.capture.ReadPacketData()
		switch {
		case err == nil:
		case errors.Is(err, platform.ErrTimeout):
			continue
		case errors.Is(err, io.EOF):
			s.logger.Info().Uint64("frames", s.captured.Load()).Msg("end of capture file")
			return
		default:
			s.logger.Error().Err(err).Msg("capture failed")
			return
		}

		s.captured.Add(1)
		s.out.Put(models.NewFrame(data, ci, s.cfg.Replayed))

		if dump != nil {
			if err := dump.w.WritePacket(ci, data); err != nil {
				s.logger.Trace().Err(err).Msg("dump write failed")
				continue
			}
			s.dumped.Add(1)
		}
	}
}

type dumper struct {
	f *os.File
	w *pcapgo.Writer
}

func newDumper(path string, snaplen uint32, capture platform.Capture) (*dumper, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create dump file: %w", err)
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(snaplen, capture.LinkType()); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write dump header: %w", err)
	}
	return &dumper{f: f, w: w}, nil
}

func (d *dumper) Close() error {
	return d.f.Close()
}
