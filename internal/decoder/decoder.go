// Package decoder holds the pluggable analysers that receive accepted
// frames from the interception pipeline.
package decoder

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"gonetcut/internal/analysis"
	"gonetcut/internal/logging"
	"gonetcut/internal/models"
)

var (
	ErrDuplicate = errors.New("decoder already registered")
	ErrUnknown   = errors.New("unknown decoder")
)

// Decoder inspects one frame. A returned error is logged and never stops
// the chain.
type Decoder interface {
	Name() string
	Decode(f *models.Frame) error
}

// Deps are the shared services a decoder may need. A factory returns an
// error when one it requires is missing.
type Deps struct {
	Logger zerolog.Logger
	Stats  *analysis.TrafficStats
}

type Factory func(deps Deps) (Decoder, error)

// Registry maps decoder names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name = strings.ToLower(name)
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	r.factories[name] = factory
	return nil
}

// Names lists every registered decoder in alphabetical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build instantiates the selected decoders. "*" selects all of them. A
// factory that fails is skipped with a warning, an unknown name is an error.
func (r *Registry) Build(selection []string, deps Deps) (*Chain, error) {
	names, err := r.resolve(selection)
	if err != nil {
		return nil, err
	}

	logger := logging.WithScope(deps.Logger, "DECODER")
	decoders := make([]Decoder, 0, len(names))
	for _, name := range names {
		r.mu.RLock()
		factory := r.factories[name]
		r.mu.RUnlock()

		d, err := factory(deps)
		if err != nil {
			logging.WarnUnwrapped(&logger, "decoder unavailable: "+name, err)
			continue
		}
		decoders = append(decoders, d)
	}

	return NewChain(logger, decoders...), nil
}

func (r *Registry) resolve(selection []string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	seen := map[string]bool{}
	for _, raw := range selection {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		if name == "*" {
			for n := range r.factories {
				if !seen[n] {
					seen[n] = true
					out = append(out, n)
				}
			}
			continue
		}
		if _, ok := r.factories[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknown, name)
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Chain runs decoders in order.
type Chain struct {
	logger   zerolog.Logger
	decoders []Decoder
}

func NewChain(logger zerolog.Logger, decoders ...Decoder) *Chain {
	return &Chain{logger: logger, decoders: decoders}
}

// Decode hands f to every decoder. A decoder that fails or panics does not
// keep the others from seeing the frame.
func (c *Chain) Decode(f *models.Frame) {
	for _, d := range c.decoders {
		c.run(d, f)
	}
}

func (c *Chain) run(d Decoder, f *models.Frame) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Str("decoder", d.Name()).Interface("panic", r).Msg("decoder panicked")
		}
	}()

	if err := d.Decode(f); err != nil {
		c.logger.Debug().Str("decoder", d.Name()).Err(err).Msg("decode failed")
	}
}

func (c *Chain) Names() []string {
	names := make([]string, len(c.decoders))
	for i, d := range c.decoders {
		names[i] = d.Name()
	}
	return names
}

func (c *Chain) Len() int {
	return len(c.decoders)
}
