// Package spoofer implements the on-path attacks that divert traffic
// between the two target groups through this host.
package spoofer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gonetcut/internal/target"
)

var (
	ErrDuplicate = errors.New("spoofer already registered")
	ErrUnknown   = errors.New("unknown spoofer")
)

// Injector queues crafted frames for transmission.
type Injector interface {
	Push(frame []byte)
}

// Spoofer is one attack method. Stop restores the victims before it
// returns.
type Spoofer interface {
	Name() string
	Start(ctx context.Context) error
	Stop()
}

// Deps is what every spoofer works with.
type Deps struct {
	Logger   zerolog.Logger
	List     *target.List
	Injector Injector
	// OurMAC is the address the victims are told to use.
	OurMAC net.HardwareAddr
	// Gateway always joins the second group. It may be nil.
	Gateway *target.Target
	Target1 *target.Spec
	Target2 *target.Spec
	// FullDuplex also poisons the second group about the first.
	FullDuplex bool

	Interval    time.Duration
	RearpRounds int
	RearpGap    time.Duration
}

func (d Deps) withDefaults() Deps {
	if d.Interval <= 0 {
		d.Interval = 3 * time.Second
	}
	if d.RearpRounds <= 0 {
		d.RearpRounds = 2
	}
	if d.RearpGap <= 0 {
		d.RearpGap = time.Second
	}
	return d
}

func (d Deps) validate() error {
	var errs []error
	if d.List == nil {
		errs = append(errs, errors.New("no target list"))
	}
	if d.Injector == nil {
		errs = append(errs, errors.New("no injector"))
	}
	if len(d.OurMAC) != 6 {
		errs = append(errs, errors.New("no hardware address to impersonate with"))
	}
	if d.Target1 == nil || d.Target2 == nil {
		errs = append(errs, errors.New("both target groups are required"))
	}
	return errors.Join(errs...)
}

type Factory func(deps Deps) (Spoofer, error)

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

// RegisterBuiltins adds the attacks shipped with the tool.
func RegisterBuiltins(r *Registry) error {
	return r.Register("arp", NewARP)
}

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

// Build instantiates the selected spoofers. selection is a list of names
// where "*" stands for every registered spoofer.
func (r *Registry) Build(selection []string, deps Deps) ([]Spoofer, error) {
	var names []string
	seen := map[string]bool{}
	for _, raw := range selection {
		name := strings.ToLower(strings.TrimSpace(raw))
		switch {
		case name == "":
			continue
		case name == "*":
			for _, n := range r.Names() {
				if !seen[n] {
					seen[n] = true
					names = append(names, n)
				}
			}
		case !seen[name]:
			seen[name] = true
			names = append(names, name)
		}
	}

	out := make([]Spoofer, 0, len(names))
	for _, name := range names {
		r.mu.RLock()
		factory, ok := r.factories[name]
		r.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknown, name)
		}

		s, err := factory(deps)
		if err != nil {
			return nil, fmt.Errorf("failed to create spoofer %s: %w", name, err)
		}
		out = append(out, s)
	}
	return out, nil
}
