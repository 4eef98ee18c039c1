// Package config holds the run configuration, loaded from a TOML file and
// overridden by command line flags.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"gonetcut/internal/discovery"
	"gonetcut/internal/koala"
	"gonetcut/internal/logging"
	"gonetcut/internal/target"
)

var ErrInvalid = errors.New("invalid configuration")

// Duration is a time.Duration written as "3s" or "500ms" in the file.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	Core      Core      `toml:"core"`
	Sniff     Sniff     `toml:"sniff"`
	Attack    Attack    `toml:"attack"`
	Discovery Discovery `toml:"discovery"`
	Inject    Inject    `toml:"inject"`
	Decoders  Decoders  `toml:"decoders"`
	Report    Report    `toml:"report"`
}

type Core struct {
	Interface string `toml:"interface"`
	// Gateway is discovered from the routing table when empty.
	Gateway    string `toml:"gateway"`
	LogLevel   string `toml:"log-level"`
	VendorFile string `toml:"vendor-file"`
	TUI        bool   `toml:"tui"`
}

type Sniff struct {
	Enabled bool   `toml:"enabled"`
	Read    string `toml:"read"`
	Write   string `toml:"write"`
	Filter  string `toml:"filter"`
	Promisc bool   `toml:"promisc"`
	Snaplen int    `toml:"snaplen"`
	// Timeout bounds every capture read so shutdown is never stuck.
	Timeout Duration `toml:"timeout"`
}

type Attack struct {
	Target1 string `toml:"target1"`
	Target2 string `toml:"target2"`
	// Bindings are IP/MAC/PORT entries pinning ports to hosts.
	Bindings []string `toml:"bindings"`
	// Mode is one of active, kernel, block. Cut forces block.
	Mode        string   `toml:"mode"`
	Cut         bool     `toml:"cut"`
	Spoofers    []string `toml:"spoofers"`
	FullDuplex  bool     `toml:"full-duplex"`
	Interval    Duration `toml:"interval"`
	RearpRounds int      `toml:"rearp-rounds"`
	RearpGap    Duration `toml:"rearp-gap"`
}

type Discovery struct {
	Profile        string   `toml:"profile"`
	ProbeInterval  Duration `toml:"probe-interval"`
	NotifyInterval Duration `toml:"notify-interval"`
	IdleWait       Duration `toml:"idle-wait"`
}

type Inject struct {
	Workers int      `toml:"workers"`
	Delay   Duration `toml:"delay"`
}

type Decoders struct {
	Enabled []string `toml:"enabled"`
}

type Report struct {
	// Path of the HTML session report. Empty disables it.
	Path string `toml:"path"`
}

func Default() *Config {
	return &Config{
		Core: Core{
			LogLevel: "info",
		},
		Sniff: Sniff{
			Snaplen: 65535,
			Timeout: Duration{100 * time.Millisecond},
		},
		Attack: Attack{
			Target1:     "//",
			Target2:     "//",
			Mode:        koala.ModeActive.String(),
			Spoofers:    []string{"arp"},
			FullDuplex:  true,
			Interval:    Duration{3 * time.Second},
			RearpRounds: 2,
			RearpGap:    Duration{time.Second},
		},
		Discovery: Discovery{
			Profile:        discovery.ProfileInitialScan.String(),
			ProbeInterval:  Duration{3 * time.Second},
			NotifyInterval: Duration{time.Second},
			IdleWait:       Duration{time.Second},
		},
		Inject: Inject{
			Workers: 2,
		},
	}
}

// Load overlays the file at path onto the defaults. Unknown keys are
// rejected.
func Load(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalid, path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// Compiled is the validated, typed form of a Config.
type Compiled struct {
	Level    zerolog.Level
	Gateway  net.IP
	Target1  *target.Spec
	Target2  *target.Spec
	Bindings []target.Binding
	Mode     koala.Mode
	Profile  discovery.Profile
	// Sniffing is set when frames are captured or replayed at all.
	Sniffing bool
}

// Compile validates every section. All problems are reported at once.
func (c *Config) Compile() (*Compiled, error) {
	var (
		out  Compiled
		errs []error
	)
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	level, err := logging.ParseLevel(c.Core.LogLevel)
	if err != nil {
		fail("log level %q", c.Core.LogLevel)
	}
	out.Level = level

	if c.Core.Interface == "" && c.Sniff.Read == "" {
		fail("no interface")
	}
	if c.Core.Gateway != "" {
		out.Gateway = net.ParseIP(c.Core.Gateway).To4()
		if out.Gateway == nil {
			fail("gateway %q is not an IPv4 address", c.Core.Gateway)
		}
	}

	if out.Target1, err = target.ParseSpec(c.Attack.Target1); err != nil {
		fail("target1: %w", err)
	}
	if out.Target2, err = target.ParseSpec(c.Attack.Target2); err != nil {
		fail("target2: %w", err)
	}
	for _, raw := range c.Attack.Bindings {
		b, err := target.ParseBinding(raw)
		if err != nil {
			fail("%w", err)
			continue
		}
		out.Bindings = append(out.Bindings, b)
	}

	switch {
	case c.Sniff.Read != "":
		out.Mode = koala.ModeReplay
	case c.Attack.Cut:
		out.Mode = koala.ModeBlock
	default:
		out.Mode, err = koala.ParseMode(c.Attack.Mode)
		if err != nil {
			fail("%w", err)
		} else if out.Mode == koala.ModeReplay {
			fail("replay mode needs a capture file to read")
		}
	}

	if out.Profile, err = discovery.ParseProfile(c.Discovery.Profile); err != nil {
		fail("%w", err)
	}

	if c.Sniff.Snaplen <= 0 || c.Sniff.Snaplen > 262144 {
		fail("snaplen %d out of range [1-262144]", c.Sniff.Snaplen)
	}
	if c.Inject.Workers <= 0 || c.Inject.Workers > 64 {
		fail("inject workers %d out of range [1-64]", c.Inject.Workers)
	}
	if c.Attack.RearpRounds < 0 {
		fail("rearp rounds must not be negative")
	}
	for name, d := range map[string]Duration{
		"capture timeout":           c.Sniff.Timeout,
		"attack interval":           c.Attack.Interval,
		"discovery probe interval":  c.Discovery.ProbeInterval,
		"discovery notify interval": c.Discovery.NotifyInterval,
	} {
		if d.Duration <= 0 {
			fail("%s must be positive", name)
		}
	}

	out.Sniffing = c.Sniff.Enabled || c.Sniff.Read != "" || c.Sniff.Write != "" || c.Sniff.Promisc
	return &out, errors.Join(errs...)
}

// Validate reports whether the configuration compiles.
func (c *Config) Validate() error {
	_, err := c.Compile()
	return err
}
