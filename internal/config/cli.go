package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"gonetcut/internal/discovery"
	"gonetcut/internal/koala"
	"gonetcut/internal/logging"
	"gonetcut/internal/target"
)

const defaultFile = "gonetcut.toml"

// CreateCommand builds the root command. run receives the file
// configuration with every flag given on the command line applied on top.
func CreateCommand(run func(ctx context.Context, cfg *Config) error, version string) *cli.Command {
	return &cli.Command{
		Name:      "gonetcut",
		Usage:     "ARP based man in the middle and traffic inspection",
		ArgsUsage: "[TARGET1] [TARGET2]",
		Description: `TARGET1 and TARGET2 are given as IP/MAC/PORT, use // for all hosts.
IP accepts last octet lists (10.0.0.1,5,9) and ranges joined by ; (10.0.0.1-20;10.0.0.40), PORT accepts ranges (20-25,80).`,
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "TOML configuration file; flags override its values",
				OnlyOnce: true,
				Sources:  cli.EnvVars("GONETCUT_CONFIG"),
			},
			&cli.StringFlag{
				Name:     "interface",
				Aliases:  []string{"i"},
				Usage:    "network interface to attack from",
				OnlyOnce: true,
			},
			&cli.StringFlag{
				Name:     "gateway",
				Aliases:  []string{"g"},
				Usage:    "gateway address (default: from the routing table)",
				OnlyOnce: true,
			},
			&cli.StringFlag{
				Name:      "log-level",
				Usage:     "trace, debug, info, warn or error",
				Value:     "info",
				OnlyOnce:  true,
				Validator: validateLogLevel,
			},
			&cli.StringFlag{
				Name:     "vendor-file",
				Usage:    "OUI file whose entries override the built-in vendor registry",
				OnlyOnce: true,
			},
			&cli.BoolFlag{
				Name:  "tui",
				Usage: "show the live dashboard",
			},
			&cli.BoolFlag{
				Name:    "sniff",
				Aliases: []string{"s"},
				Usage:   "enable the sniffing pipeline",
			},
			&cli.StringFlag{
				Name:     "read-packets",
				Aliases:  []string{"r"},
				Usage:    "replay frames from a pcap file (enables sniffing)",
				OnlyOnce: true,
			},
			&cli.StringFlag{
				Name:     "write-packets",
				Aliases:  []string{"w"},
				Usage:    "dump every sniffed frame to a pcap file (enables sniffing)",
				OnlyOnce: true,
			},
			&cli.StringFlag{
				Name:     "pcap-filter",
				Aliases:  []string{"f"},
				Usage:    "BPF filter for the sniffer",
				OnlyOnce: true,
			},
			&cli.BoolFlag{
				Name:    "promisc",
				Aliases: []string{"p"},
				Usage:   "put the interface in promiscuous mode (enables sniffing)",
			},
			&cli.StringSliceFlag{
				Name:    "target",
				Aliases: []string{"T", "bind"},
				Usage:   "bind ports to a host as IP/MAC/PORT, can be repeated",
				Validator: func(ss []string) error {
					for _, s := range ss {
						if err := validateBinding(s); err != nil {
							return err
						}
					}
					return nil
				},
			},
			&cli.BoolFlag{
				Name:    "cut",
				Aliases: []string{"C"},
				Usage:   "drop the traffic of every target",
			},
			&cli.StringFlag{
				Name:      "mode",
				Usage:     "who forwards intercepted traffic: active, kernel or block",
				Value:     "active",
				OnlyOnce:  true,
				Validator: validateMode,
			},
			&cli.StringFlag{
				Name:     "mitm",
				Aliases:  []string{"M"},
				Usage:    `comma separated spoofers, "*" for all`,
				Value:    "arp",
				OnlyOnce: true,
			},
			&cli.BoolFlag{
				Name:  "half-duplex",
				Usage: "poison only the first group",
			},
			&cli.StringFlag{
				Name:      "disc-profile",
				Aliases:   []string{"P"},
				Usage:     "discovery profile: disabled, arpcache, initial, passive, active (or 0-4)",
				Value:     "initial",
				OnlyOnce:  true,
				Validator: validateProfile,
			},
			&cli.StringFlag{
				Name:     "decoder",
				Aliases:  []string{"d"},
				Usage:    `comma separated decoders, "*" for all`,
				OnlyOnce: true,
			},
			&cli.IntFlag{
				Name:     "inject-workers",
				Usage:    "injection worker pool size",
				Value:    2,
				OnlyOnce: true,
			},
			&cli.DurationFlag{
				Name:     "inject-delay",
				Usage:    "pause of every injection worker after a send",
				OnlyOnce: true,
			},
			&cli.StringFlag{
				Name:     "report",
				Usage:    "write an HTML session report to this path on exit",
				OnlyOnce: true,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := fromFile(cmd.String("config"))
			if err != nil {
				return err
			}
			if err := applyArgs(cmd, cfg); err != nil {
				return err
			}
			return run(ctx, cfg)
		},
	}
}

// fromFile loads path, or gonetcut.toml from the working directory when
// path is empty and the file exists.
func fromFile(path string) (*Config, error) {
	if path == "" {
		if _, err := os.Stat(defaultFile); err != nil {
			return Default(), nil
		}
		path = defaultFile
	}
	return Load(path)
}

func applyArgs(cmd *cli.Command, cfg *Config) error {
	args := cmd.Args().Slice()
	if len(args) > 2 {
		return fmt.Errorf("%w: expected at most two targets, got %d", ErrInvalid, len(args))
	}
	if len(args) > 0 {
		cfg.Attack.Target1 = args[0]
	}
	if len(args) > 1 {
		cfg.Attack.Target2 = args[1]
	}

	setString := func(name string, dst *string) {
		if cmd.IsSet(name) {
			*dst = cmd.String(name)
		}
	}
	setBool := func(name string, dst *bool) {
		if cmd.IsSet(name) {
			*dst = cmd.Bool(name)
		}
	}

	setString("interface", &cfg.Core.Interface)
	setString("gateway", &cfg.Core.Gateway)
	setString("log-level", &cfg.Core.LogLevel)
	setString("vendor-file", &cfg.Core.VendorFile)
	setBool("tui", &cfg.Core.TUI)

	setBool("sniff", &cfg.Sniff.Enabled)
	setString("read-packets", &cfg.Sniff.Read)
	setString("write-packets", &cfg.Sniff.Write)
	setString("pcap-filter", &cfg.Sniff.Filter)
	setBool("promisc", &cfg.Sniff.Promisc)

	if cmd.IsSet("target") {
		cfg.Attack.Bindings = append(cfg.Attack.Bindings, cmd.StringSlice("target")...)
	}
	setBool("cut", &cfg.Attack.Cut)
	setString("mode", &cfg.Attack.Mode)
	if cmd.IsSet("mitm") {
		cfg.Attack.Spoofers = splitList(cmd.String("mitm"))
	}
	if cmd.IsSet("half-duplex") {
		cfg.Attack.FullDuplex = !cmd.Bool("half-duplex")
	}

	setString("disc-profile", &cfg.Discovery.Profile)
	if cmd.IsSet("decoder") {
		cfg.Decoders.Enabled = splitList(cmd.String("decoder"))
	}

	if cmd.IsSet("inject-workers") {
		cfg.Inject.Workers = int(cmd.Int("inject-workers"))
	}
	if cmd.IsSet("inject-delay") {
		cfg.Inject.Delay = Duration{cmd.Duration("inject-delay")}
	}
	setString("report", &cfg.Report.Path)
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validateLogLevel(v string) error {
	if _, err := logging.ParseLevel(v); err != nil {
		return fmt.Errorf("invalid level string %s", v)
	}
	return nil
}

func validateMode(v string) error {
	m, err := koala.ParseMode(v)
	if err != nil {
		return err
	}
	if m == koala.ModeReplay {
		return errors.New("replay is selected with --read-packets")
	}
	return nil
}

func validateProfile(v string) error {
	_, err := discovery.ParseProfile(v)
	return err
}

func validateBinding(v string) error {
	_, err := target.ParseBinding(v)
	return err
}
