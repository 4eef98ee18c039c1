package discovery

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gonetcut/internal/target"
)

var (
	ErrRunning          = errors.New("discovery is running")
	ErrNotConfigured    = errors.New("discovery is not configured")
	ErrUnsupportedMedia = errors.New("media not supported for target discovery")
)

// Profile selects how targets are found.
type Profile int

const (
	ProfileDisabled Profile = iota
	ProfileARPCache
	ProfileInitialScan
	ProfilePassive
	ProfileActive
)

type profileInfo struct {
	name string
	// probe sends ARP requests, once only for the initial scan.
	probe bool
	// acquire listens for ARP replies.
	acquire bool
	// arpCache polls the OS cache instead of touching the wire.
	arpCache bool
	// updateOnce stops the notifier after the first round with new targets.
	updateOnce bool
}

var profiles = map[Profile]profileInfo{
	ProfileDisabled:    {name: "disabled", updateOnce: true},
	ProfileARPCache:    {name: "arpcache", arpCache: true},
	ProfileInitialScan: {name: "initial", probe: true, acquire: true, updateOnce: true},
	ProfilePassive:     {name: "passive", acquire: true},
	ProfileActive:      {name: "active", probe: true, acquire: true},
}

func (p Profile) String() string {
	if info, ok := profiles[p]; ok {
		return info.name
	}
	return fmt.Sprintf("profile(%d)", int(p))
}

func (p Profile) info() profileInfo {
	return profiles[p]
}

// ParseProfile accepts a profile name or its number (0-4).
func ParseProfile(s string) (Profile, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for p, info := range profiles {
		if s == info.name || s == fmt.Sprint(int(p)) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown discovery profile %q", s)
}

// Update is one notifier round with at least one change.
type Update struct {
	New  []*target.Target
	Lost []*target.Target
	At   time.Time
}
