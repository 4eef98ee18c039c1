package koala

import (
	"fmt"
	"strings"
)

// Mode selects who forwards intercepted traffic.
type Mode int

const (
	// ModeActive forwards eligible frames from this process and drops the
	// rest. The kernel switch is turned off.
	ModeActive Mode = iota
	// ModeKernel leaves forwarding to the kernel. Frames are only decoded.
	ModeKernel
	// ModeBlock drops every eligible frame. The kernel switch is turned off.
	ModeBlock
	// ModeReplay reads from a capture file. Nothing is forwarded or dropped.
	ModeReplay
)

var modeNames = map[Mode]string{
	ModeActive: "active",
	ModeKernel: "kernel",
	ModeBlock:  "block",
	ModeReplay: "replay",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ModeActive, nil
	}
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown filter mode %q", s)
}

// forwardSwitch is the kernel forwarding state a mode needs. The second
// value is false when the mode does not touch the switch.
func (m Mode) forwardSwitch() (on bool, managed bool) {
	switch m {
	case ModeKernel:
		return true, true
	case ModeActive, ModeBlock:
		return false, true
	}
	return false, false
}

// Forwards reports whether the pipeline itself raw-sends frames.
func (m Mode) Forwards() bool {
	return m == ModeActive
}
