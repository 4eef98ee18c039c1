package platform

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// IPForwarder is the kernel IP forwarding switch.
type IPForwarder interface {
	IPForwarding() (bool, error)
	SetIPForwarding(on bool) error
}

// SysctlForwarder flips the switch with sysctl. Linux and the BSDs are
// supported.
type SysctlForwarder struct{}

func sysctlKey() (string, error) {
	switch runtime.GOOS {
	case "linux":
		return "net.ipv4.ip_forward", nil
	case "darwin", "freebsd", "openbsd", "netbsd":
		return "net.inet.ip.forwarding", nil
	}
	return "", fmt.Errorf("ip forwarding not implemented for %s", runtime.GOOS)
}

func (SysctlForwarder) IPForwarding() (bool, error) {
	if runtime.GOOS == "linux" {
		b, err := os.ReadFile("/proc/sys/net/ipv4/ip_forward")
		if err != nil {
			return false, fmt.Errorf("failed to read ip forwarding: %w", err)
		}
		return strings.TrimSpace(string(b)) == "1", nil
	}

	key, err := sysctlKey()
	if err != nil {
		return false, err
	}
	out, err := exec.Command("sysctl", "-n", key).Output()
	if err != nil {
		return false, fmt.Errorf("failed to read ip forwarding: %w", err)
	}
	return strings.TrimSpace(string(out)) == "1", nil
}

func (SysctlForwarder) SetIPForwarding(on bool) error {
	key, err := sysctlKey()
	if err != nil {
		return err
	}

	val := "0"
	if on {
		val = "1"
	}

	cmd := exec.Command("sysctl", "-w", key+"="+val)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to set ip forwarding to %s: %w (%s)", val, err, strings.TrimSpace(string(output)))
	}
	return nil
}
