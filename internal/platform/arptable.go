package platform

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// ARPEntry is one resolved line of the OS address resolution cache.
type ARPEntry struct {
	IP        string
	MAC       string
	Interface string
}

// ARPTable reads the OS cache for a single interface.
type ARPTable interface {
	Entries(iface string) ([]ARPEntry, error)
}

// SystemARPTable reads /proc/net/arp on Linux and the output of
// "arp -an" elsewhere.
type SystemARPTable struct{}

func (SystemARPTable) Entries(iface string) ([]ARPEntry, error) {
	if runtime.GOOS == "linux" {
		f, err := os.Open("/proc/net/arp")
		if err != nil {
			return nil, fmt.Errorf("failed to read arp cache: %w", err)
		}
		defer f.Close()
		return ParseProcNetARP(f, iface)
	}

	out, err := exec.Command("arp", "-an").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to execute arp -an: %w", err)
	}
	return ParseARPCommand(strings.NewReader(string(out)), iface)
}

// ParseProcNetARP parses the Linux format:
//
//	IP address       HW type     Flags       HW address            Mask     Device
//	192.168.1.1      0x1         0x2         aa:bb:cc:dd:ee:ff     *        eth0
//
// Incomplete entries are skipped. An empty iface keeps every device.
func ParseProcNetARP(r io.Reader, iface string) ([]ARPEntry, error) {
	var entries []ARPEntry
	sc := bufio.NewScanner(r)

	// header
	if !sc.Scan() {
		return entries, sc.Err()
	}

	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 6 {
			continue
		}

		mac := fields[3]
		if mac == "00:00:00:00:00:00" || mac == "<incomplete>" {
			continue
		}
		if iface != "" && fields[5] != iface {
			continue
		}

		entries = append(entries, ARPEntry{IP: fields[0], MAC: mac, Interface: fields[5]})
	}

	return entries, sc.Err()
}

// ParseARPCommand parses BSD style "arp -an" output:
//
//	? (192.168.1.1) at 0:1b:2c:3d:4e:5f on en0 ifscope [ethernet]
//
// Octets printed without a leading zero are padded.
func ParseARPCommand(r io.Reader, iface string) ([]ARPEntry, error) {
	var entries []ARPEntry
	sc := bufio.NewScanner(r)

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())

		ipStart := strings.Index(line, "(")
		ipEnd := strings.Index(line, ")")
		if ipStart == -1 || ipEnd == -1 || ipStart >= ipEnd {
			continue
		}
		ip := line[ipStart+1 : ipEnd]

		fields := strings.Fields(line[ipEnd+1:])
		if len(fields) < 2 || fields[0] != "at" {
			continue
		}
		mac := fields[1]
		if mac == "(incomplete)" || mac == "incomplete" {
			continue
		}

		dev := ""
		for i := 2; i+1 < len(fields); i++ {
			if fields[i] == "on" {
				dev = fields[i+1]
				break
			}
		}
		if iface != "" && dev != iface {
			continue
		}

		entries = append(entries, ARPEntry{IP: ip, MAC: padMAC(mac), Interface: dev})
	}

	return entries, sc.Err()
}

func padMAC(mac string) string {
	parts := strings.Split(mac, ":")
	if len(parts) != 6 {
		return mac
	}
	for i, p := range parts {
		if len(p) == 1 {
			parts[i] = "0" + p
		}
	}
	return strings.Join(parts, ":")
}

// LookupARP returns the cached hardware address for ip on iface.
func LookupARP(table ARPTable, iface, ip string) (string, bool) {
	entries, err := table.Entries(iface)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if e.IP == ip {
			return e.MAC, true
		}
	}
	return "", false
}
