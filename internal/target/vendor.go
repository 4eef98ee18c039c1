package target

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/endobit/oui"
)

// VendorLookup maps a hardware address to a manufacturer label.
type VendorLookup interface {
	Vendor(mac string) string
}

// IEEEVendors labels addresses from the IEEE registry compiled into the
// binary.
type IEEEVendors struct{}

func (IEEEVendors) Vendor(mac string) string {
	o, ok := normalizeOUI(mac)
	if !ok {
		return ""
	}
	if v := oui.Vendor(o); v != "" {
		return v
	}
	return "Unknown"
}

type vendorEntry struct {
	short string
	long  string
}

// VendorDB is an in-memory OUI table loaded from a manuf style file where
// each line reads "OUI short-name # long name". Prefixes missing from the
// file are looked up in the base lookup, if any.
type VendorDB struct {
	entries map[string]vendorEntry
	base    VendorLookup
}

// LoadVendorDB reads the OUI table at path.
func LoadVendorDB(path string) (*VendorDB, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vendor list: %w", err)
	}
	defer f.Close()

	return ParseVendorDB(f)
}

func ParseVendorDB(r io.Reader) (*VendorDB, error) {
	db := &VendorDB{entries: make(map[string]vendorEntry)}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		prefix, ok := normalizeOUI(fields[0])
		if !ok {
			continue
		}

		e := vendorEntry{short: fields[1], long: fields[1]}
		if i := strings.Index(line, "#"); i >= 0 {
			e.long = strings.TrimSpace(line[i+1:])
		}
		if _, dup := db.entries[prefix]; !dup {
			db.entries[prefix] = e
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vendor list: %w", err)
	}

	return db, nil
}

// Supplement makes db an overlay on base and returns db.
func (db *VendorDB) Supplement(base VendorLookup) *VendorDB {
	db.base = base
	return db
}

// Vendor returns the short manufacturer name, "Unknown" for unlisted
// prefixes and "" for an unusable address.
func (db *VendorDB) Vendor(mac string) string {
	prefix, ok := normalizeOUI(mac)
	if !ok {
		return ""
	}
	if e, found := db.entries[prefix]; found {
		return e.short
	}
	return db.fallback(mac)
}

// LongVendor returns the full manufacturer name.
func (db *VendorDB) LongVendor(mac string) string {
	prefix, ok := normalizeOUI(mac)
	if !ok {
		return ""
	}
	if e, found := db.entries[prefix]; found {
		return e.long
	}
	return db.fallback(mac)
}

func (db *VendorDB) fallback(mac string) string {
	if db.base == nil {
		return "Unknown"
	}
	return db.base.Vendor(mac)
}

func (db *VendorDB) Len() int {
	return len(db.entries)
}

// normalizeOUI reduces "00:1A:2b", "00-1a-2b", "001A2B" or a full MAC to
// "001A2B".
func normalizeOUI(s string) (string, bool) {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == ':' || r == '-' || r == '.':
			continue
		case (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F'):
			b.WriteRune(r)
		default:
			return "", false
		}
		if b.Len() == 6 {
			break
		}
	}
	if b.Len() < 6 {
		return "", false
	}
	return strings.ToUpper(b.String()[:6]), true
}
