package engine

import (
	"net"

	"gonetcut/internal/platform"
)

// Platform is every OS facility the engine touches. Tests replace the
// functions with fakes.
type Platform struct {
	LookupInterface func(name string) (*platform.Interface, error)
	DefaultGateway  func() (net.IP, error)
	OpenLive        func(iface string, cfg platform.CaptureConfig) (platform.Capture, error)
	OpenOffline     func(path, filter string) (platform.Capture, error)
	NewRawSender    func() (platform.RawSender, error)
	ARPTable        platform.ARPTable
	Forwarder       platform.IPForwarder
}

func SystemPlatform() Platform {
	return Platform{
		LookupInterface: platform.LookupInterface,
		DefaultGateway:  platform.DefaultGateway,
		OpenLive:        platform.OpenLive,
		OpenOffline:     platform.OpenOffline,
		NewRawSender: func() (platform.RawSender, error) {
			return platform.NewIPv4RawSender()
		},
		ARPTable:  platform.SystemARPTable{},
		Forwarder: platform.SysctlForwarder{},
	}
}
