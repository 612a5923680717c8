package discover

import (
	"time"

	"github.com/ledgerwatch/nodecore/enode"
	"github.com/ledgerwatch/nodecore/rlpx"
)

// ListenMode enumerates the DiscoveryConfig.listen variants.
type ListenMode int

const (
	ListenIp4 ListenMode = iota
	ListenIp6
	ListenDual
)

// Config carries every knob the discovery coordinator takes: listen
// sockets, bootstrap set, fork id, advertised ports and the peer filter.
// Build it through ConfigBuilder, which applies defaults.
type Config struct {
	Listen    ListenMode
	Ipv4      string
	Ipv4Port  uint16
	Ipv6      string
	Ipv6Port  uint16
	IpMode    enode.IpMode

	Bootstrap []enode.BootNode

	ForkIDKey string
	ForkID    rlpx.ForkID

	AdvertisedTCPPort uint16

	ExtraENRKV map[string][]byte

	AllowNoTCPDiscoveredNodes bool

	SelfLookupInterval time.Duration

	Filter Filter
}

// ConfigBuilder accumulates options before Build applies defaults,
// grounded on original_source's DiscV5ConfigBuilder shape.
type ConfigBuilder struct {
	cfg Config
}

// NewConfigBuilder starts a builder with the standard defaults:
// AdvertisedTCPPort 30303, SelfLookupInterval 60s, AllowNoTCPDiscoveredNodes
// false, ForkIDKey "fork_id_key", and an AllowAllFilter.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{cfg: Config{
		AdvertisedTCPPort:  30303,
		SelfLookupInterval: 60 * time.Second,
		ForkIDKey:          "fork_id_key",
		Filter:             AllowAllFilter{},
		ExtraENRKV:         make(map[string][]byte),
		IpMode:             enode.Ip4,
	}}
}

func (b *ConfigBuilder) ListenIpv4(ip string, port uint16) *ConfigBuilder {
	b.cfg.Listen, b.cfg.Ipv4, b.cfg.Ipv4Port, b.cfg.IpMode = ListenIp4, ip, port, enode.Ip4
	return b
}

func (b *ConfigBuilder) ListenIpv6(ip string, port uint16) *ConfigBuilder {
	b.cfg.Listen, b.cfg.Ipv6, b.cfg.Ipv6Port, b.cfg.IpMode = ListenIp6, ip, port, enode.Ip6
	return b
}

func (b *ConfigBuilder) ListenDual(ip4 string, port4 uint16, ip6 string, port6 uint16) *ConfigBuilder {
	b.cfg.Listen = ListenDual
	b.cfg.Ipv4, b.cfg.Ipv4Port = ip4, port4
	b.cfg.Ipv6, b.cfg.Ipv6Port = ip6, port6
	b.cfg.IpMode = enode.DualStack
	return b
}

func (b *ConfigBuilder) AddSerializedBootNodes(csv string) *ConfigBuilder {
	b.cfg.Bootstrap = append(b.cfg.Bootstrap, enode.ParseSignedBootNodes(csv)...)
	return b
}

func (b *ConfigBuilder) AddEnodeBootNodes(csv string) *ConfigBuilder {
	b.cfg.Bootstrap = append(b.cfg.Bootstrap, enode.ParseLegacyBootNodes(csv)...)
	return b
}

func (b *ConfigBuilder) ForkID(key string, id rlpx.ForkID) *ConfigBuilder {
	b.cfg.ForkIDKey, b.cfg.ForkID = key, id
	return b
}

func (b *ConfigBuilder) AdvertiseTCPPort(port uint16) *ConfigBuilder {
	b.cfg.AdvertisedTCPPort = port
	return b
}

func (b *ConfigBuilder) ExtraKV(key string, value []byte) *ConfigBuilder {
	b.cfg.ExtraENRKV[key] = value
	return b
}

func (b *ConfigBuilder) AllowNoTCP(allow bool) *ConfigBuilder {
	b.cfg.AllowNoTCPDiscoveredNodes = allow
	return b
}

func (b *ConfigBuilder) SelfLookupEvery(d time.Duration) *ConfigBuilder {
	b.cfg.SelfLookupInterval = d
	return b
}

func (b *ConfigBuilder) WithFilter(f Filter) *ConfigBuilder {
	b.cfg.Filter = f
	return b
}

func (b *ConfigBuilder) Build() Config { return b.cfg }
