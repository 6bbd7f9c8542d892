package domain

import (
	"context"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"go4.org/netipx"
)

const MaxSubnetID = 255

// AddressPlan maps (subnet, host) pairs onto the deployment's IPv4 and IPv6
// ranges. IPv4 uses the third octet for the subnet and the fourth for the
// host. IPv6 writes both numbers as the last two groups using their decimal
// digits, which is the textual form existing deployments already carry.
type AddressPlan struct {
	V4 netip.Prefix
	V6 netip.Prefix
}

func DefaultAddressPlan() AddressPlan {
	return AddressPlan{
		V4: netip.MustParsePrefix("10.0.0.0/16"),
		V6: netip.MustParsePrefix("fdc9:281f:4d7:9ee9::/64"),
	}
}

type AddressPair struct {
	Host int
	V4   netip.Prefix
	V6   netip.Prefix
}

func (p AddressPair) AllowedIPs() []string {
	return []string{p.V4.String(), p.V6.String()}
}

func ValidateSubnetID(subnetID int) error {
	if subnetID < 0 || subnetID > MaxSubnetID {
		return fmt.Errorf("%w: subnet must be between 0 and %d", ErrInvalidInput, MaxSubnetID)
	}
	return nil
}

func (p AddressPlan) subnetPrefix(subnetID int) netip.Prefix {
	base := p.V4.Masked().Addr().As4()
	base[2] = byte(subnetID)
	return netip.PrefixFrom(netip.AddrFrom4(base), 24)
}

// MaxHost is the largest assignable host number, bounded by the IPv4 /24.
func (p AddressPlan) MaxHost() int {
	r := netipx.RangeOfPrefix(p.subnetPrefix(0))
	return int(r.To().As4()[3]) - 1
}

func (p AddressPlan) Pair(subnetID, host int) (AddressPair, error) {
	if err := ValidateSubnetID(subnetID); err != nil {
		return AddressPair{}, err
	}
	if host < 1 || host > p.MaxHost() {
		return AddressPair{}, fmt.Errorf("%w: host %d out of range", ErrInvalidInput, host)
	}

	v4 := p.subnetPrefix(subnetID).Addr().As4()
	v4[3] = byte(host)

	subnetGroup, err := decimalGroup(subnetID)
	if err != nil {
		return AddressPair{}, err
	}
	hostGroup, err := decimalGroup(host)
	if err != nil {
		return AddressPair{}, err
	}
	v6 := p.V6.Masked().Addr().As16()
	v6[12], v6[13] = byte(subnetGroup>>8), byte(subnetGroup)
	v6[14], v6[15] = byte(hostGroup>>8), byte(hostGroup)

	return AddressPair{
		Host: host,
		V4:   netip.PrefixFrom(netip.AddrFrom4(v4), 32),
		V6:   netip.PrefixFrom(netip.AddrFrom16(v6), 128),
	}, nil
}

// HostNumber returns the host part of an IPv4 address (or prefix) that lies
// inside subnetID. Anything else reports false.
func (p AddressPlan) HostNumber(subnetID int, cidr string) (int, bool) {
	addr, ok := parseAddr(cidr)
	if !ok || !addr.Is4() {
		return 0, false
	}
	subnet := p.subnetPrefix(subnetID)
	if !subnet.Contains(addr) {
		return 0, false
	}
	r := netipx.RangeOfPrefix(subnet)
	if addr == r.From() || addr == r.To() {
		return 0, false
	}
	return int(addr.As4()[3]), true
}

func parseAddr(value string) (netip.Addr, bool) {
	value = strings.TrimSpace(value)
	if strings.Contains(value, "/") {
		prefix, err := netip.ParsePrefix(value)
		if err != nil {
			return netip.Addr{}, false
		}
		return prefix.Addr(), true
	}
	addr, err := netip.ParseAddr(value)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr, true
}

func decimalGroup(n int) (uint16, error) {
	v, err := strconv.ParseUint(strconv.Itoa(n), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: cannot encode %d as address group", ErrInvalidInput, n)
	}
	return uint16(v), nil
}

// InterfaceAddress widens peer host addresses to the interface networks
// (/32 to /24, /128 to /112) for a client configuration.
func InterfaceAddress(allowedIPs []string) string {
	out := make([]string, 0, len(allowedIPs))
	for _, value := range allowedIPs {
		prefix, err := netip.ParsePrefix(value)
		if err != nil {
			out = append(out, value)
			continue
		}
		bits := prefix.Bits()
		switch {
		case prefix.Addr().Is4() && bits == 32:
			bits = 24
		case prefix.Addr().Is6() && bits == 128:
			bits = 112
		}
		out = append(out, netip.PrefixFrom(prefix.Addr(), bits).String())
	}
	return strings.Join(out, ", ")
}

type Allocator struct {
	plan     AddressPlan
	settings SettingsRepository
	peers    PeerRepository
}

func NewAllocator(plan AddressPlan, settings SettingsRepository, peers PeerRepository) *Allocator {
	return &Allocator{
		plan:     plan,
		settings: settings,
		peers:    peers,
	}
}

// Allocate reserves the lowest free address pair of subnetID and hands it
// to persist while the subnet is locked, so concurrent callers never receive
// the same host. persist must write through the repository it is given.
func (a *Allocator) Allocate(ctx context.Context, subnetID int, persist func(ctx context.Context, peers PeerRepository, pair AddressPair) error) error {
	if err := ValidateSubnetID(subnetID); err != nil {
		return err
	}
	settings, err := a.settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	return a.peers.WithSubnetLock(ctx, subnetID, func(ctx context.Context, peers PeerRepository) error {
		existing, err := peers.ListBySubnet(ctx, subnetID)
		if err != nil {
			return fmt.Errorf("list peers of subnet %d: %w", subnetID, err)
		}
		pair, err := a.Next(settings.Server, existing, subnetID)
		if err != nil {
			return err
		}
		return persist(ctx, peers, pair)
	})
}

// Next is the first-fit search over an already loaded subnet.
func (a *Allocator) Next(server ServerConfig, peers []Peer, subnetID int) (AddressPair, error) {
	if err := ValidateSubnetID(subnetID); err != nil {
		return AddressPair{}, err
	}

	used := make(map[int]struct{})
	for _, cidr := range server.Addresses {
		if host, ok := a.plan.HostNumber(subnetID, cidr); ok {
			used[host] = struct{}{}
		}
	}
	for _, peer := range peers {
		for _, cidr := range peer.AllowedIPs {
			if host, ok := a.plan.HostNumber(subnetID, cidr); ok {
				used[host] = struct{}{}
			}
		}
	}

	host, ok := NextHostNumber(used, a.plan.MaxHost())
	if !ok {
		return AddressPair{}, fmt.Errorf("%w: subnet %d", ErrAllocationExhausted, subnetID)
	}
	return a.plan.Pair(subnetID, host)
}

// NextHostNumber returns the smallest positive integer not in used.
func NextHostNumber(used map[int]struct{}, limit int) (int, bool) {
	for n := 1; n <= limit; n++ {
		if _, taken := used[n]; !taken {
			return n, true
		}
	}
	return 0, false
}
