package stdlib

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/lemonberrylabs/ruleengine/pkg/types"
)

// registerIP registers address range functions.
func (r *Registry) registerIP() {
	r.Register("ip_in_range", 2, 2, ipInRange)
	r.Register("ip_in_ranges", 2, Variadic, ipInRanges)
}

// ipRange is an inclusive address interval.
type ipRange struct {
	lo, hi netip.Addr
}

func (r ipRange) contains(a netip.Addr) bool {
	return a.BitLen() == r.lo.BitLen() && a.Compare(r.lo) >= 0 && a.Compare(r.hi) <= 0
}

// parseRange accepts a CIDR prefix, a "first-last" interval or a single address.
func parseRange(s string) (ipRange, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return ipRange{}, err
		}
		p = p.Masked()
		return ipRange{lo: p.Addr().Unmap(), hi: lastAddr(p).Unmap()}, nil
	}
	if first, last, ok := strings.Cut(s, "-"); ok {
		lo, err := netip.ParseAddr(strings.TrimSpace(first))
		if err != nil {
			return ipRange{}, err
		}
		hi, err := netip.ParseAddr(strings.TrimSpace(last))
		if err != nil {
			return ipRange{}, err
		}
		lo, hi = lo.Unmap(), hi.Unmap()
		if lo.BitLen() != hi.BitLen() || lo.Compare(hi) > 0 {
			return ipRange{}, fmt.Errorf("invalid interval %q", s)
		}
		return ipRange{lo: lo, hi: hi}, nil
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return ipRange{}, err
	}
	a = a.Unmap()
	return ipRange{lo: a, hi: a}, nil
}

// lastAddr returns the highest address in the masked prefix p.
func lastAddr(p netip.Prefix) netip.Addr {
	b := p.Addr().AsSlice()
	for i := p.Bits(); i < len(b)*8; i++ {
		b[i/8] |= 0x80 >> (i % 8)
	}
	a, _ := netip.AddrFromSlice(b)
	return a
}

// parseIP returns false for anything that is not an address; such values are
// simply never in range.
func parseIP(v types.Value) (netip.Addr, bool) {
	a, err := netip.ParseAddr(strings.TrimSpace(types.ToString(v)))
	if err != nil {
		return netip.Addr{}, false
	}
	return a.Unmap(), true
}

func ipInRange(args []types.Value) (types.Value, error) {
	return ipInRanges(args)
}

// ipInRanges implements ip_in_ranges(ip, range...). Array ranges are expanded.
func ipInRanges(args []types.Value) (types.Value, error) {
	ranges := flatten(args[1:])
	parsed := make([]ipRange, len(ranges))
	for i, rv := range ranges {
		r, err := parseRange(types.ToString(rv))
		if err != nil {
			return types.Null, types.NewInvalidArgumentError("ip_in_range",
				fmt.Sprintf("invalid range %q: %v", types.ToString(rv), err))
		}
		parsed[i] = r
	}
	addr, ok := parseIP(args[0])
	if !ok {
		return types.False, nil
	}
	for _, r := range parsed {
		if r.contains(addr) {
			return types.True, nil
		}
	}
	return types.False, nil
}
