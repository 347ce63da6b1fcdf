// Package subnet parses network unit patterns and matches client addresses
// against them.
//
// Accepted forms:
//   - 131.169.0.0/16 (prefix length)
//   - 131.169.0.0/255.255.0.0 (dotted mask, IPv4 only)
//   - 2001:638:700::0/48
//   - 131.169.214.149 (bare address, host route)
//   - ::ffff:131.169.0.0/112 (IPv4-mapped, reduced to 131.169.0.0/16)
package subnet

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// ErrInvalid is returned for any pattern or address that does not parse
var ErrInvalid = errors.New("invalid subnet")

// Subnet is a network base with a prefix length. The zero value matches
// nothing.
type Subnet struct {
	prefix netip.Prefix
}

// Parse parses a subnet pattern
func Parse(s string) (Subnet, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Subnet{}, fmt.Errorf("%w: empty pattern", ErrInvalid)
	}

	addrPart, maskPart, hasMask := strings.Cut(s, "/")
	addr, err := netip.ParseAddr(addrPart)
	if err != nil {
		return Subnet{}, fmt.Errorf("%w: %q: %v", ErrInvalid, s, err)
	}
	addr = addr.WithZone("")

	bits := addr.BitLen()
	if hasMask {
		bits, err = parseMask(addr, maskPart)
		if err != nil {
			return Subnet{}, fmt.Errorf("%w: %q: %v", ErrInvalid, s, err)
		}
	}

	// ::ffff:a.b.c.d/n covers the IPv4 prefix of length n-96
	if addr.Is4In6() {
		if bits < 96 {
			return Subnet{}, fmt.Errorf("%w: %q: mapped prefix length %d below 96", ErrInvalid, s, bits)
		}
		addr, bits = addr.Unmap(), bits-96
	}

	prefix, err := addr.Prefix(bits)
	if err != nil {
		return Subnet{}, fmt.Errorf("%w: %q: %v", ErrInvalid, s, err)
	}
	return Subnet{prefix: prefix}, nil
}

// MustParse is Parse for patterns known to be valid
func MustParse(s string) Subnet {
	sn, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return sn
}

func parseMask(addr netip.Addr, mask string) (int, error) {
	if mask == "" {
		return 0, errors.New("empty mask")
	}

	if n, err := strconv.Atoi(mask); err == nil {
		if n < 0 || n > addr.BitLen() {
			return 0, fmt.Errorf("prefix length %d out of range", n)
		}
		return n, nil
	}

	if !addr.Is4() {
		return 0, fmt.Errorf("dotted mask %q only valid for IPv4", mask)
	}
	m, err := netip.ParseAddr(mask)
	if err != nil || !m.Is4() {
		return 0, fmt.Errorf("bad mask %q", mask)
	}
	b := m.As4()
	ones, total := net.IPv4Mask(b[0], b[1], b[2], b[3]).Size()
	if total == 0 {
		return 0, fmt.Errorf("non-contiguous mask %q", mask)
	}
	return ones, nil
}

// ParseAddr parses a client address. IPv4-mapped IPv6 addresses are
// reduced to IPv4.
func ParseAddr(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: address %q: %v", ErrInvalid, s, err)
	}
	return addr.Unmap().WithZone(""), nil
}

// Contains reports whether addr lies inside the subnet. Addresses of the
// other family never match.
func (s Subnet) Contains(addr netip.Addr) bool {
	return s.prefix.Contains(addr)
}

// Bits returns the prefix length, or -1 for the zero Subnet
func (s Subnet) Bits() int {
	return s.prefix.Bits()
}

// Is4 reports whether the subnet is IPv4
func (s Subnet) Is4() bool {
	return s.prefix.Addr().Is4()
}

// IsValid is false only for the zero Subnet
func (s Subnet) IsValid() bool {
	return s.prefix.IsValid()
}

// String returns the canonical addr/len form
func (s Subnet) String() string {
	if !s.prefix.IsValid() {
		return ""
	}
	return s.prefix.String()
}
