package ratelimit

import (
	"fmt"
	"net/netip"
)

// Subnet applies netmask to the given address and returns the
// normalized "prefix/netmask" string used as a rate-limit entity id.
// IPv4 and IPv6 are detected automatically.
func Subnet(address string, netmask int) (string, error) {
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return "", fmt.Errorf("ratelimit: not a valid IP address: %q", address)
	}
	prefix, err := addr.Prefix(netmask)
	if err != nil {
		return "", fmt.Errorf("ratelimit: netmask %d not valid for %q", netmask, address)
	}
	return prefix.String(), nil
}

// subnetForRule resolves the rule's netmask, falling back to the
// address-family default.
func subnetForRule(address string, r Rule) (string, error) {
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return "", fmt.Errorf("ratelimit: not a valid IP address: %q", address)
	}
	var netmask int
	if addr.Is4() {
		netmask = DefaultNetmaskIPv4
		if r.NetmaskIPv4 != nil {
			netmask = *r.NetmaskIPv4
		}
	} else {
		netmask = DefaultNetmaskIPv6
		if r.NetmaskIPv6 != nil {
			netmask = *r.NetmaskIPv6
		}
	}
	return Subnet(address, netmask)
}
