package ioreactor

import (
	"net"

	"github.com/joeycumines/go-ioreactor/blist"
)

// debugConnectionTable holds the parsed Config.DebugConnection entries
// (spec.md §6 debug_connection), scanned linearly per accepted connection —
// the same O(n) scan nginx's own ngx_cycle->debug_connection ngx_list_t
// performs, since this is a short, rarely-checked operator-supplied list,
// not a lookup structure large enough to justify a trie.
//
// Backed by blist.List rather than a plain slice so the listener registry's
// sibling [DOMAIN] module (SPEC_FULL.md §2) has a real, exercised caller.
type debugConnectionTable struct {
	entries *blist.List[net.IPNet]
}

// newDebugConnectionTable parses each entry of cidrs as a CIDR, or as a
// bare IP shorthand for a single-address match (nginx accepts both forms
// for debug_connection).
func newDebugConnectionTable(cidrs []string) (*debugConnectionTable, error) {
	t := &debugConnectionTable{entries: blist.New[net.IPNet](8)}
	for _, s := range cidrs {
		_, ipnet, err := net.ParseCIDR(s)
		if err != nil {
			ip := net.ParseIP(s)
			if ip == nil {
				return nil, WrapError("parse debug_connection entry "+s, err)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			ipnet = &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}
		}
		*t.entries.Push(net.IPNet{}) = *ipnet
	}
	return t, nil
}

// match reports whether ip falls within any configured entry.
func (t *debugConnectionTable) match(ip net.IP) bool {
	if t == nil || ip == nil {
		return false
	}
	var hit bool
	t.entries.Iterate(func(n *net.IPNet) bool {
		if n.Contains(ip) {
			hit = true
			return false
		}
		return true
	})
	return hit
}
