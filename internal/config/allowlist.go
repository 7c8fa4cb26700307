package config

import (
	"fmt"
	"net"
	"strings"
	"sync/atomic"
)

type allowSet struct {
	addrs map[string]struct{}
	nets  []*net.IPNet
}

// AllowList is the set of source addresses admitted by the gateway. Entries
// are exact addresses, compared in canonical form, or CIDR blocks. It can be swapped atomically while
// requests are being served; an empty list admits nobody.
type AllowList struct {
	set atomic.Pointer[allowSet]
}

// NewAllowList creates a new AllowList from entries.
func NewAllowList(entries []string) (*AllowList, error) {
	l := &AllowList{}
	if err := l.Replace(entries); err != nil {
		return nil, err
	}
	return l, nil
}

// Replace swaps the list contents. On error the previous contents are kept.
func (l *AllowList) Replace(entries []string) error {
	s := &allowSet{addrs: make(map[string]struct{}, len(entries))}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			_, n, err := net.ParseCIDR(e)
			if err != nil {
				return fmt.Errorf("invalid allow-list entry %q: %w", e, err)
			}
			s.nets = append(s.nets, n)
			continue
		}
		if ip := net.ParseIP(e); ip != nil {
			e = ip.String()
		}
		s.addrs[e] = struct{}{}
	}
	l.set.Store(s)
	return nil
}

// Contains reports whether addr is admitted.
func (l *AllowList) Contains(addr string) bool {
	s := l.set.Load()
	if s == nil {
		return false
	}
	ip := net.ParseIP(addr)
	if ip != nil {
		addr = ip.String()
	}
	if _, ok := s.addrs[addr]; ok {
		return true
	}
	if ip == nil {
		return false
	}
	for _, n := range s.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Len returns the number of entries.
func (l *AllowList) Len() int {
	s := l.set.Load()
	if s == nil {
		return 0
	}
	return len(s.addrs) + len(s.nets)
}
