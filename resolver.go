/*
	ipwatch - an IP reputation notifier by ScraperWall
	Copyright (C) 2021 ScraperWall, Tobias von Dewitz <tobias@scraperwall.com>

	This program is free software: you can redistribute it and/or modify it
	under the terms of the GNU Affero General Public License as published by
	the Free Software Foundation, either version 3 of the License, or (at your
	option) any later version.

	This program is distributed in the hope that it will be useful, but WITHOUT
	ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
	FITNESS FOR A PARTICULAR PURPOSE. See the GNU Affero General Public License
	for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program. If not, see <https://www.gnu.org/licenses/>.
*/

package ipwatch

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/ReneKroon/ttlcache/v2"
	"github.com/miekg/dns"
	log "github.com/sirupsen/logrus"
)

// Resolver looks up the reverse hostname of an IP and caches the result
type Resolver struct {
	dnsServer string
	client    *dns.Client
	cache     *ttlcache.Cache
}

// NewResolver creates a Resolver that queries dnsServer (host:port).
// Hostnames are cached for ttl
func NewResolver(dnsServer string, ttl, timeout time.Duration) *Resolver {
	r := &Resolver{
		dnsServer: dnsServer,
		client:    &dns.Client{Timeout: timeout},
		cache:     ttlcache.NewCache(),
	}
	if ttl > 0 {
		r.cache.SetTTL(ttl)
	}

	return r
}

// Lookup returns the PTR record of ip without the trailing dot.
// An empty string means the IP has no reverse hostname
func (r *Resolver) Lookup(ip string) (string, error) {
	if cached, err := r.cache.Get(ip); err == nil {
		log.Tracef("cache %s = %s", ip, cached)
		return cached.(string), nil
	}

	hostname, err := r.reverseDNSLookup(net.ParseIP(ip))
	if err != nil {
		return "", err
	}

	if err := r.cache.Set(ip, hostname); err != nil {
		log.Errorf("failed to write %s (%s) to the cache: %s", ip, hostname, err)
	}

	return hostname, nil
}

// Close stops the cache
func (r *Resolver) Close() error {
	return r.cache.Close()
}

func (r *Resolver) reverseDNSLookup(ip net.IP) (string, error) {
	if ip == nil {
		return "", fmt.Errorf("ip is nil")
	}

	reverse, err := dns.ReverseAddr(ip.String())
	if err != nil {
		return "", err
	}

	p := new(dns.Msg)
	p.Id = dns.Id()
	p.RecursionDesired = true
	p.SetQuestion(reverse, dns.TypePTR)

	resp, _, err := r.client.Exchange(p, r.dnsServer)
	if err != nil {
		log.Warnf("dns exchange error for %s: %s", ip, err)
		return "", err
	}

	for _, answer := range resp.Answer {
		if t, ok := answer.(*dns.PTR); ok {
			return strings.TrimSuffix(t.Ptr, "."), nil
		}
	}

	log.Tracef("no PTR record for %s", ip)
	return "", nil
}
