// Package resolve looks up a domain's MX hosts and decides whether that
// domain is even worth probing, via github.com/miekg/dns rather than
// net.LookupMX. The validation policy (RFC 7505 null-MX rejection, a
// literal "localhost." disqualifying every other MX, DNS temp-failure
// vs permanent-failure distinction) is grounded on Loweel-sinksmtp's
// ValidDomain/checkIP (mxresolve.go); the lookup mechanics are our own,
// built on the resolver library the rest of the ambient stack uses.
package resolve

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/miekg/dns"
)

// Status is the outcome of resolving one domain's MX records.
type Status int

const (
	// Undetermined: no MX records seen and no error either (shouldn't
	// normally occur; treated like StatusBad by callers).
	Undetermined Status = iota
	// StatusBad: the domain is not a valid delivery target (null MX,
	// NXDOMAIN, no MX records, "." or localhost MX). MX hosts are not
	// resolved to IPs, so unroutable addresses are not detected.
	StatusBad
	// StatusTempFail: the DNS query itself failed transiently (SERVFAIL,
	// timeout) and should be retried later rather than treated as a
	// permanent rejection.
	StatusTempFail
	// StatusGood: at least one usable MX host was found.
	StatusGood
)

// Result is a resolved domain: its usable MX hosts in preference order,
// plus the Status explaining an empty Hosts list.
type Result struct {
	Status Status
	Hosts  []string
	Err    error
}

// Resolver looks up MX records through a configurable DNS server,
// defaulting to the system resolver's configured nameserver via
// /etc/resolv.conf when Server is empty.
type Resolver struct {
	Server string // "host:port"; empty uses the system default
	Client *dns.Client
}

// New returns a Resolver with a sane default dns.Client (UDP, teacher's
// general pattern of short fixed connect/read timeouts rather than a
// context-only deadline).
func New(server string) *Resolver {
	return &Resolver{Server: server, Client: new(dns.Client)}
}

// Lookup resolves domain's MX records and validates them per the policy
// above. A bare A/AAAA fallback is intentionally not attempted: a domain
// advertising no MX at all is not a mail domain worth probing.
func (r *Resolver) Lookup(ctx context.Context, domain string) Result {
	fqdn := dns.Fqdn(domain)
	msg := new(dns.Msg)
	msg.SetQuestion(fqdn, dns.TypeMX)
	msg.RecursionDesired = true

	server := r.Server
	if server == "" {
		server = systemResolver()
	}

	in, _, err := r.Client.ExchangeContext(ctx, msg, server)
	if err != nil {
		return Result{Status: StatusTempFail, Err: fmt.Errorf("MX query for %s: %w", domain, err)}
	}

	switch in.Rcode {
	case dns.RcodeNameError:
		return Result{Status: StatusBad, Err: fmt.Errorf("%s: no such domain", domain)}
	case dns.RcodeServerFailure, dns.RcodeRefused:
		return Result{Status: StatusTempFail, Err: fmt.Errorf("%s: DNS server failure (rcode %d)", domain, in.Rcode)}
	case dns.RcodeSuccess:
		// fall through
	default:
		return Result{Status: StatusTempFail, Err: fmt.Errorf("%s: unexpected rcode %d", domain, in.Rcode)}
	}

	type pref struct {
		host string
		p    uint16
	}
	var mxs []pref
	for _, rr := range in.Answer {
		mx, ok := rr.(*dns.MX)
		if !ok {
			continue
		}
		mxs = append(mxs, pref{host: strings.ToLower(mx.Mx), p: mx.Preference})
	}

	if len(mxs) == 0 {
		return Result{Status: StatusBad, Err: fmt.Errorf("%s: no MX records", domain)}
	}

	for _, m := range mxs {
		if m.p == 0 && (m.host == "." || m.host == "") {
			return Result{Status: StatusBad, Err: fmt.Errorf("%s: RFC 7505 null MX", domain)}
		}
		if m.host == "." || m.host == "localhost." {
			return Result{Status: StatusBad, Err: fmt.Errorf("%s: bogus MX %d %s", domain, m.p, m.host)}
		}
	}

	sort.Slice(mxs, func(i, j int) bool { return mxs[i].p < mxs[j].p })
	hosts := make([]string, len(mxs))
	for i, m := range mxs {
		hosts[i] = strings.TrimSuffix(m.host, ".")
	}
	return Result{Status: StatusGood, Hosts: hosts}
}

func systemResolver() string {
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(cfg.Servers) == 0 {
		return "127.0.0.1:53"
	}
	return cfg.Servers[0] + ":" + cfg.Port
}
