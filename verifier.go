// Package smtpverify is the top-level façade over the SMTP probe engine:
// it wires together address parsing, the domain dispatcher, and the
// verdict aggregator into the single entry point described in §6.
package smtpverify

import (
	"context"

	"smtpverify/internal/address"
	"smtpverify/internal/config"
	"smtpverify/internal/diag"
	"smtpverify/internal/dispatch"
	"smtpverify/internal/transport"
	"smtpverify/internal/verdict"
)

// Options re-exports the Configuration Facet so callers never need to
// import internal/config directly.
type Options = config.Options

// Timeouts re-exports the seven named per-command deadlines.
type Timeouts = config.Timeouts

// Results re-exports the RunResults shape.
type Results = verdict.Results

// DefaultTimeouts returns the §4.4 defaults.
func DefaultTimeouts() Timeouts { return config.DefaultTimeouts() }

// Verifier owns at most one live transport at a time (§3 Lifecycle). A
// single instance is not safe for concurrent use; callers verifying many
// domains in parallel construct one Verifier per goroutine, exactly as
// cmd/worker's pool does.
type Verifier struct {
	opts config.Options
	dial transport.Dialer
	log  *diag.Log
}

// New builds a Verifier. dial is the transport to use for every MX
// connection this Verifier makes (transport.Direct, transport.SOCKS5, or
// transport.HTTPConnectTunnel); pass transport.Direct{} for the common
// case. debugSink, if non-nil, mirrors every diagnostics entry as it's
// appended (§4.8).
func New(opts config.Options, dial transport.Dialer, debugSink diag.Sink) *Verifier {
	return &Verifier{
		opts: opts.WithDefaults(),
		dial: dial,
		log:  diag.New(debugSink),
	}
}

// Log returns the diagnostics entries for the most recent Verify call
// (§4.8: "cleared at the start of each run").
func (v *Verifier) Log() []string {
	return v.log.Entries()
}

// Verify runs one pass over emails, grouped by domain, using mxs[domain]
// as that domain's MXList (§3). Malformed addresses are rejected
// individually and never reach the dispatcher; every other address gets a
// verdict in the returned Results.
func (v *Verifier) Verify(ctx context.Context, emails []string, mxs map[string][]string) *Results {
	v.log.Reset()

	batch := address.NewDomainBatch()
	agg := verdict.NewAggregator(v.opts)

	for _, raw := range emails {
		if err := batch.Add(raw); err != nil {
			v.log.Logf("❌ %v", err)
			agg.RecordRejected(raw)
			continue
		}
	}

	d := dispatch.New(v.opts, v.dial, v.log)
	for _, domain := range batch.Domains() {
		localParts := batch.LocalParts(domain)
		addrs := make([]string, len(localParts))
		for i, lp := range localParts {
			addrs[i] = batch.RawFor(domain, lp)
		}
		d.Domain(ctx, domain, addrs, mxs[domain], agg)
	}

	return agg.Results()
}
