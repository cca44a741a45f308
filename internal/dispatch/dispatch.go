// Package dispatch is the Domain Dispatcher (§4.6): for each domain it
// selects MX host(s) per policy, drives one Session per attempt, and
// accumulates per-address verdicts. It collapses the source's duplicated
// validate/validateAllMx/cnSend into one procedure parameterized by
// {ProbeAllMX, Transport} (§9).
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"smtpverify/internal/catchall"
	"smtpverify/internal/classify"
	"smtpverify/internal/config"
	"smtpverify/internal/diag"
	"smtpverify/internal/session"
	"smtpverify/internal/transport"
	"smtpverify/internal/verdict"
)

// Dispatcher runs the per-domain procedure described in §4.6.
type Dispatcher struct {
	opts  config.Options
	dial  transport.Dialer
	log   *diag.Log
}

// New returns a Dispatcher that dials through dial and logs to log (log
// may be nil).
func New(opts config.Options, dial transport.Dialer, log *diag.Log) *Dispatcher {
	return &Dispatcher{opts: opts.WithDefaults(), dial: dial, log: log}
}

func (d *Dispatcher) logf(format string, args ...interface{}) {
	if d.log != nil {
		d.log.Logf(format, args...)
	}
}

// Domain runs the full per-domain procedure against agg, recording every
// address's verdict. addrs are the raw (case-preserved) input strings for
// this domain; mxList is the caller-supplied MX hostnames (§3 MXList).
func (d *Dispatcher) Domain(ctx context.Context, domain string, addrs, mxList []string, agg *verdict.Aggregator) {
	agg.SetDomainInfo(domain, addrs, mxList)

	if len(mxList) == 0 {
		d.logf("❌ [%s] no MX hosts supplied", domain)
		agg.RecordConnFailure(addrs, fmt.Sprintf("no MX hosts supplied for %s", domain))
		return
	}

	sorted := make([]string, len(mxList))
	copy(sorted, mxList)
	sort.Strings(sorted)

	probeAll := d.opts.ProbeAllMX[domain]
	var hosts []string
	if probeAll {
		hosts = sorted
	} else {
		hosts = []string{sorted[d.pickIndex(len(sorted))]}
	}

	// pending preserves addrs' original relative order throughout (§5:
	// "RCPT TO probes occur in input order"); a map would scramble it.
	pending := make([]string, len(addrs))
	copy(pending, addrs)

	var lastFailure error
	for _, host := range hosts {
		if len(pending) == 0 {
			break
		}
		err := d.attemptMX(ctx, domain, host, pending, agg)
		if err != nil {
			lastFailure = err
			d.logf("❌ [%s] attempt on %s failed: %v", domain, host, err)
			continue
		}
		lastFailure = nil
		remaining := pending[:0]
		for _, a := range pending {
			if !agg.Results().Verdicts[a].Truthy() {
				remaining = append(remaining, a)
			}
		}
		pending = remaining
		if !probeAll {
			break
		}
	}

	if lastFailure != nil && len(pending) > 0 {
		var connErr *transport.NoConnection
		if errors.As(lastFailure, &connErr) {
			agg.RecordConnFailure(pending, lastFailure.Error())
		} else {
			agg.RecordCommFailure(pending, lastFailure.Error())
		}
	}
}

func (d *Dispatcher) pickIndex(n int) int {
	if n <= 1 {
		return 0
	}
	if d.opts.RandIntn != nil {
		return d.opts.RandIntn(n)
	}
	return rand.Intn(n)
}

// attemptMX runs exactly one Session against host for the given pending
// addresses, recording verdicts into agg as it goes. A non-nil error means
// the whole attempt failed before conclusively resolving every address;
// the caller decides whether to retry on another MX (probe-all policy) or
// bulk-fail (single-MX policy).
func (d *Dispatcher) attemptMX(ctx context.Context, domain, host string, addrs []string, agg *verdict.Aggregator) error {
	dialStart := time.Now()
	conn, err := d.dial.Dial(ctx, host, d.opts.Port, d.opts.Timeouts.Connected)
	if err != nil {
		return err
	}

	sess := session.New(conn, host, d.opts, d.log)
	closeSession := func() {
		if sess.Alive() {
			sess.Quit()
		}
		_ = sess.Close()
	}

	if _, err := sess.Banner(); err != nil {
		_ = sess.Close()
		return err
	}
	if d.opts.DialObserver != nil {
		d.opts.DialObserver(domain, time.Since(dialStart).Seconds())
	}

	if err := sess.EHLO(d.opts.SenderDomain); err != nil {
		_ = sess.Close()
		return err
	}

	if err := sess.MailFrom(d.opts.Sender()); err != nil {
		_ = sess.Close()
		return err
	}

	if d.opts.CatchallTest {
		result, probeErr := catchall.Probe(sess, domain)
		switch result {
		case catchall.IsCatchAll:
			agg.ApplyCatchAll(domain, addrs)
			closeSession()
			return nil
		case catchall.Indeterminate:
			agg.ApplyCatchAllIndeterminate(domain)
			if !sess.Alive() {
				_ = sess.Close()
				return probeErr
			}
		default:
			agg.ApplyNotCatchAll(domain)
		}
	}

	first := true
	for _, addr := range addrs {
		if !first {
			if alive := sess.NOOP(); !alive && !sess.Alive() {
				break
			}
		}
		first = false
		if !sess.Alive() {
			break
		}
		text, code, accepted, rcptErr := sess.RCPT(addr)
		if rcptErr != nil {
			break
		}
		switch {
		case accepted:
			agg.RecordAccepted(addr, text)
		case classify.IsGreylist(code):
			agg.RecordGreylisted(addr, text)
		default:
			agg.RecordRejected(addr)
		}
	}

	if !sess.Alive() {
		_ = sess.Close()
		return fmt.Errorf("session to %s died mid-conversation", host)
	}

	closeSession()
	return nil
}
