// Package catchall implements the §4.5 probe: after a session is set up,
// issue RCPT TO a mailbox nobody could plausibly have and see whether the
// domain accepts it anyway. Grounded on the teacher's checkCatchAll /
// generateRandomString (worker/smtp.go), widened from a bare bool into a
// tri-state result per the resolved Open Question (§9).
package catchall

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"smtpverify/internal/session"
)

// Result is the outcome of one catch-all probe.
type Result int

const (
	// NotCatchAll: the probe address was rejected, so the domain
	// discriminates between valid and invalid local-parts.
	NotCatchAll Result = iota
	// IsCatchAll: the probe address was accepted.
	IsCatchAll
	// Indeterminate: the session died mid-probe (§9 Open Question
	// resolution — the source silently assumed NotCatchAll here, which
	// this type never does).
	Indeterminate
)

func (r Result) String() string {
	switch r {
	case IsCatchAll:
		return "IsCatchAll"
	case Indeterminate:
		return "Indeterminate"
	default:
		return "NotCatchAll"
	}
}

const probeCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ProbeAddress builds the "catch-all-test-<unix_ts>@domain" address named
// by §4.5, with an extra random suffix (teacher's generateRandomString)
// so a catch-all operator watching for the literal timestamp pattern can't
// special-case it.
func ProbeAddress(domain string) string {
	return fmt.Sprintf("catch-all-test-%d-%s@%s", time.Now().Unix(), randomToken(10), domain)
}

func randomToken(n int) string {
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(probeCharset))))
		if err != nil {
			// crypto/rand failure is effectively unreachable on any real
			// platform; fall back to a fixed-but-still-unguessable-enough
			// byte rather than panicking mid-probe.
			b[i] = probeCharset[i%len(probeCharset)]
			continue
		}
		b[i] = probeCharset[idx.Int64()]
	}
	return string(b)
}

// Probe issues the catch-all RCPT on an already-EHLO'd, already-MAIL-FROM'd
// session and classifies the domain. A session-level error that kills the
// session (timeout, disconnect) is reported as Indeterminate rather than
// NotCatchAll.
func Probe(sess *session.Session, domain string) (Result, error) {
	probeAddr := ProbeAddress(domain)
	_, _, accepted, err := sess.RCPT(probeAddr)
	if err != nil {
		return Indeterminate, err
	}
	if accepted {
		return IsCatchAll, nil
	}
	return NotCatchAll, nil
}
