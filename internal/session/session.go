// Package session drives one SMTP conversation up to — but never including
// — the DATA phase (§4.4). It owns exactly one net.Conn at a time and
// enforces the legal transition DAG {helo_done, mail_done, rcpt_done}.
package session

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"smtpverify/internal/classify"
	"smtpverify/internal/config"
	"smtpverify/internal/diag"
	"smtpverify/internal/wire"
)

// Kind is the taxonomy of session-level failures from §7.
type Kind int

const (
	KindNoConnection Kind = iota
	KindTimeout
	KindNoResponse
	KindUnexpectedResponse
	KindSendFailed
	KindNoHelo
	KindNoMailFrom
)

func (k Kind) String() string {
	switch k {
	case KindNoConnection:
		return "NoConnection"
	case KindTimeout:
		return "Timeout"
	case KindNoResponse:
		return "NoResponse"
	case KindUnexpectedResponse:
		return "UnexpectedResponse"
	case KindSendFailed:
		return "SendFailed"
	case KindNoHelo:
		return "NoHelo"
	case KindNoMailFrom:
		return "NoMailFrom"
	default:
		return "Unknown"
	}
}

// Error is the single typed failure every session step returns instead of
// the source's per-kind exceptions (§9 "Exceptions as control flow").
type Error struct {
	Kind   Kind
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("session: %s: %s", e.Kind, e.Detail)
}

// State is the three-flag transition tuple from §3.
type State struct {
	HeloDone bool
	MailDone bool
	RcptDone bool
}

// Session is a fresh per-MX-attempt value, eliminating the "member fields
// mutated mid-iteration" bug the source has (§9 "Global/instance state").
type Session struct {
	conn   net.Conn
	reader *bufio.Reader
	opts   config.Options
	log    *diag.Log
	host   string

	state State
	dead  bool // set once any fatal error or 421 has been observed
}

// New wraps conn (already connected by internal/transport) into a Session
// ready to read the banner.
func New(conn net.Conn, host string, opts config.Options, log *diag.Log) *Session {
	return &Session{
		conn:   conn,
		reader: bufio.NewReader(conn),
		opts:   opts,
		log:    log,
		host:   host,
	}
}

// State returns a copy of the current transition flags.
func (s *Session) State() State { return s.state }

// Alive reports whether the session can still accept further commands
// (connected() in the spec's NOOP-failure handling, §4.4).
func (s *Session) Alive() bool { return !s.dead }

func (s *Session) setDeadline(d time.Duration) {
	_ = s.conn.SetReadDeadline(time.Now().Add(d))
}

func (s *Session) logf(format string, args ...interface{}) {
	if s.log != nil {
		s.log.Logf(format, args...)
	}
}

func (s *Session) send(cmd string) error {
	if err := wire.WriteCommand(s.conn, cmd); err != nil {
		s.dead = true
		return &Error{Kind: KindSendFailed, Detail: fmt.Sprintf("write to %s: %v", s.host, err)}
	}
	s.logf("-> %s", strings.TrimSpace(cmd))
	return nil
}

func (s *Session) recv(timeout time.Duration) (wire.Reply, error) {
	s.setDeadline(timeout)
	reply, err := wire.ReadReply(s.reader)
	if err != nil {
		switch {
		case errors.Is(err, wire.ErrNoResponse):
			s.dead = true
			return wire.Reply{}, &Error{Kind: KindNoResponse, Detail: fmt.Sprintf("%s: EOF waiting for reply", s.host)}
		case errors.Is(err, wire.ErrTimeout):
			s.dead = true
			return wire.Reply{}, &Error{Kind: KindTimeout, Detail: fmt.Sprintf("%s: read timeout after %s", s.host, timeout)}
		default:
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				s.dead = true
				return wire.Reply{}, &Error{Kind: KindTimeout, Detail: fmt.Sprintf("%s: read timeout after %s", s.host, timeout)}
			}
			s.dead = true
			return wire.Reply{}, &Error{Kind: KindNoResponse, Detail: fmt.Sprintf("%s: %v", s.host, err)}
		}
	}
	s.logf("<- %s", strings.ReplaceAll(reply.Text, "\r\n", " | "))
	return reply, nil
}

// expect reads one reply and checks its code against the expected set (and
// the always-fatal 421), returning the reply so callers can extract its
// text on success.
func (s *Session) expect(timeout time.Duration, expected ...int) (wire.Reply, error) {
	reply, err := s.recv(timeout)
	if err != nil {
		return reply, err
	}
	if classify.IsServiceUnavailable(reply.Code) {
		s.dead = true
		return reply, &Error{Kind: KindUnexpectedResponse, Detail: fmt.Sprintf("%s: 421 %s", s.host, reply.Text)}
	}
	for _, code := range expected {
		if reply.Code == code {
			return reply, nil
		}
	}
	s.dead = true
	return reply, &Error{Kind: KindUnexpectedResponse, Detail: fmt.Sprintf("%s: unexpected %d (wanted %v): %s", s.host, reply.Code, expected, reply.Text)}
}

// Banner reads the connect greeting. Per §4.4: "expect 220 within
// connected timeout. If not received, fail Inconclusive(banner) and
// close."
func (s *Session) Banner() (wire.Reply, error) {
	return s.expect(s.opts.Timeouts.Connected, 220)
}

// EHLO sends EHLO <fromDomain> and expects 250. No HELO fallback (§4.4:
// "does not fall back to HELO").
func (s *Session) EHLO(fromDomain string) error {
	if err := s.send(fmt.Sprintf("EHLO %s", fromDomain)); err != nil {
		return err
	}
	if _, err := s.expect(s.opts.Timeouts.EHLO, 250); err != nil {
		return err
	}
	s.state.HeloDone = true
	return nil
}

// MailFrom sends MAIL FROM:<sender> (sender may be empty, rendered as
// "<>"). On an unexpected reply the socket is force-closed without QUIT
// (§4.4: "some MTAs drop after rejecting MAIL FROM").
func (s *Session) MailFrom(sender string) error {
	if !s.state.HeloDone {
		return &Error{Kind: KindNoHelo, Detail: "MAIL FROM before EHLO succeeded"}
	}
	if err := s.send(fmt.Sprintf("MAIL FROM:<%s>", sender)); err != nil {
		return err
	}
	if _, err := s.expect(s.opts.Timeouts.Mail, 250); err != nil {
		s.dead = true
		_ = s.conn.Close()
		return err
	}
	s.state.MailDone = true
	return nil
}

// NOOP is issued between RCPTs to detect mid-session disconnects cheaply.
// Failure is non-fatal per §4.4: the caller should check Alive() and
// proceed regardless of NOOP's own return value.
func (s *Session) NOOP() bool {
	if err := s.send("NOOP"); err != nil {
		return false
	}
	reply, err := s.recv(s.opts.Timeouts.NOOP)
	if err != nil {
		// A NOOP-specific failure does not, by itself, kill the session;
		// only recv's own bookkeeping (s.dead) reflects the real state.
		return s.Alive()
	}
	switch reply.Code {
	case 250, 500, 502, 503, 220:
		return true
	}
	// Defensive against non-conforming servers that reply with unframed
	// text instead of a coded response (§9, "SMTP literal").
	if strings.HasPrefix(reply.Text, "SMTP") {
		return true
	}
	return s.Alive()
}

// RCPT sends RCPT TO:<addr> and reports whether it was accepted, along
// with the raw numeric code (so callers can distinguish "accepted because
// greylisted_considered_valid" from a true 250, e.g. for retry-queue
// scheduling). Accepted codes are {250, 251} always, plus {450, 451, 452}
// iff greylisted_considered_valid. On acceptance the raw reply text is
// returned so the aggregator can populate passRes.
func (s *Session) RCPT(addr string) (text string, code int, accepted bool, err error) {
	if !s.state.MailDone {
		return "", 0, false, &Error{Kind: KindNoMailFrom, Detail: "RCPT TO before MAIL FROM succeeded"}
	}
	if err := s.send(fmt.Sprintf("RCPT TO:<%s>", addr)); err != nil {
		return "", 0, false, err
	}
	reply, recvErr := s.recv(s.opts.Timeouts.RCPT)
	if recvErr != nil {
		return "", 0, false, recvErr
	}
	if classify.IsServiceUnavailable(reply.Code) {
		s.dead = true
		return "", reply.Code, false, &Error{Kind: KindUnexpectedResponse, Detail: fmt.Sprintf("%s: 421 %s", s.host, reply.Text)}
	}
	s.state.RcptDone = true
	if classify.Accepted(reply.Code, s.opts.GreylistedConsideredValid) {
		return reply.Text, reply.Code, true, nil
	}
	return reply.Text, reply.Code, false, nil
}

// RSET clears mail_done/rcpt_done while preserving helo_done (§3, §4.4).
func (s *Session) RSET() error {
	if err := s.send("RSET"); err != nil {
		return err
	}
	if _, err := s.expect(s.opts.Timeouts.RSET, 250, 220, 502, 554); err != nil {
		return err
	}
	s.state.MailDone = false
	s.state.RcptDone = false
	return nil
}

// Quit is only sent if helo_done; errors are swallowed (§4.4).
func (s *Session) Quit() {
	if !s.state.HeloDone {
		return
	}
	if err := s.send("QUIT"); err != nil {
		return
	}
	_, _ = s.expect(s.opts.Timeouts.Quit, 250, 221)
}

// Close closes the underlying connection without issuing QUIT — the
// implicit, best-effort teardown path (§3 Lifecycle).
func (s *Session) Close() error {
	return s.conn.Close()
}
