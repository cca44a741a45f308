// Package config is the engine's Configuration Facet: typed timeouts,
// sender identity, and policy flags (§4.4, §6). cmd/worker fills this
// struct with fixed policy values plus the WORKER_HOSTNAME and IS_DEV
// settings it reads through viper; the engine package itself only ever
// sees the typed Options value.
package config

import "time"

// Timeouts holds the seven named per-command deadlines from §4.4. Zero
// values are replaced with DefaultTimeouts' values by Options.WithDefaults.
type Timeouts struct {
	Connected time.Duration
	EHLO      time.Duration
	Mail      time.Duration
	RCPT      time.Duration
	RSET      time.Duration
	Quit      time.Duration
	NOOP      time.Duration
}

// DefaultTimeouts are the §4.4 defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connected: 10 * time.Second,
		EHLO:      120 * time.Second,
		Mail:      300 * time.Second,
		RCPT:      300 * time.Second,
		RSET:      30 * time.Second,
		Quit:      60 * time.Second,
		NOOP:      5 * time.Second,
	}
}

// Options is the full set of policy flags and identity the dispatcher and
// session need (§6 Inputs).
type Options struct {
	Timeouts Timeouts

	// Port is the SMTP port to dial; default 25.
	Port string

	// SenderLocalPart/SenderDomain make up the MAIL FROM identity and the
	// EHLO hostname. Default sender is user@localhost per §6, though
	// cmd/worker always overrides this with WORKER_HOSTNAME in production.
	SenderLocalPart string
	SenderDomain    string

	// CatchallTest enables the §4.5 catch-all probe before the real RCPT.
	CatchallTest bool
	// CatchallIsValid controls whether a detected catch-all domain's
	// addresses are reported accepted (true) or coerced to rejected
	// (false, the spec's S5 scenario).
	CatchallIsValid bool

	// NoCommIsValid is the bulk verdict applied when a communication
	// failure (timeout, EOF, unexpected response) aborts a session.
	NoCommIsValid bool
	// NoConnIsValid is the bulk verdict applied when the TCP connect
	// itself fails.
	NoConnIsValid bool

	// GreylistedConsideredValid treats 450/451/452 RCPT replies as
	// accepted (§8 invariant 3).
	GreylistedConsideredValid bool

	// Debug is carried for callers; the engine itself does not read it.
	// Diagnostics entries are mirrored whenever a non-nil sink is passed
	// to smtpverify.New, whatever Debug says, and nothing is written to
	// stdout by the engine.
	Debug bool

	// ProbeAllMX names domains (e.g. "qq.com") that must be tried on every
	// MX host rather than a single random one (§4.6 policy 2).
	ProbeAllMX map[string]bool

	// RandIntn selects a pseudo-random index in [0, n) for single-MX
	// selection. Caller-injectable for reproducible tests (§9 "random MX
	// selection ... Accept a caller-injectable RNG").
	RandIntn func(n int) int

	// DialObserver, if set, is called once per MX attempt with the domain
	// and the elapsed time from dial start through a successful banner
	// read, letting cmd/worker feed a Prometheus histogram without the
	// engine importing a metrics package itself.
	DialObserver func(domain string, seconds float64)
}

// Sender renders the configured sender identity as local@domain, the form
// MAIL FROM uses; EHLO uses SenderDomain alone.
func (o Options) Sender() string {
	local := o.SenderLocalPart
	if local == "" {
		local = "user"
	}
	domain := o.SenderDomain
	if domain == "" {
		domain = "localhost"
	}
	return local + "@" + domain
}

// WithDefaults fills in zero-valued fields with §4.4/§6 defaults, without
// mutating the receiver.
func (o Options) WithDefaults() Options {
	d := DefaultTimeouts()
	t := &o.Timeouts
	for _, f := range []struct{ got, def *time.Duration }{
		{&t.Connected, &d.Connected}, {&t.EHLO, &d.EHLO}, {&t.Mail, &d.Mail}, {&t.RCPT, &d.RCPT},
		{&t.RSET, &d.RSET}, {&t.Quit, &d.Quit}, {&t.NOOP, &d.NOOP},
	} {
		if *f.got == 0 {
			*f.got = *f.def
		}
	}
	if o.Port == "" {
		o.Port = "25"
	}
	if o.SenderDomain == "" {
		o.SenderDomain = "localhost"
	}
	if o.SenderLocalPart == "" {
		o.SenderLocalPart = "user"
	}
	if o.ProbeAllMX == nil {
		o.ProbeAllMX = map[string]bool{"qq.com": true}
	}
	return o
}
