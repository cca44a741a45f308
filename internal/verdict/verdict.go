// Package verdict is the engine's Verdict Aggregator (§4.9): it merges
// per-address outcomes into the RunResults map, applying the
// inconclusive/catch-all coercion policies from the Configuration Facet.
package verdict

import (
	"smtpverify/internal/config"
)

// Kind is the final classification of one address (§3 Verdict).
type Kind int

const (
	Accepted Kind = iota
	Rejected
	Greylisted
	CatchAll
	Inconclusive
)

func (k Kind) String() string {
	switch k {
	case Accepted:
		return "Accepted"
	case Rejected:
		return "Rejected"
	case Greylisted:
		return "Greylisted"
	case CatchAll:
		return "CatchAll"
	default:
		return "Inconclusive"
	}
}

// Verdict is the per-address outcome stored in RunResults.
type Verdict struct {
	Kind   Kind
	Text   string // raw RCPT reply text, populated on Accepted/Greylisted
	Reason string // populated on Inconclusive
}

// Truthy reports whether this verdict should read as "deliverable" to a
// caller checking results[addr] the way the spec's scenarios do (a
// JavaScript-style truthy check: a non-empty string or true, vs false).
func (v Verdict) Truthy() bool {
	switch v.Kind {
	case Accepted, CatchAll:
		return true
	default:
		return false
	}
}

// DomainInfo is the per-domain record in RunResults (§3).
type DomainInfo struct {
	Users    []string
	MXs      []string
	Catchall *bool // nil: never probed. *true/*false: probe outcome.
	CatchallIndeterminate bool
}

// Results is the full output of one run (§3 RunResults, §6 Outputs).
type Results struct {
	Verdicts  map[string]Verdict
	Domains   map[string]DomainInfo
	MailError string
	PassRes   []string

	order []string // insertion order of Verdicts keys, for deterministic iteration
}

// NewResults returns an empty Results ready for Aggregator to fill in.
func NewResults() *Results {
	return &Results{
		Verdicts: make(map[string]Verdict),
		Domains:  make(map[string]DomainInfo),
	}
}

// OrderedAddresses returns the addresses in the order they were first
// recorded (§8 invariant 6: "result map iteration order preserves input
// order per domain").
func (r *Results) OrderedAddresses() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Results) set(addr string, v Verdict) {
	if _, exists := r.Verdicts[addr]; !exists {
		r.order = append(r.order, addr)
	}
	r.Verdicts[addr] = v
}

// Aggregator applies §4.9's merge rules as the dispatcher reports raw
// per-address outcomes.
type Aggregator struct {
	opts    config.Options
	results *Results
}

// NewAggregator returns an Aggregator writing into a fresh Results set.
func NewAggregator(opts config.Options) *Aggregator {
	return &Aggregator{opts: opts, results: NewResults()}
}

// Results returns the accumulated output.
func (a *Aggregator) Results() *Results { return a.results }

// RecordAccepted handles a successful RCPT reply: "Successful RCPT reply
// text → verdict for that address is that raw text (truthy)."
func (a *Aggregator) RecordAccepted(addr, text string) {
	a.results.set(addr, Verdict{Kind: Accepted, Text: text})
	a.results.PassRes = append(a.results.PassRes, text)
}

// RecordGreylisted handles a 450/451/452 RCPT reply. Per §4.9, when
// greylisted_considered_valid is true this is "treated as accepted"; when
// false, it's reported as its own Greylisted kind (not coerced to
// Rejected — callers like cmd/worker's retry queue need to tell "server
// asked us to retry" apart from "server said no").
func (a *Aggregator) RecordGreylisted(addr, text string) {
	if a.opts.GreylistedConsideredValid {
		a.results.set(addr, Verdict{Kind: Accepted, Text: text})
		a.results.PassRes = append(a.results.PassRes, text)
		return
	}
	a.results.set(addr, Verdict{Kind: Greylisted, Text: text})
}

// RecordRejected handles a rejected RCPT reply: "Rejected RCPT → false."
func (a *Aggregator) RecordRejected(addr string) {
	a.results.set(addr, Verdict{Kind: Rejected})
}

// RecordCommFailure bulk-assigns a communication failure (timeout, EOF,
// unexpected response, send failure) to every address still pending in a
// domain, per the no_comm_is_valid policy flag.
func (a *Aggregator) RecordCommFailure(addrs []string, reason string) {
	kind := Rejected
	if a.opts.NoCommIsValid {
		kind = Accepted
	}
	for _, addr := range addrs {
		a.results.set(addr, Verdict{Kind: kind, Reason: reason})
	}
	a.results.MailError = reason
}

// RecordConnFailure bulk-assigns a connection failure to every address
// still pending in a domain, per the no_conn_is_valid policy flag.
func (a *Aggregator) RecordConnFailure(addrs []string, reason string) {
	kind := Rejected
	if a.opts.NoConnIsValid {
		kind = Accepted
	}
	for _, addr := range addrs {
		a.results.set(addr, Verdict{Kind: kind, Reason: reason})
	}
	a.results.MailError = reason
}

// RecordInconclusive assigns the Inconclusive kind directly, with no
// policy coercion. The dispatcher does not call it: a catch-all probe that
// ends the session leaves its pending addresses to RecordCommFailure.
func (a *Aggregator) RecordInconclusive(addr, reason string) {
	a.results.set(addr, Verdict{Kind: Inconclusive, Reason: reason})
}

// ApplyCatchAll downgrades every address on domain to Rejected when the
// domain was found to be a catch-all and catchall_is_valid is false;
// otherwise it relabels them as CatchAll and keeps them truthy (§4.5,
// §8 invariant 4).
func (a *Aggregator) ApplyCatchAll(domain string, addrs []string) {
	info := a.results.Domains[domain]
	isCatchAll := true
	info.Catchall = &isCatchAll
	a.results.Domains[domain] = info

	for _, addr := range addrs {
		if !a.opts.CatchallIsValid {
			a.results.set(addr, Verdict{Kind: Rejected, Reason: "catch-all domain, catchall_is_valid=false"})
			continue
		}
		a.results.set(addr, Verdict{Kind: CatchAll, Reason: "catch-all domain"})
	}
}

// ApplyNotCatchAll records that the domain's catch-all probe came back
// negative, without touching any address verdicts.
func (a *Aggregator) ApplyNotCatchAll(domain string) {
	info := a.results.Domains[domain]
	isCatchAll := false
	info.Catchall = &isCatchAll
	a.results.Domains[domain] = info
}

// ApplyCatchAllIndeterminate records the §9 Open Question resolution: the
// probe's own session died before answering, so the domain's catch-all
// status is unknown rather than assumed negative.
func (a *Aggregator) ApplyCatchAllIndeterminate(domain string) {
	info := a.results.Domains[domain]
	info.CatchallIndeterminate = true
	a.results.Domains[domain] = info
}

// SetDomainInfo records the users/MXs seen for domain, initializing the
// record if this is the first write.
func (a *Aggregator) SetDomainInfo(domain string, users, mxs []string) {
	info := a.results.Domains[domain]
	info.Users = users
	info.MXs = mxs
	a.results.Domains[domain] = info
}
