package dispatch_test

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smtpverify/internal/config"
	"smtpverify/internal/dispatch"
	"smtpverify/internal/verdict"
)

// pipeDialer hands back the client half of a net.Pipe, running server on
// the other half via a fake-MX goroutine built per test. One dial is
// expected per host named in servers; Dial fails for any host not present.
type pipeDialer struct {
	servers map[string]func(net.Conn)
}

func (d *pipeDialer) Dial(ctx context.Context, host, port string, deadline time.Duration) (net.Conn, error) {
	fn, ok := d.servers[host]
	if !ok {
		return nil, fmt.Errorf("pipeDialer: no server registered for %s", host)
	}
	client, server := net.Pipe()
	go fn(server)
	return client, nil
}

// fakeMX replies to EHLO/MAIL FROM unconditionally with 250, then answers
// each RCPT TO by consulting byAddr (keyed by the address inside <...>),
// falling back to "550 no such user" for anything unlisted.
func fakeMX(banner string, byAddr map[string]string) func(net.Conn) {
	return func(conn net.Conn) {
		defer conn.Close()
		fmt.Fprintf(conn, "%s\r\n", banner)
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(line, "EHLO"):
				fmt.Fprintf(conn, "250 mx.example.com\r\n")
			case strings.HasPrefix(line, "MAIL FROM"):
				fmt.Fprintf(conn, "250 OK\r\n")
			case strings.HasPrefix(line, "RCPT TO"):
				addr := addrInside(line)
				reply, ok := byAddr[addr]
				if !ok {
					reply = "550 no such user"
				}
				fmt.Fprintf(conn, "%s\r\n", reply)
			case strings.HasPrefix(line, "NOOP"):
				fmt.Fprintf(conn, "250 OK\r\n")
			case strings.HasPrefix(line, "QUIT"):
				fmt.Fprintf(conn, "221 bye\r\n")
				return
			}
		}
	}
}

func addrInside(line string) string {
	i := strings.IndexByte(line, '<')
	j := strings.IndexByte(line, '>')
	if i < 0 || j < 0 || j <= i {
		return ""
	}
	return line[i+1 : j]
}

func baseOpts() config.Options {
	return config.Options{
		Timeouts: config.Timeouts{
			Connected: time.Second, EHLO: time.Second, Mail: time.Second,
			RCPT: time.Second, RSET: time.Second, Quit: time.Second, NOOP: time.Second,
		},
		CatchallTest: false,
	}.WithDefaults()
}

func TestDomainRecordsAcceptedAndRejected(t *testing.T) {
	dialer := &pipeDialer{servers: map[string]func(net.Conn){
		"mx1.example.com": fakeMX("220 mx1.example.com ESMTP", map[string]string{
			"bob@example.com": "250 Accepted",
		}),
	}}

	d := dispatch.New(baseOpts(), dialer, nil)
	agg := verdict.NewAggregator(baseOpts())

	d.Domain(context.Background(), "example.com",
		[]string{"bob@example.com", "nobody@example.com"},
		[]string{"mx1.example.com"}, agg)

	results := agg.Results()
	assert.Equal(t, verdict.Accepted, results.Verdicts["bob@example.com"].Kind)
	assert.Equal(t, verdict.Rejected, results.Verdicts["nobody@example.com"].Kind)
}

func TestDomainRecordsGreylisted(t *testing.T) {
	dialer := &pipeDialer{servers: map[string]func(net.Conn){
		"mx1.example.com": fakeMX("220 mx1.example.com ESMTP", map[string]string{
			"bob@example.com": "450 try again later",
		}),
	}}

	opts := baseOpts()
	d := dispatch.New(opts, dialer, nil)
	agg := verdict.NewAggregator(opts)

	d.Domain(context.Background(), "example.com", []string{"bob@example.com"},
		[]string{"mx1.example.com"}, agg)

	assert.Equal(t, verdict.Greylisted, agg.Results().Verdicts["bob@example.com"].Kind)
}

func TestDomainWithNoMXBulkFailsConnection(t *testing.T) {
	dialer := &pipeDialer{servers: map[string]func(net.Conn){}}
	opts := baseOpts()
	d := dispatch.New(opts, dialer, nil)
	agg := verdict.NewAggregator(opts)

	d.Domain(context.Background(), "example.com", []string{"bob@example.com"}, nil, agg)

	v := agg.Results().Verdicts["bob@example.com"]
	assert.Equal(t, verdict.Rejected, v.Kind) // NoConnIsValid defaults false
	assert.NotEmpty(t, agg.Results().MailError)
}

func TestDomainSingleMXPolicyOnlyDialsOneHost(t *testing.T) {
	dialed := make(map[string]bool)
	dialer := &pipeDialer{servers: map[string]func(net.Conn){
		"mxa.example.com": fakeMX("220 mxa.example.com ESMTP", map[string]string{
			"bob@example.com": "250 Accepted",
		}),
		"mxb.example.com": fakeMX("220 mxb.example.com ESMTP", map[string]string{
			"bob@example.com": "250 Accepted",
		}),
	}}
	countingDialer := &countingDialer{pipeDialer: dialer, dialed: dialed}

	opts := baseOpts()
	opts.RandIntn = func(n int) int { return 0 } // deterministic: picks sorted[0]
	d := dispatch.New(opts, countingDialer, nil)
	agg := verdict.NewAggregator(opts)

	d.Domain(context.Background(), "example.com", []string{"bob@example.com"},
		[]string{"mxb.example.com", "mxa.example.com"}, agg)

	require.Len(t, dialed, 1, "single-MX policy dials exactly one host")
}

type countingDialer struct {
	*pipeDialer
	dialed map[string]bool
}

func (c *countingDialer) Dial(ctx context.Context, host, port string, deadline time.Duration) (net.Conn, error) {
	c.dialed[host] = true
	return c.pipeDialer.Dial(ctx, host, port, deadline)
}

func TestDomainProbeAllMXTriesEveryHostUntilResolved(t *testing.T) {
	dialer := &pipeDialer{servers: map[string]func(net.Conn){
		"mx1.qq.com": fakeMX("220 mx1.qq.com ESMTP", map[string]string{
			// bob rejected on mx1, so probe-all must try mx2 too.
		}),
		"mx2.qq.com": fakeMX("220 mx2.qq.com ESMTP", map[string]string{
			"bob@qq.com": "250 Accepted",
		}),
	}}

	opts := baseOpts()
	opts.ProbeAllMX = map[string]bool{"qq.com": true}
	d := dispatch.New(opts, dialer, nil)
	agg := verdict.NewAggregator(opts)

	d.Domain(context.Background(), "qq.com", []string{"bob@qq.com"},
		[]string{"mx1.qq.com", "mx2.qq.com"}, agg)

	assert.Equal(t, verdict.Accepted, agg.Results().Verdicts["bob@qq.com"].Kind)
}

func TestDomainProbesAddressesInInputOrder(t *testing.T) {
	var rcptOrder []string
	dialer := &pipeDialer{servers: map[string]func(net.Conn){
		"mx1.example.com": func(conn net.Conn) {
			defer conn.Close()
			fmt.Fprint(conn, "220 mx1.example.com ESMTP\r\n")
			r := bufio.NewReader(conn)
			for {
				line, err := r.ReadString('\n')
				if err != nil {
					return
				}
				line = strings.TrimSpace(line)
				switch {
				case strings.HasPrefix(line, "EHLO"):
					fmt.Fprint(conn, "250 mx1.example.com\r\n")
				case strings.HasPrefix(line, "MAIL FROM"):
					fmt.Fprint(conn, "250 OK\r\n")
				case strings.HasPrefix(line, "RCPT TO"):
					rcptOrder = append(rcptOrder, addrInside(line))
					fmt.Fprint(conn, "250 Accepted\r\n")
				case strings.HasPrefix(line, "NOOP"):
					fmt.Fprint(conn, "250 OK\r\n")
				case strings.HasPrefix(line, "QUIT"):
					fmt.Fprint(conn, "221 bye\r\n")
					return
				}
			}
		},
	}}

	opts := baseOpts()
	d := dispatch.New(opts, dialer, nil)
	agg := verdict.NewAggregator(opts)

	d.Domain(context.Background(), "example.com",
		[]string{"zed@example.com", "alice@example.com"},
		[]string{"mx1.example.com"}, agg)

	assert.Equal(t, []string{"zed@example.com", "alice@example.com"}, rcptOrder,
		"RCPT TO probes must fire in the caller's input order, not alphabetical order")
}

func TestDomainObservesDialLatencyPerDomain(t *testing.T) {
	dialer := &pipeDialer{servers: map[string]func(net.Conn){
		"mx1.example.com": fakeMX("220 mx1.example.com ESMTP", map[string]string{
			"bob@example.com": "250 Accepted",
		}),
	}}

	var observedDomains []string
	opts := baseOpts()
	opts.DialObserver = func(domain string, seconds float64) {
		observedDomains = append(observedDomains, domain)
		assert.GreaterOrEqual(t, seconds, 0.0)
	}
	d := dispatch.New(opts, dialer, nil)
	agg := verdict.NewAggregator(opts)

	d.Domain(context.Background(), "example.com", []string{"bob@example.com"},
		[]string{"mx1.example.com"}, agg)

	assert.Equal(t, []string{"example.com"}, observedDomains)
}
