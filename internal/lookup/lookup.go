// Package lookup provides the single-query DNS primitive used by the
// resolution engine. It performs one forward resolution (A and AAAA) or,
// for targets that are literal IP addresses, one reverse (PTR) resolution
// against a specific nameserver. It does no retrying of its own; retry
// policy belongs to the caller.
package lookup

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoRecords is returned when no DNS records are found for a target.
	ErrNoRecords = fmt.Errorf("no records found")
	// ErrEmptyMsg is returned when the DNS response message is empty.
	ErrEmptyMsg = fmt.Errorf("empty message")
	// ErrEmptyTarget is returned when an empty target is provided.
	ErrEmptyTarget = fmt.Errorf("empty target")
)

var _defaultNameserver = "1.1.1.1:53"

var _ Clienter = (*Client)(nil)

// Clienter defines the interface for the lookup primitive.
type Clienter interface {
	// Lookup resolves target against nameserver within timeout. Targets
	// that parse as IP addresses are reverse-resolved; everything else is
	// forward-resolved, with domain appended to unqualified names.
	Lookup(ctx context.Context, target, nameserver string, timeout time.Duration, domain string) ([]string, error)
}

// Exchanger defines the interface for DNS message exchange.
type Exchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, a string) (r *dns.Msg, rtt time.Duration, err error)
}

// Client implements the Clienter interface over a miekg/dns exchanger.
type Client struct {
	Client Exchanger

	mu sync.Mutex
}

// Opt is a function option for configuring the Client.
type Opt func(c *Client)

// New creates a new Client ready to perform lookups.
func New(opts ...Opt) *Client {
	c := &Client{
		Client: &dns.Client{},
	}

	for _, o := range opts {
		o(c)
	}

	return c
}

// WithExchanger returns an option to set a custom DNS exchanger.
func WithExchanger(e Exchanger) Opt {
	return func(c *Client) {
		c.Client = e
	}
}

// Lookup performs one resolution of target against nameserver.
// An empty nameserver falls back to the default (1.1.1.1:53), and
// nameservers given without a port get :53 appended. The whole call is
// bounded by timeout via the context deadline.
func (c *Client) Lookup(ctx context.Context, target, nameserver string, timeout time.Duration, domain string) ([]string, error) {
	if strings.TrimSpace(target) == "" {
		return nil, ErrEmptyTarget
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := serverAddr(nameserver)

	// Literal IPs are reverse-resolved, everything else forward.
	if ip := net.ParseIP(target); ip != nil {
		return c.reverse(ctx, target, addr)
	}

	return c.forward(ctx, qualify(target, domain), addr)
}

// forward resolves A and AAAA records concurrently.
// It returns every address that succeeded, or an aggregated
// error if *both* queries fail.
func (c *Client) forward(ctx context.Context, host, addr string) ([]string, error) {
	grp, ctx := errgroup.WithContext(ctx)

	var (
		results []string
		errs    error
	)

	for _, qt := range [...]uint16{dns.TypeA, dns.TypeAAAA} {
		qt := qt
		grp.Go(func() error {
			recs, err := c.query(ctx, dns.Fqdn(host), qt, addr)
			c.mu.Lock()
			defer c.mu.Unlock()

			if err != nil {
				errs = multierr.Append(errs, err) // collect but don't cancel peer
				return nil
			}
			results = append(results, recs...)
			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		errs = multierr.Append(errs, err)
	}

	if len(results) == 0 {
		// Both lookups failed; return the aggregated error list.
		return nil, fmt.Errorf("dns lookup for %q: %w", host, errs)
	}
	return results, nil
}

// reverse performs a PTR query for a literal IP address.
func (c *Client) reverse(ctx context.Context, ip, addr string) ([]string, error) {
	rev, err := dns.ReverseAddr(ip)
	if err != nil {
		return nil, fmt.Errorf("reverse name for %q: %w", ip, err)
	}

	names, err := c.query(ctx, rev, dns.TypePTR, addr)
	if err != nil {
		return nil, fmt.Errorf("reverse lookup for %q: %w", ip, err)
	}
	return names, nil
}

// query sends one question and returns the parsed answer strings.
func (c *Client) query(ctx context.Context, qname string, qtype uint16, addr string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := &dns.Msg{}
	req.SetQuestion(qname, qtype)

	resp, _, err := c.Client.ExchangeContext(ctx, req, addr)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, ErrEmptyMsg
	}

	return parseAnswers(resp)
}

// parseAnswers extracts A, AAAA and PTR answers as strings.
// PTR names have the trailing root dot trimmed.
func parseAnswers(resp *dns.Msg) ([]string, error) {
	var out []string
	for _, rr := range resp.Answer {
		switch record := rr.(type) {
		case *dns.A:
			out = append(out, record.A.String())
		case *dns.AAAA:
			out = append(out, record.AAAA.String())
		case *dns.PTR:
			out = append(out, strings.TrimSuffix(record.Ptr, "."))
		}
	}

	if len(out) == 0 {
		return nil, ErrNoRecords
	}

	return out, nil
}

// qualify appends the search domain to unqualified single-label hosts.
func qualify(host, domain string) string {
	if domain == "" || strings.Contains(host, ".") {
		return host
	}
	return host + "." + strings.TrimSuffix(domain, ".")
}

// serverAddr normalizes a nameserver to a dialable host:port.
func serverAddr(nameserver string) string {
	if strings.TrimSpace(nameserver) == "" {
		return _defaultNameserver
	}
	if _, _, err := net.SplitHostPort(nameserver); err == nil {
		return nameserver
	}
	return net.JoinHostPort(nameserver, "53")
}
