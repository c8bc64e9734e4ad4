// Package publicdns fetches public nameserver lists from public-dns.info.
// Lists are scraped per country code, validated, and capped; a country that
// fails to download is skipped rather than failing the whole fetch.
package publicdns

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/lc/bulkdns/internal/filesys"
	"github.com/lc/bulkdns/internal/log"
)

const _baseURL = "https://public-dns.info/nameserver"

// ErrNoServers is returned when no country yielded a usable nameserver.
var ErrNoServers = errors.New("no public nameservers retrieved")

// Fetcher downloads and filters public nameserver lists.
type Fetcher struct {
	client        *http.Client
	baseURL       string
	countries     []string
	maxPerCountry int
	ipv6          bool
}

// Opt is a function option for configuring the Fetcher.
type Opt func(f *Fetcher)

// New creates a Fetcher with defaults: countries us and gb, at most 100
// servers per country, IPv4 only.
func New(opts ...Opt) *Fetcher {
	f := &Fetcher{
		client:        &http.Client{Timeout: 15 * time.Second},
		baseURL:       _baseURL,
		countries:     []string{"us", "gb"},
		maxPerCountry: 100,
	}

	for _, o := range opts {
		o(f)
	}

	return f
}

// WithCountries returns an option to set the country codes to fetch.
func WithCountries(countries []string) Opt {
	return func(f *Fetcher) {
		if len(countries) > 0 {
			f.countries = countries
		}
	}
}

// WithMaxPerCountry returns an option to cap servers taken per country.
func WithMaxPerCountry(n int) Opt {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxPerCountry = n
		}
	}
}

// WithIPv6 returns an option to include IPv6 nameservers.
func WithIPv6(enabled bool) Opt {
	return func(f *Fetcher) {
		f.ipv6 = enabled
	}
}

// WithBaseURL returns an option to override the list endpoint, used in tests.
func WithBaseURL(url string) Opt {
	return func(f *Fetcher) {
		f.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithHTTPClient returns an option to set a custom HTTP client.
func WithHTTPClient(c *http.Client) Opt {
	return func(f *Fetcher) {
		f.client = c
	}
}

// Fetch downloads the nameserver list for each configured country in turn
// and returns the merged, deduplicated, sorted result. A country that fails
// is logged and skipped; only an entirely empty result is an error.
func (f *Fetcher) Fetch(ctx context.Context) ([]string, error) {
	log.Info("publicdns: fetching public nameservers", "countries", f.countries)

	merged := make(map[string]struct{})

	for _, cc := range f.countries {
		servers, err := f.fetchCountry(ctx, cc)
		if err != nil {
			log.Warnf("publicdns: unable to retrieve nameservers for country %q: %v", cc, err)
			continue
		}
		log.Debugf("publicdns: got %d servers for country %q", len(servers), cc)
		for _, s := range servers {
			merged[s] = struct{}{}
		}
	}

	if len(merged) == 0 {
		return nil, ErrNoServers
	}

	out := make([]string, 0, len(merged))
	for s := range merged {
		out = append(out, s)
	}
	sort.Strings(out)

	log.Infof("publicdns: got %d public nameservers", len(out))
	return out, nil
}

// fetchCountry downloads one country list, sorts it, applies the per-country
// cap, and drops entries that are not valid addresses of the wanted family.
func (f *Fetcher) fetchCountry(ctx context.Context, cc string) ([]string, error) {
	url := fmt.Sprintf("%s/%s.txt", f.baseURL, cc)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	candidates := dedupeSorted(strings.Fields(string(body)))
	if len(candidates) > f.maxPerCountry {
		candidates = candidates[:f.maxPerCountry]
	}

	var servers []string
	for _, s := range candidates {
		ip := net.ParseIP(s)
		if ip == nil {
			log.Debugf("publicdns: invalid IP %q in %s list", s, cc)
			continue
		}
		if !f.ipv6 && ip.To4() == nil {
			continue
		}
		servers = append(servers, ip.String())
	}

	return servers, nil
}

// Save atomically writes servers to path, one per line.
func Save(fs filesys.FileOps, path string, servers []string) error {
	data := strings.Join(servers, "\n")
	if len(servers) > 0 {
		data += "\n"
	}
	return filesys.AtomicWrite(fs, path, []byte(data), 0o644)
}

func dedupeSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
