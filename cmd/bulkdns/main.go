// Command `bulkdns` resolves large sets of hostnames against multiple
// nameservers concurrently and reports which hosts never resolved.
//
// Usage:
//
//	bulkdns resolve <host>... [flags]  - Bulk-resolve hosts (or reverse-resolve IPs)
//	bulkdns servers [flags]            - Fetch public nameserver lists
//	bulkdns version                    - Show version information
//
// Examples:
//
//	bulkdns resolve www mail -d google.com -n 8.8.8.8 -n 8.8.4.4
//	bulkdns resolve -f hosts.txt --tries 3 --timeout 3s
//	bulkdns resolve 8.8.8.8 1.1.1.1            - Reverse-resolve IPs
//	bulkdns servers --country us --country de --output ns.txt
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/lc/bulkdns/internal/buildinfo"
	"github.com/lc/bulkdns/internal/config"
	"github.com/lc/bulkdns/internal/engine"
	"github.com/lc/bulkdns/internal/filesys"
	"github.com/lc/bulkdns/internal/lookup"
	"github.com/lc/bulkdns/internal/publicdns"
)

func main() {
	cfg, err := config.New().Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:   "bulkdns",
		Short: "Bulk DNS resolution CLI",
		Long: `bulkdns resolves large sets of hostnames against multiple nameservers
concurrently. Results from every nameserver are merged per host; hosts that
never resolve on any nameserver are reported as dead.`,
	}

	root.AddCommand(resolveCmd(cfg), serversCmd(cfg), versionCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("version: %s\n", buildinfo.Version)
			fmt.Printf("commit: %s\n", buildinfo.Commit)
		},
	}
}

func resolveCmd(cfg *config.Config) *cobra.Command {
	var (
		nameservers []string
		domain      string
		tries       int
		timeout     time.Duration
		targetsFile string
		usePublic   bool
	)

	cmd := &cobra.Command{
		Use:   "resolve <host>... [flags]",
		Short: "Bulk-resolve hosts against every configured nameserver",
		Long: `Resolve every given host (or reverse-resolve every given IP) against every
configured nameserver, merging all answers per host. Hosts can be passed as
arguments, read from a file, or both. Interrupting the run (Ctrl-C) aborts
the wait but keeps results already gathered.`,
		Example: "bulkdns resolve www mail -d google.com -n 8.8.8.8",
		Args:    cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			targets := args
			if targetsFile != "" {
				fromFile, err := readTargets(targetsFile)
				if err != nil {
					return err
				}
				targets = append(targets, fromFile...)
			}
			if len(targets) == 0 {
				return fmt.Errorf("no targets given; pass hosts as arguments or via --file")
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if usePublic {
				fetched, err := publicdns.New(
					publicdns.WithCountries(cfg.PublicDNS.Countries),
					publicdns.WithMaxPerCountry(cfg.PublicDNS.MaxPerCountry),
					publicdns.WithIPv6(cfg.PublicDNS.IPv6),
				).Fetch(ctx)
				if err != nil {
					return err
				}
				nameservers = fetched
			}

			eng := engine.New(lookup.New())
			if err := eng.Configure(targets, nameservers, domain, tries, timeout); err != nil {
				return err
			}

			cache, err := eng.Resolve(ctx)
			if err != nil {
				// Interrupted: print what we have, then report the abort.
				renderCache(cache, eng.DeadHosts())
				return err
			}

			renderCache(cache, eng.DeadHosts())
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&nameservers, "nameserver", "n", cfg.Resolver.Nameservers, "nameserver to query (repeatable)")
	cmd.Flags().StringVarP(&domain, "domain", "d", cfg.Resolver.Domain, "search domain appended to unqualified hosts")
	cmd.Flags().IntVarP(&tries, "tries", "t", cfg.Resolver.Tries, "attempts per host/nameserver pair")
	cmd.Flags().DurationVar(&timeout, "timeout", cfg.Resolver.Timeout, "per-lookup timeout")
	cmd.Flags().StringVarP(&targetsFile, "file", "f", "", "file with one host per line")
	cmd.Flags().BoolVar(&usePublic, "public-dns", false, "fetch public nameservers instead of using the configured list")

	return cmd
}

func serversCmd(cfg *config.Config) *cobra.Command {
	var (
		countries []string
		maxPer    int
		ipv6      bool
		output    string
	)

	cmd := &cobra.Command{
		Use:   "servers [flags]",
		Short: "Fetch public nameserver lists from public-dns.info",
		Long: `Fetch public nameserver lists per country from public-dns.info. The merged,
validated list is printed one server per line, or written atomically to a
file with --output.`,
		Example: "bulkdns servers --country us --country de --output ns.txt",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			servers, err := publicdns.New(
				publicdns.WithCountries(countries),
				publicdns.WithMaxPerCountry(maxPer),
				publicdns.WithIPv6(ipv6),
			).Fetch(ctx)
			if err != nil {
				return err
			}

			if output != "" {
				if err := publicdns.Save(filesys.OS(), output, servers); err != nil {
					return fmt.Errorf("saving nameservers: %w", err)
				}
				color.New(color.FgGreen, color.Bold).Printf("✓ Saved %d nameservers to %s\n", len(servers), output)
				return nil
			}

			for _, s := range servers {
				fmt.Println(s)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&countries, "country", cfg.PublicDNS.Countries, "country code to fetch (repeatable)")
	cmd.Flags().IntVar(&maxPer, "max", cfg.PublicDNS.MaxPerCountry, "maximum nameservers per country")
	cmd.Flags().BoolVar(&ipv6, "ipv6", cfg.PublicDNS.IPv6, "include IPv6 nameservers")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the list to a file instead of stdout")

	return cmd
}

// renderCache prints the resolution table and a dead-host summary.
func renderCache(cache engine.Cache, dead engine.Set) {
	if len(cache) == 0 {
		color.Yellow("No hosts resolved.")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Host", "Results", "Status"})
	table.SetHeaderColor(
		tablewriter.Colors{tablewriter.Bold, tablewriter.FgHiCyanColor},
		tablewriter.Colors{tablewriter.Bold, tablewriter.FgHiCyanColor},
		tablewriter.Colors{tablewriter.Bold, tablewriter.FgHiCyanColor},
	)
	table.SetBorder(false)

	hosts := make([]string, 0, len(cache))
	for h := range cache {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)

	for _, h := range hosts {
		results := cache[h].Slice()
		status := "ok"
		if len(results) == 0 {
			status = "dead"
		}
		table.Append([]string{h, strings.Join(results, ", "), status})
	}

	color.New(color.Bold).Println("RESOLUTION RESULTS:")
	table.Render()

	if len(dead) > 0 {
		color.New(color.FgHiRed, color.Bold).Printf("Dead hosts (%d): ", len(dead))
		color.New(color.FgRed).Println(strings.Join(dead.Slice(), ", "))
	}
}

// readTargets loads one host per line, skipping blanks and # comments.
func readTargets(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading targets file: %w", err)
	}

	var targets []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		targets = append(targets, line)
	}
	return targets, nil
}
