// Command streetcheck exercises the street search, address validation and
// delivery zone from a terminal, printing every upstream query a search
// made so ranking problems can be diagnosed.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"

	"delivery-geolocation/internal/georef"
	"delivery-geolocation/internal/search"
	"delivery-geolocation/internal/validation"
	"delivery-geolocation/internal/zone"
	"delivery-geolocation/pkg/config"
	"delivery-geolocation/pkg/geography"
)

type options struct {
	baseURL    string
	province   string
	department string
	zoneFile   string
	asJSON     bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Load()
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "streetcheck",
		Short:         "Diagnose Georef street search and delivery zone checks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.baseURL, "base-url", cfg.GeorefBaseURL, "Georef API root")
	pf.StringVar(&opts.province, "province", cfg.GeorefProvince, "province scope for street searches")
	pf.StringVar(&opts.department, "department", cfg.GeorefDepartment, "department scope for street searches")
	pf.StringVar(&opts.zoneFile, "zone-file", cfg.ZoneFile, "delivery zone YAML (default: built-in zone)")
	pf.BoolVar(&opts.asJSON, "json", false, "print JSON instead of text")

	rootCmd.AddCommand(createSearchCmd(opts))
	rootCmd.AddCommand(createValidateCmd(opts, cfg.DefaultProvince))
	rootCmd.AddCommand(createZoneCmd(opts))
	return rootCmd
}

func (o *options) client() *georef.Client {
	return georef.New(georef.Config{BaseURL: o.baseURL, Province: o.province, Department: o.department})
}

func (o *options) zone() (*zone.Checker, error) {
	cfg, err := zone.Load(o.zoneFile)
	if err != nil {
		return nil, err
	}
	return zone.NewChecker(cfg)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func createSearchCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search [term]",
		Short: "Run a fuzzy street search and show how it was answered",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := search.NewEngine(opts.client(), nil).Explain(cmd.Context(), strings.Join(args, " "), limit)
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			out := cmd.OutOrStdout()
			if opts.asJSON {
				return printJSON(out, rep)
			}
			printReport(out, rep)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", search.DefaultLimit, "maximum number of results")
	return cmd
}

func printReport(w io.Writer, rep *search.Report) {
	fmt.Fprintf(w, "query: %q\n", rep.Query)
	if len(rep.Variants) > 0 {
		fmt.Fprintf(w, "variants: %s\n", strings.Join(rep.Variants, ", "))
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TERM\tHITS\tNEW\tERROR")
	for _, q := range rep.Queries {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", q.Term, q.Hits, q.NewHits, q.Err)
	}
	_ = tw.Flush()

	if len(rep.Results) == 0 {
		fmt.Fprintln(w, "no results")
		return
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSCORE\tNAME\tID\tVIA")
	for i, r := range rep.Results {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\n", i+1, r.Score, r.Name, r.ID, r.MatchedBy)
	}
	_ = tw.Flush()
}

func createValidateCmd(opts *options, defaultProvince string) *cobra.Command {
	var province string
	cmd := &cobra.Command{
		Use:   "validate [address]",
		Short: "Resolve an address and check it against the delivery zone",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			z, err := opts.zone()
			if err != nil {
				return err
			}
			svc := validation.New(opts.client(), z, validation.WithDefaultProvince(province))
			res, err := svc.ValidateAndCheckZone(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}
			out := cmd.OutOrStdout()
			if opts.asJSON {
				return printJSON(out, res)
			}
			if !res.Success {
				fmt.Fprintf(out, "%s: %s\n", res.Address, res.Error)
				return nil
			}
			fmt.Fprintf(out, "%s\n  lat %.6f lon %.6f (%s)\n", res.Nomenclature, res.Coordinates.Lat, res.Coordinates.Lon, res.Source)
			if res.Distance != nil {
				fmt.Fprintf(out, "  %.2f km from center, in zone: %t\n", *res.Distance, res.InDeliveryZone)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&province, "address-province", defaultProvince, "province used to resolve the address")
	return cmd
}

func createZoneCmd(opts *options) *cobra.Command {
	var lat, lon float64
	cmd := &cobra.Command{
		Use:   "zone",
		Short: "Check a coordinate against the delivery zone",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := geography.Coordinates{Lat: lat, Lon: lon}
			if !p.Valid() {
				return fmt.Errorf("coordinates out of range: %v,%v", lat, lon)
			}
			z, err := opts.zone()
			if err != nil {
				return err
			}
			c := z.Check("", p)
			out := cmd.OutOrStdout()
			if opts.asJSON {
				return printJSON(out, c)
			}
			fmt.Fprintf(out, "zone %q (%s): %.2f km from center, in zone: %t\n", z.Config().Name, z.Mode(), c.DistanceKm, c.InZone)
			return nil
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "longitude")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
	return cmd
}
