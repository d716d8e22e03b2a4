package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"carbon-scribe/ghg-reporting/internal/emissions"
	"carbon-scribe/ghg-reporting/internal/inventory"
)

func newInventoryCmd(g *globals) *cobra.Command {
	var (
		file   string
		year   int
		output string
	)

	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Summarize the GHG inventory of an inventory file",
		Example: `  # Scope totals, scope 3 breakdown and top sources
  ghgctl inventory -f activities.yaml --year 2024`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if output != "table" && output != "json" {
				return fmt.Errorf("unknown output %q (table, json)", output)
			}
			doc, err := readInventoryFile(file)
			if err != nil {
				return err
			}
			if year == 0 {
				year = doc.LatestYear()
			}

			ctx := cmd.Context()
			api, err := g.offlineAPI(ctx)
			if err != nil {
				return err
			}
			defer api.Close()

			if _, err := loadInventory(ctx, api, doc); err != nil {
				return err
			}
			inv, err := api.Aggregator.Inventory(ctx, doc.Organization.ID, emissions.NewCalendarYear(year))
			if err != nil {
				return fmt.Errorf("failed to build inventory: %w", err)
			}

			if output == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(inv)
			}
			return writeInventory(cmd.OutOrStdout(), inv)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "inventory file (YAML or JSON)")
	cmd.Flags().IntVar(&year, "year", 0, "reporting year (default: latest year in the file)")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table or json")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func writeInventory(out io.Writer, inv *inventory.Inventory) error {
	t := inv.Totals
	fmt.Fprintf(out, "%s, %s\n\n", inv.Organization.Name, inv.Period)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCOPE\tTCO2E\t")
	fmt.Fprintf(w, "Scope 1\t%.3f\t\n", t.Scope1)
	fmt.Fprintf(w, "Scope 2 location-based\t%.3f\t\n", t.Scope2LocationBased)
	fmt.Fprintf(w, "Scope 2 market-based\t%.3f\t\n", t.Scope2MarketBased)
	for _, c := range inv.Scope3Categories() {
		fmt.Fprintf(w, "Scope 3 / %s\t%.3f\t\n", c.Name(), inv.Scope3Total(c))
	}
	fmt.Fprintf(w, "Scope 3\t%.3f\t\n", t.Scope3)
	fmt.Fprintf(w, "Total (market-based)\t%.3f\t\n", t.GrandTotal)
	fmt.Fprintf(w, "Total (location-based)\t%.3f\t\n", t.GrandTotalLocationBased)
	if err := w.Flush(); err != nil {
		return err
	}

	if len(inv.TopSources) > 0 {
		fmt.Fprintln(out, "\nTop sources")
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for i, s := range inv.TopSources {
			fmt.Fprintf(w, "%d.\t%s\t%s\t%.3f\t%.1f%%\n", i+1, s.Scope, s.Category, s.Tons, s.Percentage)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if yoy := inv.YearOverYear; yoy != nil {
		fmt.Fprintf(out, "\nChange from %s: %+.3f t (%+.1f%%)\n",
			yoy.PreviousPeriod, yoy.Total.AbsoluteDelta, yoy.Total.PercentDelta)
	}
	fmt.Fprintf(out, "\nData quality score %.2f (%s assurance)\n", inv.DataQuality.WeightedScore, inv.AssuranceLevel)
	for _, warning := range inv.Warnings {
		fmt.Fprintf(out, "warning: %s\n", warning)
	}
	return nil
}
