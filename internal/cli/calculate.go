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

func newCalculateCmd(g *globals) *cobra.Command {
	var (
		file   string
		year   int
		output string
	)

	cmd := &cobra.Command{
		Use:   "calculate",
		Short: "Calculate emissions for an inventory file",
		Example: `  # Print results and totals for the latest year in the file
  ghgctl calculate -f activities.yaml

  # Emit the full inventory as JSON
  ghgctl calculate -f activities.yaml --year 2024 -o json`,
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

			calcs, err := loadInventory(ctx, api, doc)
			if err != nil {
				return err
			}
			inv, err := api.Aggregator.Inventory(ctx, doc.Organization.ID, emissions.NewCalendarYear(year))
			if err != nil {
				return fmt.Errorf("failed to build inventory: %w", err)
			}

			if output == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Calculations []calculation       `json:"calculations"`
					Inventory    *inventory.Inventory `json:"inventory"`
				}{calcs, inv})
			}
			return writeCalculations(cmd.OutOrStdout(), calcs, inv)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "inventory file (YAML or JSON)")
	cmd.Flags().IntVar(&year, "year", 0, "reporting year (default: latest year in the file)")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table or json")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func writeCalculations(out io.Writer, calcs []calculation, inv *inventory.Inventory) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCOPE\tCATEGORY\tAMOUNT\tFACTOR\tTCO2E\tMETHOD")
	for _, c := range calcs {
		a := c.Activity
		if c.Result == nil {
			fmt.Fprintf(w, "%d\t%s\t%g %s\t-\t-\t%s\n", a.Scope, a.Category, a.Amount, a.Unit, c.Error)
			continue
		}
		r := c.Result
		method := r.Methodology
		if r.Scope2Method != emissions.Scope2MethodUnspecified {
			method = string(r.Scope2Method)
		}
		fmt.Fprintf(w, "%d\t%s\t%g %s\t%g\t%.3f\t%s\n",
			r.Scope, r.Category, r.ActivityAmount, r.ActivityUnit, r.FactorValue, r.EmissionTons, method)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	t := inv.Totals
	fmt.Fprintf(out, "\nInventory %s (%d results)\n", inv.Period, inv.ResultCount)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(w, "Scope 1\t%.3f\t\n", t.Scope1)
	fmt.Fprintf(w, "Scope 2 (location-based)\t%.3f\t\n", t.Scope2LocationBased)
	fmt.Fprintf(w, "Scope 2 (market-based)\t%.3f\t\n", t.Scope2MarketBased)
	fmt.Fprintf(w, "Scope 3\t%.3f\t\n", t.Scope3)
	fmt.Fprintf(w, "Total\t%.3f\t\n", t.GrandTotal)
	if err := w.Flush(); err != nil {
		return err
	}
	for _, warning := range inv.Warnings {
		fmt.Fprintf(out, "warning: %s\n", warning)
	}
	return nil
}
