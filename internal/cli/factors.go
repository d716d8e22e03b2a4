package cli

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"carbon-scribe/ghg-reporting/internal/emissions"
)

func newFactorsCmd(g *globals) *cobra.Command {
	var (
		scope    string
		category string
		all      bool
	)

	cmd := &cobra.Command{
		Use:   "factors",
		Short: "List the emission factor catalog",
		Example: `  # Active scope 2 factors
  ghgctl factors --scope 2

  # Every version of the natural gas factor
  ghgctl factors --category stationary_combustion --all`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var wantScope emissions.Scope
			if scope != "" {
				s, err := emissions.ParseScope(scope)
				if err != nil {
					return err
				}
				wantScope = s
			}

			api, err := g.offlineAPI(cmd.Context())
			if err != nil {
				return err
			}
			defer api.Close()

			list := api.Registry.List(!all)
			sort.Slice(list, func(i, j int) bool {
				if list[i].Scope != list[j].Scope {
					return list[i].Scope < list[j].Scope
				}
				if list[i].Category != list[j].Category {
					return list[i].Category < list[j].Category
				}
				return list[i].Version < list[j].Version
			})

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SCOPE\tCATEGORY\tGEOGRAPHY\tVALUE\tUNIT\tVERSION\tACTIVE\tNAME")
			for _, f := range list {
				if wantScope != 0 && f.Scope != wantScope {
					continue
				}
				if category != "" && !strings.EqualFold(f.Category, category) {
					continue
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%g\t%s\t%s\t%t\t%s\n",
					f.Scope, f.Category, f.GeographyOrEmpty(), f.Value, f.ActivityUnit, f.Version, f.Active, f.Name)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "", "only this scope (1, 2 or 3)")
	cmd.Flags().StringVar(&category, "category", "", "only this category")
	cmd.Flags().BoolVar(&all, "all", false, "include inactive factor versions")
	return cmd
}
