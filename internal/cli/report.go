package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"carbon-scribe/ghg-reporting/internal/frameworks"
	"carbon-scribe/ghg-reporting/internal/reports"
)

func newReportCmd(g *globals) *cobra.Command {
	var (
		file      string
		framework string
		format    string
		year      int
		title     string
		author    string
		out       string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate a framework report from an inventory file",
		Example: `  # California SB 253 disclosure as PDF
  ghgctl report -f activities.yaml --framework sb253 --format pdf --out sb253.pdf

  # CSRD ESRS E1 as XBRL on stdout
  ghgctl report -f activities.yaml --framework csrd --format xbrl --out -`,
		RunE: func(cmd *cobra.Command, _ []string) error {
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
			report, err := api.Reports.GenerateReport(ctx, &reports.GenerateReportRequest{
				CompanyID: doc.Organization.ID,
				Framework: frameworks.ParseFrameworkID(framework),
				Format:    frameworks.Format(format),
				Year:      year,
				Title:     title,
				Author:    author,
			})
			if err != nil {
				return err
			}

			if out == "" {
				out = report.FileName()
			}
			if out == "-" {
				_, err = cmd.OutOrStdout().Write(report.Payload)
			} else {
				err = os.WriteFile(out, report.Payload, 0o644)
			}
			if err != nil {
				return fmt.Errorf("failed to write report: %w", err)
			}

			s := report.Summary
			cmd.PrintErrf("%s: completeness %.1f%% (%d/%d rules passed, %d errors, %d warnings)\n",
				report.Metadata.FrameworkName, report.Completeness, s.Passed, s.Total, s.Errors, s.Warnings)
			for _, v := range report.ValidationResults {
				if !v.Passed {
					cmd.PrintErrf("  %s: %s\n", v.Severity, v.Message)
				}
			}
			if out != "-" {
				cmd.PrintErrf("wrote %s (%d bytes, sha256 %s)\n", filepath.Clean(out), report.PayloadSize, report.PayloadHash)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "inventory file (YAML or JSON)")
	cmd.Flags().StringVar(&framework, "framework", string(frameworks.FrameworkSB253), "sb253, csrd, cdp, tcfd or issb")
	cmd.Flags().StringVar(&format, "format", string(frameworks.FormatPDF), "pdf, excel, csv, json or xbrl")
	cmd.Flags().IntVar(&year, "year", 0, "reporting year (default: latest year in the file)")
	cmd.Flags().StringVar(&title, "title", "", "report title")
	cmd.Flags().StringVar(&author, "author", "", "report author")
	cmd.Flags().StringVar(&out, "out", "", `output path, "-" for stdout (default: <framework>_<year>_v<version>.<ext>)`)
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
