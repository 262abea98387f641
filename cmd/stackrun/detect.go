package main

import (
	"encoding/json"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	iexec "github.com/ShayCichocki/stackrun/internal/exec"
	"github.com/ShayCichocki/stackrun/internal/report"
	"github.com/ShayCichocki/stackrun/pkg/models"
)

var detectJSON bool

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Show which backends are installed",
	Long: `Probe every supported backend (<binary> --version, looking in
node_modules/.bin first) and report which are usable, their versions, and
what the project's package.json declares.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProject("")
		if err != nil {
			return err
		}

		logger := p.logger()
		defer logger.Close()
		caps := p.detector(iexec.NewRunner(), logger).Detect(cmd.Context())

		if detectJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(caps)
		}

		report.NewPrinter(os.Stdout, false).Table(
			[]string{"BACKEND", "KIND", "STATUS", "VERSION", "DECLARED"}, capabilityRows(caps))
		if caps.ManifestPackageManager != "" {
			color.New(color.Faint).Printf("\npackage.json pins %s\n", caps.ManifestPackageManager)
		}
		return nil
	},
}

func init() {
	detectCmd.Flags().BoolVar(&detectJSON, "json", false, "Print capabilities as JSON")
}

func capabilityRows(caps models.Capabilities) [][]string {
	rows := make([][]string, 0, len(models.AllBackends()))
	for _, b := range models.AllBackends() {
		status := "missing"
		if caps.Has(b) {
			status = "available"
		}
		declared := ""
		if caps.Declared[b] {
			declared = "yes"
		}
		rows = append(rows, []string{
			string(b),
			string(b.Kind()),
			status,
			orDash(caps.Versions[b]),
			orDash(declared),
		})
	}
	return rows
}
