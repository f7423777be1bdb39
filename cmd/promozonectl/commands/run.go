package commands

import (
	"fmt"
	"io"

	"promozone/internal/config"
	"promozone/internal/pipeline"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	runTargets     string
	runConcurrency int
)

func init() {
	runCmd.Flags().StringVar(&runTargets, "targets", "", "YAML file listing the pages to scrape (defaults to TARGETS_FILE).")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", pipeline.DefaultConcurrency, "Pages scraped at the same time.")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run [url...]",
	Short: "Scrapes the given pages, or the targets file, and ingests the results.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		urls := args
		if len(urls) == 0 {
			path := runTargets
			if path == "" {
				path = a.Cfg.TargetsFile
			}
			targets, err := config.LoadTargets(path)
			if err != nil {
				return err
			}
			urls = targets.URLs
		}

		a.Pipeline.SetConcurrency(runConcurrency)
		results := a.Pipeline.Run(cmd.Context(), urls)
		renderResults(cmd.OutOrStdout(), results)

		var failed int
		for _, res := range results {
			if res.Report.Failed() {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d pages were not stored, check the listing before retrying", failed, len(results))
		}
		return nil
	},
}

func renderResults(w io.Writer, results []pipeline.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"URL", "Scraped", "Kept", "Inserted", "Duplicates", "Error"})

	var inserted, duplicates int
	for _, res := range results {
		errText := res.ScrapeError
		if res.Report.Error != "" {
			errText = res.Report.Error
		}
		t.AppendRow(table.Row{res.URL, res.Scraped, res.Normalized, res.Report.Inserted, res.Report.Duplicates, errText})
		inserted += res.Report.Inserted
		duplicates += res.Report.Duplicates
	}
	t.AppendFooter(table.Row{"", "", "", inserted, duplicates, ""})
	t.SetStyle(table.StyleRounded)
	t.Render()
}
