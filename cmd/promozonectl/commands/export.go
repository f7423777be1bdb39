package commands

import (
	"fmt"
	"os"

	"promozone/internal/export"
	"promozone/internal/query"

	"github.com/spf13/cobra"
)

var (
	exportOut   string
	exportLimit int
)

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "promotions.xlsx", "Workbook path to write.")
	exportCmd.Flags().IntVar(&exportLimit, "limit", query.MaxLimit, "Number of recent promotions to export.")
	rootCmd.AddCommand(exportCmd)
}

var exportCmd = &cobra.Command{
	Use:   "export [-o file.xlsx]",
	Short: "Writes the most recent promotions to an XLSX workbook.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		promos := a.Query.ListRecent(cmd.Context(), exportLimit)

		f, err := os.Create(exportOut)
		if err != nil {
			return fmt.Errorf("create %s: %w", exportOut, err)
		}
		if err := export.WriteXLSX(f, promos); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close %s: %w", exportOut, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d promotions to %s\n", len(promos), exportOut)
		return nil
	},
}
