package commands

import (
	"fmt"
	"io"
	"strconv"

	"promozone/internal/models"
	"promozone/internal/query"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var (
	listLimit int
	listItem  string
)

func init() {
	listCmd.Flags().IntVar(&listLimit, "limit", query.DefaultLimit, "Number of promotions to show.")
	listCmd.Flags().StringVar(&listItem, "item", "", "Show the price history of one item id instead.")
	rootCmd.AddCommand(listCmd)
}

var listCmd = &cobra.Command{
	Use:   "list [--limit N | --item ID]",
	Short: "Prints the most recently collected promotions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, done, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		var promos []models.Promotion
		if listItem != "" {
			promos = a.Query.PriceHistory(cmd.Context(), a.Cfg.Marketplace, listItem)
		} else {
			promos = a.Query.ListRecent(cmd.Context(), listLimit)
		}
		renderPromotions(cmd.OutOrStdout(), promos)
		return nil
	},
}

func renderPromotions(w io.Writer, promos []models.Promotion) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Collected", "Item", "Title", "Price", "Original", "Discount"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Title", WidthMax: 48},
		{Name: "Price", Align: text.AlignRight},
		{Name: "Original", Align: text.AlignRight},
		{Name: "Discount", Align: text.AlignRight},
	})

	for _, p := range promos {
		original, discount := "", ""
		if p.OriginalPrice != nil {
			original = money(*p.OriginalPrice)
		}
		if p.DiscountPercent != nil {
			discount = strconv.FormatFloat(*p.DiscountPercent, 'f', -1, 64) + "%"
		}
		t.AppendRow(table.Row{p.CollectedAt.Local().Format("2006-01-02 15:04"), p.ItemID, p.Title, money(p.Price), original, discount})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d promotions", len(promos)), "", "", ""})
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Footer = text.FormatDefault
	t.Render()
}

func money(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
