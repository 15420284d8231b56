package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"creofinder/internal/errors"
	"creofinder/internal/finder"
	"creofinder/internal/models"
	"creofinder/pkg/utils"
)

var queryCmd = &cobra.Command{
	Use:   "query <collection>",
	Short: "Search a catalog collection",
	Long: `Search a collection of the EO Data Finder catalog and print every matching product.

All result pages are fetched. Dates accept ISO 8601 dates or timestamps; an end date without a
time of day covers the whole day. The geometry is WKT or GeoJSON. Extra catalog parameters are
passed with --param key=value; a value of the form a,b is sent as the range [a,b].

By default only products that can be downloaded right away are returned. Pass --status "" to
disable the filter.`,
	Example: `  # Sentinel-2 products over a point on one day
  creofinder query Sentinel2 --start 2021-06-01 --end 2021-06-01 --geometry "POINT(21 52)"

  # Filter on product attributes
  creofinder query Sentinel2 --start 2021-06-01 --param productType=L1C --param cloudCover=0,20

  # Print only the product ids
  creofinder query Sentinel1 --start 2021-06-01 --end 2021-06-02 --ids-only`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, args[0])
	},
}

func runQuery(cmd *cobra.Command, collection string) error {
	q, err := buildQuery(cmd)
	if err != nil {
		return reportError(cmd, err, "query")
	}

	client := finder.NewClient(cfg.SearchURL, finder.WithTimeout(cfg.QueryTimeout))

	searchURL, err := client.SearchURL(collection, q)
	if err != nil {
		return reportError(cmd, err, "query")
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	if isVerbose(cmd) {
		cmd.Printf("Querying collection %s\n", collection)
		cmd.Printf("  URL: %s\n", searchURL)
	}

	startTime := time.Now()
	features, err := client.Query(ctx, collection, q)
	if err != nil {
		return reportError(cmd, err, "query")
	}

	result := &models.QueryResult{
		Collection:    collection,
		URL:           searchURL,
		Count:         len(features),
		Products:      make([]models.Product, 0, len(features)),
		OperationTime: utils.FormatTime(startTime),
	}
	for _, f := range features {
		result.Products = append(result.Products, models.Product{
			ID:         f.ID,
			Title:      f.Title(),
			Geometry:   f.Geometry,
			Properties: f.Properties,
		})
	}
	sort.Slice(result.Products, func(i, j int) bool {
		return result.Products[i].ID < result.Products[j].ID
	})

	if idsOnly, _ := cmd.Flags().GetBool("ids-only"); idsOnly {
		for _, p := range result.Products {
			fmt.Fprintln(cmd.OutOrStdout(), p.ID)
		}
		return nil
	}

	if err := utils.PrintResult(result, outputFormat(cmd)); err != nil {
		return reportError(cmd, err, "query")
	}

	if isVerbose(cmd) {
		cmd.Printf("Found %d products\n", result.Count)
	}
	return nil
}

func buildQuery(cmd *cobra.Command) (finder.Query, error) {
	q := finder.DefaultQuery()

	if cmd.Flags().Changed("status") {
		q.Status, _ = cmd.Flags().GetString("status")
	}
	q.Geometry, _ = cmd.Flags().GetString("geometry")

	for _, name := range []string{"start", "end"} {
		s, _ := cmd.Flags().GetString(name)
		if s == "" {
			continue
		}
		t, err := finder.ParseDate(s)
		if err != nil {
			return q, err
		}
		if name == "start" {
			q.Start = t
		} else {
			q.End = t
		}
	}

	raw, _ := cmd.Flags().GetStringArray("param")
	if len(raw) > 0 {
		q.Params = make(map[string]any, len(raw))
	}
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return q, errors.NewValidationError("parse parameter", "parameter %q must have the form key=value", kv)
		}
		q.Params[key] = paramValue(value)
	}

	return q, nil
}

// paramValue turns "a,b" into a range unless the value is already bracketed.
func paramValue(s string) any {
	if s == "" || strings.ContainsRune("[{/(", rune(s[0])) {
		return s
	}
	if lo, hi, ok := strings.Cut(s, ","); ok && !strings.Contains(hi, ",") {
		return []string{strings.TrimSpace(lo), strings.TrimSpace(hi)}
	}
	return s
}

func init() {
	queryCmd.Flags().String("start", "", "Earliest sensing date (ISO 8601)")
	queryCmd.Flags().String("end", "", "Latest sensing date, inclusive (ISO 8601)")
	queryCmd.Flags().String("geometry", "", "Area of interest as WKT or GeoJSON")
	queryCmd.Flags().String("status", finder.OnlineStatusCodes, "Product status filter, empty to disable")
	queryCmd.Flags().StringArray("param", nil, "Extra catalog parameter as key=value, repeatable")
	queryCmd.Flags().Bool("ids-only", false, "Print one product id per line instead of the full result")
	queryCmd.Flags().Int("timeout", 0, "Timeout in seconds for the whole query (0: no limit)")
}
