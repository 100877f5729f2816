package cli

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Must-be-Ash/x402-firecrawl/content"
	"github.com/Must-be-Ash/x402-firecrawl/internal/config"
)

var (
	fetchLocation string
	fetchDate     string
	fetchLimit    int
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [query]",
	Short: "Run one content query and print the answer as JSON",
	Long: `Run one content query against the configured upstream, paying if asked.

Examples:
  paygate fetch "harbor reopening" --location US --date 2024-05-01
  paygate fetch "city budget" -n 3`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringVarP(&fetchLocation, "location", "l", "", "location code, e.g. US")
	fetchCmd.Flags().StringVarP(&fetchDate, "date", "d", "", "date as YYYY-MM-DD")
	fetchCmd.Flags().IntVarP(&fetchLimit, "limit", "n", content.DefaultLimit, "maximum items")
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, envFiles()...)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	answer, err := a.service.Get(cmd.Context(), content.Query{
		Query:    strings.Join(args, " "),
		Location: fetchLocation,
		Date:     fetchDate,
		Limit:    fetchLimit,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(answer)
}
