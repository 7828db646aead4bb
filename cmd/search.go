package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/medprice/internal/retrieval"
)

func newSearchCmd() *cobra.Command {
	var only []string
	cmd := &cobra.Command{
		Use:   "search <keyword>",
		Short: "Run one search and print the aggregate as JSON",
		Example: `  medprice search "dolo 650"
  medprice search --sources truemeds,netmeds crocin`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := sourceOverrides(only)
			if err != nil {
				return err
			}
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			resp, err := a.Search(cmd.Context(), strings.Join(args, " "), overrides)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(resp); err != nil {
				return fmt.Errorf("encode response: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&only, "sources", nil, "only query these sources (comma separated)")
	return cmd
}

// sourceOverrides turns --sources into an enabled-set override that switches
// every other source off. No names means no override.
func sourceOverrides(names []string) (map[string]bool, error) {
	if len(names) == 0 {
		return nil, nil
	}
	overrides := make(map[string]bool, len(retrieval.AllSources()))
	for _, src := range retrieval.AllSources() {
		overrides[string(src)] = false
	}
	for _, name := range names {
		src, ok := retrieval.ParseSource(name)
		if !ok {
			return nil, fmt.Errorf("unknown source %q", name)
		}
		overrides[string(src)] = true
	}
	return overrides, nil
}
