package cli

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dshills/QuantaFrame/internal/feature"
)

type flagInfo struct {
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Category    string `json:"category"`
	Stability   string `json:"stability"`
	Description string `json:"description"`
}

// NewFlagsCommand lists the operator feature flags and their state after
// configuration and environment overrides.
func NewFlagsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "flags",
		Short: "List operator feature flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := rootOpts.cfg.Features()
			if err != nil {
				return err
			}
			infos := describeFlags(set)
			if rootOpts.Format == "json" {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(infos)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FLAG\tENABLED\tSTABILITY\tDESCRIPTION")
			for _, f := range infos {
				fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n", f.Name, f.Enabled, f.Stability, f.Description)
			}
			return tw.Flush()
		},
	}
}

func describeFlags(set *feature.Set) []flagInfo {
	var infos []flagInfo
	for flag, enabled := range set.All() {
		info := flagInfo{Name: string(flag), Enabled: enabled}
		if md, ok := set.Metadata(flag); ok {
			info.Category, info.Stability, info.Description = md.Category, md.Stability, md.Description
		}
		infos = append(infos, info)
	}
	slices.SortFunc(infos, func(a, b flagInfo) int { return strings.Compare(a.Name, b.Name) })
	return infos
}
