package main

import (
	"fmt"
	"sort"
	"strconv"

	"abr-pipeline/internal/media"

	"github.com/spf13/cobra"
)

func newPlanCommand(ctx *commandContext) *cobra.Command {
	var collection string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the renditions a collection produces",
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds := make([]media.CollectionKind, 0, len(ctx.collections))
			if collection != "" {
				kinds = append(kinds, media.CollectionKind(collection))
			} else {
				for k := range ctx.collections {
					kinds = append(kinds, k)
				}
				sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
			}

			out := cmd.OutOrStdout()
			for _, kind := range kinds {
				cfg, ok := ctx.collections[kind]
				if !ok {
					return fmt.Errorf("unknown collection %q", kind)
				}
				specs, err := media.Plan(cfg)
				if err != nil {
					return fmt.Errorf("collection %s: %w", kind, err)
				}
				fmt.Fprintf(out, "%s (segment %s, keep original: %t)\n", kind, cfg.SegmentDuration, cfg.KeepOriginal)
				fmt.Fprintf(out, "output: %sg{generation}/\n", ctx.keys().AssetPrefix(kind, "{asset}"))
				fmt.Fprintln(out, renderTable([]string{"#", "Rendition", "Resolution", "Bitrate", "Playlist"}, planRows(specs), 0, 3))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "", "Collection to plan (default: all)")
	return cmd
}

// planRows lists playlists relative to the run's output directory.
func planRows(specs []media.RenditionSpec) [][]string {
	rows := make([][]string, 0, len(specs))
	for i, spec := range specs {
		rows = append(rows, []string{
			strconv.Itoa(i),
			spec.ID(),
			fmt.Sprintf("%dx%d", spec.Width(), spec.Height),
			fmt.Sprintf("%d kbps", spec.BitrateKbps),
			spec.ID() + "/index.m3u8",
		})
	}
	return rows
}
