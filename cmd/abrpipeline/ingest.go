package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"abr-pipeline/internal/media"
	"abr-pipeline/internal/orchestrator"

	"github.com/spf13/cobra"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var (
		assetID    string
		collection string
		source     string
		timeout    time.Duration
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Upload a local file and package it once",
		RunE: func(cmd *cobra.Command, args []string) error {
			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			runCtx, cancel := context.WithTimeout(parent, timeout)
			defer cancel()

			s := ctx.settings
			log := ctx.logger()

			kind := media.CollectionKind(collection)
			if err := media.ValidateAssetID(assetID); err != nil {
				return fmt.Errorf("%w: %v", orchestrator.ErrInvalidAsset, err)
			}
			if _, ok := ctx.collections[kind]; !ok {
				return fmt.Errorf("%w: %q", orchestrator.ErrUnknownCollection, collection)
			}

			info, err := os.Stat(source)
			if err != nil {
				return err
			}
			if s.MaxSourceBytes > 0 && info.Size() > s.MaxSourceBytes {
				return fmt.Errorf("%w: %s is %d bytes", orchestrator.ErrSourceTooLarge, source, info.Size())
			}
			data, err := os.ReadFile(source)
			if err != nil {
				return err
			}

			p, err := buildPipeline(runCtx, s, ctx.collections, log)
			if err != nil {
				return err
			}
			defer p.Close()
			defer p.orch.Shutdown(context.Background())

			key := p.keys.Original(kind, assetID)
			if err := p.store.Put(runCtx, key, data); err != nil {
				return fmt.Errorf("upload original: %w", err)
			}

			events, unsubscribe := p.bus.Subscribe(assetID)
			defer unsubscribe()

			handle, err := p.orch.Ingest(runCtx, orchestrator.IngestRequest{
				AssetID:    assetID,
				Collection: kind,
				SourceKey:  key,
				SourceSize: info.Size(),
			})
			if err != nil {
				return err
			}

			out, err := handle.Wait(runCtx)
			if err != nil {
				_ = p.orch.Cancel(context.Background(), assetID)
				return err
			}

			w := cmd.OutOrStdout()
			if asJSON {
				select {
				case ev := <-events:
					enc := json.NewEncoder(w)
					enc.SetIndent("", "  ")
					if err := enc.Encode(ev); err != nil {
						return err
					}
					if out.State == orchestrator.AssetReady {
						return nil
					}
				default:
				}
			}
			if out.State != orchestrator.AssetReady {
				return fmt.Errorf("asset %s failed (rendition %q): %w", assetID, out.Rendition, out.Err)
			}

			fmt.Fprintf(w, "asset %s ready: %s\n", assetID, out.ManifestKey)
			rows := make([][]string, 0, len(out.Manifest.Renditions))
			for _, r := range out.Manifest.Renditions {
				rows = append(rows, []string{
					r.ID,
					strconv.Itoa(len(r.Segments)),
					strconv.FormatFloat(r.Duration, 'f', 3, 64),
					r.Playlist,
				})
			}
			fmt.Fprintln(w, renderTable([]string{"Rendition", "Segments", "Duration (s)", "Playlist"}, rows, 1, 2))
			return nil
		},
	}

	cmd.Flags().StringVar(&assetID, "asset", "", "Asset id")
	cmd.Flags().StringVar(&collection, "collection", string(media.KindVideos), "Collection the asset belongs to")
	cmd.Flags().StringVar(&source, "source", "", "Local media file to upload as the original")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Hour, "Give up after this long")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the completion event as JSON")
	_ = cmd.MarkFlagRequired("asset")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}
