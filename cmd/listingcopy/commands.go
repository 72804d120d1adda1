package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/julienbonastre/listing-copier/internal/app"
	"github.com/julienbonastre/listing-copier/internal/compat"
	"github.com/julienbonastre/listing-copier/internal/config"
	"github.com/julienbonastre/listing-copier/internal/copier"
	"github.com/julienbonastre/listing-copier/internal/logging"
)

type rootOptions struct {
	configPath string
	open       func(cfgPath string) (*app.App, error)
}

func openApp(cfgPath string) (*app.App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.App.LogLevel, cfg.App.Env)
	if err != nil {
		return nil, err
	}
	return app.New(cfg, logger)
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:          "listingcopy",
		Short:        "Copy marketplace listings and vehicle compatibilities between sellers",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config.yaml")

	root.AddCommand(newCopyCmd(opts), newCopyDimensionsCmd(opts), newCompatCmd(opts))
	return root
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func splitIDs(values []string) []string {
	var ids []string
	for _, v := range values {
		for _, part := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == '\n' }) {
			if part = strings.TrimSpace(part); part != "" {
				ids = append(ids, part)
			}
		}
	}
	return ids
}

func checkSellers(source string, dests []string) error {
	if source == "" {
		return errors.New("--from is required")
	}
	if len(dests) == 0 {
		return errors.New("at least one --to seller is required")
	}
	for _, d := range dests {
		if d == source {
			return fmt.Errorf("source seller %q cannot be a destination", source)
		}
	}
	return nil
}

func newCopyCmd(opts *rootOptions) *cobra.Command {
	var (
		from     string
		to       []string
		operator string
	)
	cmd := &cobra.Command{
		Use:   "copy ITEM_ID...",
		Short: "Copy listings from one seller to others",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkSellers(from, to); err != nil {
				return err
			}
			ids := splitIDs(args)
			if len(ids) == 0 {
				return errors.New("no item ids given")
			}

			a, err := opts.open(opts.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			results := a.Copier.CopyItems(cmd.Context(), copier.CopyRequest{
				SourceSeller: from,
				DestSellers:  to,
				ItemIDs:      ids,
				Operator:     operator,
			})
			return writeJSON(cmd.OutOrStdout(), results)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "source seller slug")
	cmd.Flags().StringSliceVar(&to, "to", nil, "destination seller slugs")
	cmd.Flags().StringVar(&operator, "operator", "", "operator recorded in the copy log")
	return cmd
}

func newCopyDimensionsCmd(opts *rootOptions) *cobra.Command {
	var (
		from                          string
		to                            []string
		height, width, length, weight float64
	)
	cmd := &cobra.Command{
		Use:   "copy-dimensions ITEM_ID",
		Short: "Set package dimensions on a source listing and copy it again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkSellers(from, to); err != nil {
				return err
			}

			var d copier.Dimensions
			set := func(name string, v *float64, dst **float64) {
				if cmd.Flags().Changed(name) {
					*dst = v
				}
			}
			set("height", &height, &d.Height)
			set("width", &width, &d.Width)
			set("length", &length, &d.Length)
			set("weight", &weight, &d.Weight)
			if len(copier.DimensionAttributes(d)) == 0 {
				return errors.New("at least one of --height, --width, --length, --weight is required")
			}

			a, err := opts.open(opts.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			results := a.Copier.CopyWithDimensions(cmd.Context(), from, to, strings.TrimSpace(args[0]), d)
			return writeJSON(cmd.OutOrStdout(), results)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "source seller slug")
	cmd.Flags().StringSliceVar(&to, "to", nil, "destination seller slugs")
	cmd.Flags().Float64Var(&height, "height", 0, "package height in cm")
	cmd.Flags().Float64Var(&width, "width", 0, "package width in cm")
	cmd.Flags().Float64Var(&length, "length", 0, "package length in cm")
	cmd.Flags().Float64Var(&weight, "weight", 0, "package weight in g")
	return cmd
}

// parseTargets reads SELLER:ITEM_ID pairs.
func parseTargets(values []string) ([]compat.Target, error) {
	targets := make([]compat.Target, 0, len(values))
	for _, v := range values {
		seller, item, ok := strings.Cut(v, ":")
		seller, item = strings.TrimSpace(seller), strings.TrimSpace(item)
		if !ok || seller == "" || item == "" {
			return nil, fmt.Errorf("invalid target %q, want SELLER:ITEM_ID", v)
		}
		targets = append(targets, compat.Target{SellerSlug: seller, ItemID: item})
	}
	return targets, nil
}

func newCompatCmd(opts *rootOptions) *cobra.Command {
	var (
		targetFlags []string
		skus        []string
		sellers     []string
	)
	cmd := &cobra.Command{
		Use:   "compat SOURCE_ITEM_ID",
		Short: "Copy vehicle compatibilities to target listings",
		Long: "Copy the compatibilities of SOURCE_ITEM_ID to every --target. With --sku, listings\n" +
			"carrying those SKUs are found across sellers and added as targets.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := strings.TrimSpace(args[0])
			targets, err := parseTargets(targetFlags)
			if err != nil {
				return err
			}
			if len(targets) == 0 && len(skus) == 0 {
				return errors.New("give at least one --target or --sku")
			}

			a, err := opts.open(opts.configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if len(skus) > 0 {
				var allowed []string
				if len(sellers) > 0 {
					allowed = sellers
				}
				hits, err := a.Compat.SearchSKU(ctx, skus, allowed)
				if err != nil {
					return err
				}
				targets = mergeTargets(targets, source, hits)
			}
			if len(targets) == 0 {
				return errors.New("no target listings found")
			}

			entry, err := a.Compat.StartLog(ctx, source, targets, skus)
			if err != nil {
				return err
			}
			a.Logger.Info("Copying compatibilities",
				zap.String("source_item_id", source),
				zap.Int("targets", len(targets)),
				zap.String("log_id", entry.ID))

			results, err := a.Compat.CopyToTargets(ctx, source, targets, skus, entry.ID)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"logId": entry.ID, "results": results})
		},
	}
	cmd.Flags().StringArrayVar(&targetFlags, "target", nil, "target as SELLER:ITEM_ID (repeatable)")
	cmd.Flags().StringSliceVar(&skus, "sku", nil, "find targets by SKU")
	cmd.Flags().StringSliceVar(&sellers, "seller", nil, "restrict the SKU search to these sellers")
	return cmd
}

// mergeTargets appends SKU hits to targets, skipping the source item and duplicates.
func mergeTargets(targets []compat.Target, source string, hits []compat.SearchHit) []compat.Target {
	seen := make(map[compat.Target]bool, len(targets))
	for _, t := range targets {
		seen[t] = true
	}
	for _, h := range hits {
		t := compat.Target{SellerSlug: h.SellerSlug, ItemID: h.ItemID}
		if h.ItemID == source || seen[t] {
			continue
		}
		seen[t] = true
		targets = append(targets, t)
	}
	return targets
}
