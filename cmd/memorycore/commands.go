package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scrypster/memorycore/internal/engine"
	"github.com/scrypster/memorycore/internal/storage"
	"github.com/scrypster/memorycore/pkg/types"
)

// filterFlags are shared by search, list and count.
type filterFlags struct {
	category string
	tags     []string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.category, "category", "", "only memories in this category")
	cmd.Flags().StringSliceVar(&f.tags, "tags", nil, "only memories carrying all of these tags")
}

func (f *filterFlags) filters() storage.Filters {
	return storage.Filters{Category: f.category, Tags: f.tags}
}

func (a *app) saveCmd() *cobra.Command {
	var (
		category   string
		tags       []string
		importance string
		ttlDays    int
		noEmbed    bool
	)
	cmd := &cobra.Command{
		Use:   "save <content>",
		Short: "Save a new memory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.open(cmd.Context())
			if err != nil {
				return err
			}

			md := types.DefaultMetadata()
			if category != "" {
				md.Category = category
			}
			if importance != "" {
				md.Importance = types.Importance(importance)
			}
			md.Tags = tags

			opts := engine.SaveOptions{Metadata: &md, TenantID: a.tenant, SkipEmbedding: noEmbed}
			if cmd.Flags().Changed("ttl-days") {
				opts.TTLDays = &ttlDays
			}

			mem, err := m.Save(cmd.Context(), strings.Join(args, " "), opts)
			if err != nil {
				return err
			}
			return a.printJSON(mem)
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "category (default general)")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "comma-separated tags")
	cmd.Flags().StringVar(&importance, "importance", "", "low, medium or high")
	cmd.Flags().IntVar(&ttlDays, "ttl-days", 0, "days until expiry; 0 never expires (default from config)")
	cmd.Flags().BoolVar(&noEmbed, "no-embed", false, "store without computing an embedding")
	return cmd
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Fetch a memory by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			mem, err := m.Get(cmd.Context(), args[0], a.tenant)
			if err != nil {
				return err
			}
			if mem == nil {
				return types.NewNotFoundError(args[0], a.tenantID())
			}
			return a.printJSON(mem)
		},
	}
}

func (a *app) updateCmd() *cobra.Command {
	var (
		content    string
		category   string
		tags       []string
		importance string
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a memory's content or metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			metaChanged := flags.Changed("category") || flags.Changed("tags") || flags.Changed("importance")
			if !flags.Changed("content") && !metaChanged {
				return errors.New("nothing to update: pass --content, --category, --tags or --importance")
			}

			m, err := a.open(cmd.Context())
			if err != nil {
				return err
			}

			opts := engine.UpdateOptions{TenantID: a.tenant}
			if flags.Changed("content") {
				opts.Content = &content
			}
			if metaChanged {
				current, err := m.Get(cmd.Context(), args[0], a.tenant)
				if err != nil {
					return err
				}
				if current == nil {
					return types.NewNotFoundError(args[0], a.tenantID())
				}
				md := current.Metadata.Clone()
				if flags.Changed("category") {
					md.Category = category
				}
				if flags.Changed("tags") {
					md.Tags = tags
				}
				if flags.Changed("importance") {
					md.Importance = types.Importance(importance)
				}
				opts.Metadata = &md
			}

			mem, err := m.Update(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			return a.printJSON(mem)
		},
	}
	cmd.Flags().StringVar(&content, "content", "", "replacement content")
	cmd.Flags().StringVar(&category, "category", "", "replacement category")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "replacement tags")
	cmd.Flags().StringVar(&importance, "importance", "", "low, medium or high")
	return cmd
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			if err := m.Delete(cmd.Context(), args[0], a.tenant); err != nil {
				return err
			}
			return a.printJSON(map[string]interface{}{"id": args[0], "deleted": true})
		},
	}
}

func (a *app) searchCmd() *cobra.Command {
	var (
		limit int
		ff    filterFlags
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Recall memories by semantic similarity",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			results, err := m.Search(cmd.Context(), strings.Join(args, " "), engine.SearchOptions{
				TenantID: a.tenant,
				Limit:    limit,
				Filters:  ff.filters(),
			})
			if err != nil {
				return err
			}
			return a.printJSON(results)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", engine.DefaultSearchLimit, "maximum number of results")
	ff.register(cmd)
	return cmd
}

func (a *app) listCmd() *cobra.Command {
	var (
		limit  int
		offset int
		ff     filterFlags
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memories in insertion order (oldest first)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if offset < 0 {
				return fmt.Errorf("--offset must not be negative (got %d)", offset)
			}
			m, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			memories, err := m.List(cmd.Context(), a.tenant, storage.ListOptions{
				Limit:   limit,
				Offset:  offset,
				Filters: ff.filters(),
			})
			if err != nil {
				return err
			}
			if memories == nil {
				memories = []*types.Memory{}
			}
			return a.printJSON(memories)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", storage.DefaultListLimit, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of memories to skip")
	ff.register(cmd)
	return cmd
}

func (a *app) countCmd() *cobra.Command {
	var ff filterFlags
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count memories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			n, err := m.Count(cmd.Context(), a.tenant, ff.filters())
			if err != nil {
				return err
			}
			return a.printJSON(map[string]int{"count": n})
		},
	}
	ff.register(cmd)
	return cmd
}

func (a *app) purgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete expired memories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			n, err := m.PurgeExpired(cmd.Context(), a.tenant)
			if err != nil {
				return err
			}
			return a.printJSON(map[string]int{"purged": n})
		},
	}
}

func (a *app) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check storage and embedding health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			report := m.Health(cmd.Context())
			if err := a.printJSON(report); err != nil {
				return err
			}
			if report.Status == types.HealthUnhealthy {
				return errors.New("memorycore is unhealthy")
			}
			return nil
		},
	}
}
