package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/scrypster/memorycore/internal/config"
	"github.com/scrypster/memorycore/internal/engine"
	"github.com/scrypster/memorycore/pkg/types"
)

// app holds state shared by the subcommands of one invocation.
type app struct {
	cfgFile string
	tenant  string

	out    io.Writer
	errOut io.Writer

	cfg        *config.Config
	logger     *log.Logger
	components *engine.Components
}

// run executes the CLI with args and releases whatever the command opened.
func run(ctx context.Context, args []string, out, errOut io.Writer) error {
	a := &app{out: out, errOut: errOut}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)

	err := root.ExecuteContext(ctx)
	if a.components != nil {
		if cerr := a.components.Manager.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "memorycore",
		Short:         "Multi-tenant semantic memory store",
		Long:          longRoot,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "YAML config file (default $MEMORYCORE_CONFIG)")
	root.PersistentFlags().StringVar(&a.tenant, "tenant", "", "tenant namespace (default from config)")

	root.AddCommand(
		a.saveCmd(),
		a.getCmd(),
		a.updateCmd(),
		a.deleteCmd(),
		a.searchCmd(),
		a.listCmd(),
		a.countCmd(),
		a.purgeCmd(),
		a.healthCmd(),
		a.serveCmd(),
		a.backupCmd(),
	)
	return root
}

// open loads configuration and wires the manager. Subcommands call it from
// RunE so that --help and --version never touch storage.
func (a *app) open(ctx context.Context) (*engine.Manager, error) {
	if a.components != nil {
		return a.components.Manager, nil
	}

	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}

	c, err := engine.Build(ctx, cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to start memory manager: %w", err)
	}
	a.components = c
	return c.Manager, nil
}

func (a *app) printJSON(v interface{}) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

const longRoot = `memorycore stores short text memories per tenant, embeds them into
vectors and recalls them by semantic similarity.

Configuration is read from --config (or $MEMORYCORE_CONFIG) and then
overridden by MEMORYCORE_* environment variables. Results are printed as
JSON on stdout; logs go to stderr.`

func (a *app) tenantID() string {
	if a.tenant != "" {
		return a.tenant
	}
	if a.cfg != nil && a.cfg.TenantID != "" {
		return a.cfg.TenantID
	}
	return types.DefaultTenant
}
