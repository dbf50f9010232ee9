package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrypster/memorycore/internal/backup"
	"github.com/scrypster/memorycore/internal/config"
)

// loadConfig reads configuration without wiring storage. Commands that must
// not hold the database open use it instead of open.
func (a *app) loadConfig() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return nil, err
	}
	a.cfg = cfg
	a.logger = cfg.NewLogger(a.errOut)
	return cfg, nil
}

func (a *app) backupService(interval time.Duration) (*backup.Service, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Storage.Backend != "" && cfg.Storage.Backend != "sqlite" {
		return nil, errors.New("backups are only supported for the sqlite backend")
	}
	return backup.NewService(backup.Config{
		DBPath:   cfg.SQLitePath(),
		Dir:      cfg.BackupDir(),
		Interval: interval,
		Logger:   a.logger.WithPrefix("backup"),
	})
}

func (a *app) backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list and restore sqlite backups",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Take a verified backup now and apply retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.backupService(0)
			if err != nil {
				return err
			}
			res, err := svc.BackupNow(cmd.Context())
			if err != nil {
				return err
			}
			return a.printJSON(res)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.backupService(0)
			if err != nil {
				return err
			}
			backups, err := svc.List()
			if err != nil {
				return err
			}
			if backups == nil {
				backups = []backup.Info{}
			}
			return a.printJSON(backups)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "restore <backup-file>",
		Short: "Replace the database with a backup; stop other memorycore processes first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.backupService(0)
			if err != nil {
				return err
			}
			if err := svc.Restore(cmd.Context(), args[0]); err != nil {
				return err
			}
			return a.printJSON(map[string]string{"restored_from": args[0]})
		},
	})

	return cmd
}
