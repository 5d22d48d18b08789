package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"tilecast/internal/core/domain"
	backupinfra "tilecast/internal/infrastructure/backup"
	"tilecast/pkg/backup"
	"tilecast/pkg/validation"
)

type backupOpts struct {
	dir        string
	configPath string
}

func newBackupCmd(open repoOpener) *cobra.Command {
	opts := backupOpts{}

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export and import session layout histories",
	}
	cmd.PersistentFlags().StringVar(&opts.dir, "dir", "backups", "backup directory")
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "configs/config.yaml", "server config file naming the storage")

	cmd.AddCommand(newBackupExportCmd(open, &opts))
	cmd.AddCommand(newBackupImportCmd(open, &opts))
	cmd.AddCommand(newBackupListCmd(&opts))
	return cmd
}

func backupService(dir string) (*backup.BackupService, error) {
	storage, err := backup.NewFileStorage(dir)
	if err != nil {
		return nil, err
	}
	return backup.NewBackupService(storage, version), nil
}

func newBackupExportCmd(open repoOpener, opts *backupOpts) *cobra.Command {
	var (
		sessions []string
		limit    = validation.MaxHistoryLimit
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the history of one or more sessions to a backup file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]domain.SessionID, 0, len(sessions))
			for _, s := range sessions {
				if err := validation.ValidateSessionID(s); err != nil {
					return err
				}
				ids = append(ids, domain.SessionID(s))
			}
			if err := validation.ValidateHistoryLimit(limit); err != nil {
				return err
			}

			service, err := backupService(opts.dir)
			if err != nil {
				return err
			}
			repo, closeRepo, err := open(cmd.Context(), opts.configPath)
			if err != nil {
				return err
			}
			defer closeRepo()

			name, count, err := backupinfra.NewLayoutHistoryBackup(service, repo, nil).Export(cmd.Context(), ids, limit)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %d records to %s\n", count, name)
			return err
		},
	}

	cmd.Flags().StringSliceVar(&sessions, "session", nil, "session id (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", limit, "maximum records per session")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func newBackupImportCmd(open repoOpener, opts *backupOpts) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Append the records of a backup that are newer than what storage holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			service, err := backupService(opts.dir)
			if err != nil {
				return err
			}
			repo, closeRepo, err := open(cmd.Context(), opts.configPath)
			if err != nil {
				return err
			}
			defer closeRepo()

			count, err := backupinfra.NewLayoutHistoryBackup(service, repo, nil).Import(cmd.Context(), name)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "imported %d records from %s\n", count, name)
			return err
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "backup file name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newBackupListCmd(opts *backupOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List layout history backups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			service, err := backupService(opts.dir)
			if err != nil {
				return err
			}
			names, err := service.ListBackups(cmd.Context(), backupinfra.KindLayoutHistory)
			if err != nil {
				return err
			}
			for _, n := range names {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), n); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
