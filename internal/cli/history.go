package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"tilecast/internal/core/domain"
	"tilecast/pkg/validation"
)

type historyOpts struct {
	session    string
	limit      int
	configPath string
	asJSON     bool
}

func newHistoryCmd(open repoOpener) *cobra.Command {
	opts := historyOpts{limit: 10}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the persisted layout versions of a session, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validation.ValidateSessionID(opts.session); err != nil {
				return err
			}
			if err := validation.ValidateHistoryLimit(opts.limit); err != nil {
				return err
			}

			repo, closeRepo, err := open(cmd.Context(), opts.configPath)
			if err != nil {
				return err
			}
			defer closeRepo()

			records, err := repo.History(cmd.Context(), domain.SessionID(opts.session), opts.limit)
			if err != nil {
				return fmt.Errorf("load history: %w", err)
			}

			if opts.asJSON {
				return writeJSON(cmd, records)
			}
			return writeHistoryTable(cmd, records)
		},
	}

	cmd.Flags().StringVar(&opts.session, "session", "", "session id")
	cmd.Flags().IntVar(&opts.limit, "limit", opts.limit, "maximum number of versions")
	cmd.Flags().StringVar(&opts.configPath, "config", "configs/config.yaml", "server config file naming the storage")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print full records as JSON")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func writeHistoryTable(cmd *cobra.Command, records []*domain.LayoutRecord) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), "no layouts saved")
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED\tRECORD\tSHAPE")
	for _, r := range records {
		shape := domain.DefaultLayout().Shape()
		if r.LayoutData != nil {
			shape = r.LayoutData.Shape()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.CreatedAt.UTC().Format(time.RFC3339), r.ID, shape)
	}
	return w.Flush()
}
