package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"tilecast/internal/core/ports"
	"tilecast/internal/infrastructure/repositories"
	"tilecast/pkg/config"
	"tilecast/pkg/logger"
)

var version = "dev"

// SetVersion sets the string printed by --version.
func SetVersion(v string) {
	version = v
}

// repoOpener returns the layout repository a command reads from and a func
// releasing its connections.
type repoOpener func(ctx context.Context, configPath string) (ports.LayoutRepository, func() error, error)

// NewRootCommand builds tilectl with its subcommands writing to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "tilectl",
		Short:         "tilectl inspects and resolves tilecast layouts",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	root.AddCommand(newResolveCmd())
	root.AddCommand(newHistoryCmd(openConfiguredRepository))
	root.AddCommand(newBackupCmd(openConfiguredRepository))
	return root
}

func openConfiguredRepository(ctx context.Context, configPath string) (ports.LayoutRepository, func() error, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format).Sugar()
	// tilectl never publishes layout events
	cfg.Events.Enabled = false

	factory, err := repositories.NewRepositoryFactory(ctx, cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	repo, err := factory.CreateLayoutRepository(ctx)
	if err != nil {
		_ = factory.Close()
		return nil, nil, fmt.Errorf("open layout repository: %w", err)
	}
	if factory.Driver() == config.StorageMemory && cfg.Storage.Driver != config.StorageMemory {
		log.Warnw("configured storage unreachable, reading from empty memory store",
			"driver", cfg.Storage.Driver,
		)
	}

	closer := func() error {
		err := factory.Close()
		_ = log.Sync()
		return err
	}
	return repo, closer, nil
}
