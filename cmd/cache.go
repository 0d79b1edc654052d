package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/ethanolivertroy/sbomgraph/internal/cache"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newCacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the on-disk OSV response cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every cached OSV and KEV response",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			disk, err := cache.New("sbomgraph", cfg.CacheTTL)
			if err != nil {
				return errors.Wrap(err, "failed to open the cache directory")
			}
			return clearCache(os.Stdout, disk)
		},
	})
	return cmd
}

func clearCache(w io.Writer, disk *cache.Disk) error {
	removed, err := disk.Clear()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Removed %d cached responses from %s\n", removed, disk.Dir)
	return nil
}
