package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/user/webjourney/internal/media"
)

func init() {
	rootCmd.AddCommand(storageCmd)
	storageCmd.AddCommand(storageInfoCmd, storageClearCmd)
}

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Manage screenshot storage",
}

var storageInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show screenshot storage usage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		store, err := media.Open(filepath.Join(cfg.DataDir, "media.db"))
		if err != nil {
			return fmt.Errorf("open media store: %w", err)
		}
		defer store.Close()

		info, err := store.UsageInfo(context.Background())
		if err != nil {
			return fmt.Errorf("storage info: %w", err)
		}

		fmt.Fprintf(os.Stdout, "Items: %d\n", info.Count)
		fmt.Fprintf(os.Stdout, "Size:  %s\n", humanize.Bytes(uint64(info.TotalSizeBytes)))
		return nil
	},
}

var storageClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all screenshots and element crops",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		store, err := media.Open(filepath.Join(cfg.DataDir, "media.db"))
		if err != nil {
			return fmt.Errorf("open media store: %w", err)
		}
		defer store.Close()

		if err := store.ClearAll(context.Background()); err != nil {
			return fmt.Errorf("clear storage: %w", err)
		}
		fmt.Println("Storage cleared.")
		return nil
	},
}
