package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/cache"
	"github.com/kozaktomas/face-attendance/internal/config"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Cache management commands",
	Long:  `Commands for managing the local descriptor cache.`,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every cached descriptor",
	Long: `Remove all descriptors from the local cache. The next session extracts
them again from the member photos.`,
	RunE: runCacheClear,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if cfg.Cache.Disabled || cfg.Cache.Path == "" {
		fmt.Println("No persistent descriptor cache configured")
		return nil
	}

	c, err := cache.Open(cfg.Cache.Path, slog.Default())
	if err != nil {
		return fmt.Errorf("opening descriptor cache: %w", err)
	}
	defer c.Close()

	// Store failures are logged by the cache and never fatal.
	c.Clear(context.Background())
	fmt.Printf("Cleared descriptor cache %s\n", cfg.Cache.Path)
	return nil
}
