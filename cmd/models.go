package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/models"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Recognition model commands",
}

var modelsFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download the recognition model assets",
	Long: `Download the detector, landmark and recognition model files from MODELS_URL
into MODELS_DIR. Files already present are kept.`,
	RunE: runModelsFetch,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.AddCommand(modelsFetchCmd)

	modelsFetchCmd.Flags().String("dir", "", "Target directory (overrides MODELS_DIR)")
	modelsFetchCmd.Flags().String("from", "", "Base URL or directory to copy from (overrides MODELS_URL)")
}

func runModelsFetch(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if dir := mustGetString(cmd, "dir"); dir != "" {
		cfg.Models.Dir = dir
	}
	if from := mustGetString(cmd, "from"); from != "" {
		cfg.Models.URL = from
	}
	if cfg.Models.Backend == "remote" {
		fmt.Println("The remote backend needs no local model files")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loader := models.NewLoader(modelOptions(cfg.Models, true), nil, slog.Default())
	if err := loader.Fetch(ctx); err != nil {
		return err
	}

	for _, name := range cfg.Models.Files.All() {
		fmt.Printf("  %s\n", filepath.Join(cfg.Models.Dir, name))
	}
	fmt.Println("Model assets ready")
	return nil
}
