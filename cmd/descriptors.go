package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/descriptors"
)

var descriptorsCmd = &cobra.Command{
	Use:   "descriptors",
	Short: "Member descriptor commands",
	Long:  `Commands for extracting face descriptors from member photos ahead of a session.`,
}

var descriptorsBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Extract descriptors for the roster and warm the cache",
	Long: `Load the roster, extract one face descriptor per member photo and store
it in the local descriptor cache, so the next session starts without
extraction. Members whose photo has no detectable face are listed as skipped.`,
	RunE: runDescriptorsBuild,
}

var descriptorsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Store descriptors for members that have none in the database",
	Long: `Extract descriptors for roster members that carry no stored descriptor and
write them to PostgreSQL. Members that already have one are left untouched.
Requires DATABASE_URL.`,
	RunE: runDescriptorsSync,
}

func init() {
	rootCmd.AddCommand(descriptorsCmd)
	descriptorsCmd.AddCommand(descriptorsBuildCmd)
	descriptorsCmd.AddCommand(descriptorsSyncCmd)

	descriptorsBuildCmd.Flags().Bool("json", false, "Output as JSON")
	descriptorsSyncCmd.Flags().Bool("json", false, "Output as JSON")
}

type buildOutput struct {
	Members int           `json:"members"`
	Labeled int           `json:"labeled"`
	Skipped []memberBrief `json:"skipped"`
}

type syncOutput struct {
	Saved  []memberBrief `json:"saved"`
	Failed []memberBrief `json:"failed"`
}

type memberBrief struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func briefs(members []database.Member) []memberBrief {
	out := make([]memberBrief, 0, len(members))
	for _, m := range members {
		out = append(out, memberBrief{ID: m.ID, Name: m.Name})
	}
	return out
}

// prepareBuilder opens the backends, loads the roster and the models and
// returns a descriptor builder over them.
func prepareBuilder(ctx context.Context, cfg *config.Config, quiet bool) (*descriptors.Builder, []database.Member, func(), error) {
	logger := slog.Default()
	closeBackends, err := openBackends(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	roster, err := database.GetRosterReader(ctx)
	if err != nil {
		closeBackends()
		return nil, nil, nil, err
	}
	members, err := roster.ActiveMembers(ctx)
	if err != nil {
		closeBackends()
		return nil, nil, nil, fmt.Errorf("loading roster: %w", err)
	}

	loader, err := newModelLoader(cfg.Models, !quiet, logger)
	if err != nil {
		closeBackends()
		return nil, nil, nil, err
	}
	detector, err := loader.EnsureReady(ctx)
	if err != nil {
		closeBackends()
		return nil, nil, nil, err
	}

	c := openCache(cfg.Cache, logger)
	builder := descriptors.NewBuilder(detector, c, descriptors.NewHTTPPhotoLoader(), cfg.Recognition.MaxImageSize, logger)

	cleanup := func() {
		if err := loader.Close(); err != nil {
			logger.Warn("failed to release models", "error", err)
		}
		if err := c.Close(); err != nil {
			logger.Warn("failed to close descriptor cache", "error", err)
		}
		closeBackends()
	}
	return builder, members, cleanup, nil
}

// barProgress adapts a progress bar to the builder's progress callback.
func barProgress(quiet bool, total int, description string) (descriptors.ProgressFunc, func()) {
	if quiet || total == 0 {
		return nil, func() {}
	}
	bar := newProgressBar(total, description)
	return func(done, _ int) { _ = bar.Set(done) }, func() {
		_ = bar.Finish()
		fmt.Println()
	}
}

func runDescriptorsBuild(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	builder, members, cleanup, err := prepareBuilder(ctx, config.Load(), jsonOutput)
	if err != nil {
		return err
	}
	defer cleanup()

	progress, finish := barProgress(jsonOutput, len(members), "Extracting descriptors")
	res, err := builder.Build(ctx, members, progress)
	finish()
	if err != nil {
		return err
	}

	out := buildOutput{Members: len(members), Labeled: len(res.Labeled), Skipped: briefs(res.Skipped)}
	if jsonOutput {
		return outputJSON(out)
	}

	fmt.Printf("Labeled %d of %d members\n", out.Labeled, out.Members)
	for _, m := range out.Skipped {
		fmt.Printf("  skipped: %s (%s)\n", m.Name, m.ID)
	}
	return nil
}

func runDescriptorsSync(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	builder, members, cleanup, err := prepareBuilder(ctx, config.Load(), jsonOutput)
	if err != nil {
		return err
	}
	defer cleanup()

	writer, err := database.GetDescriptorWriter(ctx)
	if err != nil {
		return fmt.Errorf("descriptor storage: %w", err)
	}

	pending := len(database.MembersWithoutDescriptor(members))
	if pending == 0 {
		if jsonOutput {
			return outputJSON(syncOutput{Saved: []memberBrief{}, Failed: []memberBrief{}})
		}
		fmt.Println("All members already have a stored descriptor")
		return nil
	}

	var bar *progressbar.ProgressBar
	var progress descriptors.ProgressFunc
	if !jsonOutput {
		bar = newProgressBar(pending, "Syncing descriptors")
		progress = func(done, _ int) { _ = bar.Set(done) }
	}

	res, err := builder.Sync(ctx, members, writer, progress)
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}
	if err != nil {
		return err
	}

	out := syncOutput{Saved: briefs(res.Saved), Failed: briefs(res.Failed)}
	if jsonOutput {
		return outputJSON(out)
	}
	fmt.Printf("Saved %d descriptor(s), %d failed\n", len(out.Saved), len(out.Failed))
	for _, m := range out.Failed {
		fmt.Printf("  failed: %s (%s)\n", m.Name, m.ID)
	}
	return nil
}
