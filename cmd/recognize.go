package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/camera"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/recognition"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize",
	Short: "Run live recognition in the terminal",
	Long: `Prepare the roster descriptors and run face recognition against the
camera (or a directory of replayed frames) without the web UI. Every pass that
finds a known member is printed; with --event or ATTENDANCE_AUTO_MARK the
recognized members are also marked present.

Examples:
  face-attendance recognize --frames ./testdata/frames --timeout 30s
  face-attendance recognize --facing user --event 2024-06-01-rehearsal --json`,
	RunE: runRecognize,
}

func init() {
	rootCmd.AddCommand(recognizeCmd)

	recognizeCmd.Flags().String("facing", "", "Camera facing mode: user or environment (default environment)")
	recognizeCmd.Flags().String("frames", "", "Replay JPEG frames from this directory instead of a camera")
	recognizeCmd.Flags().String("event", "", "Event ID to mark attendance for (default: first open event)")
	recognizeCmd.Flags().Duration("timeout", 0, "Stop after this long (0 runs until interrupted)")
	recognizeCmd.Flags().Float64("tolerance", 0, "Match tolerance (overrides FACE_MATCH_TOLERANCE)")
	recognizeCmd.Flags().Bool("json", false, "Print one JSON object per event instead of text")
}

func runRecognize(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if tol := mustGetFloat64(cmd, "tolerance"); tol > 0 {
		cfg.Recognition.Tolerance = tol
	}
	facing, err := camera.ParseFacingMode(mustGetString(cmd, "facing"))
	if err != nil {
		return err
	}
	jsonOutput := mustGetBool(cmd, "json")
	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	logger := slog.Default()
	eng, err := newEngine(ctx, cfg, newCameraSource(cfg, mustGetString(cmd, "frames")), logger)
	if err != nil {
		return err
	}
	defer eng.close()

	if eventID := mustGetString(cmd, "event"); eventID != "" {
		if err := eng.recorder.Select(eventID); err != nil {
			return err
		}
	}
	if target, ok := eng.recorder.Selected(); ok && !jsonOutput {
		fmt.Printf("Marking attendance for %s (%s)\n", target.EventName, target.EventID)
	}

	events, unsubscribe := eng.session.Subscribe()
	defer unsubscribe()
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printEvents(events, jsonOutput)
	}()

	if err := eng.run(ctx); err != nil {
		return fmt.Errorf("preparing recognition: %w", err)
	}
	if err := eng.session.StartDetection(ctx, facing); err != nil {
		return fmt.Errorf("starting detection: %w", err)
	}
	if !jsonOutput {
		fmt.Printf("Detecting (%s camera), press Ctrl+C to stop\n", facing)
	}

	<-ctx.Done()
	if err := eng.session.StopDetection(); err != nil {
		logger.Debug("stop detection", "error", err)
	}
	eng.session.Dispose()
	<-printed
	return nil
}

// printEvents renders session events until the session is disposed.
func printEvents(events <-chan recognition.Event, jsonOutput bool) {
	var bar *progressbar.ProgressBar
	enc := json.NewEncoder(os.Stdout)

	for ev := range events {
		if jsonOutput {
			if ev.Type != recognition.EventStatus && ev.Type != recognition.EventProgress {
				_ = enc.Encode(ev)
			}
			continue
		}

		switch ev.Type {
		case recognition.EventProgress:
			p, ok := ev.Data.(recognition.Progress)
			if !ok || p.Total == 0 {
				continue
			}
			if bar == nil {
				bar = newProgressBar(p.Total, "Building descriptors")
			}
			_ = bar.Set(p.Current)
			if p.Current >= p.Total {
				_ = bar.Finish()
				fmt.Println()
			}
		case recognition.EventSkipped:
			if skipped, ok := ev.Data.([]recognition.SkippedMember); ok && len(skipped) > 0 {
				names := make([]string, 0, len(skipped))
				for _, m := range skipped {
					names = append(names, m.Name)
				}
				fmt.Printf("Skipped %d member(s) without a usable photo: %s\n", len(skipped), strings.Join(names, ", "))
			}
		case recognition.EventMatches:
			results, _ := ev.Data.([]recognition.MatchResult)
			for _, r := range results {
				fmt.Printf("%s  %-24s distance %.3f\n", r.At.Format(time.TimeOnly), r.Name, r.Distance)
			}
		case recognition.EventMarked:
			if m, ok := ev.Data.(database.AttendanceMark); ok {
				fmt.Printf("%s  %s\n", m.CheckedAt.Format(time.TimeOnly), ev.Message)
			}
		case recognition.EventError:
			fmt.Printf("Error: %s\n", ev.Message)
		}
	}
}

// newProgressBar creates a counting progress bar in the style used across
// the CLI.
func newProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("members"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)
}
