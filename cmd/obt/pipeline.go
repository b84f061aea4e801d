package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/Bridgeconn/obt-workflow/internal/jobs"
	"github.com/Bridgeconn/obt-workflow/internal/util"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var sttCmd = &cobra.Command{
	Use:   "stt <chapter-id>",
	Short: "Transcribe every unedited verse of a chapter",
	Long: `Transcribe every verse of a chapter that has not been edited by hand.

The first verse is submitted synchronously as a pre-flight check; if the
speech service rejects it nothing changes. Otherwise previous transcripts
are cleared, chapter approval is revoked and the remaining verses are
submitted and polled until they resolve. Interrupting leaves unresolved
jobs in progress.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(args[0], "Transcribing", (*jobs.Orchestrator).Transcribe)
	},
}

var ttsCmd = &cobra.Command{
	Use:   "tts <chapter-id>",
	Short: "Synthesize audio for every edited verse of a chapter",
	Long: `Synthesize audio for every verse of a chapter whose text was edited.

Generated files are resampled to 48 kHz mono and stored under the project
output tree with the same name as the source recording.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(args[0], "Synthesizing", (*jobs.Orchestrator).Synthesize)
	},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs <verse-id>",
	Short: "Show the transcription and synthesis history of a verse",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobs,
}

func init() {
	rootCmd.AddCommand(sttCmd)
	rootCmd.AddCommand(ttsCmd)
	rootCmd.AddCommand(jobsCmd)
}

type startFunc func(o *jobs.Orchestrator, ctx context.Context, chapterID int64) (*jobs.Batch, error)

func runBatch(arg, label string, start startFunc) error {
	chapterID, err := parseID(arg, "chapter")
	if err != nil {
		return err
	}
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	orch, err := a.orchestrator()
	if err != nil {
		return err
	}
	defer orch.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	batch, err := start(orch, ctx, chapterID)
	if err != nil {
		return fmt.Errorf("%s failed: %w", label, err)
	}
	if batch.Queued == 0 {
		util.WarnLog("Nothing to do: %d verses skipped", batch.Skipped)
		return nil
	}
	util.InfoLog("Batch %s: %d verses queued, %d skipped", batch.ID, batch.Queued, batch.Skipped)

	result, err := waitWithProgress(ctx, batch, label)
	if err != nil {
		util.WarnLog("Interrupted; unresolved jobs stay in progress")
		return err
	}

	util.InfoLog("")
	util.SuccessLog("=== %s Summary ===", label)
	util.InfoLog("Completed: %d", result.Completed)
	if result.Failed > 0 {
		util.WarnLog("Failed: %d", result.Failed)
		ids := make([]int64, 0, len(result.Errors))
		for id := range result.Errors {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for i, id := range ids {
			if i >= 10 {
				util.WarnLog("... and %d more errors", len(ids)-10)
				break
			}
			util.WarnLog("  - verse %d: %v", id, result.Errors[id])
		}
	}
	if result.Pending > 0 {
		util.WarnLog("Unresolved: %d", result.Pending)
	}
	util.InfoLog("Took %v", time.Since(batch.StartedAt).Round(time.Second))
	return nil
}

// waitWithProgress blocks until the batch resolves, drawing a bar on terminals
func waitWithProgress(ctx context.Context, batch *jobs.Batch, label string) (*jobs.BatchResult, error) {
	if !util.ShowProgress() {
		return batch.Wait(ctx)
	}

	bar := progressbar.NewOptions(batch.Queued,
		progressbar.OptionSetDescription(label),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("verses"),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
	defer bar.Finish()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-batch.Done():
			bar.Set(batch.Queued)
			return batch.Result(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			resolved, _ := batch.Progress()
			bar.Set(resolved)
		}
	}
}

func runJobs(cmd *cobra.Command, args []string) error {
	verseID, err := parseID(args[0], "verse")
	if err != nil {
		return err
	}
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	v, history, err := a.project.VerseJobs(verseID)
	if err != nil {
		return err
	}

	util.InfoLog("Verse %d (%s)", v.ID, v.Name)
	util.InfoLog("  stt: %v %s", v.STT, v.STTMsg)
	util.InfoLog("  tts: %v %s", v.TTS, v.TTSMsg)
	if len(history) == 0 {
		util.InfoLog("No jobs recorded")
		return nil
	}
	for _, j := range history {
		util.InfoLog("  #%d %s %-11s %s %s", j.ID, j.Kind, j.Status, j.UpdatedAt.Local().Format("2006-01-02 15:04:05"), j.Message)
	}
	return nil
}
