package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethanolivertroy/sbomgraph/internal/aggregator"
	"github.com/ethanolivertroy/sbomgraph/internal/models"
	"github.com/ethanolivertroy/sbomgraph/internal/reporter"
	"github.com/ethanolivertroy/sbomgraph/internal/scanner"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func newAnalyzeCommand() *cobra.Command {
	defaults := models.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "analyze <sbom>",
		Short: "Build the dependency graph of an SBOM and correlate it with OSV",
		Long: `Analyze reads one SBOM or manifest, classifies every package as a direct,
transitive or indirect dependency and reports the known vulnerabilities
attributed to it.

The run is checkpointed under its run id. An interrupted run (Ctrl-C) keeps
its partial results and can be continued with --resume.`,
		Args: cobra.ExactArgs(1),
		RunE: runAnalyze,
	}

	cmd.Flags().String("run-id", "", "Run identifier (default: a new UUID)")
	cmd.Flags().Bool("resume", false, "Continue the checkpointed run given by --run-id")
	cmd.Flags().Bool("no-progress", false, "Do not show a progress bar")

	cmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	cmd.Flags().StringP("format", "f", defaults.OutputFormat, "Output format: "+strings.Join(reporter.Formats, ", "))
	cmd.Flags().String("fail-on", "", "Exit 1 when a finding has at least this severity: low, medium, high, critical")

	cmd.Flags().String("feed-url", defaults.FeedURL, "OSV API base URL")
	cmd.Flags().Int("batch-size", defaults.BatchSize, "Packages per OSV batch query (1-100)")
	cmd.Flags().Duration("request-interval", defaults.RequestInterval, "Minimum delay between OSV requests")
	cmd.Flags().Duration("timeout", defaults.Timeout, "HTTP timeout per OSV request")
	cmd.Flags().Int("checkpoint-every", defaults.CheckpointEvery, "Packages processed between checkpoints")
	cmd.Flags().Bool("disk-cache", defaults.DiskCache, "Keep OSV responses in the user cache directory")
	cmd.Flags().Bool("kev", defaults.KEV, "Flag findings listed in the CISA Known Exploited Vulnerabilities catalog")

	return cmd
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	path := args[0]

	runID, err := cmd.Flags().GetString("run-id")
	if err != nil {
		return err
	}
	resume, err := cmd.Flags().GetBool("resume")
	if err != nil {
		return err
	}
	noProgress, err := cmd.Flags().GetBool("no-progress")
	if err != nil {
		return err
	}

	if resume && runID == "" {
		return errors.New("--resume needs the --run-id of the run to continue")
	}
	if runID == "" {
		runID = uuid.New().String()
	}

	s, err := scanner.New(cfg, scanner.WithLogger(slog.Default()))
	if err != nil {
		return errors.Wrap(err, "failed to initialize scanner")
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var onProgress aggregator.ProgressFunc
	if !noProgress {
		bar := newProgress()
		onProgress = bar.update
		defer bar.finish()
	}

	slog.Info("starting analysis", "run_id", runID, "source", path, "resume", resume)

	var result *models.AnalysisResult
	if resume {
		result, err = s.Resume(ctx, path, runID, onProgress)
	} else {
		result, err = s.Analyze(ctx, path, runID, onProgress)
	}
	if result == nil {
		return errors.Wrap(err, "analysis failed")
	}
	if err != nil {
		// A failed checkpoint write leaves the result intact; report it anyway
		slog.Error("checkpoint not saved", "run_id", runID, "error", err)
	}

	if err := writeReport(result); err != nil {
		return err
	}
	return outcome(os.Stderr, result, err, cfg.FailOn)
}

// outcome turns a finished run into the command's error. A checkpoint
// failure outranks the findings threshold.
func outcome(w io.Writer, result *models.AnalysisResult, runErr error, failOn string) error {
	if result.Status == models.StatusCancelled {
		fmt.Fprintf(w, "Run %s interrupted after %d of %d packages; continue with --run-id %s --resume\n",
			result.RunID, result.Processed, result.TotalPackages, result.RunID)
	}

	if errors.Is(runErr, aggregator.ErrCheckpointWrite) {
		return errors.Wrap(runErr, "progress was not saved")
	}
	if runErr != nil {
		return runErr
	}

	if scanner.Exceeds(result, failOn) {
		return errThreshold
	}
	return nil
}

// writeReport renders result in the configured format to the output file or stdout
func writeReport(result *models.AnalysisResult) error {
	rep := reporter.Get(cfg.OutputFormat)
	if sr, ok := rep.(*reporter.SARIFReporter); ok {
		sr.Version = version
	}

	output, err := rep.Report(result)
	if err != nil {
		return errors.Wrap(err, "failed to generate report")
	}

	if cfg.OutputFile != "" {
		if err := os.WriteFile(cfg.OutputFile, output, 0644); err != nil {
			return errors.Wrap(err, "failed to write output file")
		}
		fmt.Fprintf(os.Stderr, "Report written to %s\n", cfg.OutputFile)
		return nil
	}
	fmt.Print(string(output))
	return nil
}

// progress draws a bar once the total is known
type progress struct {
	bar *progressbar.ProgressBar
}

func newProgress() *progress {
	return &progress{}
}

func (p *progress) update(pr aggregator.Progress) {
	if p.bar == nil {
		p.bar = progressbar.Default(int64(pr.Total), "correlating")
	}
	_ = p.bar.Set(pr.Processed)
}

func (p *progress) finish() {
	if p.bar != nil {
		fmt.Fprintln(os.Stderr)
	}
}
