package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"serstack/internal/config"
	"serstack/internal/storage"
	"serstack/pkg/serstack"
)

func newStackCmd(root *Root) *cobra.Command {
	var (
		method           string
		align            bool
		noStretch        bool
		qualityThreshold float64
		luckyPercentage  float64
		output           string
		assumeYes        bool
	)
	cmd := &cobra.Command{
		Use:   "stack <input>",
		Short: "Combine all frames of a recording into one composite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := serstack.ParseStackMethod(method)
			if err != nil {
				return err
			}
			session, err := root.openSession(args[0])
			if err != nil {
				return err
			}
			defer session.Close()

			bar := newProgressBar("stacking")
			opts := serstack.StackOptions{
				Method:           m,
				Align:            align,
				QualityThreshold: qualityThreshold,
				AutoStretch:      !noStretch,
				LuckyPercentage:  luckyPercentage,
				Progress:         barProgress(bar, cmd),
				MemoryWarn:       memoryWarn(assumeYes),
			}

			start := time.Now()
			result, err := session.Stack(opts)
			finishBar(bar)
			if err != nil {
				return err
			}

			if output == "" {
				output = deriveOutputPath(args[0], "_stacked")
			}
			if err := writeImage(output, result.Image); err != nil {
				return err
			}
			root.log.Info("stack complete",
				"output", output,
				"method", m.String(),
				"used", result.FramesUsed,
				"total", result.FramesTotal,
				"elapsed", time.Since(start).Round(time.Millisecond))

			recordRun(root, storage.StackRun{
				InputPath:   args[0],
				Method:      m.String(),
				Aligned:     align,
				FramesTotal: result.FramesTotal,
				FramesUsed:  result.FramesUsed,
				OutputPath:  output,
				Duration:    time.Since(start),
			}, frameScores(result))
			return nil
		},
	}
	cmd.Flags().StringVarP(&method, "method", "m", root.cfg.Stacking.Method, "stacking method (average, median, sum)")
	cmd.Flags().BoolVar(&align, "align", root.cfg.Stacking.Align, "register frames before stacking")
	cmd.Flags().BoolVar(&noStretch, "no-stretch", !root.cfg.Stacking.AutoStretch, "skip the contrast auto-stretch")
	cmd.Flags().Float64Var(&qualityThreshold, "quality-threshold", root.cfg.Stacking.QualityThreshold, "drop aligned frames scoring below this sharpness")
	cmd.Flags().Float64Var(&luckyPercentage, "lucky-percentage", root.cfg.Stacking.LuckyPercentage, "retention percentage for non-native sources")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output image path")
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "proceed without prompting on large memory estimates")
	return cmd
}

func newLuckyCmd(root *Root) *cobra.Command {
	var (
		percentage float64
		method     string
		output     string
	)
	cmd := &cobra.Command{
		Use:   "lucky <input>",
		Short: "Stack only the sharpest frames of a recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := serstack.ParseStackMethod(method)
			if err != nil {
				return err
			}
			session, err := root.openSession(args[0])
			if err != nil {
				return err
			}
			defer session.Close()

			bar := newProgressBar("scoring")
			selector := serstack.NewSelector(root.log)
			start := time.Now()
			result, err := selector.StackLucky(session.Source(), percentage, m, barProgress(bar, cmd))
			finishBar(bar)
			if err != nil {
				return err
			}

			if output == "" {
				output = deriveOutputPath(args[0], "_lucky")
			}
			if err := writeImage(output, result.Image); err != nil {
				return err
			}
			root.log.Info("lucky stack complete",
				"output", output,
				"percentage", percentage,
				"used", result.FramesUsed,
				"total", result.FramesTotal,
				"elapsed", time.Since(start).Round(time.Millisecond))

			recordRun(root, storage.StackRun{
				InputPath:   args[0],
				Method:      "lucky-" + m.String(),
				Aligned:     true,
				FramesTotal: result.FramesTotal,
				FramesUsed:  result.FramesUsed,
				OutputPath:  output,
				Duration:    time.Since(start),
			}, frameScores(result))
			return nil
		},
	}
	cmd.Flags().Float64VarP(&percentage, "percentage", "p", root.cfg.Stacking.LuckyPercentage, "percentage of frames to retain")
	cmd.Flags().StringVarP(&method, "method", "m", root.cfg.Stacking.Method, "stacking method for the retained frames")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output image path")
	return cmd
}

func newHistoryCmd(root *Root) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent stacking runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storage.New(root.cfg.Paths.DatabasePath)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.RecentRuns(limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("No runs recorded.")
				return nil
			}
			fmt.Printf("%-5s %-20s %-12s %-12s %-10s %s\n",
				"ID", "WHEN", "METHOD", "FRAMES", "ELAPSED", "INPUT")
			for _, r := range runs {
				fmt.Printf("%-5d %-20s %-12s %5d/%-6d %-10s %s\n",
					r.ID,
					r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					r.Method,
					r.FramesUsed, r.FramesTotal,
					r.Duration.Round(time.Millisecond),
					r.InputPath)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to list")
	return cmd
}

// frameScores converts a result's selection scores for persistence. Native
// stacking runs carry no scoring pass and yield nil.
func frameScores(result *serstack.StackResult) []storage.FrameScore {
	if len(result.Scores) == 0 {
		return nil
	}
	scores := make([]storage.FrameScore, 0, len(result.Scores))
	for _, s := range result.Scores {
		scores = append(scores, storage.FrameScore{FrameIndex: s.Index, Score: s.Score})
	}
	return scores
}

// recordRun persists a run best-effort. History is a convenience and never
// fails the command that produced the composite.
func recordRun(root *Root, run storage.StackRun, scores []storage.FrameScore) {
	store, err := storage.New(root.cfg.Paths.DatabasePath)
	if err != nil {
		root.log.Warn("run history unavailable", "error", err)
		return
	}
	defer store.Close()
	id, err := store.RecordRun(run)
	if err != nil {
		root.log.Warn("run not recorded", "error", err)
		return
	}
	if len(scores) > 0 {
		if err := store.RecordScores(id, scores); err != nil {
			root.log.Warn("frame scores not recorded", "error", err)
		}
	}
}

func newProgressBar(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer: "=", SaucerHead: ">", SaucerPadding: " ",
			BarStart: "[", BarEnd: "]",
		}),
	)
}

// barProgress adapts a progress bar to the pipeline callback, cancelling the
// run when the command context is done.
func barProgress(bar *progressbar.ProgressBar, cmd *cobra.Command) serstack.ProgressFunc {
	return func(current, total int) bool {
		bar.ChangeMax(total)
		bar.Set(current)
		select {
		case <-cmd.Context().Done():
			return false
		default:
			return true
		}
	}
}

func finishBar(bar *progressbar.ProgressBar) {
	bar.Finish()
	fmt.Fprintln(os.Stderr)
}

// memoryWarn prompts before a median stack buffers a large frame set. With
// assumeYes the prompt is skipped.
func memoryWarn(assumeYes bool) serstack.MemoryWarnFunc {
	return func(estimatedBytes int64) bool {
		if assumeYes {
			return true
		}
		fmt.Fprintf(os.Stderr, "Median stacking will buffer about %.1f GiB in memory. Continue? [y/N] ",
			float64(estimatedBytes)/float64(1<<30))
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return false
		}
		line = strings.ToLower(strings.TrimSpace(line))
		return line == "y" || line == "yes"
	}
}

func deriveOutputPath(input, suffix string) string {
	ext := filepath.Ext(input)
	base := strings.TrimSuffix(filepath.Base(input), ext)
	return filepath.Join(filepath.Dir(input), base+suffix+".png")
}

func printConfig(w io.Writer, cfg *config.Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
