package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"serstack/internal/config"
	"serstack/pkg/serstack"
)

// Root carries the shared state handed to every subcommand.
type Root struct {
	cfg *config.Config
	log *slog.Logger
}

// NewRootCmd creates the root cobra command.
func NewRootCmd(cfg *config.Config, log *slog.Logger) *cobra.Command {
	root := &Root{cfg: cfg, log: log}

	rootCmd := &cobra.Command{
		Use:   "serstack",
		Short: "serstack decodes, registers and stacks astronomical video recordings",
		Long: `serstack reads SER containers (and codec-decoded AVI/MP4 recordings),
reconstructs true-color frames from raw sensor samples, registers frames
against each other, and combines many frames into one composite.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newInfoCmd(root))
	rootCmd.AddCommand(newFrameCmd(root))
	rootCmd.AddCommand(newStackCmd(root))
	rootCmd.AddCommand(newLuckyCmd(root))
	rootCmd.AddCommand(newEnhanceCmd(root))
	rootCmd.AddCommand(newHistoryCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))

	return rootCmd
}

func (r *Root) openSession(path string) (*serstack.Session, error) {
	return serstack.OpenSession(path, serstack.SessionOptions{
		CacheSize:       r.cfg.Cache.Size,
		CYYMOrientation: serstack.CYYMOrientation(r.cfg.Color.CYYMOrientation),
		Aligner:         r.alignerConfig(),
		Logger:          r.log,
	})
}

// alignerConfig layers the configured registration parameters over the
// stacking preset. Zero-valued fields keep the preset value.
func (r *Root) alignerConfig() *serstack.AlignerConfig {
	ac := serstack.StackAlignerConfig()
	a := r.cfg.Alignment
	if a.MaxIterations > 0 {
		ac.MaxIterations = a.MaxIterations
	}
	if a.Epsilon > 0 {
		ac.Epsilon = a.Epsilon
	}
	if a.MaxFeatures > 0 {
		ac.MaxFeatures = a.MaxFeatures
	}
	if a.MaxShift > 0 {
		ac.MaxShift = a.MaxShift
	}
	return &ac
}

func newInfoCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "info <input>",
		Short: "Print container header and timestamp information",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := root.openSession(args[0])
			if err != nil {
				return err
			}
			defer session.Close()

			h := session.Header()
			fmt.Printf("File:        %s\n", args[0])
			fmt.Printf("Format:      %s\n", h.FileID)
			fmt.Printf("Color:       %s\n", h.ColorID.String())
			fmt.Printf("Size:        %d x %d\n", h.Width, h.Height)
			fmt.Printf("Depth:       %d bit\n", h.PixelDepth)
			fmt.Printf("Frames:      %d\n", h.FrameCount)
			if h.Observer != "" {
				fmt.Printf("Observer:    %s\n", h.Observer)
			}
			if h.Instrument != "" {
				fmt.Printf("Instrument:  %s\n", h.Instrument)
			}
			if h.Telescope != "" {
				fmt.Printf("Telescope:   %s\n", h.Telescope)
			}
			if h.DateTimeUTC != 0 {
				fmt.Printf("Captured:    %s\n", h.CaptureTime().Format("2006-01-02 15:04:05 UTC"))
			}
			fmt.Printf("Timestamps:  %v\n", session.HasTimestamps())
			if session.HasTimestamps() {
				if info := session.FrameInfo(0); info.HasTimestamp {
					fmt.Printf("First frame: %s\n", info.Timestamp.UTC().Format("2006-01-02 15:04:05.0000000 UTC"))
				}
			}
			return nil
		},
	}
}

func newFrameCmd(root *Root) *cobra.Command {
	var (
		index  int
		output string
	)
	cmd := &cobra.Command{
		Use:   "frame <input>",
		Short: "Extract a single reconstructed frame to an image file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := root.openSession(args[0])
			if err != nil {
				return err
			}
			defer session.Close()

			frame, err := session.DisplayFrame(index)
			if err != nil {
				return err
			}
			if output == "" {
				output = fmt.Sprintf("frame_%05d.png", index)
			}
			if err := writeImage(output, frame); err != nil {
				return err
			}
			info := session.FrameInfo(index)
			if info.HasTimestamp {
				root.log.Info("frame written", "output", output, "timestamp", info.Timestamp.UTC())
			} else {
				root.log.Info("frame written", "output", output)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&index, "index", "i", 0, "frame index to extract")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output image path (.png, .jpg, .tiff)")
	return cmd
}

func newEnhanceCmd(root *Root) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "enhance <image>",
		Short: "Denoise, sharpen and stretch a stacked image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			im, err := readImage(args[0])
			if err != nil {
				return err
			}
			opts := serstack.EnhanceOptions{
				DenoiseStrength: root.cfg.Enhance.DenoiseStrength,
				UnsharpSigma:    root.cfg.Enhance.UnsharpSigma,
				UnsharpAmount:   root.cfg.Enhance.UnsharpAmount,
				Stretch:         serstack.EnhanceStretch,
			}
			out, err := serstack.Enhance(im, opts)
			if err != nil {
				return err
			}
			if output == "" {
				output = deriveOutputPath(args[0], "_enhanced")
			}
			if err := writeImage(output, out); err != nil {
				return err
			}
			root.log.Info("enhanced image written", "output", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output image path")
	return cmd
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultPath()
			if err := config.DefaultConfig().Save(path); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the active configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printConfig(os.Stdout, root.cfg)
		},
	})
	return cmd
}
