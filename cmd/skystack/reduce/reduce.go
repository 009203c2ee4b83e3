// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package reduce implements skystack's "reduce" command: load a list of raw
// frames, calibrate each against the configured library, align the
// sequence, stack it, and write the result. Grounded in the teacher's
// cmd/nightlight "stack" subcommand for the pipeline's stage order, and in
// observerly-skysolve's internal/solver.AstrometryCommand for the cobra
// flag-binding style.
package reduce

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/skystack/core/internal/align"
	"github.com/skystack/core/internal/calib"
	"github.com/skystack/core/internal/calibrate"
	"github.com/skystack/core/internal/config"
	"github.com/skystack/core/internal/corefail"
	"github.com/skystack/core/internal/corelog"
	"github.com/skystack/core/internal/fits"
	"github.com/skystack/core/internal/sequence"
	"github.com/skystack/core/internal/stack"
)

var (
	calibrationPath string
	outPath         string
	logPath         string
	alignMethodFlag string
	stackOpFlag     string
	sigmaClip       bool
	sumFloat64      bool
	skipAlign       bool
	skipCalibrate   bool
)

// RootCommand is skystack's entry point. The batch reduction pipeline is
// its only subcommand today; further commands (solve, status) would attach
// here the way solver.AstrometryCommand attaches to skysolve's root.
var RootCommand = &cobra.Command{
	Use:   "skystack",
	Short: "skystack reduces raw CCD exposures into a science-ready stacked frame",
	Long:  "skystack reduces raw CCD exposures into a science-ready stacked frame: load, calibrate, align, and stack.",
}

var reduceCommand = &cobra.Command{
	Use:   "reduce [flags] frame0.fits [frame1.fits ...]",
	Short: "load, calibrate, align and stack a list of raw exposures",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runReduce,
}

func init() {
	reduceCommand.Flags().StringVar(&calibrationPath, "calibration-path", "", "directory of calibration master files")
	reduceCommand.Flags().StringVar(&outPath, "out", "out.fits", "write the stacked result to `file`")
	reduceCommand.Flags().StringVar(&logPath, "log", "", "also write log output to `file`")
	reduceCommand.Flags().StringVar(&alignMethodFlag, "align", "reprojection", "alignment method: reprojection or asterism")
	reduceCommand.Flags().StringVar(&stackOpFlag, "op", "mean", "reduction operator: mean, median or sum")
	reduceCommand.Flags().BoolVar(&sigmaClip, "sigma-clip", true, "reject outliers by iterative median/MAD sigma-clipping before combining")
	reduceCommand.Flags().BoolVar(&sumFloat64, "sum-float64", false, "accumulate the sum operator in float64 instead of float32")
	reduceCommand.Flags().BoolVar(&skipAlign, "skip-align", false, "stack frames in place without aligning them first")
	reduceCommand.Flags().BoolVar(&skipCalibrate, "skip-calibrate", false, "stack frames without applying bias/dark/flat calibration")

	RootCommand.AddCommand(reduceCommand)
}

func runReduce(cmd *cobra.Command, args []string) error {
	start := time.Now()
	var logWriter = os.Stdout
	var logf corelog.LogFunc = func(line string) { fmt.Fprintln(logWriter, line) }
	if logPath != "" {
		f, err := os.Create(logPath)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer f.Close()
		prior := logf
		logf = func(line string) { prior(line); fmt.Fprintln(f, line) }
	}

	cfg := config.Default()
	if calibrationPath != "" {
		cfg.CalibrationPath = calibrationPath
	}
	cfg.SumAccumulatorFloat64 = sumFloat64

	op, err := parseReduceOp(stackOpFlag)
	if err != nil {
		return err
	}
	method, err := parseAlignMethod(alignMethodFlag)
	if err != nil {
		return err
	}

	ctx := context.Background()

	logf(fmt.Sprintf("loading %d frames", len(args)))
	frames, err := loadFrames(ctx, args, logf)
	if err != nil {
		return err
	}

	seq := sequence.New(frames)
	if err := seq.CheckConsistency(cfg.TestedFITSCards); err != nil {
		return err
	}

	if !skipCalibrate {
		logf("opening calibration library")
		lib, err := calib.Open(cfg.CalibrationPath, cfg, corelog.Writer(logf))
		if err != nil {
			return err
		}
		logf("calibrating frames")
		calibrated, err := calibrateFrames(ctx, seq.Frames, lib, cfg)
		if err != nil {
			return err
		}
		seq = sequence.New(calibrated)
	}

	aligned := &align.AlignedSequence{Frames: seq.Frames, Warnings: make([]*corefail.Warning, len(seq.Frames))}
	if !skipAlign {
		logf(fmt.Sprintf("aligning %d frames (%s)", len(seq.Frames), alignMethodFlag))
		aligned, err = align.Align(seq, method, cfg)
		if corefail.Is(err, corefail.PreconditionFailed) {
			fallback := cfg.AlignmentFallbackMethod
			logf(fmt.Sprintf("alignment precondition failed (%v), falling back to %s", err, alignMethodName(fallback)))
			aligned, err = align.Align(seq, fallback, cfg)
		}
		if err != nil {
			return err
		}
		for i, w := range aligned.Warnings {
			if w != nil {
				logf(fmt.Sprintf("frame %d: alignment warning: %s", i, w.String()))
			}
		}
	}

	logf("stacking")
	spec := stack.Spec{Op: op, SigmaClip: sigmaClip}
	result, err := stack.Stack(ctx, stack.FromAligned(aligned), cfg, spec, corelog.NopProgress, logf)
	if err != nil {
		return err
	}

	logf(fmt.Sprintf("writing %s", outPath))
	if err := result.Frame.WriteFile(outPath); err != nil {
		return err
	}

	logf(fmt.Sprintf("rejected %d low, %d high across %d chunk(s); done in %s",
		result.RejectedLow, result.RejectedHigh, result.ChunkCount, time.Since(start).Round(time.Millisecond)))
	return nil
}

// loadFrames reads every input path in parallel, bounded by the host's CPU
// count, using golang.org/x/sync/errgroup the way the Stacker's frame-shift
// stage does for structured fan-out and first-error propagation.
func loadFrames(ctx context.Context, paths []string, logf corelog.LogFunc) ([]*fits.Frame, error) {
	frames := make([]*fits.Frame, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return corefail.New(corefail.Cancelled, p, "cancelled before loading")
			}
			f, err := fits.Load(p, i, corelog.Writer(logf))
			if err != nil {
				return err
			}
			frames[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return frames, nil
}

// calibrateFrames applies the Calibrator to every frame in parallel.
func calibrateFrames(ctx context.Context, frames []*fits.Frame, lib *calib.Library, cfg config.Config) ([]*fits.Frame, error) {
	out := make([]*fits.Frame, len(frames))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, f := range frames {
		i, f := i, f
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return corefail.New(corefail.Cancelled, f.FileName, "cancelled before calibration")
			}
			c, err := calibrate.Calibrate(f, calibrate.DefaultSteps(), calibrate.Overrides{}, lib, cfg)
			if err != nil {
				return err
			}
			out[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func parseReduceOp(s string) (config.ReduceOp, error) {
	switch s {
	case "mean":
		return config.ReduceMean, nil
	case "median":
		return config.ReduceMedian, nil
	case "sum":
		return config.ReduceSum, nil
	default:
		return 0, fmt.Errorf("unknown --op %q: want mean, median or sum", s)
	}
}

func parseAlignMethod(s string) (config.AlignMethod, error) {
	switch s {
	case "reprojection":
		return config.AlignReprojection, nil
	case "asterism":
		return config.AlignAsterism, nil
	default:
		return 0, fmt.Errorf("unknown --align %q: want reprojection or asterism", s)
	}
}

func alignMethodName(m config.AlignMethod) string {
	if m == config.AlignAsterism {
		return "asterism"
	}
	return "reprojection"
}
