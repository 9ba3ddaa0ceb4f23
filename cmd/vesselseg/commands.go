package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/gykovacs/vessel-sub007/pkg/annealing"
	"github.com/gykovacs/vessel-sub007/pkg/classifier"
	"github.com/gykovacs/vessel-sub007/pkg/config"
	"github.com/gykovacs/vessel-sub007/pkg/segmentation"
	"github.com/gykovacs/vessel-sub007/pkg/telemetry"
	"github.com/gykovacs/vessel-sub007/pkg/topology"
	"github.com/gykovacs/vessel-sub007/pkg/volumeio"
)

// --- Command line flags ---
var (
	configPath     string
	inputPath      string
	maskPath       string
	supportPath    string
	classifierPath string
	outputDir      string
	metricsPath    string
	topologyName   string
	seed           uint64
	saveMaps       bool
	verbose        bool

	rootCmd = &cobra.Command{
		Use:   "vesselseg",
		Short: "Markov random field segmentation of images and volumes",
		Long: `vesselseg labels every site of an image, a slice stack or a hexagonal
lattice by simulated annealing of a Markov random field whose unary term
comes from a trained classifier.`,
		SilenceUsage: true,
	}

	segmentCmd = &cobra.Command{
		Use:   "segment",
		Short: "Segment an image or a directory of slices",
		RunE:  runSegment,
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Manage configuration files",
	}
	configInitCmd = &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfigInit,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "configuration file; defaults are used when it does not exist")

	f := segmentCmd.Flags()
	f.StringVarP(&inputPath, "input", "i", "", "input image or directory of slices")
	f.StringVarP(&maskPath, "mask", "m", "", "region of interest image or directory")
	f.StringVar(&supportPath, "support", "", "support image or directory, sites of value 10 break the smoothness term")
	f.StringVar(&classifierPath, "classifier", "", "classifier model file, overrides the configuration")
	f.StringVarP(&outputDir, "output", "o", "segmentation", "output directory")
	f.StringVar(&metricsPath, "metrics", "", "write run metrics in Prometheus text format, overrides the configuration")
	f.StringVar(&topologyName, "topology", "", "neighbourhood structure (2d, 3d, hex), overrides the configuration")
	f.Uint64Var(&seed, "seed", 0, "random seed, overrides the configuration")
	f.BoolVar(&saveMaps, "save-maps", false, "also write the probability map of every class")
	f.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	_ = segmentCmd.MarkFlagRequired("input")

	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(segmentCmd, configCmd)
}

func newLogger(w io.Writer, format string, debug bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if debug {
		opts.Level = slog.LevelDebug
	}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// loadConfig reads the configuration and applies the flags given on the
// command line.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("classifier") {
		cfg.Features.Classifier = classifierPath
	}
	if flags.Changed("metrics") {
		cfg.Output.MetricsFile = metricsPath
	}
	if flags.Changed("topology") {
		cfg.Model.Topology = topologyName
	}
	if flags.Changed("seed") {
		cfg.Annealing.Seed = seed
	}
	if verbose {
		cfg.Output.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Features.Classifier == "" {
		return nil, fmt.Errorf("%w: no classifier model given", config.ErrInvalidConfig)
	}
	return cfg, nil
}

func loadInput() (segmentation.Input, error) {
	grid, err := volumeio.LoadVolume(inputPath)
	if err != nil {
		return segmentation.Input{}, fmt.Errorf("failed to load input: %w", err)
	}
	in := segmentation.Input{Grid: grid}

	if maskPath != "" {
		mask, shape, err := volumeio.LoadMask(maskPath)
		if err != nil {
			return in, fmt.Errorf("failed to load mask: %w", err)
		}
		if shape != grid.Shape {
			return in, fmt.Errorf("%w: mask %s, input %s", segmentation.ErrInvalidInput, shape, grid.Shape)
		}
		in.Mask = mask
	}
	if supportPath != "" {
		if in.Support, err = volumeio.LoadBytes(supportPath); err != nil {
			return in, fmt.Errorf("failed to load support: %w", err)
		}
	}
	return in, nil
}

func runSegment(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.Output.LogFormat, cfg.Output.Verbose)

	clf, err := classifier.Load(cfg.Features.Classifier)
	if err != nil {
		return err
	}
	in, err := loadInput()
	if err != nil {
		return err
	}
	model, err := cfg.ModelParams()
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	reg := prometheus.NewRegistry()
	recorder := telemetry.NewRecorder(reg, runID)

	seg, err := segmentation.NewSegmenter(clf, segmentation.Params{
		Topology:               topology.Kind(cfg.Model.Topology),
		InterSliceWeight:       cfg.Model.InterSliceWeight,
		Model:                  model,
		Annealing:              cfg.AnnealingOptions(),
		Vector:                 cfg.VectorOptions(),
		OrientationSource:      cfg.Model.Orientation,
		NormalizeProbabilities: cfg.Features.NormalizeProbabilities,
		MinBorder:              cfg.Features.MinBorder,
		Workers:                cfg.Features.Workers,
		Observers:              []annealing.Observer{recorder},
		RunID:                  runID,
		Logger:                 logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	res, err := seg.Run(ctx, in)
	if err != nil {
		return err
	}

	files, err := volumeio.SaveLabels(res.Labels, len(clf.Classes()), outputDir, "labels")
	if err != nil {
		return err
	}
	if saveMaps {
		for c, p := range res.Probabilities {
			dir := filepath.Join(outputDir, "maps", clf.Classes()[c])
			if _, err := volumeio.SaveVolume(p, dir, "probability"); err != nil {
				return err
			}
		}
	}
	if cfg.Output.MetricsFile != "" {
		if err := recorder.WriteTextfile(cfg.Output.MetricsFile); err != nil {
			return err
		}
	}

	printSummary(cmd.OutOrStdout(), clf.Classes(), res, len(files))
	return nil
}

func printSummary(w io.Writer, classes []string, res *segmentation.Result, slices int) {
	fmt.Fprintf(w, "Run %s finished: %s after %d iterations (%d accepted)\n",
		res.RunID, res.Annealing.Reason, res.Annealing.Iterations, res.Annealing.Accepted)
	fmt.Fprintf(w, "Final objective: %.6f\n", res.Annealing.Objective)
	hist := res.Labels.Histogram(len(classes))
	total := res.Labels.Len()
	for c, name := range classes {
		fmt.Fprintf(w, "  %-16s %8d sites (%5.1f%%)\n", name, hist[c], 100*float64(hist[c])/float64(total))
	}
	fmt.Fprintf(w, "Wrote %d label slices to %s in %s\n", slices, outputDir, res.Duration.Round(time.Millisecond))
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if len(args) == 1 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := config.CreateDefaultConfigFile(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Default configuration written to %s\n", path)
	return nil
}
