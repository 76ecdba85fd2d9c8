package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	"golang.org/x/sync/errgroup"

	"github.com/sugarme/camoseg/envconfig"
	"github.com/sugarme/camoseg/imgutil"
	"github.com/sugarme/camoseg/logutil"
	"github.com/sugarme/camoseg/metric"
	"github.com/sugarme/camoseg/report"
	"github.com/sugarme/camoseg/sinet"
)

func device(cmd *cobra.Command) gotch.Device {
	cuda, _ := cmd.Flags().GetBool("cuda")
	if cuda || envconfig.Cuda {
		return gotch.NewCuda().CudaIfAvailable()
	}
	return gotch.CPU
}

// loadNet builds the default network and loads its weights.
func loadNet(cmd *cobra.Command, dev gotch.Device) (*nn.VarStore, *sinet.Net, error) {
	modelPath, _ := cmd.Flags().GetString("model")
	partial, _ := cmd.Flags().GetBool("partial")

	vs := nn.NewVarStore(dev)
	net := sinet.DefaultNet(vs.Root())
	net.Initialize()

	if modelPath == "" {
		slog.Warn("no weights given, using initialized parameters")
		return vs, net, nil
	}
	modelPath, err := filepath.Abs(modelPath)
	if err != nil {
		return nil, nil, err
	}

	if partial {
		missing, err := vs.LoadPartial(modelPath)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("weights loaded", "path", modelPath, "missing", len(missing))
		for _, m := range missing {
			slog.Debug("missing variable", "name", m)
		}
	} else if err := vs.Load(modelPath); err != nil {
		return nil, nil, err
	}

	return vs, net, nil
}

// listImages returns input if it is a file, or the images of directory input.
func listImages(input string) ([]string, error) {
	info, err := os.Stat(input)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{input}, nil
	}

	entries, err := os.ReadDir(input)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && imgutil.IsImage(e.Name()) {
			files = append(files, filepath.Join(input, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images found in %s", input)
	}
	sort.Strings(files)

	return files, nil
}

func loadSamples(files []string, size int) ([]*imgutil.Sample, error) {
	samples := make([]*imgutil.Sample, len(files))

	var g errgroup.Group
	g.SetLimit(envconfig.Workers)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			s, err := imgutil.Load(f, size)
			if err != nil {
				return err
			}
			samples[i] = s
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		dropSamples(samples)
		return nil, err
	}

	return samples, nil
}

var mapSuffixes = []string{
	"_coarse1", "_coarse2", "_coarse3", "_coarse4",
	"", "_refined2", "_refined3", "_refined4",
	"_edge",
}

func PredictHandler(cmd *cobra.Command, args []string) error {
	input, _ := cmd.Flags().GetString("input")
	output, _ := cmd.Flags().GetString("output")
	all, _ := cmd.Flags().GetBool("all")
	size, _ := cmd.Flags().GetInt("size")
	if size <= 0 {
		size = envconfig.InputSize
	}

	dev := device(cmd)
	_, net, err := loadNet(cmd, dev)
	if err != nil {
		return err
	}

	files, err := listImages(input)
	if err != nil {
		return err
	}
	samples, err := loadSamples(files, size)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(output, 0o755); err != nil {
		dropSamples(samples)
		return err
	}

	return predictSamples(net, samples, dev, output, all)
}

// predictSamples writes the maps of every sample into output. Sample
// tensors are freed on return, including on error.
func predictSamples(net *sinet.Net, samples []*imgutil.Sample, dev gotch.Device, output string, all bool) error {
	defer dropSamples(samples)

	for _, s := range samples {
		x := imgutil.Batch([]*imgutil.Sample{s}, dev)
		s.Tensor.MustDrop()
		s.Tensor = nil
		pred, err := net.Predict(x)
		x.MustDrop()
		if err != nil {
			return fmt.Errorf("%s: %w", s.Name, err)
		}

		for i, logit := range pred.Maps() {
			if !all && mapSuffixes[i] != "" {
				continue
			}
			m := imgutil.ProbabilityMap(logit)
			path := filepath.Join(output, s.Name+mapSuffixes[i]+".png")
			err := imgutil.SaveMap(m, s.Width, s.Height, path)
			m.MustDrop()
			if err != nil {
				pred.Drop()
				return err
			}
			logutil.Trace("map saved", "path", path)
		}
		pred.Drop()
		slog.Info("predicted", "image", s.Name, "width", s.Width, "height", s.Height)
	}

	return nil
}

// dropSamples frees the sample tensors still held.
func dropSamples(samples []*imgutil.Sample) {
	for _, s := range samples {
		if s != nil && s.Tensor != nil {
			s.Tensor.MustDrop()
			s.Tensor = nil
		}
	}
}

// findMask returns the ground-truth file in dir with the same base name.
func findMask(dir, name string) (string, error) {
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff"} {
		p := filepath.Join(dir, name+ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no ground truth for %s in %s", name, dir)
}

func score(predPath, gtDir string) (report.Score, error) {
	base := filepath.Base(predPath)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	s := report.Score{Name: name}

	gtPath, err := findMask(gtDir, name)
	if err != nil {
		return s, err
	}
	pred, err := imgutil.LoadMask(predPath)
	if err != nil {
		return s, err
	}
	defer pred.MustDrop()
	gt, err := imgutil.LoadMask(gtPath)
	if err != nil {
		return s, err
	}
	defer gt.MustDrop()

	if s.MAE, err = metric.MAE(pred, gt); err != nil {
		return s, fmt.Errorf("%s: %w", name, err)
	}
	if s.Dice, err = metric.DiceCoeff(pred, gt); err != nil {
		return s, err
	}
	if s.IoU, err = metric.IoU(pred, gt); err != nil {
		return s, err
	}
	if s.FMeasure, err = metric.FMeasure(pred, gt); err != nil {
		return s, err
	}

	return s, nil
}

const histogramFile = "mae_hist.png"

func EvalHandler(cmd *cobra.Command, args []string) error {
	predDir, _ := cmd.Flags().GetString("pred")
	gtDir, _ := cmd.Flags().GetString("gt")
	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		output = predDir
	}

	listed, err := listImages(predDir)
	if err != nil {
		return err
	}
	var files []string
	for _, f := range listed {
		if filepath.Base(f) != histogramFile {
			files = append(files, f)
		}
	}

	scores := make([]report.Score, len(files))
	var g errgroup.Group
	g.SetLimit(envconfig.Workers)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			s, err := score(f, gtDir)
			scores[i] = s
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	r, err := report.New(scores)
	if err != nil {
		return err
	}
	if err := r.SaveCSV(filepath.Join(output, "metrics.csv")); err != nil {
		return err
	}
	if err := r.SaveHistogram(filepath.Join(output, histogramFile), 20); err != nil {
		return err
	}

	sum := r.Summary()
	slog.Info("evaluation", "images", sum.Count, "mae", sum.MAE, "dice", sum.Dice, "iou", sum.IoU, "fmeasure", sum.FMeasure)
	printTable([]string{"IMAGES", "MAE", "DICE", "IOU", "F-MEASURE"}, [][]string{{
		fmt.Sprint(sum.Count),
		fmt.Sprintf("%.4f", sum.MAE),
		fmt.Sprintf("%.4f", sum.Dice),
		fmt.Sprintf("%.4f", sum.IoU),
		fmt.Sprintf("%.4f", sum.FMeasure),
	}})

	return nil
}

func printTable(header []string, data [][]string) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}

// VarsHandler prints variables sorted by name.
func VarsHandler(cmd *cobra.Command, args []string) error {
	vs, _, err := loadNet(cmd, gotch.CPU)
	if err != nil {
		return err
	}

	vars := vs.Variables()
	names := make([]string, 0, len(vars))
	for n := range vars {
		names = append(names, n)
	}
	sort.Strings(names)
	var data [][]string
	for _, n := range names {
		v := vars[n]
		data = append(data, []string{n, fmt.Sprint(v.MustSize())})
	}
	printTable([]string{"NAME", "SHAPE"}, data)

	return nil
}

func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "camoseg",
		Short: "Camouflaged object segmentation",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Disable usage printing on errors
			cmd.SilenceUsage = true
			slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
		},
	}

	rootCmd.PersistentFlags().Bool("cuda", false, "Run on CUDA when available")

	cobra.EnableCommandSorting = false

	predictCmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict segmentation maps",
		Args:  cobra.NoArgs,
		RunE:  PredictHandler,
	}
	predictCmd.Flags().StringP("model", "m", "", "Path to model weights")
	predictCmd.Flags().Bool("partial", false, "Load weights partially (e.g. a pretrained backbone)")
	predictCmd.Flags().StringP("input", "i", "", "Input image or directory")
	predictCmd.Flags().StringP("output", "o", "./pred", "Output directory")
	predictCmd.Flags().Int("size", 0, "Network input size, a multiple of 32 (default CAMOSEG_INPUT_SIZE)")
	predictCmd.Flags().Bool("all", false, "Also write coarse, refined and edge maps")
	_ = predictCmd.MarkFlagRequired("input")

	evalCmd := &cobra.Command{
		Use:   "eval",
		Short: "Score predicted maps against ground truth",
		Args:  cobra.NoArgs,
		RunE:  EvalHandler,
	}
	evalCmd.Flags().String("pred", "", "Directory of predicted maps")
	evalCmd.Flags().String("gt", "", "Directory of ground-truth masks")
	evalCmd.Flags().StringP("output", "o", "", "Directory for metrics.csv and mae_hist.png (default --pred)")
	_ = evalCmd.MarkFlagRequired("pred")
	_ = evalCmd.MarkFlagRequired("gt")

	varsCmd := &cobra.Command{
		Use:   "vars",
		Short: "List network variables and shapes",
		Args:  cobra.NoArgs,
		RunE:  VarsHandler,
	}
	varsCmd.Flags().StringP("model", "m", "", "Path to model weights")
	varsCmd.Flags().Bool("partial", false, "Load weights partially")

	envVars := envconfig.AsMap()
	var envUsage strings.Builder
	for _, k := range []string{"CAMOSEG_DEBUG", "CAMOSEG_CUDA", "CAMOSEG_WORKERS", "CAMOSEG_INPUT_SIZE"} {
		fmt.Fprintf(&envUsage, "      %-20s %s\n", envVars[k].Name, envVars[k].Description)
	}
	rootCmd.SetUsageTemplate(rootCmd.UsageTemplate() + "\nEnvironment Variables:\n" + envUsage.String())

	rootCmd.AddCommand(predictCmd, evalCmd, varsCmd)

	return rootCmd
}
