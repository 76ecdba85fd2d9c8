// Package report collects per-image evaluation scores.
package report

import (
	"fmt"
	"io"
	"os"

	"github.com/go-gota/gota/dataframe"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Score is the evaluation of one predicted map.
type Score struct {
	Name     string
	MAE      float64
	Dice     float64
	IoU      float64
	FMeasure float64
}

// Summary holds mean scores over a set of images.
type Summary struct {
	Count    int
	MAE      float64
	Dice     float64
	IoU      float64
	FMeasure float64
}

// Report is a table of scores.
type Report struct {
	df dataframe.DataFrame
}

// New builds a Report from scores.
func New(scores []Score) (*Report, error) {
	if len(scores) == 0 {
		return nil, fmt.Errorf("report: no scores")
	}
	df := dataframe.LoadStructs(scores)
	if df.Err != nil {
		return nil, df.Err
	}

	return &Report{df: df}, nil
}

// Len returns the number of rows.
func (r *Report) Len() int {
	return r.df.Nrow()
}

// Summary returns the column means.
func (r *Report) Summary() Summary {
	return Summary{
		Count:    r.df.Nrow(),
		MAE:      mean(r.df.Col("MAE").Float()),
		Dice:     mean(r.df.Col("Dice").Float()),
		IoU:      mean(r.df.Col("IoU").Float()),
		FMeasure: mean(r.df.Col("FMeasure").Float()),
	}
}

// WriteCSV writes the table with a header row.
func (r *Report) WriteCSV(w io.Writer) error {
	return r.df.WriteCSV(w)
}

// SaveCSV writes the table to filename.
func (r *Report) SaveCSV(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := r.WriteCSV(f); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}

// SaveHistogram plots the MAE distribution as a PNG.
func (r *Report) SaveHistogram(filename string, bins int) error {
	mae := r.df.Col("MAE").Float()

	p, err := plot.New()
	if err != nil {
		return err
	}

	v := make(plotter.Values, len(mae))
	for i := 0; i < len(mae); i++ {
		v[i] = mae[i]
	}

	h, err := plotter.NewHist(v, bins)
	if err != nil {
		return err
	}
	p.Title.Text = "MAE Histogram"
	p.X.Label.Text = "MAE"
	p.Y.Label.Text = "images"
	p.Add(h)

	return p.Save(4*vg.Inch, 4*vg.Inch, filename)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
