package training

import (
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// plottedMetrics are the metric families rendered as epoch curves
var plottedMetrics = []string{"loss", "accuracy", "precision", "recall", "auc"}

// PlotHook renders one PNG per metric family after every epoch, each with
// the train and validation curves. Files are overwritten in place so the
// plots always reflect the full run so far.
type PlotHook struct {
	Dir string
}

// NewPlotHook creates a plotting hook that writes into the given directory
func NewPlotHook(dir string) *PlotHook {
	return &PlotHook{Dir: dir}
}

// AfterEpoch implements EpochHook
func (ph *PlotHook) AfterEpoch(epoch int, history *MetricHistory) error {
	if err := os.MkdirAll(ph.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create plot directory: %v", err)
	}

	for _, metric := range plottedMetrics {
		if err := ph.plotMetric(metric, history); err != nil {
			return fmt.Errorf("failed to plot %s: %v", metric, err)
		}
	}

	return nil
}

// plotMetric writes the train/validation curves for one metric family
func (ph *PlotHook) plotMetric(metric string, history *MetricHistory) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Training and Validation %s", titleCase(metric))
	p.X.Label.Text = "Epoch"
	p.Y.Label.Text = titleCase(metric)

	trainLine, err := plotter.NewLine(epochPoints(history.Series("train_" + metric)))
	if err != nil {
		return fmt.Errorf("train line failed: %v", err)
	}

	valLine, err := plotter.NewLine(epochPoints(history.Series("val_" + metric)))
	if err != nil {
		return fmt.Errorf("validation line failed: %v", err)
	}
	valLine.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

	p.Add(trainLine, valLine)
	p.Legend.Add("Train "+titleCase(metric), trainLine)
	p.Legend.Add("Validation "+titleCase(metric), valLine)
	p.Legend.Top = true

	path := filepath.Join(ph.Dir, fmt.Sprintf("metrics_%s_epoch.png", metric))
	return p.Save(10*vg.Inch, 6*vg.Inch, path)
}

// epochPoints maps a metric series onto 1-based epoch coordinates
func epochPoints(values []float64) plotter.XYs {
	points := make(plotter.XYs, len(values))
	for i, v := range values {
		points[i].X = float64(i + 1)
		points[i].Y = v
	}
	return points
}

func titleCase(metric string) string {
	if metric == "auc" {
		return "AUC"
	}
	if metric == "" {
		return metric
	}
	return string(metric[0]-'a'+'A') + metric[1:]
}
