package training

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// ErrUndefinedAUC is returned when the accumulated labels contain only one
// class, so the ROC curve has no meaningful area.
var ErrUndefinedAUC = errors.New("AUC undefined: labels contain a single class")

// ConfusionMatrix accumulates binary classification outcomes. Rows index
// the true class, columns the predicted class; class 1 is the positive
// class.
type ConfusionMatrix struct {
	counts [2][2]int
	total  int
}

// NewConfusionMatrix creates an empty binary confusion matrix
func NewConfusionMatrix() *ConfusionMatrix {
	return &ConfusionMatrix{}
}

// Update records one labeled prediction
func (cm *ConfusionMatrix) Update(trueLabel, predLabel int32) error {
	if trueLabel < 0 || trueLabel > 1 || predLabel < 0 || predLabel > 1 {
		return fmt.Errorf("binary confusion matrix got labels (%d, %d)", trueLabel, predLabel)
	}
	cm.counts[trueLabel][predLabel]++
	cm.total++
	return nil
}

// Count returns the number of examples with the given true and predicted
// labels
func (cm *ConfusionMatrix) Count(trueLabel, predLabel int) int {
	return cm.counts[trueLabel][predLabel]
}

// Total returns the number of recorded examples
func (cm *ConfusionMatrix) Total() int {
	return cm.total
}

// Accuracy returns the fraction of correct predictions
func (cm *ConfusionMatrix) Accuracy() float64 {
	if cm.total == 0 {
		return 0
	}
	return float64(cm.counts[0][0]+cm.counts[1][1]) / float64(cm.total)
}

// Precision returns TP / (TP + FP) for the positive class
func (cm *ConfusionMatrix) Precision() float64 {
	predicted := cm.counts[1][1] + cm.counts[0][1]
	if predicted == 0 {
		return 0
	}
	return float64(cm.counts[1][1]) / float64(predicted)
}

// Recall returns TP / (TP + FN) for the positive class
func (cm *ConfusionMatrix) Recall() float64 {
	actual := cm.counts[1][1] + cm.counts[1][0]
	if actual == 0 {
		return 0
	}
	return float64(cm.counts[1][1]) / float64(actual)
}

// Specificity returns TN / (TN + FP)
func (cm *ConfusionMatrix) Specificity() float64 {
	actual := cm.counts[0][0] + cm.counts[0][1]
	if actual == 0 {
		return 0
	}
	return float64(cm.counts[0][0]) / float64(actual)
}

// F1 returns the harmonic mean of precision and recall
func (cm *ConfusionMatrix) F1() float64 {
	p := cm.Precision()
	r := cm.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Support returns the number of true examples of the given class
func (cm *ConfusionMatrix) Support(class int) int {
	return cm.counts[class][0] + cm.counts[class][1]
}

// String renders the matrix as a 2x2 count grid
func (cm *ConfusionMatrix) String() string {
	return fmt.Sprintf("[[%d %d]\n [%d %d]]",
		cm.counts[0][0], cm.counts[0][1],
		cm.counts[1][0], cm.counts[1][1])
}

// classStats holds the per-class precision/recall/F1 for report rendering
type classStats struct {
	precision float64
	recall    float64
	f1        float64
	support   int
}

// perClass computes precision/recall/F1 treating the given class as
// positive
func (cm *ConfusionMatrix) perClass(class int) classStats {
	other := 1 - class
	tp := float64(cm.counts[class][class])
	fp := float64(cm.counts[other][class])
	fn := float64(cm.counts[class][other])

	var p, r, f float64
	if tp+fp > 0 {
		p = tp / (tp + fp)
	}
	if tp+fn > 0 {
		r = tp / (tp + fn)
	}
	if p+r > 0 {
		f = 2 * p * r / (p + r)
	}

	return classStats{precision: p, recall: r, f1: f, support: cm.Support(class)}
}

// ClassificationReport renders a per-class precision/recall/F1 table with
// macro and weighted averages
func (cm *ConfusionMatrix) ClassificationReport(classNames []string) string {
	if len(classNames) != 2 {
		classNames = []string{"0", "1"}
	}

	width := 12
	for _, name := range classNames {
		if len(name) > width {
			width = len(name)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%*s  precision    recall  f1-score   support\n\n", width, "")

	stats := [2]classStats{cm.perClass(0), cm.perClass(1)}
	for class, name := range classNames {
		s := stats[class]
		fmt.Fprintf(&sb, "%*s  %9.2f %9.2f %9.2f %9d\n", width, name, s.precision, s.recall, s.f1, s.support)
	}

	fmt.Fprintf(&sb, "\n%*s  %9s %9s %9.2f %9d\n", width, "accuracy", "", "", cm.Accuracy(), cm.total)

	macroP := (stats[0].precision + stats[1].precision) / 2
	macroR := (stats[0].recall + stats[1].recall) / 2
	macroF := (stats[0].f1 + stats[1].f1) / 2
	fmt.Fprintf(&sb, "%*s  %9.2f %9.2f %9.2f %9d\n", width, "macro avg", macroP, macroR, macroF, cm.total)

	var weightedP, weightedR, weightedF float64
	if cm.total > 0 {
		for class := 0; class < 2; class++ {
			w := float64(stats[class].support) / float64(cm.total)
			weightedP += w * stats[class].precision
			weightedR += w * stats[class].recall
			weightedF += w * stats[class].f1
		}
	}
	fmt.Fprintf(&sb, "%*s  %9.2f %9.2f %9.2f %9d\n", width, "weighted avg", weightedP, weightedR, weightedF, cm.total)

	return sb.String()
}

// AUCROC computes the area under the ROC curve for binary labels and
// positive-class scores. Returns ErrUndefinedAUC when the labels contain a
// single class.
func AUCROC(scores []float64, labels []int32) (float64, error) {
	if len(scores) != len(labels) {
		return 0, fmt.Errorf("scores and labels length mismatch: %d vs %d", len(scores), len(labels))
	}
	if len(scores) == 0 {
		return 0, fmt.Errorf("no examples to score")
	}

	var positives int
	for _, label := range labels {
		if label < 0 || label > 1 {
			return 0, fmt.Errorf("binary AUC got label %d", label)
		}
		if label == 1 {
			positives++
		}
	}
	if positives == 0 || positives == len(labels) {
		return 0, fmt.Errorf("%w (%d of %d positive)", ErrUndefinedAUC, positives, len(labels))
	}

	// gonum's ROC wants scores sorted ascending with aligned class flags
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return scores[order[a]] < scores[order[b]] })

	sorted := make([]float64, len(scores))
	classes := make([]bool, len(scores))
	for i, idx := range order {
		sorted[i] = scores[idx]
		classes[i] = labels[idx] == 1
	}

	tpr, fpr, _ := stat.ROC(nil, sorted, classes, nil)
	return integrate.Trapezoidal(fpr, tpr), nil
}
