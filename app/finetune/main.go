package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tsawler/go-medclip/checkpoints"
	"github.com/tsawler/go-medclip/model"
	"github.com/tsawler/go-medclip/prompts"
	"github.com/tsawler/go-medclip/training"
	"github.com/tsawler/go-medclip/vision/dataset"
	"github.com/tsawler/go-medclip/vision/preprocessing"
)

type options struct {
	medicalType string
	task        string
	classes     string
	dataDir     string
	outputDir   string
	pretrained  string

	epochs    int
	batchSize int
	patience  int
	lr        float64

	option   string
	captions int

	imageSize int
	channels  int
	seed      int64

	zeroShot bool
}

func main() {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "finetune",
		Short: "Fine-tune a dual-encoder image-text model for binary medical image classification",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
		SilenceUsage: true,
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.medicalType, "medical-type", "lungs", "medical type used in the result layout")
	flags.StringVar(&opts.task, "task", "COVID", "task name prompts are grouped under")
	flags.StringVar(&opts.classes, "classes", "normal,covid", "ordered comma-separated class list, positive class last")
	flags.StringVar(&opts.dataDir, "data-dir", "", "root with train/, val/, and test/ class directories")
	flags.StringVar(&opts.outputDir, "output", ".", "root for checkpoints, plots, and result files")
	flags.StringVar(&opts.pretrained, "pretrained", "", "optional pretrained checkpoint to start from")
	flags.IntVar(&opts.epochs, "epochs", 10, "training epoch budget")
	flags.IntVar(&opts.batchSize, "batch-size", 8, "batch size for all splits")
	flags.IntVar(&opts.patience, "patience", 5, "epochs without validation improvement before stopping")
	flags.Float64Var(&opts.lr, "lr", 1e-5, "Adam learning rate")
	flags.StringVar(&opts.option, "option", "regular_captions", "prompt policy: regular_captions or random_captions")
	flags.IntVar(&opts.captions, "captions", 1, "captions per class under the randomized policy")
	flags.IntVar(&opts.imageSize, "image-size", 224, "square input edge in pixels")
	flags.IntVar(&opts.channels, "channels", 3, "input channels: 1 for grayscale, 3 for RGB")
	flags.Int64Var(&opts.seed, "seed", 1, "initialization and shuffling seed")
	flags.BoolVar(&opts.zeroShot, "zero-shot", false, "evaluate the pretrained model without fine-tuning")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts *options) error {
	if opts.dataDir == "" {
		return fmt.Errorf("--data-dir is required")
	}

	classes := splitClasses(opts.classes)
	if len(classes) != 2 {
		return fmt.Errorf("expected exactly 2 classes, got %q", opts.classes)
	}
	if opts.batchSize < 2 {
		return fmt.Errorf("batch size must be at least 2 for the contrastive objective, got %d", opts.batchSize)
	}

	model.ConfigureAccelerator()
	device := model.DetectDevice()
	fmt.Printf("Using device: %s\n", device)

	policy, err := prompts.ParsePolicy(opts.option, opts.captions)
	if err != nil {
		return err
	}

	cfg := model.DefaultConfig()
	cfg.Device = device
	cfg.ImageSize = opts.imageSize
	cfg.Channels = opts.channels
	cfg.Seed = opts.seed
	cfg.PretrainedPath = opts.pretrained

	tokenizer, err := prompts.NewTokenizer(cfg.VocabSize, cfg.MaxSeqLen)
	if err != nil {
		return err
	}

	builder, err := prompts.NewBuilder(opts.task, classes, policy, tokenizer, opts.seed)
	if err != nil {
		return err
	}

	handle, err := model.Load(model.VisionViT, cfg)
	if err != nil {
		return err
	}

	preprocessor, err := preprocessing.NewPreprocessor(opts.imageSize, opts.channels)
	if err != nil {
		return err
	}

	testLoader, _, err := loaderForSplit(opts, "test", classes, preprocessor, false)
	if err != nil {
		return err
	}

	if opts.zeroShot {
		classifier := training.NewZeroShotClassifier(handle, builder)
		result, err := classifier.Run([]training.Sweep{{Name: "Test", Source: testLoader, Steps: testLoader.Len()}})
		if err != nil {
			return err
		}
		return writeResults(opts, result)
	}

	trainLoader, trainSteps, err := loaderForSplit(opts, "train", classes, preprocessor, true)
	if err != nil {
		return err
	}
	valLoader, valSteps, err := loaderForSplit(opts, "val", classes, preprocessor, false)
	if err != nil {
		return err
	}

	store := checkpoints.NewFileStore(opts.outputDir, opts.medicalType)
	optimizer := training.NewAdamDefault(handle.Parameters(), opts.lr)
	plots := training.NewPlotHook(filepath.Join(opts.outputDir, "results", "finetune", opts.medicalType, "plots"))

	trainer, err := training.NewTrainer(handle, optimizer, builder, store, training.Config{
		Epochs:       opts.epochs,
		Patience:     opts.patience,
		TrainSteps:   trainSteps,
		ValSteps:     valSteps,
		LearningRate: opts.lr,
	}, plots)
	if err != nil {
		return err
	}

	if err := trainer.Run(trainLoader, valLoader); err != nil {
		return err
	}

	if trainer.EarlyStopped() {
		fmt.Println("Training stopped early on validation loss.")
	}
	fmt.Printf("Best validation loss: %.4f\n", trainer.BestValLoss())
	fmt.Printf("Best model saved to %s\n", store.Path())

	evaluator := training.NewEvaluator(handle, builder)
	result, err := evaluator.Evaluate([]training.Sweep{{Name: "Test", Source: testLoader, Steps: testLoader.Len()}})
	if err != nil {
		return err
	}

	fmt.Printf("Test - Accuracy: %.4f, Precision: %.4f, Recall: %.4f, AUC: %.4f\n",
		result.Accuracy, result.Precision, result.Recall, result.AUC)

	return writeResults(opts, result)
}

// loaderForSplit builds a batched loader over one split directory. The
// returned step count covers full batches only, since the contrastive
// objective needs at least two examples per batch.
func loaderForSplit(opts *options, split string, classes []string, preprocessor *preprocessing.Preprocessor, shuffle bool) (*training.DataLoader, int, error) {
	folder, err := dataset.NewImageFolderDataset(filepath.Join(opts.dataDir, split), classes, preprocessor)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load %s split: %v", split, err)
	}

	fmt.Printf("Loaded %s split: %d samples %v\n", split, folder.Len(), folder.ClassDistribution())

	steps := folder.Len() / opts.batchSize
	if steps == 0 {
		return nil, 0, fmt.Errorf("%s split has %d samples, fewer than one batch of %d", split, folder.Len(), opts.batchSize)
	}

	loader, err := training.NewDataLoader(folder, opts.batchSize, shuffle, opts.seed)
	if err != nil {
		return nil, 0, err
	}
	return loader, steps, nil
}

func writeResults(opts *options, result *training.EvalResult) error {
	path, err := training.SaveResults(opts.outputDir, opts.medicalType, result)
	if err != nil {
		return err
	}
	fmt.Printf("Results saved to %s\n", path)
	return nil
}

func splitClasses(spec string) []string {
	var classes []string
	for _, part := range strings.Split(spec, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			classes = append(classes, trimmed)
		}
	}
	return classes
}
