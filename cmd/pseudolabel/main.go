// Command pseudolabel runs a two-stage detector over a directory of unlabeled images and writes
// the curated detections as COCO annotations.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nvr-ai/go-pseudolabel/annotations"
	"github.com/nvr-ai/go-pseudolabel/inference"
	"github.com/nvr-ai/go-pseudolabel/pipeline"
	"github.com/nvr-ai/go-pseudolabel/storage/sqlite"
	"github.com/nvr-ai/go-pseudolabel/util"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// EnvConfig names the YAML config used when -config is not given.
	EnvConfig = "PSEUDOLABEL_CONFIG"
	// EnvLibraryPath names the onnxruntime shared library used when the config has none.
	EnvLibraryPath = "ORT_LIBRARY_PATH"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("failed to load .env")
	}

	config, err := parseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	log, closeLog := initLogger(config)
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config, log); err != nil {
		log.WithError(err).Error("run failed")
		closeLog()
		os.Exit(1)
	}
}

// parseConfig loads the YAML config named by -config or PSEUDOLABEL_CONFIG and applies the
// flags that were set on top of it.
func parseConfig(fs *flag.FlagSet, args []string) (pipeline.Config, error) {
	var (
		configPath  string
		imageDir    string
		modelPath   string
		cooccurPath string
		datasetIn   string
		datasetOut  string
		sqlitePath  string
		logLevel    string
		logFile     string
		visibility  float64
		batchSize   int
	)
	fs.StringVar(&configPath, "config", getEnv(EnvConfig, ""), "Path to a YAML config file")
	fs.StringVar(&imageDir, "images", "", "Directory of unlabeled images")
	fs.StringVar(&modelPath, "model", "", "Path to the ONNX detector")
	fs.StringVar(&cooccurPath, "cooccur", "", "Co-occurrence counts (.npy or .json)")
	fs.StringVar(&datasetIn, "dataset-in", "", "Existing COCO dataset to extend")
	fs.StringVar(&datasetOut, "dataset-out", "", "Where to write the annotated dataset")
	fs.StringVar(&sqlitePath, "sqlite", "", "Optional SQLite database mirroring the new annotations")
	fs.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&logFile, "log-file", "", "Also write the log to this file")
	fs.Float64Var(&visibility, "visibility", 0, "Minimum score for a detection to be emitted")
	fs.IntVar(&batchSize, "batch-size", 0, "Images per predictor call")
	if err := fs.Parse(args); err != nil {
		return pipeline.Config{}, err
	}

	config := pipeline.DefaultConfig()
	if configPath != "" {
		var err error
		if config, err = pipeline.LoadConfig(configPath); err != nil {
			return config, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "images":
			config.ImageDir = imageDir
		case "model":
			config.Model.ModelPath = modelPath
		case "cooccur":
			config.CooccurrencePath = cooccurPath
		case "dataset-in":
			config.DatasetIn = datasetIn
		case "dataset-out":
			config.DatasetOut = datasetOut
		case "sqlite":
			config.SQLitePath = sqlitePath
		case "log-level":
			config.LogLevel = logLevel
		case "log-file":
			config.LogFile = logFile
		case "visibility":
			config.VisibilityThreshold = float32(visibility)
		case "batch-size":
			config.BatchSize = batchSize
		}
	})
	if config.Model.LibraryPath == "" {
		config.Model.LibraryPath = getEnv(EnvLibraryPath, "")
	}

	if config.ImageDir == "" || config.DatasetOut == "" {
		return config, errors.Wrap(pipeline.ErrInvalidConfig, "images and dataset-out are required")
	}
	return config, config.Validate()
}

// initLogger builds a logrus logger writing to stdout and, when configured, a log file.
func initLogger(config pipeline.Config) (*logrus.Logger, func()) {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if level, err := logrus.ParseLevel(config.LogLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.WithField("level", config.LogLevel).Warn("unknown log level, using info")
	}

	closeLog := func() {}
	if config.LogFile != "" {
		file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.WithError(err).Warn("failed to log to file, using stdout only")
		} else {
			log.SetOutput(io.MultiWriter(os.Stdout, file))
			closeLog = func() { file.Close() }
		}
	}
	return log, closeLog
}

// run executes one labelling run. Records gathered before a failure are written to
// DatasetOut + ".partial", see flushPartial.
func run(ctx context.Context, config pipeline.Config, log logrus.FieldLogger) error {
	labels, err := config.LabelSpace()
	if err != nil {
		return err
	}
	matrix, err := config.CooccurrenceMatrix()
	if err != nil {
		return err
	}
	if matrix == nil {
		log.Warn("no co-occurrence matrix configured, rescoring disabled")
	}

	dataset := annotations.NewDataset()
	startID := config.StartID
	if config.DatasetIn != "" {
		if dataset, err = annotations.LoadDataset(config.DatasetIn); err != nil {
			return err
		}
		maxID, err := dataset.MaxAnnotationID()
		if err != nil {
			return errors.Wrapf(err, "dataset %s", config.DatasetIn)
		}
		startID = max(startID, maxID+1)
	}
	acc := annotations.NewAccumulator(startID)

	source, err := util.NewDirectorySource(config.ImageDir, config.BatchSize)
	if err != nil {
		return err
	}
	processor, err := pipeline.NewProcessor(config, labels, matrix, acc, log)
	if err != nil {
		return err
	}
	predictor, err := inference.NewONNXPredictor(config.Model)
	if err != nil {
		return err
	}
	defer predictor.Close()

	log.WithFields(logrus.Fields{
		"images":   source.Len(),
		"model":    config.Model.ModelPath,
		"start_id": startID,
	}).Info("starting run")

	stats, runErr := pipeline.NewRunner(source, predictor, processor, log).Run(ctx)
	if runErr != nil {
		flushPartial(config.DatasetOut, acc.Records(), log)
		return runErr
	}

	records := acc.Records()
	if err := writeOutputs(ctx, config, dataset, records, log); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"images":  stats.Images,
		"records": len(records),
		"path":    config.DatasetOut,
	}).Info("run complete")
	return nil
}

// writeOutputs appends the records to the dataset, saves it and fills the optional SQLite
// sink. When the dataset cannot be written the records are flushed to a partial file.
func writeOutputs(
	ctx context.Context,
	config pipeline.Config,
	dataset *annotations.Dataset,
	records []annotations.Record,
	log logrus.FieldLogger,
) error {
	if err := dataset.Append(records...); err != nil {
		flushPartial(config.DatasetOut, records, log)
		return err
	}
	if err := dataset.Save(config.DatasetOut); err != nil {
		flushPartial(config.DatasetOut, records, log)
		return err
	}

	if config.SQLitePath == "" {
		return nil
	}
	db, err := sqlite.New(config.SQLitePath)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.InsertBatch(ctx, records)
}

// flushPartial writes records next to out with a ".partial" suffix, falling back to the
// temp directory when the output directory is not writable. It returns the path written,
// or "" when both attempts fail.
func flushPartial(out string, records []annotations.Record, log logrus.FieldLogger) string {
	candidates := []string{
		out + ".partial",
		filepath.Join(os.TempDir(), filepath.Base(out)+".partial"),
	}
	for _, path := range candidates {
		if err := annotations.SaveRecords(path, records); err != nil {
			log.WithError(err).WithField("path", path).Error("failed to write partial records")
			continue
		}
		log.WithFields(logrus.Fields{"path": path, "records": len(records)}).Warn("wrote partial records")
		return path
	}
	return ""
}
