// Command gembaguard trains, evaluates and serves the failure models.
//
// Usage:
//
//	gembaguard [flags] profile <csv>
//	gembaguard [flags] train
//	gembaguard [flags] evaluate [-data csv]
//	gembaguard [flags] predict -input csv [-output csv] [-alerts csv] [-summary md]
//	gembaguard [flags] simulate
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/YuminosukeSato/gembaguard/config"
	"github.com/YuminosukeSato/gembaguard/dataset"
	"github.com/YuminosukeSato/gembaguard/pipeline"
	"github.com/YuminosukeSato/gembaguard/pkg/errors"
	"github.com/YuminosukeSato/gembaguard/pkg/log"
	"github.com/YuminosukeSato/gembaguard/serving"
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: %s [flags] <command> [args]

Commands:
  profile <csv>   print the data-quality profile of a raw export
  train           run the training pipeline and save the bundle
  evaluate        evaluate the saved bundle
  predict         score a CSV of telemetry
  simulate        score one simulated observation

Flags:
`, os.Args[0])
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", "", "configuration file (TOML, YAML or JSON)")
	envFile := flag.String("env", ".env", "dotenv file loaded before the configuration")
	artifacts := flag.String("artifacts", "", "bundle directory, overrides artifacts.dir")
	logLevel := flag.String("log-level", "", "log level, overrides log.level")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *artifacts != "" {
		cfg.Artifacts.Dir = *artifacts
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	log.SetProvider(log.NewZerologProvider(cfg.LogLevel(), log.WithConsole(cfg.Log.Console)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		var ae *errors.ArtifactError
		var ie *errors.IncompatibleArtifactError
		if errors.As(err, &ae) || errors.As(err, &ie) {
			fmt.Fprintln(os.Stderr, "hint: run 'gembaguard train' to build a bundle in", cfg.Artifacts.Dir)
		}
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, cmd string, args []string) error {
	switch cmd {
	case "profile":
		return profile(args)
	case "train":
		return train(ctx, cfg)
	case "evaluate":
		return evaluate(ctx, cfg, args)
	case "predict":
		return predict(ctx, cfg, args)
	case "simulate":
		return simulate(ctx, cfg)
	}
	return errors.Newf("unknown command %q", cmd)
}

func profile(args []string) error {
	if len(args) != 1 {
		return errors.New("profile takes exactly one CSV path")
	}
	f, err := dataset.LoadCSV(args[0])
	if err != nil {
		return err
	}
	dataset.NormalizeLabels(f)
	fmt.Print(dataset.NewProfile(f).Text())
	return nil
}

func train(ctx context.Context, cfg *config.Config) error {
	report, err := pipeline.Run(ctx, cfg)
	if err != nil {
		return err
	}
	fmt.Print(report.Describe())
	return nil
}

func evaluate(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("evaluate", flag.ExitOnError)
	data := fs.String("data", "", "labeled CSV to evaluate on instead of the held-out split")
	if err := fs.Parse(args); err != nil {
		return err
	}
	report, files, err := pipeline.Evaluate(ctx, cfg, *data)
	if err != nil {
		return err
	}
	fmt.Print(report.Text())
	for _, f := range files {
		fmt.Println("wrote", f)
	}
	return nil
}

func predict(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("predict", flag.ExitOnError)
	input := fs.String("input", "", "telemetry CSV to score (required)")
	output := fs.String("output", "", "CSV receiving every scored row")
	alerts := fs.String("alerts", "", "CSV receiving the rows with at least one alert")
	summary := fs.String("summary", "", "markdown report path; stdout when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" {
		return errors.New("predict requires -input")
	}

	f, err := dataset.LoadCSV(*input)
	if err != nil {
		return err
	}
	p, err := pipeline.NewPredictor(cfg, serving.NewBundleCache(cfg.Serving.CacheTTL))
	if err != nil {
		return err
	}
	res, err := p.Predict(ctx, f)
	if err != nil {
		return err
	}

	if *output != "" {
		if err := writeFile(*output, func(w io.Writer) error { return serving.WritePredictionsCSV(w, f, res) }); err != nil {
			return err
		}
	}
	if *alerts != "" {
		if err := writeFile(*alerts, func(w io.Writer) error { return serving.WriteAlertsCSV(w, f, res) }); err != nil {
			return err
		}
	}
	md := serving.Summarize(res).Markdown(*input, time.Now())
	if *summary == "" {
		fmt.Print(md)
		return nil
	}
	return writeFile(*summary, func(w io.Writer) error {
		_, err := io.WriteString(w, md)
		return err
	})
}

func simulate(ctx context.Context, cfg *config.Config) error {
	p, err := pipeline.NewPredictor(cfg, serving.NewBundleCache(cfg.Serving.CacheTTL))
	if err != nil {
		return err
	}
	res, err := p.Predict(ctx, serving.SimulatedObservation())
	if err != nil {
		return err
	}
	for _, label := range res.Labels {
		status := serving.FlagOK
		if res.AlertCount(label) > 0 {
			status = serving.FlagAlert
		}
		fmt.Printf("%-4s %6.1f%%  threshold %.2f  %s\n", label, 100*res.Probabilities[label][0], res.Thresholds[label], status)
	}
	fmt.Print(serving.Summarize(res).Markdown("simulated observation", time.Now()))
	return nil
}

func writeFile(path string, fn func(io.Writer) error) error {
	out, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := fn(out); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
