// Command blasttap-eval runs one evaluation from a JSON request file and
// prints the result, without starting the service.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/terminal-bench/blasttap/internal/config"
	"github.com/terminal-bench/blasttap/internal/history"
	"github.com/terminal-bench/blasttap/internal/pipeline"
	"github.com/terminal-bench/blasttap/internal/production"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("blasttap-eval", flag.ContinueOnError)
	fs.SetOutput(stderr)
	input := fs.String("input", "", "Path to a JSON request; '-' reads stdin, empty uses the reference operating point")
	at := fs.String("at", "", "Evaluation time (RFC3339); defaults to now")
	basis := fs.String("basis", "", "Balance basis: raw or holding (overrides BALANCE_BASIS)")
	tf := fs.String("tf", "", "Tf formula: none or blast-oxygen-pci (overrides TF_FORMULA)")
	csvOut := fs.Bool("csv", false, "Print a CSV history row instead of JSON")
	pretty := fs.Bool("pretty", false, "Indent JSON output")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		logger = zap.NewNop()
	}
	defer logger.Sync()

	res, err := evaluate(*input, *at, *basis, *tf, stdin)
	if err != nil {
		var verr *pipeline.ValidationError
		if errors.As(err, &verr) {
			for _, f := range verr.Fields {
				logger.Error("invalid input", zap.String("field", f.Field), zap.String("reason", f.Reason))
			}
			return 1
		}
		logger.Error("evaluation failed", zap.Error(err))
		return 1
	}
	for _, w := range res.Warnings {
		logger.Warn("efficiency out of band", zap.String("detail", w))
	}

	if *csvOut {
		if err := history.WriteCSV(stdout, []history.Entry{history.FromResult(res)}); err != nil {
			logger.Error("failed to write csv", zap.Error(err))
			return 1
		}
		return 0
	}

	enc := json.NewEncoder(stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(res); err != nil {
		logger.Error("failed to write result", zap.Error(err))
		return 1
	}
	return 0
}

func evaluate(input, at, basis, tf string, stdin io.Reader) (pipeline.Result, error) {
	cfg, err := config.Load()
	if err != nil {
		return pipeline.Result{}, err
	}
	opts := cfg.Options()
	if basis != "" {
		if opts.Basis, err = pipeline.ParseBasis(basis); err != nil {
			return pipeline.Result{}, err
		}
	}
	if tf != "" {
		if opts.Tf, err = production.ParseTfFormula(tf); err != nil {
			return pipeline.Result{}, err
		}
	}

	now := time.Now()
	if at != "" {
		if now, err = time.Parse(time.RFC3339, at); err != nil {
			return pipeline.Result{}, fmt.Errorf("invalid -at: %w", err)
		}
	}

	req, err := readRequest(input, stdin)
	if err != nil {
		return pipeline.Result{}, err
	}
	if err := pipeline.Validate(req); err != nil {
		return pipeline.Result{}, err
	}
	return pipeline.Evaluate(opts, req, now), nil
}

func readRequest(input string, stdin io.Reader) (pipeline.Request, error) {
	req := pipeline.Request{Inputs: pipeline.DefaultInputs()}
	if input == "" {
		return req, nil
	}

	var r io.Reader = stdin
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			return req, fmt.Errorf("failed to open request: %w", err)
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return req, fmt.Errorf("failed to decode request: %w", err)
	}
	return req, nil
}
