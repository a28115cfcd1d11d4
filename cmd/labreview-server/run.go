package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/labreview/labreview/internal/config"
	"github.com/labreview/labreview/internal/domain/pipeline"
	"github.com/labreview/labreview/internal/domain/reference"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process a batch file offline against a reference snapshot",
		Long: "Reads a batch request as JSON and runs it through the full pipeline with in-memory storage.\n" +
			"The batch result is written to stdout as JSON.",
		RunE: func(cmd *cobra.Command, args []string) error {
			input, _ := cmd.Flags().GetString("input")
			refPath, _ := cmd.Flags().GetString("reference")

			cfg, err := config.LoadOffline()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			snapshot, err := reference.LoadYAMLFile(refPath)
			if err != nil {
				return fmt.Errorf("load reference: %w", err)
			}

			in, err := openInput(input)
			if err != nil {
				return err
			}
			defer in.Close()

			return runBatch(cmd.Context(), cfg, snapshot, in, cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("input", "-", "Batch request JSON file, - for stdin")
	cmd.Flags().String("reference", "", "Reference data YAML file")
	_ = cmd.MarkFlagRequired("reference")
	return cmd
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	return f, nil
}

// runBatch decodes one batch from in, runs it in memory and writes the
// result to out.
func runBatch(ctx context.Context, cfg *config.Config, store reference.Store, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var req pipeline.BatchRequest
	dec := json.NewDecoder(in)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return fmt.Errorf("decode batch: %w", err)
	}

	logger := newLogger()
	svcs := buildServices(cfg, offlineBackends(store, logger), logger)

	result, err := svcs.runner.Run(ctx, req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
