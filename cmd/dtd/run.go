package main

import (
	"benritz/dtd/internal/collect"
	"benritz/dtd/internal/types"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"
)

func runCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Compute distance to default for every row of a table",
		ArgsUsage: "<input> [output]",
		Description: "input is a csv, tsv, xls or xlsx file, an http(s) page with an HTML table, or s3://bucket/key.\n" +
			"output is a file, a directory, s3://bucket/prefix, or stdout when omitted.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "format",
				Usage: "Output format [csv, json, yaml, html, xlsx, parquet]",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Rows solved concurrently (default from config)",
			},
			&cli.StringFlag{
				Name:  "profile",
				Usage: "The AWS profile to use for s3:// locations",
			},
			&cli.StringFlag{
				Name:  "selector",
				Usage: "CSS selector of the HTML table for http(s) inputs",
				Value: "table",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() < 1 || cmd.NArg() > 2 {
				return fmt.Errorf("expected <input> [output], got %d arguments", cmd.NArg())
			}

			opts := runOptions{
				input:    cmd.Args().Get(0),
				output:   cmd.Args().Get(1),
				format:   cmd.String("format"),
				workers:  cmd.Int("workers"),
				profile:  cmd.String("profile"),
				selector: cmd.String("selector"),
			}

			return a.run(ctx, opts)
		},
	}
}

type runOptions struct {
	input    string
	output   string
	format   string
	workers  int
	profile  string
	selector string
}

func (a *app) s3Client(ctx context.Context, profile string) (collect.S3API, error) {
	if profile == "" {
		profile = a.cfg.Storage.AWSProfile
	}
	return a.newS3(ctx, profile)
}

// outputFormat resolves the format from the flag, then the output file
// extension, then the configured default.
func (a *app) outputFormat(opts runOptions) (collect.Format, error) {
	if opts.format != "" {
		return collect.ParseFormat(opts.format)
	}
	if f, ok := collect.FormatFromPath(opts.output); ok && !strings.HasPrefix(opts.output, "s3://") {
		return f, nil
	}
	return collect.ParseFormat(a.cfg.Storage.OutputFormat)
}

func (a *app) run(ctx context.Context, opts runOptions) error {
	format, err := a.outputFormat(opts)
	if err != nil {
		return err
	}

	var client collect.S3API
	if strings.HasPrefix(opts.input, "s3://") || strings.HasPrefix(opts.output, "s3://") {
		if client, err = a.s3Client(ctx, opts.profile); err != nil {
			return err
		}
	}

	loader, err := collect.NewLoader(opts.input, client)
	if err != nil {
		return err
	}
	if l, ok := loader.(*collect.HTMLLoader); ok && opts.selector != "" {
		l.WithSelector(opts.selector)
	}

	table, err := loader.Load(ctx)
	if err != nil {
		if errors.Is(err, types.ErrDataUnavailable) {
			return fmt.Errorf("no data found in %s: %w", opts.input, err)
		}
		return fmt.Errorf("failed to load %s: %w", opts.input, err)
	}

	workers := opts.workers
	if workers < 1 {
		workers = a.cfg.Workers
	}

	c, err := a.newCalculator(workers)
	if err != nil {
		return err
	}

	rep, err := c.Run(ctx, table)
	if err != nil {
		return err
	}

	outPath, err := a.store(ctx, rep, client, opts.output, format)
	if err != nil {
		return fmt.Errorf("failed to store results: %w", err)
	}

	s := rep.Summary()
	a.logger.Info("results stored",
		"run_id", rep.RunID,
		"rows", s.Rows,
		"converged", s.Converged,
		"failed", s.Failed,
		"duration", rep.Duration,
		"output", outPath)

	return nil
}

func (a *app) store(ctx context.Context, rep *types.Report, client collect.S3API, output string, format collect.Format) (string, error) {
	switch {
	case output == "" || output == "-":
		return "stdout", collect.Write(a.stdout, format, rep)
	case strings.HasPrefix(output, "s3://"):
		dst, err := collect.ParseS3(output)
		if err != nil {
			return "", err
		}
		return collect.StoreToS3(ctx, rep, client, dst, format)
	default:
		if _, ok := collect.FormatFromPath(output); ok {
			return collect.WriteFile(rep, output, format)
		}
		return collect.StoreToPath(ctx, rep, output, format)
	}
}
