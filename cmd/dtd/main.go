package main

import (
	"benritz/dtd/internal/calc"
	"benritz/dtd/internal/collect"
	"benritz/dtd/internal/config"
	"benritz/dtd/internal/logging"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
)

var (
	version = "v0.0.1-default"
	commit  = ""
)

// app is the state shared by the subcommands, set up in the root Before.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	stdout io.Writer
	stderr io.Writer

	// newS3 creates the client used for s3:// inputs and outputs.
	newS3 func(ctx context.Context, profile string) (collect.S3API, error)
}

func getAwsConfig(ctx context.Context, profile string) (aws.Config, error) {
	if profile == "" || profile == "default" {
		return awsconfig.LoadDefaultConfig(ctx)
	}
	return awsconfig.LoadDefaultConfig(ctx, awsconfig.WithSharedConfigProfile(profile))
}

func newS3Client(ctx context.Context, profile string) (collect.S3API, error) {
	cfg, err := getAwsConfig(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

func (a *app) newCalculator(workers int) (*calc.Calculator, error) {
	return calc.New(a.cfg.Params(),
		calc.WithWorkers(workers),
		calc.WithLogger(a.logger),
	)
}

func newCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:    "dtd",
		Usage:   "Merton distance-to-default calculator",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		Writer:  a.stdout,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file",
				Sources: cli.EnvVars("DTD_CONFIG"),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Prints verbose logs (optional, default: false)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format [cli, text, json]",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			cfg, err := config.Load(cmd.String("config"))
			if err != nil {
				return ctx, err
			}

			if cmd.Bool("debug") {
				cfg.Logging.Level = "debug"
			}
			if f := cmd.String("log-format"); f != "" {
				cfg.Logging.Format = f
			}

			a.cfg = cfg
			a.logger = logging.SetDefault(cfg.Logging.Format, cfg.Logging.Level, a.stderr)

			return ctx, nil
		},
		Commands: []*cli.Command{
			calcCommand(a),
			runCommand(a),
			serveCommand(a),
		},
	}
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{
		stdout: os.Stdout,
		stderr: os.Stderr,
		newS3:  newS3Client,
	}

	if err := newCommand(a).Run(ctx, os.Args); err != nil {
		if a.logger != nil {
			a.logger.Error("fatal error", "error", err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}
