package main

import (
	"benritz/dtd/internal/types"
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"
)

func calcCommand(a *app) *cli.Command {
	return &cli.Command{
		Name:  "calc",
		Usage: "Solve a single firm observation",
		Flags: []cli.Flag{
			&cli.FloatFlag{
				Name:     "market-cap",
				Usage:    "Market capitalization (equity value) of the firm",
				Required: true,
			},
			&cli.FloatFlag{
				Name:     "short-term-debt",
				Usage:    "Short term debt",
				Required: true,
			},
			&cli.FloatFlag{
				Name:     "long-term-debt",
				Usage:    "Long term debt",
				Required: true,
			},
			&cli.FloatFlag{
				Name:  "other-liability",
				Usage: "Other liabilities",
			},
			&cli.FloatFlag{
				Name:     "daily-rate",
				Usage:    "Daily risk-free rate",
				Required: true,
			},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			c, err := a.newCalculator(1)
			if err != nil {
				return err
			}

			res := c.Observation(1, &types.Observation{
				MarketCap:      cmd.Float("market-cap"),
				ShortTermDebt:  cmd.Float("short-term-debt"),
				LongTermDebt:   cmd.Float("long-term-debt"),
				OtherLiability: cmd.Float("other-liability"),
				DailyRate:      cmd.Float("daily-rate"),
			})

			return printResult(a, res)
		},
	}
}

func printResult(a *app, res *types.Result) error {
	w := a.stdout

	fmt.Fprintf(w, "Firm Details:\n")
	fmt.Fprintf(w, "\tLiabilities: %.6f\n", res.Liabilities)
	fmt.Fprintf(w, "\tAnnual Rate: %.6f\n", res.Rate)

	if res.Failed() {
		fmt.Fprintf(w, "\tError: %v\n", res.Err)
		return errors.New("calculation failed")
	}

	fmt.Fprintf(w, "\tAsset Value: %.6f\n", res.AssetValue)
	fmt.Fprintf(w, "\tConverged: %t\n", res.Converged)
	fmt.Fprintf(w, "\tIterations: %d\n", res.Iterations)

	if res.Converged {
		fmt.Fprintf(w, "\tDistance to Default: %.6f\n", res.DTD)
	} else {
		fmt.Fprintf(w, "\tDistance to Default: n/a\n")
	}

	return nil
}
