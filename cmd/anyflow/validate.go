package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dukex/anyflow/pkg/cmd"
	"github.com/dukex/anyflow/pkg/codec"
	"github.com/dukex/anyflow/pkg/log"
	"github.com/dukex/anyflow/pkg/models"
	cli "github.com/urfave/cli/v3"
)

// ErrInvalidFlow is returned when a checked document has violations.
var ErrInvalidFlow = errors.New("flow is invalid")

type validationReport struct {
	File   string   `json:"file"`
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
	Order  []string `json:"order,omitempty"`
}

// validateCommand checks documents on disk without a backend or session.
func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate flow documents (.json, .toml, .yaml)",
		ArgsUsage: "<file>...",
		Action: func(ctx context.Context, command *cli.Command) error {
			if command.Args().Len() == 0 {
				return fmt.Errorf("%w: file", errMissingArgument)
			}

			reg, err := cmd.NewRegistry(ctx, log.WithModule("cli"), command.String("node-types-path"))
			if err != nil {
				return fmt.Errorf("failed to load node types: %w", err)
			}

			invalid := 0

			for _, path := range command.Args().Slice() {
				report := validateFile(path, reg.ValidateFlow)
				if !report.Valid {
					invalid++
				}

				if err := printJSON(command, report); err != nil {
					return err
				}
			}

			if invalid > 0 {
				return fmt.Errorf("%w: %d of %d documents", ErrInvalidFlow, invalid, command.Args().Len())
			}

			return nil
		},
	}
}

func validateFile(path string, checkNodes func(*models.Flow) error) validationReport {
	report := validationReport{File: path}

	format, err := codec.FormatFromPath(path)
	if err != nil {
		report.Errors = []string{err.Error()}

		return report
	}

	data, err := os.ReadFile(path)
	if err != nil {
		report.Errors = []string{err.Error()}

		return report
	}

	flow, err := codec.Unmarshal(format, data)
	if err != nil {
		report.Errors = []string{err.Error()}

		return report
	}

	report.Errors = append(report.Errors, messages(flow.ValidateAll())...)
	report.Errors = append(report.Errors, messages(checkNodes(flow))...)

	if len(report.Errors) > 0 {
		return report
	}

	plan, err := flow.Plan()
	if err != nil {
		report.Errors = []string{err.Error()}

		return report
	}

	report.Valid = true
	report.Order = plan.Order

	return report
}

// messages flattens a joined error into its parts.
func messages(err error) []string {
	if err == nil {
		return nil
	}

	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, messages(e)...)
		}

		return out
	}

	return []string{err.Error()}
}

func nodeTypesCommand() *cli.Command {
	return &cli.Command{
		Name:  "node-types",
		Usage: "List the node catalog",
		Action: func(ctx context.Context, command *cli.Command) error {
			reg, err := cmd.NewRegistry(ctx, log.WithModule("cli"), command.String("node-types-path"))
			if err != nil {
				return fmt.Errorf("failed to load node types: %w", err)
			}

			return printJSON(command, reg.List())
		},
	}
}
