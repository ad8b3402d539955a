package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dukex/anyflow/pkg/codec"
	"github.com/dukex/anyflow/pkg/models"
	"github.com/dukex/anyflow/pkg/services"
	cli "github.com/urfave/cli/v3"
)

var errMissingArgument = errors.New("missing argument")

func flowsCommand() *cli.Command {
	return &cli.Command{
		Name:    "flows",
		Aliases: []string{"f"},
		Usage:   "Manage stored flows",
		Commands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Create an empty flow with a manual trigger",
				ArgsUsage: "<name>",
				Action: withService(func(ctx context.Context, command *cli.Command, svc *services.Flow) error {
					name, err := argument(command, 0, "name")
					if err != nil {
						return err
					}

					flow, err := svc.CreateFlow(ctx, name)
					if err != nil {
						return err
					}

					return printJSON(command, flow)
				}),
			},
			{
				Name:  "list",
				Usage: "List flows",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Usage: "Maximum number of flows", Value: 20},
					&cli.IntFlag{Name: "offset", Usage: "Number of flows to skip"},
					&cli.StringFlag{Name: "sort-by", Usage: "created_at, updated_at or name"},
					&cli.StringFlag{Name: "sort-order", Usage: "asc or desc"},
				},
				Action: withService(func(ctx context.Context, command *cli.Command, svc *services.Flow) error {
					result, err := svc.GetFlows(ctx, services.ListFlowsRequest{
						Limit:     command.Int("limit"),
						Offset:    command.Int("offset"),
						SortBy:    command.String("sort-by"),
						SortOrder: command.String("sort-order"),
					})
					if err != nil {
						return err
					}

					return printJSON(command, result)
				}),
			},
			{
				Name:      "get",
				Usage:     "Print a flow",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "by-name", Usage: "Look the flow up by name"},
					&cli.StringFlag{Name: "format", Usage: "json, toml or yaml", Value: "json"},
				},
				Action: withService(func(ctx context.Context, command *cli.Command, svc *services.Flow) error {
					ref, err := argument(command, 0, "id")
					if err != nil {
						return err
					}

					format, err := codec.ParseFormat(command.String("format"))
					if err != nil {
						return err
					}

					var flow *models.Flow
					if command.Bool("by-name") {
						flow, err = svc.GetFlowByName(ctx, ref)
					} else {
						flow, err = svc.GetFlow(ctx, ref)
					}

					if err != nil {
						return err
					}

					data, err := codec.Marshal(format, flow)
					if err != nil {
						return err
					}

					return printBytes(command, data)
				}),
			},
			{
				Name:      "rename",
				Usage:     "Rename a flow",
				ArgsUsage: "<id> <name>",
				Action: withService(func(ctx context.Context, command *cli.Command, svc *services.Flow) error {
					id, err := argument(command, 0, "id")
					if err != nil {
						return err
					}

					name, err := argument(command, 1, "name")
					if err != nil {
						return err
					}

					flow, err := svc.RenameFlow(ctx, id, services.RenameFlowRequest{Name: name})
					if err != nil {
						return err
					}

					return printJSON(command, flow)
				}),
			},
			{
				Name:      "delete",
				Usage:     "Delete a flow and its history",
				ArgsUsage: "<id>",
				Action: withService(func(ctx context.Context, command *cli.Command, svc *services.Flow) error {
					id, err := argument(command, 0, "id")
					if err != nil {
						return err
					}

					return svc.DeleteFlow(ctx, id)
				}),
			},
			{
				Name:      "versions",
				Usage:     "List recorded versions, newest first",
				ArgsUsage: "<id>",
				Action: withService(func(ctx context.Context, command *cli.Command, svc *services.Flow) error {
					id, err := argument(command, 0, "id")
					if err != nil {
						return err
					}

					versions, err := svc.GetFlowVersions(ctx, id)
					if err != nil {
						return err
					}

					return printJSON(command, versions)
				}),
			},
			{
				Name:      "plan",
				Usage:     "Print the execution order of a flow",
				ArgsUsage: "<id>",
				Action: withService(func(ctx context.Context, command *cli.Command, svc *services.Flow) error {
					id, err := argument(command, 0, "id")
					if err != nil {
						return err
					}

					plan, err := svc.Plan(ctx, id)
					if err != nil {
						return err
					}

					return printJSON(command, plan)
				}),
			},
			{
				Name:      "export",
				Usage:     "Write a flow as TOML",
				ArgsUsage: "<id> [file]",
				Action: withService(func(ctx context.Context, command *cli.Command, svc *services.Flow) error {
					id, err := argument(command, 0, "id")
					if err != nil {
						return err
					}

					data, err := svc.ReadToml(ctx, id)
					if err != nil {
						return err
					}

					if path := command.Args().Get(1); path != "" {
						return os.WriteFile(path, data, 0o600)
					}

					return printBytes(command, data)
				}),
			},
			{
				Name:      "import",
				Usage:     "Replace a flow with a TOML document",
				ArgsUsage: "<id> <file>",
				Action: withService(func(ctx context.Context, command *cli.Command, svc *services.Flow) error {
					id, err := argument(command, 0, "id")
					if err != nil {
						return err
					}

					path, err := argument(command, 1, "file")
					if err != nil {
						return err
					}

					data, err := os.ReadFile(path)
					if err != nil {
						return fmt.Errorf("failed to read %s: %w", path, err)
					}

					flow, err := svc.WriteToml(ctx, id, data)
					if err != nil {
						return err
					}

					return printJSON(command, flow.Summary())
				}),
			},
		},
	}
}

type serviceAction func(ctx context.Context, command *cli.Command, svc *services.Flow) error

func withService(action serviceAction) cli.ActionFunc {
	return func(ctx context.Context, command *cli.Command) error {
		svc, ctx, closeFn, err := openService(ctx, command)
		if err != nil {
			return err
		}
		defer closeFn()

		return action(ctx, command, svc)
	}
}

func argument(command *cli.Command, index int, name string) (string, error) {
	value := command.Args().Get(index)
	if value == "" {
		return "", fmt.Errorf("%w: %s", errMissingArgument, name)
	}

	return value, nil
}
