// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"log/slog"

	"github.com/dukex/anyflow/pkg/registry"
)

// NewRegistry returns the built-in node catalog plus the node types found
// under nodeTypesPath, when set.
func NewRegistry(ctx context.Context, log *slog.Logger, nodeTypesPath string) (*registry.Registry, error) {
	reg := registry.NewRegistry(log)

	if err := reg.RegisterDefaultNodes(); err != nil {
		return nil, err
	}

	if nodeTypesPath == "" {
		return reg, nil
	}

	if _, err := reg.LoadNodeTypes(nodeTypesPath); err != nil {
		return nil, err
	}

	log.DebugContext(ctx, "Registry ready", "node_types", len(reg.List()))

	return reg, nil
}
