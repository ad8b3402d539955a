package registry

import (
	"fmt"
	"io/fs"
	"os"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dukex/anyflow/pkg/models"
	"gopkg.in/yaml.v3"
)

// nodeTypeFile is the on-disk form of a node type definition.
type nodeTypeFile struct {
	Type          string            `yaml:"type"`
	Kind          models.NodeKind   `yaml:"kind"`
	Title         string            `yaml:"title"`
	Icon          string            `yaml:"icon"`
	Description   string            `yaml:"description"`
	WorkerType    string            `yaml:"worker_type"`
	DefaultConfig []models.Variable `yaml:"default_config"`
	Handles       []models.Handle   `yaml:"handles"`
	Schema        map[string]any    `yaml:"schema"`
}

// LoadNodeTypes registers every node type defined in the YAML files under
// dir, searched recursively. It returns the number of types registered.
func (r *Registry) LoadNodeTypes(dir string) (int, error) {
	fsys := os.DirFS(dir)

	paths, err := doublestar.Glob(fsys, "**/*.{yaml,yml}")
	if err != nil {
		return 0, fmt.Errorf("failed to list node types in %s: %w", dir, err)
	}

	loaded := 0

	for _, path := range paths {
		nodeType, err := readNodeType(fsys, path)
		if err != nil {
			return loaded, err
		}

		if err := r.Register(nodeType); err != nil {
			return loaded, fmt.Errorf("failed to register node type from %s: %w", path, err)
		}

		loaded++
	}

	r.logger.Info("Loaded node types", "path", dir, "count", loaded)

	return loaded, nil
}

func readNodeType(fsys fs.FS, path string) (*NodeType, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read node type %s: %w", path, err)
	}

	var file nodeTypeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to decode node type %s: %w", path, err)
	}

	if file.Type == "" {
		return nil, fmt.Errorf("node type %s: type is required", path)
	}

	handles := file.Handles
	if len(handles) == 0 {
		if file.Kind == models.NodeKindTrigger {
			handles = models.StartHandles()
		} else {
			handles = models.BaseHandles()
		}
	}

	return &NodeType{
		Type:          file.Type,
		Kind:          file.Kind,
		Title:         file.Title,
		Icon:          file.Icon,
		Description:   file.Description,
		WorkerType:    file.WorkerType,
		DefaultConfig: models.Config(file.DefaultConfig),
		Handles:       handles,
		Schema:        file.Schema,
	}, nil
}
