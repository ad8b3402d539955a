package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/anyflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const slackNodeType = `
type: slack
kind: action
title: Slack Node
icon: VscComment
worker_type: rest
default_config:
  - key: channel
    value: general
  - key: text
    value: ""
schema:
  type: object
  properties:
    channel:
      type: string
      minLength: 1
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestRegistry_LoadNodeTypes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "chat", "slack.yaml"), slackNodeType)
	writeFile(t, filepath.Join(dir, "webhook.yml"), "type: webhook\nkind: trigger\ntitle: Webhook\n")
	writeFile(t, filepath.Join(dir, "README.md"), "not a node type")

	r := newTestRegistry(t)

	loaded, err := r.LoadNodeTypes(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)

	slack, ok := r.Get(models.NodeKindAction, "slack")
	require.True(t, ok)
	assert.Equal(t, []string{"channel", "text"}, slack.DefaultConfig.Keys())
	assert.Equal(t, models.BaseHandles(), slack.Handles)

	webhook, ok := r.Get(models.NodeKindTrigger, "webhook")
	require.True(t, ok)
	assert.Equal(t, models.StartHandles(), webhook.Handles)

	node, err := r.NewNode(models.NodeKindAction, "slack", "notify")
	require.NoError(t, err)
	require.NoError(t, r.ValidateNode(node))

	node.Config.Set("channel", "")
	assert.True(t, IsInvalidConfig(r.ValidateNode(node)))
}

func TestRegistry_LoadNodeTypes_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		target  error
	}{
		{name: "missing type", content: "kind: action\n"},
		{name: "unknown kind", content: "type: x\nkind: sensor\n", target: ErrUnknownNodeType},
		{name: "clashes with built-in", content: "type: rest\nkind: action\n", target: ErrAlreadyRegistered},
		{name: "malformed yaml", content: "type: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, "bad.yaml"), tt.content)

			loaded, err := newTestRegistry(t).LoadNodeTypes(dir)
			require.Error(t, err)
			assert.Zero(t, loaded)

			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
}
