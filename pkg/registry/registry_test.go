package registry

import (
	"log/slog"
	"testing"

	"github.com/dukex/anyflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	r := NewRegistry(slog.Default())
	require.NoError(t, r.RegisterDefaultNodes())

	return r
}

func TestRegisterDefaultNodes(t *testing.T) {
	r := newTestRegistry(t)

	var types []string
	for _, nodeType := range r.List() {
		types = append(types, string(nodeType.Kind)+":"+nodeType.Type)
	}

	assert.Equal(t, []string{
		"trigger:cron",
		"trigger:manual",
		"trigger:receive_chat",
		"action:javascript",
		"action:local_model",
		"action:openai",
		"action:python",
		"action:rest",
		"action:send_chat",
		"action:terminal",
		"action:vector",
	}, types)

	err := r.RegisterDefaultNodes()
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestRegistry_NewNode(t *testing.T) {
	r := newTestRegistry(t)

	t.Run("action from catalog", func(t *testing.T) {
		node, err := r.NewNode(models.NodeKindAction, "rest", "fetch", "start")
		require.NoError(t, err)
		require.NoError(t, node.Validate())

		assert.Equal(t, "Rest API Node", node.Label)
		assert.Equal(t, []string{"url", "method", "headers", "body"}, node.Config.Keys())
		assert.Equal(t, models.BaseHandles(), node.Handles)
		assert.Equal(t, []string{"start"}, node.DependsOn())
	})

	t.Run("trigger from catalog", func(t *testing.T) {
		node, err := r.NewNode(models.NodeKindTrigger, "cron", "every_hour")
		require.NoError(t, err)
		require.NoError(t, node.Validate())

		assert.Equal(t, models.StartHandles(), node.Handles)
		assert.Equal(t, "cron", node.Type())
	})

	t.Run("defaults are not shared", func(t *testing.T) {
		first, err := r.NewNode(models.NodeKindAction, "terminal", "a")
		require.NoError(t, err)

		first.Config.Set("command", "ls")

		second, err := r.NewNode(models.NodeKindAction, "terminal", "b")
		require.NoError(t, err)

		value, _ := second.Config.Get("command")
		assert.Empty(t, value)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := r.NewNode(models.NodeKindAction, "teleport", "x")
		assert.ErrorIs(t, err, ErrUnknownNodeType)
	})
}

func TestRegistry_ValidateNode(t *testing.T) {
	r := newTestRegistry(t)

	tests := []struct {
		name    string
		node    func() *models.Node
		wantErr bool
	}{
		{
			name: "valid rest config",
			node: func() *models.Node {
				n := models.NewAction("fetch", "rest")
				n.Config = models.Config{{Key: "url", Value: "https://example.com"}, {Key: "method", Value: "POST"}}

				return n
			},
		},
		{
			name: "rest method outside enum",
			node: func() *models.Node {
				n := models.NewAction("fetch", "rest")
				n.Config = models.Config{{Key: "method", Value: "TELEPORT"}}

				return n
			},
			wantErr: true,
		},
		{
			name: "rest url with a template variable",
			node: func() *models.Node {
				n := models.NewAction("fetch", "rest")
				n.Config = models.Config{{Key: "url", Value: "{{api}}/users"}, {Key: "headers", Value: `{"Accept": "application/json"}`}}

				return n
			},
		},
		{
			name: "rest url without a scheme",
			node: func() *models.Node {
				n := models.NewAction("fetch", "rest")
				n.Config = models.Config{{Key: "url", Value: "example.com/users"}}

				return n
			},
			wantErr: true,
		},
		{
			name: "openai headers not an object",
			node: func() *models.Node {
				n := models.NewAction("ask", "openai")
				n.Config = models.Config{{Key: "headers", Value: "Accept: text/plain"}}

				return n
			},
			wantErr: true,
		},
		{
			name: "vector params not a list",
			node: func() *models.Node {
				n := models.NewAction("lookup", "vector")
				n.Config = models.Config{{Key: "params", Value: "k=3"}}

				return n
			},
			wantErr: true,
		},
		{
			name: "default configs are valid",
			node: func() *models.Node {
				n, err := r.NewNode(models.NodeKindAction, "local_model", "model")
				require.NoError(t, err)

				return n
			},
		},
		{
			name: "valid cron pattern",
			node: func() *models.Node {
				n := models.NewTrigger("tick", "cron")
				n.Config = models.Config{{Key: "pattern", Value: "*/5 * * * *"}}

				return n
			},
		},
		{
			name: "empty cron pattern",
			node: func() *models.Node {
				n := models.NewTrigger("tick", "cron")
				n.Config = models.Config{{Key: "pattern", Value: ""}}

				return n
			},
		},
		{
			name: "invalid cron pattern",
			node: func() *models.Node {
				n := models.NewTrigger("tick", "cron")
				n.Config = models.Config{{Key: "pattern", Value: "every tuesday"}}

				return n
			},
			wantErr: true,
		},
		{
			name: "unregistered type passes",
			node: func() *models.Node {
				n := models.NewAction("custom", "my_plugin")
				n.Config = models.Config{{Key: "anything", Value: "goes"}}

				return n
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.ValidateNode(tt.node())
			if !tt.wantErr {
				assert.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.True(t, IsInvalidConfig(err))

			var configErr *ConfigError
			require.ErrorAs(t, err, &configErr)
			assert.NotEmpty(t, configErr.Problems)
		})
	}
}

func TestRegistry_ValidateFlow(t *testing.T) {
	r := newTestRegistry(t)

	flow := models.NewFlow("x")
	bad := models.NewAction("fetch", "rest", models.DefaultTriggerName)
	bad.Config = models.Config{{Key: "method", Value: "NOPE"}}
	flow.Actions = append(flow.Actions, bad)

	err := r.ValidateFlow(flow)
	assert.True(t, IsInvalidConfig(err))

	flow.Actions[0].Config = nil
	assert.NoError(t, r.ValidateFlow(flow))
}

func TestRegistry_RegisterRejectsBadSchema(t *testing.T) {
	r := NewRegistry(slog.Default())

	err := r.Register(&NodeType{
		Type:   "broken",
		Kind:   models.NodeKindAction,
		Schema: map[string]any{"type": 42},
	})
	assert.Error(t, err)
}

func TestRegistry_HealthCheck(t *testing.T) {
	empty := NewRegistry(slog.Default())

	message, ok := empty.HealthCheck()
	assert.False(t, ok)
	assert.Contains(t, message, "no trigger types")

	message, ok = newTestRegistry(t).HealthCheck()
	assert.True(t, ok)
	assert.Equal(t, "Registry is healthy", message)
}

func TestRegistry_DefaultConfigsPassTheirSchemas(t *testing.T) {
	r := newTestRegistry(t)

	for _, nodeType := range DefaultNodeTypes() {
		t.Run(nodeType.Type, func(t *testing.T) {
			node, err := r.NewNode(nodeType.Kind, nodeType.Type, "node")
			require.NoError(t, err)
			assert.NoError(t, r.ValidateNode(node))
		})
	}
}
