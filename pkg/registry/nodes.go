package registry

import (
	"fmt"

	"github.com/dukex/anyflow/pkg/models"
	"github.com/robfig/cron/v3"
)

// Worker types of the built-in catalog.
const (
	WorkerStart      = "start"
	WorkerJavascript = "javascript"
	WorkerPython     = "python"
	WorkerRest       = "rest"
	WorkerLocalModel = "local_model"
	WorkerAppChat    = "app_chat"
	WorkerTerminal   = "terminal"
	WorkerVector     = "vector"
)

var httpMethods = []any{"", "GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}

// Config property constraints. Every pattern admits the empty string that
// a freshly added node carries.
var (
	httpURLProperty    = map[string]any{"pattern": `^((https?://|\{\{)\S*)?$`}
	httpMethodProperty = map[string]any{"enum": httpMethods}
	jsonObjectProperty = map[string]any{"pattern": `^(\s*\{[\s\S]*\}\s*)?$`}
	jsonArrayProperty  = map[string]any{"pattern": `^(\s*\[[\s\S]*\]\s*)?$`}
)

func restSchema() map[string]any {
	return configSchema(map[string]any{
		"url":     httpURLProperty,
		"method":  httpMethodProperty,
		"headers": jsonObjectProperty,
	})
}

// RegisterDefaultNodes registers the built-in node catalog.
func (r *Registry) RegisterDefaultNodes() error {
	for _, nodeType := range DefaultNodeTypes() {
		if err := r.Register(nodeType); err != nil {
			return err
		}
	}

	return nil
}

// DefaultNodeTypes returns a fresh copy of the built-in catalog.
func DefaultNodeTypes() []*NodeType {
	return []*NodeType{
		{
			Type:        "manual",
			Kind:        models.NodeKindTrigger,
			Title:       "Manual Node",
			Icon:        "VscPerson",
			Description: "Start the flow manually",
			WorkerType:  WorkerStart,
			Handles:     models.StartHandles(),
		},
		{
			Type:          "cron",
			Kind:          models.NodeKindTrigger,
			Title:         "Cron Node",
			Icon:          "VscWatch",
			Description:   "Start the flow on a schedule",
			WorkerType:    WorkerStart,
			DefaultConfig: models.Config{{Key: "pattern", Value: ""}},
			Handles:       models.StartHandles(),
			Check:         checkCronPattern,
		},
		{
			Type:          "receive_chat",
			Kind:          models.NodeKindTrigger,
			Title:         "Receive Chat Node",
			Icon:          "VscMail",
			Description:   "Start the flow when a chat message arrives",
			WorkerType:    WorkerStart,
			DefaultConfig: models.Config{{Key: "message", Value: ""}},
			Handles:       models.StartHandles(),
		},
		{
			Type:          "javascript",
			Kind:          models.NodeKindAction,
			Title:         "JS Node",
			Icon:          "/js-logo.svg",
			WorkerType:    WorkerJavascript,
			DefaultConfig: models.Config{{Key: "code", Value: ""}},
			Handles:       models.BaseHandles(),
		},
		{
			Type:          "python",
			Kind:          models.NodeKindAction,
			Title:         "Python Node",
			Icon:          "VscCode",
			WorkerType:    WorkerPython,
			DefaultConfig: models.Config{{Key: "code", Value: ""}},
			Handles:       models.BaseHandles(),
		},
		{
			Type:          "rest",
			Kind:          models.NodeKindAction,
			Title:         "Rest API Node",
			Icon:          "VscRadioTower",
			WorkerType:    WorkerRest,
			DefaultConfig: restConfig(),
			Handles:       models.BaseHandles(),
			Schema:        restSchema(),
		},
		{
			Type:          "openai",
			Kind:          models.NodeKindAction,
			Title:         "OpenAI Node",
			Icon:          "VscRadioTower",
			WorkerType:    WorkerRest,
			DefaultConfig: restConfig(),
			Handles:       models.BaseHandles(),
			Schema:        restSchema(),
		},
		{
			Type:       "local_model",
			Kind:       models.NodeKindAction,
			Title:      "Model Node",
			Icon:       "VscWand",
			WorkerType: WorkerLocalModel,
			DefaultConfig: models.Config{
				{Key: "filename", Value: ""},
				{Key: "prompt", Value: ""},
				{Key: "variables", Value: "[]"},
			},
			Handles: models.BaseHandles(),
			Schema:  configSchema(map[string]any{"variables": jsonArrayProperty}),
		},
		{
			Type:          "send_chat",
			Kind:          models.NodeKindAction,
			Title:         "Send Chat Node",
			Icon:          "VscSend",
			WorkerType:    WorkerAppChat,
			DefaultConfig: models.Config{{Key: "pattern", Value: ""}},
			Handles:       models.BaseHandles(),
		},
		{
			Type:          "terminal",
			Kind:          models.NodeKindAction,
			Title:         "Terminal Node",
			Icon:          "VscTerminal",
			WorkerType:    WorkerTerminal,
			DefaultConfig: models.Config{{Key: "command", Value: ""}},
			Handles:       models.BaseHandles(),
		},
		{
			Type:       "vector",
			Kind:       models.NodeKindAction,
			Title:      "Vector Node",
			Icon:       "VscReferences",
			WorkerType: WorkerVector,
			DefaultConfig: models.Config{
				{Key: "db", Value: ""},
				{Key: "params", Value: "[]"},
			},
			Handles: models.BaseHandles(),
			Schema:  configSchema(map[string]any{"params": jsonArrayProperty}),
		},
	}
}

func restConfig() models.Config {
	return models.Config{
		{Key: "url", Value: ""},
		{Key: "method", Value: ""},
		{Key: "headers", Value: ""},
		{Key: "body", Value: ""},
	}
}

// configSchema describes a config object by its constrained keys. Unlisted
// keys are allowed.
func configSchema(properties map[string]any) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": properties,
	}
}

// checkCronPattern accepts an empty pattern, which the editor fills in later.
func checkCronPattern(config models.Config) error {
	pattern, _ := config.Get("pattern")
	if pattern == "" {
		return nil
	}

	if _, err := cron.ParseStandard(pattern); err != nil {
		return fmt.Errorf("pattern %q is not a valid cron expression: %w", pattern, err)
	}

	return nil
}
