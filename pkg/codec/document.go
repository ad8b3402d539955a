package codec

import (
	"slices"

	"github.com/dukex/anyflow/pkg/models"
)

// document is the text form of a flow shared by TOML and YAML. Ordered
// mappings become arrays of key/value tables. Timestamps are left out: they
// belong to the store, not to the document.
type document struct {
	ID          string            `json:"flowId,omitempty"   toml:"flowId,omitempty"   yaml:"flowId,omitempty"`
	Name        string            `json:"flowName"           toml:"flowName"           yaml:"flowName"`
	Username    string            `json:"username,omitempty" toml:"username,omitempty" yaml:"username,omitempty"`
	Owner       string            `json:"userId,omitempty"   toml:"userId,omitempty"   yaml:"userId,omitempty"`
	Version     string            `json:"version"            toml:"version"            yaml:"version"`
	Description string            `json:"description"        toml:"description"        yaml:"description"`
	Environment string            `json:"environment"        toml:"environment"        yaml:"environment"`
	Variables   []models.Variable `json:"variables"          toml:"variables"          yaml:"variables"`
	Trigger     *nodeDocument     `json:"trigger"            toml:"trigger,omitempty"  yaml:"trigger"`
	Actions     []nodeDocument    `json:"actions"            toml:"actions"            yaml:"actions"`
	Edges       []models.Edge     `json:"edges"              toml:"edges"              yaml:"edges"`
}

type nodeDocument struct {
	Trigger      bool                 `json:"trigger"                toml:"trigger"                yaml:"trigger"`
	Name         string               `json:"node_name"              toml:"node_name"              yaml:"node_name"`
	Icon         string               `json:"icon,omitempty"         toml:"icon,omitempty"         yaml:"icon,omitempty"`
	Label        string               `json:"node_label,omitempty"   toml:"node_label,omitempty"   yaml:"node_label,omitempty"`
	Description  string               `json:"description,omitempty"  toml:"description,omitempty"  yaml:"description,omitempty"`
	TriggerType  string               `json:"trigger_type,omitempty" toml:"trigger_type,omitempty" yaml:"trigger_type,omitempty"`
	ActionType   string               `json:"action_type,omitempty"  toml:"action_type,omitempty"  yaml:"action_type,omitempty"`
	DependsOn    []string             `json:"depends_on,omitempty"   toml:"depends_on,omitempty"   yaml:"depends_on,omitempty"`
	Variables    []models.Variable    `json:"variables,omitempty"    toml:"variables,omitempty"    yaml:"variables,omitempty"`
	Config       []models.Variable    `json:"config,omitempty"       toml:"config,omitempty"       yaml:"config,omitempty"`
	Handles      []models.Handle      `json:"handles,omitempty"      toml:"handles,omitempty"      yaml:"handles,omitempty"`
	Presentation *models.Presentation `json:"presentation,omitempty" toml:"presentation,omitempty" yaml:"presentation,omitempty"`
}

func fromFlow(f *models.Flow) *document {
	doc := &document{
		ID:          f.ID,
		Name:        f.Name,
		Username:    f.Username,
		Owner:       f.Owner,
		Version:     f.Version,
		Description: f.Description,
		Environment: f.Environment,
		Variables:   slices.Clone(f.Variables),
		Actions:     make([]nodeDocument, 0, len(f.Actions)),
		Edges:       slices.Clone(f.Edges),
	}

	if f.Trigger != nil {
		n := fromNode(f.Trigger)
		doc.Trigger = &n
	}

	for _, a := range f.Actions {
		if a != nil {
			doc.Actions = append(doc.Actions, fromNode(a))
		}
	}

	return doc
}

func fromNode(n *models.Node) nodeDocument {
	doc := nodeDocument{
		Trigger:      n.IsTrigger(),
		Name:         n.Name,
		Icon:         n.Icon,
		Label:        n.Label,
		Description:  n.Description,
		Variables:    slices.Clone(n.Variables),
		Config:       slices.Clone(n.Config),
		Handles:      slices.Clone(n.Handles),
		Presentation: n.Presentation,
	}

	if n.Trigger != nil {
		doc.TriggerType = n.Trigger.TriggerType
	}

	if n.Action != nil {
		doc.ActionType = n.Action.ActionType
		doc.DependsOn = slices.Clone(n.Action.DependsOn)
	}

	return doc
}

func (d *document) toFlow() *models.Flow {
	f := &models.Flow{
		ID:          d.ID,
		Name:        d.Name,
		Username:    d.Username,
		Owner:       d.Owner,
		Version:     d.Version,
		Description: d.Description,
		Environment: d.Environment,
		Variables:   models.Variables(nonEmpty(d.Variables)),
		Actions:     make([]*models.Node, 0, len(d.Actions)),
		Edges:       d.Edges,
	}

	if f.Edges == nil {
		f.Edges = []models.Edge{}
	}

	if f.Variables == nil {
		f.Variables = models.Variables{}
	}

	if d.Trigger != nil {
		f.Trigger = d.Trigger.toNode()
	}

	for i := range d.Actions {
		f.Actions = append(f.Actions, d.Actions[i].toNode())
	}

	return f
}

// toNode keeps every variant field that is present so that validation can
// report a mismatch between the discriminant and the payload.
func (d *nodeDocument) toNode() *models.Node {
	n := &models.Node{
		Name:         d.Name,
		Kind:         models.NodeKindAction,
		Icon:         d.Icon,
		Label:        d.Label,
		Description:  d.Description,
		Variables:    models.Variables(nonEmpty(d.Variables)),
		Config:       models.Config(nonEmpty(d.Config)),
		Handles:      nonEmpty(d.Handles),
		Presentation: d.Presentation,
	}

	if d.Trigger {
		n.Kind = models.NodeKindTrigger
	}

	if d.TriggerType != "" || d.Trigger {
		n.Trigger = &models.TriggerSpec{TriggerType: d.TriggerType}
	}

	if d.ActionType != "" || len(d.DependsOn) > 0 || !d.Trigger {
		n.Action = &models.ActionSpec{ActionType: d.ActionType, DependsOn: nonEmpty(d.DependsOn)}
	}

	return n
}

func nonEmpty[S ~[]E, E any](s S) S {
	if len(s) == 0 {
		return nil
	}

	return s
}
