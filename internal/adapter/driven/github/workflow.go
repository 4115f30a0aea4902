package github

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ericfisherdev/hookrelay/internal/domain/model"
)

type workflowFile struct {
	On yaml.Node `yaml:"on"`
}

type dispatchInput struct {
	Required bool       `yaml:"required"`
	Default  *yaml.Node `yaml:"default"`
}

// parseDispatchInputs extracts the declared workflow_dispatch inputs of a
// workflow file. The "on" key may be a single event name, a list of event
// names, or a mapping of events to their settings. Inputs are returned sorted
// by name.
func parseDispatchInputs(content []byte) ([]model.WorkflowInput, error) {
	var wf workflowFile
	if err := yaml.Unmarshal(content, &wf); err != nil {
		return nil, fmt.Errorf("decoding workflow: %w", err)
	}

	dispatch := findDispatchNode(&wf.On)
	if dispatch == nil || dispatch.Kind != yaml.MappingNode {
		return nil, nil
	}

	var settings struct {
		Inputs map[string]dispatchInput `yaml:"inputs"`
	}
	if err := dispatch.Decode(&settings); err != nil {
		return nil, fmt.Errorf("decoding workflow_dispatch inputs: %w", err)
	}

	inputs := make([]model.WorkflowInput, 0, len(settings.Inputs))
	for name, in := range settings.Inputs {
		input := model.WorkflowInput{Name: name, Required: in.Required}
		if in.Default != nil && in.Default.Kind == yaml.ScalarNode {
			def := in.Default.Value
			input.Default = &def
		}
		inputs = append(inputs, input)
	}
	sort.Slice(inputs, func(i, j int) bool { return inputs[i].Name < inputs[j].Name })

	return inputs, nil
}

// findDispatchNode returns the value node of workflow_dispatch under "on".
// For the scalar and sequence forms, which carry no settings, it returns an
// empty mapping node so callers can treat every form the same way.
func findDispatchNode(on *yaml.Node) *yaml.Node {
	switch on.Kind {
	case yaml.ScalarNode:
		if on.Value == "workflow_dispatch" {
			return &yaml.Node{Kind: yaml.MappingNode}
		}
	case yaml.SequenceNode:
		for _, item := range on.Content {
			if item.Value == "workflow_dispatch" {
				return &yaml.Node{Kind: yaml.MappingNode}
			}
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(on.Content); i += 2 {
			if on.Content[i].Value != "workflow_dispatch" {
				continue
			}
			value := on.Content[i+1]
			if value.Kind == yaml.ScalarNode && (value.Tag == "!!null" || value.Value == "") {
				return &yaml.Node{Kind: yaml.MappingNode}
			}
			return value
		}
	}
	return nil
}
