// Package workflow interprets declarative browser workflows: a YAML
// document of sequential steps (fetch, interact, extract, wait,
// screenshot, setVariable, if, loop) executed against one browser session.
// Conditions are CEL expressions evaluated over the variables map, never
// arbitrary code.
package workflow

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Step types.
const (
	StepFetch       = "fetch"
	StepInteract    = "interact"
	StepExtract     = "extract"
	StepWait        = "wait"
	StepScreenshot  = "screenshot"
	StepSetVariable = "setVariable"
	StepIf          = "if"
	StepLoop        = "loop"
)

// Interact actions.
const (
	ActionClick = "click"
	ActionFill  = "fill"
	ActionType  = "type"
)

// Wait conditions.
const (
	WaitNetworkIdle = "networkidle"
	WaitTimeout     = "timeout"
	WaitSelector    = "selector"
)

// defaultMaxIterations caps loop bodies that never hit their break
// condition.
const defaultMaxIterations = 50

// Workflow is the top-level declarative document.
type Workflow struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Options     Options        `yaml:"options,omitempty" json:"options,omitempty"`
	Variables   map[string]any `yaml:"variables,omitempty" json:"variables,omitempty"`
	Steps       []Step         `yaml:"steps" json:"steps"`
}

// Options tunes one run.
type Options struct {
	// TimeoutSeconds bounds the whole execution. Default: 120.
	TimeoutSeconds int `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	// ContinueOnError keeps running after a failed step.
	ContinueOnError bool `yaml:"continueOnError,omitempty" json:"continueOnError,omitempty"`
	// SessionTTLSeconds bounds how long the browser session may live.
	SessionTTLSeconds int `yaml:"sessionTtl,omitempty" json:"sessionTtl,omitempty"`
}

// Step is the sum type for all step kinds, discriminated by Type. Unused
// fields stay zero.
type Step struct {
	Type string `yaml:"type" json:"type"`
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// fetch
	URL       string `yaml:"url,omitempty" json:"url,omitempty"`
	WaitUntil string `yaml:"waitUntil,omitempty" json:"waitUntil,omitempty"`

	// interact
	Action   string `yaml:"action,omitempty" json:"action,omitempty"`
	Selector string `yaml:"selector,omitempty" json:"selector,omitempty"`
	Value    string `yaml:"value,omitempty" json:"value,omitempty"`

	// extract
	Policy   string `yaml:"policy,omitempty" json:"policy,omitempty"`
	AssignTo string `yaml:"assignTo,omitempty" json:"assignTo,omitempty"`

	// wait
	For     string  `yaml:"for,omitempty" json:"for,omitempty"`
	Seconds float64 `yaml:"seconds,omitempty" json:"seconds,omitempty"`
	State   string  `yaml:"state,omitempty" json:"state,omitempty"`

	// screenshot
	Path     string `yaml:"path,omitempty" json:"path,omitempty"`
	FullPage bool   `yaml:"fullPage,omitempty" json:"fullPage,omitempty"`

	// setVariable
	Variable string `yaml:"variable,omitempty" json:"variable,omitempty"`
	SetValue any    `yaml:"setValue,omitempty" json:"setValue,omitempty"`
	FromEval string `yaml:"fromEval,omitempty" json:"fromEval,omitempty"`

	// if
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`
	Then      []Step `yaml:"then,omitempty" json:"then,omitempty"`
	Else      []Step `yaml:"else,omitempty" json:"else,omitempty"`

	// loop
	Over          string `yaml:"over,omitempty" json:"over,omitempty"`
	Times         int    `yaml:"times,omitempty" json:"times,omitempty"`
	BreakIf       string `yaml:"breakIf,omitempty" json:"breakIf,omitempty"`
	MaxIterations int    `yaml:"maxIterations,omitempty" json:"maxIterations,omitempty"`
	Steps         []Step `yaml:"steps,omitempty" json:"steps,omitempty"`
}

// Parse decodes a YAML workflow document.
func Parse(data []byte) (*Workflow, error) {
	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("workflow: parse: %w", err)
	}
	return &wf, nil
}
