package workflow

import (
	"errors"
	"fmt"
)

var validWaits = map[string]bool{
	WaitNetworkIdle: true,
	WaitTimeout:     true,
	WaitSelector:    true,
}

var validActions = map[string]bool{
	ActionClick: true,
	ActionFill:  true,
	ActionType:  true,
}

// Validate statically checks a workflow and returns every problem found,
// joined, not just the first.
func Validate(wf *Workflow) error {
	var errs []error
	if wf.Name == "" {
		errs = append(errs, errors.New("workflow: name is required"))
	}
	if len(wf.Steps) == 0 {
		errs = append(errs, errors.New("workflow: at least one step is required"))
	}
	if wf.Options.TimeoutSeconds < 0 {
		errs = append(errs, errors.New("workflow: options.timeout must be positive"))
	}
	if wf.Options.SessionTTLSeconds < 0 {
		errs = append(errs, errors.New("workflow: options.sessionTtl must be positive"))
	}
	errs = append(errs, validateSteps(wf.Steps, "steps")...)
	return errors.Join(errs...)
}

// validateSteps checks a step array recursively, prefixing errors with the
// path to the offending step.
func validateSteps(steps []Step, path string) []error {
	var errs []error
	for i, s := range steps {
		p := fmt.Sprintf("%s[%d]", path, i)
		errs = append(errs, validateStep(s, p)...)
	}
	return errs
}

func validateStep(s Step, p string) []error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("workflow: %s: "+format, append([]any{p}, args...)...))
	}

	switch s.Type {
	case StepFetch:
		if s.URL == "" {
			fail("fetch requires url")
		}
		if s.WaitUntil != "" && s.WaitUntil != "load" && s.WaitUntil != WaitNetworkIdle {
			fail("waitUntil must be load or networkidle, got %q", s.WaitUntil)
		}

	case StepInteract:
		if !validActions[s.Action] {
			fail("interact action must be click, fill, or type, got %q", s.Action)
		}
		if s.Selector == "" {
			fail("interact requires selector")
		}
		if (s.Action == ActionFill || s.Action == ActionType) && s.Value == "" {
			fail("interact %s requires value", s.Action)
		}

	case StepExtract:
		// policy and assignTo are both optional

	case StepWait:
		if !validWaits[s.For] {
			fail("wait condition must be networkidle, timeout, or selector, got %q", s.For)
		}
		if s.For == WaitTimeout && s.Seconds <= 0 {
			fail("wait timeout requires positive seconds")
		}
		if s.For == WaitSelector && s.Selector == "" {
			fail("wait selector requires selector")
		}

	case StepScreenshot:
		if s.Path == "" {
			fail("screenshot requires path")
		}

	case StepSetVariable:
		if s.Variable == "" {
			fail("setVariable requires variable")
		}
		if s.SetValue == nil && s.FromEval == "" {
			fail("setVariable requires setValue or fromEval")
		}
		if s.SetValue != nil && s.FromEval != "" {
			fail("setVariable takes setValue or fromEval, not both")
		}

	case StepIf:
		if s.Condition == "" {
			fail("if requires condition")
		}
		if len(s.Then) == 0 {
			fail("if requires then steps")
		}
		errs = append(errs, validateSteps(s.Then, p+".then")...)
		errs = append(errs, validateSteps(s.Else, p+".else")...)

	case StepLoop:
		if s.Over == "" && s.Times <= 0 {
			fail("loop requires over or positive times")
		}
		if s.Over != "" && s.Times > 0 {
			fail("loop takes over or times, not both")
		}
		if s.MaxIterations < 0 {
			fail("loop maxIterations must be positive")
		}
		if len(s.Steps) == 0 {
			fail("loop requires steps")
		}
		errs = append(errs, validateSteps(s.Steps, p+".steps")...)

	case "":
		fail("step type is required")
	default:
		fail("unknown step type %q", s.Type)
	}
	return errs
}
