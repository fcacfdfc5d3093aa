// Package validator implements the pure, synchronous structural checks that
// gate every tool invocation, handoff request, mode transition, and
// cross-language event. Validators never mutate state and never call out to
// the bus; callers decide what to do with a failed Result.
package validator

import (
	"fmt"
	"math"
)

type (
	// Result is the outcome of a structural validation: Errors is empty iff
	// IsValid is true.
	Result struct {
		IsValid bool
		Errors  []string
	}

	// Tool is the minimal contract the validator needs from a tool
	// definition: a name for error messages and a parameter check.
	Tool interface {
		Name() string
		ValidateParameters(params any) (bool, error)
	}

	// HandoffRequest mirrors the wire shape of a handoff request.
	HandoffRequest struct {
		SourceAgentID string
		TargetAgentID string
		TaskID        string
		Context       any
	}

	// ModeTransitionRequest mirrors a requested mode change.
	ModeTransitionRequest struct {
		FromMode string
		ToMode   string
		Reason   string
	}

	// CrossLanguageEvent mirrors the envelope shape crossing a
	// language/process boundary (spec §6): payload is always the
	// serialized string form at this boundary, not the opaque value.
	CrossLanguageEvent struct {
		ID        string
		Type      string
		Source    string
		Timestamp float64
		Payload   string
	}

	// Options configures a Validator with the closed set of recognized
	// modes.
	Options struct {
		Modes []string
	}

	// Validator performs the structural checks. It holds no mutable state
	// beyond its configured closed mode set, so one instance is safely
	// shared across goroutines.
	Validator struct {
		modes map[string]struct{}
	}
)

// New constructs a Validator configured with the closed set of recognized
// modes. An empty set means validateModeTransition always rejects.
func New(opts Options) *Validator {
	modes := make(map[string]struct{}, len(opts.Modes))
	for _, m := range opts.Modes {
		modes[m] = struct{}{}
	}
	return &Validator{modes: modes}
}

func ok() Result       { return Result{IsValid: true} }
func invalid(errs ...string) Result {
	return Result{IsValid: false, Errors: errs}
}

// ValidateToolExecution checks that params is present and that the tool's
// own parameter check accepts it.
func (v *Validator) ValidateToolExecution(tool Tool, params any) Result {
	if params == nil {
		return invalid(fmt.Sprintf("tool %s requires non-null parameters", tool.Name()))
	}

	valid, err := tool.ValidateParameters(params)
	if err != nil {
		return invalid(fmt.Sprintf("Tool %s validation threw error: %s", tool.Name(), err.Error()))
	}
	if !valid {
		return invalid(fmt.Sprintf("Tool %s reported invalid parameters", tool.Name()))
	}
	return ok()
}

// ValidateHandoffRequest checks presence and non-emptiness of
// sourceAgentId, targetAgentId, taskId, and that context is present.
// Self-handoffs (sourceAgentId == targetAgentId) are allowed.
func (v *Validator) ValidateHandoffRequest(req HandoffRequest) Result {
	var errs []string
	if req.SourceAgentID == "" {
		errs = append(errs, "sourceAgentId must be non-empty")
	}
	if req.TargetAgentID == "" {
		errs = append(errs, "targetAgentId must be non-empty")
	}
	if req.TaskID == "" {
		errs = append(errs, "taskId must be non-empty")
	}
	if req.Context == nil {
		errs = append(errs, "context must be present")
	}
	if len(errs) > 0 {
		return invalid(errs...)
	}
	return ok()
}

// ValidateModeTransition checks that fromMode and toMode are both members
// of the configured closed mode set and that they differ.
func (v *Validator) ValidateModeTransition(req ModeTransitionRequest) Result {
	var errs []string
	if _, ok := v.modes[req.FromMode]; !ok {
		errs = append(errs, fmt.Sprintf("fromMode %q is not a recognized mode", req.FromMode))
	}
	if _, ok := v.modes[req.ToMode]; !ok {
		errs = append(errs, fmt.Sprintf("toMode %q is not a recognized mode", req.ToMode))
	}
	if len(errs) == 0 && req.FromMode == req.ToMode {
		errs = append(errs, "fromMode and toMode must differ")
	}
	if len(errs) > 0 {
		return invalid(errs...)
	}
	return ok()
}

// ValidateCrossLanguageEvent checks the envelope shape only: id, type, and
// source must be non-empty strings; timestamp must be finite; payload must
// be a string (the serialized form at this boundary).
func (v *Validator) ValidateCrossLanguageEvent(ev CrossLanguageEvent) Result {
	var errs []string
	if ev.ID == "" {
		errs = append(errs, "id must be non-empty")
	}
	if ev.Type == "" {
		errs = append(errs, "type must be non-empty")
	}
	if ev.Source == "" {
		errs = append(errs, "source must be non-empty")
	}
	if math.IsNaN(ev.Timestamp) || math.IsInf(ev.Timestamp, 0) {
		errs = append(errs, "timestamp must be a finite number")
	}
	if len(errs) > 0 {
		return invalid(errs...)
	}
	return ok()
}
