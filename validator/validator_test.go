package validator_test

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pairdev/orchestrator-core/validator"
)

type fakeTool struct {
	name  string
	valid bool
	err   error
}

func (f fakeTool) Name() string { return f.name }
func (f fakeTool) ValidateParameters(params any) (bool, error) {
	return f.valid, f.err
}

func TestValidateToolExecution(t *testing.T) {
	v := validator.New(validator.Options{})

	res := v.ValidateToolExecution(fakeTool{name: "echo", valid: true}, map[string]any{"x": 1})
	assert.True(t, res.IsValid)

	res = v.ValidateToolExecution(fakeTool{name: "echo", valid: true}, nil)
	assert.False(t, res.IsValid)

	res = v.ValidateToolExecution(fakeTool{name: "echo", valid: false}, map[string]any{})
	assert.False(t, res.IsValid)
	assert.Contains(t, res.Errors[0], "reported invalid parameters")

	res = v.ValidateToolExecution(fakeTool{name: "echo", err: errors.New("boom")}, map[string]any{})
	assert.False(t, res.IsValid)
	assert.Contains(t, res.Errors[0], "validation threw error")
}

func TestValidateHandoffRequest(t *testing.T) {
	v := validator.New(validator.Options{})

	res := v.ValidateHandoffRequest(validator.HandoffRequest{
		SourceAgentID: "a1", TargetAgentID: "a2", TaskID: "t1", Context: map[string]any{"k": "v"},
	})
	assert.True(t, res.IsValid)

	res = v.ValidateHandoffRequest(validator.HandoffRequest{TargetAgentID: "a2", TaskID: "t1", Context: 1})
	assert.False(t, res.IsValid)
	assert.Len(t, res.Errors, 1)

	res = v.ValidateHandoffRequest(validator.HandoffRequest{
		SourceAgentID: "a1", TargetAgentID: "a1", TaskID: "t1", Context: 1,
	})
	assert.True(t, res.IsValid, "self-handoff is allowed")
}

func TestValidateModeTransition(t *testing.T) {
	v := validator.New(validator.Options{Modes: []string{"ask", "code", "review", "debug"}})

	assert.True(t, v.ValidateModeTransition(validator.ModeTransitionRequest{FromMode: "ask", ToMode: "code"}).IsValid)
	assert.False(t, v.ValidateModeTransition(validator.ModeTransitionRequest{FromMode: "ask", ToMode: "ask"}).IsValid)
	assert.False(t, v.ValidateModeTransition(validator.ModeTransitionRequest{FromMode: "ask", ToMode: "unknown"}).IsValid)
}

func TestValidateCrossLanguageEvent(t *testing.T) {
	v := validator.New(validator.Options{})

	res := v.ValidateCrossLanguageEvent(validator.CrossLanguageEvent{
		ID: "1", Type: "tool.execution.completed", Source: "agent", Timestamp: 123, Payload: "{}",
	})
	assert.True(t, res.IsValid)

	res = v.ValidateCrossLanguageEvent(validator.CrossLanguageEvent{
		ID: "1", Type: "t", Source: "s", Timestamp: math.NaN(),
	})
	assert.False(t, res.IsValid)

	res = v.ValidateCrossLanguageEvent(validator.CrossLanguageEvent{Timestamp: 1})
	assert.False(t, res.IsValid)
	assert.Len(t, res.Errors, 3)
}
