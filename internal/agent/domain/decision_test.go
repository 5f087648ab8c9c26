package domain

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"foreman/internal/agent/ports"
	"foreman/internal/errs"
	"foreman/internal/llm"
)

func TestDecideRoutesFailureOutputToFixer(t *testing.T) {
	mock := llm.NewMock("should never be consulted")
	e := NewDecisionEngine(mock, nil, nil, nil)

	inputs := []string{
		"panic: runtime error: invalid memory address\n\ngoroutine 1 [running]:",
		"Error: main.go:42: undefined: frobnicate",
		"Traceback (most recent call last):\n  File \"app.py\", line 3",
		"my tests print ❌ on the second case",
		"I got an unhandled exception in the login flow",
	}
	for _, input := range inputs {
		d, err := e.Decide(context.Background(), input, "")
		require.NoError(t, err, input)
		require.Equal(t, ports.DecideDelegate, d.Kind, input)
		require.Equal(t, ports.WorkerFixer, d.TargetAgent, input)
	}
	require.Equal(t, 0, mock.Calls(), "fast path must not call the model")
}

func TestDecideIsDeterministicOnFailureOutput(t *testing.T) {
	e := NewDecisionEngine(llm.NewMock(), nil, nil, nil)
	input := "panic: close of closed channel"

	first, err := e.Decide(context.Background(), input, "")
	require.NoError(t, err)
	second, err := e.Decide(context.Background(), input, "")
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestDecideParsesCleanJSON(t *testing.T) {
	mock := llm.NewMock(`{"action": "delegate", "target_agent": "coder", "reasoning": "code change"}`)
	e := NewDecisionEngine(mock, nil, nil, nil)

	d, err := e.Decide(context.Background(), "add a submit button to the form", "")
	require.NoError(t, err)
	require.Equal(t, ports.DecideDelegate, d.Kind)
	require.Equal(t, ports.WorkerCoder, d.TargetAgent)
}

func TestDecideRepairsSloppyJSON(t *testing.T) {
	cases := []string{
		"```json\n{\"action\": \"delegate\", \"target_agent\": \"tester\",}\n```",
		"Here is my decision:\n{'action': 'delegate', 'target_agent': 'tester'}",
	}
	for _, reply := range cases {
		e := NewDecisionEngine(llm.NewMock(reply), nil, nil, nil)
		d, err := e.Decide(context.Background(), "run the test suite", "")
		require.NoError(t, err, reply)
		require.Equal(t, ports.WorkerTester, d.TargetAgent, reply)
	}
}

func TestDecideDecomposeWithDependencies(t *testing.T) {
	mock := llm.NewMock(`{"action": "decompose", "subtasks": [
		{"agent": "coder", "task": "write the endpoint"},
		{"agent": "tester", "task": "test the endpoint", "depends_on": [0]}
	]}`)
	e := NewDecisionEngine(mock, nil, nil, nil)

	d, err := e.Decide(context.Background(), "build and test a new endpoint", "")
	require.NoError(t, err)
	require.Equal(t, ports.DecideDecompose, d.Kind)
	require.Len(t, d.Subtasks, 2)
	require.Equal(t, []int{0}, d.Subtasks[1].DependsOn)
}

func TestDecideFailuresAreFatal(t *testing.T) {
	t.Run("completion error", func(t *testing.T) {
		mock := &llm.Mock{Script: func(req ports.CompletionRequest) (string, error) {
			return "", errors.New("provider down")
		}}
		_, err := NewDecisionEngine(mock, nil, nil, nil).Decide(context.Background(), "hello", "")
		var dErr *errs.DecisionError
		require.ErrorAs(t, err, &dErr)
	})

	t.Run("no JSON in reply", func(t *testing.T) {
		_, err := NewDecisionEngine(llm.NewMock("I think the coder should do it"), nil, nil, nil).
			Decide(context.Background(), "hello", "")
		var dErr *errs.DecisionError
		require.ErrorAs(t, err, &dErr)
	})

	t.Run("unknown agent", func(t *testing.T) {
		_, err := NewDecisionEngine(llm.NewMock(`{"action": "delegate", "target_agent": "wizard"}`), nil, nil, nil).
			Decide(context.Background(), "hello", "")
		var dErr *errs.DecisionError
		require.ErrorAs(t, err, &dErr)
	})

	t.Run("forward dependency", func(t *testing.T) {
		reply := `{"action": "decompose", "subtasks": [
			{"agent": "coder", "task": "a", "depends_on": [1]},
			{"agent": "tester", "task": "b"}
		]}`
		_, err := NewDecisionEngine(llm.NewMock(reply), nil, nil, nil).
			Decide(context.Background(), "hello", "")
		var dErr *errs.DecisionError
		require.ErrorAs(t, err, &dErr)
	})
}
