package approval

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"foreman/internal/agent/ports"
)

func sampleBatch() ports.PendingActionBatch {
	return ports.PendingActionBatch{
		ID:          "batch-1",
		Agent:       "coder",
		Description: "coder proposes 1 write(s), 1 command(s)",
		Actions: []ports.ProposedAction{
			{Kind: ports.ActionWrite, Path: "main.go", Preview: "+package main"},
			{Kind: ports.ActionExecute, Command: "go build ./..."},
		},
		Status: ports.BatchPending,
	}
}

func TestInteractiveApproves(t *testing.T) {
	var out bytes.Buffer
	a := NewInteractive(time.Second, false, WithStreams(strings.NewReader("y\n"), &out))

	decision, err := a.RequestApproval(context.Background(), sampleBatch())
	require.NoError(t, err)
	require.Equal(t, ports.ApprovalGranted, decision)
	require.Contains(t, out.String(), "write main.go")
	require.Contains(t, out.String(), "run: go build ./...")
}

func TestInteractiveDefaultIsReject(t *testing.T) {
	var out bytes.Buffer
	a := NewInteractive(time.Second, false, WithStreams(strings.NewReader("\n"), &out))

	decision, err := a.RequestApproval(context.Background(), sampleBatch())
	require.NoError(t, err)
	require.Equal(t, ports.ApprovalDenied, decision)
}

func TestInteractiveReasksOnInvalidInput(t *testing.T) {
	var out bytes.Buffer
	a := NewInteractive(time.Second, false, WithStreams(strings.NewReader("maybe\nyes\n"), &out))

	decision, err := a.RequestApproval(context.Background(), sampleBatch())
	require.NoError(t, err)
	require.Equal(t, ports.ApprovalGranted, decision)
	require.Contains(t, out.String(), "Please answer y or n.")
}

func TestInteractiveTimeoutRejects(t *testing.T) {
	var out bytes.Buffer
	// A reader that never produces a line.
	blocked, _ := blockedReader()
	a := NewInteractive(20*time.Millisecond, false, WithStreams(blocked, &out))

	decision, err := a.RequestApproval(context.Background(), sampleBatch())
	require.NoError(t, err)
	require.Equal(t, ports.ApprovalDenied, decision)
}

func TestInteractiveEOFRejects(t *testing.T) {
	var out bytes.Buffer
	a := NewInteractive(time.Second, false, WithStreams(strings.NewReader(""), &out))

	decision, err := a.RequestApproval(context.Background(), sampleBatch())
	require.NoError(t, err)
	require.Equal(t, ports.ApprovalDenied, decision)
}

func TestAutoHandlers(t *testing.T) {
	d, err := AutoApprove{}.RequestApproval(context.Background(), sampleBatch())
	require.NoError(t, err)
	require.Equal(t, ports.ApprovalGranted, d)

	d, err = AutoReject{}.RequestApproval(context.Background(), sampleBatch())
	require.NoError(t, err)
	require.Equal(t, ports.ApprovalDenied, d)
}

// blockedReader blocks forever on Read.
func blockedReader() (*blocking, func()) {
	b := &blocking{ch: make(chan struct{})}
	return b, func() { close(b.ch) }
}

type blocking struct{ ch chan struct{} }

func (b *blocking) Read(p []byte) (int, error) {
	<-b.ch
	return 0, nil
}
