package approval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyDecisions(t *testing.T) {
	ctx := context.Background()
	g, err := NewGate(ctx, Config{Gated: []string{"write_file"}, Blocked: []string{"shell"}}, nil)
	require.NoError(t, err)

	tests := []struct {
		tool string
		want Decision
	}{
		{"read_file", Allow},
		{"write_file", RequireApproval},
		{"shell", Block},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			d, err := g.Decide(ctx, Request{ToolName: tt.tool})
			require.NoError(t, err)
			assert.Equal(t, tt.want, d)
		})
	}
}

func TestCheckApprover(t *testing.T) {
	ctx := context.Background()
	var seen Request
	approve := true
	g, err := NewGate(ctx, Config{Gated: []string{"delete_file"}}, func(_ context.Context, req Request) (bool, error) {
		seen = req
		return approve, nil
	})
	require.NoError(t, err)

	req := Request{CallID: "c1", ToolName: "delete_file", Args: map[string]any{"path": "/a"}}
	require.NoError(t, g.Check(ctx, req))
	assert.Equal(t, "c1", seen.CallID)

	approve = false
	err = g.Check(ctx, req)
	assert.ErrorIs(t, err, ErrRejected)

	require.NoError(t, g.Check(ctx, Request{ToolName: "ls"}))
}

func TestCheckWithoutApproverRejects(t *testing.T) {
	g, err := NewGate(context.Background(), Config{Gated: []string{"web_fetch"}}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, g.Check(context.Background(), Request{ToolName: "web_fetch"}), ErrRejected)
}

func TestCheckBlocked(t *testing.T) {
	called := false
	g, err := NewGate(context.Background(), Config{Blocked: []string{"shell"}, Gated: []string{"shell"}},
		func(context.Context, Request) (bool, error) {
			called = true
			return true, nil
		})
	require.NoError(t, err)
	assert.ErrorIs(t, g.Check(context.Background(), Request{ToolName: "shell"}), ErrRejected)
	assert.False(t, called, "blocked calls never reach the approver")
}

func TestCheckCancelledWhileWaiting(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	g, err := NewGate(context.Background(), Config{Gated: []string{"write_file"}}, func(context.Context, Request) (bool, error) {
		<-release
		return true, nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err = g.Check(ctx, Request{ToolName: "write_file"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrRejected))
}

func TestApproverError(t *testing.T) {
	boom := errors.New("ui closed")
	g, err := NewGate(context.Background(), Config{Gated: []string{"write_file"}}, func(context.Context, Request) (bool, error) {
		return false, boom
	})
	require.NoError(t, err)
	assert.ErrorIs(t, g.Check(context.Background(), Request{ToolName: "write_file"}), boom)
}

func TestCustomPolicyOnArgs(t *testing.T) {
	policy := `
package agentcore.approval

default decision := "allow"

decision := "require_approval" if {
	input.tool_name == "write_file"
	startswith(input.args.path, "/memories")
}
`
	g, err := NewGate(context.Background(), Config{Policy: policy}, nil)
	require.NoError(t, err)

	d, err := g.Decide(context.Background(), Request{ToolName: "write_file", Args: map[string]any{"path": "/memories/a"}})
	require.NoError(t, err)
	assert.Equal(t, RequireApproval, d)

	d, err = g.Decide(context.Background(), Request{ToolName: "write_file", Args: map[string]any{"path": "/tmp/a"}})
	require.NoError(t, err)
	assert.Equal(t, Allow, d)
}

func TestInvalidPolicy(t *testing.T) {
	_, err := NewEngine(context.Background(), "package broken\n decision := ")
	assert.Error(t, err)
}
