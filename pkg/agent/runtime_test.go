package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentcore/pkg/approval"
	"agentcore/pkg/llmerrors"
	"agentcore/pkg/memory"
	"agentcore/pkg/provider"
	"agentcore/pkg/provider/providertest"
	"agentcore/pkg/tools"
	"agentcore/pkg/vfs"
)

func userRequest(text string) provider.Request {
	return provider.Request{Messages: []provider.Message{{Role: provider.RoleUser, Content: text}}}
}

func drain(t *testing.T, ch <-chan provider.Event) []provider.Event {
	t.Helper()
	var evs []provider.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return evs
			}
			evs = append(evs, ev)
		case <-timeout:
			t.Fatal("stream did not close")
			return nil
		}
	}
}

func types(evs []provider.Event) []provider.EventType {
	out := make([]provider.EventType, len(evs))
	for i := range evs {
		out[i] = evs[i].Type
	}
	return out
}

func writeCall(id, path, content string) provider.ToolCall {
	return provider.ToolCall{ID: id, Name: tools.ToolWriteFile, Args: map[string]any{"path": path, "content": content}}
}

func TestToolLoop(t *testing.T) {
	ep := providertest.New("m",
		providertest.ToolCalls(writeCall("c1", "/notes.md", "hello")),
		providertest.Text("all ", "done"),
	)
	fs := vfs.New()
	rt := New(ep, Options{FS: fs, MaxDepth: 2})

	ch, err := rt.Stream(context.Background(), userRequest("write a note"))
	require.NoError(t, err)
	evs := drain(t, ch)

	assert.Equal(t, []provider.EventType{
		provider.EventToolCall, provider.EventToolResult,
		provider.EventText, provider.EventText, provider.EventFinish,
	}, types(evs))
	res := evs[1].ToolResult
	assert.Equal(t, "c1", res.CallID)
	assert.False(t, res.IsError)
	assert.Equal(t, "Wrote 5 bytes to /notes.md", res.Content)
	assert.Equal(t, provider.StopReasonStop, evs[4].StopReason)
	assert.Equal(t, "all done", evs[4].Message.Content)

	content, err := fs.Read("notes.md")
	require.NoError(t, err)
	assert.Equal(t, "hello", content)

	reqs := ep.Requests()
	require.Len(t, reqs, 2)
	names := make([]string, 0, len(reqs[0].Tools))
	for _, d := range reqs[0].Tools {
		names = append(names, d.Name)
	}
	assert.Contains(t, names, ToolTask)
	assert.Contains(t, names, tools.ToolWriteTodos)
	assert.Contains(t, names, tools.ToolGrep)

	second := reqs[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, provider.RoleAssistant, second[1].Role)
	require.Len(t, second[1].ToolCalls, 1)
	assert.Equal(t, provider.RoleTool, second[2].Role)
	assert.Equal(t, "c1", second[2].ToolCallID)
	assert.Equal(t, tools.ToolWriteFile, second[2].ToolName)
}

func TestUnknownToolIsReportedToModel(t *testing.T) {
	ep := providertest.New("m",
		providertest.ToolCalls(provider.ToolCall{ID: "x", Name: "teleport"}),
		providertest.Text("ok"),
	)
	ch, err := New(ep, Options{}).Stream(context.Background(), userRequest("go"))
	require.NoError(t, err)
	evs := drain(t, ch)
	require.Equal(t, provider.EventToolResult, evs[1].Type)
	assert.True(t, evs[1].ToolResult.IsError)
	assert.Contains(t, evs[1].ToolResult.Content, `unknown tool "teleport"`)
	assert.Equal(t, provider.EventFinish, evs[len(evs)-1].Type)
}

func TestMaxSteps(t *testing.T) {
	ep := providertest.New("m", providertest.ToolCalls(provider.ToolCall{ID: "l", Name: tools.ToolLs, Args: map[string]any{"path": "/"}}))
	ch, err := New(ep, Options{MaxSteps: 2}).Stream(context.Background(), userRequest("loop"))
	require.NoError(t, err)
	res, err := provider.Collect(context.Background(), ch)
	require.NoError(t, err)
	assert.Equal(t, StopReasonMaxSteps, res.StopReason)
	assert.Equal(t, 2, ep.Calls())
}

func TestApprovalGateRejects(t *testing.T) {
	gate, err := approval.NewGate(context.Background(), approval.Config{Gated: []string{tools.ToolWriteFile}}, nil)
	require.NoError(t, err)
	ep := providertest.New("m",
		providertest.ToolCalls(writeCall("c1", "/a.txt", "x")),
		providertest.Text("gave up"),
	)
	fs := vfs.New()
	ch, err := New(ep, Options{FS: fs, Gate: gate}).Stream(context.Background(), userRequest("write"))
	require.NoError(t, err)
	evs := drain(t, ch)
	require.Equal(t, provider.EventToolResult, evs[1].Type)
	assert.True(t, evs[1].ToolResult.IsError)
	assert.Contains(t, evs[1].ToolResult.Content, "rejected")
	assert.False(t, fs.Exists("a.txt"))
}

func TestApprovalGateApproves(t *testing.T) {
	gate, err := approval.NewGate(context.Background(), approval.Config{Gated: []string{tools.ToolWriteFile}},
		func(_ context.Context, req approval.Request) (bool, error) {
			return req.Args["path"] == "/ok.txt", nil
		})
	require.NoError(t, err)
	ep := providertest.New("m",
		providertest.ToolCalls(writeCall("c1", "/ok.txt", "x")),
		providertest.Text("done"),
	)
	fs := vfs.New()
	ch, err := New(ep, Options{FS: fs, Gate: gate}).Stream(context.Background(), userRequest("write"))
	require.NoError(t, err)
	drain(t, ch)
	assert.True(t, fs.Exists("ok.txt"))
}

func TestSubAgent(t *testing.T) {
	ep := providertest.New("m",
		providertest.ToolCalls(provider.ToolCall{ID: "t1", Name: ToolTask, Args: map[string]any{"description": "research x"}}),
		providertest.Text("child report"),
		providertest.Text("final"),
	)
	rt := New(ep, Options{MaxDepth: 1})
	ch, err := rt.Stream(context.Background(), userRequest("delegate"))
	require.NoError(t, err)
	evs := drain(t, ch)

	var result *provider.ToolResult
	for _, ev := range evs {
		if ev.Type == provider.EventToolResult {
			result = ev.ToolResult
		}
	}
	require.NotNil(t, result)
	assert.Equal(t, "child report", result.Content)
	assert.Equal(t, provider.EventFinish, evs[len(evs)-1].Type)
	assert.Equal(t, "final", evs[len(evs)-1].Message.Content)

	reqs := ep.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, subAgentPrompt, reqs[1].System)
	assert.Equal(t, "research x", reqs[1].Messages[0].Content)
	for _, d := range reqs[1].Tools {
		assert.NotEqual(t, ToolTask, d.Name, "sub-agent at max depth cannot delegate further")
	}
}

func TestSubAgentTimeout(t *testing.T) {
	ep := providertest.New("m",
		providertest.ToolCalls(provider.ToolCall{ID: "t1", Name: ToolTask, Args: map[string]any{"description": "slow"}}),
		providertest.Turn{Block: true},
		providertest.Text("recovered"),
	)
	rt := New(ep, Options{MaxDepth: 2, SubAgentTimeout: 20 * time.Millisecond})
	ch, err := rt.Stream(context.Background(), userRequest("delegate"))
	require.NoError(t, err)
	evs := drain(t, ch)
	require.Equal(t, provider.EventToolResult, evs[1].Type)
	assert.True(t, evs[1].ToolResult.IsError)
	assert.Contains(t, evs[1].ToolResult.Content, "timed out")
	assert.Equal(t, "recovered", evs[len(evs)-1].Message.Content)
}

func TestNoTaskToolWhenDepthDisabled(t *testing.T) {
	rt := New(providertest.New("m"), Options{MaxDepth: 0})
	assert.NotContains(t, rt.ToolNames(), ToolTask)
}

func TestEstablishmentErrorReturnedDirectly(t *testing.T) {
	boom := llmerrors.NewError(llmerrors.ErrorTypeAuth, "bad key")
	_, err := New(providertest.New("m", providertest.Turn{Err: boom}), Options{}).Stream(context.Background(), userRequest("hi"))
	assert.ErrorIs(t, err, boom)
}

func TestLaterTurnErrorBecomesEvent(t *testing.T) {
	boom := errors.New("connection reset")
	ep := providertest.New("m",
		providertest.ToolCalls(provider.ToolCall{ID: "l", Name: tools.ToolLs}),
		providertest.Turn{Err: boom},
	)
	ch, err := New(ep, Options{}).Stream(context.Background(), userRequest("hi"))
	require.NoError(t, err)
	_, err = provider.Collect(context.Background(), ch)
	assert.ErrorIs(t, err, boom)
}

func TestCancellationEndsWithoutTerminalEvent(t *testing.T) {
	ep := providertest.New("m", providertest.Turn{
		Events: []provider.Event{{Type: provider.EventText, Text: "partial"}},
		Block:  true,
	})
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := New(ep, Options{}).Stream(ctx, userRequest("hi"))
	require.NoError(t, err)
	first := <-ch
	assert.Equal(t, "partial", first.Text)
	cancel()
	for _, ev := range drain(t, ch) {
		assert.NotEqual(t, provider.EventFinish, ev.Type)
		assert.NotEqual(t, provider.EventError, ev.Type)
	}
}

func TestCheckpointsAndConversation(t *testing.T) {
	store, err := memory.Open(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	ep := providertest.New("m",
		providertest.ToolCalls(writeCall("c1", "/a.txt", "1")),
		providertest.ToolCalls(writeCall("c2", "/b.txt", "2")),
		providertest.ToolCalls(writeCall("c3", "/memories/c.txt", "3")),
		providertest.Text("finished"),
	)
	rt := New(ep, Options{Memory: store, SessionID: "s1", CheckpointRetention: 2})
	ch, err := rt.Stream(context.Background(), userRequest("work"))
	require.NoError(t, err)
	drain(t, ch)

	ctx := context.Background()
	cps, err := store.LoadCheckpoints(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, cps, 2)
	assert.Equal(t, 2, cps[0].Step)
	assert.Equal(t, 3, cps[1].Step)
	assert.Equal(t, tools.ToolWriteFile, cps[1].Label)
	assert.Equal(t, map[string]string{"a.txt": "1", "b.txt": "2"}, cps[1].Files)

	conv, err := store.LoadConversation(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, conv, 2)
	assert.Equal(t, "work", conv[0].Content)
	assert.Equal(t, "finished", conv[1].Content)
}

func TestCloseClearsTransientOnly(t *testing.T) {
	fs := vfs.New()
	require.NoError(t, fs.Write("scratch.txt", "x"))
	require.NoError(t, fs.Write("memories/keep.txt", "y", vfs.WithZone(vfs.Persistent)))
	rt := New(providertest.New("m"), Options{FS: fs})
	require.NoError(t, rt.Close())
	require.NoError(t, rt.Close())
	assert.False(t, fs.Exists("scratch.txt"))
	assert.True(t, fs.Exists("memories/keep.txt", vfs.WithZone(vfs.Persistent)))
}

func TestExtraToolsMergeByName(t *testing.T) {
	custom := &tools.Func{
		Def: tools.Definition{Name: tools.ToolLs, Description: "custom ls"},
		Fn:  func(context.Context, map[string]any) (any, error) { return map[string]any{"entries": 2}, nil },
	}
	ep := providertest.New("m", providertest.ToolCalls(provider.ToolCall{ID: "1", Name: tools.ToolLs}), providertest.Text("ok"))
	ch, err := New(ep, Options{Tools: []tools.Tool{custom}}).Stream(context.Background(), userRequest("ls"))
	require.NoError(t, err)
	evs := drain(t, ch)
	assert.Equal(t, `{"entries":2}`, evs[1].ToolResult.Content)
}
