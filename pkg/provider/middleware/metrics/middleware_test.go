package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentcore/pkg/metrics"
	"agentcore/pkg/provider"
	"agentcore/pkg/provider/middleware/circuit"
	"agentcore/pkg/provider/providertest"
	"agentcore/pkg/tokens"
)

type fakeRecorder struct {
	metrics.NoopRecorder
	mu       sync.Mutex
	requests []metrics.Request
}

func (f *fakeRecorder) ObserveRequest(r metrics.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r)
}

func (f *fakeRecorder) last(t *testing.T) metrics.Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func TestRecordsSuccessfulStream(t *testing.T) {
	rec := &fakeRecorder{}
	ep := providertest.New("gpt-4o", providertest.Text("abcd", "efgh"))
	ch, err := Middleware(rec, tokens.EstimateCounter{}, nil)(ep).Stream(context.Background(), provider.Request{})
	require.NoError(t, err)
	_, err = provider.Collect(context.Background(), ch)
	require.NoError(t, err)

	r := rec.last(t)
	assert.Equal(t, "openai", r.Kind)
	assert.Equal(t, "gpt-4o", r.Model)
	assert.True(t, r.Success)
	assert.Equal(t, 3, r.Events)
	assert.Equal(t, 2, r.OutTokens)
	assert.Equal(t, provider.StopReasonStop, r.StopReason)
	assert.Empty(t, r.ErrorType)
}

func TestRecordsFailures(t *testing.T) {
	rec := &fakeRecorder{}
	ep := providertest.New("m", providertest.Failure(errors.New("HTTP 429 too many requests")))
	ch, err := Middleware(rec, nil, nil)(ep).Stream(context.Background(), provider.Request{})
	require.NoError(t, err)
	_, _ = provider.Collect(context.Background(), ch)
	assert.Equal(t, "rate_limit", rec.last(t).ErrorType)
	assert.False(t, rec.last(t).Success)

	ep = providertest.New("m", providertest.Turn{Err: &circuit.Error{State: circuit.Open}})
	_, err = Middleware(rec, nil, nil)(ep).Stream(context.Background(), provider.Request{})
	require.Error(t, err)
	assert.Equal(t, "circuit_breaker", rec.last(t).ErrorType)
}

func TestRecordsCancellation(t *testing.T) {
	rec := &fakeRecorder{}
	turn := providertest.Text("x")
	turn.Events = turn.Events[:1]
	turn.Block = true
	ep := providertest.New("m", turn)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := Middleware(rec, nil, nil)(ep).Stream(ctx, provider.Request{})
	require.NoError(t, err)
	<-ch
	cancel()
	for range ch {
	}

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.requests) == 1
	}, time.Second, 5*time.Millisecond)
	r := rec.last(t)
	assert.Equal(t, "canceled", r.ErrorType)
	assert.Equal(t, provider.StopReasonAbort, r.StopReason)
}
