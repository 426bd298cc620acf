package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/ThomasHoins/Intunewin/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedFetcher struct {
	states []string
	calls  int
}

func (f *scriptedFetcher) fetch(_ context.Context, _ string) (*ContentFile, error) {
	state := f.states[len(f.states)-1]
	if f.calls < len(f.states) {
		state = f.states[f.calls]
	}
	f.calls++
	return &ContentFile{ID: "f1", UploadState: state}, nil
}

func newTestPoller(f FileFetcher, attempts int) (*Poller, *[]time.Duration) {
	var sleeps []time.Duration
	p := NewPoller(f, 10*time.Second, attempts)
	p.Sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return p, &sleeps
}

func TestWaitFor_PendingThenSuccess(t *testing.T) {
	for _, n := range []int{0, 1, 5} {
		states := make([]string, 0, n+1)
		for i := 0; i < n; i++ {
			states = append(states, "commitFilePending")
		}
		states = append(states, "commitFileSuccess")

		f := &scriptedFetcher{states: states}
		p, sleeps := newTestPoller(f.fetch, 600)

		file, err := p.WaitFor(context.Background(), "/files/f1", StageCommitFile)
		require.NoError(t, err)
		assert.Equal(t, "commitFileSuccess", file.UploadState)
		assert.Equal(t, n+1, f.calls)
		assert.Len(t, *sleeps, n)
	}
}

func TestWaitFor_TimeoutAfterExactBudget(t *testing.T) {
	f := &scriptedFetcher{states: []string{"azureStorageUriRequestPending"}}
	p, sleeps := newTestPoller(f.fetch, 7)

	_, err := p.WaitFor(context.Background(), "/files/f1", StageAzureStorageURIRequest)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPollTimeout))
	assert.Equal(t, 7, f.calls)
	assert.Len(t, *sleeps, 6)
	for _, d := range *sleeps {
		assert.Equal(t, 10*time.Second, d)
	}
}

func TestWaitFor_UnexpectedStateFailsImmediately(t *testing.T) {
	f := &scriptedFetcher{states: []string{"commitFileFailed"}}
	p, sleeps := newTestPoller(f.fetch, 600)

	_, err := p.WaitFor(context.Background(), "/files/f1", StageCommitFile)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnexpectedState))
	assert.Contains(t, err.Error(), `"commitFileFailed"`)
	assert.Equal(t, 1, f.calls)
	assert.Empty(t, *sleeps)

	e, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, "commitFileFailed", e.Context["state"])
}

func TestWaitFor_OtherStagePendingIsUnexpected(t *testing.T) {
	f := &scriptedFetcher{states: []string{"azureStorageUriRequestPending"}}
	p, _ := newTestPoller(f.fetch, 600)

	_, err := p.WaitFor(context.Background(), "/files/f1", StageCommitFile)
	assert.True(t, errors.Is(err, ErrUnexpectedState))
}

func TestWaitFor_HonoursCancellation(t *testing.T) {
	f := &scriptedFetcher{states: []string{"commitFilePending"}}
	p, _ := newTestPoller(f.fetch, 600)

	ctx, cancel := context.WithCancel(context.Background())
	p.Sleep = func(context.Context, time.Duration) error {
		cancel()
		return nil
	}

	_, err := p.WaitFor(ctx, "/files/f1", StageCommitFile)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, f.calls)
}

func TestWaitFor_FetchErrorAborts(t *testing.T) {
	boom := errors.New("connection reset")
	p, _ := newTestPoller(func(context.Context, string) (*ContentFile, error) { return nil, boom }, 600)

	_, err := p.WaitFor(context.Background(), "/files/f1", StageCommitFile)
	assert.ErrorIs(t, err, boom)
}
