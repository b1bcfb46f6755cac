// File: internal/runctx/runctx_test.go
package runctx

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginSupersedesPreviousRun(t *testing.T) {
	reg := NewRegistry()
	assert.Equal(t, uint64(0), reg.Token())

	first := reg.Begin(context.Background())
	assert.Equal(t, uint64(1), first.Token())
	assert.True(t, first.Live())
	require.NoError(t, first.Context().Err())

	second := reg.Begin(context.Background())
	assert.Equal(t, uint64(2), second.Token())
	assert.False(t, first.Live(), "superseded run must not be live")
	assert.ErrorIs(t, first.Context().Err(), context.Canceled)
	assert.True(t, second.Live())
	assert.NoError(t, second.Context().Err())
}

func TestStopFlag(t *testing.T) {
	reg := NewRegistry()
	rc := reg.Begin(context.Background())
	assert.False(t, rc.Stopped())

	reg.Stop()
	assert.True(t, rc.Stopped())
	assert.True(t, reg.Stopped())
	assert.True(t, rc.Live(), "stop does not change the token")
	assert.NoError(t, rc.Context().Err(), "stop lets the current value finish")

	next := reg.Begin(context.Background())
	assert.False(t, next.Stopped(), "begin clears stop")
	assert.False(t, rc.Stopped(), "the flag is process-wide")
}

func TestReleaseIsIdempotent(t *testing.T) {
	rc := NewRegistry().Begin(context.Background())
	rc.Release()
	rc.Release()
	assert.ErrorIs(t, rc.Context().Err(), context.Canceled)
	assert.True(t, rc.Live())
}

func TestParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	rc := NewRegistry().Begin(parent)
	cancel()
	assert.ErrorIs(t, rc.Context().Err(), context.Canceled)
}

func TestConcurrentBeginKeepsOneLiveToken(t *testing.T) {
	reg := NewRegistry()
	runs := make([]*RunContext, 50)
	var wg sync.WaitGroup
	for i := range runs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			runs[i] = reg.Begin(context.Background())
		}(i)
	}
	wg.Wait()

	live := 0
	for _, rc := range runs {
		if rc.Live() {
			live++
		}
	}
	assert.Equal(t, 1, live)
	assert.Equal(t, uint64(len(runs)), reg.Token())
}
