package async

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompletedFuture(t *testing.T) {
	f := Completed(42)
	assert.True(t, f.IsDone())
	v, err := f.Join()
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestFailedFuture(t *testing.T) {
	boom := errors.New("boom")
	_, err := Failed[int](boom).Join()
	assert.ErrorIs(t, err, boom)
}

func TestCompleteOnce(t *testing.T) {
	f, complete := New[string]()
	assert.False(t, f.IsDone())
	complete("first", nil)
	complete("second", errors.New("ignored"))

	v, err := f.Join()
	require.NoError(t, err)
	assert.Equal(t, "first", v)
}

func TestWaitRespectsContext(t *testing.T) {
	f, complete := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	complete(7, nil)
	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestGoAndThen(t *testing.T) {
	f := Go(func() (int, error) { return 3, nil })
	got := make(chan int, 1)
	f.Then(func(v int, err error) { got <- v })

	select {
	case v := <-got:
		assert.Equal(t, 3, v)
	case <-time.After(time.Second):
		t.Fatal("Then не вызван")
	}
}
