package algorithm

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKindMatching(t *testing.T) {
	err := Errorf(ErrInconsistent, "rowsource", "column %d has %d rows, expected %d", 3, 10, 12)
	require.ErrorIs(t, err, ErrInconsistent)
	assert.NotErrorIs(t, err, ErrEmptyInput)
	assert.Equal(t, "rowsource: algorithm: inconsistent input: column 3 has 10 rows, expected 12", err.Error())
	assert.Equal(t, ErrInconsistent, KindOf(err))
}

func TestSeekFailureIsIoFailure(t *testing.T) {
	require.ErrorIs(t, ErrSeekFailure, ErrIoFailure)
	wrapped := fmt.Errorf("row 7: %w", ErrSeekFailure)
	assert.Equal(t, ErrIoFailure, KindOf(wrapped))
}

func TestWrapKeepsExistingKind(t *testing.T) {
	assert.NoError(t, Wrap(ErrIoFailure, "op", nil))

	inner := Errorf(ErrWrongShape, "reader", "bad dims")
	assert.Same(t, inner, Wrap(ErrIoFailure, "outer", inner))

	cause := errors.New("disk full")
	err := Wrap(ErrIoFailure, "sink", cause)
	require.ErrorIs(t, err, ErrIoFailure)
	require.ErrorIs(t, err, cause)
}

func TestCancelFlag(t *testing.T) {
	var c CancelFlag
	assert.False(t, c.IsCancelled())
	c.Cancel()
	assert.True(t, c.IsCancelled())
}

type recorder struct {
	mu      sync.Mutex
	updates []int
}

func (r *recorder) Update(_ string, current, _ int) {
	r.mu.Lock()
	r.updates = append(r.updates, current)
	r.mu.Unlock()
}

func (r *recorder) IsCancelled() bool { return false }

func TestThrottledProgressForwardsSubset(t *testing.T) {
	rec := &recorder{}
	p := Throttle(rec, 100, 0)
	for i := 0; i < 1000; i++ {
		p.Update("row", i, 1000)
	}
	require.NotEmpty(t, rec.updates)
	assert.Equal(t, 0, rec.updates[0])
	assert.Equal(t, 999, rec.updates[len(rec.updates)-1])
	assert.Less(t, len(rec.updates), 20)
}

func TestThrottleWithoutLimitsForwardsEverything(t *testing.T) {
	rec := &recorder{}
	p := Throttle(rec, 0, 0)
	for i := 0; i < 50; i++ {
		p.Update("row", i, 100)
	}
	require.Len(t, rec.updates, 50)
	assert.Equal(t, 49, rec.updates[49])
}

func TestOrNop(t *testing.T) {
	assert.IsType(t, NopProgress{}, OrNop(nil))
	var c CancelFlag
	assert.Same(t, &c, OrNop(&c))
}
