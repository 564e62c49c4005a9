package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatencyWindow_SlidesOut(t *testing.T) {
	now := time.Unix(1000, 0)
	w := newLatencyWindow(time.Minute, func() time.Time { return now })

	avg, n := w.average()
	assert.Zero(t, avg)
	assert.Zero(t, n)

	w.record(100 * time.Millisecond)
	w.record(300 * time.Millisecond)
	avg, n = w.average()
	assert.Equal(t, int64(200), avg)
	assert.Equal(t, 2, n)

	now = now.Add(45 * time.Second)
	w.record(50 * time.Millisecond)
	now = now.Add(30 * time.Second)

	avg, n = w.average()
	assert.Equal(t, int64(50), avg)
	assert.Equal(t, 1, n)
}
