package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowBasics(t *testing.T) {
	assert := assert.New(t)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	w := New[string](10 * time.Second)
	assert.True(w.Add("a", t0))
	assert.False(w.Add("a", t0.Add(time.Second)))
	assert.True(w.Add("b", t0.Add(2*time.Second)))
	assert.Equal(2, w.Len(t0.Add(3*time.Second)))

	// "a" expires relative to its own insertion, not "b"'s
	assert.Equal(1, w.Len(t0.Add(10*time.Second)))
	assert.False(w.Contains("a", t0.Add(10*time.Second)))
	assert.True(w.Contains("b", t0.Add(10*time.Second)))
	assert.Equal(0, w.Len(t0.Add(12*time.Second)))

	// expired key can be added again
	assert.True(w.Add("a", t0.Add(13*time.Second)))
	assert.Equal(1, w.Len(t0.Add(13*time.Second)))
}

func TestWindowDrainRemove(t *testing.T) {
	assert := assert.New(t)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	w := New[int](time.Minute)
	for i := 1; i <= 4; i++ {
		w.Add(i, t0.Add(time.Duration(i)*time.Second))
	}
	assert.True(w.Remove(2))
	assert.False(w.Remove(2))
	assert.Equal([]int{1, 3, 4}, w.Drain())
	assert.Equal(0, w.Len(t0))
	assert.Empty(w.Drain())
}

func TestWindowCompactOutOfOrder(t *testing.T) {
	assert := assert.New(t)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	w := New[int](5 * time.Second)
	w.Add(1, t0.Add(4*time.Second))
	w.Add(2, t0)
	assert.Equal(1, w.Compact(t0.Add(6*time.Second)))
	assert.True(w.Contains(1, t0.Add(6*time.Second)))
}
