package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClock_StartsAtZero(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(0), c.Current(), "new clock should start at epoch 0")
}

func TestClock_NewClockAt(t *testing.T) {
	c := NewClockAt(100)
	assert.Equal(t, int64(100), c.Current())
	assert.Equal(t, int64(101), c.Next())
}

func TestClock_Next_Incrementing(t *testing.T) {
	c := NewClock()

	// First call returns 1 (increments then returns)
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(2), c.Current())
}

func TestClock_ThreadSafe(t *testing.T) {
	c := NewClock()
	const goroutines = 50
	const calls = 100

	var wg sync.WaitGroup
	epochs := make(chan int64, goroutines*calls)
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range calls {
				epochs <- c.Next()
			}
		}()
	}
	wg.Wait()
	close(epochs)

	seen := make(map[int64]bool)
	for e := range epochs {
		assert.False(t, seen[e], "epoch %d handed out twice", e)
		seen[e] = true
	}
	assert.Len(t, seen, goroutines*calls)
}

func TestTimestamp_Less(t *testing.T) {
	tests := []struct {
		a, b Timestamp
		want bool
	}{
		{Timestamp{0, 1}, Timestamp{0, 2}, true},
		{Timestamp{0, 9}, Timestamp{1, 1}, true},
		{Timestamp{1, 1}, Timestamp{0, 9}, false},
		{Timestamp{2, 3}, Timestamp{2, 3}, false},
	}
	for _, tt := range tests {
		t.Run(tt.a.String()+"<"+tt.b.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Less(tt.b))
		})
	}
}

func TestTimestamp_String(t *testing.T) {
	assert.Equal(t, "(3, 14)", Timestamp{Epoch: 3, Round: 14}.String())
}
