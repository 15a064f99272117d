package logstore

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func line(i int) Line {
	return Line{Timestamp: time.Unix(int64(i), 0), Stream: Stdout, Text: fmt.Sprintf("line %d", i)}
}

func texts(ls []Line) []string {
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = l.Text
	}
	return out
}

func TestRingKeepsNewestInOrder(t *testing.T) {
	r := New(3)
	for i := 1; i <= 5; i++ {
		r.Append(line(i))
	}
	assert.Equal(t, []string{"line 3", "line 4", "line 5"}, texts(r.Snapshot()))
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 3, r.Cap())
	assert.Equal(t, uint64(5), r.Total())
}

func TestRingBelowCapacity(t *testing.T) {
	r := New(10)
	r.Append(line(1))
	r.Append(line(2))
	assert.Equal(t, []string{"line 1", "line 2"}, texts(r.Snapshot()))
	assert.Empty(t, New(4).Snapshot())
}

func TestRingDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New(0).Cap())
	assert.Equal(t, DefaultCapacity, New(-1).Cap())
}

func TestRingSnapshotIsCopy(t *testing.T) {
	r := New(2)
	r.Append(line(1))
	snap := r.Snapshot()
	snap[0].Text = "changed"
	r.Append(line(2))
	r.Append(line(3))
	assert.Equal(t, "changed", snap[0].Text)
	assert.Equal(t, []string{"line 2", "line 3"}, texts(r.Snapshot()))
}

func TestRingTail(t *testing.T) {
	r := New(5)
	for i := 1; i <= 7; i++ {
		r.Append(line(i))
	}
	assert.Equal(t, []string{"line 6", "line 7"}, texts(r.Tail(2)))
	assert.Len(t, r.Tail(100), 5)
	assert.Len(t, r.Tail(-1), 5)
	assert.Empty(t, r.Tail(0))
}

func TestRingSince(t *testing.T) {
	r := New(3)
	r.Append(line(1))
	r.Append(line(2))
	mark := r.Total()
	assert.Empty(t, r.Since(mark))
	r.Append(line(3))
	assert.Equal(t, []string{"line 3"}, texts(r.Since(mark)))
	assert.Equal(t, []string{"line 1", "line 2", "line 3"}, texts(r.Since(0)))

	// evicted lines are simply missing
	r.Append(line(4))
	r.Append(line(5))
	assert.Equal(t, []string{"line 3", "line 4", "line 5"}, texts(r.Since(mark)))
	assert.Equal(t, []string{"line 3", "line 4", "line 5"}, texts(r.Since(0)))
	assert.Empty(t, r.Since(99))
}

func TestRingConcurrentAppend(t *testing.T) {
	r := New(100)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				r.Append(line(i))
				_ = r.Snapshot()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 100, r.Len())
	assert.Equal(t, uint64(4000), r.Total())
}

func TestStreamTag(t *testing.T) {
	assert.Equal(t, "OUT", Stdout.Tag())
	assert.Equal(t, "ERR", Stderr.Tag())
}
