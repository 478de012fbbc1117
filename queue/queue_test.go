package queue

import (
	"fmt"
	"sync"
	"testing"

	"github.com/casualjim/flock/pkg/messages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_DrainEmpty(t *testing.T) {
	q := New()
	assert.Empty(t, q.Drain())
	assert.Empty(t, q.Drain())
	assert.Zero(t, q.Len())
}

func TestQueue_DrainReturnsPushOrder(t *testing.T) {
	q := New()
	for i := range 5 {
		q.Push(messages.User(fmt.Sprintf("m%d", i)))
	}
	q.Push()
	assert.Equal(t, 5, q.Len())

	got := q.Drain()
	require.Len(t, got, 5)
	for i, m := range got {
		assert.Equal(t, fmt.Sprintf("m%d", i), m.Content.Text)
	}
	assert.Empty(t, q.Drain(), "second drain returns nothing")
	assert.Zero(t, q.Len())
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := New()
	const producers, perProducer = 8, 50

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				q.Push(messages.User(fmt.Sprintf("%d-%d", p, i)))
			}
		}()
	}
	wg.Wait()

	got := q.Drain()
	require.Len(t, got, producers*perProducer)

	// order is preserved per producer
	next := make(map[int]int)
	for _, m := range got {
		var p, i int
		_, err := fmt.Sscanf(m.Content.Text, "%d-%d", &p, &i)
		require.NoError(t, err)
		assert.Equal(t, next[p], i)
		next[p] = i + 1
	}
}
