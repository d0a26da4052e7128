package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klondi/mimicmod-lan/internal/registry"
)

func TestPushQuitOrdersDestroyAfterQuit(t *testing.T) {
	q := New()
	u := &registry.User{}
	q.PushQuit(u, "logout")

	events := q.Drain()
	require.Len(t, events, 2)
	assert.Equal(t, UserQuit, events[0].Kind)
	assert.Equal(t, UserDestroy, events[1].Kind)
	assert.Same(t, u, events[0].User)
	assert.Same(t, u, events[1].User)
}

func TestPushDeduplicatesDestroy(t *testing.T) {
	q := New()
	u := &registry.User{}
	q.Push(Event{Kind: UserDestroy, User: u})
	q.Push(Event{Kind: UserDestroy, User: u})
	assert.Equal(t, 1, q.Len())
}

func TestDrainEmptiesQueue(t *testing.T) {
	q := New()
	u := &registry.User{}
	q.PushJoin(u, false)
	assert.Equal(t, 1, q.Len())

	events := q.Drain()
	require.Len(t, events, 1)
	assert.Equal(t, 0, q.Len())
	assert.Nil(t, q.Drain())
}

func TestDrainAllProcessesNestedPushes(t *testing.T) {
	q := New()
	a := &registry.User{}
	b := &registry.User{}
	q.PushJoin(a, false)

	var seen []Kind
	q.DrainAll(func(ev Event) {
		seen = append(seen, ev.Kind)
		if ev.Kind == UserJoin && ev.User == a {
			q.PushQuit(b, "kicked")
		}
	})
	require.Len(t, seen, 3)
	assert.Equal(t, UserJoin, seen[0])
	assert.Equal(t, UserQuit, seen[1])
	assert.Equal(t, UserDestroy, seen[2])
}

func TestAllowsDestroyAfterPriorCycleCompleted(t *testing.T) {
	q := New()
	u := &registry.User{}
	q.PushQuit(u, "first")
	_ = q.Drain()

	q.PushQuit(u, "second")
	events := q.Drain()
	require.Len(t, events, 2)
}
