package emitter_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hanzong05/farm2go-sub002/internal/emitter"
)

func TestEmit_DeliversToEveryListener(t *testing.T) {
	e := emitter.New[int]()

	var first, second []int
	e.Subscribe(func(v int) { first = append(first, v) })
	e.Subscribe(func(v int) { second = append(second, v) })

	e.Emit(1)
	e.Emit(2)

	require.Equal(t, []int{1, 2}, first)
	require.Equal(t, []int{1, 2}, second)
}

func TestSubscribe_DoesNotInvokeOnRegistration(t *testing.T) {
	e := emitter.New[string]()

	calls := 0
	e.Subscribe(func(string) { calls++ })

	require.Equal(t, 0, calls)
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	e := emitter.New[int]()

	var got []int
	unsubscribe := e.Subscribe(func(v int) { got = append(got, v) })

	e.Emit(1)
	unsubscribe()
	e.Emit(2)

	require.Equal(t, []int{1}, got)
	require.Equal(t, 0, e.Len())

	// Unsubscribing twice is harmless.
	unsubscribe()
}

func TestEmit_PanickingListenerIsIsolated(t *testing.T) {
	e := emitter.New[int]()

	e.Subscribe(func(int) { panic("misbehaving consumer") })

	var got []int
	e.Subscribe(func(v int) { got = append(got, v) })

	e.Emit(7)

	require.Equal(t, []int{7}, got)
}

func TestLen(t *testing.T) {
	e := emitter.New[int]()
	require.Equal(t, 0, e.Len())

	u1 := e.Subscribe(func(int) {})
	u2 := e.Subscribe(func(int) {})
	require.Equal(t, 2, e.Len())

	u1()
	require.Equal(t, 1, e.Len())
	u2()
	require.Equal(t, 0, e.Len())
}
