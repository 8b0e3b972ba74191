package recovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()
	noop := func(ctx context.Context, rcv *Rcv) error { return nil }

	err := reg.Register(7, "heap_insert", noop)
	assert.Nil(t, err)

	err = reg.Register(7, "heap_update", noop)
	assert.True(t, errors.Is(err, ErrDuplicateRcvIndex))
	assert.Equal(t, "heap_insert", reg.Name(7))

	err = reg.Register(8, "nil", nil)
	assert.Equal(t, ErrNilRedoFunc, err)
}

func TestRegistry_Lookup(t *testing.T) {
	reg := NewRegistry()
	var called int32
	err := reg.Register(3, "btree_split", func(ctx context.Context, rcv *Rcv) error {
		called = rcv.RcvIndex
		return nil
	})
	assert.Nil(t, err)

	fn, ok := reg.Lookup(3)
	assert.True(t, ok)
	assert.Nil(t, fn(context.Background(), &Rcv{RcvIndex: 3}))
	assert.Equal(t, int32(3), called)

	fn, ok = reg.Lookup(4)
	assert.False(t, ok)
	assert.Nil(t, fn)
	assert.Equal(t, "unknown", reg.Name(4))
}

func TestRegistry_Indexes(t *testing.T) {
	reg := NewRegistry()
	noop := func(ctx context.Context, rcv *Rcv) error { return nil }
	for _, idx := range []int32{9, 2, 5} {
		assert.Nil(t, reg.Register(idx, "x", noop))
	}
	assert.Equal(t, []int32{2, 5, 9}, reg.Indexes())
}
