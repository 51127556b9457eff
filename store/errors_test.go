package store_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stevemurr/knowledge-vault/store"
)

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("disk full")
	err := &store.Error{Op: "rollback", Namespace: "bot1", Snapshot: "snap_1", Kind: store.ErrIO, Err: cause}
	assert.Equal(t, `kvault: rollback namespace "bot1" snapshot "snap_1": disk full`, err.Error())
	assert.ErrorIs(t, err, store.ErrIO)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, store.ErrNotFound)

	bare := &store.Error{Op: "list namespaces", Kind: store.ErrNotFound}
	assert.Equal(t, "kvault: list namespaces: not found", bare.Error())
	assert.ErrorIs(t, bare, store.ErrNotFound)
}

func TestKindOf(t *testing.T) {
	assert.Nil(t, store.KindOf(nil))
	assert.Nil(t, store.KindOf(errors.New("plain")))
	for _, kind := range []error{
		store.ErrNotFound,
		store.ErrAlreadyExists,
		store.ErrInvalidArgument,
		store.ErrInvalidState,
		store.ErrIO,
	} {
		err := &store.Error{Op: "op", Kind: kind}
		assert.Equal(t, kind, store.KindOf(err))
	}
}

func TestEveryFailureIsClassified(t *testing.T) {
	r := store.NewRegistry(store.NewMemoryStore())
	ds, err := r.Create("bot1")
	assert.NoError(t, err)

	_, errCreate := r.Create("bot1")
	_, errOpen := r.Open("nope")
	_, errAdd := ds.AddItem("")
	errRollback := ds.Rollback("snap_x")
	errDelete := r.Delete("nope")

	for _, err := range []error{errCreate, errOpen, errAdd, errRollback, errDelete} {
		assert.Error(t, err)
		assert.NotNil(t, store.KindOf(err), "unclassified: %v", err)
		var se *store.Error
		assert.True(t, errors.As(err, &se), "not a *store.Error: %v", err)
	}
}
