package snapshot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactories builds each Store implementation against a temp location.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"mem": func(t *testing.T) Store {
			return NewMemStore()
		},
		"file": func(t *testing.T) Store {
			s, err := NewFileStore(t.TempDir())
			require.NoError(t, err)
			return s
		},
		"badger": func(t *testing.T) Store {
			s, err := NewBadgerStoreInMemory()
			require.NoError(t, err)
			return s
		},
	}
}

func TestStore_SaveLoad(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			ctx := context.Background()

			require.NoError(t, store.Save(ctx, "context-index", []byte(`{"observations":[]}`)))

			data, err := store.Load(ctx, "context-index")
			require.NoError(t, err)
			assert.Equal(t, []byte(`{"observations":[]}`), data)

			// Save overwrites.
			require.NoError(t, store.Save(ctx, "context-index", []byte("v2")))
			data, err = store.Load(ctx, "context-index")
			require.NoError(t, err)
			assert.Equal(t, []byte("v2"), data)
		})
	}
}

func TestStore_LoadMissing(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()

			_, err := store.Load(context.Background(), "nope")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_List(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			ctx := context.Background()

			require.NoError(t, store.Save(ctx, "concept-graph", []byte("a")))
			require.NoError(t, store.Save(ctx, "temporal-index", []byte("b")))

			names, err := store.List(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"concept-graph", "temporal-index"}, names)
		})
	}
}

func TestStore_Closed(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			require.NoError(t, store.Close())

			err := store.Save(context.Background(), "x", []byte("y"))
			assert.ErrorIs(t, err, ErrStoreClosed)
			_, err = store.Load(context.Background(), "x")
			assert.ErrorIs(t, err, ErrStoreClosed)
		})
	}
}

func TestFileStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, first.Save(ctx, "context-index", []byte("persisted")))
	require.NoError(t, first.Close())

	// A fresh store over the same directory sees the saved snapshot.
	second, err := NewFileStore(dir)
	require.NoError(t, err)
	defer second.Close()

	data, err := second.Load(ctx, "context-index")
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), data)
}

func TestBadgerStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewBadgerStore(dir)
	require.NoError(t, err)
	require.NoError(t, first.Save(ctx, "temporal-index", []byte("persisted")))
	require.NoError(t, first.Close())

	second, err := NewBadgerStore(dir)
	require.NoError(t, err)
	defer second.Close()

	data, err := second.Load(ctx, "temporal-index")
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), data)
}

func TestStore_CancelledContext(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, store.Save(ctx, "x", []byte("y")))
	_, err = store.Load(ctx, "x")
	assert.Error(t, err)
}
