package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_CreatesFileAndSchema(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "imager.db")

	db, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, db.Metadata.Set(ctx, "k", []byte("v")))
	require.NoError(t, db.Close())

	// reopening applies no migrations twice and keeps data
	db, err = Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	v, err := db.Metadata.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}

func TestMetadata_Backends(t *testing.T) {
	t.Parallel()

	backends := map[string]func(t *testing.T) Metadata{
		"sqlite": func(t *testing.T) Metadata { return openMemory(t).Metadata },
		"memory": func(*testing.T) Metadata { return NewMemoryMetadata() },
	}

	for name, newRepo := range backends {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			r := newRepo(t)

			v, err := r.Get(ctx, "missing")
			require.NoError(t, err)
			assert.Nil(t, v)

			require.NoError(t, r.Set(ctx, "image:a", []byte{0x01}))
			require.NoError(t, r.Set(ctx, "image:a", []byte{0x02}))
			require.NoError(t, r.Set(ctx, "image:b", []byte{0x03}))
			require.NoError(t, r.Set(ctx, "oauth:token", []byte{0x04}))

			v, err = r.Get(ctx, "image:a")
			require.NoError(t, err)
			assert.Equal(t, []byte{0x02}, v)

			listed, err := r.List(ctx, "image:")
			require.NoError(t, err)
			assert.Len(t, listed, 2)
			assert.Contains(t, listed, "image:b")

			require.NoError(t, r.Delete(ctx, "image:a"))
			v, err = r.Get(ctx, "image:a")
			require.NoError(t, err)
			assert.Nil(t, v)

			require.NoError(t, r.Clear(ctx))
			all, err := r.List(ctx, "")
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestJSONHelpers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemoryMetadata()

	type entry struct {
		Name string `json:"name"`
		Size int64  `json:"size"`
	}

	var got entry
	ok, err := GetJSON(ctx, m, "e", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, SetJSON(ctx, m, "e", entry{Name: "os.img.xz", Size: 42}))
	ok, err = GetJSON(ctx, m, "e", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, entry{Name: "os.img.xz", Size: 42}, got)

	require.NoError(t, m.Set(ctx, "bad", []byte("{")))
	_, err = GetJSON(ctx, m, "bad", &got)
	assert.Error(t, err)
}
