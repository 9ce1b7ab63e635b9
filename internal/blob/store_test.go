package blob

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseStore runs the shared contract against any backend
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Head(ctx, "models/missing.json")
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = s.Get(ctx, "models/missing.json")
	assert.ErrorIs(t, err, ErrNotFound)

	info, err := s.Put(ctx, "models/extraction_optimizer.json", strings.NewReader(`{"v":1}`), PutOptions{ContentType: "application/json"})
	require.NoError(t, err)
	assert.Equal(t, "models/extraction_optimizer.json", info.Key)
	assert.EqualValues(t, 7, info.Size)

	// Put replaces existing objects.
	_, err = s.Put(ctx, "models/extraction_optimizer.json", strings.NewReader(`{"v":22}`), PutOptions{ContentType: "application/json"})
	require.NoError(t, err)

	_, rc, err := s.Get(ctx, "models/extraction_optimizer.json")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, `{"v":22}`, string(body))

	_, err = s.Put(ctx, "exports/batches.xlsx", strings.NewReader("xlsx"), PutOptions{})
	require.NoError(t, err)

	list, err := s.List(ctx, "models/")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "models/extraction_optimizer.json", list[0].Key)

	existed, err := s.Delete(ctx, "exports/batches.xlsx")
	require.NoError(t, err)
	assert.True(t, existed)
	existed, err = s.Delete(ctx, "exports/batches.xlsx")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemory()
	assert.Equal(t, DriverMemory, s.Driver())
	exerciseStore(t, s)
}

func TestFilesystemStore(t *testing.T) {
	s, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DriverFilesystem, s.Driver())
	exerciseStore(t, s)
}

func TestFilesystemRejectsTraversal(t *testing.T) {
	s, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "../escape", "/abs/path"} {
		_, err := s.Put(context.Background(), key, strings.NewReader("x"), PutOptions{})
		assert.Errorf(t, err, "key %q", key)
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{Driver: DriverMemory})
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, s.Driver())

	s, err = Open(ctx, Config{FSRoot: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, DriverFilesystem, s.Driver())

	_, err = Open(ctx, Config{Driver: "tape"})
	assert.Error(t, err)

	_, err = Open(ctx, Config{Driver: DriverS3})
	assert.Error(t, err, "bucket is required")
}
