package sandbox

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/notegraph/internal/engine"
	"github.com/roach88/notegraph/internal/kvstore"
	"github.com/roach88/notegraph/internal/snapshot"
	"github.com/roach88/notegraph/internal/store"
	"github.com/roach88/notegraph/internal/testutil"
)

const (
	liveOverhead   = int64(len(LiveKey)) + 22
	backupOverhead = int64(len(BackupPrefix)+20) + 22
)

func openBackend(t *testing.T, blobs kvstore.Store, codec snapshot.Codec) *Backend {
	t.Helper()
	b, err := Open(context.Background(), Options{
		Blobs: blobs,
		Codec: codec,
		Now:   testutil.NewDeterministicClock().Now,
	})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func memoryBlobs(t *testing.T, quota int64) *kvstore.BadgerStore {
	t.Helper()
	blobs, err := kvstore.Open(kvstore.Options{InMemory: true, QuotaBytes: quota})
	require.NoError(t, err)
	return blobs
}

// emptyImageSize is the size of a freshly created database image.
func emptyImageSize(t *testing.T) int64 {
	t.Helper()
	s, err := store.OpenMemory()
	require.NoError(t, err)
	defer s.Close()
	image, err := s.Export(context.Background())
	require.NoError(t, err)
	return int64(len(image))
}

func addNode(t *testing.T, b *Backend, id string) {
	t.Helper()
	err := b.Run(context.Background(), `
		INSERT INTO nodes (id, type, label, x, y, created_at, updated_at)
		VALUES (?, 'note', ?, 0, 0, '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')
	`, id, id)
	require.NoError(t, err)
}

func nodeIDs(t *testing.T, b *Backend) []string {
	t.Helper()
	rows, err := b.Execute(context.Background(), "SELECT id FROM nodes ORDER BY id")
	require.NoError(t, err)
	ids := []string{}
	for _, r := range rows {
		ids = append(ids, r.String("id"))
	}
	return ids
}

func TestOpen_RequiresBlobs(t *testing.T) {
	_, err := Open(context.Background(), Options{})
	assert.True(t, engine.IsCode(err, engine.ErrCodeInitFailed), "got %v", err)
}

func TestPlatform(t *testing.T) {
	b := openBackend(t, memoryBlobs(t, 0), "")
	assert.Equal(t, engine.PlatformSandboxed, b.Platform())
}

func TestPersist_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	blobs, err := kvstore.Open(kvstore.Options{Dir: dir})
	require.NoError(t, err)
	b, err := Open(ctx, Options{Blobs: blobs})
	require.NoError(t, err)

	addNode(t, b, "a")
	require.NoError(t, b.Persist(ctx))
	addNode(t, b, "not-persisted")
	require.NoError(t, b.Close())
	assert.False(t, b.IsOpen())
	require.NoError(t, b.Close(), "second Close is a no-op")

	blobs, err = kvstore.Open(kvstore.Options{Dir: dir})
	require.NoError(t, err)
	reopened := openBackend(t, blobs, "")
	assert.Equal(t, []string{"a"}, nodeIDs(t, reopened))
}

func TestOpen_CorruptLiveImageStartsEmpty(t *testing.T) {
	ctx := context.Background()
	blobs := memoryBlobs(t, 0)
	require.NoError(t, blobs.Put(ctx, LiveKey, []byte("garbage")))

	b := openBackend(t, blobs, "")
	assert.Empty(t, nodeIDs(t, b))
	require.NoError(t, b.db.ValidateSchema(ctx))
}

func TestOpen_OversizedHeaderStartsEmpty(t *testing.T) {
	ctx := context.Background()

	for _, codec := range []snapshot.Codec{snapshot.CodecZstd, snapshot.CodecLZ4} {
		t.Run(string(codec), func(t *testing.T) {
			src := openBackend(t, memoryBlobs(t, 0), codec)
			addNode(t, src, "a")
			image, err := src.Export(ctx)
			require.NoError(t, err)
			blob, err := snapshot.Encode(image, codec)
			require.NoError(t, err)
			binary.LittleEndian.PutUint64(blob[6:], 1<<62)

			blobs := memoryBlobs(t, 0)
			require.NoError(t, blobs.Put(ctx, LiveKey, blob))

			b := openBackend(t, blobs, codec)
			assert.Empty(t, nodeIDs(t, b))
			require.NoError(t, b.db.ValidateSchema(ctx))
		})
	}
}

func TestOpen_BadImageInValidBlobStartsEmpty(t *testing.T) {
	ctx := context.Background()
	blobs := memoryBlobs(t, 0)
	blob, err := snapshot.Encode([]byte("not a database image at all"), snapshot.CodecNone)
	require.NoError(t, err)
	require.NoError(t, blobs.Put(ctx, LiveKey, blob))

	b := openBackend(t, blobs, "")
	assert.Empty(t, nodeIDs(t, b))
}

func TestTransaction_DoesNotPersistByItself(t *testing.T) {
	ctx := context.Background()
	blobs := memoryBlobs(t, 0)
	b := openBackend(t, blobs, "")

	require.NoError(t, b.Transaction(ctx, func(ctx context.Context) error {
		addNode(t, b, "a")
		return nil
	}))

	_, err := blobs.Get(ctx, LiveKey)
	assert.ErrorIs(t, err, kvstore.ErrNotFound)
}

func TestBackups_NewestFirstAndRestore(t *testing.T) {
	ctx := context.Background()
	b := openBackend(t, memoryBlobs(t, 0), snapshot.CodecLZ4)

	empty, err := b.ListBackups(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	addNode(t, b, "a")
	first, err := b.CreateBackup(ctx)
	require.NoError(t, err)
	addNode(t, b, "b")
	second, err := b.CreateBackup(ctx)
	require.NoError(t, err)
	addNode(t, b, "c")

	assert.Len(t, first, len(BackupPrefix)+20)
	ids, err := b.ListBackups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{second, first}, ids)

	require.NoError(t, b.RestoreFromBackup(ctx, first))
	assert.Equal(t, []string{"a"}, nodeIDs(t, b))

	// The restored state became the live image.
	live, err := b.blobs.Get(ctx, LiveKey)
	require.NoError(t, err)
	image, err := snapshot.Decode(live)
	require.NoError(t, err)
	exported, err := b.Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, exported, image)
}

func TestRestore_UnknownBackupLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	b := openBackend(t, memoryBlobs(t, 0), "")
	addNode(t, b, "a")

	for _, id := range []string{BackupPrefix + "00000000000000000001", "nonsense"} {
		err := b.RestoreFromBackup(ctx, id)
		assert.True(t, engine.IsBackupNotFound(err), "id %q: got %v", id, err)
	}
	assert.Equal(t, []string{"a"}, nodeIDs(t, b))
}

func TestRestore_CorruptBackupFailsLoudly(t *testing.T) {
	ctx := context.Background()
	b := openBackend(t, memoryBlobs(t, 0), "")
	addNode(t, b, "a")

	id := BackupPrefix + "00000000000000000042"
	require.NoError(t, b.blobs.Put(ctx, id, []byte("broken")))

	err := b.RestoreFromBackup(ctx, id)
	require.Error(t, err)
	assert.False(t, engine.IsBackupNotFound(err))
	assert.Equal(t, []string{"a"}, nodeIDs(t, b))
}

func TestStamp_StrictlyIncreasing(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b, err := Open(context.Background(), Options{
		Blobs: memoryBlobs(t, 0),
		Now:   func() time.Time { return fixed },
	})
	require.NoError(t, err)
	defer b.Close()

	first := b.stamp()
	second := b.stamp()
	assert.Less(t, first, second)
	assert.Len(t, second, 20)
}

func TestPersist_PrunesBackupsWhenFull(t *testing.T) {
	ctx := context.Background()
	size := emptyImageSize(t)

	// Room for five backups, but not for the live image on top of them.
	quota := 5*(size+backupOverhead) + (size + liveOverhead) - 1
	b := openBackend(t, memoryBlobs(t, quota), snapshot.CodecNone)

	var created []string
	for i := 0; i < 5; i++ {
		id, err := b.CreateBackup(ctx)
		require.NoError(t, err)
		created = append(created, id)
	}

	require.NoError(t, b.Persist(ctx))

	ids, err := b.ListBackups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{created[4], created[3], created[2]}, ids)

	_, err = b.blobs.Get(ctx, LiveKey)
	assert.NoError(t, err)
}

func TestPersist_StorageExhausted(t *testing.T) {
	ctx := context.Background()
	size := emptyImageSize(t)

	b := openBackend(t, memoryBlobs(t, size+liveOverhead-1), snapshot.CodecNone)

	err := b.Persist(ctx)
	require.True(t, engine.IsStorageExhausted(err), "got %v", err)
	assert.ErrorIs(t, err, kvstore.ErrQuotaExceeded, "cause must be retained")
}

func TestImport_ReplacesAndPersists(t *testing.T) {
	ctx := context.Background()

	src := openBackend(t, memoryBlobs(t, 0), "")
	addNode(t, src, "imported")
	image, err := src.Export(ctx)
	require.NoError(t, err)

	dst := openBackend(t, memoryBlobs(t, 0), "")
	addNode(t, dst, "old")
	require.NoError(t, dst.Import(ctx, image))
	assert.Equal(t, []string{"imported"}, nodeIDs(t, dst))

	_, err = dst.blobs.Get(ctx, LiveKey)
	assert.NoError(t, err)

	assert.Error(t, dst.Import(ctx, []byte("junk")))
	assert.Equal(t, []string{"imported"}, nodeIDs(t, dst))
}
