package quarantine

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btall/core-africare-identity-sub001/internal/stream"
	"github.com/btall/core-africare-identity-sub001/pkg/lifecycle"
)

func setupStore(t *testing.T) (*stream.Log, *Store) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	log := stream.New(client, stream.Options{
		Stream:           "identity:events",
		Group:            "identity-sub",
		ClaimIdleTimeout: 20 * time.Millisecond,
		BaseBackoff:      time.Millisecond,
		BlockInterval:    10 * time.Millisecond,
	})
	require.NoError(t, log.EnsureGroup(context.Background()))

	return log, New(client, log)
}

func quarantinedEntry(t *testing.T, log *stream.Log) *stream.Entry {
	t.Helper()
	ctx := context.Background()

	_, err := log.Append(ctx, &lifecycle.Event{
		Type:       lifecycle.EventRegister,
		ClientID:   "patient-portal",
		OccurredAt: time.Now().UTC().Truncate(time.Second),
		Payload: &lifecycle.RegisterPayload{
			UserID:   "usr-77",
			Email:    "usr-77@example.org",
			FullName: "Awa Diop",
		},
	})
	require.NoError(t, err)

	entry, err := log.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	return entry
}

func TestAdd_PreservesEvent(t *testing.T) {
	log, store := setupStore(t)
	ctx := context.Background()

	entry := quarantinedEntry(t, log)

	rec, err := store.Add(ctx, entry, "max attempts exceeded")
	require.NoError(t, err)

	assert.Equal(t, entry.EntryID, rec.EntryID)
	assert.Equal(t, "register", rec.EventType)
	assert.Equal(t, "patient-portal", rec.ClientID)
	assert.Equal(t, "max attempts exceeded", rec.Reason)
	assert.Equal(t, int64(1), rec.DeliveryCount)
	assert.JSONEq(t, `{"user_id":"usr-77","email":"usr-77@example.org","full_name":"Awa Diop"}`, string(rec.Payload))
	assert.False(t, rec.QuarantinedAt.IsZero())

	got, err := store.Get(ctx, entry.EntryID)
	require.NoError(t, err)
	assert.Equal(t, rec.EntryID, got.EntryID)
	assert.Equal(t, rec.Reason, got.Reason)
}

func TestAdd_SecondAddIsNoop(t *testing.T) {
	log, store := setupStore(t)
	ctx := context.Background()

	entry := quarantinedEntry(t, log)

	first, err := store.Add(ctx, entry, "handler rejected payload")
	require.NoError(t, err)

	second, err := store.Add(ctx, entry, "a different reason")
	require.NoError(t, err)

	// The original transition wins; the record is not rewritten.
	assert.Equal(t, first.Reason, second.Reason)

	n, err := store.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestGet_NotFound(t *testing.T) {
	_, store := setupStore(t)

	_, err := store.Get(context.Background(), "1700000000000-0")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestList_OldestFirst(t *testing.T) {
	log, store := setupStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		entry := quarantinedEntry(t, log)
		_, err := store.Add(ctx, entry, "max attempts exceeded")
		require.NoError(t, err)
		require.NoError(t, log.Ack(ctx, entry.EntryID))
		ids = append(ids, entry.EntryID)
		time.Sleep(2 * time.Millisecond)
	}

	records, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, ids[i], rec.EntryID)
	}

	limited, err := store.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestReprocess_ReappendsAndRemoves(t *testing.T) {
	log, store := setupStore(t)
	ctx := context.Background()

	entry := quarantinedEntry(t, log)
	_, err := store.Add(ctx, entry, "max attempts exceeded")
	require.NoError(t, err)
	require.NoError(t, log.Ack(ctx, entry.EntryID))

	newID, err := store.Reprocess(ctx, entry.EntryID)
	require.NoError(t, err)
	assert.NotEqual(t, entry.EntryID, newID)

	// Quarantine no longer knows the entry.
	_, err = store.Get(ctx, entry.EntryID)
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := store.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	// The re-appended entry arrives as a fresh first delivery.
	redelivered, err := log.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, redelivered)
	assert.Equal(t, newID, redelivered.EntryID)
	assert.Equal(t, int64(1), redelivered.DeliveryCount)
	require.NotNil(t, redelivered.Event)
	assert.Equal(t, "usr-77", redelivered.Event.UserID())
}

func TestReprocess_UnknownEntry(t *testing.T) {
	_, store := setupStore(t)

	_, err := store.Reprocess(context.Background(), "1700000000000-0")
	assert.ErrorIs(t, err, ErrNotFound)
}
