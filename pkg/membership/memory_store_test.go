package membership_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitforge/membership/pkg/membership"
)

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("get by id returns a copy", func(t *testing.T) {
		t.Parallel()

		store := membership.NewMemoryStore()
		start, end := periodBounds(time.Now(), 30*24*time.Hour)
		m := seedMembership(t, store, "owner-1", "sub_A", membership.StatusActive, start, end)

		got, err := store.GetByID(ctx, m.ID)
		require.NoError(t, err)
		got.Status = membership.StatusExpired

		again, err := store.GetByID(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, membership.StatusActive, again.Status, "mutating a read result must not leak into the store")
	})

	t.Run("unknown id", func(t *testing.T) {
		t.Parallel()

		store := membership.NewMemoryStore()
		_, err := store.GetByID(ctx, uuid.New())
		assert.ErrorIs(t, err, membership.ErrMembershipNotFound)
	})

	t.Run("empty subscription ref never matches", func(t *testing.T) {
		t.Parallel()

		store := membership.NewMemoryStore()
		start, end := periodBounds(time.Now(), 30*24*time.Hour)
		seedMembership(t, store, "owner-1", "", membership.StatusActive, start, end)

		_, err := store.GetBySubscriptionRef(ctx, "")
		assert.ErrorIs(t, err, membership.ErrMembershipNotFound)
	})

	t.Run("duplicate subscription ref rejected on insert", func(t *testing.T) {
		t.Parallel()

		store := membership.NewMemoryStore()
		start, end := periodBounds(time.Now(), 30*24*time.Hour)
		seedMembership(t, store, "owner-1", "sub_A", membership.StatusActive, start, end)

		err := store.Insert(ctx, &membership.Membership{
			ID:              uuid.New(),
			OwnerRef:        "owner-2",
			Type:            membership.TypeBasic,
			Status:          membership.StatusActive,
			SubscriptionRef: "sub_A",
		})
		assert.ErrorIs(t, err, membership.ErrDuplicateSubscriptionRef)
	})

	t.Run("duplicate subscription ref rejected on update", func(t *testing.T) {
		t.Parallel()

		store := membership.NewMemoryStore()
		start, end := periodBounds(time.Now(), 30*24*time.Hour)
		seedMembership(t, store, "owner-1", "sub_A", membership.StatusActive, start, end)
		other := seedMembership(t, store, "owner-2", "sub_B", membership.StatusActive, start, end)

		other.SubscriptionRef = "sub_A"
		assert.ErrorIs(t, store.Update(ctx, other), membership.ErrDuplicateSubscriptionRef)
	})

	t.Run("clearing subscription ref drops the index entry", func(t *testing.T) {
		t.Parallel()

		store := membership.NewMemoryStore()
		start, end := periodBounds(time.Now(), 30*24*time.Hour)
		m := seedMembership(t, store, "owner-1", "sub_A", membership.StatusActive, start, end)

		m.SubscriptionRef = ""
		require.NoError(t, store.Update(ctx, m))

		_, err := store.GetBySubscriptionRef(ctx, "sub_A")
		assert.ErrorIs(t, err, membership.ErrMembershipNotFound, "cleared ref must not resolve to the old membership")

		// The freed ref is usable by another membership again.
		seedMembership(t, store, "owner-2", "sub_A", membership.StatusActive, start, end)
	})

	t.Run("list by owner newest first", func(t *testing.T) {
		t.Parallel()

		store := membership.NewMemoryStore()
		start, end := periodBounds(time.Now(), 30*24*time.Hour)
		older := seedMembership(t, store, "owner-1", "sub_A", membership.StatusCancelled, start, end)
		newer := seedMembership(t, store, "owner-1", "sub_B", membership.StatusActive, start, end)

		older.CreatedAt = time.Now().UTC().Add(-time.Hour)
		require.NoError(t, store.Update(ctx, older))

		owned, err := store.ListByOwner(ctx, "owner-1")
		require.NoError(t, err)
		require.Len(t, owned, 2)
		assert.Equal(t, newer.ID, owned[0].ID)
		assert.Equal(t, older.ID, owned[1].ID)
	})

	t.Run("list repair needed", func(t *testing.T) {
		t.Parallel()

		store := membership.NewMemoryStore()
		start, end := periodBounds(time.Now(), 30*24*time.Hour)
		seedMembership(t, store, "owner-1", "sub_A", membership.StatusActive, start, end)
		missing := seedMembership(t, store, "owner-2", "sub_B", membership.StatusActive, 0, 0)
		inverted := seedMembership(t, store, "owner-3", "sub_C", membership.StatusActive, end, start)

		broken, err := store.ListRepairNeeded(ctx)
		require.NoError(t, err)
		require.Len(t, broken, 2)

		ids := []uuid.UUID{broken[0].ID, broken[1].ID}
		assert.Contains(t, ids, missing.ID)
		assert.Contains(t, ids, inverted.ID)
	})

	t.Run("list subscription refs sorted", func(t *testing.T) {
		t.Parallel()

		store := membership.NewMemoryStore()
		start, end := periodBounds(time.Now(), 30*24*time.Hour)
		seedMembership(t, store, "owner-1", "sub_B", membership.StatusActive, start, end)
		seedMembership(t, store, "owner-2", "sub_A", membership.StatusActive, start, end)
		seedMembership(t, store, "owner-3", "", membership.StatusActive, start, end)

		refs, err := store.ListSubscriptionRefs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"sub_A", "sub_B"}, refs)
	})
}

func TestMemoryLedger(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("record then mark processed", func(t *testing.T) {
		t.Parallel()

		ledger := membership.NewMemoryLedger()
		require.NoError(t, ledger.Record(ctx, "evt_1", "subscription.updated"))
		require.NoError(t, ledger.MarkProcessed(ctx, "evt_1"))

		rec, err := ledger.Get(ctx, "evt_1")
		require.NoError(t, err)
		assert.True(t, rec.Processed)
		require.NotNil(t, rec.ProcessedAt)
	})

	t.Run("processed event rejects re-record", func(t *testing.T) {
		t.Parallel()

		ledger := membership.NewMemoryLedger()
		require.NoError(t, ledger.Record(ctx, "evt_1", "subscription.updated"))
		require.NoError(t, ledger.MarkProcessed(ctx, "evt_1"))

		assert.ErrorIs(t, ledger.Record(ctx, "evt_1", "subscription.updated"), membership.ErrEventAlreadyProcessed)
	})

	t.Run("failed event can be retried", func(t *testing.T) {
		t.Parallel()

		ledger := membership.NewMemoryLedger()
		require.NoError(t, ledger.Record(ctx, "evt_1", "subscription.updated"))
		require.NoError(t, ledger.MarkFailed(ctx, "evt_1", "membership not found"))

		require.NoError(t, ledger.Record(ctx, "evt_1", "subscription.updated"))

		rec, err := ledger.Get(ctx, "evt_1")
		require.NoError(t, err)
		assert.False(t, rec.Processed)
		assert.Empty(t, rec.Error, "retry clears the previous failure")
	})

	t.Run("unknown event", func(t *testing.T) {
		t.Parallel()

		ledger := membership.NewMemoryLedger()
		_, err := ledger.Get(ctx, "evt_missing")
		assert.ErrorIs(t, err, membership.ErrEventNotFound)
		assert.ErrorIs(t, ledger.MarkProcessed(ctx, "evt_missing"), membership.ErrEventNotFound)
		assert.ErrorIs(t, ledger.MarkFailed(ctx, "evt_missing", "x"), membership.ErrEventNotFound)
	})
}
