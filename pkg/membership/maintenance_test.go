package membership_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitforge/membership/pkg/billing"
	"github.com/fitforge/membership/pkg/membership"
)

func TestMaintenance_CheckExpired(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("expires lapsed memberships only", func(t *testing.T) {
		t.Parallel()

		store := membership.NewMemoryStore()
		m := membership.NewMaintenance(store, &mockProvider{})

		lapsedStart, lapsedEnd := periodBounds(time.Now().Add(-60*24*time.Hour), 30*24*time.Hour)
		currentStart, currentEnd := periodBounds(time.Now(), 30*24*time.Hour)

		lapsed := seedMembership(t, store, "owner-1", "sub_A", membership.StatusActive, lapsedStart, lapsedEnd)
		current := seedMembership(t, store, "owner-2", "sub_B", membership.StatusActive, currentStart, currentEnd)

		n, err := m.CheckExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := store.GetByID(ctx, lapsed.ID)
		require.NoError(t, err)
		assert.Equal(t, membership.StatusExpired, got.Status)

		got, err = store.GetByID(ctx, current.ID)
		require.NoError(t, err)
		assert.Equal(t, membership.StatusActive, got.Status)
	})

	t.Run("skips records with corrupted period bounds", func(t *testing.T) {
		t.Parallel()

		store := membership.NewMemoryStore()
		m := membership.NewMaintenance(store, &mockProvider{})

		// End before start: repair-needed, not expired.
		corrupt := seedMembership(t, store, "owner-1", "sub_A", membership.StatusActive,
			time.Now().UnixMilli(), time.Now().Add(-24*time.Hour).UnixMilli())

		n, err := m.CheckExpired(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		got, err := store.GetByID(ctx, corrupt.ID)
		require.NoError(t, err)
		assert.Equal(t, membership.StatusActive, got.Status, "corrupted records are left for the period repair sweep")
	})

	t.Run("rerun finds nothing once converged", func(t *testing.T) {
		t.Parallel()

		store := membership.NewMemoryStore()
		m := membership.NewMaintenance(store, &mockProvider{})

		start, end := periodBounds(time.Now().Add(-60*24*time.Hour), 30*24*time.Hour)
		seedMembership(t, store, "owner-1", "sub_A", membership.StatusActive, start, end)

		n, err := m.CheckExpired(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		n, err = m.CheckExpired(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestMaintenance_FixPeriods(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("uses canonical provider bounds", func(t *testing.T) {
		t.Parallel()

		store := membership.NewMemoryStore()
		start, end := periodBounds(time.Now(), 30*24*time.Hour)
		provider := &mockProvider{
			getSubscriptionFunc: func(ctx context.Context, subscriptionRef string) (*billing.Subscription, error) {
				return &billing.Subscription{
					Ref:         subscriptionRef,
					Status:      "active",
					PeriodStart: start,
					PeriodEnd:   end,
				}, nil
			},
		}
		m := membership.NewMaintenance(store, provider)

		broken := seedMembership(t, store, "owner-1", "sub_A", membership.StatusActive, 0, 0)

		n, err := m.FixPeriods(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := store.GetByID(ctx, broken.ID)
		require.NoError(t, err)
		assert.True(t, got.PeriodValid())
		assert.Equal(t, start, got.CurrentPeriodStart)
		assert.Equal(t, end, got.CurrentPeriodEnd)
	})

	t.Run("falls back to subscription start plus one period", func(t *testing.T) {
		t.Parallel()

		store := membership.NewMemoryStore()
		startedAt := time.Now().Add(-10 * 24 * time.Hour).UnixMilli()
		provider := &mockProvider{
			getSubscriptionFunc: func(ctx context.Context, subscriptionRef string) (*billing.Subscription, error) {
				return &billing.Subscription{Ref: subscriptionRef, Status: "active", StartedAt: startedAt}, nil
			},
		}
		m := membership.NewMaintenance(store, provider)

		broken := seedMembership(t, store, "owner-1", "sub_A", membership.StatusActive, 0, 0)

		n, err := m.FixPeriods(ctx, nil)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		got, err := store.GetByID(ctx, broken.ID)
		require.NoError(t, err)
		assert.True(t, got.PeriodValid())
		assert.Equal(t, startedAt, got.CurrentPeriodStart)
		assert.Equal(t, startedAt+(30*24*time.Hour).Milliseconds(), got.CurrentPeriodEnd)
	})

	t.Run("membership without subscription falls back to creation time", func(t *testing.T) {
		t.Parallel()

		store := membership.NewMemoryStore()
		m := membership.NewMaintenance(store, &mockProvider{})

		broken := seedMembership(t, store, "owner-1", "", membership.StatusActive, 0, 0)

		n, err := m.FixPeriods(ctx, nil)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		got, err := store.GetByID(ctx, broken.ID)
		require.NoError(t, err)
		assert.True(t, got.PeriodValid())
		assert.Equal(t, broken.CreatedAt.UnixMilli(), got.CurrentPeriodStart)
	})

	t.Run("single membership mode", func(t *testing.T) {
		t.Parallel()

		store := membership.NewMemoryStore()
		m := membership.NewMaintenance(store, &mockProvider{})

		target := seedMembership(t, store, "owner-1", "", membership.StatusActive, 0, 0)
		other := seedMembership(t, store, "owner-2", "", membership.StatusActive, 0, 0)

		n, err := m.FixPeriods(ctx, &target.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := store.GetByID(ctx, other.ID)
		require.NoError(t, err)
		assert.False(t, got.PeriodValid(), "only the targeted membership is repaired")
	})

	t.Run("provider failure skips the record", func(t *testing.T) {
		t.Parallel()

		store := membership.NewMemoryStore()
		m := membership.NewMaintenance(store, &mockProvider{})

		seedMembership(t, store, "owner-1", "sub_gone", membership.StatusActive, 0, 0)

		n, err := m.FixPeriods(ctx, nil)
		require.NoError(t, err, "per-record failures never abort the sweep")
		assert.Zero(t, n)
	})

	t.Run("valid membership is untouched", func(t *testing.T) {
		t.Parallel()

		store := membership.NewMemoryStore()
		m := membership.NewMaintenance(store, &mockProvider{})

		start, end := periodBounds(time.Now(), 30*24*time.Hour)
		healthy := seedMembership(t, store, "owner-1", "sub_A", membership.StatusActive, start, end)

		n, err := m.FixPeriods(ctx, &healthy.ID)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestMaintenance_CleanupDuplicates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("keeps the newest active membership", func(t *testing.T) {
		t.Parallel()

		store := membership.NewMemoryStore()
		m := membership.NewMaintenance(store, &mockProvider{})

		start, end := periodBounds(time.Now(), 30*24*time.Hour)
		oldest := seedMembership(t, store, "owner-1", "sub_A", membership.StatusActive, start, end)
		middle := seedMembership(t, store, "owner-1", "sub_B", membership.StatusActive, start, end)
		newest := seedMembership(t, store, "owner-1", "sub_C", membership.StatusActive, start, end)

		// Make creation order explicit regardless of clock resolution.
		base := time.Now().UTC()
		for i, rec := range []*membership.Membership{oldest, middle, newest} {
			rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
			require.NoError(t, store.Update(ctx, rec))
		}

		n, err := m.CleanupDuplicates(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		for _, rec := range []*membership.Membership{oldest, middle} {
			got, err := store.GetByID(ctx, rec.ID)
			require.NoError(t, err)
			assert.Equal(t, membership.StatusCancelled, got.Status)
		}
		got, err := store.GetByID(ctx, newest.ID)
		require.NoError(t, err)
		assert.Equal(t, membership.StatusActive, got.Status)
	})

	t.Run("scoped to one owner", func(t *testing.T) {
		t.Parallel()

		store := membership.NewMemoryStore()
		m := membership.NewMaintenance(store, &mockProvider{})

		start, end := periodBounds(time.Now(), 30*24*time.Hour)
		seedMembership(t, store, "owner-1", "sub_A", membership.StatusActive, start, end)
		seedMembership(t, store, "owner-1", "sub_B", membership.StatusActive, start, end)
		otherDup1 := seedMembership(t, store, "owner-2", "sub_C", membership.StatusActive, start, end)
		otherDup2 := seedMembership(t, store, "owner-2", "sub_D", membership.StatusActive, start, end)

		n, err := m.CleanupDuplicates(ctx, "owner-1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		stillActive := 0
		for _, rec := range []*membership.Membership{otherDup1, otherDup2} {
			got, err := store.GetByID(ctx, rec.ID)
			require.NoError(t, err)
			if got.IsActive() {
				stillActive++
			}
		}
		assert.Equal(t, 2, stillActive, "other owners are out of scope")
	})

	t.Run("single active membership is untouched", func(t *testing.T) {
		t.Parallel()

		store := membership.NewMemoryStore()
		m := membership.NewMaintenance(store, &mockProvider{})

		start, end := periodBounds(time.Now(), 30*24*time.Hour)
		only := seedMembership(t, store, "owner-1", "sub_A", membership.StatusActive, start, end)

		n, err := m.CleanupDuplicates(ctx, "")
		require.NoError(t, err)
		assert.Zero(t, n)

		got, err := store.GetByID(ctx, only.ID)
		require.NoError(t, err)
		assert.Equal(t, membership.StatusActive, got.Status)
	})

	t.Run("rerun is a no-op once converged", func(t *testing.T) {
		t.Parallel()

		store := membership.NewMemoryStore()
		m := membership.NewMaintenance(store, &mockProvider{})

		start, end := periodBounds(time.Now(), 30*24*time.Hour)
		seedMembership(t, store, "owner-1", "sub_A", membership.StatusActive, start, end)
		seedMembership(t, store, "owner-1", "sub_B", membership.StatusActive, start, end)

		n, err := m.CleanupDuplicates(ctx, "")
		require.NoError(t, err)
		require.Equal(t, 1, n)

		n, err = m.CleanupDuplicates(ctx, "")
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
