package membership_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitforge/membership/pkg/membership"
	"github.com/fitforge/membership/pkg/queue"
)

func TestNewCancelSubscriptionHandler(t *testing.T) {
	t.Parallel()

	payload, err := json.Marshal(membership.CancelSubscriptionTask{
		MembershipID:    uuid.New(),
		SubscriptionRef: "sub_A",
	})
	require.NoError(t, err)

	t.Run("routes by payload type name", func(t *testing.T) {
		t.Parallel()

		h := membership.NewCancelSubscriptionHandler(&mockProvider{}, nil)
		assert.Equal(t, "membership.CancelSubscriptionTask", h.Name())
	})

	t.Run("schedules provider cancellation", func(t *testing.T) {
		t.Parallel()

		var cancelled []string
		provider := &mockProvider{
			cancelAtPeriodEndFunc: func(ctx context.Context, subscriptionRef string) error {
				cancelled = append(cancelled, subscriptionRef)
				return nil
			},
		}

		h := membership.NewCancelSubscriptionHandler(provider, nil)
		require.NoError(t, h.Handle(context.Background(), payload))
		assert.Equal(t, []string{"sub_A"}, cancelled)
	})

	t.Run("provider failure surfaces for retry", func(t *testing.T) {
		t.Parallel()

		provider := &mockProvider{
			cancelAtPeriodEndFunc: func(ctx context.Context, subscriptionRef string) error {
				return errors.New("paddle 503")
			},
		}

		h := membership.NewCancelSubscriptionHandler(provider, nil)
		assert.Error(t, h.Handle(context.Background(), payload))
	})
}

func TestScheduleMaintenance(t *testing.T) {
	t.Parallel()

	t.Run("registers all sweeps", func(t *testing.T) {
		t.Parallel()

		s, err := queue.NewScheduler(queue.NewMemoryStorage())
		require.NoError(t, err)

		require.NoError(t, membership.ScheduleMaintenance(s, membership.MaintenanceConfig{
			ExpiryInterval:    time.Hour,
			RepairInterval:    6 * time.Hour,
			DuplicateInterval: 6 * time.Hour,
		}))

		// All three names are now taken.
		assert.ErrorIs(t, s.AddTask(membership.TaskCheckExpired, time.Hour), queue.ErrTaskRegistered)
		assert.ErrorIs(t, s.AddTask(membership.TaskFixPeriods, time.Hour), queue.ErrTaskRegistered)
		assert.ErrorIs(t, s.AddTask(membership.TaskCleanupDuplicates, time.Hour), queue.ErrTaskRegistered)
	})

	t.Run("double registration fails", func(t *testing.T) {
		t.Parallel()

		s, err := queue.NewScheduler(queue.NewMemoryStorage())
		require.NoError(t, err)

		cfg := membership.MaintenanceConfig{
			ExpiryInterval:    time.Hour,
			RepairInterval:    6 * time.Hour,
			DuplicateInterval: 6 * time.Hour,
		}
		require.NoError(t, membership.ScheduleMaintenance(s, cfg))
		assert.ErrorIs(t, membership.ScheduleMaintenance(s, cfg), queue.ErrTaskRegistered)
	})
}

// TestMaintenanceWorkerIntegration drives an expiry sweep the way production
// does: scheduler task picked up by the worker pool.
func TestMaintenanceWorkerIntegration(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := membership.NewMemoryStore()
	maintenance := membership.NewMaintenance(store, &mockProvider{})

	start, end := periodBounds(time.Now().Add(-60*24*time.Hour), 30*24*time.Hour)
	lapsed := seedMembership(t, store, "owner-1", "sub_A", membership.StatusActive, start, end)

	storage := queue.NewMemoryStorage()
	w, err := queue.NewWorker(storage, queue.WithPullInterval(10*time.Millisecond))
	require.NoError(t, err)
	membership.RegisterMaintenanceHandlers(w, maintenance, nil)

	enqueuer, err := queue.NewEnqueuer(storage)
	require.NoError(t, err)
	require.NoError(t, enqueuer.Enqueue(ctx, struct{}{}, queue.WithTaskName(membership.TaskCheckExpired)))

	require.NoError(t, w.Start(ctx))
	defer w.Stop() //nolint:errcheck

	require.Eventually(t, func() bool {
		m, err := store.GetByID(ctx, lapsed.ID)
		return err == nil && m.Status == membership.StatusExpired
	}, 2*time.Second, 10*time.Millisecond)
}
