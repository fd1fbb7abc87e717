package billing

import (
	"context"
	"testing"
	"time"

	"github.com/scorely/scorely/subscription"
	"github.com/scorely/scorely/tier"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeStore struct {
	records map[string]*subscription.Record // keyed by user id
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records: make(map[string]*subscription.Record),
	}
}

func (f *fakeStore) GetByProviderSubscriptionID(ctx context.Context, subscriptionID string) (*subscription.Record, error) {
	for _, r := range f.records {
		if r.ProviderSubscriptionID == subscriptionID && subscriptionID != "" {
			copied := *r
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetByProviderCustomerID(ctx context.Context, customerID string) (*subscription.Record, error) {
	for _, r := range f.records {
		if r.ProviderCustomerID == customerID && customerID != "" {
			copied := *r
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) Save(ctx context.Context, record *subscription.Record) error {
	copied := *record
	f.records[record.UserID] = &copied
	return nil
}

func testReconciler(t *testing.T) (*Reconciler, *fakeStore) {
	t.Helper()
	catalog, err := tier.NewCatalog(tier.DefaultTiers("price_basic", "price_pro"))
	require.NoError(t, err)
	store := newFakeStore()
	r, err := NewReconciler(ReconcilerOptions{
		Store:   store,
		Catalog: catalog,
		Logger:  zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return r, store
}

func seedRecord(store *fakeStore) {
	store.records["user-1"] = &subscription.Record{
		UserID:             "user-1",
		TierID:             tier.Free,
		Status:             subscription.StatusActive,
		ProviderCustomerID: "cus_1",
	}
}

func createdEvent() *Event {
	return &Event{
		ID:                     "evt_1",
		Type:                   EventSubscriptionCreated,
		ProviderSubscriptionID: "sub_1",
		ProviderCustomerID:     "cus_1",
		PriceID:                "price_pro",
		ProviderStatus:         "active",
		PeriodStart:            time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:              time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestApplyCreatedLinksAndSetsTier(t *testing.T) {
	r, store := testReconciler(t)
	seedRecord(store)

	require.NoError(t, r.Apply(context.Background(), createdEvent()))

	record := store.records["user-1"]
	assert.Equal(t, tier.Pro, record.TierID)
	assert.Equal(t, subscription.StatusActive, record.Status)
	assert.Equal(t, "sub_1", record.ProviderSubscriptionID)
	assert.Equal(t, "price_pro", record.ProviderPriceID)
	assert.False(t, record.CancelAtPeriodEnd)
}

func TestApplyIsIdempotent(t *testing.T) {
	r, store := testReconciler(t)
	seedRecord(store)

	ev := createdEvent()
	require.NoError(t, r.Apply(context.Background(), ev))
	once := *store.records["user-1"]

	require.NoError(t, r.Apply(context.Background(), ev))
	require.NoError(t, r.Apply(context.Background(), ev))

	assert.Equal(t, once, *store.records["user-1"])
}

func TestApplyUpdatedRederivesTierFromPrice(t *testing.T) {
	r, store := testReconciler(t)
	seedRecord(store)
	require.NoError(t, r.Apply(context.Background(), createdEvent()))

	downgrade := createdEvent()
	downgrade.ID = "evt_2"
	downgrade.Type = EventSubscriptionUpdated
	downgrade.PriceID = "price_basic"
	require.NoError(t, r.Apply(context.Background(), downgrade))

	assert.Equal(t, tier.Basic, store.records["user-1"].TierID)
}

func TestApplyUpdatedUnknownPriceFallsBackToFree(t *testing.T) {
	r, store := testReconciler(t)
	seedRecord(store)

	ev := createdEvent()
	ev.PriceID = "price_from_retired_catalog"
	require.NoError(t, r.Apply(context.Background(), ev))

	assert.Equal(t, tier.Free, store.records["user-1"].TierID)
}

func TestApplyDeletedIsTerminal(t *testing.T) {
	r, store := testReconciler(t)
	seedRecord(store)
	require.NoError(t, r.Apply(context.Background(), createdEvent()))

	deleted := createdEvent()
	deleted.ID = "evt_2"
	deleted.Type = EventSubscriptionDeleted
	require.NoError(t, r.Apply(context.Background(), deleted))

	record := store.records["user-1"]
	assert.Equal(t, subscription.StatusCanceled, record.Status)
	assert.Equal(t, tier.Free, record.TierID)
	assert.Empty(t, record.ProviderSubscriptionID)

	// a stale "updated" for the canceled subscription id must not resurrect it
	stale := createdEvent()
	stale.ID = "evt_3"
	stale.Type = EventSubscriptionUpdated
	require.NoError(t, r.Apply(context.Background(), stale))

	record = store.records["user-1"]
	assert.Equal(t, subscription.StatusCanceled, record.Status)
	assert.Equal(t, tier.Free, record.TierID)
}

func TestApplyDeletedReplayConverges(t *testing.T) {
	r, store := testReconciler(t)
	seedRecord(store)
	require.NoError(t, r.Apply(context.Background(), createdEvent()))

	deleted := createdEvent()
	deleted.Type = EventSubscriptionDeleted
	require.NoError(t, r.Apply(context.Background(), deleted))
	once := *store.records["user-1"]

	require.NoError(t, r.Apply(context.Background(), deleted))
	assert.Equal(t, once, *store.records["user-1"])
}

func TestApplyPaymentFailedKeepsTier(t *testing.T) {
	r, store := testReconciler(t)
	seedRecord(store)
	require.NoError(t, r.Apply(context.Background(), createdEvent()))

	failed := &Event{
		ID:                     "evt_2",
		Type:                   EventPaymentFailed,
		ProviderSubscriptionID: "sub_1",
		ProviderCustomerID:     "cus_1",
	}
	require.NoError(t, r.Apply(context.Background(), failed))

	record := store.records["user-1"]
	assert.Equal(t, subscription.StatusPastDue, record.Status)
	assert.Equal(t, tier.Pro, record.TierID)
}

func TestApplyPaymentSucceededClearsPastDue(t *testing.T) {
	r, store := testReconciler(t)
	seedRecord(store)
	require.NoError(t, r.Apply(context.Background(), createdEvent()))
	store.records["user-1"].Status = subscription.StatusPastDue

	succeeded := &Event{
		ID:                     "evt_2",
		Type:                   EventPaymentSucceeded,
		ProviderSubscriptionID: "sub_1",
		ProviderCustomerID:     "cus_1",
	}
	require.NoError(t, r.Apply(context.Background(), succeeded))

	assert.Equal(t, subscription.StatusActive, store.records["user-1"].Status)
}

func TestApplyPaymentEventForDifferentSubscriptionIgnored(t *testing.T) {
	r, store := testReconciler(t)
	seedRecord(store)
	require.NoError(t, r.Apply(context.Background(), createdEvent()))

	stray := &Event{
		ID:                     "evt_2",
		Type:                   EventPaymentFailed,
		ProviderSubscriptionID: "sub_someone_elses",
		ProviderCustomerID:     "cus_1",
	}
	require.NoError(t, r.Apply(context.Background(), stray))

	assert.Equal(t, subscription.StatusActive, store.records["user-1"].Status)
}

func TestApplyUnlinkedEventReturnsErrNotLinked(t *testing.T) {
	r, _ := testReconciler(t)

	err := r.Apply(context.Background(), createdEvent())
	assert.ErrorIs(t, err, ErrNotLinked)
}

func TestApplyUnknownTypeIgnored(t *testing.T) {
	r, store := testReconciler(t)
	seedRecord(store)

	ev := createdEvent()
	ev.Type = EventType("customer.discount.created")
	require.NoError(t, r.Apply(context.Background(), ev))

	assert.Equal(t, tier.Free, store.records["user-1"].TierID)
}
