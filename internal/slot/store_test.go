package slot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/dialogued/store"
)

// fakeDriver embeds store.Driver unset so any method this test doesn't
// override panics loudly instead of silently behaving like a real backend.
type fakeDriver struct {
	store.Driver
	values []*store.SlotValue
	nextID int64
}

func (f *fakeDriver) CreateSlotValue(ctx context.Context, v *store.SlotValue) (*store.SlotValue, error) {
	f.nextID++
	cp := *v
	cp.CreatedTs = time.Now().Unix()
	f.values = append(f.values, &cp)
	return &cp, nil
}

func (f *fakeDriver) FindSlotValues(ctx context.Context, find *store.FindSlotValue) ([]*store.SlotValue, error) {
	var out []*store.SlotValue
	for _, v := range f.values {
		if find.SessionID != "" && v.SessionID != find.SessionID {
			continue
		}
		if find.IntentName != "" && v.IntentName != find.IntentName {
			continue
		}
		if find.SlotName != "" && v.SlotName != find.SlotName {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func newTestStore() (*Store, *fakeDriver) {
	fd := &fakeDriver{}
	return NewStore(store.New(fd), 64, time.Minute), fd
}

func TestSlotStore_PutThenGetHitsCache(t *testing.T) {
	s, fd := newTestStore()
	ctx := context.Background()

	_, err := s.Put(ctx, &store.SlotValue{
		SessionID: "sess-1", IntentName: "book_flight", SlotName: "origin", NormalizedValue: "beijing",
	})
	require.NoError(t, err)
	require.Len(t, fd.values, 1)

	v, ok, err := s.Get(ctx, "sess-1", "book_flight", "origin")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "beijing", v.NormalizedValue)
}

func TestSlotStore_GetFallsBackToDB(t *testing.T) {
	s, fd := newTestStore()
	ctx := context.Background()

	fd.values = append(fd.values, &store.SlotValue{
		SessionID: "sess-1", IntentName: "book_flight", SlotName: "destination", NormalizedValue: "shanghai",
	})

	v, ok, err := s.Get(ctx, "sess-1", "book_flight", "destination")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "shanghai", v.NormalizedValue)
}

func TestSlotStore_GetMissing(t *testing.T) {
	s, _ := newTestStore()
	_, ok, err := s.Get(context.Background(), "sess-1", "book_flight", "origin")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSlotStore_Active(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	_, err := s.Put(ctx, &store.SlotValue{SessionID: "sess-1", IntentName: "book_flight", SlotName: "origin", NormalizedValue: "beijing"})
	require.NoError(t, err)
	_, err = s.Put(ctx, &store.SlotValue{SessionID: "sess-1", IntentName: "book_flight", SlotName: "destination", NormalizedValue: "shanghai"})
	require.NoError(t, err)

	active, err := s.Active(ctx, "sess-1", "book_flight")
	require.NoError(t, err)
	assert.Len(t, active, 2)
	assert.Equal(t, "beijing", active["origin"].NormalizedValue)
}

func TestSlotStore_InvalidateClearsCache(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	_, err := s.Put(ctx, &store.SlotValue{SessionID: "sess-1", IntentName: "book_flight", SlotName: "origin", NormalizedValue: "beijing"})
	require.NoError(t, err)

	s.Invalidate("sess-1")
	assert.False(t, s.cache.Contains(cacheKey("sess-1", "book_flight", "origin")))
}
