package slot

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/dialogued/internal/cache"
	"github.com/hrygo/dialogued/store"
)

// Store is the authoritative per-conversation slot value store: every write
// goes to the database first, then the cache, so a reader can never observe
// a cached value that isn't also durable (write-before-response).
type Store struct {
	db    *store.Store
	cache *cache.LRUCache[string, *store.SlotValue]
}

// NewStore wraps db with a bounded in-memory cache of the latest value per
// (session, intent, slot).
func NewStore(db *store.Store, capacity int, ttl time.Duration) *Store {
	if capacity <= 0 {
		capacity = 2048
	}
	return &Store{db: db, cache: cache.NewLRUCache[string, *store.SlotValue](capacity, ttl)}
}

func cacheKey(sessionID, intentName, slotName string) string {
	return fmt.Sprintf("slot:%s:%s:%s", sessionID, intentName, slotName)
}

// Put persists v and then updates the cache, returning the row as the
// driver returned it.
func (s *Store) Put(ctx context.Context, v *store.SlotValue) (*store.SlotValue, error) {
	created, err := s.db.CreateSlotValue(ctx, v)
	if err != nil {
		return nil, errors.Wrap(err, "failed to persist slot value")
	}
	s.cache.SetWithDefaultTTL(cacheKey(created.SessionID, created.IntentName, created.SlotName), created)
	return created, nil
}

// Get returns the latest value for (sessionID, intentName, slotName),
// checking the cache before falling back to the database.
func (s *Store) Get(ctx context.Context, sessionID, intentName, slotName string) (*store.SlotValue, bool, error) {
	key := cacheKey(sessionID, intentName, slotName)
	if v, ok := s.cache.Get(key); ok {
		return v, true, nil
	}

	values, err := s.db.FindSlotValues(ctx, &store.FindSlotValue{
		SessionID:  sessionID,
		IntentName: intentName,
		SlotName:   slotName,
		Latest:     true,
	})
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to load slot value")
	}
	if len(values) == 0 {
		return nil, false, nil
	}

	latest := values[0]
	s.cache.SetWithDefaultTTL(key, latest)
	return latest, true, nil
}

// Active returns every slot currently populated for (sessionID, intentName),
// keyed by slot name. Used to assemble the active slot set the orchestrator
// checks for completeness (spec.md §4.1 step 3).
func (s *Store) Active(ctx context.Context, sessionID, intentName string) (map[string]*store.SlotValue, error) {
	values, err := s.db.FindSlotValues(ctx, &store.FindSlotValue{
		SessionID:  sessionID,
		IntentName: intentName,
		Latest:     true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to load active slots")
	}

	out := make(map[string]*store.SlotValue, len(values))
	for _, v := range values {
		out[v.SlotName] = v
		s.cache.SetWithDefaultTTL(cacheKey(sessionID, intentName, v.SlotName), v)
	}
	return out, nil
}

// Invalidate drops every cached slot value for a session, used when a
// session transfers or resets and cached values would otherwise outlive
// their intent context.
func (s *Store) Invalidate(sessionID string) {
	s.cache.Invalidate(fmt.Sprintf("slot:%s:*", sessionID))
}
