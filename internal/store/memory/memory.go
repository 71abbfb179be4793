// Package memory is an in-process persistence backend for dry runs and
// tests. Nothing survives the process.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/homeinventory/internal/importer"
	"github.com/JonMunkholm/homeinventory/internal/mapping"
	"github.com/JonMunkholm/homeinventory/internal/store"
)

// Item is a committed inventory item.
type Item struct {
	ID uuid.UUID
	importer.NewItem
	CreatedAt time.Time
}

// Store keeps categories, rooms, items and profiles in maps.
type Store struct {
	mu         sync.RWMutex
	categories []importer.Reference
	rooms      []importer.Reference
	items      []Item
	profiles   map[uuid.UUID]mapping.Profile
}

// New returns an empty store.
func New() *Store {
	return &Store{profiles: make(map[uuid.UUID]mapping.Profile)}
}

// AddCategory registers a category and returns its id.
func (s *Store) AddCategory(name string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.categories = append(s.categories, importer.Reference{ID: id, Name: name})
	return id
}

// AddRoom registers a room and returns its id.
func (s *Store) AddRoom(name string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.rooms = append(s.rooms, importer.Reference{ID: id, Name: name})
	return id
}

// Items returns a copy of the committed items.
func (s *Store) Items() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Item(nil), s.items...)
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error { return nil }

// ============================================================================
// Import transaction
// ============================================================================

// Tx stages items until Commit. It implements importer.Persistence.
type Tx struct {
	store  *Store
	staged []Item
	done   bool
}

var _ importer.Persistence = (*Tx)(nil)

// BeginImport opens a staging transaction.
func (s *Store) BeginImport(ctx context.Context) (*Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Tx{store: s}, nil
}

// Opener adapts BeginImport for importer.Service.
func (s *Store) Opener() importer.Opener {
	return func(ctx context.Context) (importer.Persistence, error) {
		return s.BeginImport(ctx)
	}
}

func (t *Tx) Categories(ctx context.Context) ([]importer.Reference, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return append([]importer.Reference(nil), t.store.categories...), nil
}

func (t *Tx) Rooms(ctx context.Context) ([]importer.Reference, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return append([]importer.Reference(nil), t.store.rooms...), nil
}

// CreateItem stages item. Names must be non-empty and referenced category
// and room ids must exist.
func (t *Tx) CreateItem(ctx context.Context, item importer.NewItem) (uuid.UUID, error) {
	if t.done {
		return uuid.Nil, fmt.Errorf("create item: transaction closed")
	}
	if strings.TrimSpace(item.Name) == "" {
		return uuid.Nil, fmt.Errorf("create item: name is empty")
	}

	t.store.mu.RLock()
	catOK := item.CategoryID == nil || hasReference(t.store.categories, *item.CategoryID)
	roomOK := item.RoomID == nil || hasReference(t.store.rooms, *item.RoomID)
	t.store.mu.RUnlock()
	if !catOK {
		return uuid.Nil, fmt.Errorf("category %s: %w", item.CategoryID, store.ErrNotFound)
	}
	if !roomOK {
		return uuid.Nil, fmt.Errorf("room %s: %w", item.RoomID, store.ErrNotFound)
	}

	it := Item{ID: uuid.New(), NewItem: item, CreatedAt: time.Now()}
	t.staged = append(t.staged, it)
	return it.ID, nil
}

// Commit publishes every staged item.
func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("commit: transaction closed")
	}
	t.done = true

	t.store.mu.Lock()
	t.store.items = append(t.store.items, t.staged...)
	t.store.mu.Unlock()
	t.staged = nil
	return nil
}

// Rollback drops staged items.
func (t *Tx) Rollback(ctx context.Context) error {
	t.done = true
	t.staged = nil
	return nil
}

func hasReference(refs []importer.Reference, id uuid.UUID) bool {
	for _, r := range refs {
		if r.ID == id {
			return true
		}
	}
	return false
}

// ============================================================================
// Mapping profiles
// ============================================================================

// ListProfiles returns profiles ordered by name.
func (s *Store) ListProfiles(ctx context.Context) ([]mapping.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]mapping.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetProfile returns one profile or store.ErrNotFound.
func (s *Store) GetProfile(ctx context.Context, id uuid.UUID) (mapping.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return mapping.Profile{}, fmt.Errorf("mapping profile %s: %w", id, store.ErrNotFound)
	}
	return p, nil
}

// SaveProfile stores p under a new id. Names are unique.
func (s *Store) SaveProfile(ctx context.Context, p mapping.Profile) (mapping.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.profiles {
		if existing.Name == p.Name {
			return mapping.Profile{}, fmt.Errorf("mapping profile %s: %w", p.Name, store.ErrDuplicate)
		}
	}

	now := time.Now()
	p.ID = uuid.New()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.profiles[p.ID] = p
	return p, nil
}

// DeleteProfile removes a profile or returns store.ErrNotFound.
func (s *Store) DeleteProfile(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[id]; !ok {
		return fmt.Errorf("mapping profile %s: %w", id, store.ErrNotFound)
	}
	delete(s.profiles, id)
	return nil
}
