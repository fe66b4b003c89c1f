package rooms

import (
	"fmt"
	"regexp"
	"sort"
	"sync"

	"staybook/internal/core"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,39}$`)

// Registry manages the configured rooms, indexed by slug and by PMS key
type Registry struct {
	rooms map[string]*core.Room       // slug -> room
	byKey map[core.RoomKey]*core.Room // PMS key -> room
	mu    sync.RWMutex
}

// NewRegistry creates a new room registry
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*core.Room),
		byKey: make(map[core.RoomKey]*core.Room),
	}
}

// Register adds a room to the registry
func (r *Registry) Register(room *core.Room) error {
	// Slugs appear in URLs and cache patterns, so keep them plain
	if !slugPattern.MatchString(room.Slug) {
		return fmt.Errorf("room slug '%s' must be lowercase letters, digits or dashes (max 40)", room.Slug)
	}
	if err := room.Key.Validate(); err != nil {
		return fmt.Errorf("room %s: %w", room.Slug, err)
	}
	if room.Name == "" {
		room.Name = room.Slug
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[room.Slug]; exists {
		return fmt.Errorf("room %s already registered", room.Slug)
	}
	if other, exists := r.byKey[room.Key]; exists {
		return fmt.Errorf("room %s uses the same PMS room as %s", room.Slug, other.Slug)
	}

	r.rooms[room.Slug] = room
	r.byKey[room.Key] = room
	return nil
}

// Get retrieves a room by slug
func (r *Registry) Get(slug string) (*core.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, exists := r.rooms[slug]
	if !exists {
		return nil, fmt.Errorf("%w: %s", core.ErrRoomNotFound, slug)
	}

	return room, nil
}

// GetByKey retrieves a room by its PMS key
func (r *Registry) GetByKey(key core.RoomKey) (*core.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, exists := r.byKey[key]
	if !exists {
		return nil, fmt.Errorf("%w: %s", core.ErrRoomNotFound, key)
	}

	return room, nil
}

// List returns all registered rooms ordered by slug
func (r *Registry) List() []*core.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]*core.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Slug < rooms[j].Slug })

	return rooms
}

// Pricing returns the surcharge rules of every room, keyed by PMS key
func (r *Registry) Pricing() map[core.RoomKey]core.RoomPricing {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pricing := make(map[core.RoomKey]core.RoomPricing, len(r.byKey))
	for key, room := range r.byKey {
		pricing[key] = room.Pricing
	}
	return pricing
}
