package room

import (
	"sort"
	"sync"
)

// Observer is told when rooms open and close. Calls are made while the
// registry lock is held, in order, so implementations must not block.
// Every RoomOpened is matched by exactly one RoomClosed.
type Observer interface {
	RoomOpened(stats Stats)
	RoomClosed(stats Stats)
}

// Observers fans lifecycle events out to several observers.
type Observers []Observer

func (o Observers) RoomOpened(stats Stats) {
	for _, obs := range o {
		if obs != nil {
			obs.RoomOpened(stats)
		}
	}
}

func (o Observers) RoomClosed(stats Stats) {
	for _, obs := range o {
		if obs != nil {
			obs.RoomClosed(stats)
		}
	}
}

// Registry is the table of active rooms. A room lives in it from the first
// join until its member set is empty again.
//
// The registry lock only guards the map. Work inside a room, such as
// admitting a member and sending it the snapshot, runs under that room's
// lock alone so one busy room cannot stall the others.
type Registry struct {
	mu       sync.Mutex
	rooms    map[string]*Room
	observer Observer
}

func NewRegistry(observer Observer) *Registry {
	return &Registry{
		rooms:    make(map[string]*Room),
		observer: observer,
	}
}

// GetOrCreate returns the room for id, creating an empty one if absent.
func (g *Registry) GetOrCreate(id string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.getOrCreateLocked(id)
}

func (g *Registry) getOrCreateLocked(id string) *Room {
	if rm, ok := g.rooms[id]; ok {
		if !rm.closed.Load() {
			return rm
		}
		// Closed by its last leave, which has not retired it yet.
		g.retireLocked(rm)
	}
	rm := NewRoom(id)
	g.rooms[id] = rm
	if g.observer != nil {
		g.observer.RoomOpened(rm.Stats())
	}
	return rm
}

// RemoveIfEmpty deletes the room (and its snapshot) when it has no members.
func (g *Registry) RemoveIfEmpty(id string) bool {
	rm := g.Get(id)
	if rm == nil || !rm.closeIfEmpty() {
		return false
	}
	return g.retire(rm)
}

func (g *Registry) retire(rm *Room) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.retireLocked(rm)
}

// retireLocked drops a closed room from the table. Only the call that
// removes it reports RoomClosed.
func (g *Registry) retireLocked(rm *Room) bool {
	if g.rooms[rm.ID] != rm {
		return false
	}
	delete(g.rooms, rm.ID)
	if g.observer != nil {
		g.observer.RoomClosed(rm.Stats())
	}
	return true
}

// Join admits m into room id, creating the room if needed. If the room is
// closed by a concurrent Leave before m gets in, Join starts over with a
// fresh room.
func (g *Registry) Join(id string, m Member, welcome func(files map[string]string) []byte) *Room {
	for {
		rm := g.GetOrCreate(id)
		if _, ok := rm.admit(m, welcome); ok {
			return rm
		}
	}
}

// Leave removes m from rm and drops rm from the registry if it is now
// empty. It reports whether this call removed the room.
func (g *Registry) Leave(rm *Room, m Member) bool {
	rm.RemoveMember(m)
	if !rm.closeIfEmpty() {
		return false
	}
	return g.retire(rm)
}

func (g *Registry) Get(id string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rooms[id]
}

func (g *Registry) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// list copies the room table so callers can inspect rooms without holding
// the registry lock.
func (g *Registry) list() []*Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, rm := range g.rooms {
		rooms = append(rooms, rm)
	}
	return rooms
}

// ClientCount is the number of members across all rooms.
func (g *Registry) ClientCount() int {
	total := 0
	for _, rm := range g.list() {
		total += rm.Len()
	}
	return total
}

// ActiveRooms maps room ID to member count.
func (g *Registry) ActiveRooms() map[string]int {
	rooms := g.list()
	out := make(map[string]int, len(rooms))
	for _, rm := range rooms {
		out[rm.ID] = rm.Len()
	}
	return out
}

// Rooms returns stats for every active room ordered by ID.
func (g *Registry) Rooms() []Stats {
	rooms := g.list()
	out := make([]Stats, 0, len(rooms))
	for _, rm := range rooms {
		out = append(out, rm.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
