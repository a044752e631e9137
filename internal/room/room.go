package room

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Member is one participant that can receive relayed payloads.
// Send must not block: it enqueues the payload or reports false.
type Member interface {
	ID() string
	Send(payload []byte) bool
}

// A collaborative editing session: a member set plus the shared project
// snapshot. All mutation is serialized by mu.
type Room struct {
	ID string

	// Session identifies this lifetime of the room; a room recreated under
	// the same ID gets a new one.
	Session  string
	OpenedAt time.Time

	mu          sync.RWMutex
	closed      atomic.Bool // set under mu once the room is retired
	members     map[Member]struct{}
	files       map[string]string
	peakMembers int

	edits      atomic.Uint64
	broadcasts atomic.Uint64
	dropped    atomic.Uint64
}

// Stats is a point-in-time summary of a room.
type Stats struct {
	ID          string    `json:"id"`
	Session     string    `json:"session"`
	Members     int       `json:"members"`
	PeakMembers int       `json:"peak_members"`
	Files       int       `json:"files"`
	Bytes       int       `json:"bytes"`
	Edits       uint64    `json:"edits"`
	Broadcasts  uint64    `json:"broadcasts"`
	Dropped     uint64    `json:"dropped"`
	OpenedAt    time.Time `json:"opened_at"`
}

// Creates a new empty room with the given ID
func NewRoom(id string) *Room {
	return &Room{
		ID:       id,
		Session:  uuid.NewString(),
		OpenedAt: time.Now().UTC(),
		members:  make(map[Member]struct{}),
		files:    make(map[string]string),
	}
}

func (r *Room) AddMember(m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addLocked(m)
}

func (r *Room) addLocked(m Member) {
	r.members[m] = struct{}{}
	if len(r.members) > r.peakMembers {
		r.peakMembers = len(r.members)
	}
}

// RemoveMember reports whether m was a member.
func (r *Room) RemoveMember(m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[m]; !ok {
		return false
	}
	delete(r.members, m)
	return true
}

// Admit adds m and, if the project is non-empty, sends it the payload
// produced by welcome. Both happen under the room lock so no broadcast can
// reach m ahead of a snapshot older than itself. A closed room admits
// nobody.
func (r *Room) Admit(m Member, welcome func(files map[string]string) []byte) bool {
	sent, _ := r.admit(m, welcome)
	return sent
}

func (r *Room) admit(m Member, welcome func(files map[string]string) []byte) (sent, admitted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Load() {
		return false, false
	}
	r.addLocked(m)
	if len(r.files) == 0 || welcome == nil {
		return false, true
	}
	payload := welcome(copyFiles(r.files))
	if payload == nil {
		return false, true
	}
	if !m.Send(payload) {
		r.dropped.Add(1)
		return false, true
	}
	return true, true
}

// closeIfEmpty marks the room closed when it has no members. Once closed a
// room never reopens.
func (r *Room) closeIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed.Load() {
		return true
	}
	if len(r.members) > 0 {
		return false
	}
	r.closed.Store(true)
	return true
}

func (r *Room) HasMember(m Member) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[m]
	return ok
}

func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// SetProject replaces the whole snapshot. The map is copied.
func (r *Room) SetProject(files map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = copyFiles(files)
}

// ApplyEdit inserts or overwrites one path.
func (r *Room) ApplyEdit(path, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applyEditLocked(path, content)
}

func (r *Room) applyEditLocked(path, content string) {
	if r.files == nil {
		r.files = make(map[string]string)
	}
	r.files[path] = content
	r.edits.Add(1)
}

// Returns a copy of the project snapshot
func (r *Room) Snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyFiles(r.files)
}

// Paths returns the snapshot's file paths in sorted order.
func (r *Room) Paths() []string {
	r.mu.RLock()
	paths := make([]string, 0, len(r.files))
	for p := range r.files {
		paths = append(paths, p)
	}
	r.mu.RUnlock()

	sort.Strings(paths)
	return paths
}

func (r *Room) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	size := 0
	for _, content := range r.files {
		size += len(content)
	}
	return Stats{
		ID:          r.ID,
		Session:     r.Session,
		Members:     len(r.members),
		PeakMembers: r.peakMembers,
		Files:       len(r.files),
		Bytes:       size,
		Edits:       r.edits.Load(),
		Broadcasts:  r.broadcasts.Load(),
		Dropped:     r.dropped.Load(),
		OpenedAt:    r.OpenedAt,
	}
}

func copyFiles(files map[string]string) map[string]string {
	out := make(map[string]string, len(files))
	for path, content := range files {
		out[path] = content
	}
	return out
}
