package room

import (
	"fmt"
	"sync"
	"testing"
)

// Records payloads like a client's outbound queue
type mockMember struct {
	id   string
	send chan []byte
}

func newMockMember(id string, buffer int) *mockMember {
	return &mockMember{id: id, send: make(chan []byte, buffer)}
}

func (m *mockMember) ID() string { return m.id }

func (m *mockMember) Send(payload []byte) bool {
	select {
	case m.send <- payload:
		return true
	default:
		return false
	}
}

func (m *mockMember) drain() []string {
	var out []string
	for {
		select {
		case p := <-m.send:
			out = append(out, string(p))
		default:
			return out
		}
	}
}

func TestRoomMembership(t *testing.T) {
	rm := NewRoom("test-room")
	a := newMockMember("a", 8)
	b := newMockMember("b", 8)

	rm.AddMember(a)
	rm.AddMember(b)
	rm.AddMember(a)

	if rm.Len() != 2 {
		t.Errorf("Expected 2 members, got %d", rm.Len())
	}
	if !rm.HasMember(a) {
		t.Error("Expected a to be a member")
	}

	if !rm.RemoveMember(a) {
		t.Error("Expected RemoveMember(a) to report removal")
	}
	if rm.RemoveMember(a) {
		t.Error("Second RemoveMember(a) should report false")
	}
	if rm.Len() != 1 {
		t.Errorf("Expected 1 member, got %d", rm.Len())
	}
	if rm.Stats().PeakMembers != 2 {
		t.Errorf("Expected peak of 2, got %d", rm.Stats().PeakMembers)
	}
}

func TestRoomLastWriteWins(t *testing.T) {
	rm := NewRoom("test-room")

	rm.ApplyEdit("a", "1")
	rm.ApplyEdit("a", "2")

	snap := rm.Snapshot()
	if len(snap) != 1 || snap["a"] != "2" {
		t.Errorf("Expected {a: 2}, got %v", snap)
	}
	if rm.Stats().Edits != 2 {
		t.Errorf("Expected 2 edits counted, got %d", rm.Stats().Edits)
	}
}

func TestRoomSetProjectReplaces(t *testing.T) {
	rm := NewRoom("test-room")
	rm.ApplyEdit("old.txt", "gone")

	files := map[string]string{"x.txt": "v1", "y.txt": "v2"}
	rm.SetProject(files)
	files["x.txt"] = "mutated by caller"

	snap := rm.Snapshot()
	if _, ok := snap["old.txt"]; ok {
		t.Error("SetProject should replace the whole snapshot")
	}
	if snap["x.txt"] != "v1" {
		t.Errorf("Snapshot should not alias the caller's map, got %q", snap["x.txt"])
	}

	snap["y.txt"] = "mutated by reader"
	if rm.Snapshot()["y.txt"] != "v2" {
		t.Error("Snapshot should return a copy")
	}
}

func TestRoomPathsSorted(t *testing.T) {
	rm := NewRoom("test-room")
	rm.SetProject(map[string]string{"b.go": "bb", "a.go": "a", "c/d.go": "ddd"})

	paths := rm.Paths()
	want := []string{"a.go", "b.go", "c/d.go"}
	if fmt.Sprint(paths) != fmt.Sprint(want) {
		t.Errorf("Expected %v, got %v", want, paths)
	}
	if rm.Stats().Bytes != 6 {
		t.Errorf("Expected 6 bytes, got %d", rm.Stats().Bytes)
	}
}

func TestAdmitSendsSnapshotOnlyWhenNonEmpty(t *testing.T) {
	rm := NewRoom("test-room")
	welcome := func(files map[string]string) []byte {
		return []byte(fmt.Sprintf("init:%d", len(files)))
	}

	first := newMockMember("first", 8)
	if rm.Admit(first, welcome) {
		t.Error("Admit into an empty project should not send a snapshot")
	}
	if got := first.drain(); len(got) != 0 {
		t.Errorf("Expected no messages, got %v", got)
	}

	rm.ApplyEdit("a.txt", "hello")

	second := newMockMember("second", 8)
	if !rm.Admit(second, welcome) {
		t.Error("Admit into a non-empty project should send a snapshot")
	}
	got := second.drain()
	if len(got) != 1 || got[0] != "init:1" {
		t.Errorf("Expected [init:1], got %v", got)
	}
	if rm.Len() != 2 {
		t.Errorf("Expected 2 members, got %d", rm.Len())
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	rm := NewRoom("test-room")
	x := newMockMember("x", 8)
	y := newMockMember("y", 8)
	z := newMockMember("z", 8)
	rm.AddMember(x)
	rm.AddMember(y)
	rm.AddMember(z)

	d := rm.Broadcast(x, []byte("hello"))
	if d.Sent != 2 || d.Dropped != 0 {
		t.Errorf("Expected 2 sent, 0 dropped, got %+v", d)
	}

	if got := x.drain(); len(got) != 0 {
		t.Errorf("Sender should not receive its own message, got %v", got)
	}
	for _, m := range []*mockMember{y, z} {
		got := m.drain()
		if len(got) != 1 || got[0] != "hello" {
			t.Errorf("%s: expected exactly one 'hello', got %v", m.id, got)
		}
	}
}

func TestBroadcastSkipsStalledMember(t *testing.T) {
	rm := NewRoom("test-room")
	sender := newMockMember("sender", 8)
	stalled := newMockMember("stalled", 0)
	healthy := newMockMember("healthy", 8)
	rm.AddMember(sender)
	rm.AddMember(stalled)
	rm.AddMember(healthy)

	d := rm.Broadcast(sender, []byte("edit"))
	if d.Sent != 1 || d.Dropped != 1 {
		t.Errorf("Expected 1 sent, 1 dropped, got %+v", d)
	}
	if got := healthy.drain(); len(got) != 1 {
		t.Errorf("Healthy member should still receive the message, got %v", got)
	}
	if !rm.HasMember(stalled) {
		t.Error("A failed delivery must not evict the member")
	}
	if rm.Stats().Dropped != 1 {
		t.Errorf("Expected 1 dropped delivery recorded, got %d", rm.Stats().Dropped)
	}
}

func TestEditAppliesAndBroadcasts(t *testing.T) {
	rm := NewRoom("test-room")
	a := newMockMember("a", 8)
	b := newMockMember("b", 8)
	rm.AddMember(a)
	rm.AddMember(b)

	rm.Edit(a, "x.txt", "v2", []byte("edit-v2"))

	if rm.Snapshot()["x.txt"] != "v2" {
		t.Error("Edit should update the snapshot")
	}
	if got := b.drain(); len(got) != 1 || got[0] != "edit-v2" {
		t.Errorf("Expected [edit-v2], got %v", got)
	}
	if got := a.drain(); len(got) != 0 {
		t.Errorf("Sender should receive nothing, got %v", got)
	}

	rm.ReplaceProject(b, map[string]string{"y.txt": "new"}, []byte("init"))
	snap := rm.Snapshot()
	if len(snap) != 1 || snap["y.txt"] != "new" {
		t.Errorf("Expected {y.txt: new}, got %v", snap)
	}
	if got := a.drain(); len(got) != 1 || got[0] != "init" {
		t.Errorf("Expected [init], got %v", got)
	}
}

func TestRoomConcurrency(t *testing.T) {
	rm := NewRoom("test-room")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := newMockMember(fmt.Sprintf("m-%d", i), 256)
			rm.AddMember(m)
			rm.Edit(m, fmt.Sprintf("file-%d", i%10), fmt.Sprint(i), []byte("x"))
			rm.Broadcast(m, []byte("cursor"))
		}(i)
	}
	wg.Wait()

	if rm.Len() != 100 {
		t.Errorf("Expected 100 members, got %d", rm.Len())
	}
	if len(rm.Snapshot()) != 10 {
		t.Errorf("Expected 10 files, got %d", len(rm.Snapshot()))
	}
	if rm.Stats().Edits != 100 {
		t.Errorf("Expected 100 edits, got %d", rm.Stats().Edits)
	}
}
