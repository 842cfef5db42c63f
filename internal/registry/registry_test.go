package registry

import (
	"errors"
	"testing"
)

type fakeConn struct{ id string }

func (f *fakeConn) Send(frame []byte) bool { return true }

func TestSessionsSingleActiveInvariant(t *testing.T) {
	sessions := NewSessions()
	first := &fakeConn{id: "first"}
	second := &fakeConn{id: "second"}

	if err := sessions.Register("alice", first); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := sessions.Register("alice", second); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}

	// The original session must be unaffected by the rejected attempt.
	got, ok := sessions.Get("alice")
	if !ok || got != Conn(first) {
		t.Fatalf("expected original session to survive, got %v ok=%v", got, ok)
	}

	// A rejected session's cleanup must not evict the original binding.
	if sessions.Remove("alice", second) {
		t.Fatal("remove with losing conn must be a no-op")
	}
	if !sessions.Online("alice") {
		t.Fatal("expected alice to remain online")
	}

	if !sessions.Remove("alice", first) {
		t.Fatal("expected owning conn to unbind")
	}
	if sessions.Online("alice") {
		t.Fatal("expected alice offline after removal")
	}
}

func TestSessionsRegisterValidation(t *testing.T) {
	sessions := NewSessions()
	if err := sessions.Register("", &fakeConn{}); err == nil {
		t.Fatal("expected error for empty identity")
	}
	if sessions.Count() != 0 {
		t.Fatalf("expected empty registry, got %d", sessions.Count())
	}
}

func TestSessionsSnapshot(t *testing.T) {
	sessions := NewSessions()
	for _, id := range []string{"alice", "bob"} {
		if err := sessions.Register(id, &fakeConn{id: id}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	snap := sessions.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snap))
	}
	// Mutating the snapshot must not affect the registry.
	delete(snap, "alice")
	if !sessions.Online("alice") {
		t.Fatal("snapshot must be a copy")
	}
}

func TestRostersJoinIdempotentAndLeave(t *testing.T) {
	rosters := NewRosters()

	if rosters.Active("team") {
		t.Fatal("room must be inactive before first accept")
	}
	if !rosters.Join("team", "alice") {
		t.Fatal("first join must report newly added")
	}
	if rosters.Join("team", "alice") {
		t.Fatal("repeated join must be idempotent")
	}
	rosters.Join("team", "bob")
	rosters.Join("standup", "alice")

	got := rosters.Participants("team")
	if len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Fatalf("unexpected roster: %v", got)
	}

	rosters.Leave("alice")
	if rosters.Active("standup") {
		t.Fatal("expected empty roster to be dropped")
	}
	got = rosters.Participants("team")
	if len(got) != 1 || got[0] != "bob" {
		t.Fatalf("expected alice removed from all rooms, got %v", got)
	}

	if rosters.Participants("ghost") != nil {
		t.Fatal("unknown room must have no participants")
	}
}
