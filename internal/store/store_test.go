package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/chatrelay/chatrelay/internal/seal"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "chat.db"), "test-passphrase")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUserLifecycle(t *testing.T) {
	s := openTestStore(t)

	hash, err := seal.HashSecret("secret")
	if err != nil {
		t.Fatalf("hash secret: %v", err)
	}
	if err := s.CreateUser("alice", hash); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := s.CreateUser("alice", hash); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}

	stored, ok, err := s.UserHash("alice")
	if err != nil || !ok {
		t.Fatalf("user hash: ok=%v err=%v", ok, err)
	}
	if err := seal.VerifySecret("secret", stored); err != nil {
		t.Fatalf("stored hash does not verify: %v", err)
	}

	if _, ok, _ := s.UserHash("nobody"); ok {
		t.Fatal("expected unknown user to be absent")
	}

	if err := s.CreateUser("bob", hash); err != nil {
		t.Fatalf("create user: %v", err)
	}
	users, err := s.Usernames()
	if err != nil {
		t.Fatalf("usernames: %v", err)
	}
	if len(users) != 2 || users[0] != "alice" || users[1] != "bob" {
		t.Fatalf("unexpected user list: %v", users)
	}
}

func TestMessageContentSealedAtRest(t *testing.T) {
	s := openTestStore(t)

	if err := s.AppendMessage("alice", "bob", "top secret", "text", time.Now()); err != nil {
		t.Fatalf("append message: %v", err)
	}

	var raw string
	if err := s.db.QueryRow(`SELECT content FROM messages LIMIT 1`).Scan(&raw); err != nil {
		t.Fatalf("read raw content: %v", err)
	}
	if raw == "top secret" {
		t.Fatal("expected content to be sealed at rest")
	}

	history, err := s.History("alice", "bob", 50)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Content != "top secret" {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestHistoryPairSymmetryOrderAndLimit(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 60; i++ {
		sender, receiver := "alice", "bob"
		if i%2 == 1 {
			sender, receiver = "bob", "alice"
		}
		if err := s.AppendMessage(sender, receiver, fmt.Sprintf("msg-%02d", i), "text",
			base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("append message %d: %v", i, err)
		}
	}
	// Unrelated traffic must never appear in the pair history.
	if err := s.AppendMessage("alice", "carol", "other", "text", base); err != nil {
		t.Fatalf("append message: %v", err)
	}

	for _, pair := range [][2]string{{"alice", "bob"}, {"bob", "alice"}} {
		history, err := s.History(pair[0], pair[1], 50)
		if err != nil {
			t.Fatalf("history %v: %v", pair, err)
		}
		if len(history) != 50 {
			t.Fatalf("expected 50 records, got %d", len(history))
		}
		// The most recent 50 of 60, ascending: msg-10 .. msg-59.
		if history[0].Content != "msg-10" {
			t.Fatalf("expected oldest returned record msg-10, got %s", history[0].Content)
		}
		if history[49].Content != "msg-59" {
			t.Fatalf("expected newest record msg-59, got %s", history[49].Content)
		}
		for i := 1; i < len(history); i++ {
			if history[i-1].Content > history[i].Content {
				t.Fatalf("history out of order at %d: %s then %s", i, history[i-1].Content, history[i].Content)
			}
		}
	}
}

func TestStoreReopenKeepsContentReadable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chat.db")

	s, err := Open(path, "passphrase")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := s.AppendMessage("alice", "bob", "survives restart", "text", time.Now()); err != nil {
		t.Fatalf("append message: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	reopened, err := Open(path, "passphrase")
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	history, err := reopened.History("bob", "alice", 50)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Content != "survives restart" {
		t.Fatalf("unexpected history after reopen: %+v", history)
	}
}

func TestHistoryWrongPassphraseYieldsPlaceholder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chat.db")

	s, err := Open(path, "correct")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := s.AppendMessage("alice", "bob", "hidden", "text", time.Now()); err != nil {
		t.Fatalf("append message: %v", err)
	}
	s.Close()

	wrong, err := Open(path, "incorrect")
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer wrong.Close()

	history, err := wrong.History("alice", "bob", 50)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Content != "[Error]" {
		t.Fatalf("expected decrypt placeholder, got %+v", history)
	}
}

func TestGroupLifecycle(t *testing.T) {
	s := openTestStore(t)

	pinHash, err := seal.HashSecret("1234")
	if err != nil {
		t.Fatalf("hash pin: %v", err)
	}
	if err := s.CreateGroup("team", pinHash, "carol", time.Now()); err != nil {
		t.Fatalf("create group: %v", err)
	}
	if err := s.CreateGroup("team", pinHash, "carol", time.Now()); !errors.Is(err, ErrGroupExists) {
		t.Fatalf("expected ErrGroupExists, got %v", err)
	}

	g, err := s.Group("team")
	if err != nil {
		t.Fatalf("load group: %v", err)
	}
	if g.Creator != "carol" || len(g.Members) != 1 || g.Members[0] != "carol" {
		t.Fatalf("unexpected group record: %+v", g)
	}

	if _, err := s.Group("ghost"); !errors.Is(err, ErrUnknownGroup) {
		t.Fatalf("expected ErrUnknownGroup, got %v", err)
	}

	if err := s.SetMembers("team", []string{"carol", "dave"}); err != nil {
		t.Fatalf("set members: %v", err)
	}
	if ok, _ := s.IsMember("dave", "team"); !ok {
		t.Fatal("expected dave to be a member")
	}
	if ok, _ := s.IsMember("dave", "ghost"); ok {
		t.Fatal("unknown group must report non-membership")
	}

	if err := s.SetMembers("ghost", []string{"x"}); !errors.Is(err, ErrUnknownGroup) {
		t.Fatalf("expected ErrUnknownGroup on update, got %v", err)
	}

	mine, err := s.GroupsFor("dave")
	if err != nil {
		t.Fatalf("groups for: %v", err)
	}
	if len(mine) != 1 || mine[0].Name != "team" || mine[0].Creator != "carol" {
		t.Fatalf("unexpected personal listing: %+v", mine)
	}

	names, err := s.GroupNames()
	if err != nil {
		t.Fatalf("group names: %v", err)
	}
	if len(names) != 1 || names[0] != "team" {
		t.Fatalf("unexpected directory: %v", names)
	}
}
