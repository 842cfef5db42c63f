// Package store is the durable persistence layer: identities, the
// append-only message log, and group records, backed by a single sqlite
// database. Message content and group membership are sealed at rest.
package store

import (
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // sqlite driver

	"github.com/chatrelay/chatrelay/internal/seal"
)

var (
	// ErrUserExists reports a signup against a taken username.
	ErrUserExists = errors.New("username exists")
	// ErrGroupExists reports a group create against a taken name.
	ErrGroupExists = errors.New("group already exists")
	// ErrUnknownGroup reports a lookup of a group that does not exist.
	ErrUnknownGroup = errors.New("group not found")
)

// decryptFailurePlaceholder stands in for history rows whose content cannot
// be unsealed, matching the client-visible contract.
const decryptFailurePlaceholder = "[Error]"

// Message is one decrypted record of the message log.
type Message struct {
	Sender  string
	Content string
	Kind    string
}

// Group is a decoded group record.
type Group struct {
	Name    string
	PinHash string
	Creator string
	Members []string
}

// GroupInfo annotates a group name with its creator.
type GroupInfo struct {
	Name    string
	Creator string
}

// Store serializes every read and write through one mutex, which caps write
// throughput but keeps the durable state consistent across connection
// goroutines.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	sealer *seal.Sealer
}

// Open opens (or creates) the database at path, loads or generates the
// content-key salt, and prepares the schema.
func Open(path, passphrase string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil && !os.IsExist(err) {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// sqlite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	salt, err := s.contentSalt()
	if err != nil {
		db.Close()
		return nil, err
	}
	sealer, err := seal.NewSealer(passphrase, salt)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("derive content key: %w", err)
	}
	s.sealer = sealer
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sender TEXT NOT NULL,
		receiver TEXT NOT NULL,
		content TEXT NOT NULL,
		msg_type TEXT NOT NULL,
		timestamp REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender, receiver, timestamp);
	CREATE TABLE IF NOT EXISTS groups (
		name TEXT PRIMARY KEY,
		pin_hash TEXT NOT NULL,
		creator TEXT NOT NULL,
		members TEXT NOT NULL,
		created_at REAL NOT NULL
	);
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	return nil
}

// contentSalt loads the per-database key-derivation salt, generating it on
// first open so the same passphrase reopens existing data.
func (s *Store) contentSalt() ([]byte, error) {
	var encoded string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'content_salt'`).Scan(&encoded)
	switch {
	case err == nil:
		salt, decErr := base64.StdEncoding.DecodeString(encoded)
		if decErr != nil {
			return nil, fmt.Errorf("decode content salt: %w", decErr)
		}
		return salt, nil
	case errors.Is(err, sql.ErrNoRows):
		salt, genErr := seal.GenerateSalt(seal.SaltLength)
		if genErr != nil {
			return nil, genErr
		}
		if _, insErr := s.db.Exec(`INSERT INTO meta (key, value) VALUES ('content_salt', ?)`,
			base64.StdEncoding.EncodeToString(salt)); insErr != nil {
			return nil, fmt.Errorf("store content salt: %w", insErr)
		}
		return salt, nil
	default:
		return nil, fmt.Errorf("load content salt: %w", err)
	}
}

// CreateUser inserts a new identity. The hash is the encoded credential hash,
// never the plaintext password.
func (s *Store) CreateUser(username, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing string
	err := s.db.QueryRow(`SELECT username FROM users WHERE username = ?`, username).Scan(&existing)
	if err == nil {
		return ErrUserExists
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check username: %w", err)
	}
	if _, err := s.db.Exec(`INSERT INTO users (username, password_hash) VALUES (?, ?)`,
		username, passwordHash); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// UserHash returns the stored credential hash for username.
func (s *Store) UserHash(username string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var hash string
	err := s.db.QueryRow(`SELECT password_hash FROM users WHERE username = ?`, username).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load user: %w", err)
	}
	return hash, true, nil
}

// UserExists reports whether the identity is known.
func (s *Store) UserExists(username string) (bool, error) {
	_, ok, err := s.UserHash(username)
	return ok, err
}

// Usernames lists every known identity.
func (s *Store) Usernames() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT username FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// AppendMessage seals content and appends it to the message log. Records are
// immutable: never updated, never deleted.
func (s *Store) AppendMessage(sender, receiver, content, kind string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := s.sealer.Seal(content)
	if err != nil {
		return fmt.Errorf("seal content: %w", err)
	}
	if _, err := s.db.Exec(
		`INSERT INTO messages (sender, receiver, content, msg_type, timestamp) VALUES (?, ?, ?, ?, ?)`,
		sender, receiver, sealed, kind, toEpoch(ts)); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// History returns at most limit of the most recent records between the two
// identities (either call order), ascending by time, content unsealed in
// place. Undecryptable rows yield a placeholder rather than an error.
func (s *Store) History(a, b string, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT sender, content, msg_type FROM (
			SELECT id, sender, content, msg_type, timestamp FROM messages
			WHERE (sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?)
			ORDER BY timestamp DESC, id DESC LIMIT ?
		) ORDER BY timestamp ASC, id ASC`,
		a, b, b, a, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var history []Message
	for rows.Next() {
		var msg Message
		var sealed string
		if err := rows.Scan(&msg.Sender, &sealed, &msg.Kind); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		content, openErr := s.sealer.Open(sealed)
		if openErr != nil {
			content = decryptFailurePlaceholder
		}
		msg.Content = content
		history = append(history, msg)
	}
	return history, rows.Err()
}

// CreateGroup stores a new group whose initial membership is exactly the
// creator.
func (s *Store) CreateGroup(name, pinHash, creator string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing string
	err := s.db.QueryRow(`SELECT name FROM groups WHERE name = ?`, name).Scan(&existing)
	if err == nil {
		return ErrGroupExists
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check group: %w", err)
	}

	sealed, err := s.sealMembers([]string{creator})
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(
		`INSERT INTO groups (name, pin_hash, creator, members, created_at) VALUES (?, ?, ?, ?, ?)`,
		name, pinHash, creator, sealed, toEpoch(ts)); err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	return nil
}

// Group fetches a full group record.
func (s *Store) Group(name string) (Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groupLocked(name)
}

func (s *Store) groupLocked(name string) (Group, error) {
	var g Group
	var sealed string
	err := s.db.QueryRow(`SELECT name, pin_hash, creator, members FROM groups WHERE name = ?`, name).
		Scan(&g.Name, &g.PinHash, &g.Creator, &sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return Group{}, ErrUnknownGroup
	}
	if err != nil {
		return Group{}, fmt.Errorf("load group: %w", err)
	}
	g.Members, err = s.openMembers(sealed)
	if err != nil {
		return Group{}, err
	}
	return g, nil
}

// SetMembers rewrites the full membership set of a group.
func (s *Store) SetMembers(name string, members []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := s.sealMembers(members)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`UPDATE groups SET members = ? WHERE name = ?`, sealed, name)
	if err != nil {
		return fmt.Errorf("update members: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUnknownGroup
	}
	return nil
}

// GroupNames lists every group name.
func (s *Store) GroupNames() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT name FROM groups ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// GroupsFor returns the groups the identity belongs to, with creator
// annotation.
func (s *Store) GroupsFor(username string) ([]GroupInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT name, creator, members FROM groups ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var mine []GroupInfo
	for rows.Next() {
		var name, creator, sealed string
		if err := rows.Scan(&name, &creator, &sealed); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		members, err := s.openMembers(sealed)
		if err != nil {
			continue
		}
		for _, m := range members {
			if m == username {
				mine = append(mine, GroupInfo{Name: name, Creator: creator})
				break
			}
		}
	}
	return mine, rows.Err()
}

// Members returns the current membership of a group.
func (s *Store) Members(name string) ([]string, error) {
	g, err := s.Group(name)
	if err != nil {
		return nil, err
	}
	return g.Members, nil
}

// IsMember reports whether username is currently in the group. Unknown groups
// report false.
func (s *Store) IsMember(username, name string) (bool, error) {
	members, err := s.Members(name)
	if errors.Is(err, ErrUnknownGroup) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, m := range members {
		if m == username {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) sealMembers(members []string) (string, error) {
	encoded, err := json.Marshal(members)
	if err != nil {
		return "", fmt.Errorf("encode members: %w", err)
	}
	sealed, err := s.sealer.Seal(string(encoded))
	if err != nil {
		return "", fmt.Errorf("seal members: %w", err)
	}
	return sealed, nil
}

func (s *Store) openMembers(sealed string) ([]string, error) {
	plain, err := s.sealer.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("open members: %w", err)
	}
	var members []string
	if err := json.Unmarshal([]byte(plain), &members); err != nil {
		return nil, fmt.Errorf("decode members: %w", err)
	}
	return members, nil
}

func toEpoch(ts time.Time) float64 {
	return float64(ts.UnixNano()) / float64(time.Second)
}
