package auth

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"polydearboard/pkg/types"
)

const (
	maxListsPerUser   = 20
	maxMembersPerList = 100
)

// ListError taxonomy: callers type-switch on these (via errors.Is) to pick
// an HTTP status, per the distinct-error-per-failure-mode rule for trader
// list mutations.
var (
	ErrLimitExceeded = errors.New("limit exceeded")
	ErrDuplicateName = errors.New("duplicate list name")
	ErrNotFound      = errors.New("not found")
	ErrNonceMismatch = errors.New("nonce mismatch")
)

// Store is the SQLite-backed user and trader-list store. All mutating
// operations serialize on a single mutex — the nonce-verify-and-rotate step
// in particular must run as one atomic unit, and SQLite's own single-writer
// model makes a single in-process lock the simplest way to guarantee that
// without juggling explicit transactions for every call site.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	secret string
	expiry time.Duration
}

// Open creates (or opens) the SQLite user database at path and runs the
// schema migration, then returns a Store configured to sign JWTs with
// secret and the given expiry.
func Open(path, secret string, expiry time.Duration) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite user db: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite + a single writer lock: avoid cross-connection contention

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS users (
	address    TEXT PRIMARY KEY,
	nonce      TEXT NOT NULL,
	issued_at  TEXT NOT NULL,
	created_at TEXT NOT NULL,
	last_login TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trader_lists (
	id         TEXT PRIMARY KEY,
	owner      TEXT NOT NULL,
	name       TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	UNIQUE(owner, name)
);

CREATE TABLE IF NOT EXISTS trader_list_members (
	list_id  TEXT NOT NULL,
	address  TEXT NOT NULL,
	label    TEXT,
	added_at TEXT NOT NULL,
	PRIMARY KEY (list_id, address),
	FOREIGN KEY (list_id) REFERENCES trader_lists(id) ON DELETE CASCADE
);`

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate user db schema: %w", err)
	}

	return &Store{db: db, secret: secret, expiry: expiry}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ————————————————————————————————————————————————————————————————————————
// Sign-in nonce protocol
// ————————————————————————————————————————————————————————————————————————

// IssueNonce upserts a fresh nonce for address and returns it with the
// issuedAt timestamp the client must echo back at /auth/verify.
func (s *Store) IssueNonce(address string) (nonce string, issuedAt time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr := lowerAddress(address)
	nonce, err = randomNonce()
	if err != nil {
		return "", time.Time{}, err
	}
	now := time.Now().UTC()

	_, err = s.db.Exec(`
		INSERT INTO users (address, nonce, issued_at, created_at, last_login)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET nonce = excluded.nonce, issued_at = excluded.issued_at, last_login = excluded.last_login`,
		addr, nonce, now.Format(time.RFC3339), now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("issue nonce: %w", err)
	}

	return nonce, now, nil
}

// Verify checks the EIP-712 signature over {address, nonce, issuedAt},
// confirms the claimed pair matches what was stored, rotates the nonce, and
// returns a signed session JWT. The whole nonce-check-then-rotate step runs
// under the store's lock so a replayed request can never observe the
// pre-rotation nonce as still valid.
func (s *Store) Verify(address, signatureHex, nonce, issuedAt string) (token string, err error) {
	recovered, err := recoverSignInSigner(address, nonce, issuedAt, signatureHex)
	if err != nil {
		return "", fmt.Errorf("recover signer: %w", err)
	}
	if lowerAddress(recovered.Hex()) != lowerAddress(address) {
		return "", fmt.Errorf("signature does not match claimed address")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	addr := lowerAddress(address)

	var storedNonce, storedIssuedAt string
	err = s.db.QueryRow(`SELECT nonce, issued_at FROM users WHERE address = ?`, addr).
		Scan(&storedNonce, &storedIssuedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNonceMismatch
		}
		return "", fmt.Errorf("load user: %w", err)
	}
	if storedNonce != nonce || storedIssuedAt != issuedAt {
		return "", ErrNonceMismatch
	}

	newNonce, err := randomNonce()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := s.db.Exec(`UPDATE users SET nonce = ?, last_login = ? WHERE address = ?`, newNonce, now, addr); err != nil {
		return "", fmt.Errorf("rotate nonce: %w", err)
	}

	return IssueToken(s.secret, addr, s.expiry)
}

// ValidateSession validates a bearer token and returns the wallet address
// it was issued for.
func (s *Store) ValidateSession(token string) (string, error) {
	return ValidateToken(s.secret, token)
}

func randomNonce() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func lowerAddress(s string) string {
	return strings.ToLower(s)
}

// ————————————————————————————————————————————————————————————————————————
// Trader lists
// ————————————————————————————————————————————————————————————————————————

// CreateTraderList creates a new named list for owner, enforcing the
// per-user list limit.
func (s *Store) CreateTraderList(owner, name string) (types.TraderList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM trader_lists WHERE owner = ?`, owner).Scan(&count); err != nil {
		return types.TraderList{}, fmt.Errorf("count lists: %w", err)
	}
	if count >= maxListsPerUser {
		return types.TraderList{}, fmt.Errorf("%w: maximum %d lists per user", ErrLimitExceeded, maxListsPerUser)
	}

	id := uuid.NewString()
	now := time.Now().UTC()

	_, err := s.db.Exec(`INSERT INTO trader_lists (id, owner, name, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, owner, name, now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		if isUniqueConstraintErr(err) {
			return types.TraderList{}, ErrDuplicateName
		}
		return types.TraderList{}, fmt.Errorf("create trader list: %w", err)
	}

	return types.TraderList{ID: id, Name: name, MemberCount: 0, CreatedAt: now, UpdatedAt: now}, nil
}

// ListTraderLists returns every list owned by owner, newest first.
func (s *Store) ListTraderLists(owner string) ([]types.TraderList, error) {
	rows, err := s.db.Query(`
		SELECT l.id, l.name, l.created_at, l.updated_at,
		       (SELECT COUNT(*) FROM trader_list_members m WHERE m.list_id = l.id)
		FROM trader_lists l
		WHERE l.owner = ?
		ORDER BY l.created_at DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("list trader lists: %w", err)
	}
	defer rows.Close()

	var out []types.TraderList
	for rows.Next() {
		var l types.TraderList
		var createdAt, updatedAt string
		if err := rows.Scan(&l.ID, &l.Name, &createdAt, &updatedAt, &l.MemberCount); err != nil {
			return nil, fmt.Errorf("scan trader list: %w", err)
		}
		l.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		l.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, l)
	}
	return out, rows.Err()
}

// GetTraderList returns a list's detail with members, scoped to owner.
// Returns ErrNotFound if the list doesn't exist or isn't owned by owner.
func (s *Store) GetTraderList(id, owner string) (types.TraderListDetail, error) {
	var detail types.TraderListDetail
	var createdAt, updatedAt string

	err := s.db.QueryRow(`SELECT name, created_at, updated_at FROM trader_lists WHERE id = ? AND owner = ?`, id, owner).
		Scan(&detail.Name, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.TraderListDetail{}, ErrNotFound
		}
		return types.TraderListDetail{}, fmt.Errorf("load trader list: %w", err)
	}
	detail.ID = id
	detail.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	detail.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	rows, err := s.db.Query(`SELECT address, label, added_at FROM trader_list_members WHERE list_id = ? ORDER BY added_at`, id)
	if err != nil {
		return types.TraderListDetail{}, fmt.Errorf("load members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m types.TraderListMember
		var label sql.NullString
		var addedAt string
		if err := rows.Scan(&m.Address, &label, &addedAt); err != nil {
			return types.TraderListDetail{}, fmt.Errorf("scan member: %w", err)
		}
		m.Label = label.String
		m.AddedAt, _ = time.Parse(time.RFC3339, addedAt)
		detail.Members = append(detail.Members, m)
	}

	return detail, rows.Err()
}

// RenameTraderList renames a list owned by owner. Returns ErrNotFound if
// no matching row was updated.
func (s *Store) RenameTraderList(id, owner, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE trader_lists SET name = ?, updated_at = ? WHERE id = ? AND owner = ?`, newName, now, id, owner)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return ErrDuplicateName
		}
		return fmt.Errorf("rename trader list: %w", err)
	}
	return requireRowsAffected(res)
}

// DeleteTraderList deletes a list owned by owner (its members cascade).
func (s *Store) DeleteTraderList(id, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM trader_lists WHERE id = ? AND owner = ?`, id, owner)
	if err != nil {
		return fmt.Errorf("delete trader list: %w", err)
	}
	return requireRowsAffected(res)
}

// AddListMembers appends members to a list owned by owner, enforcing the
// per-list member limit. INSERT OR IGNORE makes re-adding an existing
// member a no-op rather than an error.
func (s *Store) AddListMembers(listID, owner string, members []types.TraderListMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOwnership(listID, owner); err != nil {
		return err
	}

	var current int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM trader_list_members WHERE list_id = ?`, listID).Scan(&current); err != nil {
		return fmt.Errorf("count members: %w", err)
	}
	if current+len(members) > maxMembersPerList {
		return fmt.Errorf("%w: maximum %d members per list", ErrLimitExceeded, maxMembersPerList)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, m := range members {
		var label interface{}
		if m.Label != "" {
			label = m.Label
		}
		_, err := s.db.Exec(`INSERT OR IGNORE INTO trader_list_members (list_id, address, label, added_at) VALUES (?, ?, ?, ?)`,
			listID, lowerAddress(m.Address), label, now)
		if err != nil {
			return fmt.Errorf("add member %s: %w", m.Address, err)
		}
	}

	_, err := s.db.Exec(`UPDATE trader_lists SET updated_at = ? WHERE id = ?`, now, listID)
	return err
}

// RemoveListMembers removes members from a list owned by owner.
func (s *Store) RemoveListMembers(listID, owner string, addresses []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOwnership(listID, owner); err != nil {
		return err
	}

	for _, addr := range addresses {
		if _, err := s.db.Exec(`DELETE FROM trader_list_members WHERE list_id = ? AND address = ?`, listID, lowerAddress(addr)); err != nil {
			return fmt.Errorf("remove member %s: %w", addr, err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`UPDATE trader_lists SET updated_at = ? WHERE id = ?`, now, listID)
	return err
}

// GetListMemberAddresses returns the lowercased addresses in a list owned
// by owner — the set WSGateway's /ws/signals filter resolves against.
func (s *Store) GetListMemberAddresses(listID, owner string) ([]string, error) {
	if err := s.requireOwnership(listID, owner); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`SELECT address FROM trader_list_members WHERE list_id = ?`, listID)
	if err != nil {
		return nil, fmt.Errorf("load member addresses: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("scan address: %w", err)
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}

func (s *Store) requireOwnership(listID, owner string) error {
	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM trader_lists WHERE id = ? AND owner = ?`, listID, owner).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check list ownership: %w", err)
	}
	return nil
}

func requireRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// isUniqueConstraintErr detects a UNIQUE constraint violation from
// modernc.org/sqlite's error text, since it doesn't expose a typed
// extended-code error the way mattn/go-sqlite3 does.
func isUniqueConstraintErr(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
