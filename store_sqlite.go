package padsync

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"golang.org/x/crypto/bcrypt"
)

const passwordHashCost = 12

// SqlitePadStore persists pads, collaborators and version history in sqlite.
// schema mirrors the platform's pad tables. the crud layer owning the
// canonical rows is elsewhere; this adapter implements what the sync core
// consumes, plus the minimal setup operations the daemon and tests need.
type SqlitePadStore struct {
	db *sql.DB
}

func NewSqlitePadStore(path string) (*SqlitePadStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	store := &SqlitePadStore{
		db: db,
	}
	if err := store.setup(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (self *SqlitePadStore) setup() error {
	_, err := self.db.Exec(`
		CREATE TABLE IF NOT EXISTS pads (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			is_public INTEGER NOT NULL DEFAULT 0,
			password_hash TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMP NOT NULL
		);
		CREATE TABLE IF NOT EXISTS pad_collaborators (
			pad_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			permission TEXT NOT NULL DEFAULT 'write',
			PRIMARY KEY (pad_id, user_id)
		);
		CREATE TABLE IF NOT EXISTS pad_versions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pad_id TEXT NOT NULL,
			content TEXT NOT NULL,
			created_by TEXT NOT NULL,
			change_summary TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		);
	`)
	return err
}

func (self *SqlitePadStore) CreatePad(ctx context.Context, pad *Pad, password string) error {
	passwordHash := ""
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordHashCost)
		if err != nil {
			return err
		}
		passwordHash = string(hash)
	}
	_, err := self.db.ExecContext(
		ctx,
		`INSERT INTO pads (id, owner_id, title, content, is_public, password_hash, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pad.PadId.String(),
		pad.OwnerUserId.String(),
		pad.Title,
		pad.Content,
		pad.IsPublic,
		passwordHash,
		time.Now().UTC(),
	)
	return err
}

func (self *SqlitePadStore) AddCollaborator(ctx context.Context, padId Id, userId Id, permission PadPermission) error {
	_, err := self.db.ExecContext(
		ctx,
		`INSERT OR REPLACE INTO pad_collaborators (pad_id, user_id, permission) VALUES (?, ?, ?)`,
		padId.String(),
		userId.String(),
		string(permission),
	)
	return err
}

func (self *SqlitePadStore) GetPad(ctx context.Context, padId Id) (*Pad, error) {
	row := self.db.QueryRowContext(
		ctx,
		`SELECT owner_id, title, content, is_public, updated_at FROM pads WHERE id = ?`,
		padId.String(),
	)
	pad := &Pad{
		PadId: padId,
	}
	var ownerIdStr string
	err := row.Scan(&ownerIdStr, &pad.Title, &pad.Content, &pad.IsPublic, &pad.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPadNotFound
	}
	if err != nil {
		return nil, err
	}
	pad.OwnerUserId, err = ParseId(ownerIdStr)
	if err != nil {
		return nil, err
	}
	return pad, nil
}

func (self *SqlitePadStore) GetPadAuth(ctx context.Context, padId Id) (*PadAuth, error) {
	row := self.db.QueryRowContext(
		ctx,
		`SELECT owner_id, is_public, password_hash FROM pads WHERE id = ?`,
		padId.String(),
	)
	auth := &PadAuth{
		PadId:         padId,
		Collaborators: map[Id]PadPermission{},
	}
	var ownerIdStr string
	err := row.Scan(&ownerIdStr, &auth.IsPublic, &auth.PasswordHash)
	if err == sql.ErrNoRows {
		return nil, ErrPadNotFound
	}
	if err != nil {
		return nil, err
	}
	auth.OwnerUserId, err = ParseId(ownerIdStr)
	if err != nil {
		return nil, err
	}

	rows, err := self.db.QueryContext(
		ctx,
		`SELECT user_id, permission FROM pad_collaborators WHERE pad_id = ?`,
		padId.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var userIdStr string
		var permission string
		if err := rows.Scan(&userIdStr, &permission); err != nil {
			return nil, err
		}
		userId, err := ParseId(userIdStr)
		if err != nil {
			return nil, err
		}
		auth.Collaborators[userId] = PadPermission(permission)
	}
	return auth, rows.Err()
}

func (self *SqlitePadStore) UpdatePad(ctx context.Context, padId Id, update *PadUpdate, authorUserId Id) error {
	set := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}
	if update.Content != nil {
		set = append(set, "content = ?")
		args = append(args, *update.Content)
	}
	if update.Title != nil {
		set = append(set, "title = ?")
		args = append(args, *update.Title)
	}
	args = append(args, padId.String())

	result, err := self.db.ExecContext(
		ctx,
		fmt.Sprintf(`UPDATE pads SET %s WHERE id = ?`, strings.Join(set, ", ")),
		args...,
	)
	if err != nil {
		return &StoreError{Cause: err}
	}
	count, err := result.RowsAffected()
	if err != nil {
		return &StoreError{Cause: err}
	}
	if count == 0 {
		return ErrPadNotFound
	}
	return nil
}

// snapshots the current content into the version history before overwrite
func (self *SqlitePadStore) CreateVersion(ctx context.Context, padId Id, authorUserId Id) error {
	_, err := self.db.ExecContext(
		ctx,
		`INSERT INTO pad_versions (pad_id, content, created_by, change_summary, created_at)
			SELECT id, content, ?, ?, ? FROM pads WHERE id = ?`,
		authorUserId.String(),
		fmt.Sprintf("Updated by %s", authorUserId),
		time.Now().UTC(),
		padId.String(),
	)
	if err != nil {
		return &StoreError{Cause: err}
	}
	return nil
}

func (self *SqlitePadStore) VersionCount(ctx context.Context, padId Id) (int, error) {
	row := self.db.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM pad_versions WHERE pad_id = ?`,
		padId.String(),
	)
	var count int
	err := row.Scan(&count)
	return count, err
}

func (self *SqlitePadStore) Close() error {
	return self.db.Close()
}
