package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/wirechat-sync/internal/store"
)

// Schema creates the tables used by SQLiteStore. Timestamps are unix nanoseconds.
const Schema = `
CREATE TABLE IF NOT EXISTS profiles (
	id         TEXT PRIMARY KEY,
	username   TEXT NOT NULL DEFAULT '',
	email      TEXT NOT NULL DEFAULT '',
	avatar_url TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
	id            TEXT PRIMARY KEY,
	participant_a TEXT NOT NULL,
	participant_b TEXT NOT NULL,
	pair_key      TEXT NOT NULL UNIQUE,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_a ON conversations(participant_a);
CREATE INDEX IF NOT EXISTS idx_conversations_b ON conversations(participant_b);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	sender_id       TEXT NOT NULL,
	body_text       TEXT NOT NULL DEFAULT '',
	media_url       TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL,
	FOREIGN KEY (conversation_id) REFERENCES conversations(id)
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at, id);

CREATE INDEX IF NOT EXISTS idx_profiles_email ON profiles(email COLLATE NOCASE);

CREATE TABLE IF NOT EXISTS contacts (
	owner_id   TEXT NOT NULL,
	contact_id TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (owner_id, contact_id)
);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.Store = (*SQLiteStore)(nil)

// New creates a new SQLite store and applies Schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(Schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply a custom schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps ":memory:"
	// databases alive for the lifetime of the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== ConversationStore implementation ====

const conversationColumns = `id, participant_a, participant_b, created_at, updated_at`

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = ?`
	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conversation %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	return conv, nil
}

// FindConversation retrieves the conversation between a and b in either orientation.
func (s *SQLiteStore) FindConversation(ctx context.Context, a, b string) (*store.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE (participant_a = ? AND participant_b = ?)
		   OR (participant_a = ? AND participant_b = ?)
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`
	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, a, b, b, a))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conversation %s/%s: %w", a, b, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	return conv, nil
}

// ListConversations lists conversations of a user joined with their last message.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]*store.ConversationPreview, error) {
	query := `
		SELECT c.id, c.participant_a, c.participant_b, c.created_at, c.updated_at,
		       m.id, m.sender_id, m.body_text, m.media_url, m.created_at
		FROM conversations c
		LEFT JOIN messages m ON m.id = (
			SELECT id FROM messages
			WHERE conversation_id = c.id
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		)
		WHERE c.participant_a = ? OR c.participant_b = ?
		ORDER BY c.updated_at DESC, c.id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var previews []*store.ConversationPreview
	for rows.Next() {
		var (
			conv                       store.Conversation
			createdAt, updatedAt       int64
			msgID, sender, text, media sql.NullString
			msgCreatedAt               sql.NullInt64
		)
		if err := rows.Scan(
			&conv.ID, &conv.ParticipantA, &conv.ParticipantB, &createdAt, &updatedAt,
			&msgID, &sender, &text, &media, &msgCreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conv.CreatedAt = fromNanos(createdAt)
		conv.UpdatedAt = fromNanos(updatedAt)

		preview := &store.ConversationPreview{Conversation: &conv}
		if msgID.Valid {
			preview.LastMessage = &store.Message{
				ID:             msgID.String,
				ConversationID: conv.ID,
				SenderID:       sender.String,
				Body:           store.Body{Text: text.String, MediaURL: media.String},
				CreatedAt:      fromNanos(msgCreatedAt.Int64),
			}
		}
		previews = append(previews, preview)
	}

	return previews, rows.Err()
}

// InsertConversation inserts conv unless its participant pair already has a row.
func (s *SQLiteStore) InsertConversation(ctx context.Context, conv *store.Conversation) error {
	key, err := store.PairKey(conv.ParticipantA, conv.ParticipantB)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO conversations (id, participant_a, participant_b, pair_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(pair_key) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query,
		conv.ID, conv.ParticipantA, conv.ParticipantB, key,
		toNanos(conv.CreatedAt), toNanos(conv.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("conversation %s: %w", key, store.ErrConflict)
	}
	return nil
}

// ==== MessageStore implementation ====

// InsertMessage persists a message and bumps the conversation's updated_at.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *store.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	created := toNanos(msg.CreatedAt)
	result, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = MAX(updated_at, ?) WHERE id = ?`,
		created, msg.ConversationID,
	)
	if err != nil {
		return fmt.Errorf("bump conversation: %w", err)
	}
	if affected, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	} else if affected == 0 {
		return fmt.Errorf("conversation %s: %w", msg.ConversationID, store.ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, body_text, media_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, msg.SenderID, msg.Body.Text, msg.Body.MediaURL, created); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("message %s: %w", msg.ID, store.ErrConflict)
		}
		return fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// QueryMessages returns messages ordered by (created_at, id) ascending.
func (s *SQLiteStore) QueryMessages(ctx context.Context, q store.MessageQuery) ([]*store.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, body_text, media_url, created_at
		FROM messages
		WHERE conversation_id = ?
	`
	args := []interface{}{q.ConversationID}

	if q.After != nil {
		after := toNanos(q.After.CreatedAt)
		query += ` AND (created_at > ? OR (created_at = ? AND id > ?))`
		args = append(args, after, after, q.After.ID)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		var msg store.Message
		var created int64
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Body.Text, &msg.Body.MediaURL, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.CreatedAt = fromNanos(created)
		messages = append(messages, &msg)
	}

	return messages, rows.Err()
}

// ==== ProfileStore implementation ====

// UpsertProfile creates or replaces a profile.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, p *store.Profile) error {
	query := `
		INSERT INTO profiles (id, username, email, avatar_url, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			email = excluded.email,
			avatar_url = excluded.avatar_url,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, p.ID, p.Username, p.Email, p.AvatarURL, toNanos(p.UpdatedAt)); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// QueryProfiles fetches profiles by ID.
func (s *SQLiteStore) QueryProfiles(ctx context.Context, ids []string) (map[string]*store.Profile, error) {
	profiles := make(map[string]*store.Profile, len(ids))
	if len(ids) == 0 {
		return profiles, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, email, avatar_url, updated_at FROM profiles WHERE id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		profiles[p.ID] = p
	}

	return profiles, rows.Err()
}

// FindProfileByEmail returns the profile registered with email.
func (s *SQLiteStore) FindProfileByEmail(ctx context.Context, email string) (*store.Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, avatar_url, updated_at
		FROM profiles
		WHERE email = ? COLLATE NOCASE
		ORDER BY id ASC
		LIMIT 1
	`, email)
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("profile with email %q: %w", email, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query profile: %w", err)
	}
	return p, nil
}

// ListProfiles returns the user directory.
func (s *SQLiteStore) ListProfiles(ctx context.Context, limit int) ([]*store.Profile, error) {
	query := `SELECT id, username, email, avatar_url, updated_at FROM profiles ORDER BY username ASC, id ASC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*store.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// ==== ContactStore implementation ====

// AddContact inserts the contact unless it is already listed.
func (s *SQLiteStore) AddContact(ctx context.Context, ownerID, contactID string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO contacts (owner_id, contact_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(owner_id, contact_id) DO NOTHING
	`, ownerID, contactID, toNanos(at))
	if err != nil {
		return false, fmt.Errorf("insert contact: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return affected > 0, nil
}

// RemoveContact deletes a contact entry.
func (s *SQLiteStore) RemoveContact(ctx context.Context, ownerID, contactID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM contacts WHERE owner_id = ? AND contact_id = ?`,
		ownerID, contactID,
	); err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	return nil
}

// ListContacts returns the contacts of ownerID joined with their profiles.
func (s *SQLiteStore) ListContacts(ctx context.Context, ownerID string) ([]*store.Contact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.contact_id, c.created_at,
		       p.id, p.username, p.email, p.avatar_url, p.updated_at
		FROM contacts c
		LEFT JOIN profiles p ON p.id = c.contact_id
		WHERE c.owner_id = ?
		ORDER BY c.created_at ASC, c.contact_id ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*store.Contact
	for rows.Next() {
		var (
			contact                        store.Contact
			added                          int64
			profileID, name, email, avatar sql.NullString
			profileUpdated                 sql.NullInt64
		)
		if err := rows.Scan(&contact.ContactID, &added, &profileID, &name, &email, &avatar, &profileUpdated); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contact.AddedAt = fromNanos(added)
		if profileID.Valid {
			contact.Profile = &store.Profile{
				ID:        profileID.String,
				Username:  name.String,
				Email:     email.String,
				AvatarURL: avatar.String,
				UpdatedAt: fromNanos(profileUpdated.Int64),
			}
		}
		contacts = append(contacts, &contact)
	}
	return contacts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row rowScanner) (*store.Conversation, error) {
	var conv store.Conversation
	var createdAt, updatedAt int64
	if err := row.Scan(&conv.ID, &conv.ParticipantA, &conv.ParticipantB, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	conv.CreatedAt = fromNanos(createdAt)
	conv.UpdatedAt = fromNanos(updatedAt)
	return &conv, nil
}

func scanProfile(row rowScanner) (*store.Profile, error) {
	var p store.Profile
	var updated int64
	if err := row.Scan(&p.ID, &p.Username, &p.Email, &p.AvatarURL, &updated); err != nil {
		return nil, err
	}
	p.UpdatedAt = fromNanos(updated)
	return &p, nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
