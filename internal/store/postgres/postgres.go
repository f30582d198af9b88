// Package postgres implements store.Store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vovakirdan/wirechat-sync/internal/store"
)

const uniqueViolation = "23505"

// Store is a store.Store backed by PostgreSQL.
//
// Ownership model: Store does NOT own the pgx pool. The caller must close the
// pool; Close is a no-op.
type Store struct {
	pool   *pgxpool.Pool
	schema string
}

var _ store.Store = (*Store)(nil)

// Option configures Store behavior.
type Option func(*Store) error

// WithSchema sets the DB schema used by this store (default: "wirechat").
func WithSchema(schema string) Option {
	return func(s *Store) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("postgres: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("postgres: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// New constructs a Postgres-backed store.
func New(pool *pgxpool.Pool, opts ...Option) (*Store, error) {
	st := &Store{
		pool:   pool,
		schema: "wirechat",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("postgres: nil pool")
	}
	return st, nil
}

// NewPool builds a pgxpool and validates connectivity.
func NewPool(ctx context.Context, databaseURL string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *Store) Close() error { return nil }

// Migrate creates the schema and tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	schema := pgIdent(s.schema)
	profiles := s.table("profiles")
	conversations := s.table("conversations")
	messages := s.table("messages")
	contacts := s.table("contacts")

	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + schema,
		`CREATE TABLE IF NOT EXISTS ` + profiles + ` (
			id         TEXT PRIMARY KEY,
			username   TEXT NOT NULL DEFAULT '',
			email      TEXT NOT NULL DEFAULT '',
			avatar_url TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ` + conversations + ` (
			id            TEXT PRIMARY KEY,
			participant_a TEXT NOT NULL,
			participant_b TEXT NOT NULL,
			pair_key      TEXT NOT NULL UNIQUE,
			created_at    TIMESTAMPTZ NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS conversations_participant_a_idx ON ` + conversations + ` (participant_a)`,
		`CREATE INDEX IF NOT EXISTS conversations_participant_b_idx ON ` + conversations + ` (participant_b)`,
		`CREATE TABLE IF NOT EXISTS ` + messages + ` (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES ` + conversations + ` (id),
			sender_id       TEXT NOT NULL,
			body_text       TEXT NOT NULL DEFAULT '',
			media_url       TEXT NOT NULL DEFAULT '',
			created_at      TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS messages_conversation_idx ON ` + messages + ` (conversation_id, created_at, id)`,
		`CREATE INDEX IF NOT EXISTS profiles_email_idx ON ` + profiles + ` (lower(email))`,
		`CREATE TABLE IF NOT EXISTS ` + contacts + ` (
			owner_id   TEXT NOT NULL,
			contact_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (owner_id, contact_id)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// GetConversation retrieves a conversation by ID.
func (s *Store) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, participant_a, participant_b, created_at, updated_at
		 FROM `+s.table("conversations")+` WHERE id = $1`,
		id,
	)
	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	return conv, nil
}

// FindConversation retrieves the conversation between a and b in either orientation.
func (s *Store) FindConversation(ctx context.Context, a, b string) (*store.Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, participant_a, participant_b, created_at, updated_at
		 FROM `+s.table("conversations")+`
		 WHERE (participant_a = $1 AND participant_b = $2)
		    OR (participant_a = $2 AND participant_b = $1)
		 ORDER BY created_at ASC, id ASC
		 LIMIT 1`,
		a, b,
	)
	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s/%s: %w", a, b, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	return conv, nil
}

// ListConversations lists conversations of a user joined with their last message.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]*store.ConversationPreview, error) {
	conversations := s.table("conversations")
	messages := s.table("messages")

	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.participant_a, c.participant_b, c.created_at, c.updated_at,
		        m.id, m.sender_id, m.body_text, m.media_url, m.created_at
		 FROM `+conversations+` c
		 LEFT JOIN LATERAL (
		 	SELECT id, sender_id, body_text, media_url, created_at
		 	FROM `+messages+`
		 	WHERE conversation_id = c.id
		 	ORDER BY created_at DESC, id DESC
		 	LIMIT 1
		 ) m ON true
		 WHERE c.participant_a = $1 OR c.participant_b = $1
		 ORDER BY c.updated_at DESC, c.id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var previews []*store.ConversationPreview
	for rows.Next() {
		var (
			conv                       store.Conversation
			msgID, sender, text, media *string
			msgCreatedAt               *time.Time
		)
		if err := rows.Scan(
			&conv.ID, &conv.ParticipantA, &conv.ParticipantB, &conv.CreatedAt, &conv.UpdatedAt,
			&msgID, &sender, &text, &media, &msgCreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conv.CreatedAt = conv.CreatedAt.UTC()
		conv.UpdatedAt = conv.UpdatedAt.UTC()

		preview := &store.ConversationPreview{Conversation: &conv}
		if msgID != nil {
			preview.LastMessage = &store.Message{
				ID:             *msgID,
				ConversationID: conv.ID,
				SenderID:       deref(sender),
				Body:           store.Body{Text: deref(text), MediaURL: deref(media)},
				CreatedAt:      msgCreatedAt.UTC(),
			}
		}
		previews = append(previews, preview)
	}

	return previews, rows.Err()
}

// InsertConversation inserts conv unless its participant pair already has a row.
func (s *Store) InsertConversation(ctx context.Context, conv *store.Conversation) error {
	key, err := store.PairKey(conv.ParticipantA, conv.ParticipantB)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table("conversations")+`
		 (id, participant_a, participant_b, pair_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (pair_key) DO NOTHING`,
		conv.ID, conv.ParticipantA, conv.ParticipantB, key, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversation %s: %w", key, store.ErrConflict)
	}
	return nil
}

// InsertMessage persists a message and bumps the conversation's updated_at.
func (s *Store) InsertMessage(ctx context.Context, msg *store.Message) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE `+s.table("conversations")+`
		 SET updated_at = GREATEST(updated_at, $1)
		 WHERE id = $2`,
		msg.CreatedAt, msg.ConversationID,
	)
	if err != nil {
		return fmt.Errorf("bump conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversation %s: %w", msg.ConversationID, store.ErrNotFound)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+s.table("messages")+`
		 (id, conversation_id, sender_id, body_text, media_url, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Body.Text, msg.Body.MediaURL, msg.CreatedAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("message %s: %w", msg.ID, store.ErrConflict)
		}
		return fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// QueryMessages returns messages ordered by (created_at, id) ascending.
func (s *Store) QueryMessages(ctx context.Context, q store.MessageQuery) ([]*store.Message, error) {
	query := `SELECT id, conversation_id, sender_id, body_text, media_url, created_at
		FROM ` + s.table("messages") + ` WHERE conversation_id = $1`
	args := []any{q.ConversationID}

	if q.After != nil {
		query += ` AND (created_at, id) > ($2, $3)`
		args = append(args, q.After.CreatedAt, q.After.ID)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		var msg store.Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Body.Text, &msg.Body.MediaURL, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.CreatedAt = msg.CreatedAt.UTC()
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// UpsertProfile creates or replaces a profile.
func (s *Store) UpsertProfile(ctx context.Context, p *store.Profile) error {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table("profiles")+` (id, username, email, avatar_url, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
		 	username = EXCLUDED.username,
		 	email = EXCLUDED.email,
		 	avatar_url = EXCLUDED.avatar_url,
		 	updated_at = EXCLUDED.updated_at`,
		p.ID, p.Username, p.Email, p.AvatarURL, p.UpdatedAt,
	); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// QueryProfiles fetches profiles by ID.
func (s *Store) QueryProfiles(ctx context.Context, ids []string) (map[string]*store.Profile, error) {
	profiles := make(map[string]*store.Profile, len(ids))
	if len(ids) == 0 {
		return profiles, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, username, email, avatar_url, updated_at
		 FROM `+s.table("profiles")+` WHERE id = ANY($1)`,
		ids,
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
func (s *Store) FindProfileByEmail(ctx context.Context, email string) (*store.Profile, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, username, email, avatar_url, updated_at
		 FROM `+s.table("profiles")+`
		 WHERE lower(email) = lower($1)
		 ORDER BY id ASC
		 LIMIT 1`,
		email,
	)
	p, err := scanProfile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("profile with email %q: %w", email, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query profile: %w", err)
	}
	return p, nil
}

// ListProfiles returns the user directory.
func (s *Store) ListProfiles(ctx context.Context, limit int) ([]*store.Profile, error) {
	query := `SELECT id, username, email, avatar_url, updated_at
		FROM ` + s.table("profiles") + ` ORDER BY username ASC, id ASC`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
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

// AddContact inserts the contact unless it is already listed.
func (s *Store) AddContact(ctx context.Context, ownerID, contactID string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table("contacts")+` (owner_id, contact_id, created_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (owner_id, contact_id) DO NOTHING`,
		ownerID, contactID, at,
	)
	if err != nil {
		return false, fmt.Errorf("insert contact: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RemoveContact deletes a contact entry.
func (s *Store) RemoveContact(ctx context.Context, ownerID, contactID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.table("contacts")+` WHERE owner_id = $1 AND contact_id = $2`,
		ownerID, contactID,
	); err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	return nil
}

// ListContacts returns the contacts of ownerID joined with their profiles.
func (s *Store) ListContacts(ctx context.Context, ownerID string) ([]*store.Contact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT c.contact_id, c.created_at,
		        p.id, p.username, p.email, p.avatar_url, p.updated_at
		 FROM `+s.table("contacts")+` c
		 LEFT JOIN `+s.table("profiles")+` p ON p.id = c.contact_id
		 WHERE c.owner_id = $1
		 ORDER BY c.created_at ASC, c.contact_id ASC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*store.Contact
	for rows.Next() {
		var (
			contact                        store.Contact
			profileID, name, email, avatar *string
			profileUpdated                 *time.Time
		)
		if err := rows.Scan(&contact.ContactID, &contact.AddedAt, &profileID, &name, &email, &avatar, &profileUpdated); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contact.AddedAt = contact.AddedAt.UTC()
		if profileID != nil {
			contact.Profile = &store.Profile{
				ID:        *profileID,
				Username:  deref(name),
				Email:     deref(email),
				AvatarURL: deref(avatar),
			}
			if profileUpdated != nil {
				contact.Profile.UpdatedAt = profileUpdated.UTC()
			}
		}
		contacts = append(contacts, &contact)
	}
	return contacts, rows.Err()
}

func (s *Store) table(name string) string {
	return pgIdent(s.schema) + "." + pgIdent(name)
}

func scanConversation(row pgx.Row) (*store.Conversation, error) {
	var conv store.Conversation
	if err := row.Scan(&conv.ID, &conv.ParticipantA, &conv.ParticipantB, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return nil, err
	}
	conv.CreatedAt = conv.CreatedAt.UTC()
	conv.UpdatedAt = conv.UpdatedAt.UTC()
	return &conv, nil
}

func scanProfile(row pgx.Row) (*store.Profile, error) {
	var p store.Profile
	if err := row.Scan(&p.ID, &p.Username, &p.Email, &p.AvatarURL, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

func isValidPGIdent(s string) bool {
	return pgIdentRe.MatchString(s)
}

func pgIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
