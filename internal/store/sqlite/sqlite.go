package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/huddle-server/internal/store"
)

//go:embed schema.sql
var schema string

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file or ":memory:".
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, nil)
}

// NewWithSetup creates a new SQLite store, applies the schema and then runs a setup function.
// Useful for tests to seed membership tables.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with single connection; it also keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

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

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== MessageStore implementation ====

const (
	selectGlobal = `
		SELECT id, sender_id, sender_name, message, COALESCE(quoted_text, ''), COALESCE(quoted_sender, ''), timestamp
		FROM global_messages`
	selectDirect = `
		SELECT id, sender_id, recipient_id, text, COALESCE(quoted_message, ''), timestamp
		FROM direct_messages`
	selectChannel = `
		SELECT id, team_name, channel_name, sender, sender_id, text, COALESCE(quoted_message, ''), created_at
		FROM channel_messages`
	selectGroup = `
		SELECT id, group_id, user_id, text, is_system_message, created_at
		FROM group_messages`
)

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(kind store.Kind, row scanner) (*store.Message, error) {
	msg := store.Message{Kind: kind}
	var err error
	switch kind {
	case store.KindGlobal:
		err = row.Scan(&msg.ID, &msg.SenderID, &msg.SenderName, &msg.Text, &msg.QuotedText, &msg.QuotedSender, &msg.CreatedAt)
	case store.KindDirect:
		err = row.Scan(&msg.ID, &msg.SenderID, &msg.RecipientID, &msg.Text, &msg.QuotedText, &msg.CreatedAt)
	case store.KindChannel:
		err = row.Scan(&msg.ID, &msg.TeamName, &msg.ChannelName, &msg.SenderName, &msg.SenderID, &msg.Text, &msg.QuotedText, &msg.CreatedAt)
	case store.KindGroup:
		err = row.Scan(&msg.ID, &msg.GroupID, &msg.SenderID, &msg.Text, &msg.IsSystem, &msg.CreatedAt)
	default:
		return nil, fmt.Errorf("unknown message kind %q", kind)
	}
	if err != nil {
		return nil, err
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	return &msg, nil
}

// SaveMessage persists a message to the table of its kind and assigns msg.ID.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	msg.Normalize()

	var (
		query string
		args  []any
	)
	switch msg.Kind {
	case store.KindGlobal:
		query = `
			INSERT INTO global_messages (sender_id, sender_name, message, quoted_text, quoted_sender, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)
		`
		args = []any{msg.SenderID, msg.SenderName, msg.Text, nullString(msg.QuotedText), nullString(msg.QuotedSender), msg.CreatedAt}
	case store.KindDirect:
		query = `
			INSERT INTO direct_messages (sender_id, recipient_id, text, quoted_message, timestamp)
			VALUES (?, ?, ?, ?, ?)
		`
		args = []any{msg.SenderID, msg.RecipientID, msg.Text, nullString(msg.QuotedText), msg.CreatedAt}
	case store.KindChannel:
		query = `
			INSERT INTO channel_messages (team_name, channel_name, sender, sender_id, text, quoted_message, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`
		args = []any{msg.TeamName, msg.ChannelName, msg.SenderName, msg.SenderID, msg.Text, nullString(msg.QuotedText), msg.CreatedAt}
	case store.KindGroup:
		query = `
			INSERT INTO group_messages (group_id, user_id, text, is_system_message, created_at)
			VALUES (?, ?, ?, ?, ?)
		`
		args = []any{msg.GroupID, msg.SenderID, msg.Text, msg.IsSystem, msg.CreatedAt}
	default:
		return fmt.Errorf("unknown message kind %q", msg.Kind)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert %s message: %w", msg.Kind, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}

	msg.ID = id
	return nil
}

// GetMessage retrieves one message by kind and ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, kind store.Kind, id int64) (*store.Message, error) {
	var query string
	switch kind {
	case store.KindGlobal:
		query = selectGlobal
	case store.KindDirect:
		query = selectDirect
	case store.KindChannel:
		query = selectChannel
	case store.KindGroup:
		query = selectGroup
	default:
		return nil, fmt.Errorf("unknown message kind %q", kind)
	}

	msg, err := scanMessage(kind, s.db.QueryRowContext(ctx, query+" WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s message %d: %w", kind, id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query %s message: %w", kind, err)
	}
	return msg, nil
}

// ListGlobalMessages retrieves global chat history.
func (s *SQLiteStore) ListGlobalMessages(ctx context.Context, limit int, beforeID *int64) ([]*store.Message, error) {
	return s.listMessages(ctx, store.KindGlobal, selectGlobal, "1 = 1", nil, limit, beforeID)
}

// ListDirectMessages retrieves the conversation between two users.
func (s *SQLiteStore) ListDirectMessages(ctx context.Context, userID, otherID int64, limit int, beforeID *int64) ([]*store.Message, error) {
	where := "((sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?))"
	return s.listMessages(ctx, store.KindDirect, selectDirect, where, []any{userID, otherID, otherID, userID}, limit, beforeID)
}

// ListChannelMessages retrieves channel history.
func (s *SQLiteStore) ListChannelMessages(ctx context.Context, teamName, channelName string, limit int, beforeID *int64) ([]*store.Message, error) {
	where := "team_name = ? AND channel_name = ?"
	return s.listMessages(ctx, store.KindChannel, selectChannel, where, []any{teamName, channelName}, limit, beforeID)
}

// ListGroupMessages retrieves group history.
func (s *SQLiteStore) ListGroupMessages(ctx context.Context, groupID int64, limit int, beforeID *int64) ([]*store.Message, error) {
	return s.listMessages(ctx, store.KindGroup, selectGroup, "group_id = ?", []any{groupID}, limit, beforeID)
}

func (s *SQLiteStore) listMessages(ctx context.Context, kind store.Kind, base, where string, args []any, limit int, beforeID *int64) ([]*store.Message, error) {
	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString(" WHERE ")
	sb.WriteString(where)
	if beforeID != nil {
		sb.WriteString(" AND id < ?")
		args = append(args, *beforeID)
	}
	sb.WriteString(" ORDER BY id DESC LIMIT ?")
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query %s messages: %w", kind, err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		msg, err := scanMessage(kind, rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s message: %w", kind, err)
		}
		messages = append(messages, msg)
	}

	// Reverse to get chronological order
	for i := range len(messages) / 2 {
		messages[i], messages[len(messages)-1-i] = messages[len(messages)-1-i], messages[i]
	}

	return messages, rows.Err()
}

// ModerateMessage overwrites a message's text, keeping every other column.
func (s *SQLiteStore) ModerateMessage(ctx context.Context, kind store.Kind, id int64, text string) (*store.Message, error) {
	var query string
	switch kind {
	case store.KindGlobal:
		query = `UPDATE global_messages SET message = ? WHERE id = ?`
	case store.KindDirect:
		query = `UPDATE direct_messages SET text = ? WHERE id = ?`
	case store.KindChannel:
		query = `UPDATE channel_messages SET text = ? WHERE id = ?`
	case store.KindGroup:
		query = `UPDATE group_messages SET text = ? WHERE id = ?`
	default:
		return nil, fmt.Errorf("unknown message kind %q", kind)
	}

	result, err := s.db.ExecContext(ctx, query, text, id)
	if err != nil {
		return nil, fmt.Errorf("moderate %s message: %w", kind, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("%s message %d: %w", kind, id, store.ErrNotFound)
	}

	return s.GetMessage(ctx, kind, id)
}

// ==== MembershipStore implementation ====

// ResolveChannel looks up a channel by team and channel name.
func (s *SQLiteStore) ResolveChannel(ctx context.Context, teamName, channelName string) (*store.ChannelRef, error) {
	query := `
		SELECT t.id, c.id, t.name, c.name
		FROM channels c
		JOIN teams t ON t.id = c.team_id
		WHERE t.name = ? AND c.name = ?
	`
	var ref store.ChannelRef
	err := s.db.QueryRowContext(ctx, query, teamName, channelName).Scan(&ref.TeamID, &ref.ChannelID, &ref.TeamName, &ref.ChannelName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("channel %s/%s: %w", teamName, channelName, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query channel: %w", err)
	}
	return &ref, nil
}

// IsChannelMember checks team membership, and channel membership for private channels.
func (s *SQLiteStore) IsChannelMember(ctx context.Context, userID int64, ref store.ChannelRef) (bool, error) {
	query := `
		SELECT 1
		FROM channels c
		JOIN team_members tm ON tm.team_id = c.team_id AND tm.user_id = ?
		LEFT JOIN channel_members cm ON cm.channel_id = c.id AND cm.user_id = tm.user_id
		WHERE c.id = ? AND c.team_id = ? AND (c.is_private = 0 OR cm.user_id IS NOT NULL)
	`
	var exists int
	err := s.db.QueryRowContext(ctx, query, userID, ref.ChannelID, ref.TeamID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("query channel membership: %w", err)
	}

	return true, nil
}

// IsGroupMember checks if user is a member of the group.
func (s *SQLiteStore) IsGroupMember(ctx context.Context, userID, groupID int64) (bool, error) {
	query := `
		SELECT 1 FROM group_members
		WHERE user_id = ? AND group_id = ?
	`
	var exists int
	err := s.db.QueryRowContext(ctx, query, userID, groupID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("query group membership: %w", err)
	}

	return true, nil
}

// ListChannels lists channels the user can access.
func (s *SQLiteStore) ListChannels(ctx context.Context, userID int64) ([]store.ChannelRef, error) {
	query := `
		SELECT t.id, c.id, t.name, c.name
		FROM channels c
		JOIN teams t ON t.id = c.team_id
		JOIN team_members tm ON tm.team_id = c.team_id AND tm.user_id = ?
		LEFT JOIN channel_members cm ON cm.channel_id = c.id AND cm.user_id = tm.user_id
		WHERE c.is_private = 0 OR cm.user_id IS NOT NULL
		ORDER BY t.id, c.id
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	var refs []store.ChannelRef
	for rows.Next() {
		var ref store.ChannelRef
		if err := rows.Scan(&ref.TeamID, &ref.ChannelID, &ref.TeamName, &ref.ChannelName); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		refs = append(refs, ref)
	}

	return refs, rows.Err()
}

// ListGroups lists group ids the user belongs to.
func (s *SQLiteStore) ListGroups(ctx context.Context, userID int64) ([]int64, error) {
	query := `
		SELECT group_id FROM group_members
		WHERE user_id = ?
		ORDER BY group_id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	var groups []int64
	for rows.Next() {
		var groupID int64
		if err := rows.Scan(&groupID); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, groupID)
	}

	return groups, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
