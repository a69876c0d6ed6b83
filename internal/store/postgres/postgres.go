package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vovakirdan/huddle-server/internal/store"
)

//go:embed schema.sql
var schema string

// PostgresStore implements store.Store on a PostgreSQL connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// New creates a new PostgreSQL store with a connection pool and applies the schema.
func New(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

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

func scanMessage(kind store.Kind, row pgx.Row) (*store.Message, error) {
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

func selectFor(kind store.Kind) (string, error) {
	switch kind {
	case store.KindGlobal:
		return selectGlobal, nil
	case store.KindDirect:
		return selectDirect, nil
	case store.KindChannel:
		return selectChannel, nil
	case store.KindGroup:
		return selectGroup, nil
	}
	return "", fmt.Errorf("unknown message kind %q", kind)
}

// SaveMessage persists a message and assigns msg.ID from the sequence.
func (s *PostgresStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	msg.Normalize()

	var (
		query string
		args  []any
	)
	switch msg.Kind {
	case store.KindGlobal:
		query = `
			INSERT INTO global_messages (sender_id, sender_name, message, quoted_text, quoted_sender, timestamp)
			VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6)
			RETURNING id
		`
		args = []any{msg.SenderID, msg.SenderName, msg.Text, msg.QuotedText, msg.QuotedSender, msg.CreatedAt}
	case store.KindDirect:
		query = `
			INSERT INTO direct_messages (sender_id, recipient_id, text, quoted_message, timestamp)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5)
			RETURNING id
		`
		args = []any{msg.SenderID, msg.RecipientID, msg.Text, msg.QuotedText, msg.CreatedAt}
	case store.KindChannel:
		query = `
			INSERT INTO channel_messages (team_name, channel_name, sender, sender_id, text, quoted_message, created_at)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
			RETURNING id
		`
		args = []any{msg.TeamName, msg.ChannelName, msg.SenderName, msg.SenderID, msg.Text, msg.QuotedText, msg.CreatedAt}
	case store.KindGroup:
		query = `
			INSERT INTO group_messages (group_id, user_id, text, is_system_message, created_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`
		args = []any{msg.GroupID, msg.SenderID, msg.Text, msg.IsSystem, msg.CreatedAt}
	default:
		return fmt.Errorf("unknown message kind %q", msg.Kind)
	}

	if err := s.pool.QueryRow(ctx, query, args...).Scan(&msg.ID); err != nil {
		return fmt.Errorf("insert %s message: %w", msg.Kind, err)
	}
	return nil
}

// GetMessage retrieves one message by kind and ID.
func (s *PostgresStore) GetMessage(ctx context.Context, kind store.Kind, id int64) (*store.Message, error) {
	query, err := selectFor(kind)
	if err != nil {
		return nil, err
	}

	msg, err := scanMessage(kind, s.pool.QueryRow(ctx, query+" WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s message %d: %w", kind, id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query %s message: %w", kind, err)
	}
	return msg, nil
}

// ListGlobalMessages retrieves global chat history.
func (s *PostgresStore) ListGlobalMessages(ctx context.Context, limit int, beforeID *int64) ([]*store.Message, error) {
	return s.listMessages(ctx, store.KindGlobal, "TRUE", nil, limit, beforeID)
}

// ListDirectMessages retrieves the conversation between two users.
func (s *PostgresStore) ListDirectMessages(ctx context.Context, userID, otherID int64, limit int, beforeID *int64) ([]*store.Message, error) {
	where := "((sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1))"
	return s.listMessages(ctx, store.KindDirect, where, []any{userID, otherID}, limit, beforeID)
}

// ListChannelMessages retrieves channel history.
func (s *PostgresStore) ListChannelMessages(ctx context.Context, teamName, channelName string, limit int, beforeID *int64) ([]*store.Message, error) {
	return s.listMessages(ctx, store.KindChannel, "team_name = $1 AND channel_name = $2", []any{teamName, channelName}, limit, beforeID)
}

// ListGroupMessages retrieves group history.
func (s *PostgresStore) ListGroupMessages(ctx context.Context, groupID int64, limit int, beforeID *int64) ([]*store.Message, error) {
	return s.listMessages(ctx, store.KindGroup, "group_id = $1", []any{groupID}, limit, beforeID)
}

func (s *PostgresStore) listMessages(ctx context.Context, kind store.Kind, where string, args []any, limit int, beforeID *int64) ([]*store.Message, error) {
	base, err := selectFor(kind)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString(" WHERE ")
	sb.WriteString(where)
	if beforeID != nil {
		args = append(args, *beforeID)
		sb.WriteString(" AND id < $" + strconv.Itoa(len(args)))
	}
	args = append(args, limit)
	sb.WriteString(" ORDER BY id DESC LIMIT $" + strconv.Itoa(len(args)))

	rows, err := s.pool.Query(ctx, sb.String(), args...)
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

	for i := range len(messages) / 2 {
		messages[i], messages[len(messages)-1-i] = messages[len(messages)-1-i], messages[i]
	}

	return messages, rows.Err()
}

// ModerateMessage overwrites a message's text, keeping every other column.
func (s *PostgresStore) ModerateMessage(ctx context.Context, kind store.Kind, id int64, text string) (*store.Message, error) {
	var query string
	switch kind {
	case store.KindGlobal:
		query = `UPDATE global_messages SET message = $1 WHERE id = $2`
	case store.KindDirect:
		query = `UPDATE direct_messages SET text = $1 WHERE id = $2`
	case store.KindChannel:
		query = `UPDATE channel_messages SET text = $1 WHERE id = $2`
	case store.KindGroup:
		query = `UPDATE group_messages SET text = $1 WHERE id = $2`
	default:
		return nil, fmt.Errorf("unknown message kind %q", kind)
	}

	tag, err := s.pool.Exec(ctx, query, text, id)
	if err != nil {
		return nil, fmt.Errorf("moderate %s message: %w", kind, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%s message %d: %w", kind, id, store.ErrNotFound)
	}

	return s.GetMessage(ctx, kind, id)
}

// ResolveChannel looks up a channel by team and channel name.
func (s *PostgresStore) ResolveChannel(ctx context.Context, teamName, channelName string) (*store.ChannelRef, error) {
	var ref store.ChannelRef
	err := s.pool.QueryRow(ctx, `
		SELECT t.id, c.id, t.name, c.name
		FROM channels c
		JOIN teams t ON t.id = c.team_id
		WHERE t.name = $1 AND c.name = $2
	`, teamName, channelName).Scan(&ref.TeamID, &ref.ChannelID, &ref.TeamName, &ref.ChannelName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("channel %s/%s: %w", teamName, channelName, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query channel: %w", err)
	}
	return &ref, nil
}

// IsChannelMember checks team membership, and channel membership for private channels.
func (s *PostgresStore) IsChannelMember(ctx context.Context, userID int64, ref store.ChannelRef) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM channels c
			JOIN team_members tm ON tm.team_id = c.team_id AND tm.user_id = $1
			LEFT JOIN channel_members cm ON cm.channel_id = c.id AND cm.user_id = tm.user_id
			WHERE c.id = $2 AND c.team_id = $3 AND (NOT c.is_private OR cm.user_id IS NOT NULL)
		)
	`, userID, ref.ChannelID, ref.TeamID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("query channel membership: %w", err)
	}
	return ok, nil
}

// IsGroupMember checks if user is a member of the group.
func (s *PostgresStore) IsGroupMember(ctx context.Context, userID, groupID int64) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM group_members WHERE user_id = $1 AND group_id = $2)
	`, userID, groupID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("query group membership: %w", err)
	}
	return ok, nil
}

// ListChannels lists channels the user can access.
func (s *PostgresStore) ListChannels(ctx context.Context, userID int64) ([]store.ChannelRef, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.id, c.id, t.name, c.name
		FROM channels c
		JOIN teams t ON t.id = c.team_id
		JOIN team_members tm ON tm.team_id = c.team_id AND tm.user_id = $1
		LEFT JOIN channel_members cm ON cm.channel_id = c.id AND cm.user_id = tm.user_id
		WHERE NOT c.is_private OR cm.user_id IS NOT NULL
		ORDER BY t.id, c.id
	`, userID)
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
func (s *PostgresStore) ListGroups(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT group_id FROM group_members WHERE user_id = $1 ORDER BY group_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	var groups []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, id)
	}
	return groups, rows.Err()
}
