package chat

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tcmclinic/tcmclinic/internal/errs"
	"github.com/tcmclinic/tcmclinic/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const conversationCols = `id, session_id, patient_id, title, system_prompt, active, created_at, updated_at`

func (r *repoPG) CreateConversation(ctx context.Context, c *Conversation) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO chat_conversation (id, session_id, patient_id, title, system_prompt, active)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		c.ID, c.SessionID, c.PatientID, c.Title, c.SystemPrompt, c.Active,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return errs.Conflictf("conversation with session %s already exists", c.SessionID)
		}
		return errs.Persistence("create conversation", err)
	}
	return nil
}

func (r *repoPG) GetBySession(ctx context.Context, sessionID uuid.UUID, withMessages bool) (*Conversation, error) {
	var c Conversation
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT `+conversationCols+` FROM chat_conversation WHERE session_id = $1`, sessionID).Scan(
		&c.ID, &c.SessionID, &c.PatientID, &c.Title, &c.SystemPrompt, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.NotFoundf("conversation not found")
		}
		return nil, errs.Persistence("get conversation", err)
	}
	if !withMessages {
		return &c, nil
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, conversation_id, role, content, tokens, created_at
		FROM chat_message WHERE conversation_id = $1 ORDER BY created_at`, c.ID)
	if err != nil {
		return nil, errs.Persistence("load messages", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Tokens, &m.CreatedAt); err != nil {
			return nil, errs.Persistence("scan message", err)
		}
		c.Messages = append(c.Messages, &m)
	}
	return &c, nil
}

func (r *repoPG) AddMessage(ctx context.Context, m *Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO chat_message (id, conversation_id, role, content, tokens)
		VALUES ($1,$2,$3,$4,$5)`,
		m.ID, m.ConversationID, m.Role, m.Content, m.Tokens,
	)
	if err != nil {
		return errs.Persistence("add message", err)
	}
	_, err = r.conn(ctx).Exec(ctx,
		`UPDATE chat_conversation SET updated_at = now() WHERE id = $1`, m.ConversationID)
	if err != nil {
		return errs.Persistence("touch conversation", err)
	}
	return nil
}

func (r *repoPG) SetTitle(ctx context.Context, conversationID uuid.UUID, title string) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE chat_conversation SET title = $2, updated_at = now() WHERE id = $1`,
		conversationID, title)
	if err != nil {
		return errs.Persistence("set conversation title", err)
	}
	return nil
}

func (r *repoPG) Close(ctx context.Context, sessionID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE chat_conversation SET active = false, updated_at = now() WHERE session_id = $1`,
		sessionID)
	if err != nil {
		return errs.Persistence("close conversation", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFoundf("conversation not found")
	}
	return nil
}
