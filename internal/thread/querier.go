package thread

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is the subset of pgx both a pool and a transaction provide.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Querier defines the database operations the Store needs. Defined
// on the consumer side so tests can substitute a mock.
type Querier interface {
	CreateThread(ctx context.Context, arg CreateThreadParams) (ThreadRow, error)
	GetThread(ctx context.Context, id pgtype.UUID) (ThreadRow, error)
	ListThreads(ctx context.Context, limit, offset int32) ([]ThreadRow, error)
	DeleteThread(ctx context.Context, id pgtype.UUID) (int64, error)
	// LockThread takes the thread's row lock for the transaction,
	// serializing writers on the same thread.
	LockThread(ctx context.Context, id pgtype.UUID) error
	TouchThread(ctx context.Context, id pgtype.UUID, messageCount int32) error

	MaxSequence(ctx context.Context, threadID pgtype.UUID) (int32, error)
	InsertMessage(ctx context.Context, arg InsertMessageParams) error
	ListMessages(ctx context.Context, threadID pgtype.UUID) ([]MessageRow, error)

	GetMeta(ctx context.Context, threadID pgtype.UUID, key string) (string, error)
	SetMeta(ctx context.Context, threadID pgtype.UUID, key, value string) error
	ListMeta(ctx context.Context, threadID pgtype.UUID) (map[string]string, error)
}

// ThreadRow mirrors the threads table.
type ThreadRow struct {
	ID           pgtype.UUID
	Title        *string
	Agent        string
	MessageCount int32
	CreatedAt    pgtype.Timestamptz
	UpdatedAt    pgtype.Timestamptz
}

// MessageRow mirrors the messages table. Content holds the JSONB
// encoding of the message's content units.
type MessageRow struct {
	ID             pgtype.UUID
	ThreadID       pgtype.UUID
	Role           string
	Name           *string
	ToolUseID      *string
	Content        []byte
	SequenceNumber int32
	CreatedAt      pgtype.Timestamptz
}

// CreateThreadParams are the inputs for CreateThread.
type CreateThreadParams struct {
	Title *string
	Agent string
}

// InsertMessageParams are the inputs for InsertMessage.
type InsertMessageParams struct {
	ID             pgtype.UUID
	ThreadID       pgtype.UUID
	Role           string
	Name           *string
	ToolUseID      *string
	Content        []byte
	SequenceNumber int32
}

// Queries implements Querier over a pool or transaction.
type Queries struct {
	db DBTX
}

// NewQueries creates a Queries bound to db.
func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

const createThread = `
INSERT INTO threads (title, agent)
VALUES ($1, $2)
RETURNING id, title, agent, message_count, created_at, updated_at
`

func (q *Queries) CreateThread(ctx context.Context, arg CreateThreadParams) (ThreadRow, error) {
	var row ThreadRow
	err := q.db.QueryRow(ctx, createThread, arg.Title, arg.Agent).Scan(
		&row.ID, &row.Title, &row.Agent, &row.MessageCount, &row.CreatedAt, &row.UpdatedAt,
	)
	return row, err
}

const getThread = `
SELECT id, title, agent, message_count, created_at, updated_at
FROM threads
WHERE id = $1
`

func (q *Queries) GetThread(ctx context.Context, id pgtype.UUID) (ThreadRow, error) {
	var row ThreadRow
	err := q.db.QueryRow(ctx, getThread, id).Scan(
		&row.ID, &row.Title, &row.Agent, &row.MessageCount, &row.CreatedAt, &row.UpdatedAt,
	)
	return row, err
}

const listThreads = `
SELECT id, title, agent, message_count, created_at, updated_at
FROM threads
ORDER BY updated_at DESC
LIMIT $1 OFFSET $2
`

func (q *Queries) ListThreads(ctx context.Context, limit, offset int32) ([]ThreadRow, error) {
	rows, err := q.db.Query(ctx, listThreads, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ThreadRow
	for rows.Next() {
		var row ThreadRow
		if err := rows.Scan(&row.ID, &row.Title, &row.Agent, &row.MessageCount, &row.CreatedAt, &row.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

const deleteThread = `DELETE FROM threads WHERE id = $1`

func (q *Queries) DeleteThread(ctx context.Context, id pgtype.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteThread, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const lockThread = `SELECT id FROM threads WHERE id = $1 FOR UPDATE`

func (q *Queries) LockThread(ctx context.Context, id pgtype.UUID) error {
	var got pgtype.UUID
	return q.db.QueryRow(ctx, lockThread, id).Scan(&got)
}

const touchThread = `
UPDATE threads
SET message_count = $2, updated_at = now()
WHERE id = $1
`

func (q *Queries) TouchThread(ctx context.Context, id pgtype.UUID, messageCount int32) error {
	_, err := q.db.Exec(ctx, touchThread, id, messageCount)
	return err
}

const maxSequence = `
SELECT COALESCE(MAX(sequence_number), 0)
FROM messages
WHERE thread_id = $1
`

func (q *Queries) MaxSequence(ctx context.Context, threadID pgtype.UUID) (int32, error) {
	var seq int32
	err := q.db.QueryRow(ctx, maxSequence, threadID).Scan(&seq)
	return seq, err
}

const insertMessage = `
INSERT INTO messages (id, thread_id, role, name, tool_use_id, content, sequence_number)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

func (q *Queries) InsertMessage(ctx context.Context, arg InsertMessageParams) error {
	_, err := q.db.Exec(ctx, insertMessage,
		arg.ID, arg.ThreadID, arg.Role, arg.Name, arg.ToolUseID, arg.Content, arg.SequenceNumber,
	)
	return err
}

const listMessages = `
SELECT id, thread_id, role, name, tool_use_id, content, sequence_number, created_at
FROM messages
WHERE thread_id = $1
ORDER BY sequence_number ASC
`

func (q *Queries) ListMessages(ctx context.Context, threadID pgtype.UUID) ([]MessageRow, error) {
	rows, err := q.db.Query(ctx, listMessages, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MessageRow
	for rows.Next() {
		var row MessageRow
		if err := rows.Scan(&row.ID, &row.ThreadID, &row.Role, &row.Name, &row.ToolUseID,
			&row.Content, &row.SequenceNumber, &row.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

const getMeta = `
SELECT value FROM thread_meta
WHERE thread_id = $1 AND key = $2
`

func (q *Queries) GetMeta(ctx context.Context, threadID pgtype.UUID, key string) (string, error) {
	var value string
	err := q.db.QueryRow(ctx, getMeta, threadID, key).Scan(&value)
	return value, err
}

const setMeta = `
INSERT INTO thread_meta (thread_id, key, value)
VALUES ($1, $2, $3)
ON CONFLICT (thread_id, key) DO UPDATE
SET value = EXCLUDED.value, updated_at = now()
`

func (q *Queries) SetMeta(ctx context.Context, threadID pgtype.UUID, key, value string) error {
	_, err := q.db.Exec(ctx, setMeta, threadID, key, value)
	return err
}

const listMeta = `
SELECT key, value FROM thread_meta
WHERE thread_id = $1
`

func (q *Queries) ListMeta(ctx context.Context, threadID pgtype.UUID) (map[string]string, error) {
	rows, err := q.db.Query(ctx, listMeta, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		meta[key] = value
	}
	return meta, rows.Err()
}
