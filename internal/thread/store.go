package thread

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parlor-ai/parlor/internal/content"
	"github.com/parlor-ai/parlor/internal/log"
)

// Store manages thread persistence on PostgreSQL. It satisfies the
// forwarding engine's storage contract and the memory tools' metadata
// contract.
//
// Store is safe for concurrent use; writers on the same thread are
// serialized by a row lock inside the write transaction.
type Store struct {
	querier Querier
	pool    *pgxpool.Pool
	logger  log.Logger
}

// NewStore creates a Store. pool may be nil in tests with a mock
// querier; writes then skip the transaction wrapper.
func NewStore(querier Querier, pool *pgxpool.Pool, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{querier: querier, pool: pool, logger: logger}
}

// CreateThread creates a new conversation owned by the named agent.
func (s *Store) CreateThread(ctx context.Context, title, agent string) (*Thread, error) {
	var titlePtr *string
	if title != "" {
		titlePtr = &title
	}
	row, err := s.querier.CreateThread(ctx, CreateThreadParams{Title: titlePtr, Agent: agent})
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}

	t := rowToThread(row)
	s.logger.Debug("created thread", "id", t.ID, "agent", agent)
	return t, nil
}

// GetThread retrieves one thread.
func (s *Store) GetThread(ctx context.Context, id uuid.UUID) (*Thread, error) {
	row, err := s.querier.GetThread(ctx, toPgUUID(id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get thread %s: %w", id, err)
	}
	return rowToThread(row), nil
}

// ListThreads lists threads, most recently active first.
func (s *Store) ListThreads(ctx context.Context, limit, offset int32) ([]*Thread, error) {
	rows, err := s.querier.ListThreads(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	threads := make([]*Thread, 0, len(rows))
	for _, row := range rows {
		threads = append(threads, rowToThread(row))
	}
	return threads, nil
}

// DeleteThread removes a thread and its messages.
func (s *Store) DeleteThread(ctx context.Context, id uuid.UUID) error {
	affected, err := s.querier.DeleteThread(ctx, toPgUUID(id))
	if err != nil {
		return fmt.Errorf("delete thread %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.logger.Debug("deleted thread", "id", id)
	return nil
}

// History returns the thread's messages in sequence order.
func (s *Store) History(ctx context.Context, threadID string) ([]*content.Message, error) {
	id, err := parseThreadID(threadID)
	if err != nil {
		return nil, err
	}

	rows, err := s.querier.ListMessages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	messages := make([]*content.Message, 0, len(rows))
	for _, row := range rows {
		msg, err := rowToMessage(row)
		if err != nil {
			// A malformed row is skipped, not fatal: the rest of the
			// thread stays readable.
			s.logger.Warn("skipping unreadable message",
				"message_id", fromPgUUID(row.ID),
				"error", err,
			)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Meta returns all metadata for the thread.
func (s *Store) Meta(ctx context.Context, threadID string) (map[string]string, error) {
	id, err := parseThreadID(threadID)
	if err != nil {
		return nil, err
	}
	meta, err := s.querier.ListMeta(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list metadata: %w", err)
	}
	return meta, nil
}

// GetMeta returns one metadata value and whether it was present.
func (s *Store) GetMeta(ctx context.Context, threadID, key string) (string, bool, error) {
	id, err := parseThreadID(threadID)
	if err != nil {
		return "", false, err
	}
	value, err := s.querier.GetMeta(ctx, id, key)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get metadata %q: %w", key, err)
	}
	return value, true, nil
}

// SetMeta stores one metadata value, replacing any previous one.
func (s *Store) SetMeta(ctx context.Context, threadID, key, value string) error {
	id, err := parseThreadID(threadID)
	if err != nil {
		return err
	}
	if err := s.querier.SetMeta(ctx, id, key, value); err != nil {
		return fmt.Errorf("set metadata %q: %w", key, err)
	}
	return nil
}

// AppendUserMessage durably appends the user's input message,
// preserving its IDs.
func (s *Store) AppendUserMessage(ctx context.Context, threadID string, msg *content.Message) error {
	return s.appendMessages(ctx, threadID, []*content.Message{msg})
}

// AppendGenerated durably appends agent output in order, preserving
// IDs. All messages land in one transaction.
func (s *Store) AppendGenerated(ctx context.Context, threadID, agentName string, msgs []*content.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := s.appendMessages(ctx, threadID, msgs); err != nil {
		return err
	}
	s.logger.Debug("appended generated messages",
		"thread_id", threadID,
		"agent", agentName,
		"count", len(msgs),
	)
	return nil
}

func (s *Store) appendMessages(ctx context.Context, threadID string, msgs []*content.Message) error {
	id, err := parseThreadID(threadID)
	if err != nil {
		return err
	}

	if s.pool == nil {
		return s.appendWith(ctx, s.querier, id, msgs)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("rollback", "error", err)
		}
	}()

	if err := s.appendWith(ctx, NewQueries(tx), id, msgs); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) appendWith(ctx context.Context, q Querier, threadID pgtype.UUID, msgs []*content.Message) error {
	if err := q.LockThread(ctx, threadID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, fromPgUUID(threadID))
		}
		return fmt.Errorf("lock thread: %w", err)
	}

	maxSeq, err := q.MaxSequence(ctx, threadID)
	if err != nil {
		return fmt.Errorf("max sequence: %w", err)
	}

	for i, msg := range msgs {
		params, err := messageToParams(threadID, msg, maxSeq+int32(i)+1)
		if err != nil {
			return fmt.Errorf("encode message %d: %w", i, err)
		}
		if err := q.InsertMessage(ctx, params); err != nil {
			return fmt.Errorf("insert message %d: %w", i, err)
		}
	}

	if err := q.TouchThread(ctx, threadID, maxSeq+int32(len(msgs))); err != nil {
		return fmt.Errorf("touch thread: %w", err)
	}
	return nil
}

func messageToParams(threadID pgtype.UUID, msg *content.Message, seq int32) (InsertMessageParams, error) {
	id, err := uuid.Parse(msg.ID)
	if err != nil {
		return InsertMessageParams{}, fmt.Errorf("message id: %w", err)
	}
	encoded, err := json.Marshal(msg.Content)
	if err != nil {
		return InsertMessageParams{}, fmt.Errorf("encode content: %w", err)
	}

	var namePtr, toolUsePtr *string
	if msg.Name != "" {
		namePtr = &msg.Name
	}
	if msg.ToolUseID != "" {
		toolUsePtr = &msg.ToolUseID
	}

	return InsertMessageParams{
		ID:             toPgUUID(id),
		ThreadID:       threadID,
		Role:           string(msg.Role),
		Name:           namePtr,
		ToolUseID:      toolUsePtr,
		Content:        encoded,
		SequenceNumber: seq,
	}, nil
}

func rowToMessage(row MessageRow) (*content.Message, error) {
	var units content.Units
	if err := json.Unmarshal(row.Content, &units); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}

	msg := &content.Message{
		ID:      fromPgUUID(row.ID).String(),
		Role:    content.Role(row.Role),
		Content: units,
	}
	if row.Name != nil {
		msg.Name = *row.Name
	}
	if row.ToolUseID != nil {
		msg.ToolUseID = *row.ToolUseID
	}
	return msg, nil
}

func rowToThread(row ThreadRow) *Thread {
	t := &Thread{
		ID:           fromPgUUID(row.ID),
		Agent:        row.Agent,
		MessageCount: int(row.MessageCount),
		CreatedAt:    row.CreatedAt.Time,
		UpdatedAt:    row.UpdatedAt.Time,
	}
	if row.Title != nil {
		t.Title = *row.Title
	}
	return t
}

func parseThreadID(threadID string) (pgtype.UUID, error) {
	id, err := uuid.Parse(threadID)
	if err != nil {
		return pgtype.UUID{}, fmt.Errorf("invalid thread id %q: %w", threadID, err)
	}
	return toPgUUID(id), nil
}

func toPgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func fromPgUUID(id pgtype.UUID) uuid.UUID {
	if !id.Valid {
		return uuid.Nil
	}
	return id.Bytes
}
