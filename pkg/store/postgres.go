package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver for database/sql

	"github.com/openagentd/agentd/pkg/models"
)

//go:embed migrations
var migrationsFS embed.FS

// pgUniqueViolation is the PostgreSQL error code for unique constraint
// violations — two concurrent appenders saw the same "next" sequence.
const pgUniqueViolation = "23505"

// PostgresConfig holds connection settings for the durable backend.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// PostgresStore is the durable tabular backend. Access follows a
// connection-per-operation policy: no transaction is held across awaits
// other than the single append transaction.
type PostgresStore struct {
	db            *sql.DB
	conversations *pgConversations
	contexts      *pgContexts
}

// NewPostgresStore connects, applies pending migrations, and returns the
// store.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &PostgresStore{
		db:            db,
		conversations: &pgConversations{db: db},
		contexts:      &pgContexts{db: db},
	}, nil
}

func (s *PostgresStore) Conversations() ConversationRepository { return s.conversations }
func (s *PostgresStore) Contexts() AgentContextRepository      { return s.contexts }
func (s *PostgresStore) Close() error                          { return s.db.Close() }

// DB exposes the underlying pool for health checks.
func (s *PostgresStore) DB() *sql.DB { return s.db }

// Health pings the database with a short deadline.
func Health(ctx context.Context, db *sql.DB) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(pingCtx)
}

// runMigrations applies embedded migrations to the connected database.
func runMigrations(db *sql.DB) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// --- conversations ---

type pgConversations struct {
	db *sql.DB
}

func (r *pgConversations) SaveHistory(ctx context.Context, h *models.ConversationHistory) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO conversation_histories (agent_id, user_id, flow_type, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (agent_id) DO UPDATE
		SET user_id = EXCLUDED.user_id,
		    flow_type = EXCLUDED.flow_type,
		    title = EXCLUDED.title,
		    updated_at = NOW()`,
		h.AgentID, h.UserID, h.FlowType, h.Title)
	if err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}

func (r *pgConversations) GetHistory(ctx context.Context, agentID string) (*models.ConversationHistory, error) {
	var h models.ConversationHistory
	err := r.db.QueryRowContext(ctx, `
		SELECT agent_id, user_id, flow_type, title, created_at, updated_at
		FROM conversation_histories WHERE agent_id = $1`, agentID).
		Scan(&h.AgentID, &h.UserID, &h.FlowType, &h.Title, &h.CreatedAt, &h.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	return &h, nil
}

// AppendEvent assigns the next sequence and inserts in one transaction. A
// unique-constraint collision (another appender claimed the same sequence)
// is retried with exponential backoff up to appendMaxAttempts.
func (r *pgConversations) AppendEvent(ctx context.Context, agentID string, typ models.EventType, payload json.RawMessage) (*models.ConversationEvent, error) {
	var out *models.ConversationEvent

	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(), uint64(appendMaxAttempts-1)), ctx)

	op := func() error {
		ev, err := r.appendOnce(ctx, agentID, typ, payload)
		if err != nil {
			if errors.Is(err, ErrConflict) {
				return err // retryable
			}
			return backoff.Permanent(err)
		}
		out = ev
		return nil
	}
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("append event for agent %s: %w", agentID, err)
	}
	return out, nil
}

func (r *pgConversations) appendOnce(ctx context.Context, agentID string, typ models.EventType, payload json.RawMessage) (*models.ConversationEvent, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ev := &models.ConversationEvent{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		Type:      typ,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO conversation_events (id, agent_id, sequence, type, payload, created_at)
		SELECT $1, $2, COALESCE(MAX(sequence), 0) + 1, $3, $4, $5
		FROM conversation_events WHERE agent_id = $2
		RETURNING sequence`,
		ev.ID, agentID, string(typ), []byte(payload), ev.CreatedAt).
		Scan(&ev.Sequence)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	return ev, nil
}

func (r *pgConversations) EventsFrom(ctx context.Context, agentID string, from int64) ([]*models.ConversationEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, agent_id, sequence, type, payload, created_at
		FROM conversation_events
		WHERE agent_id = $1 AND sequence >= $2
		ORDER BY sequence`, agentID, from)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.ConversationEvent
	for rows.Next() {
		var ev models.ConversationEvent
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.AgentID, &ev.Sequence, &ev.Type, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Payload = payload
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func (r *pgConversations) LatestSequence(ctx context.Context, agentID string) (int64, error) {
	var seq int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence), 0) FROM conversation_events WHERE agent_id = $1`,
		agentID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("latest sequence: %w", err)
	}
	return seq, nil
}

func (r *pgConversations) LatestEvent(ctx context.Context, agentID string) (*models.ConversationEvent, error) {
	var ev models.ConversationEvent
	var payload []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, agent_id, sequence, type, payload, created_at
		FROM conversation_events
		WHERE agent_id = $1
		ORDER BY sequence DESC LIMIT 1`, agentID).
		Scan(&ev.ID, &ev.AgentID, &ev.Sequence, &ev.Type, &payload, &ev.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest event: %w", err)
	}
	ev.Payload = payload
	return &ev, nil
}

func (r *pgConversations) DeleteHistory(ctx context.Context, agentID string) error {
	// Events cascade via the foreign key.
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM conversation_histories WHERE agent_id = $1`, agentID)
	if err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	return nil
}

func (r *pgConversations) ListHistories(ctx context.Context, userID string, limit, offset int) ([]*models.ConversationHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT agent_id, user_id, flow_type, title, created_at, updated_at
		FROM conversation_histories
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list histories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.ConversationHistory
	for rows.Next() {
		var h models.ConversationHistory
		if err := rows.Scan(&h.AgentID, &h.UserID, &h.FlowType, &h.Title, &h.CreatedAt, &h.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

// --- contexts ---

type pgContexts struct {
	db *sql.DB
}

// contextDoc is the JSON document column carrying everything not promoted to
// an indexed column.
type contextDoc struct {
	Agent           models.AgentInfo `json:"agent"`
	PlannerMemory   []models.Message `json:"planner_memory,omitempty"`
	ExecutionMemory []models.Message `json:"execution_memory,omitempty"`
	Metadata        map[string]any   `json:"metadata,omitempty"`
}

func (r *pgContexts) Save(ctx context.Context, c *models.AgentContext) error {
	doc, err := json.Marshal(contextDoc{
		Agent:           c.Agent,
		PlannerMemory:   c.PlannerMemory,
		ExecutionMemory: c.ExecutionMemory,
		Metadata:        c.Metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal context doc: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO agent_contexts
			(agent_id, user_id, flow_type, sandbox_id, status, last_message, last_message_at, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (agent_id) DO UPDATE
		SET user_id = EXCLUDED.user_id,
		    flow_type = EXCLUDED.flow_type,
		    sandbox_id = EXCLUDED.sandbox_id,
		    status = EXCLUDED.status,
		    last_message = EXCLUDED.last_message,
		    last_message_at = EXCLUDED.last_message_at,
		    doc = EXCLUDED.doc,
		    updated_at = NOW()`,
		c.AgentID, c.Agent.UserID, c.FlowType, nullable(c.SandboxID), string(c.Status),
		nullable(c.LastMessage), nullableTime(c.LastMessageAt), doc)
	if err != nil {
		return fmt.Errorf("save context: %w", err)
	}
	return nil
}

func (r *pgContexts) Get(ctx context.Context, agentID string) (*models.AgentContext, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, `
		SELECT agent_id, user_id, flow_type, sandbox_id, status, last_message, last_message_at, doc, created_at, updated_at
		FROM agent_contexts WHERE agent_id = $1`, agentID))
}

func (r *pgContexts) Update(ctx context.Context, agentID string, patch ContextUpdate) (*models.AgentContext, error) {
	// Read-modify-write in one transaction with a row lock so the status
	// index (a plain column index) changes atomically with the record.
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := r.scanOne(tx.QueryRowContext(ctx, `
		SELECT agent_id, user_id, flow_type, sandbox_id, status, last_message, last_message_at, doc, created_at, updated_at
		FROM agent_contexts WHERE agent_id = $1 FOR UPDATE`, agentID))
	if err != nil {
		return nil, err
	}

	if patch.Status != nil {
		current.Status = *patch.Status
	}
	if patch.SandboxID != nil {
		current.SandboxID = *patch.SandboxID
	}
	if patch.LastMessage != nil {
		current.LastMessage = *patch.LastMessage
	}
	if patch.LastMessageAt != nil {
		current.LastMessageAt = *patch.LastMessageAt
	}
	if patch.PlannerMemory != nil {
		current.PlannerMemory = patch.PlannerMemory
	}
	if patch.ExecutionMemory != nil {
		current.ExecutionMemory = patch.ExecutionMemory
	}
	if patch.Metadata != nil {
		if current.Metadata == nil {
			current.Metadata = make(map[string]any, len(patch.Metadata))
		}
		for k, v := range patch.Metadata {
			current.Metadata[k] = v
		}
	}

	doc, err := json.Marshal(contextDoc{
		Agent:           current.Agent,
		PlannerMemory:   current.PlannerMemory,
		ExecutionMemory: current.ExecutionMemory,
		Metadata:        current.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal context doc: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE agent_contexts
		SET sandbox_id = $2, status = $3, last_message = $4, last_message_at = $5, doc = $6, updated_at = NOW()
		WHERE agent_id = $1
		RETURNING updated_at`,
		agentID, nullable(current.SandboxID), string(current.Status),
		nullable(current.LastMessage), nullableTime(current.LastMessageAt), doc).
		Scan(&current.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update context: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return current, nil
}

func (r *pgContexts) Delete(ctx context.Context, agentID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM agent_contexts WHERE agent_id = $1`, agentID)
	if err != nil {
		return fmt.Errorf("delete context: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgContexts) ListByUser(ctx context.Context, userID string) ([]*models.AgentContext, error) {
	return r.list(ctx, `
		SELECT agent_id, user_id, flow_type, sandbox_id, status, last_message, last_message_at, doc, created_at, updated_at
		FROM agent_contexts WHERE user_id = $1 ORDER BY created_at`, userID)
}

func (r *pgContexts) ListByStatus(ctx context.Context, status models.AgentStatus) ([]*models.AgentContext, error) {
	return r.list(ctx, `
		SELECT agent_id, user_id, flow_type, sandbox_id, status, last_message, last_message_at, doc, created_at, updated_at
		FROM agent_contexts WHERE status = $1 ORDER BY created_at`, string(status))
}

func (r *pgContexts) list(ctx context.Context, query string, arg any) ([]*models.AgentContext, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list contexts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.AgentContext
	for rows.Next() {
		c, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (r *pgContexts) scanOne(row rowScanner) (*models.AgentContext, error) {
	var (
		c         models.AgentContext
		userID    string
		sandboxID sql.NullString
		lastMsg   sql.NullString
		lastAt    sql.NullTime
		doc       []byte
	)
	err := row.Scan(&c.AgentID, &userID, &c.FlowType, &sandboxID, &c.Status,
		&lastMsg, &lastAt, &doc, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan context: %w", err)
	}

	var d contextDoc
	if err := json.Unmarshal(doc, &d); err != nil {
		return nil, fmt.Errorf("decode context doc: %w", err)
	}
	c.Agent = d.Agent
	c.PlannerMemory = d.PlannerMemory
	c.ExecutionMemory = d.ExecutionMemory
	c.Metadata = d.Metadata
	c.SandboxID = sandboxID.String
	c.LastMessage = lastMsg.String
	if lastAt.Valid {
		c.LastMessageAt = lastAt.Time
	}
	return &c, nil
}

// nullable maps "" to NULL for optional text columns.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullableTime maps the zero time to NULL.
func nullableTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
