package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/fushugaku/openfork/internal/models"
)

// PostgresConfig configures connection pooling for the multi-user deployment
// path (spec §11's Postgres/lib/pq target).
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	root_path TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	title TEXT NOT NULL,
	active_agent_id TEXT,
	active_pipeline_id TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_id);
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	parent_message_id TEXT,
	role TEXT NOT NULL,
	agent_id TEXT,
	model_id TEXT,
	provider_id TEXT,
	usage JSONB,
	finish_reason TEXT,
	is_compacted BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);
CREATE TABLE IF NOT EXISTS parts (
	id TEXT PRIMARY KEY,
	message_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	type TEXT NOT NULL,
	order_index INTEGER NOT NULL,
	payload JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_parts_message ON parts(message_id);
CREATE INDEX IF NOT EXISTS idx_parts_session_type ON parts(session_id, type);
CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	slug TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	category TEXT NOT NULL,
	provider_id TEXT,
	model_id TEXT,
	system_prompt TEXT,
	prompt_variables JSONB,
	execution_mode TEXT,
	max_iterations INTEGER,
	timeout_seconds INTEGER,
	can_spawn_subagents BOOLEAN NOT NULL DEFAULT false,
	allowed_subagent_types TEXT[],
	tools JSONB,
	permissions JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS sub_sessions (
	id TEXT PRIMARY KEY,
	parent_session_id TEXT NOT NULL,
	child_session_id TEXT NOT NULL,
	parent_message_id TEXT,
	agent_type TEXT NOT NULL,
	status TEXT NOT NULL,
	prompt TEXT,
	result TEXT,
	error TEXT,
	effective_permissions JSONB,
	run_in_background BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_subsessions_parent ON sub_sessions(parent_session_id);
`

// NewPostgresStoresFromDSN opens a Postgres-backed StoreSet for the
// multi-user deployment path, mirroring the pooling and migration pattern of
// the teacher's CockroachDB adapter.
func NewPostgresStoresFromDSN(ctx context.Context, dsn string, cfg *PostgresConfig) (StoreSet, error) {
	if cfg == nil {
		cfg = DefaultPostgresConfig()
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return StoreSet{}, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return StoreSet{}, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return StoreSet{}, fmt.Errorf("migrate postgres schema: %w", err)
	}

	return StoreSet{
		Projects:    &postgresProjectStore{db: db},
		Sessions:    &postgresSessionStore{db: db},
		Messages:    &postgresMessageStore{db: db},
		Parts:       &postgresPartStore{db: db},
		Agents:      &postgresAgentStore{db: db},
		SubSessions: &postgresSubSessionStore{db: db},
		closer:      db.Close,
	}, nil
}

func isPgDuplicate(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "duplicate")
}

// --- projects ---

type postgresProjectStore struct{ db *sql.DB }

func (s *postgresProjectStore) Create(ctx context.Context, p *models.Project) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, root_path, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.Name, p.RootPath, p.CreatedAt, p.UpdatedAt)
	if isPgDuplicate(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (s *postgresProjectStore) Get(ctx context.Context, id string) (*models.Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, root_path, created_at, updated_at FROM projects WHERE id = $1`, id)
	var p models.Project
	if err := row.Scan(&p.ID, &p.Name, &p.RootPath, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

func (s *postgresProjectStore) List(ctx context.Context, limit, offset int) ([]*models.Project, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM projects`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count projects: %w", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, root_path, created_at, updated_at FROM projects ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		pgLimit(limit), offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()
	out := []*models.Project{}
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.RootPath, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, &p)
	}
	return out, total, rows.Err()
}

func pgLimit(limit int) int64 {
	if limit <= 0 {
		return 1<<62 - 1
	}
	return int64(limit)
}

func (s *postgresProjectStore) Update(ctx context.Context, p *models.Project) error {
	res, err := s.db.ExecContext(ctx, `UPDATE projects SET name = $1, root_path = $2, updated_at = $3 WHERE id = $4`,
		p.Name, p.RootPath, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return checkRowsAffected(res)
}

func (s *postgresProjectStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return checkRowsAffected(res)
}

// --- sessions ---

type postgresSessionStore struct{ db *sql.DB }

func (s *postgresSessionStore) Create(ctx context.Context, sess *models.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, project_id, title, active_agent_id, active_pipeline_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sess.ID, sess.ProjectID, sess.Title, nullString(sess.ActiveAgentID), nullString(sess.ActivePipelineID), sess.CreatedAt, sess.UpdatedAt)
	if isPgDuplicate(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *postgresSessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, title, active_agent_id, active_pipeline_id, created_at, updated_at FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (s *postgresSessionStore) ListByProject(ctx context.Context, projectID string, limit, offset int) ([]*models.Session, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM sessions WHERE project_id = $1`, projectID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, title, active_agent_id, active_pipeline_id, created_at, updated_at
		 FROM sessions WHERE project_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		projectID, pgLimit(limit), offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	out := []*models.Session{}
	for rows.Next() {
		var sess models.Session
		var activeAgent, activePipeline sql.NullString
		if err := rows.Scan(&sess.ID, &sess.ProjectID, &sess.Title, &activeAgent, &activePipeline, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan session: %w", err)
		}
		sess.ActiveAgentID = activeAgent.String
		sess.ActivePipelineID = activePipeline.String
		out = append(out, &sess)
	}
	return out, total, rows.Err()
}

func (s *postgresSessionStore) Update(ctx context.Context, sess *models.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = $1, active_agent_id = $2, active_pipeline_id = $3, updated_at = $4 WHERE id = $5`,
		sess.Title, nullString(sess.ActiveAgentID), nullString(sess.ActivePipelineID), sess.UpdatedAt, sess.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return checkRowsAffected(res)
}

func (s *postgresSessionStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return checkRowsAffected(res)
}

// --- messages ---

type postgresMessageStore struct{ db *sql.DB }

func (s *postgresMessageStore) Create(ctx context.Context, m *models.Message) error {
	usage, err := json.Marshal(m.Usage)
	if err != nil {
		return fmt.Errorf("marshal usage: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, parent_message_id, role, agent_id, model_id, provider_id, usage, finish_reason, is_compacted, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		m.ID, m.SessionID, nullString(m.ParentMessageID), string(m.Role), nullString(m.AgentID), nullString(m.ModelID), nullString(m.ProviderID),
		usage, nullString(string(m.FinishReason)), m.IsCompacted, m.CreatedAt, m.UpdatedAt)
	if isPgDuplicate(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

func (s *postgresMessageStore) Get(ctx context.Context, id string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, parent_message_id, role, agent_id, model_id, provider_id, usage, finish_reason, is_compacted, created_at, updated_at
		 FROM messages WHERE id = $1`, id)
	return scanMessage(row.Scan)
}

func (s *postgresMessageStore) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*models.Message, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM messages WHERE session_id = $1`, sessionID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, parent_message_id, role, agent_id, model_id, provider_id, usage, finish_reason, is_compacted, created_at, updated_at
		 FROM messages WHERE session_id = $1 ORDER BY created_at ASC LIMIT $2 OFFSET $3`,
		sessionID, pgLimit(limit), offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	out := []*models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}

func (s *postgresMessageStore) Update(ctx context.Context, m *models.Message) error {
	usage, err := json.Marshal(m.Usage)
	if err != nil {
		return fmt.Errorf("marshal usage: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET finish_reason = $1, usage = $2, is_compacted = $3, updated_at = $4 WHERE id = $5`,
		nullString(string(m.FinishReason)), usage, m.IsCompacted, m.UpdatedAt, m.ID)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return checkRowsAffected(res)
}

func (s *postgresMessageStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return checkRowsAffected(res)
}

// --- parts ---

type postgresPartStore struct{ db *sql.DB }

func (s *postgresPartStore) Create(ctx context.Context, p *models.Part) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO parts (id, message_id, session_id, type, order_index, payload, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.MessageID, p.SessionID, string(p.Type), p.OrderIndex, []byte(p.Payload), p.CreatedAt)
	if isPgDuplicate(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create part: %w", err)
	}
	return nil
}

func (s *postgresPartStore) Update(ctx context.Context, p *models.Part) error {
	res, err := s.db.ExecContext(ctx, `UPDATE parts SET payload = $1 WHERE id = $2`, []byte(p.Payload), p.ID)
	if err != nil {
		return fmt.Errorf("update part: %w", err)
	}
	return checkRowsAffected(res)
}

func (s *postgresPartStore) Get(ctx context.Context, id string) (*models.Part, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, message_id, session_id, type, order_index, payload, created_at FROM parts WHERE id = $1`, id)
	return scanPart(row.Scan)
}

func (s *postgresPartStore) GetByMessage(ctx context.Context, messageID string) ([]*models.Part, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message_id, session_id, type, order_index, payload, created_at FROM parts WHERE message_id = $1 ORDER BY order_index ASC`, messageID)
	if err != nil {
		return nil, fmt.Errorf("get parts by message: %w", err)
	}
	defer rows.Close()
	out := []*models.Part{}
	for rows.Next() {
		p, err := scanPart(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *postgresPartStore) GetToolPartsByStatus(ctx context.Context, sessionID string, status models.ToolStatus) ([]*models.Part, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message_id, session_id, type, order_index, payload, created_at
		 FROM parts WHERE session_id = $1 AND type = $2 ORDER BY created_at ASC`, sessionID, string(models.PartTypeTool))
	if err != nil {
		return nil, fmt.Errorf("get tool parts: %w", err)
	}
	defer rows.Close()
	out := []*models.Part{}
	for rows.Next() {
		p, err := scanPart(rows.Scan)
		if err != nil {
			return nil, err
		}
		tool, err := p.GetTool()
		if err != nil || tool.Status != status {
			continue
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *postgresPartStore) GetMostRecentCompaction(ctx context.Context, sessionID string) (*models.Part, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, message_id, session_id, type, order_index, payload, created_at
		 FROM parts WHERE session_id = $1 AND type = $2 ORDER BY created_at DESC LIMIT 1`,
		sessionID, string(models.PartTypeCompaction))
	return scanPart(row.Scan)
}

func (s *postgresPartStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM parts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete part: %w", err)
	}
	return checkRowsAffected(res)
}

// --- agents ---

type postgresAgentStore struct{ db *sql.DB }

func (s *postgresAgentStore) Create(ctx context.Context, a *models.Agent) error {
	promptVars, tools, perms, err := marshalAgentJSONColumns(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agents (id, slug, name, category, provider_id, model_id, system_prompt, prompt_variables,
			execution_mode, max_iterations, timeout_seconds, can_spawn_subagents, allowed_subagent_types, tools, permissions, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		a.ID, a.Slug, a.Name, string(a.Category), a.ProviderID, a.ModelID, a.SystemPrompt, promptVars,
		string(a.ExecutionMode), a.MaxIterations, pgTimeoutSeconds(a), a.CanSpawnSubagents,
		pq.Array(a.AllowedSubagentTypes), tools, perms, a.CreatedAt, a.UpdatedAt)
	if isPgDuplicate(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

// pgTimeoutSeconds flattens Agent.Timeout (nil meaning "no override") to a
// storable seconds count; 0 round-trips back to a nil pointer.
func pgTimeoutSeconds(a *models.Agent) int64 {
	if a.Timeout == nil {
		return 0
	}
	return int64(a.Timeout.Seconds())
}

func pgDurationPtr(seconds int64) *time.Duration {
	if seconds == 0 {
		return nil
	}
	d := time.Duration(seconds) * time.Second
	return &d
}

func marshalAgentJSONColumns(a *models.Agent) (promptVars, tools, perms []byte, err error) {
	if promptVars, err = json.Marshal(a.PromptVariables); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal prompt variables: %w", err)
	}
	if tools, err = json.Marshal(a.Tools); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal tools: %w", err)
	}
	if perms, err = json.Marshal(a.Permissions); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal permissions: %w", err)
	}
	return promptVars, tools, perms, nil
}

const pgAgentColumns = `id, slug, name, category, provider_id, model_id, system_prompt, prompt_variables,
	execution_mode, max_iterations, timeout_seconds, can_spawn_subagents, allowed_subagent_types, tools, permissions, created_at, updated_at`

func scanPgAgent(scan func(...any) error) (*models.Agent, error) {
	var a models.Agent
	var promptVars, tools, perms []byte
	var timeoutSeconds int64
	var allowed []string
	if err := scan(&a.ID, &a.Slug, &a.Name, &a.Category, &a.ProviderID, &a.ModelID, &a.SystemPrompt, &promptVars,
		&a.ExecutionMode, &a.MaxIterations, &timeoutSeconds, &a.CanSpawnSubagents, pq.Array(&allowed), &tools, &perms, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	a.Timeout = pgDurationPtr(timeoutSeconds)
	a.AllowedSubagentTypes = allowed
	if len(promptVars) > 0 {
		json.Unmarshal(promptVars, &a.PromptVariables)
	}
	if len(tools) > 0 {
		json.Unmarshal(tools, &a.Tools)
	}
	if len(perms) > 0 {
		json.Unmarshal(perms, &a.Permissions)
	}
	return &a, nil
}

func (s *postgresAgentStore) Get(ctx context.Context, id string) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pgAgentColumns+` FROM agents WHERE id = $1`, id)
	return scanPgAgent(row.Scan)
}

func (s *postgresAgentStore) GetBySlug(ctx context.Context, slug string) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pgAgentColumns+` FROM agents WHERE slug = $1`, slug)
	return scanPgAgent(row.Scan)
}

func (s *postgresAgentStore) List(ctx context.Context, category models.AgentCategory, limit, offset int) ([]*models.Agent, int, error) {
	where, args := "", []any{}
	if category != "" {
		where = " WHERE category = $1"
		args = append(args, string(category))
	}
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM agents`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count agents: %w", err)
	}
	args = append(args, pgLimit(limit), offset)
	limitIdx := len(args) - 1
	offsetIdx := len(args)
	query := fmt.Sprintf(`SELECT %s FROM agents%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, pgAgentColumns, where, limitIdx, offsetIdx)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()
	out := []*models.Agent{}
	for rows.Next() {
		a, err := scanPgAgent(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

func (s *postgresAgentStore) Update(ctx context.Context, a *models.Agent) error {
	promptVars, tools, perms, err := marshalAgentJSONColumns(a)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET name = $1, category = $2, provider_id = $3, model_id = $4, system_prompt = $5, prompt_variables = $6,
			execution_mode = $7, max_iterations = $8, timeout_seconds = $9, can_spawn_subagents = $10, allowed_subagent_types = $11, tools = $12, permissions = $13, updated_at = $14
		 WHERE id = $15`,
		a.Name, string(a.Category), a.ProviderID, a.ModelID, a.SystemPrompt, promptVars,
		string(a.ExecutionMode), a.MaxIterations, pgTimeoutSeconds(a), a.CanSpawnSubagents,
		pq.Array(a.AllowedSubagentTypes), tools, perms, a.UpdatedAt, a.ID)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	return checkRowsAffected(res)
}

func (s *postgresAgentStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	return checkRowsAffected(res)
}

// --- sub-sessions ---

type postgresSubSessionStore struct{ db *sql.DB }

func (s *postgresSubSessionStore) Create(ctx context.Context, sub *models.SubSession) error {
	perms, err := json.Marshal(sub.EffectivePermissions)
	if err != nil {
		return fmt.Errorf("marshal effective permissions: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sub_sessions (id, parent_session_id, child_session_id, parent_message_id, agent_type, status, prompt, result, error, effective_permissions, run_in_background, created_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		sub.ID, sub.ParentSessionID, sub.ChildSessionID, sub.ParentMessageID, sub.AgentType, string(sub.Status),
		sub.Prompt, sub.Result, sub.Error, perms, sub.RunInBackground, sub.CreatedAt, sub.CompletedAt)
	if isPgDuplicate(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create sub-session: %w", err)
	}
	return nil
}

func (s *postgresSubSessionStore) Get(ctx context.Context, id string) (*models.SubSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subSessionColumns+` FROM sub_sessions WHERE id = $1`, id)
	return scanSubSession(row.Scan)
}

func (s *postgresSubSessionStore) ListByParent(ctx context.Context, parentSessionID string, limit, offset int) ([]*models.SubSession, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM sub_sessions WHERE parent_session_id = $1`, parentSessionID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sub-sessions: %w", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subSessionColumns+` FROM sub_sessions WHERE parent_session_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		parentSessionID, pgLimit(limit), offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list sub-sessions: %w", err)
	}
	defer rows.Close()
	out := []*models.SubSession{}
	for rows.Next() {
		sub, err := scanSubSession(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, sub)
	}
	return out, total, rows.Err()
}

func (s *postgresSubSessionStore) Update(ctx context.Context, sub *models.SubSession) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sub_sessions SET status = $1, result = $2, error = $3, completed_at = $4 WHERE id = $5`,
		string(sub.Status), sub.Result, sub.Error, sub.CompletedAt, sub.ID)
	if err != nil {
		return fmt.Errorf("update sub-session: %w", err)
	}
	return checkRowsAffected(res)
}
