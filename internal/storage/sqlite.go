package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fushugaku/openfork/internal/models"
)

// SQLiteConfig configures the embedded default store. A local, single-binary
// orchestration runtime should not require a cgo toolchain to build, which is
// why this adapter uses modernc.org/sqlite rather than mattn/go-sqlite3.
type SQLiteConfig struct {
	MaxOpenConns int
	MaxIdleConns int
}

func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{MaxOpenConns: 1, MaxIdleConns: 1}
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	root_path TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	title TEXT NOT NULL,
	active_agent_id TEXT,
	active_pipeline_id TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
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
	usage TEXT,
	finish_reason TEXT,
	is_compacted INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);
CREATE TABLE IF NOT EXISTS parts (
	id TEXT PRIMARY KEY,
	message_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	type TEXT NOT NULL,
	order_index INTEGER NOT NULL,
	payload TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
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
	prompt_variables TEXT,
	execution_mode TEXT,
	max_iterations INTEGER,
	timeout_seconds INTEGER,
	can_spawn_subagents INTEGER NOT NULL DEFAULT 0,
	allowed_subagent_types TEXT,
	tools TEXT,
	permissions TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
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
	effective_permissions TEXT,
	run_in_background INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	completed_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_subsessions_parent ON sub_sessions(parent_session_id);
`

// NewSQLiteStores opens (creating if necessary) a sqlite database at path and
// returns a fully wired StoreSet. path may be ":memory:" for ephemeral runs.
func NewSQLiteStores(ctx context.Context, path string, cfg *SQLiteConfig) (StoreSet, error) {
	if cfg == nil {
		cfg = DefaultSQLiteConfig()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return StoreSet{}, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return StoreSet{}, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return StoreSet{}, fmt.Errorf("migrate sqlite schema: %w", err)
	}

	return StoreSet{
		Projects:    &sqliteProjectStore{db: db},
		Sessions:    &sqliteSessionStore{db: db},
		Messages:    &sqliteMessageStore{db: db},
		Parts:       &sqlitePartStore{db: db},
		Agents:      &sqliteAgentStore{db: db},
		SubSessions: &sqliteSubSessionStore{db: db},
		closer:      db.Close,
	}, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "constraint")
}

// --- projects ---

type sqliteProjectStore struct{ db *sql.DB }

func (s *sqliteProjectStore) Create(ctx context.Context, p *models.Project) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, root_path, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.RootPath, p.CreatedAt, p.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (s *sqliteProjectStore) Get(ctx context.Context, id string) (*models.Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, root_path, created_at, updated_at FROM projects WHERE id = ?`, id)
	var p models.Project
	if err := row.Scan(&p.ID, &p.Name, &p.RootPath, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

func (s *sqliteProjectStore) List(ctx context.Context, limit, offset int) ([]*models.Project, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM projects`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count projects: %w", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, root_path, created_at, updated_at FROM projects ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		nullableLimit(limit), offset)
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

func (s *sqliteProjectStore) Update(ctx context.Context, p *models.Project) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET name = ?, root_path = ?, updated_at = ? WHERE id = ?`,
		p.Name, p.RootPath, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return checkRowsAffected(res)
}

func (s *sqliteProjectStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return checkRowsAffected(res)
}

// nullableLimit turns a non-positive limit into a very large bound, since
// sqlite's LIMIT clause requires a value and -1 means "no limit" there too.
func nullableLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func checkRowsAffected(res sql.Result) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// --- sessions ---

type sqliteSessionStore struct{ db *sql.DB }

func (s *sqliteSessionStore) Create(ctx context.Context, sess *models.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, project_id, title, active_agent_id, active_pipeline_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ProjectID, sess.Title, nullString(sess.ActiveAgentID), nullString(sess.ActivePipelineID), sess.CreatedAt, sess.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *sqliteSessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, title, active_agent_id, active_pipeline_id, created_at, updated_at FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*models.Session, error) {
	var sess models.Session
	var activeAgent, activePipeline sql.NullString
	if err := row.Scan(&sess.ID, &sess.ProjectID, &sess.Title, &activeAgent, &activePipeline, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.ActiveAgentID = activeAgent.String
	sess.ActivePipelineID = activePipeline.String
	return &sess, nil
}

func (s *sqliteSessionStore) ListByProject(ctx context.Context, projectID string, limit, offset int) ([]*models.Session, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM sessions WHERE project_id = ?`, projectID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, title, active_agent_id, active_pipeline_id, created_at, updated_at
		 FROM sessions WHERE project_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		projectID, nullableLimit(limit), offset)
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

func (s *sqliteSessionStore) Update(ctx context.Context, sess *models.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ?, active_agent_id = ?, active_pipeline_id = ?, updated_at = ? WHERE id = ?`,
		sess.Title, nullString(sess.ActiveAgentID), nullString(sess.ActivePipelineID), sess.UpdatedAt, sess.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return checkRowsAffected(res)
}

func (s *sqliteSessionStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return checkRowsAffected(res)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// --- messages ---

type sqliteMessageStore struct{ db *sql.DB }

func (s *sqliteMessageStore) Create(ctx context.Context, m *models.Message) error {
	usage, err := json.Marshal(m.Usage)
	if err != nil {
		return fmt.Errorf("marshal usage: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, parent_message_id, role, agent_id, model_id, provider_id, usage, finish_reason, is_compacted, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, nullString(m.ParentMessageID), string(m.Role), nullString(m.AgentID), nullString(m.ModelID), nullString(m.ProviderID),
		string(usage), nullString(string(m.FinishReason)), m.IsCompacted, m.CreatedAt, m.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

func scanMessage(scan func(...any) error) (*models.Message, error) {
	var m models.Message
	var parentID, agentID, modelID, providerID, finishReason sql.NullString
	var usage []byte
	if err := scan(&m.ID, &m.SessionID, &parentID, &m.Role, &agentID, &modelID, &providerID, &usage, &finishReason, &m.IsCompacted, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan message: %w", err)
	}
	m.ParentMessageID = parentID.String
	m.AgentID = agentID.String
	m.ModelID = modelID.String
	m.ProviderID = providerID.String
	m.FinishReason = models.FinishReason(finishReason.String)
	if len(usage) > 0 && string(usage) != "null" {
		if err := json.Unmarshal(usage, &m.Usage); err != nil {
			return nil, fmt.Errorf("unmarshal usage: %w", err)
		}
	}
	return &m, nil
}

func (s *sqliteMessageStore) Get(ctx context.Context, id string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, parent_message_id, role, agent_id, model_id, provider_id, usage, finish_reason, is_compacted, created_at, updated_at
		 FROM messages WHERE id = ?`, id)
	return scanMessage(row.Scan)
}

func (s *sqliteMessageStore) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*models.Message, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, parent_message_id, role, agent_id, model_id, provider_id, usage, finish_reason, is_compacted, created_at, updated_at
		 FROM messages WHERE session_id = ? ORDER BY created_at ASC LIMIT ? OFFSET ?`,
		sessionID, nullableLimit(limit), offset)
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

func (s *sqliteMessageStore) Update(ctx context.Context, m *models.Message) error {
	usage, err := json.Marshal(m.Usage)
	if err != nil {
		return fmt.Errorf("marshal usage: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET finish_reason = ?, usage = ?, is_compacted = ?, updated_at = ? WHERE id = ?`,
		nullString(string(m.FinishReason)), string(usage), m.IsCompacted, m.UpdatedAt, m.ID)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return checkRowsAffected(res)
}

func (s *sqliteMessageStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return checkRowsAffected(res)
}

// --- parts ---

type sqlitePartStore struct{ db *sql.DB }

func (s *sqlitePartStore) Create(ctx context.Context, p *models.Part) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO parts (id, message_id, session_id, type, order_index, payload, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.MessageID, p.SessionID, string(p.Type), p.OrderIndex, string(p.Payload), p.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create part: %w", err)
	}
	return nil
}

func (s *sqlitePartStore) Update(ctx context.Context, p *models.Part) error {
	res, err := s.db.ExecContext(ctx, `UPDATE parts SET payload = ? WHERE id = ?`, string(p.Payload), p.ID)
	if err != nil {
		return fmt.Errorf("update part: %w", err)
	}
	return checkRowsAffected(res)
}

func scanPart(scan func(...any) error) (*models.Part, error) {
	var p models.Part
	var payload string
	if err := scan(&p.ID, &p.MessageID, &p.SessionID, &p.Type, &p.OrderIndex, &payload, &p.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan part: %w", err)
	}
	p.Payload = []byte(payload)
	return &p, nil
}

func (s *sqlitePartStore) Get(ctx context.Context, id string) (*models.Part, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, message_id, session_id, type, order_index, payload, created_at FROM parts WHERE id = ?`, id)
	return scanPart(row.Scan)
}

func (s *sqlitePartStore) GetByMessage(ctx context.Context, messageID string) ([]*models.Part, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message_id, session_id, type, order_index, payload, created_at FROM parts WHERE message_id = ? ORDER BY order_index ASC`, messageID)
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

func (s *sqlitePartStore) GetToolPartsByStatus(ctx context.Context, sessionID string, status models.ToolStatus) ([]*models.Part, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message_id, session_id, type, order_index, payload, created_at
		 FROM parts WHERE session_id = ? AND type = ? ORDER BY created_at ASC`, sessionID, string(models.PartTypeTool))
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

func (s *sqlitePartStore) GetMostRecentCompaction(ctx context.Context, sessionID string) (*models.Part, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, message_id, session_id, type, order_index, payload, created_at
		 FROM parts WHERE session_id = ? AND type = ? ORDER BY created_at DESC LIMIT 1`,
		sessionID, string(models.PartTypeCompaction))
	return scanPart(row.Scan)
}

func (s *sqlitePartStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM parts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete part: %w", err)
	}
	return checkRowsAffected(res)
}

// --- agents ---

type sqliteAgentStore struct{ db *sql.DB }

func (s *sqliteAgentStore) Create(ctx context.Context, a *models.Agent) error {
	promptVars, tools, allowed, perms, err := marshalAgentColumns(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agents (id, slug, name, category, provider_id, model_id, system_prompt, prompt_variables,
			execution_mode, max_iterations, timeout_seconds, can_spawn_subagents, allowed_subagent_types, tools, permissions, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Slug, a.Name, string(a.Category), a.ProviderID, a.ModelID, a.SystemPrompt, promptVars,
		string(a.ExecutionMode), a.MaxIterations, timeoutSeconds(a), a.CanSpawnSubagents, allowed, tools, perms, a.CreatedAt, a.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

// timeoutSeconds flattens Agent.Timeout (nil meaning "no override") to a
// storable seconds count; 0 round-trips back to a nil pointer.
func timeoutSeconds(a *models.Agent) int64 {
	if a.Timeout == nil {
		return 0
	}
	return int64(a.Timeout.Seconds())
}

func durationPtr(seconds int64) *time.Duration {
	if seconds == 0 {
		return nil
	}
	d := time.Duration(seconds) * time.Second
	return &d
}

func marshalAgentColumns(a *models.Agent) (promptVars, tools, allowed, perms []byte, err error) {
	if promptVars, err = json.Marshal(a.PromptVariables); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal prompt variables: %w", err)
	}
	if tools, err = json.Marshal(a.Tools); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal tools: %w", err)
	}
	if allowed, err = json.Marshal(a.AllowedSubagentTypes); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal allowed subagent types: %w", err)
	}
	if perms, err = json.Marshal(a.Permissions); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal permissions: %w", err)
	}
	return promptVars, tools, allowed, perms, nil
}

func scanAgent(scan func(...any) error) (*models.Agent, error) {
	var a models.Agent
	var promptVars, tools, allowed, perms []byte
	var timeoutSeconds int64
	if err := scan(&a.ID, &a.Slug, &a.Name, &a.Category, &a.ProviderID, &a.ModelID, &a.SystemPrompt, &promptVars,
		&a.ExecutionMode, &a.MaxIterations, &timeoutSeconds, &a.CanSpawnSubagents, &allowed, &tools, &perms, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	a.Timeout = durationPtr(timeoutSeconds)
	if len(promptVars) > 0 {
		json.Unmarshal(promptVars, &a.PromptVariables)
	}
	if len(tools) > 0 {
		json.Unmarshal(tools, &a.Tools)
	}
	if len(allowed) > 0 {
		json.Unmarshal(allowed, &a.AllowedSubagentTypes)
	}
	if len(perms) > 0 {
		json.Unmarshal(perms, &a.Permissions)
	}
	return &a, nil
}

const agentColumns = `id, slug, name, category, provider_id, model_id, system_prompt, prompt_variables,
	execution_mode, max_iterations, timeout_seconds, can_spawn_subagents, allowed_subagent_types, tools, permissions, created_at, updated_at`

func (s *sqliteAgentStore) Get(ctx context.Context, id string) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	return scanAgent(row.Scan)
}

func (s *sqliteAgentStore) GetBySlug(ctx context.Context, slug string) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE slug = ?`, slug)
	return scanAgent(row.Scan)
}

func (s *sqliteAgentStore) List(ctx context.Context, category models.AgentCategory, limit, offset int) ([]*models.Agent, int, error) {
	where, args := "", []any{}
	if category != "" {
		where = " WHERE category = ?"
		args = append(args, string(category))
	}
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM agents`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count agents: %w", err)
	}
	args = append(args, nullableLimit(limit), offset)
	rows, err := s.db.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents`+where+` ORDER BY created_at DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()
	out := []*models.Agent{}
	for rows.Next() {
		a, err := scanAgent(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

func (s *sqliteAgentStore) Update(ctx context.Context, a *models.Agent) error {
	promptVars, tools, allowed, perms, err := marshalAgentColumns(a)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET name = ?, category = ?, provider_id = ?, model_id = ?, system_prompt = ?, prompt_variables = ?,
			execution_mode = ?, max_iterations = ?, timeout_seconds = ?, can_spawn_subagents = ?, allowed_subagent_types = ?, tools = ?, permissions = ?, updated_at = ?
		 WHERE id = ?`,
		a.Name, string(a.Category), a.ProviderID, a.ModelID, a.SystemPrompt, promptVars,
		string(a.ExecutionMode), a.MaxIterations, timeoutSeconds(a), a.CanSpawnSubagents, allowed, tools, perms, a.UpdatedAt, a.ID)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	return checkRowsAffected(res)
}

func (s *sqliteAgentStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	return checkRowsAffected(res)
}

// --- sub-sessions ---

type sqliteSubSessionStore struct{ db *sql.DB }

func (s *sqliteSubSessionStore) Create(ctx context.Context, sub *models.SubSession) error {
	perms, err := json.Marshal(sub.EffectivePermissions)
	if err != nil {
		return fmt.Errorf("marshal effective permissions: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sub_sessions (id, parent_session_id, child_session_id, parent_message_id, agent_type, status, prompt, result, error, effective_permissions, run_in_background, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.ParentSessionID, sub.ChildSessionID, sub.ParentMessageID, sub.AgentType, string(sub.Status),
		sub.Prompt, sub.Result, sub.Error, string(perms), sub.RunInBackground, sub.CreatedAt, sub.CompletedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create sub-session: %w", err)
	}
	return nil
}

const subSessionColumns = `id, parent_session_id, child_session_id, parent_message_id, agent_type, status, prompt, result, error, effective_permissions, run_in_background, created_at, completed_at`

func scanSubSession(scan func(...any) error) (*models.SubSession, error) {
	var sub models.SubSession
	var perms []byte
	if err := scan(&sub.ID, &sub.ParentSessionID, &sub.ChildSessionID, &sub.ParentMessageID, &sub.AgentType, &sub.Status,
		&sub.Prompt, &sub.Result, &sub.Error, &perms, &sub.RunInBackground, &sub.CreatedAt, &sub.CompletedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan sub-session: %w", err)
	}
	if len(perms) > 0 {
		json.Unmarshal(perms, &sub.EffectivePermissions)
	}
	return &sub, nil
}

func (s *sqliteSubSessionStore) Get(ctx context.Context, id string) (*models.SubSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subSessionColumns+` FROM sub_sessions WHERE id = ?`, id)
	return scanSubSession(row.Scan)
}

func (s *sqliteSubSessionStore) ListByParent(ctx context.Context, parentSessionID string, limit, offset int) ([]*models.SubSession, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM sub_sessions WHERE parent_session_id = ?`, parentSessionID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sub-sessions: %w", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subSessionColumns+` FROM sub_sessions WHERE parent_session_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		parentSessionID, nullableLimit(limit), offset)
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

func (s *sqliteSubSessionStore) Update(ctx context.Context, sub *models.SubSession) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sub_sessions SET status = ?, result = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(sub.Status), sub.Result, sub.Error, sub.CompletedAt, sub.ID)
	if err != nil {
		return fmt.Errorf("update sub-session: %w", err)
	}
	return checkRowsAffected(res)
}
