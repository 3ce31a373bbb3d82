// Package sqlstore implements store.Store on database/sql. It speaks two
// dialects: postgres (github.com/lib/pq) for production and sqlite
// (modernc.org/sqlite) for local use and tests. All queries use $1-style
// placeholders, which both engines accept.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/opsboard/flowmirror/internal/store"
)

const operationTimeout = 5 * time.Second

type SQLStore struct {
	db *sql.DB
}

var _ store.Store = (*SQLStore)(nil)

// Open connects to the database named by dsn and ensures the schema exists.
// DSNs beginning with postgres:// or postgresql:// use the postgres driver;
// everything else (a file path, ":memory:", or sqlite://...) uses sqlite.
func Open(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("sqlstore: empty dsn")
	}
	driver := "sqlite"
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver = "postgres"
	}
	dsn = strings.TrimPrefix(dsn, "sqlite://")
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenDB wraps an existing connection, running migrations. Used by tests.
func OpenDB(db *sql.DB) (*SQLStore, error) {
	s := &SQLStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL DEFAULT 'user',
		pass TEXT,
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS action_logs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		action TEXT NOT NULL,
		timestamp TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_action_logs_timestamp ON action_logs (timestamp)`,
	`CREATE TABLE IF NOT EXISTS n8n_workflows (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS n8n_executions (
		id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL,
		status TEXT NOT NULL,
		finished BOOLEAN NOT NULL DEFAULT FALSE,
		started_at TIMESTAMP,
		stopped_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_n8n_executions_workflow ON n8n_executions (workflow_id)`,
	`CREATE TABLE IF NOT EXISTS user_workflow_access (
		user_id TEXT NOT NULL,
		workflow_id TEXT NOT NULL,
		PRIMARY KEY (user_id, workflow_id)
	)`,
	`CREATE TABLE IF NOT EXISTS n8n_instances (
		id TEXT PRIMARY KEY,
		identifier TEXT,
		name TEXT NOT NULL,
		base_url TEXT NOT NULL,
		api_key TEXT,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	)`,
}

func (s *SQLStore) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: migrate: %w", err)
		}
	}
	return nil
}

// placeholders renders "$start, $start+1, ..." for IN clauses.
func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}

func idArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	value := t.Time
	return &value
}

// --- workflows ---

func (s *SQLStore) UpsertWorkflows(ctx context.Context, workflows []store.Workflow) error {
	if len(workflows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, wf := range workflows {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO n8n_workflows (id, name, active, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id)
			DO UPDATE SET name = EXCLUDED.name, active = EXCLUDED.active, updated_at = EXCLUDED.updated_at`,
			wf.ID, wf.Name, wf.Active, wf.UpdatedAt)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLStore) ListWorkflows(ctx context.Context) ([]store.Workflow, error) {
	return s.queryWorkflows(ctx, `SELECT id, name, active, updated_at FROM n8n_workflows ORDER BY updated_at DESC`)
}

func (s *SQLStore) ListWorkflowsByIDs(ctx context.Context, ids []string) ([]store.Workflow, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT id, name, active, updated_at FROM n8n_workflows WHERE id IN (%s) ORDER BY updated_at DESC`,
		placeholders(1, len(ids)))
	return s.queryWorkflows(ctx, query, idArgs(ids)...)
}

func (s *SQLStore) queryWorkflows(ctx context.Context, query string, args ...any) ([]store.Workflow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var workflows []store.Workflow
	for rows.Next() {
		var wf store.Workflow
		var updatedAt sql.NullTime
		if err := rows.Scan(&wf.ID, &wf.Name, &wf.Active, &updatedAt); err != nil {
			return nil, err
		}
		wf.UpdatedAt = updatedAt.Time
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

func (s *SQLStore) ListWorkflowIDs(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, `SELECT id FROM n8n_workflows`)
}

func (s *SQLStore) DeleteWorkflowsCascade(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	in := placeholders(1, len(ids))
	args := idArgs(ids)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM n8n_executions WHERE workflow_id IN (%s)`, in), args...); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM user_workflow_access WHERE workflow_id IN (%s)`, in), args...); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM n8n_workflows WHERE id IN (%s)`, in), args...); err != nil {
		return err
	}
	return tx.Commit()
}

// --- executions ---

func (s *SQLStore) UpsertExecutions(ctx context.Context, executions []store.Execution) error {
	if len(executions) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, ex := range executions {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO n8n_executions (id, workflow_id, status, finished, started_at, stopped_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id)
			DO UPDATE SET workflow_id = EXCLUDED.workflow_id, status = EXCLUDED.status,
				finished = EXCLUDED.finished, started_at = EXCLUDED.started_at, stopped_at = EXCLUDED.stopped_at`,
			ex.ID, ex.WorkflowID, ex.Status, ex.Finished, nullTime(ex.StartedAt), nullTime(ex.StoppedAt))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLStore) ListExecutions(ctx context.Context) ([]store.Execution, error) {
	return s.queryExecutions(ctx, `SELECT id, workflow_id, status, finished, started_at, stopped_at FROM n8n_executions ORDER BY started_at DESC`)
}

func (s *SQLStore) ListExecutionsByWorkflowIDs(ctx context.Context, workflowIDs []string) ([]store.Execution, error) {
	if len(workflowIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT id, workflow_id, status, finished, started_at, stopped_at FROM n8n_executions WHERE workflow_id IN (%s) ORDER BY started_at DESC`,
		placeholders(1, len(workflowIDs)))
	return s.queryExecutions(ctx, query, idArgs(workflowIDs)...)
}

func (s *SQLStore) queryExecutions(ctx context.Context, query string, args ...any) ([]store.Execution, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var executions []store.Execution
	for rows.Next() {
		var ex store.Execution
		var startedAt, stoppedAt sql.NullTime
		if err := rows.Scan(&ex.ID, &ex.WorkflowID, &ex.Status, &ex.Finished, &startedAt, &stoppedAt); err != nil {
			return nil, err
		}
		ex.StartedAt = timePtr(startedAt)
		ex.StoppedAt = timePtr(stoppedAt)
		executions = append(executions, ex)
	}
	return executions, rows.Err()
}

func (s *SQLStore) ListExecutionIDs(ctx context.Context) ([]string, error) {
	return s.queryIDs(ctx, `SELECT id FROM n8n_executions`)
}

func (s *SQLStore) DeleteExecutions(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`DELETE FROM n8n_executions WHERE id IN (%s)`, placeholders(1, len(ids)))
	_, err := s.db.ExecContext(ctx, query, idArgs(ids)...)
	return err
}

func (s *SQLStore) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- instances ---

func (s *SQLStore) CreateInstance(ctx context.Context, inst *store.Instance) error {
	now := time.Now().UTC()
	inst.CreatedAt = now
	inst.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO n8n_instances (id, identifier, name, base_url, api_key, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		inst.ID, inst.Identifier, inst.Name, inst.BaseURL, inst.APIKey, inst.Active, inst.CreatedAt, inst.UpdatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return err
}

func (s *SQLStore) UpdateInstance(ctx context.Context, inst *store.Instance) error {
	inst.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE n8n_instances
		SET identifier = $1, name = $2, base_url = $3, api_key = $4, active = $5, updated_at = $6
		WHERE id = $7`,
		inst.Identifier, inst.Name, inst.BaseURL, inst.APIKey, inst.Active, inst.UpdatedAt, inst.ID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *SQLStore) DeleteInstance(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM n8n_instances WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *SQLStore) GetInstance(ctx context.Context, id string) (store.Instance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, identifier, name, base_url, api_key, active, created_at, updated_at
		FROM n8n_instances WHERE id = $1`, id)
	return scanInstance(row)
}

func (s *SQLStore) ListInstances(ctx context.Context) ([]store.Instance, error) {
	return s.queryInstances(ctx, `
		SELECT id, identifier, name, base_url, api_key, active, created_at, updated_at
		FROM n8n_instances ORDER BY name`)
}

func (s *SQLStore) ListActiveInstances(ctx context.Context) ([]store.Instance, error) {
	return s.queryInstances(ctx, `
		SELECT id, identifier, name, base_url, api_key, active, created_at, updated_at
		FROM n8n_instances WHERE active ORDER BY name`)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (store.Instance, error) {
	var inst store.Instance
	var identifier, apiKey sql.NullString
	var createdAt, updatedAt sql.NullTime
	err := row.Scan(&inst.ID, &identifier, &inst.Name, &inst.BaseURL, &apiKey, &inst.Active, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Instance{}, store.ErrNotFound
	}
	if err != nil {
		return store.Instance{}, err
	}
	inst.Identifier = identifier.String
	inst.APIKey = apiKey.String
	inst.CreatedAt = createdAt.Time
	inst.UpdatedAt = updatedAt.Time
	return inst, nil
}

func (s *SQLStore) queryInstances(ctx context.Context, query string, args ...any) ([]store.Instance, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var instances []store.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

// --- profiles ---

func (s *SQLStore) CreateProfile(ctx context.Context, profile *store.Profile) error {
	now := time.Now().UTC()
	profile.CreatedAt = now
	profile.UpdatedAt = now
	if profile.Role == "" {
		profile.Role = store.RoleUser
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, email, role, pass, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		profile.ID, profile.Email, profile.Role, profile.PassHash, profile.CreatedAt, profile.UpdatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return err
}

func (s *SQLStore) GetProfile(ctx context.Context, id string) (store.Profile, error) {
	return s.scanProfile(s.db.QueryRowContext(ctx, `
		SELECT id, email, role, pass, created_at, updated_at FROM profiles WHERE id = $1`, id))
}

func (s *SQLStore) GetProfileByEmail(ctx context.Context, email string) (store.Profile, error) {
	return s.scanProfile(s.db.QueryRowContext(ctx, `
		SELECT id, email, role, pass, created_at, updated_at FROM profiles WHERE email = $1`, email))
}

func (s *SQLStore) scanProfile(row rowScanner) (store.Profile, error) {
	var profile store.Profile
	var passHash sql.NullString
	var createdAt, updatedAt sql.NullTime
	err := row.Scan(&profile.ID, &profile.Email, &profile.Role, &passHash, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Profile{}, store.ErrNotFound
	}
	if err != nil {
		return store.Profile{}, err
	}
	profile.PassHash = passHash.String
	profile.CreatedAt = createdAt.Time
	profile.UpdatedAt = updatedAt.Time
	return profile, nil
}

func (s *SQLStore) ListProfiles(ctx context.Context) ([]store.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, role, pass, created_at, updated_at FROM profiles ORDER BY email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var profiles []store.Profile
	for rows.Next() {
		profile, err := s.scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}
	return profiles, rows.Err()
}

func (s *SQLStore) SetProfileRole(ctx context.Context, id, role string) error {
	return s.updateProfileField(ctx, `UPDATE profiles SET role = $1, updated_at = $2 WHERE id = $3`, role, id)
}

func (s *SQLStore) SetProfileEmail(ctx context.Context, id, email string) error {
	return s.updateProfileField(ctx, `UPDATE profiles SET email = $1, updated_at = $2 WHERE id = $3`, email, id)
}

func (s *SQLStore) updateProfileField(ctx context.Context, query, value, id string) error {
	res, err := s.db.ExecContext(ctx, query, value, time.Now().UTC(), id)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *SQLStore) CountProfiles(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&count)
	return count, err
}

// --- action logs ---

func (s *SQLStore) AppendActionLog(ctx context.Context, entry store.ActionLog) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO action_logs (id, user_id, action, timestamp)
		VALUES ($1, $2, $3, $4)`,
		entry.ID, entry.UserID, entry.Action, entry.Timestamp)
	return err
}

func (s *SQLStore) ListActionLogs(ctx context.Context, limit int) ([]store.ActionLog, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, action, timestamp FROM action_logs ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []store.ActionLog
	for rows.Next() {
		var entry store.ActionLog
		var timestamp sql.NullTime
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Action, &timestamp); err != nil {
			return nil, err
		}
		entry.Timestamp = timestamp.Time
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

// --- access grants ---

func (s *SQLStore) ListAccessGrants(ctx context.Context) ([]store.AccessGrant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, workflow_id FROM user_workflow_access`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []store.AccessGrant
	for rows.Next() {
		var grant store.AccessGrant
		if err := rows.Scan(&grant.UserID, &grant.WorkflowID); err != nil {
			return nil, err
		}
		grants = append(grants, grant)
	}
	return grants, rows.Err()
}

func (s *SQLStore) ListAccessibleWorkflowIDs(ctx context.Context, userID string) ([]string, error) {
	return s.queryIDs(ctx, `SELECT workflow_id FROM user_workflow_access WHERE user_id = $1`, userID)
}

func (s *SQLStore) GrantAccess(ctx context.Context, userID string, workflowIDs []string) (granted, skipped int, err error) {
	if len(workflowIDs) == 0 {
		return 0, 0, nil
	}
	existing, err := s.queryIDs(ctx, fmt.Sprintf(
		`SELECT workflow_id FROM user_workflow_access WHERE user_id = $1 AND workflow_id IN (%s)`,
		placeholders(2, len(workflowIDs))),
		append([]any{userID}, idArgs(workflowIDs)...)...)
	if err != nil {
		return 0, 0, err
	}
	have := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		have[id] = struct{}{}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback() }()
	for _, workflowID := range workflowIDs {
		if _, ok := have[workflowID]; ok {
			skipped++
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_workflow_access (user_id, workflow_id) VALUES ($1, $2)`,
			userID, workflowID); err != nil {
			return 0, 0, err
		}
		granted++
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return granted, skipped, nil
}

func (s *SQLStore) RevokeAccess(ctx context.Context, userID string, workflowIDs []string) (int, error) {
	if len(workflowIDs) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM user_workflow_access WHERE user_id = $1 AND workflow_id IN (%s)`,
		placeholders(2, len(workflowIDs))),
		append([]any{userID}, idArgs(workflowIDs)...)...)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}
