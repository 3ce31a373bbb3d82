package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a uniqueness constraint is violated,
	// for example creating a profile with an email that is already taken.
	ErrDuplicate = errors.New("already exists")
)

const (
	RoleUser       = "user"
	RoleSuperadmin = "superadmin"
)

// Profile is a user account. Accounts are provisioned by a superadmin or on
// first OAuth login; the stored password hash is a placeholder since login
// goes through the identity provider.
type Profile struct {
	ID        string
	Email     string
	Role      string
	PassHash  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ActionLog is an append-only audit record of administrative actions.
type ActionLog struct {
	ID        string
	UserID    string
	Action    string
	Timestamp time.Time
}

// Workflow is the canonical mirrored form of an upstream workflow. The id
// is namespaced by its source prefix ("<prefix>:<upstream id>") and is the
// join key for executions and access grants.
type Workflow struct {
	ID        string
	Name      string
	Active    bool
	UpdatedAt time.Time
}

// Execution mirrors one upstream workflow run. StartedAt/StoppedAt are nil
// when the upstream omitted them or sent something unparseable.
type Execution struct {
	ID         string
	WorkflowID string
	Status     string
	Finished   bool
	StartedAt  *time.Time
	StoppedAt  *time.Time
}

// Instance is a dynamically registered upstream n8n endpoint. Rows are
// managed through the admin API and read-only to the sync engine.
type Instance struct {
	ID         string
	Identifier string
	Name       string
	BaseURL    string
	APIKey     string
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AccessGrant makes a workflow visible to a non-superadmin user.
type AccessGrant struct {
	UserID     string
	WorkflowID string
}

type WorkflowStore interface {
	// UpsertWorkflows inserts or overwrites the batch in one transaction.
	UpsertWorkflows(ctx context.Context, workflows []Workflow) error
	ListWorkflows(ctx context.Context) ([]Workflow, error)
	ListWorkflowsByIDs(ctx context.Context, ids []string) ([]Workflow, error)
	ListWorkflowIDs(ctx context.Context) ([]string, error)
	// DeleteWorkflowsCascade removes the workflows together with their
	// executions and access grants in one transaction. The store schema
	// does not enforce these cascades itself.
	DeleteWorkflowsCascade(ctx context.Context, ids []string) error
}

type ExecutionStore interface {
	UpsertExecutions(ctx context.Context, executions []Execution) error
	ListExecutions(ctx context.Context) ([]Execution, error)
	ListExecutionsByWorkflowIDs(ctx context.Context, workflowIDs []string) ([]Execution, error)
	ListExecutionIDs(ctx context.Context) ([]string, error)
	DeleteExecutions(ctx context.Context, ids []string) error
}

type InstanceStore interface {
	CreateInstance(ctx context.Context, inst *Instance) error
	UpdateInstance(ctx context.Context, inst *Instance) error
	DeleteInstance(ctx context.Context, id string) error
	GetInstance(ctx context.Context, id string) (Instance, error)
	ListInstances(ctx context.Context) ([]Instance, error)
	ListActiveInstances(ctx context.Context) ([]Instance, error)
}

type ProfileStore interface {
	CreateProfile(ctx context.Context, profile *Profile) error
	GetProfile(ctx context.Context, id string) (Profile, error)
	GetProfileByEmail(ctx context.Context, email string) (Profile, error)
	ListProfiles(ctx context.Context) ([]Profile, error)
	SetProfileRole(ctx context.Context, id, role string) error
	SetProfileEmail(ctx context.Context, id, email string) error
	CountProfiles(ctx context.Context) (int, error)
}

type ActionLogStore interface {
	AppendActionLog(ctx context.Context, entry ActionLog) error
	// ListActionLogs returns the most recent entries, newest first.
	ListActionLogs(ctx context.Context, limit int) ([]ActionLog, error)
}

type AccessStore interface {
	ListAccessGrants(ctx context.Context) ([]AccessGrant, error)
	ListAccessibleWorkflowIDs(ctx context.Context, userID string) ([]string, error)
	// GrantAccess is idempotent: grants already present are skipped.
	GrantAccess(ctx context.Context, userID string, workflowIDs []string) (granted, skipped int, err error)
	// RevokeAccess is idempotent and reports how many grants were removed.
	RevokeAccess(ctx context.Context, userID string, workflowIDs []string) (revoked int, err error)
}

// Store is the full persistence surface shared by the sync engine and the
// HTTP API.
type Store interface {
	WorkflowStore
	ExecutionStore
	InstanceStore
	ProfileStore
	ActionLogStore
	AccessStore
	Close() error
}
