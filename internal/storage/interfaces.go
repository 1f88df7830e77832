package storage

import (
	"context"
	"errors"

	"github.com/haasonsaas/nexus/internal/auth"
	"github.com/haasonsaas/nexus/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// AgentStore persists agent configurations.
type AgentStore interface {
	Create(ctx context.Context, agent *models.Agent) error
	Get(ctx context.Context, id string) (*models.Agent, error)
	List(ctx context.Context, userID string, limit, offset int) ([]*models.Agent, int, error)
	Update(ctx context.Context, agent *models.Agent) error
	Delete(ctx context.Context, id string) error
}

// ChannelConnectionStore persists channel connection records.
type ChannelConnectionStore interface {
	Create(ctx context.Context, conn *models.ChannelConnection) error
	Get(ctx context.Context, id string) (*models.ChannelConnection, error)
	List(ctx context.Context, userID string, limit, offset int) ([]*models.ChannelConnection, int, error)
	Update(ctx context.Context, conn *models.ChannelConnection) error
	Delete(ctx context.Context, id string) error
}

// UserStore persists user identities (OAuth and API users).
type UserStore interface {
	FindOrCreate(ctx context.Context, info *auth.UserInfo) (*models.User, error)
	Get(ctx context.Context, id string) (*models.User, error)
}

// AgentRunStore persists agent run records and their terminal outcome.
type AgentRunStore interface {
	Create(ctx context.Context, run *models.AgentRun) error
	Get(ctx context.Context, id string) (*models.AgentRun, error)
	UpdateStatus(ctx context.Context, id string, status models.RunStatus, errMsg, errKind string) error
	ListActive(ctx context.Context, instanceID string) ([]*models.AgentRun, error)
}

// AgentVersionStore persists immutable agent configuration snapshots.
type AgentVersionStore interface {
	Create(ctx context.Context, version *models.AgentVersion) error
	Get(ctx context.Context, id string) (*models.AgentVersion, error)
	ListByAgent(ctx context.Context, agentID string) ([]*models.AgentVersion, error)
}

// StoreSet groups storage dependencies.
type StoreSet struct {
	Agents       AgentStore
	Channels     ChannelConnectionStore
	Users        UserStore
	Runs         AgentRunStore
	AgentVersions AgentVersionStore
	closer       func() error
}

// Close closes any underlying resources.
func (s StoreSet) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
