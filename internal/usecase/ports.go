package usecase

import (
	"context"
	"time"

	"github.com/totegamma/appforge"
	"github.com/totegamma/appforge/internal/domain"
)

// Snapshot is one entry of an application's publish history.
type Snapshot struct {
	ID            int64        `json:"id"`
	ApplicationID string       `json:"applicationId"`
	DSL           appforge.DSL `json:"applicationDSL"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// ApplicationRepository defines persistence for applications.
type ApplicationRepository interface {
	Create(ctx context.Context, app *domain.Application) error
	Get(ctx context.Context, id string) (*domain.Application, error)
	ListByOrganization(ctx context.Context, orgID string) ([]*domain.Application, error)
	Update(ctx context.Context, app *domain.Application) error
	Publish(ctx context.Context, app *domain.Application) error
	ListSnapshots(ctx context.Context, id string, limit int) ([]Snapshot, error)
	Delete(ctx context.Context, id string) error
}

// SignalPublisher broadcasts change events to realtime subscribers.
type SignalPublisher interface {
	Publish(ctx context.Context, channel string, event appforge.Event) error
}
