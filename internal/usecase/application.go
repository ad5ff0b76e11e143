package usecase

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/totegamma/appforge"
	"github.com/totegamma/appforge/internal/domain"
)

var tracer = otel.Tracer("application")

const (
	defaultSnapshotLimit = 20
	maxSnapshotLimit     = 100
	maxWriteAttempts     = 3
)

type ApplicationUsecase struct {
	repo   ApplicationRepository
	signal SignalPublisher
	opts   []domain.Option
	now    func() time.Time
}

// NewApplicationUsecase wires the usecase. signal may be nil, in which case
// no change events are broadcast. opts are applied to newly created
// applications.
func NewApplicationUsecase(repo ApplicationRepository, signal SignalPublisher, opts ...domain.Option) *ApplicationUsecase {
	return &ApplicationUsecase{
		repo:   repo,
		signal: signal,
		opts:   opts,
		now:    time.Now,
	}
}

func (uc *ApplicationUsecase) Create(ctx context.Context, req appforge.CreateApplicationRequest) (*domain.Application, error) {
	ctx, span := tracer.Start(ctx, "Application.Usecase.Create", trace.WithAttributes(
		attribute.String("orgId", req.OrganizationID),
	))
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, fail(span, domain.ValidationError{Err: err}, "invalid create request")
	}

	var appType *domain.ApplicationType
	if req.ApplicationType != nil {
		t := domain.ApplicationType(*req.ApplicationType)
		appType = &t
	}

	app, err := domain.NewApplication(domain.NewApplicationParams{
		OrganizationID:      req.OrganizationID,
		Name:                req.Name,
		ApplicationType:     appType,
		EditingDSL:          req.EditingDSL,
		PublicToAll:         req.PublicToAll,
		PublicToMarketplace: req.PublicToMarketplace,
		AgencyProfile:       req.AgencyProfile,
	}, uc.opts...)
	if err != nil {
		return nil, fail(span, err, "domain.NewApplication failed")
	}
	span.SetAttributes(attribute.String("applicationId", app.ID()))

	if err := uc.repo.Create(ctx, app); err != nil {
		return nil, fail(span, err, "repo.Create failed")
	}

	uc.emit(ctx, appforge.EventApplicationCreated, app)
	return app, nil
}

// Get returns a live application. Records flagged DELETED are reported as
// missing.
func (uc *ApplicationUsecase) Get(ctx context.Context, id string) (*domain.Application, error) {
	ctx, span := tracer.Start(ctx, "Application.Usecase.Get", trace.WithAttributes(
		attribute.String("applicationId", id),
	))
	defer span.End()

	app, err := uc.get(ctx, id)
	if err != nil {
		return nil, fail(span, err, "get failed")
	}
	return app, nil
}

func (uc *ApplicationUsecase) List(ctx context.Context, orgID string) ([]*domain.Application, error) {
	ctx, span := tracer.Start(ctx, "Application.Usecase.List", trace.WithAttributes(
		attribute.String("orgId", orgID),
	))
	defer span.End()

	if orgID == "" {
		return nil, fail(span, domain.ValidationError{Err: errors.New("orgId is required")}, "missing orgId")
	}

	apps, err := uc.repo.ListByOrganization(ctx, orgID)
	if err != nil {
		return nil, fail(span, err, "repo.ListByOrganization failed")
	}
	return apps, nil
}

func (uc *ApplicationUsecase) UpdateEditingDSL(ctx context.Context, id string, req appforge.UpdateDSLRequest) (*domain.Application, error) {
	ctx, span := tracer.Start(ctx, "Application.Usecase.UpdateEditingDSL", trace.WithAttributes(
		attribute.String("applicationId", id),
	))
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, fail(span, domain.ValidationError{Err: err}, "invalid dsl request")
	}

	app, err := uc.mutate(ctx, id, "update", domain.ApplicationStatusNormal, uc.repo.Update, func(app *domain.Application) *domain.Application {
		return app.WithEditingDSL(req.EditingDSL)
	})
	if err != nil {
		return nil, fail(span, err, "update dsl failed")
	}

	uc.emit(ctx, appforge.EventApplicationUpdated, app)
	return app, nil
}

func (uc *ApplicationUsecase) Rename(ctx context.Context, id string, req appforge.RenameRequest) (*domain.Application, error) {
	ctx, span := tracer.Start(ctx, "Application.Usecase.Rename", trace.WithAttributes(
		attribute.String("applicationId", id),
	))
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, fail(span, domain.ValidationError{Err: err}, "invalid rename request")
	}

	app, err := uc.mutate(ctx, id, "rename", "", uc.repo.Update, func(app *domain.Application) *domain.Application {
		return app.WithName(req.Name)
	})
	if err != nil {
		return nil, fail(span, err, "rename failed")
	}

	uc.emit(ctx, appforge.EventApplicationUpdated, app)
	return app, nil
}

// Publish copies the editing document into the published slot and records a
// snapshot of it.
func (uc *ApplicationUsecase) Publish(ctx context.Context, id string) (*domain.Application, error) {
	ctx, span := tracer.Start(ctx, "Application.Usecase.Publish", trace.WithAttributes(
		attribute.String("applicationId", id),
	))
	defer span.End()

	app, err := uc.mutate(ctx, id, "publish", domain.ApplicationStatusNormal, uc.repo.Publish, func(app *domain.Application) *domain.Application {
		return app.Publish()
	})
	if err != nil {
		return nil, fail(span, err, "publish failed")
	}

	uc.emit(ctx, appforge.EventApplicationPublished, app)
	return app, nil
}

func (uc *ApplicationUsecase) UpdateVisibility(ctx context.Context, id string, req appforge.VisibilityRequest) (*domain.Application, error) {
	ctx, span := tracer.Start(ctx, "Application.Usecase.UpdateVisibility", trace.WithAttributes(
		attribute.String("applicationId", id),
	))
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, fail(span, domain.ValidationError{Err: err}, "invalid visibility request")
	}

	app, err := uc.mutate(ctx, id, "visibility", "", uc.repo.Update, func(app *domain.Application) *domain.Application {
		return app.WithVisibility(req.PublicToAll, req.PublicToMarketplace, req.AgencyProfile)
	})
	if err != nil {
		return nil, fail(span, err, "update visibility failed")
	}

	uc.emit(ctx, appforge.EventApplicationUpdated, app)
	return app, nil
}

func (uc *ApplicationUsecase) Recycle(ctx context.Context, id string) (*domain.Application, error) {
	ctx, span := tracer.Start(ctx, "Application.Usecase.Recycle", trace.WithAttributes(
		attribute.String("applicationId", id),
	))
	defer span.End()

	app, err := uc.mutate(ctx, id, "recycle", domain.ApplicationStatusNormal, uc.repo.Update, func(app *domain.Application) *domain.Application {
		return app.WithStatus(domain.ApplicationStatusRecycled)
	})
	if err != nil {
		return nil, fail(span, err, "recycle failed")
	}

	uc.emit(ctx, appforge.EventApplicationRecycled, app)
	return app, nil
}

func (uc *ApplicationUsecase) Restore(ctx context.Context, id string) (*domain.Application, error) {
	ctx, span := tracer.Start(ctx, "Application.Usecase.Restore", trace.WithAttributes(
		attribute.String("applicationId", id),
	))
	defer span.End()

	app, err := uc.mutate(ctx, id, "restore", domain.ApplicationStatusRecycled, uc.repo.Update, func(app *domain.Application) *domain.Application {
		return app.WithStatus(domain.ApplicationStatusNormal)
	})
	if err != nil {
		return nil, fail(span, err, "restore failed")
	}

	uc.emit(ctx, appforge.EventApplicationRestored, app)
	return app, nil
}

func (uc *ApplicationUsecase) Delete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Application.Usecase.Delete", trace.WithAttributes(
		attribute.String("applicationId", id),
	))
	defer span.End()

	app, err := uc.get(ctx, id)
	if err != nil {
		return fail(span, err, "get failed")
	}

	if err := uc.repo.Delete(ctx, id); err != nil {
		return fail(span, err, "repo.Delete failed")
	}

	uc.emit(ctx, appforge.EventApplicationDeleted, app)
	return nil
}

func (uc *ApplicationUsecase) GetDSL(ctx context.Context, id string, mode appforge.ViewMode) (*domain.Application, appforge.DSL, error) {
	ctx, span := tracer.Start(ctx, "Application.Usecase.GetDSL", trace.WithAttributes(
		attribute.String("applicationId", id),
		attribute.String("mode", string(mode)),
	))
	defer span.End()

	app, err := uc.get(ctx, id)
	if err != nil {
		return nil, nil, fail(span, err, "get failed")
	}
	return app, app.DSL(mode), nil
}

func (uc *ApplicationUsecase) GetQueries(ctx context.Context, id string, mode appforge.ViewMode) ([]appforge.Query, error) {
	ctx, span := tracer.Start(ctx, "Application.Usecase.GetQueries", trace.WithAttributes(
		attribute.String("applicationId", id),
		attribute.String("mode", string(mode)),
	))
	defer span.End()

	app, err := uc.get(ctx, id)
	if err != nil {
		return nil, fail(span, err, "get failed")
	}

	queries, err := app.Queries(mode)
	if err != nil {
		return nil, fail(span, err, "derive queries failed")
	}
	return queries, nil
}

func (uc *ApplicationUsecase) FindQuery(ctx context.Context, id string, mode appforge.ViewMode, queryID string) (appforge.Query, error) {
	ctx, span := tracer.Start(ctx, "Application.Usecase.FindQuery", trace.WithAttributes(
		attribute.String("applicationId", id),
		attribute.String("mode", string(mode)),
		attribute.String("queryId", queryID),
	))
	defer span.End()

	app, err := uc.get(ctx, id)
	if err != nil {
		return appforge.Query{}, fail(span, err, "get failed")
	}

	query, err := app.FindQuery(mode, queryID)
	if err != nil {
		return appforge.Query{}, fail(span, err, "find query failed")
	}
	return query, nil
}

func (uc *ApplicationUsecase) GetModules(ctx context.Context, id string, mode appforge.ViewMode) ([]string, error) {
	ctx, span := tracer.Start(ctx, "Application.Usecase.GetModules", trace.WithAttributes(
		attribute.String("applicationId", id),
		attribute.String("mode", string(mode)),
	))
	defer span.End()

	app, err := uc.get(ctx, id)
	if err != nil {
		return nil, fail(span, err, "get failed")
	}

	modules, err := app.Modules(mode)
	if err != nil {
		return nil, fail(span, err, "derive modules failed")
	}
	return modules, nil
}

// GetLiveContainerSize returns nil for plain applications and for documents
// that carry no size.
func (uc *ApplicationUsecase) GetLiveContainerSize(ctx context.Context, id string) (*appforge.ContainerSize, error) {
	ctx, span := tracer.Start(ctx, "Application.Usecase.GetLiveContainerSize", trace.WithAttributes(
		attribute.String("applicationId", id),
	))
	defer span.End()

	app, err := uc.get(ctx, id)
	if err != nil {
		return nil, fail(span, err, "get failed")
	}

	size, err := app.LiveContainerSize()
	if err != nil {
		return nil, fail(span, err, "derive container size failed")
	}
	return size, nil
}

// ResolveModuleDSLs loads the live documents of every module the application
// depends on, following module references transitively. Each module is
// visited once, which also cuts reference cycles. Modules that cannot be
// found are listed in Missing.
func (uc *ApplicationUsecase) ResolveModuleDSLs(ctx context.Context, id string, mode appforge.ViewMode) (appforge.ModulesView, error) {
	ctx, span := tracer.Start(ctx, "Application.Usecase.ResolveModuleDSLs", trace.WithAttributes(
		attribute.String("applicationId", id),
		attribute.String("mode", string(mode)),
	))
	defer span.End()

	app, err := uc.get(ctx, id)
	if err != nil {
		return appforge.ModulesView{}, fail(span, err, "get failed")
	}

	direct, err := app.Modules(mode)
	if err != nil {
		return appforge.ModulesView{}, fail(span, err, "derive modules failed")
	}

	view := appforge.ModulesView{
		Modules:  direct,
		Resolved: map[string]appforge.DSL{},
	}
	visited := map[string]bool{id: true}
	queue := append([]string{}, direct...)

	for len(queue) > 0 {
		moduleID := queue[0]
		queue = queue[1:]
		if visited[moduleID] {
			continue
		}
		visited[moduleID] = true

		module, err := uc.get(ctx, moduleID)
		if errors.Is(err, domain.ErrNotFound) {
			view.Missing = append(view.Missing, moduleID)
			continue
		}
		if err != nil {
			return appforge.ModulesView{}, fail(span, err, "get module failed")
		}

		view.Resolved[moduleID] = module.LiveDSL()

		nested, err := module.LiveModules()
		if err != nil {
			return appforge.ModulesView{}, fail(span, err, "derive nested modules failed")
		}
		queue = append(queue, nested...)
	}

	sort.Strings(view.Missing)
	span.SetAttributes(attribute.Int("resolved", len(view.Resolved)))
	return view, nil
}

func (uc *ApplicationUsecase) ListSnapshots(ctx context.Context, id string, limit int) ([]Snapshot, error) {
	ctx, span := tracer.Start(ctx, "Application.Usecase.ListSnapshots", trace.WithAttributes(
		attribute.String("applicationId", id),
	))
	defer span.End()

	if _, err := uc.get(ctx, id); err != nil {
		return nil, fail(span, err, "get failed")
	}

	if limit <= 0 {
		limit = defaultSnapshotLimit
	}
	if limit > maxSnapshotLimit {
		limit = maxSnapshotLimit
	}

	snapshots, err := uc.repo.ListSnapshots(ctx, id, limit)
	if err != nil {
		return nil, fail(span, err, "repo.ListSnapshots failed")
	}
	return snapshots, nil
}

func (uc *ApplicationUsecase) get(ctx context.Context, id string) (*domain.Application, error) {
	app, err := uc.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if app.Status() == domain.ApplicationStatusDeleted {
		return nil, domain.NotFoundError{Resource: "application", ID: id, Code: domain.CodeApplicationNotFound}
	}
	return app, nil
}

// mutate loads the application, checks its status, applies change and stores
// the resulting instance with store. An empty required status accepts any
// status. A store rejected because the loaded copy was stale is retried on a
// fresh copy.
func (uc *ApplicationUsecase) mutate(
	ctx context.Context,
	id string,
	op string,
	required domain.ApplicationStatus,
	store func(context.Context, *domain.Application) error,
	change func(*domain.Application) *domain.Application,
) (*domain.Application, error) {
	for attempt := 1; ; attempt++ {
		app, err := uc.get(ctx, id)
		if err != nil {
			return nil, err
		}
		if required != "" && app.Status() != required {
			return nil, domain.StateError{Op: op, Status: app.Status()}
		}

		next := change(app)
		err = store(ctx, next)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, domain.ErrConflict) || attempt >= maxWriteAttempts {
			return nil, err
		}
		log.Debug().Err(err).Str("applicationId", id).Str("op", op).Int("attempt", attempt).Msg("retrying on stale copy")
	}
}

// emit broadcasts a change event. The change is already stored, so a failed
// broadcast is only logged.
func (uc *ApplicationUsecase) emit(ctx context.Context, eventType string, app *domain.Application) {
	if uc.signal == nil {
		return
	}

	event := appforge.Event{
		Type:           eventType,
		ApplicationID:  app.ID(),
		OrganizationID: app.OrganizationID(),
		Timestamp:      uc.now().UTC(),
	}
	err := uc.signal.Publish(ctx, appforge.EventChannel(app.ID()), event)
	if err != nil {
		log.Warn().Err(err).Str("applicationId", app.ID()).Str("type", eventType).Msg("failed to publish event")
	}
}

func fail(span trace.Span, err error, msg string) error {
	span.RecordError(errors.Wrap(err, msg))
	span.SetStatus(codes.Error, msg)
	return err
}
