package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/totegamma/appforge"
)

// ApplicationRecord holds the persisted fields of an Application.
type ApplicationRecord struct {
	ID                  string            `json:"id"`
	OrganizationID      string            `json:"orgId"`
	Name                string            `json:"name"`
	ApplicationType     *ApplicationType  `json:"applicationType,omitempty"`
	ApplicationStatus   ApplicationStatus `json:"applicationStatus"`
	EditingDSL          appforge.DSL      `json:"editingApplicationDSL"`
	PublishedDSL        appforge.DSL      `json:"publishedApplicationDSL,omitempty"`
	PublicToAll         *bool             `json:"publicToAll,omitempty"`
	PublicToMarketplace *bool             `json:"publicToMarketplace,omitempty"`
	AgencyProfile       *bool             `json:"agencyProfile,omitempty"`
	CreatedAt           time.Time         `json:"createdAt"`
	UpdatedAt           time.Time         `json:"updatedAt"`
}

// NewApplicationParams are the caller supplied fields of a new application.
type NewApplicationParams struct {
	OrganizationID      string
	Name                string
	ApplicationType     *ApplicationType
	EditingDSL          appforge.DSL
	PublicToAll         *bool
	PublicToMarketplace *bool
	AgencyProfile       *bool
}

type Option func(*Application)

// WithDerivations replaces the extraction functions the instance memoizes.
func WithDerivations(d Derivations) Option {
	return func(a *Application) {
		a.derive = d
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Application) {
		a.now = now
	}
}

// Application is a low-code application record.
//
// Derived views are computed at most once per instance, on first access, and
// then reused even if the documents change afterwards. Updates that touch a
// document return a new instance, which starts with empty caches.
type Application struct {
	rec    ApplicationRecord
	base   time.Time
	derive Derivations
	now    func() time.Time
	opts   []Option

	editingQueries    func() ([]appforge.Query, error)
	liveQueries       func() ([]appforge.Query, error)
	editingModules    func() ([]string, error)
	liveModules       func() ([]string, error)
	liveContainerSize func() (*appforge.ContainerSize, error)
}

// NewApplication creates an application with a fresh time-ordered id.
func NewApplication(p NewApplicationParams, opts ...Option) (*Application, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	editing := p.EditingDSL
	if editing == nil {
		editing = appforge.DSL{}
	}

	a := build(ApplicationRecord{
		ID:                  id.String(),
		OrganizationID:      p.OrganizationID,
		Name:                p.Name,
		ApplicationType:     p.ApplicationType,
		ApplicationStatus:   ApplicationStatusNormal,
		EditingDSL:          editing,
		PublicToAll:         p.PublicToAll,
		PublicToMarketplace: p.PublicToMarketplace,
		AgencyProfile:       p.AgencyProfile,
	}, opts)

	now := a.timestamp()
	a.rec.CreatedAt = now
	a.rec.UpdatedAt = now
	return a, nil
}

// RestoreApplication rebuilds an application loaded from storage.
func RestoreApplication(rec ApplicationRecord, opts ...Option) *Application {
	if rec.ApplicationStatus == "" {
		rec.ApplicationStatus = ApplicationStatusNormal
	}
	return build(rec, opts)
}

func build(rec ApplicationRecord, opts []Option) *Application {
	a := &Application{
		rec:    rec,
		derive: DefaultDerivations(),
		now:    time.Now,
		opts:   opts,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.editingQueries = sync.OnceValues(func() ([]appforge.Query, error) {
		return a.derive.Queries(a.rec.EditingDSL)
	})
	a.liveQueries = sync.OnceValues(func() ([]appforge.Query, error) {
		return a.derive.Queries(a.LiveDSL())
	})
	a.editingModules = sync.OnceValues(func() ([]string, error) {
		return a.derive.Modules(a.rec.EditingDSL)
	})
	a.liveModules = sync.OnceValues(func() ([]string, error) {
		return a.derive.Modules(a.LiveDSL())
	})
	a.liveContainerSize = sync.OnceValues(func() (*appforge.ContainerSize, error) {
		if a.Type() == ApplicationTypeApplication {
			return nil, nil
		}
		return a.derive.ContainerSize(a.LiveDSL())
	})
	return a
}

// derived copies the record into a new instance carrying the same options.
// The new instance remembers the UpdatedAt it was derived from.
func (a *Application) derived(mutate func(*ApplicationRecord)) *Application {
	rec := a.rec
	mutate(&rec)
	rec.UpdatedAt = a.timestamp()
	if !rec.UpdatedAt.After(a.rec.UpdatedAt) {
		rec.UpdatedAt = a.rec.UpdatedAt.Add(time.Microsecond)
	}
	next := build(rec, a.opts)
	next.base = a.rec.UpdatedAt
	return next
}

// timestamp is truncated to the precision postgres stores.
func (a *Application) timestamp() time.Time {
	return a.now().UTC().Truncate(time.Microsecond)
}

func (a *Application) ID() string             { return a.rec.ID }
func (a *Application) OrganizationID() string { return a.rec.OrganizationID }
func (a *Application) Name() string           { return a.rec.Name }
func (a *Application) CreatedAt() time.Time   { return a.rec.CreatedAt }
func (a *Application) UpdatedAt() time.Time   { return a.rec.UpdatedAt }

// Type returns the stored type, or ApplicationTypeApplication when unset.
func (a *Application) Type() ApplicationType {
	if a.rec.ApplicationType == nil {
		return ApplicationTypeApplication
	}
	return *a.rec.ApplicationType
}

func (a *Application) Status() ApplicationStatus {
	return a.rec.ApplicationStatus
}

func (a *Application) EditingDSL() appforge.DSL {
	return a.rec.EditingDSL
}

func (a *Application) PublishedDSL() appforge.DSL {
	return a.rec.PublishedDSL
}

// IsPublished reports whether a non-empty snapshot has been published.
func (a *Application) IsPublished() bool {
	return !a.rec.PublishedDSL.IsEmpty()
}

// LiveDSL is evaluated on every call.
func (a *Application) LiveDSL() appforge.DSL {
	return SelectLive(a.rec.EditingDSL, a.rec.PublishedDSL)
}

func (a *Application) DSL(mode appforge.ViewMode) appforge.DSL {
	if mode == appforge.ViewModeLive {
		return a.LiveDSL()
	}
	return a.EditingDSL()
}

func (a *Application) IsPublicToAll() bool         { return boolOrFalse(a.rec.PublicToAll) }
func (a *Application) IsPublicToMarketplace() bool { return boolOrFalse(a.rec.PublicToMarketplace) }
func (a *Application) IsAgencyProfile() bool       { return boolOrFalse(a.rec.AgencyProfile) }

func (a *Application) EditingQueries() ([]appforge.Query, error) { return a.editingQueries() }
func (a *Application) LiveQueries() ([]appforge.Query, error)    { return a.liveQueries() }
func (a *Application) EditingModules() ([]string, error)         { return a.editingModules() }
func (a *Application) LiveModules() ([]string, error)            { return a.liveModules() }

// LiveContainerSize is nil for plain applications; only embeddable kinds carry a size.
func (a *Application) LiveContainerSize() (*appforge.ContainerSize, error) {
	return a.liveContainerSize()
}

func (a *Application) Queries(mode appforge.ViewMode) ([]appforge.Query, error) {
	if mode == appforge.ViewModeLive {
		return a.LiveQueries()
	}
	return a.EditingQueries()
}

func (a *Application) Modules(mode appforge.ViewMode) ([]string, error) {
	if mode == appforge.ViewModeLive {
		return a.LiveModules()
	}
	return a.EditingModules()
}

// FindQuery looks a query up by id in the editing or live query set.
func (a *Application) FindQuery(mode appforge.ViewMode, queryID string) (appforge.Query, error) {
	queries, err := a.Queries(mode)
	if err != nil {
		return appforge.Query{}, err
	}
	for _, q := range queries {
		if q.ID == queryID {
			return q, nil
		}
	}
	return appforge.Query{}, NotFoundError{Resource: "query", ID: queryID, Code: CodeQueryNotFound}
}

func (a *Application) WithName(name string) *Application {
	return a.derived(func(r *ApplicationRecord) {
		r.Name = name
	})
}

func (a *Application) WithEditingDSL(dsl appforge.DSL) *Application {
	if dsl == nil {
		dsl = appforge.DSL{}
	}
	return a.derived(func(r *ApplicationRecord) {
		r.EditingDSL = dsl
	})
}

// Publish snapshots the editing document into the published slot.
func (a *Application) Publish() *Application {
	return a.derived(func(r *ApplicationRecord) {
		r.PublishedDSL = r.EditingDSL.Clone()
	})
}

func (a *Application) WithStatus(status ApplicationStatus) *Application {
	return a.derived(func(r *ApplicationRecord) {
		r.ApplicationStatus = status
	})
}

// WithVisibility applies the non-nil flags.
func (a *Application) WithVisibility(publicToAll, publicToMarketplace, agencyProfile *bool) *Application {
	return a.derived(func(r *ApplicationRecord) {
		if publicToAll != nil {
			r.PublicToAll = boolPtr(*publicToAll)
		}
		if publicToMarketplace != nil {
			r.PublicToMarketplace = boolPtr(*publicToMarketplace)
		}
		if agencyProfile != nil {
			r.AgencyProfile = boolPtr(*agencyProfile)
		}
	})
}

// BaseUpdatedAt is the UpdatedAt of the instance this one was derived from,
// or zero for instances that were created or loaded.
func (a *Application) BaseUpdatedAt() time.Time {
	return a.base
}

// Record returns the persisted fields. Derived views are never included.
func (a *Application) Record() ApplicationRecord {
	return a.rec
}

func boolOrFalse(b *bool) bool {
	return b != nil && *b
}

func boolPtr(b bool) *bool {
	return &b
}
