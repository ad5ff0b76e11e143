package repository

import (
	"context"
	"encoding/json"
	"errors"

	pkgerrors "github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/totegamma/appforge"
	"github.com/totegamma/appforge/internal/domain"
	"github.com/totegamma/appforge/internal/infra/database/models"
	"github.com/totegamma/appforge/internal/usecase"
)

type ApplicationRepository struct {
	db *gorm.DB
}

func NewApplicationRepository(db *gorm.DB) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

func (r *ApplicationRepository) Create(ctx context.Context, app *domain.Application) error {
	model, err := toModel(app)
	if err != nil {
		return err
	}

	err = r.db.WithContext(ctx).Create(&model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ConflictError{Resource: "application", ID: app.ID()}
	}
	return err
}

func (r *ApplicationRepository) Get(ctx context.Context, id string) (*domain.Application, error) {
	var model models.Application
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, err
	}
	return toDomain(model)
}

func (r *ApplicationRepository) ListByOrganization(ctx context.Context, orgID string) ([]*domain.Application, error) {
	var rows []models.Application
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND application_status <> ?", orgID, string(domain.ApplicationStatusDeleted)).
		Order("updated_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	apps := make([]*domain.Application, 0, len(rows))
	for _, row := range rows {
		app, err := toDomain(row)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, nil
}

func (r *ApplicationRepository) Update(ctx context.Context, app *domain.Application) error {
	return r.update(r.db.WithContext(ctx), app)
}

// Publish stores the application and appends its published document to the
// snapshot history in one transaction.
func (r *ApplicationRepository) Publish(ctx context.Context, app *domain.Application) error {
	published, err := json.Marshal(app.PublishedDSL())
	if err != nil {
		return pkgerrors.Wrap(err, "encode published dsl")
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.update(tx, app); err != nil {
			return err
		}
		snapshot := models.ApplicationSnapshot{
			ApplicationID: app.ID(),
			DSL:           datatypes.JSON(published),
			CreatedAt:     app.UpdatedAt(),
		}
		return tx.Create(&snapshot).Error
	})
}

func (r *ApplicationRepository) ListSnapshots(ctx context.Context, id string, limit int) ([]usecase.Snapshot, error) {
	var rows []models.ApplicationSnapshot
	err := r.db.WithContext(ctx).
		Where("application_id = ?", id).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	snapshots := make([]usecase.Snapshot, 0, len(rows))
	for _, row := range rows {
		dsl, err := decodeDSL(row.DSL)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, usecase.Snapshot{
			ID:            row.ID,
			ApplicationID: row.ApplicationID,
			DSL:           dsl,
			CreatedAt:     row.CreatedAt,
		})
	}
	return snapshots, nil
}

func (r *ApplicationRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.Application{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return notFound(id)
	}
	return nil
}

// update writes every column of app. When app was derived from an earlier
// copy, the row must still carry that copy's updated_at; otherwise another
// writer got there first and ConflictError is returned.
func (r *ApplicationRepository) update(db *gorm.DB, app *domain.Application) error {
	model, err := toModel(app)
	if err != nil {
		return err
	}

	query := db.Model(&models.Application{}).Where("id = ?", model.ID)
	base := app.BaseUpdatedAt()
	if !base.IsZero() {
		query = query.Where("updated_at = ?", base)
	}

	result := query.Updates(map[string]any{
		"name":                  model.Name,
		"application_type":      model.ApplicationType,
		"application_status":    model.ApplicationStatus,
		"editing_dsl":           model.EditingDSL,
		"published_dsl":         model.PublishedDSL,
		"public_to_all":         model.PublicToAll,
		"public_to_marketplace": model.PublicToMarketplace,
		"agency_profile":        model.AgencyProfile,
		"updated_at":            model.UpdatedAt,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}
	if base.IsZero() {
		return notFound(model.ID)
	}

	var count int64
	err = db.Model(&models.Application{}).Where("id = ?", model.ID).Count(&count).Error
	if err != nil {
		return err
	}
	if count == 0 {
		return notFound(model.ID)
	}
	return domain.ConflictError{Resource: "application", ID: model.ID, Reason: "modified concurrently"}
}

func notFound(id string) error {
	return domain.NotFoundError{Resource: "application", ID: id, Code: domain.CodeApplicationNotFound}
}

func toModel(app *domain.Application) (models.Application, error) {
	rec := app.Record()

	editing, err := encodeDSL(rec.EditingDSL)
	if err != nil {
		return models.Application{}, pkgerrors.Wrap(err, "encode editing dsl")
	}
	published, err := encodeDSL(rec.PublishedDSL)
	if err != nil {
		return models.Application{}, pkgerrors.Wrap(err, "encode published dsl")
	}

	var appType *int
	if rec.ApplicationType != nil {
		v := int(*rec.ApplicationType)
		appType = &v
	}

	return models.Application{
		ID:                  rec.ID,
		OrganizationID:      rec.OrganizationID,
		Name:                rec.Name,
		ApplicationType:     appType,
		ApplicationStatus:   string(rec.ApplicationStatus),
		EditingDSL:          editing,
		PublishedDSL:        published,
		PublicToAll:         rec.PublicToAll,
		PublicToMarketplace: rec.PublicToMarketplace,
		AgencyProfile:       rec.AgencyProfile,
		CreatedAt:           rec.CreatedAt,
		UpdatedAt:           rec.UpdatedAt,
	}, nil
}

func toDomain(model models.Application) (*domain.Application, error) {
	editing, err := decodeDSL(model.EditingDSL)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "decode editing dsl of %s", model.ID)
	}
	published, err := decodeDSL(model.PublishedDSL)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "decode published dsl of %s", model.ID)
	}

	var appType *domain.ApplicationType
	if model.ApplicationType != nil {
		v := domain.ApplicationType(*model.ApplicationType)
		appType = &v
	}

	return domain.RestoreApplication(domain.ApplicationRecord{
		ID:                  model.ID,
		OrganizationID:      model.OrganizationID,
		Name:                model.Name,
		ApplicationType:     appType,
		ApplicationStatus:   domain.ApplicationStatus(model.ApplicationStatus),
		EditingDSL:          editing,
		PublishedDSL:        published,
		PublicToAll:         model.PublicToAll,
		PublicToMarketplace: model.PublicToMarketplace,
		AgencyProfile:       model.AgencyProfile,
		CreatedAt:           model.CreatedAt.UTC(),
		UpdatedAt:           model.UpdatedAt.UTC(),
	}), nil
}

// encodeDSL maps an empty document to SQL NULL.
func encodeDSL(dsl appforge.DSL) (datatypes.JSON, error) {
	if dsl == nil {
		return nil, nil
	}
	b, err := json.Marshal(dsl)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func decodeDSL(raw datatypes.JSON) (appforge.DSL, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var dsl appforge.DSL
	if err := json.Unmarshal(raw, &dsl); err != nil {
		return nil, err
	}
	return dsl, nil
}

var _ usecase.ApplicationRepository = (*ApplicationRepository)(nil)
