package appforge

import (
	"encoding/json"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	EventApplicationCreated   = "application.created"
	EventApplicationUpdated   = "application.updated"
	EventApplicationPublished = "application.published"
	EventApplicationRecycled  = "application.recycled"
	EventApplicationRestored  = "application.restored"
	EventApplicationDeleted   = "application.deleted"
)

// DSL is a schema-less application definition as parsed from JSON.
type DSL map[string]any

// Query is one element of a DSL "queries" array.
type Query struct {
	ID     string
	Name   string
	Type   string
	Config map[string]any
}

func (q Query) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(q.Config)+2)
	for k, v := range q.Config {
		flat[k] = v
	}
	flat["id"] = q.ID
	if q.Name != "" {
		flat["name"] = q.Name
	}
	_, hasType := flat["type"]
	_, hasCompType := flat["compType"]
	if q.Type != "" && !hasType && !hasCompType {
		flat["type"] = q.Type
	}
	return json.Marshal(flat)
}

func (q *Query) UnmarshalJSON(data []byte) error {
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	parsed, err := QueryFromMap(flat)
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}

// ContainerSize is the embedding size declared by a module.
type ContainerSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type ViewMode string

const (
	ViewModeEditing ViewMode = "editing"
	ViewModeLive    ViewMode = "live"
)

// Event is broadcast whenever an application record changes.
type Event struct {
	Type           string    `json:"type"`
	ApplicationID  string    `json:"applicationId"`
	OrganizationID string    `json:"organizationId"`
	Timestamp      time.Time `json:"timestamp"`
}

type CreateApplicationRequest struct {
	OrganizationID      string `json:"orgId"`
	Name                string `json:"name"`
	ApplicationType     *int   `json:"applicationType,omitempty"`
	EditingDSL          DSL    `json:"editingApplicationDSL,omitempty"`
	PublicToAll         *bool  `json:"publicToAll,omitempty"`
	PublicToMarketplace *bool  `json:"publicToMarketplace,omitempty"`
	AgencyProfile       *bool  `json:"agencyProfile,omitempty"`
}

func (r CreateApplicationRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.OrganizationID, validation.Required.Error("orgId is required")),
		validation.Field(&r.Name,
			validation.Required.Error("name is required"),
			validation.Length(1, 255),
		),
		validation.Field(&r.ApplicationType,
			validation.When(r.ApplicationType != nil, validation.In(1, 2, 3, 4).Error("unknown application type")),
		),
	)
}

type RenameRequest struct {
	Name string `json:"name"`
}

func (r RenameRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 255)),
	)
}

type UpdateDSLRequest struct {
	EditingDSL DSL `json:"editingApplicationDSL"`
}

func (r UpdateDSLRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.EditingDSL, validation.NotNil.Error("editingApplicationDSL is required")),
	)
}

// VisibilityRequest changes only the flags that are set.
type VisibilityRequest struct {
	PublicToAll         *bool `json:"publicToAll,omitempty"`
	PublicToMarketplace *bool `json:"publicToMarketplace,omitempty"`
	AgencyProfile       *bool `json:"agencyProfile,omitempty"`
}

func (r VisibilityRequest) Validate() error {
	if r.PublicToAll == nil && r.PublicToMarketplace == nil && r.AgencyProfile == nil {
		return validation.NewError("validation_visibility_empty", "at least one visibility flag is required")
	}
	return nil
}

type ApplicationView struct {
	ID                  string    `json:"id"`
	OrganizationID      string    `json:"orgId"`
	Name                string    `json:"name"`
	ApplicationType     int       `json:"applicationType"`
	ApplicationStatus   string    `json:"applicationStatus"`
	Mode                ViewMode  `json:"mode"`
	DSL                 DSL       `json:"applicationDSL"`
	Published           bool      `json:"published"`
	PublicToAll         bool      `json:"publicToAll"`
	PublicToMarketplace bool      `json:"publicToMarketplace"`
	AgencyProfile       bool      `json:"agencyProfile"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

type ModulesView struct {
	Modules  []string       `json:"modules"`
	Resolved map[string]DSL `json:"resolved,omitempty"`
	Missing  []string       `json:"missing,omitempty"`
}

type WellKnown struct {
	Version   string            `json:"version"`
	Domain    string            `json:"domain"`
	Endpoints map[string]string `json:"endpoints"`
}
