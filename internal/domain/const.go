package domain

type ApplicationType int

const (
	ApplicationTypeApplication ApplicationType = iota + 1
	ApplicationTypeModule
	ApplicationTypeNavLayout
	ApplicationTypeMobileTabLayout
)

func (t ApplicationType) String() string {
	switch t {
	case ApplicationTypeApplication:
		return "APPLICATION"
	case ApplicationTypeModule:
		return "MODULE"
	case ApplicationTypeNavLayout:
		return "NAV_LAYOUT"
	case ApplicationTypeMobileTabLayout:
		return "MOBILE_TAB_LAYOUT"
	default:
		return "UNKNOWN"
	}
}

func (t ApplicationType) Valid() bool {
	return t >= ApplicationTypeApplication && t <= ApplicationTypeMobileTabLayout
}

type ApplicationStatus string

const (
	ApplicationStatusNormal   ApplicationStatus = "NORMAL"
	ApplicationStatusRecycled ApplicationStatus = "RECYCLED"
	ApplicationStatusDeleted  ApplicationStatus = "DELETED"
)

const (
	RequestIDCtxKey   = "af-requestId"
	RequestIDHeader   = "X-Request-Id"
	OrganizationQuery = "orgId"
)
