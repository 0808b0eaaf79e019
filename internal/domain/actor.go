package domain

// ActorRole differentiates callers at the API boundary.
type ActorRole string

const (
	ActorRoleManager   ActorRole = "MANAGER"
	ActorRoleStaff     ActorRole = "STAFF"
	ActorRoleVendor    ActorRole = "VENDOR"
	ActorRoleRequester ActorRole = "REQUESTER"
)

// Valid reports whether r is a known role.
func (r ActorRole) Valid() bool {
	switch r {
	case ActorRoleManager, ActorRoleStaff, ActorRoleVendor, ActorRoleRequester:
		return true
	}
	return false
}

// Actor is the authenticated caller of a work order operation.
type Actor struct {
	ID   string
	Role ActorRole
}

// IsManager reports whether the actor may dispatch and close work.
func (a Actor) IsManager() bool { return a.Role == ActorRoleManager }

// AssigneeType says whether the assignee is internal staff or an external vendor.
type AssigneeType string

const (
	AssigneeTypeInternalStaff  AssigneeType = "INTERNAL_STAFF"
	AssigneeTypeExternalVendor AssigneeType = "EXTERNAL_VENDOR"
)

// Valid reports whether t is a known assignee type.
func (t AssigneeType) Valid() bool {
	return t == AssigneeTypeInternalStaff || t == AssigneeTypeExternalVendor
}

// RecipientType identifies which directory an id belongs to.
type RecipientType string

const (
	RecipientTypeStaff  RecipientType = "STAFF"
	RecipientTypeVendor RecipientType = "VENDOR"
	RecipientTypeUser   RecipientType = "USER"
)

// RecipientTypeFor maps an assignee type onto its directory.
func RecipientTypeFor(t AssigneeType) RecipientType {
	if t == AssigneeTypeExternalVendor {
		return RecipientTypeVendor
	}
	return RecipientTypeStaff
}
