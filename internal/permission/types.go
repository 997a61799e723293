package permission

// Action names for object-level checks.
const (
	ActionCreate = "create"
	ActionRead   = "read"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Field-level action names.
const (
	FieldActionRead = "read"
	FieldActionEdit = "edit"
)

// AccessLevel is the organization-wide default for record-level access.
type AccessLevel string

const (
	// AccessPrivate restricts records to their owner unless a sharing rule
	// extends access.
	AccessPrivate AccessLevel = "private"

	// AccessPublicReadOnly lets every user read records; writes stay
	// restricted to the owner unless a sharing rule grants read_write.
	AccessPublicReadOnly AccessLevel = "public_read_only"

	// AccessPublicReadWrite places no record-level restriction.
	AccessPublicReadWrite AccessLevel = "public_read_write"

	// AccessControlledByParent defers to the parent record. The evaluator
	// treats it like private because parent traversal lives in the data
	// layer, not here.
	AccessControlledByParent AccessLevel = "controlled_by_parent"
)

// Valid reports whether the access level is one of the known values.
func (a AccessLevel) Valid() bool {
	switch a {
	case AccessPrivate, AccessPublicReadOnly, AccessPublicReadWrite, AccessControlledByParent:
		return true
	}
	return false
}

// Sharing rule access grades.
const (
	SharingAccessRead      = "read"
	SharingAccessReadWrite = "read_write"
)

// Context identifies the caller of a permission check. It is constructed by
// the auth layer per request and carries everything the engine needs; the
// engine itself keeps no per-user state outside the result cache.
type Context struct {
	// UserID is the unique identifier of the acting user.
	UserID string `json:"userId"`

	// OrganizationID scopes the user to a tenant. Optional.
	OrganizationID string `json:"organizationId,omitempty"`

	// Profiles are the role names evaluated against permission sets.
	Profiles []string `json:"profiles"`

	// Role is an optional display role. Not consulted by the engine.
	Role string `json:"role,omitempty"`

	// PermissionSets names additional assigned sets. The auth layer folds
	// these into Profiles before calling Check; the engine iterates
	// Profiles only.
	PermissionSets []string `json:"permissionSets,omitempty"`

	// Metadata supplies extra template variables for filter substitution.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// FirstProfile returns the first profile name or "" when none is set. Filter
// templates expose it as {{ profile }}.
func (c Context) FirstProfile() string {
	if len(c.Profiles) == 0 {
		return ""
	}
	return c.Profiles[0]
}

// PayloadKey is the hook payload key carrying the caller's Context through
// data operations. Payloads without it are system calls and skip
// enforcement.
const PayloadKey = "user"

// FromPayload extracts a Context placed in a hook payload under PayloadKey.
func FromPayload(payload map[string]interface{}) (Context, bool) {
	switch v := payload[PayloadKey].(type) {
	case Context:
		return v, true
	case *Context:
		if v != nil {
			return *v, true
		}
	}
	return Context{}, false
}

// ObjectPermission is one profile's grant block on an object.
type ObjectPermission struct {
	AllowCreate bool `json:"allowCreate"`
	AllowRead   bool `json:"allowRead"`
	AllowEdit   bool `json:"allowEdit"`
	AllowDelete bool `json:"allowDelete"`

	// ViewFilters restrict which records the profile sees. Values may
	// contain template markers like {{ userId }}. An allowing profile
	// without filters grants unrestricted access.
	ViewFilters map[string]interface{} `json:"viewFilters,omitempty"`
}

// Allows reports whether the block grants the named action.
func (p ObjectPermission) Allows(action string) bool {
	switch action {
	case ActionCreate:
		return p.AllowCreate
	case ActionRead:
		return p.AllowRead
	case ActionUpdate:
		return p.AllowEdit
	case ActionDelete:
		return p.AllowDelete
	}
	return false
}

// FieldPermission lists the profiles that may see or edit one field.
// Profiles in EditableBy must also appear in VisibleTo; the loader rejects
// sets that violate that.
type FieldPermission struct {
	VisibleTo  []string `json:"visibleTo,omitempty"`
	EditableBy []string `json:"editableBy,omitempty"`
}

// SharingRule extends record access beyond the organization-wide default.
type SharingRule struct {
	// Name identifies the rule in logs and validation errors.
	Name string `json:"name"`

	// Access is "read" or "read_write".
	Access string `json:"access"`

	// Filters select the records the rule applies to. Values may contain
	// template markers resolved against the caller's context.
	Filters map[string]interface{} `json:"filters"`
}

// Set is one permission-set document: a target object plus per-profile
// grants, field permissions, and record-level sharing configuration.
type Set struct {
	// Name is the unique permission-set name.
	Name string `json:"name"`

	// Object is the object the set applies to.
	Object string `json:"object"`

	// DefaultAccess is the organization-wide default for the object.
	// Empty means private.
	DefaultAccess AccessLevel `json:"defaultAccess,omitempty"`

	// OwnerField is the record field holding the owning user id.
	// Empty means "ownerId".
	OwnerField string `json:"ownerField,omitempty"`

	// Profiles maps profile name to that profile's grants.
	Profiles map[string]ObjectPermission `json:"profiles"`

	// Fields maps field name to its visibility configuration.
	Fields map[string]FieldPermission `json:"fields,omitempty"`

	// SharingRules extend record access beyond DefaultAccess.
	SharingRules []SharingRule `json:"sharingRules,omitempty"`
}

// Result is the outcome of an object-level check.
type Result struct {
	// Allowed reports whether the action may proceed.
	Allowed bool `json:"allowed"`

	// Reason explains a denial. Empty on grants.
	Reason string `json:"reason,omitempty"`

	// Filters restrict which records the grant covers. Nil means the
	// grant is unrestricted. Multiple profile filters are combined under
	// a top-level $or.
	Filters map[string]interface{} `json:"filters,omitempty"`
}

// Config mirrors the permissions plugin configuration block.
type Config struct {
	// Enabled toggles enforcement. A disabled engine allows everything.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// DefaultDeny controls the answer for objects without a permission
	// set. True denies, false allows.
	DefaultDeny bool `json:"defaultDeny" yaml:"defaultDeny"`

	// PermissionsDir is the directory of permission-set YAML documents.
	PermissionsDir string `json:"permissionsDir" yaml:"permissionsDir"`

	// CachePermissions toggles the (user, object, action) result cache.
	CachePermissions bool `json:"cachePermissions" yaml:"cachePermissions"`

	// CacheTTLSeconds bounds the lifetime of cached results. Zero means
	// the 60 second default.
	CacheTTLSeconds int `json:"cacheTTLSeconds" yaml:"cacheTTLSeconds"`

	// TenantIsolation adds an organization filter to every record filter
	// when the caller carries an organization id.
	TenantIsolation bool `json:"tenantIsolation" yaml:"tenantIsolation"`

	// TenantField is the record field holding the organization id.
	// Empty means "organizationId".
	TenantField string `json:"tenantField" yaml:"tenantField"`
}

const (
	defaultOwnerField  = "ownerId"
	defaultTenantField = "organizationId"
	defaultCacheTTL    = 60
)
