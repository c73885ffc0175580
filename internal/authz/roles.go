package authz

// Role identifies a member's function within a practice. Roles do not form a
// privilege hierarchy; each carries an explicit permission set.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleManager   Role = "manager"
	RoleAssistant Role = "assistant"
	RoleLogistics Role = "logistics"
	RoleMember    Role = "member"
	RoleGuest     Role = "guest"
)

// PermissionType is the requested level of access.
type PermissionType string

const (
	PermissionRead  PermissionType = "read"
	PermissionWrite PermissionType = "write"
	PermissionAdmin PermissionType = "admin"
)

// ResourceType names the kind of resource being accessed.
type ResourceType string

const (
	ResourceProducts  ResourceType = "products"
	ResourceInventory ResourceType = "inventory"
	ResourceOrders    ResourceType = "orders"
	ResourceAnalytics ResourceType = "analytics"
	ResourceUsers     ResourceType = "users"
	ResourceAll       ResourceType = "all"
)

// Permission is an immutable capability tuple. Conditions narrow the grant
// (for example limiting inventory writes to counting and adjustment actions).
type Permission struct {
	Type       PermissionType `json:"permission_type"`
	Resource   ResourceType   `json:"resource_type"`
	ResourceID string         `json:"resource_id,omitempty"`
	Conditions map[string]any `json:"conditions,omitempty"`
	Source     string         `json:"source"`
}

// RoleDefinition couples a role with its display metadata and default grants.
type RoleDefinition struct {
	Role        Role         `json:"role"`
	DisplayName string       `json:"display_name"`
	Description string       `json:"description"`
	Permissions []Permission `json:"permissions"`
}

// registry is process-wide immutable configuration: every role has an
// explicit, non-empty permission list and there is no implicit fallback.
var registry = map[Role]RoleDefinition{
	RoleOwner: {
		Role:        RoleOwner,
		DisplayName: "Eigenaar",
		Description: "Volledige toegang tot alle functies en instellingen",
		Permissions: []Permission{
			{Type: PermissionAdmin, Resource: ResourceAll, Source: "role"},
		},
	},
	RoleManager: {
		Role:        RoleManager,
		DisplayName: "Manager",
		Description: "Operationele toegang tot producten, voorraad en bestellingen",
		Permissions: []Permission{
			{Type: PermissionWrite, Resource: ResourceProducts, Source: "role"},
			{Type: PermissionWrite, Resource: ResourceInventory, Source: "role"},
			{Type: PermissionWrite, Resource: ResourceOrders, Source: "role"},
			{Type: PermissionRead, Resource: ResourceAnalytics, Source: "role"},
			{Type: PermissionRead, Resource: ResourceUsers, Source: "role"},
		},
	},
	RoleAssistant: {
		Role:        RoleAssistant,
		DisplayName: "Assistent",
		Description: "Algemene operationele toegang",
		Permissions: []Permission{
			{Type: PermissionWrite, Resource: ResourceProducts, Source: "role"},
			{Type: PermissionWrite, Resource: ResourceInventory, Source: "role"},
			{Type: PermissionWrite, Resource: ResourceOrders, Source: "role"},
			{Type: PermissionRead, Resource: ResourceAnalytics, Conditions: map[string]any{"basic_only": true}, Source: "role"},
		},
	},
	RoleLogistics: {
		Role:        RoleLogistics,
		DisplayName: "Logistiek",
		Description: "Beperkt tot voorraadtelling en product viewing",
		Permissions: []Permission{
			{Type: PermissionRead, Resource: ResourceProducts, Source: "role"},
			{Type: PermissionWrite, Resource: ResourceInventory, Conditions: map[string]any{"actions": []string{"count", "adjust"}}, Source: "role"},
			{Type: PermissionRead, Resource: ResourceInventory, Source: "role"},
		},
	},
	RoleMember: {
		Role:        RoleMember,
		DisplayName: "Lid",
		Description: "Basistoegang tot producten en voorraad",
		Permissions: []Permission{
			{Type: PermissionRead, Resource: ResourceProducts, Source: "role"},
			{Type: PermissionRead, Resource: ResourceInventory, Source: "role"},
			{Type: PermissionWrite, Resource: ResourceOrders, Conditions: map[string]any{"own_only": true}, Source: "role"},
		},
	},
	RoleGuest: {
		Role:        RoleGuest,
		DisplayName: "Gast",
		Description: "Zeer beperkte toegang",
		Permissions: []Permission{
			{Type: PermissionRead, Resource: ResourceProducts, Conditions: map[string]any{"limited": true}, Source: "role"},
			{Type: PermissionRead, Resource: ResourceInventory, Conditions: map[string]any{"limited": true}, Source: "role"},
		},
	},
}

// AllRoles lists the roles in a stable order for API responses and seeds.
var AllRoles = []Role{RoleOwner, RoleManager, RoleAssistant, RoleLogistics, RoleMember, RoleGuest}

// Definition returns the registry entry for a role.
func Definition(role Role) (RoleDefinition, bool) {
	def, ok := registry[role]
	return def, ok
}

// Definitions returns every role definition in stable order.
func Definitions() []RoleDefinition {
	out := make([]RoleDefinition, 0, len(AllRoles))
	for _, role := range AllRoles {
		out = append(out, registry[role])
	}
	return out
}

// ParseRole validates a raw role string against the registry.
func ParseRole(raw string) (Role, bool) {
	role := Role(raw)
	_, ok := registry[role]
	return role, ok
}

// RoleAllows evaluates the static registry for a (permission, resource) pair.
// Admin grants cover every permission type; "all" covers every resource.
// Write does not imply read.
func RoleAllows(role Role, perm PermissionType, resource ResourceType) bool {
	def, ok := registry[role]
	if !ok {
		return false
	}
	for _, p := range def.Permissions {
		if p.Resource != resource && p.Resource != ResourceAll {
			continue
		}
		if p.Type == perm || p.Type == PermissionAdmin {
			return true
		}
	}
	return false
}

// Capability helpers used by UI-facing code to render available actions
// without a backend round trip.

func CanCreateProducts(role Role) bool {
	return role == RoleOwner || role == RoleManager || role == RoleAssistant
}

func CanEditProducts(role Role) bool {
	return role == RoleOwner || role == RoleManager || role == RoleAssistant
}

func CanDeleteProducts(role Role) bool {
	return role == RoleOwner || role == RoleManager
}

func CanManageInventory(role Role) bool {
	return role == RoleOwner || role == RoleManager || role == RoleAssistant || role == RoleLogistics
}

func CanViewAnalytics(role Role) bool {
	return role == RoleOwner || role == RoleManager || role == RoleAssistant
}

func CanManageUsers(role Role) bool {
	return role == RoleOwner || role == RoleManager
}

func CanSubmitOrders(role Role) bool {
	return role == RoleOwner || role == RoleManager || role == RoleAssistant
}
