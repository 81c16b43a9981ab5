package auth

const (
	PermUserList   = "user:list"
	PermUserCreate = "user:create"
	PermUserUpdate = "user:update"
	PermUserDelete = "user:delete"

	PermRoleList              = "role:list"
	PermRoleCreate            = "role:create"
	PermRoleUpdate            = "role:update"
	PermRoleDelete            = "role:delete"
	PermRoleAssignPermissions = "role:assign-permissions"

	PermPermissionList   = "permission:list"
	PermPermissionCreate = "permission:create"
	PermPermissionUpdate = "permission:update"
	PermPermissionDelete = "permission:delete"

	PermDepartmentList   = "department:list"
	PermDepartmentCreate = "department:create"
	PermDepartmentUpdate = "department:update"
	PermDepartmentDelete = "department:delete"

	PermConfigList   = "config:list"
	PermConfigCreate = "config:create"
	PermConfigUpdate = "config:update"
	PermConfigDelete = "config:delete"
)

const (
	RoleAdministrator = "Administrator"
	RoleManager       = "Manager"
	RoleEmployee      = "Employee"
)

// BuiltinPermissions is the catalog installed by the seeder.
var BuiltinPermissions = []PermissionInput{
	{Name: "List users", Code: PermUserList},
	{Name: "Create users", Code: PermUserCreate},
	{Name: "Edit users", Code: PermUserUpdate},
	{Name: "Delete users", Code: PermUserDelete},
	{Name: "List roles", Code: PermRoleList},
	{Name: "Create roles", Code: PermRoleCreate},
	{Name: "Edit roles", Code: PermRoleUpdate},
	{Name: "Delete roles", Code: PermRoleDelete},
	{Name: "Assign role permissions", Code: PermRoleAssignPermissions},
	{Name: "List permissions", Code: PermPermissionList},
	{Name: "Create permissions", Code: PermPermissionCreate},
	{Name: "Edit permissions", Code: PermPermissionUpdate},
	{Name: "Delete permissions", Code: PermPermissionDelete},
	{Name: "List departments", Code: PermDepartmentList},
	{Name: "Create departments", Code: PermDepartmentCreate},
	{Name: "Edit departments", Code: PermDepartmentUpdate},
	{Name: "Delete departments", Code: PermDepartmentDelete},
	{Name: "List configuration (including private)", Code: PermConfigList},
	{Name: "Create configuration", Code: PermConfigCreate},
	{Name: "Edit configuration", Code: PermConfigUpdate},
	{Name: "Delete configuration", Code: PermConfigDelete},
}

// BuiltinRole describes a role installed by the seeder. A nil Permissions list grants
// the whole catalog.
type BuiltinRole struct {
	Name        string
	Description string
	Permissions []string
}

var BuiltinRoles = []BuiltinRole{
	{
		Name:        RoleAdministrator,
		Description: "Full access to every administrative function",
	},
	{
		Name:        RoleEmployee,
		Description: "Regular staff member",
		Permissions: []string{PermUserList, PermDepartmentList},
	},
	{
		Name:        RoleManager,
		Description: "Department manager",
		Permissions: []string{PermUserList, PermUserCreate, PermUserUpdate, PermDepartmentList, PermRoleList},
	},
}
