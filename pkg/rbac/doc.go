// Package rbac implements authorization for the GRC API: the permission
// catalog, built-in and custom roles, permission resolution, the request
// guard and the role management API.
//
// # Permissions
//
// A PermissionMap maps a resource to the actions it grants:
//
//	rbac.PermissionMap{"task": {"read", "complete"}, "evidence": {"upload"}}
//
// ValidResources lists every grantable resource and its action vocabulary.
// Five built-in roles (owner, admin, auditor, employee, contractor) have
// fixed permissions; owner and admin also hold the "ac" resource, which
// gates role management and cannot be granted to a custom role.
//
// # Resolution
//
// PermissionResolver.CombinedPermissions unions the permissions of every
// role a member holds. Unknown role names grant nothing.
//
// # Role management
//
// RoleService validates custom roles against the catalog and refuses any
// grant the caller's own roles do not already cover. Only an owner may grant
// organization:delete. Names must not collide with built-in roles or other
// custom roles, organizations are capped at 20 custom roles by default, and
// a role cannot be deleted while members hold it.
//
// # Guard
//
//	router.Handle("/v1/controls", guard.Protect(rbac.Require("control", "read"))(handler))
//
// Protect asks the identity provider's session service; ProtectWithRoles
// evaluates the caller's roles locally. API key callers currently bypass
// both. Every error, timeout or panic during a check denies the request
// with 403.
package rbac
