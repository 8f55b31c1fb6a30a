// Package orgs reads organization membership.
//
// Membership rows are owned by the identity layer; this package only looks
// them up so the credential resolver can confirm that a token's user belongs
// to the organization named in the request and collect the member's roles.
//
//	store := orgs.NewPostgresStore(db)
//	roles, ok, err := store.ActiveMemberRoles(ctx, "org_1", "usr_1")
package orgs
