// Package postgres owns database connectivity for the service: a primary
// pool with optional round-robin read replicas, the ordered schema
// migrations, and the optional Redis client used for distributed rate
// limiting.
//
// Authorization reads go to Primary so a freshly created role is visible to
// the next request. Listing reads may use Replica, which falls back to the
// primary when no healthy replica is configured.
package postgres
