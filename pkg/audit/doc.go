// Package audit records security-relevant events: custom role mutations,
// authorization denials and API key bypasses.
//
// Sinks implement Logger. StreamLogger writes JSON lines, DBLogger inserts
// into the audit_logs table and MultiLogger fans out to several sinks.
// AsyncLogger queues writes to a slow sink on a worker pool.
// NewNoOpLogger is used when auditing is disabled.
//
//	event := audit.NewEvent(ctx, audit.EventTypeRoleCreate, audit.EventStatusSuccess)
//	event.ResourceType = audit.ResourceTypeRole
//	event.ResourceID = role.ID
//	_ = auditLogger.Log(ctx, event)
package audit
