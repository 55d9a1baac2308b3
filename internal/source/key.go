package source

// Role identifies the kind of per-source worker a registry.Key addresses.
type Role string

const (
	// RoleBuffer addresses the Memory Buffer (C3) for a source.
	RoleBuffer Role = "buffer"
	// RoleRecentLogs addresses the Recent-Logs Cache worker (C2) for a source.
	RoleRecentLogs Role = "recentlogs"
	// RoleSupervisor addresses the Source Supervisor (C7) for a source.
	RoleSupervisor Role = "supervisor"
	// RoleDispatch is the dispatcher key (C5): every backend adaptor started
	// for a source registers itself under (sourceID, RoleDispatch), and
	// Dispatch(sourceID, events) walks every entry registered there.
	RoleDispatch Role = "dispatch"
	// RoleBackendSub addresses an adaptor's own internal sub-process,
	// keyed further by backend ID and sub-role (spec §3: "(source_id,
	// backend_marker, backend_id, sub_role)").
	RoleBackendSub Role = "backend-sub"
)

// Key is the registry.Registry key type for per-source workers: spec §3's
// "(source_id, role)" and "(source_id, backend_marker, backend_id,
// sub_role)" tuples, folded into one comparable struct.
type Key struct {
	SourceID  string
	Role      Role
	BackendID string
	SubRole   string
}

// BufferKey addresses a source's Memory Buffer.
func BufferKey(sourceID string) Key { return Key{SourceID: sourceID, Role: RoleBuffer} }

// RecentLogsKey addresses a source's Recent-Logs Cache worker.
func RecentLogsKey(sourceID string) Key { return Key{SourceID: sourceID, Role: RoleRecentLogs} }

// SupervisorKey addresses a source's Supervisor.
func SupervisorKey(sourceID string) Key { return Key{SourceID: sourceID, Role: RoleSupervisor} }

// DispatchKey is the key a single backend adaptor registers under, so
// the dispatcher (C5) can fan out to every adaptor configured for a
// source. Distinct backends for the same source get distinct keys
// (BackendID differs); the dispatcher matches on SourceID and Role
// alone to reach all of them — see IsDispatchKeyFor.
func DispatchKey(sourceID, backendID string) Key {
	return Key{SourceID: sourceID, Role: RoleDispatch, BackendID: backendID}
}

// IsDispatchKeyFor reports whether k is any backend's dispatch key for
// sourceID, regardless of which backend.
func IsDispatchKeyFor(sourceID string, k Key) bool {
	return k.SourceID == sourceID && k.Role == RoleDispatch
}

// BackendSubKey addresses an adaptor's own internal worker, e.g. a retry
// loop or connection manager it wants independently supervised.
func BackendSubKey(sourceID, backendID, subRole string) Key {
	return Key{SourceID: sourceID, Role: RoleBackendSub, BackendID: backendID, SubRole: subRole}
}
