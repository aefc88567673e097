package permission

import "time"

// Request is a live operation a plugin wants to perform. Each resource
// type has its own request shape; the registry dispatches on
// PermissionType.
type Request interface {
	PermissionType() Type
}

// NetworkRequest describes an outbound call.
type NetworkRequest struct {
	Method  string
	Scheme  string
	Host    string
	Port    int // 0 = scheme default
	Path    string
	IP      string
	Headers map[string]string
}

func (NetworkRequest) PermissionType() Type { return TypeNetwork }

// FileRequest describes a filesystem operation on one path.
type FileRequest struct {
	Path   string // absolute, or relative to the sandbox root
	Action string // read, write, delete, list
}

func (FileRequest) PermissionType() Type { return TypeFile }

// DBRequest describes a database action on one model. Columns is empty
// for column-less actions (delete, truncate, grouped_queries).
type DBRequest struct {
	Model   string
	Action  string
	Columns []string
}

func (DBRequest) PermissionType() Type { return TypeDB }

// NotificationRequest describes sending one notification.
type NotificationRequest struct {
	Channel   string
	Template  string
	Recipient string
}

func (NotificationRequest) PermissionType() Type { return TypeNotification }

// ModuleRequest describes a call into a host module API.
type ModuleRequest struct {
	Module string
	API    string
}

func (ModuleRequest) PermissionType() Type { return TypeModule }

// CodecRequest describes use of a codec primitive. Class names the
// concrete class being handled, when the primitive carries one.
type CodecRequest struct {
	Group     string
	Primitive string
	Class     string
}

func (CodecRequest) PermissionType() Type { return TypeCodec }

// RouteRequest asks whether a plugin may register a route. Route checks
// consult install-time approval records, not concrete rows.
type RouteRequest struct {
	RouteID string
}

func (RouteRequest) PermissionType() Type { return TypeRoute }

// CheckContext carries the runtime attributes a check is evaluated
// against: the active guard, the resolved environment (empty falls back
// to the evaluator's provider), the decision instant (zero means now),
// and any extra payload destined for the audit trail.
type CheckContext struct {
	Guard string
	Env   string
	Now   time.Time
	Extra map[string]any
}
