// Package domain holds the persisted entity types shared by every
// component. These are plain structs with json/db struct tags; no behavior
// lives here beyond small validation helpers — the store, sandbox, and
// HTTP layers own their own logic against these types.
package domain

import "time"

// Permissions is the capability set granted to a sandboxed unit of
// execution. net is always implicitly granted by the executor; everything
// else defaults to deny.
type Permissions struct {
	Read []string `json:"read,omitempty" db:"-"`
	Write []string `json:"write,omitempty" db:"-"`
	Env   []string `json:"env,omitempty" db:"-"`
	Run   []string `json:"run,omitempty" db:"-"`
}

// Service is a long-lived HTTP handler backed by user JS, reached through
// the reverse proxy prefix /api/v2/<name>/.
type Service struct {
	Name          string      `json:"name" db:"name"`
	Code          string      `json:"code" db:"code"`
	Enabled       bool        `json:"enabled" db:"enabled"`
	JWTCheck      bool        `json:"jwt_check" db:"jwt_check"`
	Permissions   Permissions `json:"permissions" db:"-"`
	Schema        *string     `json:"schema,omitempty" db:"schema"`
	AllocatedPort *int        `json:"allocated_port,omitempty" db:"allocated_port"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at" db:"updated_at"`
}

// Function is a short-lived, per-invocation JS execution. It has no
// persistent port; it is referenced by Task.BoundFunctionName.
type Function struct {
	Name        string      `json:"name" db:"name"`
	Code        string      `json:"code" db:"code"`
	Enabled     bool        `json:"enabled" db:"enabled"`
	Permissions Permissions `json:"permissions" db:"-"`
	Description *string     `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// Task is a durable, retry-capable binding between a name and a Function,
// used to enqueue QueueEntry rows.
type Task struct {
	ID                string    `json:"id" db:"id"`
	Name              string    `json:"name" db:"name"`
	RetryCount        int       `json:"retry_count" db:"retry_count"`
	RetryDelayMS      int       `json:"retry_delay_ms" db:"retry_delay_ms"`
	BoundFunctionName string    `json:"bound_function_name" db:"bound_function_name"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// QueueStatus is the lifecycle state of a QueueEntry. Transitions are
// strictly Queued -> Running -> {Completed, Failed}; a retry re-enters
// Running, never Queued.
type QueueStatus string

const (
	QueueStatusQueued    QueueStatus = "queued"
	QueueStatusRunning   QueueStatus = "running"
	QueueStatusCompleted QueueStatus = "completed"
	QueueStatusFailed    QueueStatus = "failed"
)

// QueueEntry is one enqueued invocation of a Task's bound function.
type QueueEntry struct {
	ID                string      `json:"id" db:"id"`
	TaskID            string      `json:"task_id" db:"task_id"`
	Params            string      `json:"params" db:"params"`
	Status            QueueStatus `json:"status" db:"status"`
	RemainingRetries  int         `json:"remaining_retries" db:"remaining_retries"`
	RetryDelayMS      int         `json:"retry_delay_ms" db:"retry_delay_ms"`
	CreatedAt         time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at" db:"updated_at"`
}

// TraceEventKind enumerates the append-only event vocabulary recorded
// against a QueueEntry.
type TraceEventKind string

const (
	TraceEventStart   TraceEventKind = "start"
	TraceEventStream  TraceEventKind = "stream"
	TraceEventEnd     TraceEventKind = "end"
	TraceEventFailed  TraceEventKind = "failed"
	TraceEventLog     TraceEventKind = "log"
	TraceEventWarning TraceEventKind = "warning"
	TraceEventError   TraceEventKind = "error"
	TraceEventTrace   TraceEventKind = "trace"
)

// TraceEvent is one append-only entry in a QueueEntry's execution history.
type TraceEvent struct {
	ID        int64          `json:"id" db:"id"`
	QueueID   string         `json:"queue_id" db:"queue_id"`
	Event     TraceEventKind `json:"event" db:"event"`
	Timestamp time.Time      `json:"timestamp" db:"timestamp"`
	Data      *string        `json:"data,omitempty" db:"data"`
}

// Port is one row in the durable port reservation table. ServiceName is
// NULL (nil) exactly when the port is free; a released port (ReleasedAt
// set, ServiceName cleared) is eligible for reuse.
type Port struct {
	Port         int        `json:"port" db:"port"`
	ServiceName  *string    `json:"service_name,omitempty" db:"service_name"`
	AllocatedAt  *time.Time `json:"allocated_at,omitempty" db:"allocated_at"`
	ReleasedAt   *time.Time `json:"released_at,omitempty" db:"released_at"`
}

// Config is one key/value row in the runtime-tunable configuration table.
type Config struct {
	Key   string `json:"key" db:"key"`
	Value string `json:"value" db:"value"`
}

// Recognized Config keys and their defaults, per spec §3 and §6.4.
const (
	ConfigKeyAvailablePortStart       = "available_port_start"
	ConfigKeyAvailablePortEnd         = "available_port_end"
	ConfigKeyMainPort                 = "main_port"
	ConfigKeyJWTSecret                = "jwt_secret"
	ConfigKeyFunctionExecutionTimeout = "function_execution_timeout_ms"

	DefaultAvailablePortStart       = 8001
	DefaultAvailablePortEnd         = 8999
	DefaultMainPort                 = 8000
	DefaultFunctionExecutionTimeout = 30000
)

// ServiceStatus is the Service Manager's in-memory lifecycle state for a
// running (or starting) service instance. It is never persisted; on
// restart every service starts "absent" again.
type ServiceStatus string

const (
	ServiceStatusStarting ServiceStatus = "starting"
	ServiceStatusRunning  ServiceStatus = "running"
	ServiceStatusStopped  ServiceStatus = "stopped"
	ServiceStatusError    ServiceStatus = "error"
)
