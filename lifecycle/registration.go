package lifecycle

import (
	"context"
	"time"
)

// Registration describes one managed resource. Get and the By* queries
// return snapshot copies; mutating a snapshot has no effect on the manager.
type Registration struct {
	Key           string        `json:"key"`
	Value         any           `json:"-"`
	Type          string        `json:"type"`
	State         State         `json:"-"`
	Priority      int           `json:"priority,omitempty"`
	Dependencies  []string      `json:"dependencies,omitempty"`
	Group         string        `json:"group,omitempty"`
	Tags          []string      `json:"tags,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	InitializedAt time.Time     `json:"initializedAt"`
	MaxLifetime   time.Duration `json:"maxLifetime,omitempty"`
	AutoDispose   bool          `json:"autoDispose,omitempty"`

	initFn    func(context.Context) error
	disposeFn func(context.Context) error
}

// StateName is the string form of the current state, for serialized views.
func (r Registration) StateName() string { return r.State.String() }

// clone copies the registration deep enough that callers cannot reach the
// manager's slices through a snapshot.
func (r Registration) clone() Registration {
	out := r
	out.Dependencies = append([]string(nil), r.Dependencies...)
	out.Tags = append([]string(nil), r.Tags...)
	return out
}

// RegisterOption customizes a registration.
type RegisterOption func(*Registration)

// WithInit sets the initialization func run by Initialize.
func WithInit(fn func(context.Context) error) RegisterOption {
	return func(r *Registration) { r.initFn = fn }
}

// WithDispose sets the teardown func run on disposal.
func WithDispose(fn func(context.Context) error) RegisterOption {
	return func(r *Registration) { r.disposeFn = fn }
}

// WithType tags the registration with a resource type (e.g. "connection").
func WithType(t string) RegisterOption {
	return func(r *Registration) { r.Type = t }
}

// WithPriority orders disposal within a dependency tier: higher priorities
// are disposed earlier. Topology always wins over priority.
func WithPriority(p int) RegisterOption {
	return func(r *Registration) { r.Priority = p }
}

// WithDependencies declares the keys this resource needs. Dependencies are
// initialized before the resource and disposed after it.
func WithDependencies(keys ...string) RegisterOption {
	return func(r *Registration) { r.Dependencies = append(r.Dependencies, keys...) }
}

// WithGroup assigns the registration to a named group for bulk disposal.
func WithGroup(g string) RegisterOption {
	return func(r *Registration) { r.Group = g }
}

// WithTags attaches free-form tags for lookup and bulk disposal.
func WithTags(tags ...string) RegisterOption {
	return func(r *Registration) { r.Tags = append(r.Tags, tags...) }
}

// WithMaxLifetime bounds how long the resource may stay initialized. Only
// effective together with WithAutoDispose; the sweeper enforces it.
func WithMaxLifetime(d time.Duration) RegisterOption {
	return func(r *Registration) { r.MaxLifetime = d }
}

// WithAutoDispose lets the sweeper dispose the resource once its
// MaxLifetime has elapsed.
func WithAutoDispose() RegisterOption {
	return func(r *Registration) { r.AutoDispose = true }
}

// AuditEntry records one completed or failed disposal.
type AuditEntry struct {
	Key  string    `json:"key"`
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Err  string    `json:"err,omitempty"`
}

// Statistics is a point-in-time summary of the manager.
type Statistics struct {
	Total            int            `json:"total"`
	States           map[string]int `json:"states"`
	Types            map[string]int `json:"types"`
	Groups           map[string]int `json:"groups,omitempty"`
	DisposalFailures int            `json:"disposalFailures"`
	InitFailures     int            `json:"initFailures"`
	SuspectedLeaks   int            `json:"suspectedLeaks"`
	AuditEntries     int            `json:"auditEntries"`
}
