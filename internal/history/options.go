package history

import (
	"time"

	"github.com/arkilian/chronicle/internal/actor"
	"github.com/arkilian/chronicle/internal/observability"
)

// DefaultManagerName is the accessor history queries are exposed under.
const DefaultManagerName = "history"

// Options configures a Tracker.
type Options struct {
	// ManagerName is the default manager name. Defaults to "history".
	ManagerName string
	// UserModel is the model history_user points at.
	UserModel string
	// UserRelatedName is the reverse accessor of history_user. Defaults to "+".
	UserRelatedName string
	// StringKeys copies auto keys as text.
	StringKeys bool
	// AdminSite prefixes revert URLs. Defaults to "admin".
	AdminSite string
	// Actors resolves the acting user. Defaults to actor.ContextSupplier.
	Actors actor.Supplier
	// Clock supplies history_date. Defaults to time.Now in UTC.
	Clock func() time.Time
	// Stats receives capture counters. One is created when nil.
	Stats *observability.CaptureStats
}

func (o Options) withDefaults() Options {
	if o.ManagerName == "" {
		o.ManagerName = DefaultManagerName
	}
	if o.AdminSite == "" {
		o.AdminSite = "admin"
	}
	if o.Actors == nil {
		o.Actors = actor.ContextSupplier()
	}
	if o.Clock == nil {
		o.Clock = func() time.Time { return time.Now().UTC() }
	}
	if o.Stats == nil {
		o.Stats = observability.NewCaptureStats(time.Hour)
	}
	return o
}

type registerOptions struct {
	app             string
	managerName     string
	tableName       string
	verboseName     string
	userRelatedName string
	isM2M           bool
}

// RegisterOption customizes a single registration.
type RegisterOption func(*registerOptions)

// WithApp places the historical table under another app prefix.
func WithApp(app string) RegisterOption {
	return func(o *registerOptions) { o.app = app }
}

// WithManagerName exposes the history under name instead of the default.
func WithManagerName(name string) RegisterOption {
	return func(o *registerOptions) { o.managerName = name }
}

// WithTableName overrides the historical table name.
func WithTableName(table string) RegisterOption {
	return func(o *registerOptions) { o.tableName = table }
}

// WithVerboseName overrides "historical <verbose name>".
func WithVerboseName(name string) RegisterOption {
	return func(o *registerOptions) { o.verboseName = name }
}

// WithUserRelatedName sets the reverse accessor of history_user on the user model.
func WithUserRelatedName(name string) RegisterOption {
	return func(o *registerOptions) { o.userRelatedName = name }
}
