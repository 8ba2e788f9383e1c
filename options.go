package enso

import (
	"log/slog"
	"net/http"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port        int
	logger      *slog.Logger
	version     string
	programs    []programRegistration
	cronJobs    []cronJob
	traceStore  TraceStore
	extraRoutes []func(mux *http.ServeMux)
}

type programRegistration struct {
	program Program
	model   string
	params  map[string]any
}

type cronJob struct {
	program string
	spec    string
	inputs  map[string]any
}

// WithProgram registers a program with its model configuration.
// Registration happens once, at startup; there is no runtime
// discovery. The params map is deep-copied per request, never shared.
func WithProgram(p Program, model string, params map[string]any) Option {
	return func(o *resolvedOptions) {
		o.programs = append(o.programs, programRegistration{program: p, model: model, params: params})
	}
}

// WithCronJob schedules a program on a cron expression. A trigger that
// fires while the previous run is still in flight is skipped.
func WithCronJob(program, spec string, inputs map[string]any) Option {
	return func(o *resolvedOptions) {
		o.cronJobs = append(o.cronJobs, cronJob{program: program, spec: spec, inputs: inputs})
	}
}

// WithPort overrides the TCP port from config (ENSO_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in health endpoints and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithTraceStore replaces the built-in trace store (SQLite by default,
// Postgres when ENSO_DATABASE_URL is set). The App takes ownership and
// closes it on shutdown.
func WithTraceStore(s TraceStore) Option {
	return func(o *resolvedOptions) { o.traceStore = s }
}

// WithExtraRoutes registers additional routes on the shared HTTP mux.
// Multiple registrars may be registered; all are called in registration order.
func WithExtraRoutes(fn func(mux *http.ServeMux)) Option {
	return func(o *resolvedOptions) { o.extraRoutes = append(o.extraRoutes, fn) }
}
