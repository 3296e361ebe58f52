package hooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harun/hookhost/internal/observability"
	"github.com/harun/hookhost/internal/tracing"
	"github.com/harun/hookhost/pkg/plugin"
	"github.com/harun/hookhost/pkg/sandbox"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// DefaultCallbackTimeout bounds one callback when Config leaves it unset
	DefaultCallbackTimeout = 5 * time.Second
	// DefaultMaxDepth is how many hook dispatches may nest inside each other
	DefaultMaxDepth = 8

	tracerName = "github.com/harun/hookhost/pkg/hooks"
)

// Failure describes a callback that returned an error, panicked or timed out
type Failure struct {
	PluginID   string
	HookName   string
	DispatchID string
	Err        error
	StackTrace string
	Panicked   bool
	TimedOut   bool
}

// ErrorSink receives contained callback failures
type ErrorSink interface {
	RecordFailure(ctx context.Context, failure Failure)
}

// ErrorSinkFunc adapts a function to ErrorSink
type ErrorSinkFunc func(ctx context.Context, failure Failure)

// RecordFailure calls f
func (f ErrorSinkFunc) RecordFailure(ctx context.Context, failure Failure) {
	f(ctx, failure)
}

// StackTracer is implemented by errors that carry their own trace
type StackTracer interface {
	StackTrace() string
}

// Config configures a Dispatcher
type Config struct {
	Catalog *Catalog
	Gate    sandbox.Gate

	// Resources builds the proxies handed to each callback. When nil,
	// callbacks receive Resources with only PluginID set.
	Resources func(pluginID string) *sandbox.Resources

	Sink            ErrorSink
	CallbackTimeout time.Duration
	MaxDepth        int
	Logger          zerolog.Logger
}

// Dispatcher runs callbacks for a hook in registration order
type Dispatcher struct {
	catalog   *Catalog
	gate      sandbox.Gate
	resources func(pluginID string) *sandbox.Resources
	sink      ErrorSink
	timeout   time.Duration
	maxDepth  int
	logger    zerolog.Logger
}

var _ sandbox.HookExecutor = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Catalog == nil {
		cfg.Catalog = NewCatalog()
	}
	if cfg.CallbackTimeout <= 0 {
		cfg.CallbackTimeout = DefaultCallbackTimeout
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}

	return &Dispatcher{
		catalog:   cfg.Catalog,
		gate:      cfg.Gate,
		resources: cfg.Resources,
		sink:      cfg.Sink,
		timeout:   cfg.CallbackTimeout,
		maxDepth:  cfg.MaxDepth,
		logger:    cfg.Logger.With().Str("component", "hooks").Logger(),
	}
}

// Catalog returns the catalog the dispatcher reads from
func (d *Dispatcher) Catalog() *Catalog {
	return d.catalog
}

type depthKey struct{}

func depthFrom(ctx context.Context) int {
	depth, _ := ctx.Value(depthKey{}).(int)
	return depth
}

// ExecuteHook runs the hook's callbacks and returns the resulting value.
// Callback failures are sent to the error sink and never returned.
// Unknown hooks return initial unchanged.
func (d *Dispatcher) ExecuteHook(ctx context.Context, name string, initial any, args ...any) any {
	if ctx == nil {
		ctx = context.Background()
	}

	def, regs, ok := d.catalog.snapshot(name)
	if !ok || len(regs) == 0 {
		return initial
	}

	depth := depthFrom(ctx)
	if depth >= d.maxDepth {
		d.logger.Warn().
			Str("hook", name).
			Int("depth", depth).
			Msg("Hook nesting limit reached, skipping dispatch")
		return initial
	}
	ctx = context.WithValue(ctx, depthKey{}, depth+1)

	dispatchID := uuid.NewString()
	ctx = tracing.WithDispatchID(ctx, dispatchID)
	ctx, span := tracing.StartSpan(ctx, tracerName, "hooks.execute",
		attribute.String("hook.name", name),
		attribute.String("hook.type", string(def.Type)),
		attribute.String("hook.dispatch_id", dispatchID),
		attribute.Int("hook.callbacks", len(regs)),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		observability.RecordHookDispatch(name, time.Since(start))
	}()

	required := def.RequiredPermission(initial)
	value := initial
	failures := 0

	logger := d.dispatchLogger(ctx)

	for _, reg := range regs {
		// Callbacks already running see the cancellation, later ones never start
		if err := ctx.Err(); err != nil {
			logger.Debug().Err(err).Str("hook", name).Msg("Dispatch cancelled, skipping remaining callbacks")
			break
		}

		if d.gate != nil && !d.gate.HasPermission(reg.PluginID, required) {
			observability.RecordCallbackSkipped(name)
			logger.Debug().
				Str("hook", name).
				Str("plugin_id", reg.PluginID).
				Str("permission", string(required)).
				Msg("Skipping callback without required permission")
			continue
		}

		input := value
		if def.Type == Action {
			input = initial
		}

		callStart := time.Now()
		out, failure := d.invoke(ctx, name, reg, input, args)
		observability.RecordCallback(name, time.Since(callStart), failure == nil)

		if failure != nil {
			failures++
			failure.HookName = name
			failure.DispatchID = dispatchID
			d.report(ctx, *failure)
			continue
		}

		if def.Type == Filter && out != nil {
			if err := d.checkRewrite(def, reg.PluginID, out); err != nil {
				failures++
				d.report(ctx, Failure{PluginID: reg.PluginID, HookName: name, DispatchID: dispatchID, Err: err})
				continue
			}
			value = out
		}
	}

	if failures > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d callback(s) failed", failures))
	}

	if def.Type == Action {
		return initial
	}
	return value
}

type outcome struct {
	value   any
	failure *Failure
}

func (d *Dispatcher) invoke(ctx context.Context, name string, reg Registration, input any, args []any) (value any, failure *Failure) {
	ctx, span := tracing.StartCallbackSpan(ctx, tracerName, name, reg.PluginID)
	defer func() {
		var err error
		if failure != nil {
			err = failure.Err
		}
		tracing.EndSpan(span, err)
	}()

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	res := d.resourcesFor(reg.PluginID)
	done := make(chan outcome, 1)

	go func() {
		var (
			pc    panics.Catcher
			value any
			err   error
		)
		pc.Try(func() {
			value, err = reg.Callback(callCtx, input, res, args...)
		})

		if r := pc.Recovered(); r != nil {
			done <- outcome{failure: &Failure{
				PluginID:   reg.PluginID,
				Err:        fmt.Errorf("callback panicked: %v", r.Value),
				StackTrace: string(r.Stack),
				Panicked:   true,
			}}
			return
		}
		if err != nil {
			failure := &Failure{PluginID: reg.PluginID, Err: err}
			var tracer StackTracer
			if errors.As(err, &tracer) {
				failure.StackTrace = tracer.StackTrace()
			}
			done <- outcome{failure: failure}
			return
		}
		done <- outcome{value: value}
	}()

	select {
	case o := <-done:
		return o.value, o.failure
	case <-callCtx.Done():
		// The caller went away; that is not the plugin's failure
		if ctx.Err() != nil {
			return nil, nil
		}
		err := fmt.Errorf("callback timed out after %s: %w", d.timeout, callCtx.Err())
		return nil, &Failure{PluginID: reg.PluginID, Err: err, TimedOut: true}
	}
}

// checkRewrite rejects a Filter result that needs a permission the
// returning plugin does not hold itself
func (d *Dispatcher) checkRewrite(def Definition, pluginID string, out any) error {
	if def.Resolve == nil || d.gate == nil {
		return nil
	}
	permission := def.Resolve(out)
	if d.gate.HasPermission(pluginID, permission) {
		return nil
	}
	return fmt.Errorf("rewritten value discarded: %w", &plugin.PermissionError{PluginID: pluginID, Permission: permission})
}

func (d *Dispatcher) resourcesFor(pluginID string) *sandbox.Resources {
	if d.resources == nil {
		return &sandbox.Resources{PluginID: pluginID}
	}
	return d.resources(pluginID)
}

// dispatchLogger carries the trace ids of ctx. Plugin ids are logged per
// callback, so the id of an enclosing callback is left out.
func (d *Dispatcher) dispatchLogger(ctx context.Context) zerolog.Logger {
	return tracing.LoggerFromContext(tracing.WithPluginID(ctx, ""), d.logger)
}

func (d *Dispatcher) report(ctx context.Context, failure Failure) {
	logger := d.dispatchLogger(ctx)
	logger.Warn().
		Err(failure.Err).
		Str("hook", failure.HookName).
		Str("plugin_id", failure.PluginID).
		Bool("panicked", failure.Panicked).
		Bool("timed_out", failure.TimedOut).
		Msg("Hook callback failed")

	if d.sink != nil {
		d.sink.RecordFailure(tracing.CloneContext(ctx), failure)
	}
}
