package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/loomhq/loom/internal/cache"
	"github.com/loomhq/loom/internal/contextwin"
	"github.com/loomhq/loom/internal/observability"
	"github.com/loomhq/loom/internal/provider"
	"github.com/loomhq/loom/internal/schema"
)

// Config tunes a Runtime.
type Config struct {
	// CacheTTL is the default TTL for cacheable tool results.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// CacheMaxSize bounds the number of cached results.
	CacheMaxSize int `yaml:"cache_max_size"`

	// HistorySize bounds the tool call history ring. Default 50.
	HistorySize int `yaml:"history_size"`

	// DisableHints suppresses the hint suffixes appended from preflight
	// warnings.
	DisableHints bool `yaml:"disable_hints"`
}

// DefaultConfig returns the runtime defaults.
func DefaultConfig() Config {
	return Config{
		CacheTTL:     5 * time.Minute,
		CacheMaxSize: 256,
		HistorySize:  defaultHistorySize,
	}
}

// cacheableBuiltins are idempotent read-style tools cached without an
// explicit Cacheable flag.
var cacheableBuiltins = map[string]bool{
	"read_file": true,
	"list_dir":  true,
	"search":    true,
	"glob":      true,
}

// Call is one tool invocation request. Arguments may be a pre-parsed map, a
// serialized JSON string, or raw JSON bytes; the runtime normalizes all of
// them, falling back to empty arguments for unparsable input.
type Call struct {
	Name      string
	Arguments any
}

// Runtime owns the registry, result cache, and history for one agent
// session. Instances are independent; nothing is shared process-wide.
// Safe for concurrent use.
type Runtime struct {
	mu    sync.RWMutex
	tools map[string]record
	order []string

	config    Config
	cache     *cache.TTLCache[string, string]
	history   *history
	truncator contextwin.Truncator
	observer  *Observer

	log     *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// Option customizes a Runtime.
type Option func(*Runtime)

// WithObserver attaches lifecycle callbacks.
func WithObserver(o *Observer) Option {
	return func(r *Runtime) { r.observer = o }
}

// WithTruncator replaces the default output truncator.
func WithTruncator(t contextwin.Truncator) Option {
	return func(r *Runtime) { r.truncator = t }
}

// WithLogger attaches a structured logger.
func WithLogger(l *observability.Logger) Option {
	return func(r *Runtime) { r.log = l }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Runtime) { r.metrics = m }
}

// WithTracer attaches a tracer; each execution runs inside a span.
func WithTracer(t *observability.Tracer) Option {
	return func(r *Runtime) { r.tracer = t }
}

// NewRuntime creates an empty runtime.
func NewRuntime(config Config, opts ...Option) *Runtime {
	def := DefaultConfig()
	if config.CacheTTL <= 0 {
		config.CacheTTL = def.CacheTTL
	}
	if config.CacheMaxSize <= 0 {
		config.CacheMaxSize = def.CacheMaxSize
	}
	if config.HistorySize <= 0 {
		config.HistorySize = def.HistorySize
	}

	r := &Runtime{
		tools:  make(map[string]record),
		config: config,
		cache: cache.New[string, string](cache.Config[string]{
			DefaultTTL: config.CacheTTL,
			MaxSize:    config.CacheMaxSize,
			SizeOf:     func(v string) int { return len(v) },
		}),
		history:   newHistory(config.HistorySize),
		truncator: contextwin.New(contextwin.Config{}),
		log:       observability.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterSuite atomically replaces any suite with the same id and then
// registers its tools. Blank ids, blank tool names, and names owned by a
// different suite are fatal ConfigErrors; nothing is mutated on failure.
func (r *Runtime) RegisterSuite(suite Suite) error {
	if strings.TrimSpace(suite.ID) == "" {
		return configErrorf("suite id is blank")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, def := range suite.Tools {
		if strings.TrimSpace(def.Name) == "" {
			return configErrorf("suite %q contains a tool with a blank name", suite.ID)
		}
		if existing, ok := r.tools[def.Name]; ok && existing.suiteID != suite.ID {
			return configErrorf("tool %q already registered by suite %q", def.Name, existing.suiteID)
		}
	}

	r.removeSuiteLocked(suite.ID)
	for _, def := range suite.Tools {
		r.tools[def.Name] = record{suiteID: suite.ID, def: def}
		r.order = append(r.order, def.Name)
	}
	return nil
}

// UnregisterSuite removes every tool owned by id; unknown ids are a no-op.
func (r *Runtime) UnregisterSuite(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeSuiteLocked(id)
}

func (r *Runtime) removeSuiteLocked(id string) {
	removed := make(map[string]bool)
	for name, rec := range r.tools {
		if rec.suiteID == id {
			delete(r.tools, name)
			removed[name] = true
		}
	}
	if len(removed) == 0 {
		return
	}
	kept := r.order[:0]
	for _, name := range r.order {
		if !removed[name] {
			kept = append(kept, name)
		}
	}
	r.order = kept
}

// ProviderTools lists every registered tool in registration order, in the
// shape providers consume.
func (r *Runtime) ProviderTools() []provider.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]provider.ToolDef, 0, len(r.order))
	for _, name := range r.order {
		rec := r.tools[name]
		out = append(out, provider.ToolDef{
			Name:        rec.def.Name,
			Description: rec.def.Description,
			Parameters:  rec.def.Parameters,
		})
	}
	return out
}

// Execute runs one tool call through the full pipeline. Failures of any
// kind come back as the result string, never as an error: the agent loop
// must keep going regardless of what a tool did.
func (r *Runtime) Execute(ctx context.Context, call Call) string {
	start := time.Now()

	if r.tracer != nil {
		var span func()
		ctx, span = r.traceSpan(ctx, call.Name)
		defer span()
	}

	r.mu.RLock()
	rec, known := r.tools[call.Name]
	r.mu.RUnlock()

	args := normalizeArguments(call.Arguments)

	if !known {
		err := fmt.Errorf("tool %q is not available", call.Name)
		r.observer.toolError(call.Name, err)
		r.countExecution(call.Name, "unknown", start)
		return err.Error()
	}

	args = coerceArguments(rec.def.Parameters, args)

	cacheable := rec.def.Cacheable || cacheableBuiltins[call.Name]
	ttl := r.config.CacheTTL
	if rec.def.CacheTTL > 0 {
		ttl = rec.def.CacheTTL
	}
	cacheable = cacheable && ttl > 0

	var key string
	if cacheable {
		key = cacheKey(call.Name, args)
		if cached, ok := r.cache.Get(key); ok {
			r.observer.cacheHit(call.Name)
			r.observer.toolResult(call.Name, cached)
			r.history.append(HistoryEntry{
				ToolName:  call.Name,
				Arguments: args,
				Timestamp: time.Now(),
				Success:   true,
				HasOutput: cached != "",
			})
			r.log.Debug(ctx, "tool cache hit", "tool", call.Name)
			r.countCache("hit")
			r.countExecution(call.Name, "cache_hit", start)
			return cached
		}
		r.countCache("miss")
	}

	r.observer.toolStart(call.Name, args)

	if err := r.validate(rec.def, args); err != nil {
		return r.fail(ctx, call.Name, args, err, start)
	}

	warnings := r.preflight(call.Name, args)

	output, err := r.invoke(ctx, rec.def, args)
	if err != nil {
		return r.fail(ctx, call.Name, args, err, start)
	}

	output = r.truncate(ctx, call.Name, output)

	if command, ok := stringArg(args, "command"); ok && isDiffCommand(command) {
		r.history.addSnapshot(command, output)
	}

	if cacheable {
		r.cache.SetWithTTL(key, output, ttl)
	}

	if !r.config.DisableHints {
		output = appendHints(output, warnings)
	}

	r.observer.toolResult(call.Name, output)
	r.history.append(HistoryEntry{
		ToolName:  call.Name,
		Arguments: args,
		Timestamp: time.Now(),
		Success:   true,
		HasOutput: output != "",
	})
	r.countExecution(call.Name, "ok", start)
	return output
}

// validate enforces the tool's parameter schema. Coercion already ran, so
// this is the strict check for requireds, enums, and ranges.
func (r *Runtime) validate(def Definition, args map[string]any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("arguments are not serializable: %w", err)
	}
	return schema.Validate(def.Name, def.Parameters, raw)
}

// preflight runs both warning passes and forwards findings to the observer.
// Warnings never block execution.
func (r *Runtime) preflight(name string, args map[string]any) []Warning {
	warnings := validatePreconditions(name, args)
	warnings = append(warnings, validateFlowPatterns(name, args, r.history.list())...)
	for _, w := range warnings {
		r.observer.toolWarning(w)
	}
	return warnings
}

// invoke runs the handler inside a fresh execution scope, converting panics
// into ordinary errors.
func (r *Runtime) invoke(ctx context.Context, def Definition, args map[string]any) (output string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	scope := &execScope{name: def.Name, args: args, observer: r.observer}
	result, err := def.Handler(withScope(ctx, scope), args)
	if err != nil {
		return "", err
	}
	return normalizeResult(result)
}

func (r *Runtime) truncate(ctx context.Context, name, output string) string {
	res := r.truncator.TruncateToolOutput(output, name)
	if res.WasTruncated {
		r.log.Info(ctx, "tool output truncated",
			"tool", name,
			"original_bytes", res.OriginalLength,
			"truncated_bytes", res.TruncatedLength)
	}
	return res.Content
}

// fail converts an execution failure into the result string and records it.
func (r *Runtime) fail(ctx context.Context, name string, args map[string]any, err error, start time.Time) string {
	var verr *schema.ValidationError
	msg := fmt.Sprintf("Failed to run %q: %s", name, err.Error())
	if errors.As(err, &verr) {
		msg = verr.Error()
	}

	r.observer.toolError(name, err)
	r.history.append(HistoryEntry{
		ToolName:  name,
		Arguments: args,
		Timestamp: time.Now(),
		Error:     err.Error(),
	})
	r.log.Warn(ctx, "tool execution failed", "tool", name, "error", err)
	r.countExecution(name, "error", start)
	return msg
}

// ClearCache drops every cached tool result.
func (r *Runtime) ClearCache() {
	r.cache.Clear()
}

// CacheStats reports entry count and aggregate byte size of cached results.
func (r *Runtime) CacheStats() cache.Stats {
	return r.cache.Stats()
}

// ToolHistory returns the bounded call history, oldest first.
func (r *Runtime) ToolHistory() []HistoryEntry {
	return r.history.list()
}

// ClearToolHistory empties the call history.
func (r *Runtime) ClearToolHistory() {
	r.history.clear()
}

// DiffSnapshots returns the retained diff command outputs, oldest first.
func (r *Runtime) DiffSnapshots() []DiffSnapshot {
	return r.history.listSnapshots()
}

// ClearDiffSnapshots empties the diff snapshot buffer.
func (r *Runtime) ClearDiffSnapshots() {
	r.history.clearSnapshots()
}

func (r *Runtime) countExecution(name, status string, start time.Time) {
	if r.metrics == nil {
		return
	}
	r.metrics.ToolExecutions.WithLabelValues(name, status).Inc()
	r.metrics.ToolDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
}

func (r *Runtime) countCache(outcome string) {
	if r.metrics != nil {
		r.metrics.CacheHits.WithLabelValues(outcome).Inc()
	}
}

func (r *Runtime) traceSpan(ctx context.Context, name string) (context.Context, func()) {
	ctx, span := r.tracer.Start(ctx, "tool.execute", attribute.String("tool.name", name))
	return ctx, func() { span.End() }
}

// normalizeArguments accepts a map, JSON bytes, or a JSON string and always
// produces a usable map. Unparsable input degrades to empty arguments.
func normalizeArguments(raw any) map[string]any {
	switch v := raw.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		if v == nil {
			return map[string]any{}
		}
		return v
	case json.RawMessage:
		return parseArguments([]byte(v))
	case []byte:
		return parseArguments(v)
	case string:
		return parseArguments([]byte(v))
	default:
		// A typed struct: round-trip through JSON.
		data, err := json.Marshal(v)
		if err != nil {
			return map[string]any{}
		}
		return parseArguments(data)
	}
}

func parseArguments(data []byte) map[string]any {
	if len(data) == 0 {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal(data, &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

// coerceArguments applies schema-driven type coercion, keeping the original
// arguments when coercion cannot help.
func coerceArguments(paramSchema json.RawMessage, args map[string]any) map[string]any {
	if len(paramSchema) == 0 || len(args) == 0 {
		return args
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return args
	}
	return parseArguments(schema.Coerce(paramSchema, raw))
}

// cacheKey deterministically serializes (tool, arguments). Map keys sort on
// marshal, so equal argument maps produce equal keys.
func cacheKey(name string, args map[string]any) string {
	raw, err := json.Marshal(args)
	if err != nil {
		keys := make([]string, 0, len(args))
		for k := range args {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return name + ":" + strings.Join(keys, ",")
	}
	return name + ":" + string(raw)
}

// normalizeResult turns any handler result into the string fed back to the
// model.
func normalizeResult(result any) (string, error) {
	switch v := result.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("result is not serializable: %w", err)
		}
		return string(data), nil
	}
}

// appendHints suffixes hint text for warnings that carry one, deduplicated
// by warning code within a single call.
func appendHints(output string, warnings []Warning) string {
	seen := make(map[string]bool)
	var hints []string
	for _, w := range warnings {
		if w.Hint == "" || seen[w.Code] {
			continue
		}
		seen[w.Code] = true
		hints = append(hints, "Hint: "+w.Hint)
	}
	if len(hints) == 0 {
		return output
	}
	return output + "\n\n" + strings.Join(hints, "\n")
}
