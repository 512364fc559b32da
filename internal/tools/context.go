package tools

import "context"

// execScope is the per-call execution scope bound to the handler's context.
// It exists so deeply nested handler code can report progress without the
// runtime threading an observer through every call. Lifetime is one handler
// invocation; it never crosses concurrent calls because each Execute binds
// a fresh scope onto its own context.
type execScope struct {
	name     string
	args     map[string]any
	observer *Observer
}

type scopeKey struct{}

func withScope(ctx context.Context, scope *execScope) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

func scopeFrom(ctx context.Context) *execScope {
	scope, _ := ctx.Value(scopeKey{}).(*execScope)
	return scope
}

// ReportProgress emits a progress update for the tool call bound to ctx.
// Outside a tool execution, or when no observer is attached, it is a no-op.
func ReportProgress(ctx context.Context, current, total int, message string) {
	scope := scopeFrom(ctx)
	if scope == nil || scope.observer == nil || scope.observer.OnToolProgress == nil {
		return
	}
	scope.observer.OnToolProgress(current, total, message)
}

// CurrentCall returns the name and arguments of the tool call bound to ctx,
// or "" and nil outside a tool execution.
func CurrentCall(ctx context.Context) (string, map[string]any) {
	scope := scopeFrom(ctx)
	if scope == nil {
		return "", nil
	}
	return scope.name, scope.args
}
