// Package tools hosts the built-in advisory tools and the registry the
// agent executes them through. Every invocation passes the permission gate
// first; tools themselves only validate arguments and do the work.
package tools

import "context"

// Tool is one callable unit. Parameters returns a JSON-schema-shaped map
// for hosts that render tool catalogs.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// stringArg reads a string argument, reporting whether it was present and
// well-typed.
func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// stringArgOr reads a string argument with a default.
func stringArgOr(args map[string]any, key, def string) string {
	if s, ok := stringArg(args, key); ok && s != "" {
		return s
	}
	return def
}

// intArg reads a numeric argument that may arrive as a Go int (internal
// callers) or float64 (JSON-decoded requests).
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}
