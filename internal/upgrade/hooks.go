package upgrade

import (
	"context"
	"database/sql"
	"fmt"
)

// Hook registrations. Add a new init entry when a schema migration needs a
// Go-side data transformation.

func init() {
	// Deployments that predate the permission gate stored free-form values
	// ("always", "never", "prompt", ...). The gate only understands
	// allow/ask/deny, so fold everything else into that vocabulary.
	RegisterDataHook(1, "001_normalize_tool_permissions", normalizeToolPermissions)
}

func normalizeToolPermissions(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`UPDATE tool_permissions SET permission = 'allow' WHERE permission IN ('always', 'allowed', 'yes')`,
		`UPDATE tool_permissions SET permission = 'deny' WHERE permission IN ('never', 'denied', 'blocked', 'no')`,
		`UPDATE tool_permissions SET permission = 'ask' WHERE permission NOT IN ('allow', 'ask', 'deny')`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("normalize tool_permissions: %w", err)
		}
	}
	return nil
}
