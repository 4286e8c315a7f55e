// Package upgrade gates a managed-mode gateway on schema compatibility
// and runs Go data hooks that SQL migrations cannot express.
package upgrade

import (
	"database/sql"
	"fmt"
)

// RequiredSchemaVersion is the Postgres migration version this binary is
// built against. Bump it together with a new file pair in migrations/.
const RequiredSchemaVersion uint = 1

// SchemaStatus compares the database's golang-migrate bookkeeping against
// RequiredSchemaVersion.
type SchemaStatus struct {
	CurrentVersion  uint
	RequiredVersion uint
	Dirty           bool
	Compatible      bool
	NeedsMigration  bool
}

// CheckSchema reads the schema_migrations table golang-migrate maintains.
// The connection is assumed live (pg.OpenDB pings), so a failed read means
// the table does not exist yet: a fresh database awaiting its first
// migration.
func CheckSchema(db *sql.DB) *SchemaStatus {
	s := &SchemaStatus{RequiredVersion: RequiredSchemaVersion}

	var version uint
	var dirty bool
	if err := db.QueryRow(`SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&version, &dirty); err != nil {
		s.NeedsMigration = true
		return s
	}

	s.CurrentVersion = version
	s.Dirty = dirty
	switch {
	case dirty:
	case version == RequiredSchemaVersion:
		s.Compatible = true
	case version < RequiredSchemaVersion:
		s.NeedsMigration = true
	}
	return s
}

// FormatError renders a status the operator can act on directly.
func FormatError(s *SchemaStatus) string {
	switch {
	case s.Dirty:
		return fmt.Sprintf(
			"Database schema is in a dirty state (version %d).\n"+
				"A migration failed partway through.\n\n"+
				"  Fix:  golaw migrate force %d\n"+
				"  Then: golaw migrate up\n",
			s.CurrentVersion, s.CurrentVersion-1,
		)
	case s.CurrentVersion > s.RequiredVersion:
		return fmt.Sprintf(
			"Database schema (v%d) is newer than this binary (requires v%d).\n\n"+
				"  Fix: upgrade your golaw binary to the latest version.\n",
			s.CurrentVersion, s.RequiredVersion,
		)
	default:
		return fmt.Sprintf(
			"Database schema is outdated: current v%d, required v%d.\n\n"+
				"  Run:  golaw migrate up\n\n"+
				"  Docker/CI: set GOLAW_AUTO_UPGRADE=true to migrate automatically on startup.\n",
			s.CurrentVersion, s.RequiredVersion,
		)
	}
}
