package health

import (
"context"
"database/sql"
)

// DBChecker reports whether the candidate store is reachable.
type DBChecker struct {
db *sql.DB
}

// NewDBChecker creates a database health checker for the /ready probe.
func NewDBChecker(db *sql.DB) *DBChecker {
return &DBChecker{
db: db,
}
}

// HealthCheck pings the database. Candidates cannot be read or published
// without it, so a failed ping marks the whole service not ready.
func (d *DBChecker) HealthCheck(ctx context.Context) error {
return d.db.PingContext(ctx)
}
