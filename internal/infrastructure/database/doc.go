// Package database provides the SQLite connection used for the entity
// registry, entity state history and the key/value store.
//
// The database runs in WAL mode with a busy timeout, on a single connection.
// Schema changes are embedded *.sql migrations applied by Migrate.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package database
