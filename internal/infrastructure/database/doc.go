// Package database provides SQLite connectivity for geniebridge.
//
// The local host keeps the entity state registry and the service-call audit
// trail here. Connections run in WAL mode with a busy timeout, and the pool
// is pinned to one connection because SQLite has a single writer.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: "./data/geniebridge.db", WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
