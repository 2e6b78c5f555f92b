// Package database provides the SQLite connection and schema migrations.
//
// The gateway stores little: the notification callback subscription must
// survive a restart, everything else is rebuilt from device registrations.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
