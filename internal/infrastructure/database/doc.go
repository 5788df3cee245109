// Package database provides SQLite connectivity for the garden core.
//
// The store holds the seen-device table and the provisioning run history.
// Schema changes live as .up.sql/.down.sql pairs in the migrations package
// and are applied with Migrate at startup.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
package database
