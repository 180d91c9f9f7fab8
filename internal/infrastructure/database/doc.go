// Package database provides the SQLite connection used for launchdeck's
// instance history.
//
// Open creates the file and its directory on first use, enables WAL mode
// when configured and limits the pool to a single connection, since SQLite
// serialises writers anyway.
//
// Schema changes are versioned SQL files applied by Migrate from any
// fs.FS; the migrations package embeds the production set:
//
//	db, err := database.Open(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive. Each has an .up.sql and, where reversible, a
// .down.sql.
package database
