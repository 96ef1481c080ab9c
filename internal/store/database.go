package store

import (
	"database/sql"
	"log"
	"runtime"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// InitDatabase opens a connection pool. SQLite gets a single writer
// connection and a wider pool of readers.
func InitDatabase(driver, dsn string, readonly bool) *sql.DB {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		log.Fatalf("fatal error opening %s database: %+v", driver, err)
	}
	if err := db.Ping(); err != nil {
		log.Fatalf("fatal error connecting to %s database: %+v", driver, err)
	}

	if driver != DriverSQLite {
		return db
	}
	if readonly {
		db.SetMaxOpenConns(max(4, runtime.NumCPU()))
	} else {
		if _, err := db.Exec("PRAGMA temp_store=memory"); err != nil {
			log.Fatal(err)
		}
		db.SetMaxOpenConns(1)
	}
	return db
}
