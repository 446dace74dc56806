//go:build !sqlite_cgo

package database

import (
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// SQLiteDriverName is the database/sql driver used for sqlite
const SQLiteDriverName = "sqlite"

func init() {
	sqlx.BindDriver(SQLiteDriverName, sqlx.QUESTION)
}
