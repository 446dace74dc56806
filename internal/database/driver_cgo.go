//go:build sqlite_cgo

package database

import (
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // cgo SQLite driver
)

// SQLiteDriverName is the database/sql driver used for sqlite
const SQLiteDriverName = "sqlite3"

func init() {
	sqlx.BindDriver(SQLiteDriverName, sqlx.QUESTION)
}
