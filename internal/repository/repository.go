package repository

import "database/sql"

// dbtx is the subset of database/sql shared by *sql.DB and *sql.Tx. Every
// repository method takes an optional transaction; a nil tx runs against the
// pool directly.
type dbtx interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

func conn(db *sql.DB, tx *sql.Tx) dbtx {
	if tx != nil {
		return tx
	}
	return db
}
