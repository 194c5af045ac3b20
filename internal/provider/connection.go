package provider

import (
	"context"

	"github.com/roach88/relq/internal/querysql"
)

// Connection is the storage collaborator. Implementations own
// connection lifetime, transactions and retries.
type Connection interface {
	Query(ctx context.Context, cmd *querysql.Command) (Rows, error)
	Exec(ctx context.Context, cmd *querysql.Command) (Result, error)
}

// Rows is a forward-only result cursor. *sql.Rows implements it.
type Rows interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Result summarizes an executed write. sql.Result implements it.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}
