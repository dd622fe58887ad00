package pgx

import (
	"context"
	"errors"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// GraphDBStorage implements store.GraphStorage on PostgreSQL. The same
// connection also backs the Q/A pairs, the sensitive content rules and the
// conversation turns, which all live in the relational database.
type GraphDBStorage struct {
	conn pgxIConn
}

// NewGraphDBStorageWithConnection creates a new GraphDBStorage using an existing
// connection or pool.
func NewGraphDBStorageWithConnection(conn pgxIConn) *GraphDBStorage {
	return &GraphDBStorage{
		conn: conn,
	}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return false
}
