package pgx

import (
	"context"
	"strings"
	"testing"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// recordingTx records Exec statements. Methods it does not override panic
// through the nil embedded Tx.
type recordingTx struct {
	pgxv5.Tx
	stmts     []string
	tags      []string
	committed bool
}

func (tx *recordingTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tag := "UPDATE 0"
	if i := len(tx.stmts); i < len(tx.tags) {
		tag = tx.tags[i]
	}
	tx.stmts = append(tx.stmts, sql)
	return pgconn.NewCommandTag(tag), nil
}

func (tx *recordingTx) Commit(ctx context.Context) error {
	tx.committed = true
	return nil
}

func (tx *recordingTx) Rollback(ctx context.Context) error { return nil }

type txConn struct {
	pgxIConn
	tx *recordingTx
}

func (c txConn) Begin(ctx context.Context) (pgxv5.Tx, error) { return c.tx, nil }

func TestDeleteBySourceDoc_KeepsSharedEntities(t *testing.T) {
	tx := &recordingTx{tags: []string{"DELETE 1", "DELETE 1", "UPDATE 1"}}
	s := NewGraphDBStorageWithConnection(txConn{tx: tx})

	entities, relationships, err := s.DeleteBySourceDoc(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("DeleteBySourceDoc() error = %v", err)
	}
	if entities != 1 || relationships != 1 {
		t.Fatalf("counts = %d entities, %d relationships", entities, relationships)
	}
	if !tx.committed || len(tx.stmts) != 3 {
		t.Fatalf("committed=%v statements=%d", tx.committed, len(tx.stmts))
	}
	if !strings.Contains(tx.stmts[0], "DELETE FROM graph_relationships") {
		t.Fatalf("relationships must go first: %s", tx.stmts[0])
	}
	if !strings.Contains(tx.stmts[1], "NOT EXISTS") {
		t.Fatalf("entity delete must skip referenced entities: %s", tx.stmts[1])
	}
	if !strings.Contains(tx.stmts[2], "UPDATE graph_entities") {
		t.Fatalf("shared entities must be retagged: %s", tx.stmts[2])
	}
}
