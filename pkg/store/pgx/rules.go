package pgx

import (
	"context"

	"github.com/OFFIS-RIT/govdoc/backend/pkg/sensitive"

	pgxv5 "github.com/jackc/pgx/v5"
)

// ActiveRules returns the enabled sensitive content rules.
func (s *GraphDBStorage) ActiveRules(ctx context.Context) ([]sensitive.Rule, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT keyword, action, level
		FROM sensitive_rules
		WHERE active
		ORDER BY level DESC, id
	`)
	if err != nil {
		return nil, err
	}

	return pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (sensitive.Rule, error) {
		var r sensitive.Rule
		err := row.Scan(&r.Keyword, &r.Action, &r.Level)
		return r, err
	})
}
