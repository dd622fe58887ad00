package pgx

import (
	"context"
	"strings"

	"github.com/OFFIS-RIT/govdoc/backend/pkg/common"

	pgxv5 "github.com/jackc/pgx/v5"
)

const entityColumns = `id, name, entity_type, weight, source_doc_id`

// FindEntitiesByKeywords returns entities whose name contains any of the
// keywords, ignoring case. Heavier entities come first.
func (s *GraphDBStorage) FindEntitiesByKeywords(
	ctx context.Context,
	keywords []string,
	limit int,
) ([]common.GraphEntity, error) {
	if len(keywords) == 0 || limit <= 0 {
		return nil, nil
	}

	patterns := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		patterns = append(patterns, "%"+escapeLike(kw)+"%")
	}

	rows, err := s.conn.Query(ctx, `
		SELECT `+entityColumns+`
		FROM graph_entities
		WHERE name ILIKE ANY($1::text[])
		ORDER BY weight DESC, id
		LIMIT $2
	`, patterns, limit)
	if err != nil {
		return nil, err
	}

	return collectEntities(rows)
}

// GetEntitiesByIDs loads the given entities. Unknown ids are ignored.
func (s *GraphDBStorage) GetEntitiesByIDs(ctx context.Context, ids []int64) ([]common.GraphEntity, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.conn.Query(ctx, `
		SELECT `+entityColumns+`
		FROM graph_entities
		WHERE id = ANY($1::bigint[])
	`, ids)
	if err != nil {
		return nil, err
	}

	return collectEntities(rows)
}

func collectEntities(rows pgxv5.Rows) ([]common.GraphEntity, error) {
	return pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (common.GraphEntity, error) {
		var e common.GraphEntity
		err := row.Scan(&e.ID, &e.Name, &e.EntityType, &e.Weight, &e.SourceDocID)
		return e, err
	})
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
