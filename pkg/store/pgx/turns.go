package pgx

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/OFFIS-RIT/govdoc/backend/pkg/common"

	"github.com/jackc/pgx/v5/pgtype"
)

// SaveTurn writes the user question and the assistant answer of one pipeline
// run in a single transaction.
func (s *GraphDBStorage) SaveTurn(ctx context.Context, turn common.Turn) error {
	citations, err := json.Marshal(nonNil(turn.Citations))
	if err != nil {
		return err
	}
	triples, err := json.Marshal(nonNil(turn.Triples))
	if err != nil {
		return err
	}

	reasoning := pgtype.Text{}
	if strings.TrimSpace(turn.Reasoning) != "" {
		reasoning = pgtype.Text{String: sanitizeText(turn.Reasoning), Valid: true}
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO chat_turns (conversation_id, message_id, user_id, role, content)
		VALUES ($1, $2, $3, 'user', $4)
	`, turn.ConversationID, turn.MessageID, turn.UserID, sanitizeText(turn.Query))
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO chat_turns (conversation_id, message_id, user_id, role, content, citations, reasoning, triples)
		VALUES ($1, $2, $3, 'assistant', $4, $5, $6, $7)
	`, turn.ConversationID, turn.MessageID, turn.UserID, sanitizeText(turn.Content), citations, reasoning, triples)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
