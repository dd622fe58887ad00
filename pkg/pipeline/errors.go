package pipeline

import (
	"errors"
	"strings"
)

// CodeBlockedContent is the error event code of a blocked request.
const CodeBlockedContent = "blocked_content"

var (
	// ErrUpstreamUnavailable marks a failed call to the retrieval service, the
	// generation backend or a store. The stage degrades, the run continues.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrDegradedStage marks a stage that ran but produced nothing.
	ErrDegradedStage = errors.New("stage returned no results")
	// ErrPersistence marks a failed write of the final turn. It is logged
	// and never reaches the caller.
	ErrPersistence = errors.New("persist turn")
)

// BlockedContentError aborts a run before any retrieval happens.
type BlockedContentError struct {
	Keywords []string
}

func (e *BlockedContentError) Error() string {
	return "content blocked by sensitive keywords: " + strings.Join(e.Keywords, ", ")
}

// IsBlocked reports whether err is a BlockedContentError.
func IsBlocked(err error) bool {
	var blocked *BlockedContentError
	return errors.As(err, &blocked)
}
