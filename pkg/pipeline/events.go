package pipeline

import (
	"bytes"
	"encoding/json"

	"github.com/OFFIS-RIT/govdoc/backend/pkg/common"
)

// Event kinds pushed to the caller.
const (
	EventWarning        = "warning"
	EventReasoningStep  = "reasoning_step"
	EventKnowledgeGraph = "knowledge_graph"
	EventCitations      = "citations"
	EventTextChunk      = "text_chunk"
	EventMessageStart   = "message_start"
	EventMessageReplace = "message_replace"
	EventMessageEnd     = "message_end"
	EventError          = "error"
)

// Event is one item of the outbound stream. The concrete types below are the
// only implementations.
type Event interface {
	EventType() string
}

// WarningEvent reports warn level sensitive keywords. It never aborts.
type WarningEvent struct {
	Keywords []string `json:"keywords"`
}

// ReasoningStepEvent reports the outcome of one stage. Stage counters are
// serialized inline next to the fixed fields.
type ReasoningStepEvent struct {
	Step common.ReasoningStep
}

// KnowledgeGraphEvent carries the triples found by the graph query.
type KnowledgeGraphEvent struct {
	Triples []common.GraphTriple `json:"triples"`
}

// CitationsEvent carries the aggregated citations in qa, kb, graph order.
type CitationsEvent struct {
	Citations []common.Citation `json:"citations"`
}

// TextChunkEvent carries the next piece of answer text.
type TextChunkEvent struct {
	Text string `json:"text"`
}

// MessageStartEvent announces the message id and the conversation handle.
type MessageStartEvent struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

// MessageReplaceEvent replaces all answer text sent so far.
type MessageReplaceEvent struct {
	Text string `json:"text"`
}

// MessageEndEvent terminates a completed run.
type MessageEndEvent struct {
	MessageID      string  `json:"message_id"`
	ConversationID string  `json:"conversation_id"`
	TotalElapsed   float64 `json:"total_elapsed"`
}

// ErrorEvent reports an error inline. Code is set for machine readable
// errors such as a blocked request.
type ErrorEvent struct {
	Message  string   `json:"message"`
	Code     string   `json:"code,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

func (WarningEvent) EventType() string        { return EventWarning }
func (ReasoningStepEvent) EventType() string  { return EventReasoningStep }
func (KnowledgeGraphEvent) EventType() string { return EventKnowledgeGraph }
func (CitationsEvent) EventType() string      { return EventCitations }
func (TextChunkEvent) EventType() string      { return EventTextChunk }
func (MessageStartEvent) EventType() string   { return EventMessageStart }
func (MessageReplaceEvent) EventType() string { return EventMessageReplace }
func (MessageEndEvent) EventType() string     { return EventMessageEnd }
func (ErrorEvent) EventType() string          { return EventError }

// MarshalJSON flattens the counters into the step object. Counters never
// overwrite the fixed fields.
func (e ReasoningStepEvent) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 6+len(e.Step.Counters))
	for k, v := range e.Step.Counters {
		out[k] = v
	}
	out["step"] = e.Step.Index
	out["title"] = e.Step.Title
	out["status"] = e.Step.Status
	out["detail"] = e.Step.Detail
	out["elapsed"] = e.Step.Elapsed
	return json.Marshal(out)
}

// Marshal encodes ev as a JSON object with an additional "event" member
// holding its kind, so that clients reading only the data lines can
// dispatch on it.
func Marshal(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	kind, err := json.Marshal(ev.EventType())
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(`{"event":`)
	buf.Write(kind)
	body := bytes.TrimSpace(payload)
	if len(body) > 2 {
		buf.WriteByte(',')
		buf.Write(body[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}
