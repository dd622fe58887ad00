package common

// Evidence source types. They double as the citation type tag.
const (
	SourceQA    = "qa"
	SourceKB    = "kb"
	SourceGraph = "graph"
)

// EvidenceRecord is a scored, provenance-tagged snippet gathered for one
// request. Records are produced by a single pipeline stage and copied verbatim
// into the persisted citation list.
type EvidenceRecord struct {
	Content        string  `json:"content"`
	SourceType     string  `json:"source_type"`
	DocumentName   string  `json:"document_name,omitempty"`
	Score          float64 `json:"score"`
	SegmentID      string  `json:"segment_id,omitempty"`
	Position       int     `json:"position,omitempty"`
	CollectionID   string  `json:"collection_id,omitempty"`
	CollectionName string  `json:"collection_name,omitempty"`
}

// Citation is the wire form of an evidence record. Type is one of qa, kb or
// graph; the remaining fields are filled depending on the type.
type Citation struct {
	Type           string  `json:"type"`
	DocumentName   string  `json:"document_name,omitempty"`
	CollectionID   string  `json:"collection_id,omitempty"`
	CollectionName string  `json:"collection_name,omitempty"`
	SegmentID      string  `json:"segment_id,omitempty"`
	Position       int     `json:"position,omitempty"`
	Score          float64 `json:"score"`
	Quote          string  `json:"quote"`
	Question       string  `json:"question,omitempty"`
}

// QuoteLimit is the maximum number of runes quoted in a kb citation.
const QuoteLimit = 500

// ToCitation converts an evidence record into its citation. Quotes of kb
// records are truncated to QuoteLimit runes; a qa record carries its matched
// question.
func (r EvidenceRecord) ToCitation() Citation {
	c := Citation{
		Type:           r.SourceType,
		DocumentName:   r.DocumentName,
		CollectionID:   r.CollectionID,
		CollectionName: r.CollectionName,
		SegmentID:      r.SegmentID,
		Position:       r.Position,
		Score:          r.Score,
		Quote:          r.Content,
	}
	switch r.SourceType {
	case SourceKB:
		c.Quote = TruncateRunes(r.Content, QuoteLimit)
	case SourceQA:
		c.Question = r.DocumentName
		c.DocumentName = ""
	}
	return c
}

// TruncateRunes shortens s to at most n runes.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// ReasoningStep describes the outcome of one pipeline stage.
type ReasoningStep struct {
	Index    int            `json:"step"`
	Title    string         `json:"title"`
	Status   string         `json:"status"`
	Detail   string         `json:"detail"`
	Elapsed  float64        `json:"elapsed"`
	Counters map[string]int `json:"-"`
}

// EntityBaselineWeight is the weight of an entity before its first sighting.
const EntityBaselineWeight = 10

// GraphEntity is a node of the property graph. Identity is (Name, EntityType);
// Weight counts sightings on top of a baseline of 10.
type GraphEntity struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	EntityType  string `json:"entity_type"`
	Weight      int    `json:"weight"`
	SourceDocID string `json:"source_doc_id"`
}

// GraphRelationship is a directed edge. Relationships are never deduplicated,
// repeated rows are an implicit frequency signal.
type GraphRelationship struct {
	ID             int64  `json:"id"`
	SourceEntityID int64  `json:"source_entity_id"`
	TargetEntityID int64  `json:"target_entity_id"`
	RelationType   string `json:"relation_type"`
	SourceDocID    string `json:"source_doc_id"`
}

// ExtractedTriple is a (source, relation, target) fact produced by the
// extraction service and consumed by ingestion.
type ExtractedTriple struct {
	SourceName    string `json:"source_name" jsonschema_description:"Name of the source entity"`
	SourceType    string `json:"source_type" jsonschema_description:"Type of the source entity"`
	TargetName    string `json:"target_name" jsonschema_description:"Name of the target entity"`
	TargetType    string `json:"target_type" jsonschema_description:"Type of the target entity"`
	RelationLabel string `json:"relation_label" jsonschema_description:"Label of the relation from source to target"`
}

// IngestMessage is the queue payload that carries one extraction batch.
type IngestMessage struct {
	SourceDocID string            `json:"source_doc_id" jsonschema_description:"Identifier of the document the triples were extracted from"`
	Triples     []ExtractedTriple `json:"triples"`
}

// GraphTriple is a materialized relationship with both endpoints resolved.
type GraphTriple struct {
	Source     string `json:"source"`
	SourceType string `json:"source_type"`
	SourceID   int64  `json:"source_id"`
	Target     string `json:"target"`
	TargetType string `json:"target_type"`
	TargetID   int64  `json:"target_id"`
	Relation   string `json:"relation"`
}

// Turn is the assistant answer written to the conversation store.
type Turn struct {
	ConversationID string        `json:"conversation_id"`
	MessageID      string        `json:"message_id"`
	UserID         int32         `json:"user_id"`
	Query          string        `json:"query"`
	Content        string        `json:"content"`
	Citations      []Citation    `json:"citations"`
	Reasoning      string        `json:"reasoning"`
	Triples        []GraphTriple `json:"triples"`
}
