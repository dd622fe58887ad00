package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/OFFIS-RIT/govdoc/backend/pkg/ai"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/common"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/fusion"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/graph"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/logger"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/qa"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/retrieval"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/sensitive"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Stage names, in execution order.
const (
	StageSensitiveCheck = "SensitiveCheck"
	StageQALookup       = "QALookup"
	StageKBRetrieval    = "KBRetrieval"
	StageGraphQuery     = "GraphQuery"
	StageGeneration     = "Generation"
)

// Stage statuses reported in reasoning steps.
const (
	StatusCompleted = "completed"
	StatusEmpty     = "empty"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
	StatusWarning   = "warning"
)

const (
	DefaultStageTimeout      = 15 * time.Second
	DefaultGenerationTimeout = 2 * time.Minute
	persistTimeout           = 10 * time.Second
)

// Gate classifies the query against the sensitive rules.
type Gate interface {
	Check(ctx context.Context, text string) (sensitive.Result, error)
}

// QALookup searches the curated Q/A pairs.
type QALookup interface {
	Lookup(ctx context.Context, query string) (qa.Result, error)
}

// Retriever searches the document collections.
type Retriever interface {
	Retrieve(ctx context.Context, query string, collectionIDs []string) (retrieval.Result, error)
}

// GraphQuerier searches the property graph.
type GraphQuerier interface {
	Query(ctx context.Context, query string, topK int) (graph.Result, error)
}

// TurnStore persists the final turn.
type TurnStore interface {
	SaveTurn(ctx context.Context, turn common.Turn) error
}

// Emitter pushes events to the caller. An error means the caller is gone;
// the run is canceled.
type Emitter interface {
	Emit(ev Event) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ev Event) error

func (f EmitterFunc) Emit(ev Event) error {
	return f(ev)
}

// Request is one user question.
type Request struct {
	Query          string
	CollectionIDs  []string
	ConversationID string
	UserID         int32
}

// Pipeline runs the five answer stages.
//
// A Pipeline should be created using NewPipeline.
type Pipeline struct {
	gate      Gate
	qa        QALookup
	retriever Retriever
	graph     GraphQuerier
	generator ai.Generator
	turns     TurnStore

	graphTopK            int
	defaultCollectionIDs []string
	stageTimeout         time.Duration
	generationTimeout    time.Duration

	metrics *Metrics
	tracer  trace.Tracer
}

// NewPipelineParams configures NewPipeline. Gate, QA, Retriever, Graph and
// Generator are required; Turns may be nil to disable persistence.
type NewPipelineParams struct {
	Gate      Gate
	QA        QALookup
	Retriever Retriever
	Graph     GraphQuerier
	Generator ai.Generator
	Turns     TurnStore

	GraphTopK            int
	DefaultCollectionIDs []string
	StageTimeout         time.Duration
	GenerationTimeout    time.Duration

	Metrics *Metrics
	Tracer  trace.Tracer
}

// NewPipeline creates a pipeline from the injected stages.
func NewPipeline(params NewPipelineParams) *Pipeline {
	p := &Pipeline{
		gate:                 params.Gate,
		qa:                   params.QA,
		retriever:            params.Retriever,
		graph:                params.Graph,
		generator:            params.Generator,
		turns:                params.Turns,
		graphTopK:            params.GraphTopK,
		defaultCollectionIDs: params.DefaultCollectionIDs,
		stageTimeout:         params.StageTimeout,
		generationTimeout:    params.GenerationTimeout,
		metrics:              params.Metrics,
		tracer:               params.Tracer,
	}
	if p.graphTopK <= 0 {
		p.graphTopK = graph.DefaultTopK
	}
	if p.stageTimeout <= 0 {
		p.stageTimeout = DefaultStageTimeout
	}
	if p.generationTimeout <= 0 {
		p.generationTimeout = DefaultGenerationTimeout
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer("github.com/OFFIS-RIT/govdoc/backend/pkg/pipeline")
	}
	return p
}

// run is the state of one Run call.
type run struct {
	p     *Pipeline
	req   Request
	start time.Time
	steps []common.ReasoningStep

	emitter Emitter
	cancel  context.CancelCauseFunc
}

func (r *run) emit(ev Event) error {
	if err := r.emitter.Emit(ev); err != nil {
		r.cancel(err)
		return err
	}
	return nil
}

type stage struct {
	index int
	name  string
	title string
	start time.Time
	span  trace.Span
}

func (r *run) begin(ctx context.Context, name, title string) (context.Context, *stage) {
	ctx, span := r.p.tracer.Start(ctx, "pipeline."+name)
	return ctx, &stage{
		index: len(r.steps) + 1,
		name:  name,
		title: title,
		start: time.Now(),
		span:  span,
	}
}

// finish records the stage outcome and emits its reasoning step.
func (r *run) finish(s *stage, status, detail string, counters map[string]int) error {
	elapsed := time.Since(s.start)

	s.span.SetAttributes(attribute.String("stage.status", status))
	for k, v := range counters {
		s.span.SetAttributes(attribute.Int("stage."+k, v))
	}
	if status == StatusFailed {
		s.span.SetStatus(codes.Error, detail)
	}
	s.span.End()
	r.p.metrics.observeStage(s.name, status, elapsed)

	step := common.ReasoningStep{
		Index:    s.index,
		Title:    s.title,
		Status:   status,
		Detail:   detail,
		Elapsed:  roundSeconds(elapsed),
		Counters: counters,
	}
	r.steps = append(r.steps, step)
	return r.emit(ReasoningStepEvent{Step: step})
}

// Run answers req and pushes all events to emitter.
//
// Stages run strictly in order and degrade instead of aborting. Only a block
// hit of the sensitive gate, a failing rule lookup, a gone caller or a
// canceled ctx end the run early; the returned error tells which.
func (p *Pipeline) Run(ctx context.Context, req Request, emitter Emitter) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	ctx, span := p.tracer.Start(ctx, "pipeline.Run")
	defer span.End()

	r := &run{p: p, req: req, start: time.Now(), emitter: emitter, cancel: cancel}
	err := r.execute(ctx)

	switch {
	case err == nil:
		p.metrics.run("completed")
	case IsBlocked(err):
		p.metrics.run("blocked")
	case ctx.Err() != nil:
		p.metrics.run("aborted")
		if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
			err = cause
		}
		logger.Warn("[Pipeline] Run aborted", "err", err)
	default:
		p.metrics.run("failed")
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (r *run) execute(ctx context.Context) error {
	p := r.p
	query := strings.TrimSpace(r.req.Query)

	// 1. sensitive content gate, fail closed
	sctx, s := r.begin(ctx, StageSensitiveCheck, "Sensitive content check")
	verdict, err := p.gate.Check(sctx, query)
	if err != nil {
		s.span.SetStatus(codes.Error, err.Error())
		s.span.End()
		_ = r.emit(ErrorEvent{Message: "sensitive content check unavailable"})
		return fmt.Errorf("sensitive check: %w", err)
	}
	if verdict.IsBlocked() {
		s.span.SetAttributes(attribute.String("stage.status", "blocked"))
		s.span.End()
		blocked := &BlockedContentError{Keywords: verdict.BlockedKeywords()}
		if err := r.emit(ErrorEvent{
			Message:  blocked.Error(),
			Code:     CodeBlockedContent,
			Keywords: blocked.Keywords,
		}); err != nil {
			return err
		}
		return blocked
	}
	gateStatus, gateDetail := StatusCompleted, "No sensitive content found"
	if len(verdict.Warned) > 0 {
		if err := r.emit(WarningEvent{Keywords: verdict.WarnedKeywords()}); err != nil {
			return err
		}
		gateStatus = StatusWarning
		gateDetail = "Warning keywords: " + strings.Join(verdict.WarnedKeywords(), ", ")
	}
	if err := r.finish(s, gateStatus, gateDetail, map[string]int{"warned": len(verdict.Warned)}); err != nil {
		return err
	}

	// 2. exact match answers
	qaRes, err := r.lookupQA(ctx, query)
	if err != nil {
		return err
	}

	// 3. document collections
	kbRes, err := r.retrieve(ctx, query)
	if err != nil {
		return err
	}

	// 4. property graph
	graphRes, err := r.queryGraph(ctx, query)
	if err != nil {
		return err
	}

	// 5. generation
	genReq := fusion.BuildRequest(fusion.Inputs{
		Query:          query,
		UserID:         formatUserID(r.req.UserID),
		ConversationID: r.req.ConversationID,
		CollectionIDs:  r.collectionIDs(),
		QA:             qaRes,
		KBContext:      kbRes.ContextText,
		KBTopScore:     kbRes.TopScore,
		GraphContext:   graphRes.ContextText,
	})
	outcome, err := r.generate(ctx, genReq, qaRes.Hit)
	if err != nil {
		return err
	}

	if len(graphRes.Triples) > 0 {
		if err := r.emit(KnowledgeGraphEvent{Triples: graphRes.Triples}); err != nil {
			return err
		}
	}

	citations := Citations(qaRes.Evidence, kbRes.Records, graphRes.Evidence)
	if err := r.emit(CitationsEvent{Citations: citations}); err != nil {
		return err
	}

	transcript := Transcript(r.steps)
	if err := r.emit(MessageEndEvent{
		MessageID:      outcome.MessageID,
		ConversationID: outcome.ConversationID,
		TotalElapsed:   roundSeconds(time.Since(r.start)),
	}); err != nil {
		return err
	}

	r.persist(ctx, common.Turn{
		ConversationID: outcome.ConversationID,
		MessageID:      outcome.MessageID,
		UserID:         r.req.UserID,
		Query:          query,
		Content:        outcome.Text,
		Citations:      citations,
		Reasoning:      transcript,
		Triples:        graphRes.Triples,
	})

	return nil
}

func (r *run) lookupQA(ctx context.Context, query string) (qa.Result, error) {
	sctx, s := r.begin(ctx, StageQALookup, "Standard answer lookup")
	sctx, cancel := context.WithTimeout(sctx, r.p.stageTimeout)
	defer cancel()

	res, err := r.p.qa.Lookup(sctx, query)
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	counters := map[string]int{"candidates": len(res.Candidates)}

	switch {
	case err != nil:
		logger.Warn("[Pipeline] Q/A lookup failed", "err", fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err))
		return qa.Result{}, r.finish(s, StatusFailed, "Standard answer lookup failed: "+err.Error(), counters)
	case res.IsHit:
		detail := fmt.Sprintf("Matched standard answer %q (similarity %.2f)", res.Hit.Question, res.Hit.Similarity)
		return res, r.finish(s, StatusCompleted, detail, counters)
	case len(res.Evidence) > 0:
		detail := fmt.Sprintf("No direct match, %d related question(s) used as reference", len(res.Evidence))
		return res, r.finish(s, StatusCompleted, detail, counters)
	default:
		logger.Debug("[Pipeline] Q/A lookup", "result", ErrDegradedStage)
		return res, r.finish(s, StatusEmpty, "No matching standard answer", counters)
	}
}

func (r *run) collectionIDs() []string {
	if len(r.req.CollectionIDs) > 0 {
		return r.req.CollectionIDs
	}
	return r.p.defaultCollectionIDs
}

func (r *run) retrieve(ctx context.Context, query string) (retrieval.Result, error) {
	sctx, s := r.begin(ctx, StageKBRetrieval, "Knowledge base retrieval")
	sctx, cancel := context.WithTimeout(sctx, r.p.stageTimeout)
	defer cancel()

	res, err := r.p.retriever.Retrieve(sctx, query, r.collectionIDs())
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	counters := map[string]int{
		"collections": res.Searched,
		"records":     len(res.Records),
		"failed":      len(res.Failed),
	}

	switch {
	case res.Skipped:
		return res, r.finish(s, StatusSkipped, "No document collection selected", counters)
	case err != nil:
		logger.Warn("[Pipeline] Retrieval failed", "err", fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err))
		return res, r.finish(s, StatusFailed, "All document collections failed", counters)
	case len(res.Failed) > 0:
		detail := fmt.Sprintf("Found %d passage(s), %d of %d collection(s) failed", len(res.Records), len(res.Failed), res.Searched)
		return res, r.finish(s, StatusWarning, detail, counters)
	case len(res.Records) == 0:
		logger.Debug("[Pipeline] Retrieval", "result", ErrDegradedStage)
		return res, r.finish(s, StatusEmpty, fmt.Sprintf("No relevant passages in %d collection(s)", res.Searched), counters)
	default:
		detail := fmt.Sprintf("Found %d passage(s) in %d collection(s), top score %.2f", len(res.Records), res.Searched, res.TopScore)
		return res, r.finish(s, StatusCompleted, detail, counters)
	}
}

func (r *run) queryGraph(ctx context.Context, query string) (graph.Result, error) {
	sctx, s := r.begin(ctx, StageGraphQuery, "Knowledge graph query")
	sctx, cancel := context.WithTimeout(sctx, r.p.stageTimeout)
	defer cancel()

	res, err := r.p.graph.Query(sctx, query, r.p.graphTopK)
	if ctx.Err() != nil {
		return res, ctx.Err()
	}

	if err != nil {
		logger.Warn("[Pipeline] Graph query failed", "err", fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err))
		counters := map[string]int{"keywords": len(res.Keywords), "entities": 0, "triples": 0}
		return graph.Result{}, r.finish(s, StatusFailed, "Knowledge graph query failed: "+err.Error(), counters)
	}

	counters := map[string]int{
		"keywords": len(res.Keywords),
		"entities": len(res.Entities),
		"triples":  len(res.Triples),
	}
	if len(res.Triples) == 0 {
		detail := fmt.Sprintf("No related facts (%d matching entities)", len(res.Entities))
		return res, r.finish(s, StatusEmpty, detail, counters)
	}
	detail := fmt.Sprintf("Found %d fact(s) around %d entities", len(res.Triples), len(res.Entities))
	return res, r.finish(s, StatusCompleted, detail, counters)
}

func (r *run) generate(ctx context.Context, req ai.GenerateRequest, hit *qa.Candidate) (fusion.Outcome, error) {
	gctx, s := r.begin(ctx, StageGeneration, "Answer generation")

	handle := func(ev ai.Event) error {
		switch ev.Type {
		case ai.EventMessageStart:
			return r.emit(MessageStartEvent{MessageID: ev.MessageID, ConversationID: ev.ConversationID})
		case ai.EventTextChunk:
			return r.emit(TextChunkEvent{Text: ev.Text})
		case ai.EventMessageReplace:
			return r.emit(MessageReplaceEvent{Text: ev.Text})
		case ai.EventError:
			return r.emit(ErrorEvent{Message: ev.Message})
		}
		return nil
	}

	out, err := fusion.Generate(gctx, r.p.generator, req, hit, handle, fusion.WithTimeout(r.p.generationTimeout))
	if err != nil {
		s.span.SetStatus(codes.Error, err.Error())
		s.span.End()
		return out, err
	}

	counters := map[string]int{"chunks": out.Chunks, "characters": len([]rune(out.Text))}
	switch {
	case out.Err != nil && out.Fallback:
		logger.Warn("[Pipeline] Generation failed, using fallback", "err", out.Err)
		detail := "Generation failed, returned the standard notice"
		if hit != nil {
			detail = "Generation failed, returned the standard answer"
		}
		return out, r.finish(s, StatusFailed, detail, counters)
	case out.Err != nil:
		logger.Warn("[Pipeline] Generation interrupted", "err", out.Err)
		return out, r.finish(s, StatusWarning, "Generation interrupted, partial answer kept", counters)
	default:
		return out, r.finish(s, StatusCompleted, fmt.Sprintf("Generated %d characters", counters["characters"]), counters)
	}
}

func (r *run) persist(ctx context.Context, turn common.Turn) {
	if r.p.turns == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := r.p.turns.SaveTurn(pctx, turn); err != nil {
		r.p.metrics.persistFailed()
		logger.Error("[Pipeline] Failed to persist turn",
			"err", fmt.Errorf("%w: %w", ErrPersistence, err),
			"conversation_id", turn.ConversationID,
			"message_id", turn.MessageID,
		)
	}
}

// Citations aggregates evidence in the fixed qa, kb, graph order.
func Citations(qaEvidence, kbEvidence, graphEvidence []common.EvidenceRecord) []common.Citation {
	out := make([]common.Citation, 0, len(qaEvidence)+len(kbEvidence)+len(graphEvidence))
	for _, group := range [][]common.EvidenceRecord{qaEvidence, kbEvidence, graphEvidence} {
		for _, rec := range group {
			out = append(out, rec.ToCitation())
		}
	}
	return out
}

// Transcript concatenates the stage details into one line per stage.
func Transcript(steps []common.ReasoningStep) string {
	lines := make([]string, 0, len(steps))
	for _, s := range steps {
		lines = append(lines, fmt.Sprintf("[%d] %s (%s, %.2fs): %s", s.Index, s.Title, s.Status, s.Elapsed, s.Detail))
	}
	return strings.Join(lines, "\n")
}

func roundSeconds(d time.Duration) float64 {
	return float64(d.Milliseconds()) / 1000
}

func formatUserID(id int32) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(int64(id), 10)
}
