package ingest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"testing"

	"github.com/OFFIS-RIT/govdoc/backend/pkg/common"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/govdoc/backend/pkg/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// memStorage is an in-memory store.GraphStorage with transactional batches.
type memStorage struct {
	mu       sync.Mutex
	entities []common.GraphEntity
	rels     []common.GraphRelationship
	nextID   int64

	conflictRelation string
	failEntity       string
}

type memTx struct {
	s        *memStorage
	entities []common.GraphEntity
	rels     []common.GraphRelationship
	nextID   int64
}

func (s *memStorage) BeginIngest(ctx context.Context) (store.IngestTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &memTx{s: s, entities: slices.Clone(s.entities), rels: slices.Clone(s.rels), nextID: s.nextID}, nil
}

func (t *memTx) UpsertEntity(ctx context.Context, name, entityType, doc string) (common.GraphEntity, error) {
	if name == t.s.failEntity {
		return common.GraphEntity{}, errors.New("storage unavailable")
	}
	for i := range t.entities {
		if t.entities[i].Name == name && t.entities[i].EntityType == entityType {
			t.entities[i].Weight++
			return t.entities[i], nil
		}
	}
	t.nextID++
	e := common.GraphEntity{ID: t.nextID, Name: name, EntityType: entityType, Weight: common.EntityBaselineWeight + 1, SourceDocID: doc}
	t.entities = append(t.entities, e)
	return e, nil
}

func (t *memTx) IncrementEntityWeight(ctx context.Context, id int64) error {
	for i := range t.entities {
		if t.entities[i].ID == id {
			t.entities[i].Weight++
			return nil
		}
	}
	return fmt.Errorf("entity %d not found", id)
}

func (t *memTx) InsertRelationship(ctx context.Context, rel common.GraphRelationship) (int64, error) {
	if rel.RelationType == t.s.conflictRelation {
		return 0, fmt.Errorf("%w: duplicate key", store.ErrConflict)
	}
	t.nextID++
	rel.ID = t.nextID
	t.rels = append(t.rels, rel)
	return rel.ID, nil
}

func (t *memTx) Commit(ctx context.Context) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.entities, t.s.rels, t.s.nextID = t.entities, t.rels, t.nextID
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error { return nil }

func (s *memStorage) FindEntitiesByKeywords(ctx context.Context, kw []string, limit int) ([]common.GraphEntity, error) {
	return nil, nil
}

func (s *memStorage) GetEntitiesByIDs(ctx context.Context, ids []int64) ([]common.GraphEntity, error) {
	return nil, nil
}

func (s *memStorage) GetRelationshipsForEntities(ctx context.Context, ids []int64) ([]common.GraphRelationship, error) {
	return nil, nil
}

func (s *memStorage) DeleteBySourceDoc(ctx context.Context, doc string) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ents, rels int64
	s.rels = slices.DeleteFunc(s.rels, func(r common.GraphRelationship) bool {
		if r.SourceDocID == doc {
			rels++
			return true
		}
		return false
	})
	// Tagged entities still referenced by another document move to it.
	owner := map[int64]string{}
	for _, r := range s.rels {
		for _, id := range []int64{r.SourceEntityID, r.TargetEntityID} {
			if cur, ok := owner[id]; !ok || r.SourceDocID < cur {
				owner[id] = r.SourceDocID
			}
		}
	}
	s.entities = slices.DeleteFunc(s.entities, func(e common.GraphEntity) bool {
		if e.SourceDocID != doc {
			return false
		}
		if _, ok := owner[e.ID]; ok {
			return false
		}
		ents++
		return true
	})
	for i, e := range s.entities {
		if e.SourceDocID == doc {
			s.entities[i].SourceDocID = owner[e.ID]
		}
	}
	return ents, rels, nil
}

func (s *memStorage) GetDocumentGraph(ctx context.Context, doc string) ([]common.GraphEntity, []common.GraphRelationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rels []common.GraphRelationship
	touched := map[int64]bool{}
	for _, r := range s.rels {
		if r.SourceDocID == doc {
			rels = append(rels, r)
			touched[r.SourceEntityID], touched[r.TargetEntityID] = true, true
		}
	}
	var ents []common.GraphEntity
	for _, e := range s.entities {
		if e.SourceDocID == doc || touched[e.ID] {
			ents = append(ents, e)
		}
	}
	return ents, rels, nil
}

func (s *memStorage) ListSourceDocs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var docs []string
	for _, e := range s.entities {
		if !slices.Contains(docs, e.SourceDocID) {
			docs = append(docs, e.SourceDocID)
		}
	}
	slices.Sort(docs)
	return docs, nil
}

func (s *memStorage) entity(name, entityType string) (common.GraphEntity, bool) {
	for _, e := range s.entities {
		if e.Name == name && e.EntityType == entityType {
			return e, true
		}
	}
	return common.GraphEntity{}, false
}

// memMirror is an in-memory store.GraphMirror keyed like the real mirrors.
type memMirror struct {
	mu    sync.Mutex
	nodes map[string]common.GraphEntity
	edges map[string]memEdge
	fail  bool
}

func newMirror() *memMirror {
	return &memMirror{nodes: map[string]common.GraphEntity{}, edges: map[string]memEdge{}}
}

type memEdge struct {
	src, dst string
	doc      string
}

func nodeKey(e common.GraphEntity) string { return e.Name + "|" + e.EntityType }

func (m *memMirror) UpsertNode(ctx context.Context, e common.GraphEntity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("mirror unavailable")
	}
	m.nodes[nodeKey(e)] = e
	return nil
}

func (m *memMirror) UpsertEdge(ctx context.Context, src, dst common.GraphEntity, relation, doc string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("mirror unavailable")
	}
	m.edges[nodeKey(src)+"|"+relation+"|"+nodeKey(dst)+"|"+doc] = memEdge{src: nodeKey(src), dst: nodeKey(dst), doc: doc}
	return nil
}

func (m *memMirror) DeleteBySourceDoc(ctx context.Context, doc string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.edges {
		if e.doc == doc {
			delete(m.edges, k)
		}
	}
	owner := map[string]string{}
	for _, e := range m.edges {
		for _, key := range []string{e.src, e.dst} {
			if cur, ok := owner[key]; !ok || e.doc < cur {
				owner[key] = e.doc
			}
		}
	}
	var n int64
	for k, e := range m.nodes {
		if e.SourceDocID != doc {
			continue
		}
		if o, ok := owner[k]; ok {
			e.SourceDocID = o
			m.nodes[k] = e
			continue
		}
		delete(m.nodes, k)
		n++
	}
	return n, nil
}

func (m *memMirror) Close(ctx context.Context) error { return nil }

type recordingLocker struct {
	keys []string
}

func (l *recordingLocker) WithLease(ctx context.Context, key string, opts leaselock.Options, fn func(ctx context.Context) error) error {
	l.keys = append(l.keys, key)
	return fn(ctx)
}

func triple(src, srcType, rel, dst, dstType string) common.ExtractedTriple {
	return common.ExtractedTriple{SourceName: src, SourceType: srcType, RelationLabel: rel, TargetName: dst, TargetType: dstType}
}

func TestIngest_RepeatedTripleAcrossCalls(t *testing.T) {
	storage := &memStorage{}
	svc := NewService(NewServiceParams{Storage: storage})
	tr := []common.ExtractedTriple{triple("国务院", "机关", "发布", "通知", "文种")}

	first, err := svc.Ingest(context.Background(), "doc-1", tr)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	second, err := svc.Ingest(context.Background(), "doc-1", tr)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if first.EntitiesCreated != 2 || second.EntitiesCreated != 0 || second.EntitySightings != 2 {
		t.Fatalf("reports = %+v / %+v", first, second)
	}
	if len(storage.entities) != 2 {
		t.Fatalf("expected one row per identity, got %+v", storage.entities)
	}
	for _, e := range storage.entities {
		if e.Weight != 12 {
			t.Fatalf("entity %s weight = %d, want 12", e.Name, e.Weight)
		}
	}
	if len(storage.rels) != 2 {
		t.Fatalf("expected two relationship rows, got %d", len(storage.rels))
	}
}

func TestIngest_InCallSightings(t *testing.T) {
	storage := &memStorage{}
	svc := NewService(NewServiceParams{Storage: storage})

	report, err := svc.Ingest(context.Background(), "doc-1", []common.ExtractedTriple{
		triple("公文", "概念", "包含", "通知", "文种"),
		triple("公文", "概念", "包含", "请示", "文种"),
		triple(" 公文 ", "概念", "包含", "报告", "文种"),
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	e, ok := storage.entity("公文", "概念")
	if !ok || e.Weight != common.EntityBaselineWeight+3 {
		t.Fatalf("公文 = %+v", e)
	}
	if report.EntitiesCreated != 4 || report.EntitySightings != 2 || report.Relationships != 3 {
		t.Fatalf("report = %+v", report)
	}
}

func TestIngest_SameNameDifferentTypeAreDistinct(t *testing.T) {
	storage := &memStorage{}
	svc := NewService(NewServiceParams{Storage: storage})

	if _, err := svc.Ingest(context.Background(), "doc-1", []common.ExtractedTriple{
		triple("通知", "文种", "属于", "公文", "概念"),
		triple("通知", "事件", "属于", "公文", "概念"),
	}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if len(storage.entities) != 3 {
		t.Fatalf("entities = %+v", storage.entities)
	}
}

func TestIngest_ConflictAndInvalidAreSkipped(t *testing.T) {
	storage := &memStorage{conflictRelation: "重复"}
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	svc := NewService(NewServiceParams{Storage: storage, Metrics: metrics})

	report, err := svc.Ingest(context.Background(), "doc-1", []common.ExtractedTriple{
		triple("A", "t", "重复", "B", "t"),
		triple("", "t", "r", "B", "t"),
		triple("A", "t", " ", "B", "t"),
		triple("A", "t", "r", "C", "t"),
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if report.Conflicts != 1 || report.Invalid != 2 || report.Relationships != 1 {
		t.Fatalf("report = %+v", report)
	}
	if len(storage.rels) != 1 || storage.rels[0].RelationType != "r" {
		t.Fatalf("rels = %+v", storage.rels)
	}
	if got := testutil.ToFloat64(metrics.triples.WithLabelValues("conflict")); got != 1 {
		t.Fatalf("conflict counter = %v", got)
	}
}

func TestIngest_StorageErrorRollsBackBatch(t *testing.T) {
	storage := &memStorage{failEntity: "坏"}
	svc := NewService(NewServiceParams{Storage: storage, Mirror: newMirror()})

	_, err := svc.Ingest(context.Background(), "doc-1", []common.ExtractedTriple{
		triple("A", "t", "r", "B", "t"),
		triple("坏", "t", "r", "B", "t"),
	})
	if err == nil {
		t.Fatalf("expected storage error")
	}
	if len(storage.entities) != 0 || len(storage.rels) != 0 {
		t.Fatalf("partial batch committed: %+v %+v", storage.entities, storage.rels)
	}
}

func TestIngest_MirrorsAfterCommit(t *testing.T) {
	storage := &memStorage{}
	mirror := newMirror()
	svc := NewService(NewServiceParams{Storage: storage, Mirror: mirror})

	report, err := svc.Ingest(context.Background(), "doc-1", []common.ExtractedTriple{
		triple("A", "t", "r", "B", "t"),
		triple("A", "t", "r", "B", "t"),
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if report.MirroredNodes != 2 || report.MirroredEdges != 2 || len(report.MirrorErrors) != 0 {
		t.Fatalf("report = %+v", report)
	}
	if len(mirror.nodes) != 2 || len(mirror.edges) != 1 {
		t.Fatalf("mirror nodes=%d edges=%d", len(mirror.nodes), len(mirror.edges))
	}
	if got := mirror.nodes["A|t"].Weight; got != 12 {
		t.Fatalf("mirrored weight = %d, want 12", got)
	}
}

func TestIngest_MirrorFailureKeepsRelationalWrite(t *testing.T) {
	storage := &memStorage{}
	mirror := newMirror()
	mirror.fail = true
	svc := NewService(NewServiceParams{Storage: storage, Mirror: mirror})

	report, err := svc.Ingest(context.Background(), "doc-1", []common.ExtractedTriple{triple("A", "t", "r", "B", "t")})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if len(storage.entities) != 2 || len(storage.rels) != 1 {
		t.Fatalf("relational write lost")
	}
	if len(report.MirrorErrors) != 3 {
		t.Fatalf("mirror errors = %+v", report.MirrorErrors)
	}
}

func TestIngest_LocksDocument(t *testing.T) {
	locker := &recordingLocker{}
	svc := NewService(NewServiceParams{Storage: &memStorage{}, Locker: locker})

	if _, err := svc.Ingest(context.Background(), "doc-9", nil); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if _, err := svc.Delete(context.Background(), "doc-9"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if want := []string{"graph-doc:doc-9", "graph-doc:doc-9"}; !reflect.DeepEqual(locker.keys, want) {
		t.Fatalf("lock keys = %v, want %v", locker.keys, want)
	}
}

func TestIngest_EmptyDocument(t *testing.T) {
	svc := NewService(NewServiceParams{Storage: &memStorage{}})
	if _, err := svc.Ingest(context.Background(), "  ", nil); !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("expected ErrEmptyDocument, got %v", err)
	}
	if _, err := svc.Delete(context.Background(), ""); !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("expected ErrEmptyDocument, got %v", err)
	}
}

func TestDelete_RemovesExactlyTaggedRows(t *testing.T) {
	storage := &memStorage{}
	mirror := newMirror()
	svc := NewService(NewServiceParams{Storage: storage, Mirror: mirror})
	ctx := context.Background()

	if _, err := svc.Ingest(ctx, "doc-1", []common.ExtractedTriple{triple("A", "t", "r", "B", "t")}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if _, err := svc.Ingest(ctx, "doc-2", []common.ExtractedTriple{triple("C", "t", "r", "D", "t")}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	report, err := svc.Delete(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if report.Entities != 2 || report.Relationships != 1 || report.MirrorNodes != 2 {
		t.Fatalf("report = %+v", report)
	}

	for _, e := range storage.entities {
		if e.SourceDocID != "doc-2" {
			t.Fatalf("foreign row survived: %+v", e)
		}
	}
	if len(storage.entities) != 2 || len(storage.rels) != 1 || storage.rels[0].SourceDocID != "doc-2" {
		t.Fatalf("doc-2 rows touched: %+v %+v", storage.entities, storage.rels)
	}
	if len(mirror.nodes) != 2 || len(mirror.edges) != 1 {
		t.Fatalf("mirror nodes=%v edges=%v", mirror.nodes, mirror.edges)
	}
	if _, ok := mirror.nodes["C|t"]; !ok {
		t.Fatalf("doc-2 node removed from mirror")
	}
}

func TestDelete_KeepsEntitiesSharedWithOtherDocuments(t *testing.T) {
	storage := &memStorage{}
	mirror := newMirror()
	svc := NewService(NewServiceParams{Storage: storage, Mirror: mirror})
	ctx := context.Background()

	if _, err := svc.Ingest(ctx, "doc-1", []common.ExtractedTriple{triple("A", "t", "r", "B", "t")}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if _, err := svc.Ingest(ctx, "doc-2", []common.ExtractedTriple{triple("A", "t", "r", "C", "t")}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	report, err := svc.Delete(ctx, "doc-1")
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if report.Entities != 1 || report.Relationships != 1 || report.MirrorNodes != 1 {
		t.Fatalf("report = %+v", report)
	}

	if len(storage.rels) != 1 || storage.rels[0].SourceDocID != "doc-2" {
		t.Fatalf("doc-2 relationship lost: %+v", storage.rels)
	}
	a, ok := storage.entity("A", "t")
	if !ok || a.SourceDocID != "doc-2" {
		t.Fatalf("shared entity = %+v, %v; want it kept and tagged doc-2", a, ok)
	}
	if _, ok := storage.entity("B", "t"); ok {
		t.Fatalf("doc-1 only entity survived")
	}
	if _, ok := storage.entity("C", "t"); !ok {
		t.Fatalf("doc-2 entity removed")
	}

	if len(mirror.edges) != 1 || len(mirror.nodes) != 2 {
		t.Fatalf("mirror nodes=%v edges=%v", mirror.nodes, mirror.edges)
	}
	if mirror.nodes["A|t"].SourceDocID != "doc-2" {
		t.Fatalf("shared mirror node = %+v", mirror.nodes["A|t"])
	}

	// Deleting doc-2 afterwards clears the rest.
	if _, err := svc.Delete(ctx, "doc-2"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if len(storage.entities) != 0 || len(storage.rels) != 0 || len(mirror.nodes) != 0 {
		t.Fatalf("rows left: %+v %+v %v", storage.entities, storage.rels, mirror.nodes)
	}
}

func TestReconcileDocument_RepairsMirror(t *testing.T) {
	storage := &memStorage{}
	mirror := newMirror()
	mirror.fail = true
	svc := NewService(NewServiceParams{Storage: storage, Mirror: mirror})
	ctx := context.Background()

	if _, err := svc.Ingest(ctx, "doc-1", []common.ExtractedTriple{
		triple("A", "t", "r", "B", "t"),
		triple("B", "t", "s", "C", "t"),
	}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if len(mirror.nodes) != 0 {
		t.Fatalf("mirror should be empty")
	}

	mirror.fail = false
	rec := NewReconciler(svc)
	report, err := rec.ReconcileDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("ReconcileDocument() error = %v", err)
	}
	if report.Nodes != 3 || report.Edges != 2 || len(report.MirrorErrors) != 0 {
		t.Fatalf("report = %+v", report)
	}

	again, err := rec.ReconcileDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("ReconcileDocument() error = %v", err)
	}
	if again.Nodes != 3 || len(mirror.nodes) != 3 || len(mirror.edges) != 2 {
		t.Fatalf("replay is not idempotent: %+v nodes=%d edges=%d", again, len(mirror.nodes), len(mirror.edges))
	}
}

func TestReconcileAll(t *testing.T) {
	storage := &memStorage{}
	mirror := newMirror()
	svc := NewService(NewServiceParams{Storage: storage})
	ctx := context.Background()

	for _, doc := range []string{"doc-2", "doc-1"} {
		if _, err := svc.Ingest(ctx, doc, []common.ExtractedTriple{triple(doc+"-a", "t", "r", doc+"-b", "t")}); err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
	}

	svc.mirror = mirror
	summary, err := NewReconciler(svc).ReconcileAll(ctx)
	if err != nil {
		t.Fatalf("ReconcileAll() error = %v", err)
	}
	if summary.Documents != 2 || len(summary.Failed) != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if len(mirror.nodes) != 4 || len(mirror.edges) != 2 {
		t.Fatalf("mirror nodes=%d edges=%d", len(mirror.nodes), len(mirror.edges))
	}
}
