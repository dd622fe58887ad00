package neo4j

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/govdoc/backend/pkg/common"
)

func TestNodeParams(t *testing.T) {
	got := nodeParams(common.GraphEntity{ID: 3, Name: "通知", EntityType: "文种", Weight: 11, SourceDocID: "doc-1"})
	want := map[string]any{
		"name":          "通知",
		"entity_type":   "文种",
		"entity_id":     int64(3),
		"weight":        int64(11),
		"source_doc_id": "doc-1",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("nodeParams() = %v, want %v", got, want)
	}
}

func TestEdgeParams(t *testing.T) {
	got := edgeParams(
		common.GraphEntity{Name: "国务院", EntityType: "机关"},
		common.GraphEntity{Name: "通知", EntityType: "文种"},
		"发布", "doc-2",
	)
	want := map[string]any{
		"source_name":   "国务院",
		"source_type":   "机关",
		"target_name":   "通知",
		"target_type":   "文种",
		"relation":      "发布",
		"source_doc_id": "doc-2",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("edgeParams() = %v, want %v", got, want)
	}
}

func TestStatementsUseIdentityKeys(t *testing.T) {
	for name, stmt := range map[string]string{
		"node":   upsertNodeCypher,
		"edge":   upsertEdgeCypher,
		"delete": deleteBySourceDocCypher,
		"retag":  retagSharedNodesCypher,
	} {
		if !strings.Contains(stmt, "Entity {") {
			t.Fatalf("%s statement does not address Entity nodes: %s", name, stmt)
		}
	}
	if !strings.Contains(deleteBySourceDocCypher, "DETACH DELETE") {
		t.Fatalf("delete must detach nodes")
	}
	if !strings.Contains(deleteBySourceDocCypher, "WHERE NOT EXISTS { (e)--() }") {
		t.Fatalf("delete must keep nodes other documents still connect to")
	}
}

func TestCloseWithoutDriver(t *testing.T) {
	if err := (&Graph{}).Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}
