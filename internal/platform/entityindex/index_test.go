package entityindex

import (
	"reflect"
	"testing"
)

const platformSpec = `
openapi: 3.0.3
info:
  title: Platform Data API
  version: "1.0"
paths: {}
components:
  schemas:
    Proposal:
      type: object
      required: [name]
      properties:
        id:
          type: string
          format: uuid
        name:
          type: string
        amount:
          type: number
    PastPerformance:
      type: object
      properties:
        title:
          type: string
        agency:
          type: string
    Tag:
      type: string
`

func loadIndex(t *testing.T) *Index {
	t.Helper()
	idx := NewIndex()
	if err := idx.LoadData([]byte(platformSpec)); err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	return idx
}

func TestIndexEntities(t *testing.T) {
	idx := loadIndex(t)

	if !idx.HasEntity("Proposal") {
		t.Errorf("Proposal not indexed")
	}
	// Non-object schemas are not entities.
	if idx.HasEntity("Tag") {
		t.Errorf("scalar schema Tag indexed as entity")
	}

	want := []string{"PastPerformance", "Proposal"}
	if got := idx.EntityNames(); !reflect.DeepEqual(got, want) {
		t.Errorf("EntityNames = %v, want %v", got, want)
	}
}

func TestIndexCanonicalNames(t *testing.T) {
	idx := loadIndex(t)

	for _, name := range []string{"PastPerformance", "past_performance", "past-performance", "pastperformance"} {
		if !idx.HasEntity(name) {
			t.Errorf("HasEntity(%q) = false", name)
		}
	}
}

func TestIndexAttributes(t *testing.T) {
	idx := loadIndex(t)

	if !idx.HasAttribute("Proposal", "amount") {
		t.Errorf("Proposal.amount not indexed")
	}
	if idx.HasAttribute("Proposal", "ghost") {
		t.Errorf("unknown attribute reported present")
	}
	if idx.HasAttribute("Ghost", "id") {
		t.Errorf("attribute lookup on unknown entity reported present")
	}

	want := []string{"amount", "id", "name"}
	if got := idx.AttributeNames("Proposal"); !reflect.DeepEqual(got, want) {
		t.Errorf("AttributeNames = %v, want %v", got, want)
	}

	e, ok := idx.GetEntity("Proposal")
	if !ok {
		t.Fatalf("GetEntity(Proposal) missing")
	}
	if e.Attributes["id"].Format != "uuid" {
		t.Errorf("id format = %q, want uuid", e.Attributes["id"].Format)
	}
}

func TestMissingRequired(t *testing.T) {
	idx := loadIndex(t)

	missing := idx.MissingRequired("Proposal", map[string]any{"amount": 10})
	if !reflect.DeepEqual(missing, []string{"name"}) {
		t.Errorf("MissingRequired = %v, want [name]", missing)
	}
	if m := idx.MissingRequired("Proposal", map[string]any{"name": "x"}); m != nil {
		t.Errorf("MissingRequired = %v for complete payload", m)
	}
	if m := idx.MissingRequired("Ghost", nil); m != nil {
		t.Errorf("MissingRequired on unknown entity = %v", m)
	}
}

func TestLoadRejectsInvalidSpec(t *testing.T) {
	idx := NewIndex()
	if err := idx.LoadData([]byte("openapi: 3.0.3\n")); err == nil {
		t.Fatalf("invalid spec loaded")
	}
}
