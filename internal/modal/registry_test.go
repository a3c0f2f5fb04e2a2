package modal

import (
	"fmt"
	"sync"
	"testing"

	"github.com/proposehq/formbff/model"
)

func storedModal(id, name string) StoredModal {
	cfg := &model.ModalConfig{Name: name, Description: "d"}
	data, _ := SerializeConfig(cfg)
	return StoredModal{ID: id, Config: cfg, Checksum: Checksum(data)}
}

func TestRegistryGet(t *testing.T) {
	r := NewRegistry([]StoredModal{
		storedModal("m1", "Intake"),
		storedModal("m2", "Review"),
	})

	m, ok := r.Get("m1")
	if !ok {
		t.Fatalf("m1 not found")
	}
	if m.Config.Name != "Intake" {
		t.Errorf("name = %q, want Intake", m.Config.Name)
	}
	if _, ok := r.Get("missing"); ok {
		t.Errorf("unknown id found")
	}
}

func TestRegistryUpsertAndRemove(t *testing.T) {
	r := NewRegistry(nil)
	before := r.Checksum()

	r.Upsert(storedModal("m1", "Intake"))
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
	if r.Checksum() == before {
		t.Errorf("checksum unchanged after upsert")
	}

	r.Upsert(storedModal("m1", "Intake v2"))
	if r.Len() != 1 {
		t.Errorf("upsert of existing id grew the registry")
	}
	m, _ := r.Get("m1")
	if m.Config.Name != "Intake v2" {
		t.Errorf("upsert did not replace: %q", m.Config.Name)
	}

	r.Remove("m1")
	if r.Len() != 0 {
		t.Errorf("Len = %d after remove, want 0", r.Len())
	}
}

func TestRegistryAllOrdered(t *testing.T) {
	r := NewRegistry([]StoredModal{
		storedModal("m2", "Zeta"),
		storedModal("m3", "Alpha"),
		storedModal("m1", "Alpha"),
	})

	all := r.All()
	if len(all) != 3 {
		t.Fatalf("All = %d modals, want 3", len(all))
	}
	if all[0].ID != "m1" || all[1].ID != "m3" || all[2].ID != "m2" {
		t.Errorf("order = %s,%s,%s; want m1,m3,m2 (name then id)",
			all[0].ID, all[1].ID, all[2].ID)
	}
}

func TestRegistryConcurrentReads(t *testing.T) {
	r := NewRegistry([]StoredModal{storedModal("m0", "Seed")})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if n%2 == 0 {
					r.Upsert(storedModal(fmt.Sprintf("m%d-%d", n, j), "W"))
				} else {
					r.Get("m0")
					r.All()
				}
			}
		}(i)
	}
	wg.Wait()

	if _, ok := r.Get("m0"); !ok {
		t.Errorf("seed modal lost during concurrent access")
	}
}
