package submission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/proposehq/formbff/model"
)

func sampleReceipt(id string) model.SubmissionReceipt {
	return model.SubmissionReceipt{
		ID:        id,
		ModalID:   "m1",
		TenantID:  "tenant-a",
		SubjectID: "user-1",
		Status:    model.SubmissionCompleted,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func assertConflict(t *testing.T, err error) {
	t.Helper()
	var env *model.ErrorEnvelope
	if !errors.As(err, &env) || env.Code != model.ErrConflict {
		t.Fatalf("expected CONFLICT, got %v", err)
	}
}

func TestMemoryIdempotencyStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryIdempotencyStore()
	key := FormatIdempotencyKey("m1", "key-1")

	// Miss on unknown key.
	_, found, err := store.Check(ctx, key, "hash-a")
	if err != nil || found {
		t.Fatalf("expected miss, got found=%v err=%v", found, err)
	}

	if err := store.Store(ctx, key, "hash-a", sampleReceipt("sub-1"), time.Minute); err != nil {
		t.Fatalf("Store: %v", err)
	}

	// Hit with matching hash.
	cached, found, err := store.Check(ctx, key, "hash-a")
	if err != nil || !found {
		t.Fatalf("expected hit, got found=%v err=%v", found, err)
	}
	if cached.ID != "sub-1" {
		t.Fatalf("cached ID = %q, want sub-1", cached.ID)
	}

	// Same key, different input.
	_, found, err = store.Check(ctx, key, "hash-b")
	if !found {
		t.Fatal("expected found=true on hash mismatch")
	}
	assertConflict(t, err)
}

func TestMemoryIdempotencyStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryIdempotencyStore()
	key := FormatIdempotencyKey("m1", "key-1")

	if err := store.Store(ctx, key, "hash-a", sampleReceipt("sub-1"), -time.Second); err != nil {
		t.Fatalf("Store: %v", err)
	}
	_, found, err := store.Check(ctx, key, "hash-a")
	if err != nil || found {
		t.Fatalf("expired entry should miss, got found=%v err=%v", found, err)
	}
	if store.Len() != 0 {
		t.Fatalf("expired entry should be evicted, Len = %d", store.Len())
	}
}

func TestRedisIdempotencyStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisIdempotencyStore(client)

	ctx := context.Background()
	key := FormatIdempotencyKey("m1", "key-1")

	_, found, err := store.Check(ctx, key, "hash-a")
	if err != nil || found {
		t.Fatalf("expected miss, got found=%v err=%v", found, err)
	}

	receipt := sampleReceipt("sub-9")
	receipt.Effects = []model.EffectResult{
		{Kind: model.EffectEntityOperation, EffectID: "op1", Status: model.EffectExecuted, RecordID: "rec-1"},
	}
	if err := store.Store(ctx, key, "hash-a", receipt, time.Minute); err != nil {
		t.Fatalf("Store: %v", err)
	}

	cached, found, err := store.Check(ctx, key, "hash-a")
	if err != nil || !found {
		t.Fatalf("expected hit, got found=%v err=%v", found, err)
	}
	if cached.ID != "sub-9" || len(cached.Effects) != 1 || cached.Effects[0].RecordID != "rec-1" {
		t.Fatalf("unexpected cached receipt: %#v", cached)
	}

	_, found, err = store.Check(ctx, key, "hash-b")
	if !found {
		t.Fatal("expected found=true on hash mismatch")
	}
	assertConflict(t, err)

	// TTL expiry.
	mr.FastForward(2 * time.Minute)
	_, found, err = store.Check(ctx, key, "hash-a")
	if err != nil || found {
		t.Fatalf("expired entry should miss, got found=%v err=%v", found, err)
	}
}

func TestFormatIdempotencyKey(t *testing.T) {
	if got := FormatIdempotencyKey("m1", "abc"); got != "subm:m1:abc" {
		t.Fatalf("key = %q, want subm:m1:abc", got)
	}
}
