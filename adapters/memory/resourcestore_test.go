package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/xwp/wp-customize-rest-resources/adapters/memory"
	"github.com/xwp/wp-customize-rest-resources/domain/resource"
	"github.com/xwp/wp-customize-rest-resources/ports"
)

func TestResourceStore_PutGet(t *testing.T) {
	store := memory.NewResourceStore()
	ctx := context.Background()

	in := resource.Resource{"id": 1.0, "title": map[string]any{"raw": "a"}}
	if err := store.Put(ctx, "posts", 1, in); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get(ctx, "posts", 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got["title"].(map[string]any)["raw"] = "changed"

	again, _ := store.Get(ctx, "posts", 1)
	if again["title"].(map[string]any)["raw"] != "a" {
		t.Error("Get should return a copy")
	}
	in["title"].(map[string]any)["raw"] = "mutated"
	again, _ = store.Get(ctx, "posts", 1)
	if again["title"].(map[string]any)["raw"] != "a" {
		t.Error("Put should store a copy")
	}
}

func TestResourceStore_NotFound(t *testing.T) {
	store := memory.NewResourceStore()

	if _, err := store.Get(context.Background(), "posts", 1); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestResourceStore_List(t *testing.T) {
	store := memory.NewResourceStore()
	ctx := context.Background()

	for _, id := range []int64{5, 2, 9} {
		store.Put(ctx, "users", id, resource.Resource{"id": float64(id)})
	}

	list, err := store.List(ctx, "users")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []float64{2, 5, 9}
	for i, r := range list {
		if r["id"] != want[i] {
			t.Errorf("list[%d].id = %v, want %v", i, r["id"], want[i])
		}
	}
	if n, _ := store.Count(ctx, "users"); n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
	if n, _ := store.Count(ctx, "posts"); n != 0 {
		t.Errorf("Count(posts) = %d, want 0", n)
	}
}
