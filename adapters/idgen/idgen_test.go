package idgen_test

import (
	"regexp"
	"sort"
	"testing"

	"github.com/oklog/ulid/v2"

	"github.com/xwp/wp-customize-rest-resources/adapters/idgen"
)

func TestUUID_New(t *testing.T) {
	g := idgen.UUID{}

	uuidRegex := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := g.New()
		if !uuidRegex.MatchString(id) {
			t.Fatalf("ID %s doesn't match UUID v4 format", id)
		}
		if seen[id] {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestULID_Sorted(t *testing.T) {
	g := idgen.NewULID()

	ids := make([]string, 200)
	for i := range ids {
		ids[i] = g.New()
		if _, err := ulid.ParseStrict(ids[i]); err != nil {
			t.Fatalf("ParseStrict(%s): %v", ids[i], err)
		}
	}
	if !sort.StringsAreSorted(ids) {
		t.Error("ULIDs from one generator should sort in generation order")
	}
}

func TestSequential(t *testing.T) {
	tests := []struct {
		prefix string
		want   []string
	}{
		{"test_", []string{"test_1", "test_2", "test_3"}},
		{"", []string{"1", "2"}},
		{"session-", []string{"session-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			g := idgen.NewSequential(tt.prefix)
			for _, want := range tt.want {
				if got := g.New(); got != want {
					t.Errorf("New() = %s, want %s", got, want)
				}
			}
		})
	}
}

func TestSequential_Reset(t *testing.T) {
	g := idgen.NewSequential("id_")
	g.New()
	g.New()
	g.Reset()

	if id := g.New(); id != "id_1" {
		t.Errorf("after reset, ID = %s, want id_1", id)
	}
}
