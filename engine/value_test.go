package engine

import (
	"testing"
	"time"
)

func TestValuesEqual(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		a, b interface{}
		want bool
	}{
		{"nils", nil, nil, true},
		{"nil vs value", nil, "x", false},
		{"strings", "a", "a", true},
		{"int64 vs float64", int64(3), float64(3), true},
		{"int vs int64", 7, int64(7), true},
		{"different numbers", int64(3), float64(3.5), false},
		{"timestamps", NewTimestamp(now), NewTimestamp(now), true},
		{"pointers", DocPointer("a/b"), DocPointer("a/b"), true},
		{"pointer vs string", DocPointer("a/b"), "a/b", false},
		{"arrays", []interface{}{int64(1), "x"}, []interface{}{float64(1), "x"}, true},
		{"arrays length", []interface{}{int64(1)}, []interface{}{int64(1), int64(2)}, false},
		{"maps", map[string]interface{}{"k": int64(1)}, map[string]interface{}{"k": float64(1)}, true},
		{"maps extra key", map[string]interface{}{"k": 1}, map[string]interface{}{"k": 1, "j": 2}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValuesEqual(tt.a, tt.b); got != tt.want {
				t.Errorf("ValuesEqual(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestCompareValues(t *testing.T) {
	early := NewTimestamp(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	late := NewTimestamp(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	tests := []struct {
		name   string
		a, b   interface{}
		want   int
		wantOK bool
	}{
		{"nil sorts first", nil, "x", -1, true},
		{"numbers cross kind", int64(2), float64(10), -1, true},
		{"strings", "b", "a", 1, true},
		{"bools", false, true, -1, true},
		{"timestamps", early, late, -1, true},
		{"mixed kinds", "a", int64(1), 0, false},
		{"maps not orderable", map[string]interface{}{}, map[string]interface{}{}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CompareValues(tt.a, tt.b)
			if ok != tt.wantOK {
				t.Fatalf("CompareValues(%v, %v) ok = %v, want %v", tt.a, tt.b, ok, tt.wantOK)
			}
			if ok && sign(got) != tt.want {
				t.Errorf("CompareValues(%v, %v) = %d, want sign %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

func TestSortSnapshots(t *testing.T) {
	snaps := []Snapshot{
		NewSnapshot("c/b", map[string]interface{}{"n": int64(2)}),
		NewSnapshot("c/a", map[string]interface{}{"n": int64(2)}),
		NewSnapshot("c/c", map[string]interface{}{"n": int64(1)}),
	}
	SortSnapshots(snaps, []Order{{Field: "n"}})
	got := []string{snaps[0].Path(), snaps[1].Path(), snaps[2].Path()}
	want := []string{"c/c", "c/a", "c/b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sorted order = %v, want %v", got, want)
		}
	}

	SortSnapshots(snaps, []Order{{Field: "n", Descending: true}})
	if snaps[0].Path() == "c/c" {
		t.Fatalf("descending sort left the smallest value first: %v", snaps[0].Path())
	}
}

func TestSnapshotField(t *testing.T) {
	s := NewSnapshot("c/x", map[string]interface{}{
		"a": map[string]interface{}{"b": "deep"},
		"top": "v",
	})
	if v, ok := s.Field("a.b"); !ok || v != "deep" {
		t.Errorf("Field(a.b) = %v, %v", v, ok)
	}
	if _, ok := s.Field("a.missing"); ok {
		t.Error("Field(a.missing) reported present")
	}
	if _, ok := s.Field("top.b"); ok {
		t.Error("Field through a non-map reported present")
	}
}
