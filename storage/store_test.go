package storage

import (
	"testing"
	"time"

	"task-client/domain"
)

type fakeClock struct{ now time.Time }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestKeyEquality(t *testing.T) {
	if ItemKey("1") != ItemKey("1") {
		t.Fatalf("expected equal item keys")
	}
	if ItemKey("1") == ItemKey("2") {
		t.Fatalf("expected distinct ids to differ")
	}
	if ListKey() == ItemKey("") {
		t.Fatalf("expected list and item keys to differ")
	}
}

func TestParseKeyRoundTrip(t *testing.T) {
	for _, k := range []Key{ListKey(), ItemKey("42"), ItemKey("a:b")} {
		got, err := ParseKey(k.String())
		if err != nil {
			t.Fatalf("parse %q: %v", k.String(), err)
		}
		if got != k {
			t.Fatalf("expected %v, got %v", k, got)
		}
	}
	for _, raw := range []string{"", "item", "item:", "list:1", "other:1"} {
		if _, err := ParseKey(raw); err == nil {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}

func TestForTaskMatchesListAndItem(t *testing.T) {
	match := ForTask("7")
	if !match(ListKey()) || !match(ItemKey("7")) {
		t.Fatalf("expected list and item 7 to match")
	}
	if match(ItemKey("8")) {
		t.Fatalf("expected item 8 not to match")
	}

	match = ForTask("7", "9", "")
	if !match(ItemKey("9")) || match(ItemKey("")) {
		t.Fatalf("expected every given task to match and empty ids to be ignored")
	}
}

func TestListValueNeverNil(t *testing.T) {
	if v := ListValue(nil); v.Tasks == nil || len(v.Tasks) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", v.Tasks)
	}
	src := []domain.Task{{ID: "1"}}
	v := ListValue(src)
	src[0].ID = "changed"
	if v.Tasks[0].ID != "1" {
		t.Fatalf("expected value to own its slice")
	}
}
