package memory

import (
	"context"
	"strconv"
	"testing"
	"time"
)

func TestSessionStore(t *testing.T) {
	ctx := context.Background()
	s := NewSessionStore()
	if ok, _ := s.IsLoggedIn(ctx, "op"); ok {
		t.Fatalf("fresh store reports logged in")
	}
	_ = s.SetLoggedIn(ctx, "op", true)
	if ok, _ := s.IsLoggedIn(ctx, "op"); !ok {
		t.Fatalf("login not recorded")
	}
	_ = s.SetLoggedIn(ctx, "op", false)
	if ok, _ := s.IsLoggedIn(ctx, "op"); ok {
		t.Fatalf("logout not recorded")
	}
}

func TestDedupChecker_Expires(t *testing.T) {
	ctx := context.Background()
	d := NewDedupChecker(50 * time.Millisecond)

	if dup, _ := d.IsDuplicate(ctx, "whatsapp", "wamid.1"); dup {
		t.Fatalf("unseen id reported duplicate")
	}
	_ = d.Mark(ctx, "whatsapp", "wamid.1")
	if dup, _ := d.IsDuplicate(ctx, "whatsapp", "wamid.1"); !dup {
		t.Fatalf("marked id not reported duplicate")
	}
	if dup, _ := d.IsDuplicate(ctx, "telegram", "wamid.1"); dup {
		t.Fatalf("platforms must not share ids")
	}

	time.Sleep(150 * time.Millisecond)
	if dup, _ := d.IsDuplicate(ctx, "whatsapp", "wamid.1"); dup {
		t.Fatalf("expired id still reported duplicate")
	}
}

func TestDedupChecker_ManyMarksStayCheap(t *testing.T) {
	ctx := context.Background()
	d := NewDedupChecker(time.Hour)

	const n = 50000
	start := time.Now()
	for i := 0; i < n; i++ {
		_ = d.Mark(ctx, "whatsapp", strconv.Itoa(i))
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("%d marks took %v", n, elapsed)
	}
	for _, i := range []int{0, n / 2, n - 1} {
		if dup, _ := d.IsDuplicate(ctx, "whatsapp", strconv.Itoa(i)); !dup {
			t.Errorf("id %d forgotten", i)
		}
	}
}

func TestDedupChecker_BoundedSize(t *testing.T) {
	ctx := context.Background()
	d := newDedupChecker(time.Hour, 3)
	for _, id := range []string{"a", "b", "c", "d"} {
		_ = d.Mark(ctx, "telegram", id)
	}
	if dup, _ := d.IsDuplicate(ctx, "telegram", "a"); dup {
		t.Error("oldest id kept past the size cap")
	}
	if dup, _ := d.IsDuplicate(ctx, "telegram", "d"); !dup {
		t.Error("newest id evicted")
	}
}
