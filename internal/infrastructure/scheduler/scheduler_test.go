package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/importauto/leadline/internal/api/metrics"
	"github.com/importauto/leadline/internal/core/domain"
)

type stubStats struct {
	stats domain.ClientStats
	err   error
}

func (s stubStats) Stats(context.Context) (domain.ClientStats, error) { return s.stats, s.err }

type stubQueues []int

func (q stubQueues) QueueDepths() []int { return q }

func TestRefreshGauges(t *testing.T) {
	src := stubStats{stats: domain.ClientStats{
		ByStatus: map[domain.ClientStatus]int64{domain.StatusNew: 3, domain.StatusCompleted: 2},
		Managed:  1,
	}}
	s, err := New("", src, stubQueues{4, 0}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.RefreshGauges()

	if got := testutil.ToFloat64(metrics.ClientsByStatus.WithLabelValues("new")); got != 3 {
		t.Fatalf("new clients gauge = %v", got)
	}
	if got := testutil.ToFloat64(metrics.ActiveHandoffs); got != 1 {
		t.Fatalf("handoff gauge = %v", got)
	}
	if got := testutil.ToFloat64(metrics.SerializerQueueDepth.WithLabelValues("0")); got != 4 {
		t.Fatalf("queue gauge = %v", got)
	}
}

func TestRefreshGauges_StoreDown(t *testing.T) {
	metrics.ActiveHandoffs.Set(1)
	s, err := New("", stubStats{err: errors.New("down")}, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.RefreshGauges()
	if got := testutil.ToFloat64(metrics.ActiveHandoffs); got != 1 {
		t.Fatalf("gauge should keep last value, got %v", got)
	}
}

func TestNew_BadSpec(t *testing.T) {
	if _, err := New("not a spec", stubStats{}, nil, zerolog.Nop()); err == nil {
		t.Fatalf("expected invalid spec error")
	}
}
