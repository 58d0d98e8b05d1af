// Package notify publishes finished leads to team chat channels.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/importauto/leadline/internal/core/domain"
	"github.com/importauto/leadline/internal/core/ports"
)

// Multi fans a lead out to every configured notifier. One failing sink does
// not stop the others; the joined error is returned.
type Multi struct {
	sinks []namedNotifier
	log   zerolog.Logger
}

type namedNotifier struct {
	name string
	ports.LeadNotifier
}

var _ ports.LeadNotifier = (*Multi)(nil)

func NewMulti(log zerolog.Logger) *Multi {
	return &Multi{log: log}
}

// Add registers n under name. Nil notifiers are ignored.
func (m *Multi) Add(name string, n ports.LeadNotifier) *Multi {
	if n != nil {
		m.sinks = append(m.sinks, namedNotifier{name: name, LeadNotifier: n})
	}
	return m
}

// Len reports how many sinks are registered.
func (m *Multi) Len() int { return len(m.sinks) }

func (m *Multi) NotifyLead(ctx context.Context, lead domain.Lead) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.NotifyLead(ctx, lead); err != nil {
			m.log.Warn().Err(err).Str("sink", s.name).Str("client", lead.Identifier).Msg("lead notification failed")
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

func leadSummary(lead domain.Lead) string {
	name := lead.Name
	if name == "" {
		name = lead.Identifier
	}
	return fmt.Sprintf("New lead from %s (%s)\nCar type: %s\nBudget: up to $%s\nSource: %s",
		name, lead.Identifier, lead.CarType, lead.Budget, lead.Source)
}
