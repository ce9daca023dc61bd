// Package queue implements the promotion of the lowest-numbered backlog
// issue into the running slot.
package queue

import (
	"context"
	"log/slog"
	"sort"

	"github.com/avery-oss/loom/internal/blocking"
	"github.com/avery-oss/loom/internal/forge"
	"github.com/avery-oss/loom/internal/logging"
)

// ForgeClient is the subset of forge.Client the queueing service needs,
// narrowed to an interface so tests can substitute a fake.
type ForgeClient interface {
	UpdateLabelsWithCheck(ctx context.Context, repo string, number int, from, to string) (bool, error)
}

// Service promotes backlog issues.
type Service struct {
	client ForgeClient
	log    *slog.Logger
}

// New builds a Service.
func New(client ForgeClient) *Service {
	return &Service{client: client, log: logging.WithComponent("queue")}
}

// QueueNext consults BlockingChecker on the given snapshot; if not blocked,
// selects the lowest-numbered issue labeled todo, CASes todo->queued, and
// returns it. Returns nil if blocked or there is no todo candidate. The
// queued->planning transition happens next tick in IssueProcessor — the
// intermediate queued state is a crash-recovery marker and must never be
// collapsed into a single CAS.
func (s *Service) QueueNext(ctx context.Context, repo string, issues []*forge.Issue) (*forge.Issue, error) {
	if blocking.Blocking(issues) {
		return nil, nil
	}

	var candidates []*forge.Issue
	for _, i := range issues {
		if forge.HasLabel(i.Labels, forge.LabelTodo) {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Number < candidates[j].Number })
	next := candidates[0]

	ok, err := s.client.UpdateLabelsWithCheck(ctx, repo, next.Number, forge.LabelTodo, forge.LabelQueued)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.log.Warn("queue_next_issue: CAS lost race", slog.Int("issue", next.Number))
		return nil, nil
	}
	s.log.Info("promoted issue to queued", slog.Int("issue", next.Number))
	return next, nil
}
