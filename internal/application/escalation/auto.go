package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/wfm-approvals/internal/application/calendar"
	"github.com/garyjia/wfm-approvals/internal/application/port"
	"github.com/garyjia/wfm-approvals/internal/application/workflow"
	"github.com/garyjia/wfm-approvals/internal/domain/entity"
	domainwf "github.com/garyjia/wfm-approvals/internal/domain/workflow"
)

// fireTimedAutos applies automatic transitions whose timeout has elapsed.
// Instances are prefiltered on wall-clock time, which never runs slower than
// business time, then checked precisely. Candidates are read a page at a
// time so instances that do not qualify yet never hide later ones.
func (s *Scheduler) fireTimedAutos(ctx context.Context, now time.Time) (int, error) {
	fired := 0
	for _, def := range s.catalog.Definitions() {
		for _, t := range def.Transitions {
			if t.Auto == nil || t.Auto.TimeoutMinutes <= 0 {
				continue
			}

			q := port.StateQuery{
				Workflow:      def.Name,
				Version:       def.Version,
				State:         t.From,
				EnteredBefore: now.Add(-time.Duration(t.Auto.TimeoutMinutes) * time.Minute),
				Limit:         s.batchSize,
			}
			for {
				page, err := s.repos.Instances.ListActiveInState(ctx, q)
				if err != nil {
					return fired, fmt.Errorf("failed to list instances in %s/%s: %w", def.Name, t.From, err)
				}

				for _, inst := range page {
					if err := ctx.Err(); err != nil {
						return fired, err
					}
					if s.fireAuto(ctx, def, t, inst, now) {
						fired++
					}
				}
				if len(page) < q.Limit {
					break
				}
				q = q.Next(page[len(page)-1])
			}
		}
	}
	return fired, nil
}

func (s *Scheduler) fireAuto(ctx context.Context, def *domainwf.Definition, t domainwf.Transition, inst *entity.Instance, now time.Time) bool {
	if t.Auto.BusinessHoursOnly {
		opts := calendar.Options{BusinessHoursOnly: true, ExcludeWeekends: true, ExcludeHolidays: true}
		elapsed, err := s.clock.BusinessMinutesBetween(ctx, inst.StateEnteredAt, now, opts)
		if err != nil {
			s.logger.Error("Failed to measure business time",
				zap.Int64("instance_id", inst.ID),
				zap.Error(err))
			return false
		}
		if elapsed < t.Auto.TimeoutMinutes {
			return false
		}
	}

	if ok, err := t.Guard().Eval(inst.EvalData(nil, domainwf.ActorAuto)); err != nil || !ok {
		return false
	}

	_, err := s.engine.ApplyTransition(ctx, workflow.TransitionRequest{
		InstanceID:      inst.ID,
		Transition:      t.Key,
		Actor:           domainwf.Actor{ID: domainwf.ActorAuto},
		Reason:          fmt.Sprintf("automatic after %d minutes in %s", t.Auto.TimeoutMinutes, t.From),
		ExpectedVersion: inst.Version,
	})
	switch {
	case err == nil:
		return true
	case errors.Is(err, domainwf.ErrConcurrentModification):
		s.logger.Debug("Timed transition lost to a concurrent update",
			zap.Int64("instance_id", inst.ID),
			zap.String("transition", t.Key))
	default:
		s.logger.Error("Failed to fire timed transition",
			zap.Int64("instance_id", inst.ID),
			zap.String("workflow", def.Name),
			zap.String("transition", t.Key),
			zap.Error(err))
	}
	return false
}
