package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/guardianbot/guardian/protect"
	"github.com/guardianbot/guardian/protect/detect"
	"github.com/guardianbot/guardian/protect/punish"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("guardian/engine")

const quotaCounterName = "guardian-quota-actions"

func triggeredCounterName(t protect.ProtectionType) string {
	return "guardian-triggered-" + t.String()
}

func dispatchKey(c protect.CommunityID) string {
	return "dispatch/" + c.String()
}

// handoff passes a detector violation to the Dispatcher, or dispatches it inline when there is none.
func (eng *Engine) handoff(ctx context.Context, v *detect.Violation) {
	if eng.Dispatcher == nil {
		eng.dispatch(ctx, v)
		return
	}
	err := eng.Dispatcher.AddWork(ctx, dispatchKey(v.Community), func(ctx context.Context) error {
		eng.dispatch(ctx, v)
		return nil
	})
	if err != nil {
		violationDropCount.WithLabelValues(v.Type.String()).Inc()
		eng.Logger.Error("dropping violation", "community", v.Community, "type", v.Type.String(), "members", len(v.Members), "err", err)
	}
}

// dispatch punishes every member of a violation, then sends exactly one notification.
func (eng *Engine) dispatch(ctx context.Context, v *detect.Violation) {
	start := time.Now()
	typ := v.Type.String()
	ctx, span := tracer.Start(ctx, "dispatchViolation")
	defer span.End()
	span.SetAttributes(
		attribute.String("community", v.Community.String()),
		attribute.String("type", typ),
		attribute.String("action", v.Action.Kind.String()),
		attribute.Int("members", len(v.Members)),
	)
	defer func() {
		violationDuration.WithLabelValues(typ).Observe(time.Since(start).Seconds())
	}()

	logger := eng.Logger.With("community", v.Community, "type", typ, "action", v.Action.String())
	logger.Info("violation triggered", "members", len(v.Members))
	violationCount.WithLabelValues(typ).Inc()
	eng.increment(ctx, triggeredCounterName(v.Type), v.Community)

	n := &Notification{
		Community: v.Community,
		Type:      v.Type,
		Action:    v.Action,
		Members:   v.Members,
		Reason:    v.Reason,
	}

	if v.Type != protect.Warning && !eng.circuitBreak(ctx, v) {
		n.Suppressed = true
	} else {
		errs := eng.execute(ctx, v)
		roleMissing := false
		for i, err := range errs {
			if err == nil {
				continue
			}
			n.Failed = append(n.Failed, v.Members[i])
			if errors.Is(err, protect.ErrRoleNotFound) {
				roleMissing = true
				continue
			}
			logger.Warn("punishment failed", "member", v.Members[i], "err", err)
		}
		if roleMissing {
			if v.Type == protect.Warning {
				logger.Warn("skipping warning punishment, role no longer exists", "role", v.Action.Role)
			} else {
				eng.autoStop(ctx, v.Type, v.Community, "punishment role no longer exists")
			}
		}
	}

	if eng.Notifier != nil {
		if err := eng.Notifier.SendViolation(ctx, n); err != nil {
			notifyErrorCount.Inc()
			logger.Error("failed to send violation notification", "err", err)
		}
	}
}

// circuitBreak reserves quota for the violation's members, returning false if the community's daily quota can not cover them.
func (eng *Engine) circuitBreak(ctx context.Context, v *detect.Violation) bool {
	if eng.QuotaActionsDay <= 0 || eng.Counters == nil {
		return true
	}
	ok, used, err := eng.Counters.Take(ctx, quotaCounterName, v.Community, len(v.Members), eng.QuotaActionsDay)
	if err != nil {
		// fail open: a broken counter store should not disable protection
		eng.Logger.Error("reserving action quota", "community", v.Community, "err", err)
		return true
	}
	if !ok {
		circuitBreakCount.WithLabelValues(v.Type.String()).Inc()
		eng.Logger.Warn("CIRCUIT BREAKER: automatic actions", "community", v.Community, "used", used, "quota", eng.QuotaActionsDay, "members", len(v.Members))
		return false
	}
	return true
}

// execute applies the violation's action to each member in parallel, each call individually time-bounded. The returned errors are indexed like v.Members.
func (eng *Engine) execute(ctx context.Context, v *detect.Violation) []error {
	errs := make([]error, len(v.Members))
	timeout := eng.ActionTimeout
	if timeout <= 0 {
		timeout = DefaultActionTimeout
	}

	var g errgroup.Group
	if eng.MaxParallelActions > 0 {
		g.SetLimit(eng.MaxParallelActions)
	}
	for i, m := range v.Members {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					errs[i] = fmt.Errorf("punishment panicked: %v", r)
				}
			}()
			actx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			err := v.Action.Apply(actx, eng.Executor, punish.Target{
				Community: v.Community,
				Member:    m,
				Reason:    v.Reason,
			})
			if err != nil {
				actionErrorCount.WithLabelValues(v.Type.String(), v.Action.Kind.String()).Inc()
			} else {
				actionExecutedCount.WithLabelValues(v.Type.String(), v.Action.Kind.String()).Inc()
			}
			errs[i] = err
			return nil
		})
	}
	g.Wait()
	return errs
}

func (eng *Engine) autoStop(ctx context.Context, t protect.ProtectionType, c protect.CommunityID, why string) {
	ok, err := eng.stop(ctx, t, c)
	if err != nil {
		eng.Logger.Error("failed to disable protection", "community", c, "type", t.String(), "err", err)
		return
	}
	if ok {
		autoStopCount.WithLabelValues(t.String()).Inc()
		eng.Logger.Warn("protection disabled automatically", "community", c, "type", t.String(), "reason", why)
	}
}

func (eng *Engine) increment(ctx context.Context, name string, c protect.CommunityID) {
	if eng.Counters == nil {
		return
	}
	if err := eng.Counters.Add(ctx, name, c, 1); err != nil {
		eng.Logger.Error("incrementing counter", "name", name, "community", c, "err", err)
	}
}
