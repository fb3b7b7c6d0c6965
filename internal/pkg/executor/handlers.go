package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/financebee/app/models"
	"github.com/ManuelReschke/financebee/internal/pkg/jobqueue"
	"github.com/ManuelReschke/financebee/internal/pkg/revenue"
	"github.com/ManuelReschke/financebee/internal/pkg/subscription"
)

func (e *Executor) handleCheckoutCompleted(ctx context.Context, task *jobqueue.Task, ev *revenue.Event) (string, error) {
	period, ok := e.cfg.TierDurations[ev.Fields.Tier]
	if !ok {
		return "", permanentFailure(fmt.Errorf("no period configured for tier %q", ev.Fields.Tier))
	}

	now := e.now().UTC()
	in := subscription.ActivateInput{
		UserID:               ev.Fields.UserID,
		Tier:                 ev.Fields.Tier,
		VendorSubscriptionID: ev.Fields.VendorSubscriptionID,
		VendorCustomerID:     ev.Fields.VendorCustomerID,
		PeriodStart:          now,
		PeriodEnd:            now.Add(period),
		OccurredAt:           occurredAt(ev, now),
	}

	var res subscription.Result
	err := e.callTransition(ctx, task, func(ctx context.Context) error {
		var err error
		res, err = e.transition.Activate(ctx, in)
		return err
	})
	if err != nil {
		return "", err
	}

	if res.Stale {
		log.Warnf("[FinanceExecutor] Checkout %s for %s is older than the %s record, status kept", ev.ID, in.VendorSubscriptionID, res.Record.Status)
		return fmt.Sprintf("checkout for %s superseded, status %s kept", in.VendorSubscriptionID, res.Record.Status), nil
	}
	return fmt.Sprintf("activated %s tier=%s user=%s until %s", in.VendorSubscriptionID, in.Tier, in.UserID, in.PeriodEnd.Format(time.RFC3339)), nil
}

func (e *Executor) handleSubscriptionUpdated(ctx context.Context, task *jobqueue.Task, ev *revenue.Event) (string, error) {
	status, err := revenue.ProviderStatusToSubscriptionStatus(ev.ProviderStatus)
	if err != nil {
		return "", permanentFailure(err)
	}
	subID := ev.Fields.VendorSubscriptionID
	at := occurredAt(ev, e.now().UTC())

	var rec *models.SubscriptionRecord
	err = e.callTransition(ctx, task, func(ctx context.Context) error {
		found, err := e.transition.Lookup(ctx, subID)
		if errors.Is(err, subscription.ErrNotFound) {
			return nil
		}
		rec = found
		return err
	})
	if err != nil {
		return "", err
	}
	// Applied anyway: updates are last-write-wins.
	if rec != nil && at.Before(rec.LastEventAt) {
		log.Warnf("[FinanceExecutor] Reordered update %s for %s: event at %s, record (%s) last changed %s",
			ev.ID, subID, at.Format(time.RFC3339), rec.Status, rec.LastEventAt.Format(time.RFC3339))
	}

	var res subscription.Result
	err = e.callTransition(ctx, task, func(ctx context.Context) error {
		var err error
		res, err = e.transition.UpdateStatus(ctx, subID, status, ev.PeriodEnd, at)
		return err
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("updated %s status=%s", subID, res.Record.Status), nil
}

func (e *Executor) handleSubscriptionDeleted(ctx context.Context, task *jobqueue.Task, ev *revenue.Event) (string, error) {
	subID := ev.Fields.VendorSubscriptionID
	err := e.callTransition(ctx, task, func(ctx context.Context) error {
		_, err := e.transition.Cancel(ctx, subID, occurredAt(ev, e.now().UTC()))
		return err
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("canceled %s", subID), nil
}

func (e *Executor) handlePaymentFailed(ctx context.Context, task *jobqueue.Task, ev *revenue.Event) (string, error) {
	subID := ev.Fields.VendorSubscriptionID
	var res subscription.Result
	err := e.callTransition(ctx, task, func(ctx context.Context) error {
		var err error
		res, err = e.transition.MarkPastDue(ctx, subID, occurredAt(ev, e.now().UTC()))
		return err
	})
	if err != nil {
		return "", err
	}
	if res.Stale {
		return fmt.Sprintf("payment failure for %s ignored, status %s", subID, res.Record.Status), nil
	}
	return fmt.Sprintf("marked %s past_due", subID), nil
}

// occurredAt falls back to the processing time when the provider sent none.
func occurredAt(ev *revenue.Event, now time.Time) time.Time {
	if ev.OccurredAt.IsZero() {
		return now
	}
	return ev.OccurredAt
}
