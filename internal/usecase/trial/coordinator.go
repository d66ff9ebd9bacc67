package trial

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/entitled/internal/domain"
	"github.com/kailas-cloud/entitled/internal/domain/accesserr"
	"github.com/kailas-cloud/entitled/internal/metrics"
	"github.com/kailas-cloud/entitled/internal/usecase/classify"
)

// DefaultErrorMessage is reported when an action fails without a usable message.
const DefaultErrorMessage = "Failed to use trial session"

// Status is the outcome of a UseTrial call.
type Status string

// Outcome statuses.
const (
	StatusSuppressed Status = "suppressed"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// Outcome describes one UseTrial call. Suppressed calls carry no invocation id.
type Outcome struct {
	Status       Status
	InvocationID uuid.UUID
	Result       ActionResult
	Message      string
	Access       accesserr.ProAccessError
	Err          error
}

// Coordinator runs at most one trial action at a time. A call made while
// another is in flight is dropped, not queued.
type Coordinator struct {
	loading   atomic.Bool
	action    Action
	refresher Refresher
	syncer    TrialSyncer
	onSuccess func(Outcome)
	onError   func(Outcome)
	logger    *zap.Logger
}

// NewCoordinator creates a coordinator for action. refresher may be nil.
func NewCoordinator(action Action, refresher Refresher, logger *zap.Logger) *Coordinator {
	return &Coordinator{action: action, refresher: refresher, logger: logger}
}

// WithSync mirrors successful remote actions into syncer.
func (c *Coordinator) WithSync(syncer TrialSyncer) *Coordinator {
	c.syncer = syncer
	return c
}

// OnSuccess sets the success callback.
func (c *Coordinator) OnSuccess(fn func(Outcome)) *Coordinator {
	c.onSuccess = fn
	return c
}

// OnError sets the failure callback.
func (c *Coordinator) OnError(fn func(Outcome)) *Coordinator {
	c.onError = fn
	return c
}

// IsLoading reports whether an action is in flight.
func (c *Coordinator) IsLoading() bool { return c.loading.Load() }

// UseTrial performs the action when nothing is in flight and remaining > 0.
// Otherwise it is a no-op returning StatusSuppressed. Failures never escape
// as errors: they are reported through Outcome and the OnError callback.
func (c *Coordinator) UseTrial(ctx context.Context, userID, featureID string, remaining int) Outcome {
	if remaining <= 0 || !c.loading.CompareAndSwap(false, true) {
		metrics.TrialOutcomesTotal.WithLabelValues(string(StatusSuppressed)).Inc()
		return Outcome{Status: StatusSuppressed}
	}
	defer c.loading.Store(false)

	out := Outcome{InvocationID: uuid.New()}
	res, err := c.action.Do(ctx, userID, featureID)
	if err == nil && res.Success {
		c.sync(ctx, userID, featureID, res.Remaining)
	}
	c.refresh(ctx, userID)

	switch {
	case err != nil:
		out.Status = StatusFailed
		out.Access = classify.Classify(err)
		out.Message = failureMessage(out.Access, err)
		out.Err = fmt.Errorf("%w: %w", domain.ErrRemoteAction, err)
	case !res.Success:
		out.Status = StatusFailed
		out.Result = res
		out.Message = res.Message
		if out.Message == "" {
			out.Message = DefaultErrorMessage
		}
		out.Err = fmt.Errorf("%w: %s", domain.ErrTrialExhausted, out.Message)
	default:
		out.Status = StatusSucceeded
		out.Result = res
		out.Message = res.Message
	}

	metrics.TrialOutcomesTotal.WithLabelValues(string(out.Status)).Inc()
	c.logger.Info("Trial action finished",
		zap.String("invocation_id", out.InvocationID.String()),
		zap.String("user_id", userID),
		zap.String("feature", featureID),
		zap.String("status", string(out.Status)),
	)

	if out.Status == StatusSucceeded {
		if c.onSuccess != nil {
			c.onSuccess(out)
		}
	} else if c.onError != nil {
		c.onError(out)
	}
	return out
}

func (c *Coordinator) sync(ctx context.Context, userID, featureID string, remaining int) {
	if c.syncer == nil {
		return
	}
	if _, err := c.syncer.SyncTrial(context.WithoutCancel(ctx), userID, featureID, remaining); err != nil {
		c.logger.Warn("Failed to sync trial budget after action",
			zap.String("user_id", userID),
			zap.String("feature", featureID),
			zap.Error(err),
		)
	}
}

func (c *Coordinator) refresh(ctx context.Context, userID string) {
	if c.refresher == nil {
		return
	}
	if err := c.refresher.Refresh(context.WithoutCancel(ctx), userID); err != nil {
		c.logger.Warn("Failed to refresh usage after trial action",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

func failureMessage(pe accesserr.ProAccessError, err error) string {
	if pe.IsProError() {
		return pe.Message()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return DefaultErrorMessage + ": request timed out"
	}
	var apiErr classify.APIError
	if errors.As(err, &apiErr) && apiErr.APIMessage() != "" {
		return apiErr.APIMessage()
	}
	return DefaultErrorMessage
}
