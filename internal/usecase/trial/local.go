package trial

import (
	"context"
	"errors"
	"fmt"

	"github.com/kailas-cloud/entitled/internal/domain"
)

// ExhaustedMessage is returned when no trial unit is left.
const ExhaustedMessage = "No trial sessions remaining. Upgrade to Pro for unlimited access!"

// LocalAction spends trial units from the local ledger. Used when no upstream
// backend is configured.
type LocalAction struct {
	ledger TrialConsumer
}

// NewLocalAction creates a LocalAction.
func NewLocalAction(ledger TrialConsumer) *LocalAction {
	return &LocalAction{ledger: ledger}
}

// Do consumes one trial unit for featureID.
func (a *LocalAction) Do(ctx context.Context, userID, featureID string) (ActionResult, error) {
	b, err := a.ledger.ConsumeTrial(ctx, userID, featureID)
	if errors.Is(err, domain.ErrTrialExhausted) {
		return ActionResult{Message: ExhaustedMessage, UpgradeRequired: true}, nil
	}
	if err != nil {
		return ActionResult{}, fmt.Errorf("consume trial: %w", err)
	}
	return ActionResult{
		Success:   true,
		Message:   "Trial session used for " + featureID,
		Remaining: b.GlobalRemaining(),
	}, nil
}
