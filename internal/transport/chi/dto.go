package chi

import (
	"time"

	"github.com/kailas-cloud/entitled/internal/domain/accesserr"
	"github.com/kailas-cloud/entitled/internal/domain/decision"
	"github.com/kailas-cloud/entitled/internal/domain/feature"
	domusage "github.com/kailas-cloud/entitled/internal/domain/usage"
	"github.com/kailas-cloud/entitled/internal/domain/usage/budget"
	"github.com/kailas-cloud/entitled/internal/usecase/trial"
	usageuc "github.com/kailas-cloud/entitled/internal/usecase/usage"
)

// UsageStatusResponse mirrors usage.Status.
type UsageStatusResponse struct {
	UsageCount    int        `json:"usage_count"`
	UsageLimit    int        `json:"usage_limit"`
	CanUseFeature bool       `json:"can_use_feature"`
	IsPremium     bool       `json:"is_premium"`
	ResetTime     *time.Time `json:"reset_time"`
}

// TrialBudgetResponse mirrors budget.Budget.
type TrialBudgetResponse struct {
	PerFeatureRemaining map[string]int `json:"per_feature_remaining"`
	PerFeatureCap       int            `json:"per_feature_cap"`
	GlobalRemaining     int            `json:"global_remaining"`
	ResetAt             *time.Time     `json:"reset_at"`
}

// SessionResponse is returned when a session starts.
type SessionResponse struct {
	Status UsageStatusResponse `json:"status"`
	Trials TrialBudgetResponse `json:"trials"`
}

// DecisionResponse mirrors decision.Decision.
type DecisionResponse struct {
	FeatureID string          `json:"feature_id,omitempty"`
	Allowed   bool            `json:"allowed"`
	Reason    decision.Reason `json:"reason"`
}

// UsageReportResponse mirrors usage.Report.
type UsageReportResponse struct {
	UserID      string                      `json:"user_id"`
	Tier        string                      `json:"tier"`
	Status      UsageStatusResponse         `json:"status"`
	Trials      TrialBudgetResponse         `json:"trials"`
	Features    map[string]DecisionResponse `json:"features"`
	GeneratedAt time.Time                   `json:"generated_at"`
}

// FeatureResponse is a catalog entry.
type FeatureResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// FeatureListResponse lists the catalog.
type FeatureListResponse struct {
	Items []FeatureResponse `json:"items"`
}

// FeatureUsageResponse mirrors usage.FeatureUsage.
type FeatureUsageResponse struct {
	FeatureID string `json:"feature_id"`
	Day       string `json:"day"`
	Quota     int64  `json:"quota"`
	Trial     int64  `json:"trial"`
	Premium   int64  `json:"premium"`
}

// ProAccessErrorResponse mirrors accesserr.ProAccessError.
type ProAccessErrorResponse struct {
	Kind           accesserr.Kind        `json:"kind"`
	IsProError     bool                  `json:"is_pro_error"`
	Message        string                `json:"message"`
	UpgradePrompt  string                `json:"upgrade_prompt,omitempty"`
	TrialAvailable *bool                 `json:"trial_available,omitempty"`
	Notification   *NotificationResponse `json:"notification,omitempty"`
}

// NotificationResponse is the toast the caller should raise.
type NotificationResponse struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// TrialResponse is the outcome of a trial action.
type TrialResponse struct {
	Status                 trial.Status            `json:"status"`
	InvocationID           string                  `json:"invocation_id,omitempty"`
	Success                bool                    `json:"success"`
	Message                string                  `json:"message"`
	TrialSessionsRemaining int                     `json:"trial_sessions_remaining"`
	UpgradeRequired        bool                    `json:"upgrade_required"`
	Error                  *ProAccessErrorResponse `json:"error,omitempty"`
}

// AssistResponse is the outcome of a gated assistant call.
type AssistResponse struct {
	Text        string          `json:"text"`
	Reason      decision.Reason `json:"reason"`
	TotalTokens int             `json:"total_tokens"`
}

// ListResponse is a plain list of strings.
type ListResponse struct {
	Items []string `json:"items"`
}

// ResetAllResponse reports a bulk reset.
type ResetAllResponse struct {
	Reset int `json:"reset"`
}

type consumeRequest struct {
	FeatureID string `json:"feature_id"`
}

type trialRequest struct {
	ControlID string `json:"control_id"`
}

type assistRequest struct {
	Prompt string `json:"prompt"`
}

type classifyRequest struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type subscriptionRequest struct {
	Status    string     `json:"status"`
	Tier      string     `json:"tier"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// SubscriptionResponse mirrors subscription.Subscription.
type SubscriptionResponse struct {
	UserID        string     `json:"user_id"`
	Status        string     `json:"status"`
	Tier          string     `json:"tier"`
	EffectiveTier string     `json:"effective_tier"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	IsActive      bool       `json:"is_active"`
	Features      []string   `json:"features"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func statusToResponse(st domusage.Status) UsageStatusResponse {
	resp := UsageStatusResponse{
		UsageCount:    st.UsageCount(),
		UsageLimit:    st.UsageLimit(),
		CanUseFeature: st.CanUseFeature(),
		IsPremium:     st.IsPremium(),
	}
	if st.HasResetTime() {
		resp.ResetTime = timePtr(st.ResetTime())
	}
	return resp
}

func budgetToResponse(b budget.Budget) TrialBudgetResponse {
	per := b.PerFeatureRemaining()
	if per == nil {
		per = map[string]int{}
	}
	return TrialBudgetResponse{
		PerFeatureRemaining: per,
		PerFeatureCap:       b.PerFeatureCap(),
		GlobalRemaining:     b.GlobalRemaining(),
		ResetAt:             timePtr(b.ResetAt()),
	}
}

func decisionToResponse(featureID string, d decision.Decision) DecisionResponse {
	return DecisionResponse{FeatureID: featureID, Allowed: d.Allowed(), Reason: d.Reason()}
}

func reportToResponse(r *domusage.Report) UsageReportResponse {
	features := make(map[string]DecisionResponse, len(r.Decisions()))
	for id, d := range r.Decisions() {
		features[id] = decisionToResponse("", d)
	}
	return UsageReportResponse{
		UserID:      r.UserID(),
		Tier:        string(r.Tier()),
		Status:      statusToResponse(r.Status()),
		Trials:      budgetToResponse(r.Budget()),
		Features:    features,
		GeneratedAt: r.GeneratedAt().UTC(),
	}
}

func featuresToResponse(fs []feature.Feature) FeatureListResponse {
	items := make([]FeatureResponse, len(fs))
	for i, f := range fs {
		items[i] = FeatureResponse{ID: f.ID(), Name: f.Name(), Description: f.Description()}
	}
	return FeatureListResponse{Items: items}
}

func featureUsageToResponse(u usageuc.FeatureUsage) FeatureUsageResponse {
	return FeatureUsageResponse{
		FeatureID: u.FeatureID,
		Day:       u.Day.Format(time.DateOnly),
		Quota:     u.Quota,
		Trial:     u.Trial,
		Premium:   u.Premium,
	}
}

func accessErrorToResponse(e accesserr.ProAccessError) ProAccessErrorResponse {
	resp := ProAccessErrorResponse{
		Kind:          e.Kind(),
		IsProError:    e.IsProError(),
		Message:       e.Message(),
		UpgradePrompt: e.UpgradePrompt(),
	}
	if avail, ok := e.TrialAvailable(); ok {
		resp.TrialAvailable = &avail
	}
	if n, ok := e.Notification(); ok {
		resp.Notification = &NotificationResponse{Title: n.Title, Description: n.Description}
	}
	return resp
}

func outcomeToResponse(o trial.Outcome) TrialResponse {
	resp := TrialResponse{
		Status:                 o.Status,
		Success:                o.Status == trial.StatusSucceeded,
		Message:                o.Message,
		TrialSessionsRemaining: o.Result.Remaining,
		UpgradeRequired:        o.Result.UpgradeRequired,
	}
	if o.Status != trial.StatusSuppressed {
		resp.InvocationID = o.InvocationID.String()
	}
	if o.Access.IsProError() {
		pe := accessErrorToResponse(o.Access)
		resp.Error = &pe
		resp.UpgradeRequired = true
	}
	return resp
}
