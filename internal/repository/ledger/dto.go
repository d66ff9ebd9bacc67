package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/kailas-cloud/entitled/internal/domain/usage"
)

// recordToHash converts a ledger record to a map for HSET.
func recordToHash(rec *usage.Record) (map[string]string, error) {
	trialJSON, err := json.Marshal(rec.TrialUsed)
	if err != nil {
		return nil, fmt.Errorf("marshal trial usage: %w", err)
	}
	return map[string]string{
		"user_id":           rec.UserID,
		"usage_count":       strconv.Itoa(rec.UsageCount),
		"usage_limit":       strconv.Itoa(rec.UsageLimit),
		"premium":           strconv.FormatBool(rec.Premium),
		"reset_at":          strconv.FormatInt(rec.ResetAt.UnixMilli(), 10),
		"trial_global_used": strconv.Itoa(rec.TrialGlobalUsed),
		"trial_used_json":   string(trialJSON),
		"version":           strconv.FormatUint(rec.Version, 10),
	}, nil
}

// recordFromHash hydrates a ledger record from an HGETALL result map.
func recordFromHash(m map[string]string) (*usage.Record, error) {
	count, err := strconv.Atoi(m["usage_count"])
	if err != nil {
		return nil, fmt.Errorf("invalid usage_count: %w", err)
	}
	limit, err := strconv.Atoi(m["usage_limit"])
	if err != nil {
		return nil, fmt.Errorf("invalid usage_limit: %w", err)
	}
	resetMs, err := strconv.ParseInt(m["reset_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid reset_at: %w", err)
	}

	premium, _ := strconv.ParseBool(m["premium"])

	globalUsed := 0
	if v, ok := m["trial_global_used"]; ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			globalUsed = parsed
		}
	}

	var version uint64
	if v := m["version"]; v != "" {
		version, _ = strconv.ParseUint(v, 10, 64)
	}

	trialUsed := make(map[string]int)
	if v := m["trial_used_json"]; v != "" {
		if err := json.Unmarshal([]byte(v), &trialUsed); err != nil {
			return nil, fmt.Errorf("unmarshal trial usage: %w", err)
		}
	}

	return &usage.Record{
		UserID:          m["user_id"],
		UsageCount:      count,
		UsageLimit:      limit,
		Premium:         premium,
		ResetAt:         time.UnixMilli(resetMs),
		TrialUsed:       trialUsed,
		TrialGlobalUsed: globalUsed,
		Version:         version,
	}, nil
}
