// Package actions implements the recommended-action store (C11): a
// deduplicated insert of RecommendedAction rows, gated by a cooldown check
// against existing open actions with a matching canonical target.
package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/codeready-toolchain/evalpipeline/internal/store"
)

// Cooldowns holds the default dedup window per action type, per spec.md
// §4.11's table.
var Cooldowns = map[string]time.Duration{
	"increase_eval_sampling": 6 * time.Hour,
	"require_human_review":   12 * time.Hour,
	"route_fallback":         12 * time.Hour,
	"run_investigation":      6 * time.Hour,
}

// Request describes one proposed action.
type Request struct {
	Tenant     string
	ActionType string
	Target     map[string]any
	Payload    map[string]any
	DecidedBy  string
}

// Create inserts a RecommendedAction unless an open action with the same
// type and canonical target already exists within the type's cooldown
// window. Returns whether a new action was created.
func Create(ctx context.Context, s *store.Store, req Request) (bool, error) {
	targetKey, err := canonicalKey(req.Target)
	if err != nil {
		return false, fmt.Errorf("canonicalize target: %w", err)
	}

	cooldown, ok := Cooldowns[req.ActionType]
	if !ok {
		cooldown = 6 * time.Hour
	}

	exists, err := hasRecentOpenAction(ctx, s, req.Tenant, req.ActionType, targetKey, cooldown)
	if err != nil {
		return false, fmt.Errorf("check recent open action: %w", err)
	}
	if exists {
		return false, nil
	}

	target, err := json.Marshal(req.Target)
	if err != nil {
		return false, err
	}
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return false, err
	}

	actionID := uuid.NewString()
	err = store.WithTx(ctx, s.Pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO recommended_actions (tenant, action_id, action_type, target, target_key, payload, decided_by, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7,'open')`,
			req.Tenant, actionID, req.ActionType, target, targetKey, payload, req.DecidedBy)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("insert recommended action: %w", err)
	}

	audit(ctx, s, req.Tenant, "action.created", map[string]any{
		"action_id":   actionID,
		"action_type": req.ActionType,
		"target":      req.Target,
	})

	return true, nil
}

func hasRecentOpenAction(ctx context.Context, s *store.Store, tenant, actionType, targetKey string, cooldown time.Duration) (bool, error) {
	var count int
	err := s.Pool.QueryRow(ctx, `
		SELECT count(*) FROM recommended_actions
		WHERE tenant = $1 AND action_type = $2 AND target_key = $3 AND status = 'open'
			AND created_at >= now() - $4::interval`,
		tenant, actionType, targetKey, cooldown.String()).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// canonicalKey produces a stable JSON string for a target map by sorting
// keys, so equivalent targets always hash to the same dedup key regardless
// of construction order.
func canonicalKey(target map[string]any) (string, error) {
	keys := make([]string, 0, len(target))
	for k := range target {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, map[string]any{"k": k, "v": target[k]})
	}
	b, err := json.Marshal(ordered)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func audit(ctx context.Context, s *store.Store, tenant, action string, details any) {
	b, err := json.Marshal(details)
	if err != nil {
		slog.Warn("audit marshal failed", "action", action, "error", err)
		return
	}
	if _, err := s.Pool.Exec(ctx, `INSERT INTO audit_entries (tenant, action, details) VALUES ($1,$2,$3)`, tenant, action, b); err != nil {
		slog.Warn("audit insert failed", "action", action, "error", err)
	}
}
