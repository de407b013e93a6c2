package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/luc/internal/catalog"
)

type EventType string

const (
	EventQuotaWarning    EventType = "quota_warning"
	EventQuotaCritical   EventType = "quota_critical"
	EventQuotaBlocked    EventType = "quota_blocked"
	EventOverageIncurred EventType = "overage_incurred"
	EventPlanChanged     EventType = "plan_changed"
	EventCycleReset      EventType = "cycle_reset"
)

// Event is an advisory notification about an account. Events are
// published only after the change they describe has been persisted.
type Event struct {
	Type      EventType          `json:"type"`
	UserID    string             `json:"userId"`
	Service   catalog.ServiceKey `json:"service,omitempty"`
	Message   string             `json:"message"`
	Data      map[string]any     `json:"data,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

type EventHandler interface {
	HandleEvent(ctx context.Context, event Event)
}

type EventHandlerFunc func(ctx context.Context, event Event)

func (f EventHandlerFunc) HandleEvent(ctx context.Context, event Event) { f(ctx, event) }
