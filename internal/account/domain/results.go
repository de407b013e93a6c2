package domain

import (
	"time"

	"github.com/smallbiznis/luc/internal/catalog"
)

// AdmissionZone classifies a pre-flight check.
type AdmissionZone string

const (
	ZoneWithinQuota    AdmissionZone = "within_quota"
	ZoneOverage        AdmissionZone = "overage"
	ZoneBlocked        AdmissionZone = "blocked"
	ZoneUnknownService AdmissionZone = "unknown_service"
	ZoneInvalidAmount  AdmissionZone = "invalid_amount"
)

// AdmissionDecision is the verdict of CanExecute.
type AdmissionDecision struct {
	Allowed        bool               `json:"allowed"`
	Zone           AdmissionZone      `json:"zone"`
	Reason         string             `json:"reason,omitempty"`
	Service        catalog.ServiceKey `json:"service"`
	CurrentUsed    float64            `json:"currentUsed"`
	Limit          float64            `json:"limit"`
	Requested      float64            `json:"requested"`
	WouldExceedBy  float64            `json:"wouldExceedBy,omitempty"`
	OverageAllowed float64            `json:"overageAllowed"`
	ProjectedCost  float64            `json:"projectedCost,omitempty"`
}

type DebitResult struct {
	Success      bool               `json:"success"`
	Reason       string             `json:"reason,omitempty"`
	Service      catalog.ServiceKey `json:"service"`
	Amount       float64            `json:"amount"`
	NewUsed      float64            `json:"newUsed"`
	NewOverage   float64            `json:"newOverage"`
	OverageCost  float64            `json:"overageCost"`
	QuotaPercent float64            `json:"quotaPercent"`
	Warning      string             `json:"warning,omitempty"`
	Decision     AdmissionDecision  `json:"decision"`
	Events       []Event            `json:"-"`
}

// BatchItem is one operation of a batch request.
type BatchItem struct {
	Service catalog.ServiceKey `json:"service"`
	Amount  float64            `json:"amount"`
}

type BatchDecision struct {
	AllAllowed bool                `json:"allAllowed"`
	Results    []AdmissionDecision `json:"results"`
}

// BatchDebitResult reports an all-or-nothing batch debit.
type BatchDebitResult struct {
	Success     bool          `json:"success"`
	Reason      string        `json:"reason,omitempty"`
	OverageCost float64       `json:"overageCost"`
	Results     []DebitResult `json:"results"`
}

type CreditResult struct {
	Success         bool               `json:"success"`
	Reason          string             `json:"reason,omitempty"`
	Service         catalog.ServiceKey `json:"service"`
	AmountRequested float64            `json:"amountRequested"`
	AmountCredited  float64            `json:"amountCredited"`
	NewUsed         float64            `json:"newUsed"`
	NewOverage      float64            `json:"newOverage"`
}

// Quote previews a charge without mutating the account.
type Quote struct {
	Service          catalog.ServiceKey `json:"service"`
	Unit             string             `json:"unit,omitempty"`
	Amount           float64            `json:"amount"`
	CurrentUsed      float64            `json:"currentUsed"`
	Limit            float64            `json:"limit"`
	WouldExceed      bool               `json:"wouldExceed"`
	ProjectedOverage float64            `json:"projectedOverage"`
	ProjectedCost    float64            `json:"projectedCost"`
	Allowed          bool               `json:"allowed"`
	Reason           string             `json:"reason,omitempty"`
}

type ServiceStatus string

const (
	StatusOK       ServiceStatus = "ok"
	StatusWarning  ServiceStatus = "warning"
	StatusCritical ServiceStatus = "critical"
	StatusBlocked  ServiceStatus = "blocked"
)

type ServiceSummary struct {
	Service     catalog.ServiceKey `json:"key"`
	Name        string             `json:"name"`
	Unit        string             `json:"unit"`
	Used        float64            `json:"used"`
	Limit       float64            `json:"limit"`
	Overage     float64            `json:"overage"`
	PercentUsed float64            `json:"percentUsed"`
	OverageCost float64            `json:"overageCost"`
	Status      ServiceStatus      `json:"status"`
}

type Summary struct {
	UserID             string           `json:"userId"`
	PlanID             string           `json:"planId"`
	PlanName           string           `json:"planName"`
	BillingCycleStart  time.Time        `json:"billingCycleStart"`
	BillingCycleEnd    time.Time        `json:"billingCycleEnd"`
	Services           []ServiceSummary `json:"services"`
	TotalOverageCost   float64          `json:"totalOverageCost"`
	OverallPercentUsed float64          `json:"overallPercentUsed"`
	Warnings           []string         `json:"warnings"`
}

// AccountAlerts condenses a summary into the states callers gate on.
type AccountAlerts struct {
	UserID          string               `json:"userId"`
	HasWarnings     bool                 `json:"hasWarnings"`
	BlockedServices []catalog.ServiceKey `json:"blockedServices"`
	Warnings        []string             `json:"warnings"`
}

// AccountStats aggregates recent debit history.
type AccountStats struct {
	TotalUsage  float64        `json:"totalUsage"`
	TotalCost   float64        `json:"totalCost"`
	TopServices []ServiceUsage `json:"topServices"`
	UsageByDay  []DailyUsage   `json:"usageByDay"`
}

type ServiceUsage struct {
	Service catalog.ServiceKey `json:"service"`
	Usage   float64            `json:"usage"`
	Cost    float64            `json:"cost"`
}

type DailyUsage struct {
	Date  string  `json:"date"`
	Usage float64 `json:"usage"`
	Cost  float64 `json:"cost"`
}
