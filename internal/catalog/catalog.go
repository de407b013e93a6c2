package catalog

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
)

// ServiceKey identifies a metered service bucket. The set is closed.
type ServiceKey string

const (
	BraveSearches    ServiceKey = "brave_searches"
	ElevenLabsChars  ServiceKey = "elevenlabs_chars"
	ContainerHours   ServiceKey = "container_hours"
	N8NExecutions    ServiceKey = "n8n_executions"
	StorageGB        ServiceKey = "storage_gb"
	APICalls         ServiceKey = "api_calls"
	OpenRouterTokens ServiceKey = "openrouter_tokens"
	VisionAnalyses   ServiceKey = "vision_analyses"
	CodeGenerations  ServiceKey = "code_generations"
	Embeddings       ServiceKey = "embeddings"
)

// DefaultPlanID is assigned to lazily created accounts.
const DefaultPlanID = "free"

var allServiceKeys = []ServiceKey{
	BraveSearches,
	ElevenLabsChars,
	ContainerHours,
	N8NExecutions,
	StorageGB,
	APICalls,
	OpenRouterTokens,
	VisionAnalyses,
	CodeGenerations,
	Embeddings,
}

var (
	ErrUnknownService = errors.New("unknown_service")
	ErrUnknownPlan    = errors.New("unknown_plan")
	ErrInvalidCatalog = errors.New("invalid_catalog")
)

// AllServiceKeys returns every known key in catalog order.
func AllServiceKeys() []ServiceKey {
	return slices.Clone(allServiceKeys)
}

func (k ServiceKey) Valid() bool {
	return slices.Contains(allServiceKeys, k)
}

func (k ServiceKey) String() string { return string(k) }

// ParseServiceKey validates raw input at the boundary.
func ParseServiceKey(raw string) (ServiceKey, error) {
	key := ServiceKey(strings.ToLower(strings.TrimSpace(raw)))
	if !key.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownService, raw)
	}
	return key, nil
}

// ServiceBucket describes one metered service.
type ServiceBucket struct {
	Key         ServiceKey `json:"key"`
	Name        string     `json:"name"`
	Unit        string     `json:"unit"`
	OverageRate float64    `json:"overageRate"`
	Description string     `json:"description"`
}

// Plan is a named bundle of per-service quotas.
type Plan struct {
	ID               string                 `json:"id"`
	Name             string                 `json:"name"`
	MonthlyPrice     float64                `json:"monthlyPrice"`
	OverageThreshold float64                `json:"overageThreshold"`
	Quotas           map[ServiceKey]float64 `json:"quotas"`
}

// Quota reports the plan's limit for key.
func (p Plan) Quota(key ServiceKey) (float64, bool) {
	limit, ok := p.Quotas[key]
	return limit, ok
}

// Alerts are the quota percentages at which usage is flagged.
// Warning fires strictly above Warning; Critical fires at or above Critical.
type Alerts struct {
	Warning  float64 `json:"warning"`
	Critical float64 `json:"critical"`
}

func DefaultAlerts() Alerts {
	return Alerts{Warning: 80, Critical: 90}
}

// Catalog is the immutable service and plan configuration.
type Catalog struct {
	services    map[ServiceKey]ServiceBucket
	plans       map[string]Plan
	defaultPlan string
	alerts      Alerts

	presetList  []Preset
	presets     map[string]Preset
	presetOrder []string
}

type Option func(*Catalog)

// WithAlerts overrides the warning and critical percentages.
func WithAlerts(a Alerts) Option {
	return func(c *Catalog) { c.alerts = a }
}

// New validates the inputs and builds a catalog.
func New(services []ServiceBucket, plans []Plan, defaultPlan string, opts ...Option) (*Catalog, error) {
	c := &Catalog{
		services: make(map[ServiceKey]ServiceBucket, len(services)),
		plans:    make(map[string]Plan, len(plans)),
		alerts:   DefaultAlerts(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if !isNonNegative(c.alerts.Warning) || c.alerts.Critical < c.alerts.Warning || !isNonNegative(c.alerts.Critical) {
		return nil, fmt.Errorf("%w: alert thresholds must satisfy 0 <= warning <= critical", ErrInvalidCatalog)
	}

	for _, svc := range services {
		if !svc.Key.Valid() {
			return nil, fmt.Errorf("%w: service %q is not a known key", ErrInvalidCatalog, svc.Key)
		}
		if _, dup := c.services[svc.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate service %q", ErrInvalidCatalog, svc.Key)
		}
		if !isNonNegative(svc.OverageRate) {
			return nil, fmt.Errorf("%w: service %q has invalid overage rate", ErrInvalidCatalog, svc.Key)
		}
		if strings.TrimSpace(svc.Unit) == "" {
			return nil, fmt.Errorf("%w: service %q has no unit", ErrInvalidCatalog, svc.Key)
		}
		c.services[svc.Key] = svc
	}

	for _, plan := range plans {
		id := strings.TrimSpace(plan.ID)
		if id == "" {
			return nil, fmt.Errorf("%w: plan id is empty", ErrInvalidCatalog)
		}
		if _, dup := c.plans[id]; dup {
			return nil, fmt.Errorf("%w: duplicate plan %q", ErrInvalidCatalog, id)
		}
		if !isNonNegative(plan.OverageThreshold) || plan.OverageThreshold > 10 {
			return nil, fmt.Errorf("%w: plan %q has invalid overage threshold", ErrInvalidCatalog, id)
		}
		if !isNonNegative(plan.MonthlyPrice) {
			return nil, fmt.Errorf("%w: plan %q has invalid monthly price", ErrInvalidCatalog, id)
		}
		for key, limit := range plan.Quotas {
			if _, ok := c.services[key]; !ok {
				return nil, fmt.Errorf("%w: plan %q references unknown service %q", ErrInvalidCatalog, id, key)
			}
			if !isNonNegative(limit) {
				return nil, fmt.Errorf("%w: plan %q has invalid quota for %q", ErrInvalidCatalog, id, key)
			}
		}
		plan.ID = id
		plan.Quotas = maps.Clone(plan.Quotas)
		c.plans[id] = plan
	}

	if defaultPlan == "" {
		defaultPlan = DefaultPlanID
	}
	if _, ok := c.plans[defaultPlan]; !ok {
		return nil, fmt.Errorf("%w: default plan %q is not defined", ErrInvalidCatalog, defaultPlan)
	}
	c.defaultPlan = defaultPlan

	if err := c.indexPresets(); err != nil {
		return nil, err
	}
	return c, nil
}

// Service looks up a service bucket.
func (c *Catalog) Service(key ServiceKey) (ServiceBucket, bool) {
	svc, ok := c.services[key]
	return svc, ok
}

// Plan looks up a plan. The returned quota map is a copy.
func (c *Catalog) Plan(id string) (Plan, bool) {
	plan, ok := c.plans[strings.TrimSpace(id)]
	if !ok {
		return Plan{}, false
	}
	plan.Quotas = maps.Clone(plan.Quotas)
	return plan, true
}

// PlanOrDefault falls back to the default plan for unknown ids.
func (c *Catalog) PlanOrDefault(id string) Plan {
	if plan, ok := c.Plan(id); ok {
		return plan
	}
	return c.DefaultPlan()
}

func (c *Catalog) DefaultPlan() Plan {
	plan, _ := c.Plan(c.defaultPlan)
	return plan
}

func (c *Catalog) DefaultPlanID() string { return c.defaultPlan }

func (c *Catalog) Alerts() Alerts { return c.alerts }

// Services lists the configured services in catalog order.
func (c *Catalog) Services() []ServiceBucket {
	out := make([]ServiceBucket, 0, len(c.services))
	for _, key := range allServiceKeys {
		if svc, ok := c.services[key]; ok {
			out = append(out, svc)
		}
	}
	return out
}

// Plans lists the configured plans by monthly price, then id.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for id := range c.plans {
		plan, _ := c.Plan(id)
		out = append(out, plan)
	}
	slices.SortFunc(out, func(a, b Plan) int {
		switch {
		case a.MonthlyPrice < b.MonthlyPrice:
			return -1
		case a.MonthlyPrice > b.MonthlyPrice:
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func isNonNegative(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
