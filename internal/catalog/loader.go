package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadOptions controls where the catalog file is looked up.
type LoadOptions struct {
	// File, when set, must exist.
	File        string
	Paths       []string
	DefaultPlan string
}

type fileCatalog struct {
	DefaultPlan     string        `mapstructure:"default_plan"`
	WarningPercent  *float64      `mapstructure:"warning_percent"`
	CriticalPercent *float64      `mapstructure:"critical_percent"`
	Services        []fileService `mapstructure:"services"`
	Plans           []filePlan    `mapstructure:"plans"`
}

type fileService struct {
	Key         string   `mapstructure:"key"`
	Name        string   `mapstructure:"name"`
	Unit        string   `mapstructure:"unit"`
	OverageRate *float64 `mapstructure:"overage_rate"`
	Description string   `mapstructure:"description"`
}

type filePlan struct {
	ID               string             `mapstructure:"id"`
	Name             string             `mapstructure:"name"`
	MonthlyPrice     float64            `mapstructure:"monthly_price"`
	OverageThreshold float64            `mapstructure:"overage_threshold"`
	Quotas           map[string]float64 `mapstructure:"quotas"`
}

var defaultSearchPaths = []string{
	"/var/lib/luc/config",
	"/etc/luc",
	".",
}

// Load reads catalog.yml and overlays it on the built-in catalog.
// A missing file yields the built-in catalog.
func Load(opts LoadOptions) (*Catalog, error) {
	v := viper.New()

	if file := strings.TrimSpace(opts.File); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("catalog")
		v.SetConfigType("yml")
		paths := opts.Paths
		if len(paths) == 0 {
			paths = defaultSearchPaths
		}
		for _, p := range paths {
			v.AddConfigPath(p)
		}
	}

	var fc fileCatalog
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read catalog: %w", err)
		}
	} else if err := v.UnmarshalKey("catalog", &fc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	services, err := overlayServices(DefaultServices(), fc.Services)
	if err != nil {
		return nil, err
	}
	plans, err := overlayPlans(DefaultPlans(), fc.Plans)
	if err != nil {
		return nil, err
	}

	defaultPlan := strings.TrimSpace(opts.DefaultPlan)
	if defaultPlan == "" {
		defaultPlan = strings.TrimSpace(fc.DefaultPlan)
	}
	alerts := DefaultAlerts()
	if fc.WarningPercent != nil {
		alerts.Warning = *fc.WarningPercent
	}
	if fc.CriticalPercent != nil {
		alerts.Critical = *fc.CriticalPercent
	}
	return New(services, plans, defaultPlan, WithAlerts(alerts), WithPresets(DefaultPresets()))
}

func overlayServices(base []ServiceBucket, overrides []fileService) ([]ServiceBucket, error) {
	index := make(map[ServiceKey]int, len(base))
	for i, svc := range base {
		index[svc.Key] = i
	}
	for _, o := range overrides {
		key, err := ParseServiceKey(o.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
		}
		i, ok := index[key]
		if !ok {
			base = append(base, ServiceBucket{Key: key})
			i = len(base) - 1
			index[key] = i
		}
		svc := &base[i]
		if o.Name != "" {
			svc.Name = o.Name
		}
		if o.Unit != "" {
			svc.Unit = o.Unit
		}
		if o.OverageRate != nil {
			svc.OverageRate = *o.OverageRate
		}
		if o.Description != "" {
			svc.Description = o.Description
		}
	}
	return base, nil
}

func overlayPlans(base []Plan, overrides []filePlan) ([]Plan, error) {
	index := make(map[string]int, len(base))
	for i, plan := range base {
		index[plan.ID] = i
	}
	for _, o := range overrides {
		id := strings.TrimSpace(o.ID)
		if id == "" {
			return nil, fmt.Errorf("%w: plan id is empty", ErrInvalidCatalog)
		}
		quotas := make(map[ServiceKey]float64, len(o.Quotas))
		for raw, limit := range o.Quotas {
			key, err := ParseServiceKey(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: plan %q: %v", ErrInvalidCatalog, id, err)
			}
			quotas[key] = limit
		}
		name := o.Name
		if name == "" {
			name = id
		}
		plan := Plan{
			ID:               id,
			Name:             name,
			MonthlyPrice:     o.MonthlyPrice,
			OverageThreshold: o.OverageThreshold,
			Quotas:           quotas,
		}
		if i, ok := index[id]; ok {
			base[i] = plan
			continue
		}
		index[id] = len(base)
		base = append(base, plan)
	}
	return base, nil
}
