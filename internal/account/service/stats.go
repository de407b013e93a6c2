package service

import (
	"cmp"
	"context"
	"maps"
	"slices"

	"github.com/smallbiznis/luc/internal/account/domain"
	"github.com/smallbiznis/luc/internal/catalog"
	"github.com/smallbiznis/luc/internal/gating"
)

const (
	topServiceCount = 5
	statsDays       = 30
)

type usageCost struct {
	usage gating.Total
	cost  gating.Total
}

// Stats aggregates debits among the most recent ledger entries: totals,
// the top services by cost and the last days with activity (UTC).
func (m *Manager) Stats(ctx context.Context, userID string) (domain.AccountStats, error) {
	entries, err := m.History(ctx, userID, statsWindow)
	if err != nil {
		return domain.AccountStats{}, err
	}

	var overall usageCost
	services := map[catalog.ServiceKey]*usageCost{}
	days := map[string]*usageCost{}
	for _, e := range entries {
		if e.Type != domain.EntryTypeDebit {
			continue
		}
		overall.usage.Add(e.Amount)
		overall.cost.Add(e.Cost)
		bucket(services, e.Service).usage.Add(e.Amount)
		bucket(services, e.Service).cost.Add(e.Cost)
		day := e.Timestamp.UTC().Format("2006-01-02")
		bucket(days, day).usage.Add(e.Amount)
		bucket(days, day).cost.Add(e.Cost)
	}

	stats := domain.AccountStats{
		TotalUsage:  overall.usage.Float64(),
		TotalCost:   overall.cost.Float64(),
		TopServices: make([]domain.ServiceUsage, 0, len(services)),
		UsageByDay:  make([]domain.DailyUsage, 0, len(days)),
	}
	for key, uc := range services {
		stats.TopServices = append(stats.TopServices, domain.ServiceUsage{
			Service: key,
			Usage:   uc.usage.Float64(),
			Cost:    uc.cost.Float64(),
		})
	}
	slices.SortFunc(stats.TopServices, func(a, b domain.ServiceUsage) int {
		if c := cmp.Compare(b.Cost, a.Cost); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Usage, a.Usage); c != 0 {
			return c
		}
		return cmp.Compare(a.Service, b.Service)
	})
	if len(stats.TopServices) > topServiceCount {
		stats.TopServices = stats.TopServices[:topServiceCount]
	}

	dates := slices.Sorted(maps.Keys(days))
	if len(dates) > statsDays {
		dates = dates[len(dates)-statsDays:]
	}
	for _, date := range dates {
		uc := days[date]
		stats.UsageByDay = append(stats.UsageByDay, domain.DailyUsage{
			Date:  date,
			Usage: uc.usage.Float64(),
			Cost:  uc.cost.Float64(),
		})
	}
	return stats, nil
}

func bucket[K comparable](m map[K]*usageCost, key K) *usageCost {
	uc, ok := m[key]
	if !ok {
		uc = &usageCost{}
		m[key] = uc
	}
	return uc
}
