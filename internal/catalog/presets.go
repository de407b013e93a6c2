package catalog

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

var ErrUnknownPreset = errors.New("unknown_preset")

// PresetCategory groups presets by industry.
type PresetCategory string

const (
	CategoryTechnology   PresetCategory = "technology"
	CategoryContent      PresetCategory = "content"
	CategoryEcommerce    PresetCategory = "ecommerce"
	CategoryProfessional PresetCategory = "professional"
	CategoryCreative     PresetCategory = "creative"
	CategoryCustom       PresetCategory = "custom"
)

var presetCategories = []PresetCategory{
	CategoryTechnology,
	CategoryContent,
	CategoryEcommerce,
	CategoryProfessional,
	CategoryCreative,
	CategoryCustom,
}

func (c PresetCategory) Valid() bool {
	return slices.Contains(presetCategories, c)
}

// ParsePresetCategory validates raw input at the boundary.
func ParsePresetCategory(raw string) (PresetCategory, error) {
	cat := PresetCategory(strings.ToLower(strings.TrimSpace(raw)))
	if !cat.Valid() {
		return "", fmt.Errorf("%w: category %q", ErrUnknownPreset, raw)
	}
	return cat, nil
}

// Preset is a ready-made starting configuration for one industry. An
// account created from a preset tracks only the preset's services, with
// the preset's quotas as limits.
type Preset struct {
	ID              string                 `json:"id"`
	Name            string                 `json:"name"`
	Description     string                 `json:"description"`
	Category        PresetCategory         `json:"category"`
	RecommendedPlan string                 `json:"recommendedPlan"`
	Quotas          map[ServiceKey]float64 `json:"quotas"`
	UseCases        []string               `json:"useCases"`
}

// WithPresets replaces the built-in presets.
func WithPresets(presets []Preset) Option {
	return func(c *Catalog) { c.presetList = presets }
}

func (c *Catalog) indexPresets() error {
	c.presets = make(map[string]Preset, len(c.presetList))
	for _, p := range c.presetList {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return fmt.Errorf("%w: preset id is empty", ErrInvalidCatalog)
		}
		if _, dup := c.presets[id]; dup {
			return fmt.Errorf("%w: duplicate preset %q", ErrInvalidCatalog, id)
		}
		if !p.Category.Valid() {
			return fmt.Errorf("%w: preset %q has unknown category %q", ErrInvalidCatalog, id, p.Category)
		}
		if len(p.Quotas) == 0 {
			return fmt.Errorf("%w: preset %q has no services", ErrInvalidCatalog, id)
		}
		if _, ok := c.plans[p.RecommendedPlan]; !ok {
			return fmt.Errorf("%w: preset %q recommends unknown plan %q", ErrInvalidCatalog, id, p.RecommendedPlan)
		}
		for key, limit := range p.Quotas {
			if _, ok := c.services[key]; !ok {
				return fmt.Errorf("%w: preset %q references unknown service %q", ErrInvalidCatalog, id, key)
			}
			if !isNonNegative(limit) {
				return fmt.Errorf("%w: preset %q has invalid quota for %q", ErrInvalidCatalog, id, key)
			}
		}
		p.ID = id
		p.Quotas = maps.Clone(p.Quotas)
		p.UseCases = slices.Clone(p.UseCases)
		c.presets[id] = p
		c.presetOrder = append(c.presetOrder, id)
	}
	c.presetList = nil
	return nil
}

// Preset looks up a preset. The returned maps are copies.
func (c *Catalog) Preset(id string) (Preset, bool) {
	p, ok := c.presets[strings.TrimSpace(id)]
	if !ok {
		return Preset{}, false
	}
	p.Quotas = maps.Clone(p.Quotas)
	p.UseCases = slices.Clone(p.UseCases)
	return p, true
}

// Presets lists every preset in definition order.
func (c *Catalog) Presets() []Preset {
	out := make([]Preset, 0, len(c.presetOrder))
	for _, id := range c.presetOrder {
		p, _ := c.Preset(id)
		out = append(out, p)
	}
	return out
}

// PresetsByCategory lists the presets of one category in definition order.
func (c *Catalog) PresetsByCategory(cat PresetCategory) []Preset {
	out := []Preset{}
	for _, p := range c.Presets() {
		if p.Category == cat {
			out = append(out, p)
		}
	}
	return out
}

// DefaultPresets returns the built-in industry presets.
func DefaultPresets() []Preset {
	return []Preset{
		{
			ID:              "saas",
			Name:            "SaaS Platform",
			Description:     "Track API calls, storage, compute and workflow runs for a SaaS application.",
			Category:        CategoryTechnology,
			RecommendedPlan: "professional",
			Quotas: map[ServiceKey]float64{
				APICalls:       100000,
				StorageGB:      50,
				ContainerHours: 100,
				N8NExecutions:  5000,
			},
			UseCases: []string{"B2B SaaS", "Developer tools", "Internal platforms", "API services"},
		},
		{
			ID:              "ai_platform",
			Name:            "AI Platform",
			Description:     "Track model tokens, embeddings, vision and speech for AI applications.",
			Category:        CategoryTechnology,
			RecommendedPlan: "enterprise",
			Quotas: map[ServiceKey]float64{
				OpenRouterTokens: 10000,
				Embeddings:       50000,
				VisionAnalyses:   1000,
				ElevenLabsChars:  500000,
				CodeGenerations:  500,
			},
			UseCases: []string{"AI chatbots", "Content generation", "Image processing", "Voice applications"},
		},
		{
			ID:              "ecommerce",
			Name:            "E-Commerce Store",
			Description:     "Track storefront API calls, product images and order workflows.",
			Category:        CategoryEcommerce,
			RecommendedPlan: "starter",
			Quotas: map[ServiceKey]float64{
				APICalls:       50000,
				StorageGB:      20,
				N8NExecutions:  1000,
				VisionAnalyses: 200,
			},
			UseCases: []string{"Shopify stores", "WooCommerce", "Custom e-commerce", "Marketplaces"},
		},
		{
			ID:              "content_creator",
			Name:            "Content Creator",
			Description:     "Track media storage, voice-over, research and captioning.",
			Category:        CategoryContent,
			RecommendedPlan: "professional",
			Quotas: map[ServiceKey]float64{
				StorageGB:        100,
				ElevenLabsChars:  250000,
				BraveSearches:    2000,
				OpenRouterTokens: 3000,
			},
			UseCases: []string{"YouTubers", "Course creators", "Podcasters", "Streamers"},
		},
		{
			ID:              "publishing",
			Name:            "Publishing",
			Description:     "Track research, drafting and cover generation for book production.",
			Category:        CategoryContent,
			RecommendedPlan: "starter",
			Quotas: map[ServiceKey]float64{
				BraveSearches:    500,
				OpenRouterTokens: 2000,
				VisionAnalyses:   50,
				StorageGB:        5,
			},
			UseCases: []string{"Self-publishers", "KDP authors", "Publishing houses", "Ghostwriters"},
		},
		{
			ID:              "agency",
			Name:            "Marketing Agency",
			Description:     "Track campaign research, content generation and reporting workflows.",
			Category:        CategoryProfessional,
			RecommendedPlan: "professional",
			Quotas: map[ServiceKey]float64{
				BraveSearches:    5000,
				OpenRouterTokens: 5000,
				N8NExecutions:    2000,
				StorageGB:        25,
			},
			UseCases: []string{"Digital agencies", "Social media managers", "PR firms", "Consultants"},
		},
		{
			ID:              "freelancer",
			Name:            "Freelancer",
			Description:     "Track project files, research and code generation for solo work.",
			Category:        CategoryProfessional,
			RecommendedPlan: "free",
			Quotas: map[ServiceKey]float64{
				StorageGB:       10,
				BraveSearches:   200,
				CodeGenerations: 20,
			},
			UseCases: []string{"Web developers", "Designers", "Writers", "Consultants"},
		},
	}
}
