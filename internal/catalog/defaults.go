package catalog

// DefaultServices returns the built-in service definitions.
func DefaultServices() []ServiceBucket {
	return []ServiceBucket{
		{Key: BraveSearches, Name: "Brave Search API", Unit: "search", OverageRate: 0.005, Description: "Web, news, and video searches"},
		{Key: ElevenLabsChars, Name: "ElevenLabs TTS", Unit: "character", OverageRate: 0.00003, Description: "Text-to-speech character count"},
		{Key: ContainerHours, Name: "Container Runtime", Unit: "hour", OverageRate: 0.05, Description: "Docker container execution time"},
		{Key: N8NExecutions, Name: "Workflow Executions", Unit: "execution", OverageRate: 0.01, Description: "n8n workflow runs"},
		{Key: StorageGB, Name: "Cloud Storage", Unit: "GB", OverageRate: 0.025, Description: "File and data storage"},
		{Key: APICalls, Name: "API Calls", Unit: "call", OverageRate: 0.0001, Description: "General API endpoint calls"},
		{Key: OpenRouterTokens, Name: "OpenRouter Tokens", Unit: "K tokens", OverageRate: 0.002, Description: "AI model token usage (per 1K)"},
		{Key: VisionAnalyses, Name: "Vision Analysis", Unit: "image", OverageRate: 0.01, Description: "SAM and vision API analyses"},
		{Key: CodeGenerations, Name: "Code Generation", Unit: "generation", OverageRate: 0.05, Description: "Full code generation requests"},
		{Key: Embeddings, Name: "Embeddings", Unit: "K tokens", OverageRate: 0.0001, Description: "Text embedding computations"},
	}
}

// DefaultPlans returns the built-in plan tiers.
func DefaultPlans() []Plan {
	return []Plan{
		{
			ID:               "free",
			Name:             "Free Tier",
			MonthlyPrice:     0,
			OverageThreshold: 0,
			Quotas: map[ServiceKey]float64{
				BraveSearches:    100,
				ElevenLabsChars:  10000,
				ContainerHours:   1,
				N8NExecutions:    50,
				StorageGB:        1,
				APICalls:         1000,
				OpenRouterTokens: 100,
				VisionAnalyses:   20,
				CodeGenerations:  10,
				Embeddings:       50,
			},
		},
		{
			ID:               "starter",
			Name:             "Starter",
			MonthlyPrice:     29,
			OverageThreshold: 0.1,
			Quotas: map[ServiceKey]float64{
				BraveSearches:    1000,
				ElevenLabsChars:  100000,
				ContainerHours:   10,
				N8NExecutions:    500,
				StorageGB:        10,
				APICalls:         10000,
				OpenRouterTokens: 1000,
				VisionAnalyses:   200,
				CodeGenerations:  100,
				Embeddings:       500,
			},
		},
		{
			ID:               "professional",
			Name:             "Professional",
			MonthlyPrice:     99,
			OverageThreshold: 0.25,
			Quotas: map[ServiceKey]float64{
				BraveSearches:    5000,
				ElevenLabsChars:  500000,
				ContainerHours:   50,
				N8NExecutions:    2000,
				StorageGB:        50,
				APICalls:         50000,
				OpenRouterTokens: 5000,
				VisionAnalyses:   1000,
				CodeGenerations:  500,
				Embeddings:       2000,
			},
		},
		{
			ID:               "enterprise",
			Name:             "Enterprise",
			MonthlyPrice:     499,
			OverageThreshold: 0.5,
			Quotas: map[ServiceKey]float64{
				BraveSearches:    50000,
				ElevenLabsChars:  5000000,
				ContainerHours:   500,
				N8NExecutions:    20000,
				StorageGB:        500,
				APICalls:         500000,
				OpenRouterTokens: 50000,
				VisionAnalyses:   10000,
				CodeGenerations:  5000,
				Embeddings:       20000,
			},
		},
	}
}

// Default builds the catalog from the built-in definitions.
func Default() *Catalog {
	c, err := New(DefaultServices(), DefaultPlans(), DefaultPlanID, WithPresets(DefaultPresets()))
	if err != nil {
		panic(err)
	}
	return c
}
