package llm

import "time"

// Preset names a vetted provider/model/parameter combination that pipeline
// authors can reference instead of hand-tuning values.
type Preset struct {
	Provider    ProviderName
	Model       string
	Temperature float64
	MaxTokens   int
}

var presets = map[string]Preset{
	"exploratory": {Provider: ProviderOpenAI, Model: "gpt-4-turbo", Temperature: 0.8, MaxTokens: 200},
	"focused":     {Provider: ProviderAnthropic, Model: "claude-3-5-sonnet-20241022", Temperature: 0.6, MaxTokens: 150},
	"concise":     {Provider: ProviderAnthropic, Model: "claude-3-haiku-20240307", Temperature: 0.5, MaxTokens: 100},
	"creative":    {Provider: ProviderOpenAI, Model: "gpt-4o", Temperature: 0.9, MaxTokens: 250},
}

// PresetFor looks up a named preset.
func PresetFor(name string) (Preset, bool) {
	p, ok := presets[name]
	return p, ok
}

// Config expands the preset into request parameters with standard
// timeout and nucleus sampling defaults.
func (p Preset) Config() Config {
	return Config{
		Model:       p.Model,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
		Timeout:     45 * time.Second,
		TopP:        1.0,
	}
}
