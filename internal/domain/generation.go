package domain

// DecodingConfig holds the sampling parameters sent with every generation call.
type DecodingConfig struct {
	Temperature     float32
	TopP            float32
	TopK            int32
	MaxOutputTokens int32
}

// HarmCategory names a content category screened by the provider's safety filter.
type HarmCategory string

const (
	HarmHarassment       HarmCategory = "harassment"
	HarmHateSpeech       HarmCategory = "hate_speech"
	HarmSexuallyExplicit HarmCategory = "sexually_explicit"
	HarmDangerousContent HarmCategory = "dangerous_content"
)

// SafetyConfig blocks content at or above medium severity in each listed category.
type SafetyConfig struct {
	BlockMediumAndAbove []HarmCategory
}
