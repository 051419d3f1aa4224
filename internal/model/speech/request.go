package speech

// RecognitionConfig mirrors the platform recognizer settings. The assistant
// always captures a single final utterance.
type RecognitionConfig struct {
	Continuous     bool   `json:"continuous"`
	InterimResults bool   `json:"interimResults"`
	Lang           string `json:"lang"`
}

// SingleUtterance returns the only configuration the input bridge uses.
func SingleUtterance(locale string) RecognitionConfig {
	return RecognitionConfig{Continuous: false, InterimResults: false, Lang: locale}
}

// Utterance is one piece of text to vocalize.
type Utterance struct {
	Text   string  `json:"text"`
	Lang   string  `json:"lang"`
	Rate   float32 `json:"rate"`
	Pitch  float32 `json:"pitch"`
	Volume float32 `json:"volume"`
}

// NewUtterance applies the neutral prosody defaults.
func NewUtterance(text, locale string) Utterance {
	return Utterance{Text: text, Lang: locale, Rate: 1, Pitch: 1, Volume: 1}
}
