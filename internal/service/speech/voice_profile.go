package speech

import (
	"strings"
)

const defaultVoice = "alloy"

var openAIVoices = map[string]struct{}{
	"alloy":   {},
	"ash":     {},
	"ballad":  {},
	"coral":   {},
	"echo":    {},
	"fable":   {},
	"nova":    {},
	"onyx":    {},
	"sage":    {},
	"shimmer": {},
	"verse":   {},
}

// NormalizeVoice 返回可用的音色名称，未知音色回退到默认音色。
func NormalizeVoice(voice string) string {
	normalized := strings.ToLower(strings.TrimSpace(voice))
	if _, ok := openAIVoices[normalized]; ok {
		return normalized
	}
	return defaultVoice
}

// SpeedFromRate 将语速映射到合成接口允许的区间 [0.25, 4]。
func SpeedFromRate(rate float32) float64 {
	if rate <= 0 {
		return 1
	}
	speed := float64(rate)
	if speed < 0.25 {
		speed = 0.25
	}
	if speed > 4 {
		speed = 4
	}
	return speed
}

// TranscriptionLanguage 从 locale 中提取两位语言代码，例如 "fr-FR" -> "fr"。
func TranscriptionLanguage(locale string) string {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		return ""
	}
	if idx := strings.IndexAny(locale, "-_"); idx > 0 {
		locale = locale[:idx]
	}
	return strings.ToLower(locale)
}

func audioContentType(format string) string {
	switch strings.ToLower(format) {
	case "mp3", "mpeg":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	case "ogg", "opus":
		return "audio/ogg"
	case "mp4", "m4a":
		return "audio/mp4"
	default:
		return "audio/webm"
	}
}
