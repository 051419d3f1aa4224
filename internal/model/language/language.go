package language

import "strings"

// Code identifies one of the supported assistant languages.
type Code string

const (
	English  Code = "en"
	Spanish  Code = "es"
	French   Code = "fr"
	German   Code = "de"
	Japanese Code = "ja"
	Chinese  Code = "zh"
)

// Default is used whenever a requested code is not supported.
const Default = English

type profile struct {
	name   string
	locale string
	prompt string
}

var order = []Code{English, Spanish, French, German, Japanese, Chinese}

var profiles = map[Code]profile{
	English:  {name: "English", locale: "en-US", prompt: promptEN},
	Spanish:  {name: "Español", locale: "es-ES", prompt: promptES},
	French:   {name: "Français", locale: "fr-FR", prompt: promptFR},
	German:   {name: "Deutsch", locale: "de-DE", prompt: promptDE},
	Japanese: {name: "日本語", locale: "ja-JP", prompt: promptJA},
	Chinese:  {name: "中文", locale: "zh-CN", prompt: promptZH},
}

// Info is the public description of a supported language.
type Info struct {
	Code   Code   `json:"code"`
	Name   string `json:"name"`
	Locale string `json:"locale"`
}

// All returns the supported languages in display order.
func All() []Info {
	out := make([]Info, 0, len(order))
	for _, code := range order {
		out = append(out, code.Info())
	}
	return out
}

// Parse reports whether raw names a supported language. Region suffixes
// ("fr-FR", "zh_CN") and case are ignored.
func Parse(raw string) (Code, bool) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if idx := strings.IndexAny(value, "-_"); idx > 0 {
		value = value[:idx]
	}
	code := Code(value)
	if _, ok := profiles[code]; !ok {
		return "", false
	}
	return code, true
}

// Resolve is Parse with fallback to Default.
func Resolve(raw string) Code {
	if code, ok := Parse(raw); ok {
		return code
	}
	return Default
}

// Supported reports whether c is one of the six known codes.
func (c Code) Supported() bool {
	_, ok := profiles[c]
	return ok
}

func (c Code) profile() profile {
	if p, ok := profiles[c]; ok {
		return p
	}
	return profiles[Default]
}

// Locale returns the speech locale (BCP 47) for c.
func (c Code) Locale() string {
	return c.profile().locale
}

// SystemPrompt returns the emergency assistant instructions for c.
func (c Code) SystemPrompt() string {
	return c.profile().prompt
}

// DisplayName returns the native name of the language.
func (c Code) DisplayName() string {
	return c.profile().name
}

// Info describes c; unknown codes describe the default language.
func (c Code) Info() Info {
	if !c.Supported() {
		c = Default
	}
	p := profiles[c]
	return Info{Code: c, Name: p.name, Locale: p.locale}
}

func (c Code) String() string {
	return string(c)
}
