package language

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryCodeHasPromptAndLocale(t *testing.T) {
	seenLocales := map[string]Code{}
	for _, info := range All() {
		require.True(t, info.Code.Supported())
		assert.NotEmpty(t, info.Code.SystemPrompt())
		assert.NotEmpty(t, info.Name)
		prev, dup := seenLocales[info.Locale]
		require.Falsef(t, dup, "locale %s shared by %s and %s", info.Locale, prev, info.Code)
		seenLocales[info.Locale] = info.Code
	}
	assert.Len(t, seenLocales, 6)
}

func TestResolveFallsBackToEnglish(t *testing.T) {
	for _, raw := range []string{"", "xx", "klingon", "pt-BR"} {
		code := Resolve(raw)
		assert.Equal(t, English, code, raw)
		assert.Equal(t, "en-US", code.Locale())
		assert.Equal(t, English.SystemPrompt(), code.SystemPrompt())
	}
}

func TestResolveNormalizesInput(t *testing.T) {
	cases := map[string]Code{
		"fr":     French,
		" FR ":   French,
		"fr-FR":  French,
		"zh_CN":  Chinese,
		"ja":     Japanese,
		"de-AT":  German,
		"es-419": Spanish,
	}
	for raw, want := range cases {
		assert.Equal(t, want, Resolve(raw), raw)
	}
}

func TestUnknownCodeUsesDefaultProfile(t *testing.T) {
	unknown := Code("xx")
	assert.False(t, unknown.Supported())
	assert.Equal(t, "en-US", unknown.Locale())
	assert.Equal(t, English.SystemPrompt(), unknown.SystemPrompt())
}
