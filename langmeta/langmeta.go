// Package langmeta provides language display metadata (native and English
// names, emoji flags) for the service and file-name language codes used in
// CLI output.
package langmeta

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Meta describes language display metadata.
type Meta struct {
	// Name is the language name in the language itself.
	Name string
	// EnglishName is the English name.
	EnglishName string
	Flag        string
}

// scriptVariants maps @-suffixes used in service and file-name codes to
// ISO 15924 script subtags.
var scriptVariants = map[string]string{
	"latin":    "Latn",
	"latn":     "Latn",
	"cyrillic": "Cyrl",
	"cyrl":     "Cyrl",
	"arab":     "Arab",
}

// canonicalize turns codes like "pt_br", "az@latin" or "uz@Latn" into BCP 47
// form ("pt-BR", "az-Latn", "uz-Latn").
func canonicalize(lang string) string {
	normalized := strings.ReplaceAll(strings.TrimSpace(lang), "_", "-")
	if normalized == "" {
		return ""
	}

	var script string
	if base, variant, ok := strings.Cut(normalized, "@"); ok {
		normalized = base
		script = scriptVariants[strings.ToLower(variant)]
	}

	parts := strings.Split(normalized, "-")
	parts[0] = strings.ToLower(parts[0])
	if len(parts) >= 2 {
		parts[1] = strings.ToUpper(parts[1])
	}
	if script != "" {
		parts = append([]string{parts[0], script}, parts[1:]...)
	}
	return strings.Join(parts, "-")
}

// Tag parses a service or file-name language code.
func Tag(lang string) (language.Tag, error) {
	return language.Parse(canonicalize(lang))
}

// Resolve returns best-effort language metadata for language codes,
// supporting variants like pt_BR, pt-BR and az@latin.
// Unknown codes resolve to their own code as name.
func Resolve(lang string) Meta {
	tag, err := Tag(lang)
	if err != nil || tag == language.Und {
		return Meta{Name: lang, EnglishName: lang}
	}

	m := Meta{
		Name:        display.Self.Name(tag),
		EnglishName: display.English.Tags().Name(tag),
		Flag:        flag(tag),
	}
	if m.Name == "" {
		m.Name = lang
	}
	if m.EnglishName == "" {
		m.EnglishName = lang
	}
	return m
}

// flag returns the regional indicator pair for the tag's (possibly inferred)
// region, or "" when there is none.
func flag(tag language.Tag) string {
	region, conf := tag.Region()
	if conf == language.No {
		return ""
	}
	code := region.String()
	if len(code) != 2 || code[0] < 'A' || code[0] > 'Z' || code[1] < 'A' || code[1] > 'Z' {
		return ""
	}
	return string([]rune{
		0x1F1E6 + rune(code[0]-'A'),
		0x1F1E6 + rune(code[1]-'A'),
	})
}

// Label formats a code for display, e.g. "pt_BR  🇧🇷 português (Brasil)".
func Label(lang string) string {
	m := Resolve(lang)
	if m.Name == lang {
		return lang
	}
	if m.Flag == "" {
		return lang + "  " + m.Name
	}
	return lang + "  " + m.Flag + " " + m.Name
}
