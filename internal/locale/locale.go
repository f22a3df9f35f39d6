// Package locale holds the engine's bilingual (Spanish/English) message
// catalog and negotiates the active language for a session from a
// user's stated preference or an Accept-Language header.
package locale

import (
	_ "embed"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Supported is the matcher used to negotiate a request's preferred
// language against the two locales the engine ships messages for.
var Supported = language.NewMatcher([]language.Tag{
	language.English, // index 0: default
	language.Spanish,
})

//go:embed catalog/en.yaml
var enYAML []byte

//go:embed catalog/es.yaml
var esYAML []byte

// Catalog is a flat key → message map for one language.
type Catalog map[string]string

var catalogs = map[string]Catalog{}

func init() {
	for lang, raw := range map[string][]byte{"en": enYAML, "es": esYAML} {
		var c Catalog
		if err := yaml.Unmarshal(raw, &c); err != nil {
			panic("locale: malformed embedded catalog for " + lang + ": " + err.Error())
		}
		catalogs[lang] = c
	}
}

// Negotiate picks "en" or "es" from an Accept-Language header value or a
// bare language preference string, defaulting to English.
func Negotiate(acceptLanguage string) string {
	tag, _, _ := language.ParseAcceptLanguage(acceptLanguage)
	if len(tag) == 0 {
		return "en"
	}
	_, idx, _ := Supported.Match(tag...)
	if idx == 1 {
		return "es"
	}
	return "en"
}

// Message returns the localised string for key in the given language,
// falling back to English, then to the key itself if truly undefined.
func Message(lang, key string) string {
	if c, ok := catalogs[lang]; ok {
		if msg, ok := c[key]; ok {
			return msg
		}
	}
	if msg, ok := catalogs["en"][key]; ok {
		return msg
	}
	return key
}
