// Package i18n renders user-facing messages in the caller's language.
package i18n

import (
	"embed"
	"log"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/pelletier/go-toml/v2"
	"golang.org/x/text/language"
)

//go:embed active.*.toml
var localeFS embed.FS

// Message keys.
const (
	KeyEventNotFound      = "error.event_not_found"
	KeyDuplicateName      = "error.duplicate_name"
	KeyNameNotFound       = "error.name_not_found"
	KeyIDExhausted        = "error.id_exhausted"
	KeyStorageUnavailable = "error.storage_unavailable"
	KeyInvalidInput       = "error.invalid_input"
	KeyInternal           = "error.internal"
)

// Translator wraps a go-i18n bundle with a default language.
type Translator struct {
	bundle          *i18n.Bundle
	defaultLanguage language.Tag
}

// NewTranslator loads the embedded catalogues. An unparsable defaultLocale
// falls back to English.
func NewTranslator(defaultLocale string) *Translator {
	tag, err := language.Parse(defaultLocale)
	if err != nil {
		tag = language.English
	}
	bundle := i18n.NewBundle(tag)
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)

	for _, file := range []string{"active.en.toml", "active.fr.toml"} {
		if _, err := bundle.LoadMessageFileFS(localeFS, file); err != nil {
			log.Printf("i18n: failed to load %s: %v", file, err)
		}
	}

	return &Translator{bundle: bundle, defaultLanguage: tag}
}

// T renders key for an Accept-Language header value, falling back to the
// default language and finally to the key itself.
func (t *Translator) T(acceptLanguage, key string, data map[string]any) string {
	if key == "" {
		return ""
	}
	localizer := i18n.NewLocalizer(t.bundle, acceptLanguage, t.defaultLanguage.String())
	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    key,
		TemplateData: data,
	})
	if err != nil {
		log.Printf("i18n: localize failed (key=%s, accept=%q): %v", key, acceptLanguage, err)
		return key
	}
	return msg
}
