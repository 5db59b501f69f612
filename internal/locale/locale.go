// Package locale renders calendar event texts in the configured language.
package locale

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/tartampluch/go-untis-sync/internal/config"
	"github.com/tartampluch/go-untis-sync/internal/engine"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

// Catalog holds every embedded translation.
type Catalog struct {
	bundle    *i18n.Bundle
	matcher   language.Matcher
	tags      []language.Tag
	languages []string
}

// NewCatalog loads the embedded locale files. Malformed file names are skipped;
// a catalog without any language is an error.
func NewCatalog() (*Catalog, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", config.ErrLocalesAccess, err)
	}

	var detected []string
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "active.") || !strings.HasSuffix(name, ".json") {
			slog.Debug(config.MsgLocaleSkip,
				config.LogKeyComponent, config.CompI18n,
				config.LogKeyFile, name,
			)
			continue
		}

		langCode := strings.TrimSuffix(strings.TrimPrefix(name, "active."), ".json")
		if langCode == "" {
			slog.Warn(config.MsgLocaleBadName,
				config.LogKeyComponent, config.CompI18n,
				config.LogKeyFile, name,
			)
			continue
		}

		if _, err := bundle.LoadMessageFileFS(localeFS, "locales/"+name); err != nil {
			slog.Error(config.ErrLocaleLoad,
				config.LogKeyComponent, config.CompI18n,
				config.LogKeyFile, name,
				config.LogKeyError, err,
			)
			continue
		}
		detected = append(detected, langCode)
		slog.Debug(config.MsgLocaleLoaded,
			config.LogKeyComponent, config.CompI18n,
			config.LogKeyLang, langCode,
			config.LogKeyFile, name,
		)
	}
	if len(detected) == 0 {
		return nil, errors.New(config.ErrLocalesAccess)
	}

	// The matcher falls back to its first tag, which must be the bundle default.
	tags := []language.Tag{language.English}
	for _, tag := range bundle.LanguageTags() {
		if tag != language.English {
			tags = append(tags, tag)
		}
	}
	return &Catalog{
		bundle:    bundle,
		matcher:   language.NewMatcher(tags),
		tags:      tags,
		languages: detected,
	}, nil
}

// Languages lists the language codes found in the embedded files.
func (c *Catalog) Languages() []string {
	return c.languages
}

// Match returns the best supported tag for lang ("de-AT" resolves to "de").
// Unknown or empty input yields English.
func (c *Catalog) Match(lang string) language.Tag {
	if lang == "" {
		lang = config.DefaultLanguage
	}
	_, idx, _ := c.matcher.Match(language.Make(lang))
	return c.tags[idx]
}

// Phrasebook returns an engine.Phrasebook for lang.
func (c *Catalog) Phrasebook(lang string) *Phrasebook {
	tag := c.Match(lang)
	return &Phrasebook{
		Tag:       tag,
		localizer: i18n.NewLocalizer(c.bundle, tag.String()),
	}
}

// Phrasebook implements engine.Phrasebook with go-i18n messages.
// Missing keys fall back to the untranslated English text.
type Phrasebook struct {
	Tag       language.Tag
	localizer *i18n.Localizer
}

var _ engine.Phrasebook = (*Phrasebook)(nil)

func (p *Phrasebook) DayTitle(day time.Time) string {
	layout, ok := p.msg(config.TKeyFormatDate, nil)
	if !ok {
		layout = config.FallbackDateLayout
	}
	out, ok := p.msg(config.TKeyDayTitle, map[string]any{"Date": day.Format(layout)})
	if !ok {
		return engine.FallbackPhrasebook{}.DayTitle(day)
	}
	return out
}

func (p *Phrasebook) DayDescription(lessons, breakMinutes int) string {
	out, ok := p.msg(config.TKeyDayDescription, map[string]any{"Count": lessons, "Minutes": breakMinutes})
	if !ok {
		return engine.FallbackPhrasebook{}.DayDescription(lessons, breakMinutes)
	}
	return out
}

func (p *Phrasebook) BlockDetails(teachers, rooms []string) string {
	none := p.none()
	out, ok := p.msg(config.TKeyTeachersRooms, map[string]any{
		"Teachers": engine.JoinLabels(teachers, none),
		"Rooms":    engine.JoinLabels(rooms, none),
	})
	if !ok {
		return engine.FallbackPhrasebook{}.BlockDetails(teachers, rooms)
	}
	return out
}

func (p *Phrasebook) LessonDetails(teachers, classes []string) string {
	none := p.none()
	out, ok := p.msg(config.TKeyTeachersClass, map[string]any{
		"Teachers": engine.JoinLabels(teachers, none),
		"Classes":  engine.JoinLabels(classes, none),
	})
	if !ok {
		return engine.FallbackPhrasebook{}.LessonDetails(teachers, classes)
	}
	return out
}

func (p *Phrasebook) none() string {
	if s, ok := p.msg(config.TKeyNone, nil); ok {
		return s
	}
	return config.FallbackNone
}

// msg translates key, reporting false when the key is missing.
func (p *Phrasebook) msg(key string, data map[string]any) (string, bool) {
	if p == nil || p.localizer == nil {
		return "", false
	}
	out, err := p.localizer.Localize(&i18n.LocalizeConfig{MessageID: key, TemplateData: data})
	if err != nil {
		slog.Debug(config.MsgTransMissing,
			config.LogKeyComponent, config.CompI18n,
			config.LogKeyKey, key,
			config.LogKeyLang, p.Tag.String(),
			config.LogKeyError, err,
		)
	}
	// A message found only in the default language still comes with an error.
	return out, out != ""
}
