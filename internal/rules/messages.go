package rules

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"github.com/irmahq/irma/internal/schema"
)

// Violation messages ship in English and German. English is first in the
// supported list, so it is the matcher's fallback for unknown locales.
var supportedLocales = []language.Tag{language.English, language.German}

var localeMatcher = language.NewMatcher(supportedLocales)

// MatchLocale resolves a BCP 47 tag like "de-AT" or "en-US" to one of the
// supported message locales. Unparseable or unsupported tags fall back to
// English.
func MatchLocale(tag string) language.Tag {
	parsed, err := language.Parse(tag)
	if err != nil {
		return language.English
	}
	matched, _, _ := localeMatcher.Match(parsed)
	// Matcher may return a regional variant; collapse to the base tag the
	// catalog is keyed by.
	base, _ := matched.Base()
	for _, s := range supportedLocales {
		if sb, _ := s.Base(); sb == base {
			return s
		}
	}
	return language.English
}

// catalog maps locale and kind to a message template. Argument order is
// fixed per kind; predicates supply the arguments.
var catalog = map[language.Tag]map[Kind]string{
	language.English: {
		KindRequired:    "value is required",
		KindRange:       "value %s is outside the allowed range %s",
		KindPattern:     "value %q does not match pattern %s",
		KindEnum:        "value %q is not one of %s",
		KindUnique:      "value %s already exists for another record",
		KindTimeRange:   "start %s is after end %s",
		KindScript:      "constraint %q is not satisfied",
		KindScriptError: "constraint script failed: %s",
	},
	language.German: {
		KindRequired:    "Wert ist erforderlich",
		KindRange:       "Wert %s liegt außerhalb des zulässigen Bereichs %s",
		KindPattern:     "Wert %q entspricht nicht dem Muster %s",
		KindEnum:        "Wert %q gehört nicht zu den zulässigen Werten %s",
		KindUnique:      "Wert %s existiert bereits für einen anderen Datensatz",
		KindTimeRange:   "Beginn %s liegt nach Ende %s",
		KindScript:      "Bedingung %q ist nicht erfüllt",
		KindScriptError: "Bedingungsskript fehlgeschlagen: %s",
	},
}

// rangeBounds carries declared numeric limits into message rendering, so
// the min/max labels localize together with the template they fill.
type rangeBounds struct {
	min, max *float64
}

var boundsLabels = map[language.Tag]struct{ min, max string }{
	language.English: {"min", "max"},
	language.German:  {"mindestens", "höchstens"},
}

func (b rangeBounds) render(loc language.Tag) string {
	labels, ok := boundsLabels[loc]
	if !ok {
		labels = boundsLabels[language.English]
	}
	var parts []string
	if b.min != nil {
		parts = append(parts, labels.min+" "+trimFloat(*b.min))
	}
	if b.max != nil {
		parts = append(parts, labels.max+" "+trimFloat(*b.max))
	}
	return strings.Join(parts, ", ")
}

func trimFloat(f float64) string {
	return schema.Key(schema.Float(f))
}

// message renders the localized message for a violation kind.
func message(loc language.Tag, kind Kind, args ...any) string {
	templates, ok := catalog[loc]
	if !ok {
		templates = catalog[language.English]
	}
	tmpl, ok := templates[kind]
	if !ok {
		return string(kind)
	}
	if len(args) == 0 {
		return tmpl
	}
	rendered := make([]any, len(args))
	for i, a := range args {
		if b, ok := a.(rangeBounds); ok {
			rendered[i] = b.render(loc)
			continue
		}
		rendered[i] = a
	}
	return fmt.Sprintf(tmpl, rendered...)
}
