package assertion

import (
	"strings"

	"github.com/ternarybob/sitecheck/internal/models"
)

// Vars returns the placeholder values for a locale
func Vars(locale models.Locale) map[string]string {
	return map[string]string{
		"locale":      locale.Code,
		"locale_path": locale.Path,
		"hreflang":    locale.HrefLang,
		"title":       locale.Title,
	}
}

// Expand returns a copy of a with {name} placeholders in Expected, Values
// and Pattern replaced from vars. The authored assertion is left untouched.
func Expand(a *models.Assertion, vars map[string]string) *models.Assertion {
	out := *a
	out.Expected = ExpandString(a.Expected, vars)
	out.Pattern = ExpandString(a.Pattern, vars)
	if len(a.Values) > 0 {
		out.Values = make([]string, len(a.Values))
		for i, v := range a.Values {
			out.Values[i] = ExpandString(v, vars)
		}
	}
	return &out
}

// ExpandString replaces {name} placeholders in s
func ExpandString(s string, vars map[string]string) string {
	if !strings.Contains(s, "{") {
		return s
	}
	for name, value := range vars {
		s = strings.ReplaceAll(s, "{"+name+"}", value)
	}
	return s
}
