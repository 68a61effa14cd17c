package brand

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"unicode"

	"chartermap/internal/stores"

	"github.com/antzucaro/matchr"
)

const (
	DefaultLabel       = "Charter"
	DefaultIconPattern = `(?i)charter`
	DefaultTextPattern = `(?i)\bcharter\b`

	nearMissThreshold = 0.88
)

// Matcher decides whether a record belongs to a brand. Icons are matched
// loosely since they are file names like "ico-charter.svg", free text
// only matches the label as a whole word.
type Matcher struct {
	label string
	icon  *regexp.Regexp
	text  *regexp.Regexp
}

func NewMatcher(label, iconPattern, textPattern string) (Matcher, error) {
	if strings.TrimSpace(label) == "" {
		return Matcher{}, fmt.Errorf("brand label must not be empty")
	}
	icon, err := regexp.Compile(iconPattern)
	if err != nil {
		return Matcher{}, fmt.Errorf("icon pattern: %w", err)
	}
	text, err := regexp.Compile(textPattern)
	if err != nil {
		return Matcher{}, fmt.Errorf("text pattern: %w", err)
	}
	return Matcher{label: label, icon: icon, text: text}, nil
}

func Default() Matcher {
	m, err := NewMatcher(DefaultLabel, DefaultIconPattern, DefaultTextPattern)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Matcher) Label() string {
	return m.label
}

func (m Matcher) Accept(iconText, freeText string) bool {
	return m.icon.MatchString(iconText) || m.text.MatchString(freeText)
}

// Classify reports whether a cached entry on its own is already accepted.
func (m Matcher) Classify(entry stores.Entry) bool {
	return m.Accept(entry.Icon, entry.Name+" "+entry.Desc)
}

// NearMiss returns the first icon token that looks like the label without
// being accepted by the icon pattern, e.g. "chrter" in "img/chrter.svg".
func (m Matcher) NearMiss(iconText string) (string, bool) {
	if m.icon.MatchString(iconText) {
		return "", false
	}
	label := strings.ToLower(m.label)
	for _, token := range iconTokens(iconText) {
		if matchr.JaroWinkler(token, label, false) >= nearMissThreshold {
			return token, true
		}
	}
	return "", false
}

// iconTokens splits the base names of icon paths into lowercase words.
func iconTokens(iconText string) []string {
	var tokens []string
	for _, field := range strings.Fields(iconText) {
		base := strings.ToLower(path.Base(field))
		tokens = append(tokens, strings.FieldsFunc(base, func(r rune) bool {
			return !unicode.IsLetter(r)
		})...)
	}
	return tokens
}
