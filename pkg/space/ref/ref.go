// Package ref implements C4: parsing and formatting of `space:<id>@<selector>`
// references, and classification of the selector grammar.
package ref

import (
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"asp/pkg/space"
)

var idPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

var gitPinPattern = regexp.MustCompile(`^git:[0-9a-f]{12,40}$`)

// Parse parses a space reference string into a structured Ref.
//
// Accepted forms: "space:<id>@<selector>" and, as a shorthand, a bare
// "space:<id>" (equivalent to "@stable"), or a bare "<id>" with no
// "space:" prefix at all.
func Parse(input string) (space.Ref, error) {
	raw := input
	s := input
	s = strings.TrimPrefix(s, "space:")

	var idPart, selectorPart string
	if at := strings.IndexByte(s, '@'); at >= 0 {
		idPart, selectorPart = s[:at], s[at+1:]
	} else {
		idPart, selectorPart = s, "stable"
	}

	if idPart == "" {
		return space.Ref{}, &space.RefParseError{Input: raw, Message: "missing space id"}
	}
	if !idPattern.MatchString(idPart) {
		return space.Ref{}, &space.RefParseError{Input: raw, Message: "space id must be lowercase kebab-case"}
	}
	if selectorPart == "" {
		return space.Ref{}, &space.RefParseError{Input: raw, Message: "missing selector after '@'"}
	}

	sel, err := ParseSelector(selectorPart)
	if err != nil {
		return space.Ref{}, &space.RefParseError{Input: raw, Message: err.Error()}
	}

	return space.Ref{
		SpaceId:  space.Id(idPart),
		Selector: sel,
		Original: raw,
	}, nil
}

// ParseSelector classifies a bare selector string (the part after '@').
func ParseSelector(s string) (space.Selector, error) {
	switch {
	case s == "dev":
		return space.Selector{Kind: space.SelectorDev}, nil

	case gitPinPattern.MatchString(s):
		return space.Selector{Kind: space.SelectorGitPin, GitSha: strings.TrimPrefix(s, "git:")}, nil

	default:
		norm := strings.TrimPrefix(s, "v")
		if isExactSemver(norm) {
			if v, err := semver.StrictNewVersion(norm); err == nil {
				return space.Selector{Kind: space.SelectorSemverExact, Version: v.String()}, nil
			}
		}
		if looksLikeRange(s) {
			if _, err := semver.NewConstraint(s); err == nil {
				return space.Selector{Kind: space.SelectorSemverRange, Version: s}, nil
			}
		}
		return space.Selector{Kind: space.SelectorDistTag, Tag: s}, nil
	}
}

var strictSemverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[0-9A-Za-z.-]+)?(\+[0-9A-Za-z.-]+)?$`)

func isExactSemver(s string) bool {
	return strictSemverPattern.MatchString(s)
}

// looksLikeRange distinguishes a semver range expression (caret, tilde,
// comparator, space-joined comparator list) from a bare dist-tag name that
// happens to parse as a (loose) constraint, e.g. "stable" does not.
func looksLikeRange(s string) bool {
	if s == "" {
		return false
	}
	c := s[0]
	if c == '^' || c == '~' || c == '>' || c == '<' || c == '=' {
		return true
	}
	return strings.ContainsAny(s, " ,")
}

// Format renders a Ref back into canonical "space:<id>@<selector>" form.
func Format(r space.Ref) string {
	return "space:" + string(r.SpaceId) + "@" + FormatSelector(r.Selector)
}

// FormatSelector renders a Selector back into its canonical string form.
func FormatSelector(s space.Selector) string {
	switch s.Kind {
	case space.SelectorDev:
		return "dev"
	case space.SelectorGitPin:
		return "git:" + s.GitSha
	case space.SelectorSemverExact, space.SelectorSemverRange:
		return s.Version
	default:
		return s.Tag
	}
}
