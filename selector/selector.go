// Package selector decides which documents the Spring Boot language server
// is responsible for.
package selector

import (
	"fmt"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.lsp.dev/uri"
)

const (
	LanguageJava               = "java"
	LanguageBootPropertiesYAML = "spring-boot-properties-yaml"
	LanguageBootProperties     = "spring-boot-properties"
)

// DocumentSelector matches documents by language id or by a glob over their
// slash-separated path.
type DocumentSelector struct {
	Languages []string `yaml:"languages"`
	Patterns  []string `yaml:"patterns"`
}

func Default() DocumentSelector {
	return DocumentSelector{
		Languages: []string{LanguageJava, LanguageBootPropertiesYAML, LanguageBootProperties},
		Patterns: []string{
			"**/*.java",
			"**/application*.yml",
			"**/bootstrap*.yml",
			"**/application*.properties",
			"**/bootstrap*.properties",
		},
	}
}

func (s DocumentSelector) Validate() error {
	for _, p := range s.Patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid glob pattern %q", p)
		}
	}
	return nil
}

func (s DocumentSelector) MatchesLanguage(languageID string) bool {
	return slices.Contains(s.Languages, languageID)
}

// MatchesPath reports whether p matches any glob. p may be absolute or
// relative and uses the OS separator.
func (s DocumentSelector) MatchesPath(p string) bool {
	name := strings.TrimPrefix(filepath.ToSlash(p), "/")
	for _, pattern := range s.Patterns {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// MatchesURI reports whether a file URI matches any glob. Non-file URIs never
// match.
func (s DocumentSelector) MatchesURI(u string) bool {
	parsed, err := uri.Parse(u)
	if err != nil || !strings.HasPrefix(string(parsed), uri.FileScheme+"://") {
		return false
	}
	return s.MatchesPath(parsed.Filename())
}

// Matches reports whether the selector covers a document, either through its
// language id or its URI.
func (s DocumentSelector) Matches(languageID, u string) bool {
	if languageID != "" && s.MatchesLanguage(languageID) {
		return true
	}
	return s.MatchesURI(u)
}

// LanguageOf guesses the language id of a document from its file name. It
// returns "" for files the server does not handle.
func LanguageOf(p string) string {
	base := path.Base(filepath.ToSlash(p))
	isConfig := strings.HasPrefix(base, "application") || strings.HasPrefix(base, "bootstrap")
	switch {
	case strings.HasSuffix(base, ".java"):
		return LanguageJava
	case isConfig && (strings.HasSuffix(base, ".yml") || strings.HasSuffix(base, ".yaml")):
		return LanguageBootPropertiesYAML
	case isConfig && strings.HasSuffix(base, ".properties"):
		return LanguageBootProperties
	}
	return ""
}
