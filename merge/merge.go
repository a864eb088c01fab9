// Package merge reconciles freshly pulled translations with the translations
// already committed to the source tree.
//
// An old translation is usually better than falling back to the master
// (English) text when a language is incomplete, so each Strategy copies prior
// translations into the fresh content where the fresh content has none.
package merge

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
)

// Strategy turns fresh service content into the content written to disk.
//
// masterPath is the master-language file, lang the local language code used
// in file names, existingPath the translation file currently on disk (which
// may not exist) and fresh the raw content returned by the service.
type Strategy interface {
	Merge(masterPath, lang, existingPath string, fresh []byte) ([]byte, error)
}

// ErrExistingUnreadable wraps failures to read or parse the translation that
// is already on disk. Strategies recover from it by keeping the fresh content.
var ErrExistingUnreadable = errors.New("existing translation unreadable")

// Format names accepted by ForFormat.
const (
	FormatNone     = "none"
	FormatYAML     = "yaml"
	FormatYAMLLang = "yaml-lang"
	FormatStrings  = "strings"
)

// Formats lists every known format name.
var Formats = []string{FormatNone, FormatYAML, FormatYAMLLang, FormatStrings}

// ForFormat returns the strategy for a configured format name. The empty
// name and "none" mean the content is written verbatim (nil strategy).
func ForFormat(name, masterLang string, log *slog.Logger) (Strategy, error) {
	switch name {
	case "", FormatNone:
		return nil, nil
	case FormatYAML:
		return YAML{MasterLang: masterLang, Logger: log}, nil
	case FormatYAMLLang:
		return Chain{LangRewrite{}, YAML{MasterLang: masterLang, Logger: log}}, nil
	case FormatStrings:
		return Strings{Logger: log}, nil
	}
	return nil, fmt.Errorf("unknown format %q (valid: none, yaml, yaml-lang, strings)", name)
}

// Chain applies strategies in order, feeding each one the previous output.
type Chain []Strategy

// Merge implements Strategy.
func (c Chain) Merge(masterPath, lang, existingPath string, fresh []byte) ([]byte, error) {
	out := fresh
	for _, s := range c {
		var err error
		out, err = s.Merge(masterPath, lang, existingPath, out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// readExisting parses the on-disk translation, tagging any failure with
// ErrExistingUnreadable.
func readExisting[T any](path string, parse func(string) (T, error)) (T, error) {
	doc, err := parse(path)
	if err != nil {
		return doc, fmt.Errorf("%w: %w", ErrExistingUnreadable, err)
	}
	return doc, nil
}

// noteExisting logs why the existing translation is not used. A missing
// file is the normal state for a newly added language.
func noteExisting(log *slog.Logger, path string, err error) {
	if errors.Is(err, fs.ErrNotExist) {
		log.Info("no existing translation to merge", "path", path)
		return
	}
	log.Warn("failed to open existing translation", "path", path, "error", err)
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
