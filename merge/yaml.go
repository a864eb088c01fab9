package merge

import (
	"fmt"
	"log/slog"

	"github.com/minios-linux/txpull/yamlfile"
)

// YAML merges structured documents keyed by a language root (store assets
// and similar). The service leaves missing translations empty rather than
// filling in the master text, so every master key whose fresh value is
// empty gets the existing translation, when there is one.
type YAML struct {
	// MasterLang is the root key of the master document (default "en").
	MasterLang string
	Logger     *slog.Logger
}

// Merge implements Strategy.
func (m YAML) Merge(masterPath, lang, existingPath string, fresh []byte) ([]byte, error) {
	log := loggerOrDefault(m.Logger).With("merger", FormatYAML, "lang", lang)

	doc, err := yamlfile.Parse(fresh)
	if err != nil {
		log.Warn("fresh translation is not valid YAML, keeping it as-is", "error", err)
		return fresh, nil
	}

	master, err := yamlfile.ParseFile(masterPath)
	if err != nil {
		return nil, fmt.Errorf("reading master: %w", err)
	}
	masterLang := m.MasterLang
	if masterLang == "" {
		masterLang = "en"
	}
	if loc := master.Locale(); loc != masterLang {
		log.Warn("master root key differs from master language", "root", loc, "want", masterLang)
	}

	existing, err := readExisting(existingPath, yamlfile.ParseFile)
	if err != nil {
		noteExisting(log, existingPath, err)
		return fresh, nil
	}

	restored := 0
	for _, key := range master.Keys() {
		if v, _ := doc.Get(key); v != "" {
			continue
		}
		old, ok := existing.Get(key)
		if !ok || old == "" {
			continue
		}
		if err := doc.Set(key, old); err != nil {
			log.Warn("cannot restore existing translation", "key", key, "error", err)
			continue
		}
		restored++
	}
	log.Debug("merged", "restored", restored)

	return doc.Marshal()
}

// LangRewrite renames the language root of a structured document to the
// local language code. The service cannot express script variants such as
// "ug@Latn", so those are pulled under the base code and renamed here.
type LangRewrite struct{}

// Merge implements Strategy.
func (LangRewrite) Merge(_, lang, _ string, fresh []byte) ([]byte, error) {
	doc, err := yamlfile.Parse(fresh)
	if err != nil {
		return nil, fmt.Errorf("rewriting language root: %w", err)
	}
	if doc.Locale() == lang {
		return fresh, nil
	}
	if err := doc.SetLocale(lang); err != nil {
		return nil, fmt.Errorf("rewriting language root: %w", err)
	}
	return doc.Marshal()
}
