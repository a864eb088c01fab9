// Package config implements txpull.yaml, the declaration of pulled resources.
//
// txpull.yaml declares which resources are pulled from the translation
// service, where their master and translated files live, how fresh content
// is merged and which build step runs afterwards. Without a txpull.yaml the
// built-in Default configuration is used.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"gopkg.in/yaml.v3"

	"github.com/minios-linux/txpull/merge"
)

// ---------------------------------------------------------------------------
// YAML schema
// ---------------------------------------------------------------------------

// PullFile is the top-level txpull.yaml structure.
type PullFile struct {
	// Project is the service project slug.
	Project string `yaml:"project,omitempty"`
	// APIURL is the service API root.
	APIURL string `yaml:"api_url,omitempty"`
	// SourceLang is the master language code (default "en").
	SourceLang string `yaml:"source_lang,omitempty"`
	// Threshold is the completion percentage at which unmapped languages
	// are reported (default DefaultThreshold). 0 reports every language.
	Threshold *int `yaml:"threshold,omitempty"`
	// Languages is the default language map for all resources.
	Languages LangMap `yaml:"languages,omitempty"`
	// Resources is the list of resources to pull, in order.
	Resources []Resource `yaml:"resources"`
	// Build is an optional command run after every resource was pulled.
	Build *Build `yaml:"build,omitempty"`

	// Dir is the directory relative paths resolve against. Load sets it to
	// the directory holding the file.
	Dir string `yaml:"-"`
}

// Resource describes one service resource.
type Resource struct {
	// ID is the service resource slug.
	ID string `yaml:"id"`
	// Master is the master-language file.
	Master string `yaml:"master"`
	// Output is the translated file path; {lang} is replaced by the local
	// language code.
	Output string `yaml:"output"`
	// Format selects the merge strategy: none, yaml, yaml-lang or strings.
	Format string `yaml:"format,omitempty"`
	// Encoding is the output character encoding (default utf-8).
	Encoding string `yaml:"encoding,omitempty"`
	// BOM writes a byte order mark first.
	BOM bool `yaml:"bom,omitempty"`
	// Languages overrides the global language map for this resource.
	Languages LangMap `yaml:"languages,omitempty"`
}

// Build is the downstream build step.
type Build struct {
	Command string `yaml:"command"`
	Dir     string `yaml:"dir,omitempty"`
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

// FileName is the default config file name.
const FileName = "txpull.yaml"

// LangPlaceholder is substituted with the local language code in output paths.
const LangPlaceholder = "{lang}"

// DefaultThreshold is the completion percentage from which unpulled
// languages are reported when the config does not say otherwise.
const DefaultThreshold = 50

const (
	defaultSourceLang = "en"
	defaultEncoding   = "utf-8"
)

// DefaultLanguages maps service language codes to the codes used in file
// names for the Windows client.
var DefaultLanguages = LangMap{
	{"am", "am"},       // Amharic
	{"ar", "ar"},       // Arabic
	{"az@latin", "az"}, // Azerbaijani
	{"be", "be"},       // Belarusian
	{"bn", "bn"},       // Bengali
	{"bo", "bo"},       // Tibetan
	{"de", "de"},       // German
	{"el_GR", "el"},    // Greek
	{"es", "es"},       // Spanish
	{"fa", "fa"},       // Farsi/Persian
	{"fa_AF", "fa_AF"}, // Persian (Afghanistan)
	{"fi_FI", "fi"},    // Finnish
	{"fr", "fr"},       // French
	{"hi", "hi"},       // Hindi
	{"hr", "hr"},       // Croatian
	{"id", "id"},       // Indonesian
	{"it", "it"},       // Italian
	{"kk", "kk"},       // Kazakh
	{"km", "km"},       // Khmer
	{"ko", "ko"},       // Korean
	{"ky", "ky"},       // Kyrgyz
	{"my", "my"},       // Burmese
	{"nb_NO", "nb"},    // Norwegian
	{"nl", "nl"},       // Dutch
	{"om", "om"},       // Afaan Oromoo
	{"pt_BR", "pt_BR"}, // Portuguese (Brazil)
	{"pt_PT", "pt_PT"}, // Portuguese (Portugal)
	{"ru", "ru"},       // Russian
	{"sw", "sw"},       // Swahili
	{"tg", "tg"},       // Tajik
	{"th", "th"},       // Thai
	{"ti", "ti"},       // Tigrinya
	{"tk", "tk"},       // Turkmen
	{"tr", "tr"},       // Turkish
	{"uk", "uk"},       // Ukrainian
	{"ur", "ur"},       // Urdu
	{"uz", "uz@Latn"},  // Uzbek (Latin script)
	{"vi", "vi"},       // Vietnamese
	{"zh", "zh"},       // Chinese (simplified)
	{"zh_TW", "zh_TW"}, // Chinese (traditional)
}

// Default returns the built-in configuration: the Windows client UI strings,
// written verbatim and followed by a grunt build. Paths are relative to the
// i18n directory of the client repository.
func Default() *PullFile {
	pf := &PullFile{
		Languages: slices.Clone(DefaultLanguages),
		Resources: []Resource{{
			ID:     "windows-client-strings",
			Master: "../src/webui/_locales/en/messages.json",
			Output: "../src/webui/_locales/{lang}/messages.json",
			Format: merge.FormatNone,
		}},
		Build: &Build{Command: "grunt", Dir: "../src/webui"},
	}
	if err := pf.validate("built-in config"); err != nil {
		panic(err)
	}
	return pf
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load loads and validates txpull.yaml from the given directory.
// Returns nil if no txpull.yaml exists.
func Load(dir string) (*PullFile, error) {
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	return LoadFile(path)
}

// LoadFile loads and validates a config file at an explicit path.
func LoadFile(path string) (*PullFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var pf PullFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&pf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	pf.Dir = filepath.Dir(path)

	if err := pf.validate(path); err != nil {
		return nil, err
	}
	return &pf, nil
}

// validate applies defaults and checks every resource.
func (pf *PullFile) validate(path string) error {
	if pf.SourceLang == "" {
		pf.SourceLang = defaultSourceLang
	}
	if pf.Threshold == nil {
		threshold := DefaultThreshold
		pf.Threshold = &threshold
	}
	if t := *pf.Threshold; t < 0 || t > 100 {
		return fmt.Errorf("%s: threshold %d is outside 0..100", path, t)
	}
	if len(pf.Resources) == 0 {
		return fmt.Errorf("%s: no resources declared", path)
	}
	if err := pf.Languages.Validate(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	seen := make(map[string]bool)
	for i := range pf.Resources {
		r := &pf.Resources[i]

		if r.ID == "" {
			return fmt.Errorf("%s: resource #%d has no id", path, i+1)
		}
		if seen[r.ID] {
			return fmt.Errorf("%s: duplicate resource %q", path, r.ID)
		}
		seen[r.ID] = true

		if r.Master == "" {
			return fmt.Errorf("%s: resource %q requires \"master\"", path, r.ID)
		}
		if !strings.Contains(r.Output, LangPlaceholder) {
			return fmt.Errorf("%s: resource %q: \"output\" must contain %s", path, r.ID, LangPlaceholder)
		}
		if r.Format != "" && !slices.Contains(merge.Formats, r.Format) {
			return fmt.Errorf("%s: resource %q has unknown format %q (valid: %s)",
				path, r.ID, r.Format, strings.Join(merge.Formats, ", "))
		}

		if r.Encoding == "" {
			r.Encoding = defaultEncoding
		}
		if _, err := htmlindex.Get(r.Encoding); err != nil {
			return fmt.Errorf("%s: resource %q has unknown encoding %q", path, r.ID, r.Encoding)
		}

		if len(pf.LanguagesFor(*r)) == 0 {
			return fmt.Errorf("%s: resource %q has no languages", path, r.ID)
		}
		if err := r.Languages.Validate(); err != nil {
			return fmt.Errorf("%s: resource %q: %w", path, r.ID, err)
		}
	}

	if pf.Build != nil && strings.TrimSpace(pf.Build.Command) == "" {
		return fmt.Errorf("%s: build requires \"command\"", path)
	}
	return nil
}

// Marshal renders the configuration as YAML.
func (pf *PullFile) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(pf); err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return buf.Bytes(), nil
}

// ---------------------------------------------------------------------------
// Resolving paths
// ---------------------------------------------------------------------------

// Abs resolves a path from the config against Dir.
func (pf *PullFile) Abs(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	dir := pf.Dir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, p)
}

// LanguagesFor returns the language map of r, falling back to the global
// map.
func (pf *PullFile) LanguagesFor(r Resource) LangMap {
	if len(r.Languages) > 0 {
		return r.Languages
	}
	return pf.Languages
}

// MasterPath returns the resolved master file of r.
func (pf *PullFile) MasterPath(r Resource) string {
	return pf.Abs(r.Master)
}

// OutputPath returns the resolved translated file of r for a local
// language code.
func (pf *PullFile) OutputPath(r Resource, lang string) string {
	return pf.Abs(strings.ReplaceAll(r.Output, LangPlaceholder, lang))
}

// BuildDir returns the resolved working directory of the build step.
func (pf *PullFile) BuildDir() string {
	if pf.Build == nil {
		return ""
	}
	if pf.Build.Dir == "" {
		return pf.Abs(".")
	}
	return pf.Abs(pf.Build.Dir)
}

// AllLanguages returns the union of all resource language maps, first
// occurrence wins.
func (pf *PullFile) AllLanguages() LangMap {
	seen := make(map[string]bool)
	var all LangMap
	for _, r := range pf.Resources {
		for _, p := range pf.LanguagesFor(r) {
			if !seen[p.Service] {
				seen[p.Service] = true
				all = append(all, p)
			}
		}
	}
	return all
}
