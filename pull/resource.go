package pull

import (
	"fmt"
	"log/slog"

	"github.com/minios-linux/txpull/config"
	"github.com/minios-linux/txpull/merge"
)

// Resource describes how one service resource lands in the source tree.
type Resource struct {
	// ID is the service resource slug.
	ID string
	// MasterPath is the master-language file handed to the merger.
	MasterPath string
	// OutputPath maps a local language code to the file to write.
	OutputPath func(lang string) string
	// Languages lists the languages to pull, in order.
	Languages config.LangMap
	// Merger post-processes fresh content; nil writes it verbatim.
	Merger merge.Strategy
	// Encoding is a WHATWG encoding label; empty means UTF-8.
	Encoding string
	// BOM writes U+FEFF first.
	BOM bool
}

// BuildStep is a shell command run after all resources were pulled.
type BuildStep struct {
	Command string
	Dir     string
}

// FromConfig turns a pull file into resources. langs optionally restricts
// the languages (service or local codes); resources left without languages
// are dropped.
func FromConfig(pf *config.PullFile, langs []string, log *slog.Logger) ([]Resource, error) {
	var out []Resource
	for _, rc := range pf.Resources {
		strategy, err := merge.ForFormat(rc.Format, pf.SourceLang, log)
		if err != nil {
			return nil, fmt.Errorf("resource %s: %w", rc.ID, err)
		}

		languages := pf.LanguagesFor(rc).Filter(langs)
		if len(languages) == 0 {
			continue
		}

		out = append(out, Resource{
			ID:         rc.ID,
			MasterPath: pf.MasterPath(rc),
			OutputPath: func(lang string) string { return pf.OutputPath(rc, lang) },
			Languages:  languages,
			Merger:     strategy,
			Encoding:   rc.Encoding,
			BOM:        rc.BOM,
		})
	}

	if len(out) == 0 && len(langs) > 0 {
		return nil, fmt.Errorf("no configured language matches %v", langs)
	}

	all := pf.AllLanguages()
	for _, code := range langs {
		if len(all.Filter([]string{code})) == 0 {
			if log == nil {
				log = slog.Default()
			}
			log.Warn("language is not configured for any resource", "lang", code)
		}
	}
	return out, nil
}

// BuildFromConfig returns the configured build step, or nil.
func BuildFromConfig(pf *config.PullFile) *BuildStep {
	if pf.Build == nil {
		return nil
	}
	return &BuildStep{Command: pf.Build.Command, Dir: pf.BuildDir()}
}
