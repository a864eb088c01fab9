package merge

import (
	"fmt"
	"log/slog"

	"github.com/minios-linux/txpull/stringsfile"
)

// Strings merges Apple .strings tables.
//
// The service fills untranslated entries with the master text. That defeats
// a naive fallback when the master changes: say "CANCEL" = "Cancel" is
// untranslated in French, so the French file holds "Cancel". The master then
// changes to "Stop". On the next pull the fresh French value is "Stop", the
// old French value "Cancel" differs from it and would be mistaken for a real
// translation, and the French UI would keep showing "Cancel".
//
// To prevent that, fresh entries equal to the master are flagged with
// stringsfile.UntranslatedFlag in their comment, and flagged entries are
// never used as fallbacks.
type Strings struct {
	Logger *slog.Logger
}

// FlagUntranslated marks every fresh entry whose value equals the master
// value and returns the re-serialized table.
func (m Strings) FlagUntranslated(masterPath, lang, existingPath string, fresh []byte) ([]byte, error) {
	table, master, err := parseFreshAndMaster(masterPath, fresh)
	if err != nil {
		return nil, err
	}
	flagUntranslated(table, master)
	return table.Marshal(), nil
}

// Merge implements Strategy.
func (m Strings) Merge(masterPath, lang, existingPath string, fresh []byte) ([]byte, error) {
	log := loggerOrDefault(m.Logger).With("merger", FormatStrings, "lang", lang)

	table, master, err := parseFreshAndMaster(masterPath, fresh)
	if err != nil {
		log.Warn("cannot merge strings table, keeping fresh content as-is", "error", err)
		return fresh, nil
	}
	flagged := flagUntranslated(table, master)
	flaggedRaw := table.Marshal()

	existing, err := readExisting(existingPath, stringsfile.ParseFile)
	if err != nil {
		noteExisting(log, existingPath, err)
		return flaggedRaw, nil
	}
	prior := priorTranslation(existing)

	restored := 0
	for _, e := range table.Entries {
		english, ok := master.Get(e.Key)
		if !ok || e.Value != english {
			continue
		}
		old, ok := prior(e.Key)
		if !ok || old == english {
			continue
		}
		e.Value = old
		// The value is a real translation again.
		e.Unflag()
		restored++
	}
	log.Debug("merged", "untranslated", flagged, "restored", restored)

	return table.Marshal(), nil
}

func parseFreshAndMaster(masterPath string, fresh []byte) (*stringsfile.File, *stringsfile.File, error) {
	table, err := stringsfile.Parse(fresh)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing fresh translation: %w", err)
	}
	master, err := stringsfile.ParseFile(masterPath)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing master: %w", err)
	}
	return table, master, nil
}

func flagUntranslated(table, master *stringsfile.File) int {
	n := 0
	for _, e := range table.Entries {
		if english, ok := master.Get(e.Key); ok && e.Value == english {
			e.Flag()
			n++
		}
	}
	return n
}

// priorTranslation returns a lookup of genuine translations in the existing
// table. Entries flagged as untranslated are reported as absent.
func priorTranslation(existing *stringsfile.File) func(key string) (string, bool) {
	return func(key string) (string, bool) {
		e := existing.Lookup(key)
		if e == nil || e.Untranslated() {
			return "", false
		}
		return e.Value, true
	}
}
