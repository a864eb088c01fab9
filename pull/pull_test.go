package pull

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"

	"github.com/minios-linux/txpull/config"
	"github.com/minios-linux/txpull/lockfile"
	"github.com/minios-linux/txpull/merge"
	"github.com/minios-linux/txpull/stringsfile"
	"github.com/minios-linux/txpull/transifex"
)

// fakeService serves canned stats and translations keyed by resource and
// service language code.
type fakeService struct {
	mu           sync.Mutex
	stats        map[string]map[string]transifex.Stats
	translations map[string]map[string]string
	fail         map[string]error
	requested    []string
}

func (f *fakeService) GetStats(_ context.Context, resource string) (map[string]transifex.Stats, error) {
	if err := f.fail["stats:"+resource]; err != nil {
		return nil, err
	}
	return f.stats[resource], nil
}

func (f *fakeService) GetTranslation(_ context.Context, resource, lang string) (*transifex.Translation, error) {
	f.mu.Lock()
	f.requested = append(f.requested, resource+"/"+lang)
	f.mu.Unlock()
	if err := f.fail[resource+"/"+lang]; err != nil {
		return nil, err
	}
	content, ok := f.translations[resource][lang]
	if !ok {
		return nil, &transifex.RequestError{StatusCode: 404, URL: resource + "/" + lang}
	}
	return &transifex.Translation{Content: content}, nil
}

func newProcessor(svc Service, buf *bytes.Buffer) *Processor {
	return &Processor{
		Service:    svc,
		SourceLang: "en",
		Threshold:  config.DefaultThreshold,
		Logger:     slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}
}

func outputIn(dir string) func(string) string {
	return func(lang string) string { return filepath.Join(dir, "_locales", lang, "messages.json") }
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestProcessWritesMappedLanguages(t *testing.T) {
	dir := t.TempDir()
	svc := &fakeService{
		stats: map[string]map[string]transifex.Stats{"ui": {
			"en":    {Completed: "100%", TranslatedEntities: 10},
			"el_GR": {Completed: "90%", TranslatedEntities: 9, UntranslatedEntities: 1},
			"ja":    {Completed: "80%", TranslatedEntities: 8, UntranslatedEntities: 2},
			"sn":    {Completed: "10%", TranslatedEntities: 1, UntranslatedEntities: 9},
		}},
		translations: map[string]map[string]string{"ui": {
			"el_GR": "{\r\n  \"a\": \"α\"\r\n}\r\n",
			"uz":    "{\"a\": \"o\"}\n",
		}},
	}
	var logs bytes.Buffer
	p := newProcessor(svc, &logs)

	r := Resource{
		ID:         "ui",
		OutputPath: outputIn(dir),
		Languages:  config.LangMap{{Service: "el_GR", Local: "el"}, {Service: "uz", Local: "uz@Latn"}},
	}
	sum, err := p.Process(context.Background(), r)
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Written)
	assert.Equal(t, 0, sum.Unchanged)
	assert.Equal(t, []string{"ja"}, sum.Skipped)
	assert.Equal(t, []string{"ui/el_GR", "ui/uz"}, svc.requested)

	assert.Equal(t, "{\n  \"a\": \"α\"\n}\n", readFile(t, outputIn(dir)("el")))
	assert.Equal(t, "{\"a\": \"o\"}\n", readFile(t, outputIn(dir)("uz@Latn")))

	assert.Contains(t, logs.String(), `Skipping language \"ja\" with 80% translation (8 of 10)`)
	assert.NotContains(t, logs.String(), `Skipping language \"sn\"`)
	assert.NotContains(t, logs.String(), `Skipping language \"en\"`)

	// A second pull with identical content leaves the files alone.
	sum, err = p.Process(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Written)
	assert.Equal(t, 2, sum.Unchanged)
}

func TestProcessThresholdZeroReportsEveryLanguage(t *testing.T) {
	svc := &fakeService{
		stats: map[string]map[string]transifex.Stats{"ui": {
			"en": {Completed: "100%", TranslatedEntities: 10},
			"de": {Completed: "100%", TranslatedEntities: 10},
			"sn": {Completed: "10%", TranslatedEntities: 1, UntranslatedEntities: 9},
			"zu": {Completed: "0%", UntranslatedEntities: 10},
		}},
		translations: map[string]map[string]string{"ui": {"de": "DE"}},
	}
	p := newProcessor(svc, &bytes.Buffer{})
	p.Threshold = 0

	dir := t.TempDir()
	sum, err := p.Process(context.Background(), Resource{
		ID:         "ui",
		OutputPath: outputIn(dir),
		Languages:  config.LangMap{{Service: "de", Local: "de"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"sn", "zu"}, sum.Skipped)
}

func TestProcessEncodingAndBOM(t *testing.T) {
	dir := t.TempDir()
	svc := &fakeService{translations: map[string]map[string]string{"ios": {"de": "\"A\" = \"Ä\";\r\n"}}}
	p := newProcessor(svc, &bytes.Buffer{})

	out := filepath.Join(dir, "de.strings")
	_, err := p.Process(context.Background(), Resource{
		ID:         "ios",
		OutputPath: func(string) string { return out },
		Languages:  config.LangMap{{Service: "de", Local: "de"}},
		Encoding:   "utf-16le",
		BOM:        true,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte{0xFF, 0xFE}), "missing UTF-16LE BOM: % x", data[:4])

	decoded, err := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder().Bytes(data)
	require.NoError(t, err)
	assert.Equal(t, "\"A\" = \"Ä\";\n", string(decoded))

	// The strings parser reads the file back through the BOM.
	table, err := stringsfile.ParseFile(out)
	require.NoError(t, err)
	v, _ := table.Get("A")
	assert.Equal(t, "Ä", v)
}

func TestProcessUTF8BOM(t *testing.T) {
	dir := t.TempDir()
	svc := &fakeService{translations: map[string]map[string]string{"r": {"fr": "x"}}}
	out := filepath.Join(dir, "fr.txt")

	_, err := newProcessor(svc, &bytes.Buffer{}).Process(context.Background(), Resource{
		ID:         "r",
		OutputPath: func(string) string { return out },
		Languages:  config.LangMap{{Service: "fr", Local: "fr"}},
		BOM:        true,
	})
	require.NoError(t, err)
	assert.Equal(t, "\xef\xbb\xbfx", readFile(t, out))
}

// The master changed from "Cancel" to "Stop" while French stayed
// untranslated. The previous pull left the flagged master copy behind.
func TestProcessStringsMergeKeepsFlaggedValueOut(t *testing.T) {
	dir := t.TempDir()
	master := filepath.Join(dir, "en.lproj", "Localizable.strings")
	require.NoError(t, os.MkdirAll(filepath.Dir(master), 0755))
	require.NoError(t, os.WriteFile(master, []byte(`"CANCEL" = "Stop";`+"\n"+`"OK" = "OK";`+"\n"), 0644))

	out := func(lang string) string { return filepath.Join(dir, lang+".lproj", "Localizable.strings") }
	require.NoError(t, os.MkdirAll(filepath.Dir(out("fr")), 0755))
	require.NoError(t, os.WriteFile(out("fr"), []byte("/*[UNTRANSLATED]*/\n\"CANCEL\" = \"Cancel\";\n\n\"OK\" = \"D'accord\";\n"), 0644))

	svc := &fakeService{translations: map[string]map[string]string{"ios": {
		"fr": "\"CANCEL\" = \"Stop\";\r\n\"OK\" = \"OK\";\r\n",
	}}}
	_, err := newProcessor(svc, &bytes.Buffer{}).Process(context.Background(), Resource{
		ID:         "ios",
		MasterPath: master,
		OutputPath: out,
		Languages:  config.LangMap{{Service: "fr", Local: "fr"}},
		Merger:     merge.Strings{},
	})
	require.NoError(t, err)

	table, err := stringsfile.ParseFile(out("fr"))
	require.NoError(t, err)
	cancel := table.Lookup("CANCEL")
	assert.Equal(t, "Stop", cancel.Value)
	assert.True(t, cancel.Untranslated())
	ok := table.Lookup("OK")
	assert.Equal(t, "D'accord", ok.Value)
	assert.False(t, ok.Untranslated())
	assert.NotContains(t, readFile(t, out("fr")), "\r")
}

func TestProcessYAMLMergeForNewLanguage(t *testing.T) {
	dir := t.TempDir()
	master := filepath.Join(dir, "en.yaml")
	require.NoError(t, os.WriteFile(master, []byte("en:\n  CANCEL: Cancel\n"), 0644))

	svc := &fakeService{translations: map[string]map[string]string{"store": {"fr": "fr:\n  CANCEL: Annuler\n"}}}
	out := filepath.Join(dir, "new", "fr.yaml")

	_, err := newProcessor(svc, &bytes.Buffer{}).Process(context.Background(), Resource{
		ID:         "store",
		MasterPath: master,
		OutputPath: func(string) string { return out },
		Languages:  config.LangMap{{Service: "fr", Local: "fr"}},
		Merger:     merge.YAML{MasterLang: "en"},
	})
	require.NoError(t, err)
	assert.Equal(t, "fr:\n  CANCEL: Annuler\n", readFile(t, out))
}

func TestProcessStopsOnServiceError(t *testing.T) {
	dir := t.TempDir()
	svc := &fakeService{
		translations: map[string]map[string]string{"ui": {"de": "{}", "fr": "{}"}},
		fail:         map[string]error{"ui/de": &transifex.RequestError{StatusCode: 500, URL: "x"}},
	}

	_, err := newProcessor(svc, &bytes.Buffer{}).Process(context.Background(), Resource{
		ID:         "ui",
		OutputPath: outputIn(dir),
		Languages:  config.LangMap{{Service: "de", Local: "de"}, {Service: "fr", Local: "fr"}},
	})
	var reqErr *transifex.RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, []string{"ui/de"}, svc.requested)
	assert.NoFileExists(t, outputIn(dir)("fr"))
}

func TestProcessDirectoryConflict(t *testing.T) {
	dir := t.TempDir()
	// A regular file where the language directory should go.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "_locales"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "_locales", "de"), []byte("x"), 0644))

	svc := &fakeService{translations: map[string]map[string]string{"ui": {"de": "{}"}}}
	_, err := newProcessor(svc, &bytes.Buffer{}).Process(context.Background(), Resource{
		ID:         "ui",
		OutputPath: outputIn(dir),
		Languages:  config.LangMap{{Service: "de", Local: "de"}},
	})
	assert.ErrorContains(t, err, "creating directory")
}

func TestProcessParallel(t *testing.T) {
	dir := t.TempDir()
	langs := config.LangMap{}
	content := map[string]string{}
	for i := range 12 {
		code := fmt.Sprintf("l%02d", i)
		langs = append(langs, config.LangPair{Service: code, Local: code})
		content[code] = "content " + code
	}
	svc := &fakeService{translations: map[string]map[string]string{"ui": content}}
	p := newProcessor(svc, &bytes.Buffer{})
	p.MaxConcurrent = 4

	sum, err := p.Process(context.Background(), Resource{ID: "ui", OutputPath: outputIn(dir), Languages: langs})
	require.NoError(t, err)
	assert.Equal(t, 12, sum.Written)
	for _, pair := range langs {
		assert.Equal(t, "content "+pair.Local, readFile(t, outputIn(dir)(pair.Local)))
	}
}

func TestProcessUnknownEncoding(t *testing.T) {
	svc := &fakeService{}
	_, err := newProcessor(svc, &bytes.Buffer{}).Process(context.Background(), Resource{
		ID:        "ui",
		Languages: config.LangMap{{Service: "de", Local: "de"}},
		Encoding:  "klingon",
	})
	assert.ErrorContains(t, err, "unknown encoding")
}

// ---------------------------------------------------------------------------
// Lock file
// ---------------------------------------------------------------------------

func TestProcessSkipsLanguagesRecordedInLock(t *testing.T) {
	dir := t.TempDir()
	master := filepath.Join(dir, "en.json")
	require.NoError(t, os.WriteFile(master, []byte(`{"a": "A"}`), 0644))

	svc := &fakeService{
		stats: map[string]map[string]transifex.Stats{"ui": {
			"de": {Completed: "100%", LastUpdate: "2024-01-01 10:00:00"},
			"fr": {Completed: "100%"},
		}},
		translations: map[string]map[string]string{"ui": {"de": "DE", "fr": "FR"}},
	}
	lock, err := lockfile.Load(dir)
	require.NoError(t, err)

	p := newProcessor(svc, &bytes.Buffer{})
	p.Lock = lock
	r := Resource{
		ID:         "ui",
		MasterPath: master,
		OutputPath: func(l string) string { return filepath.Join(dir, l+".json") },
		Languages:  config.LangMap{{Service: "de", Local: "de"}, {Service: "fr", Local: "fr"}},
	}

	sum, err := p.Process(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Written)
	assert.Equal(t, []string{"ui/de", "ui/fr"}, svc.requested)

	// de is current; fr has no revision and is always fetched.
	svc.requested = nil
	sum, err = p.Process(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Unchanged)
	assert.Equal(t, []string{"ui/fr"}, svc.requested)

	// A local edit invalidates the entry and is overwritten.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "de.json"), []byte("edited"), 0644))
	svc.requested = nil
	sum, err = p.Process(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Written)
	assert.Equal(t, []string{"ui/de", "ui/fr"}, svc.requested)
	assert.Equal(t, "DE", readFile(t, filepath.Join(dir, "de.json")))

	// So does a master change.
	require.NoError(t, os.WriteFile(master, []byte(`{"a": "A", "b": "B"}`), 0644))
	svc.requested = nil
	_, err = p.Process(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, []string{"ui/de", "ui/fr"}, svc.requested)

	// And a newer service revision.
	svc.stats["ui"]["de"] = transifex.Stats{Completed: "100%", LastUpdate: "2024-02-01 10:00:00"}
	svc.requested = nil
	_, err = p.Process(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, []string{"ui/de", "ui/fr"}, svc.requested)
}

func TestDriverSavesLockAfterSuccess(t *testing.T) {
	dir := t.TempDir()
	svc := &fakeService{
		stats: map[string]map[string]transifex.Stats{"ui": {
			"de": {Completed: "100%", LastUpdate: "2024-01-01"},
			"sn": {Completed: "100%", LastUpdate: "2024-01-01"},
		}},
		translations: map[string]map[string]string{"ui": {"de": "DE", "sn": "SN"}},
	}
	lock, err := lockfile.Load(dir)
	require.NoError(t, err)
	lock.Update("ui", "gone", lockfile.Entry{LastUpdate: "old"})

	p := newProcessor(svc, &bytes.Buffer{})
	p.Lock = lock
	d := &Driver{Processor: p}
	r := Resource{
		ID:         "ui",
		OutputPath: func(l string) string { return filepath.Join(dir, l) },
		Languages:  config.LangMap{{Service: "de", Local: "de"}, {Service: "sn", Local: "sn"}},
	}

	_, err = d.Run(context.Background(), []Resource{r})
	require.NoError(t, err)

	saved, err := lockfile.Load(dir)
	require.NoError(t, err)
	assert.Len(t, saved.Resources["ui"], 2)
	assert.Equal(t, lockfile.Hash([]byte("DE")), saved.Resources["ui"]["de"].Output)
	assert.NotContains(t, saved.Resources["ui"], "gone")
}

func TestDriverKeepsLockOnFailure(t *testing.T) {
	dir := t.TempDir()
	svc := &fakeService{
		stats:        map[string]map[string]transifex.Stats{"ui": {"de": {Completed: "100%", LastUpdate: "1"}}},
		translations: map[string]map[string]string{"ui": {"de": "DE"}},
		fail:         map[string]error{"ui/fr": errors.New("boom")},
	}
	lock, err := lockfile.Load(dir)
	require.NoError(t, err)

	p := newProcessor(svc, &bytes.Buffer{})
	p.Lock = lock
	d := &Driver{Processor: p}
	r := Resource{
		ID:         "ui",
		OutputPath: func(l string) string { return filepath.Join(dir, l) },
		Languages:  config.LangMap{{Service: "de", Local: "de"}, {Service: "fr", Local: "fr"}},
	}

	_, err = d.Run(context.Background(), []Resource{r})
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, lockfile.FileName))
}

// ---------------------------------------------------------------------------
// Driver
// ---------------------------------------------------------------------------

func TestDriverRunsBuildAfterAllResources(t *testing.T) {
	dir := t.TempDir()
	svc := &fakeService{translations: map[string]map[string]string{
		"a": {"de": "A"},
		"b": {"de": "B"},
	}}
	var stdout bytes.Buffer
	d := &Driver{
		Processor: newProcessor(svc, &bytes.Buffer{}),
		Build:     &BuildStep{Command: "cat a/de b/de > built && echo done", Dir: dir},
		Stdout:    &stdout,
		Stderr:    &bytes.Buffer{},
	}

	resources := []Resource{
		{ID: "a", OutputPath: func(l string) string { return filepath.Join(dir, "a", l) }, Languages: config.LangMap{{Service: "de", Local: "de"}}},
		{ID: "b", OutputPath: func(l string) string { return filepath.Join(dir, "b", l) }, Languages: config.LangMap{{Service: "de", Local: "de"}}},
	}
	sums, err := d.Run(context.Background(), resources)
	require.NoError(t, err)
	require.Len(t, sums, 2)
	assert.Equal(t, "AB", readFile(t, filepath.Join(dir, "built")))
	assert.Equal(t, "done\n", stdout.String())
}

func TestDriverAbortsBeforeBuild(t *testing.T) {
	dir := t.TempDir()
	svc := &fakeService{
		translations: map[string]map[string]string{"b": {"de": "B"}},
		fail:         map[string]error{"stats:a": errors.New("boom")},
	}
	d := &Driver{
		Processor: newProcessor(svc, &bytes.Buffer{}),
		Build:     &BuildStep{Command: "touch built", Dir: dir},
	}

	resources := []Resource{
		{ID: "a", OutputPath: func(l string) string { return filepath.Join(dir, "a", l) }, Languages: config.LangMap{{Service: "de", Local: "de"}}},
		{ID: "b", OutputPath: func(l string) string { return filepath.Join(dir, "b", l) }, Languages: config.LangMap{{Service: "de", Local: "de"}}},
	}
	_, err := d.Run(context.Background(), resources)
	assert.ErrorContains(t, err, "resource a")
	assert.Empty(t, svc.requested)
	assert.NoFileExists(t, filepath.Join(dir, "built"))
}

func TestDriverBuildFailureAndSkip(t *testing.T) {
	dir := t.TempDir()
	svc := &fakeService{translations: map[string]map[string]string{"a": {"de": "A"}}}
	resources := []Resource{{ID: "a", OutputPath: func(l string) string { return filepath.Join(dir, l) }, Languages: config.LangMap{{Service: "de", Local: "de"}}}}

	d := &Driver{
		Processor: newProcessor(svc, &bytes.Buffer{}),
		Build:     &BuildStep{Command: "exit 3", Dir: dir},
		Stderr:    &bytes.Buffer{},
	}
	_, err := d.Run(context.Background(), resources)
	assert.ErrorContains(t, err, `build "exit 3" failed`)

	d.SkipBuild = true
	_, err = d.Run(context.Background(), resources)
	assert.NoError(t, err)
}

// ---------------------------------------------------------------------------
// FromConfig
// ---------------------------------------------------------------------------

func TestFromConfig(t *testing.T) {
	dir := t.TempDir()
	yaml := `languages:
  el_GR: el
  de: de
resources:
  - id: app
    master: en.yaml
    output: "{lang}.yaml"
    format: yaml-lang
  - id: ios
    master: en.strings
    output: "{lang}.strings"
    format: strings
    languages: [fr]
build:
  command: make
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte(yaml), 0644))
	pf, err := config.Load(dir)
	require.NoError(t, err)

	resources, err := FromConfig(pf, nil, nil)
	require.NoError(t, err)
	require.Len(t, resources, 2)

	app := resources[0]
	assert.Equal(t, filepath.Join(dir, "en.yaml"), app.MasterPath)
	assert.Equal(t, filepath.Join(dir, "el.yaml"), app.OutputPath("el"))
	assert.IsType(t, merge.Chain{}, app.Merger)
	assert.Equal(t, filepath.Join(dir, "fr.strings"), resources[1].OutputPath("fr"))
	assert.IsType(t, merge.Strings{}, resources[1].Merger)

	filtered, err := FromConfig(pf, []string{"el"}, nil)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, config.LangMap{{Service: "el_GR", Local: "el"}}, filtered[0].Languages)

	_, err = FromConfig(pf, []string{"xx"}, nil)
	assert.Error(t, err)

	var logs bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logs, nil))
	filtered, err = FromConfig(pf, []string{"fr", "xx"}, log)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "ios", filtered[0].ID)
	assert.Contains(t, logs.String(), "lang=xx")
	assert.NotContains(t, logs.String(), "lang=fr")

	build := BuildFromConfig(pf)
	require.NotNil(t, build)
	assert.Equal(t, "make", build.Command)
	assert.Equal(t, dir, build.Dir)
}
