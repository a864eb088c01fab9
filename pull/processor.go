// Package pull downloads translations of configured resources and writes
// them, merged with the existing translations, into the source tree.
package pull

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/minios-linux/txpull/config"
	"github.com/minios-linux/txpull/lockfile"
	"github.com/minios-linux/txpull/transifex"
)

// Service is the part of the translation service the processor needs.
type Service interface {
	GetStats(ctx context.Context, resource string) (map[string]transifex.Stats, error)
	GetTranslation(ctx context.Context, resource, lang string) (*transifex.Translation, error)
}

// Processor pulls single resources.
type Processor struct {
	Service Service
	// SourceLang is the master language; it is never reported as skipped.
	SourceLang string
	// Threshold is the completion percentage from which unpulled languages
	// are reported; 0 reports all of them.
	Threshold int
	// MaxConcurrent > 1 pulls that many languages at once.
	MaxConcurrent int
	// Lock, when set, skips languages unchanged since the recorded pull
	// and is updated with every pulled file.
	Lock   *lockfile.LockFile
	Logger *slog.Logger
}

// Summary reports what Process did.
type Summary struct {
	Resource string
	// Written counts files whose content changed (or were created).
	Written int
	// Unchanged counts files that already had the pulled content.
	Unchanged int
	// Skipped lists well-translated service languages that are not pulled.
	Skipped []string
}

// Process pulls every language of r and writes the output files. The first
// failing language aborts the resource.
func (p *Processor) Process(ctx context.Context, r Resource) (Summary, error) {
	log := p.logger().With("resource", r.ID)
	sum := Summary{Resource: r.ID}

	log.Info("pulling resource", "languages", len(r.Languages))

	stats, err := p.Service.GetStats(ctx, r.ID)
	if err != nil {
		return sum, err
	}
	sum.Skipped = p.reportSkipped(log, r.Languages, stats)

	enc, err := lookupEncoding(r.Encoding)
	if err != nil {
		return sum, fmt.Errorf("resource %s: %w", r.ID, err)
	}

	masterSum := ""
	if p.Lock != nil {
		if data, err := os.ReadFile(r.MasterPath); err == nil {
			masterSum = lockfile.Hash(data)
		}
	}

	var written, unchanged atomic.Int32
	pullOne := func(ctx context.Context, pair config.LangPair) error {
		state := lockfile.Entry{LastUpdate: stats[pair.Service].LastUpdate, Master: masterSum}
		changed, err := p.pullLanguage(ctx, log, r, pair, enc, state)
		if err != nil {
			return err
		}
		if changed {
			written.Add(1)
		} else {
			unchanged.Add(1)
		}
		return nil
	}

	if p.MaxConcurrent > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.MaxConcurrent)
		for _, pair := range r.Languages {
			g.Go(func() error { return pullOne(gctx, pair) })
		}
		err = g.Wait()
	} else {
		for _, pair := range r.Languages {
			if err = pullOne(ctx, pair); err != nil {
				break
			}
		}
	}

	sum.Written = int(written.Load())
	sum.Unchanged = int(unchanged.Load())
	if err == nil && p.Lock != nil {
		locals := make([]string, 0, len(r.Languages))
		for _, pair := range r.Languages {
			locals = append(locals, pair.Local)
		}
		p.Lock.Clean(r.ID, locals)
	}
	return sum, err
}

// reportSkipped logs languages at or above the threshold that are neither
// pulled nor the master language.
func (p *Processor) reportSkipped(log *slog.Logger, langs config.LangMap, stats map[string]transifex.Stats) []string {
	source := p.SourceLang
	if source == "" {
		source = "en"
	}

	codes := make([]string, 0, len(stats))
	for code := range stats {
		codes = append(codes, code)
	}
	slices.Sort(codes)

	var skipped []string
	for _, code := range codes {
		s := stats[code]
		if s.Percent() < p.Threshold || code == source || langs.HasService(code) {
			continue
		}
		log.Info(fmt.Sprintf("Skipping language %q with %s translation (%d of %d)",
			code, s.Completed, s.TranslatedEntities, s.Total()))
		skipped = append(skipped, code)
	}
	return skipped
}

// pullLanguage fetches, merges, normalizes and writes one language. It
// reports whether the file content changed. state carries the service
// revision and master checksum recorded in the lock.
func (p *Processor) pullLanguage(ctx context.Context, log *slog.Logger, r Resource, pair config.LangPair, enc encoding.Encoding, state lockfile.Entry) (bool, error) {
	out := r.OutputPath(pair.Local)
	if p.Lock != nil {
		if prev, err := os.ReadFile(out); err == nil {
			cur := state
			cur.Output = lockfile.Hash(prev)
			if p.Lock.IsCurrent(r.ID, pair.Local, cur) {
				log.Debug("up to date", "lang", pair.Local, "path", out)
				return false, nil
			}
		}
	}

	tr, err := p.Service.GetTranslation(ctx, r.ID, pair.Service)
	if err != nil {
		return false, err
	}

	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return false, fmt.Errorf("creating directory for %s: %w", out, err)
	}

	content := []byte(tr.Content)
	if r.Merger != nil {
		content, err = r.Merger.Merge(r.MasterPath, pair.Local, out, content)
		if err != nil {
			return false, fmt.Errorf("merging %s: %w", out, err)
		}
	}
	content = bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))

	data, err := encodeContent(content, enc, r.BOM)
	if err != nil {
		return false, fmt.Errorf("encoding %s: %w", out, err)
	}

	changed := true
	if prev, err := os.ReadFile(out); err == nil && bytes.Equal(prev, data) {
		log.Debug("unchanged", "lang", pair.Local, "path", out)
		changed = false
	} else {
		if err := os.WriteFile(out, data, 0644); err != nil {
			return false, fmt.Errorf("writing %s: %w", out, err)
		}
		log.Debug("written", "lang", pair.Local, "path", out)
	}

	if p.Lock != nil {
		state.Output = lockfile.Hash(data)
		p.Lock.Update(r.ID, pair.Local, state)
	}
	return changed, nil
}

func (p *Processor) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

// ---------------------------------------------------------------------------
// Output encoding
// ---------------------------------------------------------------------------

func lookupEncoding(name string) (encoding.Encoding, error) {
	if name == "" {
		name = "utf-8"
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	return enc, nil
}

// encodeContent converts UTF-8 content to enc, optionally prefixed with a
// byte order mark in that encoding.
func encodeContent(content []byte, enc encoding.Encoding, bom bool) ([]byte, error) {
	if bom {
		content = append([]byte("\uFEFF"), content...)
	}
	return enc.NewEncoder().Bytes(content)
}
