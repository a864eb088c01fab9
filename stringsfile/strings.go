// Package stringsfile implements reading and writing of Apple .strings
// localization tables.
//
// Format: a sequence of "key" = "value"; records, each usually preceded by a
// /* comment */ describing the string:
//
//	/* Title of the cancel button */
//	"CANCEL_ACTION" = "Cancel";
//
// Line comments (// ...) are accepted on input. Files may be UTF-8 (with or
// without a byte order mark) or UTF-16 with a byte order mark, which is how
// Xcode often saves them.
//
// The File type keeps entries in document order; Marshal always renders the
// canonical form: comment line, record line, blank line.
package stringsfile

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// UntranslatedFlag marks an entry whose value is a verbatim copy of the
// master-language value. It is stored at the start of the entry comment.
const UntranslatedFlag = "[UNTRANSLATED]"

// ---------------------------------------------------------------------------
// File model
// ---------------------------------------------------------------------------

// Entry is a single string table record.
type Entry struct {
	Key     string
	Value   string
	Comment string // text between /* and */, unmodified
}

// Untranslated reports whether the entry carries the untranslated flag.
func (e *Entry) Untranslated() bool {
	return strings.Contains(e.Comment, UntranslatedFlag)
}

// Flag prepends the untranslated flag to the comment. Already flagged
// entries are left alone.
func (e *Entry) Flag() {
	if e.Untranslated() {
		return
	}
	e.Comment = UntranslatedFlag + e.Comment
}

// Unflag removes the untranslated flag from the comment.
func (e *Entry) Unflag() {
	e.Comment = strings.Replace(e.Comment, UntranslatedFlag, "", 1)
}

// File is a parsed .strings table.
type File struct {
	Entries []*Entry
	// index maps key → position in Entries.
	index map[string]int
}

// NewFile returns an empty table.
func NewFile() *File {
	return &File{index: make(map[string]int)}
}

// Add appends an entry. A duplicate key replaces the earlier value and
// comment in place, matching how Foundation resolves duplicates.
func (f *File) Add(e *Entry) {
	if idx, ok := f.index[e.Key]; ok {
		f.Entries[idx].Value = e.Value
		f.Entries[idx].Comment = e.Comment
		return
	}
	f.index[e.Key] = len(f.Entries)
	f.Entries = append(f.Entries, e)
}

// Lookup returns the entry for key, or nil.
func (f *File) Lookup(key string) *Entry {
	if idx, ok := f.index[key]; ok {
		return f.Entries[idx]
	}
	return nil
}

// Get returns the value for key and whether it was found.
func (f *File) Get(key string) (string, bool) {
	if e := f.Lookup(key); e != nil {
		return e.Value, true
	}
	return "", false
}

// Keys returns all keys in document order.
func (f *File) Keys() []string {
	keys := make([]string, len(f.Entries))
	for i, e := range f.Entries {
		keys[i] = e.Key
	}
	return keys
}

// ---------------------------------------------------------------------------
// Parsing
// ---------------------------------------------------------------------------

// ParseFile reads and parses a .strings file from disk.
func ParseFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse parses .strings content.
func Parse(data []byte) (*File, error) {
	text, err := decode(data)
	if err != nil {
		return nil, err
	}

	p := &parser{src: text, line: 1}
	f := NewFile()
	var comment string

	for {
		p.skipSpace()
		if p.eof() {
			return f, nil
		}

		switch {
		case p.hasPrefix("/*"):
			c, err := p.blockComment()
			if err != nil {
				return nil, err
			}
			comment = c
		case p.hasPrefix("//"):
			comment = p.lineComment()
		default:
			e, err := p.record()
			if err != nil {
				return nil, err
			}
			e.Comment = comment
			comment = ""
			f.Add(e)
		}
	}
}

// decode converts raw file bytes to a string, honouring UTF-8 and UTF-16
// byte order marks. A UTF-8 BOM is dropped.
func decode(data []byte) (string, error) {
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(dec, data)
	if err != nil {
		return "", fmt.Errorf("decoding strings table: %w", err)
	}
	return strings.ReplaceAll(string(out), "\r\n", "\n"), nil
}

type parser struct {
	src  string
	pos  int
	line int
}

func (p *parser) eof() bool { return p.pos >= len(p.src) }

func (p *parser) hasPrefix(s string) bool { return strings.HasPrefix(p.src[p.pos:], s) }

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("line %d: %s", p.line, fmt.Sprintf(format, args...))
}

func (p *parser) skipSpace() {
	for !p.eof() {
		switch p.src[p.pos] {
		case '\n':
			p.line++
		case ' ', '\t', '\r', '\f', '\v':
		default:
			return
		}
		p.pos++
	}
}

func (p *parser) blockComment() (string, error) {
	start := p.line
	end := strings.Index(p.src[p.pos+2:], "*/")
	if end < 0 {
		return "", fmt.Errorf("line %d: unterminated comment", start)
	}
	body := p.src[p.pos+2 : p.pos+2+end]
	p.line += strings.Count(body, "\n")
	p.pos += 2 + end + 2
	return body, nil
}

func (p *parser) lineComment() string {
	rest := p.src[p.pos+2:]
	end := strings.IndexByte(rest, '\n')
	if end < 0 {
		end = len(rest)
	}
	p.pos += 2 + end
	return rest[:end]
}

// record parses `"key" = "value";`.
func (p *parser) record() (*Entry, error) {
	key, err := p.token()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.eof() || p.src[p.pos] != '=' {
		return nil, p.errorf("expected '=' after key %q", key)
	}
	p.pos++
	p.skipSpace()
	value, err := p.token()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.eof() || p.src[p.pos] != ';' {
		return nil, p.errorf("expected ';' after value of %q", key)
	}
	p.pos++
	return &Entry{Key: key, Value: value}, nil
}

// token reads a quoted string or an unquoted identifier.
func (p *parser) token() (string, error) {
	if p.eof() {
		return "", p.errorf("unexpected end of input")
	}
	if p.src[p.pos] == '"' {
		return p.quoted()
	}
	start := p.pos
	for !p.eof() && isBareChar(p.src[p.pos]) {
		p.pos++
	}
	if start == p.pos {
		return "", p.errorf("unexpected character %q", p.src[p.pos])
	}
	return p.src[start:p.pos], nil
}

func isBareChar(c byte) bool {
	return c == '_' || c == '.' || c == '-' || c == '$' || c == ':' || c == '/' ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

func (p *parser) quoted() (string, error) {
	start := p.line
	i := p.pos + 1
	for i < len(p.src) {
		switch p.src[i] {
		case '\\':
			i += 2
			continue
		case '"':
			raw := p.src[p.pos+1 : i]
			p.line += strings.Count(raw, "\n")
			p.pos = i + 1
			return Unescape(raw), nil
		}
		i++
	}
	return "", fmt.Errorf("line %d: unterminated string", start)
}

// ---------------------------------------------------------------------------
// Escaping
// ---------------------------------------------------------------------------

var escaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

// Escape prepares a value for use inside a double-quoted .strings literal.
func Escape(s string) string {
	return escaper.Replace(s)
}

// Unescape reverses Escape. It also understands \UXXXX and \uXXXX code
// point escapes. Unknown escapes are kept verbatim.
func Unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case '"', '\\', '\'':
			b.WriteByte(s[i])
		case 'u', 'U':
			if r, ok := hex4(s[i+1:]); ok {
				b.WriteRune(r)
				i += 4
				continue
			}
			b.WriteByte('\\')
			b.WriteByte(s[i])
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func hex4(s string) (rune, bool) {
	if len(s) < 4 {
		return 0, false
	}
	var r rune
	for _, c := range []byte(s[:4]) {
		r <<= 4
		switch {
		case '0' <= c && c <= '9':
			r |= rune(c - '0')
		case 'a' <= c && c <= 'f':
			r |= rune(c-'a') + 10
		case 'A' <= c && c <= 'F':
			r |= rune(c-'A') + 10
		default:
			return 0, false
		}
	}
	return r, true
}

// ---------------------------------------------------------------------------
// Serialization
// ---------------------------------------------------------------------------

// Marshal renders every entry as
//
//	/*comment*/
//	"key" = "value";
//
// followed by a blank line, in document order.
func (f *File) Marshal() []byte {
	var buf bytes.Buffer
	for _, e := range f.Entries {
		buf.WriteString("/*")
		buf.WriteString(e.Comment)
		buf.WriteString("*/\n\"")
		buf.WriteString(Escape(e.Key))
		buf.WriteString(`" = "`)
		buf.WriteString(Escape(e.Value))
		buf.WriteString("\";\n\n")
	}
	return buf.Bytes()
}
