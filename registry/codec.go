package registry

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// HeaderMarker is the first line of every file managed by the registry.
	HeaderMarker = "# Formmated by cockpit-file-sharing"
	// LegacyHeaderMarker identifies the older single-client-per-record schema.
	LegacyHeaderMarker = "# Formmated for cockpit-nfs-manager"

	namePrefix = "# Name: "
)

var (
	dataLineRe = regexp.MustCompile(`^"([^"]*)"(.*)$`)
	clientRe   = regexp.MustCompile(`\s*([^\(\s]+)\(([^\)]*)\)`)
)

// Registry is the decoded content of one exports file.
// Foreign holds the lines that are not part of a well-formed record, in
// file order, each run anchored to the record it followed so it is written
// back in the same place.
type Registry struct {
	Records []ExportRecord
	Foreign []ForeignBlock
	Legacy  bool
}

// ForeignBlock is a run of unmanaged lines. Leading blocks sit between the
// header and the first record; the others follow the record named After.
type ForeignBlock struct {
	Leading bool
	After   string
	Lines   []string
}

// ParseWarning reports a record that was skipped while decoding.
type ParseWarning struct {
	Line   int    `json:"line"`
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

func (w ParseWarning) String() string {
	return fmt.Sprintf("line %d: export %q: %s", w.Line, w.Name, w.Reason)
}

func (r *Registry) index(name string) int {
	for i := range r.Records {
		if r.Records[i].Name == name {
			return i
		}
	}
	return -1
}

// ForeignLines returns every unmanaged line in file order.
func (r *Registry) ForeignLines() []string {
	var out []string
	for _, blk := range r.Foreign {
		out = append(out, blk.Lines...)
	}
	return out
}

// remove deletes record i. Lines anchored to it move to whatever preceded it.
func (r *Registry) remove(i int) {
	name := r.Records[i].Name
	for j := range r.Foreign {
		blk := &r.Foreign[j]
		if blk.Leading || blk.After != name {
			continue
		}
		if i == 0 {
			blk.Leading, blk.After = true, ""
		} else {
			blk.After = r.Records[i-1].Name
		}
	}
	r.Records = append(r.Records[:i], r.Records[i+1:]...)
}

func (r *Registry) rename(from, to string) {
	if from == to {
		return
	}
	for j := range r.Foreign {
		if !r.Foreign[j].Leading && r.Foreign[j].After == from {
			r.Foreign[j].After = to
		}
	}
}

// prune drops records left without clients.
func (r *Registry) prune() []string {
	var dropped []string
	for i := len(r.Records) - 1; i >= 0; i-- {
		if len(r.Records[i].Clients) == 0 {
			dropped = append([]string{r.Records[i].Name}, dropped...)
			r.remove(i)
		}
	}
	return dropped
}

// --- tokenizer ---

type tokenKind int

const (
	tokHeader tokenKind = iota
	tokRecordHeader
	tokRecordData
	tokUnrecognized
)

type token struct {
	kind    tokenKind
	line    int
	text    string
	name    string
	path    string
	clients []ClientRule
	bad     string // why a data line failed the grammar
}

type dataParser func(line string) (string, []ClientRule, error)

// splitLines normalizes CRLF to LF; files are always written back with LF.
func splitLines(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.TrimSuffix(raw, "\n")
	return strings.Split(raw, "\n")
}

func tokenize(lines []string, parse dataParser) []token {
	toks := make([]token, 0, len(lines))
	for i, line := range lines {
		t := token{line: i + 1, text: line}
		switch {
		case i == 0:
			t.kind = tokHeader
		case strings.HasPrefix(line, namePrefix):
			t.kind = tokRecordHeader
			t.name = line[len(namePrefix):]
		case len(toks) > 0 && toks[len(toks)-1].kind == tokRecordHeader:
			t.kind = tokRecordData
			path, clients, err := parse(line)
			if err != nil {
				t.bad = err.Error()
			} else {
				t.path, t.clients = path, clients
			}
		default:
			t.kind = tokUnrecognized
		}
		toks = append(toks, t)
	}
	return toks
}

// fold pairs record headers with their data lines.
func fold(toks []token, legacy bool) (*Registry, []ParseWarning) {
	reg := &Registry{Legacy: legacy}
	var warnings []ParseWarning
	seen := map[string]bool{}
	leading, anchor := true, ""

	keep := func(lines ...string) {
		if n := len(reg.Foreign); n > 0 && reg.Foreign[n-1].Leading == leading && reg.Foreign[n-1].After == anchor {
			reg.Foreign[n-1].Lines = append(reg.Foreign[n-1].Lines, lines...)
			return
		}
		reg.Foreign = append(reg.Foreign, ForeignBlock{Leading: leading, After: anchor, Lines: lines})
	}
	skip := func(h token, reason string, kind string, lines ...string) {
		warnings = append(warnings, ParseWarning{Line: h.line, Name: h.name, Kind: kind, Reason: reason})
		keep(lines...)
	}

	for i := 1; i < len(toks); i++ {
		t := toks[i]
		if t.kind != tokRecordHeader {
			keep(t.text)
			continue
		}
		if i+1 >= len(toks) || toks[i+1].kind != tokRecordData {
			skip(t, "missing data line", ErrMalformedRecord, t.text)
			continue
		}
		d := toks[i+1]
		i++
		if d.bad != "" {
			skip(t, d.bad, ErrMalformedRecord, t.text, d.text)
			continue
		}
		if legacy && len(reg.Records) > 0 {
			last := &reg.Records[len(reg.Records)-1]
			if last.Name == t.name && last.Path == d.path {
				last.Clients = append(last.Clients, d.clients...)
				continue
			}
		}
		if seen[t.name] {
			skip(t, "duplicate export name", ErrAlreadyExists, t.text, d.text)
			continue
		}
		seen[t.name] = true
		reg.Records = append(reg.Records, ExportRecord{Name: t.name, Path: d.path, Clients: d.clients})
		leading, anchor = false, t.name
	}
	return reg, warnings
}

// --- codec ---

// Decode parses the exports file. A file whose first line is not a known
// header marker yields a MISSING_HEADER error and no registry. Malformed
// records are skipped and reported as warnings.
func Decode(raw string) (*Registry, []ParseWarning, error) {
	lines := splitLines(raw)
	var parse dataParser
	var legacy bool
	switch lines[0] {
	case HeaderMarker:
		parse = parseDataLine
	case LegacyHeaderMarker:
		parse, legacy = parseLegacyDataLine, true
	default:
		return nil, nil, newError(ErrMissingHeader, nil, "first line is not %q", HeaderMarker)
	}

	reg, warnings := fold(tokenize(lines, parse), legacy)
	return reg, warnings, nil
}

// Encode renders the registry in the canonical schema. Whitespace between
// client tuples is normalized to a single space. Unmanaged lines go back
// after the record they followed; a dangling "# Name:" line is never
// written directly before an unrelated line, so it cannot adopt it as its
// data line on the next decode.
func Encode(reg *Registry) (string, error) {
	var b strings.Builder
	b.WriteString(HeaderMarker)
	b.WriteByte('\n')

	written := make([]bool, len(reg.Foreign))
	dangling := false
	writeForeign := func(match func(ForeignBlock) bool) {
		for j, blk := range reg.Foreign {
			if written[j] || !match(blk) || len(blk.Lines) == 0 {
				continue
			}
			written[j] = true
			if dangling && !strings.HasPrefix(blk.Lines[0], namePrefix) {
				b.WriteByte('\n')
			}
			for _, line := range blk.Lines {
				b.WriteString(line)
				b.WriteByte('\n')
			}
			dangling = strings.HasPrefix(blk.Lines[len(blk.Lines)-1], namePrefix)
		}
	}

	writeForeign(func(blk ForeignBlock) bool { return blk.Leading })
	for _, rec := range reg.Records {
		if len(rec.Clients) == 0 {
			return "", newError(ErrInvalid, nil, "export %q has no clients", rec.Name)
		}
		b.WriteString(namePrefix)
		b.WriteString(rec.Name)
		b.WriteString("\n\"")
		b.WriteString(rec.Path)
		b.WriteByte('"')
		for _, c := range rec.Clients {
			b.WriteByte(' ')
			b.WriteString(c.String())
		}
		b.WriteByte('\n')
		dangling = false
		writeForeign(func(blk ForeignBlock) bool { return !blk.Leading && blk.After == rec.Name })
	}
	// anchors whose record no longer exists
	writeForeign(func(ForeignBlock) bool { return true })
	return b.String(), nil
}

func parseDataLine(line string) (string, []ClientRule, error) {
	m := dataLineRe.FindStringSubmatch(line)
	if m == nil {
		return "", nil, fmt.Errorf("data line %q does not start with a quoted path", line)
	}
	clients, err := parseClients(m[2])
	if err != nil {
		return "", nil, err
	}
	return m[1], clients, nil
}

// parseClients consumes consecutive host(options) tuples; anything left
// over besides whitespace makes the whole line malformed.
func parseClients(s string) ([]ClientRule, error) {
	var clients []ClientRule
	rest := s
	for {
		loc := clientRe.FindStringSubmatchIndex(rest)
		if loc == nil || loc[0] != 0 {
			break
		}
		clients = append(clients, ClientRule{Host: rest[loc[2]:loc[3]], Options: rest[loc[4]:loc[5]]})
		rest = rest[loc[1]:]
	}
	if strings.TrimSpace(rest) != "" {
		return nil, fmt.Errorf("unparsable client list near %q", strings.TrimSpace(rest))
	}
	return clients, nil
}
