// internal/protocol/asciirec/codec.go

// Package asciirec implements the ASCII line protocol family: queries are
// the bare field name, sets are "set <field> <value>", and responses are
// delimited text records decoded against a per-instrument header
// specification (ordered field names).
package asciirec

import (
	"strconv"
	"strings"
	"time"

	"github.com/meteolab/stationdaq/internal/protocol"
)

// Style selects how a record line maps onto the header.
type Style int

const (
	// Pairs: a leading "HH:MM mm-dd-yy" timestamp followed by
	// name/value token pairs (Thermo long records).
	Pairs Style = iota

	// Columns: positional columns matched to the header in order, with
	// "date" and "time" columns carrying the timestamp.
	Columns
)

// Header is the ordered field-name specification of one record format.
type Header []string

// Field is one decoded record column. Values that parse as numbers carry
// Num; everything else stays in Text.
type Field struct {
	Name    string
	Text    string
	Num     float64
	Numeric bool
}

// Record is one decoded instrument record.
type Record struct {
	Time   time.Time
	Fields []Field
}

// Query builds a current-value query for one field.
func Query(field string) []byte {
	return []byte(field + "\r")
}

// Set builds a set command.
func Set(field, value string) []byte {
	return []byte("set " + field + " " + value + "\r")
}

// Clean strips the command echo (everything through the first LF) and the
// checksum trailer (everything from '*' on) from a raw response.
func Clean(raw []byte) string {
	s := string(raw)
	if i := strings.IndexByte(s, '*'); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.Trim(s, "\r\n\x00"))
}

// DecodeRecord decodes one record line against the header. Under strict,
// the decoded field set must match the header exactly; otherwise unknown
// or extra fields are preserved positionally but not interpreted.
func DecodeRecord(line string, header Header, style Style, strict bool) (Record, error) {
	switch style {
	case Pairs:
		return decodePairs(line, header, strict)
	case Columns:
		return decodeColumns(line, header, strict)
	}
	return Record{}, protocol.Errorf("asciirec: unknown record style %d", style)
}

func decodePairs(line string, header Header, strict bool) (Record, error) {
	tokens := strings.Fields(line)
	if len(tokens) < 2 {
		return Record{}, protocol.Errorf("asciirec: record too short: %q", line)
	}

	ts, err := time.ParseInLocation("15:04 01-02-06", tokens[0]+" "+tokens[1], time.UTC)
	if err != nil {
		return Record{}, protocol.Errorf("asciirec: bad record timestamp %q", tokens[0]+" "+tokens[1])
	}

	rest := tokens[2:]
	if len(rest)%2 != 0 {
		return Record{}, protocol.Errorf("asciirec: odd token count after timestamp: %q", line)
	}

	rec := Record{Time: ts}
	seen := make(map[string]bool, len(rest)/2)
	for i := 0; i < len(rest); i += 2 {
		name, value := rest[i], rest[i+1]
		if seen[name] {
			return Record{}, protocol.Errorf("asciirec: duplicate field %q", name)
		}
		seen[name] = true
		rec.Fields = append(rec.Fields, makeField(name, value))
	}

	if strict {
		if err := matchHeader(seen, header); err != nil {
			return Record{}, err
		}
	}
	return rec, nil
}

func decodeColumns(line string, header Header, strict bool) (Record, error) {
	tokens := strings.Fields(line)
	if strict && len(tokens) != len(header) {
		return Record{}, protocol.Errorf("asciirec: record has %d columns, header declares %d",
			len(tokens), len(header))
	}

	var (
		rec      Record
		dateText string
		timeText string
	)
	for i, tok := range tokens {
		name := "field" + strconv.Itoa(i)
		if i < len(header) {
			name = header[i]
		}
		switch name {
		case "date":
			dateText = tok
		case "time":
			timeText = tok
		default:
			rec.Fields = append(rec.Fields, makeField(name, tok))
		}
	}

	if dateText == "" || timeText == "" {
		return Record{}, protocol.Errorf("asciirec: record carries no date/time columns: %q", line)
	}
	ts, err := time.ParseInLocation("2006/01/02 15:04:05", dateText+" "+timeText, time.UTC)
	if err != nil {
		return Record{}, protocol.Errorf("asciirec: bad record timestamp %q", dateText+" "+timeText)
	}
	rec.Time = ts
	return rec, nil
}

func makeField(name, value string) Field {
	if v, err := strconv.ParseFloat(value, 64); err == nil {
		return Field{Name: name, Num: v, Numeric: true}
	}
	return Field{Name: name, Text: value}
}

func matchHeader(seen map[string]bool, header Header) error {
	for _, want := range header {
		if want == "date" || want == "time" {
			continue
		}
		if !seen[want] {
			return protocol.Errorf("asciirec: missing expected field %q", want)
		}
	}
	for name := range seen {
		found := false
		for _, want := range header {
			if name == want {
				found = true
				break
			}
		}
		if !found {
			return protocol.Errorf("asciirec: unexpected field %q", name)
		}
	}
	return nil
}
