// Package csvframe implements C2: it resolves the concatenation of C1's
// byte windows into complete logical records, tokenising with
// RFC-4180-style quoting rules, and carries an unterminated record
// across window boundaries.
package csvframe

import (
	"bytes"

	"parquetconv/internal/errs"
)

// Field is one tokenised field of a record.
type Field struct {
	Value     []byte
	WasQuoted bool
}

// Record is an ordered list of fields for one non-header CSV row.
type Record struct {
	Fields []Field
}

// Malformed describes a row the framer could not parse cleanly: quote
// imbalance at EOF, or a field count mismatched against the header.
type Malformed struct {
	Reason string
}

// Result is one parse outcome: either Record is set, or Malformed is.
type Result struct {
	Record    *Record
	Malformed *Malformed
}

// Framer incrementally tokenises CSV bytes fed to it in arbitrary-sized
// windows. The first complete record it sees is consumed as the header
// and never returned as a Result; its field count becomes the expected
// field count for every subsequent record.
type Framer struct {
	carry          []byte
	maxRecordBytes int64

	header       []string
	headerSeen   bool
}

// New constructs a Framer. maxRecordBytes bounds how large the carried,
// not-yet-terminated suffix of a record may grow before RecordTooLarge
// is returned.
func New(maxRecordBytes int64) *Framer {
	return &Framer{maxRecordBytes: maxRecordBytes}
}

// Header returns the column names observed in the first record, once seen.
func (f *Framer) Header() ([]string, bool) {
	return f.header, f.headerSeen
}

// Feed appends chunk to the carry buffer and extracts every complete
// record it now contains. Any trailing, not-yet-terminated bytes remain
// carried for the next Feed call. Because a CSV record boundary can
// only occur outside an open quote, re-scanning the carry buffer from
// its start on every call always reproduces the correct quote state —
// no cross-call parser state beyond the raw bytes is required.
func (f *Framer) Feed(chunk []byte) ([]Result, error) {
	if len(chunk) > 0 {
		f.carry = append(f.carry, chunk...)
	}
	return f.drain(false)
}

// Finish signals end-of-input: any remaining carry is treated as a
// final, unterminated record (RFC-4180 allows a file with no trailing
// newline). A carry that is empty or all-whitespace produces no result.
func (f *Framer) Finish() ([]Result, error) {
	if len(bytes.TrimSpace(f.carry)) == 0 {
		f.carry = nil
		return nil, nil
	}
	return f.drain(true)
}

func (f *Framer) drain(finalCall bool) ([]Result, error) {
	var results []Result

	for {
		rec, consumed, ok, malformed := scanOneRecord(f.carry, finalCall)
		if !ok {
			if int64(len(f.carry)) > f.maxRecordBytes {
				return results, errs.New(errs.RecordTooLarge, "unterminated record exceeds MAX_RECORD_BYTES", nil)
			}
			return results, nil
		}

		f.carry = f.carry[consumed:]

		if malformed != nil {
			if !f.headerSeen {
				// A malformed header line is a SchemaMismatch, not a
				// per-row bad-row event; surfaced by the caller via
				// Header() returning false together with this result.
				results = append(results, Result{Malformed: malformed})
				continue
			}
			results = append(results, Result{Malformed: malformed})
			continue
		}

		if !f.headerSeen {
			f.header = fieldsToStrings(rec.Fields)
			f.headerSeen = true
			continue
		}

		if len(rec.Fields) != len(f.header) {
			results = append(results, Result{Malformed: &Malformed{Reason: "field count does not match header"}})
			continue
		}

		results = append(results, Result{Record: rec})
	}
}

func fieldsToStrings(fields []Field) []string {
	out := make([]string, len(fields))
	for i, fld := range fields {
		out[i] = string(fld.Value)
	}
	return out
}

// scanOneRecord attempts to parse exactly one record from the start of
// buf. ok is false if buf does not yet contain a complete terminated
// record (and finalCall is false) — the caller should wait for more
// data. If finalCall is true and buf is non-empty, the whole of buf is
// treated as the last record (possibly malformed if it ends inside an
// open quote).
func scanOneRecord(buf []byte, finalCall bool) (rec *Record, consumed int, ok bool, malformed *Malformed) {
	if len(buf) == 0 {
		return nil, 0, false, nil
	}

	var fields []Field
	var field []byte
	wasQuoted := false
	fieldStarted := false
	inQuotes := false

	i := 0
	for i < len(buf) {
		c := buf[i]

		if inQuotes {
			if c == '"' {
				if i+1 < len(buf) && buf[i+1] == '"' {
					field = append(field, '"')
					i += 2
					continue
				}
				if i+1 >= len(buf) && !finalCall {
					// Ambiguous: could be closing quote or the first of
					// an escaped pair; wait for more bytes.
					return nil, 0, false, nil
				}
				inQuotes = false
				i++
				continue
			}
			field = append(field, c)
			i++
			continue
		}

		switch c {
		case '"':
			if !fieldStarted {
				wasQuoted = true
			}
			inQuotes = true
			fieldStarted = true
			i++
		case ',':
			fields = append(fields, Field{Value: field, WasQuoted: wasQuoted})
			field = nil
			wasQuoted = false
			fieldStarted = false
			i++
		case '\n':
			fields = append(fields, Field{Value: field, WasQuoted: wasQuoted})
			return &Record{Fields: fields}, i + 1, true, nil
		case '\r':
			if i+1 < len(buf) && buf[i+1] == '\n' {
				fields = append(fields, Field{Value: field, WasQuoted: wasQuoted})
				return &Record{Fields: fields}, i + 2, true, nil
			}
			if i+1 >= len(buf) && !finalCall {
				return nil, 0, false, nil
			}
			// Lone CR not followed by LF: treat as terminator too, for
			// maximal compatibility with older line endings.
			fields = append(fields, Field{Value: field, WasQuoted: wasQuoted})
			return &Record{Fields: fields}, i + 1, true, nil
		default:
			field = append(field, c)
			fieldStarted = true
			i++
		}
	}

	// Ran out of bytes without a terminator.
	if !finalCall {
		return nil, 0, false, nil
	}

	if inQuotes {
		return nil, len(buf), true, &Malformed{Reason: "quote imbalance at EOF"}
	}

	fields = append(fields, Field{Value: field, WasQuoted: wasQuoted})
	return &Record{Fields: fields}, len(buf), true, nil
}
