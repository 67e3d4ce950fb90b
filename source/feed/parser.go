package feed

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/memsql/errors"
)

// ErrParse marks feed content that was skipped. It is never fatal.
const ErrParse errors.String = "unparseable feed entry"

// DataPrefix starts every server-sent-event data line.
const DataPrefix = "data: "

// Event is one parsed feed entry. Value holds the JSON encoding of every
// field except "id" and "type", or nil when no other field remains.
type Event struct {
	Key   string
	Value []byte
}

// ParseLine extracts the events carried by one feed line. Lines that are not
// data lines yield nothing. A data line holds either one JSON object or an
// array of them; array members are returned in order. Entries that cannot be
// used are skipped and reported through the returned error, which wraps
// ErrParse; the events that did parse are still returned.
func ParseLine(line string) ([]Event, error) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, DataPrefix) {
		return nil, nil
	}
	payload := bytes.TrimSpace([]byte(line[len(DataPrefix):]))
	if len(payload) == 0 {
		return nil, ErrParse.Errorf("empty data line")
	}

	var entries []json.RawMessage
	if payload[0] == '[' {
		if err := json.Unmarshal(payload, &entries); err != nil {
			return nil, ErrParse.Errorf("broken line %q: %w", line, err)
		}
	} else {
		if !json.Valid(payload) {
			return nil, ErrParse.Errorf("broken line %q", line)
		}
		entries = []json.RawMessage{payload}
	}

	events := make([]Event, 0, len(entries))
	var skipped int
	var first error
	for i, raw := range entries {
		ev, err := parseEntry(raw)
		if err != nil {
			skipped++
			if first == nil {
				first = errors.Errorf("entry %d: %w", i, err)
			}
			continue
		}
		events = append(events, ev)
	}
	if skipped > 0 {
		return events, ErrParse.Errorf("skipped %d of %d entries: %v", skipped, len(entries), first)
	}
	return events, nil
}

// field is one member of a JSON object, value kept as received.
type field struct {
	key string
	raw json.RawMessage
}

func parseEntry(raw json.RawMessage) (Event, error) {
	fields, err := decodeObject(raw)
	if err != nil {
		return Event{}, errors.Errorf("not a JSON object: %s", truncate(raw, 64))
	}
	var idRaw json.RawMessage
	rest := fields[:0]
	for _, f := range fields {
		switch f.key {
		case "type":
		case "id":
			idRaw = f.raw
		default:
			rest = append(rest, f)
		}
	}
	if idRaw == nil {
		return Event{}, errors.Errorf("missing id")
	}
	var id string
	if err := json.Unmarshal(idRaw, &id); err != nil {
		return Event{}, errors.Errorf("id is not a string: %s", idRaw)
	}
	if id == "" {
		return Event{}, errors.Errorf("empty id")
	}

	ev := Event{Key: id}
	if len(rest) > 0 {
		v, err := encodeObject(rest)
		if err != nil {
			return Event{}, errors.Errorf("re-encode %s: %w", id, err)
		}
		ev.Value = v
	}
	return ev, nil
}

// decodeObject reads the members of a JSON object in document order. A
// repeated key keeps its first position and its last value.
func decodeObject(raw []byte) ([]field, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.Errorf("want object, got %v", tok)
	}
	var fields []field
	index := map[string]int{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, errors.Errorf("object key %v", tok)
		}
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		if i, seen := index[key]; seen {
			fields[i].raw = v
			continue
		}
		index[key] = len(fields)
		fields = append(fields, field{key: key, raw: v})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return fields, nil
}

// encodeObject writes fields back in order, compacted and without HTML
// escaping.
func encodeObject(fields []field) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := enc.Encode(f.key); err != nil {
			return nil, err
		}
		buf.Truncate(buf.Len() - 1) // Encode appends a newline
		buf.WriteByte(':')
		if err := json.Compact(&buf, f.raw); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
