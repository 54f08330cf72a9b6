package codec

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/authzed/replicant/pkg/replicant"
)

// Decoder reads tuples from a JSON lines stream. Next returns io.EOF at the
// clean end of the stream.
type Decoder struct {
	r       *bufio.Reader
	line    int
	header  *Header
	pending *replicant.Tuple
}

// NewDecoder reads from r
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Header returns the stream header, if one has been read.
func (d *Decoder) Header() (Header, bool) {
	if d.header == nil {
		return Header{}, false
	}
	return *d.header, true
}

// ReadHeader reads up to the first tuple and returns the header, if any. The
// tuple is kept for the next call to Next.
func (d *Decoder) ReadHeader() (Header, bool, error) {
	if d.line > 0 {
		h, ok := d.Header()
		return h, ok, nil
	}
	t, err := d.next()
	if err != nil && !errors.Is(err, io.EOF) {
		return Header{}, false, err
	}
	if err == nil {
		d.pending = &t
	}
	h, ok := d.Header()
	return h, ok, nil
}

// Next satisfies load.TupleReader
func (d *Decoder) Next() (replicant.Tuple, error) {
	if d.pending != nil {
		t := *d.pending
		d.pending = nil
		return t, nil
	}
	return d.next()
}

func (d *Decoder) next() (replicant.Tuple, error) {
	for {
		raw, err := d.r.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return replicant.Tuple{}, err
		}
		atEOF := errors.Is(err, io.EOF)
		line := bytes.TrimSpace(raw)
		if len(line) == 0 {
			if atEOF {
				return replicant.Tuple{}, io.EOF
			}
			d.line++
			continue
		}
		d.line++

		t, h, derr := decodeLine(line)
		if derr != nil {
			if atEOF {
				return replicant.Tuple{}, fmt.Errorf("line %d: %w: %s", d.line, io.ErrUnexpectedEOF, derr)
			}
			return replicant.Tuple{}, fmt.Errorf("line %d: %w", d.line, derr)
		}
		if h != nil {
			if d.header != nil || d.line > 1 {
				return replicant.Tuple{}, fmt.Errorf("line %d: unexpected header", d.line)
			}
			d.header = h
			if atEOF {
				return replicant.Tuple{}, io.EOF
			}
			continue
		}
		return t, nil
	}
}

// Unmarshal decodes a single tuple line.
func Unmarshal(line []byte) (replicant.Tuple, error) {
	t, h, err := decodeLine(line)
	if err != nil {
		return t, err
	}
	if h != nil {
		return t, fmt.Errorf("%w: header where a tuple was expected", replicant.ErrUnexpectedValue)
	}
	return t, nil
}

func decodeLine(line []byte) (replicant.Tuple, *Header, error) {
	var t replicant.Tuple
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	if err := expectDelim(dec, '{'); err != nil {
		return t, nil, err
	}
	var header *Header
	seenType := false
	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return t, nil, err
		}
		switch key {
		case keyHeader:
			var h Header
			if err := dec.Decode(&h); err != nil {
				return t, nil, fmt.Errorf("header: %w", err)
			}
			header = &h
		case "type":
			if err := dec.Decode(&t.Type); err != nil {
				return t, nil, fmt.Errorf("type: %w", err)
			}
			seenType = true
		case "id":
			var id interface{}
			if err := dec.Decode(&id); err != nil {
				return t, nil, fmt.Errorf("id: %w", err)
			}
			t.ID = numbers(id)
		case "attributes":
			attrs, err := decodeAttributes(dec)
			if err != nil {
				return t, nil, err
			}
			t.Attributes = attrs
		default:
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return t, nil, err
			}
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return t, nil, err
	}
	if header != nil {
		return t, header, nil
	}
	if !seenType || t.Type == "" {
		return t, nil, fmt.Errorf("%w: tuple without a type", replicant.ErrUnexpectedValue)
	}
	return t, nil, nil
}

func decodeAttributes(dec *json.Decoder) (replicant.Attributes, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, fmt.Errorf("attributes: %w", err)
	}
	attrs := make(replicant.Attributes, 0)
	for dec.More() {
		name, err := readKey(dec)
		if err != nil {
			return nil, err
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, err)
		}
		v, err := decodeValue(raw)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, err)
		}
		attrs = append(attrs, replicant.Attribute{Name: name, Value: v})
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	return attrs, nil
}

type tagged struct {
	Ref   *string         `json:"@ref"`
	Refs  *string         `json:"@refs"`
	Value json.RawMessage `json:"@value"`
	Bytes *string         `json:"@bytes"`
	ID    interface{}     `json:"id"`
	IDs   []interface{}   `json:"ids"`
}

func decodeValue(raw json.RawMessage) (replicant.Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		v, err := decodeAny(raw)
		if err != nil {
			return nil, err
		}
		return replicant.S(v), nil
	}

	var tag tagged
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&tag); err != nil {
		return nil, err
	}
	switch {
	case tag.Ref != nil:
		return replicant.Ref(*tag.Ref, numbers(tag.ID)), nil
	case tag.Refs != nil:
		ids := make([]interface{}, 0, len(tag.IDs))
		for _, id := range tag.IDs {
			ids = append(ids, numbers(id))
		}
		return replicant.Refs(*tag.Refs, ids...), nil
	case tag.Bytes != nil:
		b, err := base64.StdEncoding.DecodeString(*tag.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", keyBytes, err)
		}
		return replicant.S(b), nil
	case tag.Value != nil:
		v, err := decodeAny(tag.Value)
		if err != nil {
			return nil, err
		}
		return replicant.S(v), nil
	default:
		return nil, fmt.Errorf("%w: untagged object %s", replicant.ErrUnexpectedValue, raw)
	}
}

func decodeAny(raw []byte) (interface{}, error) {
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return numbers(v), nil
}

// numbers turns json.Numbers into int64 where exact and float64 otherwise.
func numbers(v interface{}) interface{} {
	switch v := v.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		f, err := v.Float64()
		if err != nil {
			return v.String()
		}
		return f
	case map[string]interface{}:
		for k, e := range v {
			v[k] = numbers(e)
		}
		return v
	case []interface{}:
		for i, e := range v {
			v[i] = numbers(e)
		}
		return v
	default:
		return v
	}
}

func readKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("expected object key, got %v", tok)
	}
	return key, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}
