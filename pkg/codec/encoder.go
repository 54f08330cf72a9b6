// Package codec reads and writes tuple streams as JSON lines.
//
// Each line is one tuple:
//
//	{"type":"Post","id":10,"attributes":{"title":"X","author_id":{"@ref":"Author","id":1}}}
//
// Attributes keep their order. References are written as {"@ref":T,"id":ID},
// reference lists as {"@refs":T,"ids":[...]}, binary scalars as
// {"@bytes":"<base64>"}, and scalars that are objects or arrays as
// {"@value":...}. A stream may start with a header line
// {"@header":{...}}.
package codec

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/authzed/replicant/pkg/replicant"
	"github.com/authzed/replicant/pkg/write"
)

// Version of the stream format
const Version = 1

const (
	keyHeader = "@header"
	keyRef    = "@ref"
	keyRefs   = "@refs"
	keyValue  = "@value"
	keyBytes  = "@bytes"
)

// Header describes the dump session that produced a stream.
type Header struct {
	Version   int       `json:"version"`
	Session   string    `json:"session"`
	Source    string    `json:"source,omitempty"`
	Position  string    `json:"position,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewHeader returns a header for a new session reading from source.
func NewHeader(source string) (Header, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Header{}, err
	}
	return Header{
		Version:   Version,
		Session:   id.String(),
		Source:    source,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}, nil
}

// Encoder writes tuples as JSON lines. It satisfies write.TupleWriter.
type Encoder struct {
	w io.Writer
}

var _ write.TupleWriter = &Encoder{}

// NewEncoder writes to w
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// WriteHeader writes a header line. It must be called before any tuple.
func (e *Encoder) WriteHeader(h Header) error {
	line, err := json.Marshal(map[string]Header{keyHeader: h})
	if err != nil {
		return err
	}
	_, err = e.w.Write(append(line, '\n'))
	return err
}

// Write satisfies write.TupleWriter
func (e *Encoder) Write(ctx context.Context, t replicant.Tuple) error {
	line, err := Marshal(t)
	if err != nil {
		return err
	}
	_, err = e.w.Write(append(line, '\n'))
	return err
}

// Marshal encodes a single tuple without a trailing newline.
func Marshal(t replicant.Tuple) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	if err := writeJSON(&buf, t.Type); err != nil {
		return nil, err
	}
	buf.WriteString(`,"id":`)
	if err := writeJSON(&buf, t.ID); err != nil {
		return nil, err
	}
	buf.WriteString(`,"attributes":{`)
	for i, a := range t.Attributes {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSON(&buf, a.Name); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if err := writeValue(&buf, a.Value); err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t.Type, a.Name, err)
		}
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

func writeValue(buf *bytes.Buffer, v replicant.Value) error {
	switch v := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case replicant.Scalar:
		if raw, ok := v.V.([]byte); ok {
			buf.WriteString(`{"` + keyBytes + `":`)
			if err := writeJSON(buf, base64.StdEncoding.EncodeToString(raw)); err != nil {
				return err
			}
			buf.WriteByte('}')
			return nil
		}
		b, err := json.Marshal(v.V)
		if err != nil {
			return err
		}
		if len(b) > 0 && (b[0] == '{' || b[0] == '[') {
			buf.WriteString(`{"` + keyValue + `":`)
			buf.Write(b)
			buf.WriteByte('}')
			return nil
		}
		buf.Write(b)
		return nil
	case replicant.Reference:
		buf.WriteString(`{"` + keyRef + `":`)
		if err := writeJSON(buf, v.Type); err != nil {
			return err
		}
		buf.WriteString(`,"id":`)
		if err := writeJSON(buf, v.ID); err != nil {
			return err
		}
		buf.WriteByte('}')
		return nil
	case replicant.ReferenceList:
		buf.WriteString(`{"` + keyRefs + `":`)
		if err := writeJSON(buf, v.Type); err != nil {
			return err
		}
		buf.WriteString(`,"ids":`)
		ids := v.IDs
		if ids == nil {
			ids = []interface{}{}
		}
		if err := writeJSON(buf, ids); err != nil {
			return err
		}
		buf.WriteByte('}')
		return nil
	default:
		return fmt.Errorf("%w: %T", replicant.ErrUnexpectedValue, v)
	}
}

func writeJSON(buf *bytes.Buffer, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}
