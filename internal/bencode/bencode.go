// Package bencode implements just enough of the bencode wire format (as
// used by BitTorrent, and reused here per §4.6.7/§6 for the TreeTransform
// serialization stream's "attribs" record) to round-trip the core's
// attribute dictionaries: strings, integers, lists, and dicts keyed by
// string.
//
// The decoder is built on github.com/pelletier/go-buffruneio, which gives
// it single-rune peek/unread without hand-rolling a byte pushback buffer —
// the same primitive the transform stream's tokenizer needs to decide,
// one byte at a time, whether it is looking at a length-prefixed string,
// an "i...e" integer, or the start of a nested list/dict.
package bencode

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/pelletier/go-buffruneio"
	"github.com/pkg/errors"
)

// Value is one decoded bencode node: string, int64, []Value, or
// map[string]Value.
type Value interface{}

// Marshal encodes v, which must be built only from string, int, int64,
// []Value, map[string]Value (or the Value alias of those), into bencode.
func Marshal(v interface{}) ([]byte, error) {
	var buf strings.Builder
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return []byte(buf.String()), nil
}

func encode(buf *strings.Builder, v interface{}) error {
	switch t := v.(type) {
	case string:
		fmt.Fprintf(buf, "%d:%s", len(t), t)
	case []byte:
		fmt.Fprintf(buf, "%d:%s", len(t), t)
	case int:
		fmt.Fprintf(buf, "i%de", t)
	case int64:
		fmt.Fprintf(buf, "i%de", t)
	case []Value:
		buf.WriteByte('l')
		for _, e := range t {
			if err := encode(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte('e')
	case []string:
		buf.WriteByte('l')
		for _, e := range t {
			if err := encode(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte('e')
	case map[string]Value:
		buf.WriteByte('d')
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := encode(buf, k); err != nil {
				return err
			}
			if err := encode(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('e')
	default:
		return errors.Errorf("bencode: unsupported value of type %T", v)
	}
	return nil
}

// Decoder reads a stream of bencoded values.
type Decoder struct {
	rd *buffruneio.Reader
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{rd: buffruneio.NewReader(r)}
}

// Decode reads and returns exactly one bencode value.
func (d *Decoder) Decode() (Value, error) {
	r, err := d.peek()
	if err != nil {
		return nil, err
	}
	switch {
	case r == 'i':
		return d.decodeInt()
	case r == 'l':
		return d.decodeList()
	case r == 'd':
		return d.decodeDict()
	case r >= '0' && r <= '9':
		return d.decodeString()
	default:
		return nil, errors.Errorf("bencode: unexpected token %q", r)
	}
}

func (d *Decoder) peek() (rune, error) {
	r, _, err := d.rd.ReadRune()
	if err != nil {
		return 0, err
	}
	if err := d.rd.UnreadRune(); err != nil {
		return 0, err
	}
	return r, nil
}

func (d *Decoder) readRune() (rune, error) {
	r, _, err := d.rd.ReadRune()
	if r == buffruneio.EOF {
		return 0, errors.New("bencode: unexpected EOF")
	}
	return r, err
}

func (d *Decoder) expect(want rune) error {
	r, err := d.readRune()
	if err != nil {
		return err
	}
	if r != want {
		return errors.Errorf("bencode: expected %q, got %q", want, r)
	}
	return nil
}

func (d *Decoder) decodeInt() (Value, error) {
	if err := d.expect('i'); err != nil {
		return nil, err
	}
	var sb strings.Builder
	for {
		r, err := d.readRune()
		if err != nil {
			return nil, err
		}
		if r == 'e' {
			break
		}
		sb.WriteRune(r)
	}
	n, err := strconv.ParseInt(sb.String(), 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "bencode: malformed integer")
	}
	return n, nil
}

func (d *Decoder) decodeString() (Value, error) {
	var sb strings.Builder
	for {
		r, err := d.readRune()
		if err != nil {
			return nil, err
		}
		if r == ':' {
			break
		}
		sb.WriteRune(r)
	}
	n, err := strconv.Atoi(sb.String())
	if err != nil {
		return nil, errors.Wrap(err, "bencode: malformed string length")
	}
	// n counts bytes, as Marshal writes it, so read runes until n bytes of
	// UTF-8 have been collected.
	var out strings.Builder
	for out.Len() < n {
		r, err := d.readRune()
		if err != nil {
			return nil, err
		}
		out.WriteRune(r)
	}
	return out.String(), nil
}

func (d *Decoder) decodeList() (Value, error) {
	if err := d.expect('l'); err != nil {
		return nil, err
	}
	var out []Value
	for {
		r, err := d.peek()
		if err != nil {
			return nil, err
		}
		if r == 'e' {
			d.readRune()
			break
		}
		v, err := d.Decode()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (d *Decoder) decodeDict() (Value, error) {
	if err := d.expect('d'); err != nil {
		return nil, err
	}
	out := make(map[string]Value)
	for {
		r, err := d.peek()
		if err != nil {
			return nil, err
		}
		if r == 'e' {
			d.readRune()
			break
		}
		k, err := d.decodeString()
		if err != nil {
			return nil, err
		}
		v, err := d.Decode()
		if err != nil {
			return nil, err
		}
		out[k.(string)] = v
	}
	return out, nil
}
