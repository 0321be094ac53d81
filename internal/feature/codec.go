package feature

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/wegman-software/vtpipe/internal/stringtable"
	"github.com/wegman-software/vtpipe/internal/vectortile"
)

// Value byte layout (self-describing, compact):
//
//	[ group id varint, group limit varint ]   only when the sort key hasGroup bit is set
//	feature id        zigzag varint
//	geometry type     1 byte
//	attribute count   1 byte
//	per attribute:    key id byte, type tag byte, payload
//	command count     uvarint
//	commands          uvarint each
//
// Attribute type tags.
const (
	attrString = 0
	attrInt    = 1
	attrFloat  = 2
	attrBool   = 3
)

// packer owns one growable buffer reused across records so encoding features
// does not allocate per record.
type packer struct {
	buf     []byte
	scratch [binary.MaxVarintLen64]byte
	keyIDs  []attrKV
}

type attrKV struct {
	id    byte
	key   string
	value any
}

func (p *packer) reset() {
	p.buf = p.buf[:0]
}

func (p *packer) varint(v int64) {
	n := binary.PutVarint(p.scratch[:], v)
	p.buf = append(p.buf, p.scratch[:n]...)
}

func (p *packer) uvarint(v uint64) {
	n := binary.PutUvarint(p.scratch[:], v)
	p.buf = append(p.buf, p.scratch[:n]...)
}

func (p *packer) byte(b byte) {
	p.buf = append(p.buf, b)
}

func (p *packer) float64(f float64) {
	binary.BigEndian.PutUint64(p.scratch[:8], math.Float64bits(f))
	p.buf = append(p.buf, p.scratch[:8]...)
}

func (p *packer) str(s string) {
	p.uvarint(uint64(len(s)))
	p.buf = append(p.buf, s...)
}

// encodeValue serializes one feature (and optional grouping preamble) into
// p's buffer and returns a copy of the encoded bytes. Attributes with nil
// values are dropped; attribute order is canonical (ascending key id) so two
// features with equal attributes produce identical bytes.
func encodeValue(f *vectortile.Feature, group *GroupInfo, attrKeys *stringtable.Encoder, p *packer) ([]byte, error) {
	p.reset()
	if group != nil {
		p.varint(group.ID)
		p.varint(int64(group.Limit))
	}
	p.varint(f.ID)
	p.byte(byte(f.Geometry.GeomType))

	p.keyIDs = p.keyIDs[:0]
	for k, v := range f.Attrs {
		if v == nil {
			continue
		}
		id, err := attrKeys.Encode(k)
		if err != nil {
			return nil, err
		}
		p.keyIDs = append(p.keyIDs, attrKV{id: id, key: k, value: v})
	}
	sort.Slice(p.keyIDs, func(i, j int) bool { return p.keyIDs[i].id < p.keyIDs[j].id })

	if len(p.keyIDs) > 255 {
		return nil, fmt.Errorf("feature %d has %d attributes, max 255", f.ID, len(p.keyIDs))
	}
	p.byte(byte(len(p.keyIDs)))
	for _, kv := range p.keyIDs {
		p.byte(kv.id)
		switch v := kv.value.(type) {
		case string:
			p.byte(attrString)
			p.str(v)
		case int:
			p.byte(attrInt)
			p.varint(int64(v))
		case int32:
			p.byte(attrInt)
			p.varint(int64(v))
		case int64:
			p.byte(attrInt)
			p.varint(v)
		case uint32:
			p.byte(attrInt)
			p.varint(int64(v))
		case float32:
			p.byte(attrFloat)
			p.float64(float64(v))
		case float64:
			p.byte(attrFloat)
			p.float64(v)
		case bool:
			p.byte(attrBool)
			if v {
				p.byte(1)
			} else {
				p.byte(0)
			}
		default:
			p.byte(attrString)
			p.str(fmt.Sprint(v))
		}
	}

	p.uvarint(uint64(len(f.Geometry.Commands)))
	for _, cmd := range f.Geometry.Commands {
		p.uvarint(uint64(cmd))
	}

	out := make([]byte, len(p.buf))
	copy(out, p.buf)
	return out, nil
}

type valueReader struct {
	buf []byte
	pos int
}

func (r *valueReader) varint() (int64, error) {
	v, n := binary.Varint(r.buf[r.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("truncated varint at offset %d", r.pos)
	}
	r.pos += n
	return v, nil
}

func (r *valueReader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("truncated uvarint at offset %d", r.pos)
	}
	r.pos += n
	return v, nil
}

func (r *valueReader) byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, fmt.Errorf("truncated value at offset %d", r.pos)
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *valueReader) float64() (float64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, fmt.Errorf("truncated float at offset %d", r.pos)
	}
	v := math.Float64frombits(binary.BigEndian.Uint64(r.buf[r.pos:]))
	r.pos += 8
	return v, nil
}

func (r *valueReader) str() (string, error) {
	n, err := r.uvarint()
	if err != nil {
		return "", err
	}
	if r.pos+int(n) > len(r.buf) {
		return "", fmt.Errorf("truncated string at offset %d", r.pos)
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

// peekGroupInfo reads just the grouping preamble off the front of encoded
// value bytes; only valid when the sort key's hasGroup bit is set.
func peekGroupInfo(value []byte) (GroupInfo, error) {
	r := &valueReader{buf: value}
	id, err := r.varint()
	if err != nil {
		return GroupInfo{}, fmt.Errorf("reading group id: %w", err)
	}
	limit, err := r.varint()
	if err != nil {
		return GroupInfo{}, fmt.Errorf("reading group limit: %w", err)
	}
	return GroupInfo{ID: id, Limit: int32(limit)}, nil
}

// decodeValue deserializes a stored entry back into a typed feature. The
// layer name is not in the value bytes; it is recovered from the layer id in
// the sort key.
func decodeValue(entry SortableFeature, layers, attrKeys *stringtable.Encoder) (vectortile.Feature, error) {
	r := &valueReader{buf: entry.Value}
	group := vectortile.NoGroup
	if HasGroupFromSortKey(entry.SortKey) {
		g, err := r.varint()
		if err != nil {
			return vectortile.Feature{}, err
		}
		// the limit was applied when the tile was assembled
		if _, err := r.varint(); err != nil {
			return vectortile.Feature{}, err
		}
		group = g
	}

	id, err := r.varint()
	if err != nil {
		return vectortile.Feature{}, err
	}
	geomType, err := r.byte()
	if err != nil {
		return vectortile.Feature{}, err
	}
	numAttrs, err := r.byte()
	if err != nil {
		return vectortile.Feature{}, err
	}
	attrs := make(map[string]any, numAttrs)
	for i := 0; i < int(numAttrs); i++ {
		keyID, err := r.byte()
		if err != nil {
			return vectortile.Feature{}, err
		}
		key, err := attrKeys.Decode(keyID)
		if err != nil {
			return vectortile.Feature{}, err
		}
		tag, err := r.byte()
		if err != nil {
			return vectortile.Feature{}, err
		}
		switch tag {
		case attrString:
			attrs[key], err = r.str()
		case attrInt:
			attrs[key], err = r.varint()
		case attrFloat:
			attrs[key], err = r.float64()
		case attrBool:
			var b byte
			b, err = r.byte()
			attrs[key] = b != 0
		default:
			err = fmt.Errorf("unknown attribute tag %d", tag)
		}
		if err != nil {
			return vectortile.Feature{}, err
		}
	}

	numCommands, err := r.uvarint()
	if err != nil {
		return vectortile.Feature{}, err
	}
	commands := make([]uint32, numCommands)
	for i := range commands {
		c, err := r.uvarint()
		if err != nil {
			return vectortile.Feature{}, err
		}
		commands[i] = uint32(c)
	}

	layer, err := layers.Decode(LayerFromSortKey(entry.SortKey))
	if err != nil {
		return vectortile.Feature{}, err
	}
	return vectortile.Feature{
		Layer: layer,
		ID:    id,
		Geometry: vectortile.VectorGeometry{
			Commands: commands,
			GeomType: vectortile.GeomType(geomType),
		},
		Attrs: attrs,
		Group: group,
	}, nil
}
