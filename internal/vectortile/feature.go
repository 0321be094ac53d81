package vectortile

import (
	"encoding/binary"
	"math"
	"sort"
	"strconv"
)

// NoGroup marks a feature that carries no point-grouping information.
const NoGroup int64 = math.MinInt64

// Feature is one decoded map feature inside a tile layer.
type Feature struct {
	Layer    string
	ID       int64
	Geometry VectorGeometry
	Attrs    map[string]any
	Group    int64
}

// CopyWithNewGeometry returns a copy of the feature carrying a different
// geometry. Attributes are shared, not cloned.
func (f Feature) CopyWithNewGeometry(geom VectorGeometry) Feature {
	f.Geometry = geom
	return f
}

// AttrsKey returns a canonical byte-encoded key for an attribute map so that
// features can be grouped by attribute equality in linear time. Keys are
// sorted; values are tagged by type before encoding so 1 (int) and "1"
// (string) stay distinct.
func AttrsKey(attrs map[string]any) string {
	if len(attrs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := make([]byte, 0, 16*len(keys))
	var scratch [binary.MaxVarintLen64]byte
	for _, k := range keys {
		buf = binary.AppendUvarint(buf, uint64(len(k)))
		buf = append(buf, k...)
		switch v := attrs[k].(type) {
		case nil:
			buf = append(buf, 'n')
		case string:
			buf = append(buf, 's')
			buf = binary.AppendUvarint(buf, uint64(len(v)))
			buf = append(buf, v...)
		case bool:
			if v {
				buf = append(buf, 'T')
			} else {
				buf = append(buf, 'F')
			}
		case int:
			buf = append(buf, 'i')
			n := binary.PutVarint(scratch[:], int64(v))
			buf = append(buf, scratch[:n]...)
		case int64:
			buf = append(buf, 'i')
			n := binary.PutVarint(scratch[:], v)
			buf = append(buf, scratch[:n]...)
		case float64:
			buf = append(buf, 'f')
			binary.BigEndian.PutUint64(scratch[:8], math.Float64bits(v))
			buf = append(buf, scratch[:8]...)
		default:
			// fall back to the string form for anything exotic
			buf = append(buf, 'x')
			s := toString(v)
			buf = binary.AppendUvarint(buf, uint64(len(s)))
			buf = append(buf, s...)
		}
	}
	return string(buf)
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}
