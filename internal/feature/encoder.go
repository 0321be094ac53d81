package feature

import (
	"fmt"

	"github.com/wegman-software/vtpipe/internal/vectortile"
)

// Encoder serializes rendered features into sortable binary records. It is
// for use by a single producer goroutine: it owns one reusable pack buffer
// and memoizes the last encoded value so re-rendered identical geometries
// (filled ocean tiles at every zoom) are encoded once.
type Encoder struct {
	group *Group

	packer packer

	lastFeature      *vectortile.Feature
	lastEncodedValue []byte
}

// Encode converts a rendered feature into its sortable binary form.
func (e *Encoder) Encode(f RenderedFeature) (SortableFeature, error) {
	if f.ZOrder < ZOrderMin || f.ZOrder > ZOrderMax {
		return SortableFeature{}, fmt.Errorf("z-order %d outside [%d, %d]", f.ZOrder, ZOrderMin, ZOrderMax)
	}
	if !f.Tile.Valid() {
		return SortableFeature{}, fmt.Errorf("invalid tile %v", f.Tile)
	}
	e.group.layerStats.accept(f)

	layerID, err := e.group.layers.Encode(f.Feature.Layer)
	if err != nil {
		return SortableFeature{}, err
	}

	var value []byte
	if f.Group != nil {
		// grouped features are not worth memoizing
		value, err = encodeValue(f.Feature, f.Group, e.group.attrKeys, &e.packer)
	} else if f.Feature == e.lastFeature {
		value = e.lastEncodedValue
	} else {
		value, err = encodeValue(f.Feature, nil, e.group.attrKeys, &e.packer)
		e.lastFeature = f.Feature
		e.lastEncodedValue = value
	}
	if err != nil {
		return SortableFeature{}, err
	}

	return SortableFeature{
		SortKey: EncodeSortKey(f.Tile.Encode(), layerID, f.ZOrder, f.Group != nil),
		Value:   value,
	}, nil
}
