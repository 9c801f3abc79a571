package canvas

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestDecorationRoundTrip(t *testing.T) {
	for _, glyph := range []rune{'a', 'Z', '0', '~', '世', ' '} {
		for mask := DecorationMask(0); mask < 16; mask += 1 {
			cell := EncodeCell(glyph, mask)
			decodedGlyph, decodedMask := DecodeCell(cell)
			assert.Equal(t, decodedGlyph, glyph)
			assert.Equal(t, decodedMask, mask)
		}
	}
}

func TestDecorationEmptyMaskHasNoMarker(t *testing.T) {
	assert.Equal(t, EncodeCell('x', 0), "x")
	assert.Equal(t, len([]rune(EncodeCell('x', DecorationBold))), 2)
}

func TestDecodeCellCombinesTrailingMarkers(t *testing.T) {
	// multiple markers OR together
	cell := string([]rune{'q', decorationMarkBase + rune(DecorationBold), decorationMarkBase + rune(DecorationUnderline)})
	glyph, mask := DecodeCell(cell)
	assert.Equal(t, glyph, 'q')
	assert.Equal(t, mask, DecorationBold|DecorationUnderline)
	assert.Equal(t, mask.Bold(), true)
	assert.Equal(t, mask.Underline(), true)
	assert.Equal(t, mask.Italic(), false)
}

func TestDecodeCellIgnoresUnknownTrailers(t *testing.T) {
	cell := "rx"
	glyph, mask := DecodeCell(cell)
	assert.Equal(t, glyph, 'r')
	assert.Equal(t, mask, DecorationMask(0))
}

func TestDecodeCellEmpty(t *testing.T) {
	glyph, mask := DecodeCell("")
	assert.Equal(t, glyph, ' ')
	assert.Equal(t, mask, DecorationMask(0))
}
