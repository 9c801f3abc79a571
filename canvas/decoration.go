package canvas

// cell text styles are carried out-of-band as a private use area code point
// appended to the cell string: marker = decorationMarkBase + 4-bit mask.
// only the first character of a cell string is ever the displayable glyph.

type DecorationMask uint8

const (
	DecorationStrikethrough DecorationMask = 1
	DecorationUnderline     DecorationMask = 2
	DecorationItalic        DecorationMask = 4
	DecorationBold          DecorationMask = 8
)

const decorationMarkBase = rune(0xF800)
const decorationMarkMax = decorationMarkBase + 0xF

func (self DecorationMask) Bold() bool {
	return self&DecorationBold != 0
}

func (self DecorationMask) Italic() bool {
	return self&DecorationItalic != 0
}

func (self DecorationMask) Underline() bool {
	return self&DecorationUnderline != 0
}

func (self DecorationMask) Strikethrough() bool {
	return self&DecorationStrikethrough != 0
}

// EncodeCell builds the stored cell string for a glyph and its styles.
// an empty mask emits no marker.
func EncodeCell(glyph rune, mask DecorationMask) string {
	if mask == 0 {
		return string(glyph)
	}
	return string([]rune{glyph, decorationMarkBase + rune(mask&0xF)})
}

// DecodeCell splits a stored cell string into the glyph and the combined
// style mask. every trailing rune is scanned: recognized markers are OR'd
// together, unrecognized trailing runes are ignored. an empty cell decodes
// to a space.
func DecodeCell(cell string) (rune, DecorationMask) {
	runes := []rune(cell)
	if len(runes) == 0 {
		return ' ', 0
	}
	glyph := runes[0]
	mask := DecorationMask(0)
	for _, r := range runes[1:] {
		if decorationMarkBase <= r && r <= decorationMarkMax {
			mask |= DecorationMask(r - decorationMarkBase)
		}
	}
	return glyph, mask
}
