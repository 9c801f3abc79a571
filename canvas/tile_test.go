package canvas

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestTileKeyBijection(t *testing.T) {
	coords := []TileCoord{
		{X: 0, Y: 0},
		{X: 1, Y: -1},
		{X: -1, Y: 1},
		{X: 123456, Y: -987654},
		{X: -1000000, Y: 1000000},
	}
	for _, coord := range coords {
		parsed, err := ParseTileKey(coord.Key())
		assert.Equal(t, err, nil)
		assert.Equal(t, parsed, coord)
	}

	_, err := ParseTileKey("nope")
	assert.NotEqual(t, err, nil)
	_, err = ParseTileKey("1,b")
	assert.NotEqual(t, err, nil)
}

func TestCharCoordIndex(t *testing.T) {
	assert.Equal(t, CharCoord{X: 0, Y: 0}.Index(), 0)
	assert.Equal(t, CharCoord{X: 3, Y: 2}.Index(), 35)
	assert.Equal(t, CharCoord{X: 15, Y: 7}.Index(), 127)

	for index := 0; index < TileCells; index += 1 {
		assert.Equal(t, CharCoordFromIndex(index).Index(), index)
	}

	assert.Equal(t, CharCoord{X: 16, Y: 0}.Valid(), false)
	assert.Equal(t, CharCoord{X: 0, Y: 8}.Valid(), false)
	assert.Equal(t, CharCoord{X: -1, Y: 0}.Valid(), false)
}

func TestNewTileDefaults(t *testing.T) {
	tile := NewTile(TileCoord{X: 2, Y: 3})
	assert.Equal(t, len(tile.Content), TileCells)
	assert.Equal(t, len(tile.Color), TileCells)
	assert.Equal(t, len(tile.BgColor), TileCells)
	assert.Equal(t, len(tile.CharWritability), TileCells)
	assert.Equal(t, tile.Writability, WritabilityPublic)
	for i := 0; i < TileCells; i += 1 {
		assert.Equal(t, tile.Content[i], " ")
		assert.Equal(t, tile.Color[i], ColorBlack)
		assert.Equal(t, tile.BgColor[i], ColorTransparent)
		assert.Equal(t, tile.CharWritability[i], CharWritabilityInherit)
	}
}

func TestCellWritabilityInherit(t *testing.T) {
	tile := NewTile(TileCoord{})
	tile.Writability = WritabilityMember
	char := CharCoord{X: 4, Y: 4}
	assert.Equal(t, tile.CellWritability(char), WritabilityMember)

	tile.CharWritability[char.Index()] = int(WritabilityOwner)
	assert.Equal(t, tile.CellWritability(char), WritabilityOwner)
	assert.Equal(t, tile.CellWritability(CharCoord{X: 0, Y: 0}), WritabilityMember)
}

func TestWithCellCopies(t *testing.T) {
	tile := NewTile(TileCoord{})
	color := 0xFF0000
	next := tile.withCell(CharCoord{X: 1, Y: 1}, "A", &color, nil, tile.LastModified)

	// the original is untouched
	assert.Equal(t, tile.Content[17], " ")
	assert.Equal(t, tile.Color[17], ColorBlack)
	assert.Equal(t, next.Content[17], "A")
	assert.Equal(t, next.Color[17], 0xFF0000)
	assert.Equal(t, len(next.Content), TileCells)
}
