package canvas

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const TileWidth = 16
const TileHeight = 8
const TileCells = TileWidth * TileHeight

// tile position in the unbounded world grid
// comparable
type TileCoord struct {
	X int
	Y int
}

func (self TileCoord) Key() TileKey {
	return TileKey(fmt.Sprintf("%d,%d", self.X, self.Y))
}

func (self TileCoord) String() string {
	return string(self.Key())
}

// character position within a tile, x in [0,16), y in [0,8)
// comparable
type CharCoord struct {
	X int
	Y int
}

func (self CharCoord) Valid() bool {
	return 0 <= self.X && self.X < TileWidth && 0 <= self.Y && self.Y < TileHeight
}

func (self CharCoord) Index() int {
	return self.Y*TileWidth + self.X
}

func CharCoordFromIndex(index int) CharCoord {
	return CharCoord{
		X: index % TileWidth,
		Y: index / TileWidth,
	}
}

// canonical "tileX,tileY" string, the tile cache mapping key
type TileKey string

func ParseTileKey(key TileKey) (TileCoord, error) {
	parts := strings.SplitN(string(key), ",", 2)
	if len(parts) != 2 {
		return TileCoord{}, fmt.Errorf("cannot parse tile key %q", key)
	}
	x, err := strconv.Atoi(parts[0])
	if err != nil {
		return TileCoord{}, fmt.Errorf("cannot parse tile key %q: %w", key, err)
	}
	y, err := strconv.Atoi(parts[1])
	if err != nil {
		return TileCoord{}, fmt.Errorf("cannot parse tile key %q: %w", key, err)
	}
	return TileCoord{X: x, Y: y}, nil
}

// inclusive rectangle of tile coordinates
type TileRect struct {
	MinX int
	MinY int
	MaxX int
	MaxY int
}

func (self TileRect) Contains(coord TileCoord) bool {
	return self.MinX <= coord.X && coord.X <= self.MaxX &&
		self.MinY <= coord.Y && coord.Y <= self.MaxY
}

type Writability int

const (
	WritabilityPublic Writability = 0
	WritabilityMember Writability = 1
	WritabilityOwner  Writability = 2
)

// -1 on a per-char writability slot means "inherit tile-level writability"
const CharWritabilityInherit = -1

type LinkType string

const (
	LinkTypeUrl   LinkType = "url"
	LinkTypeCoord LinkType = "coord"
	LinkTypeNote  LinkType = "note"
)

type Link struct {
	Type LinkType
	// url links
	Url string
	// coord links
	Coord TileCoord
	// note links
	Note string
}

type CellProps struct {
	Link *Link
}

type CursorPosition struct {
	Tile TileCoord
	Char CharCoord
}

// one 16x8 grid of character cells. Tiles are immutable once published:
// every mutation builds a replacement via the with* methods so that tile
// cache snapshots can be shared across goroutines without copying.
//
// the five parallel arrays are always fully allocated, length 128, and
// index-aligned: index = charY*16 + charX.
type Tile struct {
	Coord           TileCoord
	Content         []string
	Color           []int
	BgColor         []int
	CharWritability []int
	Writability     Writability
	CellProps       map[int]CellProps
	LastModified    time.Time
}

func NewTile(coord TileCoord) *Tile {
	content := make([]string, TileCells)
	color := make([]int, TileCells)
	bgColor := make([]int, TileCells)
	charWritability := make([]int, TileCells)
	for i := 0; i < TileCells; i += 1 {
		content[i] = " "
		color[i] = ColorBlack
		bgColor[i] = ColorTransparent
		charWritability[i] = CharWritabilityInherit
	}
	return &Tile{
		Coord:           coord,
		Content:         content,
		Color:           color,
		BgColor:         bgColor,
		CharWritability: charWritability,
		Writability:     WritabilityPublic,
		CellProps:       map[int]CellProps{},
	}
}

func (self *Tile) clone() *Tile {
	return &Tile{
		Coord:           self.Coord,
		Content:         slices.Clone(self.Content),
		Color:           slices.Clone(self.Color),
		BgColor:         slices.Clone(self.BgColor),
		CharWritability: slices.Clone(self.CharWritability),
		Writability:     self.Writability,
		CellProps:       maps.Clone(self.CellProps),
		LastModified:    self.LastModified,
	}
}

// withCell returns a copy with one cell replaced. nil color/bgColor keep
// the existing values.
func (self *Tile) withCell(
	char CharCoord,
	cell string,
	color *int,
	bgColor *int,
	modified time.Time,
) *Tile {
	next := self.clone()
	i := char.Index()
	next.Content[i] = cell
	if color != nil {
		next.Color[i] = NormalizeColor(*color)
	}
	if bgColor != nil {
		next.BgColor[i] = NormalizeColor(*bgColor)
	}
	next.LastModified = modified
	return next
}

func (self *Tile) withCellProps(char CharCoord, props CellProps) *Tile {
	next := self.clone()
	next.CellProps[char.Index()] = props
	return next
}

// Cell decodes the glyph and style mask at a char coordinate.
func (self *Tile) Cell(char CharCoord) (rune, DecorationMask) {
	return DecodeCell(self.Content[char.Index()])
}

// CellWritability resolves the effective writability of one cell,
// falling back to the tile-level writability on the inherit sentinel.
func (self *Tile) CellWritability(char CharCoord) Writability {
	if w := self.CharWritability[char.Index()]; w != CharWritabilityInherit {
		return Writability(w)
	}
	return self.Writability
}
