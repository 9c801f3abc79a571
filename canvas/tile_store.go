package canvas

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/exp/maps"

	"github.com/golang/glog"
)

// TileStore is the authoritative in-memory cache of fetched/edited tiles.
//
// mutations build a new map and atomically publish it, so readers
// (viewport queries during render) never observe a partially-updated
// mapping and never take the write lock.
type TileStore struct {
	stateLock sync.Mutex

	snapshot atomic.Pointer[map[TileKey]*Tile]

	// tiles touched since the last `TakeDirty`, signaled for re-render
	dirty map[TileKey]bool
}

func NewTileStore() *TileStore {
	store := &TileStore{
		dirty: map[TileKey]bool{},
	}
	tiles := map[TileKey]*Tile{}
	store.snapshot.Store(&tiles)
	return store
}

func (self *TileStore) tiles() map[TileKey]*Tile {
	return *self.snapshot.Load()
}

// must be called inside the state lock
func (self *TileStore) publish(tiles map[TileKey]*Tile, dirtyKeys ...TileKey) {
	self.snapshot.Store(&tiles)
	for _, key := range dirtyKeys {
		self.dirty[key] = true
	}
}

// MergeFetchResult replaces each fetched tile wholesale. a fetch response
// always wins over the local cache for the tiles it includes, even when a
// local optimistic edit is still in flight for one of them.
func (self *TileStore) MergeFetchResult(fetched map[TileKey]*Tile) {
	if len(fetched) == 0 {
		return
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	next := maps.Clone(self.tiles())
	dirtyKeys := []TileKey{}
	for key, tile := range fetched {
		next[key] = tile
		dirtyKeys = append(dirtyKeys, key)
	}
	self.publish(next, dirtyKeys...)
}

// ApplyRemoteCellUpdate sets one cell from a pushed update event.
// updates for tiles not present in the cache are dropped: tiles are only
// materialized via fetch or local write, since a bare update event does
// not carry enough context to synthesize a full tile's defaults.
// reports whether the update was applied.
func (self *TileStore) ApplyRemoteCellUpdate(
	coord TileCoord,
	char CharCoord,
	cell string,
	timestamp time.Time,
	color *int,
	bgColor *int,
) bool {
	if !char.Valid() {
		return false
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	key := coord.Key()
	tile, ok := self.tiles()[key]
	if !ok {
		glog.V(2).Infof("[store]drop update for unloaded tile %s\n", key)
		return false
	}

	next := maps.Clone(self.tiles())
	next[key] = tile.withCell(char, cell, color, bgColor, timestamp)
	self.publish(next, key)
	return true
}

// ApplyLocalEdit sets one cell optimistically, creating a default public
// tile when the coordinate has not been fetched yet. permission is the
// caller's concern, checked against the tile's current writability.
func (self *TileStore) ApplyLocalEdit(
	coord TileCoord,
	char CharCoord,
	cell string,
	timestamp time.Time,
	color *int,
	bgColor *int,
) {
	if !char.Valid() {
		return
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	key := coord.Key()
	tile, ok := self.tiles()[key]
	if !ok {
		tile = NewTile(coord)
	}

	next := maps.Clone(self.tiles())
	next[key] = tile.withCell(char, cell, color, bgColor, timestamp)
	self.publish(next, key)
}

// SetCellProps replaces the per-cell properties (currently links) of one
// cell. like remote cell updates, unloaded tiles are left alone.
func (self *TileStore) SetCellProps(coord TileCoord, char CharCoord, props CellProps) bool {
	if !char.Valid() {
		return false
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	key := coord.Key()
	tile, ok := self.tiles()[key]
	if !ok {
		return false
	}

	next := maps.Clone(self.tiles())
	next[key] = tile.withCellProps(char, props)
	self.publish(next, key)
	return true
}

// Get returns the cached tile at a coordinate, if present.
func (self *TileStore) Get(coord TileCoord) (*Tile, bool) {
	tile, ok := self.tiles()[coord.Key()]
	return tile, ok
}

// GetVisible returns the cached tiles inside the rectangle. tiles that
// have not been fetched are simply absent from the result; the caller
// treats a missing tile as "not yet loaded", not as empty.
func (self *TileStore) GetVisible(rect TileRect) map[TileKey]*Tile {
	visible := map[TileKey]*Tile{}
	for key, tile := range self.tiles() {
		if rect.Contains(tile.Coord) {
			visible[key] = tile
		}
	}
	return visible
}

// Size returns the number of cached tiles.
func (self *TileStore) Size() int {
	return len(self.tiles())
}

// TakeDirty returns the keys touched since the previous call and resets
// the dirty set.
func (self *TileStore) TakeDirty() []TileKey {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	keys := maps.Keys(self.dirty)
	self.dirty = map[TileKey]bool{}
	return keys
}

// InvalidateAll drops every cached tile (disconnect, world switch).
func (self *TileStore) InvalidateAll() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	tiles := map[TileKey]*Tile{}
	self.publish(tiles)
	self.dirty = map[TileKey]bool{}
}
