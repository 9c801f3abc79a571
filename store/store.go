// Package store is the on-device persistence collaborator: snapshots of
// tiles and chat plus preferences, kept in sqlite with an in-process read
// cache. it sits off the message hot path; the engine runs fully
// in-memory when no store is configured.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/golang/glog"

	_ "modernc.org/sqlite"

	"github.com/worldtext/canvas/canvas"
)

type StoreSettings struct {
	// ristretto sizing for the tile snapshot read cache
	CacheNumCounters int64
	CacheMaxCost     int64
}

func DefaultStoreSettings() *StoreSettings {
	return &StoreSettings{
		CacheNumCounters: 100000,
		CacheMaxCost:     8 * 1024 * 1024,
	}
}

type Store struct {
	settings *StoreSettings

	db *sql.DB

	tileCache *ristretto.Cache[string, []byte]
}

func NewStoreWithDefaults(path string) (*Store, error) {
	return NewStore(path, DefaultStoreSettings())
}

func NewStore(path string, settings *StoreSettings) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cannot open store at %q: %w", path, err)
	}

	tileCache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: settings.CacheNumCounters,
		MaxCost:     settings.CacheMaxCost,
		BufferItems: 64,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	store := &Store{
		settings:  settings,
		db:        db,
		tileCache: tileCache,
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (self *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS tiles (
			world TEXT NOT NULL,
			tile_key TEXT NOT NULL,
			data TEXT NOT NULL,
			last_modified INTEGER NOT NULL,
			PRIMARY KEY (world, tile_key)
		);
		CREATE TABLE IF NOT EXISTS chat (
			world TEXT NOT NULL,
			msg_id TEXT NOT NULL,
			location TEXT NOT NULL,
			nickname TEXT NOT NULL,
			message TEXT NOT NULL,
			color TEXT NOT NULL DEFAULT '',
			op INTEGER NOT NULL DEFAULT 0,
			admin INTEGER NOT NULL DEFAULT 0,
			staff INTEGER NOT NULL DEFAULT 0,
			real_username TEXT NOT NULL DEFAULT '',
			sent_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_chat_world_sent ON chat(world, sent_at);
		CREATE TABLE IF NOT EXISTS prefs (
			name TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`
	_, err := self.db.Exec(schema)
	return err
}

// the serialized tile row. cell props are flattened to a sparse
// index -> link mapping.
type storedTile struct {
	Content         []string             `json:"content"`
	Color           []int                `json:"color"`
	BgColor         []int                `json:"bgColor"`
	CharWritability []int                `json:"charWritability"`
	Writability     int                  `json:"writability"`
	Links           map[int]*canvas.Link `json:"links,omitempty"`
}

func encodeTile(tile *canvas.Tile) ([]byte, error) {
	stored := &storedTile{
		Content:         tile.Content,
		Color:           tile.Color,
		BgColor:         tile.BgColor,
		CharWritability: tile.CharWritability,
		Writability:     int(tile.Writability),
	}
	if 0 < len(tile.CellProps) {
		stored.Links = map[int]*canvas.Link{}
		for index, props := range tile.CellProps {
			if props.Link != nil {
				stored.Links[index] = props.Link
			}
		}
	}
	return json.Marshal(stored)
}

func decodeTile(coord canvas.TileCoord, data []byte, lastModified time.Time) (*canvas.Tile, error) {
	var stored storedTile
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}
	tile := canvas.NewTile(coord)
	if len(stored.Content) == canvas.TileCells {
		tile.Content = stored.Content
	}
	if len(stored.Color) == canvas.TileCells {
		tile.Color = stored.Color
	}
	if len(stored.BgColor) == canvas.TileCells {
		tile.BgColor = stored.BgColor
	}
	if len(stored.CharWritability) == canvas.TileCells {
		tile.CharWritability = stored.CharWritability
	}
	tile.Writability = canvas.Writability(stored.Writability)
	for index, link := range stored.Links {
		tile.CellProps[index] = canvas.CellProps{Link: link}
	}
	tile.LastModified = lastModified
	return tile, nil
}

func tileCacheKey(world string, key canvas.TileKey) string {
	return world + "/" + string(key)
}

// SaveTiles upserts a snapshot of tiles for a world.
func (self *Store) SaveTiles(world string, tiles map[canvas.TileKey]*canvas.Tile) error {
	tx, err := self.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO tiles (world, tile_key, data, last_modified)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (world, tile_key) DO UPDATE
		SET data = excluded.data, last_modified = excluded.last_modified
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for key, tile := range tiles {
		data, err := encodeTile(tile)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(world, string(key), string(data), tile.LastModified.UnixMilli()); err != nil {
			return err
		}
		self.tileCache.Set(tileCacheKey(world, key), data, int64(len(data)))
	}
	return tx.Commit()
}

// LoadTile reads one tile snapshot, serving repeat reads from the cache.
func (self *Store) LoadTile(world string, key canvas.TileKey) (*canvas.Tile, error) {
	coord, err := canvas.ParseTileKey(key)
	if err != nil {
		return nil, err
	}

	if data, ok := self.tileCache.Get(tileCacheKey(world, key)); ok {
		return decodeTile(coord, data, time.Time{})
	}

	var data string
	var lastModified int64
	row := self.db.QueryRow(
		`SELECT data, last_modified FROM tiles WHERE world = ? AND tile_key = ?`,
		world, string(key),
	)
	if err := row.Scan(&data, &lastModified); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	self.tileCache.Set(tileCacheKey(world, key), []byte(data), int64(len(data)))
	return decodeTile(coord, []byte(data), time.UnixMilli(lastModified))
}

// LoadTiles reads the full tile snapshot for a world.
func (self *Store) LoadTiles(world string) (map[canvas.TileKey]*canvas.Tile, error) {
	rows, err := self.db.Query(
		`SELECT tile_key, data, last_modified FROM tiles WHERE world = ?`,
		world,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tiles := map[canvas.TileKey]*canvas.Tile{}
	for rows.Next() {
		var key string
		var data string
		var lastModified int64
		if err := rows.Scan(&key, &data, &lastModified); err != nil {
			return nil, err
		}
		coord, err := canvas.ParseTileKey(canvas.TileKey(key))
		if err != nil {
			glog.Infof("[store]skip bad tile key %q\n", key)
			continue
		}
		tile, err := decodeTile(coord, []byte(data), time.UnixMilli(lastModified))
		if err != nil {
			glog.Infof("[store]skip bad tile %q = %s\n", key, err)
			continue
		}
		tiles[coord.Key()] = tile
	}
	return tiles, rows.Err()
}

// AppendChat persists chat messages for offline display.
func (self *Store) AppendChat(world string, messages ...*canvas.ChatMessage) error {
	tx, err := self.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO chat (world, msg_id, location, nickname, message, color, op, admin, staff, real_username, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, message := range messages {
		_, err := stmt.Exec(
			world,
			message.Id,
			string(message.Location),
			message.Nickname,
			message.Message,
			message.Color,
			boolInt(message.Op),
			boolInt(message.Admin),
			boolInt(message.Staff),
			message.RealUsername,
			message.Timestamp.UnixMilli(),
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadChat reads up to `limit` most recent messages, oldest first.
func (self *Store) LoadChat(world string, limit int) ([]*canvas.ChatMessage, error) {
	rows, err := self.db.Query(`
		SELECT msg_id, location, nickname, message, color, op, admin, staff, real_username, sent_at
		FROM (
			SELECT * FROM chat WHERE world = ? ORDER BY sent_at DESC LIMIT ?
		) ORDER BY sent_at ASC
	`, world, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []*canvas.ChatMessage{}
	for rows.Next() {
		var message canvas.ChatMessage
		var location string
		var op, admin, staff int
		var sentAt int64
		err := rows.Scan(
			&message.Id,
			&location,
			&message.Nickname,
			&message.Message,
			&message.Color,
			&op,
			&admin,
			&staff,
			&message.RealUsername,
			&sentAt,
		)
		if err != nil {
			return nil, err
		}
		message.Location = canvas.ChatLocation(location)
		message.Op = op != 0
		message.Admin = admin != 0
		message.Staff = staff != 0
		message.Timestamp = time.UnixMilli(sentAt)
		messages = append(messages, &message)
	}
	return messages, rows.Err()
}

// SetPref stores one preference value.
func (self *Store) SetPref(name string, value string) error {
	_, err := self.db.Exec(`
		INSERT INTO prefs (name, value) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value
	`, name, value)
	return err
}

// Pref reads one preference value. ok is false when unset.
func (self *Store) Pref(name string) (value string, ok bool, err error) {
	row := self.db.QueryRow(`SELECT value FROM prefs WHERE name = ?`, name)
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (self *Store) Close() error {
	self.tileCache.Close()
	return self.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
