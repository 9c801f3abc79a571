package canvas

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// stateless bidirectional transform between typed messages and the wire
// format. every wire message is a JSON object with a top-level `kind`
// discriminator, except the edit payload of a write request, which is a
// positional array (see EncodeWrite).

const (
	KindChannel      = "channel"
	KindPing         = "ping"
	KindAnnouncement = "announcement"
	KindPropUpdate   = "propUpdate"
	KindUserCount    = "user_count"
	KindError        = "error"
	KindTileUpdate   = "tileUpdate"
	KindFetch        = "fetch"
	KindWrite        = "write"
	KindChat         = "chat"
	KindChatHistory  = "chathistory"
	KindCursor       = "cursor"
	KindCmd          = "cmd"
	KindCmdOpt       = "cmd_opt"
	KindProtect      = "protect"
	KindLink         = "link"
	KindClearTile    = "clear_tile"
	KindBoundary     = "boundary"
	KindStats        = "stats"
)

// closed union over all inbound kinds. decoding happens once into the
// union; dispatch switches exhaustively over the variants.
type Inbound interface {
	InboundKind() string
}

type ChannelInbound struct {
	Sender           string
	ClientId         string
	InitialUserCount int
}

func (self *ChannelInbound) InboundKind() string { return KindChannel }

// the pong for a previously sent ping; the id is the ping's send
// timestamp in milliseconds
type PongInbound struct {
	Id int64
}

func (self *PongInbound) InboundKind() string { return KindPing }

type AnnouncementInbound struct {
	Text string
}

func (self *AnnouncementInbound) InboundKind() string { return KindAnnouncement }

type PropUpdateInbound struct {
	Writability *Writability
	Name        *string
}

func (self *PropUpdateInbound) InboundKind() string { return KindPropUpdate }

type UserCountInbound struct {
	Count int
}

func (self *UserCountInbound) InboundKind() string { return KindUserCount }

type ErrorInbound struct {
	Code    string
	Message string
}

func (self *ErrorInbound) InboundKind() string { return KindError }

type CellUpdate struct {
	Tile      TileCoord
	Char      CharCoord
	Timestamp int64
	Cell      string
	Color     *int
	BgColor   *int
}

type TileUpdateInbound struct {
	Channel string
	Updates []CellUpdate
}

func (self *TileUpdateInbound) InboundKind() string { return KindTileUpdate }

type FetchInbound struct {
	Tiles map[TileKey]*Tile
}

func (self *FetchInbound) InboundKind() string { return KindFetch }

type WriteResponseInbound struct {
	Accepted []string
	// edit id -> reason
	Rejected map[string]string
}

func (self *WriteResponseInbound) InboundKind() string { return KindWrite }

type ChatInbound struct {
	Message *ChatMessage
}

func (self *ChatInbound) InboundKind() string { return KindChat }

type ChatHistoryInbound struct {
	Page   []*ChatMessage
	Global []*ChatMessage
}

func (self *ChatHistoryInbound) InboundKind() string { return KindChatHistory }

type CursorInbound struct {
	Sender   string
	Hidden   bool
	Position *CursorPosition
}

func (self *CursorInbound) InboundKind() string { return KindCursor }

// diagnostic for a dropped inbound message. non-fatal: the connection
// stays up and state is unchanged.
type DecodeDiagnostic struct {
	Kind       string
	PayloadLen int
	Unknown    bool
	Err        error
}

func (self *DecodeDiagnostic) Error() string {
	if self.Unknown {
		return fmt.Sprintf("unknown message kind %q (%d bytes)", self.Kind, self.PayloadLen)
	}
	return fmt.Sprintf("malformed %q message (%d bytes): %s", self.Kind, self.PayloadLen, self.Err)
}

// Decode parses one raw inbound frame into the typed union.
// an unrecognized kind or a malformed payload yields a diagnostic and a
// nil message; the caller drops the frame and moves on.
func Decode(raw []byte) (Inbound, *DecodeDiagnostic) {
	var head struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, &DecodeDiagnostic{
			PayloadLen: len(raw),
			Err:        err,
		}
	}

	malformed := func(err error) (Inbound, *DecodeDiagnostic) {
		return nil, &DecodeDiagnostic{
			Kind:       head.Kind,
			PayloadLen: len(raw),
			Err:        err,
		}
	}

	switch head.Kind {
	case KindChannel:
		var body struct {
			Sender           string          `json:"sender"`
			Id               json.RawMessage `json:"id"`
			InitialUserCount int             `json:"initial_user_count"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return malformed(err)
		}
		clientId, err := flexString(body.Id)
		if err != nil {
			return malformed(err)
		}
		return &ChannelInbound{
			Sender:           body.Sender,
			ClientId:         clientId,
			InitialUserCount: body.InitialUserCount,
		}, nil
	case KindPing:
		var body struct {
			Id json.RawMessage `json:"id"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return malformed(err)
		}
		id, err := flexInt64(body.Id, 0)
		if err != nil {
			return malformed(err)
		}
		return &PongInbound{Id: id}, nil
	case KindAnnouncement:
		var body struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return malformed(err)
		}
		return &AnnouncementInbound{Text: body.Text}, nil
	case KindPropUpdate:
		var body struct {
			Props struct {
				Writability *int    `json:"writability"`
				Name        *string `json:"name"`
			} `json:"props"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return malformed(err)
		}
		update := &PropUpdateInbound{Name: body.Props.Name}
		if body.Props.Writability != nil {
			w := Writability(*body.Props.Writability)
			update.Writability = &w
		}
		return update, nil
	case KindUserCount:
		var body struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return malformed(err)
		}
		return &UserCountInbound{Count: body.Count}, nil
	case KindError:
		var body struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return malformed(err)
		}
		return &ErrorInbound{Code: body.Code, Message: body.Message}, nil
	case KindTileUpdate:
		var body struct {
			Channel string            `json:"channel"`
			Updates []json.RawMessage `json:"updates"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return malformed(err)
		}
		updates := make([]CellUpdate, 0, len(body.Updates))
		for _, rawUpdate := range body.Updates {
			update, err := decodeCellUpdate(rawUpdate)
			if err != nil {
				return malformed(err)
			}
			updates = append(updates, update)
		}
		return &TileUpdateInbound{
			Channel: body.Channel,
			Updates: updates,
		}, nil
	case KindFetch:
		var body struct {
			Tiles map[string]json.RawMessage `json:"tiles"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return malformed(err)
		}
		tiles := map[TileKey]*Tile{}
		for key, rawTile := range body.Tiles {
			coord, err := ParseTileKey(TileKey(key))
			if err != nil {
				return malformed(err)
			}
			tile, err := decodeServerTile(coord, rawTile)
			if err != nil {
				return malformed(err)
			}
			tiles[coord.Key()] = tile
		}
		return &FetchInbound{Tiles: tiles}, nil
	case KindWrite:
		var body struct {
			Accepted []json.RawMessage `json:"accepted"`
			Rejected map[string]string `json:"rejected"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return malformed(err)
		}
		accepted := make([]string, 0, len(body.Accepted))
		for _, rawId := range body.Accepted {
			id, err := flexString(rawId)
			if err != nil {
				return malformed(err)
			}
			accepted = append(accepted, id)
		}
		rejected := body.Rejected
		if rejected == nil {
			rejected = map[string]string{}
		}
		return &WriteResponseInbound{
			Accepted: accepted,
			Rejected: rejected,
		}, nil
	case KindChat:
		message, err := decodeChatMessage(raw)
		if err != nil {
			return malformed(err)
		}
		return &ChatInbound{Message: message}, nil
	case KindChatHistory:
		var body struct {
			PagePrev   []json.RawMessage `json:"page_chat_prev"`
			GlobalPrev []json.RawMessage `json:"global_chat_prev"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return malformed(err)
		}
		history := &ChatHistoryInbound{
			Page:   []*ChatMessage{},
			Global: []*ChatMessage{},
		}
		for _, rawMessage := range body.PagePrev {
			message, err := decodeChatMessage(rawMessage)
			if err != nil {
				return malformed(err)
			}
			message.Location = ChatLocationPage
			history.Page = append(history.Page, message)
		}
		for _, rawMessage := range body.GlobalPrev {
			message, err := decodeChatMessage(rawMessage)
			if err != nil {
				return malformed(err)
			}
			message.Location = ChatLocationGlobal
			history.Global = append(history.Global, message)
		}
		return history, nil
	case KindCursor:
		var body struct {
			Sender   string `json:"sender"`
			Hidden   bool   `json:"hidden"`
			Position *struct {
				TileX int `json:"tileX"`
				TileY int `json:"tileY"`
				CharX int `json:"charX"`
				CharY int `json:"charY"`
			} `json:"position"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return malformed(err)
		}
		cursor := &CursorInbound{
			Sender: body.Sender,
			Hidden: body.Hidden,
		}
		if body.Position != nil {
			cursor.Position = &CursorPosition{
				Tile: TileCoord{X: body.Position.TileX, Y: body.Position.TileY},
				Char: CharCoord{X: body.Position.CharX, Y: body.Position.CharY},
			}
		}
		return cursor, nil
	default:
		return nil, &DecodeDiagnostic{
			Kind:       head.Kind,
			PayloadLen: len(raw),
			Unknown:    true,
		}
	}
}

// [tileY, tileX, charY, charX, timestamp, char, color?, bgColor?]
func decodeCellUpdate(raw json.RawMessage) (CellUpdate, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return CellUpdate{}, err
	}
	if len(fields) < 6 {
		return CellUpdate{}, fmt.Errorf("cell update has %d fields, need 6", len(fields))
	}

	var tileY, tileX, charY, charX int
	var timestamp int64
	var cell string
	ints := []struct {
		raw json.RawMessage
		out *int
	}{
		{fields[0], &tileY},
		{fields[1], &tileX},
		{fields[2], &charY},
		{fields[3], &charX},
	}
	for _, field := range ints {
		if err := json.Unmarshal(field.raw, field.out); err != nil {
			return CellUpdate{}, err
		}
	}
	if err := json.Unmarshal(fields[4], &timestamp); err != nil {
		return CellUpdate{}, err
	}
	if err := json.Unmarshal(fields[5], &cell); err != nil {
		return CellUpdate{}, err
	}

	update := CellUpdate{
		Tile:      TileCoord{X: tileX, Y: tileY},
		Char:      CharCoord{X: charX, Y: charY},
		Timestamp: timestamp,
		Cell:      cell,
	}
	if 7 <= len(fields) {
		color, err := parseColorField(fields[6])
		if err != nil {
			return CellUpdate{}, err
		}
		update.Color = &color
	}
	if 8 <= len(fields) {
		bgColor, err := parseColorField(fields[7])
		if err != nil {
			return CellUpdate{}, err
		}
		update.BgColor = &bgColor
	}
	return update, nil
}

type wireLink struct {
	Type      string `json:"type"`
	Url       string `json:"url"`
	LinkTileX *int   `json:"link_tileX"`
	LinkTileY *int   `json:"link_tileY"`
	Note      string `json:"note"`
}

type wireCellProps struct {
	Link *wireLink `json:"link"`
}

type wireTileProperties struct {
	Writability *int                                `json:"writability"`
	Color       json.RawMessage                     `json:"color"`
	BgColor     json.RawMessage                     `json:"bgcolor"`
	Char        json.RawMessage                     `json:"char"`
	CellProps   map[string]map[string]wireCellProps `json:"cell_props"`
}

type wireTile struct {
	Content    json.RawMessage     `json:"content"`
	Properties *wireTileProperties `json:"properties"`
}

// decodeServerTile normalizes one fetched tile into a fully allocated
// Tile. a null entry means the server has nothing stored there; it
// decodes to a blank public tile.
func decodeServerTile(coord TileCoord, raw json.RawMessage) (*Tile, error) {
	tile := NewTile(coord)
	if len(raw) == 0 || string(raw) == "null" {
		return tile, nil
	}

	var body wireTile
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}

	content, err := normalizeContent(body.Content)
	if err != nil {
		return nil, err
	}
	tile.Content = content

	if body.Properties != nil {
		props := body.Properties
		if props.Writability != nil {
			tile.Writability = Writability(*props.Writability)
		}
		tile.Color, err = normalizeColorSeq(props.Color, ColorBlack)
		if err != nil {
			return nil, err
		}
		tile.BgColor, err = normalizeColorSeq(props.BgColor, ColorTransparent)
		if err != nil {
			return nil, err
		}
		tile.CharWritability, err = normalizeIntSeq(props.Char, CharWritabilityInherit)
		if err != nil {
			return nil, err
		}
		for yKey, row := range props.CellProps {
			y, err := strconv.Atoi(yKey)
			if err != nil {
				return nil, fmt.Errorf("cannot parse cell props row %q: %w", yKey, err)
			}
			for xKey, cellProps := range row {
				x, err := strconv.Atoi(xKey)
				if err != nil {
					return nil, fmt.Errorf("cannot parse cell props column %q: %w", xKey, err)
				}
				char := CharCoord{X: x, Y: y}
				if !char.Valid() {
					continue
				}
				tile.CellProps[char.Index()] = CellProps{
					Link: decodeWireLink(cellProps.Link),
				}
			}
		}
	}
	return tile, nil
}

func decodeWireLink(link *wireLink) *Link {
	if link == nil {
		return nil
	}
	decoded := &Link{
		Type: LinkType(link.Type),
		Url:  link.Url,
		Note: link.Note,
	}
	if link.LinkTileX != nil && link.LinkTileY != nil {
		decoded.Coord = TileCoord{X: *link.LinkTileX, Y: *link.LinkTileY}
	}
	return decoded
}

func decodeChatMessage(raw json.RawMessage) (*ChatMessage, error) {
	var body struct {
		Id           json.RawMessage `json:"id"`
		Nickname     string          `json:"nickname"`
		Message      string          `json:"message"`
		Location     string          `json:"location"`
		Color        string          `json:"color"`
		Op           bool            `json:"op"`
		Admin        bool            `json:"admin"`
		Staff        bool            `json:"staff"`
		RealUsername string          `json:"realUsername"`
		Date         int64           `json:"date"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	id, err := flexString(body.Id)
	if err != nil {
		return nil, err
	}
	location := ChatLocation(body.Location)
	if location != ChatLocationGlobal {
		location = ChatLocationPage
	}
	return &ChatMessage{
		Id:           id,
		Nickname:     body.Nickname,
		Message:      body.Message,
		Location:     location,
		Color:        body.Color,
		Op:           body.Op,
		Admin:        body.Admin,
		Staff:        body.Staff,
		Timestamp:    time.UnixMilli(body.Date),
		RealUsername: body.RealUsername,
	}, nil
}

// field shape normalization. several server fields arrive as a single
// scalar, a comma-joined string, or a sequence; all three normalize to a
// fixed-length sequence with a per-field default.

func normalizeContent(raw json.RawMessage) ([]string, error) {
	cells := make([]string, TileCells)
	for i := range cells {
		cells[i] = " "
	}
	if len(raw) == 0 || string(raw) == "null" {
		return cells, nil
	}

	var seq []string
	if err := json.Unmarshal(raw, &seq); err == nil {
		for i := 0; i < TileCells && i < len(seq); i += 1 {
			if seq[i] != "" {
				cells[i] = seq[i]
			}
		}
		return cells, nil
	}

	var joined string
	if err := json.Unmarshal(raw, &joined); err != nil {
		return nil, fmt.Errorf("cannot parse tile content: %w", err)
	}
	if parts := strings.Split(joined, ","); len(parts) == TileCells {
		for i, part := range parts {
			if part != "" {
				cells[i] = part
			}
		}
		return cells, nil
	}
	// a flat string of glyphs. trailing decoration markers attach to the
	// preceding cell.
	i := -1
	for _, r := range joined {
		if 0 <= i && decorationMarkBase <= r && r <= decorationMarkMax {
			cells[i] += string(r)
			continue
		}
		i += 1
		if TileCells <= i {
			break
		}
		cells[i] = string(r)
	}
	return cells, nil
}

func normalizeColorSeq(raw json.RawMessage, def int) ([]int, error) {
	colors := make([]int, TileCells)
	for i := range colors {
		colors[i] = def
	}
	if len(raw) == 0 || string(raw) == "null" {
		return colors, nil
	}

	var seq []json.RawMessage
	if err := json.Unmarshal(raw, &seq); err == nil {
		for i := 0; i < TileCells && i < len(seq); i += 1 {
			color, err := parseColorField(seq[i])
			if err != nil {
				return nil, err
			}
			colors[i] = color
		}
		return colors, nil
	}

	var scalar float64
	if err := json.Unmarshal(raw, &scalar); err == nil {
		color := NormalizeColor(int(scalar))
		for i := range colors {
			colors[i] = color
		}
		return colors, nil
	}

	var joined string
	if err := json.Unmarshal(raw, &joined); err != nil {
		return nil, fmt.Errorf("cannot parse color sequence: %w", err)
	}
	// a comma-joined string is a per-cell list when it has exactly one
	// element per cell; otherwise it is a single color (possibly "R,G,B")
	// applied to every cell.
	if parts := strings.Split(joined, ","); len(parts) == TileCells {
		for i, part := range parts {
			color, err := ParseColor(part)
			if err != nil {
				return nil, err
			}
			colors[i] = color
		}
		return colors, nil
	}
	color, err := ParseColor(joined)
	if err != nil {
		return nil, err
	}
	for i := range colors {
		colors[i] = color
	}
	return colors, nil
}

func normalizeIntSeq(raw json.RawMessage, def int) ([]int, error) {
	values := make([]int, TileCells)
	for i := range values {
		values[i] = def
	}
	if len(raw) == 0 || string(raw) == "null" {
		return values, nil
	}

	var seq []json.RawMessage
	if err := json.Unmarshal(raw, &seq); err == nil {
		for i := 0; i < TileCells && i < len(seq); i += 1 {
			if string(seq[i]) == "null" {
				continue
			}
			var value int
			if err := json.Unmarshal(seq[i], &value); err != nil {
				return nil, err
			}
			values[i] = value
		}
		return values, nil
	}

	var scalar int
	if err := json.Unmarshal(raw, &scalar); err == nil {
		for i := range values {
			values[i] = scalar
		}
		return values, nil
	}

	var joined string
	if err := json.Unmarshal(raw, &joined); err != nil {
		return nil, fmt.Errorf("cannot parse int sequence: %w", err)
	}
	for i, part := range strings.Split(joined, ",") {
		if TileCells <= i {
			break
		}
		value, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		values[i] = value
	}
	return values, nil
}

// a color field may be a number or any of the textual color forms
func parseColorField(raw json.RawMessage) (int, error) {
	var scalar float64
	if err := json.Unmarshal(raw, &scalar); err == nil {
		return NormalizeColor(int(scalar)), nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return 0, fmt.Errorf("cannot parse color value %s", string(raw))
	}
	return ParseColor(text)
}

func flexInt64(raw json.RawMessage, def int64) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return def, nil
	}
	var number int64
	if err := json.Unmarshal(raw, &number); err == nil {
		return number, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return 0, fmt.Errorf("cannot parse int value %s", string(raw))
	}
	return strconv.ParseInt(text, 10, 64)
}

func flexString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err != nil {
		return "", fmt.Errorf("cannot parse string value %s", string(raw))
	}
	return number.String(), nil
}

// outbound encoders

func EncodeFetch(rect TileRect) ([]byte, error) {
	return json.Marshal(map[string]any{
		"kind": KindFetch,
		"fetchRectangles": []map[string]int{
			{
				"minX": rect.MinX,
				"minY": rect.MinY,
				"maxX": rect.MaxX,
				"maxY": rect.MaxY,
			},
		},
	})
}

// EncodeWrite serializes a batch of edits as positional arrays:
// [tileY, tileX, charY, charX, timestamp, char, editId, textColor?, bgColor?]
// trailing color fields are omitted entirely when unset. when bgColor is
// set without textColor, a 0 placeholder keeps the array positionally
// valid.
func EncodeWrite(edits []*Edit) ([]byte, error) {
	wireEdits := make([][]any, 0, len(edits))
	for _, edit := range edits {
		wireEdit := []any{
			edit.Tile.Y,
			edit.Tile.X,
			edit.Char.Y,
			edit.Char.X,
			edit.Timestamp,
			edit.Cell,
			edit.Id,
		}
		if edit.Color != nil {
			wireEdit = append(wireEdit, NormalizeColor(*edit.Color))
		}
		if edit.BgColor != nil {
			if edit.Color == nil {
				wireEdit = append(wireEdit, 0)
			}
			wireEdit = append(wireEdit, NormalizeColor(*edit.BgColor))
		}
		wireEdits = append(wireEdits, wireEdit)
	}
	return json.Marshal(map[string]any{
		"kind":  KindWrite,
		"edits": wireEdits,
	})
}

func EncodeChat(nickname string, message string, location ChatLocation, color string) ([]byte, error) {
	body := map[string]any{
		"kind":     KindChat,
		"nickname": nickname,
		"message":  message,
		"location": string(location),
	}
	if color != "" {
		body["color"] = color
	}
	return json.Marshal(body)
}

func EncodeChatHistoryRequest() ([]byte, error) {
	return json.Marshal(map[string]any{
		"kind": KindChatHistory,
	})
}

func EncodePing(id int64) ([]byte, error) {
	return json.Marshal(map[string]any{
		"kind": KindPing,
		"id":   id,
	})
}

func EncodeCmd(data string, includeUsername bool) ([]byte, error) {
	return json.Marshal(map[string]any{
		"kind":             KindCmd,
		"data":             data,
		"include_username": includeUsername,
	})
}

func EncodeCmdOpt() ([]byte, error) {
	return json.Marshal(map[string]any{
		"kind": KindCmdOpt,
	})
}

// char is nil for tile-scope protection
func EncodeProtect(action string, tile TileCoord, char *CharCoord, writability Writability) ([]byte, error) {
	body := map[string]any{
		"kind":   KindProtect,
		"action": action,
		"tileX":  tile.X,
		"tileY":  tile.Y,
		"type":   int(writability),
	}
	if char != nil {
		body["charX"] = char.X
		body["charY"] = char.Y
	}
	return json.Marshal(body)
}

func EncodeLink(tile TileCoord, char CharCoord, link *Link) ([]byte, error) {
	var data map[string]any
	switch link.Type {
	case LinkTypeUrl:
		data = map[string]any{
			"url": link.Url,
		}
	case LinkTypeCoord:
		data = map[string]any{
			"link_tileX": link.Coord.X,
			"link_tileY": link.Coord.Y,
		}
	case LinkTypeNote:
		data = map[string]any{
			"note": link.Note,
		}
	default:
		return nil, fmt.Errorf("unknown link type %q", link.Type)
	}
	return json.Marshal(map[string]any{
		"kind":  KindLink,
		"type":  string(link.Type),
		"tileX": tile.X,
		"tileY": tile.Y,
		"charX": char.X,
		"charY": char.Y,
		"data":  data,
	})
}

func EncodeClearTile(tile TileCoord) ([]byte, error) {
	return json.Marshal(map[string]any{
		"kind":  KindClearTile,
		"tileX": tile.X,
		"tileY": tile.Y,
	})
}

// a nil position hides the cursor
func EncodeCursor(position *CursorPosition) ([]byte, error) {
	if position == nil {
		return json.Marshal(map[string]any{
			"kind":   KindCursor,
			"hidden": true,
		})
	}
	return json.Marshal(map[string]any{
		"kind": KindCursor,
		"position": map[string]int{
			"tileX": position.Tile.X,
			"tileY": position.Tile.Y,
			"charX": position.Char.X,
			"charY": position.Char.Y,
		},
	})
}

func EncodeBoundary(rect TileRect) ([]byte, error) {
	return json.Marshal(map[string]any{
		"kind": KindBoundary,
		"minX": rect.MinX,
		"minY": rect.MinY,
		"maxX": rect.MaxX,
		"maxY": rect.MaxY,
	})
}

func EncodeStats() ([]byte, error) {
	return json.Marshal(map[string]any{
		"kind": KindStats,
	})
}
