package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"

	"golang.org/x/term"

	"github.com/worldtext/canvas/canvas"
	"github.com/worldtext/canvas/store"
)

const CanvasCtlVersion = "0.1.0"

const DefaultHost = "www.yourworldoftext.com"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := fmt.Sprintf(`Canvas world control.

The default host is:
    %s

Usage:
    canvasctl view --world=<world> [--host=<host>] [--db=<db>]
        [--x=<x>] [--y=<y>] [--follow]
    canvasctl write --world=<world> [--host=<host>]
        --x=<x> --y=<y> [--cx=<cx>] [--cy=<cy>]
        [--color=<color>] <text>
    canvasctl chat --world=<world> [--host=<host>] [--db=<db>]
        --nickname=<nickname> [--location=<location>] <message>
    canvasctl stats --world=<world> [--host=<host>]

Options:
    -h --help                Show this screen.
    --version                Show version.
    --host=<host>
    --world=<world>          World name. An empty name is the front page.
    --db=<db>                Sqlite path for offline tile/chat snapshots.
    --x=<x>                  Tile x coordinate [default: 0].
    --y=<y>                  Tile y coordinate [default: 0].
    --cx=<cx>                Char x coordinate [default: 0].
    --cy=<cy>                Char y coordinate [default: 0].
    --color=<color>          Text color, e.g. #FF8000.
    --nickname=<nickname>    Chat nickname.
    --location=<location>    Chat location, page or global [default: page].
    --follow                 Keep the view open and follow live updates.`,
		DefaultHost,
	)

	opts, _ := docopt.ParseArgs(usage, os.Args[1:], CanvasCtlVersion)

	if view, _ := opts.Bool("view"); view {
		viewWorld(opts)
	} else if write, _ := opts.Bool("write"); write {
		writeText(opts)
	} else if chat, _ := opts.Bool("chat"); chat {
		sendChat(opts)
	} else if stats, _ := opts.Bool("stats"); stats {
		requestStats(opts)
	}
}

func newSession(opts docopt.Opts) (*canvas.Session, string) {
	host, err := opts.String("--host")
	if err != nil || host == "" {
		host = DefaultHost
	}
	world, _ := opts.String("--world")

	cancelCtx, cancel := context.WithCancel(context.Background())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()

	settings := canvas.DefaultSessionSettings()
	if nickname, err := opts.String("--nickname"); err == nil && nickname != "" {
		settings.Nickname = nickname
	}

	session := canvas.NewSession(cancelCtx, host, settings)
	return session, world
}

// blocks until the session is connected or the attempt cap is exhausted
func connectAndWait(session *canvas.Session, world string) bool {
	connected := make(chan bool, 1)
	unsubState := session.AddConnectionStateCallback(func(isConnected bool, isConnecting bool) {
		if isConnected {
			select {
			case connected <- true:
			default:
			}
		}
	})
	defer unsubState()
	unsubError := session.AddErrorCallback(func(err error) {
		if _, ok := err.(*canvas.ReconnectExhaustedError); ok {
			select {
			case connected <- false:
			default:
			}
		}
	})
	defer unsubError()

	if err := session.Connect(world); err != nil {
		Err.Printf("connect: %s", err)
		return false
	}
	return <-connected
}

// viewport sized from the terminal, in tiles
func viewportRect(tileX int, tileY int) canvas.TileRect {
	columns, rows := 80, 24
	if c, r, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		columns, rows = c, r
	}
	tilesAcross := max(columns/canvas.TileWidth, 1)
	tilesDown := max((rows-1)/canvas.TileHeight, 1)
	return canvas.TileRect{
		MinX: tileX,
		MinY: tileY,
		MaxX: tileX + tilesAcross - 1,
		MaxY: tileY + tilesDown - 1,
	}
}

func renderRect(session *canvas.Session, rect canvas.TileRect) {
	tiles := session.TileStore().GetVisible(rect)
	for tileY := rect.MinY; tileY <= rect.MaxY; tileY += 1 {
		for charY := 0; charY < canvas.TileHeight; charY += 1 {
			line := []rune{}
			for tileX := rect.MinX; tileX <= rect.MaxX; tileX += 1 {
				coord := canvas.TileCoord{X: tileX, Y: tileY}
				tile, ok := tiles[coord.Key()]
				for charX := 0; charX < canvas.TileWidth; charX += 1 {
					if !ok {
						line = append(line, ' ')
						continue
					}
					glyph, _ := tile.Cell(canvas.CharCoord{X: charX, Y: charY})
					line = append(line, glyph)
				}
			}
			Out.Printf("%s", string(line))
		}
	}
}

func viewWorld(opts docopt.Opts) {
	session, world := newSession(opts)
	defer session.Close()

	tileX, _ := opts.Int("--x")
	tileY, _ := opts.Int("--y")
	rect := viewportRect(tileX, tileY)

	var db *store.Store
	if dbPath, err := opts.String("--db"); err == nil && dbPath != "" {
		var storeErr error
		db, storeErr = store.NewStoreWithDefaults(dbPath)
		if storeErr != nil {
			// degrade to pure in-memory operation
			Err.Printf("store unavailable, continuing without it: %s", storeErr)
			db = nil
		} else {
			defer db.Close()
		}
	}

	fetched := make(chan struct{}, 1)
	unsub := session.AddMessageCallback(func(message canvas.Inbound) {
		if _, ok := message.(*canvas.FetchInbound); ok {
			select {
			case fetched <- struct{}{}:
			default:
			}
		}
	})
	defer unsub()

	if !connectAndWait(session, world) {
		Err.Printf("could not connect to %q", world)
		return
	}
	session.SetBoundary(rect)
	session.FetchRect(rect)

	select {
	case <-fetched:
	case <-time.After(15 * time.Second):
		Err.Printf("fetch timed out")
		return
	}
	renderRect(session, rect)

	if follow, _ := opts.Bool("--follow"); follow {
		for {
			select {
			case <-session.Done():
				return
			case <-time.After(1 * time.Second):
			}
			if dirty := session.TileStore().TakeDirty(); 0 < len(dirty) {
				Out.Printf("")
				renderRect(session, rect)
			}
		}
	}

	if db != nil {
		if err := db.SaveTiles(world, session.TileStore().GetVisible(rect)); err != nil {
			Err.Printf("save tiles: %s", err)
		}
		db.SetPref("last_world", world)
	}
}

func writeText(opts docopt.Opts) {
	session, world := newSession(opts)
	defer session.Close()

	tileX, _ := opts.Int("--x")
	tileY, _ := opts.Int("--y")
	charX, _ := opts.Int("--cx")
	charY, _ := opts.Int("--cy")
	text, _ := opts.String("<text>")

	var color *int
	if colorText, err := opts.String("--color"); err == nil && colorText != "" {
		c, err := canvas.ParseColor(colorText)
		if err != nil {
			Err.Printf("bad color: %s", err)
			return
		}
		color = &c
	}

	if !connectAndWait(session, world) {
		Err.Printf("could not connect to %q", world)
		return
	}

	tile := canvas.TileCoord{X: tileX, Y: tileY}
	char := canvas.CharCoord{X: charX, Y: charY}
	for _, glyph := range text {
		if _, err := session.WriteCharacter(tile, char, glyph, 0, color, nil); err != nil {
			Err.Printf("write: %s", err)
			return
		}
		char.X += 1
		if canvas.TileWidth <= char.X {
			char.X = 0
			tile.X += 1
		}
	}
	session.Flush()
	// give the server a moment to ack before closing
	time.Sleep(1 * time.Second)
	session.Disconnect()
	Out.Printf("wrote %d characters at %d,%d", len([]rune(text)), tileX, tileY)
}

func sendChat(opts docopt.Opts) {
	session, world := newSession(opts)
	defer session.Close()

	message, _ := opts.String("<message>")
	location := canvas.ChatLocationPage
	if locationText, err := opts.String("--location"); err == nil && locationText == "global" {
		location = canvas.ChatLocationGlobal
	}

	if !connectAndWait(session, world) {
		Err.Printf("could not connect to %q", world)
		return
	}
	if err := session.SendChat(message, location); err != nil {
		Err.Printf("chat: %s", err)
		return
	}
	time.Sleep(1 * time.Second)

	if dbPath, err := opts.String("--db"); err == nil && dbPath != "" {
		if db, err := store.NewStoreWithDefaults(dbPath); err == nil {
			defer db.Close()
			db.AppendChat(world, session.ChatLog().Merged()...)
		}
	}
}

func requestStats(opts docopt.Opts) {
	session, world := newSession(opts)
	defer session.Close()

	done := make(chan struct{}, 1)
	unsub := session.AddMessageCallback(func(message canvas.Inbound) {
		if announcement, ok := message.(*canvas.AnnouncementInbound); ok {
			Out.Printf("%s", announcement.Text)
			select {
			case done <- struct{}{}:
			default:
			}
		}
	})
	defer unsub()

	if !connectAndWait(session, world) {
		Err.Printf("could not connect to %q", world)
		return
	}
	session.RequestStats()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		Err.Printf("stats timed out")
	}
}
