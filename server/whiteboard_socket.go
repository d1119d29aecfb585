package main

import (
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-martini/martini"
	"github.com/gorilla/websocket"
	"github.com/russross/meddler"

	. "github.com/corkboard/corkboard/types"
)

// client is one live connection on a whiteboard. The websocket package
// forbids concurrent writers, and broadcasts arrive on other members'
// goroutines, so every data write goes through writeJSON and its lock.
type client struct {
	sync.Mutex
	socket *websocket.Conn
	userID int64
}

func (c *client) writeJSON(v interface{}) error {
	c.Lock()
	defer c.Unlock()
	return c.socket.WriteJSON(v)
}

// board tracks the live connections on one whiteboard.
type board struct {
	sync.Mutex
	clients map[*client]bool
}

type boards struct {
	sync.Mutex
	open map[int64]*board
}

var liveBoards = boards{open: make(map[int64]*board)}

func (b *boards) join(whiteboardID int64, c *client) *board {
	b.Lock()
	defer b.Unlock()

	elt, exists := b.open[whiteboardID]
	if !exists {
		elt = &board{clients: make(map[*client]bool)}
		b.open[whiteboardID] = elt
	}
	elt.Lock()
	elt.clients[c] = true
	elt.Unlock()
	return elt
}

func (b *boards) leave(whiteboardID int64, c *client) {
	b.Lock()
	defer b.Unlock()

	elt, exists := b.open[whiteboardID]
	if !exists {
		return
	}
	elt.Lock()
	delete(elt.clients, c)
	empty := len(elt.clients) == 0
	elt.Unlock()
	if empty {
		delete(b.open, whiteboardID)
	}
}

// broadcast sends a response to every connection on the board except from.
func (b *board) broadcast(from *client, res *BoardResponse) {
	b.Lock()
	defer b.Unlock()

	for elt := range b.clients {
		if elt == from {
			continue
		}
		if err := elt.writeJSON(res); err != nil {
			log.Printf("whiteboard broadcast error: %v", err)
		}
	}
}

// SocketWhiteboard handles requests to /api/whiteboards/:whiteboard_id/socket.
// It expects a websocket connection, which will receive a series of
// BoardRequest objects and respond with BoardResponse objects, though not
// in a one-to-one fashion. The first BoardRequest must have the Join field
// present; later requests carry exactly one element operation, which is
// persisted and broadcast to the other members of the whiteboard.
//
// The connection is long-lived, so access is checked here with a short
// transaction instead of the withTx service, and each element operation
// gets its own transaction.
func SocketWhiteboard(w http.ResponseWriter, r *http.Request, params martini.Params, db *sql.DB, dbMutex *sync.Mutex) {
	whiteboardID, _ := strconv.ParseInt(params["whiteboard_id"], 10, 64)

	// authenticate before upgrading
	session, err := GetSession(r)
	if err != nil {
		loggedHTTPErrorf(w, http.StatusUnauthorized, "authentication failed: try logging in again")
		return
	}
	user := new(User)
	whiteboard := new(Whiteboard)
	err = inTx(db, dbMutex, func(tx *sql.Tx) error {
		if err := meddler.Load(tx, "users", user, session.UserID); err != nil {
			return err
		}
		ok, err := CanAccessWhiteboard(tx, user, whiteboardID)
		if err != nil {
			return err
		}
		if !ok {
			return sql.ErrNoRows
		}
		return meddler.Load(tx, "whiteboards", whiteboard, whiteboardID)
	})
	if err != nil {
		// deny without confirming that the whiteboard exists
		log.Printf("unauthorized socket request to %s by user %d", r.URL.Path, session.UserID)
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	// get a websocket
	socket, err := websocket.Upgrade(w, r, nil, 1024, 1024)
	if err != nil {
		loggedHTTPErrorf(w, http.StatusBadRequest, "websocket error: %v", err)
		return
	}
	defer func() {
		socket.WriteControl(websocket.CloseMessage, nil, time.Now().Add(5*time.Second))
		socket.Close()
	}()

	self := &client{socket: socket, userID: user.ID}
	logAndTransmitErrorf := func(format string, args ...interface{}) {
		msg := fmt.Sprintf(format, args...)
		log.Print(msg)
		res := &BoardResponse{Error: msg}
		if err := self.writeJSON(res); err != nil {
			// what can we do? we already logged the error
		}
	}

	// get the first message
	req := new(BoardRequest)
	if err := socket.ReadJSON(req); err != nil {
		logAndTransmitErrorf("error reading first request message: %v", err)
		return
	}

	// sanity check
	if req.Join == nil {
		logAndTransmitErrorf("first request message must include the join object")
		return
	}
	if req.Join.WhiteboardID != whiteboardID {
		logAndTransmitErrorf("join object names whiteboard %d, but the URL names %d", req.Join.WhiteboardID, whiteboardID)
		return
	}

	live := liveBoards.join(whiteboardID, self)
	defer liveBoards.leave(whiteboardID, self)

	if err := self.writeJSON(&BoardResponse{Joined: whiteboard, UserID: user.ID}); err != nil {
		log.Printf("whiteboard socket write error: %v", err)
		return
	}

	for {
		req := new(BoardRequest)
		if err := socket.ReadJSON(req); err != nil {
			// normal disconnects land here
			return
		}

		switch {
		case req.Add != nil:
			elt := req.Add
			elt.ID = 0
			elt.WhiteboardID = whiteboardID
			elt.UserID = user.ID
			if err := elt.Normalize(time.Now()); err != nil {
				logAndTransmitErrorf("bad element: %v", err)
				continue
			}
			err := inTx(db, dbMutex, func(tx *sql.Tx) error {
				if err := meddler.Save(tx, "whiteboard_elements", elt); err != nil {
					return err
				}
				if elt.AssetID != 0 {
					return recordActivity(tx, whiteboard.CourseID, user.ID, "whiteboard_add_asset", elt.AssetID)
				}
				return nil
			})
			if err != nil {
				logAndTransmitErrorf("db error: %v", err)
				continue
			}
			live.broadcast(self, &BoardResponse{Element: elt, UserID: user.ID})

		case req.Update != nil:
			elt := new(WhiteboardElement)
			err := inTx(db, dbMutex, func(tx *sql.Tx) error {
				if err := meddler.QueryRow(tx, elt, `SELECT * FROM whiteboard_elements WHERE whiteboard_id = ? AND uuid = ?`,
					whiteboardID, req.Update.UUID); err != nil {
					return err
				}
				elt.Element = req.Update.Element
				elt.ZIndex = req.Update.ZIndex
				if err := elt.Normalize(time.Now()); err != nil {
					return err
				}
				return meddler.Save(tx, "whiteboard_elements", elt)
			})
			if err != nil {
				logAndTransmitErrorf("error updating element: %v", err)
				continue
			}
			live.broadcast(self, &BoardResponse{Element: elt, UserID: user.ID})

		case req.Delete != nil:
			err := inTx(db, dbMutex, func(tx *sql.Tx) error {
				_, err := tx.Exec(`DELETE FROM whiteboard_elements WHERE whiteboard_id = ? AND uuid = ?`,
					whiteboardID, req.Delete.UUID)
				return err
			})
			if err != nil {
				logAndTransmitErrorf("error deleting element: %v", err)
				continue
			}
			live.broadcast(self, &BoardResponse{Deleted: req.Delete, UserID: user.ID})

		default:
			logAndTransmitErrorf("request message must include an element operation")
		}
	}
}

// inTx runs f in its own transaction, committing on success.
func inTx(db *sql.DB, dbMutex *sync.Mutex, f func(tx *sql.Tx) error) error {
	dbMutex.Lock()
	defer dbMutex.Unlock()

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if err := f(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
