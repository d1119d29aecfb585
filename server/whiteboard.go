package main

import (
	"database/sql"
	"net/http"
	"strings"
	"time"

	"github.com/go-martini/martini"
	"github.com/martini-contrib/render"
	"github.com/russross/meddler"

	. "github.com/corkboard/corkboard/types"
)

// loadWhiteboardUsers fills in the whiteboard's member list from
// whiteboard_users.
func loadWhiteboardUsers(tx *sql.Tx, whiteboard *Whiteboard) error {
	users := []*User{}
	err := meddler.QueryAll(tx, &users, `SELECT users.* `+
		`FROM users JOIN whiteboard_users ON users.id = whiteboard_users.user_id `+
		`WHERE whiteboard_users.whiteboard_id = ? ORDER BY users.id`, whiteboard.ID)
	if err != nil {
		return err
	}
	whiteboard.Users = users
	return nil
}

// GetWhiteboards handles /api/whiteboards requests,
// returning a list of whiteboards.
//
// Administrators see every whiteboard; teaching staff see every whiteboard
// of their course including deleted ones; everyone else sees the
// non-deleted whiteboards of their course that they are a member of.
// If parameter title=<...> is present, results are filtered by
// case-insensitive substring match on the title field.
func GetWhiteboards(w http.ResponseWriter, r *http.Request, tx *sql.Tx, currentUser *User, render render.Render) {
	where := ""
	args := []interface{}{}

	if title := r.FormValue("title"); title != "" {
		where, args = addWhereLike(where, args, "whiteboards.title", title)
	}

	whiteboards := []*Whiteboard{}
	var err error

	switch {
	case currentUser.Admin:
		err = meddler.QueryAll(tx, &whiteboards, `SELECT * FROM whiteboards`+where+` ORDER BY id`, args...)
	case currentUser.Teaching:
		where, args = addWhereEq(where, args, "whiteboards.course_id", currentUser.CourseID)
		err = meddler.QueryAll(tx, &whiteboards, `SELECT * FROM whiteboards`+where+` ORDER BY id`, args...)
	default:
		where, args = addWhereEq(where, args, "whiteboards.course_id", currentUser.CourseID)
		where, args = addWhereEq(where, args, "whiteboard_users.user_id", currentUser.ID)
		err = meddler.QueryAll(tx, &whiteboards, `SELECT whiteboards.* `+
			`FROM whiteboards JOIN whiteboard_users ON whiteboards.id = whiteboard_users.whiteboard_id`+
			where+` AND whiteboards.deleted_at IS NULL ORDER BY whiteboards.id`, args...)
	}

	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusOK, whiteboards)
}

// PostWhiteboard handles /api/whiteboards requests,
// creating a whiteboard in the current user's course with the current
// user as its first member.
func PostWhiteboard(w http.ResponseWriter, tx *sql.Tx, currentUser *User, whiteboard Whiteboard, render render.Render) {
	now := time.Now()

	whiteboard.Title = strings.TrimSpace(whiteboard.Title)
	if whiteboard.Title == "" {
		loggedHTTPErrorf(w, http.StatusBadRequest, "whiteboard must have a title")
		return
	}

	whiteboard.ID = 0
	whiteboard.CourseID = currentUser.CourseID
	whiteboard.DeletedAt = nil
	whiteboard.CreatedAt = now
	whiteboard.UpdatedAt = now
	if err := meddler.Save(tx, "whiteboards", &whiteboard); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	if _, err := tx.Exec(`INSERT INTO whiteboard_users (whiteboard_id, user_id) VALUES (?, ?)`, whiteboard.ID, currentUser.ID); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}

	whiteboard.Users = []*User{currentUser}
	render.JSON(http.StatusOK, &whiteboard)
}

// GetWhiteboard handles /api/whiteboards/:whiteboard_id requests,
// returning a single whiteboard with its member list.
// Access is checked by the whiteboardAccess guard before this runs.
func GetWhiteboard(w http.ResponseWriter, tx *sql.Tx, params martini.Params, render render.Render) {
	whiteboardID, err := parseID(w, "whiteboard_id", params["whiteboard_id"])
	if err != nil {
		return
	}

	whiteboard := new(Whiteboard)
	if err := meddler.Load(tx, "whiteboards", whiteboard, whiteboardID); err != nil {
		loggedHTTPDBNotFoundError(w, err)
		return
	}
	if err := loadWhiteboardUsers(tx, whiteboard); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusOK, whiteboard)
}

// GetWhiteboardElements handles /api/whiteboards/:whiteboard_id/elements
// requests, returning the whiteboard's elements in z order.
func GetWhiteboardElements(w http.ResponseWriter, tx *sql.Tx, params martini.Params, render render.Render) {
	whiteboardID, err := parseID(w, "whiteboard_id", params["whiteboard_id"])
	if err != nil {
		return
	}

	elements := []*WhiteboardElement{}
	if err := meddler.QueryAll(tx, &elements, `SELECT * FROM whiteboard_elements WHERE whiteboard_id = ? ORDER BY z_index, id`, whiteboardID); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusOK, elements)
}

// DeleteWhiteboard handles /api/whiteboards/:whiteboard_id requests,
// soft-deleting a single whiteboard. Teaching staff can still open and
// restore deleted whiteboards.
func DeleteWhiteboard(w http.ResponseWriter, tx *sql.Tx, params martini.Params) {
	whiteboardID, err := parseID(w, "whiteboard_id", params["whiteboard_id"])
	if err != nil {
		return
	}

	whiteboard := new(Whiteboard)
	if err := meddler.Load(tx, "whiteboards", whiteboard, whiteboardID); err != nil {
		loggedHTTPDBNotFoundError(w, err)
		return
	}

	now := time.Now()
	whiteboard.DeletedAt = &now
	whiteboard.UpdatedAt = now
	if err := meddler.Save(tx, "whiteboards", whiteboard); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
}

// RestoreWhiteboard handles /api/whiteboards/:whiteboard_id/restore
// requests, clearing the soft-delete timestamp.
func RestoreWhiteboard(w http.ResponseWriter, tx *sql.Tx, params martini.Params, render render.Render) {
	whiteboardID, err := parseID(w, "whiteboard_id", params["whiteboard_id"])
	if err != nil {
		return
	}

	whiteboard := new(Whiteboard)
	if err := meddler.Load(tx, "whiteboards", whiteboard, whiteboardID); err != nil {
		loggedHTTPDBNotFoundError(w, err)
		return
	}

	whiteboard.DeletedAt = nil
	whiteboard.UpdatedAt = time.Now()
	if err := meddler.Save(tx, "whiteboards", whiteboard); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusOK, whiteboard)
}
