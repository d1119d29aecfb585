package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Whiteboard represents a collaborative whiteboard scoped to one course.
// Members are the users listed in whiteboard_users. Deleting a whiteboard
// sets DeletedAt; teaching staff can still open deleted whiteboards.
type Whiteboard struct {
	ID        int64      `json:"id" meddler:"id,pk"`
	CourseID  int64      `json:"courseID" meddler:"course_id"`
	Title     string     `json:"title" meddler:"title"`
	DeletedAt *time.Time `json:"deletedAt" meddler:"deleted_at,localtime"`
	CreatedAt time.Time  `json:"createdAt" meddler:"created_at,localtime"`
	UpdatedAt time.Time  `json:"updatedAt" meddler:"updated_at,localtime"`

	// loaded separately from whiteboard_users
	Users []*User `json:"users" meddler:"-"`
}

// WhiteboardElement is a single drawable object on a whiteboard.
// Element is an opaque JSON document owned by the client-side canvas.
type WhiteboardElement struct {
	ID           int64           `json:"id" meddler:"id,pk"`
	WhiteboardID int64           `json:"whiteboardID" meddler:"whiteboard_id"`
	UserID       int64           `json:"userID" meddler:"user_id"`
	UUID         string          `json:"uuid" meddler:"uuid"`
	Element      json.RawMessage `json:"element" meddler:"element,json"`
	ZIndex       int64           `json:"zIndex" meddler:"z_index"`
	AssetID      int64           `json:"assetID" meddler:"asset_id,zeroisnull"`
	CreatedAt    time.Time       `json:"createdAt" meddler:"created_at,localtime"`
	UpdatedAt    time.Time       `json:"updatedAt" meddler:"updated_at,localtime"`
}

// BoardRequest is one client message on a whiteboard socket.
// The first message must carry Join; later messages carry exactly one of
// the element operations.
type BoardRequest struct {
	Join   *BoardJoin         `json:"join,omitempty"`
	Add    *WhiteboardElement `json:"add,omitempty"`
	Update *WhiteboardElement `json:"update,omitempty"`
	Delete *BoardDelete       `json:"delete,omitempty"`
}

type BoardJoin struct {
	WhiteboardID int64 `json:"whiteboardID"`
}

type BoardDelete struct {
	UUID string `json:"uuid"`
}

// BoardResponse is one server message on a whiteboard socket.
type BoardResponse struct {
	Joined  *Whiteboard        `json:"joined,omitempty"`
	Element *WhiteboardElement `json:"element,omitempty"`
	Deleted *BoardDelete       `json:"deleted,omitempty"`
	UserID  int64              `json:"userID,omitempty"`
	Error   string             `json:"error,omitempty"`
}

func (elt *WhiteboardElement) Normalize(now time.Time) error {
	elt.UUID = strings.TrimSpace(elt.UUID)
	if elt.UUID == "" {
		return fmt.Errorf("whiteboard element must have a uuid")
	}
	if len(elt.Element) == 0 {
		return fmt.Errorf("whiteboard element must have an element document")
	}
	if !json.Valid(elt.Element) {
		return fmt.Errorf("whiteboard element document must be valid json")
	}
	if elt.CreatedAt.IsZero() {
		elt.CreatedAt = now
	}
	elt.UpdatedAt = now
	return nil
}
