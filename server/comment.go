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

// GetAssetComments handles /api/assets/:asset_id/comments requests,
// returning the comments on an asset in creation order.
func GetAssetComments(w http.ResponseWriter, tx *sql.Tx, params martini.Params, currentUser *User, render render.Render) {
	asset, ok := loadViewableAsset(w, tx, params, currentUser)
	if !ok {
		return
	}

	comments := []*AssetComment{}
	if err := meddler.QueryAll(tx, &comments, `SELECT * FROM asset_comments WHERE asset_id = ? ORDER BY id`, asset.ID); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusOK, comments)
}

// PostAssetComment handles /api/assets/:asset_id/comments requests,
// adding a comment (or a reply when parentID is set) to an asset.
func PostAssetComment(w http.ResponseWriter, tx *sql.Tx, params martini.Params, currentUser *User, comment AssetComment, render render.Render) {
	now := time.Now()

	asset, ok := loadViewableAsset(w, tx, params, currentUser)
	if !ok {
		return
	}

	comment.Body = strings.TrimSpace(comment.Body)
	if comment.Body == "" {
		loggedHTTPErrorf(w, http.StatusBadRequest, "comment must have a body")
		return
	}

	activityType := "asset_comment"
	if comment.ParentID != 0 {
		parent := new(AssetComment)
		if err := meddler.Load(tx, "asset_comments", parent, comment.ParentID); err != nil {
			loggedHTTPDBNotFoundError(w, err)
			return
		}
		if parent.AssetID != asset.ID {
			loggedHTTPErrorf(w, http.StatusBadRequest, "parent comment belongs to a different asset")
			return
		}
		activityType = "comment_reply"
	}

	comment.ID = 0
	comment.AssetID = asset.ID
	comment.UserID = currentUser.ID
	comment.CreatedAt = now
	comment.UpdatedAt = now
	if err := meddler.Save(tx, "asset_comments", &comment); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}

	asset.CommentCount++
	asset.UpdatedAt = now
	if err := meddler.Save(tx, "assets", asset); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	if err := recordActivity(tx, asset.CourseID, currentUser.ID, activityType, asset.ID); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}

	render.JSON(http.StatusOK, &comment)
}

// PutComment handles /api/comments/:comment_id requests,
// updating the body of a comment. Only the author, teaching staff, or an
// administrator may update a comment.
func PutComment(w http.ResponseWriter, tx *sql.Tx, params martini.Params, currentUser *User, update AssetComment, render render.Render) {
	commentID, err := parseID(w, "comment_id", params["comment_id"])
	if err != nil {
		return
	}

	comment := new(AssetComment)
	if err := meddler.Load(tx, "asset_comments", comment, commentID); err != nil {
		loggedHTTPDBNotFoundError(w, err)
		return
	}

	if !CanUpdateComment(comment, currentUser) {
		loggedHTTPErrorf(w, http.StatusUnauthorized, "user %d may not update comment %d", currentUser.ID, comment.ID)
		return
	}

	comment.Body = strings.TrimSpace(update.Body)
	if comment.Body == "" {
		loggedHTTPErrorf(w, http.StatusBadRequest, "comment must have a body")
		return
	}
	comment.UpdatedAt = time.Now()
	if err := meddler.Save(tx, "asset_comments", comment); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}

	render.JSON(http.StatusOK, comment)
}

// DeleteComment handles /api/comments/:comment_id requests,
// deleting a comment. Only the author, teaching staff, or an administrator
// may delete a comment, and comments with replies cannot be deleted.
func DeleteComment(w http.ResponseWriter, tx *sql.Tx, params martini.Params, currentUser *User) {
	commentID, err := parseID(w, "comment_id", params["comment_id"])
	if err != nil {
		return
	}

	comment := new(AssetComment)
	if err := meddler.Load(tx, "asset_comments", comment, commentID); err != nil {
		loggedHTTPDBNotFoundError(w, err)
		return
	}

	if !CanDeleteComment(comment, currentUser) {
		loggedHTTPErrorf(w, http.StatusUnauthorized, "user %d may not delete comment %d", currentUser.ID, comment.ID)
		return
	}

	var replies int64
	if err := tx.QueryRow(`SELECT COUNT(*) FROM asset_comments WHERE parent_id = ?`, comment.ID).Scan(&replies); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	if replies > 0 {
		loggedHTTPErrorf(w, http.StatusBadRequest, "comment %d has replies and cannot be deleted", comment.ID)
		return
	}

	if _, err := tx.Exec(`DELETE FROM asset_comments WHERE id = ?`, comment.ID); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	if _, err := tx.Exec(`UPDATE assets SET comment_count = comment_count - 1 WHERE id = ?`, comment.AssetID); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
}
