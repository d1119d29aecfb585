package main

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-martini/martini"
	"github.com/martini-contrib/render"
	"github.com/russross/meddler"

	. "github.com/corkboard/corkboard/types"
)

// loadAssetUsers fills in the asset's owner list from asset_users.
func loadAssetUsers(tx *sql.Tx, asset *Asset) error {
	users := []*User{}
	err := meddler.QueryAll(tx, &users, `SELECT users.* `+
		`FROM users JOIN asset_users ON users.id = asset_users.user_id `+
		`WHERE asset_users.asset_id = ? ORDER BY users.id`, asset.ID)
	if err != nil {
		return err
	}
	asset.Users = users
	return nil
}

// viewerAssetIDs returns the ids of the assets the given user owns.
func viewerAssetIDs(tx *sql.Tx, userID int64) ([]int64, error) {
	rows, err := tx.Query(`SELECT asset_id FROM asset_users WHERE user_id = ? ORDER BY asset_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// recordActivity appends one row to the course engagement feed.
func recordActivity(tx *sql.Tx, courseID, userID int64, activityType string, assetID int64) error {
	activity := &Activity{
		CourseID:     courseID,
		UserID:       userID,
		ActivityType: activityType,
		AssetID:      assetID,
		CreatedAt:    time.Now(),
	}
	return meddler.Save(tx, "activities", activity)
}

// GetActivities handles /api/activities requests,
// returning the course engagement feed in creation order.
//
// If parameter activity_type=<...> is present, results are filtered by type.
// Administrators see every course's feed; everyone else sees their own
// course's.
func GetActivities(w http.ResponseWriter, r *http.Request, tx *sql.Tx, currentUser *User, render render.Render) {
	where := ""
	args := []interface{}{}

	if activityType := r.FormValue("activity_type"); activityType != "" {
		where, args = addWhereEq(where, args, "activity_type", activityType)
	}
	if !currentUser.Admin {
		where, args = addWhereEq(where, args, "course_id", currentUser.CourseID)
	}

	activities := []*Activity{}
	if err := meddler.QueryAll(tx, &activities, `SELECT * FROM activities`+where+` ORDER BY id`, args...); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusOK, activities)
}

// GetAssets handles /api/assets requests,
// returning a list of assets.
//
// If parameter asset_type=<...> is present, results are filtered by type.
// If parameter title=<...> is present, results are filtered by
// case-insensitive substring match on the title field.
// Administrators see every asset of every course; everyone else sees the
// non-deleted assets of their own course that are visible or their own.
func GetAssets(w http.ResponseWriter, r *http.Request, tx *sql.Tx, currentUser *User, render render.Render) {
	where := ""
	args := []interface{}{}

	if assetType := r.FormValue("asset_type"); assetType != "" {
		where, args = addWhereEq(where, args, "assets.asset_type", assetType)
	}

	if title := r.FormValue("title"); title != "" {
		where, args = addWhereLike(where, args, "assets.title", title)
	}

	assets := []*Asset{}
	var err error

	if currentUser.Admin {
		err = meddler.QueryAll(tx, &assets, `SELECT * FROM assets`+where+` ORDER BY id`, args...)
	} else {
		where, args = addWhereEq(where, args, "assets.course_id", currentUser.CourseID)
		err = meddler.QueryAll(tx, &assets, `SELECT DISTINCT assets.* `+
			`FROM assets LEFT JOIN asset_users ON assets.id = asset_users.asset_id`+
			where+` AND assets.deleted_at IS NULL`+
			` AND (assets.visible OR asset_users.user_id = ?)`+
			` ORDER BY assets.id`, append(args, currentUser.ID)...)
	}

	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusOK, assets)
}

// GetAsset handles /api/assets/:asset_id requests,
// returning a single asset with its owner list.
// Assets the user may not view answer 404.
func GetAsset(w http.ResponseWriter, tx *sql.Tx, params martini.Params, currentUser *User, render render.Render) {
	asset, ok := loadViewableAsset(w, tx, params, currentUser)
	if !ok {
		return
	}

	asset.Views++
	if err := meddler.Save(tx, "assets", asset); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	if err := recordActivity(tx, asset.CourseID, currentUser.ID, "asset_view", asset.ID); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}

	render.JSON(http.StatusOK, asset)
}

// PostAsset handles /api/assets requests,
// creating a new asset owned by the current user in the current user's
// course.
func PostAsset(w http.ResponseWriter, tx *sql.Tx, currentUser *User, asset Asset, render render.Render) {
	now := time.Now()

	asset.ID = 0
	asset.CourseID = currentUser.CourseID
	asset.Visible = true
	asset.Likes = 0
	asset.Views = 0
	asset.CommentCount = 0
	asset.DeletedAt = nil
	asset.CreatedAt = now
	asset.UpdatedAt = now
	if err := asset.Normalize(); err != nil {
		loggedHTTPErrorf(w, http.StatusBadRequest, "%v", err)
		return
	}
	if asset.AssetType == "whiteboard" && !Config.FeatureFlagWhiteboards {
		loggedHTTPErrorf(w, http.StatusBadRequest, "unknown asset type: %q", asset.AssetType)
		return
	}

	if err := meddler.Save(tx, "assets", &asset); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	if _, err := tx.Exec(`INSERT INTO asset_users (asset_id, user_id) VALUES (?, ?)`, asset.ID, currentUser.ID); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	if err := recordActivity(tx, asset.CourseID, currentUser.ID, "asset_add", asset.ID); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}

	asset.Users = []*User{currentUser}
	render.JSON(http.StatusOK, &asset)
}

// PutAsset handles /api/assets/:asset_id requests,
// updating the title, url, description, and visibility of an asset.
func PutAsset(w http.ResponseWriter, tx *sql.Tx, params martini.Params, currentUser *User, update Asset, render render.Render) {
	assetID, err := parseID(w, "asset_id", params["asset_id"])
	if err != nil {
		return
	}

	asset := new(Asset)
	if err := meddler.Load(tx, "assets", asset, assetID); err != nil {
		loggedHTTPDBNotFoundError(w, err)
		return
	}
	if err := loadAssetUsers(tx, asset); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}

	if !CanUpdateAsset(currentUser, asset) {
		loggedHTTPErrorf(w, http.StatusUnauthorized, "user %d may not update asset %d", currentUser.ID, asset.ID)
		return
	}

	asset.Title = update.Title
	asset.URL = update.URL
	asset.Description = update.Description
	asset.Visible = update.Visible
	asset.UpdatedAt = time.Now()
	if err := asset.Normalize(); err != nil {
		loggedHTTPErrorf(w, http.StatusBadRequest, "%v", err)
		return
	}
	if err := meddler.Save(tx, "assets", asset); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}

	render.JSON(http.StatusOK, asset)
}

// DeleteAsset handles /api/assets/:asset_id requests,
// soft-deleting a single asset.
func DeleteAsset(w http.ResponseWriter, tx *sql.Tx, params martini.Params, currentUser *User) {
	assetID, err := parseID(w, "asset_id", params["asset_id"])
	if err != nil {
		return
	}

	asset := new(Asset)
	if err := meddler.Load(tx, "assets", asset, assetID); err != nil {
		loggedHTTPDBNotFoundError(w, err)
		return
	}
	if err := loadAssetUsers(tx, asset); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}

	if !CanUpdateAsset(currentUser, asset) {
		loggedHTTPErrorf(w, http.StatusUnauthorized, "user %d may not delete asset %d", currentUser.ID, asset.ID)
		return
	}

	now := time.Now()
	asset.DeletedAt = &now
	asset.UpdatedAt = now
	if err := meddler.Save(tx, "assets", asset); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
}

// PostAssetLike handles /api/assets/:asset_id/like requests.
// Owners cannot like their own assets, and a user can like an asset at
// most once.
func PostAssetLike(w http.ResponseWriter, tx *sql.Tx, params martini.Params, currentUser *User, render render.Render) {
	asset, ok := loadViewableAsset(w, tx, params, currentUser)
	if !ok {
		return
	}

	for _, owner := range asset.Users {
		if owner.ID == currentUser.ID {
			loggedHTTPErrorf(w, http.StatusBadRequest, "users cannot like their own assets")
			return
		}
	}

	var count int64
	if err := tx.QueryRow(`SELECT COUNT(*) FROM asset_likes WHERE asset_id = ? AND user_id = ?`, asset.ID, currentUser.ID).Scan(&count); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	if count > 0 {
		loggedHTTPErrorf(w, http.StatusBadRequest, "user %d has already liked asset %d", currentUser.ID, asset.ID)
		return
	}

	if _, err := tx.Exec(`INSERT INTO asset_likes (asset_id, user_id) VALUES (?, ?)`, asset.ID, currentUser.ID); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	asset.Likes++
	asset.UpdatedAt = time.Now()
	if err := meddler.Save(tx, "assets", asset); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	if err := recordActivity(tx, asset.CourseID, currentUser.ID, "asset_like", asset.ID); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}

	render.JSON(http.StatusOK, asset)
}

// DeleteAssetLike handles /api/assets/:asset_id/like requests,
// removing the current user's like.
func DeleteAssetLike(w http.ResponseWriter, tx *sql.Tx, params martini.Params, currentUser *User, render render.Render) {
	asset, ok := loadViewableAsset(w, tx, params, currentUser)
	if !ok {
		return
	}

	result, err := tx.Exec(`DELETE FROM asset_likes WHERE asset_id = ? AND user_id = ?`, asset.ID, currentUser.ID)
	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	if deleted == 0 {
		loggedHTTPErrorf(w, http.StatusBadRequest, "user %d has not liked asset %d", currentUser.ID, asset.ID)
		return
	}

	asset.Likes--
	asset.UpdatedAt = time.Now()
	if err := meddler.Save(tx, "assets", asset); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}

	render.JSON(http.StatusOK, asset)
}

// loadViewableAsset loads the asset named in the URL along with its owner
// list, answering 404 if it does not exist or the current user may not
// view it.
func loadViewableAsset(w http.ResponseWriter, tx *sql.Tx, params martini.Params, currentUser *User) (*Asset, bool) {
	assetID, err := parseID(w, "asset_id", params["asset_id"])
	if err != nil {
		return nil, false
	}

	asset := new(Asset)
	if err := meddler.Load(tx, "assets", asset, assetID); err != nil {
		loggedHTTPDBNotFoundError(w, err)
		return nil, false
	}
	if err := loadAssetUsers(tx, asset); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return nil, false
	}

	ownedIDs, err := viewerAssetIDs(tx, currentUser.ID)
	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return nil, false
	}
	if !CanViewAsset(asset, currentUser, ownedIDs) {
		loggedHTTPDBNotFoundError(w, sql.ErrNoRows)
		return nil, false
	}
	return asset, true
}
