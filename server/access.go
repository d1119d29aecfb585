package main

import (
	"database/sql"
	"net/http"
	"strings"

	"github.com/martini-contrib/render"

	. "github.com/corkboard/corkboard/types"
)

// CanAccessWhiteboard reports whether the user may open the given
// whiteboard. It fails closed when the whiteboards feature flag is off,
// even for administrators. Administrators may otherwise open any
// whiteboard. Everyone else must belong to the same course as the
// whiteboard and either be a recorded member or hold a teaching-flavored
// course role; non-teaching users are further limited to whiteboards that
// have not been deleted.
func CanAccessWhiteboard(tx *sql.Tx, user *User, whiteboardID int64) (bool, error) {
	if !Config.FeatureFlagWhiteboards {
		return false, nil
	}
	if user != nil && user.Admin {
		return true, nil
	}
	userID := user.IdentityID()
	if userID < 1 {
		return false, nil
	}

	query := `SELECT COUNT(DISTINCT users.id) ` +
		`FROM users JOIN whiteboards ON whiteboards.id = ? ` +
		`WHERE users.id = ? ` +
		`AND whiteboards.course_id = ? ` +
		`AND (` +
		`users.id IN (SELECT user_id FROM whiteboard_users WHERE whiteboard_id = ?) ` +
		`OR users.canvas_course_role LIKE '%admin%' ` +
		`OR users.canvas_course_role LIKE '%instructor%' ` +
		`OR users.canvas_course_role LIKE '%teacher%')`
	if !user.Teaching {
		query += ` AND whiteboards.deleted_at IS NULL`
	}

	var count int64
	if err := tx.QueryRow(query, whiteboardID, userID, user.CourseID, whiteboardID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// CanUpdateAsset reports whether the user may modify the given asset:
// same course, and teaching staff, administrator, or a listed owner.
func CanUpdateAsset(user *User, asset *Asset) bool {
	if user == nil || user.CourseID != asset.CourseID {
		return false
	}
	if user.Teaching || user.Admin {
		return true
	}
	userID := user.IdentityID()
	for _, owner := range asset.Users {
		if owner.ID == userID {
			return true
		}
	}
	return false
}

// CanViewAsset reports whether the user may view the given asset.
// Administrators may view any asset regardless of course. Everyone else is
// limited to their own course, and within it to assets that are visible or
// among viewerAssetIDs, the ids of the assets the viewing session's user
// owns.
func CanViewAsset(asset *Asset, user *User, viewerAssetIDs []int64) bool {
	if user != nil && user.Admin {
		return true
	}
	if user == nil || user.CourseID != asset.CourseID {
		return false
	}
	if asset.Visible {
		return true
	}
	for _, id := range viewerAssetIDs {
		if id == asset.ID {
			return true
		}
	}
	return false
}

// CanDeleteComment reports whether the user may delete the given comment:
// the author, an administrator, or teaching staff.
func CanDeleteComment(comment *AssetComment, user *User) bool {
	userID := user.IdentityID()
	return userID > 0 && (comment.UserID == userID || user.Admin || user.Teaching)
}

// CanUpdateComment applies the same rule as CanDeleteComment.
func CanUpdateComment(comment *AssetComment, user *User) bool {
	return CanDeleteComment(comment, user)
}

// filterWhiteboardTags removes every tag containing "whiteboard" when the
// whiteboards feature flag is off, and returns the list unchanged otherwise.
func filterWhiteboardTags(enums []string) []string {
	if Config.FeatureFlagWhiteboards {
		return enums
	}
	filtered := []string{}
	for _, elt := range enums {
		if !strings.Contains(elt, "whiteboard") {
			filtered = append(filtered, elt)
		}
	}
	return filtered
}

// GetAssetTypes handles /api/asset_types requests,
// returning the asset type tags available under the current feature flags.
func GetAssetTypes(w http.ResponseWriter, render render.Render) {
	render.JSON(http.StatusOK, filterWhiteboardTags(AssetTypes))
}

// GetActivityTypes handles /api/activity_types requests,
// returning the activity type tags available under the current feature flags.
func GetActivityTypes(w http.ResponseWriter, render render.Render) {
	render.JSON(http.StatusOK, filterWhiteboardTags(ActivityTypes))
}
