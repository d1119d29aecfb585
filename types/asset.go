package types

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/russross/blackfriday/v2"
)

// AssetTypes is the full set of asset type tags.
// Use server-side filtering to hide whiteboard types when the feature is off.
var AssetTypes = []string{
	"file",
	"link",
	"whiteboard",
}

// ActivityTypes is the full set of activity type tags recorded in the
// course engagement feed.
var ActivityTypes = []string{
	"asset_add",
	"asset_comment",
	"asset_like",
	"asset_view",
	"comment",
	"comment_reply",
	"get_asset_comment",
	"get_asset_like",
	"whiteboard_add_asset",
	"whiteboard_export",
	"whiteboard_remix",
}

// Asset represents one entry in a course's asset library.
// Owners are the users listed in asset_users.
type Asset struct {
	ID           int64      `json:"id" meddler:"id,pk"`
	CourseID     int64      `json:"courseID" meddler:"course_id"`
	AssetType    string     `json:"assetType" meddler:"asset_type"`
	Title        string     `json:"title" meddler:"title"`
	URL          string     `json:"url" meddler:"url,zeroisnull"`
	Description  string     `json:"description" meddler:"description,zeroisnull"`
	Visible      bool       `json:"visible" meddler:"visible"`
	Likes        int64      `json:"likes" meddler:"likes"`
	Views        int64      `json:"views" meddler:"views"`
	CommentCount int64      `json:"commentCount" meddler:"comment_count"`
	DeletedAt    *time.Time `json:"deletedAt" meddler:"deleted_at,localtime"`
	CreatedAt    time.Time  `json:"createdAt" meddler:"created_at,localtime"`
	UpdatedAt    time.Time  `json:"updatedAt" meddler:"updated_at,localtime"`

	// loaded separately from asset_users
	Users []*User `json:"users" meddler:"-"`
}

// AssetComment represents a single comment on an asset.
// ParentID links a reply to its parent comment.
type AssetComment struct {
	ID        int64     `json:"id" meddler:"id,pk"`
	AssetID   int64     `json:"assetID" meddler:"asset_id"`
	UserID    int64     `json:"userID" meddler:"user_id"`
	ParentID  int64     `json:"parentID" meddler:"parent_id,zeroisnull"`
	Body      string    `json:"body" meddler:"body"`
	CreatedAt time.Time `json:"createdAt" meddler:"created_at,localtime"`
	UpdatedAt time.Time `json:"updatedAt" meddler:"updated_at,localtime"`
}

// Activity is one row in the engagement feed.
type Activity struct {
	ID           int64     `json:"id" meddler:"id,pk"`
	CourseID     int64     `json:"courseID" meddler:"course_id"`
	UserID       int64     `json:"userID" meddler:"user_id"`
	ActivityType string    `json:"activityType" meddler:"activity_type"`
	AssetID      int64     `json:"assetID" meddler:"asset_id,zeroisnull"`
	CreatedAt    time.Time `json:"createdAt" meddler:"created_at,localtime"`
}

// Normalize cleans up a user-submitted asset and checks it for sanity.
func (asset *Asset) Normalize() error {
	asset.Title = strings.TrimSpace(asset.Title)
	asset.URL = strings.TrimSpace(asset.URL)
	asset.Description = strings.TrimSpace(asset.Description)
	if asset.Title == "" {
		return fmt.Errorf("asset must have a title")
	}
	if !utf8.ValidString(asset.Title) || !utf8.ValidString(asset.Description) {
		return fmt.Errorf("asset fields must be valid utf8")
	}
	found := false
	for _, elt := range AssetTypes {
		if asset.AssetType == elt {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("unknown asset type: %q", asset.AssetType)
	}
	if asset.AssetType == "link" && asset.URL == "" {
		return fmt.Errorf("link asset must have a url")
	}
	return nil
}

// RenderDescription renders the asset description markdown as html.
func (asset *Asset) RenderDescription() string {
	return renderMarkdown(asset.Description)
}

// RenderBody renders the comment body markdown as html.
func (comment *AssetComment) RenderBody() string {
	return renderMarkdown(comment.Body)
}

func renderMarkdown(src string) string {
	var extensions blackfriday.Extensions
	extensions |= blackfriday.NoIntraEmphasis
	extensions |= blackfriday.Tables
	extensions |= blackfriday.FencedCode
	extensions |= blackfriday.Autolink
	extensions |= blackfriday.Strikethrough
	extensions |= blackfriday.SpaceHeadings
	extensions |= blackfriday.HardLineBreak

	return string(blackfriday.Run([]byte(src), blackfriday.WithExtensions(extensions)))
}
