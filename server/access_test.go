package main

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/russross/meddler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/corkboard/corkboard/types"
)

// testTx returns a transaction on a fresh in-memory database with the
// tables that the access checks touch.
func testTx(t *testing.T) *sql.Tx {
	t.Helper()
	meddler.Default = meddler.SQLite

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	stmts := []string{
		`CREATE TABLE users (
			id integer PRIMARY KEY,
			course_id integer NOT NULL,
			canvas_course_role text NOT NULL,
			teaching boolean NOT NULL,
			admin boolean NOT NULL
		)`,
		`CREATE TABLE whiteboards (
			id integer PRIMARY KEY,
			course_id integer NOT NULL,
			title text NOT NULL,
			deleted_at datetime
		)`,
		`CREATE TABLE whiteboard_users (
			whiteboard_id integer NOT NULL,
			user_id integer NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}

	tx, err := db.Begin()
	require.NoError(t, err)
	t.Cleanup(func() { tx.Rollback() })
	return tx
}

func seedUser(t *testing.T, tx *sql.Tx, user *User) {
	t.Helper()
	_, err := tx.Exec(`INSERT INTO users (id, course_id, canvas_course_role, teaching, admin) VALUES (?, ?, ?, ?, ?)`,
		user.ID, user.CourseID, user.CanvasCourseRole, user.Teaching, user.Admin)
	require.NoError(t, err)
}

func seedWhiteboard(t *testing.T, tx *sql.Tx, whiteboard *Whiteboard, memberIDs ...int64) {
	t.Helper()
	_, err := tx.Exec(`INSERT INTO whiteboards (id, course_id, title, deleted_at) VALUES (?, ?, ?, ?)`,
		whiteboard.ID, whiteboard.CourseID, whiteboard.Title, whiteboard.DeletedAt)
	require.NoError(t, err)
	for _, id := range memberIDs {
		_, err := tx.Exec(`INSERT INTO whiteboard_users (whiteboard_id, user_id) VALUES (?, ?)`, whiteboard.ID, id)
		require.NoError(t, err)
	}
}

func TestCanAccessWhiteboardFeatureFlag(t *testing.T) {
	defer func(old bool) { Config.FeatureFlagWhiteboards = old }(Config.FeatureFlagWhiteboards)

	tx := testTx(t)
	admin := &User{ID: 1, CourseID: 1, CanvasCourseRole: "Learner", Admin: true}
	seedUser(t, tx, admin)
	seedWhiteboard(t, tx, &Whiteboard{ID: 10, CourseID: 1, Title: "sketches"}, admin.ID)

	// the flag wins over everything, including administrator status
	Config.FeatureFlagWhiteboards = false
	ok, err := CanAccessWhiteboard(tx, admin, 10)
	require.NoError(t, err)
	assert.False(t, ok)

	Config.FeatureFlagWhiteboards = true
	ok, err = CanAccessWhiteboard(tx, admin, 10)
	require.NoError(t, err)
	assert.True(t, ok)

	// administrators are not limited to existing whiteboards
	ok, err = CanAccessWhiteboard(tx, admin, 999)
	require.NoError(t, err)
	assert.True(t, ok)

	// no user at all
	ok, err = CanAccessWhiteboard(tx, nil, 10)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanAccessWhiteboardMembership(t *testing.T) {
	defer func(old bool) { Config.FeatureFlagWhiteboards = old }(Config.FeatureFlagWhiteboards)
	Config.FeatureFlagWhiteboards = true

	tx := testTx(t)
	member := &User{ID: 1, CourseID: 1, CanvasCourseRole: "Learner"}
	outsider := &User{ID: 2, CourseID: 1, CanvasCourseRole: "Learner"}
	instructor := &User{ID: 3, CourseID: 1, CanvasCourseRole: "urn:lti:role:ims/lis/Instructor", Teaching: true}
	otherCourse := &User{ID: 4, CourseID: 2, CanvasCourseRole: "urn:lti:role:ims/lis/Instructor", Teaching: true}
	for _, elt := range []*User{member, outsider, instructor, otherCourse} {
		seedUser(t, tx, elt)
	}
	seedWhiteboard(t, tx, &Whiteboard{ID: 10, CourseID: 1, Title: "group project"}, member.ID)

	for _, check := range []struct {
		name string
		user *User
		want bool
	}{
		{"member", member, true},
		{"non-member student", outsider, false},
		{"non-member instructor", instructor, true},
		{"instructor from another course", otherCourse, false},
	} {
		ok, err := CanAccessWhiteboard(tx, check.user, 10)
		require.NoError(t, err, check.name)
		assert.Equal(t, check.want, ok, check.name)
	}
}

func TestCanAccessWhiteboardDeleted(t *testing.T) {
	defer func(old bool) { Config.FeatureFlagWhiteboards = old }(Config.FeatureFlagWhiteboards)
	Config.FeatureFlagWhiteboards = true

	tx := testTx(t)
	member := &User{ID: 1, CourseID: 1, CanvasCourseRole: "Learner"}
	teacher := &User{ID: 2, CourseID: 1, CanvasCourseRole: "urn:lti:role:ims/lis/Instructor", Teaching: true}
	seedUser(t, tx, member)
	seedUser(t, tx, teacher)
	_, err := tx.Exec(`INSERT INTO whiteboards (id, course_id, title, deleted_at) VALUES (10, 1, 'retired', datetime('now'))`)
	require.NoError(t, err)
	_, err = tx.Exec(`INSERT INTO whiteboard_users (whiteboard_id, user_id) VALUES (10, 1)`)
	require.NoError(t, err)

	// members lose access once the whiteboard is deleted
	ok, err := CanAccessWhiteboard(tx, member, 10)
	require.NoError(t, err)
	assert.False(t, ok)

	// teaching staff can still open it
	ok, err = CanAccessWhiteboard(tx, teacher, 10)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCanViewAsset(t *testing.T) {
	visible := &Asset{ID: 1, CourseID: 1, Visible: true}
	hidden := &Asset{ID: 2, CourseID: 1, Visible: false}
	student := &User{ID: 5, CourseID: 1}
	admin := &User{ID: 6, CourseID: 9, Admin: true}

	assert.True(t, CanViewAsset(visible, student, nil))
	assert.False(t, CanViewAsset(hidden, student, nil))
	assert.True(t, CanViewAsset(hidden, student, []int64{2}), "owners can see their own hidden assets")
	assert.False(t, CanViewAsset(hidden, student, []int64{3}))

	// administrators are not limited to their own course
	assert.True(t, CanViewAsset(visible, admin, nil))
	assert.True(t, CanViewAsset(hidden, admin, nil))

	// everyone else is
	otherCourse := &User{ID: 7, CourseID: 2}
	assert.False(t, CanViewAsset(visible, otherCourse, nil))
	assert.False(t, CanViewAsset(visible, nil, nil))
}

func TestCanUpdateAsset(t *testing.T) {
	owner := &User{ID: 5, CourseID: 1}
	asset := &Asset{ID: 1, CourseID: 1, Users: []*User{{ID: 5}}}

	assert.True(t, CanUpdateAsset(owner, asset))
	assert.False(t, CanUpdateAsset(&User{ID: 6, CourseID: 1}, asset))
	assert.True(t, CanUpdateAsset(&User{ID: 6, CourseID: 1, Teaching: true}, asset))
	assert.True(t, CanUpdateAsset(&User{ID: 6, CourseID: 1, Admin: true}, asset))

	// course boundary applies to everyone, owners and admins included
	assert.False(t, CanUpdateAsset(&User{ID: 5, CourseID: 2}, &Asset{ID: 1, CourseID: 1, Users: []*User{{ID: 5}}}))
	assert.False(t, CanUpdateAsset(&User{ID: 6, CourseID: 2, Admin: true}, asset))
	assert.False(t, CanUpdateAsset(nil, asset))
}

func TestCanDeleteComment(t *testing.T) {
	comment := &AssetComment{ID: 1, AssetID: 1, UserID: 5}

	assert.True(t, CanDeleteComment(comment, &User{ID: 5}), "authors can delete their own comments")
	assert.False(t, CanDeleteComment(comment, &User{ID: 6}))
	assert.True(t, CanDeleteComment(comment, &User{ID: 6, Admin: true}))
	assert.True(t, CanDeleteComment(comment, &User{ID: 6, Teaching: true}))
	assert.False(t, CanDeleteComment(comment, nil))

	// the update rule is identical
	assert.True(t, CanUpdateComment(comment, &User{ID: 5}))
	assert.False(t, CanUpdateComment(comment, &User{ID: 6}))
}

func TestFilterWhiteboardTags(t *testing.T) {
	defer func(old bool) { Config.FeatureFlagWhiteboards = old }(Config.FeatureFlagWhiteboards)

	Config.FeatureFlagWhiteboards = true
	assert.Equal(t, AssetTypes, filterWhiteboardTags(AssetTypes))
	assert.Equal(t, ActivityTypes, filterWhiteboardTags(ActivityTypes))

	Config.FeatureFlagWhiteboards = false
	assert.Equal(t, []string{"file", "link"}, filterWhiteboardTags(AssetTypes))
	filtered := filterWhiteboardTags(ActivityTypes)
	assert.NotContains(t, filtered, "whiteboard_add_asset")
	assert.NotContains(t, filtered, "whiteboard_export")
	assert.NotContains(t, filtered, "whiteboard_remix")
	assert.Contains(t, filtered, "asset_add")
	assert.Len(t, filtered, len(ActivityTypes)-3)
}
