package main

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-martini/martini"
	"github.com/martini-contrib/render"
	_ "github.com/mattn/go-sqlite3"
	"github.com/russross/meddler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/corkboard/corkboard/types"
)

func sessionTestConfig(t *testing.T) {
	t.Helper()
	oldSecret, oldExpire := Config.SessionSecret, Config.SessionsExpire
	t.Cleanup(func() {
		Config.SessionSecret = oldSecret
		Config.SessionsExpire = oldExpire
	})
	Config.SessionSecret = "0123456789abcdef0123456789abcdef"
	Config.SessionsExpire = []time.Time{
		time.Date(0, 5, 15, 4, 0, 0, 0, time.Local),
		time.Date(0, 12, 31, 4, 0, 0, 0, time.Local),
	}
}

func requestWithCookies(t *testing.T, w *httptest.ResponseRecorder) *http.Request {
	t.Helper()
	r := httptest.NewRequest("GET", "/api/users/me", nil)
	for _, cookie := range w.Result().Cookies() {
		r.AddCookie(cookie)
	}
	return r
}

func TestSessionRoundTrip(t *testing.T) {
	sessionTestConfig(t)

	w := httptest.NewRecorder()
	session := NewSession(42)
	assert.True(t, session.ExpiresAt.After(time.Now()))
	header := session.Save(w)
	assert.Contains(t, header, CookieName+"=")

	decoded, err := GetSession(requestWithCookies(t, w))
	require.NoError(t, err)
	assert.EqualValues(t, 42, decoded.UserID)

	// a tampered secret must invalidate the cookie
	Config.SessionSecret = "fedcba9876543210fedcba9876543210"
	_, err = GetSession(requestWithCookies(t, w))
	assert.Error(t, err)
}

func TestSessionExpired(t *testing.T) {
	sessionTestConfig(t)

	w := httptest.NewRecorder()
	session := &CookieSession{
		ExpiresAt: time.Now().Add(-time.Hour),
		UserID:    42,
		path:      "/",
	}
	session.Save(w)

	_, err := GetSession(requestWithCookies(t, w))
	assert.Error(t, err)
}

func TestSessionMissingCookie(t *testing.T) {
	sessionTestConfig(t)

	r := httptest.NewRequest("GET", "/api/users/me", nil)
	_, err := GetSession(r)
	assert.Error(t, err)
}

func TestSetIdentityCookies(t *testing.T) {
	course := &Course{CanvasAPIDomain: "canvas.example.edu", CanvasCourseID: 1234}
	canvas := &CanvasInstance{CanvasAPIDomain: "canvas.example.edu", SupportsCustomMessaging: true}

	w := httptest.NewRecorder()
	SetIdentityCookies(w, course, canvas, 42)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 2)

	byName := make(map[string]*http.Cookie)
	for _, cookie := range cookies {
		byName[cookie.Name] = cookie
	}

	identity := byName["canvas.example.edu|1234"]
	require.NotNil(t, identity, "per-course identity cookie must be set")
	assert.Equal(t, "42", identity.Value)
	assert.True(t, identity.Secure)
	assert.Equal(t, http.SameSiteNoneMode, identity.SameSite)

	messaging := byName["canvas.example.edu_supports_custom_messaging"]
	require.NotNil(t, messaging, "custom messaging cookie must be set")
	assert.Equal(t, "true", messaging.Value)
	assert.True(t, messaging.Secure)
	assert.Equal(t, http.SameSiteNoneMode, messaging.SameSite)
}

func TestUnauthorizedLaunchError(t *testing.T) {
	err := &UnauthorizedLaunchError{ToolID: "corkboard", UserID: 42}
	assert.Equal(t, "unauthorized user during corkboard LTI launch (user_id = 42)", err.Error())
}

// loginTestTx builds the tables that StartLoginSession touches.
func loginTestTx(t *testing.T) *sql.Tx {
	t.Helper()
	meddler.Default = meddler.SQLite

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	stmts := []string{
		`CREATE TABLE users (
			id integer PRIMARY KEY,
			course_id integer NOT NULL,
			name text NOT NULL,
			email text NOT NULL,
			lti_id text NOT NULL,
			canvas_user_id integer NOT NULL,
			canvas_course_role text NOT NULL,
			teaching boolean NOT NULL,
			admin boolean NOT NULL,
			created_at datetime NOT NULL,
			updated_at datetime NOT NULL,
			last_signed_in_at datetime
		)`,
		`CREATE TABLE courses (
			id integer PRIMARY KEY,
			name text NOT NULL,
			canvas_api_domain text NOT NULL,
			canvas_course_id integer NOT NULL,
			lti_id text NOT NULL,
			active boolean NOT NULL,
			created_at datetime NOT NULL,
			updated_at datetime NOT NULL
		)`,
		`CREATE TABLE canvas_instances (
			id integer PRIMARY KEY,
			canvas_api_domain text NOT NULL,
			lti_key text NOT NULL,
			lti_secret text NOT NULL,
			supports_custom_messaging boolean NOT NULL,
			created_at datetime NOT NULL,
			updated_at datetime NOT NULL
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

// startLogin runs StartLoginSession inside a minimal martini stack so the
// render service is available, and reports the response and returned error.
func startLogin(t *testing.T, tx *sql.Tx, login *LoginSession, redirectPath string) (*httptest.ResponseRecorder, error) {
	t.Helper()

	var returned error
	m := martini.New()
	router := martini.NewRouter()
	m.MapTo(router, (*martini.Routes)(nil))
	m.Action(router.Handle)
	m.Use(render.Renderer())
	router.Post("/login", func(w http.ResponseWriter, r *http.Request, render render.Render) {
		returned = StartLoginSession(w, r, tx, render, login, redirectPath)
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/login", nil)
	m.ServeHTTP(w, r)
	return w, returned
}

func TestStartLoginSessionUnknownUser(t *testing.T) {
	sessionTestConfig(t)
	tx := loginTestTx(t)

	// outside an LTI launch the response is a 403 naming the user
	w, err := startLogin(t, tx, &LoginSession{UserID: 42}, "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "User 42 failed to authenticate.")

	// during an LTI launch the caller gets the error to surface instead
	w, err = startLogin(t, tx, &LoginSession{UserID: 42, ToolID: "corkboard"}, "")
	require.Error(t, err)
	launchErr, ok := err.(*UnauthorizedLaunchError)
	require.True(t, ok, "error should be an UnauthorizedLaunchError")
	assert.Equal(t, "corkboard", launchErr.ToolID)
	assert.EqualValues(t, 42, launchErr.UserID)
}

func TestStartLoginSessionSuccess(t *testing.T) {
	sessionTestConfig(t)
	defer func(old string) { Config.VueBaseURL = old }(Config.VueBaseURL)
	Config.VueBaseURL = "https://corkboard.example.edu"

	tx := loginTestTx(t)
	now := time.Now()
	course := &Course{Name: "Pottery 101", CanvasAPIDomain: "canvas.example.edu", CanvasCourseID: 1234,
		LtiID: "ctx", Active: true, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, meddler.Save(tx, "courses", course))
	canvas := &CanvasInstance{CanvasAPIDomain: "canvas.example.edu", LtiKey: "key", LtiSecret: "secret",
		SupportsCustomMessaging: true, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, meddler.Save(tx, "canvas_instances", canvas))
	user := &User{CourseID: course.ID, Name: "Pat Student", Email: "pat@example.edu", LtiID: "lti-pat",
		CanvasUserID: 7, CanvasCourseRole: "Learner", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, meddler.Save(tx, "users", user))

	w, err := startLogin(t, tx, &LoginSession{UserID: user.ID, ToolID: "corkboard"}, "/assets")
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://corkboard.example.edu/assets", w.Result().Header.Get("Location"))

	names := []string{}
	for _, cookie := range w.Result().Cookies() {
		names = append(names, cookie.Name)
	}
	assert.Contains(t, names, CookieName)
	assert.Contains(t, names, "canvas.example.edu|1234")
	assert.Contains(t, names, "canvas.example.edu_supports_custom_messaging")

	// the sign-in time is recorded
	reloaded := new(User)
	require.NoError(t, meddler.Load(tx, "users", reloaded, user.ID))
	assert.False(t, reloaded.LastSignedInAt.IsZero())

	// without a redirect path the response is the user profile
	w, err = startLogin(t, tx, &LoginSession{UserID: user.ID, ToolID: "corkboard"}, "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Pat Student")
}
