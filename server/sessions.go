package main

import (
	"database/sql"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/martini-contrib/render"
	"github.com/russross/meddler"

	. "github.com/corkboard/corkboard/types"
)

type CookieSession struct {
	ExpiresAt time.Time
	UserID    int64
	path      string
}

func NewSession(id int64) *CookieSession {
	now := time.Now()
	expires := now

	// find the first expires time after now
	for i, elt := range Config.SessionsExpire {
		_, month, day := elt.Date()
		hour, minute, second := elt.Clock()
		when := time.Date(now.Year(), month, day, hour, minute, second, 0, time.Local)
		if when.Before(now) {
			when = time.Date(now.Year()+1, month, day, hour, minute, second, 0, time.Local)
		}
		if i == 0 || when.Before(expires) {
			expires = when
		}
	}

	return &CookieSession{
		ExpiresAt: expires,
		UserID:    id,
		path:      "/",
	}
}

func GetSession(r *http.Request) (*CookieSession, error) {
	now := time.Now()

	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return nil, fmt.Errorf("unable to read session cookie")
	}

	// decode and verify signature
	session := new(CookieSession)
	secure := securecookie.New([]byte(Config.SessionSecret), nil)
	secure.MaxAge(0)
	if err = secure.Decode(CookieName, cookie.Value, session); err != nil {
		return nil, fmt.Errorf("unable to decode session cookie")
	}

	// check expiration
	if session.ExpiresAt.Before(now) {
		return nil, fmt.Errorf("session is expired; must log in again to continue")
	}

	// sanity check
	if session.UserID < 1 {
		return nil, fmt.Errorf("session does not contain a legal user ID field")
	}

	return session, nil
}

func (session *CookieSession) Save(w http.ResponseWriter) string {
	// encode and sign
	secure := securecookie.New([]byte(Config.SessionSecret), nil)
	secure.MaxAge(0)
	encoded, err := secure.Encode(CookieName, session)
	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "creating session: %v", err)
		return ""
	}

	cookie := &http.Cookie{
		Name:    CookieName,
		Value:   encoded,
		Path:    session.path,
		Expires: session.ExpiresAt,
		MaxAge:  int(time.Until(session.ExpiresAt).Seconds()),
		Secure:  true,
	}
	http.SetCookie(w, cookie)
	return fmt.Sprintf("%s=%s", CookieName, encoded)
}

func (session *CookieSession) Delete(w http.ResponseWriter) {
	epoch := time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	cookie := &http.Cookie{
		Name:    CookieName,
		Value:   "deleted",
		Path:    session.path,
		Expires: epoch,
		MaxAge:  -1,
		Secure:  true,
	}
	http.SetCookie(w, cookie)
}

// UnauthorizedLaunchError signals a failed LTI launch: the tool was
// launched but no account could be established for the user.
type UnauthorizedLaunchError struct {
	ToolID string
	UserID int64
}

func (e *UnauthorizedLaunchError) Error() string {
	return fmt.Sprintf("unauthorized user during %s LTI launch (user_id = %d)", e.ToolID, e.UserID)
}

// SetIdentityCookies attaches the two cross-site identity cookies that the
// Canvas-embedded frontend reads:
//
//	{canvas_api_domain}|{canvas_course_id}              -> user id
//	{canvas_api_domain}_supports_custom_messaging       -> boolean
//
// Both are cross-site (SameSite=None) and secure-only, since the frontend
// runs inside a Canvas iframe on a different origin.
func SetIdentityCookies(w http.ResponseWriter, course *Course, canvas *CanvasInstance, userID int64) {
	http.SetCookie(w, &http.Cookie{
		Name:     fmt.Sprintf("%s|%d", course.CanvasAPIDomain, course.CanvasCourseID),
		Value:    strconv.FormatInt(userID, 10),
		Path:     "/",
		SameSite: http.SameSiteNoneMode,
		Secure:   true,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     fmt.Sprintf("%s_supports_custom_messaging", course.CanvasAPIDomain),
		Value:    strconv.FormatBool(canvas.SupportsCustomMessaging),
		Path:     "/",
		SameSite: http.SameSiteNoneMode,
		Secure:   true,
	})
}

// StartLoginSession turns a pre-authentication login into a live session.
// On success it sets the session cookie and both identity cookies, then
// either redirects to redirectPath (prefixed by the configured base URL) or
// answers with the user's profile as JSON.
//
// On failure during an LTI launch (login.ToolID set) it returns an
// UnauthorizedLaunchError for the caller to surface as a 401; otherwise it
// answers directly with a 403 JSON body naming the user.
func StartLoginSession(w http.ResponseWriter, r *http.Request, tx *sql.Tx, render render.Render, login *LoginSession, redirectPath string) error {
	user := new(User)
	err := meddler.Load(tx, "users", user, login.IdentityID())
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	if err == sql.ErrNoRows {
		if login.ToolID != "" {
			return &UnauthorizedLaunchError{ToolID: login.ToolID, UserID: login.IdentityID()}
		}
		render.JSON(http.StatusForbidden, map[string]string{
			"message": fmt.Sprintf("User %d failed to authenticate.", login.IdentityID()),
		})
		return nil
	}

	course := new(Course)
	if err := meddler.Load(tx, "courses", course, user.CourseID); err != nil {
		return fmt.Errorf("loading course %d: %v", user.CourseID, err)
	}
	canvas, err := FindCanvasByDomain(tx, course.CanvasAPIDomain)
	if err != nil {
		return fmt.Errorf("loading canvas instance %s: %v", course.CanvasAPIDomain, err)
	}

	user.LastSignedInAt = time.Now()
	user.UpdatedAt = user.LastSignedInAt
	if err := meddler.Save(tx, "users", user); err != nil {
		return fmt.Errorf("db error saving user: %v", err)
	}

	session := NewSession(user.ID)
	session.Save(w)
	SetIdentityCookies(w, course, canvas, user.ID)

	if redirectPath != "" {
		http.Redirect(w, r, Config.VueBaseURL+redirectPath, http.StatusFound)
		return nil
	}
	render.JSON(http.StatusOK, user)
	return nil
}

// FindCanvasByDomain looks up the Canvas instance record for an API domain.
func FindCanvasByDomain(tx *sql.Tx, domain string) (*CanvasInstance, error) {
	canvas := new(CanvasInstance)
	if err := meddler.QueryRow(tx, canvas, `SELECT * FROM canvas_instances WHERE canvas_api_domain = ?`, domain); err != nil {
		return nil, err
	}
	return canvas, nil
}
