package main

import (
	"database/sql"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-martini/martini"
	"github.com/martini-contrib/render"
	"github.com/russross/meddler"

	. "github.com/corkboard/corkboard/types"
)

const loginRecordTimeout = 5 * time.Minute

// GetUsers handles /api/users requests,
// returning a list of users.
//
// Administrators see all users and may filter with name=<...> and
// email=<...> (case-insensitive substring), teaching=<bool>, and
// admin=<bool>. Everyone else sees the roster of their own course.
func GetUsers(w http.ResponseWriter, r *http.Request, tx *sql.Tx, currentUser *User, render render.Render) {
	// build search terms
	where := ""
	args := []interface{}{}

	if name := r.FormValue("name"); name != "" {
		where, args = addWhereLike(where, args, "name", name)
	}

	if email := r.FormValue("email"); email != "" {
		where, args = addWhereLike(where, args, "email", email)
	}

	if teaching := r.FormValue("teaching"); teaching != "" {
		val, err := strconv.ParseBool(teaching)
		if err != nil {
			loggedHTTPErrorf(w, http.StatusBadRequest, "error parsing teaching value as boolean: %v", err)
			return
		}
		where, args = addWhereEq(where, args, "teaching", val)
	}

	if admin := r.FormValue("admin"); admin != "" {
		val, err := strconv.ParseBool(admin)
		if err != nil {
			loggedHTTPErrorf(w, http.StatusBadRequest, "error parsing admin value as boolean: %v", err)
			return
		}
		where, args = addWhereEq(where, args, "admin", val)
	}

	users := []*User{}
	var err error

	if currentUser.Admin {
		err = meddler.QueryAll(tx, &users, `SELECT * FROM users`+where+` ORDER BY id`, args...)
	} else {
		where, args = addWhereEq(where, args, "course_id", currentUser.CourseID)
		err = meddler.QueryAll(tx, &users, `SELECT * FROM users`+where+` ORDER BY id`, args...)
	}

	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusOK, users)
}

// GetUserMe handles /api/users/me requests,
// returning the current user.
func GetUserMe(w http.ResponseWriter, tx *sql.Tx, currentUser *User, render render.Render) {
	render.JSON(http.StatusOK, currentUser)
}

// GetUserSession handles /api/users/session requests,
// returning a cookie for a user session.
//
// Parameter key=<...> must be present, and must be a valid session key that
// was issued within the last 5 minutes. The key is deleted after its first
// use.
func GetUserSession(w http.ResponseWriter, r *http.Request, render render.Render) {
	key := r.FormValue("key")
	if key == "" {
		loggedHTTPErrorf(w, http.StatusBadRequest, "missing key= parameter")
		return
	}
	userID, err := loginRecords.Get(key)
	if err != nil {
		loggedHTTPErrorf(w, http.StatusBadRequest, "%v", err)
		return
	}
	if userID < 1 {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "illegal user ID found: %d", userID)
		return
	}
	session := NewSession(userID)
	cookie := session.Save(w)

	result := map[string]string{"Cookie": cookie}
	render.JSON(http.StatusOK, result)
}

// GetUserSessionKey handles /api/users/session_key requests,
// issuing a fresh one-time login key for the current user. The key is
// meant to be pasted into 'cbadmin login'.
func GetUserSessionKey(w http.ResponseWriter, currentUser *User, render render.Render) {
	key := loginRecords.Insert(currentUser.ID)
	result := map[string]string{"Key": key}
	render.JSON(http.StatusOK, result)
}

// GetUser handles /api/users/:user_id requests,
// returning a single user. Non-administrators can only fetch users in
// their own course.
func GetUser(w http.ResponseWriter, tx *sql.Tx, params martini.Params, currentUser *User, render render.Render) {
	userID, err := parseID(w, "user_id", params["user_id"])
	if err != nil {
		return
	}

	user := new(User)

	if currentUser.Admin {
		err = meddler.Load(tx, "users", user, userID)
	} else {
		err = meddler.QueryRow(tx, user, `SELECT * FROM users WHERE id = ? AND course_id = ?`,
			userID, currentUser.CourseID)
	}

	if err != nil {
		loggedHTTPDBNotFoundError(w, err)
		return
	}
	render.JSON(http.StatusOK, user)
}

// DeleteUser handles /api/users/:user_id requests,
// deleting a single user.
// This will also delete the user's asset ownership and whiteboard
// membership rows.
func DeleteUser(w http.ResponseWriter, tx *sql.Tx, params martini.Params) {
	userID, err := parseID(w, "user_id", params["user_id"])
	if err != nil {
		return
	}

	if _, err := tx.Exec(`DELETE FROM users WHERE id = ?`, userID); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
}

// GetCourses handles /api/courses requests,
// returning a list of courses.
//
// Administrators see all courses and may filter with name=<...>
// (case-insensitive substring) and domain=<...>; everyone else sees only
// their own course.
func GetCourses(w http.ResponseWriter, r *http.Request, tx *sql.Tx, currentUser *User, render render.Render) {
	where := ""
	args := []interface{}{}

	if name := r.FormValue("name"); name != "" {
		where, args = addWhereLike(where, args, "name", name)
	}

	if domain := r.FormValue("domain"); domain != "" {
		where, args = addWhereEq(where, args, "canvas_api_domain", domain)
	}

	courses := []*Course{}
	var err error

	if currentUser.Admin {
		err = meddler.QueryAll(tx, &courses, `SELECT * FROM courses`+where+` ORDER BY id`, args...)
	} else {
		where, args = addWhereEq(where, args, "id", currentUser.CourseID)
		err = meddler.QueryAll(tx, &courses, `SELECT * FROM courses`+where+` ORDER BY id`, args...)
	}

	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusOK, courses)
}

// GetCourse handles /api/courses/:course_id requests,
// returning a single course.
func GetCourse(w http.ResponseWriter, tx *sql.Tx, params martini.Params, currentUser *User, render render.Render) {
	courseID, err := parseID(w, "course_id", params["course_id"])
	if err != nil {
		return
	}

	if !currentUser.Admin && currentUser.CourseID != courseID {
		loggedHTTPDBNotFoundError(w, sql.ErrNoRows)
		return
	}

	course := new(Course)
	if err := meddler.Load(tx, "courses", course, courseID); err != nil {
		loggedHTTPDBNotFoundError(w, err)
		return
	}
	render.JSON(http.StatusOK, course)
}

// GetCourseUsers handles requests to /api/courses/:course_id/users,
// returning a list of users in the given course.
func GetCourseUsers(w http.ResponseWriter, tx *sql.Tx, params martini.Params, currentUser *User, render render.Render) {
	courseID, err := parseID(w, "course_id", params["course_id"])
	if err != nil {
		return
	}

	if !currentUser.Admin && currentUser.CourseID != courseID {
		loggedHTTPDBNotFoundError(w, sql.ErrNoRows)
		return
	}

	users := []*User{}
	err = meddler.QueryAll(tx, &users, `SELECT * FROM users WHERE course_id = ? ORDER BY id`, courseID)
	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}

	if len(users) == 0 {
		loggedHTTPErrorf(w, http.StatusNotFound, "not found")
		return
	}

	render.JSON(http.StatusOK, users)
}

// DeleteCourse handles /api/courses/:course_id requests,
// deleting a single course.
// This will also delete all users, assets, and whiteboards related to the
// course.
func DeleteCourse(w http.ResponseWriter, tx *sql.Tx, params martini.Params) {
	courseID, err := parseID(w, "course_id", params["course_id"])
	if err != nil {
		return
	}

	if _, err := tx.Exec(`DELETE FROM courses WHERE id = ?`, courseID); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
}

// GetCanvasInstances handles /api/canvas requests,
// returning all registered Canvas deployments.
func GetCanvasInstances(w http.ResponseWriter, tx *sql.Tx, render render.Render) {
	instances := []*CanvasInstance{}
	if err := meddler.QueryAll(tx, &instances, `SELECT * FROM canvas_instances ORDER BY canvas_api_domain`); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusOK, instances)
}

// PostCanvasInstance handles /api/canvas requests,
// registering a Canvas deployment so it may launch the tool.
func PostCanvasInstance(w http.ResponseWriter, tx *sql.Tx, instance CanvasInstance, render render.Render) {
	now := time.Now()

	if instance.CanvasAPIDomain == "" {
		loggedHTTPErrorf(w, http.StatusBadRequest, "canvas instance must have an API domain")
		return
	}
	if _, err := FindCanvasByDomain(tx, instance.CanvasAPIDomain); err == nil {
		loggedHTTPErrorf(w, http.StatusBadRequest, "canvas instance %s is already registered", instance.CanvasAPIDomain)
		return
	} else if err != sql.ErrNoRows {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}

	instance.ID = 0
	instance.CreatedAt = now
	instance.UpdatedAt = now
	if err := meddler.Save(tx, "canvas_instances", &instance); err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	log.Printf("registered canvas instance %s", instance.CanvasAPIDomain)
	render.JSON(http.StatusOK, &instance)
}

type loginRecord struct {
	userID int64
	time   time.Time
}

type logins struct {
	sync.Mutex
	logins map[string]*loginRecord
}

var loginRecords logins

func init() {
	loginRecords.logins = make(map[string]*loginRecord)
}

func (l *logins) expire() {
	now := time.Now()
	for key, elt := range l.logins {
		if now.Sub(elt.time) >= loginRecordTimeout {
			delete(l.logins, key)
		}
	}
}

func (l *logins) Insert(userID int64) string {
	l.Lock()
	defer l.Unlock()

	key := ""
	for {
		key = makeLoginKey()
		if _, exists := l.logins[key]; !exists {
			break
		}
	}

	elt := &loginRecord{
		userID: userID,
		time:   time.Now(),
	}

	l.logins[key] = elt
	l.expire()

	return key
}

func (l *logins) Get(key string) (int64, error) {
	l.Lock()
	defer l.Unlock()

	l.expire()

	elt, exists := l.logins[key]
	if !exists {
		return 0, loggedErrorf("session %q not found: key expires after 5 minutes and can only be used once", key)
	}

	delete(l.logins, key)
	return elt.userID, nil
}

const keyCharSet string = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"

func makeLoginKey() string {
	var key string
	for i := 0; i < 8; i++ {
		n := rand.Intn(len(keyCharSet))
		key += keyCharSet[n : n+1]
	}
	return key
}
