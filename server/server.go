package main

import (
	"compress/gzip"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"expvar"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-martini/martini"
	"github.com/martini-contrib/binding"
	mgzip "github.com/martini-contrib/gzip"
	"github.com/martini-contrib/render"
	_ "github.com/mattn/go-sqlite3"
	"github.com/russross/meddler"

	. "github.com/corkboard/corkboard/types"
)

// Config holds site-specific configuration data.
var Config struct {
	// required parameters
	Hostname      string `json:"hostname"`      // Hostname for the site: "your.host.goes.here"
	SessionSecret string `json:"sessionSecret"` // Random string used to sign cookie sessions: `head -c 32 /dev/urandom | base64`
	LTISecret     string `json:"ltiSecret"`     // Fallback LTI shared secret for Canvas instances without their own: `head -c 32 /dev/urandom | base64`

	// parameters where the default is usually sufficient
	ToolName        string      `json:"toolName"`        // LTI human readable name: default "Corkboard"
	ToolID          string      `json:"toolID"`          // LTI unique ID: default "corkboard"
	ToolDescription string      `json:"toolDescription"` // LTI description: default "Course asset library and whiteboards"
	SQLite3Path     string      `json:"sqlite3Path"`     // path to the sqlite database file: default "$CORKBOARDROOT/db/corkboard.db"
	VueBaseURL      string      `json:"vueBaseURL"`      // base URL prefixed to post-login redirects (empty in production)
	SessionsExpire  []time.Time `json:"sessionsExpire"`  // times/dates when sessions should expire (year is ignored)

	// feature flags
	FeatureFlagWhiteboards bool `json:"featureFlagWhiteboards"` // gate the entire whiteboards area
}

var root string
var port string

func main() {
	log.SetFlags(log.Lshortfile)

	root = os.Getenv("CORKBOARDROOT")
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("CORKBOARDROOT is not set, and cannot find user's home directory")
		}
		root = filepath.Join(home, "corkboard")
	}
	log.Printf("CORKBOARDROOT set to %s", root)

	port = ":" + os.Getenv("PORT")
	if port == ":" {
		port = ":8080"
	}
	log.Printf("port set to %s", port)

	// parse command line
	var useConfig bool
	flag.BoolVar(&useConfig, "config", false, "Use config.json for config data (for testing)")
	flag.Parse()

	// set config defaults
	Config.ToolName = "Corkboard"
	Config.ToolID = "corkboard"
	Config.ToolDescription = "Course asset library and whiteboards"
	Config.SQLite3Path = filepath.Join(root, "db", "corkboard.db")
	Config.SessionsExpire = []time.Time{
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.Local),
		time.Date(2020, 7, 1, 0, 0, 0, 0, time.Local),
	}

	// load config
	if useConfig {
		configFile := filepath.Join(root, "config.json")
		if raw, err := os.ReadFile(configFile); err != nil {
			log.Fatalf("failed to load config file %q: %v", configFile, err)
		} else if err := json.Unmarshal(raw, &Config); err != nil {
			log.Fatalf("failed to parse config file: %v", err)
		}
	} else {
		Config.Hostname = os.Getenv("CORKBOARD_HOSTNAME")
		Config.SessionSecret = os.Getenv("CORKBOARD_SESSIONSECRET")
		Config.LTISecret = os.Getenv("CORKBOARD_LTISECRET")
		Config.VueBaseURL = os.Getenv("CORKBOARD_VUEBASEURL")
		if flag, err := strconv.ParseBool(os.Getenv("CORKBOARD_WHITEBOARDS")); err == nil {
			Config.FeatureFlagWhiteboards = flag
		}
	}
	Config.SessionSecret = unBase64(Config.SessionSecret)
	Config.LTISecret = unBase64(Config.LTISecret)

	if Config.Hostname == "" {
		log.Fatalf("cannot run with no hostname in the config file")
	}
	if Config.SessionSecret == "" {
		log.Fatalf("cannot run with no sessionSecret in the config file")
	}
	if Config.LTISecret == "" {
		log.Fatalf("cannot run with no ltiSecret in the config file")
	}
	if Config.SQLite3Path == "" {
		log.Fatalf("cannot run with no sqlite3Path in the config file")
	}

	// set up martini
	r := martini.NewRouter()
	m := martini.New()
	m.Logger(log.New(os.Stderr, "", log.Lshortfile))
	m.Use(martini.Recovery())
	m.MapTo(r, (*martini.Routes)(nil))
	m.Action(r.Handle)

	counter := func(w http.ResponseWriter, r *http.Request, c martini.Context) {
		start := time.Now()
		c.Next()
		now := time.Now()
		seconds := now.Sub(start).Seconds()
		hits++
		hitsCounter.Add(1)
		if seconds > slowest {
			slowest = seconds
			slowestCounter.Set(seconds)
			slowestTimeCounter.Set(now.Format(time.RFC1123))
			slowestPathCounter.Set(r.URL.Path)
		}
		totalSeconds += seconds
		totalSecondsCounter.Add(seconds)
		averageSecondsCounter.Set(totalSeconds / float64(hits))
		rw := w.(martini.ResponseWriter)
		if rw.Status() >= 400 {
			errorsCounter.Add(1)
		}
		goroutineCounter.Set(int64(runtime.NumGoroutine()))
	}

	m.Use(mgzip.All())
	m.Use(martini.Static(filepath.Join(root, "www"), martini.StaticOptions{SkipLogging: true}))
	m.Use(render.Renderer(render.Options{IndentJSON: false}))

	// set up the database
	db := setupDB(Config.SQLite3Path)
	var dbMutex sync.Mutex

	// martini service: wrap handler in a transaction
	withTx := func(c martini.Context, r *http.Request, w http.ResponseWriter) {
		// start a transaction
		dbMutex.Lock()
		defer dbMutex.Unlock()

		start := time.Now()
		defer func() {
			elapsed := time.Since(start)
			if elapsed > 500*time.Millisecond {
				switch {
				case elapsed < time.Second:
					elapsed -= elapsed % time.Millisecond
				case elapsed < 10*time.Second:
					elapsed -= elapsed % (10 * time.Millisecond)
				default:
					elapsed -= elapsed % (100 * time.Millisecond)
				}
				log.Printf("transaction took %v, req was %s", elapsed, r.RequestURI)
			}
		}()
		tx, err := db.Begin()
		if err != nil {
			loggedHTTPErrorf(w, http.StatusInternalServerError, "db error starting transaction: %v", err)
			return
		}

		// pass it on to the main handler
		c.Map(tx)
		c.Next()

		// was it a successful result?
		rw := w.(martini.ResponseWriter)
		if rw.Status() < http.StatusBadRequest {
			// commit the transaction
			if err := tx.Commit(); err != nil {
				loggedHTTPErrorf(w, http.StatusInternalServerError, "db error committing transaction: %v", err)
				return
			}
		} else {
			// rollback
			if err := tx.Rollback(); err != nil {
				loggedHTTPErrorf(w, http.StatusInternalServerError, "db error rolling back transaction: %v", err)
				return
			}
		}
	}

	// martini service: to require an active logged-in session
	auth := func(w http.ResponseWriter, r *http.Request) {
		_, err := GetSession(r)
		if err != nil {
			loggedHTTPErrorf(w, http.StatusUnauthorized, "authentication failed: try logging in again")
			log.Printf("%v", err)
			return
		}
	}

	// martini service: include the current logged-in user (requires withTx)
	withCurrentUser := func(c martini.Context, w http.ResponseWriter, r *http.Request, tx *sql.Tx) {
		session, err := GetSession(r)
		if err != nil {
			loggedHTTPErrorf(w, http.StatusUnauthorized, "authentication failed: try logging in again")
			log.Printf("%v", err)
			return
		}

		// load the user record
		userID := session.UserID
		user := new(User)
		if err := meddler.Load(tx, "users", user, userID); err != nil {
			session.Delete(w)

			if err == sql.ErrNoRows {
				loggedHTTPErrorf(w, http.StatusUnauthorized, "user %d not found", userID)
				return
			}
			loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
			return
		}

		// map the current user to the request context
		c.Map(user)
	}

	// martini service: require logged in user to be an administrator (requires withCurrentUser)
	administratorOnly := func(w http.ResponseWriter, r *http.Request, currentUser *User) {
		if !currentUser.Admin {
			loggedHTTPErrorf(w, http.StatusUnauthorized, "unauthorized request to %s by user %d (%s)", r.URL.Path, currentUser.ID, currentUser.Email)
			return
		}
	}

	// martini service: require logged in user to be teaching staff or an
	// administrator (requires withCurrentUser)
	teacherOnly := func(w http.ResponseWriter, r *http.Request, currentUser *User) {
		if currentUser.Admin {
			return
		}
		if !currentUser.Teaching {
			loggedHTTPErrorf(w, http.StatusUnauthorized, "unauthorized request to %s by user %d (%s)", r.URL.Path, currentUser.ID, currentUser.Email)
			return
		}
	}

	// martini service: require the whiteboards feature flag to be on
	whiteboardsEnabled := func(w http.ResponseWriter, r *http.Request) {
		if !Config.FeatureFlagWhiteboards {
			loggedHTTPErrorf(w, http.StatusUnauthorized, "request to %s with whiteboards feature flag off", r.URL.Path)
			return
		}
	}

	// martini service: require whiteboard access for the whiteboard named in
	// the URL (requires withCurrentUser). Denials answer with a bare 404 so
	// outsiders cannot confirm that a given whiteboard exists.
	whiteboardAccess := func(w http.ResponseWriter, r *http.Request, tx *sql.Tx, params martini.Params, currentUser *User) {
		whiteboardID, _ := strconv.ParseInt(params["whiteboard_id"], 10, 64)
		ok, err := CanAccessWhiteboard(tx, currentUser, whiteboardID)
		if err != nil {
			loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
			return
		}
		if !ok {
			log.Printf("unauthorized request to %s by user %d", r.URL.Path, currentUser.ID)
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
	}

	// martini middleware: decompress incoming requests
	gunzip := func(c martini.Context, w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Encoding") != "gzip" {
			return
		}

		r.Header.Del("Content-Encoding")
		body := r.Body
		var err error
		r.Body, err = gzip.NewReader(body)
		defer body.Close()
		if err != nil {
			loggedHTTPErrorf(w, http.StatusBadRequest, "gzip error in request: %v", err)
			return
		}
		c.Next()
	}

	// version
	r.Get("/api/version", counter, func(w http.ResponseWriter, render render.Render) {
		render.JSON(http.StatusOK, &CurrentVersion)
	})

	// stats
	r.Get("/api/stats", counter, withTx, withCurrentUser, administratorOnly, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		fmt.Fprintf(w, "{\n")
		first := true
		expvar.Do(func(kv expvar.KeyValue) {
			if !first {
				fmt.Fprintf(w, ",\n")
			}
			first = false
			fmt.Fprintf(w, "%q: %s", kv.Key, kv.Value)
		})
		fmt.Fprintf(w, "\n}\n")
	})

	// LTI
	r.Get("/api/lti/cartridge.xml", counter, GetCartridgeXML)
	r.Post("/api/lti/launch", counter, gunzip, binding.Bind(LTIRequest{}), withTx, checkOAuthSignature, LtiLaunch)

	// type registries
	r.Get("/api/asset_types", counter, auth, GetAssetTypes)
	r.Get("/api/activity_types", counter, auth, GetActivityTypes)

	// users
	r.Get("/api/users", counter, withTx, withCurrentUser, GetUsers)
	r.Get("/api/users/me", counter, withTx, withCurrentUser, GetUserMe)
	r.Get("/api/users/session", counter, GetUserSession)
	r.Get("/api/users/session_key", counter, withTx, withCurrentUser, GetUserSessionKey)
	r.Get("/api/users/:user_id", counter, withTx, withCurrentUser, GetUser)
	r.Delete("/api/users/:user_id", counter, withTx, withCurrentUser, administratorOnly, DeleteUser)

	// courses
	r.Get("/api/courses", counter, withTx, withCurrentUser, GetCourses)
	r.Get("/api/courses/:course_id", counter, withTx, withCurrentUser, GetCourse)
	r.Get("/api/courses/:course_id/users", counter, withTx, withCurrentUser, GetCourseUsers)
	r.Delete("/api/courses/:course_id", counter, withTx, withCurrentUser, administratorOnly, DeleteCourse)

	// canvas instances
	r.Get("/api/canvas", counter, withTx, withCurrentUser, administratorOnly, GetCanvasInstances)
	r.Post("/api/canvas", counter, withTx, withCurrentUser, administratorOnly, gunzip, binding.Json(CanvasInstance{}), PostCanvasInstance)

	// assets
	r.Get("/api/assets", counter, withTx, withCurrentUser, GetAssets)
	r.Get("/api/assets/:asset_id", counter, withTx, withCurrentUser, GetAsset)
	r.Post("/api/assets", counter, withTx, withCurrentUser, gunzip, binding.Json(Asset{}), PostAsset)
	r.Put("/api/assets/:asset_id", counter, withTx, withCurrentUser, gunzip, binding.Json(Asset{}), PutAsset)
	r.Delete("/api/assets/:asset_id", counter, withTx, withCurrentUser, DeleteAsset)
	r.Post("/api/assets/:asset_id/like", counter, withTx, withCurrentUser, PostAssetLike)
	r.Delete("/api/assets/:asset_id/like", counter, withTx, withCurrentUser, DeleteAssetLike)

	// activity feed
	r.Get("/api/activities", counter, withTx, withCurrentUser, GetActivities)

	// comments
	r.Get("/api/assets/:asset_id/comments", counter, withTx, withCurrentUser, GetAssetComments)
	r.Post("/api/assets/:asset_id/comments", counter, withTx, withCurrentUser, gunzip, binding.Json(AssetComment{}), PostAssetComment)
	r.Put("/api/comments/:comment_id", counter, withTx, withCurrentUser, gunzip, binding.Json(AssetComment{}), PutComment)
	r.Delete("/api/comments/:comment_id", counter, withTx, withCurrentUser, DeleteComment)

	// whiteboards
	r.Get("/api/whiteboards", counter, whiteboardsEnabled, withTx, withCurrentUser, GetWhiteboards)
	r.Post("/api/whiteboards", counter, whiteboardsEnabled, withTx, withCurrentUser, gunzip, binding.Json(Whiteboard{}), PostWhiteboard)
	r.Get("/api/whiteboards/:whiteboard_id", counter, withTx, withCurrentUser, whiteboardAccess, GetWhiteboard)
	r.Get("/api/whiteboards/:whiteboard_id/elements", counter, withTx, withCurrentUser, whiteboardAccess, GetWhiteboardElements)
	r.Delete("/api/whiteboards/:whiteboard_id", counter, withTx, withCurrentUser, teacherOnly, whiteboardAccess, DeleteWhiteboard)
	r.Post("/api/whiteboards/:whiteboard_id/restore", counter, withTx, withCurrentUser, teacherOnly, whiteboardAccess, RestoreWhiteboard)

	// whiteboard collaboration socket: long-lived, so it manages its own
	// session check and database access instead of using withTx
	r.Get("/api/whiteboards/:whiteboard_id/socket", func(w http.ResponseWriter, r *http.Request, params martini.Params) {
		SocketWhiteboard(w, r, params, db, &dbMutex)
	})

	// note: this will work behind a TLS proxy or for debugging with some calls
	// but LTI will refuse to connect to an insecure host
	log.Printf("accepting http connections on %s", port)
	if err := http.ListenAndServe(port, m); err != nil {
		log.Fatalf("ListenAndServe: %v", err)
	}
}

func setupDB(path string) *sql.DB {
	meddler.Default = meddler.SQLite

	options :=
		"?" + "mode=rw" +
			"&" + "_busy_timeout=10000" +
			"&" + "_cache_size=-20000" +
			"&" + "_foreign_keys=ON" +
			"&" + "_journal_mode=WAL" +
			"&" + "_synchronous=NORMAL" +
			"&" + "_temp_store=MEMORY"
	db, err := sql.Open("sqlite3", path+options)
	if err != nil {
		log.Fatalf("error opening database: %v", err)
	}

	return db
}

func addWhereEq(where string, args []interface{}, label string, value interface{}) (string, []interface{}) {
	if where == "" {
		where = " WHERE"
	} else {
		where += " AND"
	}
	args = append(args, value)
	where += fmt.Sprintf(" %s = ?", label)
	return where, args
}

func addWhereLike(where string, args []interface{}, label string, value string) (string, []interface{}) {
	if where == "" {
		where = " WHERE"
	} else {
		where += " AND"
	}
	args = append(args, "%"+strings.ToLower(value)+"%")

	// sqlite is set to use case insensitive LIKEs
	where += fmt.Sprintf(" %s LIKE ?", label)
	return where, args
}

func loggedHTTPDBNotFoundError(w http.ResponseWriter, err error) {
	msg := "not found"
	status := http.StatusNotFound
	if err != sql.ErrNoRows {
		msg = fmt.Sprintf("db error: %v", err)
		status = http.StatusInternalServerError
	}
	http.Error(w, msg, status)
}

func loggedHTTPErrorf(w http.ResponseWriter, status int, format string, params ...interface{}) error {
	msg := fmt.Sprintf(format, params...)
	log.Print(logPrefix() + msg)
	http.Error(w, msg, status)
	return fmt.Errorf("%s", msg)
}

func loggedErrorf(f string, params ...interface{}) error {
	log.Print(logPrefix() + fmt.Sprintf(f, params...))
	return fmt.Errorf(f, params...)
}

func parseID(w http.ResponseWriter, name, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, loggedHTTPErrorf(w, http.StatusBadRequest, "error parsing %s from URL: %v", name, err)
	}
	if id < 1 {
		return 0, loggedHTTPErrorf(w, http.StatusBadRequest, "invalid ID in URL: %s must be 1 or greater", name)
	}

	return id, nil
}

func logPrefix() string {
	prefix := ""
	if _, file, line, ok := runtime.Caller(2); ok {
		if slash := strings.LastIndex(file, "/"); slash >= 0 {
			file = file[slash+1:]
		}
		prefix = fmt.Sprintf("%s:%d: ", file, line)
	}
	return prefix
}

func unBase64(s string) string {
	if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
		return string(raw)
	}
	return s
}

var (
	hits                  int
	hitsCounter           = expvar.NewInt("hits")
	slowest               float64
	slowestCounter        = expvar.NewFloat("slowestSeconds")
	slowestPathCounter    = expvar.NewString("slowestPath")
	slowestTimeCounter    = expvar.NewString("slowestTime")
	totalSeconds          float64
	totalSecondsCounter   = expvar.NewFloat("totalSeconds")
	averageSecondsCounter = expvar.NewFloat("averageSeconds")
	errorsCounter         = expvar.NewInt("errors")
	goroutineCounter      = expvar.NewInt("goroutines")
)
