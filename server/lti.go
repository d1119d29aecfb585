package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"database/sql"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/martini-contrib/render"
	"github.com/russross/meddler"

	. "github.com/corkboard/corkboard/types"
)

const (
	oauthTimestampSkew = 5 * time.Minute
	nonceTimeout       = 10 * time.Minute
)

// LTIRequest is the form posted by Canvas for a basic LTI 1.1 launch.
// Only the fields the tool consumes are named; the signature check works on
// the raw form so unnamed fields still count.
type LTIRequest struct {
	MessageType   string `form:"lti_message_type"`
	Version       string `form:"lti_version"`
	ResourceLink  string `form:"resource_link_id"`
	ConsumerKey   string `form:"oauth_consumer_key"`
	Signature     string `form:"oauth_signature"`
	SignatureAlgo string `form:"oauth_signature_method"`
	Timestamp     string `form:"oauth_timestamp"`
	Nonce         string `form:"oauth_nonce"`

	ContextID    string `form:"context_id"`    // unique ID of the course in the LMS
	ContextTitle string `form:"context_title"` // course name

	UserID     string `form:"user_id"` // unique ID of the user in the LMS
	PersonName string `form:"lis_person_name_full"`
	Email      string `form:"lis_person_contact_email_primary"`
	Roles      string `form:"roles"` // comma-separated list of LTI roles

	CanvasAPIDomain string `form:"custom_canvas_api_domain"`
	CanvasCourseID  int64  `form:"custom_canvas_course_id"`
	CanvasUserID    int64  `form:"custom_canvas_user_id"`
	RedirectPath    string `form:"custom_redirect_path"`
}

// checkOAuthSignature is a martini service that verifies the OAuth 1.0
// HMAC-SHA1 signature on an LTI launch before any handler runs. Launches
// from a registered Canvas instance are checked against that instance's
// consumer key and secret; anything else falls back to the global secret.
func checkOAuthSignature(w http.ResponseWriter, r *http.Request, tx *sql.Tx, form LTIRequest) {
	if err := r.ParseForm(); err != nil {
		loggedHTTPErrorf(w, http.StatusBadRequest, "parsing form data: %v", err)
		return
	}
	if form.MessageType != "basic-lti-launch-request" {
		loggedHTTPErrorf(w, http.StatusBadRequest, "unexpected lti_message_type: %q", form.MessageType)
		return
	}
	if form.SignatureAlgo != "HMAC-SHA1" {
		loggedHTTPErrorf(w, http.StatusBadRequest, "unexpected oauth_signature_method: %q", form.SignatureAlgo)
		return
	}

	// reject stale or replayed requests
	stamp, err := strconv.ParseInt(form.Timestamp, 10, 64)
	if err != nil {
		loggedHTTPErrorf(w, http.StatusBadRequest, "error parsing oauth_timestamp: %v", err)
		return
	}
	drift := time.Since(time.Unix(stamp, 0))
	if drift < 0 {
		drift = -drift
	}
	if drift > oauthTimestampSkew {
		loggedHTTPErrorf(w, http.StatusUnauthorized, "oauth timestamp drift is too great")
		return
	}
	if !launchNonces.Insert(form.Nonce) {
		loggedHTTPErrorf(w, http.StatusUnauthorized, "oauth nonce has already been used")
		return
	}

	secret := Config.LTISecret
	canvas, err := FindCanvasByDomain(tx, form.CanvasAPIDomain)
	switch {
	case err == nil && canvas.LtiSecret != "":
		if form.ConsumerKey != canvas.LtiKey {
			loggedHTTPErrorf(w, http.StatusUnauthorized, "unknown oauth_consumer_key: %q", form.ConsumerKey)
			return
		}
		secret = canvas.LtiSecret
	case err != nil && err != sql.ErrNoRows:
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}

	expected := computeOAuthSignature(r.Method, "https://"+Config.Hostname+r.URL.Path, r.PostForm, secret)
	if !hmac.Equal([]byte(expected), []byte(form.Signature)) {
		loggedHTTPErrorf(w, http.StatusUnauthorized, "oauth signature mismatch")
		return
	}
}

// computeOAuthSignature computes the OAuth 1.0 base string over the given
// form and signs it with HMAC-SHA1. The token secret is empty for LTI.
func computeOAuthSignature(method, rawurl string, form url.Values, secret string) string {
	v := make(url.Values)
	for key, vals := range form {
		if key == "oauth_signature" {
			continue
		}
		for _, val := range vals {
			v.Add(key, val)
		}
	}

	base := escape(method) + "&" + escape(rawurl) + "&" + escape(string(encode(v)))
	mac := hmac.New(sha1.New, []byte(escape(secret)+"&"))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// this is url.Values.Encode from the standard library, but using escape
// instead of url.QueryEscape as OAuth requires
func encode(v url.Values) []byte {
	if v == nil {
		return []byte{}
	}
	var buf bytes.Buffer
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		vs := v[k]
		prefix := escape(k) + "="
		sort.Strings(vs)
		for _, v := range vs {
			if buf.Len() > 0 {
				buf.WriteByte('&')
			}
			buf.WriteString(prefix)
			buf.WriteString(escape(v))
		}
	}
	return buf.Bytes()
}

func escape(s string) string {
	var buf bytes.Buffer
	for _, b := range []byte(s) {
		if b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '-' || b == '.' || b == '_' || b == '~' {
			buf.WriteByte(b)
		} else {
			fmt.Fprintf(&buf, "%%%02X", b)
		}
	}
	return buf.String()
}

// LtiLaunch handles POST /api/lti/launch requests.
// It provisions the course and user on first launch, then establishes the
// login session. An unknown Canvas instance or an inactive course yields a
// failed launch surfaced as 401 with the tool and user context.
func LtiLaunch(w http.ResponseWriter, r *http.Request, tx *sql.Tx, form LTIRequest, render render.Render) {
	now := time.Now()

	if form.CanvasAPIDomain == "" || form.ContextID == "" || form.UserID == "" {
		loggedHTTPErrorf(w, http.StatusBadRequest, "lti launch is missing canvas domain, context, or user")
		return
	}
	if _, err := FindCanvasByDomain(tx, form.CanvasAPIDomain); err != nil {
		if err == sql.ErrNoRows {
			loggedHTTPErrorf(w, http.StatusForbidden, "lti launch from unregistered canvas instance %s", form.CanvasAPIDomain)
			return
		}
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}

	// find or create the course
	course := new(Course)
	err := meddler.QueryRow(tx, course, `SELECT * FROM courses WHERE canvas_api_domain = ? AND canvas_course_id = ?`,
		form.CanvasAPIDomain, form.CanvasCourseID)
	if err == sql.ErrNoRows {
		course = &Course{
			Name:            form.ContextTitle,
			CanvasAPIDomain: form.CanvasAPIDomain,
			CanvasCourseID:  form.CanvasCourseID,
			LtiID:           form.ContextID,
			Active:          true,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err = meddler.Save(tx, "courses", course); err == nil {
			log.Printf("created course %d (%s) for canvas course %d", course.ID, course.Name, course.CanvasCourseID)
		}
	}
	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}

	// find the user, creating or refreshing the record while the course is
	// active; launches into an inactive course never provision accounts
	user := new(User)
	err = meddler.QueryRow(tx, user, `SELECT * FROM users WHERE course_id = ? AND lti_id = ?`, course.ID, form.UserID)
	if err != nil && err != sql.ErrNoRows {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	if course.Active {
		if err == sql.ErrNoRows {
			user = &User{
				CourseID:  course.ID,
				LtiID:     form.UserID,
				CreatedAt: now,
			}
		}
		user.Name = form.PersonName
		user.Email = form.Email
		user.CanvasUserID = form.CanvasUserID
		user.CanvasCourseRole = form.Roles
		user.Teaching = IsTeachingRole(form.Roles)
		user.UpdatedAt = now
		if err := meddler.Save(tx, "users", user); err != nil {
			loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
			return
		}
	}

	login := &LoginSession{UserID: user.ID, ToolID: Config.ToolID}
	if err := StartLoginSession(w, r, tx, render, login, form.RedirectPath); err != nil {
		if launchErr, ok := err.(*UnauthorizedLaunchError); ok {
			loggedHTTPErrorf(w, http.StatusUnauthorized, "%v", launchErr)
			return
		}
		loggedHTTPErrorf(w, http.StatusInternalServerError, "%v", err)
		return
	}
}

// GetCartridgeXML handles /api/lti/cartridge.xml requests,
// returning the Canvas external tool configuration.
func GetCartridgeXML(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<cartridge_basiclti_link xmlns="http://www.imsglobal.org/xsd/imslticc_v1p0"
    xmlns:blti="http://www.imsglobal.org/xsd/imsbasiclti_v1p0"
    xmlns:lticm="http://www.imsglobal.org/xsd/imslticm_v1p0"
    xmlns:lticp="http://www.imsglobal.org/xsd/imslticp_v1p0">
  <blti:title>%s</blti:title>
  <blti:description>%s</blti:description>
  <blti:launch_url>https://%s/api/lti/launch</blti:launch_url>
  <blti:extensions platform="canvas.instructure.com">
    <lticm:property name="tool_id">%s</lticm:property>
    <lticm:property name="privacy_level">public</lticm:property>
    <lticm:options name="course_navigation">
      <lticm:property name="url">https://%s/api/lti/launch</lticm:property>
      <lticm:property name="text">%s</lticm:property>
      <lticm:property name="default">disabled</lticm:property>
      <lticm:property name="visibility">public</lticm:property>
    </lticm:options>
  </blti:extensions>
</cartridge_basiclti_link>
`, Config.ToolName, Config.ToolDescription, Config.Hostname, Config.ToolID, Config.Hostname, Config.ToolName)
}

type nonces struct {
	sync.Mutex
	seen map[string]time.Time
}

var launchNonces = nonces{seen: make(map[string]time.Time)}

// Insert records a nonce, reporting false if it was already used recently.
func (n *nonces) Insert(nonce string) bool {
	n.Lock()
	defer n.Unlock()

	now := time.Now()
	for key, when := range n.seen {
		if now.Sub(when) >= nonceTimeout {
			delete(n.seen, key)
		}
	}
	if _, exists := n.seen[nonce]; exists {
		return false
	}
	n.seen[nonce] = now
	return true
}
