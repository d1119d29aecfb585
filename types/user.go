package types

import (
	"strings"
	"time"
)

const CookieName = "corkboard"

// Course represents a single Canvas course site that has launched the tool.
type Course struct {
	ID              int64     `json:"id" meddler:"id,pk"`
	Name            string    `json:"name" meddler:"name"`
	CanvasAPIDomain string    `json:"canvasAPIDomain" meddler:"canvas_api_domain"`
	CanvasCourseID  int64     `json:"canvasCourseID" meddler:"canvas_course_id"`
	LtiID           string    `json:"ltiID" meddler:"lti_id"`
	Active          bool      `json:"active" meddler:"active"`
	CreatedAt       time.Time `json:"createdAt" meddler:"created_at,localtime"`
	UpdatedAt       time.Time `json:"updatedAt" meddler:"updated_at,localtime"`
}

// User represents a single user within a single course site.
// A person enrolled in two courses gets two user rows, one per course.
type User struct {
	ID               int64     `json:"id" meddler:"id,pk"`
	CourseID         int64     `json:"courseID" meddler:"course_id"`
	Name             string    `json:"name" meddler:"name"`
	Email            string    `json:"email" meddler:"email"`
	LtiID            string    `json:"ltiID" meddler:"lti_id"`
	CanvasUserID     int64     `json:"canvasUserID" meddler:"canvas_user_id"`
	CanvasCourseRole string    `json:"canvasCourseRole" meddler:"canvas_course_role"`
	Teaching         bool      `json:"teaching" meddler:"teaching"`
	Admin            bool      `json:"admin" meddler:"admin"`
	CreatedAt        time.Time `json:"createdAt" meddler:"created_at,localtime"`
	UpdatedAt        time.Time `json:"updatedAt" meddler:"updated_at,localtime"`
	LastSignedInAt   time.Time `json:"lastSignedInAt" meddler:"last_signed_in_at,localtime"`
}

// CanvasInstance represents a Canvas deployment that is allowed to launch
// the tool, keyed by its API domain.
type CanvasInstance struct {
	ID                      int64     `json:"id" meddler:"id,pk"`
	CanvasAPIDomain         string    `json:"canvasAPIDomain" meddler:"canvas_api_domain"`
	LtiKey                  string    `json:"ltiKey" meddler:"lti_key"`
	LtiSecret               string    `json:"ltiSecret" meddler:"lti_secret"`
	SupportsCustomMessaging bool      `json:"supportsCustomMessaging" meddler:"supports_custom_messaging"`
	CreatedAt               time.Time `json:"createdAt" meddler:"created_at,localtime"`
	UpdatedAt               time.Time `json:"updatedAt" meddler:"updated_at,localtime"`
}

// LoginSession is the pre-authentication identity carried through an LTI
// launch: it names a user row that may or may not resolve to a live account.
type LoginSession struct {
	UserID int64  `json:"userID"`
	ToolID string `json:"toolID,omitempty"`
}

// Identity is the uniform accessor over the two identity shapes: a loaded
// User row and an LTI LoginSession stub.
type Identity interface {
	IdentityID() int64
}

func (u *User) IdentityID() int64 {
	if u == nil {
		return 0
	}
	return u.ID
}

func (s *LoginSession) IdentityID() int64 {
	if s == nil {
		return 0
	}
	return s.UserID
}

// IsTeachingRole reports whether the given LTI Roles field indicates
// teaching staff for a specific course.
func IsTeachingRole(roles string) bool {
	for _, role := range strings.Split(roles, ",") {
		role = strings.TrimSpace(role)
		if strings.Contains(role, "/") {
			// long-form urn:lti:role:ims/lis/Instructor variants
			role = role[strings.LastIndex(role, "/")+1:]
		}
		switch role {
		case "Instructor", "TeachingAssistant", "ContentDeveloper":
			return true
		}
	}
	return false
}
