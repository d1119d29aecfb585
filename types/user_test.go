package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTeachingRole(t *testing.T) {
	teaching := []string{
		"Instructor",
		"urn:lti:role:ims/lis/Instructor",
		"urn:lti:role:ims/lis/TeachingAssistant",
		"urn:lti:role:ims/lis/ContentDeveloper",
		"Learner,Instructor",
		" Instructor , Learner",
		"urn:lti:instrole:ims/lis/Instructor",
	}
	for _, roles := range teaching {
		assert.True(t, IsTeachingRole(roles), "roles %q should count as teaching", roles)
	}

	notTeaching := []string{
		"",
		"Learner",
		"urn:lti:role:ims/lis/Learner",
		"Student,Observer",
		"urn:lti:sysrole:ims/lis/Administrator",
		"TeachingAssistantSection", // no partial matches
	}
	for _, roles := range notTeaching {
		assert.False(t, IsTeachingRole(roles), "roles %q should not count as teaching", roles)
	}
}

func TestIdentityID(t *testing.T) {
	var noUser *User
	var noLogin *LoginSession
	assert.EqualValues(t, 0, noUser.IdentityID())
	assert.EqualValues(t, 0, noLogin.IdentityID())

	user := &User{ID: 17}
	login := &LoginSession{UserID: 42, ToolID: "corkboard"}
	assert.EqualValues(t, 17, user.IdentityID())
	assert.EqualValues(t, 42, login.IdentityID())

	// both shapes satisfy the common interface
	ids := []Identity{user, login, noUser, noLogin}
	total := int64(0)
	for _, elt := range ids {
		total += elt.IdentityID()
	}
	assert.EqualValues(t, 59, total)
}
