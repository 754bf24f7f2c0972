package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testVars() map[string]interface{} {
	return map[string]interface{}{
		"user": map[string]interface{}{
			"id":    int64(42),
			"email": `alice"-- drop]@test.com`,
			"team": map[string]interface{}{
				"name": "infra",
			},
		},
	}
}

func TestInterpolate_WholeTokenPreservesType(t *testing.T) {
	conditions := map[string]interface{}{"ownerId": "${user.id}"}
	out := interpolate(conditions, testVars()).(map[string]interface{})

	assert.Equal(t, int64(42), out["ownerId"], "a whole-string token must substitute the raw value, not its string form")
}

func TestInterpolate_ValueWithQuoteCharacters(t *testing.T) {
	// Values containing quotes or template-ish characters pass through
	// untouched because substitution is structural, not textual.
	conditions := map[string]interface{}{"email": "${user.email}"}
	out := interpolate(conditions, testVars()).(map[string]interface{})

	assert.Equal(t, `alice"-- drop]@test.com`, out["email"])
}

func TestInterpolate_NestedAndLists(t *testing.T) {
	conditions := map[string]interface{}{
		"owner": map[string]interface{}{"id": "${user.id}"},
		"tags":  []interface{}{"${user.team.name}", "static"},
	}
	out := interpolate(conditions, testVars()).(map[string]interface{})

	owner := out["owner"].(map[string]interface{})
	assert.Equal(t, int64(42), owner["id"])
	tags := out["tags"].([]interface{})
	assert.Equal(t, "infra", tags[0])
	assert.Equal(t, "static", tags[1])
}

func TestInterpolate_UnresolvablePathYieldsNil(t *testing.T) {
	conditions := map[string]interface{}{"ownerId": "${user.missing}"}
	out := interpolate(conditions, testVars()).(map[string]interface{})

	assert.Nil(t, out["ownerId"])
}

func TestInterpolate_EmbeddedTokenStringifies(t *testing.T) {
	conditions := map[string]interface{}{
		"label":   "owner-${user.id}",
		"missing": "x-${user.nope}-y",
	}
	out := interpolate(conditions, testVars()).(map[string]interface{})

	assert.Equal(t, "owner-42", out["label"])
	assert.Equal(t, "x-null-y", out["missing"])
}

func TestInterpolate_NonTemplateValuesUntouched(t *testing.T) {
	conditions := map[string]interface{}{
		"status": "active",
		"count":  float64(3),
		"flag":   true,
		"none":   nil,
	}
	out := interpolate(conditions, testVars()).(map[string]interface{})

	assert.Equal(t, "active", out["status"])
	assert.Equal(t, float64(3), out["count"])
	assert.Equal(t, true, out["flag"])
	assert.Nil(t, out["none"])
}
