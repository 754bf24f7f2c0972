package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuleset_Can(t *testing.T) {
	rs := NewRuleset([]Rule{
		{Action: "read", Subject: "Document"},
		{Action: "update", Subject: "Document"},
	})

	assert.True(t, rs.Can("read", "Document"))
	assert.True(t, rs.Can("update", "Document"))
	assert.False(t, rs.Can("delete", "Document"))
	assert.False(t, rs.Can("read", "Invoice"))
}

func TestRuleset_ManageAndWildcard(t *testing.T) {
	rs := NewRuleset([]Rule{{Action: ActionManage, Subject: SubjectAll}})

	assert.True(t, rs.Can("read", "Document"))
	assert.True(t, rs.Can("delete", "Invoice"))
	assert.True(t, rs.Can("anything", "Whatever"))
}

func TestRuleset_InvertedDeny(t *testing.T) {
	rs := NewRuleset([]Rule{
		{Action: ActionManage, Subject: "Document"},
		{Action: "delete", Subject: "Document", Inverted: true},
	})

	assert.True(t, rs.Can("read", "Document"))
	assert.True(t, rs.Can("update", "Document"))
	assert.False(t, rs.Can("delete", "Document"), "the later deny must override the broad grant")
}

func TestRuleset_LaterRuleWins(t *testing.T) {
	rs := NewRuleset([]Rule{
		{Action: "read", Subject: "Document", Inverted: true},
		{Action: "read", Subject: "Document"},
	})
	assert.True(t, rs.Can("read", "Document"), "a later grant must override an earlier deny")

	reversed := NewRuleset([]Rule{
		{Action: "read", Subject: "Document"},
		{Action: "read", Subject: "Document", Inverted: true},
	})
	assert.False(t, reversed.Can("read", "Document"))
}

func TestRuleset_EmptyDeniesEverything(t *testing.T) {
	rs := NewRuleset(nil)
	assert.False(t, rs.Can("read", "Document"))
	assert.False(t, rs.Can(ActionManage, SubjectAll))
}

func TestCanRecord_Conditions(t *testing.T) {
	rs := NewRuleset([]Rule{
		{Action: "update", Subject: "Document", Conditions: map[string]interface{}{"ownerId": int64(7)}},
	})

	assert.True(t, rs.CanRecord("update", "Document", map[string]interface{}{"ownerId": int64(7)}))
	assert.False(t, rs.CanRecord("update", "Document", map[string]interface{}{"ownerId": int64(8)}))
	assert.False(t, rs.CanRecord("update", "Document", map[string]interface{}{}), "missing condition field must not match")

	// Without a record a conditional grant counts as a capability.
	assert.True(t, rs.Can("update", "Document"))
}

func TestCanRecord_NumericNormalization(t *testing.T) {
	// JSON round-trips turn numbers into float64; they must still compare
	// equal to native integer record values.
	rs := NewRuleset([]Rule{
		{Action: "read", Subject: "Document", Conditions: map[string]interface{}{"ownerId": float64(7)}},
	})
	assert.True(t, rs.CanRecord("read", "Document", map[string]interface{}{"ownerId": int64(7)}))
	assert.True(t, rs.CanRecord("read", "Document", map[string]interface{}{"ownerId": 7}))
	assert.False(t, rs.CanRecord("read", "Document", map[string]interface{}{"ownerId": 8}))
}

func TestCanRecord_DottedPathConditions(t *testing.T) {
	rs := NewRuleset([]Rule{
		{Action: "read", Subject: "Document", Conditions: map[string]interface{}{"owner.team": "infra"}},
	})

	assert.True(t, rs.CanRecord("read", "Document", map[string]interface{}{
		"owner": map[string]interface{}{"team": "infra"},
	}))
	assert.False(t, rs.CanRecord("read", "Document", map[string]interface{}{
		"owner": map[string]interface{}{"team": "sales"},
	}))
	assert.False(t, rs.CanRecord("read", "Document", map[string]interface{}{
		"owner": "infra",
	}), "a non-map midway through the path must not match")
}

func TestPermittedFields(t *testing.T) {
	rs := NewRuleset([]Rule{
		{Action: "read", Subject: "User"},
		{Action: "read", Subject: "User", Fields: []string{"id", "email"}},
	})
	assert.Equal(t, []string{"id", "email"}, rs.PermittedFields("read", "User"))
	assert.Nil(t, rs.PermittedFields("update", "User"))
}
