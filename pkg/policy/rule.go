package policy

import (
	"encoding/json"
	"strings"
)

const (
	// ActionManage matches every action
	ActionManage = "manage"
	// SubjectAll matches every subject
	SubjectAll = "*"
)

// Rule is one entry in a principal's resolved capability list. An
// Inverted rule is an explicit deny.
type Rule struct {
	Action     string                 `json:"action"`
	Subject    string                 `json:"subject"`
	Conditions map[string]interface{} `json:"conditions,omitempty"`
	Fields     []string               `json:"fields,omitempty"`
	Inverted   bool                   `json:"inverted"`
}

// matches reports whether the rule applies to the action/subject pair.
// Conditions are only evaluated when a record is supplied; a capability
// check without a record treats a conditional grant as applicable.
func (r *Rule) matches(action, subject string, record map[string]interface{}) bool {
	if r.Action != action && r.Action != ActionManage {
		return false
	}
	if r.Subject != subject && r.Subject != SubjectAll {
		return false
	}
	if record != nil && len(r.Conditions) > 0 {
		return conditionsMatch(r.Conditions, record)
	}
	return true
}

// Ruleset is an ordered rule list forming a capability predicate.
// Later rules override earlier ones for the same action+subject pair.
type Ruleset struct {
	Rules []Rule `json:"rules"`
}

// NewRuleset creates a ruleset from an ordered rule list
func NewRuleset(rules []Rule) *Ruleset {
	return &Ruleset{Rules: rules}
}

// Can reports whether the principal may perform action on subject,
// ignoring record-level conditions.
func (rs *Ruleset) Can(action, subject string) bool {
	return rs.CanRecord(action, subject, nil)
}

// CanRecord reports whether the principal may perform action on subject
// for a specific record. The last matching rule decides; an inverted
// match is a deny.
func (rs *Ruleset) CanRecord(action, subject string, record map[string]interface{}) bool {
	for i := len(rs.Rules) - 1; i >= 0; i-- {
		if rs.Rules[i].matches(action, subject, record) {
			return !rs.Rules[i].Inverted
		}
	}
	return false
}

// PermittedFields returns the field restriction of the deciding rule for
// an action+subject pair. Nil means unrestricted (or no grant).
func (rs *Ruleset) PermittedFields(action, subject string) []string {
	for i := len(rs.Rules) - 1; i >= 0; i-- {
		if rs.Rules[i].matches(action, subject, nil) {
			return rs.Rules[i].Fields
		}
	}
	return nil
}

// conditionsMatch checks every condition entry against the record.
// Condition keys are dotted paths into the record; values compare by
// normalized deep equality.
func conditionsMatch(conditions map[string]interface{}, record map[string]interface{}) bool {
	for path, want := range conditions {
		got, ok := lookupPath(record, path)
		if !ok {
			return false
		}
		if !valuesEqual(want, got) {
			return false
		}
	}
	return true
}

// lookupPath walks a dotted path through nested maps
func lookupPath(m map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = m
	for _, part := range parts {
		node, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// valuesEqual compares condition and record values, normalizing numeric
// types so JSON round-tripped float64s compare equal to native ints.
func valuesEqual(a, b interface{}) bool {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		return bok && af == bf
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bval, exists := bv[k]
			if !exists || !valuesEqual(v, bval) {
				return false
			}
		}
		return true
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
