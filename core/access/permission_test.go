package access

import (
	"math/rand"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ownerID = "0190a5c4-1f2e-7c3d-8a4b-5c6d7e8f9a0b"
	otherID = "0190a5c4-1f2e-7c3d-8a4b-5c6d7e8f9a0c"
)

func TestHasValidPermission(t *testing.T) {
	record := map[string]interface{}{"user": ownerID}
	anonymous := Caller{}
	owner := Caller{ID: ownerID}
	other := Caller{ID: otherID}
	admin := Caller{ID: otherID, Admin: true}

	tests := []struct {
		name   string
		caller Caller
		record map[string]interface{}
		rule   Rule
		want   bool
	}{
		{"nil rule denies admin", admin, record, nil, false},
		{"anyone allows anonymous", anonymous, nil, Rule{PermissionAnyone}, true},
		{"user denies anonymous", anonymous, nil, Rule{PermissionUser}, false},
		{"user allows authenticated", other, nil, Rule{PermissionUser}, true},
		{"own allows owner", owner, record, Rule{PermissionOwn}, true},
		{"own denies other", other, record, Rule{PermissionOwn}, false},
		{"own without record denies", owner, nil, Rule{PermissionOwn}, false},
		{"own falls back to admin", admin, record, Rule{PermissionOwn}, true},
		{"system denies admin", admin, record, Rule{PermissionSystem}, false},
		{"system and own allows owner", owner, record, Rule{PermissionSystem, PermissionOwn}, true},
		{"system and own allows admin", admin, record, Rule{PermissionSystem, PermissionOwn}, true},
		{"system and own denies other", other, record, Rule{PermissionSystem, PermissionOwn}, false},
		{"anyone wins over system", anonymous, nil, Rule{PermissionSystem, PermissionAnyone}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasValidPermission(tt.caller, tt.record, "user", tt.rule))
		})
	}
}

func TestHasValidPermissionWithoutOwnerField(t *testing.T) {
	record := map[string]interface{}{"user": ownerID}
	assert.False(t, HasValidPermission(Caller{ID: ownerID}, record, "", Rule{PermissionOwn}))
	assert.False(t, HasValidPermission(Caller{ID: ownerID}, record, "missing", Rule{PermissionOwn}))
}

// referenceDecision is the decision table for a rule over the caller kinds.
// Columns: anonymous, owner, other user, admin owner, admin other.
func referenceDecision(rule Rule) [5]bool {
	switch {
	case len(rule) == 0:
		return [5]bool{}
	case rule.Has(PermissionAnyone):
		return [5]bool{true, true, true, true, true}
	case rule.Has(PermissionUser):
		return [5]bool{false, true, true, true, true}
	}
	ownCol := rule.Has(PermissionOwn)
	adminCol := false
	for _, p := range rule {
		if p != PermissionSystem {
			adminCol = true
		}
	}
	return [5]bool{false, ownCol, false, ownCol || adminCol, adminCol}
}

func TestHasValidPermissionRandomized(t *testing.T) {
	values := []Permission{PermissionAnyone, PermissionUser, PermissionOwn, PermissionSystem}
	callers := []Caller{
		{},
		{ID: ownerID},
		{ID: otherID},
		{ID: ownerID, Admin: true},
		{ID: otherID, Admin: true},
	}
	record := map[string]interface{}{"id": ownerID}
	rnd := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		var rule Rule
		n := rnd.Intn(5)
		for j := 0; j < n; j++ {
			rule = append(rule, values[rnd.Intn(len(values))])
		}
		want := referenceDecision(rule)
		for c, caller := range callers {
			got := HasValidPermission(caller, record, "id", rule)
			require.Equal(t, want[c], got, "rule %v caller %+v", rule, caller)
		}
	}
}

func TestRuleJSON(t *testing.T) {
	var p Permissions
	err := json.Unmarshal([]byte(`{"get":"anyone","create":["user","own"]}`), &p)
	require.NoError(t, err)
	assert.Equal(t, Rule{PermissionAnyone}, p.Get)
	assert.Equal(t, Rule{PermissionUser, PermissionOwn}, p.Create)
	assert.Nil(t, p.Update)

	err = json.Unmarshal([]byte(`{"get":"everybody"}`), &p)
	assert.Error(t, err)

	data, err := json.Marshal(Permissions{Get: Rule{PermissionOwn}, Delete: Rule{PermissionOwn, PermissionSystem}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"get":"own","delete":["own","system"]}`, string(data))
}

func TestPermissionsMerge(t *testing.T) {
	base := Permissions{Get: Rule{PermissionAnyone}, Create: Rule{PermissionUser}}
	merged := base.Merge(Permissions{Get: Rule{PermissionSystem}})
	assert.Equal(t, Rule{PermissionSystem}, merged.Get)
	assert.Equal(t, Rule{PermissionUser}, merged.Create)
	assert.Equal(t, Rule{PermissionAnyone}, base.Get, "merge must not modify the receiver")
}
