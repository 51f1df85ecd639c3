package access

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/schemabase/core"
)

// Permission is a single permission value of a rule
type Permission string

// all supported permission values
const (
	// PermissionAnyone grants access to every caller, including anonymous ones
	PermissionAnyone Permission = "anyone"
	// PermissionUser grants access to every authenticated caller
	PermissionUser Permission = "user"
	// PermissionOwn grants access to the owner of a record
	PermissionOwn Permission = "own"
	// PermissionSystem grants access to nobody but the system itself
	PermissionSystem Permission = "system"
)

// Rule is a set of permission values. Any value unlocking access is sufficient.
//
// In configuration a rule is either a single string or a list of strings.
// A nil rule denies everything.
type Rule []Permission

// UnmarshalJSON accepts a single permission or a list of permissions
func (r *Rule) UnmarshalJSON(data []byte) error {
	var list []Permission
	if err := json.Unmarshal(data, &list); err != nil {
		var single Permission
		if err := json.Unmarshal(data, &single); err != nil {
			return fmt.Errorf("permission must be a string or a list of strings: %w", err)
		}
		list = []Permission{single}
	}
	for _, p := range list {
		switch p {
		case PermissionAnyone, PermissionUser, PermissionOwn, PermissionSystem:
		default:
			return fmt.Errorf("%s is not a valid permission", p)
		}
	}
	*r = list
	return nil
}

// MarshalJSON writes single value rules as plain strings
func (r Rule) MarshalJSON() ([]byte, error) {
	if len(r) == 1 {
		return json.Marshal(string(r[0]))
	}
	return json.Marshal([]Permission(r))
}

// Has returns true if the rule contains p
func (r Rule) Has(p Permission) bool {
	for _, q := range r {
		if q == p {
			return true
		}
	}
	return false
}

// IsOnly returns true if the rule consists of exactly p
func (r Rule) IsOnly(p Permission) bool {
	return len(r) == 1 && r[0] == p
}

// systemOnly returns true if nothing but system is in the rule
func (r Rule) systemOnly() bool {
	for _, p := range r {
		if p != PermissionSystem {
			return false
		}
	}
	return true
}

// Permissions holds one rule per action
type Permissions struct {
	Get    Rule `json:"get,omitempty"`
	Create Rule `json:"create,omitempty"`
	Update Rule `json:"update,omitempty"`
	Delete Rule `json:"delete,omitempty"`
}

// Rule returns the rule for action
func (p Permissions) Rule(action core.Action) Rule {
	switch action {
	case core.ActionGet:
		return p.Get
	case core.ActionCreate:
		return p.Create
	case core.ActionUpdate:
		return p.Update
	case core.ActionDelete:
		return p.Delete
	}
	return nil
}

// Set sets the rule for action
func (p *Permissions) Set(action core.Action, rule Rule) {
	switch action {
	case core.ActionGet:
		p.Get = rule
	case core.ActionCreate:
		p.Create = rule
	case core.ActionUpdate:
		p.Update = rule
	case core.ActionDelete:
		p.Delete = rule
	}
}

// Merge returns p with every rule that is set in override replaced
func (p Permissions) Merge(override Permissions) Permissions {
	for _, action := range core.Actions {
		if rule := override.Rule(action); rule != nil {
			p.Set(action, rule)
		}
	}
	return p
}

// HasValidPermission decides whether caller may perform an action guarded by rule
// on record. Record may be nil for actions without a target, in which case "own"
// can never succeed. OwnerField names the field of record holding the owner's
// identity, it is empty for entities without an ownership field.
//
// The first matching step wins:
//
//   - "anyone" allows everybody
//   - anonymous callers are denied
//   - "user" allows every authenticated caller
//   - "own" allows the caller whose identity equals record[ownerField]
//   - any value other than "system" allows admins
//   - everything else is denied
func HasValidPermission(caller Caller, record map[string]interface{}, ownerField string, rule Rule) bool {
	if len(rule) == 0 {
		return false
	}
	if rule.Has(PermissionAnyone) {
		return true
	}
	if !caller.IsAuthenticated() {
		return false
	}
	if rule.Has(PermissionUser) {
		return true
	}
	if rule.Has(PermissionOwn) && record != nil && len(ownerField) > 0 {
		if owner, ok := record[ownerField]; ok && owner != nil && fmt.Sprint(owner) == caller.ID {
			return true
		}
	}
	if !rule.systemOnly() {
		return caller.Admin
	}
	return false
}
