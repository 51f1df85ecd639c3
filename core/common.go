package core

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/jinzhu/inflection"
)

// Action represents an entity request action, one of Get, Create, Update, Delete
type Action string

// all supported entity actions
const (
	ActionGet    Action = "get"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Actions lists all actions in their canonical order
var Actions = []Action{ActionGet, ActionCreate, ActionUpdate, ActionDelete}

// UnmarshalJSON is a custom JSON unmarshaller
func (a *Action) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*a = Action(s)
	switch *a {
	case ActionGet, ActionCreate, ActionUpdate, ActionDelete:
		return nil
	default:
		return fmt.Errorf("%s is not valid Action", s)
	}
}

// Plural returns the plural form of the passed singular string.
func Plural(singular string) string {
	return inflection.Plural(singular)
}

// Singular returns the singular name for an entity name. If the
// entity name has no distinct singular form, "Item" is appended, so
// that singular and plural never collide in routes or references.
//
// Example: "users" becomes "user", "sheep" becomes "sheepItem".
func Singular(entityName string) string {
	singular := inflection.Singular(entityName)
	if strings.EqualFold(singular, entityName) {
		singular = entityName + "Item"
	}
	return singular
}
