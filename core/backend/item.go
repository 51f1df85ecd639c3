package backend

import (
	"github.com/relabs-tech/schemabase/core/schema"
)

// Item is a projected record. It marshals to a JSON object with the fields in
// the order the entity declares them, followed by the joins.
type Item = schema.Ordered[interface{}]

// stub returns the item a reference is projected to when it is not populated
func stub(id string) *Item {
	item := &Item{}
	item.Set(schema.FieldID, id)
	return item
}
