// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package store

import (
	"encoding/base64"

	"github.com/goccy/go-json"
)

// EncodeCursor encodes a position in a sorted result, the values of the
// sort keys of the boundary record, to an opaque string.
func EncodeCursor(position map[string]interface{}) string {
	data, err := json.Marshal(position)
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(data)
}

// DecodeCursor decodes a cursor created by EncodeCursor. It returns nil for
// anything that is not a valid cursor, a bad cursor means no cursor.
func DecodeCursor(encoded string) map[string]interface{} {
	if len(encoded) == 0 {
		return nil
	}
	data, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		// be lenient with clients that dropped the padding
		if data, err = base64.RawURLEncoding.DecodeString(encoded); err != nil {
			return nil
		}
	}
	var position map[string]interface{}
	if err := json.Unmarshal(data, &position); err != nil || len(position) == 0 {
		return nil
	}
	return position
}

// cursorCovers returns true if the cursor holds a value for every sort key.
// Cursors that do not are ignored.
func cursorCovers(cursor map[string]interface{}, sort Sort) bool {
	for _, key := range sort {
		if _, ok := cursor[key.Field]; !ok {
			return false
		}
	}
	return true
}
