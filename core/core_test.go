package core

import (
	"testing"

	"github.com/goccy/go-json"
)

func TestActions_JSON_Unmarshalling(t *testing.T) {

	type Object struct {
		Actions []Action `json:"actions"`
	}
	var object Object
	jsonRead := `{"actions":["get","create","update","delete"]}`
	err := json.Unmarshal([]byte(jsonRead), &object)
	if err != nil {
		t.Fatal(err)
	}
	if len(object.Actions) != 4 || object.Actions[3] != ActionDelete {
		t.Fatalf("unexpected actions %v", object.Actions)
	}

	jsonRead = `{"actions":["list"]}`
	err = json.Unmarshal([]byte(jsonRead), &object)
	if err == nil {
		t.Fatal("invalid action accepted")
	}
}

func TestSingular(t *testing.T) {
	testCases := map[string]string{
		"users":      "user",
		"posts":      "post",
		"categories": "category",
		"sheep":      "sheepItem",
		"fish":       "fishItem",
	}
	for plural, want := range testCases {
		if got := Singular(plural); got != want {
			t.Errorf("Singular(%q) = %q, want %q", plural, got, want)
		}
	}
}

func TestPlural(t *testing.T) {
	if got := Plural("post"); got != "posts" {
		t.Errorf("Plural(post) = %q", got)
	}
}
