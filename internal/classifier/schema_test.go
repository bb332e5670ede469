package classifier

import (
	"reflect"
	"sort"
	"testing"
)

func TestGenerateSchemaSentiment(t *testing.T) {
	schema := generateSchema[sentimentResponse]()

	if got := schema["type"]; got != "object" {
		t.Fatalf("type = %v, want object", got)
	}
	if got := schema["additionalProperties"]; got != false {
		t.Fatalf("additionalProperties = %v, want false", got)
	}

	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("properties missing: %v", schema)
	}
	for _, name := range []string{"label", "score", "justification"} {
		if _, ok := props[name]; !ok {
			t.Errorf("property %q missing", name)
		}
	}

	required, ok := schema["required"].([]string)
	if !ok {
		t.Fatalf("required is %T, want []string", schema["required"])
	}
	sort.Strings(required)
	want := []string{"justification", "label", "score"}
	if !reflect.DeepEqual(required, want) {
		t.Errorf("required = %v, want %v", required, want)
	}

	label, ok := props["label"].(map[string]any)
	if !ok {
		t.Fatalf("label property is %T", props["label"])
	}
	enum, ok := label["enum"].([]any)
	if !ok {
		t.Fatalf("label enum is %T, want []any", label["enum"])
	}
	if len(enum) != 3 {
		t.Errorf("label enum = %v, want three values", enum)
	}
}

func TestGenerateSchemaNested(t *testing.T) {
	type inner struct {
		Name string `json:"name"`
	}
	type outer struct {
		Items []inner `json:"items"`
		Child inner   `json:"child"`
	}

	schema := generateSchema[outer]()
	props := schema["properties"].(map[string]any)

	child, ok := props["child"].(map[string]any)
	if !ok {
		t.Fatalf("child property is %T", props["child"])
	}
	if got := child["additionalProperties"]; got != false {
		t.Errorf("child additionalProperties = %v, want false", got)
	}

	items, ok := props["items"].(map[string]any)
	if !ok {
		t.Fatalf("items property is %T", props["items"])
	}
	elem, ok := items["items"].(map[string]any)
	if !ok {
		t.Fatalf("items element schema is %T", items["items"])
	}
	if got := elem["additionalProperties"]; got != false {
		t.Errorf("element additionalProperties = %v, want false", got)
	}
	req, ok := elem["required"].([]string)
	if !ok || len(req) != 1 || req[0] != "name" {
		t.Errorf("element required = %v, want [name]", elem["required"])
	}
}
