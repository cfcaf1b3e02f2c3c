package canonjson

import "testing"

func TestCanonicalizeSortsKeys(t *testing.T) {
	input := []byte(`{"z":1,"a":2,"m":{"y":3,"b":4}}`)
	out, err := Canonicalize(input)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	want := `{"a":2,"m":{"b":4,"y":3},"z":1}`
	if string(out) != want {
		t.Errorf("Canonicalize() = %s, want %s", out, want)
	}
}

func TestStableStringifyStruct(t *testing.T) {
	type pair struct {
		Z int `json:"z"`
		A int `json:"a"`
	}
	out, err := StableStringify(pair{Z: 1, A: 2})
	if err != nil {
		t.Fatalf("StableStringify: %v", err)
	}
	want := `{"a":2,"z":1}`
	if string(out) != want {
		t.Errorf("StableStringify() = %s, want %s", out, want)
	}
}

func TestStableStringifyDeterministic(t *testing.T) {
	type nested struct {
		Workload map[string]interface{} `json:"workload"`
	}
	v := nested{Workload: map[string]interface{}{"b": 1, "a": 2}}
	first, err := StableStringify(v)
	if err != nil {
		t.Fatalf("StableStringify: %v", err)
	}
	second, err := StableStringify(v)
	if err != nil {
		t.Fatalf("StableStringify: %v", err)
	}
	if string(first) != string(second) {
		t.Errorf("stringify not deterministic: %s vs %s", first, second)
	}
}
