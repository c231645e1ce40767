package service

import (
	"encoding/json"
	"testing"
)

func testSanitizer() *Sanitizer {
	return NewSanitizer([]string{"password", "token", "secret", "apiKey"})
}

func TestSanitizeMapRecursive(t *testing.T) {
	s := testSanitizer()
	m := s.Map(map[string]interface{}{
		"password": "secret123",
		"nested": map[string]interface{}{
			"token": "abc",
			"deep": map[string]interface{}{
				"apikey": "xyz",
			},
		},
		"items": []interface{}{
			map[string]interface{}{"secret": "s1", "name": "ok"},
		},
		"plain": "visible",
	})

	if m["password"] != "***" {
		t.Fatalf("password not redacted: %v", m["password"])
	}
	nested := m["nested"].(map[string]interface{})
	if nested["token"] != "***" {
		t.Fatalf("nested token not redacted")
	}
	deep := nested["deep"].(map[string]interface{})
	if deep["apikey"] != "***" {
		t.Fatalf("case-insensitive key not redacted")
	}
	item := m["items"].([]interface{})[0].(map[string]interface{})
	if item["secret"] != "***" || item["name"] != "ok" {
		t.Fatalf("array element handling wrong: %v", item)
	}
	if m["plain"] != "visible" {
		t.Fatalf("non-sensitive value mangled")
	}
}

func TestSanitizeBodyJSON(t *testing.T) {
	s := testSanitizer()
	out := s.Body([]byte(`{"password":"secret123","user":"bob"}`))

	var data map[string]interface{}
	if err := json.Unmarshal([]byte(out), &data); err != nil {
		t.Fatalf("invalid json output: %v", err)
	}
	if data["password"] != "***" {
		t.Fatalf("password not redacted")
	}
	if data["user"] != "bob" {
		t.Fatalf("user mangled")
	}
}

func TestSanitizeBodyNonJSON(t *testing.T) {
	s := testSanitizer()
	if out := s.Body([]byte("not-json")); out != "[redacted]" {
		t.Fatalf("expected placeholder for non-json body, got %q", out)
	}
	if out := s.Body(nil); out != "" {
		t.Fatalf("expected empty string for empty body, got %q", out)
	}
}
