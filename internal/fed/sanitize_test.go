package fed

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestSanitizeSessionList_StripsUnknownFields(t *testing.T) {
	body := []byte(`[{"name":"0","pid":42,"command":"bash","internal_secret":"x","rows":24}]`)
	clean, err := SanitizeSessionList(body, "peer1")
	if err != nil {
		t.Fatalf("SanitizeSessionList: %v", err)
	}
	var entries []map[string]any
	if err := json.Unmarshal(clean, &entries); err != nil {
		t.Fatalf("unmarshal sanitized: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if _, leaked := e["internal_secret"]; leaked {
		t.Error("unknown field survived sanitization")
	}
	if e["name"] != "0" || e["command"] != "bash" {
		t.Errorf("allowed fields mangled: %+v", e)
	}
	if e["server"] != "peer1" {
		t.Errorf("server = %v, want stamped hostname peer1", e["server"])
	}
}

func TestSanitizeSessionList_RejectsBadShapes(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not array", `{"name":"0"}`},
		{"missing name", `[{"pid":1}]`},
		{"invalid name", `[{"name":"has space"}]`},
		{"non-string name", `[{"name":7}]`},
	}
	for _, tc := range cases {
		if _, err := SanitizeSessionList([]byte(tc.body), "p"); err == nil {
			t.Errorf("%s: accepted", tc.name)
		}
	}
}

func TestSanitizeSessionList_EnforcesEntryCap(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("[")
	for i := 0; i <= maxProxySessions; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`{"name":"s"}`)
	}
	sb.WriteString("]")
	if _, err := SanitizeSessionList([]byte(sb.String()), "p"); err == nil {
		t.Error("oversized session list accepted")
	}
}

func TestSanitizeJSON_AcceptsObjectsAndArrays(t *testing.T) {
	for _, body := range []string{`{"a":1}`, `[1,2,3]`} {
		if _, err := SanitizeJSON([]byte(body)); err != nil {
			t.Errorf("SanitizeJSON(%s) = %v", body, err)
		}
	}
}

func TestSanitizeJSON_RejectsScalarsAndGarbage(t *testing.T) {
	for _, body := range []string{`"str"`, `42`, `true`, `null`, `{broken`} {
		if _, err := SanitizeJSON([]byte(body)); err == nil {
			t.Errorf("SanitizeJSON(%s) accepted", body)
		}
	}
}

func TestSanitizeJSON_EnforcesSizeCap(t *testing.T) {
	big := `{"pad":"` + strings.Repeat("x", maxProxyBytes) + `"}`
	if _, err := SanitizeJSON([]byte(big)); err == nil {
		t.Error("oversized body accepted")
	}
}
