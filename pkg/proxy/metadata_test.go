package proxy

import (
	"bytes"
	"encoding/json"
	"reflect"
	"regexp"
	"testing"
)

var sessionUserIDPattern = regexp.MustCompile(`^user_acct42_account__session_[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

func decodeForCompare(t *testing.T, b []byte) map[string]any {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		t.Fatalf("decode %q: %v", b, err)
	}
	return out
}

func TestAugmentInjectsSessionUserID(t *testing.T) {
	raw := []byte(`{"model":"claude-sonnet-4","max_tokens":1024,"messages":[{"role":"user","content":"<b>hi</b> & bye"}]}`)
	view, err := InspectPayload(raw)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}

	out, injected, err := NewMetadataSynthesizer("acct42").Augment(raw, view)
	if err != nil {
		t.Fatalf("augment: %v", err)
	}
	if !injected {
		t.Fatal("expected metadata to be injected")
	}
	if bytes.Contains(out, []byte(`\u003c`)) || !bytes.Contains(out, []byte(`<b>hi</b> & bye`)) {
		t.Fatalf("html characters must not be escaped: %s", out)
	}

	got := decodeForCompare(t, out)
	meta, ok := got["metadata"].(map[string]any)
	if !ok {
		t.Fatalf("missing metadata object: %s", out)
	}
	userID, _ := meta["user_id"].(string)
	if !sessionUserIDPattern.MatchString(userID) {
		t.Fatalf("user_id %q does not match expected shape", userID)
	}
	if len(meta) != 1 {
		t.Fatalf("metadata should only carry user_id: %+v", meta)
	}

	delete(got, "metadata")
	if want := decodeForCompare(t, raw); !reflect.DeepEqual(got, want) {
		t.Fatalf("body changed beyond metadata:\n got %+v\nwant %+v", got, want)
	}
}

func TestAugmentSessionIDsDiffer(t *testing.T) {
	m := NewMetadataSynthesizer("acct42")
	a, b := m.SessionUserID(), m.SessionUserID()
	if a == b {
		t.Fatalf("expected unique session ids, got %q twice", a)
	}
}

func TestAugmentLeavesBodyAlone(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		userID string
	}{
		{name: "metadata present", body: `{"model":"m", "metadata": {"user_id":"mine"}}`, userID: "acct42"},
		{name: "no user id configured", body: `{"model":"m",  "messages":[]}`},
		{name: "malformed json", body: `{"model": "m", oops}`, userID: "acct42"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw := []byte(tc.body)
			view, _ := InspectPayload(raw)
			out, injected, err := NewMetadataSynthesizer(tc.userID).Augment(raw, view)
			if err != nil {
				t.Fatalf("augment: %v", err)
			}
			if injected {
				t.Fatal("did not expect injection")
			}
			if !bytes.Equal(out, raw) {
				t.Fatalf("expected byte-identical body, got %s", out)
			}
		})
	}
}
