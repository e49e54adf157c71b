package monitor

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestOperationStatus_Terminal(t *testing.T) {
	terminal := map[OperationStatus]bool{
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	}
	for _, s := range AllStatuses {
		if got := s.IsTerminal(); got != terminal[s] {
			t.Errorf("%s.IsTerminal() = %v, want %v", s, got, terminal[s])
		}
		parsed, err := ParseOperationStatus(strings.ToUpper(s.String()))
		if err != nil || parsed != s {
			t.Errorf("ParseOperationStatus(%q) = %v, %v", s.String(), parsed, err)
		}
	}
}

func TestOperationStatus_Invalid(t *testing.T) {
	bad := OperationStatus(99)
	if bad.Valid() {
		t.Error("Valid() = true for out-of-range status")
	}
	if _, err := json.Marshal(bad); err == nil {
		t.Error("expected marshal error for invalid status")
	}
	if _, err := ParseOperationStatus("paused"); err == nil {
		t.Error("expected parse error for unknown name")
	}
}

func TestProgressUpdate_JSON(t *testing.T) {
	u := ProgressUpdate{
		OperationID: "op",
		Status:      StatusStreaming,
		Progress:    40,
		Metadata:    Metadata{"model": String("llama3"), "temperature": Number(0.7), "stream": Bool(true)},
	}
	data, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["status"] != "streaming" {
		t.Errorf("status = %v, want streaming", decoded["status"])
	}
	if decoded["estimated_remaining"] != nil {
		t.Errorf("estimated_remaining = %v, want null", decoded["estimated_remaining"])
	}
	md := decoded["metadata"].(map[string]any)
	if md["temperature"] != 0.7 || md["stream"] != true || md["model"] != "llama3" {
		t.Errorf("metadata = %v", md)
	}

	var back ProgressUpdate
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if back.Status != StatusStreaming {
		t.Errorf("decoded status = %s", back.Status)
	}
	if n, ok := back.Metadata["temperature"].Num(); !ok || n != 0.7 {
		t.Errorf("decoded temperature = %v, %v", n, ok)
	}
}

func TestValueOf(t *testing.T) {
	tests := []struct {
		in   any
		kind ValueKind
		text string
	}{
		{"hello", KindString, "hello"},
		{42, KindNumber, "42"},
		{int64(7), KindNumber, "7"},
		{1.5, KindNumber, "1.5"},
		{true, KindBool, "true"},
		{[]int{1, 2}, KindString, "[1 2]"},
		{nil, KindString, ""},
	}
	for _, tt := range tests {
		v := ValueOf(tt.in)
		if v.Kind() != tt.kind || v.String() != tt.text {
			t.Errorf("ValueOf(%v) = %s %q, want %s %q", tt.in, v.Kind(), v.String(), tt.kind, tt.text)
		}
	}
}

func TestMetadataFrom(t *testing.T) {
	if got := MetadataFrom(nil); got != nil {
		t.Errorf("MetadataFrom(nil) = %v, want nil", got)
	}

	md := MetadataFrom(map[string]any{"crew_id": "crew-1", "round": 3, "ok": true})
	if s, ok := md["crew_id"].Str(); !ok || s != "crew-1" {
		t.Errorf("crew_id = %v", md["crew_id"])
	}
	if n, ok := md["round"].Num(); !ok || n != 3 {
		t.Errorf("round = %v", md["round"])
	}
	if b, ok := md["ok"].BoolValue(); !ok || !b {
		t.Errorf("ok = %v", md["ok"])
	}
}

func TestMetadata_MergeAndClone(t *testing.T) {
	base := Metadata{"a": String("1"), "b": Int(2)}
	clone := base.Clone()
	base.Merge(Metadata{"b": Bool(true), "c": Number(3)})

	if len(base) != 3 {
		t.Fatalf("merged length = %d, want 3", len(base))
	}
	if v, ok := base["b"].BoolValue(); !ok || !v {
		t.Errorf("b = %v, want true", base["b"])
	}
	if n, _ := clone["b"].Num(); n != 2 {
		t.Errorf("clone changed by merge: b = %v", clone["b"])
	}
	if got := strings.Join(base.Keys(), ","); got != "a,b,c" {
		t.Errorf("Keys() = %s", got)
	}
}
