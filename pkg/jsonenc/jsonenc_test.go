package jsonenc

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBuilder_RecordShape(t *testing.T) {
	b := New(128)
	b.BeginObject()
	b.String("tenant_id", "t1")
	b.String("device_id", "d1")
	b.RawJSON("payload", []byte(`{"temp":22}`))
	b.Int64("ts", 1700000000000)
	b.EndObject()

	expected := `{"tenant_id":"t1","device_id":"d1","payload":{"temp":22},"ts":1700000000000}`
	if got := string(b.Bytes()); got != expected {
		t.Errorf("got %s, want %s", got, expected)
	}

	// Output must be valid JSON
	var out map[string]interface{}
	if err := json.Unmarshal(b.Bytes(), &out); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
}

func TestBuilder_Escaping(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected string
	}{
		{"quotes", `say "hi"`, `{"f":"say \"hi\""}`},
		{"backslash", `a\b`, `{"f":"a\\b"}`},
		{"newline", "a\nb", `{"f":"a\nb"}`},
		{"control char", "a\x01b", `{"f":"a\u0001b"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(64)
			b.BeginObject()
			b.String("f", tt.value)
			b.EndObject()
			if got := string(b.Bytes()); got != tt.expected {
				t.Errorf("got %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestBuilder_TimeRFC3339(t *testing.T) {
	b := New(64)
	b.BeginObject()
	b.TimeRFC3339("recorded_at", time.Date(2024, 3, 7, 9, 5, 2, 0, time.UTC))
	b.EndObject()

	expected := `{"recorded_at":"2024-03-07T09:05:02Z"}`
	if got := string(b.Bytes()); got != expected {
		t.Errorf("got %s, want %s", got, expected)
	}
}

func TestBuilder_Reset(t *testing.T) {
	b := New(64)
	b.BeginObject()
	b.String("a", "1")
	b.EndObject()
	b.Reset()

	b.BeginObject()
	b.Int64("n", -42)
	b.EndObject()
	if got := string(b.Bytes()); got != `{"n":-42}` {
		t.Errorf("got %s after reset", got)
	}
}

func TestBuilder_NegativeAndZeroInts(t *testing.T) {
	b := New(64)
	b.BeginObject()
	b.Int64("zero", 0)
	b.Int64("neg", -1234567890123)
	b.EndObject()
	if got := string(b.Bytes()); got != `{"zero":0,"neg":-1234567890123}` {
		t.Errorf("got %s", got)
	}
}
