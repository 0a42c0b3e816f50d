package writer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPSink_PostsBulkDocument(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL, time.Second)
	err := sink.WriteBatch(context.Background(), "acme", [][]byte{
		[]byte(`{"v":1}`),
		[]byte(`{"v":2}`),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var doc struct {
		TenantID string            `json:"tenant_id"`
		Records  []json.RawMessage `json:"records"`
	}
	if err := json.Unmarshal(gotBody, &doc); err != nil {
		t.Fatalf("body not valid JSON: %v\n%s", err, gotBody)
	}
	if doc.TenantID != "acme" {
		t.Errorf("tenant_id = %q", doc.TenantID)
	}
	if len(doc.Records) != 2 {
		t.Fatalf("records = %d", len(doc.Records))
	}
	if string(doc.Records[1]) != `{"v":2}` {
		t.Errorf("record[1] = %s", doc.Records[1])
	}
}

func TestHTTPSink_NonSuccessIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL, time.Second)
	if err := sink.WriteBatch(context.Background(), "acme", [][]byte{[]byte("{}")}); err == nil {
		t.Error("expected error for 503 response")
	}
}

func TestHTTPSink_Unreachable(t *testing.T) {
	sink := NewHTTPSink("http://127.0.0.1:1/v1/bulk", 200*time.Millisecond)
	if err := sink.WriteBatch(context.Background(), "acme", [][]byte{[]byte("{}")}); err == nil {
		t.Error("expected error for unreachable endpoint")
	}
}
