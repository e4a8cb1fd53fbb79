package loki

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPushEventJSON_LabelsAndTimestamp(t *testing.T) {
	var got PushRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/loki/api/v1/push" {
			t.Errorf("path = %q, want /loki/api/v1/push", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("unmarshal push body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	event := map[string]any{
		"id":         "ev-1",
		"kind":       "session_created",
		"user_id":    "user a!", // needs sanitizing
		"summary":    "session created",
		"created_at": created.Format(time.RFC3339),
	}
	raw, _ := json.Marshal(event)

	if err := PushEventJSON(context.Background(), server.URL, raw); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}

	if len(got.Streams) != 1 {
		t.Fatalf("streams = %d, want 1", len(got.Streams))
	}
	stream := got.Streams[0]
	if stream.Stream["job"] != "threadgate" {
		t.Errorf("job = %q, want threadgate", stream.Stream["job"])
	}
	if stream.Stream["kind"] != "session_created" {
		t.Errorf("kind = %q", stream.Stream["kind"])
	}
	if stream.Stream["user_id"] != "user_a_" {
		t.Errorf("user_id = %q, want sanitized", stream.Stream["user_id"])
	}
	if len(stream.Values) != 1 {
		t.Fatalf("values = %d, want 1", len(stream.Values))
	}
}

func TestPushEventJSON_UnparseablePayloadStillPushed(t *testing.T) {
	pushed := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pushed = true
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	if err := PushEventJSON(context.Background(), server.URL, []byte("not json")); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}
	if !pushed {
		t.Error("raw line should still be pushed")
	}
}

func TestPushEvent_EmptyBaseURL(t *testing.T) {
	if err := PushEvent(context.Background(), "", time.Now(), "line", nil); err == nil {
		t.Error("empty base URL should error")
	}
}

func TestPushEvent_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer server.Close()

	if err := PushEvent(context.Background(), server.URL, time.Now(), "line", nil); err == nil {
		t.Error("non-2xx should error")
	}
}
