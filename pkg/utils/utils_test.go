package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRespondError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, http.StatusNotFound, "message not found")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "message not found" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestRespondText(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondText(rec, http.StatusBadRequest, "Message is too long")

	if ct := rec.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if rec.Body.String() != "Message is too long" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestSendSSEData(t *testing.T) {
	rec := httptest.NewRecorder()
	SetupSSEHeaders(rec)

	if err := SendSSEData(rec, rec, []byte(`{"type":"newMessage"}`)); err != nil {
		t.Fatalf("SendSSEData: %v", err)
	}
	if err := SendSSEComment(rec, rec, "keep-alive"); err != nil {
		t.Fatalf("SendSSEComment: %v", err)
	}

	want := "data: {\"type\":\"newMessage\"}\n\n: keep-alive\n\n"
	if rec.Body.String() != want {
		t.Fatalf("unexpected stream %q", rec.Body.String())
	}
	if !rec.Flushed {
		t.Fatal("expected flush")
	}
}
