package utils

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSendSSEEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	SetupSSEHeaders(rec)

	if err := SendSSEEvent(rec, rec, "message.updated", map[string]string{"id": "m1"}); err != nil {
		t.Fatalf("SendSSEEvent: %v", err)
	}
	if err := SendSSEComment(rec, rec, "ping"); err != nil {
		t.Fatalf("SendSSEComment: %v", err)
	}

	body := rec.Body.String()
	if !strings.HasPrefix(body, "event: message.updated\ndata: {\"id\":\"m1\"}\n\n") {
		t.Fatalf("unexpected event frame: %q", body)
	}
	if !strings.HasSuffix(body, ": ping\n\n") {
		t.Fatalf("missing heartbeat comment: %q", body)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content type = %s", got)
	}
	if !rec.Flushed {
		t.Fatalf("expected flush")
	}
}

func TestRespondError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, http.StatusConflict, "busy")

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"error":"busy"}` {
		t.Fatalf("body = %s", rec.Body.String())
	}
}
