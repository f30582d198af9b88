package http

import (
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-sync/internal/proto"
	"github.com/vovakirdan/wirechat-sync/internal/store"
)

func TestHealthEndpoint(t *testing.T) {
	ts := startTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	ts := startTestServer(t)

	var errResp proto.ErrorResponse
	if code := ts.do(t, "", http.MethodGet, "/api/conversations", nil, &errResp); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}
	if errResp.Code != proto.CodeUnauthenticated {
		t.Fatalf("unexpected code %q", errResp.Code)
	}
	if code := ts.do(t, "garbage", http.MethodGet, "/api/conversations", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", code)
	}

	// Query parameter fallback used by WebSocket clients.
	resp, err := ts.Client().Get(ts.URL + "/api/conversations?access_token=" + url.QueryEscape(ts.token(t, "u1")))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with access_token, got %d", resp.StatusCode)
	}
}

func TestConversationLifecycle(t *testing.T) {
	ts := startTestServer(t)
	alice, bob, carol := ts.token(t, "u1"), ts.token(t, "u2"), ts.token(t, "u3")

	var errResp proto.ErrorResponse
	if code := ts.do(t, alice, http.MethodGet, "/api/conversations/lookup?a=u1&b=u2", nil, &errResp); code != http.StatusNotFound {
		t.Fatalf("expected 404 before creation, got %d", code)
	}
	if errResp.Code != proto.CodeNotFound {
		t.Fatalf("unexpected code %q", errResp.Code)
	}

	var created store.Conversation
	req := proto.CreateConversationRequest{ParticipantA: "u1", ParticipantB: "u2"}
	if code := ts.do(t, alice, http.MethodPost, "/api/conversations", req, &created); code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}

	// Same pair, other order, other participant.
	req = proto.CreateConversationRequest{ParticipantA: "u2", ParticipantB: "u1"}
	if code := ts.do(t, bob, http.MethodPost, "/api/conversations", req, &errResp); code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", code)
	}
	if errResp.Code != proto.CodeConflict {
		t.Fatalf("unexpected code %q", errResp.Code)
	}

	var found store.Conversation
	if code := ts.do(t, bob, http.MethodGet, "/api/conversations/lookup?a=u2&b=u1", nil, &found); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if found.ID != created.ID {
		t.Fatalf("expected %s, got %s", created.ID, found.ID)
	}

	if code := ts.do(t, carol, http.MethodGet, "/api/conversations/"+created.ID, nil, nil); code != http.StatusForbidden {
		t.Fatalf("expected 403 for outsider, got %d", code)
	}
	req = proto.CreateConversationRequest{ParticipantA: "u1", ParticipantB: "u1"}
	if code := ts.do(t, alice, http.MethodPost, "/api/conversations", req, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for self conversation, got %d", code)
	}

	var previews []store.ConversationPreview
	if code := ts.do(t, bob, http.MethodGet, "/api/conversations", nil, &previews); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(previews) != 1 || previews[0].Conversation.ID != created.ID {
		t.Fatalf("unexpected previews %+v", previews)
	}
}

func TestMessagesPaging(t *testing.T) {
	ts := startTestServer(t)
	alice := ts.token(t, "u1")

	var conv store.Conversation
	ts.do(t, alice, http.MethodPost, "/api/conversations", proto.CreateConversationRequest{ParticipantA: "u1", ParticipantB: "u2"}, &conv)
	path := "/api/conversations/" + conv.ID + "/messages"

	var sent []store.Message
	for _, text := range []string{"one", "two", "three"} {
		var m store.Message
		if code := ts.do(t, alice, http.MethodPost, path, proto.SendMessageRequest{SenderID: "u1", Text: text}, &m); code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", code)
		}
		sent = append(sent, m)
	}

	var page []store.Message
	if code := ts.do(t, alice, http.MethodGet, path+"?limit=2", nil, &page); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(page) != 2 || page[0].ID != sent[0].ID || page[1].ID != sent[1].ID {
		t.Fatalf("unexpected first page %+v", page)
	}

	last := page[1]
	q := url.Values{}
	q.Set("after_ts", last.CreatedAt.Format(time.RFC3339Nano))
	q.Set("after_id", last.ID)
	if code := ts.do(t, alice, http.MethodGet, path+"?"+q.Encode(), nil, &page); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(page) != 1 || page[0].ID != sent[2].ID {
		t.Fatalf("unexpected second page %+v", page)
	}

	for _, bad := range []string{"?limit=-1", "?limit=x", "?after_ts=yesterday", "?after_id=abc", "?limit=100000"} {
		if code := ts.do(t, alice, http.MethodGet, path+bad, nil, nil); code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", bad, code)
		}
	}

	if code := ts.do(t, alice, http.MethodPost, path, proto.SendMessageRequest{SenderID: "u2", Text: "spoof"}, nil); code != http.StatusForbidden {
		t.Fatalf("expected 403 for spoofed sender, got %d", code)
	}
	if code := ts.do(t, alice, http.MethodPost, path, proto.SendMessageRequest{SenderID: "u1", Text: "   "}, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank message, got %d", code)
	}
}

func TestProfiles(t *testing.T) {
	ts := startTestServer(t)
	alice := ts.token(t, "u1")

	var p store.Profile
	if code := ts.do(t, alice, http.MethodPut, "/api/profile", proto.UpsertProfileRequest{Username: "alice"}, &p); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if p.ID != "u1" || p.Username != "alice" {
		t.Fatalf("unexpected profile %+v", p)
	}

	var profiles map[string]store.Profile
	if code := ts.do(t, ts.token(t, "u2"), http.MethodGet, "/api/profiles?ids=u1,%20u9,", nil, &profiles); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(profiles) != 1 || profiles["u1"].Username != "alice" {
		t.Fatalf("unexpected profiles %+v", profiles)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := startTestServer(t)
	ts.do(t, ts.token(t, "u1"), http.MethodGet, "/api/conversations", nil, nil)

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), `wirechat_http_requests_total{method="GET",route="/api/conversations",status="200"} 1`) {
		t.Fatalf("request counter missing from metrics:\n%s", body)
	}
}

func TestContacts(t *testing.T) {
	ts := startTestServer(t)
	alice := ts.token(t, "u1")
	bob := ts.token(t, "u2")

	if code := ts.do(t, bob, http.MethodPut, "/api/profile", proto.UpsertProfileRequest{Username: "bob", Email: "bob@example.com"}, nil); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}

	var contact store.Contact
	if code := ts.do(t, alice, http.MethodPost, "/api/contacts", proto.AddContactRequest{Email: "BOB@example.com"}, &contact); code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}
	if contact.ContactID != "u2" || contact.Profile == nil || contact.Profile.Username != "bob" {
		t.Fatalf("unexpected contact %+v", contact)
	}

	var errResp proto.ErrorResponse
	if code := ts.do(t, alice, http.MethodPost, "/api/contacts", proto.AddContactRequest{Email: "ghost@example.com"}, &errResp); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
	if errResp.Code != proto.CodeNotFound {
		t.Fatalf("unexpected error code %q", errResp.Code)
	}
	if code := ts.do(t, alice, http.MethodPost, "/api/contacts", map[string]string{}, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing email, got %d", code)
	}

	var contacts []store.Contact
	if code := ts.do(t, alice, http.MethodGet, "/api/contacts", nil, &contacts); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(contacts) != 1 || contacts[0].ContactID != "u2" {
		t.Fatalf("unexpected contacts %+v", contacts)
	}

	if code := ts.do(t, alice, http.MethodDelete, "/api/contacts/u2", nil, nil); code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", code)
	}
	contacts = nil
	if code := ts.do(t, alice, http.MethodGet, "/api/contacts", nil, &contacts); code != http.StatusOK || len(contacts) != 0 {
		t.Fatalf("expected empty contacts, got %d %+v", code, contacts)
	}
}

func TestUserDirectory(t *testing.T) {
	ts := startTestServer(t)
	for id, name := range map[string]string{"u1": "carol", "u2": "alice", "u3": "bob"} {
		if code := ts.do(t, ts.token(t, id), http.MethodPut, "/api/profile", proto.UpsertProfileRequest{Username: name, Email: name + "@example.com"}, nil); code != http.StatusOK {
			t.Fatalf("expected 200, got %d", code)
		}
	}
	token := ts.token(t, "u1")

	var profiles []store.Profile
	if code := ts.do(t, token, http.MethodGet, "/api/users?limit=2", nil, &profiles); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(profiles) != 2 || profiles[0].Username != "alice" || profiles[1].Username != "bob" {
		t.Fatalf("unexpected directory %+v", profiles)
	}
	if code := ts.do(t, token, http.MethodGet, "/api/users?limit=-1", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}

	var p store.Profile
	if code := ts.do(t, token, http.MethodGet, "/api/users/lookup?email="+url.QueryEscape("Bob@Example.com"), nil, &p); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if p.ID != "u3" {
		t.Fatalf("unexpected lookup result %+v", p)
	}
	if code := ts.do(t, token, http.MethodGet, "/api/users/lookup?email=", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}
