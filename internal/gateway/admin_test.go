package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/flemzord/chatpilot/internal/provider"
)

func seedConversation(env *testEnv, id string) {
	env.registry.GetOrCreate(id)
	env.registry.Append(id,
		provider.Message{Role: provider.RoleUser, Content: "question"},
		provider.Message{Role: provider.RoleAssistant, Content: "answer"},
	)
}

func TestAdmin_ListConversations(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, authedConfig)
	seedConversation(env, "dm:alice")
	seedConversation(env, "group:team")

	resp := doRequest(t, http.MethodGet, env.server.URL+"/api/conversations", "admin-token")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body ConversationsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Stats.Conversations != 2 {
		t.Errorf("Conversations = %d", body.Stats.Conversations)
	}
	if len(body.IDs) != 2 || body.IDs[0] != "dm:alice" || body.IDs[1] != "group:team" {
		t.Errorf("IDs = %v, want sorted pair", body.IDs)
	}
}

func TestAdmin_ForgetConversation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, authedConfig)
	seedConversation(env, "dm:alice")

	resp := doRequest(t, http.MethodDelete, env.server.URL+"/api/conversations/dm:alice", "admin-token")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if env.registry.Len() != 0 {
		t.Error("conversation should be gone")
	}
}

func TestAdmin_ForgetUnknownConversation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, authedConfig)

	resp := doRequest(t, http.MethodDelete, env.server.URL+"/api/conversations/dm:ghost", "admin-token")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAdmin_ForgetBusyConversation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, authedConfig)
	seedConversation(env, "dm:alice")
	env.registry.SetHeldCheck(func(id string) bool { return id == "dm:alice" })

	resp := doRequest(t, http.MethodDelete, env.server.URL+"/api/conversations/dm:alice", "admin-token")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestAdmin_ReloadConfig(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, authedConfig)

	resp := doRequest(t, http.MethodPost, env.server.URL+"/api/config/reload", "admin-token")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if env.reloader.calls != 1 {
		t.Errorf("reloader calls = %d, want 1", env.reloader.calls)
	}
}

func TestAdmin_ReloadConfigFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, authedConfig)
	env.reloader.err = errors.New("parse error")

	resp := doRequest(t, http.MethodPost, env.server.URL+"/api/config/reload", "admin-token")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}

func TestAdmin_RequiresAuth(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, authedConfig)

	resp := doRequest(t, http.MethodGet, env.server.URL+"/api/conversations", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	resp = doRequest(t, http.MethodGet, env.server.URL+"/api/conversations", "wrong-token")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for bad token", resp.StatusCode)
	}
}
