// Copyright (c) 2026 Kivora. All rights reserved.
// Author: dev@kivora.app

package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kivora/crm/internal/platform/ctxutil"
	"github.com/kivora/crm/internal/platform/sec"
)

type fakePasswordUpdater struct {
	err error
}

func (updater *fakePasswordUpdater) UpdatePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	return updater.err
}

type fakeTokenIssuer struct{}

func (fakeTokenIssuer) GenerateAccessToken(userID, email, role string, timeToLive time.Duration) (string, error) {
	return "token-" + userID, nil
}

func newLoginRequest(email, password string) *http.Request {
	body := `{"email":"` + email + `","password":"` + password + `"}`
	request := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	return request
}

func TestAwaitSession_SkipsOtherCallersSessions(t *testing.T) {
	sessions := make(chan SessionUpdate, 2)

	// The feed delivers another caller's resolution and a sign-out; neither
	// may be answered to this caller.
	sessions <- SessionUpdate{
		Identity: &RawIdentity{ID: "bob", Email: "bob@kivora.app"},
		User:     &ResolvedUser{ID: "bob", Email: "bob@kivora.app", Name: "Bob"},
	}
	sessions <- SessionUpdate{}

	request := httptest.NewRequest(http.MethodPost, "/login", nil)
	user, err := awaitSession(request, "alice@kivora.app", sessions, 100*time.Millisecond)

	require.Error(t, err)
	assert.Nil(t, user)
}

func TestAwaitSession_MatchesOwnSessionAmongOthers(t *testing.T) {
	sessions := make(chan SessionUpdate, 2)

	sessions <- SessionUpdate{
		Identity: &RawIdentity{ID: "bob", Email: "bob@kivora.app"},
		User:     &ResolvedUser{ID: "bob", Name: "Bob"},
	}
	sessions <- SessionUpdate{
		Identity: &RawIdentity{ID: "alice", Email: "Alice@kivora.app"},
		User:     &ResolvedUser{ID: "alice", Name: "Alice"},
	}

	request := httptest.NewRequest(http.MethodPost, "/login", nil)
	user, err := awaitSession(request, "alice@kivora.app", sessions, time.Second)

	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "alice", user.ID)
}

func TestLogin_ConcurrentSignInsDoNotCrossMintTokens(t *testing.T) {
	store := newFakeRecordStore()
	store.put(StorePrimary, "alice", &UserRecord{DisplayName: "Alice", Email: "alice@kivora.app"})
	store.put(StorePrimary, "bob", &UserRecord{DisplayName: "Bob", Email: "bob@kivora.app"})
	store.keyDelays["alice"] = 150 * time.Millisecond

	provider := newFakeProvider()
	provider.identities["alice@kivora.app"] = &RawIdentity{ID: "alice", Email: "alice@kivora.app"}
	provider.identities["bob@kivora.app"] = &RawIdentity{ID: "bob", Email: "bob@kivora.app"}

	manager := startManager(t, store, provider)

	handler := NewHandler(manager, &fakePasswordUpdater{}, fakeTokenIssuer{})
	handler.resolveTimeout = 500 * time.Millisecond
	router := handler.Routes()

	type loginResult struct {
		status int
		body   map[string]any
	}

	login := func(email string, delay time.Duration, results chan<- loginResult) {
		time.Sleep(delay)
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, newLoginRequest(email, "hunter2"))

		var body map[string]any
		_ = json.Unmarshal(recorder.Body.Bytes(), &body)
		results <- loginResult{status: recorder.Code, body: body}
	}

	// Alice signs in first but her store read is slow; bob lands while her
	// resolution is still in flight and his session publishes first.
	aliceResult := make(chan loginResult, 1)
	bobResult := make(chan loginResult, 1)
	go login("alice@kivora.app", 0, aliceResult)
	go login("bob@kivora.app", 30*time.Millisecond, bobResult)

	bob := <-bobResult
	require.Equal(t, http.StatusOK, bob.status)
	assert.Contains(t, recorderUserName(t, bob.body), "Bob")

	// Alice must never receive a token minted for bob's session. Her own
	// resolution was superseded, so the only acceptable outcomes are her own
	// user or a timeout.
	alice := <-aliceResult
	if alice.status == http.StatusOK {
		assert.Contains(t, recorderUserName(t, alice.body), "Alice")
	} else {
		assert.Equal(t, http.StatusServiceUnavailable, alice.status)
	}
}

// recorderUserName digs the resolved user's name out of a login response body.
func recorderUserName(t *testing.T, body map[string]any) string {
	t.Helper()

	data, ok := body["data"].(map[string]any)
	require.True(t, ok, "login response has no data envelope")
	user, ok := data["user"].(map[string]any)
	require.True(t, ok, "login response has no user")
	name, _ := user["name"].(string)
	return name
}

func TestSession_RequiresAuthentication(t *testing.T) {
	manager := startManager(t, newFakeRecordStore(), newFakeProvider())
	handler := NewHandler(manager, &fakePasswordUpdater{}, fakeTokenIssuer{})
	router := handler.Routes()

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/session", nil))

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestSession_ReadableByAuthenticatedCaller(t *testing.T) {
	manager := startManager(t, newFakeRecordStore(), newFakeProvider())
	handler := NewHandler(manager, &fakePasswordUpdater{}, fakeTokenIssuer{})
	router := handler.Routes()

	claims := &sec.AuthClaims{UserID: "u1", Email: "maya@kivora.app", Role: string(sec.RoleStaff)}
	request := httptest.NewRequest(http.MethodGet, "/session", nil)
	request = request.WithContext(ctxutil.WithAuthUser(request.Context(), claims))

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusOK, recorder.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	data, ok := body["data"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, data, "user")
	assert.Contains(t, data, "loading")
}
