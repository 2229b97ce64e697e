package e2e

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// TestAnonymousSessionHappyPath is spec §8 S1: run_code over the legacy
// actorId/workspaceId query auth mode completes with exit code 0 and its
// result, and the task's event log records the full lifecycle.
func TestAnonymousSessionHappyPath(t *testing.T) {
	e := requireEnv(t)
	workspaceID := newWorkspaceID(t)

	sess := dialMCP(t, e.baseURL, "/mcp", fmtQuery("workspaceId", workspaceID, "actorId", "actor-s1"), "")
	result := sess.callTool(t, "run_code", map[string]any{
		"code":      "result = 1 + 1",
		"runtimeId": "inprocess",
	})

	require.False(t, result.IsError, "run_code result: %s", result.Text)
	require.Contains(t, result.Text, "status: completed")
	require.Contains(t, result.Text, `"result":2`)

	taskID := e.taskIDForWorkspace(t, workspaceID)
	names := e.eventTypes(t, taskID)
	require.Subset(t, names, []string{"task.created", "task.queued", "task.running", "task.completed"})
}

// TestApprovalApproved is spec §8 S2: a require_approval tool call blocks
// inside run_code until resolveApproval(approved) lets it complete.
func TestApprovalApproved(t *testing.T) {
	e := requireEnv(t)
	workspaceID := newWorkspaceID(t)
	srv := newAnnouncementServer(t)
	defer srv.Close()
	e.seedAdminAnnouncementTool(t, workspaceID, srv.URL)

	sess := dialMCP(t, e.baseURL, "/mcp", fmtQuery("workspaceId", workspaceID, "actorId", "actor-s2"), "")

	resultCh := make(chan toolCallResult, 1)
	go func() {
		resultCh <- sess.callTool(t, "run_code", map[string]any{
			"code":      `result = tools.admin.send_announcement(body={"channel": "general", "message": "hi"})`,
			"runtimeId": "inprocess",
		})
	}()

	taskID := e.taskIDForWorkspace(t, workspaceID)
	approvalID := e.pendingApprovalID(t, taskID)

	time.Sleep(200 * time.Millisecond)
	e.resolveApproval(t, taskID, approvalID, "approved", "")

	select {
	case result := <-resultCh:
		require.False(t, result.IsError, "run_code result: %s", result.Text)
		require.Contains(t, result.Text, "status: completed")
		require.Contains(t, result.Text, "hi")
	case <-time.After(requestTimeout):
		t.Fatal("run_code never returned after approval was granted")
	}
	require.True(t, srv.called(), "approved call never reached the upstream tool server")
}

// TestApprovalDenied is spec §8 S3: the same flow, but resolveApproval(denied)
// terminates the task as denied and the MCP result is marked isError.
func TestApprovalDenied(t *testing.T) {
	e := requireEnv(t)
	workspaceID := newWorkspaceID(t)
	srv := newAnnouncementServer(t)
	defer srv.Close()
	e.seedAdminAnnouncementTool(t, workspaceID, srv.URL)

	sess := dialMCP(t, e.baseURL, "/mcp", fmtQuery("workspaceId", workspaceID, "actorId", "actor-s3"), "")

	resultCh := make(chan toolCallResult, 1)
	go func() {
		resultCh <- sess.callTool(t, "run_code", map[string]any{
			"code":      `result = tools.admin.send_announcement(body={"channel": "general", "message": "hi"})`,
			"runtimeId": "inprocess",
		})
	}()

	taskID := e.taskIDForWorkspace(t, workspaceID)
	approvalID := e.pendingApprovalID(t, taskID)
	e.resolveApproval(t, taskID, approvalID, "denied", "not allowed")

	select {
	case result := <-resultCh:
		require.True(t, result.IsError, "run_code result should be marked as an error: %s", result.Text)
		require.Contains(t, result.Text, "status: denied")
	case <-time.After(requestTimeout):
		t.Fatal("run_code never returned after approval was denied")
	}
	require.False(t, srv.called(), "denied call should never reach the upstream tool server")
}

// TestPKCERoundTrip is spec §8 S4: register -> authorize -> token produces a
// usable bearer access token for the session named in the resource param.
func TestPKCERoundTrip(t *testing.T) {
	e := requireEnv(t)
	workspaceID := newWorkspaceID(t)
	sessionID := "anon_session_" + uuid.NewString()
	e.seedAnonymousSession(t, workspaceID, sessionID, "anon_"+uuid.NewString())

	clientID, redirectURI := e.registerClient(t)
	verifier, challenge := newPKCEPair()

	code := e.authorize(t, clientID, redirectURI, challenge, workspaceID, sessionID)
	token := e.exchangeToken(t, clientID, redirectURI, code, verifier)

	require.NotEmpty(t, token.AccessToken)
	require.Equal(t, "Bearer", token.TokenType)
	require.Equal(t, int64(86400), token.ExpiresIn)

	sess := dialMCP(t, e.baseURL, "/mcp", fmtQuery("workspaceId", workspaceID, "sessionId", sessionID), token.AccessToken)
	result := sess.callTool(t, "run_code", map[string]any{"code": "result = 40 + 2", "runtimeId": "inprocess"})
	require.False(t, result.IsError)
	require.Contains(t, result.Text, `"result":42`)
}

// TestTokenContextMismatchRejected is spec §8 S5: a token minted for one
// session is rejected with 401 when presented against a different sessionId.
func TestTokenContextMismatchRejected(t *testing.T) {
	e := requireEnv(t)
	workspaceID := newWorkspaceID(t)
	sessionID := "anon_session_" + uuid.NewString()
	e.seedAnonymousSession(t, workspaceID, sessionID, "anon_"+uuid.NewString())

	clientID, redirectURI := e.registerClient(t)
	verifier, challenge := newPKCEPair()
	code := e.authorize(t, clientID, redirectURI, challenge, workspaceID, sessionID)
	token := e.exchangeToken(t, clientID, redirectURI, code, verifier)

	otherSession := "anon_session_" + uuid.NewString()
	resp := unauthorizedRequest(t, e.baseURL, "/mcp", fmtQuery("workspaceId", workspaceID, "sessionId", otherSession), token.AccessToken)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))
}

// TestUniqueActorsPerRegistration is spec §8 S6: three independent
// registration+authorize+token flows produce three distinct sub values, each
// prefixed anon_.
func TestUniqueActorsPerRegistration(t *testing.T) {
	e := requireEnv(t)
	subs := map[string]struct{}{}

	for i := 0; i < 3; i++ {
		workspaceID := newWorkspaceID(t)
		sessionID := "anon_session_" + uuid.NewString()
		actorID := "anon_" + uuid.NewString()
		e.seedAnonymousSession(t, workspaceID, sessionID, actorID)

		clientID, redirectURI := e.registerClient(t)
		verifier, challenge := newPKCEPair()
		code := e.authorize(t, clientID, redirectURI, challenge, workspaceID, sessionID)
		token := e.exchangeToken(t, clientID, redirectURI, code, verifier)

		sub := decodeJWTSubject(t, token.AccessToken)
		require.True(t, strings.HasPrefix(sub, "anon_"), "sub %q must be anon_-prefixed", sub)
		_, dup := subs[sub]
		require.False(t, dup, "sub %q repeated across independent registrations", sub)
		subs[sub] = struct{}{}
	}
	require.Len(t, subs, 3)
}

// --- OAuth flow helpers ---

type tokenResult struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (e *env) registerClient(t *testing.T) (clientID, redirectURI string) {
	t.Helper()
	redirectURI = "https://client.example.test/callback"
	body, err := json.Marshal(map[string]any{
		"client_name":   "e2e-client-" + uuid.NewString(),
		"redirect_uris": []string{redirectURI},
	})
	require.NoError(t, err)

	resp, err := httpClient().Post(e.baseURL+"/register", "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	require.Equal(t, http.StatusCreated, resp.StatusCode, "register: %s", raw)

	var decoded struct {
		ClientID string `json:"client_id"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	return decoded.ClientID, redirectURI
}

func (e *env) authorize(t *testing.T, clientID, redirectURI, challenge, workspaceID, sessionID string) string {
	t.Helper()
	resource := fmt.Sprintf("https://coordinator.example.test/resource?workspaceId=%s&sessionId=%s", url.QueryEscape(workspaceID), url.QueryEscape(sessionID))

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", clientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")
	q.Set("resource", resource)

	noRedirect := &http.Client{
		Timeout: requestTimeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := noRedirect.Get(e.baseURL + "/authorize?" + q.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err, "authorize redirect Location")
	code := loc.Query().Get("code")
	require.NotEmpty(t, code, "authorize redirect carried no code")
	return code
}

func (e *env) exchangeToken(t *testing.T, clientID, redirectURI, code, verifier string) tokenResult {
	t.Helper()
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", clientID)
	form.Set("redirect_uri", redirectURI)
	form.Set("code_verifier", verifier)

	resp, err := httpClient().PostForm(e.baseURL+"/token", form)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	require.Equal(t, http.StatusOK, resp.StatusCode, "token: %s", raw)

	var tok tokenResult
	require.NoError(t, json.Unmarshal(raw, &tok))
	return tok
}

func newPKCEPair() (verifier, challenge string) {
	verifier = "e2e-verifier-" + uuid.NewString() + uuid.NewString()
	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge
}

// decodeJWTSubject pulls the "sub" claim out of an RS256 JWT's payload
// segment without verifying the signature — this test already trusts the
// token because it was just minted by the coordinator it is calling.
func decodeJWTSubject(t *testing.T, token string) string {
	t.Helper()
	parts := strings.Split(token, ".")
	require.Len(t, parts, 3, "malformed JWT: %s", token)
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	var claims struct {
		Sub string `json:"sub"`
	}
	require.NoError(t, json.Unmarshal(payload, &claims))
	return claims.Sub
}

// --- task/event lookup helpers ---

// taskIDForWorkspace polls for the most recently created task in
// workspaceID. run_code's only identifier back to the caller is the
// synchronous MCP response, so each scenario uses a freshly minted
// workspace and submits exactly one task, making "most recent in this
// workspace" unambiguous.
func (e *env) taskIDForWorkspace(t *testing.T, workspaceID string) string {
	t.Helper()
	var taskID string
	require.Eventually(t, func() bool {
		ctx, cancel := ctxTimeout()
		defer cancel()
		row := e.pool.QueryRow(ctx, `
			SELECT id FROM tasks WHERE workspace_id = $1
			ORDER BY created_at DESC LIMIT 1
		`, workspaceID)
		return row.Scan(&taskID) == nil && taskID != ""
	}, requestTimeout, 250*time.Millisecond, "no task recorded in workspace %s", workspaceID)
	return taskID
}

func (e *env) eventTypes(t *testing.T, taskID string) []string {
	t.Helper()
	ctx, cancel := ctxTimeout()
	defer cancel()
	rows, err := e.pool.Query(ctx, `SELECT type FROM task_events WHERE task_id = $1 ORDER BY sequence ASC`, taskID)
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	return names
}

func ctxTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}

// --- upstream announcement server used by S2/S3 ---

// announcementServer is the upstream HTTP target the seeded OpenAPI tool
// source points at, so S2/S3 can assert whether the denied call ever
// actually reached it.
type announcementServer struct {
	*httptest.Server
	mu  sync.Mutex
	hit bool
}

func newAnnouncementServer(t *testing.T) *announcementServer {
	t.Helper()
	s := &announcementServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.hit = true
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(append([]byte(`{"ok":true,"received":`), append(body, []byte(`}`)...)...))
	}))
	return s
}

func (s *announcementServer) called() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hit
}
