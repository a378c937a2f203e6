package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mqerk/academy-live-hub/internal/domain/presence"
	"github.com/mqerk/academy-live-hub/pkg/logger"
)

const testAPIKey = "internal-test-key"

// stubConn records delivered frames; the transport is irrelevant here.
type stubConn struct {
	mu     sync.Mutex
	frames [][]byte
}

func (c *stubConn) WriteText(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

func (c *stubConn) Ping() error                        { return nil }
func (c *stubConn) Close(code int, reason string) error { return nil }
func (c *stubConn) Terminate() error                   { return nil }

func (c *stubConn) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.frames...)
}

type apiFixture struct {
	server   *httptest.Server
	registry *presence.Registry
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(testAPIKey), bcrypt.MinCost)
	require.NoError(t, err)

	log := logger.New(logger.Options{Output: io.Discard, Level: logger.LevelFatal})
	registry := presence.NewRegistry()
	dispatcher := presence.NewDispatcher(registry, log)

	cfg := DefaultConfig()
	cfg.APIKeyHash = string(hash)

	srv := NewServer(cfg, Dependencies{
		Hub:        http.NotFoundHandler(),
		Dispatcher: dispatcher,
		Registry:   registry,
		Logger:     log,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &apiFixture{server: ts, registry: registry}
}

func (f *apiFixture) do(t *testing.T, method, path, key string, body string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.server.URL+path, rd)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("X-Internal-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthIsPublic(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["sessions"])
}

func TestInternalAPIRequiresKey(t *testing.T) {
	f := newAPIFixture(t)

	cases := []struct {
		name string
		key  string
		code int
	}{
		{"missing key", "", http.StatusUnauthorized},
		{"wrong key", "not-the-key", http.StatusUnauthorized},
		{"valid key", testAPIKey, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := f.do(t, http.MethodGet, "/internal/presence/online", tc.key, "")
			assert.Equal(t, tc.code, resp.StatusCode)
		})
	}
}

func TestInternalAPIDisabledWithoutHash(t *testing.T) {
	log := logger.New(logger.Options{Output: io.Discard, Level: logger.LevelFatal})
	registry := presence.NewRegistry()

	srv := NewServer(DefaultConfig(), Dependencies{
		Hub:        http.NotFoundHandler(),
		Dispatcher: presence.NewDispatcher(registry, log),
		Registry:   registry,
		Logger:     log,
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/internal/presence/online", nil)
	require.NoError(t, err)
	req.Header.Set("X-Internal-Key", testAPIKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestNotifyStudentDeliversToAllTabs(t *testing.T) {
	f := newAPIFixture(t)

	tab1, tab2 := &stubConn{}, &stubConn{}
	f.registry.AddStudent(42, presence.NewStudentSession(42, 100, tab1))
	f.registry.AddStudent(42, presence.NewStudentSession(42, 100, tab2))

	resp := f.do(t, http.MethodPost, "/internal/notify/students/42", testAPIKey,
		`{"type":"task-graded","task_id":7,"grade":95}`)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["delivered"])

	for _, tab := range []*stubConn{tab1, tab2} {
		frames := tab.received()
		require.Len(t, frames, 1)
		assert.JSONEq(t, `{"type":"task-graded","task_id":7,"grade":95}`, string(frames[0]))
	}
}

func TestNotifyOfflineStudentIsAcceptedButUndelivered(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/internal/notify/students/99", testAPIKey,
		`{"type":"task-graded"}`)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, false, decodeBody(t, resp)["delivered"])
}

func TestNotifyPayloadValidation(t *testing.T) {
	f := newAPIFixture(t)

	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `{"type":`},
		{"not an object", `["type"]`},
		{"missing type", `{"task_id":7}`},
		{"empty type", `{"type":""}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, "/internal/notify/students/42", testAPIKey, tc.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestNotifyPayloadSizeLimit(t *testing.T) {
	f := newAPIFixture(t)

	huge := `{"type":"bulk","data":"` + strings.Repeat("x", 70*1024) + `"}`
	resp := f.do(t, http.MethodPost, "/internal/notify/students/42", testAPIKey, huge)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestNotifyStaffRole(t *testing.T) {
	f := newAPIFixture(t)

	advisor := &stubConn{}
	admin := &stubConn{}
	f.registry.AddStaff(presence.NewStaffSession(7, presence.StaffAdvisor, advisor))
	f.registry.AddStaff(presence.NewStaffSession(9, presence.StaffAdmin, admin))

	resp := f.do(t, http.MethodPost, "/internal/notify/staff/advisor", testAPIKey,
		`{"type":"new-ticket"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	assert.Len(t, advisor.received(), 1)
	assert.Empty(t, admin.received())
}

func TestNotifyStaffRoleRejectsUnknownRole(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/internal/notify/staff/janitor", testAPIKey,
		`{"type":"new-ticket"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNotifyStaffUserWithRoleFilter(t *testing.T) {
	f := newAPIFixture(t)

	target := &stubConn{}
	other := &stubConn{}
	f.registry.AddStaff(presence.NewStaffSession(7, presence.StaffAdvisor, target))
	f.registry.AddStaff(presence.NewStaffSession(8, presence.StaffAdvisor, other))

	resp := f.do(t, http.MethodPost, "/internal/notify/users/7?role=advisor", testAPIKey,
		`{"type":"assignment-updated"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, true, decodeBody(t, resp)["delivered"])

	assert.Len(t, target.received(), 1)
	assert.Empty(t, other.received())
}

func TestNotifyAllStaff(t *testing.T) {
	f := newAPIFixture(t)

	advisor := &stubConn{}
	admin := &stubConn{}
	f.registry.AddStaff(presence.NewStaffSession(7, presence.StaffAdvisor, advisor))
	f.registry.AddStaff(presence.NewStaffSession(9, presence.StaffAdmin, admin))

	resp := f.do(t, http.MethodPost, "/internal/notify/staff", testAPIKey,
		`{"type":"maintenance-window"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.EqualValues(t, 2, decodeBody(t, resp)["recipients"])

	assert.Len(t, advisor.received(), 1)
	assert.Len(t, admin.received(), 1)
}

func TestBroadcastStudents(t *testing.T) {
	f := newAPIFixture(t)

	a, b := &stubConn{}, &stubConn{}
	f.registry.AddStudent(42, presence.NewStudentSession(42, 100, a))
	f.registry.AddStudent(43, presence.NewStudentSession(43, 101, b))

	resp := f.do(t, http.MethodPost, "/internal/notify/students", testAPIKey,
		`{"type":"announcement","text":"exam moved"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.EqualValues(t, 2, decodeBody(t, resp)["recipients"])

	assert.Len(t, a.received(), 1)
	assert.Len(t, b.received(), 1)
}

func TestOnlineSnapshot(t *testing.T) {
	f := newAPIFixture(t)

	f.registry.AddStudent(42, presence.NewStudentSession(42, 100, &stubConn{}))
	f.registry.AddStaff(presence.NewStaffSession(7, presence.StaffAdvisor, &stubConn{}))

	resp := f.do(t, http.MethodGet, "/internal/presence/online", testAPIKey, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var raw bytes.Buffer
	_, err := raw.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"student_ids":[42],"staff_user_ids":[7]}`, raw.String())
}

func TestOnlineSnapshotEmptyArraysNotNull(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodGet, "/internal/presence/online", testAPIKey, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var raw bytes.Buffer
	_, err := raw.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"student_ids":[],"staff_user_ids":[]}`, raw.String())
}

func TestStudentPresenceQuery(t *testing.T) {
	f := newAPIFixture(t)
	f.registry.AddStudent(42, presence.NewStudentSession(42, 100, &stubConn{}))

	resp := f.do(t, http.MethodGet, "/internal/presence/students/42", testAPIKey, "")
	assert.Equal(t, true, decodeBody(t, resp)["online"])

	resp = f.do(t, http.MethodGet, "/internal/presence/students/99", testAPIKey, "")
	assert.Equal(t, false, decodeBody(t, resp)["online"])
}

func TestStaffPresenceQuery(t *testing.T) {
	f := newAPIFixture(t)
	f.registry.AddStaff(presence.NewStaffSession(7, presence.StaffAdvisor, &stubConn{}))

	resp := f.do(t, http.MethodGet, "/internal/presence/staff/advisor", testAPIKey, "")
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["online"])

	resp = f.do(t, http.MethodGet, "/internal/presence/staff/advisor?user_id=7", testAPIKey, "")
	body = decodeBody(t, resp)
	assert.Equal(t, true, body["user_online"])

	resp = f.do(t, http.MethodGet, "/internal/presence/staff/advisor?user_id=8", testAPIKey, "")
	body = decodeBody(t, resp)
	assert.Equal(t, true, body["online"])
	assert.Equal(t, false, body["user_online"])

	resp = f.do(t, http.MethodGet, "/internal/presence/staff/admin", testAPIKey, "")
	assert.Equal(t, false, decodeBody(t, resp)["online"])
}
