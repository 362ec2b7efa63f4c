package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/widen0814/VDI/internal/auth"
	"github.com/widen0814/VDI/internal/config"
	"github.com/widen0814/VDI/internal/k8s"
	"github.com/widen0814/VDI/internal/ledger"
	"github.com/widen0814/VDI/internal/metrics"
	"github.com/widen0814/VDI/internal/session"
	"github.com/widen0814/VDI/internal/testutil"
)

const ns = "vdi"

// downQuerier simula um Prometheus fora do ar.
type downQuerier struct{}

func (downQuerier) Query(context.Context, string, time.Time, ...v1.Option) (model.Value, v1.Warnings, error) {
	return nil, nil, errors.New("connection refused")
}

type testServer struct {
	router *gin.Engine
	ledger *ledger.Ledger
	client *fake.Clientset
	cfg    *config.Config
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		JWTSecret:     "test-secret",
		JWTExpMinutes: 30,
		CookieName:    "vdi_session",
		AdminAuthMode: "local",
	}
	l := ledger.New(testutil.DB(t))
	client := fake.NewSimpleClientset()
	rec := k8s.NewReconciler(client, k8s.ReconcilerConfig{
		Namespace:   ns,
		NodeAddress: "10.0.0.1",
		BasePort:    30680,
	}, zap.NewNop())
	svc := session.NewService(l, rec, session.Config{
		Location: time.UTC,
		Fallback: k8s.WorkloadSpec{Image: "desktop:1", WebPort: 80, VNCPort: 5900},
	}, zap.NewNop())

	r := gin.New()
	r.Use(RequestLogger(zap.NewNop()), Recovery(zap.NewNop()))
	RegisterRoutes(r, &Env{
		Cfg:       cfg,
		Sessions:  svc,
		Inspector: rec,
		Metrics:   metrics.NewAggregator(downQuerier{}, zap.NewNop(), metrics.WithTimeout(time.Second)),
		Log:       zap.NewNop(),
	})

	return &testServer{router: r, ledger: l, client: client, cfg: cfg}
}

func (s *testServer) do(method, path string, body any, mutate func(*http.Request)) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if mutate != nil {
		mutate(req)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func (s *testServer) adminToken(t *testing.T) string {
	t.Helper()
	_, err := s.ledger.SeedAdmin(context.Background(), "root", "rootpw")
	require.NoError(t, err)

	w := s.do(http.MethodPost, "/admin/login", gin.H{"username": "root", "password": "rootpw"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Token
}

func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestLoginCreatesSessionAndSetsCookie(t *testing.T) {
	s := newTestServer(t)
	_, err := s.ledger.CreateAccount(context.Background(), "user1", "pw1")
	require.NoError(t, err)

	w := s.do(http.MethodPost, "/login", gin.H{"username": "user1", "password": "pw1"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp loginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "gui-user1", resp.Workload)
	assert.Equal(t, k8s.StatusCreated, resp.Status)
	assert.Equal(t, "/desktop", resp.URL)
	assert.Equal(t, "http://10.0.0.1:30681/", resp.DesktopURL)

	cookie := findCookie(w, "vdi_session")
	require.NotNil(t, cookie)
	assert.Equal(t, resp.Token, cookie.Value)
	assert.True(t, cookie.HttpOnly)

	_, err = s.client.CoreV1().Services(ns).Get(context.Background(), "gui-svc-user1", metav1.GetOptions{})
	require.NoError(t, err)

	acc, err := s.ledger.GetAccount(context.Background(), "user1")
	require.NoError(t, err)
	assert.True(t, acc.IsLoggedIn)

	w = s.do(http.MethodGet, "/me", nil, func(r *http.Request) { r.AddCookie(cookie) })
	require.Equal(t, http.StatusOK, w.Code)
	var me struct {
		Username string        `json:"username"`
		Role     string        `json:"role"`
		Status   session.Label `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &me))
	assert.Equal(t, "user1", me.Username)
	assert.Equal(t, auth.RoleUser, me.Role)
	assert.Equal(t, session.Offline, me.Status)

	// segundo login reaproveita o pod
	w = s.do(http.MethodPost, "/login", gin.H{"username": "user1", "password": "pw1"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, k8s.StatusExists, resp.Status)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	s := newTestServer(t)
	_, err := s.ledger.CreateAccount(context.Background(), "user1", "pw1")
	require.NoError(t, err)

	w := s.do(http.MethodPost, "/login", gin.H{"username": "user1", "password": "errada"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/login", gin.H{"username": "user1"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	pods, err := s.client.CoreV1().Pods(ns).List(context.Background(), metav1.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, pods.Items)
}

func TestDesktopRedirectAndTerminate(t *testing.T) {
	s := newTestServer(t)
	_, err := s.ledger.CreateAccount(context.Background(), "user7", "pw")
	require.NoError(t, err)

	w := s.do(http.MethodPost, "/login", gin.H{"username": "user7", "password": "pw"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	cookie := findCookie(w, "vdi_session")
	require.NotNil(t, cookie)
	withCookie := func(r *http.Request) { r.AddCookie(cookie) }

	w = s.do(http.MethodGet, "/desktop", nil, withCookie)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "http://10.0.0.1:30687/", w.Header().Get("Location"))

	w = s.do(http.MethodPost, "/terminate", nil, withCookie)
	assert.Equal(t, http.StatusOK, w.Code)

	_, err = s.client.CoreV1().Pods(ns).Get(context.Background(), "gui-user7", metav1.GetOptions{})
	assert.Error(t, err)
	acc, err := s.ledger.GetAccount(context.Background(), "user7")
	require.NoError(t, err)
	assert.False(t, acc.IsLoggedIn)
	require.NotNil(t, acc.LastLogoutAt)
}

func TestLogoutKeepsWorkload(t *testing.T) {
	s := newTestServer(t)
	_, err := s.ledger.CreateAccount(context.Background(), "user3", "pw")
	require.NoError(t, err)

	w := s.do(http.MethodPost, "/login", gin.H{"username": "user3", "password": "pw"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	cookie := findCookie(w, "vdi_session")
	require.NotNil(t, cookie)

	w = s.do(http.MethodPost, "/logout", nil, func(r *http.Request) { r.AddCookie(cookie) })
	assert.Equal(t, http.StatusOK, w.Code)
	cleared := findCookie(w, "vdi_session")
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)

	_, err = s.client.CoreV1().Pods(ns).Get(context.Background(), "gui-user3", metav1.GetOptions{})
	assert.NoError(t, err)
}

func TestDashboardDegradesWhenMetricsDown(t *testing.T) {
	s := newTestServer(t)
	token := s.adminToken(t)
	_, err := s.ledger.CreateAccount(context.Background(), "user10", "pw")
	require.NoError(t, err)
	_, err = s.ledger.CreateAccount(context.Background(), "user2", "pw")
	require.NoError(t, err)

	w := s.do(http.MethodGet, "/admin/dashboard", nil, bearer(token))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Admin    string               `json:"admin"`
		CPU      metrics.CPURollup    `json:"cpu"`
		Memory   metrics.MemoryRollup `json:"memory"`
		Accounts []session.AccountRow `json:"accounts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "root", resp.Admin)
	assert.Zero(t, resp.CPU.OverallPercent)
	assert.NotNil(t, resp.CPU.Top5)
	assert.Empty(t, resp.CPU.Top5)
	assert.Zero(t, resp.Memory.TotalGB)

	require.Len(t, resp.Accounts, 2)
	assert.Equal(t, "user2", resp.Accounts[0].Username)
	assert.Equal(t, "user10", resp.Accounts[1].Username)
	assert.Equal(t, session.Offline, resp.Accounts[0].Status)
	assert.Equal(t, session.StatusNoPriorSession, resp.Accounts[0].Recent)
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	s := newTestServer(t)
	_, err := s.ledger.CreateAccount(context.Background(), "user1", "pw1")
	require.NoError(t, err)
	userToken, _, err := auth.GenerateToken("user1", auth.RoleUser, s.cfg)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/admin/dashboard", nil, nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/admin/dashboard", nil, bearer(userToken)).Code)

	w := s.do(http.MethodPost, "/admin/login", gin.H{"username": "root", "password": "nope"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateAccount(t *testing.T) {
	s := newTestServer(t)
	token := s.adminToken(t)

	w := s.do(http.MethodPost, "/admin/accounts", gin.H{"username": "user5", "password": "pw"}, bearer(token))
	assert.Equal(t, http.StatusCreated, w.Code)

	w = s.do(http.MethodPost, "/admin/accounts", gin.H{"username": "user5", "password": "outra"}, bearer(token))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, "/admin/accounts", gin.H{"username": "User_5", "password": "pw"}, bearer(token))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/admin/accounts/check?username=user5", nil, bearer(token))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"exists":true}`, w.Body.String())

	w = s.do(http.MethodGet, "/admin/accounts/check?username=user6", nil, bearer(token))
	assert.JSONEq(t, `{"exists":false}`, w.Body.String())

	w = s.do(http.MethodGet, "/admin/accounts/check", nil, bearer(token))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChangePasswordAndDeleteAccount(t *testing.T) {
	s := newTestServer(t)
	token := s.adminToken(t)
	_, err := s.ledger.CreateAccount(context.Background(), "user4", "antiga")
	require.NoError(t, err)

	w := s.do(http.MethodPut, "/admin/accounts/user4/password", gin.H{"password": "nova"}, bearer(token))
	assert.Equal(t, http.StatusNoContent, w.Code)
	ok, err := s.ledger.Authenticate(context.Background(), "user4", "nova")
	require.NoError(t, err)
	assert.True(t, ok)

	w = s.do(http.MethodPut, "/admin/accounts/ghost/password", gin.H{"password": "x"}, bearer(token))
	assert.Equal(t, http.StatusNotFound, w.Code)

	userToken, _, err := auth.GenerateToken("user4", auth.RoleUser, s.cfg)
	require.NoError(t, err)

	w = s.do(http.MethodDelete, "/admin/accounts/user4", nil, bearer(token))
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(http.MethodDelete, "/admin/accounts/user4", nil, bearer(token))
	assert.Equal(t, http.StatusNotFound, w.Code)

	// token emitido antes da remoção deixa de valer
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/me", nil, bearer(userToken)).Code)
}

func TestInspectionRoutes(t *testing.T) {
	s := newTestServer(t)
	token := s.adminToken(t)
	_, err := s.ledger.CreateAccount(context.Background(), "user1", "pw1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/login", gin.H{"username": "user1", "password": "pw1"}, nil).Code)

	w := s.do(http.MethodGet, "/admin/accounts/user1/workload", nil, bearer(token))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "name: gui-user1")

	w = s.do(http.MethodGet, "/admin/accounts/user1/endpoint", nil, bearer(token))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "nodePort: 30681")

	w = s.do(http.MethodGet, "/admin/accounts/ghost/workload", nil, bearer(token))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/admin/accounts/user1/logs?tail=10", nil, bearer(token))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"lines":["fake logs"]}`, w.Body.String())

	w = s.do(http.MethodGet, "/admin/sessions/graph", nil, bearer(token))
	require.Equal(t, http.StatusOK, w.Code)
	var graph k8s.SessionGraph
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &graph))
	assert.Len(t, graph.Nodes, 2)
	assert.Len(t, graph.Edges, 1)
}

func TestRequestIDAndRecovery(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	w = s.do(http.MethodGet, "/healthz", nil, func(r *http.Request) { r.Header.Set(requestIDHeader, "abc-123") })
	assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))

	s.router.GET("/boom", func(*gin.Context) { panic("boom") })
	w = s.do(http.MethodGet, "/boom", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"erro interno"}`, w.Body.String())
}
