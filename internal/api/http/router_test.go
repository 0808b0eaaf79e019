package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	nethttp "net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/workorder-service/internal/api/http/handlers"
	"github.com/spec-kit/workorder-service/internal/auth"
	"github.com/spec-kit/workorder-service/internal/blob"
	"github.com/spec-kit/workorder-service/internal/config"
	"github.com/spec-kit/workorder-service/internal/domain"
	"github.com/spec-kit/workorder-service/internal/events"
	"github.com/spec-kit/workorder-service/internal/evidence"
	"github.com/spec-kit/workorder-service/internal/expense"
	"github.com/spec-kit/workorder-service/internal/numbering"
	"github.com/spec-kit/workorder-service/internal/observability"
	"github.com/spec-kit/workorder-service/internal/repository/memory"
	"github.com/spec-kit/workorder-service/internal/service"
)

var (
	manager   = domain.Actor{ID: "mgr-1", Role: domain.ActorRoleManager}
	requester = domain.Actor{ID: "tenant-1", Role: domain.ActorRoleRequester}
	staff     = domain.Actor{ID: "staff-S", Role: domain.ActorRoleStaff}
	vendor    = domain.Actor{ID: "vendor-V", Role: domain.ActorRoleVendor}

	pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
)

type testServer struct {
	app      *fiber.App
	tokens   *auth.TokenManager
	expenses *expense.MemoryLedger
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	store := memory.New()
	dispatcher := events.NewInMemoryDispatcher(logger, nil)
	ledger := expense.NewMemoryLedger()
	service.NewExpenseService(dispatcher, ledger, logger, time.Second).RegisterHandlers()

	workOrders := service.NewWorkOrderService(service.WorkOrderDependencies{
		WorkOrderRepo:   store,
		Numbers:         numbering.NewGenerator(numbering.NewCounter(store), nil),
		Evidence:        evidence.NewKeeper(evidence.DefaultPolicy(), blob.NewMemory(), logger),
		Dispatcher:      dispatcher,
		Logger:          logger,
		ConflictRetries: 2,
	})

	reg := prometheus.NewRegistry()
	tokens := auth.NewTokenManager(config.AuthConfig{JWTSecret: "test", Issuer: "wo-test", AccessTokenTTLMinutes: 5})
	app := fiber.New()
	RegisterMiddlewares(app, logger, observability.NewMetrics(reg), 5*time.Second)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("work-order-service", "test", map[string]handlers.Pinger{"store": store}),
		WorkOrders:     handlers.NewWorkOrdersHandler(workOrders, 5<<20),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		Gatherer:       reg,
	})
	return &testServer{app: app, tokens: tokens, expenses: ledger}
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func (s *testServer) do(t *testing.T, req *nethttp.Request, actor *domain.Actor) (int, envelope) {
	t.Helper()
	if actor != nil {
		token, _, err := s.tokens.GenerateToken(*actor)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var env envelope
	if len(body) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), fiber.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(body, &env), string(body))
	}
	return resp.StatusCode, env
}

func (s *testServer) json(t *testing.T, method, path string, actor *domain.Actor, payload any) (int, envelope) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)
	return s.do(t, req, actor)
}

func (s *testServer) multipart(t *testing.T, path string, actor *domain.Actor, fields map[string]string, fileField string, files int) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for i := range files {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename="photo-%d.png"`, fileField, i))
		h.Set("Content-Type", "image/png")
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(pngBytes)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(nethttp.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return s.do(t, req, actor)
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

type workOrderView struct {
	ID           string   `json:"id"`
	Number       string   `json:"number"`
	Status       string   `json:"status"`
	AssignedTo   *string  `json:"assigned_to"`
	BeforePhotos []string `json:"before_photos"`
	AfterPhotos  []string `json:"after_photos"`
	ActualCost   *string  `json:"actual_cost"`
	Version      int64    `json:"version"`
}

func TestRoutes_WorkOrderLifecycle(t *testing.T) {
	s := newTestServer(t)

	status, env := s.json(t, nethttp.MethodPost, "/work-orders", &requester, map[string]any{
		"title": "Leaking sink", "category": "plumbing", "property_id": "prop-1", "manager_id": manager.ID,
	})
	require.Equal(t, nethttp.StatusCreated, status, env.Error)
	wo := decode[workOrderView](t, env)
	assert.Equal(t, "OPEN", wo.Status)
	assert.True(t, strings.HasPrefix(wo.Number, "WO-"))
	base := "/work-orders/" + wo.ID

	status, env = s.json(t, nethttp.MethodPost, base+"/assign", &manager, map[string]any{
		"assignee_id": vendor.ID, "assignee_type": "EXTERNAL_VENDOR",
	})
	require.Equal(t, nethttp.StatusOK, status, env.Error)
	assert.Equal(t, "ASSIGNED", decode[workOrderView](t, env).Status)

	status, env = s.json(t, nethttp.MethodPost, base+"/reassign", &manager, map[string]any{
		"assignee_id": staff.ID, "assignee_type": "INTERNAL_STAFF", "reason": "vendor unavailable",
	})
	require.Equal(t, nethttp.StatusOK, status, env.Error)
	assert.Equal(t, staff.ID, *decode[workOrderView](t, env).AssignedTo)

	status, env = s.multipart(t, base+"/start", &staff, nil, "before_photos", 1)
	require.Equal(t, nethttp.StatusOK, status, env.Error)
	started := decode[workOrderView](t, env)
	assert.Equal(t, "IN_PROGRESS", started.Status)
	assert.Len(t, started.BeforePhotos, 1)

	status, env = s.multipart(t, base+"/progress", &staff, map[string]string{
		"notes": "50% done", "estimated_completion_date": "2026-05-01T17:00:00Z",
	}, "photos", 0)
	require.Equal(t, nethttp.StatusCreated, status, env.Error)

	status, env = s.multipart(t, base+"/complete", &staff, map[string]string{
		"hours_spent": "3", "total_cost": "450", "follow_up_required": "false",
	}, "after_photos", 1)
	require.Equal(t, nethttp.StatusOK, status, env.Error)
	done := decode[workOrderView](t, env)
	assert.Equal(t, "COMPLETED", done.Status)
	assert.Len(t, done.AfterPhotos, 1)
	require.NotNil(t, done.ActualCost)
	assert.Equal(t, "450", *done.ActualCost)
	assert.Equal(t, 1, s.expenses.Len())

	status, env = s.json(t, nethttp.MethodGet, base+"/timeline", &manager, nil)
	require.Equal(t, nethttp.StatusOK, status)
	entries := decode[[]struct {
		Kind string `json:"kind"`
	}](t, env)
	require.Len(t, entries, 6)
	assert.Equal(t, "COMPLETED", entries[0].Kind)
	assert.Equal(t, "CREATED", entries[5].Kind)

	status, env = s.json(t, nethttp.MethodGet, base+"/assignments", &manager, nil)
	require.Equal(t, nethttp.StatusOK, status)
	assert.Len(t, decode[[]map[string]any](t, env), 2)

	status, env = s.json(t, nethttp.MethodGet, base+"/progress", &staff, nil)
	require.Equal(t, nethttp.StatusOK, status)
	assert.Len(t, decode[[]map[string]any](t, env), 1)

	status, env = s.json(t, nethttp.MethodGet, "/work-orders/number/"+wo.Number, &requester, nil)
	require.Equal(t, nethttp.StatusOK, status)
	assert.Equal(t, wo.ID, decode[workOrderView](t, env).ID)

	status, _ = s.json(t, nethttp.MethodGet, base+"/verify", &manager, nil)
	assert.Equal(t, nethttp.StatusOK, status)

	status, env = s.json(t, nethttp.MethodPost, base+"/close", &manager, nil)
	require.Equal(t, nethttp.StatusOK, status, env.Error)
	assert.Equal(t, "CLOSED", decode[workOrderView](t, env).Status)

	status, env = s.json(t, nethttp.MethodGet, "/work-orders?status=closed", &manager, nil)
	require.Equal(t, nethttp.StatusOK, status)
	assert.Len(t, decode[[]map[string]any](t, env), 1)
}

func TestRoutes_ErrorEnvelope(t *testing.T) {
	s := newTestServer(t)
	_, env := s.json(t, nethttp.MethodPost, "/work-orders", &requester, map[string]any{
		"title": "Broken heater", "category": "hvac", "property_id": "prop-1",
	})
	wo := decode[workOrderView](t, env)
	base := "/work-orders/" + wo.ID

	tests := []struct {
		name   string
		call   func() (int, envelope)
		status int
		code   string
	}{
		{
			name:   "missing token",
			call:   func() (int, envelope) { return s.json(t, nethttp.MethodGet, base, nil, nil) },
			status: nethttp.StatusUnauthorized,
			code:   "UNAUTHORIZED",
		},
		{
			name: "create without required fields",
			call: func() (int, envelope) {
				return s.json(t, nethttp.MethodPost, "/work-orders", &requester, map[string]any{"title": "x"})
			},
			status: nethttp.StatusBadRequest,
			code:   "VALIDATION_FAILED",
		},
		{
			name: "staff cannot assign",
			call: func() (int, envelope) {
				return s.json(t, nethttp.MethodPost, base+"/assign", &staff, map[string]any{"assignee_id": staff.ID, "assignee_type": "INTERNAL_STAFF"})
			},
			status: nethttp.StatusForbidden,
			code:   "UNAUTHORIZED",
		},
		{
			name: "bad assignee type",
			call: func() (int, envelope) {
				return s.json(t, nethttp.MethodPost, base+"/assign", &manager, map[string]any{"assignee_id": staff.ID, "assignee_type": "FRIEND"})
			},
			status: nethttp.StatusBadRequest,
			code:   "VALIDATION_FAILED",
		},
		{
			name:   "start while open",
			call:   func() (int, envelope) { return s.json(t, nethttp.MethodPost, base+"/start", &staff, nil) },
			status: nethttp.StatusConflict,
			code:   "INVALID_STATE",
		},
		{
			name: "complete without after photos",
			call: func() (int, envelope) {
				return s.multipart(t, base+"/complete", &staff, map[string]string{"total_cost": "10"}, "after_photos", 0)
			},
			status: nethttp.StatusBadRequest,
			code:   "VALIDATION_FAILED",
		},
		{
			name:   "unknown work order",
			call:   func() (int, envelope) { return s.json(t, nethttp.MethodGet, "/work-orders/nope", &manager, nil) },
			status: nethttp.StatusNotFound,
			code:   "NOT_FOUND",
		},
		{
			name:   "malformed number",
			call:   func() (int, envelope) { return s.json(t, nethttp.MethodGet, "/work-orders/number/WO-1", &manager, nil) },
			status: nethttp.StatusBadRequest,
			code:   "VALIDATION_FAILED",
		},
		{
			name:   "verify needs a manager",
			call:   func() (int, envelope) { return s.json(t, nethttp.MethodGet, base+"/verify", &staff, nil) },
			status: nethttp.StatusForbidden,
			code:   "FORBIDDEN",
		},
		{
			name:   "unknown route",
			call:   func() (int, envelope) { return s.json(t, nethttp.MethodGet, "/nowhere", nil, nil) },
			status: nethttp.StatusNotFound,
			code:   "NOT_FOUND",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := tt.call()
			assert.Equal(t, tt.status, status)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestRoutes_ValidationDetailsUseWireNames(t *testing.T) {
	s := newTestServer(t)
	status, env := s.json(t, nethttp.MethodPost, "/work-orders", &requester, map[string]any{"title": "x"})
	require.Equal(t, nethttp.StatusBadRequest, status)
	require.NotNil(t, env.Error)
	fields, ok := env.Error.Details["fields"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "required", fields["category"])
	assert.Equal(t, "required", fields["property_id"])
}

func TestRoutes_CancelByRequester(t *testing.T) {
	s := newTestServer(t)
	_, env := s.json(t, nethttp.MethodPost, "/work-orders", &requester, map[string]any{
		"title": "Squeaky door", "category": "carpentry", "property_id": "prop-1",
	})
	wo := decode[workOrderView](t, env)

	status, env := s.json(t, nethttp.MethodPost, "/work-orders/"+wo.ID+"/cancel", &requester, map[string]any{"reason": "fixed it myself"})
	require.Equal(t, nethttp.StatusOK, status, env.Error)
	assert.Equal(t, "CLOSED", decode[workOrderView](t, env).Status)

	status, env = s.json(t, nethttp.MethodPost, "/work-orders/"+wo.ID+"/cancel", &requester, nil)
	assert.Equal(t, nethttp.StatusConflict, status)
	assert.Equal(t, "INVALID_STATE", env.Error.Code)
}

func TestRoutes_HealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.json(t, nethttp.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, nethttp.StatusOK, status)
	status, _ = s.json(t, nethttp.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, nethttp.StatusOK, status)

	resp, err := s.app.Test(httptest.NewRequest(nethttp.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "workorder_http_requests_total")
}
