package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rest-ntc/membership/internal/email"
	"github.com/rest-ntc/membership/internal/membership/handler"
	"github.com/rest-ntc/membership/internal/otp"
	"github.com/rest-ntc/membership/internal/soapgw"
	"go.uber.org/zap"
)

// ── Stubs ────────────────────────────────────────────────────────────────

type stubChallengeStore struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]*otp.Challenge
}

func newStubChallengeStore() *stubChallengeStore {
	return &stubChallengeStore{rows: make(map[uuid.UUID]*otp.Challenge)}
}

func (s *stubChallengeStore) Put(_ context.Context, recipient string, kind otp.ChannelKind, secret string, ttl time.Duration) (*otp.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.rows {
		if ch.Recipient == recipient && ch.Channel == kind {
			delete(s.rows, id)
		}
	}
	now := time.Now().UTC()
	ch := &otp.Challenge{
		ID:        uuid.New(),
		Recipient: recipient,
		Channel:   kind,
		Secret:    secret,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	cp := *ch
	s.rows[ch.ID] = &cp
	return ch, nil
}

func (s *stubChallengeStore) GetBySecret(_ context.Context, secret string, kind otp.ChannelKind) (*otp.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.rows {
		if ch.Secret == secret && ch.Channel == kind {
			cp := *ch
			return &cp, nil
		}
	}
	return nil, otp.ErrChallengeNotFound
}

func (s *stubChallengeStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

func (s *stubChallengeStore) DeleteExpired(_ context.Context) (int64, error) { return 0, nil }

type stubGateway struct {
	generateRes soapgw.Result
	generateErr error
	validateRes soapgw.Result
	validateErr error
}

func (g *stubGateway) GenerateAuthPassword(_ context.Context, _ string) (soapgw.Result, error) {
	return g.generateRes, g.generateErr
}

func (g *stubGateway) ValidateOTP(_ context.Context, _, _, _ string) (soapgw.Result, error) {
	return g.validateRes, g.validateErr
}

type stubSender struct {
	mu   sync.Mutex
	sent []email.Message
}

func (s *stubSender) Send(_ context.Context, msg email.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

type stubPinger struct{ err error }

func (p *stubPinger) Ping(_ context.Context) error { return p.err }

// ── Helpers ──────────────────────────────────────────────────────────────

func setupOTPRouter(t *testing.T, gw *stubGateway, mode otp.FallbackMode, pinger handler.GatewayPinger) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	signer := otp.NewTokenSigner("handler-test-secret", 0)
	sms := otp.NewSMSChannel(gw, signer, zap.NewNop())
	em := otp.NewEmailChannel(&stubSender{}, zap.NewNop())
	var mock *otp.MockChannel
	if mode == otp.FallbackMock {
		mock = otp.NewMockChannel(signer, "", zap.NewNop())
	}
	orch, err := otp.NewOrchestrator(sms, em, mock, mode, "test", zap.NewNop())
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	svc := otp.NewService(newStubChallengeStore(), orch, 0, zap.NewNop())

	r := gin.New()
	h := handler.NewOTPHandler(svc, pinger, mode, zap.NewNop())
	h.Register(r.Group("/api/v1"))
	return r
}

func postJSON(t *testing.T, router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func healthyGateway() *stubGateway {
	return &stubGateway{
		generateRes: soapgw.Result{Code: "00", TransactionID: "T1"},
		validateRes: soapgw.Result{Code: "0"},
	}
}

// ── /otp/send ────────────────────────────────────────────────────────────

func TestSend_200_sms(t *testing.T) {
	router := setupOTPRouter(t, healthyGateway(), otp.FallbackOff, nil)

	w := postJSON(t, router, "/api/v1/otp/send", `{"identifier":"9841000000","delivery_method":"sms"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["token"] == "" || resp["token"] == nil {
		t.Error("expected a token in the response")
	}
	if resp["delivery_method"] != "sms" {
		t.Errorf("delivery_method: got %v", resp["delivery_method"])
	}
}

func TestSend_400_badMethod(t *testing.T) {
	router := setupOTPRouter(t, healthyGateway(), otp.FallbackOff, nil)

	w := postJSON(t, router, "/api/v1/otp/send", `{"identifier":"9841000000","delivery_method":"pigeon"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestSend_400_missingIdentifier(t *testing.T) {
	router := setupOTPRouter(t, healthyGateway(), otp.FallbackOff, nil)

	w := postJSON(t, router, "/api/v1/otp/send", `{"delivery_method":"sms"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestSend_503_gatewayDown(t *testing.T) {
	gw := &stubGateway{generateErr: errors.New("dial tcp: i/o timeout")}
	router := setupOTPRouter(t, gw, otp.FallbackOff, nil)

	w := postJSON(t, router, "/api/v1/otp/send", `{"identifier":"9841000000","delivery_method":"sms"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSend_503_withSuggestedFallback(t *testing.T) {
	gw := &stubGateway{generateErr: errors.New("dial tcp: i/o timeout")}
	router := setupOTPRouter(t, gw, otp.FallbackSuggest, nil)

	w := postJSON(t, router, "/api/v1/otp/send", `{"identifier":"9841000000","delivery_method":"sms"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["suggested_fallback"] != "email" {
		t.Errorf("suggested_fallback: got %v", resp["suggested_fallback"])
	}
}

func TestSend_502_gatewayDeclined(t *testing.T) {
	gw := healthyGateway()
	gw.generateRes = soapgw.Result{Code: "13"}
	router := setupOTPRouter(t, gw, otp.FallbackOff, nil)

	w := postJSON(t, router, "/api/v1/otp/send", `{"identifier":"9841000000","delivery_method":"sms"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", w.Code, w.Body.String())
	}
}

// ── /otp/verify ──────────────────────────────────────────────────────────

func TestVerify_200_afterSend(t *testing.T) {
	router := setupOTPRouter(t, healthyGateway(), otp.FallbackOff, nil)

	w := postJSON(t, router, "/api/v1/otp/send", `{"identifier":"9841000000","delivery_method":"sms"}`)
	var sent map[string]any
	json.Unmarshal(w.Body.Bytes(), &sent)
	token := sent["token"].(string)

	w2 := postJSON(t, router, "/api/v1/otp/verify",
		`{"token":"`+token+`","otp":"654321","delivery_method":"sms"}`)
	if w2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w2.Code, w2.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w2.Body.Bytes(), &resp)
	if resp["identifier"] != "9841000000" {
		t.Errorf("identifier: got %v", resp["identifier"])
	}
}

func TestVerify_404_unknownToken(t *testing.T) {
	router := setupOTPRouter(t, healthyGateway(), otp.FallbackOff, nil)

	w := postJSON(t, router, "/api/v1/otp/verify",
		`{"token":"no-such-token","otp":"123456","delivery_method":"sms"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestVerify_400_wrongCode(t *testing.T) {
	gw := healthyGateway()
	gw.validateRes = soapgw.Result{Code: "7"}
	router := setupOTPRouter(t, gw, otp.FallbackOff, nil)

	w := postJSON(t, router, "/api/v1/otp/send", `{"identifier":"9841000000","delivery_method":"sms"}`)
	var sent map[string]any
	json.Unmarshal(w.Body.Bytes(), &sent)
	token := sent["token"].(string)

	w2 := postJSON(t, router, "/api/v1/otp/verify",
		`{"token":"`+token+`","otp":"000000","delivery_method":"sms"}`)
	if w2.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w2.Code, w2.Body.String())
	}

	// A second attempt finds nothing: the challenge was consumed.
	w3 := postJSON(t, router, "/api/v1/otp/verify",
		`{"token":"`+token+`","otp":"654321","delivery_method":"sms"}`)
	if w3.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on retry, got %d", w3.Code)
	}
}

// ── /otp/status ──────────────────────────────────────────────────────────

func TestStatus_gatewayHealthy(t *testing.T) {
	router := setupOTPRouter(t, healthyGateway(), otp.FallbackOff, &stubPinger{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/otp/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		SMS struct {
			Available bool `json:"available"`
		} `json:"sms"`
		Email struct {
			Available bool `json:"available"`
		} `json:"email"`
		FallbackMode string `json:"fallback_mode"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.SMS.Available {
		t.Error("expected sms available")
	}
	if !resp.Email.Available {
		t.Error("expected email available")
	}
	if resp.FallbackMode != "off" {
		t.Errorf("fallback_mode: got %q", resp.FallbackMode)
	}
}

func TestStatus_gatewayDown(t *testing.T) {
	router := setupOTPRouter(t, healthyGateway(), otp.FallbackSuggest, &stubPinger{err: errors.New("connection refused")})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/otp/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp struct {
		SMS struct {
			Available bool `json:"available"`
		} `json:"sms"`
		FallbackMode string `json:"fallback_mode"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.SMS.Available {
		t.Error("expected sms unavailable")
	}
	if resp.FallbackMode != "suggest" {
		t.Errorf("fallback_mode: got %q", resp.FallbackMode)
	}
}

func TestStatus_noGatewayConfigured(t *testing.T) {
	router := setupOTPRouter(t, healthyGateway(), otp.FallbackOff, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/otp/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp struct {
		SMS struct {
			Available bool   `json:"available"`
			Message   string `json:"message"`
		} `json:"sms"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.SMS.Available {
		t.Error("sms must be unavailable without a gateway")
	}
	if !strings.Contains(resp.SMS.Message, "not configured") {
		t.Errorf("message: got %q", resp.SMS.Message)
	}
}
