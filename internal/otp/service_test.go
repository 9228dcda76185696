package otp_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rest-ntc/membership/internal/email"
	"github.com/rest-ntc/membership/internal/otp"
	"github.com/rest-ntc/membership/internal/soapgw"
	"go.uber.org/zap"
)

// ── In-memory stub for ChallengeStore ──────────────────────────────────────

type stubChallengeStore struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]*otp.Challenge
}

func newStubStore() *stubChallengeStore {
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

// GetBySecret does not filter expired rows, unlike the Postgres store, so
// the service's own expiry check gets exercised.
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

func (s *stubChallengeStore) DeleteExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var n int64
	for id, ch := range s.rows {
		if ch.Expired(now) {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

func (s *stubChallengeStore) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// ── Stub SOAP gateway ──────────────────────────────────────────────────────

type stubGateway struct {
	mu            sync.Mutex
	generateRes   soapgw.Result
	generateErr   error
	validateRes   soapgw.Result
	validateErr   error
	generateCalls int
	validateCalls int
	lastMDN       string
	lastCode      string
	lastTrID      string
}

// GenerateAuthPassword mints a fresh transaction id per call, like the real
// gateway does.
func (g *stubGateway) GenerateAuthPassword(_ context.Context, mdn string) (soapgw.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.generateCalls++
	g.lastMDN = mdn
	res := g.generateRes
	if res.TransactionID != "" {
		res.TransactionID = fmt.Sprintf("T%d", g.generateCalls)
	}
	return res, g.generateErr
}

func (g *stubGateway) ValidateOTP(_ context.Context, mdn, code, trID string) (soapgw.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.validateCalls++
	g.lastMDN = mdn
	g.lastCode = code
	g.lastTrID = trID
	return g.validateRes, g.validateErr
}

// ── Stub email sender ──────────────────────────────────────────────────────

type stubSender struct {
	mu   sync.Mutex
	sent []email.Message
	err  error
}

func (s *stubSender) Send(_ context.Context, msg email.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

// ── Helpers ────────────────────────────────────────────────────────────────

const testSecret = "test-signing-secret"

func newTestService(t *testing.T, gw *stubGateway, sender *stubSender, mode otp.FallbackMode) (*otp.Service, *stubChallengeStore) {
	t.Helper()
	signer := otp.NewTokenSigner(testSecret, 0)
	sms := otp.NewSMSChannel(gw, signer, zap.NewNop())
	em := otp.NewEmailChannel(sender, zap.NewNop())

	var mock *otp.MockChannel
	if mode == otp.FallbackMock {
		mock = otp.NewMockChannel(signer, "", zap.NewNop())
	}
	orch, err := otp.NewOrchestrator(sms, em, mock, mode, "test", zap.NewNop())
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}

	store := newStubStore()
	return otp.NewService(store, orch, 0, zap.NewNop()), store
}

func okGateway() *stubGateway {
	return &stubGateway{
		generateRes: soapgw.Result{Code: "00", TransactionID: "T1"},
		validateRes: soapgw.Result{Code: "0"},
	}
}

// ── Issue ──────────────────────────────────────────────────────────────────

func TestIssue_smsSuccess(t *testing.T) {
	gw := okGateway()
	svc, store := newTestService(t, gw, &stubSender{}, otp.FallbackOff)

	res, err := svc.Issue(context.Background(), "9841000000", otp.ChannelSMS)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if res.Token == "" {
		t.Error("expected a non-empty token")
	}
	if res.Channel != otp.ChannelSMS {
		t.Errorf("Channel: got %q", res.Channel)
	}
	if res.Identifier != "9841000000" {
		t.Errorf("Identifier: got %q", res.Identifier)
	}
	if gw.generateCalls != 1 {
		t.Errorf("generateCalls: got %d", gw.generateCalls)
	}
	if store.count() != 1 {
		t.Errorf("stored challenges: got %d, want 1", store.count())
	}
}

func TestIssue_emailSuccess(t *testing.T) {
	sender := &stubSender{}
	svc, store := newTestService(t, okGateway(), sender, otp.FallbackOff)

	res, err := svc.Issue(context.Background(), "member@example.com", otp.ChannelEmail)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if res.Channel != otp.ChannelEmail {
		t.Errorf("Channel: got %q", res.Channel)
	}
	if len(res.Token) != 6 {
		t.Errorf("email token should be a 6-digit code, got %q", res.Token)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent emails: got %d, want 1", len(sender.sent))
	}
	if sender.sent[0].To != "member@example.com" {
		t.Errorf("To: got %q", sender.sent[0].To)
	}
	if store.count() != 1 {
		t.Errorf("stored challenges: got %d, want 1", store.count())
	}
}

func TestIssue_emptyIdentifier(t *testing.T) {
	svc, _ := newTestService(t, okGateway(), &stubSender{}, otp.FallbackOff)
	_, err := svc.Issue(context.Background(), "", otp.ChannelSMS)
	if !errors.Is(err, otp.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestIssue_gatewayDeclined(t *testing.T) {
	gw := okGateway()
	gw.generateRes = soapgw.Result{Code: "13"}
	svc, store := newTestService(t, gw, &stubSender{}, otp.FallbackOff)

	_, err := svc.Issue(context.Background(), "9841000000", otp.ChannelSMS)
	if !errors.Is(err, otp.ErrChannelRejected) {
		t.Errorf("expected ErrChannelRejected, got %v", err)
	}
	if store.count() != 0 {
		t.Error("nothing must be persisted when delivery fails")
	}
}

func TestIssue_gatewayUnreachable(t *testing.T) {
	gw := okGateway()
	gw.generateErr = errors.New("dial tcp: connection refused")
	svc, store := newTestService(t, gw, &stubSender{}, otp.FallbackOff)

	_, err := svc.Issue(context.Background(), "9841000000", otp.ChannelSMS)
	if !errors.Is(err, otp.ErrChannelUnavailable) {
		t.Errorf("expected ErrChannelUnavailable, got %v", err)
	}
	if store.count() != 0 {
		t.Error("nothing must be persisted when delivery fails")
	}
}

func TestIssue_replacesPriorChallenge(t *testing.T) {
	svc, store := newTestService(t, okGateway(), &stubSender{}, otp.FallbackOff)

	first, err := svc.Issue(context.Background(), "9841000000", otp.ChannelSMS)
	if err != nil {
		t.Fatalf("first Issue: %v", err)
	}
	second, err := svc.Issue(context.Background(), "9841000000", otp.ChannelSMS)
	if err != nil {
		t.Fatalf("second Issue: %v", err)
	}

	if store.count() != 1 {
		t.Fatalf("stored challenges: got %d, want 1 (at most one per recipient+channel)", store.count())
	}
	// The first token no longer matches any stored challenge.
	if _, err := svc.Verify(context.Background(), first.Token, "111111", otp.ChannelSMS); !errors.Is(err, otp.ErrChallengeNotFound) {
		t.Errorf("first token should be gone, got %v", err)
	}
	if second.Token == first.Token {
		t.Error("reissue must mint a distinct token")
	}
}

func TestIssue_separateChannelsCoexist(t *testing.T) {
	svc, store := newTestService(t, okGateway(), &stubSender{}, otp.FallbackOff)

	if _, err := svc.Issue(context.Background(), "member@example.com", otp.ChannelEmail); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Issue(context.Background(), "member@example.com", otp.ChannelSMS); err != nil {
		t.Fatal(err)
	}
	if store.count() != 2 {
		t.Errorf("stored challenges: got %d, want 2 (channels are independent)", store.count())
	}
}

// ── Verify ─────────────────────────────────────────────────────────────────

func TestVerify_smsSuccess(t *testing.T) {
	gw := okGateway()
	svc, store := newTestService(t, gw, &stubSender{}, otp.FallbackOff)

	res, _ := svc.Issue(context.Background(), "9841000000", otp.ChannelSMS)

	got, err := svc.Verify(context.Background(), res.Token, "654321", otp.ChannelSMS)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.Identifier != "9841000000" {
		t.Errorf("Identifier: got %q", got.Identifier)
	}
	if gw.lastTrID != "T1" {
		t.Errorf("gateway trId: got %q, want the one minted at issue", gw.lastTrID)
	}
	if gw.lastCode != "654321" {
		t.Errorf("gateway code: got %q", gw.lastCode)
	}
	if store.count() != 0 {
		t.Error("successful verify must consume the challenge")
	}
}

func TestVerify_emailSuccess(t *testing.T) {
	svc, store := newTestService(t, okGateway(), &stubSender{}, otp.FallbackOff)

	res, _ := svc.Issue(context.Background(), "member@example.com", otp.ChannelEmail)

	got, err := svc.Verify(context.Background(), res.Token, res.Token, otp.ChannelEmail)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.Identifier != "member@example.com" {
		t.Errorf("Identifier: got %q", got.Identifier)
	}
	if store.count() != 0 {
		t.Error("successful verify must consume the challenge")
	}
}

func TestVerify_wrongEmailCodeConsumesChallenge(t *testing.T) {
	svc, store := newTestService(t, okGateway(), &stubSender{}, otp.FallbackOff)

	res, _ := svc.Issue(context.Background(), "member@example.com", otp.ChannelEmail)

	_, err := svc.Verify(context.Background(), res.Token, "000000", otp.ChannelEmail)
	if !errors.Is(err, otp.ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
	if store.count() != 0 {
		t.Error("failed verify must also consume the challenge")
	}
	// Retrying with the right code no longer works.
	if _, err := svc.Verify(context.Background(), res.Token, res.Token, otp.ChannelEmail); !errors.Is(err, otp.ErrChallengeNotFound) {
		t.Errorf("expected ErrChallengeNotFound on retry, got %v", err)
	}
}

func TestVerify_gatewayRejectsConsumesChallenge(t *testing.T) {
	gw := okGateway()
	gw.validateRes = soapgw.Result{Code: "7"}
	svc, store := newTestService(t, gw, &stubSender{}, otp.FallbackOff)

	res, _ := svc.Issue(context.Background(), "9841000000", otp.ChannelSMS)

	_, err := svc.Verify(context.Background(), res.Token, "999999", otp.ChannelSMS)
	if !errors.Is(err, otp.ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
	if store.count() != 0 {
		t.Error("failed verify must consume the challenge")
	}
}

func TestVerify_unknownToken(t *testing.T) {
	gw := okGateway()
	svc, _ := newTestService(t, gw, &stubSender{}, otp.FallbackOff)

	_, err := svc.Verify(context.Background(), "no-such-token", "123456", otp.ChannelSMS)
	if !errors.Is(err, otp.ErrChallengeNotFound) {
		t.Errorf("expected ErrChallengeNotFound, got %v", err)
	}
	if gw.validateCalls != 0 {
		t.Error("gateway must not be called when no challenge matches")
	}
}

func TestVerify_channelMismatch(t *testing.T) {
	svc, _ := newTestService(t, okGateway(), &stubSender{}, otp.FallbackOff)

	res, _ := svc.Issue(context.Background(), "member@example.com", otp.ChannelEmail)

	// Presenting an email token on the SMS channel finds nothing.
	_, err := svc.Verify(context.Background(), res.Token, res.Token, otp.ChannelSMS)
	if !errors.Is(err, otp.ErrChallengeNotFound) {
		t.Errorf("expected ErrChallengeNotFound, got %v", err)
	}
}

func TestVerify_expiredChallenge(t *testing.T) {
	gw := okGateway()
	svc, store := newTestService(t, gw, &stubSender{}, otp.FallbackOff)

	res, _ := svc.Issue(context.Background(), "9841000000", otp.ChannelSMS)

	// Manually age the stored challenge past its deadline.
	store.mu.Lock()
	for _, ch := range store.rows {
		ch.ExpiresAt = time.Now().Add(-time.Minute)
	}
	store.mu.Unlock()

	_, err := svc.Verify(context.Background(), res.Token, "654321", otp.ChannelSMS)
	if !errors.Is(err, otp.ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
	if gw.validateCalls != 0 {
		t.Error("gateway must not be called for an expired challenge")
	}
	if store.count() != 0 {
		t.Error("expired challenge must be discarded on verify")
	}
}

func TestVerify_missingArguments(t *testing.T) {
	svc, _ := newTestService(t, okGateway(), &stubSender{}, otp.FallbackOff)

	if _, err := svc.Verify(context.Background(), "", "123456", otp.ChannelSMS); !errors.Is(err, otp.ErrValidation) {
		t.Errorf("empty token: expected ErrValidation, got %v", err)
	}
	if _, err := svc.Verify(context.Background(), "tok", "", otp.ChannelSMS); !errors.Is(err, otp.ErrValidation) {
		t.Errorf("empty response: expected ErrValidation, got %v", err)
	}
}

// ── Expiry sweep ───────────────────────────────────────────────────────────

func TestDeleteExpired_reapsOnlyStale(t *testing.T) {
	svc, store := newTestService(t, okGateway(), &stubSender{}, otp.FallbackOff)

	if _, err := svc.Issue(context.Background(), "9841000000", otp.ChannelSMS); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Issue(context.Background(), "member@example.com", otp.ChannelEmail); err != nil {
		t.Fatal(err)
	}

	store.mu.Lock()
	for _, ch := range store.rows {
		if ch.Channel == otp.ChannelSMS {
			ch.ExpiresAt = time.Now().Add(-time.Minute)
		}
	}
	store.mu.Unlock()

	n, err := svc.DeleteExpired(context.Background())
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("reaped: got %d, want 1", n)
	}
	if store.count() != 1 {
		t.Errorf("remaining challenges: got %d, want 1", store.count())
	}
}
