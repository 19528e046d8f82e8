package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"blueballs/internal/auth"
	"blueballs/internal/billing"
	"blueballs/internal/config"
	"blueballs/internal/game"
	"blueballs/internal/notify"
	"blueballs/internal/store"

	"github.com/stripe/stripe-go/v82/webhook"
)

var testNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type fakeAuth struct{}

func (fakeAuth) SignUp(_ context.Context, email, _ string, meta auth.UserMetadata) (auth.Session, error) {
	return auth.Session{AccessToken: "tok-new", User: auth.SupabaseUser{ID: "u-new", Email: email, UserMetadata: meta}}, nil
}

func (fakeAuth) Login(_ context.Context, email, _ string) (auth.Session, error) {
	return auth.Session{AccessToken: "good", User: auth.SupabaseUser{ID: "u1", Email: email}}, nil
}

func (fakeAuth) VerifyAccessToken(_ context.Context, token string) (auth.SupabaseUser, error) {
	switch token {
	case "good":
		return auth.SupabaseUser{ID: "u1", Email: "u1@example.com"}, nil
	case "other":
		return auth.SupabaseUser{ID: "u2", Email: "u2@example.com"}, nil
	}
	return auth.SupabaseUser{}, auth.ErrRejected
}

type fakeNotes struct {
	rows []notify.Notification
}

func (f *fakeNotes) List(_ context.Context, accountID string, _ int) ([]notify.Notification, error) {
	var out []notify.Notification
	for _, n := range f.rows {
		if n.AccountID == accountID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeNotes) MarkRead(_ context.Context, accountID string, id int64) error {
	for i := range f.rows {
		if f.rows[i].ID == id && f.rows[i].AccountID == accountID {
			f.rows[i].Read = true
			return nil
		}
	}
	return notify.ErrNotFound
}

func (f *fakeNotes) MarkAllRead(_ context.Context, accountID string) (int64, error) {
	var n int64
	for i := range f.rows {
		if f.rows[i].AccountID == accountID && !f.rows[i].Read {
			f.rows[i].Read = true
			n++
		}
	}
	return n, nil
}

type fakeInbox struct {
	events   map[string]billing.Event
	testMode bool
}

func (f *fakeInbox) Enqueue(_ context.Context, ev billing.Event) (bool, error) {
	if _, ok := f.events[ev.ID]; ok {
		return false, nil
	}
	f.events[ev.ID] = ev
	return true, nil
}

func (f *fakeInbox) TestMode(context.Context) (bool, error) { return f.testMode, nil }

type harness struct {
	srv   *httptest.Server
	mem   *store.Memory
	notes *fakeNotes
	inbox *fakeInbox
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mem := store.NewMemory()
	svc := game.NewService(mem, nil, game.WithClock(func() time.Time { return testNow }), game.WithRetry(3, 0))
	for _, in := range []game.NewAccountInput{
		{AccountID: "u1", Email: "u1@example.com", Username: "ace", CountryCode: "DE"},
		{AccountID: "u2", Email: "u2@example.com", Username: "bolt", CountryCode: "US"},
	} {
		if err := svc.EnsureAccount(context.Background(), in); err != nil {
			t.Fatalf("seed %s: %v", in.AccountID, err)
		}
	}
	h := &harness{
		mem:   mem,
		notes: &fakeNotes{},
		inbox: &fakeInbox{events: map[string]billing.Event{}},
	}
	cfg := config.APIConfig{StripeWebhookSecret: "whsec_live", StripeTestWebhookSecret: "whsec_test"}
	s := New(cfg, nil, fakeAuth{}, svc, mem, h.notes, h.inbox)
	h.srv = httptest.NewServer(s.Handler())
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) do(t *testing.T, method, path, token string, body any, headers map[string]string) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestAuthRequired(t *testing.T) {
	h := newHarness(t)
	if code, _ := h.do(t, http.MethodGet, "/v1/profile", "", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("no token: status=%d", code)
	}
	if code, _ := h.do(t, http.MethodGet, "/v1/profile", "forged", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("bad token: status=%d", code)
	}
	if code, _ := h.do(t, http.MethodGet, "/healthz", "", nil, nil); code != http.StatusOK {
		t.Fatalf("healthz: status=%d", code)
	}
}

func TestSignupCreatesAccount(t *testing.T) {
	h := newHarness(t)
	code, body := h.do(t, http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"email": "new@example.com", "password": "pw", "username": "newbie", "country_code": "jp",
	}, nil)
	if code != http.StatusCreated || body["access_token"] != "tok-new" {
		t.Fatalf("signup: status=%d body=%v", code, body)
	}
	p, err := h.mem.GetProfile(context.Background(), "u-new")
	if err != nil {
		t.Fatalf("profile not created: %v", err)
	}
	if p.Username != "newbie" || p.Region != game.RegionAsia {
		t.Fatalf("unexpected profile %+v", p)
	}
}

func TestProfileAndSubmit(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(t, http.MethodGet, "/v1/profile", "good", nil, nil)
	if code != http.StatusOK {
		t.Fatalf("profile: status=%d body=%v", code, body)
	}
	if body["lives_now"].(float64) != 100 || body["next_life_at"] != nil {
		t.Fatalf("unexpected profile body %v", body)
	}

	code, body = h.do(t, http.MethodPost, "/v1/scores", "good", map[string]any{
		"score": 80, "difficulty": "easy", "points_earned": 150,
	}, map[string]string{"Idempotency-Key": "run-1"})
	if code != http.StatusOK {
		t.Fatalf("submit: status=%d body=%v", code, body)
	}
	if body["is_new_high_score"] != true || body["level_up"] != true || body["rank_up"] != false {
		t.Fatalf("unexpected flags %v", body)
	}
	profile := body["profile"].(map[string]any)
	if profile["lives"].(float64) != 99 || profile["lifetime_points"].(float64) != 150 {
		t.Fatalf("unexpected profile %v", profile)
	}

	code, _ = h.do(t, http.MethodPost, "/v1/scores", "good", map[string]any{
		"score": 80, "difficulty": "easy", "points_earned": 150,
	}, map[string]string{"Idempotency-Key": "run-1"})
	if code != http.StatusConflict {
		t.Fatalf("replay: status=%d want 409", code)
	}

	code, body = h.do(t, http.MethodGet, "/v1/runs", "good", nil, nil)
	if code != http.StatusOK || len(body["runs"].([]any)) != 1 {
		t.Fatalf("runs: status=%d body=%v", code, body)
	}
}

func TestSubmitErrors(t *testing.T) {
	h := newHarness(t)
	a, _ := h.mem.Load(context.Background(), "u1")
	a.Lives = 0
	a.LastRegenAt = testNow
	h.mem.Put(a)

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"no lives", map[string]any{"score": 1, "difficulty": "easy", "points_earned": 1}, http.StatusBadRequest},
		{"bad difficulty", map[string]any{"score": 1, "difficulty": "nightmare", "points_earned": 1}, http.StatusBadRequest},
		{"negative score", map[string]any{"score": -1, "difficulty": "hard", "points_earned": 1}, http.StatusBadRequest},
		{"unknown field", map[string]any{"score": 1, "difficulty": "hard", "lives": 99}, http.StatusBadRequest},
	}
	for _, tc := range tests {
		code, body := h.do(t, http.MethodPost, "/v1/scores", "good", tc.body, nil)
		if code != tc.want {
			t.Fatalf("%s: status=%d want %d body=%v", tc.name, code, tc.want, body)
		}
	}
	got, _ := h.mem.Load(context.Background(), "u1")
	if got.Version != a.Version || got.LifetimePoints != 0 {
		t.Fatalf("rejected submissions changed state: %+v", got)
	}
}

func TestRegenEndpoint(t *testing.T) {
	h := newHarness(t)
	a, _ := h.mem.Load(context.Background(), "u1")
	a.Lives = 2
	a.LastRegenAt = testNow.Add(-3 * time.Hour)
	h.mem.Put(a)

	code, body := h.do(t, http.MethodPost, "/v1/lives/regen", "good", nil, nil)
	if code != http.StatusOK {
		t.Fatalf("regen: status=%d body=%v", code, body)
	}
	if body["lives"].(float64) != 14 || body["lives_gained"].(float64) != 12 {
		t.Fatalf("unexpected regen body %v", body)
	}
}

func TestLeaderboardAndFriends(t *testing.T) {
	h := newHarness(t)
	h.do(t, http.MethodPost, "/v1/scores", "other", map[string]any{"score": 5, "difficulty": "hard", "points_earned": 500}, nil)

	code, body := h.do(t, http.MethodGet, "/v1/leaderboard?board=lifetime", "good", nil, nil)
	rows := body["rows"].([]any)
	if code != http.StatusOK || len(rows) != 2 || rows[0].(map[string]any)["username"] != "bolt" {
		t.Fatalf("global board: status=%d body=%v", code, body)
	}

	code, body = h.do(t, http.MethodGet, "/v1/leaderboard?scope=friends", "good", nil, nil)
	if code != http.StatusOK || len(body["rows"].([]any)) != 1 {
		t.Fatalf("friends board before follow: %v", body)
	}

	bolt, _ := h.mem.GetProfile(context.Background(), "u2")
	if code, body := h.do(t, http.MethodPost, "/v1/friends", "good", map[string]any{"invite_code": bolt.InviteCode}, nil); code != http.StatusOK {
		t.Fatalf("add friend: status=%d body=%v", code, body)
	}
	_, body = h.do(t, http.MethodGet, "/v1/leaderboard?scope=friends&region=", "good", nil, nil)
	if len(body["rows"].([]any)) != 2 {
		t.Fatalf("friends board after follow: %v", body)
	}

	if code, _ := h.do(t, http.MethodGet, "/v1/leaderboard?board=weekly", "good", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("unknown board: status=%d", code)
	}
	if code, _ := h.do(t, http.MethodDelete, "/v1/friends/NOPE0000", "good", nil, nil); code != http.StatusNotFound {
		t.Fatalf("unknown invite: status=%d", code)
	}
}

func TestNotificationsEndpoints(t *testing.T) {
	h := newHarness(t)
	h.notes.rows = []notify.Notification{
		{ID: 1, AccountID: "u1", Kind: notify.KindLevelUp, Message: "a"},
		{ID: 2, AccountID: "u1", Kind: notify.KindRankUp, Message: "b"},
		{ID: 3, AccountID: "u2", Kind: notify.KindRankUp, Message: "c"},
	}

	_, body := h.do(t, http.MethodGet, "/v1/notifications", "good", nil, nil)
	if body["unread"].(float64) != 2 {
		t.Fatalf("unexpected list %v", body)
	}
	if code, _ := h.do(t, http.MethodPost, "/v1/notifications/3/read", "good", nil, nil); code != http.StatusNotFound {
		t.Fatalf("reading someone else's notification: status=%d", code)
	}
	if code, _ := h.do(t, http.MethodPost, "/v1/notifications/1/read", "good", nil, nil); code != http.StatusOK {
		t.Fatalf("mark read: status=%d", code)
	}
	_, body = h.do(t, http.MethodPost, "/v1/notifications/read-all", "good", nil, nil)
	if body["updated"].(float64) != 1 {
		t.Fatalf("read-all updated %v", body["updated"])
	}
}

func TestBillingWebhook(t *testing.T) {
	h := newHarness(t)
	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_1","metadata":{"user_id":"u1","tier":"mid"}}}}`)

	post := func(secret string) int {
		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: secret, Timestamp: time.Now()})
		req, _ := http.NewRequest(http.MethodPost, h.srv.URL+"/v1/billing/webhook", bytes.NewReader(payload))
		req.Header.Set("Stripe-Signature", signed.Header)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := post("whsec_wrong"); code != http.StatusBadRequest {
		t.Fatalf("wrong secret: status=%d", code)
	}
	if code := post("whsec_test"); code != http.StatusBadRequest {
		t.Fatalf("test secret in live mode: status=%d", code)
	}
	if code := post("whsec_live"); code != http.StatusOK {
		t.Fatalf("live secret: status=%d", code)
	}
	if code := post("whsec_live"); code != http.StatusOK {
		t.Fatalf("redelivery: status=%d", code)
	}
	if len(h.inbox.events) != 1 || h.inbox.events["evt_1"].Type != billing.EventCheckoutCompleted {
		t.Fatalf("unexpected inbox %+v", h.inbox.events)
	}

	h.inbox.testMode = true
	if code := post("whsec_test"); code != http.StatusOK {
		t.Fatalf("test secret in test mode: status=%d", code)
	}
}
