package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"blueballs/internal/auth"
	"blueballs/internal/billing"
	"blueballs/internal/config"
	"blueballs/internal/game"
	"blueballs/internal/notify"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const maxWebhookBytes = 64 << 10

type contextKey string

const userContextKey contextKey = "user"

type UserContext struct {
	UserID string
	Email  string
	Token  string
}

type Authenticator interface {
	SignUp(ctx context.Context, email, password string, meta auth.UserMetadata) (auth.Session, error)
	Login(ctx context.Context, email, password string) (auth.Session, error)
	VerifyAccessToken(ctx context.Context, accessToken string) (auth.SupabaseUser, error)
}

type Notifications interface {
	List(ctx context.Context, accountID string, limit int) ([]notify.Notification, error)
	MarkRead(ctx context.Context, accountID string, id int64) error
	MarkAllRead(ctx context.Context, accountID string) (int64, error)
}

type BillingInbox interface {
	Enqueue(ctx context.Context, ev billing.Event) (bool, error)
	TestMode(ctx context.Context) (bool, error)
}

type Server struct {
	cfg       config.APIConfig
	log       *slog.Logger
	auth      Authenticator
	game      *game.Service
	directory game.Directory
	notes     Notifications
	inbox     BillingInbox
	mux       *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, authClient Authenticator, gameSvc *game.Service, directory game.Directory, notes Notifications, inbox BillingInbox) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		log:       logger,
		auth:      authClient,
		game:      gameSvc,
		directory: directory,
		notes:     notes,
		inbox:     inbox,
		mux:       chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/signup", s.handleSignup)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/billing/webhook", s.handleBillingWebhook)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/profile", s.handleProfile)
			r.Post("/lives/regen", s.handleRegenLives)
			r.Post("/scores", s.handleSubmitScore)
			r.Get("/runs", s.handleRuns)

			r.Get("/leaderboard", s.handleLeaderboard)
			r.Post("/friends", s.handleFriendAdd)
			r.Delete("/friends/{invite_code}", s.handleFriendDelete)

			r.Get("/notifications", s.handleNotifications)
			r.Post("/notifications/read-all", s.handleNotificationsReadAll)
			r.Post("/notifications/{id}/read", s.handleNotificationRead)
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, err := s.auth.VerifyAccessToken(r.Context(), token)
		if err != nil {
			if !errors.Is(err, auth.ErrRejected) {
				s.log.Warn("token verification failed", "err", err)
			}
			writeError(w, http.StatusUnauthorized, fmt.Sprintf("invalid token: %v", err))
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, UserContext{
			UserID: user.ID,
			Email:  user.Email,
			Token:  token,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) (UserContext, error) {
	v := ctx.Value(userContextKey)
	user, ok := v.(UserContext)
	if !ok || user.UserID == "" {
		return UserContext{}, fmt.Errorf("%w: missing auth context", game.ErrUnauthorized)
	}
	return user, nil
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		Username    string `json:"username"`
		CountryCode string `json:"country_code"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	meta := auth.UserMetadata{
		Username:    strings.TrimSpace(in.Username),
		CountryCode: strings.ToUpper(strings.TrimSpace(in.CountryCode)),
	}
	session, err := s.auth.SignUp(r.Context(), strings.TrimSpace(in.Email), strings.TrimSpace(in.Password), meta)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if session.User.ID != "" {
		if err := s.game.EnsureAccount(r.Context(), game.NewAccountInput{
			AccountID:   session.User.ID,
			Email:       session.User.Email,
			Username:    meta.Username,
			CountryCode: meta.CountryCode,
		}); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.auth.Login(r.Context(), strings.TrimSpace(in.Email), strings.TrimSpace(in.Password))
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err := s.game.EnsureAccount(r.Context(), game.NewAccountInput{
		AccountID:   session.User.ID,
		Email:       session.User.Email,
		Username:    session.User.UserMetadata.Username,
		CountryCode: session.User.UserMetadata.CountryCode,
	}); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	profile, err := s.directory.GetProfile(r.Context(), user.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	view, err := s.game.Progress(r.Context(), user.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profile":      profile,
		"progression":  view.Account,
		"lives_now":    view.LivesNow,
		"next_life_at": nullableTime(view.NextLifeAt),
	})
}

func (s *Server) handleRegenLives(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out, err := s.game.RegenerateLives(r.Context(), user.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"lives":        out.Account.Lives,
		"max_lives":    out.Account.MaxLives,
		"lives_gained": out.LivesGained,
		"next_life_at": nullableTime(out.NextLifeAt),
		"profile":      out.Account,
	})
}

func (s *Server) handleSubmitScore(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var in struct {
		Score        int64  `json:"score"`
		Difficulty   string `json:"difficulty"`
		PointsEarned int64  `json:"points_earned"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.game.SubmitScore(r.Context(), game.SubmitInput{
		AccountID:      user.UserID,
		Score:          in.Score,
		Difficulty:     game.Difficulty(in.Difficulty),
		PointsEarned:   in.PointsEarned,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"profile":           result.Account,
		"run":               result.Run,
		"is_new_high_score": result.Flags.IsNewHighScore,
		"level_up":          result.Flags.LevelUp,
		"rank_up":           result.Flags.RankUp,
		"lives_gained":      result.LivesGained,
		"next_life_at":      nullableTime(result.NextLifeAt),
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	limit, err := queryLimit(r, 20, 100)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	runs, err := s.directory.RecentRuns(r.Context(), user.UserID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	q := r.URL.Query()
	board, err := game.ParseBoard(q.Get("board"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	region, err := game.ParseRegion(q.Get("region"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	limit, err := queryLimit(r, 100, 500)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	query := game.LeaderboardQuery{Board: board, Region: region, Limit: limit}
	switch strings.ToLower(strings.TrimSpace(q.Get("scope"))) {
	case "", "global":
	case "friends":
		query.FriendsOf = user.UserID
	default:
		writeError(w, http.StatusBadRequest, "scope must be global or friends")
		return
	}
	rows, err := s.directory.Leaderboard(r.Context(), query)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"board": board, "region": region, "rows": rows})
}

func (s *Server) handleFriendAdd(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var in struct {
		InviteCode string `json:"invite_code"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.directory.AddFriend(r.Context(), user.UserID, in.InviteCode); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleFriendDelete(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.directory.RemoveFriend(r.Context(), user.UserID, chi.URLParam(r, "invite_code")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	limit, err := queryLimit(r, 50, 100)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out, err := s.notes.List(r.Context(), user.UserID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	unread := 0
	for _, n := range out {
		if !n.Read {
			unread++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": out, "unread": unread})
}

func (s *Server) handleNotificationRead(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid notification id")
		return
	}
	if err := s.notes.MarkRead(r.Context(), user.UserID, id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleNotificationsReadAll(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	n, err := s.notes.MarkAllRead(r.Context(), user.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "updated": n})
}

func (s *Server) handleBillingWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		writeError(w, http.StatusBadRequest, "no signature")
		return
	}
	testMode := s.cfg.StripeTestMode
	if !testMode {
		if testMode, err = s.inbox.TestMode(r.Context()); err != nil {
			s.log.Error("billing test mode lookup failed", "err", err)
			writeError(w, http.StatusInternalServerError, "webhook handler failed")
			return
		}
	}
	secrets := billing.Secrets{Live: s.cfg.StripeWebhookSecret, Test: s.cfg.StripeTestWebhookSecret}
	ev, err := billing.ParseWebhook(payload, signature, secrets.Pick(testMode))
	if err != nil {
		s.log.Warn("billing webhook rejected", "err", err)
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}
	inserted, err := s.inbox.Enqueue(r.Context(), ev)
	if err != nil {
		s.log.Error("billing event enqueue failed", "event_id", ev.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "webhook handler failed")
		return
	}
	s.log.Info("billing event received", "event_id", ev.ID, "type", ev.Type, "duplicate", !inserted)
	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, game.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, game.ErrAccountNotFound), errors.Is(err, notify.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, game.ErrNoLivesRemaining):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, game.ErrInvalidInput), errors.Is(err, game.ErrUnknownTier):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, game.ErrDuplicateSubmission), errors.Is(err, game.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func idempotencyKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		return key
	}
	return uuid.NewString()
}

func queryLimit(r *http.Request, fallback, ceiling int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: limit must be a positive integer", game.ErrInvalidInput)
	}
	if n > ceiling {
		n = ceiling
	}
	return n, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
