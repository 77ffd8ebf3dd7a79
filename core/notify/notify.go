// Package notify serves the hook the issue backend calls to message a reporter,
// for example when the status of their issue changes.
package notify

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/youpin-city/mafueng-bot/core/logger"
)

const (
	// Path is where the hook is mounted.
	Path = "/notifhook/"
	// TokenParam is the query parameter carrying the shared token.
	TokenParam = "NOTIFICATION_TOKEN"

	maxBody         = 64 << 10
	shutdownTimeout = 5 * time.Second
)

// ErrBusy is returned by a Sender that cannot accept more messages right now.
var ErrBusy = errors.New("notify: sender busy")

// Sender delivers a push message to a chat user.
type Sender interface {
	Notify(ctx context.Context, userID, text string) error
}

// userID accepts both JSON strings and numbers.
type userID string

func (u *userID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*u = userID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if _, err := strconv.ParseInt(string(n), 10, 64); err != nil {
		return fmt.Errorf("notify: id %s is not an integer", n)
	}
	*u = userID(n)
	return nil
}

type request struct {
	ID      userID `json:"id"`
	Message string `json:"message"`
}

type handler struct {
	token  string
	sender Sender
}

// Handler returns the hook handler. An empty token rejects every request.
func Handler(token string, sender Sender) http.Handler {
	return &handler{token: token, sender: sender}
}

func (h *handler) authorized(r *http.Request) bool {
	got := r.URL.Query().Get(TokenParam)
	return h.token != "" && subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) == 1
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		if !h.authorized(r) {
			h.reply(ctx, w, http.StatusForbidden, "verify", "Incorrect notification token!")
			return
		}
		h.reply(ctx, w, http.StatusOK, "verify", "Notification token is correct!")
	case http.MethodPost:
		h.post(ctx, w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		h.reply(ctx, w, http.StatusMethodNotAllowed, "method", "method not allowed")
	}
}

func (h *handler) post(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		h.reply(ctx, w, http.StatusUnauthorized, "push", "Incorrect notification token!")
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		h.reply(ctx, w, http.StatusBadRequest, "push", "could not read body")
		return
	}
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		h.reply(ctx, w, http.StatusBadRequest, "push", "body must be JSON with id and message")
		return
	}
	id := strings.TrimSpace(string(req.ID))
	if id == "" || strings.TrimSpace(req.Message) == "" {
		h.reply(ctx, w, http.StatusBadRequest, "push", "userId and message must not be empty.")
		return
	}

	if err := h.sender.Notify(ctx, id, req.Message); err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, ErrBusy) {
			code = http.StatusServiceUnavailable
		}
		logger.Warn(ctx, "notify", "notify.push",
			slog.String("status", "fail"),
			slog.String("sender_id", id),
			slog.String("err", err.Error()),
		)
		h.reply(ctx, w, code, "push", "could not notify user")
		return
	}
	logger.Info(ctx, "notify", "notify.push",
		slog.String("status", "ok"),
		slog.String("sender_id", id),
		slog.Int("chars", len([]rune(req.Message))),
	)
	h.reply(ctx, w, http.StatusOK, "push", "Successfully notifying user id "+id)
}

func (h *handler) reply(ctx context.Context, w http.ResponseWriter, code int, op, body string) {
	if code >= http.StatusBadRequest {
		logger.Debug(ctx, "notify", "notify."+op,
			slog.String("status", "fail"),
			slog.Int("http_status", code),
		)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = io.WriteString(w, body)
}

// Serve listens on addr until ctx is done, then shuts the server down.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle(Path, h)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "notify", "notify.listen", slog.String("status", "ok"), slog.String("listen", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("notify: listen %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("notify: shutdown: %w", err)
	}
	return nil
}
