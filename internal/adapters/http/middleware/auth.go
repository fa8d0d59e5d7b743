package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

type contextKey string

const (
	UserIDContextKey contextKey = "user_id"

	// DefaultUserID is used when a request carries no X-User-ID header
	DefaultUserID = "default_user"
)

// Simple header-based auth suitable for internal VPN deployments.
// For production with external access, put an authenticating proxy in front.
func Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get("X-User-ID"))

		if userID == "" {
			userID = DefaultUserID
		}

		// Prevent injection attacks
		if !isValidUserID(userID) {
			slog.Warn("invalid user id", "user_id", userID, "path", r.URL.Path)
			http.Error(w, "Invalid user ID format", http.StatusBadRequest)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDContextKey, userID)
}

func GetUserID(ctx context.Context) string {
	userID, ok := ctx.Value(UserIDContextKey).(string)
	if !ok {
		return ""
	}
	return userID
}

func isValidUserID(userID string) bool {
	if userID == "" || len(userID) > 255 {
		return false
	}

	for _, ch := range userID {
		if !((ch >= 'a' && ch <= 'z') ||
			(ch >= 'A' && ch <= 'Z') ||
			(ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '_' || ch == '.' || ch == '@') {
			return false
		}
	}

	return true
}
