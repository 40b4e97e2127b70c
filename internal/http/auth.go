package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Hawyaa/alora-backend/internal/domain"
	"github.com/Hawyaa/alora-backend/internal/service"
	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleAdmin          = "admin"
	GuestSessionHeader = "X-Guest-Session"
)

type callerKey struct{}

// Claims is the token payload issued by the account service.
type Claims struct {
	UserID string `json:"userId,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

var errMissingSubject = errors.New("token carries no user id")

// Authenticator resolves the caller from an optional bearer token.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Middleware attaches the caller to the request context. Requests without a token
// continue as guests; a token that fails verification is rejected outright.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		caller, err := a.Verify(raw)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), callerKey{}, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Verify checks an HS256 token and returns the identity it carries.
func (a *Authenticator) Verify(raw string) (service.Caller, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return service.Caller{}, err
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return service.Caller{}, errMissingSubject
	}
	return service.Caller{OwnerRef: userID, Admin: claims.Role == RoleAdmin}, nil
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	return token, token != ""
}

func callerFrom(ctx context.Context) service.Caller {
	caller, _ := ctx.Value(callerKey{}).(service.Caller)
	return caller
}

func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if callerFrom(r.Context()).IsGuest() {
			respondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := callerFrom(r.Context())
		if caller.IsGuest() {
			respondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		if !caller.Admin {
			respondError(w, http.StatusForbidden, "forbidden", "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// cartOwnerKey names the cart a request acts on: the account id, or guest:<session>.
func cartOwnerKey(r *http.Request) (string, bool) {
	if caller := callerFrom(r.Context()); !caller.IsGuest() {
		return caller.OwnerRef, true
	}
	if session := strings.TrimSpace(r.Header.Get(GuestSessionHeader)); session != "" {
		return domain.GuestOwnerKey(session), true
	}
	return "", false
}
