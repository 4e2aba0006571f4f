// Package identity определяет текущего пользователя по JWT из заголовка Authorization.
package identity

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"chat-core/internal/domain"
)

// Claims — поля токена, из которых собирается domain.User.
type Claims struct {
	UserID    string `json:"user_id,omitempty"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// Verifier проверяет подпись токена: HMAC-секретом или открытым RSA-ключом.
type Verifier struct {
	secret []byte
	pub    *rsa.PublicKey
}

// NewHMACVerifier создает Verifier для токенов HS256/HS384/HS512.
func NewHMACVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// NewRSAVerifier создает Verifier по PEM-файлу с открытым ключом.
func NewRSAVerifier(pubKeyPath string) (*Verifier, error) {
	b, err := os.ReadFile(pubKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(b)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	return &Verifier{pub: pub}, nil
}

// Verify проверяет токен и возвращает пользователя. ID берется из user_id, затем из sub.
func (v *Verifier) Verify(tokenStr string) (domain.User, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, v.key)
	if err != nil {
		return domain.User{}, fmt.Errorf("invalid token: %w", err)
	}

	id := claims.UserID
	if id == "" {
		id = claims.Subject
	}
	if id == "" {
		return domain.User{}, errors.New("token has no user id")
	}

	name := claims.Name
	if name == "" {
		name = id
	}
	return domain.User{ID: id, DisplayName: name, AvatarURL: claims.AvatarURL}, nil
}

func (v *Verifier) key(t *jwt.Token) (interface{}, error) {
	if v.pub != nil {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return v.pub, nil
	}
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
	}
	return v.secret, nil
}

type ctxKey struct{}

// WithUser кладет пользователя в контекст.
func WithUser(ctx context.Context, u domain.User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// FromContext достает пользователя из контекста.
func FromContext(ctx context.Context) (domain.User, bool) {
	u, ok := ctx.Value(ctxKey{}).(domain.User)
	return u, ok && u.ID != ""
}

// Context реализует ports.Identity поверх контекста запроса.
type Context struct{}

// CurrentUser возвращает пользователя, положенного в контекст Middleware.
func (Context) CurrentUser(ctx context.Context) (domain.User, bool) {
	return FromContext(ctx)
}

// Middleware проверяет Bearer-токен. Запрос без заголовка проходит анонимно,
// а решение о доступе принимает сервис. Неверный токен сразу дает 401.
func Middleware(v *Verifier, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			user, err := v.Verify(token)
			if err != nil {
				log.Warn("Rejected bearer token", "path", r.URL.Path, "error", err)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"invalid token"}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// bearerToken достает токен из заголовка Authorization или из параметра access_token
// (браузерный WebSocket не умеет передавать заголовки).
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}
