// Package middleware содержит HTTP middleware сервиса cargoflow.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	userIDKey  contextKey = "userID"
	isAdminKey contextKey = "isAdmin"
)

const (
	authCookieName = "auth_token"
	tokenTTL       = 24 * time.Hour
)

// ErrInvalidToken возвращается при отсутствующем, просроченном или
// неверно подписанном токене.
var ErrInvalidToken = errors.New("invalid token")

// AuthMiddleware проверяет JWT из заголовка Authorization или cookie.
type AuthMiddleware struct {
	secretKey []byte

	// defaultUserID > 0 включает режим без обязательной аутентификации:
	// запросы без валидного токена выполняются от имени этого пользователя.
	// Сохранено поведение исходной системы; в продакшене должен быть 0.
	defaultUserID int64
}

// NewAuthMiddleware создаёт middleware аутентификации с указанным секретом.
func NewAuthMiddleware(secret string, defaultUserID int64) *AuthMiddleware {
	return &AuthMiddleware{
		secretKey:     []byte(secret),
		defaultUserID: defaultUserID,
	}
}

// GenerateToken выпускает подписанный JWT для пользователя.
func (a *AuthMiddleware) GenerateToken(userID int64, isAdmin bool) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"admin":   isAdmin,
		"exp":     now.Add(tokenTTL).Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secretKey)
}

// ParseToken проверяет подпись и срок действия токена и возвращает
// идентификатор пользователя и признак администратора.
func (a *AuthMiddleware) ParseToken(tokenStr string) (int64, bool, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return a.secretKey, nil
	})
	if err != nil || !token.Valid {
		return 0, false, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, false, ErrInvalidToken
	}

	idFloat, ok := claims["user_id"].(float64)
	if !ok {
		return 0, false, ErrInvalidToken
	}

	isAdmin, _ := claims["admin"].(bool)

	return int64(idFloat), isAdmin, nil
}

// Middleware извлекает токен из запроса и кладёт идентификатор пользователя
// в контекст. Без валидного токена запрос отклоняется с 401, если не включён
// режим пользователя по умолчанию.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, isAdmin, err := a.authenticate(r)
		if err != nil {
			if a.defaultUserID > 0 {
				userID, isAdmin = a.defaultUserID, false
			} else {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		ctx = context.WithValue(ctx, isAdminKey, isAdmin)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin пропускает только запросы аутентифицированных администраторов.
// Должен стоять после Middleware.
func (a *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsAdminFromContext(r.Context()) {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *AuthMiddleware) authenticate(r *http.Request) (int64, bool, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		tokenStr := strings.TrimPrefix(header, "Bearer ")
		return a.ParseToken(tokenStr)
	}

	cookie, err := r.Cookie(authCookieName)
	if err != nil {
		return 0, false, ErrInvalidToken
	}
	return a.ParseToken(cookie.Value)
}

// SetAuthCookie выпускает токен и устанавливает его в cookie ответа.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, userID int64, isAdmin bool) (string, error) {
	token, err := a.GenerateToken(userID, isAdmin)
	if err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(tokenTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return token, nil
}

// GetUserIDFromContext извлекает идентификатор пользователя из контекста запроса.
func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}

// IsAdminFromContext сообщает, аутентифицирован ли запрос как администратор.
func IsAdminFromContext(ctx context.Context) bool {
	isAdmin, _ := ctx.Value(isAdminKey).(bool)
	return isAdmin
}
