package middleware

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/gema-chat/internal/service"
	"github.com/noah-isme/gema-chat/internal/utils"
)

var (
	ErrTokenMissing = fmt.Errorf("bearer token missing: %w", service.ErrAuth)
	ErrTokenInvalid = fmt.Errorf("invalid token: %w", service.ErrAuth)
)

// Identity is what a verified token says about the caller.
type Identity struct {
	UserID string
	Role   string
}

// TokenValidator verifies HMAC signed bearer tokens. It backs both the REST routes and the
// websocket handshake.
type TokenValidator struct {
	secret []byte
}

// NewTokenValidator creates a validator for tokens signed with secret.
func NewTokenValidator(secret string) *TokenValidator {
	return &TokenValidator{secret: []byte(secret)}
}

// Validate parses the raw token and returns the identity it carries.
func (v *TokenValidator) Validate(tokenString string) (Identity, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return Identity{}, ErrTokenMissing
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, ErrTokenInvalid
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrTokenInvalid
	}

	userID := extractUserIDFromClaims(claims)
	if userID == "" {
		return Identity{}, fmt.Errorf("token has no subject: %w", service.ErrAuth)
	}

	return Identity{UserID: userID, Role: extractUserRoleFromClaims(claims)}, nil
}

// Authenticate validates the request's bearer token and stores the caller in locals.
func (v *TokenValidator) Authenticate(c *fiber.Ctx) (Identity, error) {
	identity, err := v.Validate(BearerToken(c))
	if err != nil {
		return Identity{}, err
	}

	c.Locals("user_id", identity.UserID)
	if identity.Role != "" {
		c.Locals("user_role", identity.Role)
	}
	return identity, nil
}

// Protected returns a middleware that rejects requests without a valid bearer token.
func (v *TokenValidator) Protected() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, err := v.Authenticate(c); err != nil {
			return utils.Fail(c, fiber.StatusUnauthorized, err.Error(), fiber.Map{"code": service.CodeAuth})
		}
		return c.Next()
	}
}

// BearerToken reads the token from the Authorization header, falling back to the token query
// parameter that browsers use for websocket handshakes.
func BearerToken(c *fiber.Ctx) string {
	authorization := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	const bearer = "bearer "
	if len(authorization) > len(bearer) && strings.EqualFold(authorization[:len(bearer)], bearer) {
		return strings.TrimSpace(authorization[len(bearer):])
	}
	return strings.TrimSpace(c.Query("token"))
}

func extractUserIDFromClaims(claims jwt.MapClaims) string {
	keys := []string{"sub", "user_id", "id"}
	for _, key := range keys {
		if value, ok := claims[key]; ok {
			if normalized := normalizeUserID(value); normalized != "" {
				return normalized
			}
		}
	}
	return ""
}

func normalizeUserID(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v < 0 || v != float64(int64(v)) {
			return ""
		}
		return strconv.FormatInt(int64(v), 10)
	case int:
		if v < 0 {
			return ""
		}
		return strconv.Itoa(v)
	default:
		return ""
	}
}

func extractUserRoleFromClaims(claims jwt.MapClaims) string {
	candidates := []string{"role", "roles"}
	for _, key := range candidates {
		if value, ok := claims[key]; ok {
			if role := normalizeRole(value); role != "" {
				return role
			}
		}
	}
	return ""
}

func normalizeRole(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case []interface{}:
		for _, item := range v {
			if str, ok := item.(string); ok {
				role := strings.ToLower(strings.TrimSpace(str))
				if role != "" {
					return role
				}
			}
		}
	}
	return ""
}
