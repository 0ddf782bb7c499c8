package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/murmur-chat/calling/pkg/internal/models"
)

var ErrInvalidToken = errors.New("invalid access token")

// Claims mirrors the JWT payload emitted by the platform auth service.
type Claims struct {
	Name     string `json:"name"`
	Nick     string `json:"nick"`
	DeviceID string `json:"device_id"`
	jwt.RegisteredClaims
}

// Middleware validates HS256 bearer tokens and resolves the caller
// principal. Token issuance stays with the auth service; this side only
// verifies.
type Middleware struct {
	secret []byte
}

func New(secret string) *Middleware {
	return &Middleware{secret: []byte(secret)}
}

func (v *Middleware) ParseToken(raw string) (models.Account, error) {
	var user models.Account

	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return user, ErrInvalidToken
	}

	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil {
		return user, ErrInvalidToken
	}

	user.ID = uint(id)
	user.Name = claims.Name
	user.Nick = claims.Nick
	user.DeviceID = claims.DeviceID
	return user, nil
}

// Handler extracts the token from the Authorization header, falling
// back to the tk query parameter for websocket upgrades.
func (v *Middleware) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
		if len(raw) == 0 {
			raw = c.Query("tk")
		}
		if len(raw) == 0 {
			return fiber.NewError(fiber.StatusUnauthorized, "missing access token")
		}

		user, err := v.ParseToken(raw)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}

		c.Locals("user", user)
		return c.Next()
	}
}
