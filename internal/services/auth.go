package services

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/openlearnhq/engagement-backend/internal/logger"
	"github.com/openlearnhq/engagement-backend/internal/utils"
)

// AuthService validates the bearer tokens carried by admin and event-bus
// callers. Tokens are HS256 with a shared secret; the scope claim decides
// what the caller may reach.
type AuthService interface {
	ValidateToken(tokenString string, requiredScope string) error
}

type authService struct {
	log    *logger.Logger
	secret []byte
}

func NewAuthService(baseLog *logger.Logger) AuthService {
	secret := utils.GetEnv("SERVICE_JWT_SECRET", "", baseLog)
	return &authService{
		log:    baseLog.With("service", "AuthService"),
		secret: []byte(secret),
	}
}

func (s *authService) ValidateToken(tokenString string, requiredScope string) error {
	if len(s.secret) == 0 {
		return fmt.Errorf("SERVICE_JWT_SECRET not configured")
	}
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return err
	}
	if !token.Valid {
		return fmt.Errorf("invalid token")
	}
	if requiredScope == "" {
		return nil
	}
	scope, _ := claims["scope"].(string)
	if scope != requiredScope {
		return fmt.Errorf("token scope %q does not allow %q", scope, requiredScope)
	}
	return nil
}
