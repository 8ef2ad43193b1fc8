// Package auth verifies the HS256 bearer tokens that identify
// callers of the upload and status endpoints.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleTeacher || r == RoleStudent || r == RoleAdmin
}

// Caller is the authenticated identity behind a request.
type Caller struct {
	UserID string
	Role   Role
}

func (c Caller) IsAdmin() bool { return c.Role == RoleAdmin }

// CanUpload reports whether the caller may submit lesson files.
func (c Caller) CanUpload() bool {
	return c.Role == RoleTeacher || c.Role == RoleAdmin
}

// CanView reports whether the caller may see the record owned by ownerID:
// its owning teacher, or any admin.
func (c Caller) CanView(ownerID string) bool {
	if c.IsAdmin() {
		return true
	}
	return c.Role == RoleTeacher && c.UserID != "" && c.UserID == ownerID
}

// Claims carries the user id and role alongside the registered claims.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"uid"`
	Role   Role   `json:"role"`
}

// ParseToken verifies tokenString and returns the caller it names.
func ParseToken(tokenString string, secretKey []byte) (Caller, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Caller{}, ErrTokenExpired
		}
		return Caller{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Caller{}, ErrInvalidToken
	}
	if claims.UserID == "" || !claims.Role.Valid() {
		return Caller{}, fmt.Errorf("%w: missing user id or role", ErrInvalidToken)
	}
	return Caller{UserID: claims.UserID, Role: claims.Role}, nil
}

// FromRequest authenticates the Authorization: Bearer header of r.
func FromRequest(r *http.Request, secretKey []byte) (Caller, error) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return Caller{}, ErrMissingToken
	}
	return ParseToken(strings.TrimSpace(token), secretKey)
}
