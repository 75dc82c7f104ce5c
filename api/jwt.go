package api

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// JWT 是外部認證服務簽發的存取token內容
// 競標核心只驗證不簽發
type JWT struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

// ParseAndValidateJWT 解析並驗證存取token
// 過期與其他驗證失敗分別回傳ErrTokenExpired和ErrTokenInvalid，
// 讓連線層能回報對應的auth_error
func ParseAndValidateJWT(tokenString string, key ed25519.PublicKey) (*JWT, error) {
	const op = "ParseJWT"
	token, err := jwt.ParseWithClaims(tokenString, &JWT{}, func(token *jwt.Token) (interface{}, error) {
		return key, nil
	})
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%s: %w", op, ErrTokenInvalid)
	}
	claims, ok := token.Claims.(*JWT)
	if !ok {
		return nil, fmt.Errorf("%s: %w: unexpected claims type", op, ErrTokenInvalid)
	}
	return claims, nil
}
