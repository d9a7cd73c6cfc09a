// Package jwt signs and decodes HS256 tokens carrying a user identity.
//
// It is used to derive per-user rate limit keys from incoming requests.
package jwt

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"

	"github.com/Davincible/d-bounded/env"
)

var (
	// ErrNoToken indicates the request carried no token
	ErrNoToken = errors.New("no authorization token")
	// ErrMalformedHeader indicates an authorization header that is not "<scheme> <token>"
	ErrMalformedHeader = errors.New("malformed authorization header")
	// ErrNoSecret indicates the decoder was built without a signing key
	ErrNoSecret = errors.New("JWT secret is not set")
	// ErrInvalidToken indicates a token that failed validation
	ErrInvalidToken = errors.New("invalid token")
)

// DefaultDuration is the lifetime of tokens signed without an explicit duration.
var DefaultDuration = 6 * time.Hour

// Claims are the claims carried by a token.
type Claims struct {
	jwt.StandardClaims

	UserID  int64 `json:"user_id"`
	IsAdmin bool  `json:"is_admin"`
}

// Key returns a stable identifier for the token holder.
func (c *Claims) Key() string {
	return "user:" + strconv.FormatInt(c.UserID, 10)
}

// Decoder signs and validates tokens with a shared HS256 secret.
type Decoder struct {
	secret []byte
	issuer string
}

// NewDecoder creates a Decoder. An empty issuer disables issuer checks.
func NewDecoder(secret, issuer string) *Decoder {
	return &Decoder{secret: []byte(secret), issuer: issuer}
}

// DecoderFromEnv builds a Decoder from JWT_SECRET_KEY and WEB_APP_URL.
func DecoderFromEnv() *Decoder {
	return NewDecoder(env.GetEnv("JWT_SECRET_KEY"), env.GetEnv("WEB_APP_URL"))
}

func extractToken(hdr string) (string, error) {
	if hdr == "" {
		return "", ErrNoToken
	}

	th := strings.Fields(hdr)
	if len(th) != 2 {
		return "", ErrMalformedHeader
	}

	switch strings.ToLower(th[0]) {
	case "bearer", "token":
		return th[1], nil
	}

	return "", fmt.Errorf("%w: unknown scheme %q", ErrMalformedHeader, th[0])
}

// FromRequest decodes the token from the Authorization header, falling back to
// the second entry of the Sec-Websocket-Protocol header.
func (d *Decoder) FromRequest(r *http.Request) (*Claims, error) {
	bearer := r.Header.Get("Authorization")
	if bearer == "" {
		h := r.Header.Get("Sec-Websocket-Protocol")

		if splits := strings.Split(h, " "); len(splits) > 1 {
			bearer = "bearer " + strings.TrimSpace(splits[1])
		}
	}

	token, err := extractToken(bearer)
	if err != nil {
		return nil, err
	}

	return d.Decode(token)
}

// Decode validates tokenString and returns its claims.
func (d *Decoder) Decode(tokenString string) (*Claims, error) {
	if len(tokenString) == 0 {
		return nil, ErrNoToken
	}

	if len(d.secret) == 0 {
		return nil, ErrNoSecret
	}

	var claims Claims

	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return d.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse JWT token claims: %w", err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if d.issuer != "" && !claims.VerifyIssuer(d.issuer, true) {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrInvalidToken)
	}

	return &claims, nil
}

// Sign creates a token for userID valid for DefaultDuration.
func (d *Decoder) Sign(userID int64, isAdmin bool) (string, error) {
	return d.SignWithDuration(userID, isAdmin, DefaultDuration)
}

// SignWithDuration creates a token for userID valid for duration.
func (d *Decoder) SignWithDuration(userID int64, isAdmin bool, duration time.Duration) (string, error) {
	if len(d.secret) == 0 {
		return "", ErrNoSecret
	}

	now := time.Now()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  now.Unix(),
			NotBefore: now.Unix(),
			Issuer:    d.issuer,
			Subject:   strconv.FormatInt(userID, 10),
			ExpiresAt: now.Add(duration).Unix(),
		},
		UserID:  userID,
		IsAdmin: isAdmin,
	})

	signed, err := token.SignedString(d.secret)
	if err != nil {
		return "", fmt.Errorf("sign JWT token: %w", err)
	}

	return signed, nil
}
