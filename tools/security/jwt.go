package security

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

const defaultTTL = 2 * time.Hour

var (
	ErrEmptySecret = errors.New("jwt: secret is empty")
	ErrNoSubject   = errors.New("jwt: token has no subject")
)

// Options 控制签名算法、密钥与校验项。
type Options struct {
	Secret   []byte        // HMAC 密钥
	Alg      string        // HS256/HS384/HS512，默认 HS256
	TTL      time.Duration // 签发有效期，默认 2h
	Leeway   time.Duration // 允许的时钟偏差
	Issuer   string        // 非空时签发写入并校验 iss
	Audience string        // 非空时签发写入并校验 aud
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: defaultTTL}
}

// JWTClaims are the registered claims of a verified token.
type JWTClaims struct {
	jwtlib.RegisteredClaims
}

// UserID returns the subject claim, which carries the verified user ID.
func (c *JWTClaims) UserID() (string, error) {
	if strings.TrimSpace(c.Subject) == "" {
		return "", ErrNoSubject
	}
	return c.Subject, nil
}

// HashToken is the form a token takes in logs.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Generate signs a token for userID. Issuance belongs to the auth service;
// this exists for tooling and tests.
func Generate(opts Options, userID string) (string, time.Time, error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	now := time.Now()
	claims := jwtlib.RegisteredClaims{
		Subject:   userID,
		Issuer:    opts.Issuer,
		IssuedAt:  jwtlib.NewNumericDate(now),
		NotBefore: jwtlib.NewNumericDate(now),
		ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
	}
	if opts.Audience != "" {
		claims.Audience = jwtlib.ClaimStrings{opts.Audience}
	}
	signed, err := jwtlib.NewWithClaims(method, claims).SignedString(opts.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Verify checks signature, algorithm, expiry and the optional issuer and
// audience. Tokens without exp are rejected.
func Verify(opts Options, token string) (*JWTClaims, error) {
	if len(opts.Secret) == 0 {
		return nil, ErrEmptySecret
	}
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return nil, err
	}
	parserOpts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{method.Alg()}),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithLeeway(opts.Leeway),
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwtlib.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwtlib.WithAudience(opts.Audience))
	}

	claims := &JWTClaims{}
	_, err = jwtlib.ParseWithClaims(token, claims, func(*jwtlib.Token) (any, error) {
		return opts.Secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	}
	return nil, fmt.Errorf("jwt: unsupported alg %q, use HS256/HS384/HS512", alg)
}
