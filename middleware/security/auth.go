package security

import (
	"net/http"
	"strings"

	"LobbyHub/logger"
	"LobbyHub/tools/errs"
	jwtsec "LobbyHub/tools/security"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// context keys
const (
	CtxUserIDKey    = "userID"    // string，校验通过的用户ID
	CtxTokenHashKey = "tokenHash" // string，仅用于日志关联
)

type Options struct {
	HeaderToken string // 默认 "Authorization"
	QueryToken  string // 默认 "token"，浏览器 WebSocket 无法自定义头部时使用
}

func DefaultOptions() *Options {
	return &Options{HeaderToken: "Authorization", QueryToken: "token"}
}

// Authenticator turns a bearer token into a verified user ID.
type Authenticator interface {
	Authenticate(token string) (string, error)
}

// JWTAuthenticator verifies HMAC signed tokens whose subject is the user ID.
type JWTAuthenticator struct {
	Opts jwtsec.Options
}

func (a JWTAuthenticator) Authenticate(token string) (string, error) {
	claims, err := jwtsec.Verify(a.Opts, token)
	if err != nil {
		return "", errs.ErrUnauthorized.WrapMsg(err.Error())
	}
	uid, err := claims.UserID()
	if err != nil {
		return "", errs.ErrUnauthorized.WrapMsg(err.Error())
	}
	return uid, nil
}

// BearerToken extracts the token from the header (with or without the
// Bearer prefix) or, failing that, from the query string.
func BearerToken(c *gin.Context, opts *Options) string {
	if authz := strings.TrimSpace(c.GetHeader(opts.HeaderToken)); authz != "" {
		if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
			return strings.TrimSpace(authz[7:])
		}
		return authz
	}
	return strings.TrimSpace(c.Query(opts.QueryToken))
}

// Middleware rejects requests without a valid token and stores the verified
// user ID under CtxUserIDKey.
func Middleware(auth Authenticator, opts *Options) gin.HandlerFunc {
	if opts == nil {
		opts = DefaultOptions()
	}
	return func(c *gin.Context) {
		token := BearerToken(c, opts)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrUnauthorized.WithDetail("missing token"))
			return
		}
		uid, err := auth.Authenticate(token)
		if err != nil {
			logger.Info("auth: token rejected",
				zap.String("path", c.Request.URL.Path), zap.String("token", jwtsec.HashToken(token)), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.Public(err))
			return
		}
		c.Set(CtxUserIDKey, uid)
		c.Set(CtxTokenHashKey, jwtsec.HashToken(token))
		c.Next()
	}
}

// UserID returns the user ID stored by Middleware.
func UserID(c *gin.Context) string {
	return c.GetString(CtxUserIDKey)
}
