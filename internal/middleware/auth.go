package middleware

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/iamcleaner/api/transport"
	"github.com/fastygo/iamcleaner/domain"
	"github.com/fastygo/iamcleaner/pkg/httpcontext"
)

// OperatorKey is the request user value holding the authenticated subject.
const OperatorKey = httpcontext.UserValueOperator

// Passthrough leaves the handler unprotected.
func Passthrough(next fasthttp.RequestHandler) fasthttp.RequestHandler { return next }

// JWTAuth accepts HMAC-signed bearer tokens issued by issuer. An empty issuer
// skips the issuer check.
func JWTAuth(secret, issuer string, logger *zap.Logger) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	key := []byte(secret)
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			tokenString := extractToken(ctx)
			if tokenString == "" {
				unauthorized(ctx)
				return
			}

			claims := &jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
				}
				return key, nil
			})
			if err != nil || !token.Valid {
				logger.Warn("invalid jwt token", zap.Error(err))
				unauthorized(ctx)
				return
			}
			if issuer != "" && !claims.VerifyIssuer(issuer, true) {
				logger.Warn("jwt issuer mismatch", zap.String("issuer", claims.Issuer))
				unauthorized(ctx)
				return
			}

			ctx.SetUserValue(OperatorKey, claims.Subject)
			next(ctx)
		}
	}
}

// Operator returns the subject set by JWTAuth.
func Operator(ctx *fasthttp.RequestCtx) string {
	if v, ok := ctx.UserValue(OperatorKey).(string); ok {
		return v
	}
	return ""
}

func unauthorized(ctx *fasthttp.RequestCtx) {
	body, _ := json.Marshal(transport.NewError(string(domain.ErrUnauthorized.Code), domain.ErrUnauthorized.Error(), nil))
	ctx.Response.Header.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusUnauthorized)
	ctx.SetBody(body)
}

func extractToken(ctx *fasthttp.RequestCtx) string {
	header := strings.TrimSpace(string(ctx.Request.Header.Peek("Authorization")))
	if header == "" {
		return ""
	}
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return header
}
