package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/browserwing/domagent/config"
	"github.com/browserwing/domagent/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// APIKeyHeader 携带 API Key 的请求头
const APIKeyHeader = "X-DomAgent-Key"

const tokenTTL = 24 * time.Hour

// TraceIDMiddleware 为每个请求生成 trace_id
func TraceIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 尝试从请求头获取 trace_id，如果没有则生成新的
		traceID := c.GetHeader("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.New().String()
		}

		ctx := logger.WithTraceID(c.Request.Context(), traceID)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Trace-ID", traceID)

		c.Next()
	}
}

// JWTClaims JWT声明，Subject 为签发时所用 API Key 的指纹
type JWTClaims struct {
	jwt.RegisteredClaims
}

// GenerateJWT 生成JWT Token
func GenerateJWT(subject string, cfg *config.Config) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			Issuer:    "domagent",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.Auth.AppKey))
}

// AuthMiddleware API Key 或 JWT 任一通过即可
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.Auth == nil || !cfg.Auth.Enabled {
			c.Next()
			return
		}

		// 先尝试API Key认证
		if key := c.GetHeader(APIKeyHeader); key != "" && validAPIKey(cfg.Auth, key) {
			c.Set("auth_subject", keyFingerprint(key))
			c.Next()
			return
		}

		// 再尝试JWT Token
		if tokenString := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "); tokenString != "" && cfg.Auth.AppKey != "" {
			token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
				return []byte(cfg.Auth.AppKey), nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err == nil && token.Valid {
				if claims, ok := token.Claims.(*JWTClaims); ok {
					c.Set("auth_subject", claims.Subject)
					c.Next()
					return
				}
			}
		}

		c.JSON(http.StatusUnauthorized, gin.H{"error": "error.unauthorized"})
		c.Abort()
	}
}

func validAPIKey(auth *config.AuthConfig, key string) bool {
	for _, k := range auth.APIKeys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

// keyFingerprint 不把明文 key 写进 token 与日志
func keyFingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}
