package middleware

import (
	"net/http"
	"strings"

	"discussion_forum/pkg/response"
	"discussion_forum/pkg/utils"

	"github.com/gin-gonic/gin"
)

const (
	ctxUserID   = "userID"
	ctxUserName = "userName"
)

// AuthMiddleware JWT认证中间件
// 浏览器的 websocket 无法设置请求头，允许通过 ?token= 传递
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := extractToken(c)
		if !ok {
			response.Error(c, http.StatusUnauthorized, response.ErrAuthFailed, "Authorization header is required")
			c.Abort()
			return
		}

		claims, err := utils.ParseToken(tokenString)
		if err != nil {
			response.Error(c, http.StatusUnauthorized, response.ErrTokenInvalid, "Invalid or expired token")
			c.Abort()
			return
		}

		// 将 userID 和 userName 存入上下文
		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxUserName, claims.UserName)
		c.Next()
	}
}

func extractToken(c *gin.Context) (string, bool) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		// 检查格式 "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if token := c.Query("token"); token != "" {
		return token, true
	}
	return "", false
}

// CurrentUser 返回认证后的用户
func CurrentUser(c *gin.Context) (userID, userName string) {
	return c.GetString(ctxUserID), c.GetString(ctxUserName)
}
