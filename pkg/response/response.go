package response

import (
	"net/http"

	"discussion_forum/pkg/apperror"
	"discussion_forum/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`    // 业务码
	Message string      `json:"message"` // 提示信息
	Data    interface{} `json:"data"`    // 数据
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Created 创建成功响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, httpCode int, errCode int, msg string) {
	c.JSON(httpCode, Response{
		Code:    errCode,
		Message: msg,
		Data:    nil,
	})
}

// HandleError 将业务错误映射为 HTTP 状态码和业务码
func HandleError(c *gin.Context, err error) {
	switch apperror.KindOf(err) {
	case apperror.KindNotFound:
		Error(c, http.StatusNotFound, ErrResourceNotFound, err.Error())
	case apperror.KindForbidden:
		Error(c, http.StatusForbidden, ErrNotAuthor, err.Error())
	case apperror.KindInvalidState:
		Error(c, http.StatusBadRequest, ErrInvalidState, err.Error())
	case apperror.KindConflict:
		Error(c, http.StatusConflict, ErrConflict, err.Error())
	default:
		logger.Named("http").Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		Error(c, http.StatusInternalServerError, ErrServerInternal, "internal server error")
	}
}
