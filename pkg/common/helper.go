package common

import "github.com/gin-gonic/gin"

// 中间件拒绝类响应的统一格式（代理转发路径不走这个，直接透传上游）
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func Fail(c *gin.Context, httpStatus int, code int, message string) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}
