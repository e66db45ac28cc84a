package middleware

import (
	"net/http"

	"gischat/global"

	"github.com/gin-gonic/gin"
)

// RouteOpt 路由选项
type RouteOpt struct {
	Matrix        bool // 属于 Matrix 桥接的路由
	MatrixEnabled bool
}

func (o RouteOpt) handlers(handler gin.HandlerFunc) []gin.HandlerFunc {
	if o.Matrix {
		return []gin.HandlerFunc{MatrixGuard(o.MatrixEnabled), handler}
	}
	return []gin.HandlerFunc{handler}
}

// MatrixGuard 桥接关闭时这些路由等同不存在
func MatrixGuard(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			c.AbortWithStatusJSON(http.StatusNotFound, global.Fail("Matrix bridge is not enabled"))
			return
		}
		c.Next()
	}
}

// 封装 GET
func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.GET(path, opt.handlers(handler)...)
}

// 封装 PUT
func PUT(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.PUT(path, opt.handlers(handler)...)
}
