package server

import (
	"net/http"
	"time"

	"github.com/danmuck/framechan/internal/auth"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"uptime":   time.Since(s.started).String(),
			"identity": s.svc.Identity(),
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	upgrade := []gin.HandlerFunc{gin.WrapH(s.hub.Handler())}
	if s.linkAuth != nil {
		upgrade = append([]gin.HandlerFunc{auth.Require(s.linkAuth, s.logger)}, upgrade...)
	}
	s.router.GET("/link", upgrade...)

	status := s.router.Group("/status")
	status.Use(cors.New(cors.Config{
		AllowOrigins: []string{s.svc.TargetOrigin()},
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	status.GET("", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"identity":      s.svc.Identity(),
			"role":          s.svc.Role().String(),
			"origin":        s.hub.Origin(),
			"target_origin": s.svc.TargetOrigin(),
			"initialized":   s.svc.Initialized(),
			"peers":         len(s.hub.Peers()),
			"channels":      s.svc.Channels(),
		})
	})
}
