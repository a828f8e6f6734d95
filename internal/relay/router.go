package relay

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/ring/internal/config"
	"github.com/dkeye/ring/internal/domain"
)

// TokenAuthMiddleware resolves the query-string bearer token into a
// username. The signaling channel authenticates once, at connect time.
func TokenAuthMiddleware(store *TokenStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		username, ok := store.Resolve(token)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("username", username)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, ctl *Controller, store *TokenStore) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	sessionStore := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("RingSessions", sessionStore))

	log.Info().Str("module", "relay.http").Int("port", cfg.Port).Msg("router setup")

	api := r.Group("/api")

	// Login exchanges a username for a bearer token; the cookie session
	// remembers the identity for returning browsers.
	api.POST("/login", func(c *gin.Context) {
		var req struct {
			Username string `json:"username" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid username"})
			return
		}
		user, err := domain.NewUser(req.Username)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		token := store.Issue(user.Username)

		sess := sessions.Default(c)
		sess.Set("username", user.Username)
		if err := sess.Save(); err != nil {
			log.Warn().Err(err).Str("module", "relay.http").Msg("session save")
		}

		c.JSON(http.StatusOK, gin.H{"token": token, "username": user.Username, "id": user.ID})
	})

	r.GET("/ws/call", TokenAuthMiddleware(store), func(c *gin.Context) {
		ctl.HandleCall(ctx, c)
	})

	return r
}
