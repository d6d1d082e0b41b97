package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"meetcall/internal/meeting"
)

// Session is the part of the controller the control surface drives.
type Session interface {
	Snapshot() meeting.Snapshot
	ToggleMute() (bool, error)
	ToggleCamera() (bool, error)
	Leave(ctx context.Context) error
}

// Controls is the on-screen controls visibility.
type Controls interface {
	Activity()
	Visible() bool
}

type sessionResponse struct {
	meeting.Snapshot
	ControlsVisible bool `json:"controls_visible"`
}

func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

// ActivityMiddleware counts every request as user activity.
func ActivityMiddleware(ctl Controls) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctl.Activity()
		c.Next()
	}
}

func SetupRouter(s Session, ctl Controls) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(ActivityMiddleware(ctl))

	api := r.Group("/api")

	api.GET("/session", func(c *gin.Context) {
		c.JSON(http.StatusOK, sessionResponse{Snapshot: s.Snapshot(), ControlsVisible: ctl.Visible()})
	})

	api.POST("/controls/mute", func(c *gin.Context) {
		muted, err := s.ToggleMute()
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"muted": muted})
	})

	api.POST("/controls/camera", func(c *gin.Context) {
		off, err := s.ToggleCamera()
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"camera_off": off})
	})

	api.POST("/leave", func(c *gin.Context) {
		if err := s.Leave(c.Request.Context()); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"state": s.Snapshot().State})
	})

	api.POST("/activity", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"controls_visible": ctl.Visible()})
	})

	log.Info().Str("module", "httpapi").Msg("router setup")
	return r
}

func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, meeting.ErrInvalidState),
		errors.Is(err, meeting.ErrNoAudioTrack),
		errors.Is(err, meeting.ErrNoVideoTrack),
		errors.Is(err, meeting.ErrClosed):
		status = http.StatusConflict
	}
	log.Warn().Err(err).Str("module", "httpapi").Str("request_id", c.GetString("request_id")).Str("path", c.FullPath()).Msg("request failed")
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// Serve runs h on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("module", "httpapi").Str("addr", addr).Msg("listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
