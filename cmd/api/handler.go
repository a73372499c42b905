package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	authUsecase "mailsync-backend/internal/auth/usecase"
	emailDelivery "mailsync-backend/internal/email/delivery"
	emailUsecasePkg "mailsync-backend/internal/email/usecase"
	"mailsync-backend/pkg/config"
	"mailsync-backend/pkg/gmail"
	"mailsync-backend/pkg/metrics"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	tokenUsecase authUsecase.TokenUsecase
	emailHandler *emailDelivery.EmailHandler
	config       *config.Config
}

// NewHandler wires the HTTP layer. ingestQueue may be nil to disable async ingestion.
func NewHandler(tokenUc authUsecase.TokenUsecase, detector emailUsecasePkg.DuplicateDetector, syncUc emailUsecasePkg.SyncUsecase, ingestQueue emailDelivery.IngestQueue, cfg *config.Config) *Handler {
	gmailService := gmail.NewService(cfg.GoogleClientID, cfg.GoogleClientSecret)
	sources := emailDelivery.NewProviderSources(gmailService)

	emailHandler := emailDelivery.NewEmailHandler(detector, syncUc, sources)
	if ingestQueue != nil {
		emailHandler.SetIngestQueue(ingestQueue)
	}

	return &Handler{
		tokenUsecase: tokenUc,
		emailHandler: emailHandler,
		config:       cfg,
	}
}

// Router builds the gin engine with middleware and routes
func (h *Handler) Router() *gin.Engine {
	r := gin.Default()

	// CORS middleware
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	r.Use(requestMetrics())

	SetupRoutes(r, h.tokenUsecase, h.emailHandler)
	return r
}

// shutdownTimeout bounds how long in-flight requests get once ctx is done
const shutdownTimeout = 15 * time.Second

// Run serves HTTP on addr until ctx is done, then shuts down gracefully.
// It returns nil after a clean shutdown.
func (h *Handler) Run(ctx context.Context, addr string) error {
	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:    addr,
		Handler: h.Router(),
	}
	return serve(ctx, srv, srv.ListenAndServe)
}

func serve(ctx context.Context, srv *http.Server, listen func() error) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- listen()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
