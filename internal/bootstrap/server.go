package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jetsetgo/travelpay/api"
	"github.com/jetsetgo/travelpay/config"
	"github.com/jetsetgo/travelpay/internal/repository"
	"github.com/jetsetgo/travelpay/internal/service/cancellation"
	"github.com/jetsetgo/travelpay/internal/service/checkout"
)

// Run starts the HTTP server and blocks until the context is canceled or
// the server fails.
func Run(ctx context.Context, cfg *config.Config, checkoutSvc checkout.CheckoutUseCase, cancelSvc cancellation.CancellationUseCase, bookings repository.BookingRepository) error {
	router := gin.New()
	router.Use(gin.Recovery())

	paymentHandler := api.NewPaymentHandler(checkoutSvc)
	bookingHandler := api.NewBookingHandler(bookings, cancelSvc)

	paymentHandler.Register(router.Group("/payments"))
	bookingHandler.Register(router.Group("/bookings"))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	httpSrv := &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	}
}
