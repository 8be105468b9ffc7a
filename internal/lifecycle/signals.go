package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Wait blocks until the instance stops, either through a shutdown
// request or SIGINT/SIGTERM. It returns the shutdown error, if any.
func (c *Controller) Wait(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		c.logger.Info("signal received", "signal", sig.String())
		return c.Shutdown(context.Background())
	case <-ctx.Done():
		return c.Shutdown(context.Background())
	case <-c.done:
		return c.stopErr
	}
}
