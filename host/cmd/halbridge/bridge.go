package main

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gohal/board"
	hostserial "gohal/host/serial"
)

// backoff is how long the loopback waits for receiver room.
const backoff = time.Millisecond

// runBridge pumps host bytes into the UART driver, loops the UART's wire
// back onto its receive pin, and pumps received bytes back to the host. It
// returns when ctx is done or a pump fails; port is closed on return.
func runBridge(ctx context.Context, ch *board.SerialChannel, port hostserial.Port, logger *zap.SugaredLogger) error {
	g, ctx := errgroup.WithContext(ctx)
	drv := ch.Driver

	g.Go(func() error {
		<-ctx.Done()
		return port.Close()
	})

	// host -> driver
	g.Go(func() error {
		buf := make([]byte, 64)
		for {
			n, err := port.Read(buf)
			if n > 0 {
				if _, werr := drv.Write(ctx, buf[:n]); werr != nil {
					return quiet(ctx, werr)
				}
			}
			switch {
			case err == nil:
			case errors.Is(err, io.EOF) && n == 0 && ctx.Err() == nil:
				// read timeout
				select {
				case <-ctx.Done():
				case <-time.After(backoff):
				}
			default:
				return quiet(ctx, errors.Wrap(err, "host read"))
			}
		}
	})

	// wire loopback
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case b := <-ch.Wire.Transmitted():
				for !roomFor(ch) {
					select {
					case <-ctx.Done():
						return nil
					case <-time.After(backoff):
					}
				}
				ch.Wire.Inject(b)
			}
		}
	})

	// driver -> host
	g.Go(func() error {
		buf := make([]byte, 64)
		for {
			if _, err := drv.Read(ctx, buf[:1]); err != nil {
				return quiet(ctx, err)
			}
			n := 1
			for n < len(buf) {
				b, err := drv.ReadByte()
				if err != nil {
					break
				}
				buf[n] = b
				n++
			}
			if _, err := port.Write(buf[:n]); err != nil {
				return quiet(ctx, errors.Wrap(err, "host write"))
			}
			if errs := drv.Errors(); errs != 0 {
				logger.Warnw("line errors", "channel", ch.Config.Name, "errors", errs)
			}
		}
	})

	err := g.Wait()
	logger.Debugw("bridge stopped", "channel", ch.Config.Name, "dropped", ch.Wire.Dropped())
	return err
}

// roomFor reports whether one more byte on the wire can reach the input
// queue. Bytes still in the FIFO are drained into the queue by the
// interrupt handler, so both must fit. Draining lowers Pending and
// InputFree alike; reading Pending first keeps the answer conservative.
func roomFor(ch *board.SerialChannel) bool {
	pending := ch.Wire.Pending()
	return ch.Wire.Space() > 0 && ch.Driver.InputFree() > pending
}

// quiet drops errors caused by shutdown.
func quiet(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}
