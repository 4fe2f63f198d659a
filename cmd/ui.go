package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/emuconsole/async"
	"github.com/luma/emuconsole/client"
	"github.com/luma/emuconsole/internal/env"
	"github.com/luma/emuconsole/looper"
	"github.com/luma/emuconsole/protocol"
	"github.com/luma/emuconsole/storage"
)

var (
	// The core console to attach to
	addr string

	// How long to keep retrying while the core is not listening yet
	wait time.Duration
)

func init() {
	flags := UICmd.PersistentFlags()

	flags.StringVar(&addr, "addr", net.JoinHostPort("127.0.0.1", strconv.Itoa(protocol.BaseConsolePort)), "The console address of the core")
	flags.DurationVar(&wait, "wait", 0, "Keep retrying a refused connection for this long")
}

var UICmd = &cobra.Command{
	Use:   "ui",
	Short: "Attach a headless UI to a core",
	Long: `Attach a headless UI to a core

Usage
	emuconsole ui --addr 127.0.0.1:5554

Opens every UI stream, logs the commands and framebuffer updates the core
sends and stays attached until interrupted or the core goes away.
`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer signalStop()

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		log, err := env.MakeLogger(conf.LogLevel)
		if err != nil {
			return err
		}
		defer log.Sync() //nolint:errcheck

		l, err := looper.New(log.Named("looper"))
		if err != nil {
			return err
		}
		defer l.Close()

		loopCtx, stopLoop := context.WithCancel(context.Background())
		go func() {
			if err := l.Run(loopCtx); err != nil {
				log.Error("Looper failed", zap.Error(err))
				signalStop()
			}
		}()

		defer func() {
			stopLoop()
			<-l.Stopped()
		}()

		disconnected := make(chan error, 1)

		options := client.Options{
			Addr:     addr,
			Looper:   l,
			Handler:  &uiLogger{log: log.Named("core-ui-control")},
			Renderer: &updateLogger{log: log.Named("framebuffer")},
			OnDisconnect: func(err error) {
				disconnected <- err
			},
			Log: log.Named("client"),
		}

		session, err := attach(ctx, l, options, log)
		if err != nil {
			return fmt.Errorf("attach to %s: %w", addr, err)
		}

		density, err := session.CoreCmd.GetLcdDensity()
		if err != nil {
			return err
		}
		networkDisabled, err := session.CoreCmd.IsNetworkDisabled()
		if err != nil {
			return err
		}

		log.Info("Attached",
			zap.String("addr", addr),
			zap.String("session", session.ID()),
			zap.Int("bitsPerPixel", session.Framebuffer.BitsPerPixel()),
			zap.Int("lcdDensity", density),
			zap.Bool("networkDisabled", networkDisabled))

		select {
		case <-ctx.Done():
			log.Info("Detaching")
			return l.Call(context.Background(), func() {
				if err := session.Close(); err != nil {
					log.Warn("Session did not close cleanly", zap.Error(err))
				}
			})

		case err := <-disconnected:
			return fmt.Errorf("core went away: %w", err)
		}
	},
}

// attach connects a session on the loop, retrying with backoff while the core
// refuses connections and --wait has not run out.
func attach(ctx context.Context, l *looper.Looper, options client.Options, log *zap.Logger) (*client.Session, error) {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(200*time.Millisecond),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0.1),
		backoff.WithMaxElapsedTime(wait),
	)

	var session *client.Session
	operation := func() error {
		var connectErr error
		if err := l.Call(ctx, func() {
			session, connectErr = client.Connect(options)
		}); err != nil {
			return backoff.Permanent(err)
		}

		if connectErr != nil && (wait <= 0 || !errors.Is(connectErr, async.ErrConnectionRefused)) {
			return backoff.Permanent(connectErr)
		}
		return connectErr
	}

	notify := func(err error, next time.Duration) {
		log.Info("Core is not listening yet, retrying", zap.Error(err), zap.Duration("next", next))
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	return session, nil
}

// uiLogger stands in for a window: it logs what the core asks of it.
type uiLogger struct {
	log *zap.Logger
}

func (u *uiLogger) SetWindowScale(scale float64, isDPI bool) {
	u.log.Info("Set window scale", zap.Float64("scale", scale), zap.Bool("dpi", isDPI))
}

func (u *uiLogger) ChangeDisplayBrightness(light string, brightness int) {
	u.log.Info("Change display brightness", zap.String("light", light), zap.Int("brightness", brightness))
}

// updateLogger stands in for a screen.
type updateLogger struct {
	updates int
	log     *zap.Logger
}

func (u *updateLogger) Apply(rect storage.Rect, pixels []byte) error {
	u.updates++
	u.log.Debug("Framebuffer update",
		zap.Int("x", rect.X), zap.Int("y", rect.Y),
		zap.Int("w", rect.W), zap.Int("h", rect.H),
		zap.Int("bytes", len(pixels)),
		zap.Int("updates", u.updates))
	return nil
}
