package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/emuconsole/api"
	"github.com/luma/emuconsole/internal/env"
	"github.com/luma/emuconsole/looper"
	"github.com/luma/emuconsole/protocol"
	"github.com/luma/emuconsole/storage"
	"github.com/luma/emuconsole/transport"
)

var (
	// The host to listen on
	host string

	// The port to listen for http requests on
	httpPort string

	// The console port, derived from instance unless set
	port int

	// The core instance number
	instance int

	// Number of SO_REUSEPORT listeners on the console port
	numListeners int

	// Framebuffer geometry
	width, height, bytesPerPixel int

	trace bool
)

func init() {
	flags := CoreCmd.PersistentFlags()

	flags.IntVarP(&port, "port", "p", 0, "The console port, defaults to the instance's port")
	flags.IntVarP(&instance, "instance", "i", 0, "The core instance, picks the console port")
	flags.StringVar(&httpPort, "http-port", "7362", "The port to listen to HTTP requests on")
	flags.StringVarP(&host, "host", "a", "127.0.0.1", "The host to listen on")
	flags.IntVar(&numListeners, "listeners", 1, "The number of listeners sharing the console port")
	flags.IntVar(&width, "width", 320, "The framebuffer width")
	flags.IntVar(&height, "height", 480, "The framebuffer height")
	flags.IntVar(&bytesPerPixel, "bytes-per-pixel", 2, "The framebuffer bytes per pixel")
	flags.BoolVar(&trace, "trace", false, "Log every frame received")
}

var CoreCmd = &cobra.Command{
	Use:   "core",
	Short: "Run the console of an emulator core",
	Long: `Run the console of an emulator core

Usage
	emuconsole core --instance 0

The console listens on 5554 + 2*instance. UIs switch console connections
to attach-UI, ui-core-control, core-ui-control, user-events and
framebuffer. An HTTP admin API listens on --http-port.
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

		if instance < 0 || instance >= protocol.MaxCoreProcs {
			return errors.New("instance must be between 0 and 15")
		}
		if !cmd.Flags().Changed("port") {
			port = protocol.ConsolePort(instance)
		}

		fileLimit, err := setFileLimit()
		if err != nil {
			return err
		}

		log.Info("Set file limit", zap.Uint64("fileLimit", fileLimit))

		store := storage.NewHardwareStore()
		defer store.Close()

		if conf.HardwareConfig != "" {
			if err := storage.LoadHardwareConfig(ctx, conf.HardwareConfig, store); err != nil {
				return err
			}
			log.Info("Loaded hardware config", zap.String("path", conf.HardwareConfig))

			watcher, err := storage.NewHardwareWatcher(conf.HardwareConfig, store, log.Named("hardware"))
			if err != nil {
				return err
			}
			defer watcher.Close()

			go func() {
				if err := watcher.Run(ctx); err != nil {
					log.Warn("Stopped watching hardware config", zap.Error(err))
				}
			}()
		}

		surface := storage.NewSurface(width, height, bytesPerPixel)
		defer surface.Close()

		control := transport.NewControl(transport.ControlOptions{
			Hardware: store,
			DataDir:  conf.DataDir,
			Modem: func(registered bool) {
				log.Info("Modem registration changed", zap.Bool("registered", registered))
			},
			Log: log.Named("control"),
		})

		l, err := looper.New(log.Named("looper"))
		if err != nil {
			return err
		}
		defer l.Close()

		// The loop outlives the console server so sessions can be torn down
		// on it.
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

		server, err := transport.NewServer(transport.Options{
			Host:         host,
			Port:         port,
			NumListeners: numListeners,
			Looper:       l,
			Control:      control,
			Store:        store,
			Surface:      surface,
			Trace:        trace,
			Log:          log.Named("transport"),
		})
		if err != nil {
			return err
		}

		if err := server.Start(ctx); err != nil {
			return err
		}

		router := api.NewRouter(api.Options{
			Admin:     server,
			Surface:   surface,
			DebugHTTP: conf.DebugHTTP,
			Log:       log.Named("api"),
		})

		s := &http.Server{
			Addr:    net.JoinHostPort(host, httpPort),
			Handler: router,
		}

		// Initializing the server in a goroutine so that
		// it won't block the graceful shutdown handling below
		go func() {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Http server errored", zap.Error(err))
			}
		}()

		log.Info("Listening",
			zap.Any("config", conf),
			zap.String("console", server.Addr()),
			zap.String("httpPort", httpPort))

		// Listen for the interrupt signal.
		<-ctx.Done()

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		// The context is used to inform the server it has 5 seconds to finish
		// the request it is currently handling
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.SetKeepAlivesEnabled(false)

		if err := s.Shutdown(shutdownCtx); err != nil {
			log.Error("Http server forced to shutdown", zap.Error(err))
		}

		if err := server.Close(); err != nil {
			log.Error("Console server forced to shutdown", zap.Error(err))
		}

		log.Info("Exiting")
		return nil
	},
}
