package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/banshee-data/trajectory.follower/internal/api"
	"github.com/banshee-data/trajectory.follower/internal/bus"
	"github.com/banshee-data/trajectory.follower/internal/config"
	"github.com/banshee-data/trajectory.follower/internal/db"
	"github.com/banshee-data/trajectory.follower/internal/mockdriver"
	"github.com/banshee-data/trajectory.follower/internal/monitoring"
	"github.com/banshee-data/trajectory.follower/internal/purepursuit"
	"github.com/banshee-data/trajectory.follower/internal/serialmux"
	"github.com/banshee-data/trajectory.follower/internal/synthetic"
	"github.com/banshee-data/trajectory.follower/internal/timeutil"
	"github.com/banshee-data/trajectory.follower/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to node config (.json, .yaml); defaults are used when empty")
	devMode     = flag.Bool("dev", false, "Run in dev mode with synthetic pose/plan inputs and a mock controller driver")
	listen      = flag.String("listen", ":8090", "Debug HTTP listen address (empty disables)")
	bridgeAddr  = flag.String("bridge", "", "Serve the message bus over gRPC on this address")
	remoteAddr  = flag.String("remote", "", "Use a remote message bus at this gRPC address instead of an in-process bus")
	dbPath      = flag.String("db", "", "Flight recorder sqlite path (empty disables recording)")
	serialPort  = flag.String("serial-port", "", "Pose receiver serial port (empty disables)")
	baudRate    = flag.Int("baud", serialmux.DefaultBaudRate, "Pose receiver baud rate")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

type runOptions struct {
	ConfigPath string
	Dev        bool
	Listen     string
	Bridge     string
	Remote     string
	DBPath     string
	SerialPort string
	Port       serialmux.PortOptions
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, runOptions{
		ConfigPath: *configPath,
		Dev:        *devMode,
		Listen:     *listen,
		Bridge:     *bridgeAddr,
		Remote:     *remoteAddr,
		DBPath:     *dbPath,
		SerialPort: *serialPort,
		Port:       serialmux.PortOptions{BaudRate: *baudRate},
	})
	if err != nil {
		log.Fatalf("pure-pursuit-wrapper: %v", err)
	}
}

func loadConfig(path string) (*config.NodeConfig, error) {
	if path == "" {
		return config.DefaultNodeConfig(), nil
	}
	cfg, err := config.LoadNodeConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// run starts the node and blocks until it shuts down. Startup failures are
// returned; once the wrapper loop is running it always exits cleanly.
func run(ctx context.Context, opts runOptions) error {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	monitoring.SetZapLogger(monitoring.NewLogger(os.Stderr, monitoring.ParseLevel(cfg.GetLogLevel())))
	logger := monitoring.L()
	topics := cfg.GetTopics()

	// Auxiliary goroutines run until the wrapper has stopped.
	auxCtx, cancelAux := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	var (
		b         bus.Bus
		bridge    *bus.BridgeServer
		rec       *db.DB
		serialMux serialmux.SerialMuxInterface
		server    *http.Server
	)
	// Teardown runs on every return once anything has started, in the
	// reverse order of startup.
	defer func() {
		cancelAux()
		if server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("HTTP server shutdown error", zap.Error(err))
			}
			cancel()
		}
		if bridge != nil {
			bridge.Stop()
		}
		if serialMux != nil {
			serialMux.Close()
		}
		wg.Wait()
		if rec != nil {
			rec.Close()
		}
		if b != nil {
			b.Close()
		}
	}()

	if opts.Remote != "" {
		remote, err := bus.Dial(opts.Remote)
		if err != nil {
			return err
		}
		b = remote
	} else {
		mem := bus.NewMemoryBus()
		b = mem
		if opts.Bridge != "" {
			lis, err := net.Listen("tcp", opts.Bridge)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", opts.Bridge, err)
			}
			bridge = bus.NewBridgeServer(mem)
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := bridge.Serve(lis); err != nil {
					logger.Error("bus bridge stopped", zap.Error(err))
				}
			}()
			logger.Info("bus bridge listening", zap.String("addr", lis.Addr().String()))
		}
	}

	wopts := purepursuit.Options{Config: cfg, Bus: b, VersionID: version.PluginVersion()}
	if opts.DBPath != "" {
		rec, err = db.NewDB(opts.DBPath)
		if err != nil {
			return err
		}
		wopts.Recorder = rec
	}

	w, err := purepursuit.New(wopts)
	if err != nil {
		return err
	}
	if bridge != nil {
		w.Gate().OnShutdown(func(reason string) {
			bridge.SetServing(false)
		})
	}

	serialMux = serialmux.NewDisabledSerialMux()
	if opts.SerialPort != "" {
		port, err := serialmux.NewRealSerialMux(opts.SerialPort, opts.Port)
		if err != nil {
			return err
		}
		serialMux = port
		if err := port.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize pose receiver: %w", err)
		}
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := serialMux.Monitor(auxCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("serial monitor stopped", zap.Error(err))
		}
	}()
	go func() {
		defer wg.Done()
		feed := serialmux.NewPoseFeed(serialMux, b, topics.CurrentPose)
		if err := feed.Run(auxCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("pose feed stopped", zap.Error(err))
		}
	}()

	if opts.Dev {
		if err := startDev(auxCtx, &wg, b, topics); err != nil {
			return err
		}
	}

	if opts.Listen != "" {
		var alerts api.AlertStore
		mux := http.NewServeMux()
		if rec != nil {
			alerts = rec
			if err := rec.AttachAdminRoutes(mux); err != nil {
				return err
			}
		}
		serialMux.AttachAdminRoutes(mux)
		apiServer := api.NewServer(w, alerts)
		mux.Handle("/api/", apiServer.ServeMux())
		apiServer.AttachDebugRoutes(mux)

		lis, err := net.Listen("tcp", opts.Listen)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", opts.Listen, err)
		}
		server = &http.Server{Handler: api.LoggingMiddleware(mux)}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Serve(lis); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server stopped", zap.Error(err))
			}
		}()
		logger.Info("debug HTTP server listening", zap.String("addr", lis.Addr().String()))
	}

	if err := w.Run(ctx); err != nil {
		logger.Error("wrapper stopped", zap.Error(err))
	}
	logger.Info("node shut down", zap.String("reason", w.Gate().Reason()))
	return nil
}

// startDev runs the synthetic inputs and a mock controller driver on b.
func startDev(ctx context.Context, wg *sync.WaitGroup, b bus.Bus, topics config.TopicConfig) error {
	clock := timeutil.RealClock{}
	gen := synthetic.NewGenerator(clock.Now())
	driver, err := mockdriver.New(mockdriver.Options{
		Bus:          b,
		Clock:        clock,
		CommandTopic: topics.VehicleCmd,
		StatusTopic:  topics.RobotStatus,
	})
	if err != nil {
		return err
	}
	driver.EnableRobotic(true)

	wg.Add(2)
	go func() {
		defer wg.Done()
		err := gen.Run(ctx, b, clock, synthetic.Topics{Pose: topics.CurrentPose, Plan: topics.PlanTrajectory})
		if err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Logf("[Dev] synthetic inputs stopped: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := driver.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Logf("[Dev] mock driver stopped: %v", err)
		}
	}()
	return nil
}
