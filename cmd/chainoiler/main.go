package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaunagostinho/chain-oiler/internal/accessory"
	"github.com/shaunagostinho/chain-oiler/internal/button"
	"github.com/shaunagostinho/chain-oiler/internal/clock"
	"github.com/shaunagostinho/chain-oiler/internal/faultlog"
	"github.com/shaunagostinho/chain-oiler/internal/gps"
	"github.com/shaunagostinho/chain-oiler/internal/imu"
	"github.com/shaunagostinho/chain-oiler/internal/logger"
	"github.com/shaunagostinho/chain-oiler/internal/mode"
	"github.com/shaunagostinho/chain-oiler/internal/oiler"
	"github.com/shaunagostinho/chain-oiler/internal/pump"
	"github.com/shaunagostinho/chain-oiler/internal/server"
	"github.com/shaunagostinho/chain-oiler/internal/store"
	"github.com/shaunagostinho/chain-oiler/internal/thermo"
	"github.com/shaunagostinho/chain-oiler/web"
)

func main() {
	configPath := flag.String("config", server.DefaultConfigPath, "Path to config file")
	demo := flag.Bool("demo", false, "Run with simulated GPS, IMU, thermometer and pump")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	logLevel := flag.String("log", "", "Override log level (debug, info, warn, error)")
	factoryReset := flag.Bool("factory-reset", false, "Clear persisted state and oiler settings, then exit")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] chainoiler starting")

	cfg := server.LoadConfig(*configPath)
	if *demo {
		cfg.GPS.Type = "demo"
		cfg.Pump.Type = "sim"
		cfg.Accessory.Type = "sim"
		cfg.IMU.Type = "demo"
		cfg.Temp.Type = "demo"
		cfg.Button.Enabled = false
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	logr := logger.New(log.Default(), logger.ParseLevel(cfg.Logging.Level))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	faults := faultlog.New(cfg.FaultLog, logr)

	st, err := store.New(cfg.Store)
	if err != nil {
		logr.Fatalf("%v", err)
	}
	defer st.Close()
	if rs, ok := st.(*store.RedisStore); ok {
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rs.Ping(pingCtx); err != nil {
			logr.Warnf("%v, state will not persist until redis is reachable", err)
			faults.Fault("store", err.Error())
		}
		pingCancel()
	}

	if *factoryReset {
		if err := st.Clear(ctx); err != nil {
			logr.Fatalf("factory reset: %v", err)
		}
		cfg.Oiler = oiler.DefaultSettings()
		cfg.IMU.Calibration = imu.DefaultCalibration()
		if err := cfg.Save(); err != nil {
			logr.Fatalf("factory reset: %v", err)
		}
		log.Printf("[main] factory reset done (%s)", cfg.Path())
		return
	}

	clk := clock.NewMonotonic()
	settings := cfg.Settings()

	// Pump. A failed GPIO request leaves the service running without oil
	// so that the status page still shows the fault.
	var driver pump.Driver = &pump.SimDriver{}
	if cfg.Pump.Type == "gpio" {
		d, err := pump.OpenGPIO(cfg.Pump.GPIO, settings.Pump.RampUpMs, settings.Pump.RampDownMs)
		if err != nil {
			logr.Errorf("%v", err)
			faults.Fault("pump", err.Error())
		} else {
			driver = d
		}
	}
	defer driver.Close()
	logr.Infof("pump driver: %s", driver.Name())

	// Accessory output
	var auxOut accessory.Output = &accessory.SimOutput{}
	if cfg.Accessory.Type == "gpio" {
		out, err := accessory.OpenGPIO(cfg.Accessory.GPIO)
		if err != nil {
			logr.Errorf("%v", err)
			faults.Fault("accessory", err.Error())
		} else {
			auxOut = out
		}
	}
	defer auxOut.Close()
	logr.Infof("accessory output: %s (%s)", auxOut.Name(), settings.Accessory.Mode)

	// IMU
	var imuSensor imu.Sensor
	var attitude *imu.Attitude
	var imuEval mode.IMU
	if cfg.IMU.Type == "demo" {
		imuSensor = imu.NewDemo()
		attitude = imu.NewAttitude(cfg.IMU.Calibration, clk)
		imuEval = attitude
		go connectWithRetry(ctx, logr.WithTag("imu"), imuSensor, 10)
	}

	// GPS
	var gpsProv gps.Provider
	switch cfg.GPS.Type {
	case "nmea":
		gpsProv = gps.NewNMEA(gps.NMEAConfig{
			PortPath: cfg.GPS.PortPath,
			BaudRate: cfg.GPS.BaudRate,
		}, logr)
	case "disabled":
		gpsProv = nil
	default:
		d := gps.NewDemoGPS()
		d.LossEvery, d.LossFor = cfg.GPS.LossEvery, cfg.GPS.LossFor
		gpsProv = d
	}
	if gpsProv != nil {
		go connectWithRetry(ctx, logr.WithTag("gps"), gpsProv, 10)
		defer gpsProv.Close()
	}

	// Button
	var edges <-chan button.Edge
	if cfg.Button.Enabled {
		in, err := button.OpenGPIO(cfg.Button.GPIO, clk)
		if err != nil {
			logr.Warnf("%v", err)
		} else {
			defer in.Close()
			edges = in.Edges()
		}
	}

	o := oiler.New(settings, oiler.Deps{
		Clock:     clk,
		Driver:    driver,
		Accessory: auxOut,
		IMU:       imuEval,
		Faults:    faults,
		Log:       logr,
	})
	state, err := st.Load(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		logr.Infof("no saved state, starting fresh")
	case err != nil:
		logr.Warnf("state load failed, starting fresh: %v", err)
	default:
		o.Restore(state)
	}

	srv := server.New(cfg, server.Deps{
		Oiler:    o,
		Clock:    clk,
		Store:    st,
		GPS:      gpsProv,
		IMU:      imuSensor,
		Attitude: attitude,
		Thermo:   thermo.New(cfg.Temp),
		Buttons:  edges,
		Faults:   faults,
		WebFS:    web.FS,
		Log:      logr,
	})
	if err := srv.Run(ctx); err != nil {
		log.Printf("[main] server exited: %v", err)
	}
}

// connectable is satisfied by gps.Provider and imu.Sensor.
type connectable interface {
	Connect() error
	Close() error
}

// connectWithRetry attempts to connect with exponential backoff.
// Starts at 1s, doubles each attempt up to 60s, retries up to maxAttempts
// then continues at max interval indefinitely.
func connectWithRetry(ctx context.Context, l *logger.Logger, c connectable, maxAttempts int) {
	delay := 1 * time.Second
	maxDelay := 60 * time.Second
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.Connect(); err != nil {
			attempt++
			if attempt <= maxAttempts {
				l.Warnf("connect attempt %d/%d failed: %v (retry in %v)",
					attempt, maxAttempts, err, delay)
			} else {
				l.Warnf("connect attempt %d failed: %v (retry in %v)",
					attempt, err, delay)
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		} else {
			l.Infof("connected successfully (attempt %d)", attempt+1)
			return
		}
	}
}
