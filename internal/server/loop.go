package server

import (
	"context"
	"time"

	"github.com/shaunagostinho/chain-oiler/internal/gps"
	"github.com/shaunagostinho/chain-oiler/internal/imu"
	"github.com/shaunagostinho/chain-oiler/internal/store"
)

const (
	// TickInterval is the control loop period.
	TickInterval = 10 * time.Millisecond
	gpsInterval  = 100 * time.Millisecond // 10 Hz
	tempInterval = time.Second
	saveTimeout  = 3 * time.Second
)

type tempSample struct {
	c         float64
	connected bool
}

// controlLoop is the only goroutine that touches the oiler and the attitude
// evaluator. Everything else reaches it through channels.
func (s *Server) controlLoop(ctx context.Context, gpsCh <-chan gps.Data, imuCh <-chan imu.Reading, tempCh <-chan tempSample) {
	o := s.deps.Oiler
	clk := s.deps.Clock

	tick := time.NewTicker(TickInterval)
	pub := time.NewTicker(time.Duration(s.cfg.Server.BroadcastMs) * time.Millisecond)
	defer tick.Stop()
	defer pub.Stop()

	s.publish(o.Snapshot(clk.Now()))
	for {
		select {
		case <-ctx.Done():
			s.queueSave(o.State())
			close(s.saves)
			return

		case d := <-gpsCh:
			o.OnGPS(d, clk.Now())

		case r := <-imuCh:
			s.deps.Attitude.Update(r)

		case t := <-tempCh:
			o.OnTemperature(t.c, t.connected)

		case e := <-s.deps.Buttons:
			o.Button(e)

		case req := <-s.requests:
			req.reply <- req.fn(clk.Now())
			s.publish(o.Snapshot(clk.Now()))

		case <-tick.C:
			now := clk.Now()
			res := o.Tick(now)
			if res.Crashed {
				s.log.Errorf("crash detected, pump locked")
			}
			if o.PersistDue(now) {
				s.queueSave(o.State())
			}

		case <-pub.C:
			s.publish(o.Snapshot(clk.Now()))
		}
	}
}

// readGPS polls the provider. A missing provider or a failed read counts as
// a sample without fix so that the emergency timer still runs.
func (s *Server) readGPS(ctx context.Context, out chan<- gps.Data) {
	ticker := time.NewTicker(gpsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var d gps.Data
		if s.deps.GPS != nil {
			data, err := s.deps.GPS.Read()
			if err != nil {
				s.log.Debugf("gps read: %v", err)
			} else {
				d = *data
			}
		}
		select {
		case out <- d:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) readIMU(ctx context.Context, out chan<- imu.Reading) {
	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.IMU.PollHz))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		r, err := s.deps.IMU.Read()
		if err != nil {
			s.log.Debugf("imu read: %v", err)
			continue
		}
		select {
		case out <- *r:
		default:
			// Loop busy with a pulse, drop the sample
		}
	}
}

// readThermo samples the sensor once a second. A 1-Wire conversion takes
// most of a second, so this never runs on the control loop.
func (s *Server) readThermo(ctx context.Context, out chan<- tempSample) {
	ticker := time.NewTicker(tempInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c, ok := s.deps.Thermo.Read()
		select {
		case out <- tempSample{c: c, connected: ok}:
		default:
		}
	}
}

// queueSave hands st to the saver, replacing a state that is still waiting.
func (s *Server) queueSave(st store.State) {
	select {
	case <-s.saves:
	default:
	}
	s.saves <- st
}

// saveLoop persists states until the control loop closes the channel.
func (s *Server) saveLoop() {
	defer close(s.saverDone)
	for st := range s.saves {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		if err := s.deps.Store.Save(ctx, st); err != nil {
			s.log.Errorf("state save failed: %v", err)
		} else {
			s.log.Debugf("state saved (odometer %.1f km)", st.OdometerKm)
		}
		cancel()
	}
}
