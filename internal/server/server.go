package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shaunagostinho/chain-oiler/internal/button"
	"github.com/shaunagostinho/chain-oiler/internal/clock"
	"github.com/shaunagostinho/chain-oiler/internal/faultlog"
	"github.com/shaunagostinho/chain-oiler/internal/gps"
	"github.com/shaunagostinho/chain-oiler/internal/imu"
	"github.com/shaunagostinho/chain-oiler/internal/logger"
	"github.com/shaunagostinho/chain-oiler/internal/oiler"
	"github.com/shaunagostinho/chain-oiler/internal/store"
	"github.com/shaunagostinho/chain-oiler/internal/thermo"
)

// Deps are the collaborators the server drives. Oiler, Clock and Store are
// required; the rest may be nil when the hardware is absent.
type Deps struct {
	Oiler    *oiler.Oiler
	Clock    clock.Source
	Store    store.Store
	GPS      gps.Provider
	IMU      imu.Sensor
	Attitude *imu.Attitude // evaluates IMU readings, required with IMU
	Thermo   thermo.Sensor
	Buttons  <-chan button.Edge
	Faults   *faultlog.Recorder
	WebFS    fs.FS
	Log      *logger.Logger
}

// Server runs the control loop that owns the oiler and serves its status
// over HTTP and WebSocket.
type Server struct {
	cfg  *Config
	deps Deps
	log  *logger.Logger

	requests  chan request
	saves     chan store.State
	saverDone chan struct{}

	snapMu sync.RWMutex
	snap   []byte // latest status frame

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	Status oiler.Snapshot `json:"status"`
	Stamp  int64          `json:"stamp"` // Unix ms
}

// request runs fn on the control loop goroutine.
type request struct {
	fn    func(now clock.Millis) error
	reply chan error
}

// New creates a Server.
func New(cfg *Config, d Deps) *Server {
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	if d.Thermo == nil {
		d.Thermo = thermo.None{}
	}
	return &Server{
		cfg:       cfg,
		deps:      d,
		log:       d.Log.WithTag("server"),
		requests:  make(chan request),
		saves:     make(chan store.State, 1),
		saverDone: make(chan struct{}),
		clients:   make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.deps.WebFS != nil {
		mux.Handle("/", http.FileServer(http.FS(s.deps.WebFS)))
	}
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/command", s.handleCommand)
	mux.HandleFunc("/api/imu/calibrate", s.handleCalibrate)
	return mux
}

// Run starts the control loop and the HTTP server and waits for ctx. The
// oiler keeps running if the listener fails.
func (s *Server) Run(ctx context.Context) error {
	s.start(ctx)

	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	s.log.Infof("listening on %s", s.cfg.Server.ListenAddr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		s.log.Errorf("http server stopped: %v, oiling continues", err)
	}
	<-ctx.Done()
	<-s.saverDone
	if s.deps.Faults != nil {
		s.deps.Faults.Close()
	}
	return nil
}

// start launches the reader, control and saver goroutines.
func (s *Server) start(ctx context.Context) {
	gpsCh := make(chan gps.Data, 4)
	imuCh := make(chan imu.Reading, 4)
	tempCh := make(chan tempSample, 1)

	go s.readGPS(ctx, gpsCh)
	if s.deps.IMU != nil && s.deps.Attitude != nil {
		go s.readIMU(ctx, imuCh)
	}
	go s.readThermo(ctx, tempCh)
	go s.saveLoop()
	go s.controlLoop(ctx, gpsCh, imuCh, tempCh)
}

// do runs fn on the control loop and returns its error.
func (s *Server) do(ctx context.Context, fn func(now clock.Millis) error) error {
	req := request{fn: fn, reply: make(chan error, 1)}
	select {
	case s.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("ws upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()
	s.log.Infof("ws client connected (%d total)", n)

	if data := s.lastFrame(); data != nil {
		client.send <- data
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine, only used to detect the close
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			s.clientsMu.Unlock()
			close(client.send)
			s.log.Infof("ws client disconnected (%d total)", n)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	data := s.lastFrame()
	if data == nil {
		http.Error(w, "starting", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// handleConfig serves the config. Writes need an open config session and
// refresh it.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if !s.touchSession(w, r) {
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.cfg.Validate(s.log)
		if err := s.cfg.Save(); err != nil {
			s.log.Errorf("config save failed: %v", err)
		}
		settings := s.cfg.Settings()
		err = s.do(r.Context(), func(clock.Millis) error {
			s.deps.Oiler.Configure(settings)
			return nil
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeOK(w)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var cmd oiler.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	err := s.do(r.Context(), func(now clock.Millis) error {
		return s.deps.Oiler.Command(cmd, now)
	})
	switch {
	case errors.Is(err, oiler.ErrRejected):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.log.Infof("command %s on=%v", cmd.Name, cmd.On)
		writeOK(w)
	}
}

// handleCalibrate updates the IMU calibration from the current attitude.
// what is "zero", "sidestand", "chain-left" or "chain-right".
func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	att := s.deps.Attitude
	if att == nil {
		http.Error(w, "no IMU", http.StatusNotFound)
		return
	}
	what := r.URL.Query().Get("what")
	if !s.touchSession(w, r) {
		return
	}
	var cal imu.Calibration
	err := s.do(r.Context(), func(clock.Millis) error {
		switch what {
		case "zero":
			cal = att.CalibrateZero()
		case "sidestand":
			cal = att.CalibrateSideStand()
		case "chain-left":
			cal = att.SetChainSide(false)
		case "chain-right":
			cal = att.SetChainSide(true)
		default:
			return errors.New("unknown calibration " + what)
		}
		return nil
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.cfg.SetCalibration(cal)
	if err := s.cfg.Save(); err != nil {
		s.log.Errorf("config save failed: %v", err)
	}
	s.log.Infof("imu calibration updated (%s)", what)
	writeOK(w)
}

// touchSession refreshes the config session or writes 403.
func (s *Server) touchSession(w http.ResponseWriter, r *http.Request) bool {
	err := s.do(r.Context(), func(now clock.Millis) error {
		return s.deps.Oiler.Command(oiler.Command{Name: oiler.CmdSessionTouch}, now)
	})
	switch {
	case errors.Is(err, oiler.ErrRejected):
		http.Error(w, "config session closed", http.StatusForbidden)
		return false
	case err != nil:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return false
	}
	return true
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// publish stores the latest frame and sends it to all clients.
func (s *Server) publish(snap oiler.Snapshot) {
	data, err := json.Marshal(Frame{Status: snap, Stamp: time.Now().UnixMilli()})
	if err != nil {
		return
	}
	s.snapMu.Lock()
	s.snap = data
	s.snapMu.Unlock()

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

func (s *Server) lastFrame() []byte {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap
}
