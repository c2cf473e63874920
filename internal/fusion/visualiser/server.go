// Package visualiser streams shaded frames and pipeline status to remote
// viewers over gRPC.
package visualiser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/depthfusion/internal/fusion/pipeline"
	"github.com/banshee-data/depthfusion/internal/fusion/volume"
)

const (
	maxMsgSize        = 16 * 1024 * 1024
	frameQueueSize    = 8
	defaultClientBuf  = 4
	defaultMaxClients = 5
	statsInterval     = 30 * time.Second
)

// Config configures the visualiser server.
type Config struct {
	ListenAddr string
	MaxClients int
	// ClientBuffer is the number of encoded frames queued per client
	// before frames for that client are dropped.
	ClientBuffer int
}

// DefaultConfig returns a localhost-only configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   "localhost:50051",
		MaxClients:   defaultMaxClients,
		ClientBuffer: defaultClientBuf,
	}
}

// StatusSource supplies the latest pipeline status. *pipeline.Pipeline
// satisfies it.
type StatusSource interface {
	Status() *pipeline.Status
}

// Server fans shaded frames out to connected viewers. It implements
// pipeline.Presenter; Present never blocks the fusion pass.
type Server struct {
	cfg Config

	sourceMu sync.RWMutex
	source   StatusSource

	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener

	frames chan *volume.ShadedImage

	clientsMu sync.RWMutex
	clients   map[uint64]*client
	nextID    atomic.Uint64

	presented atomic.Uint64
	dropped   atomic.Uint64
	sent      atomic.Uint64

	running  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

type client struct {
	id     uint64
	frames chan *structpb.Struct
	// dropped counts frames this client was too slow to take.
	dropped atomic.Uint64
}

var _ pipeline.Presenter = (*Server)(nil)

// NewServer creates a server. Until a source is set GetStatus reports
// Unavailable and health stays NOT_SERVING.
func NewServer(cfg Config, source StatusSource) *Server {
	def := DefaultConfig()
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = def.MaxClients
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = def.ClientBuffer
	}

	s := &Server{
		cfg:     cfg,
		source:  source,
		health:  health.NewServer(),
		frames:  make(chan *volume.ShadedImage, frameQueueSize),
		clients: make(map[uint64]*client),
		stopCh:  make(chan struct{}),
	}
	s.grpcServer = grpc.NewServer(
		grpc.MaxSendMsgSize(maxMsgSize),
		grpc.MaxRecvMsgSize(maxMsgSize),
	)
	s.grpcServer.RegisterService(&serviceDesc, s)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.setServing(false)
	return s
}

// SetSource attaches the status source. The pipeline needs the server as
// its presenter before it exists, so the source is usually set after
// construction.
func (s *Server) SetSource(src StatusSource) {
	s.sourceMu.Lock()
	s.source = src
	s.sourceMu.Unlock()
}

func (s *Server) status() *pipeline.Status {
	s.sourceMu.RLock()
	src := s.source
	s.sourceMu.RUnlock()
	if src == nil {
		return nil
	}
	return src.Status()
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(lis)
}

// Serve serves on an existing listener in the background.
func (s *Server) Serve(lis net.Listener) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("visualiser already running")
	}
	s.listener = lis
	s.refreshHealth()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			opsf("gRPC server error: %v", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		s.broadcastLoop()
	}()

	diagf("listening on %s", lis.Addr())
	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop disconnects every viewer and shuts the server down.
func (s *Server) Stop() {
	if !s.running.Load() {
		return
	}
	s.stopOnce.Do(func() {
		s.health.Shutdown()
		close(s.stopCh)
		s.grpcServer.Stop()
		s.wg.Wait()
		s.running.Store(false)
		diagf("stopped: presented=%d sent=%d dropped=%d", s.presented.Load(), s.sent.Load(), s.dropped.Load())
	})
}

// Present queues img for the viewers. Frames are dropped when the queue
// is full.
func (s *Server) Present(img *volume.ShadedImage) {
	if img == nil || !s.running.Load() {
		return
	}
	select {
	case s.frames <- img:
		s.presented.Add(1)
	default:
		if n := s.dropped.Add(1); n%100 == 1 {
			diagf("frame queue full, %d frames dropped", n)
		}
	}
}

// broadcastLoop encodes each queued frame once and hands it to every
// client.
func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			st := s.Stats()
			diagf("clients=%d presented=%d sent=%d dropped=%d", st.Clients, st.Presented, st.Sent, st.Dropped)
		case img := <-s.frames:
			s.refreshHealth()
			msg, err := FrameStruct(img)
			if err != nil {
				opsf("frame %d: encode: %v", img.Sequence, err)
				continue
			}
			s.clientsMu.RLock()
			for _, c := range s.clients {
				select {
				case c.frames <- msg:
				default:
					c.dropped.Add(1)
				}
			}
			s.clientsMu.RUnlock()
		}
	}
}

func (s *Server) refreshHealth() {
	s.setServing(s.status().Tracking())
}

func (s *Server) setServing(ok bool) {
	v := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		v = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", v)
	s.health.SetServingStatus(ServiceName, v)
}

func (s *Server) addClient() (*client, error) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if len(s.clients) >= s.cfg.MaxClients {
		return nil, status.Errorf(codes.ResourceExhausted, "max clients (%d) reached", s.cfg.MaxClients)
	}
	c := &client{
		id:     s.nextID.Add(1),
		frames: make(chan *structpb.Struct, s.cfg.ClientBuffer),
	}
	s.clients[c.id] = c
	diagf("client %d connected (%d total)", c.id, len(s.clients))
	return c, nil
}

func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c.id)
	n := len(s.clients)
	s.clientsMu.Unlock()
	diagf("client %d disconnected (%d remaining, %d frames dropped)", c.id, n, c.dropped.Load())
}

// GetStatus returns the latest pipeline status.
func (s *Server) GetStatus(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st := s.status()
	if st == nil {
		return nil, status.Error(codes.Unavailable, "no status available")
	}
	msg, err := StatusStruct(st)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode status: %v", err)
	}
	return msg, nil
}

// StreamFrames sends every shaded frame presented after the call until
// the client disconnects or the server stops.
func (s *Server) StreamFrames(_ *emptypb.Empty, stream grpc.ServerStream) error {
	c, err := s.addClient()
	if err != nil {
		return err
	}
	defer s.removeClient(c)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stopCh:
			return status.Error(codes.Unavailable, "server stopping")
		case msg := <-c.frames:
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
			s.sent.Add(1)
			tracef("client %d: sent frame %v", c.id, msg.GetFields()["sequence"].GetNumberValue())
		}
	}
}

// Stats is a snapshot of the server counters.
type Stats struct {
	Clients   int    `json:"clients"`
	Presented uint64 `json:"presented"`
	Sent      uint64 `json:"sent"`
	Dropped   uint64 `json:"dropped"`
}

// Stats returns the current counters.
func (s *Server) Stats() Stats {
	s.clientsMu.RLock()
	n := len(s.clients)
	s.clientsMu.RUnlock()
	return Stats{
		Clients:   n,
		Presented: s.presented.Load(),
		Sent:      s.sent.Load(),
		Dropped:   s.dropped.Load(),
	}
}
