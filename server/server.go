package server

import (
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"
	rtmp "github.com/torresjeff/rtmp-protocol"
	"github.com/torresjeff/rtmp-protocol/config"
	"go.uber.org/zap"
)

var ErrServerClosed = errors.New("server closed")

// Server represents the RTMP server, where a client/app can stream media to. The server listens for incoming connections.
type Server struct {
	// Config defaults to config.Default().
	Config *config.Config
	Logger *zap.Logger
	// Broadcaster defaults to one backed by an InMemoryContext.
	Broadcaster *Broadcaster
	// Metrics is shared by every session.
	Metrics rtmp.Metrics

	initOnce sync.Once
	mu       sync.Mutex
	listener net.Listener
	sessions map[string]*Session
	closed   bool
	wg       sync.WaitGroup
}

func (s *Server) init() {
	s.initOnce.Do(func() {
		if s.Config == nil {
			s.Config = config.Default()
		}
		if s.Logger == nil {
			s.Logger = zap.NewNop()
		}
		if s.Broadcaster == nil {
			s.Broadcaster = NewBroadcaster(NewInMemoryContext(), s.Logger)
		}
		s.sessions = make(map[string]*Session)
	})
}

// Listen starts the server and listens for any incoming connections on Config.Listen.
func (s *Server) Listen() error {
	s.init()

	tcpAddress, err := net.ResolveTCPAddr("tcp", s.Config.Listen)
	if err != nil {
		return errors.Wrap(err, "[server] error resolving tcp address")
	}

	listener, err := net.ListenTCP("tcp", tcpAddress)
	if err != nil {
		return errors.Wrapf(err, "[server] listen on %s", s.Config.Listen)
	}
	return s.Serve(listener)
}

// Serve accepts connections on listener until Close is called, in which case it returns nil.
func (s *Server) Serve(listener net.Listener) error {
	s.init()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		listener.Close()
		return ErrServerClosed
	}
	s.listener = listener
	s.mu.Unlock()

	s.Logger.Info("[server] listening", zap.Stringer("addr", listener.Addr()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.Logger.Error("[server] error accepting incoming connection", zap.Error(err))
			continue
		}

		s.Logger.Info("[server] accepted incoming connection", zap.Stringer("remote", conn.RemoteAddr()))
		s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	sess, err := NewSession(conn, s.Broadcaster, s.Config, s.Logger, s.Metrics)
	if err != nil {
		s.Logger.Error("[server] error creating session", zap.Error(err))
		conn.Close()
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.sessions[sess.sessionID] = sess
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()

		s.Logger.Info("[server] starting session", zap.String("sessionID", sess.sessionID))
		err := sess.Run()

		s.mu.Lock()
		delete(s.sessions, sess.sessionID)
		s.mu.Unlock()

		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
			s.Logger.Info("[server] session ended with an error", zap.String("sessionID", sess.sessionID), zap.Error(err))
		} else {
			s.Logger.Info("[server] session ended", zap.String("sessionID", sess.sessionID))
		}
	}()
}

// Sessions returns the number of connections being served.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close stops accepting connections, closes every session and waits for them to end.
func (s *Server) Close() error {
	s.init()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.wg.Wait()
		return nil
	}
	s.closed = true
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for _, sess := range s.sessions {
		sess.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}
