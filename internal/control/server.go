package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/systemg/systemg/internal/logger"
	"github.com/systemg/systemg/internal/supervisor"
)

// callTimeout bounds how long a single control request may occupy the
// loop's one-request-per-tick budget before the connection gives up on it.
const callTimeout = 30 * time.Second

// Server listens on a Unix-domain socket in the state directory (mode
// 0600, spec.md §4.10) and forwards each framed request to the
// supervisor's serialized control queue (supervisor.Submit).
type Server struct {
	ln   net.Listener
	sup  *supervisor.Supervisor
	log  *logger.Supervisor
	done chan struct{}
}

// New binds socketPath, removing any stale socket left by a previous run.
func New(socketPath string, sup *supervisor.Supervisor, log *logger.Supervisor) (*Server, error) {
	_ = os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("control: listen on %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("control: chmod %s: %w", socketPath, err)
	}
	return &Server{ln: ln, sup: sup, log: log, done: make(chan struct{})}, nil
}

// Serve accepts connections until Close is called.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
				return fmt.Errorf("control: accept: %w", err)
			}
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections and releases the listening socket.
func (s *Server) Close() error {
	close(s.done)
	return s.ln.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	for {
		frame, err := readFrame(conn)
		if err != nil {
			return
		}
		var wreq wireRequest
		if err := json.Unmarshal(frame, &wreq); err != nil {
			s.reply(conn, Reply{ID: wreq.ID, Kind: "err", ErrKind: "ControlError", ErrMessage: "malformed request"})
			continue
		}
		reply := s.dispatch(&wreq)
		if err := s.reply(conn, reply); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(wreq *wireRequest) Reply {
	req := fromWire(wreq)
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	r, err := s.sup.Submit(ctx, req)
	if err != nil {
		return Reply{ID: wreq.ID, Kind: "err", ErrKind: "ControlError", ErrMessage: err.Error()}
	}
	return toWire(wreq.ID, r)
}

func (s *Server) reply(conn net.Conn, r Reply) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("control: marshal reply: %w", err)
	}
	return writeFrame(conn, b)
}

func fromWire(w *wireRequest) *supervisor.Request {
	req := supervisor.NewRequest(supervisor.ReqKind(w.Kind))
	req.Services = w.Services
	req.All = w.All
	req.Graceful = w.Graceful
	req.ForceRolling = w.ForceRolling
	req.LogKind = w.LogKind
	req.LogLines = w.LogLines
	req.Window = w.Window
	req.SpawnName = w.SpawnName
	req.SpawnArgv = w.SpawnArgv
	req.SpawnTTL = w.SpawnTTL
	req.ConfigPath = w.ConfigPath
	return req
}

func toWire(id string, r supervisor.Reply) Reply {
	out := Reply{ID: id, Kind: string(r.Kind), ErrKind: r.ErrKind, ErrMessage: r.ErrMessage, Chunks: r.Chunks}
	if r.Kind == supervisor.ReplyStream {
		out.Chunks = append(append([]string{}, r.Chunks...), "")
	}
	if r.Payload != nil {
		if b, err := json.Marshal(r.Payload); err == nil {
			out.Payload = b
		}
	}
	return out
}
