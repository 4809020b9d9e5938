// Package rcontest provides an in-process RCON server for tests.
package rcontest

import (
	"net"
	"sync"
	"testing"

	"github.com/ernie/whitelist-warden/internal/rcon"
)

// HandlerFunc answers one incoming packet with zero or more frames
type HandlerFunc func(p rcon.Packet) []rcon.Packet

// Server is a scriptable RCON endpoint listening on loopback
type Server struct {
	ln       net.Listener
	password string

	mu       sync.Mutex
	handler  HandlerFunc
	conns    []net.Conn
	accepted int
	commands []string

	wg sync.WaitGroup
}

// NewServer starts a server that authenticates against password and, by
// default, echoes every command back as "echo: <command>"
func NewServer(t testing.TB, password string) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("rcontest: listen: %v", err)
	}
	s := &Server{ln: ln, password: password}
	s.handler = func(p rcon.Packet) []rcon.Packet {
		return Reply(p, "echo: "+string(p.Body))
	}
	s.wg.Add(1)
	go s.accept()
	t.Cleanup(s.Close)
	return s
}

// Addr returns host:port of the listener
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Handle replaces the command handler. Auth packets are always handled by the server.
func (s *Server) Handle(h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Respond installs a handler that maps exact commands to responses
func (s *Server) Respond(responses map[string]string) {
	s.Handle(func(p rcon.Packet) []rcon.Packet {
		return Reply(p, responses[string(p.Body)])
	})
}

// Commands returns every command received so far, in order
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Accepted returns the number of connections accepted
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// DropConnections closes every open connection without stopping the listener
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

// Close stops the listener and all connections
func (s *Server) Close() {
	s.ln.Close()
	s.DropConnections()
	s.wg.Wait()
}

// Reply builds a single response frame for p
func Reply(p rcon.Packet, body string) []rcon.Packet {
	return []rcon.Packet{{ID: p.ID, Type: rcon.TypeResponseValue, Body: []byte(body)}}
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.accepted++
		s.mu.Unlock()
		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	for {
		p, err := rcon.ReadPacket(conn)
		if err != nil {
			return
		}

		var out []rcon.Packet
		if p.Type == rcon.TypeAuth {
			out = s.authenticate(p)
		} else {
			s.mu.Lock()
			s.commands = append(s.commands, string(p.Body))
			h := s.handler
			s.mu.Unlock()
			out = h(p)
		}

		for _, frame := range out {
			if err := rcon.WritePacket(conn, frame); err != nil {
				return
			}
		}
	}
}

func (s *Server) authenticate(p rcon.Packet) []rcon.Packet {
	if string(p.Body) != s.password {
		return []rcon.Packet{{ID: -1, Type: rcon.TypeAuthResponse}}
	}
	return []rcon.Packet{
		{ID: p.ID, Type: rcon.TypeResponseValue},
		{ID: p.ID, Type: rcon.TypeAuthResponse},
	}
}
