// Package control implements the optional external command channel spec.md
// §6 names: a line-oriented listener accepting READ_LEDGER and
// RESET_BLOCKCHAIN. Grounded on the original firmware's local_control.c TCP
// socket loop, translated from raw BSD sockets into a net.Listener plus
// bufio.Scanner per connection.
package control

import (
	"bufio"
	"fmt"
	"net"
	"strings"

	"github.com/sirupsen/logrus"

	"meshchain/core"
)

// Server accepts newline-terminated plain-text commands, any number per
// connection, answering each in turn until the client closes.
type Server struct {
	logger   *logrus.Logger
	ledger   *core.Ledger
	listener net.Listener
}

// New wires a Server around an already-created net.Listener (a Unix domain
// socket in production, TCP in tests where Unix sockets are inconvenient).
func New(listener net.Listener, ledger *core.Ledger, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{logger: logger, ledger: ledger, listener: listener}
}

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	return s.listener.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.dispatch(conn, line)
	}
}

func (s *Server) dispatch(conn net.Conn, line string) {
	switch line {
	case "READ_LEDGER":
		s.readLedger(conn)
	case "RESET_BLOCKCHAIN":
		s.ledger.Deinit()
		s.logger.Info("control: ledger reset via control channel")
		fmt.Fprintln(conn, "OK")
	default:
		s.logger.WithField("command", line).Warn("control: unknown command")
		fmt.Fprintln(conn, "ERR unknown command")
	}
}

func (s *Server) readLedger(conn net.Conn) {
	blocks := s.ledger.Snapshot()
	fmt.Fprintf(conn, "%d\n", len(blocks))
	for _, b := range blocks {
		fmt.Fprintf(conn, "%d %x %s %d\n", b.BlockNum, b.Hash, b.PopProofString(), len(b.Sensors))
	}
}
