// server.go is a tomb.v2-supervised TCP accept loop handing connections
// to a bounded worker pool. Every request is self-contained (it already
// carries the pair and user), so each worker drives its own
// connection's request/response loop directly against the engine —
// there is no cross-connection state left to serialize once the
// per-pair engine workers already linearize matching.
package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	tomb "gopkg.in/tomb.v2"

	"huginn/internal/book"
	"huginn/internal/common"
	"huginn/internal/engine"
)

const (
	defaultNWorkers    = 32
	defaultConnTimeout = 30 * time.Second
)

// Server is the TCP front door onto one Engine.
type Server struct {
	address string
	pool    *workerPool
	log     zerolog.Logger
	eng     *engine.Engine

	listener net.Listener
	cancel   context.CancelFunc
}

// New constructs a Server bound to eng but does not start listening;
// call Run to accept connections.
func New(address string, eng *engine.Engine, logger zerolog.Logger) *Server {
	s := &Server{
		address: address,
		eng:     eng,
		log:     logger.With().Str("component", "transport").Logger(),
	}
	s.pool = newWorkerPool(defaultNWorkers, s.handleConnection, s.log)
	return s
}

// Run accepts connections until ctx is cancelled, then waits for every
// in-flight connection worker to drain.
func (s *Server) Run(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	defer s.cancel()

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.address)
	if err != nil {
		return fmt.Errorf("unable to start listener: %w", err)
	}
	s.listener = listener
	defer listener.Close()

	t, ctx := tomb.WithContext(ctx)
	s.pool.setup(t)

	t.Go(func() error {
		<-ctx.Done()
		return listener.Close()
	})

	s.log.Info().Str("address", s.address).Msg("transport server listening")
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return t.Wait()
			default:
				s.log.Error().Err(err).Msg("error accepting connection")
				continue
			}
		}
		s.pool.addTask(conn)
	}
}

// Shutdown stops accepting new connections and cancels the accept
// loop's context.
func (s *Server) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
}

// handleConnection drives one TCP connection's request/response loop
// until the client disconnects, the connection errors, or t dies.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	conn, ok := task.(net.Conn)
	if !ok {
		return fmt.Errorf("improper connection handoff: %T", task)
	}
	defer conn.Close()

	for {
		select {
		case <-t.Dying():
			return nil
		default:
		}

		conn.SetReadDeadline(time.Now().Add(defaultConnTimeout))
		kind, msg, err := ReadMessage(conn)
		if err != nil {
			return nil
		}

		switch kind {
		case Heartbeat:
			continue
		case NewOrder:
			s.handleNewOrder(conn, msg.(NewOrderMessage))
		case CancelOrder:
			s.handleCancelOrder(conn, msg.(CancelOrderMessage))
		case SnapshotRequest:
			s.handleSnapshot(conn, msg.(SnapshotRequestMessage))
		default:
			_ = WriteErrorReport(conn, ErrorReportMsg{Message: ErrInvalidMessageType.Error()})
		}
	}
}

func (s *Server) handleNewOrder(conn net.Conn, m NewOrderMessage) {
	req := engine.SubmitRequest{
		UserID:      m.UserID,
		Pair:        common.Pair{Base: m.Base, Quote: m.Quote},
		Side:        m.Side,
		Type:        m.Type,
		Quantity:    m.Quantity,
		LimitPrice:  m.LimitPrice,
		QuoteBudget: m.QuoteBudget,
	}
	order, err := s.eng.SubmitOrder(context.Background(), req)
	if err != nil && order == nil {
		_ = WriteErrorReport(conn, ErrorReportMsg{Message: err.Error()})
		return
	}
	_ = WriteExecutionReport(conn, ExecutionReportMsg{
		OrderID:        order.OrderID,
		Status:         order.Status,
		FilledQuantity: order.FilledQuantity,
		RemainingQty:   order.RemainingQuantity(),
	})
}

func (s *Server) handleCancelOrder(conn net.Conn, m CancelOrderMessage) {
	order, err := s.eng.CancelOrder(context.Background(), m.UserID, m.OrderID)
	if err != nil {
		_ = WriteErrorReport(conn, ErrorReportMsg{Message: err.Error()})
		return
	}
	_ = WriteExecutionReport(conn, ExecutionReportMsg{
		OrderID:        order.OrderID,
		Status:         order.Status,
		FilledQuantity: order.FilledQuantity,
		RemainingQty:   order.RemainingQuantity(),
	})
}

func (s *Server) handleSnapshot(conn net.Conn, m SnapshotRequestMessage) {
	pair := common.Pair{Base: m.Base, Quote: m.Quote}
	bids, asks, err := s.eng.Snapshot(context.Background(), pair, int(m.Depth))
	if err != nil {
		_ = WriteErrorReport(conn, ErrorReportMsg{Message: err.Error()})
		return
	}
	_ = WriteBookSnapshotReport(conn, toWireLevels(bids), toWireLevels(asks))
}

func toWireLevels(levels []book.LevelView) []LevelWire {
	out := make([]LevelWire, len(levels))
	for i, lvl := range levels {
		out[i] = LevelWire{Price: lvl.Price, AggregateRemaining: lvl.AggregateRemaining, OrderCount: int32(lvl.OrderCount)}
	}
	return out
}
