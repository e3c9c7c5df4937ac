// Package tensorflight serves and fetches tensors over Arrow Flight. Payloads
// use the tensorio record layout.
package tensorflight

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/23skdu/quarrel-kernels/internal/logger"
	"github.com/23skdu/quarrel-kernels/internal/metrics"
	"github.com/23skdu/quarrel-kernels/internal/tensor"
	"github.com/23skdu/quarrel-kernels/internal/tensorio"
)

// Server is an in-memory tensor store. DoPut assigns every uploaded tensor a
// UUID ticket and answers with one PutResult per tensor; DoGet streams a
// stored tensor back by ticket.
type Server struct {
	flight.BaseFlightServer

	mu      sync.RWMutex
	tensors map[string]*tensor.Tensor
	mem     memory.Allocator
	srv     flight.Server
}

func NewServer() *Server {
	return &Server{
		tensors: make(map[string]*tensor.Tensor),
		mem:     memory.NewGoAllocator(),
	}
}

// Listen binds addr ("host:port", port 0 picks a free one) and registers the
// service. Call Serve afterwards.
func (s *Server) Listen(addr string) error {
	s.srv = flight.NewServerWithMiddleware(nil)
	if err := s.srv.Init(addr); err != nil {
		return fmt.Errorf("flight listen %s: %w", addr, err)
	}
	s.srv.RegisterFlightService(s)
	return nil
}

// Serve blocks until Shutdown.
func (s *Server) Serve() error {
	if s.srv == nil {
		return errors.New("tensorflight: Serve called before Listen")
	}
	logger.Log.Info("flight tensor store listening", "addr", s.srv.Addr().String())
	return s.srv.Serve()
}

func (s *Server) Addr() net.Addr {
	if s.srv == nil {
		return nil
	}
	return s.srv.Addr()
}

func (s *Server) Shutdown() {
	if s.srv != nil {
		s.srv.Shutdown()
	}
}

// Store adds t directly and returns its ticket.
func (s *Server) Store(t *tensor.Tensor) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.tensors[id] = t
	n := len(s.tensors)
	s.mu.Unlock()
	metrics.RecordFlightStored(n)
	return id
}

func (s *Server) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tensors)
}

func (s *Server) DoPut(stream flight.FlightService_DoPutServer) error {
	rdr, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.mem))
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "open record stream: %v", err)
	}
	defer rdr.Release()

	for rdr.Next() {
		ts, err := tensorio.FromRecord(rdr.Record())
		if err != nil {
			return status.Errorf(codes.InvalidArgument, "decode tensors: %v", err)
		}
		for _, t := range ts {
			id := s.Store(t)
			metrics.RecordFlightTransfer("put")
			logger.Log.Debug("stored tensor", "ticket", id, "tensor", t.String())
			if err := stream.Send(&flight.PutResult{AppMetadata: []byte(id)}); err != nil {
				return err
			}
		}
	}
	if err := rdr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return status.Errorf(codes.Internal, "read record stream: %v", err)
	}
	return nil
}

func (s *Server) DoGet(tkt *flight.Ticket, stream flight.FlightService_DoGetServer) error {
	id := string(tkt.GetTicket())
	s.mu.RLock()
	t, ok := s.tensors[id]
	s.mu.RUnlock()
	if !ok {
		return status.Errorf(codes.NotFound, "no tensor for ticket %q", id)
	}

	rec, err := tensorio.ToRecord(s.mem, t)
	if err != nil {
		return status.Errorf(codes.Internal, "encode tensor: %v", err)
	}
	defer rec.Release()

	w := flight.NewRecordWriter(stream, ipc.WithSchema(tensorio.Schema), ipc.WithAllocator(s.mem))
	if err := w.Write(rec); err != nil {
		w.Close()
		return err
	}
	metrics.RecordFlightTransfer("get")
	return w.Close()
}

func (s *Server) ListFlights(_ *flight.Criteria, stream flight.FlightService_ListFlightsServer) error {
	s.mu.RLock()
	ids := make([]string, 0, len(s.tensors))
	for id := range s.tensors {
		ids = append(ids, id)
	}
	snapshot := make(map[string]*tensor.Tensor, len(ids))
	for _, id := range ids {
		snapshot[id] = s.tensors[id]
	}
	s.mu.RUnlock()
	sort.Strings(ids)

	schema := flight.SerializeSchema(tensorio.Schema, s.mem)
	for _, id := range ids {
		t := snapshot[id]
		info := &flight.FlightInfo{
			Schema: schema,
			FlightDescriptor: &flight.FlightDescriptor{
				Type: flight.DescriptorPATH,
				Path: []string{t.Name(), t.DType().String()},
			},
			Endpoint: []*flight.FlightEndpoint{
				{Ticket: &flight.Ticket{Ticket: []byte(id)}},
			},
			TotalRecords: 1,
			TotalBytes:   int64(t.NumElements() * t.DType().Size()),
		}
		if err := stream.Send(info); err != nil {
			return err
		}
	}
	return nil
}
