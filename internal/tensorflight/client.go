package tensorflight

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/quarrel-kernels/internal/tensor"
	"github.com/23skdu/quarrel-kernels/internal/tensorio"
)

// Entry is one stored tensor as reported by ListFlights.
type Entry struct {
	Ticket string
	Name   string
	DType  string
	Bytes  int64
}

type Client struct {
	c   flight.Client
	mem memory.Allocator
}

// Dial connects to a tensor store at addr ("host:port") without TLS.
func Dial(addr string) (*Client, error) {
	c, err := flight.NewClientWithMiddleware(addr, nil, nil, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create Flight client: %w", err)
	}
	return &Client{c: c, mem: memory.NewGoAllocator()}, nil
}

func (c *Client) Close() error {
	return c.c.Close()
}

// Put uploads ts in one stream and returns their tickets in order.
func (c *Client) Put(ctx context.Context, ts ...*tensor.Tensor) ([]string, error) {
	rec, err := tensorio.ToRecord(c.mem, ts...)
	if err != nil {
		return nil, err
	}
	defer rec.Release()

	stream, err := c.c.DoPut(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open DoPut stream: %w", err)
	}
	w := flight.NewRecordWriter(stream, ipc.WithSchema(tensorio.Schema), ipc.WithAllocator(c.mem))
	w.SetFlightDescriptor(&flight.FlightDescriptor{Type: flight.DescriptorPATH, Path: []string{"tensors"}})
	if err := w.Write(rec); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to write record: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish stream: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}

	tickets := make([]string, 0, len(ts))
	for {
		res, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("DoPut failed: %w", err)
		}
		tickets = append(tickets, string(res.GetAppMetadata()))
	}
	if len(tickets) != len(ts) {
		return nil, fmt.Errorf("server acknowledged %d of %d tensors", len(tickets), len(ts))
	}
	return tickets, nil
}

// Get downloads the tensor stored under ticket.
func (c *Client) Get(ctx context.Context, ticket string) (*tensor.Tensor, error) {
	stream, err := c.c.DoGet(ctx, &flight.Ticket{Ticket: []byte(ticket)})
	if err != nil {
		return nil, err
	}
	rdr, err := flight.NewRecordReader(stream, ipc.WithAllocator(c.mem))
	if err != nil {
		return nil, fmt.Errorf("DoGet %s: %w", ticket, err)
	}
	defer rdr.Release()

	var out []*tensor.Tensor
	for rdr.Next() {
		ts, err := tensorio.FromRecord(rdr.Record())
		if err != nil {
			return nil, err
		}
		out = append(out, ts...)
	}
	if err := rdr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("DoGet %s: expected 1 tensor, got %d", ticket, len(out))
	}
	return out[0], nil
}

func (c *Client) List(ctx context.Context) ([]Entry, error) {
	stream, err := c.c.ListFlights(ctx, &flight.Criteria{})
	if err != nil {
		return nil, err
	}
	var out []Entry
	for {
		info, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		e := Entry{Bytes: info.GetTotalBytes()}
		if eps := info.GetEndpoint(); len(eps) > 0 {
			e.Ticket = string(eps[0].GetTicket().GetTicket())
		}
		if p := info.GetFlightDescriptor().GetPath(); len(p) == 2 {
			e.Name, e.DType = p[0], p[1]
		}
		out = append(out, e)
	}
}
