package server

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/zhukov-alex/flakeid/internal/issuer"
	"github.com/zhukov-alex/flakeid/pkg/flake"
	"github.com/zhukov-alex/flakeid/proto/idpb"
)

// Client talks to a running flaked over one of its transports.
type Client interface {
	Next(ctx context.Context) (flake.ID, error)
	NextBatch(ctx context.Context, n int) ([]flake.ID, error)
	Decompose(ctx context.Context, id flake.ID) (issuer.Decomposed, error)
	Close() error
}

// TCPClient issues one request at a time over a single connection.
type TCPClient struct {
	conn net.Conn
}

func DialTCP(ctx context.Context, addr string) (*TCPClient, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewTCPClient(conn), nil
}

func NewTCPClient(conn net.Conn) *TCPClient {
	return &TCPClient{conn: conn}
}

func (c *TCPClient) Next(ctx context.Context) (flake.ID, error) {
	body, err := c.roundTrip(ctx, []byte{OpNext})
	if err != nil {
		return 0, err
	}
	if len(body) != 8 {
		return 0, fmt.Errorf("next response has %d bytes", len(body))
	}
	return flake.ID(binary.LittleEndian.Uint64(body)), nil
}

func (c *TCPClient) NextBatch(ctx context.Context, n int) ([]flake.ID, error) {
	if n < 1 || n > 65535 {
		return nil, fmt.Errorf("%w: %d", issuer.ErrInvalidBatchSize, n)
	}
	req := make([]byte, 3)
	req[0] = OpBatch
	binary.LittleEndian.PutUint16(req[1:], uint16(n))

	body, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	return decodeIDs(body)
}

func (c *TCPClient) Decompose(ctx context.Context, id flake.ID) (issuer.Decomposed, error) {
	req := make([]byte, 9)
	req[0] = OpDecompose
	binary.LittleEndian.PutUint64(req[1:], uint64(id))

	body, err := c.roundTrip(ctx, req)
	if err != nil {
		return issuer.Decomposed{}, err
	}
	return decodeDecomposed(body)
}

func (c *TCPClient) Close() error {
	return c.conn.Close()
}

func (c *TCPClient) roundTrip(ctx context.Context, req []byte) ([]byte, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	_ = c.conn.SetDeadline(deadline)

	if err := writeFrame(c.conn, req); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	resp, err := readFrame(c.conn, MaxResponseSize)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp[0] != StatusOK {
		return nil, &StatusError{Status: resp[0], Message: string(resp[1:])}
	}
	return resp[1:], nil
}

// GRPCClient wraps the generated-style idpb client.
type GRPCClient struct {
	conn   *grpc.ClientConn
	client idpb.IDServiceClient
}

func DialGRPC(addr string, opts ...grpc.DialOption) (*GRPCClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc client %s: %w", addr, err)
	}
	return &GRPCClient{conn: conn, client: idpb.NewIDServiceClient(conn)}, nil
}

func (c *GRPCClient) Next(ctx context.Context) (flake.ID, error) {
	resp, err := c.client.NextID(ctx, &emptypb.Empty{})
	if err != nil {
		return 0, err
	}
	return flake.ID(resp.GetValue()), nil
}

func (c *GRPCClient) NextBatch(ctx context.Context, n int) ([]flake.ID, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: %d", issuer.ErrInvalidBatchSize, n)
	}
	resp, err := c.client.NextIDs(ctx, wrapperspb.UInt32(uint32(n)))
	if err != nil {
		return nil, err
	}
	ids := make([]flake.ID, 0, len(resp.GetValues()))
	for _, v := range resp.GetValues() {
		id, err := flake.ParseID(v.GetStringValue())
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *GRPCClient) Decompose(ctx context.Context, id flake.ID) (issuer.Decomposed, error) {
	resp, err := c.client.Decompose(ctx, wrapperspb.UInt64(uint64(id)))
	if err != nil {
		return issuer.Decomposed{}, err
	}
	fields := resp.GetFields()
	number := func(name string) uint64 { return uint64(fields[name].GetNumberValue()) }
	d := issuer.Decomposed{
		Parts: flake.Parts{
			ID:        uint64(id),
			MSB:       number("msb"),
			Time:      number("time"),
			Sequence:  number("sequence"),
			MachineID: number("machine_id"),
		},
	}
	if raw := fields["issued_at"].GetStringValue(); raw != "" {
		issuedAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return issuer.Decomposed{}, fmt.Errorf("invalid issued_at %q: %w", raw, err)
		}
		d.IssuedAt = issuedAt
	}
	return d, nil
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}
