package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ipfs/go-cid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"icn.coop/mesh/cidutil"
	"icn.coop/mesh/dag"
	"icn.coop/mesh/quorum"
	"icn.coop/mesh/trust"
)

// Sentinel errors mapped back from RPC status codes.
var (
	ErrNotFound     = errors.New("api: node not found")
	ErrRejected     = errors.New("api: node rejected")
	ErrUnauthorized = errors.New("api: author not authorized")
	ErrOutOfOrder   = errors.New("api: prerequisites not yet synced")
	ErrConflict     = errors.New("api: conflicting node already committed")
)

// Client is a typed client for the Mesh service.
type Client struct {
	cc     *grpc.ClientConn
	client MeshClient

	// Timeout applies per RPC when non-zero.
	Timeout time.Duration
}

// DialOptions configures Dial.
type DialOptions struct {
	// Timeout applies to the initial dial when non-zero.
	Timeout time.Duration

	// MaxMsgBytes sets both send/recv max sizes when non-zero.
	MaxMsgBytes int
}

// Dial connects to a mesh daemon.
func Dial(target string, opts DialOptions) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if opts.MaxMsgBytes > 0 {
		dialOpts = append(dialOpts,
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(opts.MaxMsgBytes),
				grpc.MaxCallSendMsgSize(opts.MaxMsgBytes),
			),
		)
	}

	ctx := context.Background()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cc, err := grpc.DialContext(ctx, target, dialOpts...)
	if err != nil {
		return nil, err
	}
	return &Client{cc: cc, client: NewMeshClient(cc)}, nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

// SubmitNode submits canonical envelope bytes and returns the assigned CID.
func (c *Client) SubmitNode(data []byte) (cid.Cid, error) {
	ctx, cancel := c.ctx()
	defer cancel()

	reply, err := c.client.SubmitNode(ctx, wrapperspb.Bytes(data))
	if err != nil {
		return cid.Undef, mapRPC(err)
	}
	return cidutil.Parse(reply.GetValue())
}

// GetNode fetches and decodes the node at id, verifying it locally so a
// misbehaving daemon cannot hand back substituted content.
func (c *Client) GetNode(id cid.Cid) (*dag.Node, error) {
	ctx, cancel := c.ctx()
	defer cancel()

	reply, err := c.client.GetNode(ctx, wrapperspb.String(id.String()))
	if err != nil {
		return nil, mapRPC(err)
	}
	n, err := dag.Decode(reply.GetValue())
	if err != nil {
		return nil, err
	}
	if err := n.VerifyAgainst(id); err != nil {
		return nil, err
	}
	return n, nil
}

// HasNode reports whether the daemon has id anchored.
func (c *Client) HasNode(id cid.Cid) (bool, error) {
	ctx, cancel := c.ctx()
	defer cancel()

	reply, err := c.client.HasNode(ctx, wrapperspb.String(id.String()))
	if err != nil {
		return false, mapRPC(err)
	}
	return reply.GetValue(), nil
}

// GetThread returns the scope's node CIDs in deterministic thread order.
func (c *Client) GetThread(scopeID string) ([]string, error) {
	ctx, cancel := c.ctx()
	defer cancel()

	reply, err := c.client.GetThread(ctx, wrapperspb.String(scopeID))
	if err != nil {
		return nil, mapRPC(err)
	}
	var cids []string
	if err := json.Unmarshal(reply.GetValue(), &cids); err != nil {
		return nil, fmt.Errorf("api: malformed thread reply: %w", err)
	}
	return cids, nil
}

// EvaluateQuorum evaluates the proposal at id on the daemon.
func (c *Client) EvaluateQuorum(id cid.Cid) (quorum.Tally, error) {
	ctx, cancel := c.ctx()
	defer cancel()

	var tally quorum.Tally
	reply, err := c.client.EvaluateQuorum(ctx, wrapperspb.String(id.String()))
	if err != nil {
		return tally, mapRPC(err)
	}
	if err := json.Unmarshal(reply.GetValue(), &tally); err != nil {
		return tally, fmt.Errorf("api: malformed tally reply: %w", err)
	}
	return tally, nil
}

// ListMatches returns the provider DIDs whose manifests satisfy sel. A nil
// selector matches every indexed provider.
func (c *Client) ListMatches(sel *dag.Selector) ([]string, error) {
	var payload []byte
	if sel != nil {
		b, err := json.Marshal(sel)
		if err != nil {
			return nil, fmt.Errorf("api: encoding selector: %w", err)
		}
		payload = b
	}

	ctx, cancel := c.ctx()
	defer cancel()

	reply, err := c.client.ListMatches(ctx, wrapperspb.Bytes(payload))
	if err != nil {
		return nil, mapRPC(err)
	}
	var dids []string
	if err := json.Unmarshal(reply.GetValue(), &dids); err != nil {
		return nil, fmt.Errorf("api: malformed matches reply: %w", err)
	}
	return dids, nil
}

// AuditDispatch asks the daemon to audit the receipt at id.
func (c *Client) AuditDispatch(id cid.Cid) (*trust.Report, error) {
	ctx, cancel := c.ctx()
	defer cancel()

	reply, err := c.client.AuditDispatch(ctx, wrapperspb.String(id.String()))
	if err != nil {
		return nil, mapRPC(err)
	}
	var report trust.Report
	if err := json.Unmarshal(reply.GetValue(), &report); err != nil {
		return nil, fmt.Errorf("api: malformed audit reply: %w", err)
	}
	return &report, nil
}

func (c *Client) ctx() (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), c.Timeout)
}

func mapRPC(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", ErrRejected, st.Message())
	case codes.PermissionDenied:
		return fmt.Errorf("%w: %s", ErrUnauthorized, st.Message())
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", ErrOutOfOrder, st.Message())
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %s", ErrConflict, st.Message())
	default:
		return err
	}
}
