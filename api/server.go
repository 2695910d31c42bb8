// Package api exposes the graph, quorum engine, capability index and
// dispatch auditor over a small gRPC surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"icn.coop/mesh/capability"
	"icn.coop/mesh/cidutil"
	"icn.coop/mesh/dag"
	"icn.coop/mesh/graph"
	"icn.coop/mesh/quorum"
	"icn.coop/mesh/trust"
)

// Server implements MeshServer over the daemon's shared components. Any of
// Quorum, Index or Auditor may be nil; the matching RPCs then fail with
// FailedPrecondition.
type Server struct {
	UnimplementedMeshServer

	Graph   *graph.Store
	Quorum  *quorum.Engine
	Index   *capability.Index
	Auditor *trust.Auditor

	// Now supplies the evaluation clock; defaults to time.Now.
	Now func() time.Time

	Log *zap.Logger
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Server) log() *zap.Logger {
	if s.Log != nil {
		return s.Log
	}
	return zap.NewNop()
}

func (s *Server) SubmitNode(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	_ = ctx
	if s == nil || s.Graph == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing graph store")
	}
	id, err := s.Graph.AddBytes(in.GetValue())
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.String(id.String()), nil
}

func (s *Server) GetNode(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	_ = ctx
	if s == nil || s.Graph == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing graph store")
	}
	id, err := cidutil.Parse(in.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	b, err := s.Graph.GetBytes(id)
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.Bytes(b), nil
}

func (s *Server) HasNode(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	_ = ctx
	if s == nil || s.Graph == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing graph store")
	}
	id, err := cidutil.Parse(in.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return wrapperspb.Bool(s.Graph.Has(id)), nil
}

func (s *Server) GetThread(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	_ = ctx
	if s == nil || s.Graph == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing graph store")
	}
	thread, err := s.Graph.Thread(in.GetValue())
	if err != nil {
		return nil, mapErr(err)
	}
	cids := make([]string, 0, thread.Len())
	for thread.Next() {
		cids = append(cids, thread.CID())
	}
	if err := thread.Err(); err != nil {
		return nil, mapErr(err)
	}
	return jsonReply(cids)
}

func (s *Server) EvaluateQuorum(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	_ = ctx
	if s == nil || s.Quorum == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing quorum engine")
	}
	id, err := cidutil.Parse(in.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	tally, err := s.Quorum.EvaluateProposal(id, s.now())
	if err != nil {
		return nil, mapErr(err)
	}
	return jsonReply(tally)
}

func (s *Server) ListMatches(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	_ = ctx
	if s == nil || s.Index == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing capability index")
	}
	var sel *dag.Selector
	if b := in.GetValue(); len(b) > 0 {
		sel = new(dag.Selector)
		if err := json.Unmarshal(b, sel); err != nil {
			return nil, status.Error(codes.InvalidArgument, "malformed selector")
		}
	}
	return jsonReply(s.Index.Query(sel))
}

func (s *Server) AuditDispatch(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	_ = ctx
	if s == nil || s.Auditor == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing dispatch auditor")
	}
	id, err := cidutil.Parse(in.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	report, err := s.Auditor.VerifyDispatch(id, s.now().Unix())
	if err != nil {
		if errors.Is(err, trust.ErrNotAReceipt) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return nil, mapErr(err)
	}
	s.log().Debug("audit served", zap.String("receipt", report.ReceiptCID))
	return jsonReply(report)
}

func jsonReply(v interface{}) (*wrapperspb.BytesValue, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "encoding reply")
	}
	return wrapperspb.Bytes(b), nil
}

// mapErr translates graph errors to gRPC status codes by class via the
// stable Code, so clients can branch without parsing messages.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var ge *graph.Error
	if !errors.As(err, &ge) {
		return status.Error(codes.Internal, err.Error())
	}
	switch ge.Class {
	case graph.ClassIntegrity:
		return status.Error(codes.InvalidArgument, ge.Error())
	case graph.ClassAuthorization:
		return status.Error(codes.PermissionDenied, ge.Error())
	case graph.ClassOrdering:
		return status.Error(codes.FailedPrecondition, ge.Error())
	case graph.ClassConflict:
		return status.Error(codes.AlreadyExists, ge.Error())
	case graph.ClassNotFound:
		return status.Error(codes.NotFound, ge.Error())
	default:
		return status.Error(codes.Internal, ge.Error())
	}
}
