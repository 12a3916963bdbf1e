package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"PairLedger/internal/core"
	"PairLedger/internal/ingestion"
	"PairLedger/internal/pair"
	"PairLedger/internal/query"
	"PairLedger/internal/types"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// --- messages ---

// SubmitRequest carries a command body in the same JSON form the
// command subjects accept.
type SubmitRequest struct {
	Kind core.Kind       `json:"kind"`
	Body json.RawMessage `json:"body"`
}

type SubmitResponse struct {
	Receipt *core.Receipt `json:"receipt"`
}

type GetPairRequest struct {
	Pair string `json:"pair"`
}

// PairResponse is the live pair state read from the engine.
type PairResponse struct {
	Name     string        `json:"name"`
	Address  types.Address `json:"address"`
	State    pair.Snapshot `json:"state"`
	Sequence int64         `json:"sequence"`
}

type GetPositionRequest struct {
	Pair string `json:"pair"`
	User string `json:"user"`
	// AsOfSequence > 0 reads the projection history instead of the engine.
	AsOfSequence int64 `json:"as_of_sequence,omitempty"`
}

type PositionResponse struct {
	Pair            string `json:"pair"`
	User            string `json:"user"`
	BorrowPart      string `json:"borrow_part"`
	CollateralShare string `json:"collateral_share"`
	Fraction        string `json:"fraction"`
	// Solvent reports closed-mode solvency at the stored exchange rate.
	// Unset for historical reads.
	Solvent      *bool `json:"solvent,omitempty"`
	AsOfSequence int64 `json:"as_of_sequence"`
}

type ListPositionsRequest struct {
	Pair  string `json:"pair"`
	After string `json:"after,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

type ListPositionsResponse struct {
	Positions []query.PositionResponse `json:"positions"`
}

type VerifyIntegrityRequest struct{}

type TakeSnapshotRequest struct{}

type TakeSnapshotResponse struct {
	Sequence  int64 `json:"sequence"`
	SizeBytes int   `json:"size_bytes"`
}

// --- service descriptor ---

// PairServiceServer is the server API of pairledger.v1.PairService.
type PairServiceServer interface {
	Submit(context.Context, *SubmitRequest) (*SubmitResponse, error)
	GetPair(context.Context, *GetPairRequest) (*PairResponse, error)
	GetPosition(context.Context, *GetPositionRequest) (*PositionResponse, error)
	ListPositions(context.Context, *ListPositionsRequest) (*ListPositionsResponse, error)
	VerifyIntegrity(context.Context, *VerifyIntegrityRequest) (*query.IntegrityReport, error)
	TakeSnapshot(context.Context, *TakeSnapshotRequest) (*TakeSnapshotResponse, error)
}

const serviceName = "pairledger.v1.PairService"

// unaryHandler adapts a typed method to a grpc.MethodDesc handler.
func unaryHandler[Req any, Resp any](method string, call func(PairServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(PairServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(PairServiceServer), ctx, req.(*Req))
		})
	}
}

// PairServiceDesc is registered with grpc.Server.RegisterService.
var PairServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*PairServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: unaryHandler("Submit", PairServiceServer.Submit)},
		{MethodName: "GetPair", Handler: unaryHandler("GetPair", PairServiceServer.GetPair)},
		{MethodName: "GetPosition", Handler: unaryHandler("GetPosition", PairServiceServer.GetPosition)},
		{MethodName: "ListPositions", Handler: unaryHandler("ListPositions", PairServiceServer.ListPositions)},
		{MethodName: "VerifyIntegrity", Handler: unaryHandler("VerifyIntegrity", PairServiceServer.VerifyIntegrity)},
		{MethodName: "TakeSnapshot", Handler: unaryHandler("TakeSnapshot", PairServiceServer.TakeSnapshot)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pairledger/v1/pair.proto",
}

// PairServiceClient calls PairService over a connection using the JSON
// codec.
type PairServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewPairServiceClient(cc grpc.ClientConnInterface) *PairServiceClient {
	return &PairServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *PairServiceClient) Submit(ctx context.Context, in *SubmitRequest, opts ...grpc.CallOption) (*SubmitResponse, error) {
	return invoke[SubmitResponse](ctx, c.cc, "Submit", in, opts...)
}

func (c *PairServiceClient) GetPair(ctx context.Context, in *GetPairRequest, opts ...grpc.CallOption) (*PairResponse, error) {
	return invoke[PairResponse](ctx, c.cc, "GetPair", in, opts...)
}

func (c *PairServiceClient) GetPosition(ctx context.Context, in *GetPositionRequest, opts ...grpc.CallOption) (*PositionResponse, error) {
	return invoke[PositionResponse](ctx, c.cc, "GetPosition", in, opts...)
}

func (c *PairServiceClient) ListPositions(ctx context.Context, in *ListPositionsRequest, opts ...grpc.CallOption) (*ListPositionsResponse, error) {
	return invoke[ListPositionsResponse](ctx, c.cc, "ListPositions", in, opts...)
}

// --- implementation ---

// Engine is the serialized engine access the service needs; *core.Runner
// satisfies it.
type Engine interface {
	Submit(ctx context.Context, cmd core.Command) (*core.Receipt, error)
	View(ctx context.Context, fn func(*core.Engine)) error
}

// Snapshotter takes a snapshot on demand and returns its sequence and size.
type Snapshotter func(ctx context.Context) (int64, int, error)

type pairService struct {
	engine   Engine
	queries  *query.QueryService
	snapshot Snapshotter
}

func (s *pairService) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	cmd, err := ingestion.ParseCommand(req.Kind, req.Body)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	receipt, err := s.engine.Submit(ctx, cmd)
	if err != nil {
		return nil, commandStatus(err)
	}
	return &SubmitResponse{Receipt: receipt}, nil
}

func (s *pairService) GetPair(ctx context.Context, req *GetPairRequest) (*PairResponse, error) {
	if req.Pair == "" {
		return nil, status.Error(codes.InvalidArgument, "pair is required")
	}
	var (
		resp *PairResponse
		err  error
	)
	if verr := s.engine.View(ctx, func(e *core.Engine) {
		var ps *core.PairState
		if ps, err = e.PairStatus(req.Pair); err == nil {
			resp = &PairResponse{Name: ps.Name, Address: ps.Address, State: ps.State, Sequence: e.GetSequence() - 1}
		}
	}); verr != nil {
		return nil, commandStatus(verr)
	}
	if err != nil {
		return nil, commandStatus(err)
	}
	return resp, nil
}

func (s *pairService) GetPosition(ctx context.Context, req *GetPositionRequest) (*PositionResponse, error) {
	if req.Pair == "" || req.User == "" {
		return nil, status.Error(codes.InvalidArgument, "pair and user are required")
	}
	user, err := types.HexToAddress(req.User)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid user: %v", err)
	}

	if req.AsOfSequence > 0 {
		return s.historicalPosition(ctx, req.Pair, user, req.AsOfSequence)
	}

	var resp *PositionResponse
	if verr := s.engine.View(ctx, func(e *core.Engine) {
		p, ok := e.Pair(req.Pair)
		if !ok {
			return
		}
		pos := p.Position(user)
		solvent := p.IsSolvent(user, false, p.ExchangeRate())
		resp = &PositionResponse{
			Pair:            req.Pair,
			User:            user.Hex(),
			BorrowPart:      pos.BorrowPart.Dec(),
			CollateralShare: pos.CollateralShare.Dec(),
			Fraction:        p.BalanceOf(user).Dec(),
			Solvent:         &solvent,
			AsOfSequence:    e.GetSequence() - 1,
		}
	}); verr != nil {
		return nil, commandStatus(verr)
	}
	if resp == nil {
		return nil, status.Errorf(codes.NotFound, "unknown pair %q", req.Pair)
	}
	return resp, nil
}

func (s *pairService) historicalPosition(ctx context.Context, pairName string, user types.Address, asOf int64) (*PositionResponse, error) {
	if s.queries == nil {
		return nil, status.Error(codes.Unimplemented, "historical reads need the projection database")
	}
	pos, err := s.queries.GetPosition(ctx, pairName, user.Hex(), asOf)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get position: %v", err)
	}
	bal, err := s.queries.GetLenderBalance(ctx, pairName, user.Hex(), asOf)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get lender balance: %v", err)
	}
	return &PositionResponse{
		Pair:            pairName,
		User:            pos.User,
		BorrowPart:      pos.BorrowPart,
		CollateralShare: pos.CollateralShare,
		Fraction:        bal.Fraction,
		AsOfSequence:    pos.AsOfSequence,
	}, nil
}

func (s *pairService) ListPositions(ctx context.Context, req *ListPositionsRequest) (*ListPositionsResponse, error) {
	if s.queries == nil {
		return nil, status.Error(codes.Unimplemented, "listing needs the projection database")
	}
	if req.Pair == "" {
		return nil, status.Error(codes.InvalidArgument, "pair is required")
	}
	positions, err := s.queries.ListPositions(ctx, req.Pair, req.After, req.Limit)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "list positions: %v", err)
	}
	return &ListPositionsResponse{Positions: positions}, nil
}

func (s *pairService) VerifyIntegrity(ctx context.Context, _ *VerifyIntegrityRequest) (*query.IntegrityReport, error) {
	if s.queries == nil {
		return nil, status.Error(codes.Unimplemented, "integrity checks need the command log database")
	}
	report, err := s.queries.VerifyIntegrity(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "verify integrity: %v", err)
	}
	return report, nil
}

func (s *pairService) TakeSnapshot(ctx context.Context, _ *TakeSnapshotRequest) (*TakeSnapshotResponse, error) {
	if s.snapshot == nil {
		return nil, status.Error(codes.Unimplemented, "snapshots are not configured")
	}
	seq, size, err := s.snapshot(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "snapshot: %v", err)
	}
	return &TakeSnapshotResponse{Sequence: seq, SizeBytes: size}, nil
}

// commandStatus maps engine and pair errors onto gRPC codes.
func commandStatus(err error) error {
	var pe *pair.Error
	switch {
	case errors.Is(err, core.ErrDuplicate):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, core.ErrInvalidCommand):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, core.ErrUnknownPair),
		errors.Is(err, core.ErrUnknownFeed),
		errors.Is(err, core.ErrUnknownSwapper):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, core.ErrNonceGap),
		errors.Is(err, core.ErrNonceReplay),
		errors.Is(err, core.ErrClockRegression):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, core.ErrEngineStopped):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.As(err, &pe):
		return status.Error(pairCode(pe.Kind), err.Error())
	default:
		return status.Error(codes.Internal, fmt.Sprintf("apply: %v", err))
	}
}

func pairCode(k pair.Kind) codes.Code {
	switch k {
	case pair.KindInputValidation:
		return codes.InvalidArgument
	case pair.KindAuthorization:
		return codes.PermissionDenied
	case pair.KindInsolvency, pair.KindArithmetic:
		return codes.FailedPrecondition
	case pair.KindExternalCall:
		return codes.Aborted
	default:
		return codes.Unknown
	}
}
