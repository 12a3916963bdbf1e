package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"PairLedger/internal/core"
	"PairLedger/internal/observability"
	"PairLedger/internal/query"
	"PairLedger/internal/types"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// maxBodyBytes bounds HTTP command bodies.
const maxBodyBytes = 1 << 20

// GRPCServer wraps the gRPC server and the HTTP gateway mux.
type GRPCServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	service       *pairService
	healthChecker *observability.HealthChecker
	metrics       *observability.Metrics
	log           zerolog.Logger
}

// ServerDeps holds everything the services need. Queries and Snapshot may
// be nil; the methods that need them then return Unimplemented.
type ServerDeps struct {
	Engine        Engine
	Queries       *query.QueryService
	Snapshot      Snapshotter
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
}

// NewGRPCServer creates the gRPC server with PairService, health and
// reflection registered.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	s := &GRPCServer{
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		service:       &pairService{engine: deps.Engine, queries: deps.Queries, snapshot: deps.Snapshot},
		healthChecker: deps.HealthChecker,
		metrics:       deps.Metrics,
		log:           deps.Logger,
	}

	s.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(s.metricsInterceptor))
	s.grpcServer.RegisterService(&PairServiceDesc, s.service)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(s.grpcServer)
	return s
}

// Server exposes the underlying grpc.Server, e.g. for in-process listeners.
func (s *GRPCServer) Server() *grpc.Server { return s.grpcServer }

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.ServeGRPC(ctx, lis)
}

// ServeGRPC serves on lis until ctx is cancelled.
func (s *GRPCServer) ServeGRPC(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.log.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

func (s *GRPCServer) metricsInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.observe(info.FullMethod, start, err)
	return resp, err
}

func (s *GRPCServer) observe(endpoint string, start time.Time, err error) {
	code := status.Code(err)
	if s.metrics != nil {
		s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		s.metrics.QueryRequests.WithLabelValues(endpoint, code.String()).Inc()
		if err != nil {
			s.metrics.QueryErrors.WithLabelValues(endpoint, code.String()).Inc()
		}
	}
	if err != nil && code == codes.Internal {
		s.log.Error().Err(err).Str("endpoint", endpoint).Msg("request failed")
	}
}

// Handler builds the HTTP handler: JSON routes on a gateway mux calling
// the service in-process, plus /healthz and /readyz.
func (s *GRPCServer) Handler() (http.Handler, error) {
	mux := runtime.NewServeMux()

	routes := []struct {
		method, pattern string
		h               func(*http.Request, map[string]string) (any, error)
	}{
		{http.MethodPost, "/v1/commands/{kind}", s.submit},
		{http.MethodGet, "/v1/pairs/{pair}", s.getPair},
		{http.MethodGet, "/v1/pairs/{pair}/totals", s.getPairTotals},
		{http.MethodGet, "/v1/pairs/{pair}/positions", s.listPositions},
		{http.MethodGet, "/v1/pairs/{pair}/positions/{user}", s.getPosition},
		{http.MethodGet, "/v1/pairs/{pair}/lenders/{user}", s.getLenderBalance},
		{http.MethodGet, "/v1/pairs/{pair}/commands", s.commandHistory},
		{http.MethodGet, "/v1/admin/integrity", s.verifyIntegrity},
		{http.MethodPost, "/v1/admin/snapshot", s.takeSnapshot},
	}
	for _, rt := range routes {
		endpoint := rt.method + " " + rt.pattern
		h := rt.h
		err := mux.HandlePath(rt.method, rt.pattern, func(w http.ResponseWriter, r *http.Request, params map[string]string) {
			start := time.Now()
			resp, err := h(r, params)
			s.observe(endpoint, start, err)
			if err != nil {
				runtime.HTTPError(r.Context(), mux, &runtime.JSONPb{}, w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, resp)
		})
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", endpoint, err)
		}
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	}
	httpMux.Handle("/", mux)
	return httpMux, nil
}

// StartHTTPGateway serves the HTTP handler (blocking).
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("HTTP gateway shutdown")
		}
	}()

	s.log.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// --- HTTP routes ---

func (s *GRPCServer) submit(r *http.Request, params map[string]string) (any, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "read body: %v", err)
	}
	return s.service.Submit(r.Context(), &SubmitRequest{Kind: core.Kind(params["kind"]), Body: body})
}

func (s *GRPCServer) getPair(r *http.Request, params map[string]string) (any, error) {
	return s.service.GetPair(r.Context(), &GetPairRequest{Pair: params["pair"]})
}

func (s *GRPCServer) getPairTotals(r *http.Request, params map[string]string) (any, error) {
	if s.service.queries == nil {
		return nil, status.Error(codes.Unimplemented, "totals need the projection database")
	}
	totals, err := s.service.queries.GetPairTotals(r.Context(), params["pair"])
	return totals, queryStatus(err)
}

func (s *GRPCServer) listPositions(r *http.Request, params map[string]string) (any, error) {
	limit, err := intParam(r, "limit")
	if err != nil {
		return nil, err
	}
	return s.service.ListPositions(r.Context(), &ListPositionsRequest{
		Pair:  params["pair"],
		After: r.URL.Query().Get("after"),
		Limit: int(limit),
	})
}

func (s *GRPCServer) getPosition(r *http.Request, params map[string]string) (any, error) {
	asOf, err := intParam(r, "as_of_sequence")
	if err != nil {
		return nil, err
	}
	return s.service.GetPosition(r.Context(), &GetPositionRequest{Pair: params["pair"], User: params["user"], AsOfSequence: asOf})
}

func (s *GRPCServer) getLenderBalance(r *http.Request, params map[string]string) (any, error) {
	if s.service.queries == nil {
		return nil, status.Error(codes.Unimplemented, "balances need the projection database")
	}
	asOf, err := intParam(r, "as_of_sequence")
	if err != nil {
		return nil, err
	}
	user, err := types.HexToAddress(params["user"])
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid user: %v", err)
	}
	bal, err := s.service.queries.GetLenderBalance(r.Context(), params["pair"], user.Hex(), asOf)
	return bal, queryStatus(err)
}

func (s *GRPCServer) commandHistory(r *http.Request, params map[string]string) (any, error) {
	if s.service.queries == nil {
		return nil, status.Error(codes.Unimplemented, "history needs the command log database")
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		return nil, err
	}
	before, err := intParam(r, "before")
	if err != nil {
		return nil, err
	}
	var beforeSeq *int64
	if before > 0 {
		beforeSeq = &before
	}
	entries, err := s.service.queries.GetCommandHistory(r.Context(), params["pair"], int(limit), beforeSeq)
	return entries, queryStatus(err)
}

func (s *GRPCServer) verifyIntegrity(r *http.Request, _ map[string]string) (any, error) {
	return s.service.VerifyIntegrity(r.Context(), &VerifyIntegrityRequest{})
}

func (s *GRPCServer) takeSnapshot(r *http.Request, _ map[string]string) (any, error) {
	return s.service.TakeSnapshot(r.Context(), &TakeSnapshotRequest{})
}

// --- helpers ---

func intParam(r *http.Request, name string) (int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, status.Errorf(codes.InvalidArgument, "invalid %s %q", name, v)
	}
	return n, nil
}

func queryStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, query.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	default:
		return status.Errorf(codes.Internal, "query: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
