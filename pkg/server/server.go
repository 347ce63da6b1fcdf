// Package server exposes the pool selection engine and the replica
// repository over gRPC.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"poolselect/pkg/auth"
	"poolselect/pkg/command"
	"poolselect/pkg/replica"
	"poolselect/pkg/selection"
)

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "x-request-id"

var tracer = otel.Tracer("poolselect.server")

// Options configures a Server
type Options struct {
	// Replicas is optional; ReplicaState fails without it
	Replicas *replica.Repository
	Logger   *zap.Logger

	// ServerOptions are passed to grpc.NewServer
	ServerOptions []grpc.ServerOption
}

// Server serves the Selection service
type Server struct {
	engine   *selection.Engine
	replicas *replica.Repository
	logger   *zap.Logger
	server   *grpc.Server

	mu       sync.Mutex
	listener net.Listener
}

// New creates a server for engine. Call Start or Serve to accept requests.
func New(engine *selection.Engine, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Server{
		engine:   engine,
		replicas: opts.Replicas,
		logger:   opts.Logger,
	}

	serverOpts := append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(s.unaryInterceptor),
	}, opts.ServerOptions...)
	s.server = grpc.NewServer(serverOpts...)
	RegisterSelectionServer(s.server, s)
	return s
}

// Start listens on address and serves until Stop is called
func (s *Server) Start(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	return s.Serve(listener)
}

// Serve accepts connections on lis until Stop is called
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()

	s.logger.Info("Selection server starting",
		zap.String("address", lis.Addr().String()),
		zap.Uint64("generation", s.engine.Generation()),
		zap.Bool("replicas", s.replicas != nil))

	if err := s.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Addr returns the listening address, nil before Serve
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop waits for in-flight requests and stops the server
func (s *Server) Stop() {
	s.server.GracefulStop()
	s.logger.Info("Selection server stopped")
}

// Match resolves a selection request against the current graph
func (s *Server) Match(ctx context.Context, in *MatchRequest) (*MatchResponse, error) {
	req, err := in.Request()
	if err != nil {
		return nil, err
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("selection.operation", req.Operation.String()),
		attribute.String("selection.store_unit", req.Storage.StoreUnit))

	levels, err := s.engine.Match(req)
	if err != nil {
		return nil, err
	}
	if levels == nil {
		levels = []selection.PreferenceLevel{}
	}
	return &MatchResponse{Levels: levels}, nil
}

// Command applies the request lines in one transaction
func (s *Server) Command(ctx context.Context, in *CommandRequest) (*CommandResponse, error) {
	if len(in.Lines) == 0 {
		return nil, fmt.Errorf("%w: empty command batch", command.ErrSyntax)
	}
	for i, line := range in.Lines {
		if strings.ContainsAny(line, "\r\n") {
			return nil, fmt.Errorf("%w: line %d contains a line break", command.ErrSyntax, i+1)
		}
	}

	n, err := command.ExecScript(s.engine, strings.NewReader(strings.Join(in.Lines, "\n")))
	if err != nil {
		return nil, err
	}
	generation := s.engine.Generation()
	s.logger.Info("Applied command batch",
		zap.String("request_id", requestID(ctx)),
		zap.String("client", auth.PeerName(ctx)),
		zap.Int("commands", n),
		zap.Uint64("generation", generation))
	return &CommandResponse{Applied: n, Generation: generation}, nil
}

// DumpSetup renders the current graph as a setup script
func (s *Server) DumpSetup(ctx context.Context, _ *DumpSetupRequest) (*DumpSetupResponse, error) {
	snap := s.engine.Snapshot()
	var b strings.Builder
	if err := snap.WriteSetup(&b); err != nil {
		return nil, fmt.Errorf("failed to dump setup: %w", err)
	}
	return &DumpSetupResponse{Generation: snap.Generation(), Setup: b.String()}, nil
}

// ReplicaState reports one replica, or Unimplemented without a repository
func (s *Server) ReplicaState(ctx context.Context, in *ReplicaStateRequest) (*ReplicaStateResponse, error) {
	if s.replicas == nil {
		return nil, errNoReplicas
	}
	id, err := in.ID()
	if err != nil {
		return nil, err
	}
	entry, err := s.replicas.Get(id)
	if err != nil {
		return nil, err
	}
	return &ReplicaStateResponse{Replica: entry.Info()}, nil
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func incomingRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(RequestIDHeader); len(ids) > 0 && ids[0] != "" {
			return ids[0]
		}
	}
	return uuid.NewString()
}

func (s *Server) unaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	id := incomingRequestID(ctx)
	client := auth.PeerName(ctx)
	ctx = context.WithValue(ctx, requestIDKey{}, id)
	_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDHeader, id))

	ctx, span := tracer.Start(ctx, info.FullMethod,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("request.id", id),
			attribute.String("client", client)))
	defer span.End()

	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		err = toStatus(err)
		s.logger.Warn("Request failed",
			zap.String("request_id", id),
			zap.String("method", info.FullMethod),
			zap.String("client", client),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return nil, err
	}

	s.logger.Debug("Request served",
		zap.String("request_id", id),
		zap.String("method", info.FullMethod),
		zap.String("client", client),
		zap.Duration("duration", time.Since(start)))
	return resp, nil
}
