// Package grpc exposes the document service over gRPC with the JSON codec
// and JWT access tokens.
package grpc

import (
	"context"
	"net"
	"sync"

	"google.golang.org/grpc"

	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/dmitrijs2005/notesync/internal/rpc"
	"github.com/dmitrijs2005/notesync/internal/server/services"
)

type GRPCServer struct {
	address   string
	documents *services.DocumentService
	logger    logging.Logger
	jwtSecret []byte

	stopOnce sync.Once
	stopping chan struct{}
}

var _ rpc.DocumentServiceServer = (*GRPCServer)(nil)

func NewGRPCServer(a string, l logging.Logger, ds *services.DocumentService, secretKey string) *GRPCServer {
	return &GRPCServer{
		address:   a,
		logger:    l.Module("grpc_server"),
		documents: ds,
		jwtSecret: []byte(secretKey),
		stopping:  make(chan struct{}),
	}
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done, then stops
// gracefully. Open Watch streams are ended first.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.accessTokenInterceptor),
		grpc.ChainStreamInterceptor(s.accessTokenStreamInterceptor),
	)

	rpc.RegisterDocumentServiceServer(srv, s)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.stopOnce.Do(func() { close(s.stopping) })
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(lis); err != nil {
		return err
	}

	return nil
}
