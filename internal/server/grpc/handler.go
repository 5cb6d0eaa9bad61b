package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/rpc"
)

// authorize resolves userPath and checks it belongs to the token's user.
func (s *GRPCServer) authorize(ctx context.Context, userPath string) (string, error) {
	pathUser, err := common.UserFromPath(userPath)
	if err != nil {
		return "", status.Error(codes.InvalidArgument, err.Error())
	}
	tokenUser, ok := userFromContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "unauthorized")
	}
	if pathUser != tokenUser {
		return "", status.Error(codes.PermissionDenied, common.ErrPermissionDenied.Error())
	}
	return tokenUser, nil
}

func (s *GRPCServer) toStatus(ctx context.Context, method string, err error) error {
	switch {
	case errors.Is(err, common.ErrInvalidRecord), errors.Is(err, common.ErrInvalidPath):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrParentMissing):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, common.ErrPermissionDenied):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	s.logger.Error(ctx, "request failed", "method", method, "error", err)
	return status.Error(codes.Internal, "internal error")
}

func (s *GRPCServer) Ping(ctx context.Context, req *rpc.PingRequest) (*rpc.PingResponse, error) {
	return &rpc.PingResponse{Status: "OK"}, nil
}

func (s *GRPCServer) Pull(ctx context.Context, req *rpc.PullRequest) (*rpc.PullResponse, error) {
	userID, err := s.authorize(ctx, req.UserPath)
	if err != nil {
		return nil, err
	}

	entities, cursor, err := s.documents.Pull(ctx, userID, req.Since)
	if err != nil {
		return nil, s.toStatus(ctx, "Pull", err)
	}
	return &rpc.PullResponse{Entities: entities, Cursor: cursor}, nil
}

func (s *GRPCServer) Push(ctx context.Context, req *rpc.PushRequest) (*rpc.PushResponse, error) {
	userID, err := s.authorize(ctx, req.UserPath)
	if err != nil {
		return nil, err
	}

	res, err := s.documents.Push(ctx, userID, req.DeviceID, req.Record, req.BaseVersion)
	if err != nil {
		return nil, s.toStatus(ctx, "Push", err)
	}
	return &rpc.PushResponse{Status: res.Status, Entity: res.Entity, Reason: res.Reason}, nil
}

func (s *GRPCServer) Fetch(ctx context.Context, req *rpc.FetchRequest) (*rpc.FetchResponse, error) {
	userID, err := s.authorize(ctx, req.UserPath)
	if err != nil {
		return nil, err
	}

	entities, err := s.documents.Fetch(ctx, userID, req.IDs)
	if err != nil {
		return nil, s.toStatus(ctx, "Fetch", err)
	}
	return &rpc.FetchResponse{Entities: entities}, nil
}

// Watch sends the current version, then every change until the client
// goes away or the server stops.
func (s *GRPCServer) Watch(req *rpc.WatchRequest, stream rpc.WatchServer) error {
	ctx := stream.Context()
	userID, err := s.authorize(ctx, req.UserPath)
	if err != nil {
		return err
	}

	versions, cancel := s.documents.Watch(userID)
	defer cancel()

	current, err := s.documents.Version(ctx, userID)
	if err != nil {
		return s.toStatus(ctx, "Watch", err)
	}
	if err := stream.Send(&rpc.WatchEvent{Version: current}); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stopping:
			return nil
		case v := <-versions:
			if v <= current {
				continue
			}
			current = v
			if err := stream.Send(&rpc.WatchEvent{Version: v}); err != nil {
				return err
			}
		}
	}
}
