package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/notesync/internal/client/auth"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/models"
	"github.com/dmitrijs2005/notesync/internal/rpc"
)

// documentAPI is the generated-style stub; tests swap in a fake.
type documentAPI interface {
	Ping(ctx context.Context, in *rpc.PingRequest, opts ...grpc.CallOption) (*rpc.PingResponse, error)
	Pull(ctx context.Context, in *rpc.PullRequest, opts ...grpc.CallOption) (*rpc.PullResponse, error)
	Push(ctx context.Context, in *rpc.PushRequest, opts ...grpc.CallOption) (*rpc.PushResponse, error)
	Fetch(ctx context.Context, in *rpc.FetchRequest, opts ...grpc.CallOption) (*rpc.FetchResponse, error)
	Watch(ctx context.Context, in *rpc.WatchRequest, opts ...grpc.CallOption) (rpc.WatchClient, error)
}

type GRPCClient struct {
	endpointURL string
	conn        *grpc.ClientConn
	client      documentAPI
	auth        auth.Authenticator
}

var _ Client = (*GRPCClient)(nil)

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Delete(common.AccessTokenHeaderName)
	md.Set(common.AccessTokenHeaderName, token)

	return metadata.NewOutgoingContext(ctx, md)
}

// authorize attaches the current token. Ping goes out bare so the
// connectivity probe works while signed out.
func (s *GRPCClient) authorize(ctx context.Context, method string) (context.Context, error) {
	if s.auth == nil || method == rpc.PingMethod {
		return ctx, nil
	}
	token, err := s.auth.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return withAccessToken(ctx, token), nil
}

func (s *GRPCClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	ctx, err := s.authorize(ctx, method)
	if err != nil {
		return err
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}

func (s *GRPCClient) accessTokenStreamInterceptor(
	ctx context.Context,
	desc *grpc.StreamDesc,
	cc *grpc.ClientConn,
	method string,
	streamer grpc.Streamer,
	opts ...grpc.CallOption,
) (grpc.ClientStream, error) {
	ctx, err := s.authorize(ctx, method)
	if err != nil {
		return nil, err
	}
	return streamer(ctx, desc, cc, method, opts...)
}

func NewDocumentClient(endpointURL string, a auth.Authenticator) (*GRPCClient, error) {
	c := &GRPCClient{endpointURL: endpointURL, auth: a}
	err := c.InitGRPCClient()
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *GRPCClient) InitGRPCClient() error {
	conn, err := grpc.NewClient(s.endpointURL,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(s.accessTokenInterceptor),
		grpc.WithStreamInterceptor(s.accessTokenStreamInterceptor),
	)
	if err != nil {
		return err
	}
	s.conn = conn
	s.client = rpc.NewDocumentServiceClient(conn)
	return nil
}

func (s *GRPCClient) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *GRPCClient) Ping(ctx context.Context) error {
	resp, err := s.client.Ping(ctx, &rpc.PingRequest{})
	if err != nil {
		return s.mapError(err)
	}

	if resp.Status != "OK" {
		return ErrUnavailable
	}

	return nil
}

func (s *GRPCClient) Pull(ctx context.Context, userPath string, since int64) ([]models.Entity, int64, error) {
	resp, err := s.client.Pull(ctx, &rpc.PullRequest{UserPath: userPath, Since: since})
	if err != nil {
		return nil, 0, s.mapError(err)
	}
	return resp.Entities, resp.Cursor, nil
}

func (s *GRPCClient) Push(ctx context.Context, userPath, deviceID string, rec models.MutationRecord, baseVersion int64) (PushResult, error) {
	req := &rpc.PushRequest{UserPath: userPath, DeviceID: deviceID, Record: rec, BaseVersion: baseVersion}

	resp, err := s.client.Push(ctx, req)
	if err != nil {
		return PushResult{}, s.mapError(err)
	}

	switch resp.Status {
	case rpc.PushAck, rpc.PushConflict:
		if resp.Entity == nil {
			return PushResult{}, fmt.Errorf("push %s: response without entity", resp.Status)
		}
	case rpc.PushRejected:
	default:
		return PushResult{}, fmt.Errorf("push: unknown status %q", resp.Status)
	}

	return PushResult{Status: resp.Status, Entity: resp.Entity, Reason: resp.Reason}, nil
}

func (s *GRPCClient) Fetch(ctx context.Context, userPath string, ids []string) ([]models.Entity, error) {
	resp, err := s.client.Fetch(ctx, &rpc.FetchRequest{UserPath: userPath, IDs: ids})
	if err != nil {
		return nil, s.mapError(err)
	}
	return resp.Entities, nil
}

func (s *GRPCClient) Watch(ctx context.Context, userPath string) (<-chan int64, error) {
	stream, err := s.client.Watch(ctx, &rpc.WatchRequest{UserPath: userPath})
	if err != nil {
		return nil, s.mapError(err)
	}

	out := make(chan int64, 1)
	go func() {
		defer close(out)
		for {
			ev, err := stream.Recv()
			if err != nil {
				return
			}
			// keep only the newest version if the reader lags
			select {
			case <-out:
			default:
			}
			select {
			case out <- ev.Version:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (s *GRPCClient) mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, io.EOF) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unauthenticated:
		return ErrUnauthorized
	case codes.PermissionDenied:
		return ErrPermissionDenied
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return ErrUnavailable
	case codes.FailedPrecondition, codes.InvalidArgument:
		return fmt.Errorf("%w: %s", ErrRejected, st.Message())
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}
