package client

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/models"
	"github.com/dmitrijs2005/notesync/internal/rpc"
)

/*************
 * Fakes
 *************/

type fakeAPI struct {
	lastPullReq  *rpc.PullRequest
	lastPushReq  *rpc.PushRequest
	lastFetchReq *rpc.FetchRequest
	lastWatchReq *rpc.WatchRequest

	pingResp *rpc.PingResponse
	pingErr  error

	pullResp *rpc.PullResponse
	pullErr  error

	pushResp *rpc.PushResponse
	pushErr  error

	fetchResp *rpc.FetchResponse
	fetchErr  error

	watchStream rpc.WatchClient
	watchErr    error
}

func (f *fakeAPI) Ping(ctx context.Context, in *rpc.PingRequest, opts ...grpc.CallOption) (*rpc.PingResponse, error) {
	return f.pingResp, f.pingErr
}
func (f *fakeAPI) Pull(ctx context.Context, in *rpc.PullRequest, opts ...grpc.CallOption) (*rpc.PullResponse, error) {
	f.lastPullReq = in
	return f.pullResp, f.pullErr
}
func (f *fakeAPI) Push(ctx context.Context, in *rpc.PushRequest, opts ...grpc.CallOption) (*rpc.PushResponse, error) {
	f.lastPushReq = in
	return f.pushResp, f.pushErr
}
func (f *fakeAPI) Fetch(ctx context.Context, in *rpc.FetchRequest, opts ...grpc.CallOption) (*rpc.FetchResponse, error) {
	f.lastFetchReq = in
	return f.fetchResp, f.fetchErr
}
func (f *fakeAPI) Watch(ctx context.Context, in *rpc.WatchRequest, opts ...grpc.CallOption) (rpc.WatchClient, error) {
	f.lastWatchReq = in
	return f.watchStream, f.watchErr
}

type fakeWatch struct {
	grpc.ClientStream
	events []int64
}

func (w *fakeWatch) Recv() (*rpc.WatchEvent, error) {
	if len(w.events) == 0 {
		return nil, io.EOF
	}
	v := w.events[0]
	w.events = w.events[1:]
	return &rpc.WatchEvent{Version: v}, nil
}

type fakeAuth struct {
	token string
	err   error
}

func (a *fakeAuth) CurrentIdentity() (string, bool)           { return "u1", a.err == nil }
func (a *fakeAuth) Token(ctx context.Context) (string, error) { return a.token, a.err }
func (a *fakeAuth) Check(ctx context.Context) error           { return a.err }
func (a *fakeAuth) Subscribe() (<-chan string, func())        { return make(chan string), func() {} }

/*************
 * interceptor tests
 *************/

func TestInterceptor_AttachesToken(t *testing.T) {
	c := &GRPCClient{auth: &fakeAuth{token: "A1"}}

	called := false
	invoker := func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		called = true
		md, _ := metadata.FromOutgoingContext(ctx)
		toks := md.Get(common.AccessTokenHeaderName)
		require.Equal(t, []string{"A1"}, toks)
		return nil
	}

	ctx := withAccessToken(context.Background(), "stale")
	require.NoError(t, c.accessTokenInterceptor(ctx, rpc.PullMethod, nil, nil, nil, invoker))
	require.True(t, called)
}

func TestInterceptor_PingSkipsToken(t *testing.T) {
	c := &GRPCClient{auth: &fakeAuth{err: errors.New("signed out")}}

	invoker := func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		md, _ := metadata.FromOutgoingContext(ctx)
		require.Empty(t, md.Get(common.AccessTokenHeaderName))
		return nil
	}
	require.NoError(t, c.accessTokenInterceptor(context.Background(), rpc.PingMethod, nil, nil, nil, invoker))
}

func TestInterceptor_NoTokenIsUnauthorized(t *testing.T) {
	c := &GRPCClient{auth: &fakeAuth{err: errors.New("expired")}}

	invoker := func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		t.Fatal("must not invoke without a token")
		return nil
	}
	err := c.accessTokenInterceptor(context.Background(), rpc.PushMethod, nil, nil, nil, invoker)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestStreamInterceptor_AttachesToken(t *testing.T) {
	c := &GRPCClient{auth: &fakeAuth{token: "S1"}}

	streamer := func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		md, _ := metadata.FromOutgoingContext(ctx)
		require.Equal(t, []string{"S1"}, md.Get(common.AccessTokenHeaderName))
		return nil, nil
	}
	_, err := c.accessTokenStreamInterceptor(context.Background(), &rpc.ServiceDesc.Streams[0], nil, rpc.WatchMethod, streamer)
	require.NoError(t, err)
}

/*************
 * mapError tests
 *************/

func TestMapError(t *testing.T) {
	c := &GRPCClient{}

	require.Equal(t, ErrUnauthorized, c.mapError(status.Error(codes.Unauthenticated, "x")))
	require.Equal(t, ErrPermissionDenied, c.mapError(status.Error(codes.PermissionDenied, "x")))
	require.Equal(t, ErrUnavailable, c.mapError(status.Error(codes.Unavailable, "x")))
	require.Equal(t, ErrUnavailable, c.mapError(status.Error(codes.DeadlineExceeded, "x")))
	require.ErrorIs(t, c.mapError(context.DeadlineExceeded), ErrUnavailable)
	require.ErrorIs(t, c.mapError(status.Error(codes.FailedPrecondition, "parent missing")), ErrRejected)
	require.ErrorIs(t, c.mapError(status.Error(codes.InvalidArgument, "bad")), ErrRejected)
	e := errors.New("plain")
	require.ErrorContains(t, c.mapError(e), "rpc error:")
	require.NoError(t, c.mapError(nil))
}

/*************
 * call tests
 *************/

func TestPing(t *testing.T) {
	f := &fakeAPI{pingResp: &rpc.PingResponse{Status: "OK"}}
	c := &GRPCClient{client: f}
	require.NoError(t, c.Ping(context.Background()))

	f.pingResp = &rpc.PingResponse{Status: "DRAINING"}
	require.ErrorIs(t, c.Ping(context.Background()), ErrUnavailable)

	f.pingErr = status.Error(codes.Unavailable, "down")
	require.ErrorIs(t, c.Ping(context.Background()), ErrUnavailable)
}

func TestPull(t *testing.T) {
	f := &fakeAPI{pullResp: &rpc.PullResponse{
		Entities: []models.Entity{{ID: "e1", ServerVersion: 4}},
		Cursor:   4,
	}}
	c := &GRPCClient{client: f}

	ents, cursor, err := c.Pull(context.Background(), "users/u1", 2)
	require.NoError(t, err)
	require.Equal(t, int64(4), cursor)
	require.Len(t, ents, 1)
	require.Equal(t, "users/u1", f.lastPullReq.UserPath)
	require.Equal(t, int64(2), f.lastPullReq.Since)
}

func TestPush_Statuses(t *testing.T) {
	ent := &models.Entity{ID: "e1", ServerVersion: 7}
	f := &fakeAPI{pushResp: &rpc.PushResponse{Status: rpc.PushAck, Entity: ent}}
	c := &GRPCClient{client: f}

	rec := models.MutationRecord{Seq: 3, EntityID: "e1", Op: models.OpUpdate}
	res, err := c.Push(context.Background(), "users/u1", "dev", rec, 6)
	require.NoError(t, err)
	require.Equal(t, rpc.PushAck, res.Status)
	require.Equal(t, int64(7), res.Entity.ServerVersion)
	require.Equal(t, "dev", f.lastPushReq.DeviceID)
	require.Equal(t, int64(6), f.lastPushReq.BaseVersion)
	require.Equal(t, int64(3), f.lastPushReq.Record.Seq)

	f.pushResp = &rpc.PushResponse{Status: rpc.PushRejected, Reason: "parent missing"}
	res, err = c.Push(context.Background(), "users/u1", "dev", rec, 6)
	require.NoError(t, err)
	require.Equal(t, "parent missing", res.Reason)

	f.pushResp = &rpc.PushResponse{Status: rpc.PushConflict}
	_, err = c.Push(context.Background(), "users/u1", "dev", rec, 6)
	require.Error(t, err, "conflict without entity is malformed")

	f.pushErr = status.Error(codes.PermissionDenied, "x")
	_, err = c.Push(context.Background(), "users/u2", "dev", rec, 6)
	require.ErrorIs(t, err, ErrPermissionDenied)
}

func TestFetch(t *testing.T) {
	f := &fakeAPI{fetchResp: &rpc.FetchResponse{Entities: []models.Entity{{ID: "a"}, {ID: "b"}}}}
	c := &GRPCClient{client: f}

	ents, err := c.Fetch(context.Background(), "users/u1", []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, ents, 2)
	require.Equal(t, []string{"a", "b"}, f.lastFetchReq.IDs)
}

func TestWatch_DeliversVersionsAndCloses(t *testing.T) {
	f := &fakeAPI{watchStream: &fakeWatch{events: []int64{5}}}
	c := &GRPCClient{client: f}

	ch, err := c.Watch(context.Background(), "users/u1")
	require.NoError(t, err)

	select {
	case v := <-ch:
		require.Equal(t, int64(5), v)
	case <-time.After(time.Second):
		t.Fatal("no version")
	}

	select {
	case _, ok := <-ch:
		require.False(t, ok, "channel closes at end of stream")
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}

func TestWatch_MapsOpenError(t *testing.T) {
	f := &fakeAPI{watchErr: status.Error(codes.Unauthenticated, "x")}
	c := &GRPCClient{client: f}

	_, err := c.Watch(context.Background(), "users/u1")
	require.ErrorIs(t, err, ErrUnauthorized)
}
