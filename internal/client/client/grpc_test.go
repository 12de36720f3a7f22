package client

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dmitrijs2005/fieldsync/internal/client/auth"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/transfer"
	"github.com/dmitrijs2005/fieldsync/internal/common"
)

type call struct {
	method string
	token  string
	req    map[string]any
}

// fakeServer answers every method through the unknown-service handler.
type fakeServer struct {
	mu      sync.Mutex
	calls   []call
	replies map[string]map[string]any
	errs    map[string]error
}

func (f *fakeServer) handle(_ any, stream grpc.ServerStream) error {
	method, _ := grpc.MethodFromServerStream(stream)
	req := &structpb.Struct{}
	if err := stream.RecvMsg(req); err != nil {
		return err
	}

	var token string
	if md, ok := metadata.FromIncomingContext(stream.Context()); ok {
		if v := md.Get(common.AccessTokenHeaderName); len(v) > 0 {
			token = v[0]
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, call{method: method, token: token, req: req.AsMap()})
	err := f.errs[method]
	reply := f.replies[method]
	f.mu.Unlock()

	if err != nil {
		return err
	}
	out, err := structpb.NewStruct(reply)
	if err != nil {
		return err
	}
	return stream.SendMsg(out)
}

func (f *fakeServer) reply(method string, m map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[method] = m
}

func (f *fakeServer) fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[method] = err
}

func (f *fakeServer) recorded() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func newGRPCBackend(t *testing.T, tokens auth.TokenSource) (*GRPCBackend, *fakeServer) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	fs := &fakeServer{replies: map[string]map[string]any{}, errs: map[string]error{}}

	srv := grpc.NewServer(grpc.UnknownServiceHandler(fs.handle))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	b, err := NewGRPCBackend("passthrough:///bufnet", tokens,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b, fs
}

func TestGRPCBackend_SyncInjectsToken(t *testing.T) {
	b, fs := newGRPCBackend(t, auth.StaticSource("tok-1"))

	err := b.Sync(context.Background(), Operation{Op: models.OpPatch, Table: "schedules", ID: "s1", Data: json.RawMessage(`{"title":"x"}`)})
	require.NoError(t, err)

	require.Len(t, fs.recorded(), 1)
	c := fs.recorded()[0]
	assert.Equal(t, MethodSync, c.method)
	assert.Equal(t, "tok-1", c.token)
	assert.Equal(t, "PATCH", c.req["op"])
	assert.Equal(t, map[string]any{"title": "x"}, c.req["data"])
}

func TestGRPCBackend_UpdatePhotosAndCredentials(t *testing.T) {
	b, fs := newGRPCBackend(t, auth.StaticSource("tok"))
	fs.reply(MethodUpdatePhotos, map[string]any{"urls": map[string]any{"sig": "https://cdn/sig.png"}})
	fs.reply(MethodCredentials, map[string]any{"credentials": map[string]any{
		"a.jpg": map[string]any{"apiKey": "k", "signature": "s", "timestamp": 1700000000},
	}})

	urls, err := b.UpdatePhotos(context.Background(), "S1", nil, []NewPhoto{{ID: "sig", Data: "AAA="}})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/sig.png", urls["sig"])
	assert.Equal(t, "S1", fs.recorded()[0].req["scheduleId"])

	creds, err := b.FetchCredentials(context.Background(), []transfer.Request{{FileName: "a.jpg"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), creds["a.jpg"].Timestamp)
	assert.Equal(t, "s", creds["a.jpg"].Signature)
}

func TestGRPCBackend_Ping(t *testing.T) {
	b, fs := newGRPCBackend(t, auth.StaticSource(""))
	fs.reply(MethodPing, map[string]any{"status": "OK"})
	require.NoError(t, b.Ping(context.Background()), "ping needs no session")

	fs.reply(MethodPing, map[string]any{"status": "DOWN"})
	require.ErrorIs(t, b.Ping(context.Background()), ErrUnavailable)
}

func TestGRPCBackend_MapsStatusCodes(t *testing.T) {
	tests := []struct {
		code codes.Code
		want Outcome
	}{
		{codes.Unauthenticated, OutcomeAuthPause},
		{codes.PermissionDenied, OutcomeAuthPause},
		{codes.Unavailable, OutcomeRetryable},
		{codes.ResourceExhausted, OutcomeRetryable},
		{codes.InvalidArgument, OutcomeBusinessReject},
		{codes.NotFound, OutcomeBusinessReject},
		{codes.Internal, OutcomeRetryable},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			b, fs := newGRPCBackend(t, auth.StaticSource("tok"))
			fs.fail(MethodDeletePhoto, status.Error(tt.code, "nope"))

			err := b.DeletePhoto(context.Background(), "https://cdn/a.jpg")
			assert.Equal(t, tt.want, Classify(err))
		})
	}
}

func TestGRPCBackend_NoSession(t *testing.T) {
	b, fs := newGRPCBackend(t, auth.StaticSource(""))

	err := b.SyncBulk(context.Background(), []Operation{{Op: models.OpPut, Table: "t", ID: "1"}})
	assert.Equal(t, OutcomeAuthPause, Classify(err))
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Empty(t, fs.recorded())
}

func TestWithAccessToken_ReplacesExisting(t *testing.T) {
	ctx := metadata.NewOutgoingContext(context.Background(), metadata.Pairs(common.AccessTokenHeaderName, "old", "x", "y"))
	ctx = withAccessToken(ctx, "new")

	md, ok := metadata.FromOutgoingContext(ctx)
	require.True(t, ok)
	assert.Equal(t, []string{"new"}, md.Get(common.AccessTokenHeaderName))
	assert.Equal(t, []string{"y"}, md.Get("x"))
}
