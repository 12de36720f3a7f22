package client

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dmitrijs2005/fieldsync/internal/client/auth"
	"github.com/dmitrijs2005/fieldsync/internal/client/transfer"
	"github.com/dmitrijs2005/fieldsync/internal/common"
)

// Full method names of the backend sync service.
const (
	MethodSync         = "/fieldsync.v1.SyncService/Sync"
	MethodSyncBulk     = "/fieldsync.v1.SyncService/SyncBulk"
	MethodUpdatePhotos = "/fieldsync.v1.SyncService/UpdatePhotos"
	MethodDeletePhoto  = "/fieldsync.v1.SyncService/DeletePhoto"
	MethodCredentials  = "/fieldsync.v1.SyncService/UploadCredentials"
	MethodPing         = "/fieldsync.v1.SyncService/Ping"
)

// GRPCBackend talks to the backend over gRPC. Messages are google.protobuf.Struct
// values shaped like the JSON bodies of the HTTP transport.
type GRPCBackend struct {
	conn   *grpc.ClientConn
	tokens auth.TokenSource
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.AccessTokenHeaderName, token)

	return metadata.NewOutgoingContext(ctx, md)
}

func (b *GRPCBackend) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if method == MethodPing {
		return invoker(ctx, method, req, reply, cc, opts...)
	}

	token, err := b.tokens.Token(ctx)
	if err != nil {
		return status.Error(codes.Unauthenticated, err.Error())
	}

	return invoker(withAccessToken(ctx, token), method, req, reply, cc, opts...)
}

// NewGRPCBackend dials target lazily. Extra dial options are appended after
// the defaults; tests use them to plug in an in-memory listener.
func NewGRPCBackend(target string, tokens auth.TokenSource, opts ...grpc.DialOption) (*GRPCBackend, error) {
	b := &GRPCBackend{tokens: tokens}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(b.accessTokenInterceptor),
	}, opts...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, err
	}
	b.conn = conn
	return b, nil
}

func (b *GRPCBackend) Close() error {
	return b.conn.Close()
}

func (b *GRPCBackend) mapError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return &CallError{Outcome: OutcomeRetryable, Err: fmt.Errorf("%w: %w", ErrUnavailable, err)}
	}
	switch st.Code() {
	case codes.Canceled:
		return context.Canceled
	case codes.Unauthenticated, codes.PermissionDenied:
		return &CallError{Outcome: OutcomeAuthPause, Err: fmt.Errorf("%w: %s", ErrUnauthorized, st.Message())}
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return &CallError{Outcome: OutcomeRetryable, Err: fmt.Errorf("%w: %s", ErrUnavailable, st.Message())}
	case codes.InvalidArgument, codes.NotFound, codes.AlreadyExists, codes.FailedPrecondition, codes.OutOfRange:
		return &CallError{Outcome: OutcomeBusinessReject, Err: fmt.Errorf("%w: %s", ErrRejected, st.Message())}
	default:
		return &CallError{Outcome: OutcomeRetryable, Err: fmt.Errorf("rpc error: %w", err)}
	}
}

// invoke converts in to a Struct through its JSON form, calls method and
// decodes the reply into out when out is non-nil.
func (b *GRPCBackend) invoke(ctx context.Context, method string, in, out any) error {
	req, err := toStruct(in)
	if err != nil {
		return &CallError{Outcome: OutcomeBusinessReject, Err: fmt.Errorf("%w: %w", ErrRejected, err)}
	}

	reply := &structpb.Struct{}
	if err := b.conn.Invoke(ctx, method, req, reply); err != nil {
		if isCanceled(ctx, err) {
			return ctx.Err()
		}
		return b.mapError(err)
	}

	if out == nil {
		return nil
	}
	raw, err := reply.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}

func toStruct(v any) (*structpb.Struct, error) {
	if v == nil {
		return &structpb.Struct{}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func (b *GRPCBackend) Sync(ctx context.Context, op Operation) error {
	if op.Op.Method() == "" {
		return &CallError{Outcome: OutcomeBusinessReject, Err: fmt.Errorf("%w: unknown op %q", ErrRejected, op.Op)}
	}
	return b.invoke(ctx, MethodSync, op, nil)
}

func (b *GRPCBackend) SyncBulk(ctx context.Context, ops []Operation) error {
	if len(ops) == 0 {
		return nil
	}
	return b.invoke(ctx, MethodSyncBulk, bulkRequest{Operations: ops}, nil)
}

type grpcUpdatePhotosRequest struct {
	ScheduleID string     `json:"scheduleId"`
	Existing   []string   `json:"existing"`
	New        []NewPhoto `json:"new"`
}

func (b *GRPCBackend) UpdatePhotos(ctx context.Context, scheduleID string, existing []string, added []NewPhoto) (map[string]string, error) {
	if existing == nil {
		existing = []string{}
	}
	if added == nil {
		added = []NewPhoto{}
	}
	var resp updatePhotosResponse
	err := b.invoke(ctx, MethodUpdatePhotos, grpcUpdatePhotosRequest{ScheduleID: scheduleID, Existing: existing, New: added}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.URLs == nil {
		resp.URLs = map[string]string{}
	}
	return resp.URLs, nil
}

func (b *GRPCBackend) DeletePhoto(ctx context.Context, photoURL string) error {
	return b.invoke(ctx, MethodDeletePhoto, deletePhotoRequest{URL: photoURL}, nil)
}

type pingResponse struct {
	Status string `json:"status"`
}

func (b *GRPCBackend) Ping(ctx context.Context) error {
	var resp pingResponse
	if err := b.invoke(ctx, MethodPing, nil, &resp); err != nil {
		return err
	}
	if resp.Status != "OK" {
		return ErrUnavailable
	}
	return nil
}

type credentialsRequest struct {
	Files []transfer.Request `json:"files"`
}

type credentialsResponse struct {
	Credentials map[string]transfer.Credential `json:"credentials"`
}

// FetchCredentials issues signed-upload credentials over gRPC, so the
// signed transfer can run without the HTTP credential endpoint.
func (b *GRPCBackend) FetchCredentials(ctx context.Context, reqs []transfer.Request) (map[string]transfer.Credential, error) {
	var resp credentialsResponse
	if err := b.invoke(ctx, MethodCredentials, credentialsRequest{Files: reqs}, &resp); err != nil {
		return nil, err
	}
	if resp.Credentials == nil {
		resp.Credentials = map[string]transfer.Credential{}
	}
	return resp.Credentials, nil
}
