package grpcserver

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"framer/internal/collection"
	"framer/internal/export"
	"framer/internal/frame"
	"framer/internal/prefs"
)

const (
	ServiceName = "framer.v1.Framer"

	composeMethod      = "/" + ServiceName + "/Compose"
	aspectRatiosMethod = "/" + ServiceName + "/AspectRatios"
	preferencesMethod  = "/" + ServiceName + "/Preferences"

	maxMessageSize = 100 * 1024 * 1024 // 100MB
)

// Metadata keys set on Compose responses.
const (
	HeaderWidth    = "x-frame-width"
	HeaderHeight   = "x-frame-height"
	HeaderFilename = "x-frame-filename"
)

// FramerServer is the service contract registered under ServiceName.
// Messages are protobuf well-known types so no generated code is needed.
type FramerServer interface {
	Compose(context.Context, *structpb.Struct) (*wrapperspb.BytesValue, error)
	AspectRatios(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	Preferences(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FramerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Compose", Handler: composeHandler},
		{MethodName: "AspectRatios", Handler: aspectRatiosHandler},
		{MethodName: "Preferences", Handler: preferencesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "framer/v1/framer.proto",
}

func composeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FramerServer).Compose(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: composeMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(FramerServer).Compose(ctx, req.(*structpb.Struct))
	})
}

func aspectRatiosHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FramerServer).AspectRatios(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: aspectRatiosMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(FramerServer).AspectRatios(ctx, req.(*emptypb.Empty))
	})
}

func preferencesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FramerServer).Preferences(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: preferencesMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(FramerServer).Preferences(ctx, req.(*emptypb.Empty))
	})
}

// Register attaches srv to g.
func Register(g *grpc.Server, srv FramerServer) {
	g.RegisterService(&serviceDesc, srv)
}

// Server composes single frames for remote callers.
type Server struct {
	loader  *collection.Loader
	seq     *export.Sequencer
	prefs   *prefs.Store
	limiter *rate.Limiter
	log     *slog.Logger
}

// New builds a Server. A nil limiter disables rate limiting.
func New(loader *collection.Loader, seq *export.Sequencer, store *prefs.Store, limiter *rate.Limiter, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{loader: loader, seq: seq, prefs: store, limiter: limiter, log: log}
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve accepts connections on lis until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	g := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMessageSize),
		grpc.MaxSendMsgSize(maxMessageSize),
		grpc.UnaryInterceptor(s.limit),
	)
	Register(g, s)

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down grpc server")
		g.GracefulStop()
	}()

	s.log.Info("grpc server starting", "addr", lis.Addr().String())
	if err := g.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (s *Server) limit(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if info.FullMethod == composeMethod && s.limiter != nil && !s.limiter.Allow() {
		return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
	}
	return handler(ctx, req)
}

func (s *Server) params() frame.Params {
	if s.prefs == nil {
		return frame.DefaultParams()
	}
	return s.prefs.LoadOrDefault()
}

// requestFields flattens the frame fields of req into strings for
// Params.With. Numbers are formatted without a fraction only when they have
// none, so 12.5 is rejected rather than truncated.
func requestFields(req *structpb.Struct) map[string]string {
	fields := map[string]string{}
	for _, k := range []string{frame.FieldRatio, frame.FieldBorder, frame.FieldBackground, frame.FieldColor, frame.FieldBlur} {
		v, ok := req.GetFields()[k]
		if !ok {
			continue
		}
		switch kind := v.GetKind().(type) {
		case *structpb.Value_StringValue:
			fields[k] = kind.StringValue
		case *structpb.Value_NumberValue:
			fields[k] = strconv.FormatFloat(kind.NumberValue, 'f', -1, 64)
		}
	}
	return fields
}

func (s *Server) Compose(ctx context.Context, req *structpb.Struct) (*wrapperspb.BytesValue, error) {
	p, err := s.params().With(requestFields(req))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	encoded := req.GetFields()["image"].GetStringValue()
	if encoded == "" {
		return nil, status.Error(codes.InvalidArgument, "image is required")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "image: %v", err)
	}
	name := req.GetFields()["name"].GetStringValue()
	if name == "" {
		name = "image"
	}

	res, err := s.loader.Load(ctx, []collection.Source{{Name: name, Data: data}})
	if err != nil {
		return nil, status.FromContextError(err).Err()
	}
	if len(res.Failed) > 0 {
		return nil, status.Error(codes.InvalidArgument, res.Failed[0].Error())
	}
	item := res.Items[0]
	b, err := s.seq.EncodeFrame(item, p)
	if err != nil {
		s.log.Error("grpc compose failed", "name", name, "error", err)
		return nil, status.Error(codes.Internal, err.Error())
	}

	dims := s.seq.Compositor.Dimensions(item.Image, p)
	grpc.SetHeader(ctx, metadata.Pairs(
		HeaderWidth, strconv.Itoa(dims.Width),
		HeaderHeight, strconv.Itoa(dims.Height),
		HeaderFilename, export.ExportName(name, p.Ratio().Token, s.seq.Encoder.Extension()),
	))
	return wrapperspb.Bytes(b), nil
}

func (s *Server) AspectRatios(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	ratios := frame.AspectRatios()
	items := make([]any, 0, len(ratios))
	for _, ar := range ratios {
		items = append(items, map[string]any{
			"key":          ar.Key,
			"ratio_width":  ar.Width,
			"ratio_height": ar.Height,
			"export_name":  ar.Token,
			"label":        ar.Label,
			"category":     ar.Category,
		})
	}
	lv, err := structpb.NewList(items)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return lv, nil
}

func (s *Server) Preferences(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	fields := map[string]any{}
	for k, v := range s.params().Fields() {
		fields[k] = v
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return st, nil
}

// Client calls a remote Framer service.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// ComposeResult is a framed image returned by Compose.
type ComposeResult struct {
	Data          []byte
	Width, Height int
	Filename      string
}

// Compose frames one image remotely. fields uses the frame.Field* names.
func (c *Client) Compose(ctx context.Context, name string, data []byte, fields map[string]string) (*ComposeResult, error) {
	m := map[string]any{
		"name":  name,
		"image": base64.StdEncoding.EncodeToString(data),
	}
	for k, v := range fields {
		if v != "" {
			m[k] = v
		}
	}
	req, err := structpb.NewStruct(m)
	if err != nil {
		return nil, err
	}
	var header metadata.MD
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, composeMethod, req, out, grpc.Header(&header)); err != nil {
		return nil, err
	}
	res := &ComposeResult{Data: out.GetValue()}
	if v := header.Get(HeaderWidth); len(v) > 0 {
		res.Width, _ = strconv.Atoi(v[0])
	}
	if v := header.Get(HeaderHeight); len(v) > 0 {
		res.Height, _ = strconv.Atoi(v[0])
	}
	if v := header.Get(HeaderFilename); len(v) > 0 {
		res.Filename = v[0]
	}
	return res, nil
}

// AspectRatios lists the remote catalog keys in display order.
func (c *Client) AspectRatios(ctx context.Context) ([]string, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, aspectRatiosMethod, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(out.GetValues()))
	for _, v := range out.GetValues() {
		keys = append(keys, v.GetStructValue().GetFields()["key"].GetStringValue())
	}
	return keys, nil
}

// Preferences returns the remote saved frame fields.
func (c *Client) Preferences(ctx context.Context) (map[string]string, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, preferencesMethod, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	fields := map[string]string{}
	for k, v := range out.GetFields() {
		fields[k] = v.GetStringValue()
	}
	return fields, nil
}
