package handler

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

const (
	codecName = "json"

	SeckillServiceName   = "seckill.v1.SeckillService"
	SeckillFullMethod    = "/" + SeckillServiceName + "/Seckill"
	seckillMethodName    = "Seckill"
	seckillServiceSource = "seckill/v1/seckill.proto"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec carries the plain request structs over gRPC.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

type SeckillRequest struct {
	VoucherID int64 `json:"voucherId"`
	UserID    int64 `json:"userId"`
}

type SeckillResponse struct {
	Success bool   `json:"success"`
	OrderID int64  `json:"orderId,omitempty"`
	Message string `json:"message"`
}

type SeckillServer interface {
	Seckill(ctx context.Context, req *SeckillRequest) (*SeckillResponse, error)
}

func RegisterSeckillServer(s grpc.ServiceRegistrar, srv SeckillServer) {
	s.RegisterService(&seckillServiceDesc, srv)
}

var seckillServiceDesc = grpc.ServiceDesc{
	ServiceName: SeckillServiceName,
	HandlerType: (*SeckillServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: seckillMethodName,
			Handler:    seckillHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: seckillServiceSource,
}

func seckillHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SeckillRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SeckillServer).Seckill(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: SeckillFullMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SeckillServer).Seckill(ctx, req.(*SeckillRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// SeckillClient calls SeckillService with the JSON codec.
type SeckillClient struct {
	cc grpc.ClientConnInterface
}

func NewSeckillClient(cc grpc.ClientConnInterface) *SeckillClient {
	return &SeckillClient{cc: cc}
}

func (c *SeckillClient) Seckill(ctx context.Context, in *SeckillRequest, opts ...grpc.CallOption) (*SeckillResponse, error) {
	out := new(SeckillResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, SeckillFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type GRPCHandler struct {
	seckill Seckiller
}

func NewGRPCHandler(seckill Seckiller) *GRPCHandler {
	return &GRPCHandler{seckill: seckill}
}

// Seckill reports business rejections in the response, never as RPC errors.
// It takes userId from the request as is and performs no authentication, so
// the service must only be exposed to trusted internal callers. End users go
// through the HTTP API, which resolves the user from the session token.
func (h *GRPCHandler) Seckill(ctx context.Context, req *SeckillRequest) (*SeckillResponse, error) {
	orderID, err := h.seckill.Submit(ctx, req.VoucherID, req.UserID)
	if err != nil {
		_, msg := statusFor(err)
		return &SeckillResponse{
			Success: false,
			Message: msg,
		}, nil
	}

	return &SeckillResponse{
		Success: true,
		OrderID: orderID,
		Message: "order admitted",
	}, nil
}
