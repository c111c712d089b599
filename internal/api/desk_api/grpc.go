package desk_api

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// codecName is the gRPC content subtype the desk service speaks.
const codecName = "json"

const ServiceName = "freightdesk.v1.DeskService"

const (
	MethodListBookingRequests  = "/" + ServiceName + "/ListBookingRequests"
	MethodGetBookingRequest    = "/" + ServiceName + "/GetBookingRequest"
	MethodApproveBooking       = "/" + ServiceName + "/ApproveBooking"
	MethodRejectBooking        = "/" + ServiceName + "/RejectBooking"
	MethodRequestBookingInfo   = "/" + ServiceName + "/RequestBookingInfo"
	MethodListShipments        = "/" + ServiceName + "/ListShipments"
	MethodGetShipment          = "/" + ServiceName + "/GetShipment"
	MethodAddShipmentMilestone = "/" + ServiceName + "/AddShipmentMilestone"
	MethodAssignCarrier        = "/" + ServiceName + "/AssignCarrier"
	MethodListCarriers         = "/" + ServiceName + "/ListCarriers"
)

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type DeskServiceServer interface {
	ListBookingRequests(context.Context, *ListBookingRequestsRequest) (*ListBookingRequestsResponse, error)
	GetBookingRequest(context.Context, *GetBookingRequestRequest) (*BookingResponse, error)
	ApproveBooking(context.Context, *ApproveBookingRequest) (*ApproveBookingResponse, error)
	RejectBooking(context.Context, *RejectBookingRequest) (*BookingResponse, error)
	RequestBookingInfo(context.Context, *RequestBookingInfoRequest) (*BookingResponse, error)
	ListShipments(context.Context, *ListShipmentsRequest) (*ListShipmentsResponse, error)
	GetShipment(context.Context, *GetShipmentRequest) (*ShipmentResponse, error)
	AddShipmentMilestone(context.Context, *AddShipmentMilestoneRequest) (*ShipmentResponse, error)
	AssignCarrier(context.Context, *AssignCarrierRequest) (*ShipmentResponse, error)
	ListCarriers(context.Context, *ListCarriersRequest) (*ListCarriersResponse, error)
}

var _ DeskServiceServer = (*DeskAPI)(nil)

func unary[Req, Resp any](fullMethod string, call func(DeskServiceServer, context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(DeskServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(DeskServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var deskServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DeskServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListBookingRequests", Handler: unary(MethodListBookingRequests, DeskServiceServer.ListBookingRequests)},
		{MethodName: "GetBookingRequest", Handler: unary(MethodGetBookingRequest, DeskServiceServer.GetBookingRequest)},
		{MethodName: "ApproveBooking", Handler: unary(MethodApproveBooking, DeskServiceServer.ApproveBooking)},
		{MethodName: "RejectBooking", Handler: unary(MethodRejectBooking, DeskServiceServer.RejectBooking)},
		{MethodName: "RequestBookingInfo", Handler: unary(MethodRequestBookingInfo, DeskServiceServer.RequestBookingInfo)},
		{MethodName: "ListShipments", Handler: unary(MethodListShipments, DeskServiceServer.ListShipments)},
		{MethodName: "GetShipment", Handler: unary(MethodGetShipment, DeskServiceServer.GetShipment)},
		{MethodName: "AddShipmentMilestone", Handler: unary(MethodAddShipmentMilestone, DeskServiceServer.AddShipmentMilestone)},
		{MethodName: "AssignCarrier", Handler: unary(MethodAssignCarrier, DeskServiceServer.AssignCarrier)},
		{MethodName: "ListCarriers", Handler: unary(MethodListCarriers, DeskServiceServer.ListCarriers)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "freightdesk/v1/desk.proto",
}

func RegisterDeskServiceServer(s grpc.ServiceRegistrar, srv DeskServiceServer) {
	s.RegisterService(&deskServiceDesc, srv)
}

// DeskServiceClient calls the desk service with the JSON codec.
type DeskServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewDeskServiceClient(cc grpc.ClientConnInterface) *DeskServiceClient {
	return &DeskServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *DeskServiceClient) ListBookingRequests(ctx context.Context, in *ListBookingRequestsRequest, opts ...grpc.CallOption) (*ListBookingRequestsResponse, error) {
	return invoke[ListBookingRequestsResponse](ctx, c.cc, MethodListBookingRequests, in, opts)
}

func (c *DeskServiceClient) GetBookingRequest(ctx context.Context, in *GetBookingRequestRequest, opts ...grpc.CallOption) (*BookingResponse, error) {
	return invoke[BookingResponse](ctx, c.cc, MethodGetBookingRequest, in, opts)
}

func (c *DeskServiceClient) ApproveBooking(ctx context.Context, in *ApproveBookingRequest, opts ...grpc.CallOption) (*ApproveBookingResponse, error) {
	return invoke[ApproveBookingResponse](ctx, c.cc, MethodApproveBooking, in, opts)
}

func (c *DeskServiceClient) RejectBooking(ctx context.Context, in *RejectBookingRequest, opts ...grpc.CallOption) (*BookingResponse, error) {
	return invoke[BookingResponse](ctx, c.cc, MethodRejectBooking, in, opts)
}

func (c *DeskServiceClient) RequestBookingInfo(ctx context.Context, in *RequestBookingInfoRequest, opts ...grpc.CallOption) (*BookingResponse, error) {
	return invoke[BookingResponse](ctx, c.cc, MethodRequestBookingInfo, in, opts)
}

func (c *DeskServiceClient) ListShipments(ctx context.Context, in *ListShipmentsRequest, opts ...grpc.CallOption) (*ListShipmentsResponse, error) {
	return invoke[ListShipmentsResponse](ctx, c.cc, MethodListShipments, in, opts)
}

func (c *DeskServiceClient) GetShipment(ctx context.Context, in *GetShipmentRequest, opts ...grpc.CallOption) (*ShipmentResponse, error) {
	return invoke[ShipmentResponse](ctx, c.cc, MethodGetShipment, in, opts)
}

func (c *DeskServiceClient) AddShipmentMilestone(ctx context.Context, in *AddShipmentMilestoneRequest, opts ...grpc.CallOption) (*ShipmentResponse, error) {
	return invoke[ShipmentResponse](ctx, c.cc, MethodAddShipmentMilestone, in, opts)
}

func (c *DeskServiceClient) AssignCarrier(ctx context.Context, in *AssignCarrierRequest, opts ...grpc.CallOption) (*ShipmentResponse, error) {
	return invoke[ShipmentResponse](ctx, c.cc, MethodAssignCarrier, in, opts)
}

func (c *DeskServiceClient) ListCarriers(ctx context.Context, in *ListCarriersRequest, opts ...grpc.CallOption) (*ListCarriersResponse, error) {
	return invoke[ListCarriersResponse](ctx, c.cc, MethodListCarriers, in, opts)
}
