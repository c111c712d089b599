package desk_api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// RegisterDeskServiceHandlerFromEndpoint dials the gRPC server and exposes it
// as REST on mux. The connection is closed when ctx is done.
func RegisterDeskServiceHandlerFromEndpoint(ctx context.Context, mux *runtime.ServeMux, endpoint string, opts []grpc.DialOption) error {
	conn, err := grpc.NewClient(endpoint, opts...)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		if cerr := conn.Close(); cerr != nil {
			slog.Error("failed to close conn", "endpoint", endpoint, "err", cerr)
		}
	}()
	return RegisterDeskServiceHandlerClient(ctx, mux, NewDeskServiceClient(conn))
}

type route struct {
	method  string
	pattern string
	rpc     string
	created bool
	call    func(ctx context.Context, c *DeskServiceClient, r *http.Request, params map[string]string, opts ...grpc.CallOption) (any, error)
}

func RegisterDeskServiceHandlerClient(_ context.Context, mux *runtime.ServeMux, client *DeskServiceClient) error {
	for _, rt := range routes() {
		err := mux.HandlePath(rt.method, rt.pattern, func(w http.ResponseWriter, r *http.Request, params map[string]string) {
			ctx, err := runtime.AnnotateContext(r.Context(), mux, r, rt.rpc, runtime.WithHTTPPathPattern(rt.pattern))
			if err != nil {
				writeError(w, status.Error(codes.InvalidArgument, err.Error()), nil)
				return
			}
			var trailer metadata.MD
			resp, err := rt.call(ctx, client, r, params, grpc.Trailer(&trailer))
			if err != nil {
				writeError(w, err, trailer)
				return
			}
			code := http.StatusOK
			if rt.created {
				code = http.StatusCreated
			}
			writeJSON(w, code, resp)
		})
		if err != nil {
			return errors.Wrapf(err, "register %s %s", rt.method, rt.pattern)
		}
	}
	return nil
}

func routes() []route {
	return []route{
		{
			method: http.MethodGet, pattern: "/v1/booking-requests", rpc: MethodListBookingRequests,
			call: func(ctx context.Context, c *DeskServiceClient, r *http.Request, _ map[string]string, opts ...grpc.CallOption) (any, error) {
				return c.ListBookingRequests(ctx, &ListBookingRequestsRequest{Status: r.URL.Query().Get("status")}, opts...)
			},
		},
		{
			method: http.MethodGet, pattern: "/v1/booking-requests/{id}", rpc: MethodGetBookingRequest,
			call: func(ctx context.Context, c *DeskServiceClient, _ *http.Request, p map[string]string, opts ...grpc.CallOption) (any, error) {
				return c.GetBookingRequest(ctx, &GetBookingRequestRequest{BookingID: p["id"]}, opts...)
			},
		},
		{
			method: http.MethodPost, pattern: "/v1/booking-requests/{id}/approve", rpc: MethodApproveBooking, created: true,
			call: func(ctx context.Context, c *DeskServiceClient, r *http.Request, p map[string]string, opts ...grpc.CallOption) (any, error) {
				var in ApproveBookingRequest
				if err := decodeBody(r, &in); err != nil {
					return nil, err
				}
				in.BookingID = p["id"]
				return c.ApproveBooking(ctx, &in, opts...)
			},
		},
		{
			method: http.MethodPost, pattern: "/v1/booking-requests/{id}/reject", rpc: MethodRejectBooking,
			call: func(ctx context.Context, c *DeskServiceClient, r *http.Request, p map[string]string, opts ...grpc.CallOption) (any, error) {
				var in RejectBookingRequest
				if err := decodeBody(r, &in); err != nil {
					return nil, err
				}
				in.BookingID = p["id"]
				return c.RejectBooking(ctx, &in, opts...)
			},
		},
		{
			method: http.MethodPost, pattern: "/v1/booking-requests/{id}/request-info", rpc: MethodRequestBookingInfo,
			call: func(ctx context.Context, c *DeskServiceClient, r *http.Request, p map[string]string, opts ...grpc.CallOption) (any, error) {
				var in RequestBookingInfoRequest
				if err := decodeBody(r, &in); err != nil {
					return nil, err
				}
				in.BookingID = p["id"]
				return c.RequestBookingInfo(ctx, &in, opts...)
			},
		},
		{
			method: http.MethodGet, pattern: "/v1/shipments", rpc: MethodListShipments,
			call: func(ctx context.Context, c *DeskServiceClient, r *http.Request, _ map[string]string, opts ...grpc.CallOption) (any, error) {
				q := r.URL.Query()
				return c.ListShipments(ctx, &ListShipmentsRequest{Tab: q.Get("tab"), Status: q.Get("status")}, opts...)
			},
		},
		{
			method: http.MethodGet, pattern: "/v1/shipments/{id}", rpc: MethodGetShipment,
			call: func(ctx context.Context, c *DeskServiceClient, _ *http.Request, p map[string]string, opts ...grpc.CallOption) (any, error) {
				return c.GetShipment(ctx, &GetShipmentRequest{ShipmentID: p["id"]}, opts...)
			},
		},
		{
			method: http.MethodPost, pattern: "/v1/shipments/{id}/milestones", rpc: MethodAddShipmentMilestone, created: true,
			call: func(ctx context.Context, c *DeskServiceClient, r *http.Request, p map[string]string, opts ...grpc.CallOption) (any, error) {
				var in AddShipmentMilestoneRequest
				if err := decodeBody(r, &in); err != nil {
					return nil, err
				}
				in.ShipmentID = p["id"]
				return c.AddShipmentMilestone(ctx, &in, opts...)
			},
		},
		{
			method: http.MethodPut, pattern: "/v1/shipments/{id}/carrier", rpc: MethodAssignCarrier,
			call: func(ctx context.Context, c *DeskServiceClient, r *http.Request, p map[string]string, opts ...grpc.CallOption) (any, error) {
				var in AssignCarrierRequest
				if err := decodeBody(r, &in); err != nil {
					return nil, err
				}
				in.ShipmentID = p["id"]
				return c.AssignCarrier(ctx, &in, opts...)
			},
		},
		{
			method: http.MethodGet, pattern: "/v1/carriers", rpc: MethodListCarriers,
			call: func(ctx context.Context, c *DeskServiceClient, _ *http.Request, _ map[string]string, opts ...grpc.CallOption) (any, error) {
				return c.ListCarriers(ctx, &ListCarriersRequest{}, opts...)
			},
		},
	}
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return status.Errorf(codes.InvalidArgument, "invalid json body: %v", err)
	}
	return nil
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, err error, trailer metadata.MD) {
	st, _ := status.FromError(err)
	code := ""
	if vals := trailer.Get(errorCodeKey); len(vals) > 0 {
		code = vals[0]
	}
	if code == "" {
		code = fallbackCode(st.Code())
	}
	writeJSON(w, httpStatusFromCode(st.Code()), errorBody{Error: st.Message(), Code: code})
}

func fallbackCode(c codes.Code) string {
	switch c {
	case codes.Unauthenticated:
		return "unauthenticated"
	case codes.InvalidArgument:
		return "invalid_argument"
	case codes.NotFound:
		return "not_found"
	case codes.Unavailable, codes.DeadlineExceeded:
		return "dependency_unavailable"
	}
	return strings.ToLower(c.String())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "err", err)
	}
}
