package desk_api

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/FreightDesk/internal/auth"
	"github.com/BearBump/FreightDesk/internal/integrations/carrier"
	"github.com/BearBump/FreightDesk/internal/integrations/carrier/static"
	"github.com/BearBump/FreightDesk/internal/models"
	"github.com/BearBump/FreightDesk/internal/services/bookings"
	"github.com/BearBump/FreightDesk/internal/services/shipments"
)

const (
	SourceDirectory = "directory"
	SourceFallback  = "fallback"
)

// DeskAPI is the back-office surface. The gRPC server and the REST gateway
// both end up here; the caller is taken from the context set by auth.
type DeskAPI struct {
	bookings         *bookings.Service
	shipments        *shipments.Service
	carriers         carrier.Directory
	directoryTimeout time.Duration
}

func New(b *bookings.Service, sh *shipments.Service, carriers carrier.Directory) *DeskAPI {
	return &DeskAPI{
		bookings:         b,
		shipments:        sh,
		carriers:         carriers,
		directoryTimeout: 2 * time.Second,
	}
}

func (a *DeskAPI) WithDirectoryTimeout(d time.Duration) *DeskAPI {
	if d > 0 {
		a.directoryTimeout = d
	}
	return a
}

func (a *DeskAPI) ListBookingRequests(ctx context.Context, req *ListBookingRequestsRequest) (*ListBookingRequestsResponse, error) {
	var filter *models.BookingStatus
	if s := strings.TrimSpace(req.Status); s != "" {
		st, ok := models.ParseBookingStatus(s)
		if !ok {
			return nil, errors.Wrapf(models.ErrInvalidArgument, "unknown booking status %q", s)
		}
		filter = &st
	}
	items, err := a.bookings.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*models.BookingRequest{}
	}
	return &ListBookingRequestsResponse{Bookings: items}, nil
}

func (a *DeskAPI) GetBookingRequest(ctx context.Context, req *GetBookingRequestRequest) (*BookingResponse, error) {
	b, err := a.bookings.Get(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	return &BookingResponse{Booking: b}, nil
}

func (a *DeskAPI) ApproveBooking(ctx context.Context, req *ApproveBookingRequest) (*ApproveBookingResponse, error) {
	sh, err := a.bookings.Approve(ctx, bookings.ApproveInput{
		BookingID:      req.BookingID,
		Carrier:        req.Carrier,
		CarrierContact: req.CarrierContact,
		Notes:          req.Notes,
		Actor:          auth.ActorFromContext(ctx),
	})
	if err != nil {
		return nil, err
	}
	return &ApproveBookingResponse{Shipment: sh}, nil
}

func (a *DeskAPI) RejectBooking(ctx context.Context, req *RejectBookingRequest) (*BookingResponse, error) {
	b, err := a.bookings.Reject(ctx, req.BookingID, req.Reason, auth.ActorFromContext(ctx))
	if err != nil {
		return nil, err
	}
	return &BookingResponse{Booking: b}, nil
}

func (a *DeskAPI) RequestBookingInfo(ctx context.Context, req *RequestBookingInfoRequest) (*BookingResponse, error) {
	b, err := a.bookings.RequestInfo(ctx, req.BookingID, req.Question, auth.ActorFromContext(ctx))
	if err != nil {
		return nil, err
	}
	return &BookingResponse{Booking: b}, nil
}

func (a *DeskAPI) ListShipments(ctx context.Context, req *ListShipmentsRequest) (*ListShipmentsResponse, error) {
	var filter models.ShipmentFilter
	if t := strings.TrimSpace(req.Tab); t != "" {
		tab, ok := models.ParseTab(t)
		if !ok {
			return nil, errors.Wrapf(models.ErrInvalidArgument, "unknown tab %q", t)
		}
		filter.Tab = tab
	}
	if s := strings.TrimSpace(req.Status); s != "" {
		st, ok := models.ParseShipmentStatus(strings.ToUpper(s))
		if !ok {
			return nil, errors.Wrapf(models.ErrInvalidArgument, "unknown shipment status %q", s)
		}
		filter.Status = &st
	}
	items, err := a.shipments.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*models.Shipment{}
	}
	return &ListShipmentsResponse{Shipments: items}, nil
}

func (a *DeskAPI) GetShipment(ctx context.Context, req *GetShipmentRequest) (*ShipmentResponse, error) {
	sh, err := a.shipments.Get(ctx, req.ShipmentID)
	if err != nil {
		return nil, err
	}
	return &ShipmentResponse{Shipment: sh}, nil
}

func (a *DeskAPI) AddShipmentMilestone(ctx context.Context, req *AddShipmentMilestoneRequest) (*ShipmentResponse, error) {
	typ, ok := models.ParseShipmentStatus(strings.ToUpper(strings.TrimSpace(req.Type)))
	if !ok {
		return nil, errors.Wrapf(models.ErrInvalidArgument, "unknown milestone type %q", req.Type)
	}
	sh, err := a.shipments.AddMilestone(ctx, shipments.AddMilestoneInput{
		ShipmentID: req.ShipmentID,
		Type:       typ,
		Location:   req.Location,
		Notes:      req.Notes,
		Timestamp:  req.Timestamp,
		Actor:      auth.ActorFromContext(ctx),
	})
	if err != nil {
		return nil, err
	}
	return &ShipmentResponse{Shipment: sh}, nil
}

func (a *DeskAPI) AssignCarrier(ctx context.Context, req *AssignCarrierRequest) (*ShipmentResponse, error) {
	sh, err := a.shipments.AssignCarrier(ctx, shipments.AssignCarrierInput{
		ShipmentID: req.ShipmentID,
		Carrier: models.CarrierAssignment{
			Name:       req.Name,
			Contact:    req.Contact,
			Phone:      req.Phone,
			Email:      req.Email,
			ProNumber:  req.ProNumber,
			DriverName: req.DriverName,
		},
		Actor: auth.ActorFromContext(ctx),
	})
	if err != nil {
		return nil, err
	}
	return &ShipmentResponse{Shipment: sh}, nil
}

// ListCarriers never fails: when the directory is down or empty the
// built-in list is served instead.
func (a *DeskAPI) ListCarriers(ctx context.Context, _ *ListCarriersRequest) (*ListCarriersResponse, error) {
	if a.carriers != nil {
		dctx, cancel := context.WithTimeout(ctx, a.directoryTimeout)
		list, err := a.carriers.ListCarriers(dctx)
		cancel()
		if err == nil && len(list) > 0 {
			return &ListCarriersResponse{Carriers: list, Source: SourceDirectory}, nil
		}
		if err != nil {
			slog.Warn("carrier directory unavailable, serving fallback list", "err", err)
		}
	}
	return &ListCarriersResponse{Carriers: static.Default(), Source: SourceFallback}, nil
}
