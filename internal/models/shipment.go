package models

import (
	"encoding/json"
	"time"
)

type ShipmentStatus string

const (
	ShipmentStatusCreated       ShipmentStatus = "CREATED"
	ShipmentStatusDispatched    ShipmentStatus = "DISPATCHED"
	ShipmentStatusOnsite        ShipmentStatus = "ONSITE"
	ShipmentStatusLoading       ShipmentStatus = "LOADING"
	ShipmentStatusInTransit     ShipmentStatus = "IN_TRANSIT"
	ShipmentStatusAtDestination ShipmentStatus = "AT_DESTINATION"
	ShipmentStatusDelivered     ShipmentStatus = "DELIVERED"
	ShipmentStatusCompleted     ShipmentStatus = "COMPLETED"
	ShipmentStatusCancelled     ShipmentStatus = "CANCELLED"
)

// progression is the fixed forward order of shipment statuses. CANCELLED is not part of it.
var progression = []ShipmentStatus{
	ShipmentStatusCreated,
	ShipmentStatusDispatched,
	ShipmentStatusOnsite,
	ShipmentStatusLoading,
	ShipmentStatusInTransit,
	ShipmentStatusAtDestination,
	ShipmentStatusDelivered,
	ShipmentStatusCompleted,
}

// Progression returns a copy of the ranked status order.
func Progression() []ShipmentStatus {
	return append([]ShipmentStatus(nil), progression...)
}

// Rank returns the position of s in the progression, or -1 for CANCELLED and unknown values.
func (s ShipmentStatus) Rank() int {
	for i, st := range progression {
		if st == s {
			return i
		}
	}
	return -1
}

func (s ShipmentStatus) Valid() bool {
	return s == ShipmentStatusCancelled || s.Rank() >= 0
}

func (s ShipmentStatus) IsTerminal() bool {
	return s == ShipmentStatusCompleted || s == ShipmentStatusCancelled
}

func ParseShipmentStatus(s string) (ShipmentStatus, bool) {
	st := ShipmentStatus(s)
	return st, st.Valid()
}

// Milestone is one entry of a shipment's append-only log.
type Milestone struct {
	Seq        int            `json:"seq"`
	Type       ShipmentStatus `json:"type"`
	Location   *string        `json:"location"`
	Notes      *string        `json:"notes"`
	Timestamp  time.Time      `json:"timestamp"`
	RecordedBy string         `json:"recordedBy,omitempty"`
	RecordedAt time.Time      `json:"recordedAt"`
}

type Stop struct {
	Company string `json:"company"`
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Contact string `json:"contact"`
	Phone   string `json:"phone"`
}

type ShipmentCargo struct {
	Pieces      int     `json:"pieces"`
	Weight      float64 `json:"weight"`
	Description string  `json:"description"`
	Value       float64 `json:"value"`
}

type Costs struct {
	CustomerPrice float64 `json:"customerPrice"`
	CarrierCost   float64 `json:"carrierCost"`
}

// Margin is derived, never stored.
func (c Costs) Margin() float64 {
	return c.CustomerPrice - c.CarrierCost
}

type CarrierAssignment struct {
	Name       string `json:"name"`
	Contact    string `json:"contact"`
	Phone      string `json:"phone"`
	Email      string `json:"email"`
	ProNumber  string `json:"proNumber"`
	DriverName string `json:"driverName"`
	// Verified is false when the name was accepted without a directory match.
	Verified bool `json:"verified"`
}

type Shipment struct {
	ID                string             `json:"id"`
	ShipmentNumber    string             `json:"shipmentNumber"`
	BookingID         string             `json:"bookingId"`
	CustomerID        string             `json:"customerId"`
	CustomerEmail     string             `json:"customerEmail"`
	Origin            Stop               `json:"origin"`
	Destination       Stop               `json:"destination"`
	Cargo             ShipmentCargo      `json:"cargo"`
	Costs             Costs              `json:"costs"`
	Carrier           *CarrierAssignment `json:"carrier"`
	ScheduledPickup   *time.Time         `json:"scheduledPickup,omitempty"`
	ScheduledDelivery *time.Time         `json:"scheduledDelivery,omitempty"`
	Milestones        []Milestone        `json:"milestones"`
	CreatedAt         time.Time          `json:"createdAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`

	// Warnings are attached to the value returned by a mutation; they are not persisted.
	Warnings []string `json:"-"`
}

// CurrentStatus derives the status of a shipment from its milestone log.
func CurrentStatus(sh *Shipment) ShipmentStatus {
	if sh == nil || len(sh.Milestones) == 0 {
		return ShipmentStatusCreated
	}
	return sh.Milestones[len(sh.Milestones)-1].Type
}

func (sh *Shipment) Status() ShipmentStatus { return CurrentStatus(sh) }

func (sh *Shipment) LastMilestone() *Milestone {
	if len(sh.Milestones) == 0 {
		return nil
	}
	return &sh.Milestones[len(sh.Milestones)-1]
}

// MarshalJSON adds the derived status and margin.
func (sh Shipment) MarshalJSON() ([]byte, error) {
	type plain Shipment
	milestones := sh.Milestones
	if milestones == nil {
		milestones = []Milestone{}
	}
	p := plain(sh)
	p.Milestones = milestones
	return json.Marshal(struct {
		plain
		Status   ShipmentStatus `json:"status"`
		Margin   float64        `json:"margin"`
		Warnings []string       `json:"warnings,omitempty"`
	}{
		plain:    p,
		Status:   CurrentStatus(&sh),
		Margin:   sh.Costs.Margin(),
		Warnings: sh.Warnings,
	})
}

// UnmarshalJSON keeps the warnings so they survive a round trip through the
// gRPC JSON codec. Derived fields are ignored.
func (sh *Shipment) UnmarshalJSON(data []byte) error {
	type plain Shipment
	var aux struct {
		plain
		Warnings []string `json:"warnings"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*sh = Shipment(aux.plain)
	sh.Warnings = aux.Warnings
	return nil
}

func (sh *Shipment) Clone() *Shipment {
	if sh == nil {
		return nil
	}
	c := *sh
	if sh.Carrier != nil {
		ca := *sh.Carrier
		c.Carrier = &ca
	}
	c.ScheduledPickup = cloneTime(sh.ScheduledPickup)
	c.ScheduledDelivery = cloneTime(sh.ScheduledDelivery)
	c.Milestones = make([]Milestone, len(sh.Milestones))
	for i, m := range sh.Milestones {
		m.Location = cloneString(m.Location)
		m.Notes = cloneString(m.Notes)
		c.Milestones[i] = m
	}
	c.Warnings = append([]string(nil), sh.Warnings...)
	return &c
}

// MilestoneAppend is a compare-and-set append: it succeeds only if the log
// currently holds exactly Milestone.Seq-1 entries.
type MilestoneAppend struct {
	ShipmentID string
	Milestone  Milestone
	Event      *OutboxEvent
}

// CarrierUpdate replaces the carrier of a shipment whose log still holds ExpectedSeq entries.
type CarrierUpdate struct {
	ShipmentID  string
	ExpectedSeq int
	Carrier     CarrierAssignment
	Event       *OutboxEvent
}

type ShipmentFilter struct {
	Tab    Tab
	Status *ShipmentStatus
}

// Match reports whether sh passes the filter. The booking status is not
// consulted: every stored shipment comes from an approved booking.
func (f ShipmentFilter) Match(sh *Shipment) bool {
	st := CurrentStatus(sh)
	if f.Status != nil && *f.Status != st {
		return false
	}
	if f.Tab != "" && Classify(BookingStatusApproved, &st) != f.Tab {
		return false
	}
	return true
}
