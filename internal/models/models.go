// Package models defines the persisted documents of the errand marketplace:
// resources posted by users, matches negotiated between them, errands executed
// by runners, and the supporting user / wallet / runner-profile records.
//
// Entities reference each other by ObjectId only. Embedded documents
// (wallet transactions, potential errand requests) are owned by their parent.
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ResourceType distinguishes the six posting kinds. Goods postings pair
// buy<->sell and rent<->lease; errand postings pair
// service-request<->service-offer.
type ResourceType string

const (
	TypeBuy            ResourceType = "buy"
	TypeSell           ResourceType = "sell"
	TypeRent           ResourceType = "rent"
	TypeLease          ResourceType = "lease"
	TypeServiceRequest ResourceType = "service-request"
	TypeServiceOffer   ResourceType = "service-offer"
)

// Counterpart returns the resource type this type can be matched against.
func (t ResourceType) Counterpart() (ResourceType, bool) {
	switch t {
	case TypeBuy:
		return TypeSell, true
	case TypeSell:
		return TypeBuy, true
	case TypeRent:
		return TypeLease, true
	case TypeLease:
		return TypeRent, true
	case TypeServiceRequest:
		return TypeServiceOffer, true
	case TypeServiceOffer:
		return TypeServiceRequest, true
	}
	return "", false
}

// BuyerSide reports whether this type sits on the paying side of a match
// (the requester). The counterpart side is the owner.
func (t ResourceType) BuyerSide() bool {
	return t == TypeBuy || t == TypeLease || t == TypeServiceRequest
}

// GoodsTypes are the types handled by the global goods-matching pass.
// Service pairs go through the potential-match / assignment pipeline instead.
var GoodsTypes = []ResourceType{TypeBuy, TypeSell, TypeRent, TypeLease}

type ResourceStatus string

const (
	ResourceSubmitted            ResourceStatus = "submitted"
	ResourceMatching             ResourceStatus = "matching"
	ResourceMatched              ResourceStatus = "matched"
	ResourceClassificationFailed ResourceStatus = "classification_failed"
	ResourceActive               ResourceStatus = "active"
	ResourceAvailable            ResourceStatus = "available"
	ResourceCanceled             ResourceStatus = "canceled"
)

// Resource is a single user posting, goods or errand.
type Resource struct {
	ID             primitive.ObjectID     `bson:"_id,omitempty" json:"id"`
	UserID         primitive.ObjectID     `bson:"userId" json:"userId"`
	Name           string                 `bson:"name" json:"name"`
	Description    string                 `bson:"description,omitempty" json:"description,omitempty"`
	Type           ResourceType           `bson:"type" json:"type"`
	Category       string                 `bson:"category,omitempty" json:"category,omitempty"`
	Specifications map[string]interface{} `bson:"specifications,omitempty" json:"specifications,omitempty"`
	Price          *float64               `bson:"price,omitempty" json:"price,omitempty"`
	Status         ResourceStatus         `bson:"status" json:"status"`

	// Set when a service-request has been promoted into an errand.
	AssignedErrandID *primitive.ObjectID `bson:"assignedErrandId,omitempty" json:"assignedErrandId,omitempty"`
	MatchAttempts    int                 `bson:"matchAttempts,omitempty" json:"matchAttempts,omitempty"`
	ErrorMessage     string              `bson:"errorMessage,omitempty" json:"errorMessage,omitempty"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

type MatchStatus string

const (
	MatchPending   MatchStatus = "pending"
	MatchAccepted  MatchStatus = "accepted"
	MatchPaid      MatchStatus = "paid"
	MatchErranding MatchStatus = "erranding"
	MatchCompleted MatchStatus = "completed"
	MatchCancelled MatchStatus = "cancelled"
)

// Match is a negotiated pairing between two resources. Resource1 belongs to
// the requester (buyer side), resource2 to the owner (seller side). Once the
// status leaves pending it never returns.
type Match struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Resource1 primitive.ObjectID `bson:"resource1" json:"resource1"`
	Resource2 primitive.ObjectID `bson:"resource2" json:"resource2"`
	Requester primitive.ObjectID `bson:"requester" json:"requester"`
	Owner     primitive.ObjectID `bson:"owner" json:"owner"`
	Score     int                `bson:"score" json:"score"`

	SuggestedPriceRequester *float64 `bson:"suggestedPriceRequester,omitempty" json:"suggestedPriceRequester,omitempty"`
	SuggestedPriceOwner     *float64 `bson:"suggestedPriceOwner,omitempty" json:"suggestedPriceOwner,omitempty"`
	OriginalPriceRequester  *float64 `bson:"originalPriceRequester,omitempty" json:"originalPriceRequester,omitempty"`
	OriginalPriceOwner      *float64 `bson:"originalPriceOwner,omitempty" json:"originalPriceOwner,omitempty"`

	FirstAcceptanceTime             *time.Time `bson:"firstAcceptanceTime" json:"firstAcceptanceTime"`
	RequesterAcceptedSuggestedPrice bool       `bson:"requesterAcceptedSuggestedPrice" json:"requesterAcceptedSuggestedPrice"`
	OwnerAcceptedSuggestedPrice     bool       `bson:"ownerAcceptedSuggestedPrice" json:"ownerAcceptedSuggestedPrice"`
	RequesterAcceptedOriginalPrice  bool       `bson:"requesterAcceptedOriginalPrice" json:"requesterAcceptedOriginalPrice"`
	OwnerAcceptedOriginalPrice      bool       `bson:"ownerAcceptedOriginalPrice" json:"ownerAcceptedOriginalPrice"`

	// Final agreed values, null until negotiation settles.
	Resource1Payment *float64 `bson:"resource1Payment,omitempty" json:"resource1Payment,omitempty"`
	Resource2Receipt *float64 `bson:"resource2Receipt,omitempty" json:"resource2Receipt,omitempty"`

	AgreedPrice float64 `bson:"agreedPrice" json:"agreedPrice"`
	DeliveryFee float64 `bson:"deliveryFee" json:"deliveryFee"`
	TotalAmount float64 `bson:"totalAmount" json:"totalAmount"`
	FinalAmount float64 `bson:"finalAmount" json:"finalAmount"`

	Status MatchStatus `bson:"status" json:"status"`

	// ServiceRequest links back to the service-request resource for matches
	// that carry an errand leg.
	ServiceRequest *primitive.ObjectID `bson:"serviceRequest,omitempty" json:"serviceRequest,omitempty"`

	CancellationReason      string              `bson:"cancellationReason,omitempty" json:"cancellationReason,omitempty"`
	RejectedBy              *primitive.ObjectID `bson:"rejectedBy,omitempty" json:"rejectedBy,omitempty"`
	TimeoutPenaltyAppliedTo *primitive.ObjectID `bson:"timeoutPenaltyAppliedTo,omitempty" json:"timeoutPenaltyAppliedTo,omitempty"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

type ErrandStatus string

const (
	ErrandPending    ErrandStatus = "pending"
	ErrandAccepted   ErrandStatus = "accepted"
	ErrandPickingUp  ErrandStatus = "picking_up"
	ErrandDelivering ErrandStatus = "delivering"
	ErrandCompleted  ErrandStatus = "completed"
	ErrandCancelled  ErrandStatus = "cancelled"
)

// Address is the location shape embedded in request specifications and
// errand documents.
type Address struct {
	BuildingName string `bson:"buildingName,omitempty" json:"buildingName,omitempty"`
	CampusZone   string `bson:"campusZone,omitempty" json:"campusZone,omitempty"`
	FullAddress  string `bson:"full_address,omitempty" json:"full_address,omitempty"`
}

// AddressFromSpec reads an address object out of a specifications map.
// Unknown shapes yield a zero Address.
func AddressFromSpec(specs map[string]interface{}, key string) Address {
	raw, ok := specs[key]
	if !ok {
		return Address{}
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return Address{}
	}
	var a Address
	if v, ok := m["buildingName"].(string); ok {
		a.BuildingName = v
	}
	if v, ok := m["campusZone"].(string); ok {
		a.CampusZone = v
	}
	if v, ok := m["full_address"].(string); ok {
		a.FullAddress = v
	}
	return a
}

// Errand is a concrete delivery or service instance executed by a runner.
type Errand struct {
	ID                primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ResourceRequestID primitive.ObjectID `bson:"resourceRequestId" json:"resourceRequestId"`
	ErrandRunner      primitive.ObjectID `bson:"errandRunner" json:"errandRunner"`
	CurrentStatus     ErrandStatus       `bson:"currentStatus" json:"currentStatus"`

	PickupLocation    Address `bson:"pickupLocation" json:"pickupLocation"`
	DropoffLocation   Address `bson:"dropoffLocation" json:"dropoffLocation"`
	IsDeliveryToDoor  bool    `bson:"isDeliveryToDoor" json:"isDeliveryToDoor"`
	DeliveryFee       float64 `bson:"deliveryFee" json:"deliveryFee"`
	DoorDeliveryUnits int     `bson:"doorDeliveryUnits" json:"doorDeliveryUnits"`

	ExpectedStartTime       *time.Time `bson:"expectedStartTime,omitempty" json:"expectedStartTime,omitempty"`
	ExpectedEndTime         *time.Time `bson:"expectedEndTime,omitempty" json:"expectedEndTime,omitempty"`
	ExpectedTimeframeString string     `bson:"expectedTimeframeString,omitempty" json:"expectedTimeframeString,omitempty"`

	CompletedAt      *time.Time `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
	RunnerAssignedAt time.Time  `bson:"runnerAssignedAt" json:"runnerAssignedAt"`
	CreatedAt        time.Time  `bson:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time  `bson:"updatedAt" json:"updatedAt"`
}

// PotentialErrandRequest is a scored (request, offer) pairing cached on a
// runner profile by the populator. Unique per requestId within a profile.
type PotentialErrandRequest struct {
	RequestID primitive.ObjectID `bson:"requestId" json:"requestId"`
	OfferID   primitive.ObjectID `bson:"offerId" json:"offerId"`
	Score     int                `bson:"score" json:"score"`
	MatchedAt time.Time          `bson:"matchedAt" json:"matchedAt"`
}

// Ratings aggregates runner review stars.
type Ratings struct {
	Average float64 `bson:"average" json:"average"`
	Count   int     `bson:"count" json:"count"`
}

// RunnerProfile records a runner's capabilities, reputation and the cached
// potential errand requests the assigner draws from. CurrentActiveErrand is
// unset while the runner is assignable.
type RunnerProfile struct {
	ID     primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID primitive.ObjectID `bson:"userId" json:"userId"`

	Ratings               Ratings `bson:"ratings" json:"ratings"`
	CompletedErrandsCount int     `bson:"completedErrandsCount" json:"completedErrandsCount"`
	CancellationRate      float64 `bson:"cancellationRate" json:"cancellationRate"`

	OperatingCampusZones     []string `bson:"operatingCampusZones,omitempty" json:"operatingCampusZones,omitempty"`
	VehicleType              string   `bson:"vehicleType,omitempty" json:"vehicleType,omitempty"`
	SpecialEquipment         []string `bson:"specialEquipment,omitempty" json:"specialEquipment,omitempty"`
	CargoCapacityDescription string   `bson:"cargoCapacityDescription,omitempty" json:"cargoCapacityDescription,omitempty"`

	PotentialErrandRequests  []PotentialErrandRequest `bson:"potentialErrandRequests,omitempty" json:"potentialErrandRequests,omitempty"`
	LastPotentialMatchUpdate *time.Time               `bson:"lastPotentialMatchUpdate,omitempty" json:"lastPotentialMatchUpdate,omitempty"`
	CurrentActiveErrand      *primitive.ObjectID      `bson:"currentActiveErrand,omitempty" json:"currentActiveErrand,omitempty"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// MaxCredits caps the credits a user can accumulate.
const MaxCredits = 100

// User carries the gamified points and credits balances the engine mutates.
type User struct {
	ID      primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Points  int                `bson:"points" json:"points"`
	Credits int                `bson:"credits" json:"credits"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

type TransactionType string

const (
	TransactionCredit TransactionType = "credit"
	TransactionDebit  TransactionType = "debit"
)

// WalletTransaction is one row of a wallet's append-only history.
type WalletTransaction struct {
	Type           TransactionType     `bson:"type" json:"type"`
	Amount         float64             `bson:"amount" json:"amount"`
	Description    string              `bson:"description" json:"description"`
	ReferenceID    *primitive.ObjectID `bson:"referenceId,omitempty" json:"referenceId,omitempty"`
	ReferenceModel string              `bson:"referenceModel,omitempty" json:"referenceModel,omitempty"`
	Status         string              `bson:"status" json:"status"`
	TransactionFee float64             `bson:"transactionFee" json:"transactionFee"`
	ProcessedBy    string              `bson:"processedBy,omitempty" json:"processedBy,omitempty"`
	CreatedAt      time.Time           `bson:"createdAt" json:"createdAt"`
	UpdatedAt      time.Time           `bson:"updatedAt" json:"updatedAt"`
}

// Wallet holds a user's balance and embedded transaction history.
type Wallet struct {
	ID           primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	UserID       primitive.ObjectID  `bson:"userId" json:"userId"`
	Balance      float64             `bson:"balance" json:"balance"`
	Transactions []WalletTransaction `bson:"transactions,omitempty" json:"transactions,omitempty"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}
