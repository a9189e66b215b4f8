package model

import (
	"slices"
	"strings"
	"time"
)

// DateLayout is the layout used for voting dates
const DateLayout = "2006-01-02"

type RequestStatus string

const (
	RequestStatusCreated   RequestStatus = "created"
	RequestStatusAccepted  RequestStatus = "accepted"
	RequestStatusConfirmed RequestStatus = "confirmed"
	RequestStatusCancelled RequestStatus = "cancelled"
)

func (s RequestStatus) IsValid() bool {
	switch s {
	case RequestStatusCreated, RequestStatusAccepted, RequestStatusConfirmed, RequestStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed
func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusConfirmed || s == RequestStatusCancelled
}

type ProxyStatus string

const (
	ProxyStatusCreated     ProxyStatus = "created"
	ProxyStatusInvited     ProxyStatus = "invited"
	ProxyStatusAvailable   ProxyStatus = "available"
	ProxyStatusUnavailable ProxyStatus = "unavailable"
)

func (s ProxyStatus) IsValid() bool {
	switch s {
	case ProxyStatusCreated, ProxyStatusInvited, ProxyStatusAvailable, ProxyStatusUnavailable:
		return true
	}
	return false
}

// GeoPoint is a WGS84 coordinate
type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

// Location is either a domestic commune or an overseas consulate, never both
type Location struct {
	CommuneCode string
	ConsulateID string

	// Point is the commune reference point (nil when not geolocated or for consulates)
	Point *GeoPoint

	// ZipCodes are the postal codes of the commune
	ZipCodes []string

	// Countries are the countries covered by the consulate
	Countries []string
}

// Valid reports whether exactly one of commune or consulate is set
func (l Location) Valid() bool {
	return (l.CommuneCode == "") != (l.ConsulateID == "")
}

func (l Location) IsConsulate() bool {
	return l.ConsulateID != "" && l.CommuneCode == ""
}

// VotingProxyRequest is a single (requester, voting date) need
type VotingProxyRequest struct {
	ID             string
	Email          string
	FirstName      string
	Phone          string
	Location       Location
	PollingStation string
	VotingDate     string // YYYY-MM-DD
	ActionRadiusKm float64
	Status         RequestStatus
	ProxyID        string // Empty when no proxy is attached
	CreatedAt      time.Time
}

// VotingProxy is a volunteer offering to vote on behalf of others, possibly on several dates
type VotingProxy struct {
	ID                   string
	Email                string
	FirstName            string
	Phone                string
	Location             Location
	PollingStationNumber string
	VotingDates          []string

	// FulfilledDates are dates already held through accepted or confirmed requests
	FulfilledDates []string

	Status        ProxyStatus
	LastMatchedAt *time.Time
	PersonID      string // Empty if not linked to a requester account
}

// OpenDates returns the offered dates not fulfilled yet, in offered order
func (p *VotingProxy) OpenDates() []string {
	open := make([]string, 0, len(p.VotingDates))
	for _, date := range p.VotingDates {
		if !slices.Contains(p.FulfilledDates, date) && !slices.Contains(open, date) {
			open = append(open, date)
		}
	}
	return open
}

// IsOpenOn reports whether the proxy offers the date and does not hold it yet
func (p *VotingProxy) IsOpenOn(date string) bool {
	return slices.Contains(p.VotingDates, date) && !slices.Contains(p.FulfilledDates, date)
}

// ProxyCandidate is a supporter who could be invited to become a proxy
type ProxyCandidate struct {
	ID               string
	Email            string
	FirstName        string
	Point            *GeoPoint
	CityCode         string
	ZipCode          string
	Country          string
	RecentEventCount int
	DistanceKm       float64
}

// NormalizeEmail returns the form of an email address used to compare identities
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
