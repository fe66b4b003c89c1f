package pms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"staybook/internal/core"
)

// Endpoint names, in default cascade order
const (
	EndpointOffers   = "offers"
	EndpointCalendar = "calendar"
	EndpointLegacy   = "legacy"
)

// errUnauthorized marks a payload that reports an invalid or expired token
var errUnauthorized = errors.New("token rejected")

// Query is one inventory request
type Query struct {
	Room   core.RoomKey
	Range  core.DateRange
	Guests core.Guests
}

// lastNight returns the final night of the stay, which several endpoints use instead of departure
func (q Query) lastNight() string {
	return q.Range.End.AddDate(0, 0, -1).Format(core.DateLayout)
}

// Endpoint is one PMS endpoint family able to answer an inventory query
type Endpoint interface {
	Name() string

	// GuestInclusive reports whether prices already include the party's occupancy
	GuestInclusive() bool

	NewRequest(ctx context.Context, baseURL string, q Query) (*http.Request, error)

	// Parse converts a 2xx body into run records, in response order
	Parse(body []byte, q Query) ([]Run, error)
}

// NewEndpoint returns the endpoint registered under name
func NewEndpoint(name string) (Endpoint, error) {
	switch name {
	case EndpointOffers:
		return offersEndpoint{}, nil
	case EndpointCalendar:
		return calendarEndpoint{}, nil
	case EndpointLegacy:
		return legacyEndpoint{}, nil
	default:
		return nil, fmt.Errorf("unknown PMS endpoint %q", name)
	}
}

// DefaultEndpoints returns the cascade in priority order
func DefaultEndpoints() []Endpoint {
	return []Endpoint{offersEndpoint{}, calendarEndpoint{}, legacyEndpoint{}}
}

// envelope is the wrapper shared by the v2 endpoints
type envelope struct {
	Success *bool           `json:"success"`
	Error   string          `json:"error"`
	Code    flexInt         `json:"code"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(body []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	if env.Error != "" || (env.Success != nil && !*env.Success) {
		return nil, payloadError(env.Error)
	}
	return &env, nil
}

// payloadError maps an error message embedded in a 2xx body
func payloadError(msg string) error {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "token") || strings.Contains(lower, "unauthori") {
		return fmt.Errorf("%w: %s", errUnauthorized, msg)
	}
	if msg == "" {
		msg = "request not successful"
	}
	return errors.New(msg)
}

// offersEndpoint queries guest-aware dynamic pricing
type offersEndpoint struct{}

func (offersEndpoint) Name() string         { return EndpointOffers }
func (offersEndpoint) GuestInclusive() bool { return true }

func (offersEndpoint) NewRequest(ctx context.Context, baseURL string, q Query) (*http.Request, error) {
	params := url.Values{}
	params.Set("propertyId", q.Room.PropertyID)
	params.Set("roomId", q.Room.RoomID)
	params.Set("arrival", q.Range.Start.Format(core.DateLayout))
	params.Set("departure", q.Range.End.Format(core.DateLayout))
	params.Set("numAdults", strconv.Itoa(q.Guests.Adults))
	params.Set("numChildren", strconv.Itoa(q.Guests.Children))

	return http.NewRequestWithContext(ctx, http.MethodGet,
		baseURL+"/inventory/rooms/offers?"+params.Encode(), nil)
}

func (offersEndpoint) Parse(body []byte, q Query) ([]Run, error) {
	env, err := decodeEnvelope(body)
	if err != nil {
		return nil, err
	}

	var rooms []struct {
		RoomID flexID `json:"roomId"`
		Offers []struct {
			From           string    `json:"from"`
			To             string    `json:"to"`
			Price          flexFloat `json:"price"`
			UnitsAvailable flexInt   `json:"unitsAvailable"`
			MinStay        flexInt   `json:"minStay"`
			MaxStay        flexInt   `json:"maxStay"`
		} `json:"offers"`
	}
	if err := json.Unmarshal(env.Data, &rooms); err != nil {
		return nil, fmt.Errorf("malformed offers data: %w", err)
	}

	var runs []Run
	for _, room := range rooms {
		if string(room.RoomID) != q.Room.RoomID {
			continue
		}
		for _, o := range room.Offers {
			units := o.UnitsAvailable
			runs = append(runs, Run{
				From:     o.From,
				To:       o.To,
				Price:    o.Price,
				NumAvail: &units,
				MinStay:  o.MinStay,
				MaxStay:  o.MaxStay,
			})
		}
	}
	return runs, nil
}

// calendarEndpoint queries static base-occupancy pricing
type calendarEndpoint struct{}

func (calendarEndpoint) Name() string         { return EndpointCalendar }
func (calendarEndpoint) GuestInclusive() bool { return false }

func (calendarEndpoint) NewRequest(ctx context.Context, baseURL string, q Query) (*http.Request, error) {
	params := url.Values{}
	params.Set("propertyId", q.Room.PropertyID)
	params.Set("roomId", q.Room.RoomID)
	params.Set("startDate", q.Range.Start.Format(core.DateLayout))
	params.Set("endDate", q.lastNight())
	params.Set("includePrices", "true")
	params.Set("includeNumAvail", "true")
	params.Set("includeMinStay", "true")
	params.Set("includeMaxStay", "true")

	return http.NewRequestWithContext(ctx, http.MethodGet,
		baseURL+"/inventory/rooms/calendar?"+params.Encode(), nil)
}

func (calendarEndpoint) Parse(body []byte, q Query) ([]Run, error) {
	env, err := decodeEnvelope(body)
	if err != nil {
		return nil, err
	}

	var rooms []struct {
		RoomID   flexID `json:"roomId"`
		Calendar []struct {
			From     string    `json:"from"`
			To       string    `json:"to"`
			Price1   flexFloat `json:"price1"`
			NumAvail *flexInt  `json:"numAvail"`
			MinStay  flexInt   `json:"minStay"`
			MaxStay  flexInt   `json:"maxStay"`
		} `json:"calendar"`
	}
	if err := json.Unmarshal(env.Data, &rooms); err != nil {
		return nil, fmt.Errorf("malformed calendar data: %w", err)
	}

	var runs []Run
	for _, room := range rooms {
		if string(room.RoomID) != q.Room.RoomID {
			continue
		}
		for _, c := range room.Calendar {
			runs = append(runs, Run{
				From:     c.From,
				To:       c.To,
				Price:    c.Price1,
				NumAvail: c.NumAvail,
				MinStay:  c.MinStay,
				MaxStay:  c.MaxStay,
			})
		}
	}
	return runs, nil
}

// legacyEndpoint queries the older JSON API, which reports one object per day
type legacyEndpoint struct{}

func (legacyEndpoint) Name() string         { return EndpointLegacy }
func (legacyEndpoint) GuestInclusive() bool { return false }

func (legacyEndpoint) NewRequest(ctx context.Context, baseURL string, q Query) (*http.Request, error) {
	body, err := json.Marshal(map[string]interface{}{
		"propId":    q.Room.PropertyID,
		"roomId":    q.Room.RoomID,
		"checkIn":   q.Range.Start.Format("20060102"),
		"lastNight": q.Range.End.AddDate(0, 0, -1).Format("20060102"),
		"numAdult":  q.Guests.Adults,
		"numChild":  q.Guests.Children,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/json/getAvailabilities", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// legacyDay is one day of a legacy response. Date is only set in the list form.
type legacyDay struct {
	Date    string    `json:"date"`
	Price   flexFloat `json:"price"`
	Avail   *flexInt  `json:"avail"`
	MinStay flexInt   `json:"minStay"`
}

func (legacyEndpoint) Parse(body []byte, q Query) ([]Run, error) {
	var resp struct {
		Error     string          `json:"error"`
		ErrorCode flexInt         `json:"errorCode"`
		RoomID    flexID          `json:"roomId"`
		Days      json.RawMessage `json:"days"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	if resp.Error != "" {
		return nil, payloadError(resp.Error)
	}
	if resp.RoomID != "" && string(resp.RoomID) != q.Room.RoomID {
		return nil, fmt.Errorf("response is for room %s", resp.RoomID)
	}

	days, err := legacyDays(resp.Days)
	if err != nil {
		return nil, err
	}

	runs := make([]Run, 0, len(days))
	for _, day := range days {
		runs = append(runs, Run{
			From:     day.Date,
			To:       day.Date,
			Price:    day.Price,
			NumAvail: day.Avail,
			MinStay:  day.MinStay,
		})
	}
	return runs, nil
}

// legacyDays decodes days sent either as an object keyed by date or as a list.
// List order is kept so a repeated date overrides the earlier one.
func legacyDays(raw json.RawMessage) ([]legacyDay, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	switch raw[0] {
	case '[':
		var days []legacyDay
		if err := json.Unmarshal(raw, &days); err != nil {
			return nil, fmt.Errorf("malformed days: %w", err)
		}
		for i, day := range days {
			if day.Date == "" {
				return nil, fmt.Errorf("malformed days: entry %d has no date", i)
			}
		}
		return days, nil

	case '{':
		var byDate map[string]legacyDay
		if err := json.Unmarshal(raw, &byDate); err != nil {
			return nil, fmt.Errorf("malformed days: %w", err)
		}
		// Keys never repeat; sort for a deterministic order
		dates := make([]string, 0, len(byDate))
		for d := range byDate {
			dates = append(dates, d)
		}
		slices.Sort(dates)

		days := make([]legacyDay, 0, len(dates))
		for _, d := range dates {
			day := byDate[d]
			day.Date = d
			days = append(days, day)
		}
		return days, nil

	default:
		return nil, fmt.Errorf("malformed days: unexpected %q", truncate(raw, 20))
	}
}

// flexID decodes identifiers sent either as strings or numbers
type flexID string

func (id *flexID) UnmarshalJSON(b []byte) error {
	*id = flexID(strings.Trim(string(b), `"`))
	if *id == "null" {
		*id = ""
	}
	return nil
}
