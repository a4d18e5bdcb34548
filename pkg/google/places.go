package google

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Places API statuses.
const (
	StatusOK             = "OK"
	StatusZeroResults    = "ZERO_RESULTS"
	StatusOverQueryLimit = "OVER_QUERY_LIMIT"
	StatusRequestDenied  = "REQUEST_DENIED"
	StatusInvalidRequest = "INVALID_REQUEST"
	StatusNotFound       = "NOT_FOUND"
)

// DetailsFields is the field mask requested from Place Details.
var DetailsFields = []string{
	"place_id", "name", "formatted_address", "address_components",
	"formatted_phone_number", "international_phone_number", "website", "url",
	"geometry", "opening_hours", "rating", "user_ratings_total", "types",
	"business_status",
}

// PlacesClient performs Places web service lookups.
type PlacesClient interface {
	TextSearch(ctx context.Context, query, pageToken string) (*SearchResponse, error)
	NearbySearch(ctx context.Context, req NearbyRequest) (*SearchResponse, error)
	Details(ctx context.Context, placeID string) (*DetailsResponse, error)
}

// APIError is a non-OK status in an otherwise successful response.
type APIError struct {
	Status  string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return "google: places status " + e.Status
	}
	return fmt.Sprintf("google: places status %s: %s", e.Status, e.Message)
}

// OverQueryLimit reports a quota rejection.
func (e *APIError) OverQueryLimit() bool {
	return e.Status == StatusOverQueryLimit
}

// NearbyRequest is a keyword search around a point.
type NearbyRequest struct {
	Lat       float64
	Lng       float64
	RadiusM   int
	Keyword   string
	Type      string
	PageToken string
}

// PlaceSummary is one search hit.
type PlaceSummary struct {
	PlaceID          string   `json:"place_id"`
	Name             string   `json:"name"`
	FormattedAddress string   `json:"formatted_address"`
	Vicinity         string   `json:"vicinity"`
	Types            []string `json:"types"`
	BusinessStatus   string   `json:"business_status"`
}

// SearchResponse is a page of text or nearby search results.
type SearchResponse struct {
	Status        string         `json:"status"`
	ErrorMessage  string         `json:"error_message"`
	Results       []PlaceSummary `json:"results"`
	NextPageToken string         `json:"next_page_token"`

	Raw        []byte `json:"-"`
	RequestURL string `json:"-"`
}

// AddressComponent is one structured piece of a place's address.
type AddressComponent struct {
	LongName  string   `json:"long_name"`
	ShortName string   `json:"short_name"`
	Types     []string `json:"types"`
}

// LatLng is a coordinate pair.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Geometry wraps a place location.
type Geometry struct {
	Location LatLng `json:"location"`
}

// OpeningHours carries human-readable weekday hours.
type OpeningHours struct {
	WeekdayText []string `json:"weekday_text"`
}

// PlaceDetails is the Place Details result.
type PlaceDetails struct {
	PlaceID            string             `json:"place_id"`
	Name               string             `json:"name"`
	FormattedAddress   string             `json:"formatted_address"`
	AddressComponents  []AddressComponent `json:"address_components"`
	FormattedPhone     string             `json:"formatted_phone_number"`
	InternationalPhone string             `json:"international_phone_number"`
	Website            string             `json:"website"`
	URL                string             `json:"url"`
	Geometry           *Geometry          `json:"geometry"`
	OpeningHours       *OpeningHours      `json:"opening_hours"`
	Rating             *float64           `json:"rating"`
	UserRatingsTotal   *int               `json:"user_ratings_total"`
	Types              []string           `json:"types"`
	BusinessStatus     string             `json:"business_status"`
}

// DetailsResponse wraps a Place Details result.
type DetailsResponse struct {
	Status       string       `json:"status"`
	ErrorMessage string       `json:"error_message"`
	Result       PlaceDetails `json:"result"`

	Raw        []byte `json:"-"`
	RequestURL string `json:"-"`
}

// Address is a parsed street address.
type Address struct {
	Street     string
	City       string
	State      string
	PostalCode string
	Country    string
}

// ParseAddress assembles an Address from address components. The city
// falls back through postal_town and sublocality for places without a
// locality, such as New York boroughs.
func ParseAddress(components []AddressComponent) Address {
	var a Address
	var number, route, postalTown, sublocality string
	for _, c := range components {
		switch {
		case hasType(c, "street_number"):
			number = c.LongName
		case hasType(c, "route"):
			route = c.ShortName
		case hasType(c, "locality"):
			a.City = c.LongName
		case hasType(c, "postal_town"):
			postalTown = c.LongName
		case hasType(c, "sublocality_level_1"), hasType(c, "sublocality"):
			if sublocality == "" {
				sublocality = c.LongName
			}
		case hasType(c, "administrative_area_level_1"):
			a.State = c.ShortName
		case hasType(c, "postal_code"):
			a.PostalCode = c.LongName
		case hasType(c, "country"):
			a.Country = c.ShortName
		}
	}
	a.Street = strings.TrimSpace(number + " " + route)
	if a.City == "" {
		a.City = postalTown
	}
	if a.City == "" {
		a.City = sublocality
	}
	return a
}

func hasType(c AddressComponent, t string) bool {
	for _, ct := range c.Types {
		if ct == t {
			return true
		}
	}
	return false
}

// MapsURL is the public Google Maps link for a place id.
func MapsURL(placeID string) string {
	return "https://www.google.com/maps/place/?q=place_id:" + url.QueryEscape(placeID)
}

type placesClient struct {
	apiKey string
	opts   options
}

// NewPlacesClient creates a Places web service client.
func NewPlacesClient(apiKey string, opts ...Option) PlacesClient {
	return &placesClient{apiKey: apiKey, opts: buildOptions(defaultPlacesBaseURL, opts)}
}

// TextSearchURL builds a text search request URL.
func TextSearchURL(baseURL, apiKey, query, pageToken string) string {
	q := url.Values{}
	if pageToken != "" {
		q.Set("pagetoken", pageToken)
	} else {
		q.Set("query", query)
	}
	q.Set("key", apiKey)
	return strings.TrimRight(baseURL, "/") + "/textsearch/json?" + q.Encode()
}

// NearbySearchURL builds a nearby search request URL.
func NearbySearchURL(baseURL, apiKey string, req NearbyRequest) string {
	q := url.Values{}
	if req.PageToken != "" {
		q.Set("pagetoken", req.PageToken)
	} else {
		q.Set("location", strconv.FormatFloat(req.Lat, 'f', -1, 64)+","+strconv.FormatFloat(req.Lng, 'f', -1, 64))
		q.Set("radius", strconv.Itoa(req.RadiusM))
		if req.Keyword != "" {
			q.Set("keyword", req.Keyword)
		}
		if req.Type != "" {
			q.Set("type", req.Type)
		}
	}
	q.Set("key", apiKey)
	return strings.TrimRight(baseURL, "/") + "/nearbysearch/json?" + q.Encode()
}

// DetailsURL builds a Place Details request URL.
func DetailsURL(baseURL, apiKey, placeID string) string {
	q := url.Values{}
	q.Set("place_id", placeID)
	q.Set("fields", strings.Join(DetailsFields, ","))
	q.Set("key", apiKey)
	return strings.TrimRight(baseURL, "/") + "/details/json?" + q.Encode()
}

func (c *placesClient) TextSearch(ctx context.Context, query, pageToken string) (*SearchResponse, error) {
	return c.search(ctx, TextSearchURL(c.opts.baseURL, c.apiKey, query, pageToken))
}

func (c *placesClient) NearbySearch(ctx context.Context, req NearbyRequest) (*SearchResponse, error) {
	return c.search(ctx, NearbySearchURL(c.opts.baseURL, c.apiKey, req))
}

func (c *placesClient) search(ctx context.Context, u string) (*SearchResponse, error) {
	var resp SearchResponse
	raw, err := getJSON(ctx, c.opts.getter, u, &resp)
	if err != nil {
		return nil, err
	}
	resp.Raw = raw
	resp.RequestURL = RedactKey(u)
	if resp.Status != StatusOK && resp.Status != StatusZeroResults {
		return &resp, &APIError{Status: resp.Status, Message: resp.ErrorMessage}
	}
	return &resp, nil
}

func (c *placesClient) Details(ctx context.Context, placeID string) (*DetailsResponse, error) {
	u := DetailsURL(c.opts.baseURL, c.apiKey, placeID)
	var resp DetailsResponse
	raw, err := getJSON(ctx, c.opts.getter, u, &resp)
	if err != nil {
		return nil, err
	}
	resp.Raw = raw
	resp.RequestURL = RedactKey(u)
	if resp.Status != StatusOK {
		return &resp, &APIError{Status: resp.Status, Message: resp.ErrorMessage}
	}
	return &resp, nil
}
