package google

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextSearch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/textsearch/json", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		assert.Equal(t, "massage in Austin, TX", r.URL.Query().Get("query"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": "OK",
			"results": [{"place_id": "p1", "name": "Zen Massage", "formatted_address": "1 Main St, Austin, TX"}],
			"next_page_token": "tok-2"
		}`))
	}))
	defer srv.Close()

	client := NewPlacesClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.TextSearch(context.Background(), "massage in Austin, TX", "")

	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "p1", resp.Results[0].PlaceID)
	assert.Equal(t, "tok-2", resp.NextPageToken)
	assert.NotEmpty(t, resp.Raw)
	assert.NotContains(t, resp.RequestURL, "test-key")
}

func TestTextSearch_PageTokenReplacesQuery(t *testing.T) {
	u := TextSearchURL("https://example.test/place", "k", "spa", "tok")
	assert.Contains(t, u, "pagetoken=tok")
	assert.NotContains(t, u, "query=")
}

func TestTextSearch_ZeroResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status": "ZERO_RESULTS", "results": []}`))
	}))
	defer srv.Close()

	client := NewPlacesClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.TextSearch(context.Background(), "nothing", "")

	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestTextSearch_OverQueryLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status": "OVER_QUERY_LIMIT", "error_message": "daily quota"}`))
	}))
	defer srv.Close()

	client := NewPlacesClient("test-key", WithBaseURL(srv.URL))
	_, err := client.TextSearch(context.Background(), "spa", "")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.OverQueryLimit())
	assert.Contains(t, err.Error(), "daily quota")
}

func TestTextSearch_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error": "invalid API key"}`))
	}))
	defer srv.Close()

	client := NewPlacesClient("bad-key", WithBaseURL(srv.URL))
	resp, err := client.TextSearch(context.Background(), "test query", "")

	assert.Error(t, err)
	assert.Nil(t, resp)
	assert.Contains(t, err.Error(), "403")
}

func TestTextSearch_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewPlacesClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.TextSearch(ctx, "test", "")

	assert.Error(t, err)
	assert.Nil(t, resp)
}

func TestNearbySearchURL(t *testing.T) {
	u := NearbySearchURL("https://example.test/place", "k", NearbyRequest{
		Lat: 30.27, Lng: -97.74, RadiusM: 5000, Keyword: "nail salon",
	})
	assert.Contains(t, u, "/nearbysearch/json?")
	assert.Contains(t, u, "location=30.27%2C-97.74")
	assert.Contains(t, u, "radius=5000")
	assert.Contains(t, u, "keyword=nail+salon")
}

func TestDetails_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/details/json", r.URL.Path)
		assert.Equal(t, "p1", r.URL.Query().Get("place_id"))
		assert.Contains(t, r.URL.Query().Get("fields"), "address_components")
		_, _ = w.Write([]byte(`{
			"status": "OK",
			"result": {
				"place_id": "p1",
				"name": "Zen Massage",
				"formatted_phone_number": "(512) 555-0100",
				"website": "https://zen.example.com",
				"geometry": {"location": {"lat": 30.1, "lng": -97.2}},
				"rating": 4.7,
				"user_ratings_total": 88,
				"opening_hours": {"weekday_text": ["Monday: 9:00 AM – 5:00 PM"]}
			}
		}`))
	}))
	defer srv.Close()

	client := NewPlacesClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.Details(context.Background(), "p1")

	require.NoError(t, err)
	assert.Equal(t, "Zen Massage", resp.Result.Name)
	require.NotNil(t, resp.Result.Rating)
	assert.InDelta(t, 4.7, *resp.Result.Rating, 0.001)
	require.NotNil(t, resp.Result.UserRatingsTotal)
	assert.Equal(t, 88, *resp.Result.UserRatingsTotal)
	require.NotNil(t, resp.Result.Geometry)
	assert.InDelta(t, 30.1, resp.Result.Geometry.Location.Lat, 0.001)
}

func TestDetails_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status": "NOT_FOUND"}`))
	}))
	defer srv.Close()

	client := NewPlacesClient("test-key", WithBaseURL(srv.URL))
	_, err := client.Details(context.Background(), "gone")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, StatusNotFound, apiErr.Status)
	assert.False(t, apiErr.OverQueryLimit())
}

func TestWithGetter(t *testing.T) {
	var seen string
	g := GetterFunc(func(_ context.Context, u string) ([]byte, error) {
		seen = u
		return []byte(`{"status":"OK","result":{"place_id":"p9","name":"Nine"}}`), nil
	})

	client := NewPlacesClient("k", WithBaseURL("https://places.test"), WithGetter(g))
	resp, err := client.Details(context.Background(), "p9")

	require.NoError(t, err)
	assert.Equal(t, "Nine", resp.Result.Name)
	assert.Contains(t, seen, "https://places.test/details/json?")
}

func TestParseAddress(t *testing.T) {
	a := ParseAddress([]AddressComponent{
		{LongName: "500", ShortName: "500", Types: []string{"street_number"}},
		{LongName: "Congress Avenue", ShortName: "Congress Ave", Types: []string{"route"}},
		{LongName: "Austin", ShortName: "Austin", Types: []string{"locality", "political"}},
		{LongName: "Texas", ShortName: "TX", Types: []string{"administrative_area_level_1", "political"}},
		{LongName: "78701", ShortName: "78701", Types: []string{"postal_code"}},
		{LongName: "United States", ShortName: "US", Types: []string{"country", "political"}},
	})

	assert.Equal(t, Address{
		Street: "500 Congress Ave", City: "Austin", State: "TX", PostalCode: "78701", Country: "US",
	}, a)
}

func TestParseAddress_SublocalityFallback(t *testing.T) {
	a := ParseAddress([]AddressComponent{
		{LongName: "Brooklyn", Types: []string{"sublocality_level_1", "sublocality", "political"}},
		{LongName: "New York", ShortName: "NY", Types: []string{"administrative_area_level_1"}},
	})
	assert.Equal(t, "Brooklyn", a.City)
	assert.Equal(t, "NY", a.State)
}

func TestMapsURL(t *testing.T) {
	assert.Equal(t, "https://www.google.com/maps/place/?q=place_id:ChIJ123", MapsURL("ChIJ123"))
}

func TestRedactKey(t *testing.T) {
	assert.Equal(t, "https://x.test/a?q=spa", RedactKey("https://x.test/a?key=secret&q=spa"))
	assert.Equal(t, "https://x.test/a?q=spa", RedactKey("https://x.test/a?q=spa"))
}
