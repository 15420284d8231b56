package finder

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creofinder/internal/errors"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2020-01-31", time.Date(2020, 1, 31, 0, 0, 0, 0, time.UTC)},
		{"20200131", time.Date(2020, 1, 31, 0, 0, 0, 0, time.UTC)},
		{"2020-01-31T10:20:30", time.Date(2020, 1, 31, 10, 20, 30, 0, time.UTC)},
		{"2020-01-31 10:20:30", time.Date(2020, 1, 31, 10, 20, 30, 0, time.UTC)},
		{"2020-01-31T10:20:30Z", time.Date(2020, 1, 31, 10, 20, 30, 0, time.UTC)},
		{" 2020-01-31T12:20:30+02:00 ", time.Date(2020, 1, 31, 10, 20, 30, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDate(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "ParseDate(%q) = %v, want %v", tt.in, got, tt.want)
		})
	}

	_, err := ParseDate("31/01/2020")
	assert.True(t, errors.IsValidation(err))
}

func TestQueryValues_Dates(t *testing.T) {
	start, _ := ParseDate("2020-01-01")
	midnight, _ := ParseDate("2020-01-31")
	noon, _ := ParseDate("2020-01-31T12:00:00")

	v, err := Query{Start: start, End: midnight}.Values()
	require.NoError(t, err)
	assert.Equal(t, "2020-01-01T00:00:00Z", v.Get("startDate"))
	assert.Equal(t, "2020-01-31T23:59:59Z", v.Get("completionDate"))

	v, err = Query{End: noon}.Values()
	require.NoError(t, err)
	assert.False(t, v.Has("startDate"))
	assert.Equal(t, "2020-01-31T12:00:00Z", v.Get("completionDate"))
}

func TestQueryValues_ZonedEndDate(t *testing.T) {
	end, err := ParseDate("2020-01-31T00:00:00+02:00")
	require.NoError(t, err)

	v, err := Query{End: end}.Values()
	require.NoError(t, err)
	assert.Equal(t, "2020-01-31T21:59:59Z", v.Get("completionDate"))
}

func TestQueryValues_Status(t *testing.T) {
	v, err := DefaultQuery().Values()
	require.NoError(t, err)
	assert.Equal(t, OnlineStatusCodes, v.Get("status"))

	v, err = Query{}.Values()
	require.NoError(t, err)
	assert.False(t, v.Has("status"))
}

func TestQueryValues_InvalidParam(t *testing.T) {
	_, err := Query{Params: map[string]any{"cloudCover": []string{"0", "10", "20"}}}.Values()
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Contains(t, err.Error(), "cloudCover")
}

func TestParamValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"plain", "L1C", "L1C"},
		{"trimmed", "  L1C \n", "L1C"},
		{"whitespace escaped", "S2 MSI\tL1C", `S2\ MSI\ L1C`},
		{"brackets kept", "[0, 10]", "[0, 10]"},
		{"braces kept", "{a b}", "{a b}"},
		{"slashes kept", "/a b/", "/a b/"},
		{"parens kept", "(a b)", "(a b)"},
		{"string range", []string{"0", "10"}, "[0,10]"},
		{"array range", [2]string{"2020", "2021"}, "[2020,2021]"},
		{"mixed range", []any{0, 12.5}, "[0,12.5]"},
		{"number", 42, "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParamValue(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParamValue([]string{"1"})
	assert.Error(t, err)
	_, err = ParamValue(map[string]string{})
	assert.Error(t, err)
}

func TestParseGeometry(t *testing.T) {
	wktPolygon := "POLYGON((20 50, 21 50, 21 51, 20 51, 20 50))"
	got, err := ParseGeometry("  " + wktPolygon + " ")
	require.NoError(t, err)
	assert.Equal(t, wktPolygon, got)

	got, err = ParseGeometry(`{"type":"Point","coordinates":[13.4,52.5]}`)
	require.NoError(t, err)
	assert.Equal(t, "POINT(13.4 52.5)", got)

	got, err = ParseGeometry(`{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}}`)
	require.NoError(t, err)
	assert.Contains(t, got, "POLYGON")

	for _, bad := range []string{"", "not a geometry", `{"type":"Point"`, `{"type":"Feature","properties":{},"geometry":null}`} {
		_, err := ParseGeometry(bad)
		assert.True(t, errors.IsValidation(err), "ParseGeometry(%q)", bad)
	}
}

func TestSearchURL(t *testing.T) {
	c := NewClient("https://finder.example/resto/api/")
	q := DefaultQuery()
	q.Params = map[string]any{"productType": "L1C", "cloudCover": []string{"0", "10"}}

	raw, err := c.SearchURL("Sentinel2", q)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/resto/api/collections/Sentinel2/search.json", u.Path)
	assert.Equal(t, "1000", u.Query().Get("maxRecords"))
	assert.Equal(t, "L1C", u.Query().Get("productType"))
	assert.Equal(t, "[0,10]", u.Query().Get("cloudCover"))
	assert.Equal(t, OnlineStatusCodes, u.Query().Get("status"))

	_, err = c.SearchURL("", q)
	assert.True(t, errors.IsValidation(err))
}

func TestQuery_FollowsNextLinks(t *testing.T) {
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/collections/Sentinel1/search.json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1000", r.URL.Query().Get("maxRecords"))
		fmt.Fprintf(w, `{
			"features": [
				{"id": "a", "properties": {"title": "A1"}},
				{"id": "b", "properties": {"title": "B1"}}
			],
			"properties": {"links": [
				{"rel": "self", "href": "%[1]s/self"},
				{"rel": "next", "href": "%[1]s/page2"}
			]}
		}`, srv.URL)
	})
	mux.HandleFunc("/page2", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{
			"features": [
				{"id": "b", "properties": {"title": "B2"}},
				{"id": "c", "properties": {"title": "C2"}}
			],
			"properties": {"links": [{"rel": "self", "href": "ignored"}]}
		}`)
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	features, err := NewClient(srv.URL).Query(context.Background(), "Sentinel1", DefaultQuery())
	require.NoError(t, err)
	require.Len(t, features, 3)
	assert.Equal(t, "A1", features["a"].Title())
	assert.Equal(t, "B2", features["b"].Title())
	assert.Equal(t, "C2", features["c"].Title())
}

func TestQuery_StopsOnRepeatedNextLink(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"features":[{"id":"x"}],"properties":{"links":[{"rel":"next","href":"%s/loop"}]}}`, srv.URL)
	}))
	defer srv.Close()

	features, err := NewClient(srv.URL).Query(context.Background(), "Sentinel2", Query{})
	require.NoError(t, err)
	assert.Len(t, features, 1)
}

func TestQuery_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unknown collection", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Query(context.Background(), "Nope", Query{})
	require.Error(t, err)
	assert.True(t, errors.IsNetwork(err))
	code, ok := errors.GetStatusCode(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestQuery_MalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"features": [`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Query(context.Background(), "Sentinel2", Query{})
	require.Error(t, err)
	assert.True(t, errors.IsNetwork(err))
}

// Integration test against the public catalog, skipped by default.
func TestQueryIntegration(t *testing.T) {
	if os.Getenv("CREODIAS_INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test; set CREODIAS_INTEGRATION_TEST=true to run")
	}

	start, _ := ParseDate("2020-06-01")
	end, _ := ParseDate("2020-06-02")
	q := DefaultQuery()
	q.Start, q.End = start, end
	q.Geometry = "POINT(21 52)"

	features, err := NewClient("").Query(context.Background(), "Sentinel2", q)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	t.Logf("Query() returned %d features", len(features))
}
