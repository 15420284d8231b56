package finder

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"

	"creofinder/internal/errors"
)

const (
	// OnlineStatusCodes selects products that can be downloaded right away.
	OnlineStatusCodes = "34|37|0"

	dateFormat = "2006-01-02T15:04:05Z"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"20060102",
}

var whitespace = regexp.MustCompile(`\s`)

// Query holds the search filters. Zero fields are left out of the request.
type Query struct {
	Start time.Time
	// End is inclusive; a date without time of day is extended to 23:59:59.
	End time.Time
	// Geometry is a WKT string or a GeoJSON geometry or feature.
	Geometry string
	// Status is sent verbatim; empty disables the filter. DefaultQuery sets OnlineStatusCodes.
	Status string
	// Params are passed through as extra search parameters. Values are strings or two-element
	// ranges ([]string, [2]string, []any).
	Params map[string]any
}

func DefaultQuery() Query {
	return Query{Status: OnlineStatusCodes}
}

// Values renders q as URL query parameters, without maxRecords.
func (q Query) Values() (url.Values, error) {
	params := url.Values{}

	if !q.Start.IsZero() {
		params.Set("startDate", q.Start.UTC().Format(dateFormat))
	}
	if !q.End.IsZero() {
		params.Set("completionDate", endOfDay(q.End).UTC().Format(dateFormat))
	}
	if q.Geometry != "" {
		g, err := ParseGeometry(q.Geometry)
		if err != nil {
			return nil, err
		}
		params.Set("geometry", g)
	}
	if q.Status != "" {
		params.Set("status", q.Status)
	}

	keys := make([]string, 0, len(q.Params))
	for k := range q.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v, err := ParamValue(q.Params[k])
		if err != nil {
			return nil, errors.NewValidationError("build query", "parameter %s: %w", k, err)
		}
		params.Set(k, v)
	}

	return params, nil
}

// ParseDate accepts RFC 3339 timestamps and the common date layouts. Values without a zone are UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.NewValidationError("parse date", "date %q is not in a valid format, use an ISO 8601 date or timestamp", s)
}

func endOfDay(t time.Time) time.Time {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
		return t.Add(23*time.Hour + 59*time.Minute + 59*time.Second)
	}
	return t
}

// ParseGeometry returns the WKT form of a WKT or GeoJSON geometry.
func ParseGeometry(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.NewValidationError("parse geometry", "geometry is empty")
	}

	if !strings.HasPrefix(s, "{") {
		if _, err := wkt.Unmarshal(s); err != nil {
			return "", errors.NewValidationError("parse geometry", "geometry must be WKT or GeoJSON: %w", err)
		}
		return s, nil
	}

	g, err := geoJSONGeometry([]byte(s))
	if err != nil {
		return "", errors.NewValidationError("parse geometry", "invalid GeoJSON: %w", err)
	}
	if g == nil {
		return "", errors.NewValidationError("parse geometry", "GeoJSON has no geometry")
	}
	return wkt.MarshalString(g), nil
}

func geoJSONGeometry(data []byte) (orb.Geometry, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	switch head.Type {
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, err
		}
		return f.Geometry, nil
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, err
		}
		if len(fc.Features) != 1 {
			return nil, fmt.Errorf("feature collection must hold exactly one feature, got %d", len(fc.Features))
		}
		return fc.Features[0].Geometry, nil
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, err
		}
		return g.Geometry(), nil
	}
}

// ParamValue formats one extra search parameter. Strings are trimmed and, unless wrapped in
// [], {}, // or (), get every whitespace character escaped. Two-element lists become [a,b].
func ParamValue(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return escapeParam(val), nil
	case [2]string:
		return fmt.Sprintf("[%s,%s]", val[0], val[1]), nil
	case []string:
		if len(val) != 2 {
			return "", fmt.Errorf("expected 2 elements in range, received %d", len(val))
		}
		return fmt.Sprintf("[%s,%s]", val[0], val[1]), nil
	case []any:
		if len(val) != 2 {
			return "", fmt.Errorf("expected 2 elements in range, received %d", len(val))
		}
		return fmt.Sprintf("[%v,%v]", val[0], val[1]), nil
	case fmt.Stringer:
		return escapeParam(val.String()), nil
	case int, int64, float64, bool:
		return fmt.Sprint(val), nil
	default:
		return "", fmt.Errorf("value must be a string or a two-element range, got %T", v)
	}
}

func escapeParam(s string) string {
	s = strings.TrimSpace(s)
	for _, pair := range []string{"[]", "{}", "//", "()"} {
		if len(s) >= 2 && s[0] == pair[0] && s[len(s)-1] == pair[1] {
			return s
		}
	}
	return whitespace.ReplaceAllString(s, `\ `)
}
