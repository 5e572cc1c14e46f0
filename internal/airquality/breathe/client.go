// Package breathe provides a client for the Breathe London low-cost sensor API.
package breathe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/GavinKingcome/schools-air-quality-msp4/internal/airquality"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/provider/resilience"
)

const (
	// DefaultBaseURL is the base URL for the Breathe London API.
	DefaultBaseURL = "https://breathe-london-7x54d7qf.ew.gateway.dev"

	// ProviderName identifies this provider.
	ProviderName = "breathe"

	// timeLayout is the UTC format the API expects for startTime/endTime.
	timeLayout = "2006-01-02T15:04:05Z"
)

// ErrMissingAPIKey is returned by NewClient when no API key is configured.
var ErrMissingAPIKey = errors.New("breathe london API key is required")

// ClientConfig holds configuration for the Breathe London client.
type ClientConfig struct {
	// APIKey is sent as the X-API-KEY header.
	APIKey string

	// BaseURL is the API base URL (defaults to DefaultBaseURL).
	BaseURL string

	// HTTPClient is the HTTP client to use.
	// If nil, a default resilient client will be created.
	HTTPClient HTTPDoer

	// Timeout for individual API requests (default: 30s).
	Timeout time.Duration

	// Boroughs lists the boroughs whose sensors are synced. Empty means
	// the API's default listing.
	Boroughs []string

	// Registry receives provider health reports for the default client.
	Registry *resilience.Registry

	// Logger for client operations.
	Logger zerolog.Logger
}

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a Breathe London API client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient HTTPDoer
	boroughs   []string
	logger     zerolog.Logger
}

// NewClient creates a new Breathe London client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = resilience.NewClient(resilience.ClientConfig{
			Name:            ProviderName,
			Timeout:         timeout,
			MaxRetries:      3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     10 * time.Second,
			Registry:        cfg.Registry,
			Logger:          cfg.Logger,
		})
	}

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		boroughs:   cfg.Boroughs,
		logger:     cfg.Logger,
	}, nil
}

// Network returns the network this client feeds.
func (c *Client) Network() airquality.Network {
	return airquality.NetworkLowCost
}

// API response types (from Breathe London API).

type sensorData struct {
	SiteCode           string    `json:"SiteCode"`
	SiteName           string    `json:"SiteName"`
	Latitude           flexFloat `json:"Latitude"`
	Longitude          flexFloat `json:"Longitude"`
	Borough            string    `json:"Borough"`
	SiteClassification string    `json:"SiteClassification"`
	EndDate            *string   `json:"EndDate"`
}

type measurementData struct {
	DateTime    string    `json:"DateTime"`
	Species     string    `json:"Species"`
	ScaledValue flexFloat `json:"ScaledValue"`
}

// FetchSensors lists the sensors in the configured boroughs. Sensors
// without a code or usable coordinates are skipped.
func (c *Client) FetchSensors(ctx context.Context) ([]airquality.Sensor, error) {
	boroughs := c.boroughs
	if len(boroughs) == 0 {
		boroughs = []string{""}
	}

	now := time.Now().UTC()
	seen := make(map[string]bool)
	var sensors []airquality.Sensor

	for _, borough := range boroughs {
		params := url.Values{}
		if borough != "" {
			params.Set("Borough", borough)
		}

		var result []sensorData
		if err := c.get(ctx, "ListSensors", params, &result); err != nil {
			return nil, fmt.Errorf("list sensors for %q: %w", borough, err)
		}

		for _, s := range result {
			if s.SiteCode == "" || seen[s.SiteCode] {
				continue
			}
			sensor, ok := toSensor(s, now)
			if !ok {
				c.logger.Warn().Str("site_code", s.SiteCode).Msg("skipping Breathe London sensor with missing location")
				continue
			}
			seen[s.SiteCode] = true
			sensors = append(sensors, sensor)
		}
	}

	return sensors, nil
}

// FetchReadings retrieves sensor data between start and end, grouped into
// hourly readings.
func (c *Client) FetchReadings(ctx context.Context, siteCode string, start, end time.Time) ([]airquality.Reading, error) {
	params := url.Values{}
	params.Set("SiteCode", siteCode)
	params.Set("startTime", start.UTC().Format(timeLayout))
	params.Set("endTime", end.UTC().Format(timeLayout))

	var result []measurementData
	if err := c.get(ctx, "SensorData", params, &result); err != nil {
		return nil, fmt.Errorf("fetch sensor data for %s: %w", siteCode, err)
	}

	samples := make([]airquality.Sample, 0, len(result))
	for _, m := range result {
		pollutant := toPollutant(m.Species)
		if pollutant == "" {
			continue
		}
		ts, ok := parseTime(m.DateTime)
		if !ok {
			c.logger.Debug().Str("site_code", siteCode).Str("date_time", m.DateTime).Msg("unparseable timestamp")
			continue
		}
		samples = append(samples, airquality.Sample{
			Timestamp: ts,
			Pollutant: pollutant,
			Value:     m.ScaledValue.Float,
		})
	}

	return airquality.GroupHourly(siteCode, samples), nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	u := fmt.Sprintf("%s/%s", c.baseURL, endpoint)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, endpoint)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// toSensor converts API sensor data to a domain Sensor.
func toSensor(s sensorData, now time.Time) (airquality.Sensor, bool) {
	if !s.Latitude.Valid || !s.Longitude.Valid {
		return airquality.Sensor{}, false
	}

	name := s.SiteName
	if name == "" {
		name = s.SiteCode
	}

	sensor := airquality.Sensor{
		SiteCode:  s.SiteCode,
		Name:      name,
		Lat:       s.Latitude.Float64,
		Lon:       s.Longitude.Float64,
		Network:   airquality.NetworkLowCost,
		SiteType:  toSiteType(s.SiteClassification),
		Borough:   s.Borough,
		Active:    s.EndDate == nil || strings.TrimSpace(*s.EndDate) == "",
		UpdatedAt: now,
	}
	if (sensor.Lat == 0 && sensor.Lon == 0) || !sensor.HasValidLocation() {
		return airquality.Sensor{}, false
	}
	return sensor, true
}

// toSiteType maps a Breathe London site classification. Anything that is
// not clearly road-facing is treated as urban background.
func toSiteType(classification string) airquality.SiteType {
	c := strings.ToLower(classification)
	if strings.Contains(c, "roadside") || strings.Contains(c, "kerb") {
		return airquality.SiteTypeRoadside
	}
	return airquality.SiteTypeUrbanBackground
}

func toPollutant(species string) airquality.Pollutant {
	switch strings.ToUpper(strings.TrimSpace(species)) {
	case "NO2":
		return airquality.PollutantNO2
	case "PM2.5", "PM25":
		return airquality.PollutantPM25
	case "PM10":
		return airquality.PollutantPM10
	default:
		return ""
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseTime parses an API timestamp. Timestamps without a zone are UTC.
func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
