// Package laqn provides a client for the London Air Quality Network API.
package laqn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/guregu/null/v5"
	"github.com/rs/zerolog"

	"github.com/GavinKingcome/schools-air-quality-msp4/internal/airquality"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/provider/resilience"
)

const (
	// DefaultBaseURL is the base URL for the LAQN API.
	DefaultBaseURL = "https://api.erg.ic.ac.uk/AirQuality"

	// ProviderName identifies this provider.
	ProviderName = "laqn"

	// measurementLayout is the format of @MeasurementDateGMT.
	measurementLayout = "2006-01-02 15:04:05"

	// dateLayout is the date format the API expects in paths.
	dateLayout = "02-Jan-2006"
)

// ErrNoAnnualMeans is returned when a site has no annual-mean objective for a year.
var ErrNoAnnualMeans = errors.New("no annual means reported")

// ClientConfig holds configuration for the LAQN client.
type ClientConfig struct {
	// BaseURL is the API base URL (defaults to DefaultBaseURL).
	BaseURL string

	// HTTPClient is the HTTP client to use.
	// If nil, a default resilient client will be created.
	HTTPClient HTTPDoer

	// Timeout for individual API requests (default: 30s).
	Timeout time.Duration

	// Boroughs restricts FetchSensors to these local authorities. Empty
	// means every London site.
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

// Client is an LAQN API client. No API key is required.
type Client struct {
	baseURL    string
	httpClient HTTPDoer
	boroughs   map[string]bool
	logger     zerolog.Logger
}

// NewClient creates a new LAQN client.
func NewClient(cfg ClientConfig) *Client {
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

	var boroughs map[string]bool
	if len(cfg.Boroughs) > 0 {
		boroughs = make(map[string]bool, len(cfg.Boroughs))
		for _, b := range cfg.Boroughs {
			boroughs[strings.ToLower(strings.TrimSpace(b))] = true
		}
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		boroughs:   boroughs,
		logger:     cfg.Logger,
	}
}

// Network returns the network this client feeds.
func (c *Client) Network() airquality.Network {
	return airquality.NetworkReferenceGrade
}

// API response types. The API returns a single object instead of a
// one-element array, so every list is decoded through oneOrMany.

type sitesResponse struct {
	Sites struct {
		Site oneOrMany[siteData] `json:"Site"`
	} `json:"Sites"`
}

type siteData struct {
	SiteCode           string `json:"@SiteCode"`
	SiteName           string `json:"@SiteName"`
	SiteType           string `json:"@SiteType"`
	Latitude           string `json:"@Latitude"`
	Longitude          string `json:"@Longitude"`
	LocalAuthorityName string `json:"@LocalAuthorityName"`
	DateClosed         string `json:"@DateClosed"`
	IsClosed           string `json:"@IsClosed"`
}

type dataResponse struct {
	AirQualityData struct {
		Data oneOrMany[dataPoint] `json:"Data"`
	} `json:"AirQualityData"`
}

type dataPoint struct {
	SpeciesCode        string `json:"@SpeciesCode"`
	MeasurementDateGMT string `json:"@MeasurementDateGMT"`
	Value              string `json:"@Value"`
}

type objectivesResponse struct {
	SiteObjectives struct {
		Site struct {
			Objective oneOrMany[objectiveData] `json:"Objective"`
		} `json:"Site"`
	} `json:"SiteObjectives"`
}

type objectiveData struct {
	SpeciesCode   string `json:"@SpeciesCode"`
	ObjectiveName string `json:"@ObjectiveName"`
	Value         string `json:"@Value"`
}

// FetchSensors retrieves the London monitoring sites, filtered to the
// configured boroughs. Sites with unusable coordinates are skipped.
func (c *Client) FetchSensors(ctx context.Context) ([]airquality.Sensor, error) {
	var result sitesResponse
	if err := c.get(ctx, "Information/MonitoringSiteSpecies/GroupName=London", &result); err != nil {
		return nil, fmt.Errorf("fetch sites: %w", err)
	}

	now := time.Now().UTC()
	sensors := make([]airquality.Sensor, 0, len(result.Sites.Site))
	for _, s := range result.Sites.Site {
		if s.SiteCode == "" {
			continue
		}
		if c.boroughs != nil && !c.boroughs[strings.ToLower(s.LocalAuthorityName)] {
			continue
		}

		sensor, ok := toSensor(s, now)
		if !ok {
			c.logger.Warn().Str("site_code", s.SiteCode).Msg("skipping LAQN site with invalid coordinates")
			continue
		}
		sensors = append(sensors, sensor)
	}

	return sensors, nil
}

// FetchReadings retrieves hourly readings for a site between start and end.
func (c *Client) FetchReadings(ctx context.Context, siteCode string, start, end time.Time) ([]airquality.Reading, error) {
	path := fmt.Sprintf("Data/Site/SiteCode=%s/StartDate=%s/EndDate=%s",
		siteCode, start.UTC().Format(dateLayout), end.UTC().AddDate(0, 0, 1).Format(dateLayout))

	var result dataResponse
	if err := c.get(ctx, path, &result); err != nil {
		return nil, fmt.Errorf("fetch data for %s: %w", siteCode, err)
	}

	samples := make([]airquality.Sample, 0, len(result.AirQualityData.Data))
	for _, d := range result.AirQualityData.Data {
		pollutant := toPollutant(d.SpeciesCode)
		if pollutant == "" {
			continue
		}
		ts, err := time.Parse(measurementLayout, d.MeasurementDateGMT)
		if err != nil {
			continue
		}
		if ts.Before(start) || ts.After(end) {
			continue
		}
		samples = append(samples, airquality.Sample{
			Timestamp: ts,
			Pollutant: pollutant,
			Value:     parseValue(d.Value),
		})
	}

	return airquality.GroupHourly(siteCode, samples), nil
}

// FetchAnnualStats retrieves the annual means reported for a site and year.
// It returns ErrNoAnnualMeans when the site reports none.
func (c *Client) FetchAnnualStats(ctx context.Context, siteCode string, year int) (airquality.AnnualStats, error) {
	path := fmt.Sprintf("Annual/MonitoringObjective/SiteCode=%s/Year=%d", siteCode, year)

	var result objectivesResponse
	if err := c.get(ctx, path, &result); err != nil {
		return airquality.AnnualStats{}, fmt.Errorf("fetch objectives for %s/%d: %w", siteCode, year, err)
	}

	stats := airquality.AnnualStats{SiteCode: siteCode, Year: year}
	for _, o := range result.SiteObjectives.Site.Objective {
		name := strings.ToLower(o.ObjectiveName)
		if strings.Contains(name, "capture") && !stats.CaptureRate.Valid {
			stats.CaptureRate = airquality.Concentration(parseValue(o.Value))
			continue
		}
		if !strings.Contains(name, "annual mean") {
			continue
		}
		pollutant := toPollutant(o.SpeciesCode)
		if pollutant == "" || stats.Means.Get(pollutant).Valid {
			continue
		}
		stats.Means.Set(pollutant, airquality.Concentration(parseValue(o.Value)))
	}

	if !stats.Means.Any() {
		return airquality.AnnualStats{}, ErrNoAnnualMeans
	}
	return stats, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	url := fmt.Sprintf("%s/%s/Json", c.baseURL, endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
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

// toSensor converts API site data to a domain Sensor.
func toSensor(s siteData, now time.Time) (airquality.Sensor, bool) {
	lat, err := strconv.ParseFloat(strings.TrimSpace(s.Latitude), 64)
	if err != nil {
		return airquality.Sensor{}, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(s.Longitude), 64)
	if err != nil {
		return airquality.Sensor{}, false
	}

	sensor := airquality.Sensor{
		SiteCode:  s.SiteCode,
		Name:      s.SiteName,
		Lat:       lat,
		Lon:       lon,
		Network:   airquality.NetworkReferenceGrade,
		SiteType:  toSiteType(s.SiteType),
		Borough:   s.LocalAuthorityName,
		Active:    !strings.EqualFold(s.IsClosed, "true") && strings.TrimSpace(s.DateClosed) == "",
		UpdatedAt: now,
	}
	if sensor.Name == "" {
		sensor.Name = s.SiteCode
	}
	if (lat == 0 && lon == 0) || !sensor.HasValidLocation() {
		return airquality.Sensor{}, false
	}
	return sensor, true
}

// toSiteType maps an LAQN site type such as "Roadside" or "Urban Background".
func toSiteType(raw string) airquality.SiteType {
	t := strings.ToLower(raw)
	switch {
	case strings.Contains(t, "kerbside"):
		return airquality.SiteTypeKerbside
	case strings.Contains(t, "roadside"):
		return airquality.SiteTypeRoadside
	case strings.Contains(t, "industrial"):
		return airquality.SiteTypeIndustrial
	case strings.Contains(t, "suburban"):
		return airquality.SiteTypeSuburban
	case strings.Contains(t, "rural"):
		return airquality.SiteTypeRural
	default:
		return airquality.SiteTypeUrbanBackground
	}
}

// toPollutant converts an LAQN species code. PM10 is reported as DUST in
// annual objectives.
func toPollutant(code string) airquality.Pollutant {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "NO2":
		return airquality.PollutantNO2
	case "PM25", "PM2.5", "FINE":
		return airquality.PollutantPM25
	case "PM10", "DUST":
		return airquality.PollutantPM10
	case "O3":
		return airquality.PollutantO3
	case "NOX":
		return airquality.PollutantNOx
	default:
		return ""
	}
}

// parseValue parses a numeric string. Empty or malformed values are absent.
func parseValue(s string) null.Float {
	s = strings.TrimSpace(s)
	if s == "" {
		return null.Float{}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return null.Float{}
	}
	return null.FloatFrom(f)
}
