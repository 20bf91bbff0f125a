package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gardenista/beanbot/pkg/config"
)

const (
	defaultBaseURL = "https://api.openweathermap.org/data/2.5"

	// forecastEntries covers 48 hours of 3-hour slots.
	forecastEntries = 16
)

// Alert thresholds. Frost risk uses air temperature, not feels-like,
// because plants do not care about wind chill.
const (
	frostThresholdC   = 2.0
	frostThresholdF   = 35.6
	rainProbThreshold = 0.6
	rainTotalMM       = 10.0
)

// Client talks to OpenWeatherMap for one configured location.
type Client struct {
	apiKey     string
	lat        string
	lon        string
	units      string
	baseURL    string
	httpClient *http.Client
}

func New(cfg config.WeatherConfig) *Client {
	units := cfg.Units
	if units != "imperial" {
		units = "metric"
	}
	return &Client{
		apiKey:     cfg.APIKey,
		lat:        cfg.Lat,
		lon:        cfg.Lon,
		units:      units,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) Configured() bool {
	return c.apiKey != "" && c.lat != "" && c.lon != ""
}

// Current is the present conditions snapshot.
type Current struct {
	Temp       float64
	FeelsLike  float64
	Humidity   int
	WindSpeed  float64
	Conditions string
}

// ForecastEntry is one 3-hour forecast slot.
type ForecastEntry struct {
	Time       time.Time
	Temp       float64
	TempMin    float64
	PrecipProb float64
	RainMM     float64
	Conditions string
}

// Outlook is the combined picture the agent and the alert job consume.
type Outlook struct {
	Current   Current
	Forecast  []ForecastEntry
	FrostRisk bool
	RainAlert bool
	Summary   string
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	if !c.Configured() {
		return fmt.Errorf("weather client not configured")
	}

	query := url.Values{}
	query.Set("lat", c.lat)
	query.Set("lon", c.lon)
	query.Set("appid", c.apiKey)
	query.Set("units", c.units)

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create weather request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("weather request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read weather response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		detail := strings.TrimSpace(string(body))
		if len(detail) > 300 {
			detail = detail[:300]
		}
		return fmt.Errorf("weather API status=%d: %s", resp.StatusCode, detail)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse weather response: %w", err)
	}
	return nil
}

type conditionPayload struct {
	Main        string `json:"main"`
	Description string `json:"description"`
}

func conditionText(conds []conditionPayload) string {
	if len(conds) == 0 {
		return ""
	}
	return conds[0].Description
}

func (c *Client) CurrentConditions(ctx context.Context) (Current, error) {
	var payload struct {
		Main struct {
			Temp      float64 `json:"temp"`
			FeelsLike float64 `json:"feels_like"`
			Humidity  int     `json:"humidity"`
		} `json:"main"`
		Wind struct {
			Speed float64 `json:"speed"`
		} `json:"wind"`
		Weather []conditionPayload `json:"weather"`
	}
	if err := c.get(ctx, "/weather", &payload); err != nil {
		return Current{}, err
	}
	return Current{
		Temp:       payload.Main.Temp,
		FeelsLike:  payload.Main.FeelsLike,
		Humidity:   payload.Main.Humidity,
		WindSpeed:  payload.Wind.Speed,
		Conditions: conditionText(payload.Weather),
	}, nil
}

func (c *Client) Forecast(ctx context.Context) ([]ForecastEntry, error) {
	var payload struct {
		List []struct {
			DT   int64 `json:"dt"`
			Main struct {
				Temp    float64 `json:"temp"`
				TempMin float64 `json:"temp_min"`
			} `json:"main"`
			Pop  float64 `json:"pop"`
			Rain struct {
				ThreeHour float64 `json:"3h"`
			} `json:"rain"`
			Weather []conditionPayload `json:"weather"`
		} `json:"list"`
	}
	if err := c.get(ctx, "/forecast", &payload); err != nil {
		return nil, err
	}

	entries := make([]ForecastEntry, 0, forecastEntries)
	for i, item := range payload.List {
		if i >= forecastEntries {
			break
		}
		entries = append(entries, ForecastEntry{
			Time:       time.Unix(item.DT, 0),
			Temp:       item.Main.Temp,
			TempMin:    item.Main.TempMin,
			PrecipProb: item.Pop,
			RainMM:     item.Rain.ThreeHour,
			Conditions: conditionText(item.Weather),
		})
	}
	return entries, nil
}

// Outlook fetches current conditions plus the 48-hour forecast and
// derives the frost and rain flags.
func (c *Client) Outlook(ctx context.Context) (*Outlook, error) {
	current, err := c.CurrentConditions(ctx)
	if err != nil {
		return nil, err
	}
	forecast, err := c.Forecast(ctx)
	if err != nil {
		return nil, err
	}

	out := &Outlook{Current: current, Forecast: forecast}
	out.FrostRisk, out.RainAlert = c.assess(forecast)
	out.Summary = c.summarize(out)
	return out, nil
}

func (c *Client) frostThreshold() float64 {
	if c.units == "imperial" {
		return frostThresholdF
	}
	return frostThresholdC
}

func (c *Client) assess(forecast []ForecastEntry) (frost, rain bool) {
	threshold := c.frostThreshold()
	totalRain := 0.0
	for _, entry := range forecast {
		low := entry.TempMin
		if low == 0 && entry.Temp != 0 {
			low = entry.Temp
		}
		if low <= threshold {
			frost = true
		}
		if entry.PrecipProb >= rainProbThreshold {
			rain = true
		}
		totalRain += entry.RainMM
	}
	if totalRain >= rainTotalMM {
		rain = true
	}
	return frost, rain
}

func (c *Client) unitSuffix() string {
	if c.units == "imperial" {
		return "°F"
	}
	return "°C"
}

func (c *Client) summarize(out *Outlook) string {
	suffix := c.unitSuffix()
	var sb strings.Builder
	fmt.Fprintf(&sb, "Currently %.1f%s (feels like %.1f%s), %s, humidity %d%%.",
		out.Current.Temp, suffix, out.Current.FeelsLike, suffix,
		nonEmpty(out.Current.Conditions, "no conditions reported"), out.Current.Humidity)

	if len(out.Forecast) > 0 {
		low := out.Forecast[0].Temp
		high := out.Forecast[0].Temp
		for _, entry := range out.Forecast {
			if entry.Temp < low {
				low = entry.Temp
			}
			if entry.Temp > high {
				high = entry.Temp
			}
		}
		fmt.Fprintf(&sb, " Next 48h: %.1f%s to %.1f%s.", low, suffix, high, suffix)
	}
	if out.FrostRisk {
		sb.WriteString(" FROST RISK in the next 48 hours, protect tender plants.")
	}
	if out.RainAlert {
		sb.WriteString(" Significant rain expected, watering can likely be skipped.")
	}
	return sb.String()
}

func nonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
