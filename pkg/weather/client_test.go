package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gardenista/beanbot/pkg/config"
)

func testClient(t *testing.T, currentJSON, forecastJSON string) *Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("appid") == "" {
			http.Error(w, `{"message":"missing key"}`, http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/weather":
			w.Write([]byte(currentJSON))
		case "/forecast":
			w.Write([]byte(forecastJSON))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	client := New(config.WeatherConfig{APIKey: "test-key", Lat: "52.3", Lon: "4.9", Units: "metric"})
	client.baseURL = server.URL
	return client
}

const mildCurrent = `{"main":{"temp":18.2,"feels_like":17.9,"humidity":62},"wind":{"speed":3.4},"weather":[{"main":"Clouds","description":"scattered clouds"}]}`

func TestOutlookMild(t *testing.T) {
	forecast := `{"list":[
		{"dt":1756540800,"main":{"temp":17.0,"temp_min":14.0},"pop":0.1,"weather":[{"description":"clear sky"}]},
		{"dt":1756551600,"main":{"temp":19.0,"temp_min":15.0},"pop":0.2,"weather":[{"description":"few clouds"}]}
	]}`
	client := testClient(t, mildCurrent, forecast)

	outlook, err := client.Outlook(context.Background())
	require.NoError(t, err)
	assert.False(t, outlook.FrostRisk)
	assert.False(t, outlook.RainAlert)
	assert.Contains(t, outlook.Summary, "18.2°C")
	assert.Contains(t, outlook.Summary, "scattered clouds")
	assert.NotContains(t, outlook.Summary, "FROST")
}

func TestOutlookFrost(t *testing.T) {
	forecast := `{"list":[
		{"dt":1756540800,"main":{"temp":6.0,"temp_min":5.0},"pop":0.0},
		{"dt":1756551600,"main":{"temp":3.0,"temp_min":1.5},"pop":0.0}
	]}`
	client := testClient(t, mildCurrent, forecast)

	outlook, err := client.Outlook(context.Background())
	require.NoError(t, err)
	assert.True(t, outlook.FrostRisk)
	assert.Contains(t, outlook.Summary, "FROST RISK")
}

func TestOutlookRainByProbability(t *testing.T) {
	forecast := `{"list":[
		{"dt":1756540800,"main":{"temp":12.0,"temp_min":10.0},"pop":0.8,"rain":{"3h":2.0}}
	]}`
	client := testClient(t, mildCurrent, forecast)

	outlook, err := client.Outlook(context.Background())
	require.NoError(t, err)
	assert.True(t, outlook.RainAlert)
}

func TestOutlookRainByAccumulation(t *testing.T) {
	forecast := `{"list":[
		{"dt":1756540800,"main":{"temp":12.0,"temp_min":10.0},"pop":0.3,"rain":{"3h":6.0}},
		{"dt":1756551600,"main":{"temp":11.0,"temp_min":9.0},"pop":0.4,"rain":{"3h":5.5}}
	]}`
	client := testClient(t, mildCurrent, forecast)

	outlook, err := client.Outlook(context.Background())
	require.NoError(t, err)
	assert.True(t, outlook.RainAlert)
}

func TestForecastCapsAt48Hours(t *testing.T) {
	var sb []byte
	sb = append(sb, []byte(`{"list":[`)...)
	for i := 0; i < 40; i++ {
		if i > 0 {
			sb = append(sb, ',')
		}
		sb = append(sb, []byte(`{"dt":1756540800,"main":{"temp":15.0,"temp_min":13.0},"pop":0.0}`)...)
	}
	sb = append(sb, []byte(`]}`)...)
	client := testClient(t, mildCurrent, string(sb))

	entries, err := client.Forecast(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 16)
}

func TestUnconfiguredClient(t *testing.T) {
	client := New(config.WeatherConfig{})
	assert.False(t, client.Configured())
	_, err := client.Outlook(context.Background())
	assert.Error(t, err)
}
