package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkaneko/worksync/internal/work"
)

const sampleProductJSON = `[{
	"workno": "RJ01234567",
	"work_name": "Sample Work",
	"maker_name": "Sample Circle",
	"genres": ["voice", "asmr"],
	"price": 880,
	"official_price": 1100,
	"discount_rate": 20,
	"campaign_id": 777,
	"locale_price": [
		{"currency": "USD", "price": 5.94},
		{"currency": "EUR", "price": 5.49},
		{"currency": "XXX", "price": 1.23}
	],
	"locale_official_price": [
		{"currency": "USD", "price": 7.43}
	],
	"regist_date": "2023-04-01 10:00:00",
	"on_sale": 1
}]`

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(ClientConfig{
		BaseURL:           srv.URL,
		Timeout:           2 * time.Second,
		RequestsPerSecond: 1000,
	})
	require.NoError(t, err)

	return client, srv
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	assert.Error(t, err)
}

func TestFetchWork_Success(t *testing.T) {
	var gotUA, gotReferer string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		assert.Equal(t, "RJ01234567", r.URL.Query().Get("workno"))
		_, _ = w.Write([]byte(sampleProductJSON))
	})

	rec, err := client.FetchWork(context.Background(), "RJ01234567")
	require.NoError(t, err)

	assert.Equal(t, "RJ01234567", rec.ID)
	assert.Equal(t, "Sample Work", rec.Title)
	assert.Equal(t, "Sample Circle", rec.Circle)
	assert.Equal(t, 20, rec.DiscountRate)
	require.NotNil(t, rec.Price)
	assert.Equal(t, 880.0, *rec.Price)
	require.NotNil(t, rec.CampaignID)
	assert.Equal(t, int64(777), *rec.CampaignID)
	assert.True(t, rec.OnSale)
	require.NotNil(t, rec.RegisteredAt)

	require.NotNil(t, rec.LocalePrices[work.CurrencyUSD])
	assert.Equal(t, 5.94, *rec.LocalePrices[work.CurrencyUSD])
	assert.Nil(t, rec.LocalePrices["XXX"], "unsupported currencies are dropped")
	assert.Nil(t, rec.LocalePrices[work.CurrencyKRW], "missing currency stays nil")

	assert.NotEmpty(t, gotUA, "requests must carry a browser user agent")
	assert.NotEmpty(t, gotReferer, "requests must carry a referer")
}

func TestFetchWork_Classification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected FailureKind
	}{
		{name: "404 is not_found", status: http.StatusNotFound, expected: KindNotFound},
		{name: "429 is rate_limited", status: http.StatusTooManyRequests, expected: KindRateLimited},
		{name: "503 is rate_limited", status: http.StatusServiceUnavailable, expected: KindRateLimited},
		{name: "500 is network_error", status: http.StatusInternalServerError, expected: KindNetworkError},
		{name: "invalid json is malformed", status: http.StatusOK, body: `{"oops`, expected: KindMalformed},
		{name: "empty array is malformed", status: http.StatusOK, body: `[]`, expected: KindMalformed},
		{name: "missing workno is malformed", status: http.StatusOK, body: `[{"work_name":"x"}]`, expected: KindMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				if tt.body != "" {
					_, _ = w.Write([]byte(tt.body))
				}
			})

			_, err := client.FetchWork(context.Background(), "RJ00000001")
			require.Error(t, err)

			fe, ok := AsFetchError(err)
			require.True(t, ok, "error must be a *FetchError")
			assert.Equal(t, tt.expected, fe.Kind)
			assert.Equal(t, "RJ00000001", fe.WorkID)
		})
	}
}

func TestFetchWork_ConnectionRefused(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	_, err := client.FetchWork(context.Background(), "RJ00000001")
	require.Error(t, err)

	fe, ok := AsFetchError(err)
	require.True(t, ok)
	assert.Equal(t, KindNetworkError, fe.Kind)
	assert.True(t, fe.Retryable())
}

func TestFetchError_Retryable(t *testing.T) {
	assert.False(t, (&FetchError{Kind: KindNotFound}).Retryable())
	assert.True(t, (&FetchError{Kind: KindRateLimited}).Retryable())
	assert.True(t, (&FetchError{Kind: KindMalformed}).Retryable())
	assert.True(t, (&FetchError{Kind: KindNetworkError}).Retryable())
}

func TestHeaderRotation(t *testing.T) {
	seen := make(map[string]bool)
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen[r.Header.Get("User-Agent")] = true
		_, _ = w.Write([]byte(sampleProductJSON))
	})

	for i := 0; i < len(browserUserAgents); i++ {
		_, err := client.FetchWork(context.Background(), "RJ01234567")
		require.NoError(t, err)
	}

	assert.Len(t, seen, len(browserUserAgents), "user agents should rotate")
}

func TestClampDiscount(t *testing.T) {
	assert.Equal(t, 0, clampDiscount(-5))
	assert.Equal(t, 30, clampDiscount(30))
	assert.Equal(t, 100, clampDiscount(140))
}
