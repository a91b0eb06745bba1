package catalog

import (
	"net/http"
	"sync"
)

// The remote API rejects bare requests, so every call carries a realistic
// browser header set. User agents rotate round-robin to avoid hammering the
// endpoint with a single fingerprint.
var browserUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
}

type headerRotator struct {
	mu   sync.Mutex
	next int

	referer string
}

func newHeaderRotator(referer string) *headerRotator {
	return &headerRotator{referer: referer}
}

func (h *headerRotator) apply(req *http.Request) {
	h.mu.Lock()
	ua := browserUserAgents[h.next%len(browserUserAgents)]
	h.next++
	h.mu.Unlock()

	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "ja-JP,ja;q=0.9,en;q=0.8")
	req.Header.Set("Referer", h.referer)
	req.Header.Set("Cache-Control", "no-cache")
}
