// Package httpclient builds the pooled HTTP clients shared by the Telegram
// transport and the completion backends.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

const defaultTimeout = 120 * time.Second

// New returns an HTTP client with connection pooling. timeout bounds a whole
// request including the body, so long-poll callers must pass more than their
// poll interval.
func New(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// ForLongPoll returns a client whose timeout leaves headroom over a
// server-side long-poll of pollSeconds.
func ForLongPoll(pollSeconds int) *http.Client {
	return New(time.Duration(pollSeconds)*time.Second + 15*time.Second)
}
