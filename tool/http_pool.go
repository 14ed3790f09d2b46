package tool

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// clientPool hands out one http.Client per request timeout so that tools
// with the same timeout share connections to their collaborator.
type clientPool struct {
	mu        sync.Mutex
	clients   map[time.Duration]*http.Client
	transport *http.Transport
}

var sharedClientPool = newClientPool()

func newClientPool() *clientPool {
	return &clientPool{
		clients: map[time.Duration]*http.Client{},
		transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   20,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
		},
	}
}

func (p *clientPool) client(timeout time.Duration) *http.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.clients[timeout]; ok {
		return existing
	}
	client := &http.Client{
		Timeout:   timeout,
		Transport: p.transport,
	}
	p.clients[timeout] = client
	return client
}

// CloseIdleConnections drops idle keep-alive connections held for
// HTTP-backed tools. Called on server shutdown.
func CloseIdleConnections() {
	sharedClientPool.transport.CloseIdleConnections()
}
