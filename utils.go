package godcp

import (
	"context"
	"net"
	"net/url"
	"time"
)

func parseEndpointUri(endpoint string) (*url.URL, error) {
	return url.Parse(endpoint)
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}

	port, err := net.LookupPort("tcp", portStr)
	if err != nil {
		return "", 0, err
	}

	return host, port, nil
}

func contextSleep(ctx context.Context, period time.Duration) error {
	select {
	case <-time.After(period):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
