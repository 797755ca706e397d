package config

import (
	"net"
	"net/url"
	"os"
	"sync"
)

const dockerHostGateway = "host.docker.internal"

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// IsRunningInDocker reports whether /.dockerenv exists. The result is cached.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	return isDockerResult
}

// ResolveHostForDocker maps loopback hosts to the Docker host gateway when
// running inside a container, so a Postgres or model server on the host stays reachable.
func ResolveHostForDocker(host string) string {
	if !IsRunningInDocker() {
		return host
	}
	return resolveLoopback(host)
}

// ResolveURLForDocker applies ResolveHostForDocker to the host part of rawURL.
// Unparseable or empty URLs are returned unchanged.
func ResolveURLForDocker(rawURL string) string {
	if rawURL == "" || !IsRunningInDocker() {
		return rawURL
	}
	return resolveURLHost(rawURL)
}

func resolveURLHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		u.Host = resolveLoopback(u.Host)
		return u.String()
	}
	u.Host = net.JoinHostPort(resolveLoopback(host), port)
	return u.String()
}

func resolveLoopback(host string) string {
	if host == "localhost" || host == "127.0.0.1" {
		return dockerHostGateway
	}
	return host
}
