// Package discovery advertises the fleet server on the local network and
// lets agents find it without configuration.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	ServiceType   = "_device-fleet._tcp"
	Domain        = "local."
	BrowseTimeout = 5 * time.Second

	txtVersion = "version="
	txtPath    = "path="
)

// Endpoint is a fleet server found on the network.
type Endpoint struct {
	Instance string
	Host     string
	Port     int
	Version  string
}

func (e Endpoint) BaseURL() string {
	return "http://" + net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

type Advertiser struct {
	server *zeroconf.Server
	logger *slog.Logger
}

// Advertise registers the server listening on listenAddress until ctx is
// cancelled or Shutdown is called.
func Advertise(ctx context.Context, listenAddress, version string, logger *slog.Logger) (*Advertiser, error) {
	port, err := PortOf(listenAddress)
	if err != nil {
		return nil, err
	}

	instance, err := os.Hostname()
	if err != nil || instance == "" {
		instance = "device-fleet-manager"
	}

	server, err := zeroconf.Register(instance, ServiceType, Domain, port, []string{txtVersion + version, txtPath + "/api"}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}

	a := &Advertiser{server: server, logger: logger}
	a.log(slog.LevelInfo, "Advertising fleet server", "instance", instance, "service", ServiceType, "port", port)

	go func() {
		<-ctx.Done()
		a.Shutdown()
	}()

	return a, nil
}

func (a *Advertiser) log(level slog.Level, msg string, args ...any) {
	if a.logger != nil {
		a.logger.Log(context.Background(), level, msg, args...)
	}
}

func (a *Advertiser) Shutdown() {
	if a.server == nil {
		return
	}
	a.log(slog.LevelDebug, "Stopping mDNS advertisement")
	a.server.Shutdown()
}

// Browse collects the fleet servers answering within timeout.
func Browse(ctx context.Context, timeout time.Duration) ([]Endpoint, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for fleet servers: %w", err)
	}

	var endpoints []Endpoint
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return endpoints, nil
			}
			if endpoint, ok := endpointFrom(entry); ok {
				endpoints = append(endpoints, endpoint)
			}
		case <-ctx.Done():
			return endpoints, nil
		}
	}
}

func endpointFrom(entry *zeroconf.ServiceEntry) (Endpoint, bool) {
	if entry == nil || entry.Port == 0 {
		return Endpoint{}, false
	}

	endpoint := Endpoint{Instance: entry.Instance, Port: entry.Port}
	switch {
	case len(entry.AddrIPv4) > 0:
		endpoint.Host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		endpoint.Host = entry.AddrIPv6[0].String()
	case entry.HostName != "":
		endpoint.Host = strings.TrimSuffix(entry.HostName, ".")
	default:
		return Endpoint{}, false
	}

	for _, txt := range entry.Text {
		if v, ok := strings.CutPrefix(txt, txtVersion); ok {
			endpoint.Version = v
		}
	}

	return endpoint, true
}

// PortOf extracts the TCP port from a listen address such as ":3000".
func PortOf(listenAddress string) (int, error) {
	_, raw, err := net.SplitHostPort(listenAddress)
	if err != nil {
		return 0, fmt.Errorf("invalid listen address %q: %w", listenAddress, err)
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port in listen address %q", listenAddress)
	}
	return port, nil
}
