package tlssweep

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// DefaultPort is used when an endpoint has no port.
const DefaultPort = 443

// Endpoint is one host:port to check.
type Endpoint struct {
	// Raw is the endpoint exactly as supplied; it is the report key.
	Raw  string
	Host string
	Port int
}

// Addr returns the dialable "host:port" form.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// ParseEndpoint splits "host", "host:port" or "[v6]:port". A missing or
// unparsable port becomes DefaultPort.
func ParseEndpoint(raw string) Endpoint {
	ep := Endpoint{Raw: raw, Host: raw, Port: DefaultPort}
	host, port, err := net.SplitHostPort(raw)
	if err != nil {
		ep.Host = strings.Trim(raw, "[]")
		return ep
	}
	ep.Host = host
	if p, err := strconv.Atoi(port); err == nil && p > 0 && p < 65536 {
		ep.Port = p
	}
	return ep
}

// LoadEndpoints reads endpoints from path (one per line, blank lines and
// "#" comments ignored) followed by extra, dropping duplicates while
// keeping first-seen order. An empty path reads no file.
func LoadEndpoints(path string, extra []string) ([]Endpoint, error) {
	var raw []string
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open endpoints file: %w", err)
		}
		defer f.Close()

		sc := bufio.NewScanner(f)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			raw = append(raw, line)
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read endpoints file: %w", err)
		}
	}
	for _, e := range extra {
		if e = strings.TrimSpace(e); e != "" {
			raw = append(raw, e)
		}
	}

	seen := make(map[string]bool, len(raw))
	out := make([]Endpoint, 0, len(raw))
	for _, r := range raw {
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, ParseEndpoint(r))
	}
	return out, nil
}
