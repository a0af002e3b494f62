/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package sipua

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// target is the signaling server a line registers with. Every request of
// the line and its calls is sent there.
type target struct {
	Transport string // UDP, TCP, TLS, WS or WSS
	Host      string
	Port      int
}

func (t target) hostPort() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

func (t target) String() string {
	return strings.ToLower(t.Transport) + "://" + t.hostPort()
}

func defaultPort(transport string) int {
	switch transport {
	case "TLS":
		return 5061
	case "WS":
		return 80
	case "WSS":
		return 443
	default:
		return 5060
	}
}

func normalizeTransport(t string) (string, error) {
	switch up := strings.ToUpper(strings.TrimSpace(t)); up {
	case "", "UDP":
		return "UDP", nil
	case "TCP", "TLS", "WS", "WSS":
		return up, nil
	default:
		return "", fmt.Errorf("unsupported sip transport %q", t)
	}
}

// parseTarget derives the transport from the server address:
// wss:// and ws:// URLs, sips: and sip: URIs (honouring ;transport=) and
// bare host[:port] which uses fallback.
func parseTarget(server, fallback string) (target, error) {
	server = strings.TrimSpace(server)
	if server == "" {
		return target{}, fmt.Errorf("sip server is empty")
	}
	lower := strings.ToLower(server)

	switch {
	case strings.HasPrefix(lower, "wss://"), strings.HasPrefix(lower, "ws://"):
		u, err := url.Parse(server)
		if err != nil {
			return target{}, fmt.Errorf("parsing sip server %q: %w", server, err)
		}
		t := target{Transport: strings.ToUpper(u.Scheme), Host: u.Hostname()}
		return withPort(t, u.Port(), server)

	case strings.HasPrefix(lower, "sips:"), strings.HasPrefix(lower, "sip:"):
		secure := strings.HasPrefix(lower, "sips:")
		rest := server[strings.IndexByte(server, ':')+1:]
		transport := fallback
		if secure {
			transport = "tls"
		}
		if idx := strings.IndexByte(rest, ';'); idx >= 0 {
			for _, p := range strings.Split(rest[idx+1:], ";") {
				k, v, _ := strings.Cut(p, "=")
				if strings.EqualFold(k, "transport") {
					transport = v
				}
			}
			rest = rest[:idx]
		}
		if at := strings.LastIndexByte(rest, '@'); at >= 0 {
			rest = rest[at+1:]
		}
		tr, err := normalizeTransport(transport)
		if err != nil {
			return target{}, err
		}
		return splitHostPort(tr, rest, server)

	case strings.Contains(lower, "://"):
		return target{}, fmt.Errorf("unsupported sip server scheme in %q", server)

	default:
		tr, err := normalizeTransport(fallback)
		if err != nil {
			return target{}, err
		}
		return splitHostPort(tr, strings.TrimSuffix(server, "/"), server)
	}
}

func splitHostPort(transport, hostport, raw string) (target, error) {
	host, port := hostport, ""
	if h, p, err := net.SplitHostPort(hostport); err == nil {
		host, port = h, p
	}
	return withPort(target{Transport: transport, Host: host}, port, raw)
}

func withPort(t target, port, raw string) (target, error) {
	if t.Host == "" {
		return target{}, fmt.Errorf("sip server %q has no host", raw)
	}
	if port == "" {
		t.Port = defaultPort(t.Transport)
		return t, nil
	}
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		return target{}, fmt.Errorf("sip server %q has an invalid port", raw)
	}
	t.Port = p
	return t, nil
}
