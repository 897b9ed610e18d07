// Package onvif implements the WS-Discovery probe ONVIF cameras answer
// on their local network segment: a UDP multicast "who's out there"
// broadcast, collecting whatever ProbeMatch replies come back within a
// timeout. It never talks to a camera's actual ONVIF device/media
// service — only discovery, matching spec.md's onvif_discover(network?)
// API collaborator entry.
package onvif

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/ipv4"
)

const (
	multicastAddr = "239.255.255.250:3702"
	probeBufSize  = 8192
)

// Device is one camera that answered a WS-Discovery probe.
type Device struct {
	// XAddrs are the candidate service URLs the device advertised —
	// typically one or more http(s) endpoints for its ONVIF device
	// service.
	XAddrs []string
	// Scopes are the device's advertised ONVIF scopes (name, hardware,
	// location and similar), used only for display.
	Scopes []string
}

// Discover joins the WS-Discovery multicast group on every non-loopback
// multicast-capable interface, sends one probe to the group from a
// single socket (once, not once per interface), and collects ProbeMatch
// responses until timeout elapses or ctx is cancelled, whichever comes
// first. network, if non-empty, restricts the group joins to interfaces
// whose address falls inside that CIDR (useful on a host with several
// NICs); an empty network joins on every eligible interface, mirroring the teacher's
// SSDP announcer's all-interfaces join loop adapted from announcing to
// probing.
func Discover(ctx context.Context, network string, timeout time.Duration, logger *slog.Logger) ([]Device, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var filter *net.IPNet
	if network != "" {
		_, cidr, err := net.ParseCIDR(network)
		if err != nil {
			return nil, fmt.Errorf("onvif: invalid network %q: %w", network, err)
		}
		filter = cidr
	}

	groupAddr, err := net.ResolveUDPAddr("udp4", multicastAddr)
	if err != nil {
		return nil, fmt.Errorf("onvif: resolving multicast address: %w", err)
	}

	lc := &net.ListenConfig{}
	packetConn, err := lc.ListenPacket(ctx, "udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("onvif: opening probe socket: %w", err)
	}
	defer packetConn.Close()

	udpConn, ok := packetConn.(*net.UDPConn)
	if !ok {
		return nil, fmt.Errorf("onvif: probe socket is not a UDP connection")
	}

	p := ipv4.NewPacketConn(udpConn)
	if err := p.SetMulticastTTL(4); err != nil {
		logger.Warn("onvif: failed to set multicast ttl", slog.Any("error", err))
	}

	joined := joinEligibleInterfaces(p, filter, logger)
	if joined == 0 {
		logger.Warn("onvif: no eligible multicast interface found, probe sent unicast-style only")
	}

	messageID := uuid.New().String()
	probe := buildProbeMessage(messageID)
	if _, err := udpConn.WriteToUDP(probe, groupAddr); err != nil {
		return nil, fmt.Errorf("onvif: sending probe: %w", err)
	}

	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = udpConn.SetReadDeadline(deadline)

	devices := make(map[string]Device)
	buf := make([]byte, probeBufSize)
	for {
		if ctx.Err() != nil {
			break
		}
		n, _, err := udpConn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				break
			}
			logger.Debug("onvif: probe read error", slog.Any("error", err))
			break
		}

		dev, err := parseProbeMatch(buf[:n])
		if err != nil {
			logger.Debug("onvif: discarding unparseable probe response", slog.Any("error", err))
			continue
		}
		key := strings.Join(dev.XAddrs, ",")
		if key == "" {
			continue
		}
		devices[key] = dev
	}

	out := make([]Device, 0, len(devices))
	for _, d := range devices {
		out = append(out, d)
	}
	return out, nil
}

// joinEligibleInterfaces joins the multicast group on every up,
// non-loopback, multicast-capable interface matching filter (nil
// filter matches every interface), returning how many it joined.
// Grounded on the teacher's StartSSDPAnnouncer join loop, adapted from
// "announce on every interface" to "probe from every interface".
func joinEligibleInterfaces(p *ipv4.PacketConn, filter *net.IPNet, logger *slog.Logger) int {
	ifaces, err := net.Interfaces()
	if err != nil {
		logger.Warn("onvif: listing network interfaces failed", slog.Any("error", err))
		return 0
	}

	groupIP := net.IPv4(239, 255, 255, 250)
	joined := 0
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if filter != nil && !interfaceMatches(iface, filter) {
			continue
		}

		if err := p.JoinGroup(&iface, &net.UDPAddr{IP: groupIP}); err != nil {
			logger.Debug("onvif: failed to join multicast group",
				slog.String("interface", iface.Name), slog.Any("error", err))
			continue
		}
		joined++
	}
	return joined
}

func interfaceMatches(iface net.Interface, filter *net.IPNet) bool {
	addrs, err := iface.Addrs()
	if err != nil {
		return false
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if filter.Contains(ipNet.IP) {
			return true
		}
	}
	return false
}

// buildProbeMessage renders the minimal WS-Discovery Probe envelope
// ONVIF devices answer: a NetworkVideoTransmitter type probe with no
// scope restriction, so every camera on the segment replies regardless
// of its configured scopes.
func buildProbeMessage(messageID string) []byte {
	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<e:Envelope xmlns:e="http://www.w3.org/2003/05/soap-envelope" `)
	b.WriteString(`xmlns:w="http://schemas.xmlsoap.org/ws/2004/08/addressing" `)
	b.WriteString(`xmlns:d="http://schemas.xmlsoap.org/ws/2005/04/discovery" `)
	b.WriteString(`xmlns:dn="http://www.onvif.org/ver10/network/wsdl">`)
	b.WriteString(`<e:Header>`)
	b.WriteString(`<w:MessageID>uuid:` + messageID + `</w:MessageID>`)
	b.WriteString(`<w:To e:mustUnderstand="true">urn:schemas-xmlsoap-org:ws:2005:04:discovery</w:To>`)
	b.WriteString(`<w:Action e:mustUnderstand="true">http://schemas.xmlsoap.org/ws/2005/04/discovery/Probe</w:Action>`)
	b.WriteString(`</e:Header>`)
	b.WriteString(`<e:Body>`)
	b.WriteString(`<d:Probe><d:Types>dn:NetworkVideoTransmitter</d:Types></d:Probe>`)
	b.WriteString(`</e:Body>`)
	b.WriteString(`</e:Envelope>`)
	return b.Bytes()
}

// probeMatchEnvelope is the narrow subset of a WS-Discovery ProbeMatch
// response this package cares about: the XAddrs and Scopes fields,
// ignoring addressing headers and match UUIDs entirely.
type probeMatchEnvelope struct {
	Body struct {
		ProbeMatches struct {
			ProbeMatch []struct {
				Scopes string `xml:"Scopes"`
				XAddrs string `xml:"XAddrs"`
			} `xml:"ProbeMatch"`
		} `xml:"ProbeMatches"`
	} `xml:"Body"`
}

func parseProbeMatch(data []byte) (Device, error) {
	var env probeMatchEnvelope
	if err := xml.Unmarshal(data, &env); err != nil {
		return Device{}, fmt.Errorf("onvif: decoding probe match: %w", err)
	}
	if len(env.Body.ProbeMatches.ProbeMatch) == 0 {
		return Device{}, fmt.Errorf("onvif: response has no ProbeMatch")
	}

	match := env.Body.ProbeMatches.ProbeMatch[0]
	return Device{
		XAddrs: strings.Fields(match.XAddrs),
		Scopes: strings.Fields(match.Scopes),
	}, nil
}
