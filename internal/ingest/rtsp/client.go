// Package rtsp implements a minimal RTSP/1.0 client: enough of
// OPTIONS/DESCRIBE/SETUP/PLAY/TEARDOWN to pull an H.264 video stream over
// TCP-interleaved RTP, which is all the core needs from a camera.
package rtsp

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pion/rtp"
)

// ErrUnexpectedStatus is returned when a request/response round trip
// completes but the server answered with a non-2xx status.
var ErrUnexpectedStatus = errors.New("rtsp: unexpected response status")

// Track describes one negotiated media channel.
type Track struct {
	Channel     byte // RTP channel; RTCP is Channel+1
	MediaType   string
	Control     string
	PayloadType uint8
	// EncodingName is the RTP payload encoding name from the track's
	// "a=rtpmap" attribute (e.g. "H264", "JPEG"), empty if the SDP body
	// never advertised one for this payload type.
	EncodingName string
	// ClockRate is the RTP timestamp clock rate in Hz from the track's
	// "a=rtpmap" attribute, defaulting to 90000 (the fixed H.264 rate
	// per RFC 6184) when the SDP body never advertised one.
	ClockRate uint32
}

// Client is a TCP-interleaved RTSP/1.0 client for one camera session.
type Client struct {
	rawURL  string
	baseURL string

	conn   net.Conn
	reader *bufio.Reader

	session string
	cseq    int
	writeMu sync.Mutex

	Tracks map[byte]*Track

	// OnRTPPacket is invoked for every RTP packet on an even (video/
	// audio, never RTCP) channel once PLAY has been sent.
	OnRTPPacket func(channel byte, pkt *rtp.Packet)
}

// NewClient creates a Client for rawURL. Call Connect, then SetupTracks
// and Play to start streaming.
func NewClient(rawURL string) *Client {
	return &Client{rawURL: rawURL, Tracks: make(map[byte]*Track)}
}

// Connect dials the server, negotiates transport, and completes
// OPTIONS/DESCRIBE, populating Tracks from the SDP answer.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.rawURL)
	if err != nil {
		return fmt.Errorf("parsing rtsp url: %w", err)
	}

	var username, password string
	if u.User != nil {
		username = u.User.Username()
		password, _ = u.User.Password()
	}

	port := u.Port()
	if port == "" {
		port = "554"
	}
	addr := net.JoinHostPort(u.Hostname(), port)

	dialer := &net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", addr, err)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	c.conn = conn
	c.reader = bufio.NewReaderSize(conn, 64*1024)

	if err := c.options(); err != nil {
		_ = conn.Close()
		return fmt.Errorf("OPTIONS: %w", err)
	}
	if err := c.describe(username, password); err != nil {
		_ = conn.Close()
		return fmt.Errorf("DESCRIBE: %w", err)
	}
	return nil
}

// SetupTracks sends SETUP for every track discovered in DESCRIBE,
// negotiating TCP-interleaved transport.
func (c *Client) SetupTracks() error {
	for channel, track := range c.Tracks {
		if err := c.setupTrack(channel, track); err != nil {
			return fmt.Errorf("setup track %d: %w", channel, err)
		}
	}
	return nil
}

// Play sends PLAY and returns immediately; the response is consumed by
// ReadPackets since the server starts pushing RTP right after.
func (c *Client) Play() error {
	playURL := c.baseURL
	if u, err := url.Parse(playURL); err == nil {
		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		playURL = u.String()
	}

	req := c.newRequest("PLAY", playURL)
	req.Header["Range"] = "npt=0.000-"
	return c.writeRequest(req)
}

// ReadPackets reads the interleaved stream until ctx is cancelled, EOF,
// or an unrecoverable framing error. It demultiplexes '$'-framed RTP/RTCP
// channels from RTSP responses that may interleave with them (keepalive
// replies) and invokes OnRTPPacket for every even (RTP) channel.
func (c *Client) ReadPackets(ctx context.Context) error {
	var playConfirmed bool

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := c.conn.SetReadDeadline(time.Now().Add(10 * time.Second)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}

		head, err := c.reader.Peek(4)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("peek frame header: %w", err)
		}

		if head[0] != '$' {
			if string(head) == "RTSP" {
				if _, err := c.readResponse(); err != nil {
					return fmt.Errorf("read interleaved response: %w", err)
				}
				playConfirmed = true
				continue
			}
			// Resync: discard one byte and keep looking for a frame
			// boundary. A well-behaved server never reaches this path.
			if _, err := c.reader.ReadByte(); err != nil {
				return fmt.Errorf("resync discard: %w", err)
			}
			continue
		}

		channel := head[1]
		size := binary.BigEndian.Uint16(head[2:4])
		if _, err := c.reader.Discard(4); err != nil {
			return fmt.Errorf("discard frame header: %w", err)
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(c.reader, payload); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read frame payload: %w", err)
		}

		if channel%2 != 0 {
			continue // RTCP, not needed for recording
		}
		if !playConfirmed {
			continue // drop RTP that arrives before PLAY's response is seen
		}

		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(payload); err != nil {
			continue
		}
		if c.OnRTPPacket != nil {
			c.OnRTPPacket(channel, pkt)
		}
	}
}

// Close sends TEARDOWN and closes the underlying connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	req := c.newRequest("TEARDOWN", c.rawURL)
	_ = c.writeRequest(req)
	return c.conn.Close()
}

func (c *Client) options() error {
	_, err := c.do(c.newRequest("OPTIONS", c.rawURL))
	return err
}

func (c *Client) describe(username, password string) error {
	req := c.newRequest("DESCRIBE", c.rawURL)
	req.Header["Accept"] = "application/sdp"
	if username != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		req.Header["Authorization"] = "Basic " + creds
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}

	if base := resp.Header["Content-Base"]; base != "" {
		c.baseURL = strings.TrimSpace(base)
	} else {
		c.baseURL = c.rawURL
	}

	return parseSDP(string(resp.Body), c.Tracks)
}

func (c *Client) setupTrack(channel byte, track *Track) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return err
	}
	if strings.HasPrefix(track.Control, "rtsp://") {
		u, err = url.Parse(track.Control)
		if err != nil {
			return err
		}
	} else {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(track.Control, "/")
	}

	req := c.newRequest("SETUP", u.String())
	req.Header["Transport"] = fmt.Sprintf("RTP/AVP/TCP;unicast;interleaved=%d-%d", channel, channel+1)

	resp, err := c.do(req)
	if err != nil {
		return err
	}

	if c.session == "" {
		if session := resp.Header["Session"]; session != "" {
			if idx := strings.IndexByte(session, ';'); idx > 0 {
				c.session = session[:idx]
			} else {
				c.session = session
			}
		}
	}
	return nil
}

func (c *Client) newRequest(method, requestURL string) *Request {
	c.cseq++
	return &Request{Method: method, URL: requestURL, Header: make(map[string]string), CSeq: c.cseq}
}

func (c *Client) do(req *Request) (*Response, error) {
	if err := c.writeRequest(req); err != nil {
		return nil, err
	}
	return c.readResponse()
}

func (c *Client) writeRequest(req *Request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.session != "" {
		req.Header["Session"] = c.session
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s RTSP/1.0\r\n", req.Method, req.URL)
	fmt.Fprintf(&b, "CSeq: %d\r\n", req.CSeq)
	b.WriteString("User-Agent: lightnvr/1.0\r\n")
	for k, v := range req.Header {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	b.WriteString("\r\n")

	if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	_, err := c.conn.Write([]byte(b.String()))
	return err
}

func (c *Client) readResponse() (*Response, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(15 * time.Second)); err != nil {
		return nil, err
	}

	statusLine, err := c.reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(strings.TrimSpace(statusLine), " ", 3)
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid status line %q", statusLine)
	}
	status, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid status code %q", parts[1])
	}

	resp := &Response{StatusCode: status, Header: make(map[string]string)}
	contentLength := 0
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if idx := strings.IndexByte(line, ':'); idx > 0 {
			key := strings.TrimSpace(line[:idx])
			val := strings.TrimSpace(line[idx+1:])
			resp.Header[key] = val
			if key == "Content-Length" {
				contentLength, _ = strconv.Atoi(val)
			}
		}
	}

	if contentLength > 0 {
		body := make([]byte, contentLength)
		if _, err := io.ReadFull(c.reader, body); err != nil {
			return nil, err
		}
		resp.Body = body
	}

	if status < 200 || status >= 300 {
		return resp, fmt.Errorf("%w: %d", ErrUnexpectedStatus, status)
	}
	return resp, nil
}
