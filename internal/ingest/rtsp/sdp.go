package rtsp

import (
	"strconv"
	"strings"
)

// parseSDP extracts one Track per "m=" media line from an SDP body,
// assigning RTP channels 0, 2, 4... in line order (RTCP always follows
// at channel+1), and associates the following "a=control:"/"a=rtpmap:"
// attributes with the most recently added track.
func parseSDP(sdp string, tracks map[byte]*Track) error {
	lines := strings.Split(sdp, "\n")

	var channel byte
	var last *Track

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "m="):
			fields := strings.Fields(line)
			if len(fields) < 4 {
				continue
			}
			mediaType := strings.TrimPrefix(fields[0], "m=")
			payloadType, _ := strconv.Atoi(fields[3])

			track := &Track{
				Channel:     channel,
				MediaType:   mediaType,
				PayloadType: uint8(payloadType),
			}
			tracks[channel] = track
			last = track
			channel += 2

		case strings.HasPrefix(line, "a=control:"):
			if last != nil {
				last.Control = strings.TrimPrefix(line, "a=control:")
			}

		case strings.HasPrefix(line, "a=rtpmap:"):
			if last != nil {
				value := strings.TrimPrefix(line, "a=rtpmap:")
				last.EncodingName = parseRtpmapEncoding(value)
				last.ClockRate = parseRtpmapClockRate(value)
			}
		}
	}

	return nil
}

// parseRtpmapEncoding extracts the encoding name out of an "a=rtpmap"
// attribute value, which has the form "<payload type> <encoding name>/
// <clock rate>[/<channels>]" (e.g. "96 H264/90000").
func parseRtpmapEncoding(value string) string {
	fields := strings.Fields(value)
	if len(fields) < 2 {
		return ""
	}
	name, _, _ := strings.Cut(fields[1], "/")
	return name
}

// defaultClockRate is the fixed RTP timestamp clock rate for H.264 per
// RFC 6184, used whenever an "a=rtpmap" attribute is missing or its
// clock rate field fails to parse.
const defaultClockRate = 90000

// parseRtpmapClockRate extracts the clock rate out of an "a=rtpmap"
// attribute value (see parseRtpmapEncoding for the format), falling
// back to defaultClockRate when absent or malformed.
func parseRtpmapClockRate(value string) uint32 {
	fields := strings.Fields(value)
	if len(fields) < 2 {
		return defaultClockRate
	}
	_, rateField, ok := strings.Cut(fields[1], "/")
	if !ok {
		return defaultClockRate
	}
	rateField, _, _ = strings.Cut(rateField, "/")
	rate, err := strconv.ParseUint(rateField, 10, 32)
	if err != nil || rate == 0 {
		return defaultClockRate
	}
	return uint32(rate)
}
