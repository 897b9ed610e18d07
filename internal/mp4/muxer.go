package mp4

import (
	"fmt"
	"io"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/google/renameio/v2"
)

// mp4Timescale is the movie and video track timescale. Packet PTS
// arrives as time.Duration and is converted to this clock the same way
// internal/hls converts to the MPEG 90kHz clock.
const mp4Timescale = 90000

type sampleMeta struct {
	offset   int64
	size     uint32
	ptsTicks int64
	keyframe bool
}

// progressiveMuxer streams one video track's access units straight to
// a temp file and appends the moov at the end once every sample's size
// and offset is known. mediacommon supplies the codec parameter
// structs this package reuses (h264.SPS for width/height) but no
// progressive box assembler, so ftyp/moov/mdat are built by hand here;
// writing moov last (a "trailing moov" file) means a segment never
// buffers more than one sample in memory and a crash mid-segment
// leaves a recognizably incomplete file, matching the recovery walk's
// expectation of parsing a trailing moov atom.
type progressiveMuxer struct {
	pending       *renameio.PendingFile
	mdatHeaderPos int64
	pos           int64

	samples []sampleMeta
	sps     []byte
	pps     []byte
	width   int
	height  int
}

// openProgressiveMuxer creates the pending temp file for finalPath and
// writes the ftyp box plus a placeholder mdat header.
func openProgressiveMuxer(finalPath string) (*progressiveMuxer, error) {
	pending, err := renameio.NewPendingFile(finalPath)
	if err != nil {
		return nil, fmt.Errorf("mp4: create pending file: %w", err)
	}

	m := &progressiveMuxer{pending: pending}

	ftyp := box("ftyp", concat(
		[]byte("isom"), u32(0x200),
		[]byte("isom"), []byte("iso2"), []byte("avc1"), []byte("mp41"),
	))
	if err := m.write(ftyp); err != nil {
		pending.Cleanup()
		return nil, err
	}

	m.mdatHeaderPos = m.pos
	if err := m.write(make([]byte, 8)); err != nil {
		pending.Cleanup()
		return nil, err
	}

	return m, nil
}

func (m *progressiveMuxer) write(p []byte) error {
	n, err := m.pending.Write(p)
	m.pos += int64(n)
	if err != nil {
		return fmt.Errorf("mp4: write: %w", err)
	}
	return nil
}

// AddSample appends one access unit. data is the same AVC
// length-prefixed NAL layout internal/ingest/rtsp produces and
// internal/hls re-muxes, which is also exactly how avc1 samples are
// stored in an mdat, so it is written through unmodified.
func (m *progressiveMuxer) AddSample(ptsTicks int64, data []byte, keyframe bool) error {
	if m.sps == nil || m.pps == nil {
		if sps, pps, ok := extractParameterSets(data); ok {
			m.sps, m.pps = sps, pps
			var spsp h264.SPS
			if err := spsp.Unmarshal(sps); err == nil {
				m.width, m.height = spsp.Width(), spsp.Height()
			}
		}
	}

	offset := m.pos
	if err := m.write(data); err != nil {
		return err
	}
	m.samples = append(m.samples, sampleMeta{offset: offset, size: uint32(len(data)), ptsTicks: ptsTicks, keyframe: keyframe})
	return nil
}

func (m *progressiveMuxer) empty() bool {
	return len(m.samples) == 0
}

func (m *progressiveMuxer) path() string {
	return m.pending.Name()
}

// Abort discards the in-progress temp file without publishing it.
func (m *progressiveMuxer) Abort() {
	m.pending.Cleanup()
}

// FinalizeContent patches the mdat box's size and appends moov, leaving
// the temp file fully written but not yet renamed into place. Callers
// insert the RecordingRow between this and Commit, so the index entry
// always exists before the file becomes visible at its final path.
func (m *progressiveMuxer) FinalizeContent() (int64, error) {
	if m.empty() {
		return 0, fmt.Errorf("mp4: no samples written")
	}
	if len(m.sps) == 0 || len(m.pps) == 0 {
		return 0, fmt.Errorf("mp4: no SPS/PPS observed")
	}

	mdatSize := uint32(m.pos - m.mdatHeaderPos)
	if _, err := m.pending.Seek(m.mdatHeaderPos, io.SeekStart); err != nil {
		return 0, fmt.Errorf("mp4: seek to mdat header: %w", err)
	}
	if _, err := m.pending.Write(concat(u32(mdatSize), []byte("mdat"))); err != nil {
		return 0, fmt.Errorf("mp4: patch mdat size: %w", err)
	}
	if _, err := m.pending.Seek(m.pos, io.SeekStart); err != nil {
		return 0, fmt.Errorf("mp4: seek to end: %w", err)
	}

	moov := m.buildMoov()
	if err := m.write(moov); err != nil {
		return 0, err
	}
	return m.pos, nil
}

// Commit atomically renames the finalized temp file into place. Call
// only after FinalizeContent has succeeded.
func (m *progressiveMuxer) Commit() error {
	if err := m.pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("mp4: commit: %w", err)
	}
	return nil
}

func (m *progressiveMuxer) durationTicks() int64 {
	if len(m.samples) == 0 {
		return 0
	}
	return m.samples[len(m.samples)-1].ptsTicks - m.samples[0].ptsTicks
}

func (m *progressiveMuxer) buildMoov() []byte {
	mvhd := fullBox("mvhd", 0, 0, concat(
		u32(0), u32(0),
		u32(mp4Timescale),
		u32(uint32(m.durationTicks())),
		u32(0x00010000), // rate 1.0
		u16(0x0100), u16(0), // volume 1.0, reserved
		u32(0), u32(0), // reserved
		identityMatrix(),
		make([]byte, 24), // pre_defined
		u32(2),           // next_track_ID
	))

	trak := box("trak", concat(m.buildTkhd(), m.buildMdia()))

	return box("moov", concat(mvhd, trak))
}

func (m *progressiveMuxer) buildTkhd() []byte {
	return fullBox("tkhd", 0, 0x7, concat(
		u32(0), u32(0),
		u32(1), // track_ID
		u32(0), // reserved
		u32(uint32(m.durationTicks())),
		u32(0), u32(0), // reserved
		u16(0), u16(0), // layer, alternate_group
		u16(0), u16(0), // volume, reserved
		identityMatrix(),
		fixed16_16(uint16(m.width)),
		fixed16_16(uint16(m.height)),
	))
}

func (m *progressiveMuxer) buildMdia() []byte {
	mdhd := fullBox("mdhd", 0, 0, concat(
		u32(0), u32(0),
		u32(mp4Timescale),
		u32(uint32(m.durationTicks())),
		u16(0x55c4), u16(0), // language "und", pre_defined
	))

	hdlr := fullBox("hdlr", 0, 0, concat(
		u32(0),
		[]byte("vide"),
		u32(0), u32(0), u32(0),
		cstring("VideoHandler"),
	))

	minf := m.buildMinf()

	return box("mdia", concat(mdhd, hdlr, minf))
}

func (m *progressiveMuxer) buildMinf() []byte {
	vmhd := fullBox("vmhd", 0, 1, concat(u16(0), u16(0), u16(0), u16(0)))

	url := fullBox("url ", 0, 1, nil)
	dref := fullBox("dref", 0, 0, concat(u32(1), url))
	dinf := box("dinf", dref)

	stbl := m.buildStbl()

	return box("minf", concat(vmhd, dinf, stbl))
}

func (m *progressiveMuxer) buildStbl() []byte {
	stsd := m.buildStsd()
	stts := m.buildStts()
	stss := m.buildStss()
	stsc := fullBox("stsc", 0, 0, concat(u32(1), u32(1), u32(1), u32(1)))
	stsz := m.buildStsz()
	stco := m.buildStco()

	return box("stbl", concat(stsd, stts, stss, stsc, stsz, stco))
}

func (m *progressiveMuxer) buildStsd() []byte {
	avcC := box("avcC", concat(
		[]byte{1},        // configurationVersion
		[]byte{m.sps[1]}, // AVCProfileIndication
		[]byte{m.sps[2]}, // profile_compatibility
		[]byte{m.sps[3]}, // AVCLevelIndication
		[]byte{0xff},     // reserved(6) + lengthSizeMinusOne=3
		[]byte{0xe1},     // reserved(3) + numOfSPS=1
		u16(uint16(len(m.sps))), m.sps,
		[]byte{1}, // numOfPPS
		u16(uint16(len(m.pps))), m.pps,
	))

	avc1 := concat(
		make([]byte, 6), u16(1), // reserved, data_reference_index
		u16(0), u16(0), // pre_defined, reserved
		make([]byte, 12), // pre_defined[3]
		u16(uint16(m.width)), u16(uint16(m.height)),
		u32(0x00480000), u32(0x00480000), // h/v resolution 72dpi
		u32(0),           // reserved
		u16(1),           // frame_count
		make([]byte, 32), // compressorname
		u16(0x0018),      // depth
		u16(0xffff),      // pre_defined
		avcC,
	)

	return fullBox("stsd", 0, 0, concat(u32(1), box("avc1", avc1)))
}

func (m *progressiveMuxer) buildStts() []byte {
	var entries []byte
	var n uint32
	i := 0
	for i < len(m.samples) {
		delta := m.sampleDelta(i)
		count := uint32(1)
		for i+int(count) < len(m.samples) && m.sampleDelta(i+int(count)) == delta {
			count++
		}
		entries = append(entries, concat(u32(count), u32(uint32(delta)))...)
		n++
		i += int(count)
	}
	return fullBox("stts", 0, 0, concat(u32(n), entries))
}

func (m *progressiveMuxer) sampleDelta(i int) int64 {
	if i+1 >= len(m.samples) {
		if i == 0 {
			return mp4Timescale / 30
		}
		return m.samples[i].ptsTicks - m.samples[i-1].ptsTicks
	}
	return m.samples[i+1].ptsTicks - m.samples[i].ptsTicks
}

func (m *progressiveMuxer) buildStss() []byte {
	var entries []byte
	var n uint32
	for i, s := range m.samples {
		if s.keyframe {
			entries = append(entries, u32(uint32(i+1))...)
			n++
		}
	}
	if n == 0 {
		return nil
	}
	return fullBox("stss", 0, 0, concat(u32(n), entries))
}

func (m *progressiveMuxer) buildStsz() []byte {
	var entries []byte
	for _, s := range m.samples {
		entries = append(entries, u32(s.size)...)
	}
	return fullBox("stsz", 0, 0, concat(u32(0), u32(uint32(len(m.samples))), entries))
}

func (m *progressiveMuxer) buildStco() []byte {
	var entries []byte
	for _, s := range m.samples {
		entries = append(entries, u32(uint32(s.offset))...)
	}
	return fullBox("stco", 0, 0, concat(u32(uint32(len(m.samples))), entries))
}

func identityMatrix() []byte {
	return concat(
		u32(0x00010000), u32(0), u32(0),
		u32(0), u32(0x00010000), u32(0),
		u32(0), u32(0), u32(0x40000000),
	)
}

// extractParameterSets scans AVC length-prefixed NAL units for the
// first SPS (type 7) and PPS (type 8), the same layout
// internal/ingest/rtsp.H264Depacketizer caches before emitting a
// keyframe.
func extractParameterSets(data []byte) (sps, pps []byte, ok bool) {
	offset := 0
	for offset+4 <= len(data) {
		n := int(data[offset])<<24 | int(data[offset+1])<<16 | int(data[offset+2])<<8 | int(data[offset+3])
		offset += 4
		if n <= 0 || offset+n > len(data) {
			break
		}
		nalType := data[offset] & 0x1f
		switch nalType {
		case 7:
			sps = append([]byte(nil), data[offset:offset+n]...)
		case 8:
			pps = append([]byte(nil), data[offset:offset+n]...)
		}
		offset += n
	}
	return sps, pps, len(sps) > 0 && len(pps) > 0
}

// splitAVCUnits splits an AVC length-prefixed access unit into its
// individual NAL units, used to hand a keyframe's raw units to a
// ThumbnailGenerator.
func splitAVCUnits(data []byte) [][]byte {
	var nalus [][]byte
	offset := 0
	for offset+4 <= len(data) {
		n := int(data[offset])<<24 | int(data[offset+1])<<16 | int(data[offset+2])<<8 | int(data[offset+3])
		offset += 4
		if n <= 0 || offset+n > len(data) {
			break
		}
		nalus = append(nalus, data[offset:offset+n])
		offset += n
	}
	return nalus
}
