package index

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/kailas-cloud/kpdex/internal/domain"
	"github.com/kailas-cloud/kpdex/internal/domain/vector"
)

// Snapshot layout, little-endian:
//
//	magic "KPDX" | version u16 | metric u8 | mode u8 | dim u32
//	seq u64 | generation uuid [16] | created unix nanos i64
//	lists u32 | lists x dim f32 centroids
//	count u32 | count x (idLen u16 | id | dim f32)
//	crc32(IEEE) of everything above
var snapshotMagic = [4]byte{'K', 'P', 'D', 'X'}

const snapshotVersion uint16 = 1

var metricCodes = map[vector.Metric]uint8{vector.Cosine: 0, vector.L2: 1}

// Header describes a decoded snapshot.
type Header struct {
	Version    uint16
	Metric     vector.Metric
	Mode       Mode
	Dimensions int
	Seq        uint64
	Generation string
	CreatedAt  time.Time
	Lists      int
	Count      int
}

func encodeSnapshot(g *generation, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	w := &errWriter{w: &buf}

	w.write(snapshotMagic)
	w.write(snapshotVersion)
	w.write(metricCodes[opts.Metric])
	var mode uint8
	if opts.Mode == ModeIVF {
		mode = 1
	}
	w.write(mode)
	w.write(uint32(opts.Dimensions))
	w.write(g.seq)
	w.write([16]byte(g.id))
	w.write(g.createdAt.UnixNano())

	var centroids [][]float32
	if g.ivf != nil {
		centroids = g.ivf.centroids()
	}
	w.write(uint32(len(centroids)))
	for _, c := range centroids {
		w.write(c)
	}

	w.write(uint32(len(g.ids)))
	for _, id := range g.ids {
		if len(id) > math.MaxUint16 {
			return nil, fmt.Errorf("identifier %q too long to encode", id)
		}
		w.write(uint16(len(id)))
		w.write([]byte(id))
		w.write(g.vectors[id])
	}
	if w.err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", w.err)
	}
	sum := crc32.ChecksumIEEE(buf.Bytes())
	if err := binary.Write(&buf, binary.LittleEndian, sum); err != nil {
		return nil, fmt.Errorf("encode checksum: %w", err)
	}
	return buf.Bytes(), nil
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) write(v any) {
	if e.err != nil {
		return
	}
	e.err = binary.Write(e.w, binary.LittleEndian, v)
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: snapshot: %s", domain.ErrIndexCorruption, fmt.Sprintf(format, args...))
}

// decodeSnapshot verifies the checksum and every structural invariant before
// returning a generation. Any failure is ErrIndexCorruption.
func decodeSnapshot(data []byte) (*generation, Header, error) {
	var h Header
	if len(data) < len(snapshotMagic)+4 {
		return nil, h, corrupt("truncated (%d bytes)", len(data))
	}
	body, trailer := data[:len(data)-4], data[len(data)-4:]
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(trailer) {
		return nil, h, corrupt("checksum mismatch")
	}
	r := bytes.NewReader(body)
	read := func(v any) error { return binary.Read(r, binary.LittleEndian, v) }

	var magic [4]byte
	if err := read(&magic); err != nil || magic != snapshotMagic {
		return nil, h, corrupt("bad magic")
	}
	var (
		metricCode, modeCode uint8
		dim                  uint32
		genID                [16]byte
		created              int64
		nlists, count        uint32
	)
	for _, v := range []any{&h.Version, &metricCode, &modeCode, &dim, &h.Seq, &genID, &created} {
		if err := read(v); err != nil {
			return nil, h, corrupt("header: %v", err)
		}
	}
	if h.Version != snapshotVersion {
		return nil, h, corrupt("unsupported version %d", h.Version)
	}
	switch metricCode {
	case 0:
		h.Metric = vector.Cosine
	case 1:
		h.Metric = vector.L2
	default:
		return nil, h, corrupt("unknown metric code %d", metricCode)
	}
	h.Mode = ModeExact
	if modeCode == 1 {
		h.Mode = ModeIVF
	}
	if dim == 0 {
		return nil, h, corrupt("zero dimensions")
	}
	h.Dimensions = int(dim)
	h.Generation = uuid.UUID(genID).String()
	h.CreatedAt = time.Unix(0, created).UTC()

	if err := read(&nlists); err != nil {
		return nil, h, corrupt("lists: %v", err)
	}
	if uint64(nlists)*uint64(dim)*4 > uint64(r.Len()) {
		return nil, h, corrupt("list count %d exceeds payload", nlists)
	}
	centroids := make([][]float32, nlists)
	for n := range centroids {
		c := make([]float32, dim)
		if err := read(c); err != nil {
			return nil, h, corrupt("centroid %d: %v", n, err)
		}
		centroids[n] = c
	}
	h.Lists = int(nlists)

	if err := read(&count); err != nil {
		return nil, h, corrupt("count: %v", err)
	}
	if uint64(count)*(2+uint64(dim)*4) > uint64(r.Len()) {
		return nil, h, corrupt("entry count %d exceeds payload", count)
	}
	vecs := make(map[string][]float32, count)
	ids := make([]string, 0, count)
	for n := uint32(0); n < count; n++ {
		var l uint16
		if err := read(&l); err != nil {
			return nil, h, corrupt("entry %d: %v", n, err)
		}
		idb := make([]byte, l)
		if _, err := io.ReadFull(r, idb); err != nil {
			return nil, h, corrupt("entry %d id: %v", n, err)
		}
		v := make([]float32, dim)
		if err := read(v); err != nil {
			return nil, h, corrupt("entry %d vector: %v", n, err)
		}
		id := string(idb)
		if err := validateID(id); err != nil {
			return nil, h, corrupt("entry %d: %v", n, err)
		}
		if err := vector.Validate(v, int(dim)); err != nil {
			return nil, h, corrupt("entry %q: %v", id, err)
		}
		if _, dup := vecs[id]; dup {
			return nil, h, corrupt("duplicate identifier %q", id)
		}
		vecs[id] = v
		ids = append(ids, id)
	}
	if r.Len() != 0 {
		return nil, h, corrupt("%d trailing bytes", r.Len())
	}
	h.Count = int(count)
	slices.Sort(ids)

	g := &generation{
		id:        uuid.UUID(genID),
		seq:       h.Seq,
		createdAt: h.CreatedAt,
		vectors:   vecs,
		ids:       ids,
	}
	if nlists > 0 && len(ids) > 0 {
		g.ivf = &ivfState{lists: assign(centroids, ids, vecs), trainedSize: len(ids)}
	}
	return g, h, nil
}

// DecodeHeader fully verifies a snapshot and returns its header.
func DecodeHeader(data []byte) (Header, error) {
	_, h, err := decodeSnapshot(data)
	if err != nil {
		return Header{}, err
	}
	return h, nil
}

var errSuperseded = errors.New("generation already replaced")
