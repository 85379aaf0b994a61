package driver

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"qcheck/internal/ir"
	"qcheck/internal/source"
)

// Digest is a SHA-256 cache key.
type Digest [32]byte

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

func (d Digest) IsZero() bool {
	return d == Digest{}
}

// UnitDigest hashes everything a unit's result depends on: its msgpack wire
// encoding, the spans diagnostics will point at, the signature table
// description and whether the event log is kept.
func UnitDigest(u *ir.Unit, signatures string, events bool) (Digest, error) {
	data, err := msgpack.Marshal(ir.UnitToWire(u))
	if err != nil {
		return Digest{}, fmt.Errorf("encode unit %q: %w", u.Name, err)
	}
	h := sha256.New()
	_, _ = h.Write(data)
	writeSpan := func(sp source.Span) {
		var buf [12]byte
		binary.LittleEndian.PutUint32(buf[0:], uint32(sp.File))
		binary.LittleEndian.PutUint32(buf[4:], sp.Start)
		binary.LittleEndian.PutUint32(buf[8:], sp.End)
		_, _ = h.Write(buf[:])
	}
	writeSpan(u.Span)
	for _, p := range u.Params {
		writeSpan(p.Span)
	}
	ir.Walk(u.Body, func(n *ir.Node) bool {
		writeSpan(n.Span)
		return true
	})
	_, _ = h.Write([]byte(signatures))
	if events {
		_, _ = h.Write([]byte{1})
	}
	var out Digest
	copy(out[:], h.Sum(nil))
	return out, nil
}
