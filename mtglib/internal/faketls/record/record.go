// Package record implements the outer TLS 1.3 record framing FakeTLS rides
// on top of (§4.2): a 5-byte header (type, legacy version, 2-byte length)
// followed by payload, chunked into records of at most TLSMaxWriteRecordSize
// bytes on write.
package record

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// Record content types we care about. Anything else is a protocol
// violation and the caller must close the connection.
const (
	TypeChangeCipherSpec byte = 0x14
	TypeHandshake        byte = 0x16
	TypeApplicationData  byte = 0x17
)

// TLSMaxRecordSize is the largest payload size this package will ever
// accept on Read (RFC 8446 caps TLSPlaintext at 2^14, we give encrypted
// records from real stacks some headroom above that).
const TLSMaxRecordSize = 16384 + 2048

// Version12 is the legacy version field TLS 1.3 records still carry
// (0x0303), for both ClientHello and every record that follows it.
const Version12 uint16 = 0x0303

// TLSMaxWriteRecordSize is the maximum payload size of one outgoing record.
// Matches Chrome's record size so a passive observer sees indistinguishable
// framing.
const TLSMaxWriteRecordSize = 16384 + 24

const headerSize = 5

var pool = sync.Pool{
	New: func() interface{} {
		return &Record{Payload: &bytes.Buffer{}}
	},
}

// AcquireRecord takes a Record from the pool, ready for a fresh Read.
func AcquireRecord() *Record {
	rec := pool.Get().(*Record) //nolint: forcetypeassert

	rec.Payload.Reset()
	rec.Type = 0
	rec.Version = 0

	return rec
}

// ReleaseRecord returns a Record to the pool.
func ReleaseRecord(rec *Record) {
	pool.Put(rec)
}

// Record is one TLS record: a content type, the (ignored) legacy version,
// and a payload.
type Record struct {
	Type    byte
	Version uint16
	Payload *bytes.Buffer
}

// Reset clears rec so it can be reused for another Read, without returning
// it to the pool (used by callers that loop over a single Record acquired
// once, e.g. a reader draining several records in a row).
func (rec *Record) Reset() {
	rec.Type = 0
	rec.Version = 0
	rec.Payload.Reset()
}

// Read parses exactly one record from r into rec. ChangeCipherSpec records
// are parsed and discarded by the caller (Valid payload, empty interest);
// anything other than ApplicationData/ChangeCipherSpec is a protocol
// violation.
func (rec *Record) Read(r io.Reader) error {
	var header [headerSize]byte

	if _, err := io.ReadFull(r, header[:]); err != nil {
		return fmt.Errorf("cannot read record header: %w", err)
	}

	rec.Type = header[0]
	rec.Version = binary.BigEndian.Uint16(header[1:3])

	switch rec.Type {
	case TypeApplicationData, TypeChangeCipherSpec:
	default:
		return fmt.Errorf("unexpected record type 0x%02x", rec.Type)
	}

	length := binary.BigEndian.Uint16(header[3:5])

	if _, err := io.CopyN(rec.Payload, r, int64(length)); err != nil {
		return fmt.Errorf("cannot read record payload: %w", err)
	}

	return nil
}

// Dump writes payload as one or more ApplicationData records, each at most
// TLSMaxWriteRecordSize bytes, to w.
func Dump(w io.Writer, payload []byte) error {
	for len(payload) > 0 {
		chunk := payload
		if len(chunk) > TLSMaxWriteRecordSize {
			chunk = chunk[:TLSMaxWriteRecordSize]
		}

		payload = payload[len(chunk):]

		var header [headerSize]byte
		header[0] = TypeApplicationData
		binary.BigEndian.PutUint16(header[1:3], Version12)
		binary.BigEndian.PutUint16(header[3:5], uint16(len(chunk)))

		if _, err := w.Write(header[:]); err != nil {
			return fmt.Errorf("cannot write record header: %w", err)
		}

		if _, err := w.Write(chunk); err != nil {
			return fmt.Errorf("cannot write record payload: %w", err)
		}
	}

	return nil
}

// Dump writes rec as a single record (used for the ServerHello/CCS/welcome
// application-data record, which the handshake engine always emits whole).
func (rec *Record) Dump(w io.Writer) error {
	return Dump(w, rec.Payload.Bytes())
}
