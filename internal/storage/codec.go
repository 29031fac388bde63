// Package storage persists trained model sets.
//
// A snapshot is a small binary header followed by a gzip-compressed JSON
// document of ml.Snapshot:
//
//	offset 0   magic "CSNP" (4 bytes)
//	offset 4   format version (uint16, big endian)
//	offset 6   SHA-256 of body (32 bytes)
//	offset 38  body: gzip(JSON)
//
// The JSON document has the keys run_id, trained_at (RFC 3339), config_hash,
// config, user_ids, item_ids, user_factors, item_factors (row-major arrays
// aligned with the id arrays), catalog, vectors (aligned with catalog), users
// and ratings. Any language with gzip, SHA-256 and JSON can read it.
//
// The checksum covers the compressed body so corruption is detected before
// decompression. Version 1 bodies were gob streams and are no longer
// readable; readers accept FormatVersion only.
package storage

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/temcen/cinesense/internal/ml"
)

// FormatVersion is the snapshot layout written by Encode.
const FormatVersion uint16 = 2

var magic = [4]byte{'C', 'S', 'N', 'P'}

const headerSize = len(magic) + 2 + sha256.Size

var (
	// ErrCorruptSnapshot is returned when a snapshot cannot be decoded.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")

	// ErrUnsupportedVersion is returned for snapshots of any other format version.
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")

	// ErrSnapshotNotFound is returned when a store holds no snapshot.
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// Encode writes snap to w and returns the hex checksum of the body.
func Encode(w io.Writer, snap *ml.Snapshot) (string, error) {
	if snap == nil {
		return "", errors.New("nil snapshot")
	}

	var body bytes.Buffer
	gzw := gzip.NewWriter(&body)
	if err := json.NewEncoder(gzw).Encode(snap); err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return "", fmt.Errorf("compress snapshot: %w", err)
	}

	sum := sha256.Sum256(body.Bytes())

	header := make([]byte, 0, headerSize)
	header = append(header, magic[:]...)
	header = binary.BigEndian.AppendUint16(header, FormatVersion)
	header = append(header, sum[:]...)

	if _, err := w.Write(header); err != nil {
		return "", fmt.Errorf("write snapshot header: %w", err)
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return "", fmt.Errorf("write snapshot body: %w", err)
	}
	return hex.EncodeToString(sum[:]), nil
}

// Marshal encodes snap into a byte slice.
func Marshal(snap *ml.Snapshot) ([]byte, string, error) {
	var buf bytes.Buffer
	sum, err := Encode(&buf, snap)
	if err != nil {
		return nil, "", err
	}
	return buf.Bytes(), sum, nil
}

// Decode reads a snapshot written by Encode.
func Decode(r io.Reader) (*ml.Snapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return Unmarshal(data)
}

// Unmarshal decodes a snapshot from data.
func Unmarshal(data []byte) (*ml.Snapshot, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorruptSnapshot, len(data))
	}
	if !bytes.Equal(data[:len(magic)], magic[:]) {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptSnapshot)
	}
	version := binary.BigEndian.Uint16(data[len(magic):])
	if version != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	want := data[len(magic)+2 : headerSize]
	body := data[headerSize:]
	got := sha256.Sum256(body)
	if !bytes.Equal(want, got[:]) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptSnapshot)
	}

	gzr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	defer gzr.Close()

	var snap ml.Snapshot
	if err := json.NewDecoder(gzr).Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	return &snap, nil
}

// Checksum returns the hex body checksum stored in the header of data.
func Checksum(data []byte) (string, error) {
	if len(data) < headerSize || !bytes.Equal(data[:len(magic)], magic[:]) {
		return "", ErrCorruptSnapshot
	}
	return hex.EncodeToString(data[len(magic)+2 : headerSize]), nil
}
