package pipeline

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// ErrCacheMismatch marks pipeline cache data written by a different driver or
// device. Such data is dropped rather than passed to the driver.
var ErrCacheMismatch = errors.New("pipeline cache mismatch")

const cacheHeaderVersionOne = 1

// CacheHeader is the fixed prefix of pipeline cache data. Every field is
// stored least significant byte first.
type CacheHeader struct {
	Length   uint32
	Version  uint32
	VendorID uint32
	DeviceID uint32
	UUID     uuid.UUID
}

// cacheHeaderSize is the smallest valid Length.
const cacheHeaderSize = 16 + len(uuid.UUID{})

func ReadCacheHeader(data []byte) (CacheHeader, error) {
	var h CacheHeader
	if len(data) < cacheHeaderSize {
		return h, errors.Mark(errors.Newf("pipeline cache: %d bytes is shorter than the header", len(data)), ErrCacheMismatch)
	}

	err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &h)
	if err != nil {
		return h, errors.Mark(errors.Wrap(err, "pipeline cache header"), ErrCacheMismatch)
	}
	return h, nil
}

// ValidateCacheHeader checks that data was produced by the device identified
// by vendorID, deviceID and cacheUUID. All mismatches are reported together.
func ValidateCacheHeader(data []byte, vendorID, deviceID uint32, cacheUUID uuid.UUID) error {
	h, err := ReadCacheHeader(data)
	if err != nil {
		return err
	}

	var problems []string
	if h.Length < uint32(cacheHeaderSize) || int(h.Length) > len(data) {
		problems = append(problems, fmt.Sprintf("bad header length %d", h.Length))
	}
	if h.Version != cacheHeaderVersionOne {
		problems = append(problems, fmt.Sprintf("unsupported header version %d", h.Version))
	}
	if h.VendorID != vendorID {
		problems = append(problems, fmt.Sprintf("vendor 0x%x, driver expects 0x%x", h.VendorID, vendorID))
	}
	if h.DeviceID != deviceID {
		problems = append(problems, fmt.Sprintf("device 0x%x, driver expects 0x%x", h.DeviceID, deviceID))
	}
	if h.UUID != cacheUUID {
		problems = append(problems, fmt.Sprintf("uuid %s, driver expects %s", h.UUID, cacheUUID))
	}

	if len(problems) > 0 {
		return errors.Mark(errors.Newf("pipeline cache: %s", strings.Join(problems, "; ")), ErrCacheMismatch)
	}
	return nil
}

// EncodeCacheHeader writes h the way a driver lays it out. Mostly useful for
// tests and tooling that fabricate cache blobs.
func EncodeCacheHeader(h CacheHeader) []byte {
	var buf bytes.Buffer
	// Writing fixed-size fields to a bytes.Buffer cannot fail.
	_ = binary.Write(&buf, binary.LittleEndian, h)
	return buf.Bytes()
}
