package etw

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"time"
)

const FiletimeEpoch = 116444736000000000

// FromFiletime converts a Windows FILETIME (100-nanosecond intervals since 1601)
// to a time.Time.
func FromFiletime(fileTime int64) time.Time {
	return time.Unix(0, (fileTime-FiletimeEpoch)*100)
}

// FromFiletimeUTC is FromFiletime in UTC.
func FromFiletimeUTC(fileTime int64) time.Time {
	return FromFiletime(fileTime).UTC()
}

// fromSystemTime decodes a 16-byte SYSTEMTIME (wYear, wMonth, wDayOfWeek,
// wDay, wHour, wMinute, wSecond, wMilliseconds) as UTC.
func fromSystemTime(b []byte) time.Time {
	le := binary.LittleEndian
	return time.Date(
		int(le.Uint16(b[0:])),
		time.Month(le.Uint16(b[2:])),
		int(le.Uint16(b[6:])),
		int(le.Uint16(b[8:])),
		int(le.Uint16(b[10:])),
		int(le.Uint16(b[12:])),
		int(le.Uint16(b[14:]))*int(time.Millisecond),
		time.UTC)
}

// SID is a binary security identifier as laid out in event data.
type SID []byte

const (
	sidHeaderSize          = 8
	sidMaxSubAuthorities   = 15
	systemtimeSize         = 16
	ipv6Size               = 16
	sidSubAuthorityCountAt = 1
)

// sidSize returns the encoded size of the SID at the start of b.
func sidSize(b []byte) (int, error) {
	if len(b) < sidHeaderSize {
		return 0, overrun(0, sidHeaderSize, len(b))
	}
	n := sidHeaderSize + 4*int(b[sidSubAuthorityCountAt])
	if n > len(b) {
		return 0, overrun(0, n, len(b))
	}
	return n, nil
}

// AppendText renders the SID as "S-1-5-21-...".
func (sid SID) AppendText(buf []byte) ([]byte, error) {
	if len(sid) == 0 {
		return buf, nil
	}
	n, err := sidSize(sid)
	if err != nil {
		return buf, err
	}
	revision, count := sid[0], sid[1]
	if revision != 1 || count > sidMaxSubAuthorities {
		return buf, fmt.Errorf("the SID is not valid")
	}

	buf = append(buf, 'S', '-')
	buf = strconv.AppendUint(buf, uint64(revision), 10)

	// IdentifierAuthority is a 6-byte big-endian value.
	var authority uint64
	for _, v := range sid[2:8] {
		authority = (authority << 8) | uint64(v)
	}
	buf = append(buf, '-')
	buf = strconv.AppendUint(buf, authority, 10)

	for off := sidHeaderSize; off < n; off += 4 {
		buf = append(buf, '-')
		buf = strconv.AppendUint(buf, uint64(binary.LittleEndian.Uint32(sid[off:])), 10)
	}
	return buf, nil
}

// String returns the textual SID, or "" when it is malformed.
func (sid SID) String() string {
	b, err := sid.AppendText(make([]byte, 0, 64))
	if err != nil {
		return ""
	}
	return string(b)
}
