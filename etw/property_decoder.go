package etw

// Formatter that mimics TdhFormatProperty on plain byte slices.
//
// Property qualifiers:
// https://learn.microsoft.com/en-us/windows/win32/etw/event-tracing-mof-qualifiers#property-qualifiers
// https://learn.microsoft.com/en-us/windows/win32/etw/using-tdhgetproperty-to-consume-event-data

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"sync"
	"unicode/utf8"

	"github.com/tekert/etwdecode/internal/hexf"
	"github.com/tekert/etwdecode/internal/utf16f"
)

var stringBufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, 1024)
		return &b
	},
}

// errOutTypeMismatch marks an OutType that cannot render the InType; the
// value is then rendered with the InType default.
var errOutTypeMismatch = errors.New("outtype does not apply to intype")

// Address families as stored in SOCKADDR.sa_family on Windows.
const (
	afInet  = 2
	afInet6 = 23
)

// decodeToString decodes the property to a raw string representation.
func (p *Property) decodeToString(dst []byte) ([]byte, error) {
	return p._decodeValue(dst, false)
}

// decodeToJSON decodes the property to a JSON value (with quoting where needed).
func (p *Property) decodeToJSON(dst []byte) ([]byte, error) {
	return p._decodeValue(dst, true)
}

func appendQuotes(buf []byte, quote bool) []byte {
	if quote {
		buf = append(buf, '"')
	}
	return buf
}

// resolveOutType maps an InType to the OutType used when the schema leaves it NULL.
func (p *Property) resolveOutType(inType TdhInType) TdhOutType {
	switch inType {
	case TDH_INTYPE_UNICODESTRING,
		TDH_INTYPE_ANSISTRING,
		TDH_INTYPE_COUNTEDSTRING,
		TDH_INTYPE_COUNTEDANSISTRING,
		TDH_INTYPE_REVERSEDCOUNTEDSTRING,
		TDH_INTYPE_REVERSEDCOUNTEDANSISTRING,
		TDH_INTYPE_NONNULLTERMINATEDSTRING,
		TDH_INTYPE_NONNULLTERMINATEDANSISTRING,
		TDH_INTYPE_MANIFEST_COUNTEDSTRING,
		TDH_INTYPE_MANIFEST_COUNTEDANSISTRING,
		TDH_INTYPE_UNICODECHAR,
		TDH_INTYPE_ANSICHAR,
		TDH_INTYPE_SID,
		TDH_INTYPE_WBEMSID:
		return TDH_OUTTYPE_STRING

	case TDH_INTYPE_INT8:
		return TDH_OUTTYPE_BYTE
	case TDH_INTYPE_UINT8:
		return TDH_OUTTYPE_UNSIGNEDBYTE
	case TDH_INTYPE_INT16:
		return TDH_OUTTYPE_SHORT
	case TDH_INTYPE_UINT16:
		return TDH_OUTTYPE_UNSIGNEDSHORT
	case TDH_INTYPE_INT32:
		return TDH_OUTTYPE_INT
	case TDH_INTYPE_UINT32:
		return TDH_OUTTYPE_UNSIGNEDINT
	case TDH_INTYPE_INT64:
		return TDH_OUTTYPE_LONG
	case TDH_INTYPE_UINT64:
		return TDH_OUTTYPE_UNSIGNEDLONG
	case TDH_INTYPE_FLOAT:
		return TDH_OUTTYPE_FLOAT
	case TDH_INTYPE_DOUBLE:
		return TDH_OUTTYPE_DOUBLE

	case TDH_INTYPE_BINARY, TDH_INTYPE_HEXDUMP, TDH_INTYPE_MANIFEST_COUNTEDBINARY:
		return TDH_OUTTYPE_HEXBINARY

	case TDH_INTYPE_BOOLEAN:
		return TDH_OUTTYPE_BOOLEAN
	case TDH_INTYPE_GUID:
		return TDH_OUTTYPE_GUID
	case TDH_INTYPE_POINTER:
		if p.pointerSize == 8 {
			return TDH_OUTTYPE_HEXINT64
		}
		return TDH_OUTTYPE_HEXINT32
	case TDH_INTYPE_FILETIME, TDH_INTYPE_SYSTEMTIME:
		return TDH_OUTTYPE_DATETIME
	case TDH_INTYPE_HEXINT32:
		return TDH_OUTTYPE_HEXINT32
	case TDH_INTYPE_HEXINT64, TDH_INTYPE_SIZET:
		return TDH_OUTTYPE_HEXINT64
	}
	return TDH_OUTTYPE_NULL
}

// _decodeValue appends the value rendered according to OutType, inferring
// it from InType when NULL. quote produces a JSON value.
func (p *Property) _decodeValue(dst []byte, quote bool) ([]byte, error) {
	inType := p.InType()
	outType := p.OutType()

	if p.charString {
		return p.appendString(dst, quote)
	}

	if outType == TDH_OUTTYPE_NULL {
		// Classic TcpIp/UdpIp connid: pointer sized, 32-bit value.
		if inType == TDH_INTYPE_POINTER && p.pointerSize == 8 && p.isNtKernelTcpUdpConnid() {
			v, err := p.u32()
			if err != nil {
				return dst, err
			}
			return strconv.AppendUint(dst, uint64(v), 10), nil
		}
		outType = p.resolveOutType(inType)
		if outType == TDH_OUTTYPE_NULL {
			if inType == TDH_INTYPE_NULL {
				return dst, fmt.Errorf("%w: null InType", ErrUnsupportedType)
			}
			return dst, fmt.Errorf("%w: no default OutType for %v", ErrUnsupportedType, inType)
		}
	}

	out, err := p.appendAs(dst, inType, outType, quote)
	if errors.Is(err, errOutTypeMismatch) {
		def := p.resolveOutType(inType)
		if def == TDH_OUTTYPE_NULL || def == outType {
			return dst, fmt.Errorf("%w: %v as %v", ErrUnsupportedType, inType, outType)
		}
		return p.appendAs(dst, inType, def, quote)
	}
	return out, err
}

func (p *Property) appendAs(dst []byte, inType TdhInType, outType TdhOutType, quote bool) ([]byte, error) {
	switch outType {
	case TDH_OUTTYPE_STRING, TDH_OUTTYPE_REDUCEDSTRING:
		switch inType {
		case TDH_INTYPE_INT8, TDH_INTYPE_UINT8, TDH_INTYPE_ANSICHAR:
			// Single ANSI character
			b, err := p.u8()
			if err != nil {
				return dst, err
			}
			return appendRune(dst, rune(b), quote), nil

		case TDH_INTYPE_UINT16, TDH_INTYPE_UNICODECHAR:
			// Single UTF-16 character
			w, err := p.u16()
			if err != nil {
				return dst, err
			}
			return appendRune(dst, rune(w), quote), nil

		case TDH_INTYPE_SID, TDH_INTYPE_WBEMSID:
			if quote {
				return p.appendQuotedWith(dst, p.decodeSIDIntype)
			}
			return p.decodeSIDIntype(dst)
		}
		if isStringInType(inType) {
			return p.appendString(dst, quote)
		}
		return dst, errOutTypeMismatch

	case TDH_OUTTYPE_BYTE, TDH_OUTTYPE_SHORT, TDH_OUTTYPE_INT, TDH_OUTTYPE_LONG:
		if !outTypeAccepts(outType, inType) {
			return dst, errOutTypeMismatch
		}
		v, err := p.GetInt()
		if err != nil {
			return dst, err
		}
		return strconv.AppendInt(dst, v, 10), nil

	case TDH_OUTTYPE_UNSIGNEDBYTE, TDH_OUTTYPE_UNSIGNEDSHORT, TDH_OUTTYPE_UNSIGNEDINT,
		TDH_OUTTYPE_UNSIGNEDLONG, TDH_OUTTYPE_PID, TDH_OUTTYPE_TID:
		if !outTypeAccepts(outType, inType) {
			return dst, errOutTypeMismatch
		}
		v, _, err := p.decodeScalarIntype()
		if err != nil {
			return dst, err
		}
		return strconv.AppendUint(dst, v, 10), nil

	case TDH_OUTTYPE_FLOAT, TDH_OUTTYPE_DOUBLE:
		if inType != TDH_INTYPE_FLOAT && inType != TDH_INTYPE_DOUBLE {
			return dst, errOutTypeMismatch
		}
		v, err := p.GetFloat()
		if err != nil {
			return dst, err
		}
		if quote && (math.IsNaN(v) || math.IsInf(v, 0)) {
			return strconv.AppendQuote(dst, strconv.FormatFloat(v, 'g', -1, 64)), nil
		}
		if inType == TDH_INTYPE_FLOAT {
			return strconv.AppendFloat(dst, v, 'g', -1, 32), nil
		}
		return strconv.AppendFloat(dst, v, 'g', -1, 64), nil

	case TDH_OUTTYPE_BOOLEAN:
		if inType != TDH_INTYPE_BOOLEAN && inType != TDH_INTYPE_UINT8 {
			return dst, errOutTypeMismatch
		}
		var v uint32
		var err error
		if inType == TDH_INTYPE_UINT8 {
			var b uint8
			b, err = p.u8()
			v = uint32(b)
		} else {
			// ETW boolean is 4 bytes
			v, err = p.u32()
		}
		if err != nil {
			return dst, err
		}
		return strconv.AppendBool(dst, v != 0), nil

	case TDH_OUTTYPE_GUID:
		if inType != TDH_INTYPE_GUID {
			return dst, errOutTypeMismatch
		}
		guid, err := p.GetGUID()
		if err != nil {
			return dst, err
		}
		dst = appendQuotes(dst, quote)
		dst = guid.appendText(dst)
		return appendQuotes(dst, quote), nil

	case TDH_OUTTYPE_HEXBINARY, TDH_OUTTYPE_PKCS7_WITH_TYPE_INFO:
		switch inType {
		case TDH_INTYPE_BINARY,
			TDH_INTYPE_HEXDUMP,
			TDH_INTYPE_MANIFEST_COUNTEDBINARY:
			bytes, err := p.payload()
			if err != nil {
				return dst, err
			}
			dst = appendQuotes(dst, quote)
			dst = hexf.AppendEncodeToStringUPrefix(dst, bytes)
			return appendQuotes(dst, quote), nil
		}
		return dst, errOutTypeMismatch

	case TDH_OUTTYPE_HEXINT8:
		if inType != TDH_INTYPE_UINT8 && inType != TDH_INTYPE_INT8 {
			return dst, errOutTypeMismatch
		}
		v, err := p.u8()
		if err != nil {
			return dst, err
		}
		dst = appendQuotes(dst, quote)
		dst = hexf.AppendNUm8p(dst, v, true)
		return appendQuotes(dst, quote), nil

	case TDH_OUTTYPE_HEXINT16:
		if inType != TDH_INTYPE_UINT16 && inType != TDH_INTYPE_INT16 {
			return dst, errOutTypeMismatch
		}
		v, err := p.u16()
		if err != nil {
			return dst, err
		}
		dst = appendQuotes(dst, quote)
		dst = hexf.AppendNUm16p(dst, v, true)
		return appendQuotes(dst, quote), nil

	case TDH_OUTTYPE_HEXINT32:
		switch inType {
		case TDH_INTYPE_UINT32, TDH_INTYPE_INT32, TDH_INTYPE_HEXINT32:
		case TDH_INTYPE_POINTER, TDH_INTYPE_SIZET:
			if p.pointerSize != 4 {
				return dst, errOutTypeMismatch
			}
		default:
			return dst, errOutTypeMismatch
		}
		v, err := p.u32()
		if err != nil {
			return dst, err
		}
		dst = appendQuotes(dst, quote)
		dst = hexf.AppendNUm32p(dst, v, true)
		return appendQuotes(dst, quote), nil

	case TDH_OUTTYPE_HEXINT64:
		switch inType {
		case TDH_INTYPE_UINT64, TDH_INTYPE_INT64, TDH_INTYPE_HEXINT64,
			TDH_INTYPE_POINTER, TDH_INTYPE_SIZET:
		default:
			return dst, errOutTypeMismatch
		}
		v, _, err := p.decodeScalarIntype()
		if err != nil {
			return dst, err
		}
		dst = appendQuotes(dst, quote)
		dst = hexf.AppendNUm64p(dst, v, true)
		return appendQuotes(dst, quote), nil

	case TDH_OUTTYPE_PORT:
		if inType != TDH_INTYPE_UINT16 {
			return dst, errOutTypeMismatch
		}
		port, err := p.u16()
		if err != nil {
			return dst, err
		}
		// network byte order
		return strconv.AppendUint(dst, uint64(Swap16(port)), 10), nil

	case TDH_OUTTYPE_IPV4:
		if inType != TDH_INTYPE_UINT32 {
			return dst, errOutTypeMismatch
		}
		if err := p.need(net.IPv4len); err != nil {
			return dst, err
		}
		// stored in network byte order
		ip := net.IP(p.data[:net.IPv4len])
		dst = appendQuotes(dst, quote)
		dst, err := ip.AppendText(dst)
		return appendQuotes(dst, quote), err

	case TDH_OUTTYPE_IPV6:
		switch inType {
		case TDH_INTYPE_BINARY, TDH_INTYPE_MANIFEST_COUNTEDBINARY:
			bytes, err := p.payload()
			if err != nil {
				return dst, err
			}
			if len(bytes) != net.IPv6len {
				return dst, fmt.Errorf("invalid IPv6 address length: %d", len(bytes))
			}
			dst = appendQuotes(dst, quote)
			dst, err = net.IP(bytes).AppendText(dst)
			return appendQuotes(dst, quote), err
		}
		return dst, errOutTypeMismatch

	case TDH_OUTTYPE_SOCKETADDRESS:
		switch inType {
		case TDH_INTYPE_BINARY, TDH_INTYPE_MANIFEST_COUNTEDBINARY:
			bytes, err := p.payload()
			if err != nil {
				return dst, err
			}
			dst = appendQuotes(dst, quote)
			dst, err = appendSockAddr(dst, bytes)
			return appendQuotes(dst, quote), err
		}
		return dst, errOutTypeMismatch

	case TDH_OUTTYPE_DATETIME,
		TDH_OUTTYPE_DATETIME_UTC,
		TDH_OUTTYPE_CULTURE_INSENSITIVE_DATETIME:
		switch inType {
		case TDH_INTYPE_FILETIME:
			ft, err := p.u64()
			if err != nil {
				return dst, err
			}
			dst = appendQuotes(dst, quote)
			dst, err = FromFiletimeUTC(int64(ft)).AppendText(dst)
			return appendQuotes(dst, quote), err

		case TDH_INTYPE_SYSTEMTIME:
			if err := p.need(systemtimeSize); err != nil {
				return dst, err
			}
			dst = appendQuotes(dst, quote)
			dst, err := fromSystemTime(p.data).AppendText(dst)
			return appendQuotes(dst, quote), err
		}
		return dst, errOutTypeMismatch

	case TDH_OUTTYPE_XML, TDH_OUTTYPE_JSON, TDH_OUTTYPE_UTF8:
		if !isStringInType(inType) {
			return dst, errOutTypeMismatch
		}
		return p.appendString(dst, quote)

	case TDH_OUTTYPE_ERRORCODE, TDH_OUTTYPE_WIN32ERROR, TDH_OUTTYPE_NTSTATUS, TDH_OUTTYPE_HRESULT:
		switch inType {
		case TDH_INTYPE_UINT32, TDH_INTYPE_INT32, TDH_INTYPE_HEXINT32:
		default:
			return dst, errOutTypeMismatch
		}
		v, err := p.u32()
		if err != nil {
			return dst, err
		}
		dst = appendQuotes(dst, quote)
		dst = hexf.AppendNUm32p(dst, v, false)
		return appendQuotes(dst, quote), nil

	case TDH_OUTTYPE_CODE_POINTER:
		switch inType {
		case TDH_INTYPE_UINT32,
			TDH_INTYPE_UINT64,
			TDH_INTYPE_HEXINT32,
			TDH_INTYPE_HEXINT64,
			TDH_INTYPE_POINTER:
		default:
			return dst, errOutTypeMismatch
		}
		v, _, err := p.decodeScalarIntype()
		if err != nil {
			return dst, err
		}
		dst = appendQuotes(dst, quote)
		dst = hexf.AppendNUm64p(dst, v, false)
		return appendQuotes(dst, quote), nil

	case TDH_OUTTYPE_NOPRINT:
		// not meant to be shown
		if quote {
			return append(dst, '"', '"'), nil
		}
		return dst, nil
	}

	// CIMDATETIME, ETWTIME and unknown values use the InType default.
	return dst, errOutTypeMismatch
}

// outTypeAccepts reports the integer InTypes an integer OutType may render.
func outTypeAccepts(out TdhOutType, in TdhInType) bool {
	switch out {
	case TDH_OUTTYPE_BYTE:
		return in == TDH_INTYPE_INT8
	case TDH_OUTTYPE_UNSIGNEDBYTE:
		return in == TDH_INTYPE_UINT8
	case TDH_OUTTYPE_SHORT:
		return in == TDH_INTYPE_INT16
	case TDH_OUTTYPE_UNSIGNEDSHORT:
		return in == TDH_INTYPE_UINT16
	case TDH_OUTTYPE_INT:
		return in == TDH_INTYPE_INT32
	case TDH_OUTTYPE_UNSIGNEDINT, TDH_OUTTYPE_PID, TDH_OUTTYPE_TID:
		return in == TDH_INTYPE_UINT32 || in == TDH_INTYPE_HEXINT32
	case TDH_OUTTYPE_LONG:
		return in == TDH_INTYPE_INT64 || in == TDH_INTYPE_INT32 || in == TDH_INTYPE_POINTER
	case TDH_OUTTYPE_UNSIGNEDLONG:
		return in == TDH_INTYPE_UINT64 || in == TDH_INTYPE_UINT32 ||
			in == TDH_INTYPE_POINTER || in == TDH_INTYPE_SIZET || in == TDH_INTYPE_HEXINT64
	}
	return false
}

func appendRune(dst []byte, r rune, quote bool) []byte {
	if quote {
		return strconv.AppendQuote(dst, string(r))
	}
	return utf8.AppendRune(dst, r)
}

// appendQuotedWith renders with fn into a pooled buffer and appends the
// JSON quoted result, so fn never writes into dst.
func (p *Property) appendQuotedWith(dst []byte, fn func([]byte) ([]byte, error)) ([]byte, error) {
	tmp := stringBufferPool.Get().(*[]byte)
	defer stringBufferPool.Put(tmp)
	buf, err := fn((*tmp)[:0])
	*tmp = buf[:0]
	if err != nil {
		return dst, err
	}
	return strconv.AppendQuote(dst, string(buf)), nil
}

func (p *Property) appendString(dst []byte, quote bool) ([]byte, error) {
	if quote {
		return p.appendQuotedWith(dst, p.decodeStringIntype)
	}
	return p.decodeStringIntype(dst)
}

// Swap16 converts between network and host byte order.
func Swap16(n uint16) uint16 {
	return (n << 8) | (n >> 8)
}

// appendSockAddr formats a SOCKADDR_IN ("ip:port") or SOCKADDR_IN6 ("[ip]:port").
func appendSockAddr(dst, sa []byte) ([]byte, error) {
	if len(sa) < 2 {
		return dst, overrun(0, 2, len(sa))
	}
	family := binary.LittleEndian.Uint16(sa)
	switch family {
	case afInet:
		// family, port, addr[4]
		if len(sa) < 8 {
			return dst, overrun(0, 8, len(sa))
		}
		port := binary.BigEndian.Uint16(sa[2:])
		dst, _ = net.IP(sa[4:8]).AppendText(dst)
		dst = append(dst, ':')
		return strconv.AppendUint(dst, uint64(port), 10), nil

	case afInet6:
		// family, port, flowinfo, addr[16], scope id
		if len(sa) < 24 {
			return dst, overrun(0, 24, len(sa))
		}
		port := binary.BigEndian.Uint16(sa[2:])
		dst = append(dst, '[')
		dst, _ = net.IP(sa[8:24]).AppendText(dst)
		dst = append(dst, ']', ':')
		return strconv.AppendUint(dst, uint64(port), 10), nil
	}
	return dst, fmt.Errorf("unsupported address family: %d", family)
}

// payload returns the value bytes without a size prefix.
func (p *Property) payload() ([]byte, error) {
	switch p.InType() {
	case TDH_INTYPE_HEXDUMP:
		if err := p.need(4); err != nil {
			return nil, err
		}
		n := int(binary.LittleEndian.Uint32(p.data))
		if 4+n > len(p.data) {
			return nil, overrun(4, n, len(p.data))
		}
		return p.data[4 : 4+n], nil
	case TDH_INTYPE_MANIFEST_COUNTEDBINARY:
		return p.counted(binary.LittleEndian)
	}
	return p.data, nil
}

// counted returns the bytes following a 16-bit byte count.
func (p *Property) counted(order binary.ByteOrder) ([]byte, error) {
	if err := p.need(2); err != nil {
		return nil, err
	}
	n := int(order.Uint16(p.data))
	if 2+n > len(p.data) {
		return nil, overrun(2, n, len(p.data))
	}
	return p.data[2 : 2+n], nil
}

// decodeSIDIntype renders SID and WBEMSID values. A WBEMSID is preceded
// by a TOKEN_USER, two pointers wide.
func (p *Property) decodeSIDIntype(buf []byte) ([]byte, error) {
	b := p.data
	if p.InType() == TDH_INTYPE_WBEMSID {
		skip := 2 * int(p.pointerSize)
		if len(b) < skip {
			return buf, fmt.Errorf("invalid SID: %w", overrun(0, skip, len(b)))
		}
		b = b[skip:]
	}
	n, err := sidSize(b)
	if err != nil {
		return buf, fmt.Errorf("invalid SID: %w", err)
	}
	buf, err = SID(b[:n]).AppendText(buf)
	if err != nil {
		return buf, fmt.Errorf("failed to convert SID to string: %w", err)
	}
	return buf, nil
}

func (p *Property) decodeStringIntype(dst []byte) ([]byte, error) {
	if p.charString {
		if p.InType() == TDH_INTYPE_UNICODECHAR {
			return utf16f.AppendLE(dst, p.data), nil
		}
		return appendAnsi(dst, p.data), nil
	}

	switch p.InType() {
	case TDH_INTYPE_UNICODESTRING:
		return utf16f.AppendLE(dst, p.data), nil

	case TDH_INTYPE_ANSISTRING:
		return appendAnsi(dst, p.data), nil

	case TDH_INTYPE_MANIFEST_COUNTEDSTRING, TDH_INTYPE_COUNTEDSTRING:
		// 16-bit byte count, then UTF-16
		b, err := p.counted(binary.LittleEndian)
		if err != nil {
			return dst, err
		}
		return utf16f.AppendLE(dst, b), nil

	case TDH_INTYPE_MANIFEST_COUNTEDANSISTRING, TDH_INTYPE_COUNTEDANSISTRING:
		b, err := p.counted(binary.LittleEndian)
		if err != nil {
			return dst, err
		}
		return append(dst, b...), nil

	case TDH_INTYPE_REVERSEDCOUNTEDSTRING:
		// big-endian count
		b, err := p.counted(binary.BigEndian)
		if err != nil {
			return dst, err
		}
		return utf16f.AppendLE(dst, b), nil

	case TDH_INTYPE_REVERSEDCOUNTEDANSISTRING:
		b, err := p.counted(binary.BigEndian)
		if err != nil {
			return dst, err
		}
		return append(dst, b...), nil

	case TDH_INTYPE_NONNULLTERMINATEDSTRING:
		return utf16f.AppendLE(dst, p.data), nil

	case TDH_INTYPE_NONNULLTERMINATEDANSISTRING:
		return append(dst, p.data...), nil
	}

	return dst, fmt.Errorf("%w: not a string type: %v", ErrUnsupportedType, p.InType())
}

// appendAnsi appends b up to the first NUL.
func appendAnsi(dst, b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return append(dst, b[:i]...)
		}
	}
	return append(dst, b...)
}
