// Package kfmt implements an allocation-free Printf/Fprintf for use
// before (and after) a heap exists, adapted from gopheros's
// kernel/kfmt package. A small verb set covers what spec.md §6's
// freestanding printf needs: %d %u %x %o %s %p %c, the '#', '0' and
// '-' flags, a width, and the l/ll/z/t length modifiers (accepted and
// ignored, since Go's arguments already carry their own width).
// Unrecognized conversions are emitted as the literal character that
// follows the percent sign, matching spec.md's "pass unknown
// conversions through literally" rule.
package kfmt

import (
	"io"
	"sync"
)

var (
	outMu  sync.Mutex
	sink   io.Writer
	early  ringBuffer
)

func init() {
	sink = &early
}

// SetOutput redirects further output to w, first draining anything
// buffered in the early ring buffer (spec.md §7's "buffer kernel
// messages before the console driver is attached, then flush them").
func SetOutput(w io.Writer) {
	outMu.Lock()
	defer outMu.Unlock()
	if rb, ok := sink.(*ringBuffer); ok {
		var buf [ringBufferSize]byte
		for {
			n, err := rb.Read(buf[:])
			if n > 0 {
				w.Write(buf[:n])
			}
			if err != nil {
				break
			}
		}
	}
	sink = w
}

// Printf writes to the current sink (the early ring buffer until
// SetOutput is called).
func Printf(format string, args ...interface{}) {
	outMu.Lock()
	defer outMu.Unlock()
	doWrite(sink, format, args)
}

// Fprintf writes to an explicit writer, bypassing the sink.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	doWrite(w, format, args)
}

type numFmtBuf [64]byte

// singleByte avoids a slice literal (and its allocation) for each
// one-byte Write call.
type singleByte [1]byte

func doWrite(w io.Writer, format string, args []interface{}) {
	var sb singleByte
	argIndex := 0
	nextArg := func() interface{} {
		if argIndex >= len(args) {
			return nil
		}
		a := args[argIndex]
		argIndex++
		return a
	}

	i := 0
	for i < len(format) {
		c := format[i]
		if c != '%' {
			sb[0] = c
			w.Write(sb[:])
			i++
			continue
		}
		i++
		if i >= len(format) {
			sb[0] = '%'
			w.Write(sb[:])
			break
		}

		altForm := false
		zeroPad := false
		leftAlign := false
	flagLoop:
		for i < len(format) {
			switch format[i] {
			case '#':
				altForm = true
				i++
			case '0':
				zeroPad = true
				i++
			case '-':
				leftAlign = true
				i++
			default:
				break flagLoop
			}
		}

		width := 0
		for i < len(format) && format[i] >= '0' && format[i] <= '9' {
			width = width*10 + int(format[i]-'0')
			i++
		}

		// length modifiers (l, ll, z, t): accepted, not meaningful to Go's
		// self-describing interface{} arguments.
		for i < len(format) {
			switch format[i] {
			case 'l', 'z', 't':
				i++
				continue
			}
			break
		}

		if i >= len(format) {
			break
		}
		verb := format[i]
		i++

		var out string
		switch verb {
		case 'd':
			out = fmtInt(nextArg(), 10, false, altForm)
		case 'u':
			out = fmtInt(nextArg(), 10, true, altForm)
		case 'x':
			out = fmtInt(nextArg(), 16, true, altForm)
		case 'o':
			out = fmtInt(nextArg(), 8, true, altForm)
		case 'p':
			out = fmtPointer(nextArg())
		case 's':
			out = fmtString(nextArg())
		case 'c':
			out = fmtChar(nextArg())
		case '%':
			out = "%"
		default:
			out = string(verb)
		}
		writePadded(w, out, width, leftAlign, zeroPad)
	}
}

func writePadded(w io.Writer, s string, width int, leftAlign, zeroPad bool) {
	pad := width - len(s)
	padByte := byte(' ')
	if zeroPad && !leftAlign {
		padByte = '0'
	}
	if pad > 0 && !leftAlign {
		fmtRepeat(w, padByte, pad)
	}
	io.WriteString(w, s)
	if pad > 0 && leftAlign {
		fmtRepeat(w, ' ', pad)
	}
}

func fmtRepeat(w io.Writer, b byte, n int) {
	var sb singleByte
	sb[0] = b
	for ; n > 0; n-- {
		w.Write(sb[:])
	}
}

const digits = "0123456789abcdef"

func fmtInt(arg interface{}, base int, unsigned bool, altForm bool) string {
	var buf numFmtBuf
	pos := len(buf)

	u, neg := toUint64(arg, unsigned)
	if u == 0 {
		pos--
		buf[pos] = '0'
	}
	for u > 0 {
		pos--
		buf[pos] = digits[u%uint64(base)]
		u /= uint64(base)
	}

	if altForm && base == 16 {
		pos--
		buf[pos] = 'x'
		pos--
		buf[pos] = '0'
	} else if altForm && base == 8 {
		pos--
		buf[pos] = '0'
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// toUint64 normalizes any of Go's integer kinds into a uint64 magnitude
// plus a negative flag; unsigned callers (%u, %x, %o) never see neg set.
func toUint64(arg interface{}, unsigned bool) (uint64, bool) {
	switch v := arg.(type) {
	case int:
		return signMagnitude(int64(v), unsigned)
	case int8:
		return signMagnitude(int64(v), unsigned)
	case int16:
		return signMagnitude(int64(v), unsigned)
	case int32:
		return signMagnitude(int64(v), unsigned)
	case int64:
		return signMagnitude(v, unsigned)
	case uint:
		return uint64(v), false
	case uint8:
		return uint64(v), false
	case uint16:
		return uint64(v), false
	case uint32:
		return uint64(v), false
	case uint64:
		return v, false
	case uintptr:
		return uint64(v), false
	default:
		return 0, false
	}
}

func signMagnitude(v int64, unsigned bool) (uint64, bool) {
	if unsigned || v >= 0 {
		return uint64(v), false
	}
	return uint64(-v), true
}

func fmtPointer(arg interface{}) string {
	u, _ := toUint64(arg, true)
	var buf numFmtBuf
	pos := len(buf)
	if u == 0 {
		pos--
		buf[pos] = '0'
	}
	for u > 0 {
		pos--
		buf[pos] = digits[u%16]
		u /= 16
	}
	pos--
	buf[pos] = 'x'
	pos--
	buf[pos] = '0'
	return string(buf[pos:])
}

func fmtString(arg interface{}) string {
	switch v := arg.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return "<nil>"
	default:
		return "<bad-%s-arg>"
	}
}

func fmtChar(arg interface{}) string {
	u, _ := toUint64(arg, true)
	return string(rune(u))
}
