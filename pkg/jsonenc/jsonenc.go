// Package jsonenc offers a minimal JSON builder for low-allocation encoding
// of fixed record shapes. Not a general-purpose JSON writer.
package jsonenc

import "time"

// Builder appends JSON directly into a reusable byte slice.
type Builder struct {
	buf    []byte
	opened bool
	first  bool
}

// New creates a builder with the given initial capacity.
func New(capacity int) *Builder {
	if capacity <= 0 {
		capacity = 256
	}
	return &Builder{buf: make([]byte, 0, capacity), first: true}
}

// Reset clears the builder for reuse.
func (b *Builder) Reset() {
	b.buf = b.buf[:0]
	b.opened = false
	b.first = true
}

// Bytes returns the underlying buffer. The caller must copy it before the
// next Reset if the data needs to outlive the builder.
func (b *Builder) Bytes() []byte {
	return b.buf
}

// BeginObject starts a JSON object.
func (b *Builder) BeginObject() {
	b.buf = append(b.buf, '{')
	b.opened = true
	b.first = true
}

// EndObject ends a JSON object.
func (b *Builder) EndObject() {
	b.buf = append(b.buf, '}')
	b.opened = false
}

// String adds a "name":"value" field with escaping.
func (b *Builder) String(name, value string) {
	b.field(name)
	b.buf = append(b.buf, '"')
	b.escape(value)
	b.buf = append(b.buf, '"')
}

// RawJSON adds a "name":<raw> field without escaping. The value must be
// valid JSON.
func (b *Builder) RawJSON(name string, raw []byte) {
	b.field(name)
	b.buf = append(b.buf, raw...)
}

// Int64 adds a "name":n field.
func (b *Builder) Int64(name string, v int64) {
	b.field(name)
	b.buf = appendInt(b.buf, v)
}

// TimeRFC3339 adds a "name":"YYYY-MM-DDTHH:MM:SSZ" field in UTC.
func (b *Builder) TimeRFC3339(name string, t time.Time) {
	b.field(name)
	b.buf = append(b.buf, '"')
	t = t.UTC()
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()
	b.pad4(year)
	b.buf = append(b.buf, '-')
	b.pad2(int(month))
	b.buf = append(b.buf, '-')
	b.pad2(day)
	b.buf = append(b.buf, 'T')
	b.pad2(hour)
	b.buf = append(b.buf, ':')
	b.pad2(minute)
	b.buf = append(b.buf, ':')
	b.pad2(sec)
	b.buf = append(b.buf, 'Z', '"')
}

func (b *Builder) field(name string) {
	b.sep()
	b.buf = append(b.buf, '"')
	b.buf = append(b.buf, name...)
	b.buf = append(b.buf, '"', ':')
}

func (b *Builder) sep() {
	if !b.opened {
		b.BeginObject()
		return
	}
	if b.first {
		b.first = false
		return
	}
	b.buf = append(b.buf, ',')
}

const hexDigits = "0123456789abcdef"

func (b *Builder) escape(s string) {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\', '"':
			b.buf = append(b.buf, '\\', c)
		case '\n':
			b.buf = append(b.buf, '\\', 'n')
		case '\r':
			b.buf = append(b.buf, '\\', 'r')
		case '\t':
			b.buf = append(b.buf, '\\', 't')
		default:
			if c < 0x20 {
				b.buf = append(b.buf, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0x0f])
			} else {
				b.buf = append(b.buf, c)
			}
		}
	}
}

func (b *Builder) pad2(v int) {
	b.buf = append(b.buf, byte('0'+(v/10)%10), byte('0'+v%10))
}

func (b *Builder) pad4(v int) {
	b.buf = append(b.buf,
		byte('0'+(v/1000)%10),
		byte('0'+(v/100)%10),
		byte('0'+(v/10)%10),
		byte('0'+v%10),
	)
}

func appendInt(buf []byte, x int64) []byte {
	if x == 0 {
		return append(buf, '0')
	}
	var tmp [20]byte
	i := len(tmp)
	neg := x < 0
	u := uint64(x)
	if neg {
		u = uint64(-x)
	}
	for u > 0 {
		i--
		tmp[i] = byte('0' + u%10)
		u /= 10
	}
	if neg {
		i--
		tmp[i] = '-'
	}
	return append(buf, tmp[i:]...)
}
