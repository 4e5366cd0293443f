package envelope

import (
	"strconv"
	"strings"
)

// Builder writes a line-oriented envelope. Text values are always escaped.
type Builder struct {
	sb    strings.Builder
	stack []string
}

// NewBuilder opens the root element.
func NewBuilder(root string) *Builder {
	b := &Builder{}
	b.Open(root)
	return b
}

// Open starts a nested element.
func (b *Builder) Open(name string) *Builder {
	b.line("<" + name + ">")
	b.stack = append(b.stack, name)
	return b
}

// Close ends the innermost open element.
func (b *Builder) Close() *Builder {
	if len(b.stack) == 0 {
		return b
	}
	name := b.stack[len(b.stack)-1]
	b.stack = b.stack[:len(b.stack)-1]
	b.line("</" + name + ">")
	return b
}

// Text writes <name>escaped</name>.
func (b *Builder) Text(name, value string) *Builder {
	b.line("<" + name + ">" + Escape(value) + "</" + name + ">")
	return b
}

// Bool writes true or false.
func (b *Builder) Bool(name string, v bool) *Builder {
	return b.Text(name, strconv.FormatBool(v))
}

// Int writes a decimal integer.
func (b *Builder) Int(name string, v int) *Builder {
	return b.Text(name, strconv.Itoa(v))
}

// Float writes v in its shortest representation, or an empty element when v is nil.
func (b *Builder) Float(name string, v *float64) *Builder {
	if v == nil {
		return b.Text(name, "")
	}
	return b.Text(name, strconv.FormatFloat(*v, 'f', -1, 64))
}

// Raw writes value unescaped. value must not contain markup, e.g. output of
// json.Marshal, which already escapes <, > and &.
func (b *Builder) Raw(name, value string) *Builder {
	b.line("<" + name + ">")
	b.line(value)
	b.line("</" + name + ">")
	return b
}

func (b *Builder) line(s string) {
	if b.sb.Len() > 0 {
		b.sb.WriteByte('\n')
	}
	b.sb.WriteString(s)
}

// String closes any open elements and returns the envelope.
func (b *Builder) String() string {
	for len(b.stack) > 0 {
		b.Close()
	}
	return b.sb.String()
}
