package prune

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const endHeader = "end_header"

var scalarSizes = map[string]int{
	"char": 1, "int8": 1,
	"uchar": 1, "uint8": 1,
	"short": 2, "int16": 2,
	"ushort": 2, "uint16": 2,
	"int": 4, "int32": 4,
	"uint": 4, "uint32": 4,
	"float": 4, "float32": 4,
	"double": 8, "float64": 8,
}

type property struct {
	name   string
	typ    string
	offset int
}

// vertexLayout describes the leading vertex element of a binary PLY file.
type vertexLayout struct {
	count      int
	stride     int
	properties map[string]property
	// header holds every header line, countLine the index of the vertex
	// element declaration within it.
	header    []string
	countLine int
	// body is everything after end_header.
	body []byte
}

func parseHeader(data []byte) (*vertexLayout, error) {
	if !bytes.HasPrefix(data, []byte("ply\n")) && !bytes.HasPrefix(data, []byte("ply\r\n")) {
		return nil, fmt.Errorf("%w: missing ply magic", ErrUnsupported)
	}

	layout := &vertexLayout{properties: map[string]property{}, countLine: -1}
	rest := data
	element := ""
	seenElements := 0
	format := ""

	for {
		nl := bytes.IndexByte(rest, '\n')
		if nl < 0 {
			return nil, fmt.Errorf("%w: header is not terminated", ErrUnsupported)
		}
		line := strings.TrimRight(string(rest[:nl]), "\r")
		rest = rest[nl+1:]
		layout.header = append(layout.header, line)

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case endHeader:
			if format != "binary_little_endian" {
				return nil, fmt.Errorf("%w: format %q", ErrUnsupported, format)
			}
			if layout.countLine < 0 {
				return nil, fmt.Errorf("%w: no vertex element", ErrUnsupported)
			}
			layout.body = rest
			if layout.stride > 0 && layout.count > len(rest)/layout.stride {
				return nil, fmt.Errorf("%w: %d vertices of %d bytes, body has %d bytes",
					ErrTruncated, layout.count, layout.stride, len(rest))
			}
			return layout, nil
		case "format":
			if len(fields) < 2 {
				return nil, fmt.Errorf("%w: bad format line", ErrUnsupported)
			}
			format = fields[1]
		case "element":
			if len(fields) != 3 {
				return nil, fmt.Errorf("%w: bad element line %q", ErrUnsupported, line)
			}
			element = fields[1]
			seenElements++
			if element == "vertex" {
				if seenElements != 1 {
					return nil, fmt.Errorf("%w: vertex must be the first element", ErrUnsupported)
				}
				n, err := strconv.Atoi(fields[2])
				if err != nil || n < 0 {
					return nil, fmt.Errorf("%w: bad vertex count %q", ErrUnsupported, fields[2])
				}
				layout.count = n
				layout.countLine = len(layout.header) - 1
			}
		case "property":
			if element != "vertex" {
				continue
			}
			if len(fields) != 3 {
				return nil, fmt.Errorf("%w: vertex property %q", ErrUnsupported, line)
			}
			size, ok := scalarSizes[fields[1]]
			if !ok {
				return nil, fmt.Errorf("%w: vertex property type %q", ErrUnsupported, fields[1])
			}
			layout.properties[fields[2]] = property{name: fields[2], typ: fields[1], offset: layout.stride}
			layout.stride += size
		}
	}
}

func (l *vertexLayout) vertexBytes() int {
	return l.count * l.stride
}

func (l *vertexLayout) has(name string) bool {
	_, ok := l.properties[name]
	return ok
}

// value reads property name of vertex i as float64.
func (l *vertexLayout) value(i int, name string) float64 {
	p := l.properties[name]
	b := l.body[i*l.stride+p.offset:]
	le := binary.LittleEndian
	switch p.typ {
	case "char", "int8":
		return float64(int8(b[0]))
	case "uchar", "uint8":
		return float64(b[0])
	case "short", "int16":
		return float64(int16(le.Uint16(b)))
	case "ushort", "uint16":
		return float64(le.Uint16(b))
	case "int", "int32":
		return float64(int32(le.Uint32(b)))
	case "uint", "uint32":
		return float64(le.Uint32(b))
	case "float", "float32":
		return float64(math.Float32frombits(le.Uint32(b)))
	default:
		return math.Float64frombits(le.Uint64(b))
	}
}
