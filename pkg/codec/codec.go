// Package codec implements the whole-file-rewrite persistence format: a
// small header followed by one length-prefixed, checksummed block per table.
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/mars/mars/pkg/pool"
	"github.com/mars/mars/pkg/schema"
)

// magic identifies a mars database file, borrowed in spirit from the
// teacher's storage header but sized for this simpler whole-file format.
var magic = [4]byte{'M', 'A', 'R', 'S'}

const formatVersion uint32 = 1

// TableBlock is everything needed to reconstruct one table: its schema, its
// live rows, the graph's running centroid, and the next row-id counter. The
// graph's edges are never serialized — Load always ends with a Rebuild.
type TableBlock struct {
	Name     string
	Schema   schema.Schema
	Rows     []schema.Row
	Centroid []float32
	NextID   uint64
}

// WriteDatabase writes the header and every block to w, in the order given.
func WriteDatabase(w io.Writer, blocks []TableBlock) error {
	header := make([]byte, 0, 12)
	header = append(header, magic[:]...)
	header = appendU32(header, formatVersion)
	header = appendU32(header, uint32(len(blocks)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("codec: write header: %w", err)
	}

	for _, b := range blocks {
		encoded, err := encodeTable(b)
		if err != nil {
			return fmt.Errorf("codec: encode table %q: %w", b.Name, err)
		}
		sized := make([]byte, 8)
		binary.LittleEndian.PutUint64(sized, uint64(len(encoded)))
		if _, err := w.Write(sized); err != nil {
			return fmt.Errorf("codec: write table %q length: %w", b.Name, err)
		}
		if _, err := w.Write(encoded); err != nil {
			return fmt.Errorf("codec: write table %q body: %w", b.Name, err)
		}
	}
	return nil
}

// ReadDatabase reads a file written by WriteDatabase back into its blocks.
func ReadDatabase(r io.Reader) ([]TableBlock, error) {
	header := make([]byte, 12)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("codec: read header: %w", err)
	}
	if !bytes.Equal(header[0:4], magic[:]) {
		return nil, fmt.Errorf("codec: invalid file format: bad magic bytes")
	}
	version := binary.LittleEndian.Uint32(header[4:8])
	if version != formatVersion {
		return nil, fmt.Errorf("codec: invalid file format: unsupported version %d", version)
	}
	tableCount := binary.LittleEndian.Uint32(header[8:12])

	blocks := make([]TableBlock, 0, tableCount)
	for i := uint32(0); i < tableCount; i++ {
		sizeBuf := make([]byte, 8)
		if _, err := io.ReadFull(r, sizeBuf); err != nil {
			return nil, fmt.Errorf("codec: read table %d length: %w", i, err)
		}
		size := binary.LittleEndian.Uint64(sizeBuf)
		body := make([]byte, size)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("codec: read table %d body: %w", i, err)
		}
		block, err := decodeTable(body)
		if err != nil {
			return nil, fmt.Errorf("codec: decode table %d: %w", i, err)
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

func encodeTable(b TableBlock) ([]byte, error) {
	scratch := pool.DefaultBufferPool.Get(4096)
	defer pool.DefaultBufferPool.Put(scratch)

	buf := bytes.NewBuffer(scratch[:0])
	writeString(buf, b.Name)
	if err := writeSchema(buf, b.Schema); err != nil {
		return nil, err
	}
	writeU32(buf, uint32(len(b.Rows)))
	for _, row := range b.Rows {
		if err := writeRow(buf, row); err != nil {
			return nil, err
		}
	}
	writeU32(buf, uint32(len(b.Centroid)))
	for _, f := range b.Centroid {
		writeU32(buf, math.Float32bits(f))
	}
	writeU64(buf, b.NextID)

	checksum := xxhash.Sum64(buf.Bytes())
	out := append([]byte(nil), buf.Bytes()...)
	sum := make([]byte, 8)
	binary.LittleEndian.PutUint64(sum, checksum)
	return append(out, sum...), nil
}

func decodeTable(data []byte) (TableBlock, error) {
	if len(data) < 8 {
		return TableBlock{}, fmt.Errorf("invalid format: block too small")
	}
	body, sumBytes := data[:len(data)-8], data[len(data)-8:]
	want := binary.LittleEndian.Uint64(sumBytes)
	if got := xxhash.Sum64(body); got != want {
		return TableBlock{}, fmt.Errorf("invalid format: checksum mismatch (want %x, got %x)", want, got)
	}

	r := bytes.NewReader(body)
	name, err := readString(r)
	if err != nil {
		return TableBlock{}, err
	}
	s, err := readSchema(r)
	if err != nil {
		return TableBlock{}, err
	}
	rowCount, err := readU32(r)
	if err != nil {
		return TableBlock{}, err
	}
	rows := make([]schema.Row, rowCount)
	for i := range rows {
		row, err := readRow(r)
		if err != nil {
			return TableBlock{}, err
		}
		rows[i] = row
	}
	centroidLen, err := readU32(r)
	if err != nil {
		return TableBlock{}, err
	}
	centroid := make([]float32, centroidLen)
	for i := range centroid {
		bits, err := readU32(r)
		if err != nil {
			return TableBlock{}, err
		}
		centroid[i] = math.Float32frombits(bits)
	}
	nextID, err := readU64(r)
	if err != nil {
		return TableBlock{}, err
	}

	return TableBlock{Name: name, Schema: s, Rows: rows, Centroid: centroid, NextID: nextID}, nil
}

// ---- schema ----

func writeSchema(buf *bytes.Buffer, s schema.Schema) error {
	writeString(buf, s.Name)
	writeU32(buf, uint32(len(s.Columns)))
	for _, c := range s.Columns {
		writeString(buf, c.Name)
		buf.WriteByte(byte(c.Type))
		writeU32(buf, uint32(c.Dimension))
		var flags byte
		if c.PrimaryKey {
			flags |= 1 << 0
		}
		if c.NotNull {
			flags |= 1 << 1
		}
		if c.Unique {
			flags |= 1 << 2
		}
		buf.WriteByte(flags)
	}
	writeI32(buf, int32(s.VectorColumn))
	return nil
}

func readSchema(r *bytes.Reader) (schema.Schema, error) {
	name, err := readString(r)
	if err != nil {
		return schema.Schema{}, err
	}
	colCount, err := readU32(r)
	if err != nil {
		return schema.Schema{}, err
	}
	cols := make([]schema.Column, colCount)
	for i := range cols {
		cname, err := readString(r)
		if err != nil {
			return schema.Schema{}, err
		}
		typeByte, err := r.ReadByte()
		if err != nil {
			return schema.Schema{}, err
		}
		dim, err := readU32(r)
		if err != nil {
			return schema.Schema{}, err
		}
		flags, err := r.ReadByte()
		if err != nil {
			return schema.Schema{}, err
		}
		cols[i] = schema.Column{
			Name:       cname,
			Type:       schema.ColumnType(typeByte),
			Dimension:  int(dim),
			PrimaryKey: flags&(1<<0) != 0,
			NotNull:    flags&(1<<1) != 0,
			Unique:     flags&(1<<2) != 0,
		}
	}
	vectorColumn, err := readI32(r)
	if err != nil {
		return schema.Schema{}, err
	}
	return schema.Schema{Name: name, Columns: cols, VectorColumn: int(vectorColumn)}, nil
}

// ---- row / value ----

const (
	tagNull byte = iota
	tagInteger
	tagFloat
	tagText
	tagBoolean
	tagBlob
	tagVector
)

func writeRow(buf *bytes.Buffer, row schema.Row) error {
	writeU64(buf, row.ID)
	writeU32(buf, row.NodeID)
	writeU32(buf, uint32(len(row.Values)))
	for _, v := range row.Values {
		if err := writeValue(buf, v); err != nil {
			return err
		}
	}
	return nil
}

func readRow(r *bytes.Reader) (schema.Row, error) {
	id, err := readU64(r)
	if err != nil {
		return schema.Row{}, err
	}
	nodeID, err := readU32(r)
	if err != nil {
		return schema.Row{}, err
	}
	count, err := readU32(r)
	if err != nil {
		return schema.Row{}, err
	}
	values := make([]schema.Value, count)
	for i := range values {
		v, err := readValue(r)
		if err != nil {
			return schema.Row{}, err
		}
		values[i] = v
	}
	return schema.Row{ID: id, NodeID: nodeID, Values: values}, nil
}

func writeValue(buf *bytes.Buffer, v schema.Value) error {
	switch {
	case v.IsNull():
		buf.WriteByte(tagNull)
	default:
		if i, ok := v.AsInteger(); ok {
			buf.WriteByte(tagInteger)
			writeU64(buf, uint64(i))
			return nil
		}
		if f, ok := v.AsFloat(); ok {
			buf.WriteByte(tagFloat)
			writeU64(buf, math.Float64bits(f))
			return nil
		}
		if s, ok := v.AsText(); ok {
			buf.WriteByte(tagText)
			writeString(buf, s)
			return nil
		}
		if b, ok := v.AsBoolean(); ok {
			buf.WriteByte(tagBoolean)
			if b {
				buf.WriteByte(1)
			} else {
				buf.WriteByte(0)
			}
			return nil
		}
		if blob, ok := v.AsBlob(); ok {
			buf.WriteByte(tagBlob)
			writeU32(buf, uint32(len(blob)))
			buf.Write(blob)
			return nil
		}
		if vec, ok := v.AsVector(); ok {
			buf.WriteByte(tagVector)
			writeU32(buf, uint32(len(vec)))
			for _, f := range vec {
				writeU32(buf, math.Float32bits(f))
			}
			return nil
		}
		return fmt.Errorf("codec: value has no recognized kind")
	}
	return nil
}

func readValue(r *bytes.Reader) (schema.Value, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return schema.Value{}, err
	}
	switch tag {
	case tagNull:
		return schema.Null(), nil
	case tagInteger:
		u, err := readU64(r)
		if err != nil {
			return schema.Value{}, err
		}
		return schema.Integer(int64(u)), nil
	case tagFloat:
		u, err := readU64(r)
		if err != nil {
			return schema.Value{}, err
		}
		return schema.Float(math.Float64frombits(u)), nil
	case tagText:
		s, err := readString(r)
		if err != nil {
			return schema.Value{}, err
		}
		return schema.Text(s), nil
	case tagBoolean:
		b, err := r.ReadByte()
		if err != nil {
			return schema.Value{}, err
		}
		return schema.Boolean(b != 0), nil
	case tagBlob:
		n, err := readU32(r)
		if err != nil {
			return schema.Value{}, err
		}
		blob := make([]byte, n)
		if _, err := io.ReadFull(r, blob); err != nil {
			return schema.Value{}, err
		}
		return schema.Blob(blob), nil
	case tagVector:
		n, err := readU32(r)
		if err != nil {
			return schema.Value{}, err
		}
		vec := make([]float32, n)
		for i := range vec {
			bits, err := readU32(r)
			if err != nil {
				return schema.Value{}, err
			}
			vec[i] = math.Float32frombits(bits)
		}
		return schema.Vector(vec), nil
	default:
		return schema.Value{}, fmt.Errorf("codec: unknown value tag %d", tag)
	}
}

// ---- primitives ----

func appendU32(b []byte, v uint32) []byte {
	tmp := make([]byte, 4)
	binary.LittleEndian.PutUint32(tmp, v)
	return append(b, tmp...)
}

func writeU32(buf *bytes.Buffer, v uint32) {
	tmp := make([]byte, 4)
	binary.LittleEndian.PutUint32(tmp, v)
	buf.Write(tmp)
}

func writeI32(buf *bytes.Buffer, v int32) {
	writeU32(buf, uint32(v))
}

func writeU64(buf *bytes.Buffer, v uint64) {
	tmp := make([]byte, 8)
	binary.LittleEndian.PutUint64(tmp, v)
	buf.Write(tmp)
}

func writeString(buf *bytes.Buffer, s string) {
	writeU32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readU32(r *bytes.Reader) (uint32, error) {
	tmp := make([]byte, 4)
	if _, err := io.ReadFull(r, tmp); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(tmp), nil
}

func readI32(r *bytes.Reader) (int32, error) {
	u, err := readU32(r)
	return int32(u), err
}

func readU64(r *bytes.Reader) (uint64, error) {
	tmp := make([]byte, 8)
	if _, err := io.ReadFull(r, tmp); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(tmp), nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
