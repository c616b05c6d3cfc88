package overture

import (
	"bytes"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// batch：一批记录的列访问器；支持一层 struct 子字段（如 names.primary）
// 约束：arrow 的字符串与二进制值引用批内缓冲区，取出时必须复制，批次在下一次 Next 后失效
type batch struct {
	rec  arrow.Record
	cols map[string]arrow.Array
}

func newBatch(rec arrow.Record) *batch {
	return &batch{rec: rec, cols: make(map[string]arrow.Array, 8)}
}

func (b *batch) rows() int { return int(b.rec.NumRows()) }

func (b *batch) col(path string) arrow.Array {
	if a, ok := b.cols[path]; ok {
		return a
	}
	a := lookupColumn(b.rec, path)
	b.cols[path] = a
	return a
}

func lookupColumn(rec arrow.Record, path string) arrow.Array {
	top, child, nested := strings.Cut(path, ".")
	idx := rec.Schema().FieldIndices(top)
	if len(idx) == 0 {
		return nil
	}
	arr := rec.Column(idx[0])
	if !nested {
		return arr
	}
	st, ok := arr.(*array.Struct)
	if !ok {
		return nil
	}
	fi, ok := st.DataType().(*arrow.StructType).FieldIdx(child)
	if !ok {
		return nil
	}
	return st.Field(fi)
}

func (b *batch) str(path string, i int) string { return stringValue(b.col(path), i) }

func (b *batch) bytes(path string, i int) []byte { return binaryValue(b.col(path), i) }

func (b *batch) division(i int) Division {
	return Division{
		ID:       b.str("id", i),
		Name:     b.str("names.primary", i),
		Subtype:  b.str("subtype", i),
		Class:    b.str("class", i),
		Country:  b.str("country", i),
		ParentID: b.str("parent_division_id", i),
	}
}

func stringValue(arr arrow.Array, i int) string {
	if arr == nil || arr.IsNull(i) {
		return ""
	}
	switch a := arr.(type) {
	case *array.String:
		return strings.Clone(a.Value(i))
	case *array.LargeString:
		return strings.Clone(a.Value(i))
	case *array.Binary:
		return string(a.Value(i))
	case *array.Dictionary:
		return stringValue(a.Dictionary(), a.GetValueIndex(i))
	}
	return ""
}

func binaryValue(arr arrow.Array, i int) []byte {
	if arr == nil || arr.IsNull(i) {
		return nil
	}
	switch a := arr.(type) {
	case *array.Binary:
		return bytes.Clone(a.Value(i))
	case *array.LargeBinary:
		return bytes.Clone(a.Value(i))
	case *array.Dictionary:
		return binaryValue(a.Dictionary(), a.GetValueIndex(i))
	}
	return nil
}
