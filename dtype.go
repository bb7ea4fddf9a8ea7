package opteryx

import "fmt"

// DType represents the logical type of a Column, per the data model's
// supported logical types: boolean, int32, int64, float32, float64,
// decimal(p,s), utf8-string, binary, date32, timestamp-nanos,
// list-of-T, struct-of-named-fields.
type DType uint8

const (
	Float64 DType = iota
	Float32
	Int64
	Int32
	Decimal
	Bool
	String
	Binary
	Date32
	TimestampNanos
	Null

	Struct
	List

	Categorical // string stored as dictionary indices; not in spec's type list but carried from teacher for low-cardinality string columns
)

func (d DType) String() string {
	switch d {
	case Float64:
		return "Float64"
	case Float32:
		return "Float32"
	case Int64:
		return "Int64"
	case Int32:
		return "Int32"
	case Decimal:
		return "Decimal"
	case Bool:
		return "Bool"
	case String:
		return "String"
	case Binary:
		return "Binary"
	case Date32:
		return "Date32"
	case TimestampNanos:
		return "TimestampNanos"
	case Null:
		return "Null"
	case Struct:
		return "Struct"
	case List:
		return "List"
	case Categorical:
		return "Categorical"
	default:
		return fmt.Sprintf("Unknown(%d)", d)
	}
}

// IsNumeric reports whether arithmetic is defined for the dtype.
func (d DType) IsNumeric() bool {
	switch d {
	case Float64, Float32, Int64, Int32, Decimal:
		return true
	default:
		return false
	}
}

// IsFloat reports whether the dtype is an IEEE-754 floating point type.
func (d DType) IsFloat() bool {
	return d == Float64 || d == Float32
}

// IsInteger reports whether the dtype is an exact integer type.
func (d DType) IsInteger() bool {
	return d == Int64 || d == Int32
}

// IsNested reports whether the dtype is a nested (Struct or List) type.
func (d DType) IsNested() bool {
	return d == Struct || d == List
}

// IsCategorical reports whether the dtype is dictionary-encoded string data.
func (d DType) IsCategorical() bool {
	return d == Categorical
}

// Size returns the fixed physical width in bytes, or -1 for variable-width
// and nested types, or 0 for Null.
func (d DType) Size() int {
	switch d {
	case Float64, Int64, TimestampNanos, Decimal:
		return 8
	case Float32, Int32, Date32:
		return 4
	case Bool:
		return 1
	case String, Binary, List, Struct, Categorical:
		return -1
	case Null:
		return 0
	default:
		return 0
	}
}

// DecimalParams describes the precision/scale of a Decimal column. Stored
// out-of-band from DType because DType itself is a fixed-size tag.
type DecimalParams struct {
	Precision int
	Scale     int
}

// StructField describes one named field of a Struct dtype.
type StructField struct {
	Name  string
	DType DType
	Inner interface{} // *StructType or *ListType, for nested fields
}

// StructType describes the shape of a Struct dtype.
type StructType struct {
	Fields []StructField
}

func NewStructType(fields []StructField) *StructType {
	return &StructType{Fields: append([]StructField{}, fields...)}
}

func (s *StructType) GetField(name string) (*StructField, bool) {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i], true
		}
	}
	return nil, false
}

func (s *StructType) GetFieldIndex(name string) (int, bool) {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return i, true
		}
	}
	return -1, false
}

func (s *StructType) NumFields() int { return len(s.Fields) }

func (s *StructType) String() string {
	result := "Struct{"
	for i, f := range s.Fields {
		if i > 0 {
			result += ", "
		}
		result += fmt.Sprintf("%s: %s", f.Name, f.DType)
	}
	return result + "}"
}

// ListType describes the element type of a List dtype.
type ListType struct {
	ElementType DType
	Inner       interface{}
}

func NewListType(elemType DType) *ListType {
	return &ListType{ElementType: elemType}
}

func (l *ListType) String() string {
	return fmt.Sprintf("List[%s]", l.ElementType)
}

// Field is one (name, logical_type, nullable) schema entry.
type Field struct {
	Name     string
	DType    DType
	Nullable bool

	// Decimal and nested-type metadata, valid only when DType is Decimal,
	// Struct, or List respectively.
	Decimal DecimalParams
	Struct  *StructType
	List    *ListType
}

// Schema is an ordered list of Fields. Names within a schema must be
// unique; cross-input name collisions are the planner's responsibility and
// never reach the executor (§3).
type Schema struct {
	fields []Field
	index  map[string]int
}

// NewSchema builds a Schema from fields, rejecting duplicate names.
func NewSchema(fields []Field) (*Schema, error) {
	index := make(map[string]int, len(fields))
	for i, f := range fields {
		if _, dup := index[f.Name]; dup {
			return nil, NewSchemaError("NewSchema", fmt.Sprintf("duplicate column name: %s", f.Name))
		}
		index[f.Name] = i
	}
	return &Schema{fields: append([]Field{}, fields...), index: index}, nil
}

// Len returns the number of columns in the schema.
func (s *Schema) Len() int { return len(s.fields) }

// Fields returns a copy of the schema's fields, in order.
func (s *Schema) Fields() []Field { return append([]Field{}, s.fields...) }

// Names returns the column names, in order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name
	}
	return names
}

// Field returns the field at index i.
func (s *Schema) Field(i int) Field { return s.fields[i] }

// FieldByName returns the field named name and whether it was found.
func (s *Schema) FieldByName(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// IndexOf returns the column index of name, or -1 if absent.
func (s *Schema) IndexOf(name string) int {
	if i, ok := s.index[name]; ok {
		return i
	}
	return -1
}

// Project returns a new Schema containing only the named columns, in the
// order requested — used by readers honoring projection pushdown (§6).
func (s *Schema) Project(names []string) (*Schema, error) {
	fields := make([]Field, 0, len(names))
	for _, name := range names {
		f, ok := s.FieldByName(name)
		if !ok {
			return nil, NewSchemaError("Project", fmt.Sprintf("column %q not found", name))
		}
		fields = append(fields, f)
	}
	return NewSchema(fields)
}

// Equal reports whether two schemas have the same fields in the same order
// (used to validate Morsel.Concat's "all inputs must share schema").
func (s *Schema) Equal(other *Schema) bool {
	if other == nil || len(s.fields) != len(other.fields) {
		return false
	}
	for i, f := range s.fields {
		o := other.fields[i]
		if f.Name != o.Name || f.DType != o.DType || f.Nullable != o.Nullable {
			return false
		}
	}
	return true
}

func (s *Schema) String() string {
	result := "Schema{\n"
	for _, f := range s.fields {
		nullability := "NOT NULL"
		if f.Nullable {
			nullability = "NULL"
		}
		result += fmt.Sprintf("  %s: %s %s\n", f.Name, f.DType, nullability)
	}
	return result + "}"
}
