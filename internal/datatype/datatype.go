package datatype

import (
	"fmt"
	"strings"
)

// Kind is the tag of a DataType.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNull
	KindBoolean
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindUInt8
	KindUInt16
	KindUInt32
	KindUInt64
	KindFloat32
	KindFloat64
	KindDecimal
	KindString
	KindBinary
	KindCategorical
	KindDate
	KindDatetime
	KindDuration
	KindTime
	KindList
	KindArray
	KindStruct
)

// TimeUnit is the resolution of Datetime and Duration values.
type TimeUnit string

const (
	Nanoseconds  TimeUnit = "ns"
	Microseconds TimeUnit = "us"
	Milliseconds TimeUnit = "ms"
)

// DataType describes the type of a column or expression. The zero value is
// the unknown type.
type DataType struct {
	Kind Kind

	// Decimal
	Precision int
	Scale     int

	// Datetime, Duration
	Unit TimeUnit

	// List, Array
	Inner *DataType
	Width int

	// Struct
	Fields []Field
}

// Field is a named member of a struct type.
type Field struct {
	Name string
	Type DataType
}

// Primitive types.
var (
	Unknown     = DataType{Kind: KindUnknown}
	Null        = DataType{Kind: KindNull}
	Boolean     = DataType{Kind: KindBoolean}
	Int8        = DataType{Kind: KindInt8}
	Int16       = DataType{Kind: KindInt16}
	Int32       = DataType{Kind: KindInt32}
	Int64       = DataType{Kind: KindInt64}
	UInt8       = DataType{Kind: KindUInt8}
	UInt16      = DataType{Kind: KindUInt16}
	UInt32      = DataType{Kind: KindUInt32}
	UInt64      = DataType{Kind: KindUInt64}
	Float32     = DataType{Kind: KindFloat32}
	Float64     = DataType{Kind: KindFloat64}
	String      = DataType{Kind: KindString}
	Binary      = DataType{Kind: KindBinary}
	Categorical = DataType{Kind: KindCategorical}
	Date        = DataType{Kind: KindDate}
	Time        = DataType{Kind: KindTime}
)

// Datetime returns a datetime type with the given resolution.
func Datetime(unit TimeUnit) DataType {
	return DataType{Kind: KindDatetime, Unit: unit}
}

// Duration returns a duration type with the given resolution.
func Duration(unit TimeUnit) DataType {
	return DataType{Kind: KindDuration, Unit: unit}
}

// Decimal returns a decimal type.
func Decimal(precision, scale int) DataType {
	return DataType{Kind: KindDecimal, Precision: precision, Scale: scale}
}

// List returns a variable-length list of inner.
func List(inner DataType) DataType {
	return DataType{Kind: KindList, Inner: &inner}
}

// Array returns a fixed-width array of inner.
func Array(inner DataType, width int) DataType {
	return DataType{Kind: KindArray, Inner: &inner, Width: width}
}

// Struct returns a struct type with the given fields.
func Struct(fields ...Field) DataType {
	return DataType{Kind: KindStruct, Fields: append([]Field(nil), fields...)}
}

// IsInteger reports whether t is a signed or unsigned integer.
func (t DataType) IsInteger() bool {
	return t.Kind >= KindInt8 && t.Kind <= KindUInt64
}

// IsSigned reports whether t is a signed integer.
func (t DataType) IsSigned() bool {
	return t.Kind >= KindInt8 && t.Kind <= KindInt64
}

// IsUnsigned reports whether t is an unsigned integer.
func (t DataType) IsUnsigned() bool {
	return t.Kind >= KindUInt8 && t.Kind <= KindUInt64
}

// IsFloat reports whether t is a floating point type.
func (t DataType) IsFloat() bool {
	return t.Kind == KindFloat32 || t.Kind == KindFloat64
}

// IsNumeric reports whether t supports arithmetic.
func (t DataType) IsNumeric() bool {
	return t.IsInteger() || t.IsFloat() || t.Kind == KindDecimal
}

// IsTemporal reports whether t is a date, time, datetime or duration.
func (t DataType) IsTemporal() bool {
	switch t.Kind {
	case KindDate, KindDatetime, KindDuration, KindTime:
		return true
	}
	return false
}

// IsNested reports whether t is a list, array or struct.
func (t DataType) IsNested() bool {
	return t.Kind == KindList || t.Kind == KindArray || t.Kind == KindStruct
}

// IsStringLike reports whether t holds text.
func (t DataType) IsStringLike() bool {
	return t.Kind == KindString || t.Kind == KindCategorical
}

// bits returns the width of integer and float types.
func (t DataType) bits() int {
	switch t.Kind {
	case KindInt8, KindUInt8:
		return 8
	case KindInt16, KindUInt16:
		return 16
	case KindInt32, KindUInt32, KindFloat32:
		return 32
	case KindInt64, KindUInt64, KindFloat64:
		return 64
	}
	return 0
}

// Equal reports whether two types are identical, recursing into nested types.
func (t DataType) Equal(o DataType) bool {
	if t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case KindDecimal:
		return t.Precision == o.Precision && t.Scale == o.Scale
	case KindDatetime, KindDuration:
		return t.Unit == o.Unit
	case KindList:
		return t.Inner.Equal(*o.Inner)
	case KindArray:
		return t.Width == o.Width && t.Inner.Equal(*o.Inner)
	case KindStruct:
		if len(t.Fields) != len(o.Fields) {
			return false
		}
		for i := range t.Fields {
			if t.Fields[i].Name != o.Fields[i].Name || !t.Fields[i].Type.Equal(o.Fields[i].Type) {
				return false
			}
		}
	}
	return true
}

var kindNames = map[Kind]string{
	KindUnknown:     "unknown",
	KindNull:        "null",
	KindBoolean:     "bool",
	KindInt8:        "i8",
	KindInt16:       "i16",
	KindInt32:       "i32",
	KindInt64:       "i64",
	KindUInt8:       "u8",
	KindUInt16:      "u16",
	KindUInt32:      "u32",
	KindUInt64:      "u64",
	KindFloat32:     "f32",
	KindFloat64:     "f64",
	KindString:      "str",
	KindBinary:      "binary",
	KindCategorical: "cat",
	KindDate:        "date",
	KindTime:        "time",
}

// String renders t in the short form accepted by Parse.
func (t DataType) String() string {
	switch t.Kind {
	case KindDecimal:
		return fmt.Sprintf("decimal[%d,%d]", t.Precision, t.Scale)
	case KindDatetime:
		return fmt.Sprintf("datetime[%s]", t.Unit)
	case KindDuration:
		return fmt.Sprintf("duration[%s]", t.Unit)
	case KindList:
		return fmt.Sprintf("list[%s]", t.Inner)
	case KindArray:
		return fmt.Sprintf("array[%s,%d]", t.Inner, t.Width)
	case KindStruct:
		parts := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			parts[i] = f.Name + ": " + f.Type.String()
		}
		return "struct{" + strings.Join(parts, ", ") + "}"
	}
	return kindNames[t.Kind]
}

// Parse reads the short form produced by String. Struct types are not
// accepted.
func Parse(s string) (DataType, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	for k, name := range kindNames {
		if s == name && k != KindUnknown {
			return DataType{Kind: k}, nil
		}
	}
	switch s {
	case "int", "integer":
		return Int64, nil
	case "float", "double":
		return Float64, nil
	case "string", "utf8", "text":
		return String, nil
	case "boolean":
		return Boolean, nil
	case "datetime":
		return Datetime(Microseconds), nil
	case "duration":
		return Duration(Microseconds), nil
	}

	open := strings.IndexByte(s, '[')
	if open < 0 || !strings.HasSuffix(s, "]") {
		return Unknown, fmt.Errorf("unknown data type %q", s)
	}
	head, arg := s[:open], s[open+1:len(s)-1]
	switch head {
	case "datetime", "duration":
		unit := TimeUnit(arg)
		if unit != Nanoseconds && unit != Microseconds && unit != Milliseconds {
			return Unknown, fmt.Errorf("unknown time unit %q", arg)
		}
		if head == "datetime" {
			return Datetime(unit), nil
		}
		return Duration(unit), nil
	case "decimal":
		var p, sc int
		if _, err := fmt.Sscanf(arg, "%d,%d", &p, &sc); err != nil {
			return Unknown, fmt.Errorf("invalid decimal type %q", s)
		}
		return Decimal(p, sc), nil
	case "list":
		inner, err := Parse(arg)
		if err != nil {
			return Unknown, err
		}
		return List(inner), nil
	case "array":
		comma := strings.LastIndexByte(arg, ',')
		if comma < 0 {
			return Unknown, fmt.Errorf("array type %q needs a width", s)
		}
		inner, err := Parse(arg[:comma])
		if err != nil {
			return Unknown, err
		}
		var width int
		if _, err := fmt.Sscanf(strings.TrimSpace(arg[comma+1:]), "%d", &width); err != nil || width <= 0 {
			return Unknown, fmt.Errorf("invalid array width in %q", s)
		}
		return Array(inner, width), nil
	}
	return Unknown, fmt.Errorf("unknown data type %q", s)
}

// MarshalYAML renders the type in short form.
func (t DataType) MarshalYAML() (any, error) {
	return t.String(), nil
}
