package datatype

// Supertype returns the smallest type both a and b can be implicitly cast
// to. Numeric types widen, temporal types meet numeric types at their
// physical integer representation, and string/categorical mixes have no
// supertype.
func Supertype(a, b DataType) (DataType, bool) {
	if a.Equal(b) {
		return a, true
	}
	if a.Kind == KindNull {
		return b, true
	}
	if b.Kind == KindNull {
		return a, true
	}
	if a.Kind == KindUnknown || b.Kind == KindUnknown {
		return Unknown, false
	}

	// Order the pair so the checks below only need one direction.
	if rank(a) > rank(b) {
		a, b = b, a
	}

	switch {
	case a.Kind == KindBoolean && b.IsNumeric():
		return b, true
	case a.IsNumeric() && b.IsNumeric():
		return numericSupertype(a, b), true
	case a.IsTemporal() && b.IsTemporal():
		return temporalSupertype(a, b)
	case a.IsNumeric() && b.IsTemporal():
		return numericSupertype(a, Int64), true
	case a.Kind == KindList && b.Kind == KindList,
		a.Kind == KindArray && b.Kind == KindList:
		inner, ok := Supertype(*a.Inner, *b.Inner)
		if !ok {
			return Unknown, false
		}
		return List(inner), true
	case a.Kind == KindArray && b.Kind == KindArray:
		if a.Width != b.Width {
			inner, ok := Supertype(*a.Inner, *b.Inner)
			if !ok {
				return Unknown, false
			}
			return List(inner), true
		}
		inner, ok := Supertype(*a.Inner, *b.Inner)
		if !ok {
			return Unknown, false
		}
		return Array(inner, a.Width), true
	}
	return Unknown, false
}

// rank orders kinds so Supertype can normalize argument order.
func rank(t DataType) int {
	switch {
	case t.Kind == KindBoolean:
		return 0
	case t.IsNumeric():
		return 1
	case t.IsTemporal():
		return 2
	case t.Kind == KindArray:
		return 3
	case t.Kind == KindList:
		return 4
	}
	return 5 + int(t.Kind)
}

func numericSupertype(a, b DataType) DataType {
	switch {
	case a.Kind == KindDecimal && b.Kind == KindDecimal:
		scale := max(a.Scale, b.Scale)
		intDigits := max(a.Precision-a.Scale, b.Precision-b.Scale)
		return Decimal(min(intDigits+scale, 38), scale)
	case a.Kind == KindDecimal && b.IsInteger():
		return a
	case b.Kind == KindDecimal && a.IsInteger():
		return b
	case a.Kind == KindDecimal || b.Kind == KindDecimal:
		return Float64
	case a.IsFloat() || b.IsFloat():
		if a.Kind == KindFloat64 || b.Kind == KindFloat64 {
			return Float64
		}
		// Float32 absorbs integers up to 16 bits.
		other := a
		if a.IsFloat() {
			other = b
		}
		if other.IsFloat() || other.bits() <= 16 {
			return Float32
		}
		return Float64
	case a.IsSigned() == b.IsSigned():
		if a.bits() >= b.bits() {
			return a
		}
		return b
	}

	signed, unsigned := a, b
	if a.IsUnsigned() {
		signed, unsigned = b, a
	}
	switch width := max(signed.bits(), 2*unsigned.bits()); {
	case width <= 16:
		return Int16
	case width <= 32:
		return Int32
	case width <= 64 && unsigned.Kind != KindUInt64:
		return Int64
	}
	return Float64
}

func temporalSupertype(a, b DataType) (DataType, bool) {
	switch {
	case a.Kind == b.Kind && (a.Kind == KindDatetime || a.Kind == KindDuration):
		return DataType{Kind: a.Kind, Unit: finerUnit(a.Unit, b.Unit)}, true
	case a.Kind == KindDate && b.Kind == KindDatetime:
		return b, true
	case a.Kind == KindDatetime && b.Kind == KindDate:
		return a, true
	}
	return Unknown, false
}

func finerUnit(a, b TimeUnit) TimeUnit {
	order := map[TimeUnit]int{Milliseconds: 0, Microseconds: 1, Nanoseconds: 2}
	if order[a] >= order[b] {
		return a
	}
	return b
}

// CanCast reports whether an explicit cast from one type to another is
// allowed. A permitted cast may still fail per value at run time when strict.
func CanCast(from, to DataType) bool {
	if from.Equal(to) || from.Kind == KindNull || to.Kind == KindUnknown {
		return true
	}
	switch {
	case from.Kind == KindBoolean && to.Kind == KindCategorical:
		return false
	case to.Kind == KindCategorical:
		return from.Kind == KindString
	case from.Kind == KindCategorical:
		return to.Kind == KindString
	case to.Kind == KindString:
		return !from.IsNested() && from.Kind != KindBinary
	case from.Kind == KindString:
		return to.IsNumeric() || to.IsTemporal() || to.Kind == KindBoolean || to.Kind == KindBinary
	case from.Kind == KindBoolean:
		return to.IsNumeric()
	case from.IsNumeric() || from.IsTemporal():
		return to.IsNumeric() || to.IsTemporal() || to.Kind == KindBoolean
	case from.Kind == KindList && to.Kind == KindList,
		from.Kind == KindArray && to.Kind == KindList,
		from.Kind == KindList && to.Kind == KindArray:
		return CanCast(*from.Inner, *to.Inner)
	case from.Kind == KindArray && to.Kind == KindArray:
		return from.Width == to.Width && CanCast(*from.Inner, *to.Inner)
	case from.Kind == KindStruct && to.Kind == KindStruct:
		if len(from.Fields) != len(to.Fields) {
			return false
		}
		for i := range from.Fields {
			if !CanCast(from.Fields[i].Type, to.Fields[i].Type) {
				return false
			}
		}
		return true
	}
	return false
}
