package reldb

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"
)

// Kind is the value type of a table field.
type Kind int

const (
	KindInvalid Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindTime
	KindRef
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindRef:
		return "ref"
	default:
		return fmt.Sprintf("invalid kind %d", int(k))
	}
}

// RowID identifies a stored row for its whole lifetime. IDs are allocated
// from a single counter per Schema, start at 1 and are never reused.
type RowID uint64

const maxRowID = RowID(math.MaxUint64)

func (id RowID) String() string {
	return "#" + strconv.FormatUint(uint64(id), 10)
}

// Ref points to a row of the target table of a ref field. Obtain one via
// Schema.Ref.
type Ref struct {
	id RowID
}

// RefTo builds a Ref to the given row ID.
func RefTo(id RowID) Ref {
	return Ref{id}
}

func (r Ref) ID() RowID    { return r.id }
func (r Ref) IsZero() bool { return r.id == 0 }

func (r Ref) String() string {
	return "ref" + r.id.String()
}

// TupleValue is the value produced by a Tuple expression, and the literal
// type used to compare against one.
type TupleValue []any

// normalizeValue maps Go values onto the small set of types used by
// expressions: string, int64, float64, bool, time.Time, RowID and
// TupleValue. Refs are dereferenced to their bare RowID.
func normalizeValue(v any) (any, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case string:
		return v, nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return v, nil
	case bool:
		return v, nil
	case time.Time:
		return v, nil
	case RowID:
		return v, nil
	case Ref:
		return v.id, nil
	case TupleValue:
		return normalizeTuple(v)
	case []any:
		return normalizeTuple(v)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %T %v does not fit into int64", ErrInvalidValue, v, v)
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	}
	return nil, fmt.Errorf("%w: unsupported value type %T", ErrInvalidValue, v)
}

func normalizeTuple(items []any) (any, error) {
	result := make(TupleValue, len(items))
	for i, item := range items {
		v, err := normalizeValue(item)
		if err != nil {
			return nil, err
		}
		result[i] = v
	}
	return result, nil
}

// coerceField converts a value supplied for a field of the given kind into
// its stored representation.
func coerceField(kind Kind, v any) (any, error) {
	switch kind {
	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.String {
			return rv.String(), nil
		}
	case KindInt:
		if _, isFloat := v.(float64); !isFloat {
			if n, err := normalizeValue(v); err == nil {
				if i, ok := n.(int64); ok {
					return i, nil
				}
			}
		}
	case KindFloat:
		if n, err := normalizeValue(v); err == nil {
			switch n := n.(type) {
			case float64:
				return n, nil
			case int64:
				return float64(n), nil
			}
		}
	case KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case KindTime:
		if t, ok := v.(time.Time); ok {
			return t, nil
		}
	case KindRef:
		switch v := v.(type) {
		case Ref:
			return v, nil
		case RowID:
			return Ref{v}, nil
		}
	}
	return nil, fmt.Errorf("%w: %T %v is not a valid %v", ErrInvalidValue, v, v, kind)
}

// coerceLiteral normalizes a literal that is compared against a value of
// the given kind, converting numbers when no precision is lost. KindInvalid
// means the peer kind is unknown.
func coerceLiteral(kind Kind, v any) any {
	n, err := normalizeValue(v)
	if err != nil {
		panic(err)
	}
	switch kind {
	case KindFloat:
		if i, ok := n.(int64); ok {
			return float64(i)
		}
	case KindInt:
		if f, ok := n.(float64); ok && f == math.Trunc(f) && math.Abs(f) < (1<<53) {
			return int64(f)
		}
	case KindRef:
		if i, ok := n.(int64); ok && i >= 0 {
			return RowID(i)
		}
	}
	return n
}

func kindOfValue(v any) Kind {
	switch v.(type) {
	case string:
		return KindString
	case int64:
		return KindInt
	case float64:
		return KindFloat
	case bool:
		return KindBool
	case time.Time:
		return KindTime
	case RowID:
		return KindRef
	default:
		return KindInvalid
	}
}

func formatValue(v any) string {
	switch v := v.(type) {
	case string:
		return strconv.Quote(v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case TupleValue:
		s := "("
		for i, item := range v {
			if i > 0 {
				s += ", "
			}
			s += formatValue(item)
		}
		return s + ")"
	default:
		return fmt.Sprint(v)
	}
}

func truthy(v any) bool {
	b, _ := v.(bool)
	return b
}
