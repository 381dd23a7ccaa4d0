package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrUnknownVariant is returned when an interface value is not a registered variant,
// or a document names a variant field that is not registered.
var ErrUnknownVariant = errors.New("unknown oneof variant")

// Variant is implemented by every oneof variant.
type Variant interface {
	WireField() int
}

var timeType = reflect.TypeOf(time.Time{})

// Codec encodes and decodes tagged structs. It is safe for concurrent use.
type Codec struct {
	oneofs map[reflect.Type]map[int]reflect.Type

	mu     sync.RWMutex
	fields map[reflect.Type][]fieldInfo
}

// Option configures a Codec.
type Option func(*Codec)

// OneOf registers the variants an interface type I may hold.
func OneOf[I Variant](variants ...I) Option {
	iface := reflect.TypeOf((*I)(nil)).Elem()
	return func(c *Codec) {
		byField := c.oneofs[iface]
		if byField == nil {
			byField = make(map[int]reflect.Type)
			c.oneofs[iface] = byField
		}
		for _, v := range variants {
			byField[v.WireField()] = reflect.TypeOf(v)
		}
	}
}

// New creates a Codec.
func New(opts ...Option) *Codec {
	c := &Codec{
		oneofs: make(map[reflect.Type]map[int]reflect.Type),
		fields: make(map[reflect.Type][]fieldInfo),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type fieldInfo struct {
	index int
	key   string
	enum  bool
}

func (c *Codec) structFields(t reflect.Type) ([]fieldInfo, error) {
	c.mu.RLock()
	fi, ok := c.fields[t]
	c.mu.RUnlock()
	if ok {
		return fi, nil
	}

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag, ok := f.Tag.Lookup("wire")
		if !ok || tag == "-" || !f.IsExported() {
			continue
		}
		num, opts, _ := strings.Cut(tag, ",")
		n, err := strconv.Atoi(num)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%s.%s: invalid wire tag %q", t.Name(), f.Name, tag)
		}
		fi = append(fi, fieldInfo{index: i, key: num, enum: opts == "enum"})
	}

	c.mu.Lock()
	c.fields[t] = fi
	c.mu.Unlock()
	return fi, nil
}

// Encode converts a struct, or pointer to struct, into a document.
func (c *Codec) Encode(v any) (map[string]any, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, fmt.Errorf("wire encode: nil %T", v)
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("wire encode: %T is not a struct", v)
	}
	return c.encodeStruct(rv)
}

func (c *Codec) encodeStruct(rv reflect.Value) (map[string]any, error) {
	fields, err := c.structFields(rv.Type())
	if err != nil {
		return nil, err
	}
	doc := make(map[string]any, len(fields))
	for _, f := range fields {
		fv := rv.Field(f.index)
		if f.enum && fv.IsZero() {
			continue
		}
		out, ok, err := c.encodeValue(fv)
		if err != nil {
			return nil, fmt.Errorf("%s field %s: %w", rv.Type().Name(), f.key, err)
		}
		if ok {
			doc[f.key] = out
		}
	}
	return doc, nil
}

// encodeValue returns ok=false for values that are left out of the document.
func (c *Codec) encodeValue(v reflect.Value) (any, bool, error) {
	if v.Type() == timeType {
		t := v.Interface().(time.Time)
		if t.IsZero() {
			return nil, false, nil
		}
		return t.UnixMilli(), true, nil
	}

	switch v.Kind() {
	case reflect.String:
		return v.String(), true, nil
	case reflect.Bool:
		return v.Bool(), true, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), true, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint(), true, nil
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, false, fmt.Errorf("number %v is not representable", f)
		}
		return f, true, nil
	case reflect.Pointer:
		if v.IsNil() {
			return nil, false, nil
		}
		return c.encodeValue(v.Elem())
	case reflect.Struct:
		doc, err := c.encodeStruct(v)
		return doc, err == nil, err
	case reflect.Slice:
		if v.IsNil() {
			return nil, false, nil
		}
		list := make([]any, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			out, ok, err := c.encodeValue(v.Index(i))
			if err != nil {
				return nil, false, fmt.Errorf("[%d]: %w", i, err)
			}
			if !ok {
				return nil, false, fmt.Errorf("[%d]: empty list element", i)
			}
			list = append(list, out)
		}
		return list, true, nil
	case reflect.Map:
		if v.IsNil() {
			return nil, false, nil
		}
		if v.Type().Key().Kind() != reflect.String {
			return nil, false, fmt.Errorf("map key type %s is not a string", v.Type().Key())
		}
		doc := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out, ok, err := c.encodeValue(iter.Value())
			if err != nil {
				return nil, false, fmt.Errorf("[%q]: %w", iter.Key().String(), err)
			}
			if ok {
				doc[iter.Key().String()] = out
			}
		}
		return doc, true, nil
	case reflect.Interface:
		if v.IsNil() {
			return nil, false, nil
		}
		return c.encodeVariant(v)
	default:
		return nil, false, fmt.Errorf("unsupported kind %s", v.Kind())
	}
}

func (c *Codec) encodeVariant(v reflect.Value) (any, bool, error) {
	variants := c.oneofs[v.Type()]
	concrete := v.Elem()
	variant, ok := concrete.Interface().(Variant)
	if !ok || variants[variant.WireField()] != concrete.Type() {
		return nil, false, fmt.Errorf("%w: %s in %s", ErrUnknownVariant, concrete.Type(), v.Type())
	}
	out, _, err := c.encodeValue(concrete)
	if err != nil {
		return nil, false, err
	}
	return map[string]any{strconv.Itoa(variant.WireField()): out}, true, nil
}

// Decode fills out, which must be a pointer to a struct, from a document.
// Keys without a matching field are ignored.
func (c *Codec) Decode(doc map[string]any, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("wire decode: %T is not a pointer to a struct", out)
	}
	return c.decodeStruct(doc, rv.Elem())
}

func (c *Codec) decodeStruct(doc map[string]any, rv reflect.Value) error {
	fields, err := c.structFields(rv.Type())
	if err != nil {
		return err
	}
	for _, f := range fields {
		raw, ok := doc[f.key]
		if !ok || raw == nil {
			continue
		}
		if err := c.decodeValue(raw, rv.Field(f.index)); err != nil {
			return fmt.Errorf("%s field %s: %w", rv.Type().Name(), f.key, err)
		}
	}
	return nil
}

func (c *Codec) decodeValue(raw any, dst reflect.Value) error {
	if dst.Type() == timeType {
		ms, err := toInt(raw)
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(time.UnixMilli(ms).UTC()))
		return nil
	}

	switch dst.Kind() {
	case reflect.String:
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("got %T, want string", raw)
		}
		dst.SetString(s)
	case reflect.Bool:
		b, ok := raw.(bool)
		if !ok {
			return fmt.Errorf("got %T, want bool", raw)
		}
		dst.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := toInt(raw)
		if err != nil {
			return err
		}
		dst.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := toInt(raw)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("negative value %d for unsigned field", n)
		}
		dst.SetUint(uint64(n))
	case reflect.Float32, reflect.Float64:
		f, err := toFloat(raw)
		if err != nil {
			return err
		}
		dst.SetFloat(f)
	case reflect.Pointer:
		elem := reflect.New(dst.Type().Elem())
		if err := c.decodeValue(raw, elem.Elem()); err != nil {
			return err
		}
		dst.Set(elem)
	case reflect.Struct:
		m, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("got %T, want document", raw)
		}
		return c.decodeStruct(m, dst)
	case reflect.Slice:
		list, ok := raw.([]any)
		if !ok {
			return fmt.Errorf("got %T, want list", raw)
		}
		out := reflect.MakeSlice(dst.Type(), len(list), len(list))
		for i, item := range list {
			if err := c.decodeValue(item, out.Index(i)); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		dst.Set(out)
	case reflect.Map:
		m, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("got %T, want document", raw)
		}
		out := reflect.MakeMapWithSize(dst.Type(), len(m))
		for k, item := range m {
			elem := reflect.New(dst.Type().Elem()).Elem()
			if err := c.decodeValue(item, elem); err != nil {
				return fmt.Errorf("[%q]: %w", k, err)
			}
			out.SetMapIndex(reflect.ValueOf(k).Convert(dst.Type().Key()), elem)
		}
		dst.Set(out)
	case reflect.Interface:
		return c.decodeVariant(raw, dst)
	default:
		return fmt.Errorf("unsupported kind %s", dst.Kind())
	}
	return nil
}

func (c *Codec) decodeVariant(raw any, dst reflect.Value) error {
	m, ok := raw.(map[string]any)
	if !ok || len(m) != 1 {
		return fmt.Errorf("oneof %s: want a single entry document, got %T", dst.Type(), raw)
	}
	for key, item := range m {
		field, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("oneof %s: field %q: %w", dst.Type(), key, err)
		}
		typ, ok := c.oneofs[dst.Type()][field]
		if !ok {
			return fmt.Errorf("%w: field %d in %s", ErrUnknownVariant, field, dst.Type())
		}
		v := reflect.New(typ).Elem()
		if err := c.decodeValue(item, v); err != nil {
			return fmt.Errorf("oneof %s: %w", typ, err)
		}
		dst.Set(v)
	}
	return nil
}

func toInt(raw any) (int64, error) {
	switch n := raw.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", n)
		}
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("got %T, want integer", raw)
	}
}

func toFloat(raw any) (float64, error) {
	switch n := raw.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("got %T, want number", raw)
	}
}
