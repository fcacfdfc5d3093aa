package contextstore

import (
	"reflect"

	"github.com/pairdev/orchestrator-core/errs"
)

// validateSerializable walks v and fails with errs.KindIntegrity if v is not
// representable in the canonical encoding: a cycle (a map, slice, or
// pointer reachable from itself) or a non-serializable primitive (func,
// chan, complex, unsafe pointer). encoding/json.Marshal already produces a
// deterministic byte stream for the value shapes this store allows — map
// keys are emitted in sorted order — so this walk exists solely to catch
// inputs json.Marshal would otherwise accept by dropping information (or,
// for a true cycle, recurse until the stack overflows) silently.
func validateSerializable(v any) error {
	seen := make(map[uintptr]struct{})
	return walk(reflect.ValueOf(v), seen)
}

func walk(rv reflect.Value, seen map[uintptr]struct{}) error {
	if !rv.IsValid() {
		return nil
	}

	switch rv.Kind() {
	case reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return walk(rv.Elem(), seen)
	case reflect.Ptr:
		if rv.IsNil() {
			return nil
		}
		ptr := rv.Pointer()
		if _, ok := seen[ptr]; ok {
			return errs.New(errs.KindIntegrity, "cycle detected while serializing context")
		}
		seen[ptr] = struct{}{}
		defer delete(seen, ptr)
		return walk(rv.Elem(), seen)
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return nil
	case reflect.Slice, reflect.Array:
		return walkSequence(rv, seen)
	case reflect.Map:
		return walkMap(rv, seen)
	case reflect.Struct:
		return walkStruct(rv, seen)
	default:
		return errs.Errorf(errs.KindIntegrity, "value of kind %s is not serializable", rv.Kind())
	}
}

func walkSequence(rv reflect.Value, seen map[uintptr]struct{}) error {
	if rv.Kind() == reflect.Slice {
		if rv.IsNil() {
			return nil
		}
		if rv.Len() > 0 {
			ptr := rv.Pointer()
			if _, ok := seen[ptr]; ok {
				return errs.New(errs.KindIntegrity, "cycle detected while serializing context")
			}
			seen[ptr] = struct{}{}
			defer delete(seen, ptr)
		}
	}
	for i := 0; i < rv.Len(); i++ {
		if err := walk(rv.Index(i), seen); err != nil {
			return err
		}
	}
	return nil
}

func walkMap(rv reflect.Value, seen map[uintptr]struct{}) error {
	if rv.IsNil() {
		return nil
	}
	ptr := rv.Pointer()
	if _, ok := seen[ptr]; ok {
		return errs.New(errs.KindIntegrity, "cycle detected while serializing context")
	}
	seen[ptr] = struct{}{}
	defer delete(seen, ptr)

	if rv.Type().Key().Kind() != reflect.String {
		return errs.Errorf(errs.KindIntegrity, "map keys of kind %s are not serializable", rv.Type().Key().Kind())
	}
	iter := rv.MapRange()
	for iter.Next() {
		if err := walk(iter.Value(), seen); err != nil {
			return err
		}
	}
	return nil
}

func walkStruct(rv reflect.Value, seen map[uintptr]struct{}) error {
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).PkgPath != "" {
			continue // unexported
		}
		if err := walk(rv.Field(i), seen); err != nil {
			return err
		}
	}
	return nil
}
