// Copyright (c) 2009 The Go Authors. All rights reserved.

// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are
// met:

//    * Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//    * Redistributions in binary form must reproduce the above
// copyright notice, this list of conditions and the following disclaimer
// in the documentation and/or other materials provided with the
// distribution.
//    * Neither the name of Google Inc. nor the names of its
// contributors may be used to endorse or promote products derived from
// this software without specific prior written permission.

// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS
// "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT
// LIMITED TO, THE IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR
// A PARTICULAR PURPOSE ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT
// OWNER OR CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT
// LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR SERVICES; LOSS OF USE,
// DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER CAUSED AND ON ANY
// THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT
// (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

// Package deepequal is a fork of the standard library's reflect.DeepEqual
// with one behavioral change: when a struct type defines an
// Equal(T) bool method, that method decides equality for values of the
// type. The practical beneficiary is time.Time, whose Equal compares the
// instant and ignores the monotonic clock reading that makes
// reflect.DeepEqual report two equal timestamps as different.
package deepequal

import (
	"reflect"
	"unsafe"
)

// visit records one in-progress pointer-pair comparison. Comparisons
// already underway are assumed equal when re-encountered, which is what
// lets the walk terminate on cyclic values.
type visit struct {
	a1  unsafe.Pointer
	a2  unsafe.Pointer
	typ reflect.Type
}

// addressable returns v itself when it can be addressed, or an addressable
// copy of it otherwise. Addressability is needed twice below: to call an
// Equal method with a pointer receiver, and to read unexported fields
// through unsafe.Pointer.
func addressable(v reflect.Value) reflect.Value {
	if v.CanAddr() {
		return v
	}
	cp := reflect.New(v.Type()).Elem()
	cp.Set(v)
	return cp
}

// equalByMethod looks for an Equal method usable as an equality decision
// for v1 and v2, i.e. Equal(T) bool on T or *T, and returns its verdict.
// The second return is false when no usable method exists.
func equalByMethod(v1, v2 reflect.Value) (equal, ok bool) {
	// PtrTo exposes both value- and pointer-receiver methods.
	equalMethod, found := reflect.PtrTo(v1.Type()).MethodByName("Equal")
	if !found ||
		equalMethod.Type.NumIn() != 2 ||
		!equalMethod.Type.In(1).AssignableTo(v2.Type()) ||
		equalMethod.Type.NumOut() != 1 ||
		equalMethod.Type.Out(0).Kind() != reflect.Bool {
		return false, false
	}
	ret := equalMethod.Func.Call([]reflect.Value{addressable(v1).Addr(), v2})
	if len(ret) != 1 {
		return false, false
	}
	verdict, isBool := ret[0].Interface().(bool)
	return verdict, isBool
}

// deepValueEqual walks two values of the same type. The visited map holds
// the pointer pairs currently being compared so cyclic values terminate.
func deepValueEqual(v1, v2 reflect.Value, visited map[visit]bool) bool {
	if !v1.IsValid() || !v2.IsValid() {
		return v1.IsValid() == v2.IsValid()
	}
	if v1.Type() != v2.Type() {
		return false
	}

	// Only reference kinds can form cycles; everything else skips the
	// visited bookkeeping.
	hard := func(k reflect.Kind) bool {
		switch k {
		case reflect.Map, reflect.Slice, reflect.Ptr, reflect.Interface:
			return true
		}
		return false
	}

	if v1.CanAddr() && v2.CanAddr() && hard(v1.Kind()) {
		addr1 := unsafe.Pointer(v1.UnsafeAddr())
		addr2 := unsafe.Pointer(v2.UnsafeAddr())
		if uintptr(addr1) > uintptr(addr2) {
			// Canonical order halves the visited entries. Assumes a
			// non-moving garbage collector.
			addr1, addr2 = addr2, addr1
		}
		v := visit{addr1, addr2, v1.Type()}
		if visited[v] {
			return true
		}
		visited[v] = true
	}

	switch v1.Kind() {
	case reflect.Array:
		for i := 0; i < v1.Len(); i++ {
			if !deepValueEqual(v1.Index(i), v2.Index(i), visited) {
				return false
			}
		}
		return true
	case reflect.Slice:
		if v1.IsNil() != v2.IsNil() {
			return false
		}
		if v1.Len() != v2.Len() {
			return false
		}
		if v1.Pointer() == v2.Pointer() {
			return true
		}
		for i := 0; i < v1.Len(); i++ {
			if !deepValueEqual(v1.Index(i), v2.Index(i), visited) {
				return false
			}
		}
		return true
	case reflect.Interface:
		if v1.IsNil() || v2.IsNil() {
			return v1.IsNil() == v2.IsNil()
		}
		return deepValueEqual(v1.Elem(), v2.Elem(), visited)
	case reflect.Ptr:
		if v1.Pointer() == v2.Pointer() {
			return true
		}
		return deepValueEqual(v1.Elem(), v2.Elem(), visited)
	case reflect.Struct:
		if equal, ok := equalByMethod(v1, v2); ok {
			return equal
		}
		a1 := addressable(v1)
		a2 := addressable(v2)
		for i, n := 0, v1.NumField(); i < n; i++ {
			// Unexported fields cannot be read through Interface();
			// re-derive them from their address instead.
			f1 := a1.Field(i)
			if !f1.CanInterface() {
				f1 = reflect.NewAt(f1.Type(), unsafe.Pointer(f1.UnsafeAddr())).Elem()
			}
			f2 := a2.Field(i)
			if !f2.CanInterface() {
				f2 = reflect.NewAt(f2.Type(), unsafe.Pointer(f2.UnsafeAddr())).Elem()
			}
			if !deepValueEqual(f1, f2, visited) {
				return false
			}
		}
		return true
	case reflect.Map:
		if v1.IsNil() != v2.IsNil() {
			return false
		}
		if v1.Len() != v2.Len() {
			return false
		}
		if v1.Pointer() == v2.Pointer() {
			return true
		}
		for _, k := range v1.MapKeys() {
			val1 := v1.MapIndex(k)
			val2 := v2.MapIndex(k)
			if !val1.IsValid() || !val2.IsValid() || !deepValueEqual(val1, val2, visited) {
				return false
			}
		}
		return true
	case reflect.Func:
		return v1.IsNil() && v2.IsNil()
	default:
		// Numbers, bools, strings, channels. The addressable copies made
		// for struct fields let Interface() succeed on unexported values.
		return v1.Interface() == v2.Interface()
	}
}

// DeepEqual reports whether x and y are deeply equal. It follows the
// semantics of reflect.DeepEqual, including comparing unexported struct
// fields, with the exception documented on the package: a struct type with
// an Equal method is compared by that method. Notably, two time.Time
// values naming the same instant are deeply equal here even when only one
// carries a monotonic clock reading.
func DeepEqual(x, y interface{}) bool {
	if x == nil || y == nil {
		return x == y
	}
	v1 := reflect.ValueOf(x)
	v2 := reflect.ValueOf(y)
	if v1.Type() != v2.Type() {
		return false
	}
	return deepValueEqual(v1, v2, make(map[visit]bool))
}
