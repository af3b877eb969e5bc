// Package assertdeep provides test assertions built on top of the deepequal
// package.
package assertdeep

import (
	"fmt"
	"reflect"

	"github.com/davecgh/go-spew/spew"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/stretchr/testify/require"

	"github.com/scholarr/scholarr/go/deepequal"
	"github.com/scholarr/scholarr/go/sktest"
)

// spewConfig disables methods like String() and Error() so the diff is over
// the actual data.
var spewConfig = spew.ConfigState{
	Indent:                  " ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	DisableMethods:          true,
	SortKeys:                true,
}

// Equal fails the test if the two objects do not pass a modified version of
// reflect.DeepEqual that calls an Equal method when one is defined, which
// among other things ignores the monotonic clock reading inside time.Time.
func Equal(t sktest.TestingT, expected, actual interface{}) {
	if deepequal.DeepEqual(expected, actual) {
		return
	}
	// The formatting is inspired by stretchr/testify's assert.Equal() output.
	extra := ""
	if doDetailedDiff(expected, actual) {
		e := spewConfig.Sdump(expected)
		a := spewConfig.Sdump(actual)
		diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(e),
			B:        difflib.SplitLines(a),
			FromFile: "Expected",
			ToFile:   "Actual",
			Context:  1,
		})
		if err == nil {
			extra = "\n\nDiff:\n" + diff
		}
	}
	require.FailNow(t, fmt.Sprintf("Objects do not match: \na:\n%s\n\nb:\n%s%s\n", spew.Sdump(expected), spew.Sdump(actual), extra))
}

// Copy is Equal but also checks that none of the direct fields have a zero
// value and that none of the direct fields point to the same object. This
// catches regressions where a new field is added without adding that field to
// the Copy method. Arguments must be structs.
func Copy(t sktest.TestingT, a, b interface{}) {
	Equal(t, a, b)

	// Check that all fields are non-zero.
	va := reflect.ValueOf(a)
	vb := reflect.ValueOf(b)
	require.Equal(t, va.Type(), vb.Type(), "Arguments are different types.")
	for va.Kind() == reflect.Ptr {
		require.Equal(t, reflect.Ptr, vb.Kind(), "Arguments are different types (pointer vs. non-pointer)")
		va = va.Elem()
		vb = vb.Elem()
	}
	require.Equal(t, reflect.Struct, va.Kind(), "Not a struct or pointer to struct.")
	require.Equal(t, reflect.Struct, vb.Kind(), "Arguments are different types (pointer vs. non-pointer)")
	for i := 0; i < va.NumField(); i++ {
		fa := va.Field(i)
		z := reflect.Zero(fa.Type())
		if reflect.DeepEqual(fa.Interface(), z.Interface()) {
			require.FailNow(t, fmt.Sprintf("Missing field %q (or set to zero value).", va.Type().Field(i).Name))
		}
		if fa.Kind() == reflect.Map || fa.Kind() == reflect.Ptr || fa.Kind() == reflect.Slice {
			fb := vb.Field(i)
			require.NotEqual(t, fa.Pointer(), fb.Pointer(), "Field %q not deep-copied.", va.Type().Field(i).Name)
		}
	}
}

// doDetailedDiff returns true when a line diff of the spew dumps will add
// signal, that is when both values are non-nil compound types.
func doDetailedDiff(e, a interface{}) bool {
	if e == nil || a == nil {
		return false
	}
	switch reflect.TypeOf(e).Kind() {
	case reflect.Struct, reflect.Map, reflect.Slice, reflect.Array, reflect.Ptr:
		return true
	default:
		return false
	}
}
