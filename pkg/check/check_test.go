package check

import (
	"errors"
	"testing"
	"time"
)

func TestCheckBasic(t *testing.T) {
	T(t,
		True(true),
		False(false),
		Nil(nil),
		NotNil(errors.New("test error")),
		Eq(1, 1),
		Eq("Testing", "Testing"))
}

// TestEq checks the main feature of Check.Eq, which is that it reguards empty
// slices and nil slices as identical
func TestEq(t *testing.T) {
	T(t,
		Eq([]int{}, []int(nil)),
		Eq([]int(nil), []int{}))
}

// TestEqInStruct checks that empty slices and nil slices are reguarded as
// identical even when they're embedded in struct fields
func TestEqInStruct(t *testing.T) {
	type s struct {
		Empty []int
		Nil   []int
	}

	// actual is opposite of expected
	Eq(
		s{Empty: nil,
			Nil: make([]int, 0)},
		s{Empty: make([]int, 0),
			Nil: nil})
	// test struct pointer as well
	Eq(
		&s{Empty: nil,
			Nil: make([]int, 0)},
		&s{Empty: make([]int, 0),
			Nil: nil})
}

// TestEqInStruct checks that empty slices and nil slices are reguarded as
// identical even when they're embedded in a parent slice
func TestEqInSlice(t *testing.T) {
	// actual is opposite of expected
	Eq(
		[][]int{nil, make([]int, 0)},
		[][]int{make([]int, 0), nil})
}

// TestEqTime checks that times are compared as instants, so the same moment in
// two locations is equal
func TestEqTime(t *testing.T) {
	utc := time.Date(2024, 3, 4, 7, 0, 0, 0, time.UTC)
	type span struct {
		Start time.Time
		Len   time.Duration
	}
	T(t,
		Eq(utc.In(time.FixedZone("CST", -6*3600)), utc),
		Eq(span{Start: utc, Len: time.Hour}, span{Start: utc.Local(), Len: time.Hour}),
		NotNil(Eq(utc, utc.Add(time.Second))),
	)
}

func TestApproxAndLen(t *testing.T) {
	T(t,
		Approx(33.3333, 33.33, 0.01),
		NotNil(Approx(1, 2, 0.5)),
		Len([]int{1, 2}, 2),
		Len("abc", 3),
		NotNil(Len(map[string]int{}, 1)),
	)
}
