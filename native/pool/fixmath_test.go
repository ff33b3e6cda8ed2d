package pool

import (
	"errors"
	"math/big"
	"testing"
)

func TestMulFloorAndCeil(t *testing.T) {
	cases := []struct {
		a, b  int64
		floor int64
		ceil  int64
	}{
		{a: 10_000_000, b: 10_000_000, floor: 10_000_000, ceil: 10_000_000},
		{a: 3, b: 5_000_000, floor: 1, ceil: 2},
		{a: 1, b: 1, floor: 0, ceil: 1},
		{a: 0, b: 9_999_999, floor: 0, ceil: 0},
		{a: -3, b: 5_000_000, floor: -2, ceil: -1},
	}
	for _, tc := range cases {
		got, err := mulFloor(big.NewInt(tc.a), big.NewInt(tc.b), Scalar7)
		if err != nil {
			t.Fatalf("mulFloor(%d, %d): %v", tc.a, tc.b, err)
		}
		if got.Cmp(big.NewInt(tc.floor)) != 0 {
			t.Fatalf("mulFloor(%d, %d) = %s, want %d", tc.a, tc.b, got, tc.floor)
		}
		got, err = mulCeil(big.NewInt(tc.a), big.NewInt(tc.b), Scalar7)
		if err != nil {
			t.Fatalf("mulCeil(%d, %d): %v", tc.a, tc.b, err)
		}
		if got.Cmp(big.NewInt(tc.ceil)) != 0 {
			t.Fatalf("mulCeil(%d, %d) = %s, want %d", tc.a, tc.b, got, tc.ceil)
		}
	}
}

func TestDivFloorAndCeil(t *testing.T) {
	cases := []struct {
		a, b  int64
		floor int64
		ceil  int64
	}{
		{a: 1, b: 3, floor: 3_333_333, ceil: 3_333_334},
		{a: 10, b: 2, floor: 50_000_000, ceil: 50_000_000},
		{a: 1, b: 10_000_000, floor: 1, ceil: 1},
		{a: 1, b: 30_000_000, floor: 0, ceil: 1},
	}
	for _, tc := range cases {
		got, err := divFloor(big.NewInt(tc.a), big.NewInt(tc.b), Scalar7)
		if err != nil {
			t.Fatalf("divFloor(%d, %d): %v", tc.a, tc.b, err)
		}
		if got.Cmp(big.NewInt(tc.floor)) != 0 {
			t.Fatalf("divFloor(%d, %d) = %s, want %d", tc.a, tc.b, got, tc.floor)
		}
		got, err = divCeil(big.NewInt(tc.a), big.NewInt(tc.b), Scalar7)
		if err != nil {
			t.Fatalf("divCeil(%d, %d): %v", tc.a, tc.b, err)
		}
		if got.Cmp(big.NewInt(tc.ceil)) != 0 {
			t.Fatalf("divCeil(%d, %d) = %s, want %d", tc.a, tc.b, got, tc.ceil)
		}
	}
}

func TestDivByZero(t *testing.T) {
	if _, err := divFloor(big.NewInt(1), big.NewInt(0), Scalar7); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected overflow error, got %v", err)
	}
	if _, err := divCeil(big.NewInt(1), big.NewInt(0), Scalar7); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected overflow error, got %v", err)
	}
}

func TestOverflowIsFatal(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 127)
	if _, err := mulFloor(huge, Scalar7, Scalar7); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected overflow error, got %v", err)
	}
	if _, err := mulCeil(huge, Scalar7, Scalar7); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected overflow error, got %v", err)
	}
	if _, err := divFloor(huge, big.NewInt(1), Scalar7); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected overflow error, got %v", err)
	}

	// One below the boundary passes.
	max := new(big.Int).Sub(huge, big.NewInt(1))
	if _, err := mulFloor(max, big.NewInt(1), big.NewInt(1)); err != nil {
		t.Fatalf("boundary value rejected: %v", err)
	}
}

func TestNilOperandsAreZero(t *testing.T) {
	got, err := mulFloor(nil, Scalar7, Scalar7)
	if err != nil || got.Sign() != 0 {
		t.Fatalf("mulFloor(nil) = %s, %v", got, err)
	}
	if _, err := divFloor(Scalar7, nil, Scalar7); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected overflow error for nil divisor, got %v", err)
	}
}
