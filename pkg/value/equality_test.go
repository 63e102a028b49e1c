package value

import "testing"

// TestHashAgreesWithEquals encodes §8's hash/equals invariant for the
// hashable kinds: whenever Equals(a, b) is true, Hash(a) must equal
// Hash(b).
func TestHashAgreesWithEquals(t *testing.T) {
	pairs := []struct {
		name string
		a, b Value
	}{
		{"null", Null, Null},
		{"true", True, True},
		{"num", Num(3.5), Num(3.5)},
		{"string", FromObj(NewString("hi", nil)), FromObj(NewString("hi", nil))},
		{"range", FromObj(NewRange(1, 5, true, nil)), FromObj(NewRange(1, 5, true, nil))},
	}
	for _, p := range pairs {
		if !Equals(p.a, p.b) {
			t.Fatalf("%s: expected Equals to hold for the test pair", p.name)
		}
		if Hash(p.a) != Hash(p.b) {
			t.Errorf("%s: Hash(a)=%d != Hash(b)=%d though Equals(a,b)", p.name, Hash(p.a), Hash(p.b))
		}
	}
}

func TestEqualsDistinguishesKinds(t *testing.T) {
	if Equals(Num(0), Null) {
		t.Fatal("0 should not equal null")
	}
	if Equals(Num(1), True) {
		t.Fatal("1 should not equal true -- ember has no numeric/bool coercion")
	}
}

func TestEqualsNaNIsNeverEqual(t *testing.T) {
	nan := Num(nanValue())
	if Equals(nan, nan) {
		t.Fatal("NaN must not equal itself")
	}
}

func nanValue() float64 {
	var zero float64
	return zero / zero
}

func TestTruthy(t *testing.T) {
	cases := []struct {
		v    Value
		want bool
	}{
		{Null, false},
		{False, false},
		{True, true},
		{Num(0), true},
		{FromObj(NewString("", nil)), true},
	}
	for _, c := range cases {
		if got := Truthy(c.v); got != c.want {
			t.Errorf("Truthy(%v) = %v, want %v", c.v, got, c.want)
		}
	}
}

func TestNotMatchesOriginalQuirk(t *testing.T) {
	// Not is false for any non-null, non-bool value -- including falsy-
	// looking ones like 0 -- preserving the source VM's documented quirk.
	if Not(Num(0)) != False {
		t.Fatal("!0 should be false, not true")
	}
	if Not(Null) != True {
		t.Fatal("!null should be true")
	}
}
