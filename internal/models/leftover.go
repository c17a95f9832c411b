package models

import "math/big"

// LeftoverAmount is the running total of settlement value too fine-grained to
// credit at an account's native scale. Value is an arbitrary-precision integer
// denominated at Scale fractional digits.
//
// Combining amounts at different scales always rescales to the finer (larger)
// scale by exact multiplication by a power of ten, so no precision is ever
// lost in storage.
type LeftoverAmount struct {
	Value *big.Int
	Scale uint8
}

// NewLeftoverAmount returns an empty leftover total.
func NewLeftoverAmount() *LeftoverAmount {
	return &LeftoverAmount{Value: new(big.Int), Scale: 0}
}

// IsZero reports whether no leftover value is banked.
func (l *LeftoverAmount) IsZero() bool {
	return l.Value == nil || l.Value.Sign() == 0
}

// Add accumulates value at the given scale into the total.
func (l *LeftoverAmount) Add(value *big.Int, scale uint8) {
	if l.Value == nil {
		l.Value = new(big.Int)
	}
	v := new(big.Int).Set(value)
	switch {
	case scale > l.Scale:
		l.Value.Mul(l.Value, pow10(scale-l.Scale))
		l.Scale = scale
	case scale < l.Scale:
		v.Mul(v, pow10(l.Scale-scale))
	}
	l.Value.Add(l.Value, v)
	if l.IsZero() {
		l.Scale = 0
	}
}

// Extract removes and returns the portion of the total representable as a
// whole number at targetScale. The division remainder stays banked at the
// stored scale. When targetScale is at least as fine as the stored scale the
// whole total is upscaled and returned, leaving nothing behind.
func (l *LeftoverAmount) Extract(targetScale uint8) *big.Int {
	if l.Value == nil {
		l.Value = new(big.Int)
	}
	if targetScale >= l.Scale {
		credit := new(big.Int).Mul(l.Value, pow10(targetScale-l.Scale))
		l.Value = new(big.Int)
		l.Scale = 0
		return credit
	}
	credit, rem := new(big.Int).QuoRem(l.Value, pow10(l.Scale-targetScale), new(big.Int))
	l.Value = rem
	if l.IsZero() {
		l.Scale = 0
	}
	return credit
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
