package fx128

import "math/big"

// Bytes16 little-endian encodes u into a fixed 16-byte field, the wire shape
// every u128 slab field takes (spec.md §3 Slab Memory Layout: POD structs,
// byte-exact, no padding beyond what each type declares).
func (u UInt128) Bytes16() [16]byte {
	return leBytes16(u.v.ToBig())
}

// U128SetBytes16 decodes a little-endian 16-byte field back into a UInt128.
func U128SetBytes16(b [16]byte) UInt128 {
	v, _ := U128FromBig(fromLEBytes16(b))
	return v
}

// Bytes16 little-endian encodes i as a two's-complement 128-bit field.
func (i Int128) Bytes16() [16]byte {
	v := &i.v
	var mag big.Int
	if v.Sign() >= 0 {
		mag.Set(v)
	} else {
		mod := new(big.Int).Lsh(big.NewInt(1), 128)
		mag.Add(mod, v)
	}
	return leBytes16(&mag)
}

// I128SetBytes16 decodes a little-endian two's-complement 128-bit field back
// into an Int128.
func I128SetBytes16(b [16]byte) Int128 {
	u := fromLEBytes16(b)
	threshold := new(big.Int).Lsh(big.NewInt(1), 127)
	if u.Cmp(threshold) >= 0 {
		mod := new(big.Int).Lsh(big.NewInt(1), 128)
		u.Sub(u, mod)
	}
	v, _ := I128FromBig(u)
	return v
}

func leBytes16(mag *big.Int) [16]byte {
	be := mag.Bytes() // big-endian, minimal length, no sign
	var padded [16]byte
	copy(padded[16-len(be):], be)
	var out [16]byte
	for i := 0; i < 16; i++ {
		out[i] = padded[15-i]
	}
	return out
}

func fromLEBytes16(b [16]byte) *big.Int {
	var be [16]byte
	for i := 0; i < 16; i++ {
		be[i] = b[15-i]
	}
	return new(big.Int).SetBytes(be[:])
}
