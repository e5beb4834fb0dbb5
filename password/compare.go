package password

// ConstantTimeEqual reports whether a and b hold the same bytes. It walks
// max(len(a), len(b)) positions and never returns early, so the running time
// depends only on the longer input. Missing bytes compare as unequal.
func ConstantTimeEqual(a, b []byte) bool {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}

	equal := byte(1)
	if len(a) != len(b) {
		equal = 0
	}

	for i := 0; i < n; i++ {
		var x, y byte
		inA, inB := byte(0), byte(0)
		if i < len(a) {
			x = a[i]
			inA = 1
		}
		if i < len(b) {
			y = b[i]
			inB = 1
		}
		equal &= byteEq(x, y) & inA & inB
	}
	return equal == 1
}

func byteEq(x, y byte) byte {
	z := ^(x ^ y)
	z &= z >> 4
	z &= z >> 2
	z &= z >> 1
	return z & 1
}
