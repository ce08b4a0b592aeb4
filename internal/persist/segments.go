package persist

func dropEmpty(segs [][]byte) [][]byte {
	out := segs[:0:0]
	for _, s := range segs {
		if len(s) > 0 {
			out = append(out, s)
		}
	}
	return out
}

// advance drops the first n bytes from segs.
func advance(segs [][]byte, n int) [][]byte {
	for n > 0 && len(segs) > 0 {
		if n < len(segs[0]) {
			segs[0] = segs[0][n:]
			return segs
		}
		n -= len(segs[0])
		segs = segs[1:]
	}
	return segs
}
