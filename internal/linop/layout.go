package linop

// Helpers for row-major N-dimensional arrays stored in flat vectors.

// axisLines describes the 1-D lines of an array along axis: there are
// outer*stride lines of the given length, and consecutive samples of a line
// are stride elements apart. Line (o, s) starts at o*length*stride + s.
func axisLines(dims []int, axis int) (outer, length, stride int) {
	outer, stride = 1, 1
	for i, v := range dims {
		switch {
		case i < axis:
			outer *= v
		case i > axis:
			stride *= v
		}
	}
	return outer, dims[axis], stride
}

// forEachLine calls fn with the start offset of every line along axis.
func forEachLine(dims []int, axis int, fn func(start, stride int)) {
	outer, length, stride := axisLines(dims, axis)
	for o := 0; o < outer; o++ {
		for s := 0; s < stride; s++ {
			fn(o*length*stride+s, stride)
		}
	}
}

func numel(dims []int) int {
	n := 1
	for _, v := range dims {
		n *= v
	}
	return n
}

// embedIndex calls fn(si, bi) for every element of an array with dims
// small, where si is its flat index and bi the flat index of the same
// multi-index inside an array with dims big. small must fit inside big.
func embedIndex(small, big []int, fn func(si, bi int)) {
	n := numel(small)
	if n == 0 {
		return
	}
	bigStrides := make([]int, len(big))
	st := 1
	for i := len(big) - 1; i >= 0; i-- {
		bigStrides[i] = st
		st *= big[i]
	}
	idx := make([]int, len(small))
	bi := 0
	for si := 0; si < n; si++ {
		fn(si, bi)
		// increment the multi-index, last axis fastest
		for ax := len(small) - 1; ax >= 0; ax-- {
			idx[ax]++
			bi += bigStrides[ax]
			if idx[ax] < small[ax] {
				break
			}
			bi -= idx[ax] * bigStrides[ax]
			idx[ax] = 0
		}
	}
}
