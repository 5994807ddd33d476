package deribit

// Depths are the order book depths the venue accepts, ascending.
var Depths = []int{1, 5, 10, 20, 50, 100, 1000, 10000}

// SnapDepth returns the smallest accepted depth >= n, or the largest one
// when n exceeds them all.
func SnapDepth(n int) int {
	for _, d := range Depths {
		if d >= n {
			return d
		}
	}
	return Depths[len(Depths)-1]
}
