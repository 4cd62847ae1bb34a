package compute

// PixelsPerUnit is the number of contiguous 8-bit pixels in one storage unit of a plane.
const PixelsPerUnit = 4

// ByPowerOf2 rounds x up to a multiple of 2^power. Values of x below 1 are rounded up to 2^power.
func ByPowerOf2(x, power int) int {
	mask := (1 << power) - 1
	if x < 1 {
		x = 1
	}
	return (x + mask) &^ mask
}

// PlaneDimensions returns the storage dimensions of a plane of width x height pixels:
// the number of units (of PixelsPerUnit pixels) per row, and the number of rows.
func PlaneDimensions(width, height int) (units, rows int) {
	return ByPowerOf2(width, 2) / PixelsPerUnit, height
}

// ceilDiv returns ceil(a / b) for positive b.
func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
