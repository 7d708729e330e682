package power

// Zero levels are kept in x1024 fixed point. All conversions truncate
// toward zero, matching Go integer division.

const (
	fixedScale   = 1024
	fixedScaleSq = fixedScale * fixedScale
	permille     = 1000
)

// toFixed converts a raw sample to fixed point.
func toFixed(s int16) int64 {
	return int64(s) * fixedScale
}

// fixedMean returns sum/n in fixed point.
func fixedMean(sum int64, n int) int64 {
	return sum * fixedScale / int64(n)
}

// fromFixed returns the integer part of v.
func fromFixed(v int64) int32 {
	return int32(v / fixedScale)
}

// fixedProduct multiplies two fixed point values and scales the result
// back to raw units squared.
func fixedProduct(a, b int64) int64 {
	return a * b / fixedScaleSq
}

// blendPermille returns ((1000-d)*avg + d*x)/1000.
func blendPermille(avg, x, d int64) int64 {
	return ((permille-d)*avg + d*x) / permille
}
