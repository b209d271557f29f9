package mathx

import "golang.org/x/exp/constraints"

// Map rescales x from [inMin,inMax] to [outMin,outMax] with 64-bit
// intermediates, clamping x to the input range first. Either range may be
// descending.
func Map[T constraints.Integer](x, inMin, inMax, outMin, outMax T) T {
	if inMax == inMin {
		return outMin
	}
	x = Clamp(x, inMin, inMax)
	num := (int64(x) - int64(inMin)) * (int64(outMax) - int64(outMin))
	return T(int64(outMin) + num/(int64(inMax)-int64(inMin)))
}
