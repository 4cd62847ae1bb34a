package nlm

// point is a pixel coordinate in a plane.
type point struct {
	x, y int
}

func (p point) add(q point) point { return point{p.x + q.x, p.y + q.y} }

// setGeometry is the square set of samples of one target pixel, walked by the Cooperators work items.
//
// The set is anchored at its bottom-right corner (max), which is target + radius clamped so that the 7x7
// windows of all samples stay inside the plane: it is at most 4 pixels from the right and bottom edges and at
// least side+2 pixels from the top-left corner. Near the borders the target may fall outside its own set.
type setGeometry struct {
	target     point
	max        point
	side       int
	skipTarget bool
}

func newSetGeometry(target point, width, height, sampleExpand int, skipTarget bool) setGeometry {
	radius := Radius(sampleExpand)
	side := SetSide(sampleExpand)
	setMax := point{
		x: max(min(target.x+radius, width-4), 2+side),
		y: max(min(target.y+radius, height-4), 2+side),
	}
	return setGeometry{target: target, max: setMax, side: side, skipTarget: skipTarget}
}

// wrap moves a sample that went past the right side of the set to the start of the next row, and skips the
// target pixel if requested. Samples past the bottom of the set are pinned to the bottom-right corner.
func (s *setGeometry) wrap(sample point, skipTarget bool) point {
	for {
		if sample.x > s.max.x {
			sample.x -= s.side
			sample.y++
		} else if skipTarget && sample == s.target {
			sample.x += Cooperators
		} else {
			break
		}
	}
	if sample.y > s.max.y {
		sample = s.max
	}
	return sample
}

// start returns the first sample of the given cooperator: cooperator c starts at column c of the top row.
func (s *setGeometry) start(cooperator int) point {
	first := point{s.max.x - (s.side - cooperator - 1), s.max.y - (s.side - 1)}
	return s.wrap(first, false)
}

// next returns the sample Cooperators positions after sample, in row-major order.
func (s *setGeometry) next(sample point) point {
	return s.wrap(point{sample.x + Cooperators, sample.y}, s.skipTarget)
}

// samples calls fn with each of the StrideCount samples of the cooperator, in order.
func (s *setGeometry) samples(cooperator, strideCount int, fn func(stride int, sample point)) {
	sample := s.start(cooperator)
	for stride := range strideCount {
		fn(stride, sample)
		if stride+1 < strideCount {
			sample = s.next(sample)
		}
	}
}
