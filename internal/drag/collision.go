package drag

// Rect is the vertical extent of one item as laid out when the drag began.
type Rect struct {
	Top    float64
	Height float64
}

// Mid returns the vertical midpoint of r.
func (r Rect) Mid() float64 { return r.Top + r.Height/2 }

// ResolveIndex returns the index the dragged item should take when the
// pointer is at y. rects describe the items in their pre-drag order and
// source is the dragged item's original index. The dragged item passes a
// neighbour once the pointer crosses that neighbour's midpoint.
func ResolveIndex(y float64, rects []Rect, source int) int {
	idx := 0
	for i, r := range rects {
		if i == source {
			continue
		}
		if r.Mid() < y {
			idx++
		}
	}
	return idx
}
