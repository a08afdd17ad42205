package vision

// SelectPrimaryFace returns the index of the largest-area box. Exact ties keep
// the first box in scan order. It returns -1 for an empty list.
func SelectPrimaryFace(boxes []FaceBoundingBox) int {
	if len(boxes) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(boxes); i++ {
		if boxes[i].Area() > boxes[best].Area() {
			best = i
		}
	}
	return best
}
