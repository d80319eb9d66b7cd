package main

// CircleRectOverlap checks if a circle (cx,cy,r) touches an axis-aligned rectangle
// centred at (rx,ry) with half extents hw, hh.
func CircleRectOverlap(cx, cy, r, rx, ry, hw, hh float64) bool {
	nx := Clamp(cx, rx-hw, rx+hw)
	ny := Clamp(cy, ry-hh, ry+hh)
	dx := cx - nx
	dy := cy - ny
	return dx*dx+dy*dy <= r*r
}
