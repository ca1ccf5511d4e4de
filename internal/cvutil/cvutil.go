// Package cvutil holds the gocv helpers shared between the recorder and
// the workflow executor: raw-bytes<->Mat conversion and detection/ROI
// annotation.
package cvutil

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"
)

// Box is an axis-aligned detection box in pixel coordinates.
type Box struct {
	X, Y, W, H int
	Label      string
}

// Point is a polygon vertex in pixel coordinates, used for ROI regions.
type Point struct{ X, Y int }

// Region is one ROI polygon.
type Region []Point

// FrameToMat reconstructs a BGR gocv.Mat from ring-buffer-stored RGB
// bytes. Caller must Close() the returned Mat.
func FrameToMat(data []byte, width, height int) (gocv.Mat, error) {
	mat, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, data)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("cvutil: frame to mat: %w", err)
	}
	bgr := gocv.NewMat()
	gocv.CvtColor(mat, &bgr, gocv.ColorBGRToRGB) // self-inverse channel swap
	mat.Close()
	return bgr, nil
}

// MatToJPEGBytes encodes a Mat to JPEG bytes for evidence image persistence.
func MatToJPEGBytes(mat gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("cvutil: encode jpeg: %w", err)
	}
	defer buf.Close()
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// Fixed overlay colors; per-label palettes are a detector concern, not
// the annotator's.
var (
	boxColor = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	roiColor = color.RGBA{R: 255, G: 165, B: 0, A: 0}
)

// Annotate draws detection boxes and ROI polygons onto a copy of frame,
// used to synthesize an evidence image when the alert window has no
// recorded detection image to reuse.
func Annotate(frameData []byte, width, height int, boxes []Box, regions []Region) ([]byte, error) {
	mat, err := FrameToMat(frameData, width, height)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	for _, b := range boxes {
		r := image.Rect(b.X, b.Y, b.X+b.W, b.Y+b.H)
		gocv.Rectangle(&mat, r, boxColor, 3)
		if b.Label != "" {
			gocv.PutText(&mat, b.Label, image.Pt(b.X, b.Y-5), gocv.FontHersheyPlain, 1.2, boxColor, 2)
		}
	}
	for _, region := range regions {
		pts := make([][]image.Point, 1)
		for _, p := range region {
			pts[0] = append(pts[0], image.Pt(p.X, p.Y))
		}
		pv := gocv.NewPointsVectorFromPoints(pts)
		gocv.Polylines(&mat, pv, true, roiColor, 2)
		pv.Close()
	}

	return MatToJPEGBytes(mat)
}

// Area returns a box's pixel area.
func (b Box) Area() int { return b.W * b.H }

// CenterDistance returns the Euclidean distance between two boxes' centers.
func CenterDistance(a, b Box) float64 {
	ax, ay := float64(a.X)+float64(a.W)/2, float64(a.Y)+float64(a.H)/2
	bx, by := float64(b.X)+float64(b.W)/2, float64(b.Y)+float64(b.H)/2
	dx, dy := ax-bx, ay-by
	return math.Sqrt(dx*dx + dy*dy)
}

// IoU returns the intersection-over-union of two boxes.
func IoU(a, b Box) float64 {
	ax1, ay1, ax2, ay2 := a.X, a.Y, a.X+a.W, a.Y+a.H
	bx1, by1, bx2, by2 := b.X, b.Y, b.X+b.W, b.Y+b.H

	ix1, iy1 := max(ax1, bx1), max(ay1, by1)
	ix2, iy2 := min(ax2, bx2), min(ay2, by2)
	iw, ih := ix2-ix1, iy2-iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := float64(iw * ih)
	union := float64(a.Area()+b.Area()) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
