package visualization

import (
	"fmt"

	"medvol/internal/models"
)

// ExtractRegion copies the sub-volume of size voxels starting at start
// (0-based x, y, z) into a new volume. The region keeps the source spacing
// and direction; its origin is the physical position of start.
func ExtractRegion(v *models.Volume, start [3]int, size models.Size) (*models.Volume, error) {
	if start[0] < 0 || start[1] < 0 || start[2] < 0 {
		return nil, fmt.Errorf("start coordinates must be non-negative")
	}
	if size.Width <= 0 || size.Height <= 0 || size.Depth <= 0 {
		return nil, fmt.Errorf("size dimensions must be positive")
	}
	if start[0]+size.Width > v.Size.Width || start[1]+size.Height > v.Size.Height || start[2]+size.Depth > v.Size.Depth {
		return nil, fmt.Errorf("region %v+%s extends beyond volume %s", start, size, v.Size)
	}

	c := v.Channels
	region := make([]float64, size.Voxels()*c)
	row := size.Width * c
	for z := 0; z < size.Depth; z++ {
		for y := 0; y < size.Height; y++ {
			src := v.Index(start[0], start[1]+y, start[2]+z, 0)
			dst := (z*size.Height + y) * row
			copy(region[dst:dst+row], v.Data[src:src+row])
		}
	}

	return &models.Volume{
		Data:        region,
		Size:        size,
		Origin:      v.Physical(float64(start[0]), float64(start[1]), float64(start[2])),
		Spacing:     v.Spacing,
		Direction:   v.Direction,
		Modality:    v.Modality,
		Channels:    c,
		Description: v.Description,
	}, nil
}
