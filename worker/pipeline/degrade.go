package pipeline

import (
	"bytes"
	"io"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

// Degrader produces the low-resolution member of a preprocess output pair.
// Raster slices are downscaled and blurred; volume formats pass through
// untouched, since their degradation runs in the numerical toolchain, not
// here.
type Degrader struct {
	scale  int
	logger *zap.Logger
}

func NewDegrader(scale int, logger *zap.Logger) *Degrader {
	if scale < 2 {
		scale = 2
	}
	return &Degrader{scale: scale, logger: logger}
}

func (d *Degrader) Degrade(src io.Reader, filename string) (io.Reader, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		// Not a raster slice. Volumes pass through unchanged.
		return bytes.NewReader(data), nil
	}

	width := img.Bounds().Dx() / d.scale
	height := img.Bounds().Dy() / d.scale
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}

	lr := imaging.Resize(img, width, height, imaging.Lanczos)
	lr = imaging.Blur(lr, 1.2)

	format, err := imaging.FormatFromFilename(filename)
	if err != nil {
		format = imaging.PNG
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, lr, format); err != nil {
		return nil, err
	}

	d.logger.Debug("degraded raster slice",
		zap.String("file", filename),
		zap.Int("scale", d.scale),
	)
	return &buf, nil
}
