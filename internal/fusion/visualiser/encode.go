package visualiser

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/depthfusion/internal/fusion/pipeline"
	"github.com/banshee-data/depthfusion/internal/fusion/volume"
)

// BGRAImage converts packed BGRA pixels to an RGBA image. Alpha is forced
// opaque.
func BGRAImage(width, height int, px []uint32) (*image.RGBA, error) {
	if width <= 0 || height <= 0 || len(px) != width*height {
		return nil, fmt.Errorf("image %dx%d has %d pixels", width, height, len(px))
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, p := range px {
		o := i * 4
		img.Pix[o+0] = uint8(p >> 16)
		img.Pix[o+1] = uint8(p >> 8)
		img.Pix[o+2] = uint8(p)
		img.Pix[o+3] = 0xff
	}
	return img, nil
}

// EncodePNG writes img as PNG.
func EncodePNG(w io.Writer, img *volume.ShadedImage) error {
	if img == nil {
		return fmt.Errorf("no image")
	}
	rgba, err := BGRAImage(img.Width, img.Height, img.Pixels)
	if err != nil {
		return err
	}
	return png.Encode(w, rgba)
}

// FrameStruct packs a shaded image for streaming. The image travels as
// base64 PNG so the message stays readable as JSON.
func FrameStruct(img *volume.ShadedImage) (*structpb.Struct, error) {
	var buf bytes.Buffer
	if err := EncodePNG(&buf, img); err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]interface{}{
		"sequence": float64(img.Sequence),
		"width":    float64(img.Width),
		"height":   float64(img.Height),
		"png":      base64.StdEncoding.EncodeToString(buf.Bytes()),
	})
}

// StatusStruct converts a status snapshot using its JSON field names.
func StatusStruct(st *pipeline.Status) (*structpb.Struct, error) {
	if st == nil {
		return nil, fmt.Errorf("no status")
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}
