// internal/recording/gif.go
package recording

import (
	"bytes"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/xkilldash9x/buglens/api/schemas"
)

// minFrameDelay is the floor for per-frame delay in GIF time units (10ms);
// players treat anything below as "as fast as possible".
const minFrameDelay = 2

// encodeGIF folds the captured frames into one animated GIF, preserving the
// real inter-frame timing. Frames that fail to decode are skipped; a
// recording with no usable frame is an error.
func encodeGIF(frames []Frame) ([]byte, error) {
	if len(frames) == 0 {
		return nil, schemas.NewError(schemas.CodeRecording, "Recording produced no frames.")
	}

	anim := &gif.GIF{}
	for i, frame := range frames {
		img, _, err := image.Decode(bytes.NewReader(frame.Data))
		if err != nil {
			continue
		}

		paletted := image.NewPaletted(img.Bounds(), palette.Plan9)
		draw.FloydSteinberg.Draw(paletted, img.Bounds(), img, img.Bounds().Min)

		delay := minFrameDelay
		if i+1 < len(frames) {
			d := int(frames[i+1].Timestamp.Sub(frame.Timestamp).Milliseconds() / 10)
			if d > delay {
				delay = d
			}
		}
		anim.Image = append(anim.Image, paletted)
		anim.Delay = append(anim.Delay, delay)
	}
	if len(anim.Image) == 0 {
		return nil, schemas.NewError(schemas.CodeRecording, "Recording produced no frames.")
	}

	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, anim); err != nil {
		return nil, schemas.WrapError(schemas.CodeRecording, "Recording could not be finalized.", err)
	}
	return buf.Bytes(), nil
}
