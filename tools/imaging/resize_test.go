package imaging

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"gischat/tools/errs"

	"github.com/stretchr/testify/require"
)

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x += 10 {
		img.Set(x, x%h, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestFit(t *testing.T) {
	tests := []struct {
		w, h, max int
		ww, wh    int
	}{
		{1200, 800, 800, 800, 533},
		{800, 1200, 800, 533, 800},
		{640, 480, 800, 640, 480},
		{5000, 1, 800, 800, 1},
		{100, 100, 0, 100, 100},
	}
	for _, tt := range tests {
		w, h := Fit(tt.w, tt.h, tt.max)
		require.Equal(t, tt.ww, w, "%dx%d", tt.w, tt.h)
		require.Equal(t, tt.wh, h, "%dx%d", tt.w, tt.h)
	}
}

func TestShrinkBase64(t *testing.T) {
	req := require.New(t)

	// Given 1200x800 的 jpeg
	in := base64.StdEncoding.EncodeToString(encodeJPEG(t, 1200, 800))

	// When
	out, err := NewShrinker(800, 0).ShrinkBase64(in)

	// Then 输出为 800x533 的 png
	req.NoError(err)
	raw, err := base64.StdEncoding.DecodeString(out)
	req.NoError(err)
	img, err := png.Decode(bytes.NewReader(raw))
	req.NoError(err)
	req.Equal(800, img.Bounds().Dx())
	req.Equal(533, img.Bounds().Dy())
}

func TestShrinkKeepsSmallImages(t *testing.T) {
	out, err := NewShrinker(800, 0).ShrinkBase64("data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(encodeJPEG(t, 300, 200)))
	require.NoError(t, err)
	raw, _ := base64.StdEncoding.DecodeString(out)
	cfg, err := png.DecodeConfig(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, 300, cfg.Width)
	require.Equal(t, 200, cfg.Height)
}

func TestShrinkRejectsGarbage(t *testing.T) {
	s := NewShrinker(800, 0)

	_, err := s.ShrinkBase64("%%%")
	require.True(t, errs.Is(err, errs.ErrImageUnreadable))

	_, err = s.ShrinkBase64(base64.StdEncoding.EncodeToString([]byte("hello world")))
	require.True(t, errs.Is(err, errs.ErrImageUnreadable))
}

func TestShrinkRejectsOversizedPixelCount(t *testing.T) {
	req := require.New(t)

	// Given 一张压缩后很小、像素很多的纯色灰度 png
	var buf bytes.Buffer
	req.NoError(png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4000, 3000))))
	in := base64.StdEncoding.EncodeToString(buf.Bytes())

	// When 上限低于 4000x3000
	_, err := NewShrinker(800, 10_000_000).ShrinkBase64(in)

	// Then 解码前即被拒绝
	req.True(errs.Is(err, errs.ErrImageUnreadable))
	req.Contains(err.Error(), "image too large")

	// 上限足够时正常缩放
	out, err := NewShrinker(800, 12_000_000).ShrinkBase64(in)
	req.NoError(err)
	raw, err := base64.StdEncoding.DecodeString(out)
	req.NoError(err)
	cfg, err := png.DecodeConfig(bytes.NewReader(raw))
	req.NoError(err)
	req.Equal(800, cfg.Width)
	req.Equal(600, cfg.Height)
}
