package imaging

import (
	"bytes"
	"encoding/base64"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"

	"gischat/tools/errs"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var supported = []string{"image/png", "image/jpeg", "image/gif", "image/bmp", "image/tiff", "image/webp"}

// DefaultMaxPixels 与 PIL 的 MAX_IMAGE_PIXELS 一致
const DefaultMaxPixels int64 = 89_478_485

// Shrinker 把图片缩到最长边不超过 MaxSize，统一输出 PNG；
// 像素总数超过 MaxPixels 的图片在解码前拒绝
type Shrinker struct {
	MaxSize   int
	MaxPixels int64
}

// NewShrinker maxPixels<=0 时取 DefaultMaxPixels
func NewShrinker(maxSize int, maxPixels int64) *Shrinker {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	return &Shrinker{MaxSize: maxSize, MaxPixels: maxPixels}
}

// ShrinkBase64 输入输出都是 base64；无法识别的数据返回 ErrImageUnreadable
func (s *Shrinker) ShrinkBase64(data string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(stripDataURL(data))
	if err != nil {
		return "", errs.ErrImageUnreadable.WrapMsg("invalid base64", "cause", err.Error())
	}
	out, err := s.Shrink(raw)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

func (s *Shrinker) Shrink(raw []byte) ([]byte, error) {
	mt := mimetype.Detect(raw)
	if !mimetype.EqualsAny(mt.String(), supported...) {
		return nil, errs.ErrImageUnreadable.WrapMsg("unsupported image format", "mime", mt.String())
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, errs.ErrImageUnreadable.WrapMsg("decode image header", "cause", err.Error())
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > s.MaxPixels {
		return nil, errs.ErrImageUnreadable.WrapMsg("image too large",
			"width", cfg.Width, "height", cfg.Height, "maxPixels", s.MaxPixels)
	}
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, errs.ErrImageUnreadable.WrapMsg("decode image", "cause", err.Error())
	}

	dst := src
	b := src.Bounds()
	if w, h := Fit(b.Dx(), b.Dy(), s.MaxSize); w != b.Dx() || h != b.Dy() {
		rgba := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(rgba, rgba.Bounds(), src, b, draw.Over, nil)
		dst = rgba
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, errs.WrapMsg(err, "encode png")
	}
	return buf.Bytes(), nil
}

// Fit 等比缩放到 max 以内，只缩小不放大；max<=0 表示不限制
func Fit(w, h, max int) (int, int) {
	if max <= 0 || (w <= max && h <= max) {
		return w, h
	}
	if w >= h {
		nh := h * max / w
		if nh < 1 {
			nh = 1
		}
		return max, nh
	}
	nw := w * max / h
	if nw < 1 {
		nw = 1
	}
	return nw, max
}

// stripDataURL 兼容 "data:image/png;base64,...." 形式
func stripDataURL(s string) string {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			return s[i+1:]
		}
	}
	return s
}
