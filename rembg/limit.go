package rembg

import (
	"context"
	"image"
	"image/draw"

	"github.com/nfnt/resize"
	xdraw "golang.org/x/image/draw"
)

// Limited 推理前把长边缩到 maxSide 以内，再把得到的 alpha 放大回原尺寸
//
// 输出尺寸始终等于输入尺寸，颜色取自原图。
type Limited struct {
	next    Remover
	maxSide int
}

func NewLimited(next Remover, maxSide int) *Limited {
	return &Limited{next: next, maxSide: maxSide}
}

func (l *Limited) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	src := toNRGBA(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()

	small, scaled := resizeWithinMax(src, l.maxSide)
	if !scaled {
		return l.next.Remove(ctx, src)
	}

	out, err := l.next.Remove(ctx, small)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, ErrEmptyResult
	}

	mask := scaleAlpha(out, w, h)

	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		row := y * dst.Stride
		copy(dst.Pix[row:row+w*4], src.Pix[y*src.Stride:y*src.Stride+w*4])
		for x := 0; x < w; x++ {
			dst.Pix[row+x*4+3] = mask.Pix[y*mask.Stride+x]
		}
	}
	return dst, nil
}

// Ping 透传给被包装的后端
func (l *Limited) Ping(ctx context.Context) error {
	if p, ok := l.next.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// resizeWithinMax 缩放（最长边 <= maxSize），第二个返回值表示是否发生了缩放
func resizeWithinMax(img *image.NRGBA, maxSize int) (*image.NRGBA, bool) {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	longest := max(w, h)

	if maxSize <= 0 || longest <= maxSize {
		return img, false
	}

	scale := float64(maxSize) / float64(longest)
	newW := max(1, int(float64(w)*scale))
	newH := max(1, int(float64(h)*scale))

	resized := resize.Resize(uint(newW), uint(newH), img, resize.Lanczos3)
	return toNRGBA(resized), true
}

// scaleAlpha 取出 alpha 通道并缩放到 w x h
func scaleAlpha(img image.Image, w, h int) *image.Alpha {
	b := img.Bounds()
	alpha := image.NewAlpha(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(alpha, alpha.Bounds(), img, b.Min, draw.Src)

	full := image.NewAlpha(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(full, full.Bounds(), alpha, alpha.Bounds(), xdraw.Src, nil)
	return full
}

// toNRGBA 统一转为原点在 (0,0) 的 NRGBA
func toNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	if nrgba, ok := img.(*image.NRGBA); ok && b.Min == (image.Point{}) {
		return nrgba
	}
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
