// Package imagegen renders the Open Graph card for the station page.
package imagegen

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/lox/stationcast/internal/rain"
)

var (
	fontLarge   font.Face
	fontRegular font.Face
	fontSmall   font.Face
	fontOnce    sync.Once
	fontErr     error
)

func newFace(ttf []byte, size float64) (font.Face, error) {
	f, err := opentype.Parse(ttf)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	return opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
}

func loadFonts() {
	fontOnce.Do(func() {
		if fontLarge, fontErr = newFace(gobold.TTF, 140); fontErr != nil {
			return
		}
		if fontRegular, fontErr = newFace(goregular.TTF, 40); fontErr != nil {
			return
		}
		fontSmall, fontErr = newFace(goregular.TTF, 28)
	})
}

// OGImageData is what the card shows.
type OGImageData struct {
	StationName string
	Temperature float64
	Humidity    float64
	Pressure    float64
	RainChance  float64
	Status      rain.Status
	UpdatedAt   time.Time
	// Offline draws the card without measurements.
	Offline bool
}

// OGImageCache caches the generated OG image for a short period.
type OGImageCache struct {
	mu        sync.RWMutex
	data      []byte
	expiresAt time.Time
	cacheTTL  time.Duration
	now       func() time.Time
}

func NewOGImageCache(ttl time.Duration) *OGImageCache {
	return &OGImageCache{cacheTTL: ttl, now: time.Now}
}

// Get returns the cached OG image if still valid.
func (c *OGImageCache) Get() ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.data == nil || c.now().After(c.expiresAt) {
		return nil, false
	}
	return c.data, true
}

func (c *OGImageCache) Set(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = data
	c.expiresAt = c.now().Add(c.cacheTTL)
}

// OGWidth and OGHeight are the standard Open Graph image dimensions.
const (
	OGWidth  = 1200
	OGHeight = 630
)

// background colours by rain status, top and bottom of the gradient.
var palettes = map[rain.Status][2]color.RGBA{
	rain.StatusClear:    {{28, 88, 160, 255}, {14, 40, 80, 255}},
	rain.StatusPossible: {{70, 84, 110, 255}, {30, 36, 52, 255}},
	rain.StatusRain:     {{40, 48, 66, 255}, {12, 14, 22, 255}},
}

var offlinePalette = [2]color.RGBA{{60, 60, 60, 255}, {20, 20, 20, 255}}

// GenerateOGImage draws the station card as a PNG.
func GenerateOGImage(data OGImageData) ([]byte, error) {
	loadFonts()
	if fontErr != nil {
		return nil, fmt.Errorf("load fonts: %w", fontErr)
	}

	palette, ok := palettes[data.Status]
	if !ok || data.Offline {
		palette = offlinePalette
	}

	img := image.NewRGBA(image.Rect(0, 0, OGWidth, OGHeight))
	drawGradient(img, palette[0], palette[1])
	drawTextOverlay(img, data)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode OG image: %w", err)
	}
	return buf.Bytes(), nil
}

func drawGradient(img *image.RGBA, top, bottom color.RGBA) {
	for y := 0; y < OGHeight; y++ {
		progress := float64(y) / float64(OGHeight)
		c := color.RGBA{
			R: lerp(top.R, bottom.R, progress),
			G: lerp(top.G, bottom.G, progress),
			B: lerp(top.B, bottom.B, progress),
			A: 255,
		}
		for x := 0; x < OGWidth; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*t)
}

func drawTextOverlay(img *image.RGBA, data OGImageData) {
	white := color.RGBA{255, 255, 255, 255}
	lightGray := color.RGBA{200, 200, 200, 255}

	drawText(img, data.StationName, 60, 90, lightGray, fontRegular)

	if data.Offline {
		drawText(img, "Станция оффлайн", 60, 320, white, fontRegular)
		return
	}

	drawText(img, fmt.Sprintf("%.1f°C", data.Temperature), 60, 300, white, fontLarge)
	drawText(img, fmt.Sprintf("%s · %.0f%%", data.Status.Label(), data.RainChance), 60, 400, white, fontRegular)
	drawText(img, fmt.Sprintf("Влажность %.0f%%   Давление %.0f гПа", data.Humidity, data.Pressure), 60, 470, lightGray, fontSmall)

	if !data.UpdatedAt.IsZero() {
		drawText(img, "Обновлено "+data.UpdatedAt.Format("15:04"), 60, OGHeight-40, lightGray, fontSmall)
	}
}

func drawText(img *image.RGBA, text string, x, y int, col color.Color, face font.Face) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
