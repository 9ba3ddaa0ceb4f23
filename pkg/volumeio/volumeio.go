// Package volumeio reads images and slice stacks into volumes and writes
// label fields and feature volumes back as PNG slices.
//
// A path is either a single image (a one-slice volume) or a directory of
// JPEG or PNG slices ordered by the number in their file names. Intensities
// are read from the red channel and scaled to [0,1].
package volumeio

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gykovacs/vessel-sub007/internal/models"
)

var (
	// ErrNoImages indicates a directory without any readable slice.
	ErrNoImages = errors.New("volumeio: no images found")
	// ErrSliceSize indicates slices of different dimensions.
	ErrSliceSize = errors.New("volumeio: slices differ in size")
)

// LoadImage decodes a JPEG or PNG file.
func LoadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}

// SliceFiles lists the image files of dir in slice order.
func SliceFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoImages, dir)
	}

	// Numbered slices keep their anatomical order; ties fall back to the name
	sort.SliceStable(files, func(i, j int) bool {
		ni, nj := extractNumber(files[i]), extractNumber(files[j])
		if ni != nj {
			return ni < nj
		}
		return files[i] < files[j]
	})
	for i, f := range files {
		files[i] = filepath.Join(dir, f)
	}
	return files, nil
}

// extractNumber extracts the numeric part from a filename
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	numStr := ""
	for _, c := range base {
		if c >= '0' && c <= '9' {
			numStr += string(c)
		}
	}

	if numStr != "" {
		num, err := strconv.Atoi(numStr)
		if err == nil {
			return num
		}
	}
	return 0
}

// LoadVolume reads a single image or a directory of slices.
func LoadVolume(path string) (*models.Volume, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	files := []string{path}
	if info.IsDir() {
		if files, err = SliceFiles(path); err != nil {
			return nil, err
		}
	}

	images := make([]image.Image, len(files))
	for i, f := range files {
		img, err := LoadImage(f)
		if err != nil {
			return nil, err
		}
		if i > 0 && img.Bounds().Size() != images[0].Bounds().Size() {
			return nil, fmt.Errorf("%w: %s is %v, first slice %v", ErrSliceSize, f, img.Bounds().Size(), images[0].Bounds().Size())
		}
		images[i] = img
	}

	size := images[0].Bounds().Size()
	v := models.NewVolume(models.Shape{Slices: len(images), Rows: size.Y, Columns: size.X})
	copy(v.Data, imagesToFloat(images))
	return v, nil
}

// LoadMask reads a mask image or slice directory. Sites brighter than half
// the intensity range are active.
func LoadMask(path string) (models.Mask, models.Shape, error) {
	v, err := LoadVolume(path)
	if err != nil {
		return nil, models.Shape{}, err
	}
	mask := make(models.Mask, v.Len())
	for i, x := range v.Data {
		mask[i] = x > 0.5
	}
	return mask, v.Shape, nil
}

// LoadBytes reads an image or slice directory as 8-bit values, as used for
// support volumes.
func LoadBytes(path string) (*models.ByteVolume, error) {
	v, err := LoadVolume(path)
	if err != nil {
		return nil, err
	}
	b := models.NewByteVolume(v.Shape)
	for i, x := range v.Data {
		b.Data[i] = uint8(math.Round(x * 255))
	}
	return b, nil
}

// imageToFloat converts a single image to float array
func imageToFloat(img image.Image) []float64 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	result := make([]float64, width*height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, _, _, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			// Convert 16-bit color to float64 (0-1 range)
			result[y*width+x] = float64(r) / 65535.0
		}
	}

	return result
}

// imagesToFloat converts a slice of images to float array
func imagesToFloat(images []image.Image) []float64 {
	if len(images) == 0 {
		return nil
	}
	size := images[0].Bounds().Dx() * images[0].Bounds().Dy()
	result := make([]float64, 0, size*len(images))
	for _, img := range images {
		result = append(result, imageToFloat(img)...)
	}
	return result
}

// floatToImage converts a float array back to an image, clamping to [0,1]
func floatToImage(data []float64, width, height int) image.Image {
	img := image.NewGray16(image.Rect(0, 0, width, height))

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			idx := y*width + x
			if idx < len(data) {
				value := uint16(math.Max(0, math.Min(65535, math.Round(data[idx]*65535))))
				img.SetGray16(x, y, color.Gray16{Y: value})
			}
		}
	}

	return img
}

// labelsToImage renders one slice of labels, spreading the classes over the
// 8-bit range so that they stay distinguishable.
func labelsToImage(labels []uint8, width, height, numClasses int) image.Image {
	img := image.NewGray(image.Rect(0, 0, width, height))
	scale := 255
	if numClasses > 1 {
		scale = 255 / (numClasses - 1)
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(int(labels[y*width+x]) * scale)})
		}
	}
	return img
}

func savePNG(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// SaveLabels writes every slice of l into dir as prefix_NNN.png and returns
// the file names.
func SaveLabels(l *models.LabelField, numClasses int, dir, prefix string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	n := l.SliceSize()
	files := make([]string, l.Slices)
	for s := 0; s < l.Slices; s++ {
		img := labelsToImage(l.Labels[s*n:(s+1)*n], l.Columns, l.Rows, numClasses)
		files[s] = filepath.Join(dir, fmt.Sprintf("%s_%03d.png", prefix, s))
		if err := savePNG(img, files[s]); err != nil {
			return nil, fmt.Errorf("failed to save slice %d: %w", s, err)
		}
	}
	return files, nil
}

// SaveVolume writes every slice of v into dir as 16-bit PNG images named
// prefix_NNN.png. Values are clamped to [0,1].
func SaveVolume(v *models.Volume, dir, prefix string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	n := v.SliceSize()
	files := make([]string, v.Slices)
	for s := 0; s < v.Slices; s++ {
		img := floatToImage(v.Data[s*n:(s+1)*n], v.Columns, v.Rows)
		files[s] = filepath.Join(dir, fmt.Sprintf("%s_%03d.png", prefix, s))
		if err := savePNG(img, files[s]); err != nil {
			return nil, fmt.Errorf("failed to save slice %d: %w", s, err)
		}
	}
	return files, nil
}
