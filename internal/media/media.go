package media

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// ContentClass is the category of uploaded media.
type ContentClass string

// ContentClass constants.
const (
	ClassVideo ContentClass = "video"
	ClassImage ContentClass = "image"
)

// Classes lists every supported content class.
var Classes = []ContentClass{ClassVideo, ClassImage}

// ErrUnknownClass indicates a content class outside the enumeration.
var ErrUnknownClass = errors.New("media: unknown content class")

// ParseContentClass resolves a content class name.
func ParseContentClass(raw string) (ContentClass, error) {
	switch ContentClass(strings.ToLower(strings.TrimSpace(raw))) {
	case ClassVideo:
		return ClassVideo, nil
	case ClassImage:
		return ClassImage, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownClass, raw)
	}
}

// File is an uploaded file as handed over by the application layer.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.ReadSeeker
}

// Extension returns the lower-cased extension without the dot.
func (f File) Extension() string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(f.Name)), ".")
}

// Header reads up to n bytes from the start of the body and rewinds it.
func (f File) Header(n int) ([]byte, error) {
	if f.Body == nil {
		return nil, errors.New("media: file has no body")
	}
	if _, errSeek := f.Body.Seek(0, io.SeekStart); errSeek != nil {
		return nil, fmt.Errorf("media: rewind: %w", errSeek)
	}
	buf := make([]byte, n)
	read, errRead := io.ReadFull(f.Body, buf)
	if errRead != nil && !errors.Is(errRead, io.ErrUnexpectedEOF) && !errors.Is(errRead, io.EOF) {
		return nil, fmt.Errorf("media: read header: %w", errRead)
	}
	if _, errSeek := f.Body.Seek(0, io.SeekStart); errSeek != nil {
		return nil, fmt.Errorf("media: rewind: %w", errSeek)
	}
	return buf[:read], nil
}

// Rewind seeks the body back to the first byte.
func (f File) Rewind() error {
	if f.Body == nil {
		return errors.New("media: file has no body")
	}
	_, err := f.Body.Seek(0, io.SeekStart)
	return err
}

// SizeGB returns the size in binary gigabytes.
func (f File) SizeGB() float64 {
	return BytesToGB(f.Size)
}

// BytesToGB converts a byte count to binary gigabytes.
func BytesToGB(n int64) float64 {
	return float64(n) / float64(1<<30)
}
