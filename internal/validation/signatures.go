package validation

import (
	"bytes"

	"github.com/Michaelasereo/mylinnk-sub001/internal/media"
)

// HeaderSize is the number of leading bytes inspected for signatures.
const HeaderSize = 64

var allowedTypes = map[media.ContentClass][]string{
	media.ClassVideo: {
		"video/mp4",
		"video/quicktime",
		"video/webm",
		"video/x-matroska",
		"video/x-msvideo",
	},
	media.ClassImage: {
		"image/jpeg",
		"image/png",
		"image/gif",
		"image/webp",
	},
}

var suspiciousExtensions = map[string]struct{}{
	"exe": {}, "bat": {}, "cmd": {}, "com": {}, "scr": {}, "pif": {}, "js": {},
	"jar": {}, "php": {}, "vbs": {}, "ps1": {}, "sh": {}, "msi": {}, "dll": {},
}

var injectionMarkers = []string{
	"<script",
	"javascript:",
	"vbscript:",
	"<?php",
	"<%",
	"onerror=",
	"onload=",
	"../",
	"\x00",
}

var (
	ebmlMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	isoBoxes  = [][]byte{[]byte("ftyp"), []byte("moov"), []byte("mdat"), []byte("wide"), []byte("free")}
)

// signatureMatchers checks the leading bytes of a file against its declared MIME type.
var signatureMatchers = map[string]func(header []byte) bool{
	"video/mp4":        isoBaseMedia,
	"video/quicktime":  isoBaseMedia,
	"video/webm":       prefixed(ebmlMagic),
	"video/x-matroska": prefixed(ebmlMagic),
	"video/x-msvideo":  riff("AVI "),
	"image/jpeg":       prefixed(jpegMagic),
	"image/png":        prefixed(pngMagic),
	"image/gif": func(header []byte) bool {
		return bytes.HasPrefix(header, []byte("GIF87a")) || bytes.HasPrefix(header, []byte("GIF89a"))
	},
	"image/webp": riff("WEBP"),
}

func isoBaseMedia(header []byte) bool {
	if len(header) < 8 {
		return false
	}
	box := header[4:8]
	for _, candidate := range isoBoxes {
		if bytes.Equal(box, candidate) {
			return true
		}
	}
	return false
}

func prefixed(magic []byte) func([]byte) bool {
	return func(header []byte) bool {
		return bytes.HasPrefix(header, magic)
	}
}

func riff(form string) func([]byte) bool {
	return func(header []byte) bool {
		return len(header) >= 12 && bytes.Equal(header[0:4], []byte("RIFF")) && bytes.Equal(header[8:12], []byte(form))
	}
}

func isAllowedType(class media.ContentClass, contentType string) bool {
	for _, t := range allowedTypes[class] {
		if contentType == t {
			return true
		}
	}
	return false
}

// MatchesSignature reports whether header carries a known signature for contentType.
func MatchesSignature(contentType string, header []byte) bool {
	match, ok := signatureMatchers[contentType]
	if !ok {
		return false
	}
	return match(header)
}
