package validation

import (
	"bytes"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
)

type FileType string

const (
	FileTypeNIfTI   FileType = "nii"
	FileTypeNIfTIGz FileType = "nii.gz"
	FileTypePNG     FileType = "png"
	FileTypeJPEG    FileType = "jpeg"
)

// NIfTI-1 headers carry the magic "n+1\0" at byte offset 344; gzipped
// volumes start with the usual 1F 8B. Raster slices are accepted for the
// 2D degradation path.
const niftiMagicOffset = 344

var (
	niftiMagic = []byte{0x6E, 0x2B, 0x31, 0x00}
	gzipMagic  = []byte{0x1F, 0x8B}
	pngMagic   = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	jpegMagic  = []byte{0xFF, 0xD8, 0xFF}
)

func DetectFileType(file multipart.File) (FileType, error) {
	buffer := make([]byte, 512)
	n, err := file.Read(buffer)
	if err != nil && err != io.EOF {
		return "", err
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	head := buffer[:n]
	switch {
	case n >= niftiMagicOffset+len(niftiMagic) && bytes.Equal(head[niftiMagicOffset:niftiMagicOffset+len(niftiMagic)], niftiMagic):
		return FileTypeNIfTI, nil
	case bytes.HasPrefix(head, gzipMagic):
		return FileTypeNIfTIGz, nil
	case bytes.HasPrefix(head, pngMagic):
		return FileTypePNG, nil
	case bytes.HasPrefix(head, jpegMagic):
		return FileTypeJPEG, nil
	}

	return "", ErrInvalidFileType
}

func IsAllowedFilename(filename string) bool {
	name := strings.ToLower(filename)
	if strings.HasSuffix(name, ".nii.gz") {
		return true
	}
	switch filepath.Ext(name) {
	case ".nii", ".png", ".jpg", ".jpeg":
		return true
	default:
		return false
	}
}

// MatchesExtension checks that the detected content agrees with the client's
// filename, so an .nii upload cannot smuggle arbitrary bytes through.
func MatchesExtension(fileType FileType, filename string) bool {
	name := strings.ToLower(filename)
	switch fileType {
	case FileTypeNIfTI:
		return strings.HasSuffix(name, ".nii")
	case FileTypeNIfTIGz:
		return strings.HasSuffix(name, ".nii.gz")
	case FileTypePNG:
		return strings.HasSuffix(name, ".png")
	case FileTypeJPEG:
		return strings.HasSuffix(name, ".jpg") || strings.HasSuffix(name, ".jpeg")
	default:
		return false
	}
}
