package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// imageExts are the raster formats the OCR pipeline accepts directly.
var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".tiff": true,
	".bmp":  true,
}

// IsImageExt reports whether ext (including the dot, any case) is a
// supported image format.
func IsImageExt(ext string) bool {
	return imageExts[strings.ToLower(ext)]
}

// IsSupportedExt reports whether a file extension can enter the pipeline.
func IsSupportedExt(ext string) bool {
	ext = strings.ToLower(ext)
	return ext == ".pdf" || imageExts[ext]
}

// FileNameWithoutExt extracts the base filename without its extension.
func FileNameWithoutExt(path string) string {
	base := filepath.Base(path)
	if idx := strings.LastIndex(base, "."); idx != -1 {
		base = base[:idx]
	}
	return base
}

// SanitizeFilename replaces characters that are unsafe in stored filenames.
func SanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' {
			return r
		}
		return '_'
	}, name)
}

// TruncateString caps s at n bytes. Used to keep error markers in aggregated
// OCR text bounded.
func TruncateString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// FileSHA256 returns the hex SHA-256 of a file's contents.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file for hashing: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CopyFileWithTimestamp copies a file into destDir under a sanitized name
// with a timestamp suffix and returns the destination path.
func CopyFileWithTimestamp(sourcePath, destDir string) (string, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create destination directory: %w", err)
	}

	sourceFile, err := os.Open(sourcePath)
	if err != nil {
		return "", fmt.Errorf("failed to open source file: %w", err)
	}
	defer sourceFile.Close()

	originalName := filepath.Base(sourcePath)
	ext := filepath.Ext(originalName)
	baseFileName := strings.TrimSuffix(originalName, ext)
	destFileName := SanitizeFilename(fmt.Sprintf("%s_%d%s", baseFileName, time.Now().Unix(), ext))
	destPath := filepath.Join(destDir, destFileName)

	destFile, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("failed to create destination file: %w", err)
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return "", fmt.Errorf("failed to copy file: %w", err)
	}

	return destPath, nil
}
