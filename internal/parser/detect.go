package parser

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Detector определяет MIME-тип файла полезной нагрузки по абсолютному пути.
type Detector interface {
	Detect(path string) string
}

// DetectorFunc — адаптер функции к Detector.
type DetectorFunc func(path string) string

func (f DetectorFunc) Detect(path string) string { return f(path) }

// defaultMimeType — тип файла, который не удалось распознать.
const defaultMimeType = "application/octet-stream"

// extraTypes — расширения, которых нет в системной таблице mime.
var extraTypes = map[string]string{
	".srt":  "application/x-subrip",
	".vtt":  "text/vtt",
	".mp4":  "video/mp4",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".csv":  "text/csv",
	".xml":  "application/xml",
	".txt":  "text/plain",
	".pdf":  "application/pdf",
	".mpeg": "video/mpeg",
}

// ExtensionDetector определяет тип только по расширению файла.
var ExtensionDetector Detector = DetectorFunc(detectByExtension)

func detectByExtension(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := extraTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return stripParams(t)
	}
	return defaultMimeType
}

// ContentDetector определяет тип по содержимому файла, при ошибке
// чтения — по расширению. Текстовые форматы с известным расширением
// (субтитры, CSV) уточняются по расширению: по содержимому они
// распознаются как text/plain.
var ContentDetector Detector = DetectorFunc(detectByContent)

func detectByContent(path string) string {
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return detectByExtension(path)
	}
	t := stripParams(m.String())
	if t == "text/plain" || t == defaultMimeType {
		if byExt := detectByExtension(path); byExt != defaultMimeType {
			return byExt
		}
	}
	return t
}

// stripParams отбрасывает параметры MIME-типа ("; charset=utf-8").
func stripParams(t string) string {
	base, _, _ := strings.Cut(t, ";")
	return strings.ToLower(strings.TrimSpace(base))
}
