package model

import (
	"errors"
	"strings"
)

// Vocabulary — словарь аудиовизуального файла, выбирается по MIME-типу.
type Vocabulary string

const (
	VocabularyNone  Vocabulary = "none"
	VocabularyAudio Vocabulary = "audio"
	VocabularyVideo Vocabulary = "video"
)

// VocabularyForMime выбирает словарь по MIME-типу: audio/* и video/*.
func VocabularyForMime(mimeType string) Vocabulary {
	switch {
	case strings.HasPrefix(mimeType, "audio/"):
		return VocabularyAudio
	case strings.HasPrefix(mimeType, "video/"):
		return VocabularyVideo
	default:
		return VocabularyNone
	}
}

// Subtitle — ссылка на файл субтитров аудиовизуального файла.
type Subtitle struct {
	Row      int
	Path     string
	MimeType string
	// Language — код ISO 639-1; пустой, если не указан
	Language string
}

// FileSpec — описание файла полезной нагрузки на выходе парсера.
type FileSpec struct {
	// Row — строка первого упоминания FILE_PATH
	Row int
	// Path — путь относительно MultiDepositDir (с прямыми слешами)
	Path       string
	MimeType   string
	Vocabulary Vocabulary
	Title      string
	Access     *FileAccess
	Subtitles  []Subtitle
}

// IsAudioVisual сообщает, выбран ли для файла аудио- или видеословарь.
func (f *FileSpec) IsAudioVisual() bool {
	return f.Vocabulary == VocabularyAudio || f.Vocabulary == VocabularyVideo
}

// Ошибки конструкторов FileMetadata.
var (
	ErrMissingTitle     = errors.New("audiovisual file has no title")
	ErrMissingAccess    = errors.New("audiovisual file has no access category")
	ErrNotAudioVisual   = errors.New("file is not audiovisual")
	ErrUnexpectedAVFile = errors.New("audiovisual file requires audiovisual metadata")
	ErrEmptyPath        = errors.New("file path is empty")
)

// FileMetadata — закрытый вариантный тип метаданных файла.
// Реализации: *DefaultFileMetadata и *AudioVisualFileMetadata,
// создаются только через конструкторы с проверкой.
type FileMetadata interface {
	FilePath() string
	MimeType() string
	fileMetadata()
}

// DefaultFileMetadata — метаданные обычного файла.
type DefaultFileMetadata struct {
	path     string
	mimeType string
	title    string
	access   *FileAccess
}

// NewDefaultFileMetadata создаёт метаданные обычного (не аудиовизуального) файла.
func NewDefaultFileMetadata(spec *FileSpec) (*DefaultFileMetadata, error) {
	if spec.Path == "" {
		return nil, ErrEmptyPath
	}
	if spec.IsAudioVisual() {
		return nil, ErrUnexpectedAVFile
	}
	m := &DefaultFileMetadata{path: spec.Path, mimeType: spec.MimeType, title: spec.Title}
	if spec.Access != nil {
		a := *spec.Access
		m.access = &a
	}
	return m, nil
}

// FilePath возвращает путь файла относительно каталога пакета.
func (m *DefaultFileMetadata) FilePath() string { return m.path }

// MimeType возвращает MIME-тип файла.
func (m *DefaultFileMetadata) MimeType() string { return m.mimeType }

func (m *DefaultFileMetadata) fileMetadata() {}

// Title возвращает заголовок; пустая строка — заголовок не задан.
func (m *DefaultFileMetadata) Title() string { return m.title }

// Access возвращает явную категорию доступа файла, если она задана.
func (m *DefaultFileMetadata) Access() (FileAccess, bool) {
	if m.access == nil {
		return "", false
	}
	return *m.access, true
}

// AudioVisualFileMetadata — метаданные аудио/видеофайла.
// Заголовок и категория доступа всегда заданы.
type AudioVisualFileMetadata struct {
	path       string
	mimeType   string
	vocabulary Vocabulary
	title      string
	access     FileAccess
	subtitles  []Subtitle
}

// NewAudioVisualFileMetadata создаёт метаданные аудиовизуального файла.
// access — явная категория файла либо унаследованная от датасета;
// nil означает, что категорию разрешить не удалось.
func NewAudioVisualFileMetadata(spec *FileSpec, access *FileAccess) (*AudioVisualFileMetadata, error) {
	if spec.Path == "" {
		return nil, ErrEmptyPath
	}
	if !spec.IsAudioVisual() {
		return nil, ErrNotAudioVisual
	}
	if strings.TrimSpace(spec.Title) == "" {
		return nil, ErrMissingTitle
	}
	if access == nil || *access == "" {
		return nil, ErrMissingAccess
	}
	subs := make([]Subtitle, len(spec.Subtitles))
	copy(subs, spec.Subtitles)
	return &AudioVisualFileMetadata{
		path:       spec.Path,
		mimeType:   spec.MimeType,
		vocabulary: spec.Vocabulary,
		title:      spec.Title,
		access:     *access,
		subtitles:  subs,
	}, nil
}

// FilePath возвращает путь файла относительно каталога пакета.
func (m *AudioVisualFileMetadata) FilePath() string { return m.path }

// MimeType возвращает MIME-тип файла.
func (m *AudioVisualFileMetadata) MimeType() string { return m.mimeType }

// Vocabulary возвращает словарь Springfield: audio или video.
func (m *AudioVisualFileMetadata) Vocabulary() Vocabulary { return m.vocabulary }

// Title возвращает заголовок файла.
func (m *AudioVisualFileMetadata) Title() string { return m.title }

// Access возвращает категорию доступа: явную или унаследованную от датасета.
func (m *AudioVisualFileMetadata) Access() FileAccess { return m.access }

func (m *AudioVisualFileMetadata) fileMetadata() {}

// Subtitles возвращает копию списка субтитров.
func (m *AudioVisualFileMetadata) Subtitles() []Subtitle {
	out := make([]Subtitle, len(m.subtitles))
	copy(out, m.subtitles)
	return out
}
