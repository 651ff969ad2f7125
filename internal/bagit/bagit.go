// Пакет bagit — минимальная запись BagIt-контейнера поверх каталога:
// bagit.txt, bag-info.txt, manifest-sha1.txt и tagmanifest-sha1.txt.
//
// Полезная нагрузка (data/) и тег-файлы (metadata/) к моменту Write уже
// лежат в каталоге bag. Контрольные суммы полезной нагрузки передаются
// через AddPayload (их считает копирование), тег-файлы хешируются при записи.
// Fetch-файлы и «дырявые» bag не поддерживаются.
package bagit

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/rkruithof/easy-split-multi-deposit/internal/storage/fsutil"
)

const (
	// Version — версия спецификации BagIt.
	Version  = "0.97"
	Encoding = "UTF-8"
)

// Имена управляющих файлов bag.
const (
	DeclarationFile = "bagit.txt"
	BagInfoFile     = "bag-info.txt"
	ManifestFile    = "manifest-sha1.txt"
	TagManifestFile = "tagmanifest-sha1.txt"
)

const filePerm = 0o640

// ErrChecksumMismatch — содержимое файла не совпадает с манифестом.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// Bag — записываемый BagIt-контейнер.
type Bag struct {
	dir      string
	manifest map[string]string
	tags     []tag
	oxumSize int64
	now      func() time.Time
}

type tag struct {
	name, value string
}

// New создаёт bag поверх существующего каталога dir.
func New(dir string) *Bag {
	return &Bag{
		dir:      dir,
		manifest: make(map[string]string),
		now:      time.Now,
	}
}

// ControlFiles возвращает имена файлов, которые создаёт Write.
func ControlFiles() []string {
	return []string{DeclarationFile, BagInfoFile, ManifestFile, TagManifestFile}
}

// AddPayload регистрирует файл полезной нагрузки. name — путь внутри bag
// с префиксом data/, sha1 — контрольная сумма в hex.
func (b *Bag) AddPayload(name, sha1 string, size int64) error {
	if !strings.HasPrefix(name, "data/") {
		return fmt.Errorf("файл полезной нагрузки вне data/: %s", name)
	}
	if _, ok := b.manifest[name]; ok {
		return fmt.Errorf("файл полезной нагрузки уже добавлен: %s", name)
	}
	b.manifest[name] = sha1
	b.oxumSize += size
	return nil
}

// SetTag добавляет тег в bag-info.txt. Порядок тегов сохраняется.
func (b *Bag) SetTag(name, value string) {
	b.tags = append(b.tags, tag{name: name, value: value})
}

// Write записывает управляющие файлы bag. Тег-манифест пишется последним
// и покрывает все прочие файлы вне data/.
func (b *Bag) Write() error {
	declaration := fmt.Sprintf("BagIt-Version: %s\nTag-File-Character-Encoding: %s\n", Version, Encoding)
	if err := b.writeFile(DeclarationFile, declaration); err != nil {
		return err
	}
	if err := b.writeFile(BagInfoFile, b.bagInfo()); err != nil {
		return err
	}
	if err := b.writeFile(ManifestFile, formatManifest(b.manifest)); err != nil {
		return err
	}

	tagSums, err := b.tagChecksums()
	if err != nil {
		return err
	}
	return b.writeFile(TagManifestFile, formatManifest(tagSums))
}

func (b *Bag) bagInfo() string {
	var sb strings.Builder
	reserved := []tag{
		{"Bagging-Date", b.now().Format("2006-01-02")},
		{"Payload-Oxum", strconv.FormatInt(b.oxumSize, 10) + "." + strconv.Itoa(len(b.manifest))},
		{"Bag-Size", humanize.Bytes(uint64(b.oxumSize))},
	}
	for _, t := range append(reserved, b.tags...) {
		sb.WriteString(t.name)
		sb.WriteString(": ")
		sb.WriteString(t.value)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// tagChecksums хеширует все файлы bag вне data/, кроме самого тег-манифеста.
func (b *Bag) tagChecksums() (map[string]string, error) {
	sums := make(map[string]string)
	err := filepath.WalkDir(b.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(b.dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel == "data" {
				return filepath.SkipDir
			}
			return nil
		}
		if rel == TagManifestFile || strings.HasSuffix(rel, ".tmp") {
			return nil
		}
		sum, err := fsutil.ChecksumFile(path)
		if err != nil {
			return err
		}
		sums[rel] = sum
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта контрольных сумм тег-файлов: %w", err)
	}
	return sums, nil
}

func (b *Bag) writeFile(name, content string) error {
	if err := fsutil.WriteFileAtomic(filepath.Join(b.dir, name), []byte(content), filePerm); err != nil {
		return fmt.Errorf("ошибка записи %s: %w", name, err)
	}
	return nil
}

// formatManifest формирует строки «<sha1>  <path>» в порядке путей.
func formatManifest(sums map[string]string) string {
	names := make([]string, 0, len(sums))
	for name := range sums {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		sb.WriteString(sums[name])
		sb.WriteString("  ")
		sb.WriteString(name)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Verify сверяет файлы bag в dir с manifest-sha1.txt и tagmanifest-sha1.txt.
func Verify(dir string) error {
	for _, m := range []string{ManifestFile, TagManifestFile} {
		sums, err := ReadManifest(filepath.Join(dir, m))
		if err != nil {
			return err
		}
		for name, want := range sums {
			got, err := fsutil.ChecksumFile(filepath.Join(dir, filepath.FromSlash(name)))
			if err != nil {
				return err
			}
			if got != want {
				return fmt.Errorf("%w: %s", ErrChecksumMismatch, name)
			}
		}
	}
	return nil
}

// ReadManifest разбирает файл манифеста в отображение путь → контрольная сумма.
func ReadManifest(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия манифеста: %w", err)
	}
	defer f.Close()

	sums := make(map[string]string)
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if text == "" {
			continue
		}
		sum, name, ok := strings.Cut(text, " ")
		name = strings.TrimLeft(name, " *")
		if !ok || name == "" {
			return nil, fmt.Errorf("строка %d манифеста %s: некорректный формат", line, filepath.Base(path))
		}
		sums[name] = sum
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения манифеста: %w", err)
	}
	return sums, nil
}
