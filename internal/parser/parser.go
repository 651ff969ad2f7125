// Пакет parser — разбор таблицы инструкций (instructions.csv) в набор
// депозитов. Разбор не изменяет файловую систему; единственное обращение
// к файлам полезной нагрузки — определение MIME-типа через Detector.
package parser

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rkruithof/easy-split-multi-deposit/internal/config"
	"github.com/rkruithof/easy-split-multi-deposit/internal/domain/failure"
	"github.com/rkruithof/easy-split-multi-deposit/internal/domain/model"
)

// headerRow — номер строки заголовка.
const headerRow = 1

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Batch — результат разбора: депозиты в порядке первого появления.
type Batch struct {
	Order    []model.DepositID
	Datasets map[model.DepositID]*model.Dataset
}

// Len возвращает число депозитов.
func (b *Batch) Len() int { return len(b.Order) }

// Ordered возвращает депозиты в порядке первого появления в таблице.
func (b *Batch) Ordered() []*model.Dataset {
	out := make([]*model.Dataset, 0, len(b.Order))
	for _, id := range b.Order {
		out = append(out, b.Datasets[id])
	}
	return out
}

// ParseFile читает instructions.csv из каталога пакета.
func ParseFile(s *config.Settings, det Detector) (*Batch, error) {
	path := s.InstructionsPath()
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть файл инструкций %s: %w", path, err)
	}
	defer f.Close()

	b, err := Parse(f, s, det)
	var empty *failure.EmptyInstructionsError
	if errors.As(err, &empty) {
		empty.Path = path
	}
	return b, err
}

// Parse разбирает таблицу инструкций.
//
// Ошибки:
//   - *failure.EmptyInstructionsError — нет ни одной строки данных
//   - failure.ParseErrors — все ошибки разбора, отсортированные по строке
func Parse(r io.Reader, s *config.Settings, det Detector) (*Batch, error) {
	p := &parser{
		settings: s,
		detector: det,
		builders: make(map[model.DepositID]*datasetBuilder),
		mimes:    make(map[string]string),
	}
	return p.parse(r)
}

type scalarValue struct {
	value string
	row   int
}

type datasetBuilder struct {
	ds      *model.Dataset
	scalars map[column]scalarValue
	files   map[string]*fileBuilder
}

type fileBuilder struct {
	spec      *model.FileSpec
	title     scalarValue
	access    scalarValue
	subtitles map[string]scalarValue
}

type parser struct {
	settings *config.Settings
	detector Detector

	header   []column
	order    []model.DepositID
	builders map[model.DepositID]*datasetBuilder
	mimes    map[string]string
	errs     failure.ParseErrors
}

func (p *parser) fail(row int, format string, args ...any) {
	p.errs = append(p.errs, &failure.ParseError{Row: row, Reason: fmt.Sprintf(format, args...)})
}

func (p *parser) parse(r io.Reader) (*Batch, error) {
	br := bufio.NewReader(r)
	if prefix, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(prefix, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &failure.EmptyInstructionsError{}
	}
	if err != nil {
		return nil, failure.ParseErrors{csvError(err, headerRow)}
	}
	if !p.readHeader(header) {
		return nil, p.errs
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			// Читатель продолжает со следующей записи
			p.errs = append(p.errs, csvError(err, 0))
			continue
		}
		if err != nil {
			p.errs = append(p.errs, csvError(err, 0))
			break
		}
		row, _ := reader.FieldPos(0)
		p.readRow(row, record)
	}

	if len(p.order) == 0 && len(p.errs) == 0 {
		return nil, &failure.EmptyInstructionsError{}
	}

	for _, id := range p.order {
		p.finish(p.builders[id])
	}

	if len(p.errs) > 0 {
		p.errs.Sort()
		return nil, p.errs
	}

	b := &Batch{Order: p.order, Datasets: make(map[model.DepositID]*model.Dataset, len(p.order))}
	for _, id := range p.order {
		b.Datasets[id] = p.builders[id].ds
	}
	return b, nil
}

func csvError(err error, fallbackRow int) *failure.ParseError {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &failure.ParseError{Row: pe.StartLine, Reason: pe.Err.Error()}
	}
	return &failure.ParseError{Row: fallbackRow, Reason: err.Error()}
}

// readHeader проверяет заголовок. Возвращает false, если разбор
// строк данных невозможен.
func (p *parser) readHeader(record []string) bool {
	seen := make(map[column]bool)
	for _, raw := range record {
		c := column(strings.ToUpper(strings.TrimSpace(raw)))
		switch {
		case c == "":
			p.fail(headerRow, "empty column name")
		case !knownColumns[c]:
			p.fail(headerRow, "unknown column %q", raw)
		case seen[c]:
			p.fail(headerRow, "duplicate column %s", c)
		}
		seen[c] = true
		p.header = append(p.header, c)
	}
	if !seen[colDataset] {
		p.fail(headerRow, "missing column %s", colDataset)
	}
	return len(p.errs) == 0
}

func (p *parser) readRow(row int, record []string) {
	if len(record) > len(p.header) {
		p.fail(row, "row has %d fields, header has %d", len(record), len(p.header))
		return
	}

	values := make(map[column]string, len(record))
	blank := true
	for i, raw := range record {
		v := strings.TrimSpace(raw)
		if v != "" {
			blank = false
			values[p.header[i]] = v
		}
	}
	if blank {
		return
	}

	id, err := model.ParseDepositID(values[colDataset])
	if err != nil {
		p.fail(row, "%s: %v", colDataset, err)
		return
	}

	b, ok := p.builders[id]
	if !ok {
		b = &datasetBuilder{
			ds: &model.Dataset{
				ID:            id,
				DatamanagerID: p.settings.DatamanagerID(),
			},
			scalars: make(map[column]scalarValue),
			files:   make(map[string]*fileBuilder),
		}
		p.builders[id] = b
		p.order = append(p.order, id)
	}
	b.ds.Rows = append(b.ds.Rows, row)

	for _, c := range scalarColumns {
		if v, ok := values[c]; ok {
			p.merge(b.scalars, c, scalarValue{value: v, row: row}, string(c))
		}
	}

	filePath, hasFile := values[colFilePath]
	if !hasFile {
		for _, c := range perFileColumns {
			if _, ok := values[c]; ok {
				p.fail(row, "%s given without %s", c, colFilePath)
			}
		}
		return
	}

	p.readFile(b, row, filePath, values)
}

// merge применяет правило скаляра: первое непустое значение закрепляется,
// отличающееся значение в более поздней строке — ошибка этой строки.
func (p *parser) merge(scalars map[column]scalarValue, c column, v scalarValue, label string) {
	prev, ok := scalars[c]
	if !ok {
		scalars[c] = v
		return
	}
	if prev.value != v.value {
		p.fail(v.row, "%s has conflicting values %q (row %d) and %q", label, prev.value, prev.row, v.value)
	}
}

func (p *parser) readFile(b *datasetBuilder, row int, raw string, values map[column]string) {
	rel := normalizePath(raw)

	fb, ok := b.files[rel]
	if !ok {
		mimeType := p.detect(rel)
		fb = &fileBuilder{
			spec: &model.FileSpec{
				Row:        row,
				Path:       rel,
				MimeType:   mimeType,
				Vocabulary: model.VocabularyForMime(mimeType),
			},
			subtitles: make(map[string]scalarValue),
		}
		b.files[rel] = fb
		b.ds.Files = append(b.ds.Files, fb.spec)
	}

	label := func(c column) string { return fmt.Sprintf("%s of %s", c, rel) }

	if v, ok := values[colFileTitle]; ok {
		p.mergeFileScalar(&fb.title, scalarValue{value: v, row: row}, label(colFileTitle))
		fb.spec.Title = fb.title.value
	}

	if v, ok := values[colFileAccess]; ok {
		a, err := model.ParseFileAccess(v)
		if err != nil {
			p.fail(row, "%s: %v", colFileAccess, err)
		} else {
			p.mergeFileScalar(&fb.access, scalarValue{value: string(a), row: row}, label(colFileAccess))
			access := model.FileAccess(fb.access.value)
			fb.spec.Access = &access
		}
	}

	sub, hasSub := values[colSubtitles]
	lang, hasLang := values[colSubtitleLanguage]
	switch {
	case hasSub:
		subRel := normalizePath(sub)
		prev, seen := fb.subtitles[subRel]
		if seen {
			if prev.value != lang {
				p.fail(row, "%s has conflicting languages %q (row %d) and %q", label(colSubtitles), prev.value, prev.row, lang)
			}
			return
		}
		fb.subtitles[subRel] = scalarValue{value: lang, row: row}
		fb.spec.Subtitles = append(fb.spec.Subtitles, model.Subtitle{
			Row:      row,
			Path:     subRel,
			MimeType: p.detect(subRel),
			Language: lang,
		})
	case hasLang:
		p.fail(row, "%s given without %s", colSubtitleLanguage, colSubtitles)
	}
}

func (p *parser) mergeFileScalar(current *scalarValue, v scalarValue, label string) {
	if current.row == 0 {
		*current = v
		return
	}
	if current.value != v.value {
		p.fail(v.row, "%s has conflicting values %q (row %d) and %q", label, current.value, current.row, v.value)
	}
}

// detect определяет MIME-тип один раз для каждого пути.
func (p *parser) detect(rel string) string {
	if t, ok := p.mimes[rel]; ok {
		return t
	}
	t := p.detector.Detect(filepath.Join(p.settings.MultiDepositDir(), filepath.FromSlash(rel)))
	p.mimes[rel] = t
	return t
}

// finish переносит закреплённые скаляры в Dataset с разбором дат и перечислений.
func (p *parser) finish(b *datasetBuilder) {
	ds := b.ds
	str := func(c column) string { return b.scalars[c].value }

	ds.DepositorID = str(colDepositorID)
	if ds.DepositorID == "" {
		ds.DepositorID = p.settings.Depositor()
	}
	ds.Title = str(colTitle)
	ds.Description = str(colDescription)
	ds.Creator = str(colCreator)
	ds.Audience = str(colAudience)
	ds.SpringfieldUser = str(colSFUser)
	ds.SpringfieldCollection = str(colSFCollection)

	if v, ok := b.scalars[colCreated]; ok {
		if t, err := time.Parse(model.DateLayout, v.value); err != nil {
			p.fail(v.row, "%s: invalid date %q, expected YYYY-MM-DD", colCreated, v.value)
		} else {
			ds.Created = t
		}
	}
	if v, ok := b.scalars[colAvailable]; ok {
		if t, err := time.Parse(model.DateLayout, v.value); err != nil {
			p.fail(v.row, "%s: invalid date %q, expected YYYY-MM-DD", colAvailable, v.value)
		} else {
			ds.Available = &t
		}
	}
	if v, ok := b.scalars[colAccessRights]; ok {
		if a, err := model.ParseDatasetAccess(v.value); err != nil {
			p.fail(v.row, "%s: %v", colAccessRights, err)
		} else {
			ds.AccessRights = &a
		}
	}
}

// normalizePath приводит путь к виду с прямыми слешами без "./".
// Выход за пределы каталога пакета проверяет валидатор.
func normalizePath(raw string) string {
	p := strings.ReplaceAll(strings.TrimSpace(raw), `\`, "/")
	return path.Clean(p)
}
