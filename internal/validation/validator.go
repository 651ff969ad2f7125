// Пакет validation — проверка предусловий депозитов перед запуском конвейера.
//
// Проверки выполняются для каждого депозита целиком: собираются все
// нарушения, а не только первое. Файловая система не изменяется.
package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rkruithof/easy-split-multi-deposit/internal/config"
	"github.com/rkruithof/easy-split-multi-deposit/internal/domain/failure"
	"github.com/rkruithof/easy-split-multi-deposit/internal/domain/model"
	"github.com/rkruithof/easy-split-multi-deposit/internal/identity"
	"github.com/rkruithof/easy-split-multi-deposit/internal/layout"
	"github.com/rkruithof/easy-split-multi-deposit/internal/parser"
	"github.com/rkruithof/easy-split-multi-deposit/internal/storage/fsutil"
)

var languagePattern = regexp.MustCompile(`^[a-z]{2}$`)

// Resolver — проверка datamanager (реализуется identity.Resolver).
type Resolver interface {
	Resolve(ctx context.Context, id string) (string, error)
}

// Validated — депозит, прошедший все проверки.
type Validated struct {
	Dataset *model.Dataset
	Layout  layout.Layout
	// Files — метаданные файлов в порядке Dataset.Files
	Files            []model.FileMetadata
	DatamanagerEmail string
}

// Result — итог проверки всего пакета.
type Result struct {
	// Valid — депозиты без нарушений, в порядке первого появления
	Valid    []*Validated
	Failures []*failure.PreconditionError
}

// Validator проверяет предусловия депозитов.
type Validator struct {
	settings *config.Settings
	resolver Resolver
	logger   *slog.Logger
}

// New создаёт Validator.
func New(settings *config.Settings, resolver Resolver, logger *slog.Logger) *Validator {
	return &Validator{
		settings: settings,
		resolver: resolver,
		logger:   logger.With(slog.String("component", "validator")),
	}
}

// check накапливает нарушения одного депозита.
type check struct {
	ds       *model.Dataset
	failures []*failure.PreconditionError
}

func (c *check) fail(row int, cause error, format string, args ...any) {
	c.failures = append(c.failures, &failure.PreconditionError{
		DepositID: c.ds.ID,
		Row:       row,
		Reason:    fmt.Sprintf(format, args...),
		Cause:     cause,
	})
}

// Validate проверяет один депозит. Возвращает либо Validated, либо
// список нарушений. Третье значение — фатальная ошибка прогона
// (сбой справочника); при ней остальные результаты не определены.
func (v *Validator) Validate(ctx context.Context, ds *model.Dataset) (*Validated, []*failure.PreconditionError, error) {
	c := &check{ds: ds}

	v.checkRequired(c)
	v.checkSpringfield(c)
	v.checkFilesExist(c)
	files := v.buildFileMetadata(c)
	v.checkSubtitleLanguages(c)
	v.checkFormats(c)
	l := layout.For(v.settings, ds.ID)
	v.checkTargets(c, l)

	email, err := v.resolver.Resolve(ctx, ds.DatamanagerID)
	switch {
	case err == nil:
	case failure.IsFatal(err):
		return nil, nil, err
	case identity.IsPolicyViolation(err):
		c.fail(ds.FirstRow(), err, "%s", err.Error())
	default:
		return nil, nil, err
	}

	if len(c.failures) > 0 {
		v.logger.Warn("Депозит не прошёл проверку предусловий",
			slog.String("deposit_id", string(ds.ID)),
			slog.Int("failures", len(c.failures)),
		)
		return nil, c.failures, nil
	}

	v.logger.Debug("Депозит прошёл проверку предусловий",
		slog.String("deposit_id", string(ds.ID)),
		slog.Int("files", len(files)),
	)
	return &Validated{
		Dataset:          ds,
		Layout:           l,
		Files:            files,
		DatamanagerEmail: email,
	}, nil, nil
}

// ValidateAll проверяет все депозиты пакета в порядке первого появления.
// Фатальная ошибка прерывает проверку.
func (v *Validator) ValidateAll(ctx context.Context, batch *parser.Batch) (*Result, error) {
	res := &Result{}
	for _, ds := range batch.Ordered() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		valid, failures, err := v.Validate(ctx, ds)
		if err != nil {
			return nil, fmt.Errorf("проверка депозита %s: %w", ds.ID, err)
		}
		if valid != nil {
			res.Valid = append(res.Valid, valid)
		}
		res.Failures = append(res.Failures, failures...)
	}

	v.logger.Info("Проверка предусловий завершена",
		slog.Int("valid", len(res.Valid)),
		slog.Int("failures", len(res.Failures)),
	)
	return res, nil
}

func (v *Validator) checkRequired(c *check) {
	ds := c.ds
	row := ds.FirstRow()
	required := []struct {
		column  string
		missing bool
	}{
		{"DDM_TITLE", strings.TrimSpace(ds.Title) == ""},
		{"DDM_DESCRIPTION", strings.TrimSpace(ds.Description) == ""},
		{"DDM_CREATOR", strings.TrimSpace(ds.Creator) == ""},
		{"DDM_CREATED", ds.Created.IsZero()},
		{"DDM_AUDIENCE", strings.TrimSpace(ds.Audience) == ""},
		{"DDM_ACCESSRIGHTS", ds.AccessRights == nil},
		{"DEPOSITOR_ID", strings.TrimSpace(ds.DepositorID) == ""},
	}
	for _, r := range required {
		if r.missing {
			c.fail(row, nil, "%s is required", r.column)
		}
	}
}

func (v *Validator) checkSpringfield(c *check) {
	ds := c.ds
	if !ds.HasAudioVisual() {
		return
	}
	if strings.TrimSpace(ds.SpringfieldUser) == "" {
		c.fail(ds.FirstRow(), nil, "SF_USER is required for a deposit with audio/video files")
	}
	if strings.TrimSpace(ds.SpringfieldCollection) == "" {
		c.fail(ds.FirstRow(), nil, "SF_COLLECTION is required for a deposit with audio/video files")
	}
}

func (v *Validator) checkFilesExist(c *check) {
	root, err := filepath.EvalSymlinks(v.settings.MultiDepositDir())
	if err != nil {
		root = v.settings.MultiDepositDir()
	}
	for _, f := range c.ds.Files {
		v.checkFile(c, root, f.Row, f.Path)
		for _, sub := range f.Subtitles {
			v.checkFile(c, root, sub.Row, sub.Path)
		}
	}
}

// checkFile требует обычный файл, который после разрешения символических
// ссылок остаётся внутри каталога пакета root.
func (v *Validator) checkFile(c *check, root string, row int, rel string) {
	if rel == ".." || strings.HasPrefix(rel, "../") || path.IsAbs(rel) {
		c.fail(row, nil, "file %s is outside the batch directory", rel)
		return
	}
	full := filepath.Join(v.settings.MultiDepositDir(), filepath.FromSlash(rel))
	info, err := os.Stat(full)
	switch {
	case errors.Is(err, os.ErrNotExist):
		c.fail(row, err, "file %s does not exist", rel)
		return
	case err != nil:
		c.fail(row, err, "file %s cannot be read", rel)
		return
	case !info.Mode().IsRegular():
		c.fail(row, nil, "file %s is not a regular file", rel)
		return
	}

	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		c.fail(row, err, "file %s cannot be read", rel)
		return
	}
	if inside, err := filepath.Rel(root, resolved); err != nil || inside == ".." ||
		strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		c.fail(row, nil, "file %s is outside the batch directory", rel)
	}
}

// buildFileMetadata строит FileMetadata через проверяющие конструкторы.
// Аудиовизуальный файл без явной категории наследует её от датасета.
func (v *Validator) buildFileMetadata(c *check) []model.FileMetadata {
	ds := c.ds
	files := make([]model.FileMetadata, 0, len(ds.Files))
	for _, f := range ds.Files {
		if !f.IsAudioVisual() {
			if len(f.Subtitles) > 0 {
				c.fail(f.Subtitles[0].Row, nil, "subtitles given for %s, which is not an audio/video file", f.Path)
			}
			m, err := model.NewDefaultFileMetadata(f)
			if err != nil {
				c.fail(f.Row, err, "file %s: %v", f.Path, err)
				continue
			}
			files = append(files, m)
			continue
		}

		access := f.Access
		if access == nil {
			if def, ok := ds.DefaultFileAccess(); ok {
				access = &def
			}
		}
		m, err := model.NewAudioVisualFileMetadata(f, access)
		if err != nil {
			c.fail(f.Row, err, "file %s: %v", f.Path, err)
			continue
		}
		files = append(files, m)
	}
	return files
}

func (v *Validator) checkSubtitleLanguages(c *check) {
	for _, f := range c.ds.Files {
		for _, sub := range f.Subtitles {
			if sub.Language != "" && !languagePattern.MatchString(sub.Language) {
				c.fail(sub.Row, nil, "subtitle language %q is not a two-letter ISO 639-1 code", sub.Language)
			}
		}
	}
}

func (v *Validator) checkFormats(c *check) {
	for _, f := range c.ds.Files {
		if !v.settings.Accepts(f.MimeType) {
			c.fail(f.Row, nil, "file %s has format %s, which is not accepted", f.Path, f.MimeType)
		}
	}
}

func (v *Validator) checkTargets(c *check, l layout.Layout) {
	row := c.ds.FirstRow()
	for _, target := range []struct{ name, path string }{
		{"staging", l.StagingRoot},
		{"output", l.OutputRoot},
	} {
		exists, err := fsutil.Exists(target.path)
		switch {
		case err != nil:
			c.fail(row, err, "%s directory %s cannot be checked", target.name, target.path)
		case exists:
			c.fail(row, nil, "%s directory %s already exists", target.name, target.path)
		}
	}
}
