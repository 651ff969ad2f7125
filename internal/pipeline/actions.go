package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/rkruithof/easy-split-multi-deposit/internal/bagit"
	"github.com/rkruithof/easy-split-multi-deposit/internal/config"
	"github.com/rkruithof/easy-split-multi-deposit/internal/layout"
	"github.com/rkruithof/easy-split-multi-deposit/internal/metadata"
	"github.com/rkruithof/easy-split-multi-deposit/internal/storage/fsutil"
	"github.com/rkruithof/easy-split-multi-deposit/internal/validation"
)

const (
	dirPerm  = 0o750
	filePerm = 0o640
)

// Plan — набор действий одного депозита с общим состоянием сборки.
type Plan struct {
	Actions []Action
	b       *build
}

// PayloadBytes возвращает объём скопированной полезной нагрузки.
func (p *Plan) PayloadBytes() int64 { return p.b.payloadBytes }

// BagID возвращает идентификатор bag, записанный в deposit.properties.
func (p *Plan) BagID() string { return p.b.bagID }

// build — состояние, разделяемое действиями одного депозита.
type build struct {
	settings *config.Settings
	v        *validation.Validated
	l        layout.Layout
	now      time.Time
	logger   *slog.Logger

	// payload — результат копирования по относительному пути
	payload      map[string]*fsutil.CopyResult
	payloadBytes int64
	bagID        string
}

// NewPlan строит фиксированную последовательность действий для депозита.
// now — время прогона: дата доступности по умолчанию и метки времени.
func NewPlan(settings *config.Settings, v *validation.Validated, now time.Time, logger *slog.Logger) *Plan {
	b := &build{
		settings: settings,
		v:        v,
		l:        v.Layout,
		now:      now,
		logger:   logger.With(slog.String("deposit_id", string(v.Dataset.ID))),
		payload:  make(map[string]*fsutil.CopyResult),
	}
	return &Plan{
		b: b,
		Actions: []Action{
			&createStaging{b},
			&copyPayload{b},
			&writeDatasetMetadata{b},
			&writeFileMetadata{b},
			&writeBag{b},
			&writeProperties{b},
			&setPermissions{build: b},
			&moveToOutput{b},
		},
	}
}

// CleanupPaths — пути, которые удаляет восстановление после сбоя прогона.
// OutputRoot не входит: перенос в него атомарен.
func CleanupPaths(l layout.Layout) []string {
	return []string{l.StagingRoot, l.OutputPartial}
}

// requireAbsent возвращает ошибку, если путь уже существует.
func requireAbsent(path string) error {
	exists, err := fsutil.Exists(path)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%s already exists", path)
	}
	return nil
}

// requirePresent возвращает ошибку, если путь не существует.
func requirePresent(path string) error {
	exists, err := fsutil.Exists(path)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%s does not exist", path)
	}
	return nil
}

// removeFile удаляет файл; отсутствие файла не ошибка.
func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// --- create-staging ---

type createStaging struct{ *build }

func (a *createStaging) Name() string { return ActionCreateStaging }

func (a *createStaging) CheckPreconditions(context.Context) error {
	return requireAbsent(a.l.StagingRoot)
}

func (a *createStaging) Execute(context.Context) error {
	for _, dir := range []string{a.l.StagingPayload, a.l.StagingMetadata} {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			os.RemoveAll(a.l.StagingRoot)
			return fmt.Errorf("ошибка создания каталога %s: %w", dir, err)
		}
	}
	a.logger.Debug("Каталог staging создан", slog.String("path", a.l.StagingRoot))
	return nil
}

func (a *createStaging) Rollback(context.Context) error {
	return os.RemoveAll(a.l.StagingRoot)
}

// --- copy-payload ---

type copyPayload struct{ *build }

func (a *copyPayload) Name() string { return ActionCopyPayload }

func (a *copyPayload) CheckPreconditions(context.Context) error {
	return requirePresent(a.l.StagingPayload)
}

func (a *copyPayload) Execute(context.Context) error {
	for _, rel := range a.v.Dataset.PayloadPaths() {
		src := filepath.Join(a.settings.MultiDepositDir(), filepath.FromSlash(rel))
		res, err := fsutil.CopyFile(src, a.l.PayloadPath(rel))
		if err != nil {
			a.reset()
			return fmt.Errorf("ошибка копирования %s: %w", rel, err)
		}
		a.payload[rel] = res
		a.payloadBytes += res.Size
	}
	a.logger.Debug("Полезная нагрузка скопирована",
		slog.Int("files", len(a.payload)),
		slog.Int64("bytes", a.payloadBytes),
	)
	return nil
}

func (a *copyPayload) Rollback(context.Context) error {
	return a.reset()
}

// reset возвращает data/ в пустое состояние.
func (a *copyPayload) reset() error {
	a.payload = make(map[string]*fsutil.CopyResult)
	a.payloadBytes = 0
	if err := os.RemoveAll(a.l.StagingPayload); err != nil {
		return err
	}
	return os.MkdirAll(a.l.StagingPayload, dirPerm)
}

// --- write-dataset-metadata ---

type writeDatasetMetadata struct{ *build }

func (a *writeDatasetMetadata) Name() string { return ActionWriteDatasetMetadata }

func (a *writeDatasetMetadata) CheckPreconditions(context.Context) error {
	if err := requirePresent(a.l.StagingMetadata); err != nil {
		return err
	}
	return requireAbsent(a.l.StagingDatasetXML)
}

func (a *writeDatasetMetadata) Execute(context.Context) error {
	data, err := metadata.RenderDataset(a.v.Dataset, a.now)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(a.l.StagingDatasetXML, data, filePerm)
}

func (a *writeDatasetMetadata) Rollback(context.Context) error {
	return removeFile(a.l.StagingDatasetXML)
}

// --- write-file-metadata ---

type writeFileMetadata struct{ *build }

func (a *writeFileMetadata) Name() string { return ActionWriteFileMetadata }

func (a *writeFileMetadata) CheckPreconditions(context.Context) error {
	if err := requirePresent(a.l.StagingMetadata); err != nil {
		return err
	}
	return requireAbsent(a.l.StagingFilesXML)
}

func (a *writeFileMetadata) Execute(context.Context) error {
	data, err := metadata.RenderFiles(a.v.Files)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(a.l.StagingFilesXML, data, filePerm)
}

func (a *writeFileMetadata) Rollback(context.Context) error {
	return removeFile(a.l.StagingFilesXML)
}

// --- write-bag ---

type writeBag struct{ *build }

func (a *writeBag) Name() string { return ActionWriteBag }

// CheckPreconditions требует контрольную сумму для каждого файла
// полезной нагрузки и оба файла метаданных.
func (a *writeBag) CheckPreconditions(context.Context) error {
	for _, rel := range a.v.Dataset.PayloadPaths() {
		if _, ok := a.payload[rel]; !ok {
			return fmt.Errorf("no checksum for payload file %s", rel)
		}
	}
	for _, p := range []string{a.l.StagingDatasetXML, a.l.StagingFilesXML} {
		if err := requirePresent(p); err != nil {
			return err
		}
	}
	return nil
}

func (a *writeBag) Execute(context.Context) error {
	bag := bagit.New(a.l.StagingBag)
	for _, rel := range a.v.Dataset.PayloadPaths() {
		res := a.payload[rel]
		if err := bag.AddPayload(layout.BagPayloadName(rel), res.SHA1, res.Size); err != nil {
			return err
		}
	}
	bag.SetTag("Created", a.now.UTC().Format(time.RFC3339))
	if err := bag.Write(); err != nil {
		a.Rollback(context.Background())
		return err
	}
	return nil
}

func (a *writeBag) Rollback(context.Context) error {
	var errs []error
	for _, name := range bagit.ControlFiles() {
		if err := removeFile(filepath.Join(a.l.StagingBag, name)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// --- write-properties ---

type writeProperties struct{ *build }

func (a *writeProperties) Name() string { return ActionWriteProperties }

func (a *writeProperties) CheckPreconditions(context.Context) error {
	if a.v.DatamanagerEmail == "" {
		return errors.New("datamanager email is not resolved")
	}
	return requireAbsent(a.l.StagingProperties)
}

func (a *writeProperties) Execute(context.Context) error {
	ds := a.v.Dataset
	bagID := uuid.NewString()
	data, err := metadata.RenderProperties(metadata.DepositProperties{
		BagID:                 bagID,
		Created:               a.now,
		DepositorID:           ds.DepositorID,
		DatamanagerID:         ds.DatamanagerID,
		DatamanagerEmail:      a.v.DatamanagerEmail,
		AudioVisual:           ds.HasAudioVisual(),
		SpringfieldUser:       ds.SpringfieldUser,
		SpringfieldCollection: ds.SpringfieldCollection,
	})
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(a.l.StagingProperties, data, filePerm); err != nil {
		return err
	}
	a.bagID = bagID
	return nil
}

func (a *writeProperties) Rollback(context.Context) error {
	a.bagID = ""
	return removeFile(a.l.StagingProperties)
}

// --- set-permissions ---

type setPermissions struct {
	*build
	gid int
}

func (a *setPermissions) Name() string { return ActionSetPermissions }

// CheckPreconditions разрешает группу в gid; -1 — группа не задана.
func (a *setPermissions) CheckPreconditions(context.Context) error {
	a.gid = -1
	group := a.settings.Permissions().Group
	if group == "" {
		return nil
	}
	if gid, err := strconv.Atoi(group); err == nil {
		a.gid = gid
		return nil
	}
	g, err := user.LookupGroup(group)
	if err != nil {
		return fmt.Errorf("group %s: %w", group, err)
	}
	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		return fmt.Errorf("group %s has non-numeric gid %q", group, g.Gid)
	}
	a.gid = gid
	return nil
}

func (a *setPermissions) Execute(context.Context) error {
	return fsutil.ApplyPermissions(a.l.StagingRoot, a.settings.Permissions().Mode, a.gid)
}

// Rollback ничего не делает: права относятся к staging, который
// удаляет откат create-staging.
func (a *setPermissions) Rollback(context.Context) error { return nil }

// --- move-to-output ---

type moveToOutput struct{ *build }

func (a *moveToOutput) Name() string { return ActionMoveToOutput }

// CheckPreconditions сверяет bag с манифестами: повреждённый bag
// не попадает в выходной каталог.
func (a *moveToOutput) CheckPreconditions(context.Context) error {
	if err := requirePresent(a.l.StagingRoot); err != nil {
		return err
	}
	if err := requireAbsent(a.l.OutputPartial); err != nil {
		return err
	}
	if err := requireAbsent(a.l.OutputRoot); err != nil {
		return err
	}
	return bagit.Verify(a.l.StagingBag)
}

func (a *moveToOutput) Execute(context.Context) error {
	if err := os.MkdirAll(a.settings.OutputDepositDir(), dirPerm); err != nil {
		return fmt.Errorf("ошибка создания выходного каталога: %w", err)
	}
	if err := fsutil.MoveDir(a.l.StagingRoot, a.l.OutputRoot, a.l.OutputPartial); err != nil {
		// OutputRoot отсутствовал до переноса (предусловие)
		os.RemoveAll(a.l.OutputRoot)
		os.RemoveAll(a.l.OutputPartial)
		return err
	}
	a.logger.Info("Депозит перемещён в выходной каталог", slog.String("path", a.l.OutputRoot))
	return nil
}

func (a *moveToOutput) Rollback(context.Context) error {
	return errors.Join(os.RemoveAll(a.l.OutputRoot), os.RemoveAll(a.l.OutputPartial))
}
