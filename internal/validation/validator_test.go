package validation

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rkruithof/easy-split-multi-deposit/internal/config"
	"github.com/rkruithof/easy-split-multi-deposit/internal/directory"
	"github.com/rkruithof/easy-split-multi-deposit/internal/domain/failure"
	"github.com/rkruithof/easy-split-multi-deposit/internal/domain/model"
	"github.com/rkruithof/easy-split-multi-deposit/internal/identity"
	"github.com/rkruithof/easy-split-multi-deposit/internal/layout"
	"github.com/rkruithof/easy-split-multi-deposit/internal/parser"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type env struct {
	settings *config.Settings
	dir      *directory.Static
	v        *Validator
}

func newEnv(t *testing.T, accepted ...string) *env {
	t.Helper()
	root := t.TempDir()
	mdDir := filepath.Join(root, "batch")
	if err := os.MkdirAll(mdDir, 0o755); err != nil {
		t.Fatalf("ошибка создания каталога: %v", err)
	}
	s, err := config.NewSettings(config.SettingsParams{
		MultiDepositDir:  mdDir,
		StagingDir:       filepath.Join(root, "staging"),
		OutputDepositDir: filepath.Join(root, "output"),
		DatamanagerID:    "dm01",
		AcceptedFormats:  accepted,
	})
	if err != nil {
		t.Fatalf("ошибка создания Settings: %v", err)
	}

	dir := directory.NewStatic()
	dir.Add("dm01", directory.AttributeSet{State: "ACTIVE", Roles: []string{"ARCHIVIST"}, Email: "dm@example.org"})
	resolver := identity.NewResolver(dir, 16, time.Hour, testLogger())

	return &env{settings: s, dir: dir, v: New(s, resolver, testLogger())}
}

func (e *env) writeFile(t *testing.T, rel, content string) {
	t.Helper()
	p := filepath.Join(e.settings.MultiDepositDir(), filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("ошибка создания каталога: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("ошибка записи %s: %v", rel, err)
	}
}

func validDataset() *model.Dataset {
	access := model.AccessOpen
	return &model.Dataset{
		ID:            "ds1",
		Rows:          []int{2, 3},
		DepositorID:   "user001",
		DatamanagerID: "dm01",
		Title:         "Title",
		Description:   "Description",
		Creator:       "Creator",
		Audience:      "D30000",
		Created:       time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		AccessRights:  &access,
		Files: []*model.FileSpec{
			{Row: 2, Path: "docs/a.txt", MimeType: "text/plain", Vocabulary: model.VocabularyNone},
		},
	}
}

func reasons(failures []*failure.PreconditionError) string {
	out := make([]string, 0, len(failures))
	for _, f := range failures {
		out = append(out, f.Reason)
	}
	return strings.Join(out, "\n")
}

func TestValidate_Valid(t *testing.T) {
	e := newEnv(t)
	e.writeFile(t, "docs/a.txt", "a")

	v, failures, err := e.v.Validate(context.Background(), validDataset())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(failures) != 0 {
		t.Fatalf("не ожидалось нарушений:\n%s", reasons(failures))
	}
	if v.DatamanagerEmail != "dm@example.org" {
		t.Errorf("ожидался email dm@example.org, получено %s", v.DatamanagerEmail)
	}
	if len(v.Files) != 1 {
		t.Fatalf("ожидался 1 файл, получено %d", len(v.Files))
	}
	if _, ok := v.Files[0].(*model.DefaultFileMetadata); !ok {
		t.Errorf("ожидался DefaultFileMetadata, получено %T", v.Files[0])
	}
	if v.Layout != layout.For(e.settings, "ds1") {
		t.Error("неожиданный layout")
	}
}

func TestValidate_CollectsAllFailures(t *testing.T) {
	e := newEnv(t)
	ds := validDataset()
	ds.Title = ""
	ds.AccessRights = nil
	ds.Created = time.Time{}
	ds.Files = append(ds.Files, &model.FileSpec{Row: 3, Path: "../escape.txt", MimeType: "text/plain"})

	v, failures, err := e.v.Validate(context.Background(), ds)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if v != nil {
		t.Fatal("не ожидался Validated при нарушениях")
	}

	all := reasons(failures)
	for _, want := range []string{
		"DDM_TITLE is required",
		"DDM_CREATED is required",
		"DDM_ACCESSRIGHTS is required",
		"file docs/a.txt does not exist",
		"file ../escape.txt is outside the batch directory",
	} {
		if !strings.Contains(all, want) {
			t.Errorf("ожидалось нарушение %q, получено:\n%s", want, all)
		}
	}
	for _, f := range failures {
		if f.DepositID != "ds1" {
			t.Errorf("неверный депозит в нарушении: %s", f.DepositID)
		}
	}
}

func TestValidate_SymlinkOutsideBatch(t *testing.T) {
	e := newEnv(t)
	secret := filepath.Join(filepath.Dir(e.settings.MultiDepositDir()), "secret.txt")
	if err := os.WriteFile(secret, []byte("secret"), 0o644); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}
	link := filepath.Join(e.settings.MultiDepositDir(), "docs", "a.txt")
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		t.Fatalf("ошибка создания каталога: %v", err)
	}
	if err := os.Symlink(filepath.Join("..", "..", "secret.txt"), link); err != nil {
		t.Skipf("символические ссылки недоступны: %v", err)
	}

	v, failures, err := e.v.Validate(context.Background(), validDataset())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if v != nil {
		t.Fatal("ссылка за пределы пакета не должна проходить проверку")
	}
	if !strings.Contains(reasons(failures), "file docs/a.txt is outside the batch directory") {
		t.Errorf("неожиданные нарушения:\n%s", reasons(failures))
	}
}

func TestValidate_SymlinkInsideBatch(t *testing.T) {
	e := newEnv(t)
	e.writeFile(t, "shared/a.txt", "a")
	link := filepath.Join(e.settings.MultiDepositDir(), "docs", "a.txt")
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		t.Fatalf("ошибка создания каталога: %v", err)
	}
	if err := os.Symlink(filepath.Join("..", "shared", "a.txt"), link); err != nil {
		t.Skipf("символические ссылки недоступны: %v", err)
	}

	_, failures, err := e.v.Validate(context.Background(), validDataset())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(failures) != 0 {
		t.Errorf("ссылка внутри пакета допустима, получено:\n%s", reasons(failures))
	}
}

func TestValidate_AudioVisual(t *testing.T) {
	e := newEnv(t)
	e.writeFile(t, "av/clip.mp4", "video")
	e.writeFile(t, "av/clip.srt", "1")

	ds := validDataset()
	ds.Files = []*model.FileSpec{{
		Row: 2, Path: "av/clip.mp4", MimeType: "video/mp4", Vocabulary: model.VocabularyVideo,
		Title: "Clip",
		Subtitles: []model.Subtitle{
			{Row: 2, Path: "av/clip.srt", MimeType: "application/x-subrip", Language: "nl"},
		},
	}}
	ds.SpringfieldUser = "sfuser"
	ds.SpringfieldCollection = "sfcoll"

	v, failures, err := e.v.Validate(context.Background(), ds)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(failures) != 0 {
		t.Fatalf("не ожидалось нарушений:\n%s", reasons(failures))
	}
	av, ok := v.Files[0].(*model.AudioVisualFileMetadata)
	if !ok {
		t.Fatalf("ожидался AudioVisualFileMetadata, получено %T", v.Files[0])
	}
	// Категория унаследована от OPEN_ACCESS
	if av.Access() != model.FileAccessAnonymous {
		t.Errorf("ожидалась категория ANONYMOUS, получено %s", av.Access())
	}
}

func TestValidate_AudioVisualFailures(t *testing.T) {
	e := newEnv(t)
	e.writeFile(t, "av/clip.mp4", "video")
	e.writeFile(t, "av/clip.srt", "1")
	e.writeFile(t, "docs/a.txt", "a")

	ds := validDataset()
	ds.Files = []*model.FileSpec{
		{
			Row: 2, Path: "av/clip.mp4", MimeType: "video/mp4", Vocabulary: model.VocabularyVideo,
			Subtitles: []model.Subtitle{{Row: 2, Path: "av/clip.srt", Language: "dutch"}},
		},
		{
			Row: 3, Path: "docs/a.txt", MimeType: "text/plain",
			Subtitles: []model.Subtitle{{Row: 3, Path: "av/clip.srt"}},
		},
	}

	_, failures, err := e.v.Validate(context.Background(), ds)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	all := reasons(failures)
	for _, want := range []string{
		"SF_USER is required",
		"SF_COLLECTION is required",
		"audiovisual file has no title",
		`subtitle language "dutch"`,
		"docs/a.txt, which is not an audio/video file",
	} {
		if !strings.Contains(all, want) {
			t.Errorf("ожидалось нарушение %q, получено:\n%s", want, all)
		}
	}

	var titleErr *failure.PreconditionError
	for _, f := range failures {
		if errors.Is(f, model.ErrMissingTitle) {
			titleErr = f
		}
	}
	if titleErr == nil || titleErr.Row != 2 {
		t.Errorf("ожидалось нарушение ErrMissingTitle в строке 2, получено %+v", titleErr)
	}
}

func TestValidate_AcceptedFormats(t *testing.T) {
	e := newEnv(t, "application/pdf")
	e.writeFile(t, "docs/a.txt", "a")

	_, failures, err := e.v.Validate(context.Background(), validDataset())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !strings.Contains(reasons(failures), "format text/plain, which is not accepted") {
		t.Errorf("ожидалось нарушение формата, получено:\n%s", reasons(failures))
	}
}

func TestValidate_TargetsExist(t *testing.T) {
	e := newEnv(t)
	e.writeFile(t, "docs/a.txt", "a")
	l := layout.For(e.settings, "ds1")
	if err := os.MkdirAll(l.OutputRoot, 0o755); err != nil {
		t.Fatalf("ошибка создания каталога: %v", err)
	}

	_, failures, err := e.v.Validate(context.Background(), validDataset())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(failures) != 1 || !strings.Contains(failures[0].Reason, "output directory") {
		t.Errorf("ожидалось одно нарушение об output, получено:\n%s", reasons(failures))
	}
}

func TestValidate_InvalidDatamanager(t *testing.T) {
	e := newEnv(t)
	e.writeFile(t, "docs/a.txt", "a")
	e.dir.Add("dm02", directory.AttributeSet{State: "BLOCKED", Roles: []string{"ARCHIVIST"}, Email: "x@y"})
	ds := validDataset()
	ds.DatamanagerID = "dm02"

	_, failures, err := e.v.Validate(context.Background(), ds)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("ожидалось одно нарушение, получено:\n%s", reasons(failures))
	}
	var invalid *failure.InvalidDatamanagerError
	if !errors.As(failures[0], &invalid) || invalid.Reason != failure.ReasonNotActive {
		t.Errorf("ожидалась InvalidDatamanagerError(not an active user), получено %v", failures[0])
	}
}

func TestValidate_MultipleUsers(t *testing.T) {
	e := newEnv(t)
	e.writeFile(t, "docs/a.txt", "a")
	e.dir.Add("dm01", directory.AttributeSet{State: "ACTIVE", Roles: []string{"ARCHIVIST"}, Email: "other@example.org"})

	_, failures, err := e.v.Validate(context.Background(), validDataset())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(failures) != 1 || !errors.Is(failures[0], failure.ErrMultipleUsers) {
		t.Errorf("ожидалось нарушение ErrMultipleUsers, получено:\n%s", reasons(failures))
	}
}

type failingResolver struct{}

func (failingResolver) Resolve(_ context.Context, id string) (string, error) {
	return "", &failure.DirectoryError{DatamanagerID: id, Cause: errors.New("connection refused")}
}

func TestValidate_DirectoryErrorIsFatal(t *testing.T) {
	e := newEnv(t)
	v := New(e.settings, failingResolver{}, testLogger())

	_, _, err := v.Validate(context.Background(), validDataset())
	if !failure.IsFatal(err) {
		t.Fatalf("ожидалась фатальная ошибка, получено %v", err)
	}
}

func TestValidateAll(t *testing.T) {
	e := newEnv(t)
	e.writeFile(t, "docs/a.pdf", "a")
	e.writeFile(t, "img/b.png", "b")

	const table = `DATASET,DEPOSITOR_ID,DDM_TITLE,DDM_DESCRIPTION,DDM_CREATOR,DDM_CREATED,DDM_AUDIENCE,DDM_ACCESSRIGHTS,FILE_PATH
ds1,user001,Reis,Over de reis,Jan,2017-05-02,D30000,OPEN_ACCESS,docs/a.pdf
ds2,user002,Maan,Over de maan,Piet,2018-01-01,D30000,NO_ACCESS,img/missing.png
ds3,user003,Zon,Over de zon,Kees,2019-01-01,D30000,GROUP_ACCESS,img/b.png
`
	b, err := parser.Parse(strings.NewReader(table), e.settings, parser.ExtensionDetector)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	res, err := e.v.ValidateAll(context.Background(), b)
	if err != nil {
		t.Fatalf("ValidateAll: %v", err)
	}
	if len(res.Valid) != 2 || res.Valid[0].Dataset.ID != "ds1" || res.Valid[1].Dataset.ID != "ds3" {
		t.Errorf("ожидались валидные ds1, ds3, получено %d", len(res.Valid))
	}
	if len(res.Failures) != 1 || res.Failures[0].DepositID != "ds2" || res.Failures[0].Row != 3 {
		t.Errorf("ожидалось одно нарушение ds2 в строке 3, получено:\n%s", reasons(res.Failures))
	}
}

func TestValidateAll_Fatal(t *testing.T) {
	e := newEnv(t)
	v := New(e.settings, failingResolver{}, testLogger())
	b := &parser.Batch{
		Order:    []model.DepositID{"ds1"},
		Datasets: map[model.DepositID]*model.Dataset{"ds1": validDataset()},
	}
	if _, err := v.ValidateAll(context.Background(), b); !failure.IsFatal(err) {
		t.Fatalf("ожидалась фатальная ошибка, получено %v", err)
	}
}
