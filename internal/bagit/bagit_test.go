package bagit

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rkruithof/easy-split-multi-deposit/internal/storage/fsutil"
)

// prepareBag создаёт каталог bag с одним файлом данных и одним тег-файлом.
func prepareBag(t *testing.T) (string, *fsutil.CopyResult) {
	t.Helper()
	root := t.TempDir()
	src := filepath.Join(root, "src.txt")
	if err := os.WriteFile(src, []byte("hello bag"), 0o644); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}
	dir := filepath.Join(root, "bag")
	res, err := fsutil.CopyFile(src, filepath.Join(dir, "data", "docs", "a b.txt"))
	if err != nil {
		t.Fatalf("CopyFile: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "metadata"), 0o755); err != nil {
		t.Fatalf("ошибка создания metadata: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "metadata", "dataset.xml"), []byte("<x/>"), 0o644); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}
	return dir, res
}

func TestWrite(t *testing.T) {
	dir, res := prepareBag(t)

	b := New(dir)
	b.now = func() time.Time { return time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC) }
	if err := b.AddPayload("data/docs/a b.txt", res.SHA1, res.Size); err != nil {
		t.Fatalf("AddPayload: %v", err)
	}
	b.SetTag("Created", "2024-02-03T00:00:00Z")
	if err := b.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}

	for _, name := range ControlFiles() {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("ожидался файл %s: %v", name, err)
		}
	}

	decl, _ := os.ReadFile(filepath.Join(dir, DeclarationFile))
	if string(decl) != "BagIt-Version: 0.97\nTag-File-Character-Encoding: UTF-8\n" {
		t.Errorf("неожиданный bagit.txt: %q", decl)
	}

	info, _ := os.ReadFile(filepath.Join(dir, BagInfoFile))
	for _, want := range []string{
		"Bagging-Date: 2024-02-03\n",
		"Payload-Oxum: 9.1\n",
		"Bag-Size: 9 B\n",
		"Created: 2024-02-03T00:00:00Z\n",
	} {
		if !strings.Contains(string(info), want) {
			t.Errorf("bag-info.txt не содержит %q:\n%s", want, info)
		}
	}

	manifest, err := ReadManifest(filepath.Join(dir, ManifestFile))
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if manifest["data/docs/a b.txt"] != res.SHA1 {
		t.Errorf("неверная сумма в манифесте: %v", manifest)
	}

	tags, err := ReadManifest(filepath.Join(dir, TagManifestFile))
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	for _, name := range []string{DeclarationFile, BagInfoFile, ManifestFile, "metadata/dataset.xml"} {
		if _, ok := tags[name]; !ok {
			t.Errorf("тег-манифест не содержит %s: %v", name, tags)
		}
	}
	if _, ok := tags[TagManifestFile]; ok {
		t.Error("тег-манифест не должен содержать сам себя")
	}
	for name := range tags {
		if strings.HasPrefix(name, "data/") {
			t.Errorf("тег-манифест не должен содержать полезную нагрузку: %s", name)
		}
	}

	if err := Verify(dir); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerify_Mismatch(t *testing.T) {
	dir, res := prepareBag(t)
	b := New(dir)
	if err := b.AddPayload("data/docs/a b.txt", res.SHA1, res.Size); err != nil {
		t.Fatalf("AddPayload: %v", err)
	}
	if err := b.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "data", "docs", "a b.txt"), []byte("tampered"), 0o644); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}
	err := Verify(dir)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("ожидалась ErrChecksumMismatch, получено %v", err)
	}
}

func TestAddPayload_Errors(t *testing.T) {
	b := New(t.TempDir())
	if err := b.AddPayload("metadata/x", "abc", 1); err == nil {
		t.Error("ожидалась ошибка для файла вне data/")
	}
	if err := b.AddPayload("data/x", "abc", 1); err != nil {
		t.Fatalf("AddPayload: %v", err)
	}
	if err := b.AddPayload("data/x", "abc", 1); err == nil {
		t.Error("ожидалась ошибка для повторного файла")
	}
}

func TestWrite_EmptyPayload(t *testing.T) {
	dir := t.TempDir()
	if err := New(dir).Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}
	info, _ := os.ReadFile(filepath.Join(dir, BagInfoFile))
	if !strings.Contains(string(info), "Payload-Oxum: 0.0\n") {
		t.Errorf("ожидался Payload-Oxum 0.0:\n%s", info)
	}
	manifest, _ := os.ReadFile(filepath.Join(dir, ManifestFile))
	if len(manifest) != 0 {
		t.Errorf("ожидался пустой манифест, получено %q", manifest)
	}
}

func TestReadManifest_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest-sha1.txt")
	if err := os.WriteFile(path, []byte("deadbeef\n"), 0o644); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}
	if _, err := ReadManifest(path); err == nil {
		t.Fatal("ожидалась ошибка для строки без пути")
	}
}
