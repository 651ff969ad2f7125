// Пакет fsutil — файловые операции сборки депозита: атомарная запись,
// копирование с подсчётом SHA-1 на лету, перенос каталога между
// файловыми системами, установка прав.
package fsutil

import (
	"crypto/sha1" //nolint:gosec // SHA-1 — алгоритм манифестов BagIt, не криптозащита
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
)

// rename — точка подмены os.Rename в тестах переноса между устройствами.
var rename = os.Rename

// CopyResult — результат копирования файла.
type CopyResult struct {
	// Size — размер скопированных данных в байтах
	Size int64
	// SHA1 — контрольная сумма содержимого (hex)
	SHA1 string
}

// WriteFileAtomic записывает данные в файл.
// Паттерн: temp файл → fsync → atomic rename. При ошибке temp файл удаляется.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return nil
}

// CopyFile копирует src в dst с подсчётом SHA-1 на лету.
// Родительский каталог dst создаётся при необходимости.
// Паттерн: temp файл → запись + SHA-1 → fsync → atomic rename.
func CopyFile(src, dst string) (*CopyResult, error) {
	in, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return nil, fmt.Errorf("ошибка создания каталога для %s: %w", dst, err)
	}

	// Уникальное имя: рядом может лежать файл полезной нагрузки с суффиксом .tmp
	f, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	tmpPath := f.Name()

	hasher := sha1.New() //nolint:gosec // см. импорт
	size, err := io.Copy(f, io.TeeReader(in, hasher))
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка копирования %s: %w", src, err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &CopyResult{Size: size, SHA1: hex.EncodeToString(hasher.Sum(nil))}, nil
}

// ChecksumFile возвращает SHA-1 содержимого файла (hex).
func ChecksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("ошибка открытия %s: %w", path, err)
	}
	defer f.Close()

	hasher := sha1.New() //nolint:gosec // см. импорт
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("ошибка чтения %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Exists сообщает, существует ли путь.
func Exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("ошибка проверки %s: %w", path, err)
	}
}

// MoveDir переносит каталог src в dst. Если rename невозможен из-за
// разных файловых систем (EXDEV), содержимое копируется во временный
// каталог partial рядом с dst, который затем переименовывается в dst,
// после чего src удаляется. При ошибке partial удаляется.
func MoveDir(src, dst, partial string) error {
	err := rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("ошибка переноса %s → %s: %w", src, dst, err)
	}

	if err := os.RemoveAll(partial); err != nil {
		return fmt.Errorf("ошибка очистки временного каталога %s: %w", partial, err)
	}
	if err := CopyTree(src, partial); err != nil {
		os.RemoveAll(partial)
		return fmt.Errorf("ошибка копирования %s → %s: %w", src, partial, err)
	}
	if err := os.Rename(partial, dst); err != nil {
		os.RemoveAll(partial)
		return fmt.Errorf("ошибка переименования %s → %s: %w", partial, dst, err)
	}
	if err := os.RemoveAll(src); err != nil {
		return fmt.Errorf("каталог перенесён, но исходный %s не удалён: %w", src, err)
	}
	return nil
}

// CopyTree рекурсивно копирует каталог src в dst с сохранением прав.
func CopyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case d.Type().IsRegular():
			if _, err := CopyFile(path, target); err != nil {
				return err
			}
			return os.Chmod(target, info.Mode().Perm())
		default:
			return fmt.Errorf("неподдерживаемый тип файла: %s", path)
		}
	})
}

// ApplyPermissions устанавливает права mode и группу gid (если gid >= 0)
// на root и всё его содержимое. Права применяются снизу вверх, чтобы
// каталоги оставались доступными для обхода до конца операции.
func ApplyPermissions(root string, mode os.FileMode, gid int) error {
	var paths []string
	err := filepath.WalkDir(root, func(path string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ошибка обхода %s: %w", root, err)
	}

	for i := len(paths) - 1; i >= 0; i-- {
		if gid >= 0 {
			if err := os.Lchown(paths[i], -1, gid); err != nil {
				return fmt.Errorf("ошибка смены группы %s: %w", paths[i], err)
			}
		}
		if err := os.Chmod(paths[i], mode); err != nil {
			return fmt.Errorf("ошибка установки прав %s: %w", paths[i], err)
		}
	}
	return nil
}
