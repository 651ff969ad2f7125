// Пакет layout — вычисление путей депозита в staging и output.
// Чистая функция от (Settings, DepositID): без состояния и побочных
// эффектов, безопасна для параллельного вызова.
package layout

import (
	"path/filepath"

	"github.com/rkruithof/easy-split-multi-deposit/internal/config"
	"github.com/rkruithof/easy-split-multi-deposit/internal/domain/model"
)

// Имена внутри депозита.
const (
	BagDirName       = "bag"
	PayloadDirName   = "data"
	MetadataDirName  = "metadata"
	DatasetXMLName   = "dataset.xml"
	FilesXMLName     = "files.xml"
	PropertiesName   = "deposit.properties"
	partialDirPrefix = "."
	partialDirSuffix = ".partial"
)

// Layout — полный набор путей одного депозита.
type Layout struct {
	// Name — имя каталога депозита: <base(MultiDepositDir)>-<id>
	Name string

	StagingRoot       string
	StagingBag        string
	StagingPayload    string
	StagingMetadata   string
	StagingDatasetXML string
	StagingFilesXML   string
	StagingProperties string

	OutputRoot string
	// OutputPartial — скрытый временный каталог рядом с OutputRoot
	// для переноса копированием между файловыми системами
	OutputPartial string
}

// For вычисляет пути депозита.
func For(s *config.Settings, id model.DepositID) Layout {
	name := filepath.Base(s.MultiDepositDir()) + "-" + string(id)
	root := filepath.Join(s.StagingDir(), name)
	bag := filepath.Join(root, BagDirName)
	meta := filepath.Join(bag, MetadataDirName)

	return Layout{
		Name:              name,
		StagingRoot:       root,
		StagingBag:        bag,
		StagingPayload:    filepath.Join(bag, PayloadDirName),
		StagingMetadata:   meta,
		StagingDatasetXML: filepath.Join(meta, DatasetXMLName),
		StagingFilesXML:   filepath.Join(meta, FilesXMLName),
		StagingProperties: filepath.Join(root, PropertiesName),
		OutputRoot:        filepath.Join(s.OutputDepositDir(), name),
		OutputPartial:     filepath.Join(s.OutputDepositDir(), partialDirPrefix+name+partialDirSuffix),
	}
}

// PayloadPath возвращает путь файла полезной нагрузки в staging.
// rel — путь относительно каталога пакета с прямыми слешами.
func (l Layout) PayloadPath(rel string) string {
	return filepath.Join(l.StagingPayload, filepath.FromSlash(rel))
}

// BagPayloadName возвращает имя файла внутри bag (data/<rel>).
func BagPayloadName(rel string) string {
	return PayloadDirName + "/" + rel
}
