package model

import (
	"fmt"
	"strings"
)

// DatasetAccess — категория доступа к датасету после архивирования.
type DatasetAccess string

const (
	AccessOpen                   DatasetAccess = "OPEN_ACCESS"
	AccessOpenForRegisteredUsers DatasetAccess = "OPEN_ACCESS_FOR_REGISTERED_USERS"
	AccessGroup                  DatasetAccess = "GROUP_ACCESS"
	AccessRequestPermission      DatasetAccess = "REQUEST_PERMISSION"
	AccessNone                   DatasetAccess = "NO_ACCESS"
)

// FileAccess — категория доступа к отдельному файлу.
type FileAccess string

const (
	FileAccessAnonymous         FileAccess = "ANONYMOUS"
	FileAccessKnown             FileAccess = "KNOWN"
	FileAccessRestrictedGroup   FileAccess = "RESTRICTED_GROUP"
	FileAccessRestrictedRequest FileAccess = "RESTRICTED_REQUEST"
	FileAccessNone              FileAccess = "NONE"
)

// defaultFileAccess — категория файла по умолчанию для категории датасета.
var defaultFileAccess = map[DatasetAccess]FileAccess{
	AccessOpen:                   FileAccessAnonymous,
	AccessOpenForRegisteredUsers: FileAccessKnown,
	AccessGroup:                  FileAccessRestrictedGroup,
	AccessRequestPermission:      FileAccessRestrictedRequest,
	AccessNone:                   FileAccessNone,
}

var fileAccessValues = map[FileAccess]bool{
	FileAccessAnonymous:         true,
	FileAccessKnown:             true,
	FileAccessRestrictedGroup:   true,
	FileAccessRestrictedRequest: true,
	FileAccessNone:              true,
}

// ParseDatasetAccess разбирает значение DDM_ACCESSRIGHTS (регистр не важен).
func ParseDatasetAccess(raw string) (DatasetAccess, error) {
	a := DatasetAccess(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := defaultFileAccess[a]; !ok {
		return "", fmt.Errorf("unknown dataset access category %q", raw)
	}
	return a, nil
}

// ParseFileAccess разбирает значение FILE_ACCESSIBILITY (регистр не важен).
func ParseFileAccess(raw string) (FileAccess, error) {
	a := FileAccess(strings.ToUpper(strings.TrimSpace(raw)))
	if !fileAccessValues[a] {
		return "", fmt.Errorf("unknown file access category %q", raw)
	}
	return a, nil
}

// DefaultFileAccess возвращает категорию доступа файлов, наследуемую от датасета.
func (a DatasetAccess) DefaultFileAccess() FileAccess {
	return defaultFileAccess[a]
}
