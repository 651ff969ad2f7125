package parser

// column — имя колонки таблицы инструкций (в верхнем регистре).
type column string

const (
	colDataset          column = "DATASET"
	colDepositorID      column = "DEPOSITOR_ID"
	colTitle            column = "DDM_TITLE"
	colDescription      column = "DDM_DESCRIPTION"
	colCreator          column = "DDM_CREATOR"
	colCreated          column = "DDM_CREATED"
	colAvailable        column = "DDM_AVAILABLE"
	colAudience         column = "DDM_AUDIENCE"
	colAccessRights     column = "DDM_ACCESSRIGHTS"
	colSFUser           column = "SF_USER"
	colSFCollection     column = "SF_COLLECTION"
	colFilePath         column = "FILE_PATH"
	colFileTitle        column = "FILE_TITLE"
	colFileAccess       column = "FILE_ACCESSIBILITY"
	colSubtitles        column = "AV_SUBTITLES"
	colSubtitleLanguage column = "AV_SUBTITLES_LANGUAGE"
)

// scalarColumns — колонки уровня депозита; непустые значения всех строк
// депозита должны совпадать.
var scalarColumns = []column{
	colDepositorID,
	colTitle,
	colDescription,
	colCreator,
	colCreated,
	colAvailable,
	colAudience,
	colAccessRights,
	colSFUser,
	colSFCollection,
}

// perFileColumns — колонки, относящиеся к FILE_PATH той же строки.
var perFileColumns = []column{
	colFileTitle,
	colFileAccess,
	colSubtitles,
	colSubtitleLanguage,
}

var knownColumns = func() map[column]bool {
	m := map[column]bool{colDataset: true, colFilePath: true}
	for _, c := range scalarColumns {
		m[c] = true
	}
	for _, c := range perFileColumns {
		m[c] = true
	}
	return m
}()
