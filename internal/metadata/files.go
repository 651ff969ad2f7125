package metadata

import (
	"encoding/xml"
	"fmt"

	"github.com/rkruithof/easy-split-multi-deposit/internal/domain/model"
	"github.com/rkruithof/easy-split-multi-deposit/internal/layout"
)

const (
	nsFiles        = "http://easy.dans.knaw.nl/schemas/bag/metadata/files/"
	defaultVisible = model.FileAccessAnonymous
)

type filesDocument struct {
	XMLName   xml.Name    `xml:"files"`
	NS        string      `xml:"xmlns,attr"`
	NSDCTerms string      `xml:"xmlns:dcterms,attr"`
	Files     []fileEntry `xml:"file"`
}

type fileEntry struct {
	FilePath   string `xml:"filepath,attr"`
	Format     string `xml:"dcterms:format"`
	Title      string `xml:"dcterms:title,omitempty"`
	Language   string `xml:"dcterms:language,omitempty"`
	Relation   string `xml:"dcterms:relation,omitempty"`
	Accessible string `xml:"accessibleToRights,omitempty"`
	Visible    string `xml:"visibleToRights"`
}

// RenderFiles формирует files.xml: по одному элементу на каждый файл
// полезной нагрузки, включая субтитры. Субтитры следуют сразу за своим
// аудиовизуальным файлом и наследуют его категорию доступа.
func RenderFiles(files []model.FileMetadata) ([]byte, error) {
	doc := filesDocument{
		NS:        nsFiles,
		NSDCTerms: nsDCTerms,
	}
	seen := make(map[string]bool)

	add := func(e fileEntry) {
		if seen[e.FilePath] {
			return
		}
		seen[e.FilePath] = true
		doc.Files = append(doc.Files, e)
	}

	for _, f := range files {
		switch m := f.(type) {
		case *model.DefaultFileMetadata:
			e := fileEntry{
				FilePath: layout.BagPayloadName(m.FilePath()),
				Format:   m.MimeType(),
				Title:    m.Title(),
				Visible:  string(defaultVisible),
			}
			if a, ok := m.Access(); ok {
				e.Accessible = string(a)
			}
			add(e)

		case *model.AudioVisualFileMetadata:
			avPath := layout.BagPayloadName(m.FilePath())
			add(fileEntry{
				FilePath:   avPath,
				Format:     m.MimeType(),
				Title:      m.Title(),
				Accessible: string(m.Access()),
				Visible:    string(defaultVisible),
			})
			for _, sub := range m.Subtitles() {
				add(fileEntry{
					FilePath:   layout.BagPayloadName(sub.Path),
					Format:     sub.MimeType,
					Language:   sub.Language,
					Relation:   avPath,
					Accessible: string(m.Access()),
					Visible:    string(defaultVisible),
				})
			}

		default:
			return nil, fmt.Errorf("неизвестный тип метаданных файла %T", f)
		}
	}

	return marshal(doc)
}
