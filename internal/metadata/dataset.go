// Пакет metadata — формирование метаданных депозита: описание датасета
// (dataset.xml, формат DDM), описание файлов (files.xml) и
// deposit.properties.
package metadata

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"time"

	"github.com/rkruithof/easy-split-multi-deposit/internal/domain/model"
)

// Пространства имён DDM.
const (
	nsDDM     = "http://easy.dans.knaw.nl/schemas/md/ddm/"
	nsDC      = "http://purl.org/dc/elements/1.1/"
	nsDCTerms = "http://purl.org/dc/terms/"
	nsXSI     = "http://www.w3.org/2001/XMLSchema-instance"
	ddmSchema = "https://easy.dans.knaw.nl/schemas/md/ddm/ddm.xsd"
)

type ddmDocument struct {
	XMLName        xml.Name   `xml:"ddm:DDM"`
	NSDDM          string     `xml:"xmlns:ddm,attr"`
	NSDC           string     `xml:"xmlns:dc,attr"`
	NSDCTerms      string     `xml:"xmlns:dcterms,attr"`
	NSXSI          string     `xml:"xmlns:xsi,attr"`
	SchemaLocation string     `xml:"xsi:schemaLocation,attr"`
	Profile        ddmProfile `xml:"ddm:profile"`
	DCMI           ddmDCMI    `xml:"ddm:dcmiMetadata"`
}

type ddmProfile struct {
	Title        string `xml:"dc:title"`
	Description  string `xml:"dcterms:description"`
	Creator      string `xml:"dc:creator"`
	Created      string `xml:"ddm:created"`
	Available    string `xml:"ddm:available"`
	Audience     string `xml:"ddm:audience"`
	AccessRights string `xml:"ddm:accessRights"`
}

type ddmDCMI struct {
	Identifier string `xml:"dcterms:identifier"`
	Medium     string `xml:"dcterms:medium,omitempty"`
}

// RenderDataset формирует dataset.xml. now — дата прогона, используется
// как дата доступности, если DDM_AVAILABLE не задана.
func RenderDataset(ds *model.Dataset, now time.Time) ([]byte, error) {
	if ds.AccessRights == nil {
		return nil, fmt.Errorf("депозит %s: категория доступа не задана", ds.ID)
	}

	available := now
	if ds.Available != nil {
		available = *ds.Available
	}

	doc := ddmDocument{
		NSDDM:          nsDDM,
		NSDC:           nsDC,
		NSDCTerms:      nsDCTerms,
		NSXSI:          nsXSI,
		SchemaLocation: nsDDM + " " + ddmSchema,
		Profile: ddmProfile{
			Title:        ds.Title,
			Description:  ds.Description,
			Creator:      ds.Creator,
			Created:      ds.Created.Format(model.DateLayout),
			Available:    available.Format(model.DateLayout),
			Audience:     ds.Audience,
			AccessRights: string(*ds.AccessRights),
		},
		DCMI: ddmDCMI{
			Identifier: string(ds.ID),
		},
	}
	if ds.HasAudioVisual() {
		doc.DCMI.Medium = "audiovisual"
	}

	return marshal(doc)
}

// marshal сериализует документ с XML-декларацией и отступами.
func marshal(doc any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)

	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("ошибка сериализации XML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("ошибка сериализации XML: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
