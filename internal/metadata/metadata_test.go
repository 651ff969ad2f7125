package metadata

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/magiconair/properties"

	"github.com/rkruithof/easy-split-multi-deposit/internal/domain/model"
)

// wellFormed проверяет, что документ разбирается XML-декодером целиком.
func wellFormed(t *testing.T, data []byte) {
	t.Helper()
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		_, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			t.Fatalf("некорректный XML: %v\n%s", err, data)
		}
	}
}

func testDataset() *model.Dataset {
	access := model.AccessOpen
	return &model.Dataset{
		ID:           "ds1",
		Title:        "Title & more",
		Description:  "A <test> dataset",
		Creator:      "Jane Doe",
		Audience:     "D30000",
		Created:      time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC),
		AccessRights: &access,
	}
}

func TestRenderDataset(t *testing.T) {
	now := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	data, err := RenderDataset(testDataset(), now)
	if err != nil {
		t.Fatalf("RenderDataset: %v", err)
	}
	wellFormed(t, data)

	s := string(data)
	for _, want := range []string{
		`<?xml version="1.0" encoding="UTF-8"?>`,
		`<ddm:DDM xmlns:ddm="` + nsDDM + `"`,
		`<dc:title>Title &amp; more</dc:title>`,
		`<dcterms:description>A &lt;test&gt; dataset</dcterms:description>`,
		`<dc:creator>Jane Doe</dc:creator>`,
		`<ddm:created>2023-05-01</ddm:created>`,
		`<ddm:available>2024-01-02</ddm:available>`,
		`<ddm:audience>D30000</ddm:audience>`,
		`<ddm:accessRights>OPEN_ACCESS</ddm:accessRights>`,
		`<dcterms:identifier>ds1</dcterms:identifier>`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("dataset.xml не содержит %q:\n%s", want, s)
		}
	}
	if strings.Contains(s, "dcterms:medium") {
		t.Error("medium не ожидается для депозита без аудиовизуальных файлов")
	}
}

func TestRenderDataset_ExplicitAvailable(t *testing.T) {
	ds := testDataset()
	avail := time.Date(2030, 12, 31, 0, 0, 0, 0, time.UTC)
	ds.Available = &avail
	ds.Files = []*model.FileSpec{{Path: "a.mp4", MimeType: "video/mp4", Vocabulary: model.VocabularyVideo}}

	data, err := RenderDataset(ds, time.Now())
	if err != nil {
		t.Fatalf("RenderDataset: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, "<ddm:available>2030-12-31</ddm:available>") {
		t.Errorf("ожидалась явная дата доступности:\n%s", s)
	}
	if !strings.Contains(s, "<dcterms:medium>audiovisual</dcterms:medium>") {
		t.Errorf("ожидался medium audiovisual:\n%s", s)
	}
}

func TestRenderDataset_NoAccessRights(t *testing.T) {
	ds := testDataset()
	ds.AccessRights = nil
	if _, err := RenderDataset(ds, time.Now()); err == nil {
		t.Fatal("ожидалась ошибка для датасета без категории доступа")
	}
}

func TestRenderFiles(t *testing.T) {
	known := model.FileAccessKnown
	plain, err := model.NewDefaultFileMetadata(&model.FileSpec{
		Path: "docs/readme.txt", MimeType: "text/plain", Title: "Readme", Access: &known,
	})
	if err != nil {
		t.Fatalf("NewDefaultFileMetadata: %v", err)
	}
	inherit, err := model.NewDefaultFileMetadata(&model.FileSpec{
		Path: "img.png", MimeType: "image/png",
	})
	if err != nil {
		t.Fatalf("NewDefaultFileMetadata: %v", err)
	}
	group := model.FileAccessRestrictedGroup
	av, err := model.NewAudioVisualFileMetadata(&model.FileSpec{
		Path:       "video/clip.mp4",
		MimeType:   "video/mp4",
		Vocabulary: model.VocabularyVideo,
		Title:      "Clip",
		Subtitles: []model.Subtitle{
			{Path: "video/clip.nl.srt", MimeType: "application/x-subrip", Language: "nl"},
		},
	}, &group)
	if err != nil {
		t.Fatalf("NewAudioVisualFileMetadata: %v", err)
	}

	data, err := RenderFiles([]model.FileMetadata{plain, inherit, av})
	if err != nil {
		t.Fatalf("RenderFiles: %v", err)
	}
	wellFormed(t, data)
	s := string(data)

	if got := strings.Count(s, "<file "); got != 4 {
		t.Fatalf("ожидалось 4 элемента file, получено %d:\n%s", got, s)
	}
	for _, want := range []string{
		`<file filepath="data/docs/readme.txt">`,
		`<dcterms:title>Readme</dcterms:title>`,
		`<accessibleToRights>KNOWN</accessibleToRights>`,
		`<file filepath="data/img.png">`,
		`<file filepath="data/video/clip.mp4">`,
		`<accessibleToRights>RESTRICTED_GROUP</accessibleToRights>`,
		`<file filepath="data/video/clip.nl.srt">`,
		`<dcterms:language>nl</dcterms:language>`,
		`<dcterms:relation>data/video/clip.mp4</dcterms:relation>`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("files.xml не содержит %q:\n%s", want, s)
		}
	}

	// Субтитры идут сразу после своего файла
	if strings.Index(s, "data/video/clip.nl.srt") < strings.Index(s, `filepath="data/video/clip.mp4"`) {
		t.Error("субтитры должны следовать за аудиовизуальным файлом")
	}

	// Файл без явной категории наследует её от датасета, элемент не пишется
	imgStart := strings.Index(s, `<file filepath="data/img.png">`)
	imgEnd := imgStart + strings.Index(s[imgStart:], "</file>")
	if strings.Contains(s[imgStart:imgEnd], "accessibleToRights") {
		t.Errorf("для img.png не ожидалась явная категория:\n%s", s[imgStart:imgEnd])
	}
}

func TestRenderFiles_Empty(t *testing.T) {
	data, err := RenderFiles(nil)
	if err != nil {
		t.Fatalf("RenderFiles: %v", err)
	}
	wellFormed(t, data)
	if strings.Contains(string(data), "<file ") {
		t.Error("не ожидалось элементов file")
	}
}

func TestRenderProperties(t *testing.T) {
	created := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	data, err := RenderProperties(DepositProperties{
		BagID:            "0b5d6f2e-3c1a-4b8e-9f00-112233445566",
		Created:          created,
		DepositorID:      "user001",
		DatamanagerID:    "dm01",
		DatamanagerEmail: "dm@example.org",
	})
	if err != nil {
		t.Fatalf("RenderProperties: %v", err)
	}

	p, err := properties.Load(data, properties.UTF8)
	if err != nil {
		t.Fatalf("ошибка разбора deposit.properties: %v\n%s", err, data)
	}
	want := map[string]string{
		KeyBagID:             "0b5d6f2e-3c1a-4b8e-9f00-112233445566",
		KeyCreationTimestamp: "2024-03-04T05:06:07Z",
		KeyStateLabel:        StateSubmitted,
		KeyDepositorUserID:   "user001",
		KeyDatamanagerUserID: "dm01",
		KeyDatamanagerEmail:  "dm@example.org",
		KeyDepositOrigin:     OriginSMD,
	}
	for k, v := range want {
		if got := p.GetString(k, ""); got != v {
			t.Errorf("%s: ожидалось %q, получено %q", k, v, got)
		}
	}
	if _, ok := p.Get(KeySpringfieldUser); ok {
		t.Error("springfield.user не ожидается без аудиовизуальных файлов")
	}
	if keys := p.Keys(); keys[0] != KeyBagID {
		t.Errorf("первым ключом ожидался %s, получен %s", KeyBagID, keys[0])
	}
}

func TestRenderProperties_AudioVisual(t *testing.T) {
	data, err := RenderProperties(DepositProperties{
		BagID:                 "id",
		Created:               time.Now(),
		DepositorID:           "user001",
		DatamanagerID:         "dm01",
		DatamanagerEmail:      "dm@example.org",
		AudioVisual:           true,
		SpringfieldUser:       "sfuser",
		SpringfieldCollection: "sf collection",
	})
	if err != nil {
		t.Fatalf("RenderProperties: %v", err)
	}
	p, err := properties.Load(data, properties.UTF8)
	if err != nil {
		t.Fatalf("ошибка разбора deposit.properties: %v", err)
	}
	if got := p.GetString(KeySpringfieldUser, ""); got != "sfuser" {
		t.Errorf("springfield.user: получено %q", got)
	}
	if got := p.GetString(KeySpringfieldCollection, ""); got != "sf collection" {
		t.Errorf("springfield.collection: получено %q", got)
	}
}
