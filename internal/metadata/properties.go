package metadata

import (
	"bytes"
	"fmt"
	"time"

	"github.com/magiconair/properties"
)

// Ключи deposit.properties.
const (
	KeyBagID                 = "bag-store.bag-id"
	KeyCreationTimestamp     = "creation.timestamp"
	KeyStateLabel            = "state.label"
	KeyStateDescription      = "state.description"
	KeyDepositorUserID       = "depositor.userId"
	KeyDatamanagerUserID     = "datamanager.userId"
	KeyDatamanagerEmail      = "datamanager.email"
	KeyDepositOrigin         = "deposit.origin"
	KeySpringfieldUser       = "springfield.user"
	KeySpringfieldCollection = "springfield.collection"
)

const (
	StateSubmitted = "SUBMITTED"
	OriginSMD      = "SMD"
)

// DepositProperties — значения для deposit.properties.
type DepositProperties struct {
	BagID            string
	Created          time.Time
	DepositorID      string
	DatamanagerID    string
	DatamanagerEmail string
	// Springfield-поля пишутся только для депозитов с аудиовизуальными файлами
	AudioVisual           bool
	SpringfieldUser       string
	SpringfieldCollection string
}

// RenderProperties формирует deposit.properties. Порядок ключей фиксирован.
func RenderProperties(dp DepositProperties) ([]byte, error) {
	p := properties.NewProperties()
	p.DisableExpansion = true

	pairs := [][2]string{
		{KeyBagID, dp.BagID},
		{KeyCreationTimestamp, dp.Created.UTC().Format(time.RFC3339)},
		{KeyStateLabel, StateSubmitted},
		{KeyStateDescription, "Deposit is valid and ready for post-submission processing"},
		{KeyDepositorUserID, dp.DepositorID},
		{KeyDatamanagerUserID, dp.DatamanagerID},
		{KeyDatamanagerEmail, dp.DatamanagerEmail},
		{KeyDepositOrigin, OriginSMD},
	}
	if dp.AudioVisual {
		pairs = append(pairs,
			[2]string{KeySpringfieldUser, dp.SpringfieldUser},
			[2]string{KeySpringfieldCollection, dp.SpringfieldCollection},
		)
	}

	for _, kv := range pairs {
		if _, _, err := p.Set(kv[0], kv[1]); err != nil {
			return nil, fmt.Errorf("ошибка записи ключа %s: %w", kv[0], err)
		}
	}

	var buf bytes.Buffer
	if _, err := p.Write(&buf, properties.UTF8); err != nil {
		return nil, fmt.Errorf("ошибка сериализации deposit.properties: %w", err)
	}
	return buf.Bytes(), nil
}
