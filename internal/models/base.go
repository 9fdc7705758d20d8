package models

import (
	"github.com/AbhinavJain2107/unihive/internal/utils"
)

// IBase is implemented by every model embedding Base, letting the storage
// layer assign IDs generically on insert.
type IBase interface {
	GenIDIfEmpty()
	GenID()
	SetID(id utils.SixID)
}

// Base carries the document ID shared by all models.
type Base struct {
	ID utils.SixID `bson:"_id,omitempty" json:"id,omitempty"`
}

func (m *Base) GenIDIfEmpty() {
	if m.ID.IsZero() {
		m.GenID()
	}
}

func (m *Base) GenID() {
	m.ID = utils.NewSixID()
}

func (m *Base) SetID(id utils.SixID) {
	m.ID = id
}

func NewBase() Base {
	return Base{ID: utils.NewSixID()}
}
