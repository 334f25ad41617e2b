package api

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
)

func TestNewValidator_NRICTag(t *testing.T) {
	v := newValidator()

	assert.NoError(t, v.Struct(CreateApplicantRequest{NRIC: "T1234567Z", Name: "A", Age: 30, MaritalStatus: "SINGLE"}))
	assert.Error(t, v.Struct(CreateApplicantRequest{NRIC: "S123456A", Name: "A", Age: 30, MaritalStatus: "SINGLE"}))
}

func TestMustRegister_PanicsOnBadTag(t *testing.T) {
	v := validator.New()

	assert.Panics(t, func() {
		mustRegister(v, "", func(validator.FieldLevel) bool { return true })
	})
}

func TestNewValidator_UnitNumberLeftToService(t *testing.T) {
	v := newValidator()

	assert.NoError(t, v.Struct(BookRequest{OfficerID: "off-1", UnitNumber: "not-a-unit"}))
	assert.Error(t, v.Struct(BookRequest{UnitNumber: "04-001"}))
}
