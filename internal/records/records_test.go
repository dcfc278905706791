package records

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatientValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		p := &Patient{Name: "Jo Walker", DateOfBirth: "1985-03-14", MRN: "MRN-42"}
		assert.NoError(t, p.Validate())
	})

	t.Run("name required", func(t *testing.T) {
		p := &Patient{Name: "   "}
		err := p.Validate()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidRecord)
	})

	t.Run("bad date of birth", func(t *testing.T) {
		p := &Patient{Name: "Jo Walker", DateOfBirth: "14/03/1985"}
		err := p.Validate()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidRecord)
		assert.Contains(t, err.Error(), "YYYY-MM-DD")
	})

	t.Run("date of birth optional", func(t *testing.T) {
		p := &Patient{Name: "Jo Walker"}
		assert.NoError(t, p.Validate())
	})
}

func TestPatientValidate_NormalizesName(t *testing.T) {
	// "é" as NFD (e + combining acute) must normalize to the NFC form so
	// names typed on different platforms sync identically.
	nfd := "Amélie Fournier"
	nfc := "Amélie Fournier"

	p := &Patient{Name: "  " + nfd + "  "}
	require.NoError(t, p.Validate())
	assert.Equal(t, nfc, p.Name)
}

func TestPrescriptionValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		p := &Prescription{PatientID: "loc-1", Medication: "Amoxicillin", Dosage: "500mg", Refills: 2}
		assert.NoError(t, p.Validate())
	})

	t.Run("patient required", func(t *testing.T) {
		p := &Prescription{Medication: "Amoxicillin"}
		assert.ErrorIs(t, p.Validate(), ErrInvalidRecord)
	})

	t.Run("medication required", func(t *testing.T) {
		p := &Prescription{PatientID: "loc-1", Medication: " "}
		assert.ErrorIs(t, p.Validate(), ErrInvalidRecord)
	})

	t.Run("negative refills", func(t *testing.T) {
		p := &Prescription{PatientID: "loc-1", Medication: "Amoxicillin", Refills: -1}
		assert.ErrorIs(t, p.Validate(), ErrInvalidRecord)
	})
}

func TestMarshalUnmarshal(t *testing.T) {
	in := &Patient{Name: "Jo Walker", DateOfBirth: "1985-03-14", MRN: "MRN-42", Notes: "allergic to penicillin"}

	fields, err := Marshal(in)
	require.NoError(t, err)

	var out Patient
	require.NoError(t, Unmarshal(fields, &out))
	assert.Equal(t, *in, out)
}

func TestUnmarshal_Corrupt(t *testing.T) {
	var p Patient

	err := Unmarshal([]byte(`{not json`), &p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding fields")
}
