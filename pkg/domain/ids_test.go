package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseE164(t *testing.T) {
	t.Run("valid numbers", func(t *testing.T) {
		for _, s := range []string{"+15551230100", "+4915112345678", "+123"} {
			e, err := ParseE164(s)
			require.NoError(t, err, s)
			assert.Equal(t, s, e.String())
		}
	})

	t.Run("rejects malformed input", func(t *testing.T) {
		for _, s := range []string{"", "+", "15551230100", "+0123456", "+1555abc", "+12345678901234567"} {
			_, err := ParseE164(s)
			assert.Error(t, err, s)
		}
	})

	t.Run("zero value is nil", func(t *testing.T) {
		var e E164
		assert.True(t, e.IsNil())
	})
}

func TestParseACIAndPNI(t *testing.T) {
	raw := "93c5486c-5e12-4e3e-8a3e-5a3c2f3bb001"

	aci, err := ParseACI(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, aci.String())
	assert.False(t, aci.IsNil())

	pni, err := ParsePNI(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, pni.String())

	_, err = ParseACI("not-a-uuid")
	assert.Error(t, err)

	assert.True(t, ACI{}.IsNil())
	assert.True(t, PNI{}.IsNil())
}

func TestServiceID(t *testing.T) {
	u := uuid.New()
	aci := ACI(u)
	pni := PNI(u)

	t.Run("same uuid with different kinds is not equal", func(t *testing.T) {
		a := ServiceIDFromACI(aci)
		p := ServiceIDFromPNI(pni)
		assert.False(t, a.Equal(p))
		assert.True(t, a.Equal(ServiceIDFromACI(aci)))
	})

	t.Run("nil identifiers produce nil service ids", func(t *testing.T) {
		assert.True(t, ServiceIDFromACI(ACI{}).IsNil())
		assert.True(t, ServiceIDFromPNI(PNI{}).IsNil())
		assert.False(t, ServiceIDFromACI(aci).IsNil())
	})

	t.Run("string form carries the kind", func(t *testing.T) {
		assert.Equal(t, "ACI:"+u.String(), ServiceIDFromACI(aci).String())
		assert.Equal(t, "PNI:"+u.String(), ServiceIDFromPNI(pni).String())
	})
}
