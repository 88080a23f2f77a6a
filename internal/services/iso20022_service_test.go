package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestISO20022Service_CreatePacs008(t *testing.T) {
	service := NewISO20022Service()

	payout := &BankPayout{
		PayoutID:      "payout1",
		Reference:     "payout1",
		AccountName:   "Ada Lovelace",
		AccountNumber: "000123456789",
		BankCode:      "021000021",
		Amount:        125050,
		Currency:      "USD",
	}

	t.Run("builds credit transfer message", func(t *testing.T) {
		doc, err := service.CreatePacs008(payout)
		assert.NoError(t, err)
		assert.Equal(t, "1", string(doc.GrpHdr.NbOfTxs))
		assert.Len(t, doc.CdtTrfTxInf, 1)

		tx := doc.CdtTrfTxInf[0]
		assert.Equal(t, "payout1", string(tx.PmtId.EndToEndId))
		assert.Equal(t, 1250.50, tx.IntrBkSttlmAmt.Value)
		assert.Equal(t, "USD", string(tx.IntrBkSttlmAmt.Ccy))
		assert.Equal(t, "021000021", string(tx.CdtrAgt.FinInstnId.ClrSysMmbId.MmbId))
		assert.Equal(t, "Ada Lovelace", string(*tx.Cdtr.Nm))
	})

	t.Run("rejects non-positive amount", func(t *testing.T) {
		bad := *payout
		bad.Amount = 0
		_, err := service.CreatePacs008(&bad)
		assert.Error(t, err)
	})

	t.Run("serializes to XML", func(t *testing.T) {
		doc, err := service.CreatePacs008(payout)
		assert.NoError(t, err)

		xmlData, err := service.ConvertToXML(doc)
		assert.NoError(t, err)
		assert.True(t, strings.HasPrefix(xmlData, "<?xml"))
		assert.Contains(t, xmlData, "payout1")
		assert.Contains(t, xmlData, "Ada Lovelace")
	})
}

func TestBankService(t *testing.T) {
	service := NewBankService()

	t.Run("known routing numbers supported", func(t *testing.T) {
		assert.True(t, service.IsSupportedBank("021000021"))
		assert.True(t, service.IsSupportedBank("121000248"))
	})

	t.Run("unknown routing number rejected", func(t *testing.T) {
		assert.False(t, service.IsSupportedBank("000000000"))
	})
}
