package crypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/whetherfun/weathermark/internal/domain"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func testReportKey() domain.ReportKey {
	return domain.ReportKey{LocationID: "nyc", DateKey: "2026-07-01"}
}

func TestHMACVerifyRoundTrip(t *testing.T) {
	auth := &HMACAuth{Key: "key-1", Secret: "topsecret"}

	now := time.Now().Unix()
	hdr := auth.HeadersAt("POST", "/api/orders", `{"amount":1}`, now)

	ok := auth.Verify("POST", "/api/orders", `{"amount":1}`,
		hdr["WXMARK-TIMESTAMP"], hdr["WXMARK-SIGNATURE"], time.Minute)
	require.True(t, ok)

	// Tampered body fails.
	ok = auth.Verify("POST", "/api/orders", `{"amount":2}`,
		hdr["WXMARK-TIMESTAMP"], hdr["WXMARK-SIGNATURE"], time.Minute)
	require.False(t, ok)

	// Stale timestamp fails.
	stale := auth.HeadersAt("POST", "/api/orders", `{"amount":1}`, now-3600)
	ok = auth.Verify("POST", "/api/orders", `{"amount":1}`,
		stale["WXMARK-TIMESTAMP"], stale["WXMARK-SIGNATURE"], time.Minute)
	require.False(t, ok)
}

func TestReadingHashDistinguishesInputs(t *testing.T) {
	r := domain.Reading{Temperature: 252, Conditions: domain.ConditionsClear}

	h1 := ReadingHash(testReportKey(), "0xalice", r)
	h2 := ReadingHash(testReportKey(), "0xbob", r)
	require.NotEqual(t, h1, h2)

	r.Temperature = 253
	h3 := ReadingHash(testReportKey(), "0xalice", r)
	require.NotEqual(t, h1, h3)

	// Deterministic.
	r.Temperature = 252
	require.Equal(t, h1, ReadingHash(testReportKey(), "0xalice", r))
}

func TestSignSettlementRecover(t *testing.T) {
	s, err := NewSigner(testKeyHex)
	require.NoError(t, err)

	sig, err := s.SignSettlement("mkt-1", testReportKey(), 251, true)
	require.NoError(t, err)

	got, err := RecoverSettlementSigner("mkt-1", testReportKey(), 251, true, sig)
	require.NoError(t, err)
	require.Equal(t, s.Address(), got)

	// A different payload does not recover to the signer.
	got, err = RecoverSettlementSigner("mkt-1", testReportKey(), 250, true, sig)
	require.NoError(t, err)
	require.NotEqual(t, s.Address(), got)
}

func TestEncryptDecryptKeyRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testKeyHex, "hunter22")
	require.NoError(t, err)

	plain, err := DecryptKey(blob, "hunter22")
	require.NoError(t, err)
	require.Equal(t, testKeyHex, plain)

	_, err = DecryptKey(blob, "wrong")
	require.Error(t, err)
}
