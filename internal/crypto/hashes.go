package crypto

import (
	"encoding/binary"
	"encoding/hex"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/whetherfun/weathermark/internal/domain"
)

// Canonical keccak256 fingerprints for oracle data. Hashes commit to the
// exact numbers a report or settlement was derived from, so a stored hash can
// later be checked against re-fetched source data.

// ReadingHash fingerprints one reporter's observation. The encoding is the
// report key, the reporter address, and the reading's scalar fields as
// big-endian int64, in struct order.
func ReadingHash(key domain.ReportKey, reporter string, r domain.Reading) string {
	buf := make([]byte, 0, 128)
	buf = append(buf, []byte(key.String())...)
	buf = append(buf, []byte(reporter)...)
	for _, v := range []int64{
		r.Temperature, r.TemperatureMax, r.TemperatureMin,
		r.Precipitation, r.Visibility, r.WindSpeed, r.WindGust,
		r.Pressure, r.Humidity,
	} {
		buf = appendInt64(buf, v)
	}
	buf = append(buf, []byte(r.Conditions)...)
	return hexHash(buf)
}

// SettlementHash fingerprints the data a market settled on: the market id,
// the report key, the aggregate value, and the binary outcome.
func SettlementHash(marketID string, key domain.ReportKey, value int64, outcome bool) string {
	buf := make([]byte, 0, 96)
	buf = append(buf, []byte(marketID)...)
	buf = append(buf, []byte(key.String())...)
	buf = appendInt64(buf, value)
	if outcome {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return hexHash(buf)
}

// ReportHash fingerprints a finalized aggregate for archival.
func ReportHash(rep domain.WeatherReport) string {
	buf := make([]byte, 0, 64)
	buf = append(buf, []byte(rep.Key.String())...)
	buf = appendInt64(buf, rep.Value)
	buf = appendInt64(buf, int64(len(rep.Readings)))
	return hexHash(buf)
}

func appendInt64(buf []byte, v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return append(buf, b[:]...)
}

func hexHash(data []byte) string {
	return "0x" + hex.EncodeToString(ethcrypto.Keccak256(data))
}
