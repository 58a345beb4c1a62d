package record

import (
	"encoding/hex"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"price-oracle/internal/clock"
	"price-oracle/internal/ema"
	"price-oracle/internal/ledger"
	"price-oracle/internal/price"
)

func samplePrice(m uint64, d uint8) *price.Price {
	p := price.New(m, d)
	return &p
}

func sampleAsset() Asset {
	a := NewAsset()
	a.Status = StatusHidden
	a.Reports.Upsert("alice.near", 1_600_000_000_000_000_000, price.New(100000, 28))
	a.Reports.Upsert("bob.near", 1_600_000_060_000_000_000, price.New(110000, 28))
	a.EMAs = ema.Trackers{
		{PeriodSec: 3600, Timestamp: 1_600_000_060_000_000_000, Price: samplePrice(1061311356, 32)},
		{PeriodSec: 60},
	}
	return a
}

func TestAssetRoundTrip(t *testing.T) {
	in := sampleAsset()
	out, err := DecodeAsset(EncodeAsset(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestAssetV0Upgrade(t *testing.T) {
	reports := ledger.Ledger{{OracleID: "a", Timestamp: 1, Price: price.New(5, 2)}}
	raw := encodeVersionedAsset(AssetV0{Reports: reports})

	got, err := DecodeAsset(raw)
	require.NoError(t, err)
	assert.Equal(t, Asset{Status: StatusActive, Reports: reports, EMAs: ema.Trackers{}}, got)
}

func TestAssetV1Upgrade(t *testing.T) {
	reports := ledger.Ledger{{OracleID: "a", Timestamp: 1, Price: price.New(5, 2)}}
	trackers := ema.Trackers{{PeriodSec: 3600, Timestamp: 1, Price: samplePrice(5, 2)}}
	raw := encodeVersionedAsset(AssetV1{Reports: reports, EMAs: trackers})

	got, err := DecodeAsset(raw)
	require.NoError(t, err)
	assert.Equal(t, Asset{Status: StatusActive, Reports: reports, EMAs: trackers}, got)
}

func TestAssetV0Layout(t *testing.T) {
	raw := encodeVersionedAsset(AssetV0{Reports: ledger.Ledger{{OracleID: "a", Timestamp: 1, Price: price.New(5, 2)}}})
	want := "00" + "01000000" + "01000000" + "61" + "0100000000000000" +
		"0500000000000000" + "0000000000000000" + "02"
	assert.Equal(t, want, hex.EncodeToString(raw))

	decoded, err := DecodeVersionedAsset(raw)
	require.NoError(t, err)
	assert.IsType(t, AssetV0{}, decoded)
}

func TestCurrentAssetLayout(t *testing.T) {
	raw := EncodeAsset(NewAsset())
	assert.Equal(t, "02"+"00"+"00000000"+"00000000", hex.EncodeToString(raw))
}

func TestTrackerOptionLayout(t *testing.T) {
	raw := encodeVersionedAsset(AssetV1{
		Reports: ledger.Ledger{},
		EMAs:    ema.Trackers{{PeriodSec: 60, Timestamp: 2}, {PeriodSec: 60, Timestamp: 2, Price: samplePrice(7, 1)}},
	})
	tracker := "3c000000" + "0200000000000000"
	want := "01" + "00000000" + "02000000" +
		tracker + "00" +
		tracker + "01" + "0700000000000000" + "0000000000000000" + "01"
	assert.Equal(t, want, hex.EncodeToString(raw))

	decoded, err := DecodeVersionedAsset(raw)
	require.NoError(t, err)
	v1, ok := decoded.(AssetV1)
	require.True(t, ok)
	assert.Nil(t, v1.EMAs[0].Price)
	require.NotNil(t, v1.EMAs[1].Price)
	assert.Equal(t, price.New(7, 1), *v1.EMAs[1].Price)
}

func TestDecodeAssetRejectsUnknownTag(t *testing.T) {
	_, err := DecodeAsset([]byte{0x07})
	assert.ErrorIs(t, err, ErrUnknownVersion)
}

func TestDecodeAssetRejectsCorruption(t *testing.T) {
	raw := EncodeAsset(sampleAsset())

	cases := map[string][]byte{
		"empty":          nil,
		"truncated":      raw[:len(raw)-3],
		"trailing bytes": append(append([]byte{}, raw...), 0x00),
		"bad status":     {assetTagCurrent, 0x09, 0, 0, 0, 0, 0, 0, 0, 0},
		"length overrun": {assetTagV0, 0x05, 0x00, 0x00, 0x00, 0x01, 0x00},
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeAsset(data)
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestAssetRoundTripProperty(t *testing.T) {
	genPrice := rapid.Custom(func(t *rapid.T) price.Price {
		var p price.Price
		p.Multiplier = uint256.Int{rapid.Uint64().Draw(t, "lo"), rapid.Uint64().Draw(t, "hi"), 0, 0}
		p.Decimals = rapid.Uint8Range(0, price.MaxValidDecimals).Draw(t, "decimals")
		return p
	})

	rapid.Check(t, func(t *rapid.T) {
		a := NewAsset()
		a.Status = Status(rapid.Uint8Range(0, 1).Draw(t, "status"))
		for _, id := range rapid.SliceOfDistinct(rapid.StringN(1, 12, -1), rapid.ID[string]).Draw(t, "oracles") {
			a.Reports.Upsert(id, clock.Timestamp(rapid.Uint64().Draw(t, "ts")), genPrice.Draw(t, "price"))
		}
		for _, period := range rapid.SliceOfDistinct(rapid.Uint32(), rapid.ID[uint32]).Draw(t, "periods") {
			tr := ema.Tracker{PeriodSec: clock.DurationSec(period), Timestamp: clock.Timestamp(rapid.Uint64().Draw(t, "ema_ts"))}
			if rapid.Bool().Draw(t, "fed") {
				p := genPrice.Draw(t, "ema_price")
				tr.Price = &p
			}
			a.EMAs = append(a.EMAs, tr)
		}

		out, err := DecodeAsset(EncodeAsset(a))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !assert.ObjectsAreEqual(a, out) {
			t.Fatalf("round trip mismatch:\n in: %+v\nout: %+v", a, out)
		}
	})
}

func TestReporterStatsRoundTrip(t *testing.T) {
	in := ReporterStats{LastReport: 42, ReportCount: 7, LastRewardClaim: 40}
	out, err := DecodeReporterStats(EncodeReporterStats(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestReporterStatsV0Upgrade(t *testing.T) {
	raw := encodeVersionedReporterStats(ReporterStatsV0{LastReport: 42, ReportCount: 7})
	assert.Equal(t, "00"+"2a00000000000000"+"0700000000000000", hex.EncodeToString(raw))

	got, err := DecodeReporterStats(raw)
	require.NoError(t, err)
	assert.Equal(t, ReporterStats{LastReport: 42, ReportCount: 7, LastRewardClaim: 0}, got)
}

func TestDecodeReporterStatsErrors(t *testing.T) {
	_, err := DecodeReporterStats([]byte{0x05})
	assert.ErrorIs(t, err, ErrUnknownVersion)

	_, err = DecodeReporterStats([]byte{reporterTagCurrent, 1, 2})
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestStatusText(t *testing.T) {
	raw, err := StatusHidden.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "Hidden", string(raw))

	var s Status
	require.NoError(t, s.UnmarshalText([]byte("active")))
	assert.Equal(t, StatusActive, s)
	assert.Error(t, s.UnmarshalText([]byte("gone")))
}
