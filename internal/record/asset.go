// Package record defines the stored entities and their schema history. Every
// shape ever written keeps its tag; reads upgrade any tag to the current shape
// and writes always use the current tag.
package record

import (
	"fmt"
	"strings"

	"github.com/near/borsh-go"

	"price-oracle/internal/ema"
	"price-oracle/internal/ledger"
)

// Status controls whether an asset is served to consumers.
type Status uint8

const (
	// StatusActive assets are served by price queries.
	StatusActive Status = iota
	// StatusHidden assets still accept reports but read as absent.
	StatusHidden
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "Active"
	case StatusHidden:
		return "Hidden"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if s > StatusHidden {
		return nil, fmt.Errorf("unknown asset status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus accepts "active" or "hidden" in any case.
func ParseStatus(v string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "active":
		return StatusActive, nil
	case "hidden":
		return StatusHidden, nil
	default:
		return 0, fmt.Errorf("unknown asset status %q", v)
	}
}

// Asset is the current stored shape of an asset: its report ledger and its
// moving averages.
type Asset struct {
	Status  Status        `json:"status"`
	Reports ledger.Ledger `json:"reports"`
	EMAs    ema.Trackers  `json:"emas"`
}

// NewAsset returns an active asset without reports or averages.
func NewAsset() Asset {
	return Asset{Status: StatusActive, Reports: ledger.Ledger{}, EMAs: ema.Trackers{}}
}

// AssetV0 is the first stored shape: reports only.
type AssetV0 struct {
	Reports ledger.Ledger
}

// AssetV1 added moving averages.
type AssetV1 struct {
	Reports ledger.Ledger
	EMAs    ema.Trackers
}

// VersionedAsset is the closed set of stored asset shapes.
type VersionedAsset interface {
	// Upgrade converts the shape to the current Asset.
	Upgrade() Asset
	assetTag() uint8
}

const (
	assetTagV0 uint8 = iota
	assetTagV1
	assetTagCurrent
)

// Upgrade fills status Active and no averages.
func (v AssetV0) Upgrade() Asset {
	return Asset{Status: StatusActive, Reports: nonNilReports(v.Reports), EMAs: ema.Trackers{}}
}

// Upgrade fills status Active.
func (v AssetV1) Upgrade() Asset {
	return Asset{Status: StatusActive, Reports: nonNilReports(v.Reports), EMAs: nonNilTrackers(v.EMAs)}
}

// Upgrade returns the asset unchanged.
func (a Asset) Upgrade() Asset {
	return a
}

func (AssetV0) assetTag() uint8 { return assetTagV0 }
func (AssetV1) assetTag() uint8 { return assetTagV1 }
func (Asset) assetTag() uint8   { return assetTagCurrent }

// EncodeAsset serialises the asset under the current tag.
func EncodeAsset(a Asset) []byte {
	return encodeVersionedAsset(a)
}

func encodeVersionedAsset(v VersionedAsset) []byte {
	w := wireVersionedAsset{Enum: borsh.Enum(v.assetTag())}
	switch a := v.(type) {
	case AssetV0:
		w.V0 = wireAssetV0{Reports: toWireReports(a.Reports)}
	case AssetV1:
		w.V1 = wireAssetV1{Reports: toWireReports(a.Reports), EMAs: toWireTrackers(a.EMAs)}
	case Asset:
		w.Current = wireAsset{Status: uint8(a.Status), Reports: toWireReports(a.Reports), EMAs: toWireTrackers(a.EMAs)}
	}
	return encode(w)
}

// DecodeVersionedAsset reads stored bytes into the shape their tag names.
func DecodeVersionedAsset(data []byte) (VersionedAsset, error) {
	w, err := decode[wireVersionedAsset](data, assetTagCurrent+1, "asset")
	if err != nil {
		return nil, err
	}

	switch uint8(w.Enum) {
	case assetTagV0:
		return AssetV0{Reports: fromWireReports(w.V0.Reports)}, nil
	case assetTagV1:
		return AssetV1{Reports: fromWireReports(w.V1.Reports), EMAs: fromWireTrackers(w.V1.EMAs)}, nil
	default:
		status := Status(w.Current.Status)
		if status > StatusHidden {
			return nil, fmt.Errorf("%w: asset status %d", ErrCorrupt, uint8(status))
		}
		return Asset{Status: status, Reports: fromWireReports(w.Current.Reports), EMAs: fromWireTrackers(w.Current.EMAs)}, nil
	}
}

// DecodeAsset reads stored bytes of any asset version as the current shape.
func DecodeAsset(data []byte) (Asset, error) {
	v, err := DecodeVersionedAsset(data)
	if err != nil {
		return Asset{}, err
	}
	return v.Upgrade(), nil
}

func nonNilReports(r ledger.Ledger) ledger.Ledger {
	if r == nil {
		return ledger.Ledger{}
	}
	return r
}

func nonNilTrackers(t ema.Trackers) ema.Trackers {
	if t == nil {
		return ema.Trackers{}
	}
	return t
}
