package testutils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/srg/shoesensor/internal/gatt"
)

// Advertisement is an in-memory gatt.Advertisement.
type Advertisement struct {
	Name          string   `json:"name"`
	Address       string   `json:"address"`
	Signal        int      `json:"rssi"`
	IsConnectable bool     `json:"connectable"`
	ServiceUUIDs  []string `json:"services"`
	Manufacturer  []byte   `json:"manufacturer_data"`
}

var _ gatt.Advertisement = (*Advertisement)(nil)

func (a *Advertisement) LocalName() string        { return a.Name }
func (a *Advertisement) Addr() string             { return a.Address }
func (a *Advertisement) RSSI() int                { return a.Signal }
func (a *Advertisement) Connectable() bool        { return a.IsConnectable }
func (a *Advertisement) ManufacturerData() []byte { return a.Manufacturer }

// Services returns the advertised UUIDs normalized the way the platform adapter does.
func (a *Advertisement) Services() []string {
	out := make([]string, 0, len(a.ServiceUUIDs))
	for _, u := range a.ServiceUUIDs {
		out = append(out, gatt.NormalizeUUID(u))
	}
	return out
}

// AdvertisementBuilder builds advertisements for scanner tests.
type AdvertisementBuilder struct {
	adv Advertisement
}

// NewAdvertisementBuilder starts a connectable advertisement.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{adv: Advertisement{IsConnectable: true}}
}

func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.Name = name
	return b
}

func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.adv.Address = addr
	return b
}

func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.Signal = rssi
	return b
}

// WithServices adds service UUIDs in short ("180D") or full form.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.adv.ServiceUUIDs = append(b.adv.ServiceUUIDs, uuids...)
	return b
}

func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.adv.IsConnectable = c
	return b
}

func (b *AdvertisementBuilder) WithManufacturerData(data []byte) *AdvertisementBuilder {
	b.adv.Manufacturer = data
	return b
}

// FromJSON fills builder fields from a JSON string with format support.
// Panics on invalid JSON as this is intended for test data setup.
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	dec := json.NewDecoder(strings.NewReader(fmt.Sprintf(jsonStrFmt, args...)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b.adv); err != nil {
		panic(fmt.Sprintf("FromJSON: failed to unmarshal advertisement: %v", err))
	}
	return b
}

// Build returns a copy of the configured advertisement.
func (b *AdvertisementBuilder) Build() *Advertisement {
	adv := b.adv
	adv.ServiceUUIDs = append([]string(nil), b.adv.ServiceUUIDs...)
	return &adv
}
