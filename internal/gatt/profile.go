package gatt

import (
	"fmt"
	"strings"

	"github.com/go-ble/ble"
	"github.com/srg/shoesensor/internal/sampler"
)

// Default UUIDs of the running-shoe accelerometer.
var (
	AccelServiceUUID = ble.MustParse("1bc56726-0200-658c-e511-21f700cca137")
	AccelXCharUUID   = ble.MustParse("1bc56727-0200-658c-e511-21f700cca137")
	AccelYCharUUID   = ble.MustParse("1bc56728-0200-658c-e511-21f700cca137")
)

// Default characteristic ids.
const (
	AxisX sampler.CharacteristicID = "x"
	AxisY sampler.CharacteristicID = "y"
)

// CharacteristicSpec binds a scheduler characteristic id to a GATT characteristic UUID.
type CharacteristicSpec struct {
	ID   sampler.CharacteristicID
	UUID ble.UUID
}

// DefaultCharacteristics returns the X/Y accelerometer characteristics in polling order.
func DefaultCharacteristics() []CharacteristicSpec {
	return []CharacteristicSpec{
		{ID: AxisX, UUID: AccelXCharUUID},
		{ID: AxisY, UUID: AccelYCharUUID},
	}
}

// NewCharacteristicSpec builds a spec from a characteristic name and UUID string.
func NewCharacteristicSpec(name, uuid string) (CharacteristicSpec, error) {
	if strings.TrimSpace(name) == "" {
		return CharacteristicSpec{}, fmt.Errorf("characteristic name cannot be empty")
	}
	u, err := ParseUUID(uuid)
	if err != nil {
		return CharacteristicSpec{}, fmt.Errorf("characteristic %q: %w", name, err)
	}
	return CharacteristicSpec{ID: sampler.CharacteristicID(name), UUID: u}, nil
}

// ParseUUID parses a 16-bit or 128-bit UUID, with or without dashes.
func ParseUUID(s string) (ble.UUID, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(strings.ToLower(s)), "0x")
	if trimmed == "" {
		return nil, fmt.Errorf("UUID cannot be empty")
	}
	u, err := ble.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid UUID %q: %w", s, err)
	}
	return u, nil
}

// resolveCharacteristics finds every spec inside service svc of profile.
// The returned ids keep the order of specs.
func resolveCharacteristics(profile *ble.Profile, svc ble.UUID, specs []CharacteristicSpec) (map[sampler.CharacteristicID]*ble.Characteristic, []sampler.CharacteristicID, error) {
	if profile == nil {
		return nil, nil, &NotFoundError{Resource: "service", UUIDs: []string{svc.String()}}
	}

	var service *ble.Service
	for _, s := range profile.Services {
		if s.UUID.Equal(svc) {
			service = s
			break
		}
	}
	if service == nil {
		return nil, nil, &NotFoundError{Resource: "service", UUIDs: []string{svc.String()}}
	}

	chars := make(map[sampler.CharacteristicID]*ble.Characteristic, len(specs))
	ids := make([]sampler.CharacteristicID, 0, len(specs))
	for _, spec := range specs {
		var found *ble.Characteristic
		for _, c := range service.Characteristics {
			if c.UUID.Equal(spec.UUID) {
				found = c
				break
			}
		}
		if found == nil {
			return nil, nil, &NotFoundError{Resource: "characteristic", UUIDs: []string{svc.String(), spec.UUID.String()}}
		}
		if found.Property&ble.CharRead == 0 {
			return nil, nil, fmt.Errorf("characteristic %s is not readable", spec.UUID.String())
		}
		chars[spec.ID] = found
		ids = append(ids, spec.ID)
	}
	return chars, ids, nil
}

// decodeValue extracts the UINT8 sample at offset 0.
func decodeValue(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, ErrEmptyValue
	}
	return int(data[0]), nil
}
