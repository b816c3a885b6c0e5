package sonicare

import "github.com/srg/brushlink/internal/device"

// ServiceUUID is the primary Sonicare service; handles advertise it.
const ServiceUUID = "477ea600-a260-11e4-ae37-0002a5d50001"

// AdvertisedName is the local name Sonicare handles advertise with.
const AdvertisedName = "Philips Sonicare"

// Characteristic UUIDs, normalized to the go-ble string form.
var (
	batteryLevelUUID     = device.NormalizeUUID("2a19")
	modelNumberUUID      = device.NormalizeUUID("2a24")
	firmwareRevisionUUID = device.NormalizeUUID("2a26")
	handleStateUUID      = device.NormalizeUUID("477ea600-a260-11e4-ae37-0002a5d54010")
	brushingModeUUID     = device.NormalizeUUID("477ea600-a260-11e4-ae37-0002a5d54080")
	brushingStateUUID    = device.NormalizeUUID("477ea600-a260-11e4-ae37-0002a5d54082")
	brushingTimeUUID     = device.NormalizeUUID("477ea600-a260-11e4-ae37-0002a5d54090")
	intensityUUID        = device.NormalizeUUID("477ea600-a260-11e4-ae37-0002a5d540b0")
)

// IsToothbrush reports whether an advertisement looks like a Sonicare handle.
func IsToothbrush(adv device.Advertisement) bool {
	return adv.LocalName() == AdvertisedName || device.AdvertisesService(adv, ServiceUUID)
}
