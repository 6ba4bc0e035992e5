package genie

import "github.com/samber/lo"

// DeviceTypes is the platform's fixed device type vocabulary.
var DeviceTypes = []string{
	"television", "light", "aircondition", "airpurifier", "outlet",
	"switch", "roboticvacuum", "curtain", "humidifier", "fan",
	"bottlewarmer", "soymilkmaker", "kettle", "waterdispenser", "camera",
	"router", "cooker", "waterheater", "oven", "waterpurifier",
	"fridge", "STB", "sensor", "washmachine", "smartbed",
	"aromamachine", "window", "kitchenventilator", "fingerprintlock", "telecontroller",
	"dishwasher", "dehumidifier", "dryer", "wall-hung-boiler", "microwaveoven",
	"heater", "mosquito-dispeller", "treadmill", "smart-gating", "smart-band",
	"hanger",
}

// includeDomains maps host domains to device types.
var includeDomains = map[string]string{
	"climate":      "aircondition",
	"fan":          "fan",
	"sensor":       "sensor",
	"light":        "light",
	"media_player": "television",
	"remote":       "telecontroller",
	"switch":       "switch",
	"vacuum":       "roboticvacuum",
	"cover":        "curtain",
}

var excludeDomains = []string{"automation", "binary_sensor", "device_tracker", "group", "zone"}

// IsDeviceType reports whether t is in the platform vocabulary.
func IsDeviceType(t string) bool {
	return lo.Contains(DeviceTypes, t)
}
