//go:build !rp2040 && !rp2350

package main

// The MQTT transport depends on paho and stays off the firmware image.
import _ "flightcode-go/services/bridge/mqttlink"
