package intiface

import (
	"encoding/json"
	"fmt"

	"github.com/cbegin/hapticbridge-go/internal/device"
)

// The wire format is the Buttplug JSON spec, message version 3: an array of
// single-key objects, the key naming the message type.

const messageVersion = 3

type requestServerInfo struct {
	ID             uint32 `json:"Id"`
	ClientName     string `json:"ClientName"`
	MessageVersion int    `json:"MessageVersion"`
}

type serverInfo struct {
	ID             uint32 `json:"Id"`
	ServerName     string `json:"ServerName"`
	MessageVersion int    `json:"MessageVersion"`
	MaxPingTime    int    `json:"MaxPingTime"`
}

type idOnly struct {
	ID uint32 `json:"Id"`
}

type serverError struct {
	ID           uint32 `json:"Id"`
	ErrorMessage string `json:"ErrorMessage"`
	ErrorCode    int    `json:"ErrorCode"`
}

func (e *serverError) Error() string {
	return fmt.Sprintf("buttplug server error %d: %s", e.ErrorCode, e.ErrorMessage)
}

type scalarEntry struct {
	Index        uint32  `json:"Index"`
	Scalar       float64 `json:"Scalar"`
	ActuatorType string  `json:"ActuatorType"`
}

type scalarCmd struct {
	ID          uint32        `json:"Id"`
	DeviceIndex uint32        `json:"DeviceIndex"`
	Scalars     []scalarEntry `json:"Scalars"`
}

type rotateEntry struct {
	Index     uint32  `json:"Index"`
	Speed     float64 `json:"Speed"`
	Clockwise bool    `json:"Clockwise"`
}

type rotateCmd struct {
	ID          uint32        `json:"Id"`
	DeviceIndex uint32        `json:"DeviceIndex"`
	Rotations   []rotateEntry `json:"Rotations"`
}

type linearEntry struct {
	Index    uint32  `json:"Index"`
	Duration uint32  `json:"Duration"`
	Position float64 `json:"Position"`
}

type linearCmd struct {
	ID          uint32        `json:"Id"`
	DeviceIndex uint32        `json:"DeviceIndex"`
	Vectors     []linearEntry `json:"Vectors"`
}

type sensorReadCmd struct {
	ID          uint32 `json:"Id"`
	DeviceIndex uint32 `json:"DeviceIndex"`
	SensorIndex uint32 `json:"SensorIndex"`
	SensorType  string `json:"SensorType"`
}

type sensorReading struct {
	ID          uint32 `json:"Id"`
	DeviceIndex uint32 `json:"DeviceIndex"`
	SensorIndex uint32 `json:"SensorIndex"`
	SensorType  string `json:"SensorType"`
	Data        []int  `json:"Data"`
}

type scalarAttr struct {
	FeatureDescriptor string `json:"FeatureDescriptor"`
	StepCount         uint32 `json:"StepCount"`
	ActuatorType      string `json:"ActuatorType"`
}

type stepAttr struct {
	FeatureDescriptor string `json:"FeatureDescriptor"`
	StepCount         uint32 `json:"StepCount"`
}

type sensorAttr struct {
	FeatureDescriptor string  `json:"FeatureDescriptor"`
	SensorType        string  `json:"SensorType"`
	SensorRange       [][]int `json:"SensorRange"`
}

type deviceMessages struct {
	ScalarCmd     []scalarAttr `json:"ScalarCmd"`
	RotateCmd     []stepAttr   `json:"RotateCmd"`
	LinearCmd     []stepAttr   `json:"LinearCmd"`
	SensorReadCmd []sensorAttr `json:"SensorReadCmd"`
}

type deviceInfo struct {
	DeviceIndex    uint32         `json:"DeviceIndex"`
	DeviceName     string         `json:"DeviceName"`
	DeviceMessages deviceMessages `json:"DeviceMessages"`
}

type deviceList struct {
	ID      uint32       `json:"Id"`
	Devices []deviceInfo `json:"Devices"`
}

type deviceRemoved struct {
	DeviceIndex uint32 `json:"DeviceIndex"`
}

// incoming is one decoded server message: its type key plus raw payload.
type incoming struct {
	kind string
	raw  json.RawMessage
}

func encodeMessage(kind string, payload any) ([]byte, error) {
	return json.Marshal([]map[string]any{{kind: payload}})
}

func decodeMessages(data []byte) ([]incoming, error) {
	var frames []map[string]json.RawMessage
	if err := json.Unmarshal(data, &frames); err != nil {
		return nil, fmt.Errorf("decode buttplug frame: %w", err)
	}
	var out []incoming
	for _, frame := range frames {
		for kind, raw := range frame {
			out = append(out, incoming{kind: kind, raw: raw})
		}
	}
	return out, nil
}

func actuatorFromWire(s string) device.ActuatorType {
	switch s {
	case "Vibrate":
		return device.ActuatorVibrate
	case "Rotate":
		return device.ActuatorRotate
	case "Constrict":
		return device.ActuatorConstrict
	case "Inflate":
		return device.ActuatorInflate
	case "Oscillate":
		return device.ActuatorOscillate
	case "Position":
		return device.ActuatorPosition
	}
	return device.ActuatorUnknown
}

// attributesFromWire maps advertised device messages onto the bridge's
// attribute model.
func attributesFromWire(dm deviceMessages) device.Attributes {
	var attrs device.Attributes
	for i, sc := range dm.ScalarCmd {
		attrs.Scalars = append(attrs.Scalars, device.ScalarAttribute{
			Index:     uint32(i),
			Actuator:  actuatorFromWire(sc.ActuatorType),
			StepCount: sc.StepCount,
		})
	}
	for i, rot := range dm.RotateCmd {
		attrs.Rotators = append(attrs.Rotators, device.RotateAttribute{
			Index:     uint32(i),
			StepCount: rot.StepCount,
		})
	}
	for i, lin := range dm.LinearCmd {
		attrs.Linears = append(attrs.Linears, device.LinearAttribute{
			Index:     uint32(i),
			StepCount: lin.StepCount,
		})
	}
	return attrs
}

// batterySensorIndex finds the battery sensor, or -1 when absent.
func batterySensorIndex(dm deviceMessages) int {
	for i, sensor := range dm.SensorReadCmd {
		if sensor.SensorType == "Battery" {
			return i
		}
	}
	return -1
}
