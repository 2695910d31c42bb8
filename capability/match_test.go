package capability

import (
	"testing"

	"icn.coop/mesh/dag"
)

func fullManifest() *dag.NodeManifest {
	return &dag.NodeManifest{
		Architecture: "arm64",
		Cores:        8,
		RAMMb:        4096,
		StorageBytes: 64 << 30,
		GPU: &dag.GPUProfile{
			APIFamily:   "vulkan",
			VRAMMb:      2048,
			TensorCores: true,
			Features:    []string{"fp16", "int8"},
		},
		Sensors: []dag.PeripheralSpec{
			{Type: "temperature", Protocol: "i2c", Active: true},
			{Type: "humidity", Protocol: "i2c", Active: false},
		},
		Actuators: []dag.PeripheralSpec{
			{Type: "relay", Protocol: "gpio", Active: true},
		},
		Energy: &dag.EnergyProfile{
			RenewablePct: 80,
			Sources:      []string{"solar", "battery"},
		},
		MeshProtocols: []string{"lorawan", "wifi-halow"},
		LastSeen:      1700000000,
	}
}

func boolPtr(b bool) *bool { return &b }

func TestMatches(t *testing.T) {
	m := fullManifest()

	cases := []struct {
		name string
		sel  dag.Selector
		want bool
	}{
		{"Empty", dag.Selector{}, true},
		{"Architecture", dag.Selector{Architecture: "arm64"}, true},
		{"ArchitectureMismatch", dag.Selector{Architecture: "x86_64"}, false},
		{"Cores", dag.Selector{MinCores: 8}, true},
		{"TooManyCores", dag.Selector{MinCores: 16}, false},
		{"RAM", dag.Selector{MinRAMMb: 4096}, true},
		{"TooMuchRAM", dag.Selector{MinRAMMb: 8192}, false},
		{"Storage", dag.Selector{MinStorageBytes: 1 << 30}, true},
		{"TooMuchStorage", dag.Selector{MinStorageBytes: 128 << 30}, false},
		{"GPU", dag.Selector{GPU: &dag.GPUSelector{APIFamily: "vulkan", MinVRAMMb: 1024}}, true},
		{"GPUWrongAPI", dag.Selector{GPU: &dag.GPUSelector{APIFamily: "cuda"}}, false},
		{"GPUVRAMShort", dag.Selector{GPU: &dag.GPUSelector{MinVRAMMb: 4096}}, false},
		{"GPUTensorCores", dag.Selector{GPU: &dag.GPUSelector{TensorCores: true}}, true},
		{"GPUFeatureSubset", dag.Selector{GPU: &dag.GPUSelector{Features: []string{"fp16"}}}, true},
		{"GPUFeatureMissing", dag.Selector{GPU: &dag.GPUSelector{Features: []string{"fp64"}}}, false},
		{"Sensor", dag.Selector{Sensors: []dag.PeripheralSelector{{Type: "temperature"}}}, true},
		{"SensorMissing", dag.Selector{Sensors: []dag.PeripheralSelector{{Type: "lidar"}}}, false},
		{"SensorActive", dag.Selector{Sensors: []dag.PeripheralSelector{{Type: "temperature", Active: boolPtr(true)}}}, true},
		{"SensorInactiveRequired", dag.Selector{Sensors: []dag.PeripheralSelector{{Type: "humidity", Active: boolPtr(true)}}}, false},
		{"Actuator", dag.Selector{Actuators: []dag.PeripheralSelector{{Type: "relay", Protocol: "gpio"}}}, true},
		{"ActuatorWrongProtocol", dag.Selector{Actuators: []dag.PeripheralSelector{{Type: "relay", Protocol: "modbus"}}}, false},
		{"Renewable", dag.Selector{MinRenewablePct: 50}, true},
		{"RenewableShort", dag.Selector{MinRenewablePct: 90}, false},
		{"EnergySource", dag.Selector{EnergySource: "solar"}, true},
		{"EnergySourceMissing", dag.Selector{EnergySource: "diesel"}, false},
		{"Protocols", dag.Selector{MeshProtocols: []string{"lorawan"}}, true},
		{"ProtocolMissing", dag.Selector{MeshProtocols: []string{"lorawan", "ethernet"}}, false},
		{"Conjunction", dag.Selector{Architecture: "arm64", MinCores: 4, MinRenewablePct: 50, MeshProtocols: []string{"wifi-halow"}}, true},
		{"ConjunctionOneFails", dag.Selector{Architecture: "arm64", MinCores: 4, MinRenewablePct: 90}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Matches(m, &tc.sel); got != tc.want {
				t.Fatalf("Matches = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMatchesAbsentHardware(t *testing.T) {
	bare := &dag.NodeManifest{Architecture: "riscv64", Cores: 2, RAMMb: 512}

	if Matches(bare, &dag.Selector{GPU: &dag.GPUSelector{}}) {
		t.Fatalf("GPU predicate must fail without an advertised GPU")
	}
	if Matches(bare, &dag.Selector{MinRenewablePct: 1}) {
		t.Fatalf("renewable predicate must fail without an energy profile")
	}
	if Matches(bare, &dag.Selector{EnergySource: "solar"}) {
		t.Fatalf("energy source predicate must fail without an energy profile")
	}
	if !Matches(bare, &dag.Selector{Architecture: "riscv64", MinCores: 2}) {
		t.Fatalf("bare manifest should still match its own shape")
	}
}

// One peripheral must satisfy the whole selector entry; fields satisfied
// by different peripherals do not combine.
func TestMatchPeripheralNoFieldSpread(t *testing.T) {
	m := &dag.NodeManifest{
		Sensors: []dag.PeripheralSpec{
			{Type: "temperature", Protocol: "i2c"},
			{Type: "pressure", Protocol: "spi"},
		},
	}
	sel := dag.Selector{Sensors: []dag.PeripheralSelector{{Type: "temperature", Protocol: "spi"}}}
	if Matches(m, &sel) {
		t.Fatalf("selector satisfied across two different sensors")
	}
}
