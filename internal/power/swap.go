package power

import "github.com/crownstone/bluenet-sub000/internal/adc"

// swapSuspected compares the voltage channel of the previous filtered
// buffer against both channels of the current one. If the current voltage
// resembles the previous voltage less than the current current does, the
// channels were probably swapped by the converter.
//
// Manual switch actuation distorts the voltage enough to trigger this
// check, so it only ever reports and is off unless Params.SwapDetection is
// set.
func swapSuspected(prev, cur *adc.SampleBuffer, n int) bool {
	stride := cur.NumChannels()
	var same, different int64
	for i := 0; i < n; i++ {
		p := int64(prev.Samples[i*stride+adc.VoltageChannel])
		same += abs(int64(cur.Samples[i*stride+adc.VoltageChannel]) - p)
		different += abs(int64(cur.Samples[i*stride+adc.CurrentChannel]) - p)
	}
	return same > different
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
