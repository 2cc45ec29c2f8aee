package subaru

import (
	"github.com/banshee-data/canbridge/internal/can"
	"github.com/banshee-data/canbridge/internal/candb"
)

// checksum is the byte sum of the address and every payload byte after the
// checksum byte itself.
func checksum(f can.Frame) int {
	s := 0
	for addr := f.Address; addr > 0; addr >>= 8 {
		s += int(addr & 0xff)
	}
	for _, b := range f.Data[1:] {
		s += int(b)
	}
	return s & 0xff
}

func createSteeringControl(p *candb.Packer, applySteer, counter int, steerReq bool) (can.Frame, error) {
	req := 0.0
	if steerReq {
		req = 1
	}
	values := map[string]float64{
		"Counter":      float64(counter % 0x10),
		"LKAS_Output":  float64(applySteer),
		"LKAS_Request": req,
		"SET_1":        1,
	}
	f, err := p.Make(BusMain, "ES_LKAS", values)
	if err != nil {
		return f, err
	}
	values["Checksum"] = float64(checksum(f))
	return p.Make(BusMain, "ES_LKAS", values)
}
