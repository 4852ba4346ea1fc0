package radio

import "time"

// Observation is one sighting of an advertising beacon: the advertised
// name, the received signal strength in dBm and when it was seen.
type Observation struct {
	Name string
	RSSI int
	At   time.Time
}

// frame is the wire form pushed by the radio stack. ts is epoch
// milliseconds and may be absent.
type frame struct {
	Name string `json:"name"`
	RSSI int    `json:"rssi"`
	TS   int64  `json:"ts"`
}

func (f frame) observation(fallback time.Time) Observation {
	at := fallback
	if f.TS > 0 {
		at = time.UnixMilli(f.TS)
	}
	return Observation{Name: f.Name, RSSI: f.RSSI, At: at}
}
