// Command beaconsim stands in for a vehicle's BLE beacon during bench
// testing: it serves synthetic radio observations over WebSocket so the
// rider agent can be exercised without radio hardware. The simulated
// signal cycles through approach, dwell and departure phases.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type observation struct {
	Name string `json:"name"`
	RSSI int    `json:"rssi"`
	TS   int64  `json:"ts"`
}

type simulator struct {
	name     string
	nearRSSI int
	farRSSI  int
	jitter   int
	dwell    time.Duration
	gap      time.Duration
	interval time.Duration
}

func (s *simulator) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("upgrade err:", err)
		return
	}
	defer conn.Close()
	log.Printf("rider connected: %s", r.RemoteAddr)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	start := time.Now()
	for range ticker.C {
		obs, visible := s.sample(time.Since(start))
		if !visible {
			continue
		}
		data, err := json.Marshal(obs)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Println("write err:", err)
			return
		}
	}
}

// sample returns the observation for the given point in the cycle. During
// the gap phase the beacon is out of range and nothing is emitted.
func (s *simulator) sample(elapsed time.Duration) (observation, bool) {
	cycle := s.dwell + s.gap
	phase := elapsed % cycle
	if phase >= s.dwell {
		return observation{}, false
	}

	rssi := s.nearRSSI
	// The first and last few seconds of the dwell are the walk-up and
	// walk-away, seen as a weak signal.
	if phase < 5*time.Second || phase > s.dwell-5*time.Second {
		rssi = s.farRSSI
	}
	rssi += rand.Intn(2*s.jitter+1) - s.jitter

	return observation{
		Name: s.name,
		RSSI: rssi,
		TS:   time.Now().UnixMilli(),
	}, true
}

func main() {
	addr := flag.String("addr", ":8090", "listen address")
	name := flag.String("name", "BUS_4711", "advertised beacon name")
	near := flag.Int("near", -55, "RSSI while aboard, dBm")
	far := flag.Int("far", -80, "RSSI during walk-up/away, dBm")
	jitter := flag.Int("jitter", 4, "random RSSI jitter, dBm")
	dwell := flag.Duration("dwell", 90*time.Second, "time aboard per cycle")
	gap := flag.Duration("gap", 45*time.Second, "time out of range per cycle")
	interval := flag.Duration("interval", time.Second, "advertising interval")
	flag.Parse()

	sim := &simulator{
		name:     *name,
		nearRSSI: *near,
		farRSSI:  *far,
		jitter:   *jitter,
		dwell:    *dwell,
		gap:      *gap,
		interval: *interval,
	}

	http.HandleFunc("/observations", sim.handle)
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	log.Printf("beaconsim advertising %q on %s", *name, *addr)
	log.Fatal(http.ListenAndServe(*addr, nil))
}
