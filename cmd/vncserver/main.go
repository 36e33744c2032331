// Command vncserver runs a standalone RFB server exposing a moving test
// pattern on its framebuffer, useful for exercising a client against this
// module without embedding it in a larger program.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/golang/glog"

	vnc "github.com/dustinmcafee/rustvncserver"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()
	defer glog.Flush()

	cfg, err := vnc.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vncserver: %v\n", err)
		os.Exit(1)
	}

	srv := vnc.New(cfg)
	go drawTestPattern(srv, uint16(cfg.Width), uint16(cfg.Height))

	addr := fmt.Sprintf(":%d", cfg.Port)
	glog.Infof("vncserver: starting on %s", addr)
	if err := srv.Listen(addr); err != nil {
		glog.Fatalf("vncserver: %v", err)
	}
}

// drawTestPattern paints a slowly scrolling diagonal gradient into the
// server's framebuffer once per frame interval, so a connecting client has
// something to look at.
func drawTestPattern(srv *vnc.Server, w, h uint16) {
	const frameInterval = 100 * time.Millisecond
	frame := make([]byte, int(w)*int(h)*4)
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	var t float64
	for range ticker.C {
		t += 0.05
		phase := int(t*20) % int(w)
		for y := 0; y < int(h); y++ {
			for x := 0; x < int(w); x++ {
				off := (y*int(w) + x) * 4
				v := uint8((math.Sin(float64(x+phase)/20+float64(y)/40) + 1) * 127)
				frame[off] = v
				frame[off+1] = uint8(255 - int(v))
				frame[off+2] = uint8((x ^ y) & 0xFF)
				frame[off+3] = 0xFF
			}
		}
		if err := srv.UpdateFramebuffer(frame, 0, 0, w, h); err != nil {
			glog.Warningf("vncserver: test pattern update failed: %v", err)
		}
	}
}
