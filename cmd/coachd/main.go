// Command coachd runs the lighthouse coverage/diagnostics state engine and
// its loopback JSON API as a single long-running process.
package main

import (
	"context"
	"flag"
	"log"
	"math"
	"net"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	"github.com/softlynn/lighthouse-coach/internal/config"
	"github.com/softlynn/lighthouse-coach/internal/fsutil"
	"github.com/softlynn/lighthouse-coach/internal/geometry"
	"github.com/softlynn/lighthouse-coach/internal/playarea"
	"github.com/softlynn/lighthouse-coach/internal/poseource"
	"github.com/softlynn/lighthouse-coach/internal/stateengine"
	"github.com/softlynn/lighthouse-coach/internal/stateserver"
	"github.com/softlynn/lighthouse-coach/internal/timeutil"
)

var (
	devMode = flag.Bool("dev", false, "run against a fixture pose source instead of a real runtime binding")
	listen  = flag.String("listen", "", "listen address for the state HTTP server; defaults to the configured loopback bind")
	root    = flag.String("root", "", "data root directory (config, sessions, exports); defaults to the per-user config directory")
)

// devFixtureSource builds a deterministic two-station, three-tracker
// MockPoseSource so -dev has something to poll without a connected
// headset. Binding to a real VR runtime (OpenVR or otherwise) is out of
// scope for this engine — see internal/poseource's package doc — so
// non-dev mode has no concrete Source to hand the engine and refuses to
// start rather than silently running against nothing.
func devFixtureSource() *poseource.MockPoseSource {
	src := poseource.NewMockPoseSource()
	src.SetPlayArea(playarea.Default())

	station := func(serial string, x, y float64, yawDeg float64) poseource.DeviceInfo {
		rad := yawDeg * math.Pi / 180.0
		c, s := math.Cos(rad), math.Sin(rad)
		rot := geometry.Mat3{
			{s, 0, -c},
			{-c, 0, -s},
			{0, 1, 0},
		}
		return poseource.DeviceInfo{
			DeviceClass: poseource.DeviceClassTrackingReference,
			Serial:      serial,
			Connected:   true,
			Pose: &poseource.Pose{
				PositionM:      geometry.Vec3{X: x, Y: y, Z: 2.2},
				Rotation:       rot,
				PoseValid:      true,
				TrackingResult: poseource.TrackingResultRunningOK,
			},
		}
	}
	tracker := func(serial string, x, y float64) poseource.DeviceInfo {
		return poseource.DeviceInfo{
			DeviceClass: poseource.DeviceClassGenericTracker,
			Serial:      serial,
			Connected:   true,
			Pose: &poseource.Pose{
				PositionM:      geometry.Vec3{X: x, Y: y, Z: 0.15},
				Rotation:       geometry.Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
				PoseValid:      true,
				TrackingResult: poseource.TrackingResultRunningOK,
			},
		}
	}

	devices := []poseource.DeviceInfo{
		station("LHB-0001", -1.5, -1.5, 225),
		station("LHB-0002", 1.5, -1.5, 135),
		tracker("TRK-0001", -0.3, 0.3),
		tracker("TRK-0002", 0.3, 0.3),
		tracker("TRK-0003", 0.0, -0.3),
	}
	src.QueueEnumerate(devices, nil)
	return src
}

func main() {
	flag.Parse()

	var source poseource.Source
	if *devMode {
		source = devFixtureSource()
	} else {
		log.Fatal("no VR runtime binding configured: run with -dev for a fixture pose source, or wire a concrete poseource.Source implementation for your runtime")
	}

	dataRoot := *root
	if dataRoot == "" {
		dataRoot = config.DefaultRootDir()
	}

	fsys := fsutil.OSFileSystem{}
	clock := timeutil.RealClock{}

	addr := *listen
	if addr == "" {
		tuning := config.Load(fsys, dataRoot).Tuning
		addr = net.JoinHostPort(tuning.GetHTTPBindHost(), strconv.Itoa(tuning.GetHTTPBindPort()))
	}

	engine := stateengine.New(source, fsys, clock, dataRoot)
	engine.EnableExports(filepath.Join(dataRoot, "exports"), filepath.Join(dataRoot, "sessions.db"))
	server := stateserver.New(engine)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.Start()
		<-ctx.Done()
		engine.Stop()
		log.Printf("state engine stopped")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(ctx, addr); err != nil {
			log.Printf("state server error: %v", err)
		}
		log.Printf("state server routine stopped")
	}()

	wg.Wait()
	log.Printf("coachd shutdown complete")
}
