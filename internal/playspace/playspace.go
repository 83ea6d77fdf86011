// Package playspace resolves best-effort diagnostic metadata about the
// current playspace: the play area plus, when the pose source can report
// it, the seated-to-standing transform and a human-readable note on where
// the bounds came from. It never invents a transform the adapter can't
// supply and never binds to a concrete VR runtime.
package playspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/softlynn/lighthouse-coach/internal/fsutil"
	"github.com/softlynn/lighthouse-coach/internal/geometry"
	"github.com/softlynn/lighthouse-coach/internal/playarea"
	"github.com/softlynn/lighthouse-coach/internal/poseource"
)

// Resolved is the best-effort playspace description. This is diagnostic
// metadata surfaced on the engine's in-memory state, not part of the
// Snapshot JSON contract.
type Resolved struct {
	PlayArea         playarea.PlayArea
	Universe         string // always "standing"
	SeatedToStanding *SeatedToStanding
	SourceDetail     string
}

// SeatedToStanding is the seated-zero-pose-to-standing-absolute transform,
// when the source can report one.
type SeatedToStanding struct {
	Rotation geometry.Mat3
	Position geometry.Vec3
}

// Resolve reports the play area plus whatever seated/standing and
// config-directory detail the source and filesystem can best-effort
// supply. A failure in the optional seated-to-standing accessor is not
// fatal: it simply yields a nil SeatedToStanding.
func Resolve(source poseource.Source, fsys fsutil.FileSystem) (Resolved, error) {
	area, err := source.PlayArea()
	if err != nil {
		return Resolved{}, fmt.Errorf("resolve playspace: %w", err)
	}

	var seated *SeatedToStanding
	if extra, ok := source.(poseource.SeatedToStandingSource); ok {
		if rot, pos, has := extra.SeatedToStanding(); has {
			seated = &SeatedToStanding{Rotation: rot, Position: pos}
		}
	}

	detail := area.Source
	if cfgDir, ok := steamVRConfigDir(fsys); ok {
		detail = fmt.Sprintf("%s; steamvr_config=%s", area.Source, cfgDir)
	}

	return Resolved{
		PlayArea:         area,
		Universe:         "standing",
		SeatedToStanding: seated,
		SourceDetail:     detail,
	}, nil
}

// steamVRConfigDir best-effort locates a SteamVR-style config directory via
// the LOCALAPPDATA\openvr\openvrpaths.vrpath registry, purely for
// diagnostic display — this engine never reads or writes files there
// beyond this one lookup.
func steamVRConfigDir(fsys fsutil.FileSystem) (string, bool) {
	base := os.Getenv("LOCALAPPDATA")
	if base == "" {
		return "", false
	}
	path := filepath.Join(base, "openvr", "openvrpaths.vrpath")
	data, err := fsys.ReadFile(path)
	if err != nil {
		return "", false
	}

	var obj struct {
		Config []string `json:"config"`
	}
	if err := json.Unmarshal(data, &obj); err != nil || len(obj.Config) == 0 {
		return "", false
	}
	return obj.Config[0], true
}
