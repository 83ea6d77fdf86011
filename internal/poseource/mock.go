package poseource

import (
	"sync"

	"github.com/softlynn/lighthouse-coach/internal/playarea"
)

// MockPoseSource is a test double for Source. Callers queue up per-call
// responses (or errors) and it replays them in order, holding the last
// response once the queue is drained.
type MockPoseSource struct {
	mu sync.Mutex

	initErrs  []error
	enumResps []enumResp
	playArea  playarea.PlayArea
	playErr   error

	initCalls     int
	enumCalls     int
	shutdownCalls int
}

type enumResp struct {
	devices []DeviceInfo
	err     error
}

// NewMockPoseSource creates a mock with a default 2x2m play area and no
// queued errors.
func NewMockPoseSource() *MockPoseSource {
	return &MockPoseSource{playArea: playarea.Default()}
}

// QueueInit appends an Init() response; nil means success.
func (m *MockPoseSource) QueueInit(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initErrs = append(m.initErrs, err)
}

// QueueEnumerate appends an Enumerate() response.
func (m *MockPoseSource) QueueEnumerate(devices []DeviceInfo, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enumResps = append(m.enumResps, enumResp{devices: devices, err: err})
}

// SetPlayArea sets the play area PlayArea() returns.
func (m *MockPoseSource) SetPlayArea(pa playarea.PlayArea) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playArea = pa
}

func (m *MockPoseSource) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initCalls++
	if len(m.initErrs) == 0 {
		return nil
	}
	idx := m.initCalls - 1
	if idx >= len(m.initErrs) {
		idx = len(m.initErrs) - 1
	}
	return m.initErrs[idx]
}

func (m *MockPoseSource) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownCalls++
}

func (m *MockPoseSource) Enumerate() ([]DeviceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enumCalls++
	if len(m.enumResps) == 0 {
		return nil, nil
	}
	idx := m.enumCalls - 1
	if idx >= len(m.enumResps) {
		idx = len(m.enumResps) - 1
	}
	resp := m.enumResps[idx]
	return resp.devices, resp.err
}

func (m *MockPoseSource) PlayArea() (playarea.PlayArea, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playArea, m.playErr
}

// InitCalls, EnumerateCalls, ShutdownCalls report call counts for
// assertions on reconnect/backoff behavior.
func (m *MockPoseSource) InitCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initCalls
}

func (m *MockPoseSource) EnumerateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enumCalls
}

func (m *MockPoseSource) ShutdownCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdownCalls
}
