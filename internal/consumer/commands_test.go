package consumer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/PKmac78/paddisense-release/internal/models"
)

// fakeCommandTarget 记录分发结果
type fakeCommandTarget struct {
	paddockMode map[string]models.Mode
	bayMode     map[models.BayRef]models.Mode
	thresholds  map[models.BayRef]models.ThresholdUpdate
	manualDoors map[models.ControlPointKey]models.DoorState
}

func newFakeCommandTarget() *fakeCommandTarget {
	return &fakeCommandTarget{
		paddockMode: make(map[string]models.Mode),
		bayMode:     make(map[models.BayRef]models.Mode),
		thresholds:  make(map[models.BayRef]models.ThresholdUpdate),
		manualDoors: make(map[models.ControlPointKey]models.DoorState),
	}
}

func (f *fakeCommandTarget) SetPaddockMode(ctx context.Context, slug string, mode models.Mode) error {
	f.paddockMode[slug] = mode
	return nil
}

func (f *fakeCommandTarget) SetBayMode(ctx context.Context, ref models.BayRef, mode models.Mode) error {
	f.bayMode[ref] = mode
	return nil
}

func (f *fakeCommandTarget) UpdateBayThresholds(ctx context.Context, ref models.BayRef, update models.ThresholdUpdate) error {
	f.thresholds[ref] = update
	return nil
}

func (f *fakeCommandTarget) ManualDoor(ctx context.Context, key models.ControlPointKey, state models.DoorState) error {
	f.manualDoors[key] = state
	return nil
}

func TestCommandConsumer_PaddockMode(t *testing.T) {
	target := newFakeCommandTarget()
	c := NewCommandConsumer(nil, target, zap.NewNop())

	require.NoError(t, c.handleMessage("paddisense/pwm/sw5/mode/set", []byte("flush")))
	assert.Equal(t, models.ModeFlush, target.paddockMode["sw5"])

	assert.Error(t, c.handleMessage("paddisense/pwm/sw5/mode/set", []byte("sideways")))
}

func TestCommandConsumer_BayMode(t *testing.T) {
	target := newFakeCommandTarget()
	c := NewCommandConsumer(nil, target, zap.NewNop())

	require.NoError(t, c.handleMessage("paddisense/pwm/sw5/bay/2/mode/set", []byte("drain")))
	assert.Equal(t, models.ModeDrain, target.bayMode[models.BayRef{Paddock: "sw5", Bay: 2}])

	assert.Error(t, c.handleMessage("paddisense/pwm/sw5/bay/two/mode/set", []byte("drain")))
}

func TestCommandConsumer_Thresholds(t *testing.T) {
	target := newFakeCommandTarget()
	c := NewCommandConsumer(nil, target, zap.NewNop())

	payload := `{"depth_min": -3.5, "flush_hold_minutes": 120}`
	require.NoError(t, c.handleMessage("paddisense/pwm/sw5/bay/1/thresholds/set", []byte(payload)))

	update := target.thresholds[models.BayRef{Paddock: "sw5", Bay: 1}]
	require.NotNil(t, update.DepthMin)
	assert.Equal(t, -3.5, *update.DepthMin)
	assert.Nil(t, update.DepthMax)
	require.NotNil(t, update.FlushHoldMinutes)
	assert.Equal(t, 120, *update.FlushHoldMinutes)

	assert.Error(t, c.handleMessage("paddisense/pwm/sw5/bay/1/thresholds/set", []byte("{bad")))
}

func TestCommandConsumer_ManualDoor(t *testing.T) {
	target := newFakeCommandTarget()
	c := NewCommandConsumer(nil, target, zap.NewNop())

	require.NoError(t, c.handleMessage("paddisense/pwm/sw5/bay/3/door/spur/set", []byte("open")))
	key := models.ControlPointKey{Paddock: "sw5", Bay: 3, Role: models.RoleSpur}
	assert.Equal(t, models.DoorOpen, target.manualDoors[key])

	assert.Error(t, c.handleMessage("paddisense/pwm/sw5/bay/3/door/window/set", []byte("open")))
}

func TestCommandConsumer_RejectsForeignTopics(t *testing.T) {
	target := newFakeCommandTarget()
	c := NewCommandConsumer(nil, target, zap.NewNop())

	assert.Error(t, c.handleMessage("paddisense/pwm/sw5/mode/state", []byte("flush")))
	assert.Error(t, c.handleMessage("other/pwm/sw5/mode/set", []byte("flush")))
	assert.Error(t, c.handleMessage("paddisense/pwm/sw5/bay/1/unknown/set", []byte("x")))
	assert.Empty(t, target.paddockMode)
	assert.Empty(t, target.bayMode)
}
