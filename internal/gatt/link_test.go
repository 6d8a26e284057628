package gatt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/shoesensor/internal/sampler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type mockPeer struct {
	mock.Mock
	lost chan struct{}
}

func (m *mockPeer) DiscoverProfile(force bool) (*ble.Profile, error) {
	args := m.Called(force)
	profile, _ := args.Get(0).(*ble.Profile)
	return profile, args.Error(1)
}

func (m *mockPeer) ReadCharacteristic(c *ble.Characteristic) ([]byte, error) {
	args := m.Called(c)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *mockPeer) CancelConnection() error {
	return m.Called().Error(0)
}

func (m *mockPeer) Disconnected() <-chan struct{} {
	return m.lost
}

type recordingHandler struct {
	mu     sync.Mutex
	events []string
	chars  []sampler.CharacteristicID
	ready  chan struct{}
	err    error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{ready: make(chan struct{})}
}

func (h *recordingHandler) OnConnected() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, "connected")
}

func (h *recordingHandler) OnServicesReady(chars []sampler.CharacteristicID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, "services_ready")
	h.chars = chars
	close(h.ready)
	return h.err
}

func (h *recordingHandler) OnDisconnected() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, "disconnected")
}

func (h *recordingHandler) Events() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

func accelProfile(xProps ble.Property) (*ble.Profile, *ble.Characteristic, *ble.Characteristic) {
	x := &ble.Characteristic{UUID: AccelXCharUUID, Property: xProps}
	y := &ble.Characteristic{UUID: AccelYCharUUID, Property: ble.CharRead | ble.CharNotify}
	return &ble.Profile{
		Services: []*ble.Service{
			{UUID: ble.UUID16(0x180f)},
			{UUID: AccelServiceUUID, Characteristics: []*ble.Characteristic{y, x}},
		},
	}, x, y
}

type LinkTestSuite struct {
	suite.Suite

	logger  *logrus.Logger
	peer    *mockPeer
	link    *Link
	handler *recordingHandler
}

func (suite *LinkTestSuite) SetupTest() {
	suite.logger = logrus.New()
	suite.logger.SetLevel(logrus.DebugLevel)
	suite.peer = &mockPeer{lost: make(chan struct{})}
	suite.handler = newRecordingHandler()

	link, err := NewLink(DefaultLinkOptions("AA:BB:CC:DD:EE:FF"), suite.logger)
	suite.Require().NoError(err)
	link.dial = func(ctx context.Context, address string) (peer, error) {
		return suite.peer, nil
	}
	suite.link = link
}

func (suite *LinkTestSuite) runLink(ctx context.Context) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- suite.link.Run(ctx, suite.handler)
	}()
	return errCh
}

func (suite *LinkTestSuite) read(id sampler.CharacteristicID) (int, error) {
	type result struct {
		value int
		err   error
	}
	ch := make(chan result, 1)
	suite.link.IssueRead(sampler.ReadRequest{Characteristic: id, Seq: 1}, func(value int, err error) {
		ch <- result{value, err}
	})
	select {
	case r := <-ch:
		return r.value, r.err
	case <-time.After(time.Second):
		suite.FailNow("read did not complete")
		return 0, nil
	}
}

func (suite *LinkTestSuite) TestSessionUntilPeerDisconnects() {
	// GOAL: Verify Run reports the lifecycle and serves reads while connected
	//
	// TEST SCENARIO: Dial → profile resolved → reads decoded as UINT8 → peer drops → Disconnected, ErrConnectionLost

	profile, x, y := accelProfile(ble.CharRead)
	suite.peer.On("DiscoverProfile", true).Return(profile, nil)
	suite.peer.On("ReadCharacteristic", x).Return([]byte{42, 1}, nil)
	suite.peer.On("ReadCharacteristic", y).Return([]byte{255}, nil)
	suite.peer.On("CancelConnection").Return(nil).Once()

	errCh := suite.runLink(context.Background())
	<-suite.handler.ready

	suite.Assert().Equal([]sampler.CharacteristicID{AxisX, AxisY}, suite.handler.chars, "ids MUST follow configured order")
	suite.Assert().True(suite.link.IsConnected())

	value, err := suite.read(AxisX)
	suite.Require().NoError(err)
	suite.Assert().Equal(42, value)

	value, err = suite.read(AxisY)
	suite.Require().NoError(err)
	suite.Assert().Equal(255, value)

	close(suite.peer.lost)
	select {
	case err := <-errCh:
		suite.Assert().ErrorIs(err, ErrConnectionLost)
	case <-time.After(time.Second):
		suite.FailNow("Run did not return after disconnect")
	}

	suite.Assert().Equal([]string{"connected", "services_ready", "disconnected"}, suite.handler.Events())
	suite.Assert().False(suite.link.IsConnected())

	_, err = suite.read(AxisX)
	suite.Assert().ErrorIs(err, ErrNotConnected, "reads after disconnect MUST fail")
	suite.peer.AssertExpectations(suite.T())
}

func (suite *LinkTestSuite) TestContextCancel() {
	profile, _, _ := accelProfile(ble.CharRead)
	suite.peer.On("DiscoverProfile", true).Return(profile, nil)
	suite.peer.On("CancelConnection").Return(nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := suite.runLink(ctx)
	<-suite.handler.ready
	cancel()

	select {
	case err := <-errCh:
		suite.Assert().ErrorIs(err, context.Canceled)
	case <-time.After(time.Second):
		suite.FailNow("Run did not return after cancel")
	}
	suite.Assert().Equal("disconnected", suite.handler.Events()[2])
	suite.peer.AssertExpectations(suite.T())
}

func (suite *LinkTestSuite) TestMissingCharacteristic() {
	// GOAL: Verify a profile without the configured characteristics ends the session cleanly
	//
	// TEST SCENARIO: Service lacks Y → NotFoundError → Disconnected reported without ServicesReady

	x := &ble.Characteristic{UUID: AccelXCharUUID, Property: ble.CharRead}
	profile := &ble.Profile{Services: []*ble.Service{{UUID: AccelServiceUUID, Characteristics: []*ble.Characteristic{x}}}}
	suite.peer.On("DiscoverProfile", true).Return(profile, nil)
	suite.peer.On("CancelConnection").Return(nil).Once()

	err := suite.link.Run(context.Background(), suite.handler)

	var nf *NotFoundError
	suite.Require().ErrorAs(err, &nf)
	suite.Assert().Equal("characteristic", nf.Resource)
	suite.Assert().Equal([]string{"connected", "disconnected"}, suite.handler.Events())
}

func (suite *LinkTestSuite) TestUnreadableCharacteristic() {
	profile, _, _ := accelProfile(ble.CharNotify)
	suite.peer.On("DiscoverProfile", true).Return(profile, nil)
	suite.peer.On("CancelConnection").Return(nil).Once()

	err := suite.link.Run(context.Background(), suite.handler)
	suite.Assert().ErrorContains(err, "not readable")
}

func (suite *LinkTestSuite) TestDiscoveryFailure() {
	suite.peer.On("DiscoverProfile", true).Return(nil, errors.New("att: timeout"))
	suite.peer.On("CancelConnection").Return(nil).Once()

	err := suite.link.Run(context.Background(), suite.handler)
	suite.Assert().ErrorContains(err, "failed to discover profile")
	suite.Assert().Equal([]string{"connected", "disconnected"}, suite.handler.Events())
}

func (suite *LinkTestSuite) TestHandlerRejectsServices() {
	profile, _, _ := accelProfile(ble.CharRead)
	suite.peer.On("DiscoverProfile", true).Return(profile, nil)
	suite.peer.On("CancelConnection").Return(nil).Once()
	suite.handler.err = &sampler.ConfigError{Reason: "test"}

	err := suite.link.Run(context.Background(), suite.handler)
	suite.Assert().ErrorIs(err, sampler.ErrConfig)
	suite.Assert().Equal("disconnected", suite.handler.Events()[2])
}

func (suite *LinkTestSuite) TestReadErrors() {
	profile, x, y := accelProfile(ble.CharRead)
	suite.peer.On("DiscoverProfile", true).Return(profile, nil)
	suite.peer.On("ReadCharacteristic", x).Return([]byte{}, nil)
	suite.peer.On("ReadCharacteristic", y).Return(nil, errors.New("device not connected"))
	suite.peer.On("CancelConnection").Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := suite.runLink(ctx)
	<-suite.handler.ready

	_, err := suite.read(AxisX)
	suite.Assert().ErrorIs(err, ErrEmptyValue)

	_, err = suite.read(AxisY)
	suite.Assert().ErrorIs(err, ErrNotConnected, "go-ble errors MUST be normalized")

	_, err = suite.read("z")
	var nf *NotFoundError
	suite.Assert().ErrorAs(err, &nf, "unknown id MUST fail without touching the radio")

	cancel()
	<-errCh
}

func (suite *LinkTestSuite) TestDialFailure() {
	suite.link.dial = func(ctx context.Context, address string) (peer, error) {
		return nil, errors.New("device already connected")
	}

	err := suite.link.Run(context.Background(), suite.handler)
	suite.Assert().ErrorIs(err, ErrAlreadyConnected)
	suite.Assert().Empty(suite.handler.Events(), "no event MUST be reported when dialing fails")
}

func TestLinkTestSuite(t *testing.T) {
	suite.Run(t, new(LinkTestSuite))
}

func TestNewLink_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts *LinkOptions
	}{
		{name: "nil options", opts: nil},
		{name: "empty address", opts: DefaultLinkOptions("  ")},
		{name: "no service", opts: &LinkOptions{Address: "a", Characteristics: DefaultCharacteristics()}},
		{name: "no characteristics", opts: &LinkOptions{Address: "a", ServiceUUID: AccelServiceUUID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link, err := NewLink(tt.opts, nil)
			assert.Error(t, err)
			assert.Nil(t, link)
		})
	}
}

func TestNewLink_DefaultsTimeout(t *testing.T) {
	opts := DefaultLinkOptions("AA:BB:CC:DD:EE:FF")
	opts.ConnectTimeout = 0

	link, err := NewLink(opts, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConnectTimeout, link.opts.ConnectTimeout)
}
