package repositories

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3DPanda1/LWN-Node/models"
	"github.com/R3DPanda1/LWN-Node/node/channels"
	"github.com/R3DPanda1/LWN-Node/node/codec"
	"github.com/R3DPanda1/LWN-Node/node/events"
	"github.com/R3DPanda1/LWN-Node/node/power"
	"github.com/R3DPanda1/LWN-Node/node/resources/communication/udp"
	"github.com/R3DPanda1/LWN-Node/node/session"
	"github.com/R3DPanda1/LWN-Node/socket"
)

func testConfig() *models.ServerConfig {
	return &models.ServerConfig{
		Node: models.NodeConfig{
			Activation:   "otaa",
			DevEUI:       "0102030405060708",
			JoinEUI:      "70b3d57ed0000001",
			AppKey:       "2b7e151628aed2a6abf7158809cf4f3c",
			Class:        "A",
			Region:       "EU868",
			DataRate:     5,
			EIRP:         14,
			Port:         2,
			Payload:      "cafe",
			SendInterval: "1h",
		},
	}
}

type sleepRecorder struct {
	mu    sync.Mutex
	wakes []time.Duration
}

func (s *sleepRecorder) Sleep(wake time.Duration) {
	s.mu.Lock()
	s.wakes = append(s.wakes, wake)
	s.mu.Unlock()
}

func startNode(t *testing.T, cfg *models.ServerConfig, opts ...Option) NodeRepository {
	t.Helper()
	repo := NewNodeRepository(cfg, opts...)
	require.NoError(t, repo.Start())
	t.Cleanup(func() { repo.Stop() })
	require.Eventually(t, func() bool {
		st := repo.Status()
		return st.Session != nil && st.Session.Joined
	}, 2*time.Second, 10*time.Millisecond)
	return repo
}

func TestStartJoinsAndSends(t *testing.T) {
	repo := startNode(t, testConfig())

	st := repo.Status()
	assert.Equal(t, "running", st.State)
	assert.Equal(t, "EU868", st.Session.Region)
	assert.Equal(t, 5, st.Session.DataRate)
	assert.Nil(t, st.Radio)
	repo.GetFrames()

	res, err := repo.SendUplink(socket.UplinkRequest{Port: 2, Payload: "0102"})
	require.NoError(t, err)
	assert.Equal(t, session.Sent.String(), res)
	require.Eventually(t, func() bool { return len(repo.GetFrames()) > 0 }, time.Second, 10*time.Millisecond)

	_, err = repo.SendUplink(socket.UplinkRequest{Port: 2, Payload: "zz"})
	assert.Error(t, err)
	ok, err := repo.Join()
	require.NoError(t, err)
	assert.False(t, ok, "already joined")
}

func TestStartTwice(t *testing.T) {
	repo := startNode(t, testConfig())
	assert.ErrorIs(t, repo.Start(), ErrRunning)
	assert.True(t, repo.Stop())
	assert.False(t, repo.Stop())
	assert.Equal(t, "stopped", repo.Status().State)
}

func TestStoppedRefusesWork(t *testing.T) {
	repo := NewNodeRepository(testConfig())
	_, err := repo.SendUplink(socket.UplinkRequest{Port: 1})
	assert.ErrorIs(t, err, ErrStopped)
	_, err = repo.Join()
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, repo.SetSubBand(2), ErrStopped)
	assert.ErrorIs(t, repo.Halt(time.Second), ErrStopped)
	assert.ErrorIs(t, repo.DeliverDownlink(socket.DownlinkRequest{Port: 1, Payload: "01"}), ErrStopped)
	assert.ErrorIs(t, repo.RadioSend(socket.RadioSendRequest{Payload: "01"}), ErrRadioDisabled)
	assert.Empty(t, repo.GetFrames())
}

func TestStartRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Node.AppKey = "not-hex"
	assert.Error(t, NewNodeRepository(cfg).Start())

	cfg = testConfig()
	cfg.Node.Class = "D"
	assert.Error(t, NewNodeRepository(cfg).Start())

	cfg = testConfig()
	cfg.Node.SendInterval = "soon"
	assert.Error(t, NewNodeRepository(cfg).Start())

	cfg = testConfig()
	cfg.Node.Region = "US915"
	cfg.Node.DataRate = 5
	repo := NewNodeRepository(cfg)
	assert.ErrorIs(t, repo.Start(), session.ErrUnsupportedDataRate)
	assert.Equal(t, "stopped", repo.Status().State)
}

func TestABPNode(t *testing.T) {
	cfg := testConfig()
	cfg.Node.Activation = "abp"
	cfg.Node.DevAddr = "26011bda"
	cfg.Node.NwkSKey = "000102030405060708090a0b0c0d0e0f"
	cfg.Node.AppSKey = "0f0e0d0c0b0a09080706050403020100"
	repo := startNode(t, cfg)
	assert.Equal(t, "26011bda", repo.Status().Session.DevAddr)
}

func TestChannelsAndSubBands(t *testing.T) {
	repo := startNode(t, testConfig())
	assert.ErrorIs(t, repo.SetSubBand(2), channels.ErrUnsupportedRegion)

	id, err := repo.AddChannel(867100000)
	require.NoError(t, err)
	assert.Equal(t, 3, id)
	require.NoError(t, repo.DelChannel(867100000))

	cfg := testConfig()
	cfg.Node.Region = "US915"
	cfg.Node.DataRate = 3
	us := startNode(t, cfg)
	assert.Equal(t, 2, us.Status().Session.SubBand)
	require.NoError(t, us.SetSubBand(4))
	assert.Equal(t, 4, us.Status().Session.SubBand)
}

func TestDownlinkDuringRestart(t *testing.T) {
	repo := startNode(t, testConfig())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			_ = repo.DeliverDownlink(socket.DownlinkRequest{Port: 1, Payload: "01"})
		}
	}()
	for i := 0; i < 3; i++ {
		require.True(t, repo.Stop())
		require.NoError(t, repo.Start())
	}
	<-done
}

func TestDownlinkAfterUplink(t *testing.T) {
	repo := startNode(t, testConfig())
	ch, _, unsub := repo.GetEventBroker().Subscribe(events.NodeTopic("0102030405060708"))
	defer unsub()

	require.NoError(t, repo.DeliverDownlink(socket.DownlinkRequest{Port: 7, Payload: "beef"}))
	_, err := repo.SendUplink(socket.UplinkRequest{Port: 2, Payload: "01"})
	require.NoError(t, err)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ne := ev.(events.NodeEvent); ne.Type == events.EventDownlink {
				assert.Equal(t, "beef", ne.Payload)
				return
			}
		case <-deadline:
			t.Fatal("downlink not published")
		}
	}
}

func TestHaltStopsUplinks(t *testing.T) {
	sleeper := &sleepRecorder{}
	repo := startNode(t, testConfig(), WithSleeper(sleeper))
	ch, _, unsub := repo.GetEventBroker().Subscribe(events.SystemTopic)
	defer unsub()

	require.NoError(t, repo.Halt(30*time.Second))
	sleeper.mu.Lock()
	assert.Equal(t, []time.Duration{30 * time.Second}, sleeper.wakes)
	sleeper.mu.Unlock()

	select {
	case ev := <-ch:
		assert.Equal(t, events.SysEventHalted, ev.(events.SystemEvent).Type)
	case <-time.After(time.Second):
		t.Fatal("halt not published")
	}
	assert.ErrorIs(t, repo.Halt(time.Second), power.ErrHalted)
}

func TestRawRadio(t *testing.T) {
	cfg := testConfig()
	cfg.Radio = models.RadioConfig{
		Enable:       true,
		LocalAddress: "127.0.0.1:0",
		PeerAddress:  "127.0.0.1:9",
		Frequency:    868100000,
		SF:           9,
		BW:           125,
		EIRP:         10,
		Key:          "2b7e151628aed2a6abf7158809cf4f3c",
	}
	repo := startNode(t, cfg)

	st := repo.Status()
	require.NotNil(t, st.Radio)
	assert.Equal(t, RadioStatus{Frequency: 868100000, SF: 9, BW: 125, EIRP: 10, Encrypted: true}, *st.Radio)

	require.NoError(t, repo.RadioSend(socket.RadioSendRequest{Payload: "0102"}))
	assert.Error(t, repo.RadioSend(socket.RadioSendRequest{Payload: "x"}))

	eirp := 20
	require.NoError(t, repo.ConfigureRadio(socket.RadioConfigRequest{SF: 12, EIRP: &eirp}))
	st = repo.Status()
	assert.Equal(t, 12, st.Radio.SF)
	assert.Equal(t, 20, st.Radio.EIRP)
	assert.Error(t, repo.ConfigureRadio(socket.RadioConfigRequest{SF: 4}))
}

// received reports whether a receive event with payload arrives on ch
// within wait.
func received(ch <-chan interface{}, payload string, wait time.Duration) bool {
	timeout := time.After(wait)
	for {
		select {
		case ev := <-ch:
			if re := ev.(events.RadioEvent); re.Type == events.RadioEventReceive && re.Payload == payload {
				return true
			}
		case <-timeout:
			return false
		}
	}
}

func TestRawRadioListensAfterSend(t *testing.T) {
	peer, err := udp.Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer peer.Close()

	cfg := testConfig()
	cfg.Radio = models.RadioConfig{
		Enable:       true,
		LocalAddress: "127.0.0.1:0",
		PeerAddress:  peer.LocalAddr().String(),
		Frequency:    868300000,
		SF:           7,
		BW:           125,
		EIRP:         14,
	}
	repo := startNode(t, cfg)
	ch, _, unsub := repo.GetEventBroker().Subscribe(events.RadioTopic("raw"))
	defer unsub()

	require.NoError(t, repo.RadioSend(socket.RadioSendRequest{Payload: "01"}))
	buf := make([]byte, 64)
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	size, node, err := peer.ReadFromUDP(buf)
	require.NoError(t, err)
	require.Equal(t, 8, size)

	// answer on the same channel and modulation the node sent with
	reply := append(buf[:7:7], 0xbe, 0xef)
	require.Eventually(t, func() bool {
		if _, err := peer.WriteTo(reply, node); err != nil {
			return false
		}
		return received(ch, "beef", 50*time.Millisecond)
	}, 2*time.Second, 10*time.Millisecond)

	for received(ch, "beef", 100*time.Millisecond) {
	}
	require.NoError(t, repo.RadioSend(socket.RadioSendRequest{Payload: "02"}))
	require.Eventually(t, func() bool {
		if _, err := peer.WriteTo(reply, node); err != nil {
			return false
		}
		return received(ch, "beef", 50*time.Millisecond)
	}, 2*time.Second, 10*time.Millisecond)
}

const counterCodec = `
function Encode(fPort, obj) {
    return [obj.level, nextCounter("n")];
}

function Decode(fPort, bytes) {
    return {interval: bytes[0] * 60};
}
`

func TestCodecPayloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counter.js")
	require.NoError(t, os.WriteFile(path, []byte(counterCodec), 0o644))
	cfg := testConfig()
	cfg.Node.Codec = path
	repo := startNode(t, cfg)
	assert.Equal(t, "counter", repo.Status().Codec)
	repo.GetFrames()

	res, err := repo.SendUplink(socket.UplinkRequest{Port: 3, Object: map[string]interface{}{"level": 7}})
	require.NoError(t, err)
	assert.Equal(t, session.Sent.String(), res)

	require.NoError(t, repo.DeliverDownlink(socket.DownlinkRequest{Port: 4, Payload: "05"}))
	_, err = repo.SendUplink(socket.UplinkRequest{Port: 3, Object: map[string]interface{}{"level": 8}})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return repo.Status().LastDecoded != nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, map[string]interface{}{"interval": int64(300)}, repo.Status().LastDecoded)

	_, err = repo.SendUplink(socket.UplinkRequest{Port: 3, Object: map[string]interface{}{"level": 300}})
	assert.ErrorIs(t, err, codec.ErrInvalidResult)
}

func TestObjectWithoutCodec(t *testing.T) {
	repo := startNode(t, testConfig())
	_, err := repo.SendUplink(socket.UplinkRequest{Port: 3, Object: map[string]interface{}{"level": 1}})
	assert.ErrorIs(t, err, ErrNoCodec)

	cfg := testConfig()
	cfg.Node.Codec = filepath.Join(t.TempDir(), "missing.js")
	assert.Error(t, NewNodeRepository(cfg).Start())
}
