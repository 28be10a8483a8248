package collab

import (
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// A fakeChannel is a scripted Channel. Messages placed on in are returned by
// ReadJSON, errors placed on errs are returned as read failures, and written
// messages are recorded.
type fakeChannel struct {
	in   chan Message
	errs chan error
	done chan struct{}
	once sync.Once

	mtx     sync.Mutex
	written []Message
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		in:   make(chan Message, 16),
		errs: make(chan error, 1),
		done: make(chan struct{}),
	}
}

func (c *fakeChannel) ReadJSON(v interface{}) error {
	select {
	case msg := <-c.in:
		*(v.(*Message)) = msg
		return nil
	case err := <-c.errs:
		return err
	case <-c.done:
		return io.ErrClosedPipe
	}
}

func (c *fakeChannel) WriteJSON(v interface{}) error {
	select {
	case <-c.done:
		return io.ErrClosedPipe
	default:
	}
	c.mtx.Lock()
	c.written = append(c.written, v.(Message))
	c.mtx.Unlock()
	return nil
}

func (c *fakeChannel) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeChannel) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// A fakeDialer hands out a fresh fakeChannel per dial and records the
// addresses it was asked to reach.
type fakeDialer struct {
	mtx      sync.Mutex
	addrs    []string
	channels []*fakeChannel
}

func (d *fakeDialer) dial(addr string) (Channel, error) {
	ch := newFakeChannel()
	d.mtx.Lock()
	d.addrs = append(d.addrs, addr)
	d.channels = append(d.channels, ch)
	d.mtx.Unlock()
	return ch, nil
}

func (d *fakeDialer) dialCount() int {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return len(d.channels)
}

// waitChannel waits for the i'th dial to happen, since Connect dials
// asynchronously.
func (d *fakeDialer) waitChannel(t *testing.T, i int) *fakeChannel {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		d.mtx.Lock()
		if len(d.channels) > i {
			ch := d.channels[i]
			d.mtx.Unlock()
			return ch
		}
		d.mtx.Unlock()
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Timed out waiting for channel %d to be dialed", i)
	return nil
}

func newTestSynchronizer() (*Synchronizer, *fakeDialer) {
	log := logrus.New()
	log.Out = io.Discard
	dialer := &fakeDialer{}
	return NewWithDialer(log, dialer.dial), dialer
}

// waitForItems reads published snapshots until want shows up. Intermediate
// snapshots may be conflated away, but the final one always stays pending, so
// waiting on a settled state is deterministic.
func waitForItems(t *testing.T, items <-chan []string, want []string) {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case got := <-items:
			if reflect.DeepEqual(got, want) {
				return
			}
		case <-timeout:
			t.Fatalf("Timed out waiting for snapshot %v", want)
		}
	}
}

func waitAvailable(t *testing.T, s *Synchronizer) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.Available() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("Timed out waiting for the synchronizer to become available")
}

func TestConnectWithoutAddress(t *testing.T) {
	s, dialer := newTestSynchronizer()

	if s.Connect() {
		t.Error("Connect succeeded without a known endpoint address")
	}
	if s.Available() {
		t.Error("Synchronizer available without a connect")
	}
	if dialer.dialCount() != 0 {
		t.Errorf("Dialed %d times; wanted 0", dialer.dialCount())
	}
	if got := s.Items(); len(got) != 0 {
		t.Errorf("Item set not empty: %v", got)
	}
}

func TestConnectDialsEndpoint(t *testing.T) {
	s, dialer := newTestSynchronizer()
	s.SetAddress("ws://host/collab")

	if !s.Connect() {
		t.Fatal("Connect failed with a known endpoint address")
	}
	dialer.waitChannel(t, 0)
	waitAvailable(t, s)

	dialer.mtx.Lock()
	addr := dialer.addrs[0]
	dialer.mtx.Unlock()
	if addr != "ws://host/collab" {
		t.Errorf("Dialed %q; wanted ws://host/collab", addr)
	}
}

func TestSynchronizeScenario(t *testing.T) {
	s, dialer := newTestSynchronizer()
	items, cancel := s.Subscribe()
	defer cancel()
	waitForItems(t, items, []string{})

	s.SetAddress("ws://host/collab")
	s.Connect()
	ch := dialer.waitChannel(t, 0)

	ch.in <- Message{Action: ActionAdd, Key: Key, Attribute: []string{"a", "b"}}
	waitForItems(t, items, []string{"a", "b"})

	// Adding "b" again must not duplicate it, and first-seen order holds.
	ch.in <- Message{Action: ActionAdd, Key: Key, Attribute: []string{"b", "c"}}
	waitForItems(t, items, []string{"a", "b", "c"})

	ch.in <- Message{Action: ActionRemove, Key: Key, Attribute: []string{"a"}}
	waitForItems(t, items, []string{"b", "c"})

	// Removing an absent identifier is a no-op.
	ch.in <- Message{Action: ActionRemove, Key: Key, Attribute: []string{"z"}}
	ch.in <- Message{Action: ActionClear, Key: Key}
	waitForItems(t, items, []string{})

	if got := s.Items(); !reflect.DeepEqual(got, []string{}) {
		t.Errorf("Item set after clear: %v; wanted empty", got)
	}
}

func TestUnrecognizedActionIsNoOp(t *testing.T) {
	s, dialer := newTestSynchronizer()
	items, cancel := s.Subscribe()
	defer cancel()

	s.SetAddress("ws://host/collab")
	s.Connect()
	ch := dialer.waitChannel(t, 0)

	ch.in <- Message{Action: ActionAdd, Key: Key, Attribute: []string{"a"}}
	waitForItems(t, items, []string{"a"})

	ch.in <- Message{Action: Action("FROBNICATE"), Key: Key, Attribute: []string{"x"}}
	ch.in <- Message{Action: ActionAdd, Key: Key, Attribute: []string{"b"}}
	waitForItems(t, items, []string{"a", "b"})

	for _, id := range s.Items() {
		if id == "x" {
			t.Error("Unrecognized action mutated the item set")
		}
	}
}

func TestChannelErrorClearsSet(t *testing.T) {
	s, dialer := newTestSynchronizer()
	items, cancel := s.Subscribe()
	defer cancel()

	s.SetAddress("ws://host/collab")
	s.Connect()
	ch := dialer.waitChannel(t, 0)

	ch.in <- Message{Action: ActionAdd, Key: Key, Attribute: []string{"a"}}
	waitForItems(t, items, []string{"a"})

	ch.errs <- errors.New("connection reset")
	waitForItems(t, items, []string{})

	// The channel object is retained after an error; Available is an
	// optimistic flag, not a wire-level one.
	if !s.Available() {
		t.Error("Channel object dropped after error")
	}
}

func TestChannelCloseClearsSet(t *testing.T) {
	s, dialer := newTestSynchronizer()
	items, cancel := s.Subscribe()
	defer cancel()

	s.SetAddress("ws://host/collab")
	s.Connect()
	ch := dialer.waitChannel(t, 0)

	ch.in <- Message{Action: ActionAdd, Key: Key, Attribute: []string{"a"}}
	waitForItems(t, items, []string{"a"})

	ch.errs <- &websocket.CloseError{Code: websocket.CloseNormalClosure}
	waitForItems(t, items, []string{})

	if !s.Available() {
		t.Error("Channel object dropped after close")
	}
}

func TestReconnectResetsSet(t *testing.T) {
	s, dialer := newTestSynchronizer()
	items, cancel := s.Subscribe()
	defer cancel()

	s.SetAddress("ws://host/collab")
	s.Connect()
	first := dialer.waitChannel(t, 0)
	waitAvailable(t, s)

	first.in <- Message{Action: ActionAdd, Key: Key, Attribute: []string{"a"}}
	waitForItems(t, items, []string{"a"})

	if !s.Connect() {
		t.Fatal("Reconnect failed")
	}
	waitForItems(t, items, []string{})
	second := dialer.waitChannel(t, 1)

	if !first.closed() {
		t.Error("Superseded channel was not closed")
	}

	// A late message from the superseded channel must not reach the set.
	first.in <- Message{Action: ActionAdd, Key: Key, Attribute: []string{"stale"}}
	second.in <- Message{Action: ActionAdd, Key: Key, Attribute: []string{"y"}}
	waitForItems(t, items, []string{"y"})

	time.Sleep(10 * time.Millisecond)
	if got := s.Items(); !reflect.DeepEqual(got, []string{"y"}) {
		t.Errorf("Item set after reconnect: %v; wanted [y]", got)
	}
}

func TestMutationsSendMessages(t *testing.T) {
	s, dialer := newTestSynchronizer()
	s.SetAddress("ws://host/collab")
	s.Connect()
	ch := dialer.waitChannel(t, 0)
	waitAvailable(t, s)

	s.Add("a", "b")
	s.Remove("a")
	s.Clear()

	want := []Message{
		{Action: ActionAdd, Key: Key, Attribute: []string{"a", "b"}},
		{Action: ActionRemove, Key: Key, Attribute: []string{"a"}},
		{Action: ActionClear, Key: Key, Attribute: []string{}},
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		ch.mtx.Lock()
		n := len(ch.written)
		ch.mtx.Unlock()
		if n == len(want) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	ch.mtx.Lock()
	got := ch.written
	ch.mtx.Unlock()
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Sent messages: %+v; wanted %+v", got, want)
	}

	// No echo came back, so the local set must be untouched.
	if got := s.Items(); len(got) != 0 {
		t.Errorf("Local set mutated without an echo: %v", got)
	}
}

func TestMutationWhileDisconnectedIsDropped(t *testing.T) {
	s, dialer := newTestSynchronizer()

	s.Add("a")
	s.Remove("a")
	s.Clear()

	if dialer.dialCount() != 0 {
		t.Errorf("Dialed %d times; wanted 0", dialer.dialCount())
	}
	if got := s.Items(); len(got) != 0 {
		t.Errorf("Item set mutated while disconnected: %v", got)
	}
}

func TestSubscribeReplaysLatestSnapshot(t *testing.T) {
	s, dialer := newTestSynchronizer()
	items, cancel := s.Subscribe()
	defer cancel()

	s.SetAddress("ws://host/collab")
	s.Connect()
	ch := dialer.waitChannel(t, 0)

	ch.in <- Message{Action: ActionAdd, Key: Key, Attribute: []string{"a", "b"}}
	waitForItems(t, items, []string{"a", "b"})

	late, cancelLate := s.Subscribe()
	defer cancelLate()
	select {
	case got := <-late:
		if !reflect.DeepEqual(got, []string{"a", "b"}) {
			t.Errorf("Replayed snapshot: %v; wanted [a b]", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Late observer did not receive a replayed snapshot")
	}
}

func TestFollowConfig(t *testing.T) {
	s, dialer := newTestSynchronizer()

	v := viper.New()
	v.Set(ConfigKey, "ws://host/collab")
	s.Follow(v)

	dialer.waitChannel(t, 0)
	dialer.mtx.Lock()
	addr := dialer.addrs[0]
	dialer.mtx.Unlock()
	if addr != "ws://host/collab" {
		t.Errorf("Dialed %q; wanted ws://host/collab", addr)
	}
}

func TestFollowConfigReconnectsOnChange(t *testing.T) {
	s, dialer := newTestSynchronizer()

	cfgFile := filepath.Join(t.TempDir(), "collabordinator.yaml")
	if err := os.WriteFile(cfgFile, []byte("vbs:\n  collabordinator: ws://host1/collab\n"), 0644); err != nil {
		t.Fatalf("Write config: %s", err)
	}
	v := viper.New()
	v.SetConfigFile(cfgFile)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("Read config: %s", err)
	}

	s.Follow(v)
	dialer.waitChannel(t, 0)

	// Editing the watched config moves the synchronizer to the new endpoint.
	if err := os.WriteFile(cfgFile, []byte("vbs:\n  collabordinator: ws://host2/collab\n"), 0644); err != nil {
		t.Fatalf("Rewrite config: %s", err)
	}
	dialer.waitChannel(t, 1)

	dialer.mtx.Lock()
	addrs := append([]string{}, dialer.addrs...)
	dialer.mtx.Unlock()
	if addrs[0] != "ws://host1/collab" {
		t.Errorf("First dial: %q; wanted ws://host1/collab", addrs[0])
	}
	if addrs[1] != "ws://host2/collab" {
		t.Errorf("Dial after config change: %q; wanted ws://host2/collab", addrs[1])
	}
}
