package sniff

import (
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gonetcut/internal/inject"
	"gonetcut/internal/models"
	"gonetcut/internal/platform"
	"gonetcut/internal/queue"
)

// scriptedCapture returns its frames, then io.EOF, or timeouts forever
// when live is set.
type scriptedCapture struct {
	mu     sync.Mutex
	frames [][]byte
	live   bool
	fail   error
}

func (c *scriptedCapture) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.frames) == 0 {
		switch {
		case c.fail != nil:
			return nil, gopacket.CaptureInfo{}, c.fail
		case c.live:
			time.Sleep(time.Millisecond)
			return nil, gopacket.CaptureInfo{}, platform.ErrTimeout
		}
		return nil, gopacket.CaptureInfo{}, io.EOF
	}
	f := c.frames[0]
	c.frames = c.frames[1:]
	return f, gopacket.CaptureInfo{
		Timestamp:     time.Unix(1700000000, 0),
		CaptureLength: len(f),
		Length:        len(f),
	}, nil
}

func (c *scriptedCapture) WritePacketData([]byte) error { return nil }
func (c *scriptedCapture) SetBPFFilter(string) error    { return nil }
func (c *scriptedCapture) LinkType() layers.LinkType    { return layers.LinkTypeEthernet }
func (c *scriptedCapture) Close()                       {}

func frames(t *testing.T, n int) [][]byte {
	t.Helper()
	out := make([][]byte, n)
	for i := range out {
		f, err := inject.ARPRequest(net.HardwareAddr{2, 0, 0, 0, 0, 1}, net.IP{10, 0, 0, 1}, net.IP{10, 0, 0, byte(2 + i)})
		require.NoError(t, err)
		out[i] = f
	}
	return out
}

func drain(q *queue.Queue[*models.Frame]) (got []*models.Frame, sentinels int) {
	for {
		f, ok := q.TryGet()
		if !ok {
			return got, sentinels
		}
		if f == nil {
			sentinels++
			continue
		}
		got = append(got, f)
	}
}

func TestSnifferReplay(t *testing.T) {
	out := queue.New[*models.Frame]()
	s := New(zerolog.Nop(), &scriptedCapture{frames: frames(t, 3)}, out, Config{Replayed: true})

	require.NoError(t, s.Start())
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("replay did not reach the end of the file")
	}
	s.Stop()
	s.Stop()

	got, sentinels := drain(out)
	require.Len(t, got, 3)
	assert.Equal(t, 1, sentinels)
	for _, f := range got {
		assert.True(t, f.Replayed)
		assert.Equal(t, int64(1700000000), f.Timestamp.Unix())
		assert.NotNil(t, f.Packet.Layer(layers.LayerTypeARP))
	}
	assert.Equal(t, uint64(3), s.Captured())
}

func TestSnifferStop(t *testing.T) {
	tcs := []struct {
		name    string
		capture *scriptedCapture
	}{
		{name: "live capture", capture: &scriptedCapture{frames: frames(t, 2), live: true}},
		{name: "read failure", capture: &scriptedCapture{frames: frames(t, 2), fail: errors.New("device gone")}},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			out := queue.New[*models.Frame]()
			s := New(zerolog.Nop(), tc.capture, out, Config{})

			s.Stop()
			require.NoError(t, s.Start())
			require.Eventually(t, func() bool { return s.Captured() == 2 }, time.Second, time.Millisecond)
			s.Stop()

			got, sentinels := drain(out)
			assert.Len(t, got, 2)
			assert.Equal(t, 1, sentinels, "exactly one end marker")
			for _, f := range got {
				assert.False(t, f.Replayed)
			}
		})
	}
}

func TestSnifferDump(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.pcap")
	want := frames(t, 2)
	out := queue.New[*models.Frame]()
	s := New(zerolog.Nop(), &scriptedCapture{frames: append([][]byte(nil), want...)}, out, Config{DumpPath: path})

	require.NoError(t, s.Start())
	<-s.Done()
	s.Stop()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	require.NoError(t, err)
	assert.Equal(t, layers.LinkTypeEthernet, r.LinkType())
	for _, w := range want {
		data, _, err := r.ReadPacketData()
		require.NoError(t, err)
		assert.Equal(t, w, data)
	}
	_, _, err = r.ReadPacketData()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSnifferDumpUnwritable(t *testing.T) {
	out := queue.New[*models.Frame]()
	s := New(zerolog.Nop(), &scriptedCapture{}, out, Config{DumpPath: filepath.Join(t.TempDir(), "missing", "dump.pcap")})
	assert.Error(t, s.Start())
	_, sentinels := drain(out)
	assert.Zero(t, sentinels)
}
