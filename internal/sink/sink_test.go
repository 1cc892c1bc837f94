package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/groundpass/kb"
	"github.com/signalsfoundry/groundpass/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func record(id, sat, gs int64, station string) Record {
	return Record{
		StoredPass: model.StoredPass{
			ID:              id,
			SatelliteID:     sat,
			GroundStationID: gs,
			PassWindow: model.PassWindow{
				Start:            t0,
				End:              t0.Add(7 * time.Minute),
				DurationS:        420,
				PeakElevationDeg: 33.5,
			},
		},
		NoradID: 25544,
		Station: station,
	}
}

func TestRecordJSONShape(t *testing.T) {
	b, err := record(7, 1, 2, "SVB").encode()
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	require.Equal(t, float64(7), m["id"])
	require.Equal(t, float64(2), m["ground_station_id"])
	require.Equal(t, float64(420), m["duration_s"])
	require.Equal(t, 33.5, m["max_elev_deg"])
	require.Equal(t, "SVB", m["station"])
	require.Equal(t, "2026-03-01T12:00:00Z", m["start_ts"])
}

func TestFileSinkAppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "passes.jsonl")
	s, err := NewFile(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Publish(ctx, []Record{record(1, 1, 1, "A"), record(2, 1, 2, "B")}))
	require.NoError(t, s.Publish(ctx, []Record{record(3, 2, 1, "A")}))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.Error(t, s.Publish(ctx, []Record{record(4, 1, 1, "A")}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var ids []int64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		ids = append(ids, r.ID)
	}
	require.NoError(t, sc.Err())
	require.Equal(t, []int64{1, 2, 3}, ids)
}

type fakeKafkaWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeKafkaWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSinkKeysByPair(t *testing.T) {
	w := &fakeKafkaWriter{}
	k := newKafkaWithWriter("groundpass.passes", w)

	require.NoError(t, k.Publish(context.Background(), nil))
	require.Empty(t, w.msgs)

	require.NoError(t, k.Publish(context.Background(), []Record{record(1, 3, 4, "X"), record(2, 3, 5, "Y")}))
	require.Len(t, w.msgs, 2)
	require.Equal(t, "3/4", string(w.msgs[0].Key))
	require.Equal(t, "3/5", string(w.msgs[1].Key))

	var r Record
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &r))
	require.Equal(t, int64(2), r.ID)

	w.err = errors.New("broker down")
	err := k.Publish(context.Background(), []Record{record(3, 1, 1, "X")})
	require.ErrorContains(t, err, "broker down")

	require.NoError(t, k.Close())
	require.True(t, w.closed)
}

func TestNewKafkaValidates(t *testing.T) {
	_, err := NewKafka(KafkaConfig{Brokers: []string{"localhost:9092"}})
	require.Error(t, err)
	_, err = NewKafka(KafkaConfig{Topic: "t"})
	require.Error(t, err)

	k, err := NewKafka(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "t"})
	require.NoError(t, err)
	require.Equal(t, "kafka", k.Name())
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeMQTT struct {
	mu           sync.Mutex
	got          []published
	err          error
	disconnected bool
}

func (c *fakeMQTT) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return newToken(c.err)
}

func (c *fakeMQTT) Disconnect(uint) { c.disconnected = true }

func TestMQTTSinkTopicsPerStation(t *testing.T) {
	c := &fakeMQTT{}
	m := newMQTTWithClient(MQTTConfig{Topic: "groundpass/passes/", QoS: 1}, c)

	require.NoError(t, m.Publish(context.Background(), []Record{record(1, 1, 9, "SVB"), record(2, 1, 10, "")}))
	require.Len(t, c.got, 2)
	require.Equal(t, "groundpass/passes/SVB", c.got[0].topic)
	require.Equal(t, "groundpass/passes/10", c.got[1].topic)
	require.Equal(t, byte(1), c.got[0].qos)

	c.err = errors.New("not connected")
	require.ErrorContains(t, m.Publish(context.Background(), []Record{record(3, 1, 9, "SVB")}), "not connected")

	require.NoError(t, m.Close())
	require.True(t, c.disconnected)
}

func TestNewMQTTValidates(t *testing.T) {
	_, err := NewMQTT(MQTTConfig{Topic: "x"})
	require.Error(t, err)
	_, err = NewMQTT(MQTTConfig{Broker: "tcp://localhost:1883"})
	require.Error(t, err)
}

type recordingSink struct {
	mu      sync.Mutex
	batches [][]Record
	err     error
	closed  bool
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Publish(_ context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, records)
	return s.err
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

type countingMetrics struct {
	mu     sync.Mutex
	ok     int
	failed int
}

func (m *countingMetrics) ObservePublish(_ string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.failed++
		return
	}
	m.ok++
}

func TestForwarderDeliversStoredPasses(t *testing.T) {
	store := kb.NewStore()
	sat, err := store.UpsertSatellite(25544, "ISS")
	require.NoError(t, err)
	st, err := store.UpsertStation(model.GroundStation{Code: "SVB", Location: model.GroundLocation{LatDeg: 78.2, LonDeg: 15.4}})
	require.NoError(t, err)

	good := &recordingSink{}
	bad := &recordingSink{err: errors.New("unavailable")}
	m := &countingMetrics{}
	f := NewForwarder(store, []Sink{good, bad}, nil, m)
	f.Start(context.Background())

	pass := func(offset time.Duration) model.StoredPass {
		return model.StoredPass{
			SatelliteID:     sat.ID,
			GroundStationID: st.ID,
			PassWindow:      model.PassWindow{Start: t0.Add(offset), End: t0.Add(offset + 5*time.Minute), DurationS: 300},
		}
	}
	_, err = store.InsertPasses([]model.StoredPass{pass(0), pass(time.Hour)})
	require.NoError(t, err)
	// Duplicates store nothing and emit nothing.
	_, err = store.InsertPasses([]model.StoredPass{pass(0)})
	require.NoError(t, err)
	_, err = store.InsertPasses([]model.StoredPass{pass(2 * time.Hour)})
	require.NoError(t, err)
	store.DeletePasses(kb.PassQuery{Start: t0, End: t0.Add(time.Minute)})

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())

	require.Len(t, good.batches, 2)
	require.Len(t, good.batches[0], 2)
	require.Equal(t, "SVB", good.batches[0][0].Station)
	require.Equal(t, 25544, good.batches[0][0].NoradID)
	require.Equal(t, "ISS", good.batches[0][1].Satellite)
	require.True(t, good.closed)
	require.True(t, bad.closed)
	require.Equal(t, 2, m.ok)
	require.Equal(t, 2, m.failed)

	// Writes after Close are not forwarded.
	_, err = store.InsertPasses([]model.StoredPass{pass(3 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, good.batches, 2)
}
