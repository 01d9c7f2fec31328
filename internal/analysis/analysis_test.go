package analysis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wifiwatch/internal/model"
	"wifiwatch/internal/storage"
)

var now = time.Date(2026, 8, 12, 18, 0, 0, 0, time.UTC)

func seed(t *testing.T, ms ...model.Measurement) *Analyzer {
	t.Helper()
	store := storage.NewMemory()
	require.NoError(t, store.AppendMeasurements(context.Background(), ms))
	return New(store)
}

func onChannel(ago time.Duration, loc, net string, ch int, sig model.Signal) model.Measurement {
	return model.Measurement{
		Timestamp: now.Add(-ago),
		Location:  loc,
		NetworkID: net,
		Signal:    sig,
		Channel:   &ch,
		Security:  "WPA2",
	}
}

func TestChannelsPicksLeastUsedNonOverlapping(t *testing.T) {
	a := seed(t,
		onChannel(time.Minute, "Kitchen", "HomeNet", 1, model.DBmSignal(-50)),
		onChannel(time.Minute, "Kitchen", "Neighbour", 1, model.DBmSignal(-70)),
		onChannel(2*time.Minute, "Office", "HomeNet", 1, model.DBmSignal(-60)),
		onChannel(time.Minute, "Kitchen", "Cafe", 6, model.PercentSignal(40)),
		onChannel(time.Minute, "Kitchen", "Printer", 11, model.DBmSignal(-75)),
		onChannel(time.Minute, "Kitchen", "Fast", 36, model.DBmSignal(-40)),
	)
	report, err := a.Channels(context.Background(), model.Trailing(now, time.Hour))
	require.NoError(t, err)
	require.Len(t, report.Channels, 14)

	assert.Equal(t, 2, report.Channels[0].Networks)
	require.NotNil(t, report.Channels[0].MeanDBm)
	assert.InDelta(t, -60.0, *report.Channels[0].MeanDBm, 1e-9)
	assert.Equal(t, 1, report.Channels[5].Networks)
	assert.Nil(t, report.Channels[1].MeanDBm)
	assert.Equal(t, 6, report.BestChannel, "ties go to the lower channel")
	assert.Equal(t, 4, report.TotalNetworks, "5GHz networks are not counted")
	assert.Empty(t, report.Message)
}

func TestChannelsWithoutData(t *testing.T) {
	a := seed(t, model.Measurement{Timestamp: now.Add(-time.Minute), Location: "A", NetworkID: "n", Signal: model.DBmSignal(-50)})
	report, err := a.Channels(context.Background(), model.Trailing(now, time.Hour))
	require.NoError(t, err)
	assert.Zero(t, report.BestChannel)
	assert.NotEmpty(t, report.Message)
	assert.Zero(t, report.TotalNetworks)
}

func TestNetworks(t *testing.T) {
	a := seed(t,
		onChannel(50*time.Minute, "Kitchen", "HomeNet", 1, model.DBmSignal(-50)),
		onChannel(40*time.Minute, "Kitchen", "HomeNet", 1, model.DBmSignal(-70)),
		onChannel(30*time.Minute, "Office", "Guest", 6, model.DBmSignal(-80)),
		model.Measurement{Timestamp: now.Add(-20 * time.Minute), Location: "Office", NetworkID: "Open", Signal: model.DBmSignal(-60)},
		onChannel(3*time.Hour, "Garage", "Old", 11, model.DBmSignal(-90)),
	)
	st, err := a.Networks(context.Background(), model.Trailing(now, time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 4, st.TotalSamples)
	assert.Equal(t, 3, st.UniqueNetworks)
	assert.Equal(t, 2, st.UniqueLocations)
	require.NotNil(t, st.First)
	assert.True(t, st.First.Equal(now.Add(-50*time.Minute)))
	assert.True(t, st.Last.Equal(now.Add(-20*time.Minute)))
	assert.Equal(t, NetworkCount{NetworkID: "HomeNet", Samples: 2}, st.TopNetworks[0])
	assert.Equal(t, []string{"Guest", "Open"}, []string{st.TopNetworks[1].NetworkID, st.TopNetworks[2].NetworkID})
	assert.Equal(t, map[string]int{"WPA2": 3, "unknown": 1}, st.SecurityTypes)
	assert.InDelta(t, -60.0, st.MeanDBmByRoom["Kitchen"], 1e-9)
	assert.InDelta(t, -70.0, st.MeanDBmByRoom["Office"], 1e-9)
}

func TestNetworksTopIsBounded(t *testing.T) {
	var ms []model.Measurement
	for i := 0; i < TopNetworks+5; i++ {
		ms = append(ms, model.Measurement{Timestamp: now.Add(-time.Minute), Location: "A", NetworkID: fmt.Sprintf("net-%02d", i), Signal: model.DBmSignal(-50)})
	}
	st, err := seed(t, ms...).Networks(context.Background(), model.Trailing(now, time.Hour))
	require.NoError(t, err)
	assert.Len(t, st.TopNetworks, TopNetworks)
	assert.Equal(t, TopNetworks+5, st.UniqueNetworks)
}

func TestLatestKeepsNewestInOrder(t *testing.T) {
	var ms []model.Measurement
	for i := 0; i < 5; i++ {
		ms = append(ms, model.Measurement{Timestamp: now.Add(-time.Duration(i+1) * time.Minute), Location: "A", NetworkID: fmt.Sprintf("n%d", i), Signal: model.DBmSignal(-50)})
	}
	got, err := seed(t, ms...).Latest(context.Background(), model.Trailing(now, time.Hour), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "n1", got[0].NetworkID)
	assert.Equal(t, "n0", got[1].NetworkID)
}

type failingReader struct{}

func (failingReader) QueryMeasurements(context.Context, storage.Filter) ([]model.Measurement, error) {
	return nil, storage.ErrUnavailable
}

func TestErrorsPropagate(t *testing.T) {
	a := New(failingReader{})
	w := model.Trailing(now, time.Hour)
	_, err := a.Channels(context.Background(), w)
	assert.True(t, errors.Is(err, storage.ErrUnavailable))
	_, err = a.Networks(context.Background(), w)
	assert.True(t, errors.Is(err, storage.ErrUnavailable))
	_, err = a.Latest(context.Background(), w, 0)
	assert.True(t, errors.Is(err, storage.ErrUnavailable))
}
