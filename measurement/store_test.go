package measurement

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"
)

func TestStoreLastWithMaxAge(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	store := NewStore(clk, 0)

	_, ok, err := store.Last(ctx, "sensor1", "temperature", time.Minute)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)

	test.That(t, store.Write(ctx, Record{DeviceID: "sensor1", MeasurementID: "temperature", Unit: "C", Value: 21.5}),
		test.ShouldBeNil)
	reading, ok, err := store.Last(ctx, "sensor1", "temperature", time.Minute)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, reading.Value, test.ShouldEqual, 21.5)
	test.That(t, reading.Time, test.ShouldEqual, clk.Now())
	test.That(t, store.Unit("sensor1", "temperature"), test.ShouldEqual, "C")

	clk.Add(61 * time.Second)
	_, ok, _ = store.Last(ctx, "sensor1", "temperature", time.Minute)
	test.That(t, ok, test.ShouldBeFalse)
	_, ok, _ = store.Last(ctx, "sensor1", "temperature", 0)
	test.That(t, ok, test.ShouldBeTrue)
}

func TestStoreChannelsAndHistory(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	store := NewStore(clk, 3)

	var seen []Record
	store.OnWrite(func(r Record) { seen = append(seen, r) })

	start := clk.Now()
	for i := 0; i < 5; i++ {
		test.That(t, store.Write(ctx, Record{DeviceID: "pid1", Channel: 6, Value: float64(i)}), test.ShouldBeNil)
		clk.Add(time.Second)
	}
	test.That(t, seen, test.ShouldHaveLength, 5)

	all := store.History("pid1", ChannelKey(6), start)
	test.That(t, all, test.ShouldHaveLength, 3)
	test.That(t, all[0].Value, test.ShouldEqual, 2)
	test.That(t, all[2].Value, test.ShouldEqual, 4)

	recent := store.History("pid1", "channel_6", start.Add(4*time.Second))
	test.That(t, recent, test.ShouldHaveLength, 1)
	test.That(t, store.Measurements("pid1"), test.ShouldResemble, []string{"channel_6"})

	test.That(t, store.Write(ctx, Record{Value: 1}), test.ShouldNotBeNil)
}
