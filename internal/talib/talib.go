// Package talib adapts the cinar/indicator streaming API to the
// slice-in, slice-out calls the technical evidence provider works with.
package talib

import (
	"sync"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
)

// Sma computes a simple moving average over closing prices.
func Sma(closings []float64, period int) []float64 {
	if len(closings) < period {
		return nil
	}
	c := helper.SliceToChan(closings)
	sma := trend.NewSmaWithPeriod[float64](period)
	return helper.ChanToSlice(sma.Compute(c))
}

// Ema computes an exponential moving average over closing prices.
func Ema(closings []float64, period int) []float64 {
	if len(closings) < period {
		return nil
	}
	c := helper.SliceToChan(closings)
	ema := trend.NewEmaWithPeriod[float64](period)
	return helper.ChanToSlice(ema.Compute(c))
}

// Rsi computes the relative strength index over closing prices.
func Rsi(closings []float64, period int) []float64 {
	if len(closings) < period+1 {
		return nil
	}
	c := helper.SliceToChan(closings)
	rsi := momentum.NewRsiWithPeriod[float64](period)
	return helper.ChanToSlice(rsi.Compute(c))
}

// Macd computes the MACD line, signal line and histogram.
func Macd(closings []float64, fast, slow, signalPeriod int) (macdLine, signalLine, histogram []float64) {
	if len(closings) < slow {
		return nil, nil, nil
	}
	c := helper.SliceToChan(closings)
	macd := trend.NewMacdWithPeriod[float64](fast, slow, signalPeriod)
	mc, sc := macd.Compute(c)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		macdLine = helper.ChanToSlice(mc)
	}()
	go func() {
		defer wg.Done()
		signalLine = helper.ChanToSlice(sc)
	}()
	wg.Wait()

	n := len(macdLine)
	if len(signalLine) < n {
		n = len(signalLine)
	}
	histogram = make([]float64, n)
	for i := range n {
		histogram[i] = macdLine[i] - signalLine[i]
	}
	return macdLine, signalLine, histogram
}

// Atr computes the average true range from high/low/close series.
func Atr(highs, lows, closings []float64, period int) []float64 {
	if len(highs) < period || len(lows) < period || len(closings) < period {
		return nil
	}
	h := helper.SliceToChan(highs)
	l := helper.SliceToChan(lows)
	c := helper.SliceToChan(closings)
	atr := volatility.NewAtrWithPeriod[float64](period)
	return helper.ChanToSlice(atr.Compute(h, l, c))
}

// BollingerBands computes the upper, middle and lower bands.
func BollingerBands(closings []float64, period int) (upper, middle, lower []float64) {
	if len(closings) < period {
		return nil, nil, nil
	}
	c := helper.SliceToChan(closings)
	bb := volatility.NewBollingerBandsWithPeriod[float64](period)
	u, m, l := bb.Compute(c)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		upper = helper.ChanToSlice(u)
	}()
	go func() {
		defer wg.Done()
		middle = helper.ChanToSlice(m)
	}()
	go func() {
		defer wg.Done()
		lower = helper.ChanToSlice(l)
	}()
	wg.Wait()

	return upper, middle, lower
}
