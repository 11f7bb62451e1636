package training

import (
	"fmt"
	"math"

	"github.com/posturelab/spine-trainer-station/events"
	"github.com/posturelab/spine-trainer-station/sensor"
)

// SeriesStatistics represents statistical measures for one data series
type SeriesStatistics struct {
	Count    int     `json:"count"`
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
	StdDev   float64 `json:"std_dev"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Range    float64 `json:"range"`
	Median   float64 `json:"median"`
}

// EventSensorStatistics calculates per-channel statistics over the sensor
// snapshots captured in recorded events.
func EventSensorStatistics(history []events.Event) map[string]*SeriesStatistics {
	result := make(map[string]*SeriesStatistics)

	channels := 0
	for _, ev := range history {
		if len(ev.Sensors) > channels {
			channels = len(ev.Sensors)
		}
	}

	for i := 0; i < channels; i++ {
		series := make([]float64, 0, len(history))
		for _, ev := range history {
			if i < len(ev.Sensors) {
				series = append(series, ev.Sensors[i])
			}
		}
		if stats := calculateSeriesStatistics(series); stats != nil {
			result[fmt.Sprintf("sensor%d", i+1)] = stats
		}
	}

	return result
}

// SnapshotStatistics calculates per-channel statistics over raw feed history.
func SnapshotStatistics(snapshots []sensor.Snapshot) map[string]*SeriesStatistics {
	result := make(map[string]*SeriesStatistics)

	channels := 0
	for _, snap := range snapshots {
		if len(snap.Values) > channels {
			channels = len(snap.Values)
		}
	}

	for i := 0; i < channels; i++ {
		series := make([]float64, 0, len(snapshots))
		for _, snap := range snapshots {
			if i < len(snap.Values) {
				series = append(series, snap.Values[i])
			}
		}
		if stats := calculateSeriesStatistics(series); stats != nil {
			result[fmt.Sprintf("sensor%d", i+1)] = stats
		}
	}

	return result
}

// calculateSeriesStatistics calculates comprehensive statistics for a data series
func calculateSeriesStatistics(data []float64) *SeriesStatistics {
	if len(data) == 0 {
		return nil
	}

	// Sort data for median calculation
	sortedData := make([]float64, len(data))
	copy(sortedData, data)
	quickSort(sortedData, 0, len(sortedData)-1)

	count := len(data)
	sum := 0.0
	min := sortedData[0]
	max := sortedData[len(sortedData)-1]

	for _, value := range data {
		sum += value
	}
	mean := sum / float64(count)

	sumSquaredDiff := 0.0
	for _, value := range data {
		diff := value - mean
		sumSquaredDiff += diff * diff
	}
	variance := sumSquaredDiff / float64(count)
	stdDev := math.Sqrt(variance)

	var median float64
	if count%2 == 0 {
		median = (sortedData[count/2-1] + sortedData[count/2]) / 2
	} else {
		median = sortedData[count/2]
	}

	return &SeriesStatistics{
		Count:    count,
		Mean:     mean,
		Variance: variance,
		StdDev:   stdDev,
		Min:      min,
		Max:      max,
		Range:    max - min,
		Median:   median,
	}
}

// quickSort implements quicksort for sorting float64 slices
func quickSort(arr []float64, low, high int) {
	if low < high {
		pi := partition(arr, low, high)
		quickSort(arr, low, pi-1)
		quickSort(arr, pi+1, high)
	}
}

// partition is a helper function for quicksort
func partition(arr []float64, low, high int) int {
	pivot := arr[high]
	i := low - 1

	for j := low; j < high; j++ {
		if arr[j] < pivot {
			i++
			arr[i], arr[j] = arr[j], arr[i]
		}
	}
	arr[i+1], arr[high] = arr[high], arr[i+1]
	return i + 1
}

// SlidingVariance calculates variance over a sliding window, for spotting
// posture stability changes across a session.
func SlidingVariance(data []float64, windowSize int) []float64 {
	if len(data) < windowSize || windowSize <= 1 {
		return []float64{}
	}

	variances := make([]float64, 0, len(data)-windowSize+1)

	for i := 0; i <= len(data)-windowSize; i++ {
		window := data[i : i+windowSize]
		stats := calculateSeriesStatistics(window)
		if stats != nil {
			variances = append(variances, stats.Variance)
		}
	}

	return variances
}
