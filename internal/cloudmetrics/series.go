package cloudmetrics

import (
	"sort"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/prometheus/prompb"
)

// buildSeries flattens gathered families into remote-write samples.
// Histograms and summaries contribute their _sum and _count series.
func buildSeries(families []*dto.MetricFamily, timestampMs int64) []prompb.TimeSeries {
	var out []prompb.TimeSeries
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			for _, s := range samplesOf(family.GetName(), family.GetType(), metric) {
				labels := make([]prompb.Label, 0, len(metric.GetLabel())+1)
				labels = append(labels, prompb.Label{Name: "__name__", Value: s.name})
				for _, label := range metric.GetLabel() {
					labels = append(labels, prompb.Label{Name: label.GetName(), Value: label.GetValue()})
				}
				sort.Slice(labels, func(i, j int) bool { return labels[i].Name < labels[j].Name })

				out = append(out, prompb.TimeSeries{
					Labels:  labels,
					Samples: []prompb.Sample{{Value: s.value, Timestamp: timestampMs}},
				})
			}
		}
	}
	return out
}

type sample struct {
	name  string
	value float64
}

func samplesOf(name string, kind dto.MetricType, metric *dto.Metric) []sample {
	switch kind {
	case dto.MetricType_COUNTER:
		if c := metric.GetCounter(); c != nil {
			return []sample{{name, c.GetValue()}}
		}
	case dto.MetricType_GAUGE:
		if g := metric.GetGauge(); g != nil {
			return []sample{{name, g.GetValue()}}
		}
	case dto.MetricType_UNTYPED:
		if u := metric.GetUntyped(); u != nil {
			return []sample{{name, u.GetValue()}}
		}
	case dto.MetricType_HISTOGRAM:
		if h := metric.GetHistogram(); h != nil {
			return []sample{{name + "_sum", h.GetSampleSum()}, {name + "_count", float64(h.GetSampleCount())}}
		}
	case dto.MetricType_SUMMARY:
		if s := metric.GetSummary(); s != nil {
			return []sample{{name + "_sum", s.GetSampleSum()}, {name + "_count", float64(s.GetSampleCount())}}
		}
	}
	return nil
}
