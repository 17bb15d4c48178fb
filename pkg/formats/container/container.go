// Package container decodes the self-describing binary container files that
// hold Iceberg manifest lists and manifests.
//
// A Reader is built once with an ordered list of decoding strategies. The
// native strategy reads Avro object container files through goavro using the
// schema embedded in the file; the JSON strategy accepts a top-level array of
// objects or a single object. Decode never fails: when no strategy succeeds
// the result is empty.
//
//	r := container.NewReader(logger)
//	for _, rec := range r.Decode(data) {
//	    path, _ := rec["manifest_path"].(string)
//	}
package container

import (
	"go.uber.org/zap"

	"github.com/Vadoid/iceberg-explorer/pkg/metrics"
)

// Record is one decoded container record: field name to a dynamically typed
// value. Values are nil, bool, int32, int64, float32, float64, string, []byte,
// time.Time, *big.Rat, json.Number, []interface{} or map[string]interface{}.
// Avro unions are already unwrapped.
type Record = map[string]interface{}

// Strategy names a decoding strategy.
type Strategy string

const (
	// StrategyNative decodes Avro object container files
	StrategyNative Strategy = "native"
	// StrategyJSON decodes a JSON array of objects or a single object
	StrategyJSON Strategy = "json"
	// StrategyNone is reported when every strategy failed
	StrategyNone Strategy = "none"
)

// Decoder is one decoding strategy.
type Decoder interface {
	Strategy() Strategy
	Decode(data []byte) ([]Record, error)
}

// Reader decodes container bytes by trying its decoders in order.
type Reader struct {
	decoders []Decoder
	logger   *zap.Logger
}

// Option configures a Reader.
type Option func(*Reader)

// WithDecoders replaces the default decoder list.
func WithDecoders(decoders ...Decoder) Option {
	return func(r *Reader) {
		r.decoders = decoders
	}
}

// NewReader returns a Reader using the native decoder first and the JSON
// decoder as fallback.
func NewReader(logger *zap.Logger, opts ...Option) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reader{
		decoders: []Decoder{NativeDecoder{}, JSONDecoder{}},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Decode returns the records in data, or an empty slice when no decoder
// understands it.
func (r *Reader) Decode(data []byte) []Record {
	records, _ := r.DecodeWithStrategy(data)
	return records
}

// DecodeWithStrategy is Decode that also reports which strategy produced the records.
func (r *Reader) DecodeWithStrategy(data []byte) ([]Record, Strategy) {
	for _, d := range r.decoders {
		records, err := d.Decode(data)
		if err != nil {
			r.logger.Debug("container decode strategy failed",
				zap.String("strategy", string(d.Strategy())),
				zap.Int("bytes", len(data)),
				zap.Error(err))
			continue
		}
		metrics.ContainerDecodes.WithLabelValues(string(d.Strategy())).Inc()
		if records == nil {
			records = []Record{}
		}
		return records, d.Strategy()
	}

	metrics.ContainerDecodes.WithLabelValues(string(StrategyNone)).Inc()
	r.logger.Warn("no container strategy could decode object", zap.Int("bytes", len(data)))
	return []Record{}, StrategyNone
}
